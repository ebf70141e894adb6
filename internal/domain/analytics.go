package domain

import "time"

// AnalyticsConfig controls the optional Redis run counters.
type AnalyticsConfig struct {
	Enabled   bool
	Window    time.Duration // 1m, 5m, 1h bucketing
	Retention time.Duration // key TTL, must be >= Window
}
