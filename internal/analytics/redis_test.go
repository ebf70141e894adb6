package analytics

import (
	"testing"
	"time"
)

func TestTruncateToBucket(t *testing.T) {
	at := time.Date(2024, 1, 5, 14, 37, 52, 0, time.UTC)

	tests := []struct {
		window time.Duration
		want   string
	}{
		{time.Minute, "202401051437"},
		{time.Hour, "2024010514"},
		{24 * time.Hour, "20240105"},
		{7 * time.Hour, "2024010514"}, // unknown window falls back to hourly
	}
	for _, tt := range tests {
		if got := truncateToBucket(at, tt.window); got != tt.want {
			t.Errorf("truncateToBucket(%s) = %q, want %q", tt.window, got, tt.want)
		}
	}
}

func TestTruncateToBucket_NormalizesToUTC(t *testing.T) {
	ist := time.FixedZone("IST", 5*3600+1800)
	at := time.Date(2024, 1, 5, 3, 0, 0, 0, ist) // 2024-01-04 21:30 UTC

	if got := truncateToBucket(at, 24*time.Hour); got != "20240104" {
		t.Errorf("bucket = %q, want 20240104", got)
	}
}
