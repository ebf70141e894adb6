package config

import (
	"encoding/json"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the tender-scraper application.
// Values are loaded from environment variables; see printUsage() for the
// full list. The secret set (MONGO_URI, EMAIL_*, SMTP_*, DEPARTMENTS) is
// bound once per process and passed by value into the components that
// need it; nothing reads the environment after Load().
type Config struct {
	// Secrets, all required.
	MongoURI     string `json:"mongo_uri"`
	EmailFrom    string `json:"email_from"`
	EmailTo      string `json:"email_to"`
	SMTPServer   string `json:"smtp_server"`
	SMTPPort     int    `json:"smtp_port"`
	SMTPUser     string `json:"smtp_user"`
	SMTPPassword string `json:"smtp_password"`
	Departments  string `json:"departments"`

	MongoDatabase string `json:"mongo_database"`
	RedisAddr     string `json:"redis_addr,omitempty"`
	HTTPAddr      string `json:"http_addr"`

	// RunSchedule is a cron expression (or @every descriptor) for the
	// scrape cadence. The default fires every two days.
	RunSchedule string `json:"run_schedule"`
	Timezone    string `json:"timezone"`

	TickInterval    time.Duration `json:"-"`
	TickIntervalStr string        `json:"tick_interval"`

	BaseURL        string `json:"base_url"`
	MaxTenderValue int64  `json:"max_tender_value"`
	FailedHTMLDir  string `json:"failed_html_dir"`

	FetchTimeout    time.Duration `json:"-"`
	FetchTimeoutStr string        `json:"fetch_timeout"`

	MongoOpTimeout    time.Duration `json:"-"`
	MongoOpTimeoutStr string        `json:"mongo_op_timeout"`

	HTTPShutdownTimeout    time.Duration `json:"-"`
	HTTPShutdownTimeoutStr string        `json:"http_shutdown_timeout"`
	RunnerDrainTimeout     time.Duration `json:"-"`
	RunnerDrainTimeoutStr  string        `json:"runner_drain_timeout"`

	MetricsEnabled bool   `json:"metrics_enabled"`
	MetricsPath    string `json:"metrics_path"`
	MetricsPort    string `json:"metrics_port"`

	AnalyticsWindow       time.Duration `json:"-"`
	AnalyticsWindowStr    string        `json:"analytics_window"`
	AnalyticsRetention    time.Duration `json:"-"`
	AnalyticsRetentionStr string        `json:"analytics_retention"`

	ReconcileEnabled     bool          `json:"reconcile_enabled"`
	ReconcileInterval    time.Duration `json:"-"`
	ReconcileIntervalStr string        `json:"reconcile_interval"`

	// ReconcileThreshold must exceed the duration of a full scrape run,
	// otherwise in-flight runs are re-emitted as orphans.
	ReconcileThreshold    time.Duration `json:"-"`
	ReconcileThresholdStr string        `json:"reconcile_threshold"`

	ReconcileBatchSize int `json:"reconcile_batch_size"`
	EventBusBufferSize int `json:"eventbus_buffer_size"`

	// CircuitBreakerThreshold: 0 disables the circuit breaker.
	CircuitBreakerThreshold   int           `json:"circuit_breaker_threshold"`
	CircuitBreakerCooldown    time.Duration `json:"-"`
	CircuitBreakerCooldownStr string        `json:"circuit_breaker_cooldown"`

	// RunLock: Mongo lease so only one instance schedules and scrapes.
	RunLockEnabled          bool          `json:"run_lock_enabled"`
	RunLockTTL              time.Duration `json:"-"`
	RunLockTTLStr           string        `json:"run_lock_ttl"`
	RunLockRetryInterval    time.Duration `json:"-"`
	RunLockRetryIntervalStr string        `json:"run_lock_retry_interval"`
}

// Load reads configuration from environment variables with defaults.
// A .env file in the working directory is loaded first, best-effort,
// matching how the original job was run locally.
func Load() Config {
	_ = godotenv.Load()

	cfg := Config{
		MongoURI:     os.Getenv("MONGO_URI"),
		EmailFrom:    os.Getenv("EMAIL_FROM"),
		EmailTo:      os.Getenv("EMAIL_TO"),
		SMTPServer:   os.Getenv("SMTP_SERVER"),
		SMTPUser:     os.Getenv("SMTP_USER"),
		SMTPPassword: os.Getenv("SMTP_PASSWORD"),
		Departments:  os.Getenv("DEPARTMENTS"),

		MongoDatabase: os.Getenv("MONGO_DATABASE"),
		RedisAddr:     os.Getenv("REDIS_ADDR"),
		HTTPAddr:      os.Getenv("HTTP_ADDR"),
		RunSchedule:   os.Getenv("RUN_SCHEDULE"),
		Timezone:      os.Getenv("TIMEZONE"),
		BaseURL:       os.Getenv("BASE_URL"),
		FailedHTMLDir: os.Getenv("FAILED_HTML_DIR"),

		TickIntervalStr:        os.Getenv("TICK_INTERVAL"),
		FetchTimeoutStr:        os.Getenv("FETCH_TIMEOUT"),
		MongoOpTimeoutStr:      os.Getenv("MONGO_OP_TIMEOUT"),
		HTTPShutdownTimeoutStr: os.Getenv("HTTP_SHUTDOWN_TIMEOUT"),
		RunnerDrainTimeoutStr:  os.Getenv("RUNNER_DRAIN_TIMEOUT"),

		MetricsEnabled: os.Getenv("METRICS_ENABLED") == "true",
		MetricsPath:    os.Getenv("METRICS_PATH"),
		MetricsPort:    os.Getenv("METRICS_PORT"),

		AnalyticsWindowStr:    os.Getenv("ANALYTICS_WINDOW"),
		AnalyticsRetentionStr: os.Getenv("ANALYTICS_RETENTION"),

		ReconcileEnabled:      os.Getenv("RECONCILE_ENABLED") == "true",
		ReconcileIntervalStr:  os.Getenv("RECONCILE_INTERVAL"),
		ReconcileThresholdStr: os.Getenv("RECONCILE_THRESHOLD"),

		CircuitBreakerCooldownStr: os.Getenv("CIRCUIT_BREAKER_COOLDOWN"),

		RunLockEnabled:          os.Getenv("RUN_LOCK_ENABLED") == "true",
		RunLockTTLStr:           os.Getenv("RUN_LOCK_TTL"),
		RunLockRetryIntervalStr: os.Getenv("RUN_LOCK_RETRY_INTERVAL"),
	}

	if portStr := os.Getenv("SMTP_PORT"); portStr != "" {
		if n, err := strconv.Atoi(portStr); err == nil && n > 0 {
			cfg.SMTPPort = n
		}
	}
	if cfg.SMTPPort == 0 && os.Getenv("SMTP_PORT") == "" {
		cfg.SMTPPort = 587
	}

	if valStr := os.Getenv("MAX_TENDER_VALUE"); valStr != "" {
		if n, err := strconv.ParseInt(valStr, 10, 64); err == nil && n > 0 {
			cfg.MaxTenderValue = n
		} else {
			log.Printf("config: invalid MAX_TENDER_VALUE %q (must be a positive integer), using default 3000000", valStr)
		}
	}
	if cfg.MaxTenderValue == 0 {
		cfg.MaxTenderValue = 3000000
	}

	if batchStr := os.Getenv("RECONCILE_BATCH_SIZE"); batchStr != "" {
		if batch, err := strconv.Atoi(batchStr); err == nil && batch > 0 {
			cfg.ReconcileBatchSize = batch
		}
	}
	if cfg.ReconcileBatchSize == 0 {
		cfg.ReconcileBatchSize = 10
	}

	if bufStr := os.Getenv("EVENTBUS_BUFFER_SIZE"); bufStr != "" {
		if n, err := strconv.Atoi(bufStr); err == nil && n > 0 {
			cfg.EventBusBufferSize = n
		} else {
			log.Printf("config: invalid EVENTBUS_BUFFER_SIZE %q (must be a positive integer), using default 16", bufStr)
		}
	}
	if cfg.EventBusBufferSize == 0 {
		cfg.EventBusBufferSize = 16
	}

	if cbThreshStr := os.Getenv("CIRCUIT_BREAKER_THRESHOLD"); cbThreshStr != "" {
		if n, err := strconv.Atoi(cbThreshStr); err == nil && n >= 0 {
			cfg.CircuitBreakerThreshold = n
		} else {
			log.Printf("config: invalid CIRCUIT_BREAKER_THRESHOLD %q, using default 5", cbThreshStr)
		}
	}
	if cfg.CircuitBreakerThreshold == 0 && os.Getenv("CIRCUIT_BREAKER_THRESHOLD") == "" {
		cfg.CircuitBreakerThreshold = 5
	}

	// Support Railway's PORT variable as fallback for HTTP_ADDR.
	if cfg.HTTPAddr == "" {
		if port := os.Getenv("PORT"); port != "" {
			cfg.HTTPAddr = ":" + port
		} else {
			cfg.HTTPAddr = ":8080"
		}
	}
	if cfg.MongoDatabase == "" {
		cfg.MongoDatabase = "tender_db"
	}
	if cfg.RunSchedule == "" {
		cfg.RunSchedule = "0 0 */2 * *"
	}
	if cfg.Timezone == "" {
		cfg.Timezone = "UTC"
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://eproc.rajasthan.gov.in"
	}
	if cfg.FailedHTMLDir == "" {
		cfg.FailedHTMLDir = "failed_tender_html"
	}
	if cfg.TickIntervalStr == "" {
		cfg.TickIntervalStr = "30s"
	}
	if cfg.FetchTimeoutStr == "" {
		cfg.FetchTimeoutStr = "30s"
	}
	if cfg.MongoOpTimeoutStr == "" {
		cfg.MongoOpTimeoutStr = "5s"
	}
	if cfg.HTTPShutdownTimeoutStr == "" {
		cfg.HTTPShutdownTimeoutStr = "10s"
	}
	if cfg.RunnerDrainTimeoutStr == "" {
		cfg.RunnerDrainTimeoutStr = "30s"
	}
	if cfg.MetricsPath == "" {
		cfg.MetricsPath = "/metrics"
	}
	if cfg.MetricsPort == "" {
		cfg.MetricsPort = "9090"
	}
	if cfg.AnalyticsWindowStr == "" {
		cfg.AnalyticsWindowStr = "1h"
	}
	if cfg.AnalyticsRetentionStr == "" {
		cfg.AnalyticsRetentionStr = "720h"
	}
	if cfg.ReconcileIntervalStr == "" {
		cfg.ReconcileIntervalStr = "5m"
	}
	if cfg.ReconcileThresholdStr == "" {
		cfg.ReconcileThresholdStr = "6h"
	}
	if cfg.CircuitBreakerCooldownStr == "" {
		cfg.CircuitBreakerCooldownStr = "2m"
	}
	if cfg.RunLockTTLStr == "" {
		cfg.RunLockTTLStr = "30s"
	}
	if cfg.RunLockRetryIntervalStr == "" {
		cfg.RunLockRetryIntervalStr = "5s"
	}

	// Parse durations; validation is handled separately by Validate().
	if d, err := time.ParseDuration(cfg.TickIntervalStr); err == nil {
		cfg.TickInterval = d
	}
	if d, err := time.ParseDuration(cfg.FetchTimeoutStr); err == nil {
		cfg.FetchTimeout = d
	}
	if d, err := time.ParseDuration(cfg.MongoOpTimeoutStr); err == nil {
		cfg.MongoOpTimeout = d
	}
	if d, err := time.ParseDuration(cfg.HTTPShutdownTimeoutStr); err == nil {
		cfg.HTTPShutdownTimeout = d
	}
	if d, err := time.ParseDuration(cfg.RunnerDrainTimeoutStr); err == nil {
		cfg.RunnerDrainTimeout = d
	}
	if d, err := time.ParseDuration(cfg.AnalyticsWindowStr); err == nil {
		cfg.AnalyticsWindow = d
	}
	if d, err := time.ParseDuration(cfg.AnalyticsRetentionStr); err == nil {
		cfg.AnalyticsRetention = d
	}
	if d, err := time.ParseDuration(cfg.ReconcileIntervalStr); err == nil {
		cfg.ReconcileInterval = d
	}
	if d, err := time.ParseDuration(cfg.ReconcileThresholdStr); err == nil {
		cfg.ReconcileThreshold = d
	}
	if d, err := time.ParseDuration(cfg.CircuitBreakerCooldownStr); err == nil {
		cfg.CircuitBreakerCooldown = d
	}
	if d, err := time.ParseDuration(cfg.RunLockTTLStr); err == nil {
		cfg.RunLockTTL = d
	}
	if d, err := time.ParseDuration(cfg.RunLockRetryIntervalStr); err == nil {
		cfg.RunLockRetryInterval = d
	}

	return cfg
}

// DepartmentList splits the DEPARTMENTS secret on commas and trims
// whitespace. Empty entries are dropped.
func (c Config) DepartmentList() []string {
	parts := strings.Split(c.Departments, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// MaskedJSON returns the configuration as JSON with secrets masked.
func (c Config) MaskedJSON() ([]byte, error) {
	masked := struct {
		MongoURI            string `json:"mongo_uri"`
		EmailFrom           string `json:"email_from"`
		EmailTo             string `json:"email_to"`
		SMTPServer          string `json:"smtp_server"`
		SMTPPort            int    `json:"smtp_port"`
		SMTPUser            string `json:"smtp_user"`
		SMTPPassword        string `json:"smtp_password"`
		Departments         string `json:"departments"`
		MongoDatabase       string `json:"mongo_database"`
		RedisAddr           string `json:"redis_addr,omitempty"`
		HTTPAddr            string `json:"http_addr"`
		RunSchedule         string `json:"run_schedule"`
		Timezone            string `json:"timezone"`
		TickInterval        string `json:"tick_interval"`
		BaseURL             string `json:"base_url"`
		MaxTenderValue      int64  `json:"max_tender_value"`
		FailedHTMLDir       string `json:"failed_html_dir"`
		FetchTimeout        string `json:"fetch_timeout"`
		MongoOpTimeout      string `json:"mongo_op_timeout"`
		HTTPShutdownTimeout string `json:"http_shutdown_timeout"`
		RunnerDrainTimeout  string `json:"runner_drain_timeout"`
		MetricsEnabled      bool   `json:"metrics_enabled"`
		MetricsPath         string `json:"metrics_path"`
		MetricsPort         string `json:"metrics_port"`
		AnalyticsWindow     string `json:"analytics_window"`
		AnalyticsRetention  string `json:"analytics_retention"`
		ReconcileEnabled    bool   `json:"reconcile_enabled"`
		ReconcileInterval   string `json:"reconcile_interval"`
		ReconcileThreshold  string `json:"reconcile_threshold"`
		ReconcileBatchSize  int    `json:"reconcile_batch_size"`
		EventBusBufferSize  int    `json:"eventbus_buffer_size"`
		CBThreshold         int    `json:"circuit_breaker_threshold"`
		CBCooldown          string `json:"circuit_breaker_cooldown"`
		RunLockEnabled      bool   `json:"run_lock_enabled"`
		RunLockTTL          string `json:"run_lock_ttl"`
		RunLockRetry        string `json:"run_lock_retry_interval"`
	}{
		MongoURI:            maskSecret(c.MongoURI),
		EmailFrom:           c.EmailFrom,
		EmailTo:             c.EmailTo,
		SMTPServer:          c.SMTPServer,
		SMTPPort:            c.SMTPPort,
		SMTPUser:            c.SMTPUser,
		SMTPPassword:        maskSecret(c.SMTPPassword),
		Departments:         c.Departments,
		MongoDatabase:       c.MongoDatabase,
		RedisAddr:           c.RedisAddr,
		HTTPAddr:            c.HTTPAddr,
		RunSchedule:         c.RunSchedule,
		Timezone:            c.Timezone,
		TickInterval:        c.TickIntervalStr,
		BaseURL:             c.BaseURL,
		MaxTenderValue:      c.MaxTenderValue,
		FailedHTMLDir:       c.FailedHTMLDir,
		FetchTimeout:        c.FetchTimeoutStr,
		MongoOpTimeout:      c.MongoOpTimeoutStr,
		HTTPShutdownTimeout: c.HTTPShutdownTimeoutStr,
		RunnerDrainTimeout:  c.RunnerDrainTimeoutStr,
		MetricsEnabled:      c.MetricsEnabled,
		MetricsPath:         c.MetricsPath,
		MetricsPort:         c.MetricsPort,
		AnalyticsWindow:     c.AnalyticsWindowStr,
		AnalyticsRetention:  c.AnalyticsRetentionStr,
		ReconcileEnabled:    c.ReconcileEnabled,
		ReconcileInterval:   c.ReconcileIntervalStr,
		ReconcileThreshold:  c.ReconcileThresholdStr,
		ReconcileBatchSize:  c.ReconcileBatchSize,
		EventBusBufferSize:  c.EventBusBufferSize,
		CBThreshold:         c.CircuitBreakerThreshold,
		CBCooldown:          c.CircuitBreakerCooldownStr,
		RunLockEnabled:      c.RunLockEnabled,
		RunLockTTL:          c.RunLockTTLStr,
		RunLockRetry:        c.RunLockRetryIntervalStr,
	}
	return json.MarshalIndent(masked, "", "  ")
}

// maskSecret masks a secret value, preserving only the URI scheme if present.
func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	for _, scheme := range []string{"mongodb+srv://", "mongodb://"} {
		if strings.HasPrefix(s, scheme) {
			return scheme + "***"
		}
	}
	return "***"
}
