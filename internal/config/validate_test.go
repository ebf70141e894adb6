package config

import (
	"errors"
	"strings"
	"testing"
)

func validConfig() Config {
	return Config{
		MongoURI:        "mongodb://localhost:27017",
		EmailFrom:       "scraper@example.com",
		EmailTo:         "team@example.com",
		SMTPServer:      "smtp.example.com",
		SMTPPort:        587,
		SMTPUser:        "scraper@example.com",
		SMTPPassword:    "hunter2",
		Departments:     "PHED",
		RunSchedule:     "0 0 */2 * *",
		Timezone:        "UTC",
		TickIntervalStr: "30s",
		BaseURL:         "https://eproc.rajasthan.gov.in",
	}
}

func TestValidate_Valid(t *testing.T) {
	if err := Validate(validConfig()); err != nil {
		t.Errorf("valid config rejected: %v", err)
	}
}

// TestValidate_AllSecretsRequired verifies every name in the secret
// set must be present for the process to start.
func TestValidate_AllSecretsRequired(t *testing.T) {
	clear := []struct {
		field string
		mut   func(*Config)
	}{
		{"MONGO_URI", func(c *Config) { c.MongoURI = "" }},
		{"EMAIL_FROM", func(c *Config) { c.EmailFrom = "" }},
		{"EMAIL_TO", func(c *Config) { c.EmailTo = "" }},
		{"SMTP_SERVER", func(c *Config) { c.SMTPServer = "" }},
		{"SMTP_USER", func(c *Config) { c.SMTPUser = "" }},
		{"SMTP_PASSWORD", func(c *Config) { c.SMTPPassword = "" }},
		{"DEPARTMENTS", func(c *Config) { c.Departments = "" }},
	}

	for _, tt := range clear {
		cfg := validConfig()
		tt.mut(&cfg)

		err := Validate(cfg)
		if err == nil {
			t.Errorf("missing %s accepted", tt.field)
			continue
		}
		if !strings.Contains(err.Error(), tt.field) {
			t.Errorf("error for missing %s does not name the field: %v", tt.field, err)
		}
	}
}

func TestValidate_SMTPPort(t *testing.T) {
	for _, port := range []int{0, -1, 70000} {
		cfg := validConfig()
		cfg.SMTPPort = port
		if Validate(cfg) == nil {
			t.Errorf("SMTP_PORT %d accepted", port)
		}
	}
}

func TestValidate_EmailAddresses(t *testing.T) {
	cfg := validConfig()
	cfg.EmailFrom = "not-an-address"
	if Validate(cfg) == nil {
		t.Error("invalid EMAIL_FROM accepted")
	}

	cfg = validConfig()
	cfg.EmailTo = "also not an address"
	if Validate(cfg) == nil {
		t.Error("invalid EMAIL_TO accepted")
	}
}

func TestValidate_Schedule(t *testing.T) {
	cfg := validConfig()
	cfg.RunSchedule = "not a cron expression"
	if Validate(cfg) == nil {
		t.Error("invalid RUN_SCHEDULE accepted")
	}

	// Descriptors are a supported way to write the cadence.
	cfg = validConfig()
	cfg.RunSchedule = "@every 48h"
	if err := Validate(cfg); err != nil {
		t.Errorf("descriptor schedule rejected: %v", err)
	}
}

func TestValidate_Timezone(t *testing.T) {
	cfg := validConfig()
	cfg.Timezone = "Mars/Olympus_Mons"
	if Validate(cfg) == nil {
		t.Error("invalid TIMEZONE accepted")
	}

	cfg = validConfig()
	cfg.Timezone = "Asia/Kolkata"
	if err := Validate(cfg); err != nil {
		t.Errorf("Asia/Kolkata rejected: %v", err)
	}
}

func TestValidate_BaseURL(t *testing.T) {
	for _, bad := range []string{"ftp://example.com", "not a url", "https://"} {
		cfg := validConfig()
		cfg.BaseURL = bad
		if Validate(cfg) == nil {
			t.Errorf("BASE_URL %q accepted", bad)
		}
	}
}

func TestValidate_CollectsAllErrors(t *testing.T) {
	cfg := validConfig()
	cfg.MongoURI = ""
	cfg.SMTPPort = 0
	cfg.Timezone = "Nowhere"

	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected errors")
	}

	var verrs ValidationErrors
	if !errors.As(err, &verrs) {
		t.Fatalf("expected ValidationErrors, got %T", err)
	}
	if len(verrs) != 3 {
		t.Errorf("expected 3 errors, got %d: %v", len(verrs), verrs)
	}
}
