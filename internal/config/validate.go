package config

import (
	"fmt"
	"net/mail"
	"net/url"
	"time"

	"github.com/robfig/cron/v3"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}
	msg := fmt.Sprintf("%d validation errors:", len(e))
	for _, err := range e {
		msg += "\n  - " + err.Error()
	}
	return msg
}

// Validate checks the configuration for errors.
// Returns nil if valid, or ValidationErrors if invalid.
// Every name in the secret set is required; a run must never start
// with a partial environment.
func Validate(cfg Config) error {
	var errs ValidationErrors

	required := []struct {
		field string
		value string
	}{
		{"MONGO_URI", cfg.MongoURI},
		{"EMAIL_FROM", cfg.EmailFrom},
		{"EMAIL_TO", cfg.EmailTo},
		{"SMTP_SERVER", cfg.SMTPServer},
		{"SMTP_USER", cfg.SMTPUser},
		{"SMTP_PASSWORD", cfg.SMTPPassword},
		{"DEPARTMENTS", cfg.Departments},
	}
	for _, r := range required {
		if r.value == "" {
			errs = append(errs, ValidationError{Field: r.field, Message: "required"})
		}
	}

	if cfg.SMTPPort <= 0 || cfg.SMTPPort > 65535 {
		errs = append(errs, ValidationError{
			Field:   "SMTP_PORT",
			Message: fmt.Sprintf("must be a valid port, got %d", cfg.SMTPPort),
		})
	}

	if cfg.EmailFrom != "" {
		if _, err := mail.ParseAddress(cfg.EmailFrom); err != nil {
			errs = append(errs, ValidationError{
				Field:   "EMAIL_FROM",
				Message: fmt.Sprintf("invalid address: %v", err),
			})
		}
	}
	if cfg.EmailTo != "" {
		if _, err := mail.ParseAddress(cfg.EmailTo); err != nil {
			errs = append(errs, ValidationError{
				Field:   "EMAIL_TO",
				Message: fmt.Sprintf("invalid address: %v", err),
			})
		}
	}

	if cfg.Departments != "" && len(cfg.DepartmentList()) == 0 {
		errs = append(errs, ValidationError{
			Field:   "DEPARTMENTS",
			Message: "must contain at least one department name",
		})
	}

	if cfg.RunSchedule != "" {
		if err := validateSchedule(cfg.RunSchedule); err != nil {
			errs = append(errs, ValidationError{
				Field:   "RUN_SCHEDULE",
				Message: fmt.Sprintf("invalid schedule: %v", err),
			})
		}
	}

	if cfg.Timezone != "" {
		if _, err := time.LoadLocation(cfg.Timezone); err != nil {
			errs = append(errs, ValidationError{
				Field:   "TIMEZONE",
				Message: fmt.Sprintf("invalid timezone: %v", err),
			})
		}
	}

	if cfg.TickIntervalStr != "" {
		d, err := time.ParseDuration(cfg.TickIntervalStr)
		if err != nil {
			errs = append(errs, ValidationError{
				Field:   "TICK_INTERVAL",
				Message: fmt.Sprintf("invalid duration: %v", err),
			})
		} else if d <= 0 {
			errs = append(errs, ValidationError{
				Field:   "TICK_INTERVAL",
				Message: "must be positive",
			})
		}
	}

	if cfg.BaseURL != "" {
		u, err := url.Parse(cfg.BaseURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			errs = append(errs, ValidationError{
				Field:   "BASE_URL",
				Message: "must be an http(s) URL",
			})
		}
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

func validateSchedule(expr string) error {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	_, err := parser.Parse(expr)
	return err
}
