package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"housebill/internal/cycle"
)

type Config struct {
	// Database
	SQLiteDBPath string

	// Billing
	BillingCycleYears    int
	BillingCycleStrategy string
	DefaultCurrency      string

	// AMQP
	AMQPURL      string
	AMQPExchange string
	AMQPQueue    string

	// Google Sheets
	GoogleSpreadsheetID       string
	GoogleStatementsSheetName string

	// Scheduler, one standard cron spec per job. An empty spec disables the job.
	CronPopulate       string
	CronEnact          string
	CronReconciliation string
	CronStatements     string
	JobTimeout         time.Duration

	// Logging
	LogLevel  string
	LogFormat string
}

func Load() *Config {
	cfg := &Config{
		SQLiteDBPath: getEnv("SQLITE_DB_PATH", "./data/housebill.db"),

		BillingCycleYears:    getEnvInt("BILLING_CYCLE_YEARS", 2),
		BillingCycleStrategy: getEnv("BILLING_CYCLE_STRATEGY", cycle.Monthly),
		DefaultCurrency:      getEnv("DEFAULT_CURRENCY", "EUR"),

		AMQPURL:      getEnv("AMQP_URL", ""),
		AMQPExchange: getEnv("AMQP_EXCHANGE", "housebill"),
		AMQPQueue:    getEnv("AMQP_QUEUE", "notifications"),

		GoogleSpreadsheetID:       getEnv("GOOGLE_SPREADSHEET_ID", ""),
		GoogleStatementsSheetName: getEnv("GOOGLE_STATEMENTS_SHEET_NAME", "Statements"),

		CronPopulate:       getEnv("CRON_POPULATE", "0 1 * * *"),
		CronEnact:          getEnv("CRON_ENACT", "30 1 * * *"),
		CronReconciliation: getEnv("CRON_RECONCILIATION", "0 9 * * *"),
		CronStatements:     getEnv("CRON_STATEMENTS", "0 10 * * *"),
		JobTimeout:         getEnvDuration("JOB_TIMEOUT", 5*time.Minute),

		LogLevel:  strings.ToLower(getEnv("LOG_LEVEL", "info")),
		LogFormat: strings.ToLower(getEnv("LOG_FORMAT", "text")),
	}

	return cfg
}

// Validate validates the configuration and returns an error if invalid
func (c *Config) Validate() error {
	var errors []string

	if c.SQLiteDBPath == "" {
		errors = append(errors, "SQLite database path cannot be empty")
	} else {
		dir := filepath.Dir(c.SQLiteDBPath)
		if dir != "." && dir != "" {
			if _, err := os.Stat(dir); os.IsNotExist(err) {
				if err := os.MkdirAll(dir, 0755); err != nil {
					errors = append(errors, fmt.Sprintf("cannot create SQLite database directory '%s': %v", dir, err))
				}
			}
		}
	}

	if c.BillingCycleYears < 1 {
		errors = append(errors, fmt.Sprintf("invalid billing cycle years %d: must be at least 1", c.BillingCycleYears))
	} else if c.BillingCycleYears > 50 {
		errors = append(errors, fmt.Sprintf("invalid billing cycle years %d: must be at most 50", c.BillingCycleYears))
	}

	if _, err := cycle.Get(c.BillingCycleStrategy); err != nil {
		errors = append(errors, fmt.Sprintf("invalid billing cycle strategy '%s': %v", c.BillingCycleStrategy, err))
	}

	if !isCurrencyCode(c.DefaultCurrency) {
		errors = append(errors, fmt.Sprintf("invalid default currency '%s': must be a 3-letter ISO 4217 code", c.DefaultCurrency))
	}

	// Validate AMQP URL if provided
	if c.AMQPURL != "" {
		if parsedURL, err := url.Parse(c.AMQPURL); err != nil {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL '%s': %v", c.AMQPURL, err))
		} else if parsedURL.Scheme != "amqp" && parsedURL.Scheme != "amqps" {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL scheme '%s': must be 'amqp' or 'amqps'", parsedURL.Scheme))
		}
		if c.AMQPExchange == "" {
			errors = append(errors, "AMQP exchange name cannot be empty when AMQP URL is provided")
		}
		if c.AMQPQueue == "" {
			errors = append(errors, "AMQP queue name cannot be empty when AMQP URL is provided")
		}
	}

	if c.GoogleSpreadsheetID != "" && strings.TrimSpace(c.GoogleStatementsSheetName) == "" {
		errors = append(errors, "Google statements sheet name is required when a spreadsheet ID is provided")
	}

	for _, job := range []struct{ key, spec string }{
		{"CRON_POPULATE", c.CronPopulate},
		{"CRON_ENACT", c.CronEnact},
		{"CRON_RECONCILIATION", c.CronReconciliation},
		{"CRON_STATEMENTS", c.CronStatements},
	} {
		if job.spec == "" {
			continue
		}
		if _, err := cron.ParseStandard(job.spec); err != nil {
			errors = append(errors, fmt.Sprintf("invalid %s '%s': %v", job.key, job.spec, err))
		}
	}

	if c.JobTimeout < time.Second {
		errors = append(errors, fmt.Sprintf("invalid job timeout %v: must be at least 1 second", c.JobTimeout))
	} else if c.JobTimeout > 24*time.Hour {
		errors = append(errors, fmt.Sprintf("invalid job timeout %v: must be at most 24 hours", c.JobTimeout))
	}

	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		errors = append(errors, fmt.Sprintf("invalid log level '%s': must be one of [debug info warn error]", c.LogLevel))
	}
	if c.LogFormat != "text" && c.LogFormat != "json" {
		errors = append(errors, fmt.Sprintf("invalid log format '%s': must be 'text' or 'json'", c.LogFormat))
	}

	// Return combined errors
	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(errors, "\n- "))
	}

	return nil
}

// Strategy resolves the configured billing cycle strategy.
func (c *Config) Strategy() (cycle.Strategy, error) {
	return cycle.Get(c.BillingCycleStrategy)
}

func isCurrencyCode(s string) bool {
	if len(s) != 3 {
		return false
	}
	for _, r := range s {
		if r < 'A' || r > 'Z' {
			return false
		}
	}
	return true
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
