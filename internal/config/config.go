package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	Port string

	// Auth. Empty disables authentication; the tool is commonly run as a
	// local single-user service.
	APIKey string

	// Upload limits
	MaxUploadBytes int64

	// How long cleaned documents stay downloadable.
	ResultTTL time.Duration

	// Optional unipdf license key and the customer name it was issued to.
	UnipdfLicenseKey   string
	UnipdfCustomerName string

	Debug bool
}

func Load() Config {
	cfg := Config{
		Port: envOr("PORT", "8090"),

		APIKey: os.Getenv("DEBRAND_API_KEY"),

		MaxUploadBytes: envInt64("MAX_UPLOAD_BYTES", 104857600), // 100MB

		ResultTTL: envDuration("RESULT_TTL", 1*time.Hour),

		UnipdfLicenseKey:   os.Getenv("UNIPDF_LICENSE_KEY"),
		UnipdfCustomerName: os.Getenv("UNIPDF_CUSTOMER_NAME"),

		Debug: envBool("DEBUG", false),
	}

	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 104857600
	}
	if cfg.ResultTTL <= 0 {
		cfg.ResultTTL = 1 * time.Hour
	}

	return cfg
}

func (c Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT must not be empty")
	}
	if _, err := strconv.Atoi(c.Port); err != nil {
		return fmt.Errorf("PORT must be numeric: %w", err)
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt64(key string, fallback int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
