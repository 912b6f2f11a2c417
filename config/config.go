package config

import (
	"fmt"

	"github.com/spf13/viper"
)

// Config holds all configuration for the provenance ledger node
type Config struct {
	// Server
	HTTPPort  string
	LogLevel  string
	LogFormat string

	// Database
	DatabaseHost string
	DatabasePort string
	DatabaseUser string
	DatabasePass string
	DatabaseName string

	// Collaborators
	ListingEndpoint string // marketplace listing service, e.g. "http://localhost:7000"

	// FrontendBaseURL is the public frontend origin used to derive batch
	// QR code links (<base>/trace/<batchId>).
	FrontendBaseURL string

	// SeedDemo loads demo batches on startup when the database is empty.
	SeedDemo bool
}

// LoadConfig reads configuration from environment variables with defaults
func LoadConfig() *Config {
	v := viper.New()
	v.AutomaticEnv()

	v.SetDefault("HTTP_PORT", "6100")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")
	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", "5432")
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASS", "postgrespassword")
	v.SetDefault("DB_NAME", "provenance_db")
	v.SetDefault("LISTING_ENDPOINT", "http://localhost:7000")
	v.SetDefault("FRONTEND_BASE_URL", "http://localhost:5173")
	v.SetDefault("SEED_DEMO", false)

	return &Config{
		HTTPPort:        v.GetString("HTTP_PORT"),
		LogLevel:        v.GetString("LOG_LEVEL"),
		LogFormat:       v.GetString("LOG_FORMAT"),
		DatabaseHost:    v.GetString("DB_HOST"),
		DatabasePort:    v.GetString("DB_PORT"),
		DatabaseUser:    v.GetString("DB_USER"),
		DatabasePass:    v.GetString("DB_PASS"),
		DatabaseName:    v.GetString("DB_NAME"),
		ListingEndpoint: v.GetString("LISTING_ENDPOINT"),
		FrontendBaseURL: v.GetString("FRONTEND_BASE_URL"),
		SeedDemo:        v.GetBool("SEED_DEMO"),
	}
}

// GetDSN returns the PostgreSQL connection string
func (c *Config) GetDSN() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		c.DatabaseHost,
		c.DatabasePort,
		c.DatabaseUser,
		c.DatabasePass,
		c.DatabaseName,
	)
}

// Validate checks if required configuration is present
func (c *Config) Validate() error {
	if c.HTTPPort == "" {
		return fmt.Errorf("HTTP_PORT is required")
	}
	if c.ListingEndpoint == "" {
		return fmt.Errorf("LISTING_ENDPOINT is required")
	}
	if c.FrontendBaseURL == "" {
		return fmt.Errorf("FRONTEND_BASE_URL is required")
	}
	return nil
}
