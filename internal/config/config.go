package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
)

// Config contains runtime configuration required by the loader.
type Config struct {
	PGHost     string
	PGUser     string
	PGPass     string
	PGDatabase string
	PGSchema   string

	EventbriteToken string
	EventbriteOrg   string

	// StatusAddr is the listen address for the job status server.
	// Empty string disables it.
	StatusAddr string
}

// Load reads required values from environment variables.
// Every database and Eventbrite value must be present; a missing
// value is a fatal configuration error.
func Load() (Config, error) {
	cfg := Config{
		PGHost:          strings.TrimSpace(os.Getenv("PG_HOST")),
		PGUser:          strings.TrimSpace(os.Getenv("PG_USER")),
		PGPass:          os.Getenv("PG_PASS"),
		PGDatabase:      strings.TrimSpace(os.Getenv("PG_DATABASE")),
		PGSchema:        strings.TrimSpace(os.Getenv("PG_SCHEMA")),
		EventbriteToken: strings.TrimSpace(os.Getenv("EVENTBRITE_OAUTH")),
		EventbriteOrg:   strings.TrimSpace(os.Getenv("EVENTBRITE_ORG")),
	}

	required := []struct {
		name  string
		value string
	}{
		{"PG_HOST", cfg.PGHost},
		{"PG_USER", cfg.PGUser},
		{"PG_PASS", cfg.PGPass},
		{"PG_DATABASE", cfg.PGDatabase},
		{"PG_SCHEMA", cfg.PGSchema},
		{"EVENTBRITE_OAUTH", cfg.EventbriteToken},
		{"EVENTBRITE_ORG", cfg.EventbriteOrg},
	}
	for _, r := range required {
		if r.value == "" {
			return Config{}, errors.New(r.name + " required")
		}
	}

	cfg.StatusAddr = ":8080"
	if v, ok := os.LookupEnv("STATUS_ADDR"); ok {
		cfg.StatusAddr = strings.TrimSpace(v)
	}

	return cfg, nil
}

// DBURL builds a pgx connection string from the Postgres settings.
func (c Config) DBURL() string {
	return fmt.Sprintf("postgres://%s:%s@%s/%s",
		url.QueryEscape(c.PGUser),
		url.QueryEscape(c.PGPass),
		c.PGHost,
		url.PathEscape(c.PGDatabase),
	)
}
