package config

import (
	"fmt"
	"os"
	"time"
)

type Config struct {
	DBSource string
	Port     string
	Env      string

	// Auth
	JWTSecret string
	JWTIssuer string

	// Custody service that holds escrowed funds. When CustodyURL is empty
	// the API runs against the in-process simulator, which is what the
	// local compose setup uses.
	CustodyURL     string
	CustodyToken   string
	HoldingAccount string

	// Optional webhook target for escrow lifecycle events.
	WebhookURL string

	// Sweeper cadence for lapsed deposits.
	SweepInterval time.Duration
}

func Load() (*Config, error) {
	dbSource := os.Getenv("DB_SOURCE")
	if dbSource == "" {
		return nil, fmt.Errorf("DB_SOURCE environment variable is required")
	}

	jwtSecret := os.Getenv("JWT_SECRET")
	if jwtSecret == "" {
		return nil, fmt.Errorf("JWT_SECRET environment variable is required")
	}

	port := os.Getenv("SERVER_PORT")
	if port == "" {
		port = "8080"
	}

	env := os.Getenv("ENVIRONMENT")
	if env == "" {
		env = "development"
	}

	holding := os.Getenv("HOLDING_ACCOUNT")
	if holding == "" {
		holding = "escrow-holding"
	}

	sweep := 5 * time.Minute
	if raw := os.Getenv("SWEEP_INTERVAL"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid SWEEP_INTERVAL: %w", err)
		}
		sweep = d
	}

	return &Config{
		DBSource:       dbSource,
		Port:           port,
		Env:            env,
		JWTSecret:      jwtSecret,
		JWTIssuer:      os.Getenv("JWT_ISSUER"),
		CustodyURL:     os.Getenv("CUSTODY_URL"),
		CustodyToken:   os.Getenv("CUSTODY_TOKEN"),
		HoldingAccount: holding,
		WebhookURL:     os.Getenv("WEBHOOK_URL"),
		SweepInterval:  sweep,
	}, nil
}
