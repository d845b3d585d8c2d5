// Package config loads process configuration from the environment, with an
// optional .env file for local development.
package config

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
)

type Config struct {
	Port        string
	DatabaseUrl string

	// Donation webhook credentials; the endpoint stays unregistered when
	// either is empty.
	DonationWebhookId     string
	DonationWebhookSecret string
}

func Load() (Config, error) {
	// A missing .env file is fine in production, env vars are already set.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	cfg := Config{
		Port:                  os.Getenv("PORT"),
		DatabaseUrl:           os.Getenv("DATABASE_URL"),
		DonationWebhookId:     os.Getenv("DONATION_WEBHOOK_ID"),
		DonationWebhookSecret: os.Getenv("DONATION_WEBHOOK_SECRET"),
	}
	if cfg.Port == "" {
		cfg.Port = "8080"
	}
	if cfg.DatabaseUrl == "" {
		return Config{}, fmt.Errorf("DATABASE_URL is required")
	}
	return cfg, nil
}

func (c Config) WebhookEnabled() bool {
	return c.DonationWebhookId != "" && c.DonationWebhookSecret != ""
}
