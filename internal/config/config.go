package config

import (
	"log"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

// Config holds the service configuration. Values come from a YAML file
// named by CONFIG_PATH, with environment variables overriding, or from
// the environment alone when no file is set.
type Config struct {
	Env     string `yaml:"env" env:"STUDIOBOOK_ENV" env-default:"development"`
	Addr    string `yaml:"addr" env:"STUDIOBOOK_ADDR" env-default:":8080"`
	DBPath  string `yaml:"db_path" env:"STUDIOBOOK_DB_PATH" env-default:"studiobook.db"`
	Backend `yaml:"backend"`
	Email   `yaml:"email"`
	Outbox  `yaml:"outbox"`
}

// Backend configures the studio backend client.
type Backend struct {
	BaseURL string        `yaml:"base_url" env:"STUDIOBOOK_BACKEND_URL" env-required:"true"`
	APIKey  string        `yaml:"api_key" env:"STUDIOBOOK_BACKEND_KEY"`
	Timeout time.Duration `yaml:"timeout" env:"STUDIOBOOK_BACKEND_TIMEOUT" env-default:"15s"`
}

// Email configures receipt delivery.
type Email struct {
	ResendKey string `yaml:"resend_key" env:"STUDIOBOOK_RESEND_KEY"`
	From      string `yaml:"from" env:"STUDIOBOOK_EMAIL_FROM" env-default:"StudioBook <receipts@studiobook.example>"`
}

// Outbox configures the background delivery loop.
type Outbox struct {
	Interval time.Duration `yaml:"interval" env:"STUDIOBOOK_OUTBOX_INTERVAL" env-default:"1m"`
}

// MustLoad reads the configuration or exits.
func MustLoad() (cfg Config) {
	if configPath := os.Getenv("CONFIG_PATH"); configPath != "" {
		if err := cleanenv.ReadConfig(configPath, &cfg); err != nil {
			log.Fatalf("Error loading config from %s: %v", configPath, err)
		}
		return
	}
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		log.Fatalf("Error loading config: %v", err)
	}
	return
}
