package config

import (
	"fmt"
	"time"
)

type PostgresConfig struct {
	DSN             string        `env:"PG_DSN"`
	MaxOpenConns    int           `env:"PG_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `env:"PG_MAX_IDLE_CONNS" default:"10"`
	ConnMaxIdleTime time.Duration `env:"PG_CONN_MAX_IDLE_TIME" default:"5m"`
	ConnMaxLifetime time.Duration `env:"PG_CONN_MAX_LIFETIME" default:"30m"`
	ConnectTimeout  time.Duration `env:"PG_CONNECT_TIMEOUT" default:"5s"`
}

type CreditsConfig struct {
	// A write leaving the total at or below this value is a low balance.
	LowCreditThreshold int64 `env:"LOW_CREDIT_THRESHOLD" default:"2"`
	// When true every low-balance write notifies, not only the crossing one.
	NotifyEveryLowWrite bool `env:"LOW_CREDIT_NOTIFY_EVERY" default:"false"`
}

type BadgesConfig struct {
	DefinitionsFile string `env:"BADGE_DEFINITIONS_FILE" default:""`
	Timezone        string `env:"PORTAL_TIMEZONE" default:"UTC"`
}

// Location resolves Timezone for the before-noon rule.
func (c BadgesConfig) Location() (*time.Location, error) {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", c.Timezone, err)
	}

	return loc, nil
}

type SyncConfig struct {
	Concurrency int `env:"SYNC_ALL_CONCURRENCY" default:"4"`
	PageSize    int `env:"SYNC_ALL_PAGE_SIZE" default:"500"`
}

type HTTPConfig struct {
	Port              uint16        `env:"APP_PORT" default:"8080"`
	ReadTimeout       time.Duration `env:"HTTP_READ_TIMEOUT" default:"15s"`
	WriteTimeout      time.Duration `env:"HTTP_WRITE_TIMEOUT" default:"15s"`
	IdleTimeout       time.Duration `env:"HTTP_IDLE_TIMEOUT" default:"60s"`
	ReadHeaderTimeout time.Duration `env:"HTTP_READ_HEADER_TIMEOUT" default:"5s"`
	AllowedOrigins    []string      `env:"CORS_ALLOWED_ORIGINS" default:"*"`
	ServiceKey        string        `env:"SERVICE_API_KEY"`
	AdminKey          string        `env:"ADMIN_API_KEY"`
	WebhookSecret     string        `env:"WEBHOOK_SHARED_SECRET"`
}
