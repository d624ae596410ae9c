package main

import (
	"log/slog"
	"time"

	"github.com/fastprodman/studentportal/internal/config"
)

type apiConfig struct {
	LogLevel        slog.Level    `env:"APP_LOG_LEVEL" default:"INFO"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" default:"15s"`

	HTTP     config.HTTPConfig
	Postgres config.PostgresConfig
	Credits  config.CreditsConfig
	Badges   config.BadgesConfig
	Sync     config.SyncConfig
}
