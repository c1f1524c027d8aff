// SPDX-License-Identifier: Apache-2.0

package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

const (
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
)

type Config struct {
	HTTPAddr        string        `env:"HTTP_ADDR"        envDefault:":8080"`
	Env             string        `env:"ENV"              envDefault:"dev"`
	LogLevel        string        `env:"LOG_LEVEL"        envDefault:"info"`
	StorageBackend  string        `env:"STORAGE_BACKEND"  envDefault:"sqlite"`
	DatabaseURL     string        `env:"DATABASE_URL"`
	SQLitePath      string        `env:"SQLITE_PATH"      envDefault:"ledger.db"`
	AdminToken      string        `env:"ADMIN_TOKEN"`
	AutoMigrate     bool          `env:"AUTO_MIGRATE"     envDefault:"true"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"5s"`

	// CAPABILITY_TOTAL_STATES seeds the journey length cache, for example
	// "benefits=7,licence=5".
	RawTotalStates string `env:"CAPABILITY_TOTAL_STATES"`
	TotalStates    map[string]int

	// LEDGER_OPERATOR names who runs ledgerctl maintenance commands.
	Operator string `env:"LEDGER_OPERATOR,expand" envDefault:"${USER}"`
}

// Load reads the process environment.
func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}

	cfg.StorageBackend = strings.ToLower(strings.TrimSpace(cfg.StorageBackend))
	switch cfg.StorageBackend {
	case BackendSQLite:
	case BackendPostgres:
		if strings.TrimSpace(cfg.DatabaseURL) == "" {
			return Config{}, fmt.Errorf("DATABASE_URL is required when STORAGE_BACKEND=%s", BackendPostgres)
		}
	default:
		return Config{}, fmt.Errorf("unknown STORAGE_BACKEND %q", cfg.StorageBackend)
	}

	totals, err := ParseTotalStates(cfg.RawTotalStates)
	if err != nil {
		return Config{}, err
	}
	cfg.TotalStates = totals
	return cfg, nil
}

// ParseTotalStates parses "capability=total" pairs separated by commas.
func ParseTotalStates(raw string) (map[string]int, error) {
	out := map[string]int{}
	for _, item := range strings.Split(raw, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}

		capability, value, ok := strings.Cut(item, "=")
		capability = strings.TrimSpace(capability)
		if !ok || capability == "" {
			return nil, fmt.Errorf("CAPABILITY_TOTAL_STATES: invalid entry %q", item)
		}
		total, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil || total <= 0 {
			return nil, fmt.Errorf("CAPABILITY_TOTAL_STATES: total for %s must be a positive integer", capability)
		}
		out[capability] = total
	}
	return out, nil
}
