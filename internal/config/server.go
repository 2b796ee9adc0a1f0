// Package config loads process settings from the environment and economy
// tuning tables from YAML.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

const (
	LedgerJSONFile = "jsonfile"
	LedgerPostgres = "postgres"
	LedgerMemory   = "memory"

	SessionsMemory = "memory"
	SessionsRedis  = "redis"
)

type Server struct {
	HTTPAddr       string        `env:"ECON_HTTP_ADDR" envDefault:":8080"`
	LedgerBackend  string        `env:"ECON_LEDGER_BACKEND" envDefault:"jsonfile"`
	LedgerPath     string        `env:"ECON_LEDGER_PATH" envDefault:"data/ledger.json"`
	DBDSN          string        `env:"ECON_DB_DSN"`
	MigrationsDir  string        `env:"ECON_MIGRATIONS_DIR"`
	SessionBackend string        `env:"ECON_SESSION_BACKEND" envDefault:"memory"`
	RedisAddr      string        `env:"ECON_REDIS_ADDR"`
	RedisPassword  string        `env:"ECON_REDIS_PASSWORD"`
	RedisDB        int           `env:"ECON_REDIS_DB" envDefault:"0"`
	TuningPath     string        `env:"ECON_TUNING_PATH"`
	TokenSecret    string        `env:"ECON_TOKEN_SECRET,required,notEmpty"`
	AdminToken     string        `env:"ECON_ADMIN_TOKEN"`
	SweepInterval  time.Duration `env:"ECON_SESSION_SWEEP_INTERVAL" envDefault:"1s"`
	LogLevel       string        `env:"ECON_LOG_LEVEL" envDefault:"info"`
}

// LoadServer parses the environment and validates backend choices.
func LoadServer() (Server, error) {
	cfg, err := env.ParseAs[Server]()
	if err != nil {
		return Server{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Server{}, err
	}
	return cfg, nil
}

func (s Server) Validate() error {
	var errs []error
	switch s.LedgerBackend {
	case LedgerJSONFile:
		if strings.TrimSpace(s.LedgerPath) == "" {
			errs = append(errs, errors.New("ECON_LEDGER_PATH is required for the jsonfile ledger"))
		}
	case LedgerPostgres:
		if strings.TrimSpace(s.DBDSN) == "" {
			errs = append(errs, errors.New("ECON_DB_DSN is required for the postgres ledger"))
		}
	case LedgerMemory:
	default:
		errs = append(errs, fmt.Errorf("unknown ECON_LEDGER_BACKEND %q", s.LedgerBackend))
	}
	switch s.SessionBackend {
	case SessionsMemory:
	case SessionsRedis:
		if strings.TrimSpace(s.RedisAddr) == "" {
			errs = append(errs, errors.New("ECON_REDIS_ADDR is required for the redis session registry"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown ECON_SESSION_BACKEND %q", s.SessionBackend))
	}
	if s.SweepInterval <= 0 {
		errs = append(errs, errors.New("ECON_SESSION_SWEEP_INTERVAL must be positive"))
	}
	return errors.Join(errs...)
}

func (s Server) SlogLevel() slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(s.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return lvl
}
