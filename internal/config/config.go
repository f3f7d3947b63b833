// Package config reads service settings from the environment, after loading an
// optional .env file.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/tinoosan/transfer/internal/service/transfer"
)

type Config struct {
	HTTPAddr        string
	DatabaseURL     string
	DBMigrate       bool
	DevSeed         bool
	LogLevel        slog.Level
	LogFormat       string
	ShutdownTimeout time.Duration
	Transfer        transfer.Options
}

// Load reads .env (a missing file is fine) and then the process environment.
func Load(files ...string) (Config, error) {
	if err := godotenv.Load(files...); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load env file: %w", err)
	}
	return FromEnv(os.LookupEnv)
}

// FromEnv builds a Config from lookup, collecting every invalid value.
func FromEnv(lookup func(string) (string, bool)) (Config, error) {
	p := parser{lookup: lookup}
	cfg := Config{
		HTTPAddr:        p.str("HTTP_ADDR", ":8080"),
		DatabaseURL:     p.str("DATABASE_URL", ""),
		DBMigrate:       p.boolean("DB_MIGRATE", false),
		DevSeed:         p.boolean("DEV_SEED", false),
		LogLevel:        p.level("LOG_LEVEL"),
		LogFormat:       p.format("LOG_FORMAT"),
		ShutdownTimeout: p.duration("SHUTDOWN_TIMEOUT", 10*time.Second),
		Transfer: transfer.Options{
			Locking:     p.locking("TRANSFER_LOCKING"),
			MaxAttempts: p.positiveInt("TRANSFER_MAX_ATTEMPTS", transfer.DefaultMaxAttempts),
			RetryBase:   p.duration("TRANSFER_RETRY_BASE", transfer.DefaultRetryBase),
			RetryMax:    p.duration("TRANSFER_RETRY_MAX", transfer.DefaultRetryMax),
			Timeout:     p.duration("TRANSFER_TIMEOUT", 5*time.Second),
		},
	}
	if cfg.Transfer.RetryMax < cfg.Transfer.RetryBase {
		p.fail("TRANSFER_RETRY_MAX", "must be >= TRANSFER_RETRY_BASE")
	}
	if err := errors.Join(p.errs...); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Logger builds the slog logger described by LogLevel and LogFormat.
func (c Config) Logger() *slog.Logger {
	opts := &slog.HandlerOptions{Level: c.LogLevel}
	if c.LogFormat == "text" {
		return slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, opts))
}

type parser struct {
	lookup func(string) (string, bool)
	errs   []error
}

func (p *parser) fail(key, msg string) {
	p.errs = append(p.errs, fmt.Errorf("%s: %s", key, msg))
}

func (p *parser) raw(key string) (string, bool) {
	v, ok := p.lookup(key)
	v = strings.TrimSpace(v)
	return v, ok && v != ""
}

func (p *parser) str(key, fallback string) string {
	if v, ok := p.raw(key); ok {
		return v
	}
	return fallback
}

func (p *parser) boolean(key string, fallback bool) bool {
	v, ok := p.raw(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(v) {
	case "yes", "y", "on":
		return true
	case "no", "n", "off":
		return false
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		p.fail(key, fmt.Sprintf("invalid boolean %q", v))
		return fallback
	}
	return b
}

func (p *parser) positiveInt(key string, fallback int) int {
	v, ok := p.raw(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		p.fail(key, fmt.Sprintf("want a positive integer, got %q", v))
		return fallback
	}
	return n
}

func (p *parser) duration(key string, fallback time.Duration) time.Duration {
	v, ok := p.raw(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		p.fail(key, fmt.Sprintf("want a positive duration, got %q", v))
		return fallback
	}
	return d
}

func (p *parser) level(key string) slog.Level {
	v, ok := p.raw(key)
	if !ok {
		return slog.LevelInfo
	}
	switch strings.ToLower(v) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error", "err":
		return slog.LevelError
	}
	p.fail(key, fmt.Sprintf("unknown level %q", v))
	return slog.LevelInfo
}

func (p *parser) format(key string) string {
	v, ok := p.raw(key)
	if !ok {
		return "json"
	}
	switch v = strings.ToLower(v); v {
	case "json", "text":
		return v
	}
	p.fail(key, fmt.Sprintf("want json or text, got %q", v))
	return "json"
}

func (p *parser) locking(key string) transfer.LockingMode {
	v, _ := p.raw(key)
	m, err := transfer.ParseLockingMode(v)
	if err != nil {
		p.fail(key, err.Error())
		return transfer.LockingPessimistic
	}
	return m
}
