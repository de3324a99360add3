// Package config loads process configuration from the environment and the
// runtime business settings (rates, thresholds, fees) that administrators
// may change while the service runs.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the process configuration read once at startup.
type Config struct {
	Port              string
	DatabaseURL       string // empty: in-memory store
	RedisURL          string // empty: no cache, in-process price locks
	NATSURL           string // empty: notifications go to the log
	AuditSQLitePath   string // empty: audit rows go to the primary store
	SettingsFile      string // optional YAML overriding built-in defaults
	CommissionWorkers int
	CommissionQueue   int
	CacheTTL          time.Duration
	ReminderCron      string
	LockSweepCron     string
}

// Load reads the environment. Only malformed values are errors; every
// variable has a default.
func Load() (Config, error) {
	c := Config{
		Port:            envOr("PORT", "8080"),
		DatabaseURL:     os.Getenv("DATABASE_URL"),
		RedisURL:        os.Getenv("REDIS_URL"),
		NATSURL:         os.Getenv("NATS_URL"),
		AuditSQLitePath: os.Getenv("AUDIT_SQLITE_PATH"),
		SettingsFile:    os.Getenv("SETTINGS_FILE"),
		ReminderCron:    envOr("REMINDER_CRON", "0 0 9 * * *"),
		LockSweepCron:   envOr("LOCK_SWEEP_CRON", "0 * * * * *"),
	}

	var bad []string
	var err error
	if c.CommissionWorkers, err = envInt("COMMISSION_WORKERS", 4); err != nil || c.CommissionWorkers < 1 {
		bad = append(bad, "COMMISSION_WORKERS")
	}
	if c.CommissionQueue, err = envInt("COMMISSION_QUEUE", 1024); err != nil || c.CommissionQueue < 1 {
		bad = append(bad, "COMMISSION_QUEUE")
	}
	ttl := envOr("CACHE_TTL", "30s")
	if c.CacheTTL, err = time.ParseDuration(ttl); err != nil {
		bad = append(bad, "CACHE_TTL")
	}
	if len(bad) > 0 {
		return c, errors.New("invalid env: " + strings.Join(bad, ","))
	}
	return c, nil
}

// LoadDefaults reads a YAML file of the form
//
//	settings:
//	  BONUS_SPONSOR_RATE: 0.005
//	  ANNUAL_FEE: 36.50
//
// and returns the built-in defaults with the file's values layered on top.
func LoadDefaults(path string) (map[string]string, error) {
	out := DefaultSettings()
	if path == "" {
		return out, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read settings file: %w", err)
	}
	var doc struct {
		Settings map[string]any `yaml:"settings"`
	}
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse settings file: %w", err)
	}
	for k, v := range doc.Settings {
		out[strings.ToUpper(strings.TrimSpace(k))] = fmt.Sprint(v)
	}
	return out, nil
}

func envOr(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	return strconv.Atoi(v)
}
