package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Config holds all sopflow configuration.
// Priority: env vars > settings.json > defaults.
type Config struct {
	DBPath        string   `json:"db_path"`
	LogLevel      string   `json:"log_level"`
	MaxVisits     int      `json:"max_visits"`
	HITLTools     []string `json:"hitl_tools"`
	StrictParams  bool     `json:"strict_params"`
	FSRoot        string   `json:"fs_root"`
	SweepSchedule string   `json:"sweep_schedule"`
	PendingTTL    string   `json:"pending_ttl"`
}

func defaultConfig() Config {
	return Config{
		DBPath:        filepath.Join(sopflowDir(), "sopflow.db"),
		LogLevel:      "info",
		MaxVisits:     10,
		HITLTools:     []string{"delete_file"},
		SweepSchedule: "*/5 * * * *",
		PendingTTL:    "24h",
	}
}

func sopflowDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".sopflow"
	}
	return filepath.Join(home, ".sopflow")
}

func settingsPath() string {
	return filepath.Join(sopflowDir(), "settings.json")
}

func loadConfig() Config {
	return loadConfigFrom(settingsPath(), os.Getenv)
}

func loadConfigFrom(path string, getenv func(string) string) Config {
	cfg := defaultConfig()

	// Layer 2: settings.json (ignore if missing).
	if data, err := os.ReadFile(path); err == nil {
		_ = json.Unmarshal(data, &cfg)
	}

	// Layer 3: env vars override.
	if v := getenv("SOPFLOW_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := getenv("SOPFLOW_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := getenv("SOPFLOW_MAX_VISITS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxVisits = n
		}
	}
	if v, ok := lookup(getenv, "SOPFLOW_HITL_TOOLS"); ok {
		cfg.HITLTools = splitList(v)
	}
	if v := getenv("SOPFLOW_STRICT_PARAMS"); v != "" {
		cfg.StrictParams = v == "true" || v == "1"
	}
	if v := getenv("SOPFLOW_FS_ROOT"); v != "" {
		cfg.FSRoot = v
	}
	if v := getenv("SOPFLOW_SWEEP_SCHEDULE"); v != "" {
		cfg.SweepSchedule = v
	}
	if v := getenv("SOPFLOW_PENDING_TTL"); v != "" {
		cfg.PendingTTL = v
	}

	return cfg
}

// lookup treats "-" as an explicit empty value so a list can be cleared
// from the environment.
func lookup(getenv func(string) string, key string) (string, bool) {
	v := getenv(key)
	switch v {
	case "":
		return "", false
	case "-":
		return "", true
	default:
		return v, true
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// pendingTTL parses PendingTTL, falling back to a day.
func (c Config) pendingTTL() time.Duration {
	d, err := time.ParseDuration(c.PendingTTL)
	if err != nil || d <= 0 {
		return 24 * time.Hour
	}
	return d
}

// dsn returns the libSQL connection string for DBPath.
func (c Config) dsn() string {
	if strings.HasPrefix(c.DBPath, "file:") || strings.Contains(c.DBPath, "://") {
		return c.DBPath
	}
	return "file:" + c.DBPath
}
