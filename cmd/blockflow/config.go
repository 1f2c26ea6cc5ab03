package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
)

// Config holds all blockflow server configuration.
// Priority: env vars > settings.json > defaults.
type Config struct {
	DBPath            string `json:"db_path"`
	LogLevel          string `json:"log_level"`
	PoolSize          int    `json:"pool_size"`
	Compress          bool   `json:"compress"`
	MinCompressSize   int    `json:"min_compress_size"`
	EncryptionKeyID   string `json:"encryption_key_id"`
	EncryptionKeyBits int    `json:"encryption_key_bits"`
	RetentionSchedule string `json:"retention_schedule"`
	RetentionDays     int    `json:"retention_days"`
}

func defaultConfig() Config {
	return Config{
		DBPath:            filepath.Join(blockflowDir(), "blockflow.db"),
		LogLevel:          "info",
		PoolSize:          16,
		Compress:          true,
		RetentionSchedule: "0 3 * * *",
		RetentionDays:     30,
	}
}

func blockflowDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".blockflow"
	}
	return filepath.Join(home, ".blockflow")
}

func settingsPath() string {
	return filepath.Join(blockflowDir(), "settings.json")
}

func loadConfig() Config {
	cfg := defaultConfig()

	// Layer 2: settings.json (ignore if missing).
	if data, err := os.ReadFile(settingsPath()); err == nil {
		_ = json.Unmarshal(data, &cfg)
	}

	// Layer 3: env vars override.
	if v := os.Getenv("BLOCKFLOW_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("BLOCKFLOW_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("BLOCKFLOW_POOL_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.PoolSize = n
		}
	}
	if v := os.Getenv("BLOCKFLOW_COMPRESS"); v != "" {
		cfg.Compress = v == "true" || v == "1"
	}
	if v := os.Getenv("BLOCKFLOW_MIN_COMPRESS_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MinCompressSize = n
		}
	}
	if v := os.Getenv("BLOCKFLOW_ENCRYPTION_KEY_ID"); v != "" {
		cfg.EncryptionKeyID = v
	}
	if v := os.Getenv("BLOCKFLOW_ENCRYPTION_KEY_BITS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.EncryptionKeyBits = n
		}
	}
	if v := os.Getenv("BLOCKFLOW_RETENTION_SCHEDULE"); v != "" {
		cfg.RetentionSchedule = v
	}
	if v := os.Getenv("BLOCKFLOW_RETENTION_DAYS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.RetentionDays = n
		}
	}

	return cfg
}
