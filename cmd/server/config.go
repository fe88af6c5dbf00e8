package main

import (
	"errors"
	"flag"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type serverConfig struct {
	Addr         string
	DataDir      string
	DBPath       string
	WorldsPath   string
	DisableAudit bool
	StatusEvery  time.Duration
	ShutdownWait time.Duration
}

// loadEnvFile loads path into the environment without overriding variables already set.
// A missing file is not an error.
func loadEnvFile(path string) error {
	if strings.TrimSpace(path) == "" {
		return nil
	}
	err := godotenv.Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

func getEnv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	v, err := strconv.ParseBool(getEnv(key, strconv.FormatBool(def)))
	if err != nil {
		return def
	}
	return v
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(getEnv(key, def.String()))
	if err != nil {
		return def
	}
	return d
}

// parseConfig reads flags from args. Every flag defaults to its TC_* environment variable.
func parseConfig(args []string) (serverConfig, error) {
	var cfg serverConfig
	flags := flag.NewFlagSet("server", flag.ContinueOnError)
	flags.StringVar(&cfg.Addr, "addr", getEnv("TC_ADDR", ":8080"), "http listen address")
	flags.StringVar(&cfg.DataDir, "data", getEnv("TC_DATA_DIR", "./data"), "runtime data directory")
	flags.StringVar(&cfg.DBPath, "db", getEnv("TC_DB_PATH", ""), "sqlite path (default: <data>/relay.sqlite)")
	flags.StringVar(&cfg.WorldsPath, "worlds", getEnv("TC_WORLDS", "./configs/worlds.yaml"), "world catalog path (empty: single default world)")
	flags.BoolVar(&cfg.DisableAudit, "disable_audit", getEnvBool("TC_DISABLE_AUDIT", false), "disable the block audit log")
	flags.DurationVar(&cfg.StatusEvery, "status_every", getEnvDuration("TC_STATUS_EVERY", time.Minute), "status log interval (0 disables)")
	flags.DurationVar(&cfg.ShutdownWait, "shutdown_wait", getEnvDuration("TC_SHUTDOWN_WAIT", 5*time.Second), "graceful shutdown timeout")
	if err := flags.Parse(args); err != nil {
		return cfg, err
	}
	if strings.TrimSpace(cfg.DBPath) == "" {
		cfg.DBPath = filepath.Join(cfg.DataDir, "relay.sqlite")
	}
	return cfg, nil
}
