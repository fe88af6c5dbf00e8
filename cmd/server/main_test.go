package main

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestParseConfig_EnvDefaultsAndFlags(t *testing.T) {
	t.Setenv("TC_ADDR", ":9999")
	t.Setenv("TC_DATA_DIR", "/tmp/tc")
	t.Setenv("TC_DISABLE_AUDIT", "true")
	t.Setenv("TC_STATUS_EVERY", "bogus")

	cfg, err := parseConfig(nil)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if cfg.Addr != ":9999" || !cfg.DisableAudit || cfg.StatusEvery != time.Minute {
		t.Fatalf("cfg = %+v", cfg)
	}
	if cfg.DBPath != filepath.Join("/tmp/tc", "relay.sqlite") {
		t.Fatalf("db path = %s", cfg.DBPath)
	}

	cfg, err = parseConfig([]string{"-addr", ":1234", "-db", "/x/y.sqlite"})
	if err != nil || cfg.Addr != ":1234" || cfg.DBPath != "/x/y.sqlite" {
		t.Fatalf("flags = %+v %v", cfg, err)
	}
	if _, err := parseConfig([]string{"-nope"}); err == nil {
		t.Fatalf("unknown flag accepted")
	}
}

func TestLoadEnvFile(t *testing.T) {
	if err := loadEnvFile(filepath.Join(t.TempDir(), "missing.env")); err != nil {
		t.Fatalf("missing file: %v", err)
	}
	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte("TC_TEST_FROM_FILE=from-file\nTC_TEST_KEPT=file\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Setenv("TC_TEST_KEPT", "env")
	t.Setenv("TC_TEST_FROM_FILE", "")
	os.Unsetenv("TC_TEST_FROM_FILE")
	if err := loadEnvFile(path); err != nil {
		t.Fatalf("load: %v", err)
	}
	if got := os.Getenv("TC_TEST_FROM_FILE"); got != "from-file" {
		t.Fatalf("from file = %q", got)
	}
	if got := os.Getenv("TC_TEST_KEPT"); got != "env" {
		t.Fatalf("existing env overridden: %q", got)
	}
}

func TestRuntimeServesCatalog(t *testing.T) {
	dir := t.TempDir()
	cfg := serverConfig{
		DataDir:      dir,
		DBPath:       filepath.Join(dir, "relay.sqlite"),
		WorldsPath:   filepath.Join("..", "..", "configs", "worlds.yaml"),
		ShutdownWait: time.Second,
	}
	rt, err := newRuntime(cfg, log.New(io.Discard, "", 0))
	if err != nil {
		t.Fatalf("runtime: %v", err)
	}
	defer rt.Close()

	srv := httptest.NewServer(rt.router)
	defer srv.Close()
	resp, err := http.Get(srv.URL + "/v1/worlds")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	var worlds []struct {
		WorldID string `json:"world_id"`
		Default bool   `json:"default"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&worlds); err != nil || len(worlds) != 3 {
		t.Fatalf("worlds = %+v %v", worlds, err)
	}
	if worlds[0].WorldID != "main" || !worlds[0].Default {
		t.Fatalf("worlds = %+v", worlds)
	}
}

func TestRuntimeMissingCatalogFallsBack(t *testing.T) {
	dir := t.TempDir()
	cfg := serverConfig{DataDir: dir, DBPath: filepath.Join(dir, "r.sqlite"), WorldsPath: filepath.Join(dir, "none.yaml"), DisableAudit: true, ShutdownWait: time.Second}
	rt, err := newRuntime(cfg, log.New(io.Discard, "", 0))
	if err != nil {
		t.Fatalf("runtime: %v", err)
	}
	defer rt.Close()
	if len(rt.worlds.Worlds) != 1 || rt.worlds.DefaultWorldID != "main" || rt.audit != nil {
		t.Fatalf("fallback = %+v", rt.worlds)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- rt.Serve(ctx, "127.0.0.1:0") }()
	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("serve: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("serve did not stop")
	}
}
