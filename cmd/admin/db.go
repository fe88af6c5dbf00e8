package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"tilecraft.ai/internal/persistence/kvdb"
	persistlog "tilecraft.ai/internal/persistence/log"
)

// dbCmd reads the relay store directly. Run it against a stopped relay or a copy.
func dbCmd(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("db", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	dbPath := fs.String("db", "", "sqlite path (default: <data>/relay.sqlite)")
	worldID := fs.String("world", "", "world id (required for roster)")
	since := fs.Duration("since", 0, "roster: only rows seen within this window (0: all)")
	_ = fs.Parse(args)

	q := "snapshots"
	if fs.NArg() > 0 {
		q = strings.TrimSpace(fs.Arg(0))
	}
	path := strings.TrimSpace(*dbPath)
	if path == "" {
		path = filepath.Join(*dataDir, "relay.sqlite")
	}
	if _, err := os.Stat(path); err != nil {
		return err
	}
	store, err := kvdb.OpenSQLite(path)
	if err != nil {
		return err
	}
	defer store.Close()

	enc := json.NewEncoder(os.Stdout)
	switch q {
	case "snapshots":
		metas, err := store.ListSnapshots(ctx)
		if err != nil {
			return err
		}
		for _, m := range metas {
			_ = enc.Encode(m)
		}
	case "roster":
		if strings.TrimSpace(*worldID) == "" {
			return errors.New("missing -world")
		}
		var from time.Time
		if *since > 0 {
			from = time.Now().Add(-*since)
		}
		rows, err := store.Roster(ctx, *worldID, from)
		if err != nil {
			return err
		}
		for _, st := range rows {
			_ = enc.Encode(st)
		}
	default:
		return fmt.Errorf("unknown query %q (snapshots, roster)", q)
	}
	return nil
}

func auditCmd(args []string) error {
	fs := flag.NewFlagSet("audit", flag.ExitOnError)
	dataDir := fs.String("data", "./data", "runtime data directory")
	worldID := fs.String("world", "", "world id filter (optional)")
	user := fs.String("user", "", "username filter (optional)")
	_ = fs.Parse(args)

	files, err := persistlog.Files(filepath.Join(*dataDir, "audit"), "audit")
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	for _, f := range files {
		entries, err := persistlog.ReadBlocks(f, *worldID)
		if err != nil {
			return fmt.Errorf("%s: %w", filepath.Base(f), err)
		}
		for _, e := range entries {
			if *user != "" && e.Username != *user {
				continue
			}
			_ = enc.Encode(e)
		}
	}
	return nil
}
