package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"

	"tilecraft.ai/internal/persistence/snapshot"
	"tilecraft.ai/internal/protocol"
	"tilecraft.ai/internal/sim/world"
	"tilecraft.ai/internal/transport/relay"
)

func relayFlags(name string) (*flag.FlagSet, *string) {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	def := strings.TrimSpace(os.Getenv("TC_RELAY_URL"))
	if def == "" {
		def = "http://127.0.0.1:8080"
	}
	return fs, fs.String("url", def, "relay base url")
}

func worldsCmd(ctx context.Context, args []string) error {
	fs, baseURL := relayFlags("worlds")
	_ = fs.Parse(args)

	worlds, err := relay.NewAPI(*baseURL, nil).Worlds(ctx)
	if err != nil {
		return err
	}
	for _, w := range worlds {
		mark := " "
		if w.Default {
			mark = "*"
		}
		stored := "-"
		if w.Stored != nil {
			stored = fmt.Sprintf("v%d %dB owner=%q", w.Stored.Version, w.Stored.Size, w.Stored.Owner)
		}
		fmt.Printf("%s %-16s %4dx%-4d seed=%-12d %s\n", mark, w.WorldID, w.Width, w.Height, w.Seed, stored)
	}
	return nil
}

func exportCmd(ctx context.Context, args []string) error {
	fs, baseURL := relayFlags("export")
	worldID := fs.String("world", "", "world id (required)")
	out := fs.String("out", "", "output path (default: <world>.snap.zst)")
	_ = fs.Parse(args)

	if strings.TrimSpace(*worldID) == "" {
		return errors.New("missing -world")
	}
	path := strings.TrimSpace(*out)
	if path == "" {
		path = *worldID + ".snap.zst"
	}
	d, err := relay.NewAPI(*baseURL, nil).PullWorldSnapshot(ctx, *worldID)
	if err != nil {
		return err
	}
	if err := snapshot.WriteFile(path, *worldID, d); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	fmt.Printf("exported %s (%dx%d owner=%q) to %s\n", *worldID, d.Width, d.Height, d.Owner, path)
	return nil
}

func importCmd(ctx context.Context, args []string) error {
	fs, baseURL := relayFlags("import")
	worldID := fs.String("world", "", "target world id (default: the id stored in the file)")
	in := fs.String("in", "", "snapshot file (required)")
	_ = fs.Parse(args)

	if strings.TrimSpace(*in) == "" {
		return errors.New("missing -in")
	}
	h, d, err := snapshot.ReadFile(*in)
	if err != nil {
		return fmt.Errorf("read %s: %w", *in, err)
	}
	if _, err := world.Load(d); err != nil {
		return fmt.Errorf("%s: %w", *in, err)
	}
	target := strings.TrimSpace(*worldID)
	if target == "" {
		target = h.WorldID
	}
	if target == "" {
		return errors.New("file has no world id; pass -world")
	}
	if err := relay.NewAPI(*baseURL, nil).PushWorldSnapshot(ctx, target, d); err != nil {
		return err
	}
	fmt.Printf("imported %s into %s\n", *in, target)
	return nil
}

func noticeCmd(ctx context.Context, args []string) error {
	fs, baseURL := relayFlags("notice")
	text := fs.String("text", "", "notice text (required)")
	_ = fs.Parse(args)

	if strings.TrimSpace(*text) == "" {
		return errors.New("missing -text")
	}
	return relay.NewAPI(*baseURL, nil).Broadcast(ctx, protocol.SystemMsg{Kind: protocol.SystemNotice, Text: *text})
}

func resetCmd(ctx context.Context, args []string) error {
	fs, baseURL := relayFlags("reset")
	worldID := fs.String("world", "", "world id (required; the world must allow reset)")
	version := fs.String("version", "", "optional version tag sent with the reset")
	_ = fs.Parse(args)

	if strings.TrimSpace(*worldID) == "" {
		return errors.New("missing -world")
	}
	return relay.NewAPI(*baseURL, nil).Broadcast(ctx, protocol.SystemMsg{Kind: protocol.SystemReset, WorldID: *worldID, Version: *version})
}
