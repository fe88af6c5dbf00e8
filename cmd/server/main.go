package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"tilecraft.ai/internal/persistence/kvdb"
	persistlog "tilecraft.ai/internal/persistence/log"
	"tilecraft.ai/internal/sim/multiworld"
	"tilecraft.ai/internal/transport/ws"
)

func main() {
	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lmicroseconds)

	if err := loadEnvFile(getEnv("TC_ENV_FILE", ".env")); err != nil {
		logger.Fatalf("load env: %v", err)
	}
	cfg, err := parseConfig(os.Args[1:])
	if err != nil {
		os.Exit(2)
	}

	ctx, cancel := signalContext()
	defer cancel()

	rt, err := newRuntime(cfg, logger)
	if err != nil {
		logger.Fatalf("%v", err)
	}
	defer rt.Close()

	if err := rt.Serve(ctx, cfg.Addr); err != nil {
		logger.Fatalf("serve: %v", err)
	}
}

// relayRuntime is the relay process: catalog, store, audit log, hub and router.
type relayRuntime struct {
	cfg    serverConfig
	logger *log.Logger

	worlds multiworld.Config
	store  *kvdb.Store
	audit  *persistlog.AuditLogger
	hub    *ws.Server
	router http.Handler
}

func newRuntime(cfg serverConfig, logger *log.Logger) (*relayRuntime, error) {
	worldsPath := strings.TrimSpace(cfg.WorldsPath)
	if worldsPath != "" {
		if _, err := os.Stat(worldsPath); errors.Is(err, os.ErrNotExist) {
			logger.Printf("world catalog %s not found; serving the default world", worldsPath)
			worldsPath = ""
		}
	}
	worlds, err := multiworld.Load(worldsPath)
	if err != nil {
		return nil, fmt.Errorf("load worlds: %w", err)
	}

	store, err := kvdb.OpenSQLite(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open store %s: %w", cfg.DBPath, err)
	}

	rt := &relayRuntime{cfg: cfg, logger: logger, worlds: worlds, store: store}
	opts := ws.Options{
		Roster: store,
		KnownWorld: func(id string) bool {
			_, ok := worlds.WorldSpecByID(id)
			return ok
		},
		Logger: log.New(logger.Writer(), "[relay] ", log.LstdFlags|log.Lmicroseconds),
	}
	if !cfg.DisableAudit {
		rt.audit = persistlog.NewAuditLogger(cfg.DataDir)
		opts.Audit = rt.audit
	}
	hub, err := ws.NewServer(opts)
	if err != nil {
		rt.Close()
		return nil, err
	}
	rt.hub = hub
	rt.router = ws.NewRouter(ws.RouterConfig{Hub: hub, Store: store, Worlds: worlds, Logger: logger})

	ids := make([]string, 0, len(worlds.Worlds))
	for _, w := range worlds.Worlds {
		ids = append(ids, w.ID)
	}
	logger.Printf("serving worlds=%s default=%s db=%s", strings.Join(ids, ","), worlds.DefaultWorldID, cfg.DBPath)
	return rt, nil
}

func (rt *relayRuntime) Close() {
	if rt.hub != nil {
		rt.hub.Close()
	}
	if rt.audit != nil {
		_ = rt.audit.Close()
	}
	if rt.store != nil {
		_ = rt.store.Close()
	}
}

// Serve runs the HTTP server and the status loop until ctx is done.
func (rt *relayRuntime) Serve(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	srv := &http.Server{
		Handler:           rt.router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		rt.logger.Printf("listening on %s", ln.Addr())
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		rt.hub.Close()
		sctx, cancel := context.WithTimeout(context.Background(), rt.cfg.ShutdownWait)
		defer cancel()
		return srv.Shutdown(sctx)
	})
	if rt.cfg.StatusEvery > 0 {
		g.Go(func() error { return rt.statusLoop(gctx) })
	}
	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (rt *relayRuntime) statusLoop(ctx context.Context) error {
	t := time.NewTicker(rt.cfg.StatusEvery)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			st := rt.hub.Stats()
			rt.logger.Printf("status clients=%d subs=%d delivered=%d dropped=%d rejected=%d roster_dropped=%d",
				st.Clients, st.Subscriptions, st.Delivered, st.Dropped, st.Rejected, rt.store.Dropped())
		}
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}
