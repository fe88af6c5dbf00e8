package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/google/uuid"

	"tilecraft.ai/internal/protocol"
	"tilecraft.ai/internal/sim/game"
	"tilecraft.ai/internal/sim/tuning"
	"tilecraft.ai/internal/transport/relay"
)

func main() {
	var (
		url        = flag.String("url", envOr("TC_RELAY_URL", "http://127.0.0.1:8080"), "relay base url")
		worldID    = flag.String("world", "", "world id (default: the relay's default world)")
		name       = flag.String("name", "bot", "username")
		tuningPath = flag.String("tuning", "", "path to tuning.yaml (default: built-in tuning)")
		duration   = flag.Duration("duration", 0, "stop after this long (0 runs until interrupted)")
		thinkEvery = flag.Duration("think", 250*time.Millisecond, "decision interval")
		seed       = flag.Int64("seed", time.Now().UnixNano(), "bot rng seed")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[bot] ", log.LstdFlags|log.Lmicroseconds)

	tu := tuning.Defaults()
	if p := strings.TrimSpace(*tuningPath); p != "" {
		var err error
		if tu, err = tuning.Load(p); err != nil {
			logger.Fatalf("load tuning: %v", err)
		}
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()
	if *duration > 0 {
		var stop context.CancelFunc
		ctx, stop = context.WithTimeout(ctx, *duration)
		defer stop()
	}

	ref, err := pickWorld(ctx, relay.NewAPI(*url, nil), *worldID)
	if err != nil {
		logger.Fatalf("%v", err)
	}
	tu.World.Width, tu.World.Height = ref.Width, ref.Height

	userID := uuid.NewString()
	sessionID := uuid.NewString()
	client, err := relay.Dial(ctx, relay.Config{
		BaseURL:   *url,
		SessionID: sessionID,
		UserID:    userID,
		Username:  *name,
		Logger:    logger,
	})
	if err != nil {
		logger.Fatalf("dial: %v", err)
	}
	defer client.Close()

	rng := rand.New(rand.NewSource(*seed))
	s := game.New(game.Config{
		WorldID:   ref.WorldID,
		UserID:    userID,
		Username:  *name,
		SessionID: sessionID,
		Seed:      ref.Seed,
		Tuning:    tu,
		Rand:      rand.New(rand.NewSource(rng.Int63())),
	}, client, logger)
	if err := s.Start(ctx); err != nil {
		logger.Fatalf("start: %v", err)
	}
	logger.Printf("joined world=%s as %s online=%v", ref.WorldID, *name, s.Online())

	runDone := make(chan error, 1)
	go func() { runDone <- s.Run(ctx) }()

	if err := think(ctx, s, newBrain(rng), *thinkEvery, tu.TileSize, logger); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		logger.Printf("think: %v", err)
	}
	if err := <-runDone; err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
		logger.Printf("run: %v", err)
	}
	if eng := s.Engine(); eng != nil {
		logger.Printf("bye stats=%+v relay_errors=%d reconnects=%d", eng.Stats(), client.RelayErrors(), client.Reconnects())
	}
}

func envOr(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func pickWorld(ctx context.Context, api *relay.API, id string) (protocol.WorldRef, error) {
	worlds, err := api.Worlds(ctx)
	if err != nil {
		return protocol.WorldRef{}, err
	}
	for _, w := range worlds {
		if (id == "" && w.Default) || w.WorldID == id {
			return w.WorldRef, nil
		}
	}
	if id == "" && len(worlds) > 0 {
		return worlds[0].WorldRef, nil
	}
	return protocol.WorldRef{}, fmt.Errorf("world %q not served by relay", id)
}

// think samples the session, feeds the brain and greets the world once.
func think(ctx context.Context, s *game.Session, b *brain, every time.Duration, tileSize int, logger *log.Logger) error {
	t := time.NewTicker(every)
	defer t.Stop()
	greeted := false
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
		// decide reads the grid, so it runs on the simulation goroutine.
		var c game.Controls
		err := s.Do(ctx, func(s *game.Session, now time.Time) {
			c = b.decide(sample(s, tileSize))
			if !greeted {
				if msg, ok := s.Chat("hello from "+s.Player().Username, now); ok {
					logger.Printf("chat %q", msg.Text)
				}
				greeted = true
			}
		})
		if err != nil {
			return err
		}
		s.SetControls(c)
	}
}

func sample(s *game.Session, tileSize int) view {
	ts := float64(tileSize)
	p := s.Player()
	w := s.World()
	st := p.SelectedStack()
	return view{
		TileX:    int((p.X + ts/2) / ts),
		TileY:    int((p.Y + ts/2) / ts),
		OnGround: p.OnGround,
		Selected: st.Kind,
		Held:     st.Count,
		Solid:    w.IsSolid,
	}
}
