// Package game drives one player's simulation: the per-tick control flow that ties the
// world, the local player, dropped items and the sync engine together.
package game

import (
	"context"
	"errors"
	"log"
	"math/rand"
	"os"
	"time"

	"github.com/google/uuid"

	"tilecraft.ai/internal/sim/items"
	"tilecraft.ai/internal/sim/multiplayer"
	"tilecraft.ai/internal/sim/player"
	"tilecraft.ai/internal/sim/tuning"
	"tilecraft.ai/internal/sim/world"
)

type Config struct {
	WorldID   string
	UserID    string
	Username  string
	SessionID string

	// Seed generates the world when none is stored.
	Seed   int64
	Tuning tuning.Tuning
	Rand   *rand.Rand
}

// Controls is the input state sampled once per tick.
type Controls struct {
	Input player.Input

	// Break and Place act on the tile at (TargetX, TargetY).
	Break   bool
	Place   bool
	TargetX int
	TargetY int
}

// Events reports what one Step did.
type Events struct {
	Jumped   bool
	Edit     *world.Edit
	Rejected error
	Picked   []items.Item
	Reset    bool
}

var ErrNotStarted = errors.New("session not started")

// Session owns the simulation state. Every method except SetControls and Do must be called
// from the goroutine that calls Step (Run does that itself).
type Session struct {
	cfg    Config
	tu     tuning.Tuning
	logger *log.Logger

	world  *world.World
	player *player.Player
	items  *items.Registry
	engine *multiplayer.Engine

	lastTick time.Time
	lastHit  time.Time

	// dirty is set by local grid edits; lockEdit by edits that changed the owner.
	dirty    bool
	lockEdit bool

	controls chan Controls
	cmds     chan command
	latest   Controls
}

type command struct {
	fn   func(*Session, time.Time)
	done chan struct{}
}

// New builds a session. A nil bridge plays single-player.
func New(cfg Config, bridge multiplayer.Bridge, logger *log.Logger) *Session {
	if logger == nil {
		logger = log.New(os.Stdout, "[game] ", log.LstdFlags|log.Lmicroseconds)
	}
	if cfg.SessionID == "" {
		cfg.SessionID = uuid.NewString()
	}
	if cfg.UserID == "" {
		cfg.UserID = uuid.NewString()
	}
	if cfg.Username == "" {
		id := cfg.UserID
		if len(id) > 8 {
			id = id[:8]
		}
		cfg.Username = "player-" + id
	}
	s := &Session{
		cfg:      cfg,
		tu:       cfg.Tuning,
		logger:   logger,
		player:   player.New(cfg.UserID, cfg.Username, cfg.Tuning),
		items:    items.NewRegistry(cfg.Tuning, cfg.Rand),
		controls: make(chan Controls, 1),
		cmds:     make(chan command, 16),
	}
	if bridge != nil {
		s.engine = multiplayer.New(multiplayer.Config{
			WorldID:   cfg.WorldID,
			SessionID: cfg.SessionID,
			UserID:    cfg.UserID,
			Username:  cfg.Username,
			Sync:      cfg.Tuning.Sync,
		}, bridge, logger)
	}
	return s
}

func (s *Session) World() *world.World         { return s.world }
func (s *Session) Player() *player.Player      { return s.player }
func (s *Session) Items() *items.Registry      { return s.items }
func (s *Session) SessionID() string           { return s.cfg.SessionID }
func (s *Session) Online() bool                { return s.engine != nil }
func (s *Session) Engine() *multiplayer.Engine { return s.engine }

// Others returns the live remote players, empty when offline.
func (s *Session) Others(now time.Time) []multiplayer.OtherPlayer {
	if s.engine == nil {
		return nil
	}
	return s.engine.Others(now)
}

// Start joins the world and spawns the player. A failed join is logged and the session
// continues single-player on a generated world.
func (s *Session) Start(ctx context.Context) error {
	var stored *world.Data
	if s.engine != nil {
		res, err := s.engine.Join(ctx)
		if err != nil {
			s.logger.Printf("world=%s join failed, playing offline: %v", s.cfg.WorldID, err)
			s.engine.Close()
			s.engine = nil
		} else {
			stored = res.Data
		}
	}
	if stored != nil {
		w, err := world.Load(*stored)
		if err != nil {
			s.logger.Printf("world=%s stored snapshot rejected: %v", s.cfg.WorldID, err)
		} else {
			s.world = w
		}
	}
	if s.world == nil {
		if err := s.generate(); err != nil {
			return err
		}
		if s.engine != nil {
			s.engine.PushNow(s.world.Data())
		}
	}
	s.respawn()
	return nil
}

func (s *Session) generate() error {
	w, err := world.Generate(s.tu.World.Params(s.cfg.Seed))
	if err != nil {
		return err
	}
	s.world = w
	return nil
}

func (s *Session) respawn() {
	sx, sy := s.world.Spawn()
	s.player.Place(player.SpawnPosition(s.tu.TileSize, sx, sy))
}

// SetControls replaces the controls Run feeds to the next tick.
func (s *Session) SetControls(c Controls) {
	for {
		select {
		case s.controls <- c:
			return
		default:
		}
		select {
		case <-s.controls:
		default:
		}
	}
}

// Do runs fn on the simulation goroutine between ticks and waits for it.
func (s *Session) Do(ctx context.Context, fn func(*Session, time.Time)) error {
	cmd := command{fn: fn, done: make(chan struct{})}
	select {
	case s.cmds <- cmd:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-cmd.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run ticks the session until ctx is done, then announces departure and flushes the
// engine outbox.
func (s *Session) Run(ctx context.Context) error {
	if s.world == nil {
		return ErrNotStarted
	}
	if s.engine == nil {
		return s.loop(ctx)
	}
	engCtx, stop := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.engine.Run(engCtx) }()

	err := s.loop(ctx)
	stop()
	<-done
	s.engine.Close()
	return err
}

func (s *Session) loop(ctx context.Context) error {
	ticker := time.NewTicker(s.tu.TickDuration())
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.Leave(time.Now())
			return ctx.Err()
		case c := <-s.controls:
			s.latest = c
		case cmd := <-s.cmds:
			cmd.fn(s, time.Now())
			close(cmd.done)
		case now := <-ticker.C:
			s.Step(s.latest, now)
		}
	}
}

// Leave announces departure and flushes any pending push into the outbox.
func (s *Session) Leave(now time.Time) {
	if s.engine == nil {
		return
	}
	if s.dirty {
		s.engine.SchedulePush(s.world.Data(), now)
		s.dirty = false
	}
	s.engine.Leave(s.player.State(s.cfg.SessionID, now))
}
