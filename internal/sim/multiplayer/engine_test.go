package multiplayer_test

import (
	"context"
	"errors"
	"io"
	"log"
	"testing"
	"time"

	"tilecraft.ai/internal/persistence/memhub"
	"tilecraft.ai/internal/protocol"
	"tilecraft.ai/internal/sim/multiplayer"
	"tilecraft.ai/internal/sim/terrain"
	"tilecraft.ai/internal/sim/tiles"
	"tilecraft.ai/internal/sim/tuning"
	"tilecraft.ai/internal/sim/world"
)

var t0 = time.Unix(1_700_000_000, 0)

func newEngine(t *testing.T, hub *memhub.Hub, name string) *multiplayer.Engine {
	t.Helper()
	e := multiplayer.New(multiplayer.Config{
		WorldID:   "main",
		SessionID: "sess-" + name,
		UserID:    "user-" + name,
		Username:  name,
		Sync:      tuning.Defaults().Sync,
	}, hub, log.New(io.Discard, "", 0))
	if _, err := e.Join(context.Background()); err != nil {
		t.Fatalf("join %s: %v", name, err)
	}
	t.Cleanup(e.Close)
	return e
}

func state(name string, x float64, at time.Time) protocol.PlayerState {
	return protocol.PlayerState{
		UserID:    "user-" + name,
		Username:  name,
		SessionID: "sess-" + name,
		X:         x,
		Equipment: protocol.EmptyEquipment(),
		SentAtMS:  at.UnixMilli(),
	}
}

func smallWorld(t *testing.T) world.Data {
	t.Helper()
	w, err := world.Generate(terrain.Params{Width: 20, Height: 16, Seed: 3})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	return w.Data()
}

func TestLivenessEviction(t *testing.T) {
	hub := memhub.New()
	a, b := newEngine(t, hub, "a"), newEngine(t, hub, "b")
	ctx := context.Background()

	b.UpdatePosition(state("b", 10, t0), t0)
	b.Drain(ctx)
	a.Apply(t0)
	if got := a.Others(t0.Add(4 * time.Second)); len(got) != 1 || got[0].Username != "b" {
		t.Fatalf("others = %+v", got)
	}
	if got := a.Others(t0.Add(6 * time.Second)); len(got) != 0 {
		t.Fatalf("stale peer still visible: %+v", got)
	}

	// A fresh update brings the peer back.
	now := t0.Add(7 * time.Second)
	b.UpdatePosition(state("b", 20, now), now)
	b.Drain(ctx)
	a.Apply(now)
	if got := a.Others(now); len(got) != 1 || got[0].X != 20 {
		t.Fatalf("peer did not return: %+v", got)
	}
}

func TestLeaveEvictsImmediately(t *testing.T) {
	hub := memhub.New()
	a, b := newEngine(t, hub, "a"), newEngine(t, hub, "b")
	ctx := context.Background()
	b.UpdatePosition(state("b", 10, t0), t0)
	b.Drain(ctx)
	a.Apply(t0)
	b.Leave(state("b", 10, t0.Add(time.Second)))
	b.Drain(ctx)
	a.Apply(t0.Add(time.Second))
	if got := a.Others(t0.Add(time.Second)); len(got) != 0 {
		t.Fatalf("leaving peer visible: %+v", got)
	}
	if r, _ := hub.PullRoster(ctx, "main"); len(r) != 0 {
		t.Fatalf("hub roster kept leaving peer: %+v", r)
	}
}

func TestEchoSuppression(t *testing.T) {
	hub := memhub.New()
	a, b := newEngine(t, hub, "a"), newEngine(t, hub, "b")
	ctx := context.Background()

	a.BroadcastSnapshot(smallWorld(t), t0)
	a.SendBlock(protocol.BlockChange{X: 1, Y: 2, Kind: tiles.Stone, Action: protocol.ActionPlace})
	a.SendChat("hello", t0)
	a.UpdatePosition(state("a", 1, t0), t0)
	a.Drain(ctx)

	if in := a.Apply(t0); !in.Empty() || len(a.Others(t0)) != 0 {
		t.Fatalf("own messages echoed back: %+v", in)
	}
	in := b.Apply(t0)
	if in.Snapshot == nil || len(in.Chat) != 1 || len(b.Others(t0)) != 1 {
		t.Fatalf("peer missed messages: %+v", in)
	}
	if len(in.Blocks) != 1 || in.Blocks[0].Username != "a" {
		t.Fatalf("blocks = %+v", in.Blocks)
	}
	if len(a.Chat()) != 1 || len(b.Chat()) != 1 {
		t.Fatalf("chat history a=%d b=%d", len(a.Chat()), len(b.Chat()))
	}
}

func TestSnapshotSupersedesEarlierBlocks(t *testing.T) {
	hub := memhub.New()
	a, b := newEngine(t, hub, "a"), newEngine(t, hub, "b")
	ctx := context.Background()
	a.SendBlock(protocol.BlockChange{X: 1, Y: 1, Kind: tiles.Dirt, Action: protocol.ActionPlace})
	a.BroadcastSnapshot(smallWorld(t), t0)
	a.SendBlock(protocol.BlockChange{X: 2, Y: 1, Kind: tiles.Dirt, Action: protocol.ActionPlace})
	a.Drain(ctx)
	in := b.Apply(t0)
	if in.Snapshot == nil || len(in.Blocks) != 1 || in.Blocks[0].X != 2 {
		t.Fatalf("inbound = %+v", in)
	}
}

func TestPositionThrottle(t *testing.T) {
	hub := memhub.New()
	a := newEngine(t, hub, "a")
	ch := protocol.WorldChannel("main", protocol.ChanPositions)
	for ms := 0; ms < 200; ms += 10 {
		now := t0.Add(time.Duration(ms) * time.Millisecond)
		a.UpdatePosition(state("a", float64(ms), now), now)
		a.Tick(now)
	}
	a.Tick(t0.Add(time.Second))
	a.Drain(context.Background())
	// Windows at 0, 50, 100, 150 plus the trailing edge.
	if n := hub.Published(ch); n < 4 || n > 5 {
		t.Fatalf("published %d positions in 200ms", n)
	}
}

func TestDebouncedAndImmediatePush(t *testing.T) {
	hub := memhub.New()
	a := newEngine(t, hub, "a")
	ctx := context.Background()
	d := smallWorld(t)

	a.SchedulePush(d, t0)
	a.SchedulePush(d, t0.Add(time.Second))
	a.Tick(t0.Add(2500 * time.Millisecond))
	a.Drain(ctx)
	if hub.Pushes() != 0 {
		t.Fatalf("push fired inside quiet window")
	}
	a.Tick(t0.Add(3 * time.Second))
	a.Drain(ctx)
	if hub.Pushes() != 1 {
		t.Fatalf("pushes=%d want 1", hub.Pushes())
	}

	a.SchedulePush(d, t0.Add(4*time.Second))
	a.PushNow(d)
	a.Tick(t0.Add(time.Minute))
	a.Drain(ctx)
	if hub.Pushes() != 2 || a.PushPending() {
		t.Fatalf("immediate push did not replace pending one: pushes=%d", hub.Pushes())
	}
	got, err := hub.PullWorldSnapshot(ctx, "main")
	if err != nil || got.Width != d.Width {
		t.Fatalf("stored snapshot: %v", err)
	}
}

func TestJoin_PullsStateBeforeSubscribing(t *testing.T) {
	hub := memhub.New()
	ctx := context.Background()
	b := newEngine(t, hub, "b")
	b.UpdatePosition(state("b", 5, time.Now()), time.Now())
	b.PushNow(smallWorld(t))
	b.Drain(ctx)

	a := multiplayer.New(multiplayer.Config{
		WorldID: "main", SessionID: "sess-a", UserID: "user-a", Username: "a",
		Sync: tuning.Defaults().Sync,
	}, hub, log.New(io.Discard, "", 0))
	defer a.Close()
	res, err := a.Join(ctx)
	if err != nil {
		t.Fatalf("join: %v", err)
	}
	if res.Data == nil || len(res.Roster) != 1 {
		t.Fatalf("join result: data=%v roster=%d", res.Data != nil, len(res.Roster))
	}
	if got := a.Others(time.Now()); len(got) != 1 {
		t.Fatalf("roster not seeded: %+v", got)
	}
}

func TestJoin_NotFoundAndFailure(t *testing.T) {
	hub := memhub.New()
	a := multiplayer.New(multiplayer.Config{WorldID: "empty", SessionID: "s", UserID: "u", Sync: tuning.Defaults().Sync}, hub, log.New(io.Discard, "", 0))
	res, err := a.Join(context.Background())
	if err != nil || res.Data != nil {
		t.Fatalf("not-found join: data=%v err=%v", res.Data, err)
	}
	a.Close()

	boom := errors.New("backend down")
	hub.SetFailure(boom)
	b := multiplayer.New(multiplayer.Config{WorldID: "empty", SessionID: "s2", UserID: "u2", Sync: tuning.Defaults().Sync}, hub, log.New(io.Discard, "", 0))
	if _, err := b.Join(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("join error = %v", err)
	}
}

func TestSendFailuresAreCounted(t *testing.T) {
	hub := memhub.New()
	a := newEngine(t, hub, "a")
	hub.SetFailure(errors.New("offline"))
	a.SendBlock(protocol.BlockChange{X: 1, Y: 1, Kind: tiles.Dirt, Action: protocol.ActionBreak})
	a.PushNow(smallWorld(t))
	a.Drain(context.Background())
	if st := a.Stats(); st.SendErrors != 2 {
		t.Fatalf("stats = %+v", st)
	}
}

func TestSystemReset(t *testing.T) {
	hub := memhub.New()
	a := newEngine(t, hub, "a")
	_ = hub.Publish(context.Background(), protocol.SystemChannel, []byte(`{"kind":"reset","version":"2","sent_at_ms":1}`))
	in := a.Apply(t0)
	if !in.Reset || len(in.System) != 1 {
		t.Fatalf("inbound = %+v", in)
	}

	_ = hub.Publish(context.Background(), protocol.SystemChannel, []byte(`{"kind":"reset","world_id":"other","sent_at_ms":2}`))
	if in := a.Apply(t0); in.Reset || len(in.System) != 1 {
		t.Fatalf("reset for another world applied: %+v", in)
	}
	_ = hub.Publish(context.Background(), protocol.SystemChannel, []byte(`{"kind":"reset","world_id":"main","sent_at_ms":3}`))
	if in := a.Apply(t0); !in.Reset {
		t.Fatalf("reset for own world ignored: %+v", in)
	}
}

func TestChatHistoryRing(t *testing.T) {
	hub := memhub.New()
	a := newEngine(t, hub, "a")
	for i := 0; i < 150; i++ {
		a.SendChat("m", t0)
	}
	if n := len(a.Chat()); n != 100 {
		t.Fatalf("history=%d want 100", n)
	}
}

func TestRunDrainsOnShutdown(t *testing.T) {
	hub := memhub.New()
	a := newEngine(t, hub, "a")
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()
	a.SendChat("bye", t0)
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("run = %v", err)
	}
	if n := hub.Published(protocol.WorldChannel("main", protocol.ChanChat)); n != 1 {
		t.Fatalf("chat published %d times", n)
	}
}
