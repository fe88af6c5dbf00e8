package multiplayer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"tilecraft.ai/internal/persistence/snapshot"
	"tilecraft.ai/internal/protocol"
	"tilecraft.ai/internal/sim/sched"
	"tilecraft.ai/internal/sim/tuning"
	"tilecraft.ai/internal/sim/world"
)

type Config struct {
	WorldID   string
	SessionID string
	UserID    string
	Username  string

	Sync tuning.Sync

	// CallTimeout bounds each bridge call made by Run. Zero means 5s.
	CallTimeout time.Duration
}

type intentKind int

const (
	intentPublish intentKind = iota
	intentSnapshot
	intentPush
)

// intent is one pending network operation. Encoding of world data happens in Run.
type intent struct {
	kind    intentKind
	channel string
	payload []byte
	data    world.Data
}

type inbound struct {
	kind  string
	pos   protocol.PlayerState
	block protocol.BlockChange
	drop  protocol.DropEvent
	chat  protocol.ChatMessage
	sys   protocol.SystemMsg
	snap  *world.Data
}

// Inbound is the remote state merged by one Apply call. A snapshot supersedes block
// changes received before it, so callers apply Snapshot first and then Blocks.
type Inbound struct {
	Snapshot *world.Data
	Blocks   []protocol.BlockChange
	Drops    []protocol.DropEvent
	Chat     []protocol.ChatMessage
	System   []protocol.SystemMsg
	Reset    bool
}

func (in Inbound) Empty() bool {
	return in.Snapshot == nil && len(in.Blocks) == 0 && len(in.Drops) == 0 &&
		len(in.Chat) == 0 && len(in.System) == 0 && !in.Reset
}

type Stats struct {
	OutboxDropped uint64
	InboxDropped  uint64
	SendErrors    uint64
	DecodeErrors  uint64
}

// JoinResult is the state pulled before subscribing. Data is nil when the world has
// never been stored.
type JoinResult struct {
	Data   *world.Data
	Roster []protocol.PlayerState
}

// Engine propagates local state to peers and queues peer state for the simulation.
// All methods except Run and Stats belong to the simulation goroutine.
type Engine struct {
	cfg    Config
	bridge Bridge
	logger *log.Logger

	outbox chan intent
	inbox  chan inbound

	roster   *Roster
	chat     []protocol.ChatMessage
	position *sched.Throttle[protocol.PlayerState]
	snapshot *sched.Throttle[world.Data]
	push     *sched.Debounced[world.Data]

	mu   sync.Mutex
	subs []func()

	outboxDropped atomic.Uint64
	inboxDropped  atomic.Uint64
	sendErrors    atomic.Uint64
	decodeErrors  atomic.Uint64
}

func New(cfg Config, bridge Bridge, logger *log.Logger) *Engine {
	if logger == nil {
		logger = log.New(os.Stdout, "[sync] ", log.LstdFlags|log.Lmicroseconds)
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 5 * time.Second
	}
	return &Engine{
		cfg:      cfg,
		bridge:   bridge,
		logger:   logger,
		outbox:   make(chan intent, cfg.Sync.OutboxSize),
		inbox:    make(chan inbound, cfg.Sync.InboxSize),
		roster:   NewRoster(cfg.UserID, cfg.Sync.LivenessTimeout()),
		position: sched.NewThrottle[protocol.PlayerState](cfg.Sync.PositionInterval()),
		snapshot: sched.NewThrottle[world.Data](cfg.Sync.SnapshotInterval()),
		push:     sched.NewDebounced[world.Data](cfg.Sync.PushDebounce()),
	}
}

func (e *Engine) WorldID() string   { return e.cfg.WorldID }
func (e *Engine) SessionID() string { return e.cfg.SessionID }

func (e *Engine) Stats() Stats {
	return Stats{
		OutboxDropped: e.outboxDropped.Load(),
		InboxDropped:  e.inboxDropped.Load(),
		SendErrors:    e.sendErrors.Load(),
		DecodeErrors:  e.decodeErrors.Load(),
	}
}

// Join pulls the stored world and the roster concurrently, then subscribes to every live
// channel of the world. A failed pull is returned before any subscription is made.
func (e *Engine) Join(ctx context.Context) (JoinResult, error) {
	var res JoinResult
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		d, err := e.bridge.PullWorldSnapshot(gctx, e.cfg.WorldID)
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("pull snapshot: %w", err)
		}
		res.Data = &d
		return nil
	})
	g.Go(func() error {
		r, err := e.bridge.PullRoster(gctx, e.cfg.WorldID)
		if err != nil {
			return fmt.Errorf("pull roster: %w", err)
		}
		res.Roster = r
		return nil
	})
	if err := g.Wait(); err != nil {
		return res, err
	}

	now := time.Now()
	for _, st := range res.Roster {
		seen := now
		if st.SentAtMS > 0 {
			seen = time.UnixMilli(st.SentAtMS)
		}
		e.roster.Upsert(st, seen)
	}

	channels := []string{protocol.SystemChannel}
	for _, k := range protocol.WorldKinds() {
		channels = append(channels, protocol.WorldChannel(e.cfg.WorldID, k))
	}
	for _, ch := range channels {
		_, kind, _ := protocol.ParseChannel(ch)
		unsub, err := e.bridge.Subscribe(ctx, ch, e.handler(kind))
		if err != nil {
			e.Close()
			return res, fmt.Errorf("subscribe %s: %w", ch, err)
		}
		e.mu.Lock()
		e.subs = append(e.subs, unsub)
		e.mu.Unlock()
	}
	return res, nil
}

// Close drops every subscription.
func (e *Engine) Close() {
	e.mu.Lock()
	subs := e.subs
	e.subs = nil
	e.mu.Unlock()
	for _, unsub := range subs {
		unsub()
	}
}

func (e *Engine) handler(kind string) Handler {
	return func(payload []byte) {
		in, ok := e.decode(kind, payload)
		if !ok {
			return
		}
		select {
		case e.inbox <- in:
		default:
			e.inboxDropped.Add(1)
		}
	}
}

// decode runs on transport goroutines. Own messages are dropped here.
func (e *Engine) decode(kind string, payload []byte) (inbound, bool) {
	in := inbound{kind: kind}
	var err error
	self := e.cfg.SessionID
	switch kind {
	case protocol.ChanPositions:
		if err = json.Unmarshal(payload, &in.pos); err == nil && in.pos.SessionID == self {
			return in, false
		}
	case protocol.ChanBlocks:
		if err = json.Unmarshal(payload, &in.block); err == nil && in.block.SessionID == self {
			return in, false
		}
	case protocol.ChanDrops:
		if err = json.Unmarshal(payload, &in.drop); err == nil && in.drop.SessionID == self {
			return in, false
		}
	case protocol.ChanChat:
		if err = json.Unmarshal(payload, &in.chat); err == nil && in.chat.SessionID == self {
			return in, false
		}
	case protocol.KindSystem:
		err = json.Unmarshal(payload, &in.sys)
	case protocol.ChanSnapshots:
		var msg protocol.SnapshotMsg
		if err = json.Unmarshal(payload, &msg); err != nil {
			break
		}
		if msg.SenderID == self || (msg.WorldID != "" && msg.WorldID != e.cfg.WorldID) {
			return in, false
		}
		var d world.Data
		if d, err = snapshot.Decode(msg.Encoding, msg.Data); err == nil {
			in.snap = &d
		}
	default:
		return in, false
	}
	if err != nil {
		e.decodeErrors.Add(1)
		e.logger.Printf("drop %s message: %v", kind, err)
		return in, false
	}
	return in, true
}

// Apply drains queued peer messages without blocking. Positions go straight into the
// roster; everything else is returned for the caller to merge.
func (e *Engine) Apply(now time.Time) Inbound {
	var out Inbound
	for {
		select {
		case in := <-e.inbox:
			switch in.kind {
			case protocol.ChanPositions:
				e.roster.Upsert(in.pos, now)
			case protocol.ChanBlocks:
				out.Blocks = append(out.Blocks, in.block)
			case protocol.ChanDrops:
				out.Drops = append(out.Drops, in.drop)
			case protocol.ChanChat:
				e.remember(in.chat)
				out.Chat = append(out.Chat, in.chat)
			case protocol.ChanSnapshots:
				out.Snapshot = in.snap
				out.Blocks = out.Blocks[:0]
			case protocol.KindSystem:
				out.System = append(out.System, in.sys)
				if in.sys.Kind == protocol.SystemReset && (in.sys.WorldID == "" || in.sys.WorldID == e.cfg.WorldID) {
					out.Reset = true
				}
			}
		default:
			return out
		}
	}
}

// Others returns the live peers.
func (e *Engine) Others(now time.Time) []OtherPlayer { return e.roster.Others(now) }

// Chat returns the recent chat history, oldest first.
func (e *Engine) Chat() []protocol.ChatMessage {
	return append([]protocol.ChatMessage(nil), e.chat...)
}

func (e *Engine) remember(m protocol.ChatMessage) {
	e.chat = append(e.chat, m)
	if n := len(e.chat) - e.cfg.Sync.ChatHistory; n > 0 {
		e.chat = append(e.chat[:0], e.chat[n:]...)
	}
}

// UpdatePosition offers the local projection to the position throttle.
func (e *Engine) UpdatePosition(st protocol.PlayerState, now time.Time) {
	if v, ok := e.position.Offer(st, now); ok {
		e.publishJSON(protocol.ChanPositions, v)
	}
}

// SendBlock broadcasts an applied block change immediately.
func (e *Engine) SendBlock(bc protocol.BlockChange) {
	bc.SessionID = e.cfg.SessionID
	bc.Username = e.cfg.Username
	e.publishJSON(protocol.ChanBlocks, bc)
}

func (e *Engine) SendDrop(ev protocol.DropEvent) {
	ev.SessionID = e.cfg.SessionID
	e.publishJSON(protocol.ChanDrops, ev)
}

// SendChat records the message locally and broadcasts it.
func (e *Engine) SendChat(text string, now time.Time) protocol.ChatMessage {
	m := protocol.ChatMessage{
		SessionID: e.cfg.SessionID,
		UserID:    e.cfg.UserID,
		Username:  e.cfg.Username,
		Text:      text,
		SentAtMS:  now.UnixMilli(),
	}
	e.remember(m)
	e.publishJSON(protocol.ChanChat, m)
	return m
}

// BroadcastSnapshot offers the whole grid to the snapshot throttle.
func (e *Engine) BroadcastSnapshot(d world.Data, now time.Time) {
	if v, ok := e.snapshot.Offer(d, now); ok {
		e.enqueue(intent{kind: intentSnapshot, data: v})
	}
}

// SchedulePush stores d after the debounce window closes.
func (e *Engine) SchedulePush(d world.Data, now time.Time) { e.push.Trigger(d, now) }

// PushNow stores d right away and cancels any debounced push it supersedes.
func (e *Engine) PushNow(d world.Data) {
	e.push.Cancel()
	e.enqueue(intent{kind: intentPush, data: d})
}

func (e *Engine) PushPending() bool { return e.push.Pending() }

// Tick releases throttled and debounced work that came due.
func (e *Engine) Tick(now time.Time) {
	if v, ok := e.position.Due(now); ok {
		e.publishJSON(protocol.ChanPositions, v)
	}
	if v, ok := e.snapshot.Due(now); ok {
		e.enqueue(intent{kind: intentSnapshot, data: v})
	}
	if v, ok := e.push.Due(now); ok {
		e.enqueue(intent{kind: intentPush, data: v})
	}
}

// Leave announces departure and flushes a pending push.
func (e *Engine) Leave(st protocol.PlayerState) {
	st.Leaving = true
	e.publishJSON(protocol.ChanPositions, st)
	if v, ok := e.push.Flush(); ok {
		e.enqueue(intent{kind: intentPush, data: v})
	}
}

// Reset forgets peer and timing state, e.g. after a system reset.
func (e *Engine) Reset() {
	e.roster.Clear()
	e.chat = nil
	e.position.Reset()
	e.snapshot.Reset()
	e.push.Cancel()
}

func (e *Engine) publishJSON(kind string, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		e.logger.Printf("encode %s: %v", kind, err)
		return
	}
	e.enqueue(intent{kind: intentPublish, channel: protocol.WorldChannel(e.cfg.WorldID, kind), payload: b})
}

func (e *Engine) enqueue(it intent) {
	select {
	case e.outbox <- it:
	default:
		e.outboxDropped.Add(1)
	}
}

// Run drains the outbox until ctx is done. Intents still queued at shutdown get one
// last attempt with a fresh deadline.
func (e *Engine) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			dctx, cancel := context.WithTimeout(context.Background(), e.cfg.CallTimeout)
			e.Drain(dctx)
			cancel()
			return ctx.Err()
		case it := <-e.outbox:
			e.perform(ctx, it)
		}
	}
}

// Drain performs every queued intent on the caller's goroutine and returns when the
// outbox is empty.
func (e *Engine) Drain(ctx context.Context) {
	for {
		select {
		case it := <-e.outbox:
			e.perform(ctx, it)
		default:
			return
		}
	}
}

func (e *Engine) perform(ctx context.Context, it intent) {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.CallTimeout)
	defer cancel()
	var err error
	switch it.kind {
	case intentPublish:
		err = e.bridge.Publish(ctx, it.channel, it.payload)
	case intentSnapshot:
		err = e.publishSnapshot(ctx, it.data)
	case intentPush:
		err = e.bridge.PushWorldSnapshot(ctx, e.cfg.WorldID, it.data)
	}
	if err != nil {
		e.sendErrors.Add(1)
		e.logger.Printf("world=%s send failed: %v", e.cfg.WorldID, err)
	}
}

func (e *Engine) publishSnapshot(ctx context.Context, d world.Data) error {
	data, err := snapshot.EncodeWire(d)
	if err != nil {
		return err
	}
	b, err := json.Marshal(protocol.SnapshotMsg{
		SenderID: e.cfg.SessionID,
		WorldID:  e.cfg.WorldID,
		Encoding: protocol.EncodingMsgpackZstd,
		Data:     data,
		SentAtMS: time.Now().UnixMilli(),
	})
	if err != nil {
		return err
	}
	return e.bridge.Publish(ctx, protocol.WorldChannel(e.cfg.WorldID, protocol.ChanSnapshots), b)
}
