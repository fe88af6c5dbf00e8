// Package memhub is an in-process Bridge: a snapshot store, a roster and a synchronous
// pub/sub fan-out. It backs tests and local play without a relay.
package memhub

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"tilecraft.ai/internal/persistence/snapshot"
	"tilecraft.ai/internal/protocol"
	"tilecraft.ai/internal/sim/multiplayer"
	"tilecraft.ai/internal/sim/world"
)

type Hub struct {
	mu        sync.Mutex
	snapshots map[string][]byte
	roster    map[string]map[string]protocol.PlayerState
	subs      map[string]map[int]multiplayer.Handler
	nextSub   int
	fail      error

	pushes    int
	published map[string]int
}

var _ multiplayer.Bridge = (*Hub)(nil)

func New() *Hub {
	return &Hub{
		snapshots: map[string][]byte{},
		roster:    map[string]map[string]protocol.PlayerState{},
		subs:      map[string]map[int]multiplayer.Handler{},
		published: map[string]int{},
	}
}

// SetFailure makes every call return err until cleared with nil.
func (h *Hub) SetFailure(err error) {
	h.mu.Lock()
	h.fail = err
	h.mu.Unlock()
}

// Pushes counts successful snapshot pushes.
func (h *Hub) Pushes() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.pushes
}

// Published counts messages published on a channel.
func (h *Hub) Published(channel string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.published[channel]
}

func (h *Hub) PullWorldSnapshot(ctx context.Context, worldID string) (world.Data, error) {
	h.mu.Lock()
	b, ok := h.snapshots[worldID]
	fail := h.fail
	h.mu.Unlock()
	if fail != nil {
		return world.Data{}, fail
	}
	if !ok {
		return world.Data{}, fmt.Errorf("world %s: %w", worldID, multiplayer.ErrNotFound)
	}
	return snapshot.DecodeJSON(b)
}

func (h *Hub) PushWorldSnapshot(ctx context.Context, worldID string, d world.Data) error {
	b, err := snapshot.EncodeJSON(d)
	if err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.fail != nil {
		return h.fail
	}
	h.snapshots[worldID] = b
	h.pushes++
	return nil
}

func (h *Hub) PullRoster(ctx context.Context, worldID string) ([]protocol.PlayerState, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.fail != nil {
		return nil, h.fail
	}
	out := make([]protocol.PlayerState, 0, len(h.roster[worldID]))
	for _, st := range h.roster[worldID] {
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UserID < out[j].UserID })
	return out, nil
}

// Publish delivers payload to every subscriber of channel on the caller's goroutine.
// Position messages also upsert the roster.
func (h *Hub) Publish(ctx context.Context, channel string, payload []byte) error {
	worldID, kind, ok := protocol.ParseChannel(channel)
	if !ok {
		return fmt.Errorf("bad channel %q", channel)
	}
	h.mu.Lock()
	if h.fail != nil {
		err := h.fail
		h.mu.Unlock()
		return err
	}
	h.published[channel]++
	if kind == protocol.ChanPositions {
		var st protocol.PlayerState
		if err := json.Unmarshal(payload, &st); err == nil && st.UserID != "" {
			h.upsertLocked(worldID, st)
		}
	}
	handlers := make([]multiplayer.Handler, 0, len(h.subs[channel]))
	for _, fn := range h.subs[channel] {
		handlers = append(handlers, fn)
	}
	h.mu.Unlock()

	for _, fn := range handlers {
		fn(append([]byte(nil), payload...))
	}
	return nil
}

func (h *Hub) upsertLocked(worldID string, st protocol.PlayerState) {
	m := h.roster[worldID]
	if m == nil {
		m = map[string]protocol.PlayerState{}
		h.roster[worldID] = m
	}
	if st.Leaving {
		delete(m, st.UserID)
		return
	}
	m[st.UserID] = st
}

func (h *Hub) Subscribe(ctx context.Context, channel string, fn multiplayer.Handler) (func(), error) {
	if _, _, ok := protocol.ParseChannel(channel); !ok {
		return nil, fmt.Errorf("bad channel %q", channel)
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.fail != nil {
		return nil, h.fail
	}
	id := h.nextSub
	h.nextSub++
	if h.subs[channel] == nil {
		h.subs[channel] = map[int]multiplayer.Handler{}
	}
	h.subs[channel][id] = fn
	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs[channel], id)
			h.mu.Unlock()
		})
	}, nil
}
