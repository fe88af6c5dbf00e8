package multiplayer

import (
	"context"
	"errors"

	"tilecraft.ai/internal/protocol"
	"tilecraft.ai/internal/sim/world"
)

// ErrNotFound is returned by PullWorldSnapshot when the world was never stored.
var ErrNotFound = errors.New("not found")

// Handler receives one raw payload published on a channel. It is called from transport
// goroutines and must not block.
type Handler func(payload []byte)

// Bridge is the persistence and pub/sub backend. Delivery is best effort.
type Bridge interface {
	PullWorldSnapshot(ctx context.Context, worldID string) (world.Data, error)
	PushWorldSnapshot(ctx context.Context, worldID string, d world.Data) error
	PullRoster(ctx context.Context, worldID string) ([]protocol.PlayerState, error)

	Publish(ctx context.Context, channel string, payload []byte) error
	// Subscribe registers h until the returned function is called.
	Subscribe(ctx context.Context, channel string, h Handler) (func(), error)
}
