package protocol

import "tilecraft.ai/internal/sim/tiles"

type Equipment struct {
	Hat   tiles.Kind `json:"hat"`
	Shirt tiles.Kind `json:"shirt"`
	Pants tiles.Kind `json:"pants"`
	Shoes tiles.Kind `json:"shoes"`
	Wings tiles.Kind `json:"wings"`
}

// EmptyEquipment has every slot set to tiles.None.
func EmptyEquipment() Equipment {
	return Equipment{Hat: tiles.None, Shirt: tiles.None, Pants: tiles.None, Shoes: tiles.None, Wings: tiles.None}
}

// PlayerState is the broadcast projection of a player, keyed by UserID.
type PlayerState struct {
	UserID    string    `json:"user_id"`
	Username  string    `json:"username"`
	SessionID string    `json:"session_id"`
	X         float64   `json:"x"`
	Y         float64   `json:"y"`
	Equipment Equipment `json:"equipment"`
	SentAtMS  int64     `json:"sent_at_ms"`
	Leaving   bool      `json:"leaving,omitempty"`
}

const (
	ActionBreak = "break"
	ActionPlace = "place"

	ActionDrop   = "drop"
	ActionPickup = "pickup"
)

type BlockChange struct {
	SessionID string     `json:"session_id"`
	Username  string     `json:"username"`
	X         int        `json:"x"`
	Y         int        `json:"y"`
	Kind      tiles.Kind `json:"kind"`
	Action    string     `json:"action"`
	SentAtMS  int64      `json:"sent_at_ms"`
}

type DropEvent struct {
	SessionID string     `json:"session_id"`
	Action    string     `json:"action"`
	ItemID    string     `json:"item_id"`
	X         float64    `json:"x,omitempty"`
	Y         float64    `json:"y,omitempty"`
	Kind      tiles.Kind `json:"kind,omitempty"`
	GemValue  int        `json:"gem_value,omitempty"`
	SentAtMS  int64      `json:"sent_at_ms"`
}

type ChatMessage struct {
	SessionID string `json:"session_id"`
	UserID    string `json:"user_id"`
	Username  string `json:"username"`
	Text      string `json:"text"`
	SentAtMS  int64  `json:"sent_at_ms"`
}

// Snapshot encodings.
const (
	EncodingMsgpackZstd = "msgpack+zstd"
	EncodingJSONZstd    = "json+zstd"
)

// SnapshotMsg carries a full encoded world on the snapshot channel.
type SnapshotMsg struct {
	SenderID string `json:"sender_id"`
	WorldID  string `json:"world_id"`
	Encoding string `json:"encoding"`
	Data     []byte `json:"data"`
	SentAtMS int64  `json:"sent_at_ms"`
}

const (
	SystemNotice = "notice"
	SystemReset  = "reset"
)

// SystemMsg is a global broadcast. A reset with a WorldID applies to that world only.
type SystemMsg struct {
	Kind     string `json:"kind"`
	Text     string `json:"text,omitempty"`
	WorldID  string `json:"world_id,omitempty"`
	Version  string `json:"version,omitempty"`
	SentAtMS int64  `json:"sent_at_ms"`
}
