package protocol

import "encoding/json"

// HELLO (client -> relay)
type HelloMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	SessionID       string `json:"session_id"`
	UserID          string `json:"user_id"`
	Username        string `json:"username"`
	MaxQueue        int    `json:"max_queue,omitempty"`
}

// WELCOME (relay -> client)
type WelcomeMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	SessionID       string `json:"session_id"`
	ServerTimeMS    int64  `json:"server_time_ms"`
}

// SUB / UNSUB (client -> relay)
type SubMsg struct {
	Type    string `json:"type"`
	Channel string `json:"channel"`
}

// PUB (client -> relay)
type PubMsg struct {
	Type    string          `json:"type"`
	Channel string          `json:"channel"`
	Payload json.RawMessage `json:"payload"`
}

// MSG (relay -> client): one delivery on a subscribed channel.
type DeliveryMsg struct {
	Type    string          `json:"type"`
	Channel string          `json:"channel"`
	Payload json.RawMessage `json:"payload"`
}

// ERROR (relay -> client)
type ErrorMsg struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message,omitempty"`
	Channel string `json:"channel,omitempty"`
}

// WorldRef is one entry of the relay's world catalog (GET /v1/worlds).
type WorldRef struct {
	WorldID string `json:"world_id"`
	Name    string `json:"name"`
	Seed    int64  `json:"seed"`
	Width   int    `json:"width"`
	Height  int    `json:"height"`
	Default bool   `json:"default,omitempty"`
}
