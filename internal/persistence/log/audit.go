package log

import (
	"encoding/json"
	"path/filepath"
	"time"

	"tilecraft.ai/internal/protocol"
)

// BlockEntry is one relayed block change.
type BlockEntry struct {
	TimeMS    int64  `json:"time_ms"`
	WorldID   string `json:"world_id"`
	SessionID string `json:"session_id"`
	Username  string `json:"username"`
	Action    string `json:"action"`
	X         int    `json:"x"`
	Y         int    `json:"y"`
	Kind      string `json:"kind"`
}

// SystemEntry is one admin broadcast.
type SystemEntry struct {
	TimeMS int64  `json:"time_ms"`
	Kind   string `json:"kind"`
	Text   string `json:"text,omitempty"`
}

// AuditLogger records block changes and system broadcasts seen by the relay.
type AuditLogger struct{ w *JSONLZstdWriter }

func NewAuditLogger(dataDir string) *AuditLogger {
	return &AuditLogger{w: NewJSONLZstdWriter(filepath.Join(dataDir, "audit"), "audit")}
}

func (l *AuditLogger) WriteBlock(worldID string, bc protocol.BlockChange, at time.Time) error {
	return l.w.Write(BlockEntry{
		TimeMS:    at.UnixMilli(),
		WorldID:   worldID,
		SessionID: bc.SessionID,
		Username:  bc.Username,
		Action:    bc.Action,
		X:         bc.X,
		Y:         bc.Y,
		Kind:      bc.Kind.String(),
	})
}

func (l *AuditLogger) WriteSystem(m protocol.SystemMsg, at time.Time) error {
	return l.w.Write(SystemEntry{TimeMS: at.UnixMilli(), Kind: m.Kind, Text: m.Text})
}

func (l *AuditLogger) Close() error { return l.w.Close() }

// ReadBlocks returns the block entries of one audit file, optionally filtered by world.
func ReadBlocks(path, worldID string) ([]BlockEntry, error) {
	var out []BlockEntry
	err := ReadLines(path, func(line []byte) error {
		var e BlockEntry
		if err := json.Unmarshal(line, &e); err != nil || e.Action == "" {
			return nil
		}
		if worldID == "" || e.WorldID == worldID {
			out = append(out, e)
		}
		return nil
	})
	return out, err
}
