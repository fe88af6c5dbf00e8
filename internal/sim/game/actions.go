package game

import (
	"strings"
	"time"

	"tilecraft.ai/internal/protocol"
	"tilecraft.ai/internal/sim/player"
	"tilecraft.ai/internal/sim/tiles"
	"tilecraft.ai/internal/sim/tuning"
	"tilecraft.ai/internal/sim/world"
)

const maxChatLen = 200

// Chat sends a chat line to the world. Blank lines are dropped.
func (s *Session) Chat(text string, now time.Time) (protocol.ChatMessage, bool) {
	text = strings.TrimSpace(text)
	if text == "" {
		return protocol.ChatMessage{}, false
	}
	if r := []rune(text); len(r) > maxChatLen {
		text = string(r[:maxChatLen])
	}
	if s.engine == nil {
		return protocol.ChatMessage{Username: s.cfg.Username, Text: text, SentAtMS: now.UnixMilli()}, true
	}
	return s.engine.SendChat(text, now), true
}

// ChatHistory is the recent chat, oldest first.
func (s *Session) ChatHistory() []protocol.ChatMessage {
	if s.engine == nil {
		return nil
	}
	return s.engine.Chat()
}

// SetSign writes the text of a sign tile the player may edit. It travels with the next
// snapshot.
func (s *Session) SetSign(x, y int, text string) error {
	if s.world.Kind(x, y) != tiles.Sign {
		return &world.Rejection{Code: protocol.ErrInvalidTarget, Message: "not a sign"}
	}
	if !s.world.CanEdit(s.player.Username, x, y) {
		return &world.Rejection{Code: protocol.ErrNoPermission, Message: "world is locked by " + s.world.Owner()}
	}
	s.world.SetSignText(x, y, text)
	s.dirty = true
	return nil
}

func (s *Session) Equip(k tiles.Kind) error                { return s.player.Equip(k) }
func (s *Session) Unequip(slot tiles.Slot) error           { return s.player.Unequip(slot) }
func (s *Session) UpgradeInventory() error                 { return s.player.UpgradeInventory() }
func (s *Session) Select(i int)                            { s.player.Select(i) }
func (s *Session) Redeem(code string) (tuning.Code, error) { return s.player.Redeem(code) }

// Respawn puts the player back on the spawn door.
func (s *Session) Respawn() { s.respawn() }

// Inventory returns a copy of the player's slots.
func (s *Session) Inventory() []player.Stack { return s.player.Inventory.Slots() }
