package game

import (
	"math"
	"time"

	"tilecraft.ai/internal/protocol"
	"tilecraft.ai/internal/sim/items"
	"tilecraft.ai/internal/sim/multiplayer"
	"tilecraft.ai/internal/sim/player"
	"tilecraft.ai/internal/sim/tiles"
	"tilecraft.ai/internal/sim/world"
)

// Step advances the session by one tick: merge peer state, move the player, apply block
// interaction, collect items, then hand outbound state to the engine.
func (s *Session) Step(c Controls, now time.Time) Events {
	var ev Events
	if s.world == nil {
		ev.Rejected = ErrNotStarted
		return ev
	}
	dt := s.tu.TickDuration()
	if !s.lastTick.IsZero() {
		if d := now.Sub(s.lastTick); d > 0 {
			dt = d
		}
	}
	s.lastTick = now

	if s.engine != nil {
		ev.Reset = s.merge(s.engine.Apply(now), now)
	}

	ev.Jumped = s.player.Update(c.Input, s.world, dt)

	if c.Break || c.Place {
		ev.Edit, ev.Rejected = s.interact(c, now)
	}

	ev.Picked = s.items.Collect(s.player.X, s.player.Y, now, s.accept)
	for _, it := range ev.Picked {
		s.sendDrop(protocol.ActionPickup, it, now)
	}

	s.publish(now)
	return ev
}

// merge applies one batch of peer state. It reports whether a system reset happened.
func (s *Session) merge(in multiplayer.Inbound, now time.Time) bool {
	if in.Reset {
		s.reset(now)
		return true
	}
	if in.Snapshot != nil {
		if err := s.world.Replace(*in.Snapshot); err != nil {
			s.logger.Printf("world=%s remote snapshot rejected: %v", s.cfg.WorldID, err)
		}
	}
	for _, b := range in.Blocks {
		s.world.ApplyRemote(b.Username, b.X, b.Y, b.Kind, b.Action == protocol.ActionBreak)
	}
	for _, d := range in.Drops {
		switch d.Action {
		case protocol.ActionDrop:
			s.items.Insert(items.Item{ID: d.ItemID, X: d.X, Y: d.Y, Kind: d.Kind, GemValue: d.GemValue, SpawnedAt: now})
		case protocol.ActionPickup:
			s.items.Remove(d.ItemID)
		}
	}
	return false
}

// reset discards local world state after a system reset and starts over on a fresh world.
func (s *Session) reset(now time.Time) {
	s.logger.Printf("world=%s system reset", s.cfg.WorldID)
	s.engine.Reset()
	s.items.Clear()
	if err := s.generate(); err != nil {
		s.logger.Printf("world=%s regenerate: %v", s.cfg.WorldID, err)
		return
	}
	s.respawn()
	s.dirty = true
}

// interact applies a break or place on the target tile. Break wins when both are held.
func (s *Session) interact(c Controls, now time.Time) (*world.Edit, error) {
	if !s.inReach(c.TargetX, c.TargetY) {
		return nil, &world.Rejection{Code: protocol.ErrInvalidTarget, Message: "target out of reach"}
	}
	if !s.lastHit.IsZero() && now.Sub(s.lastHit) < s.tu.Rules.HitCooldown() {
		return nil, nil
	}
	if c.Break {
		return s.breakTile(c.TargetX, c.TargetY, now)
	}
	return s.placeTile(c.TargetX, c.TargetY, now)
}

func (s *Session) inReach(tx, ty int) bool {
	ts := float64(s.tu.TileSize)
	px, py := s.player.X+ts/2, s.player.Y+ts/2
	cx, cy := (float64(tx)+0.5)*ts, (float64(ty)+0.5)*ts
	return math.Hypot(cx-px, cy-py) <= float64(s.tu.Rules.ReachTiles)*ts
}

func (s *Session) breakTile(tx, ty int, now time.Time) (*world.Edit, error) {
	damage := s.tu.Rules.BaseDamage
	if s.player.HasPickaxe() {
		damage *= s.tu.Rules.PickaxeMultiplier
	}
	e, err := s.world.TryDamage(s.player.Username, tx, ty, damage)
	if err != nil {
		return nil, err
	}
	s.lastHit = now
	if !e.Broken {
		return &e, nil
	}
	for _, it := range s.items.DropsFor(e.From, tx, ty, now) {
		s.sendDrop(protocol.ActionDrop, it, now)
	}
	s.sendBlock(tx, ty, e.From, protocol.ActionBreak, now)
	s.markDirty(e)
	return &e, nil
}

func (s *Session) placeTile(tx, ty int, now time.Time) (*world.Edit, error) {
	stack := s.player.SelectedStack()
	if stack.Empty() {
		return nil, &world.Rejection{Code: protocol.ErrBadRequest, Message: "nothing selected"}
	}
	if !stack.Kind.Placeable() {
		return nil, &world.Rejection{Code: protocol.ErrBadRequest, Message: stack.Kind.String() + " cannot be placed"}
	}
	if player.OccupiesTile(s.tu.TileSize, s.player.X, s.player.Y, tx, ty) {
		return nil, &world.Rejection{Code: protocol.ErrBlocked, Message: "player in the way"}
	}
	e, err := s.world.TryPlace(s.player.Username, tx, ty, stack.Kind)
	if err != nil {
		return nil, err
	}
	s.player.Inventory.TakeAt(s.player.Selected)
	s.lastHit = now
	s.sendBlock(tx, ty, stack.Kind, protocol.ActionPlace, now)
	s.markDirty(e)
	return &e, nil
}

func (s *Session) markDirty(e world.Edit) {
	s.dirty = true
	if e.OwnerChanged {
		s.lockEdit = true
	}
}

// accept is the pickup decision for one item. Gems always fit.
func (s *Session) accept(it items.Item) bool {
	if it.Kind == tiles.Gem {
		s.player.AddGems(it.GemValue)
		return true
	}
	return s.player.Inventory.Add(it.Kind)
}

func (s *Session) sendBlock(x, y int, k tiles.Kind, action string, now time.Time) {
	if s.engine == nil {
		return
	}
	s.engine.SendBlock(protocol.BlockChange{X: x, Y: y, Kind: k, Action: action, SentAtMS: now.UnixMilli()})
}

func (s *Session) sendDrop(action string, it items.Item, now time.Time) {
	if s.engine == nil {
		return
	}
	ev := protocol.DropEvent{Action: action, ItemID: it.ID, SentAtMS: now.UnixMilli()}
	if action == protocol.ActionDrop {
		ev.X, ev.Y, ev.Kind, ev.GemValue = it.X, it.Y, it.Kind, it.GemValue
	}
	s.engine.SendDrop(ev)
}

// publish hands this tick's outbound state to the engine. Lock changes are pushed at once;
// other edits go through the debounced push.
func (s *Session) publish(now time.Time) {
	if s.engine == nil {
		s.dirty, s.lockEdit = false, false
		return
	}
	s.engine.UpdatePosition(s.player.State(s.cfg.SessionID, now), now)
	if s.dirty {
		d := s.world.Data()
		s.engine.BroadcastSnapshot(d, now)
		if s.lockEdit {
			s.engine.PushNow(d)
		} else {
			s.engine.SchedulePush(d, now)
		}
		s.dirty, s.lockEdit = false, false
	}
	s.engine.Tick(now)
}
