package world

import (
	"tilecraft.ai/internal/protocol"
	"tilecraft.ai/internal/sim/tiles"
)

// Rejection is a refused edit. It never implies a state change.
type Rejection struct {
	Code    string
	Message string
}

func (r *Rejection) Error() string { return r.Code + ": " + r.Message }

func reject(code, msg string) *Rejection { return &Rejection{Code: code, Message: msg} }

// Edit describes the outcome of an accepted edit.
type Edit struct {
	X, Y int
	From tiles.Kind
	To   tiles.Kind

	// Broken is set on the damage call that turned the tile into Air.
	Broken bool
	// OwnerChanged is set when the edit acquired or released the world lock.
	OwnerChanged bool
}

// CanEdit reports whether user may edit (x,y) under the advisory world lock.
// Anyone may damage the lock tile itself.
func (w *World) CanEdit(user string, x, y int) bool {
	if w.owner == "" || w.owner == user {
		return true
	}
	return w.Kind(x, y) == tiles.GoldLock
}

// TryDamage applies damage on behalf of user. Damaging an unbreakable tile or Air is
// accepted with no effect (Broken=false).
func (w *World) TryDamage(user string, x, y, amount int) (Edit, error) {
	if !w.InBounds(x, y) {
		return Edit{}, reject(protocol.ErrInvalidTarget, "out of bounds")
	}
	from := w.tiles[x][y].Type
	if !w.CanEdit(user, x, y) {
		return Edit{}, reject(protocol.ErrNoPermission, "world is locked by "+w.owner)
	}
	e := Edit{X: x, Y: y, From: from, To: from}
	if !w.DamageTile(x, y, amount) {
		return e, nil
	}
	e.Broken = true
	e.To = tiles.Air
	if from == tiles.GoldLock && w.owner != "" {
		w.owner = ""
		e.OwnerChanged = true
	}
	return e, nil
}

// TryPlace puts kind at (x,y) on behalf of user. Only Air or Water may be replaced.
// Placing a GoldLock locks the world to user.
func (w *World) TryPlace(user string, x, y int, k tiles.Kind) (Edit, error) {
	if !w.InBounds(x, y) {
		return Edit{}, reject(protocol.ErrInvalidTarget, "out of bounds")
	}
	if !w.CanEdit(user, x, y) {
		return Edit{}, reject(protocol.ErrNoPermission, "world is locked by "+w.owner)
	}
	if !k.Placeable() {
		return Edit{}, reject(protocol.ErrBadRequest, k.String()+" cannot be placed")
	}
	from := w.tiles[x][y].Type
	if from != tiles.Air && from != tiles.Water {
		return Edit{}, reject(protocol.ErrBlocked, "target occupied by "+from.String())
	}
	e := Edit{X: x, Y: y, From: from, To: k}
	if k == tiles.GoldLock {
		if w.owner != "" {
			return Edit{}, reject(protocol.ErrConflict, "world already locked by "+w.owner)
		}
		w.owner = user
		e.OwnerChanged = true
	}
	w.SetTile(x, y, k)
	return e, nil
}

// ApplyRemote merges a peer's block change without lock checks; the peer enforced the
// lock on its side. Lock tiles carry their ownership effect.
func (w *World) ApplyRemote(user string, x, y int, k tiles.Kind, broke bool) {
	if !w.InBounds(x, y) {
		return
	}
	if broke {
		if w.tiles[x][y].Type == tiles.GoldLock {
			w.owner = ""
		}
		w.SetTile(x, y, tiles.Air)
		return
	}
	if !k.IsTile() {
		return
	}
	w.SetTile(x, y, k)
	if k == tiles.GoldLock && user != "" {
		w.owner = user
	}
}
