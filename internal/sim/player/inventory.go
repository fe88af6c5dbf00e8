package player

import "tilecraft.ai/internal/sim/tiles"

// Stack is one inventory slot. An empty slot has Kind tiles.None and Count 0.
type Stack struct {
	Kind  tiles.Kind `json:"kind"`
	Count int        `json:"count"`
}

func (s Stack) Empty() bool { return s.Count <= 0 || s.Kind == tiles.None }

type Inventory struct {
	slots    []Stack
	stackMax int
	maxSlots int
}

func NewInventory(slots, stackMax, maxSlots int) *Inventory {
	inv := &Inventory{stackMax: stackMax, maxSlots: maxSlots}
	inv.slots = make([]Stack, slots)
	for i := range inv.slots {
		inv.slots[i] = Stack{Kind: tiles.None}
	}
	return inv
}

func (inv *Inventory) Len() int { return len(inv.slots) }

// Slots returns a copy of the slot array.
func (inv *Inventory) Slots() []Stack { return append([]Stack(nil), inv.slots...) }

func (inv *Inventory) Slot(i int) Stack {
	if i < 0 || i >= len(inv.slots) {
		return Stack{Kind: tiles.None}
	}
	return inv.slots[i]
}

// Add inserts one unit of k into the first non-full stack of k, else the first empty slot.
func (inv *Inventory) Add(k tiles.Kind) bool {
	if !k.Valid() || k == tiles.Air || k == tiles.Gem {
		return false
	}
	for i := range inv.slots {
		if inv.slots[i].Kind == k && inv.slots[i].Count > 0 && inv.slots[i].Count < inv.stackMax {
			inv.slots[i].Count++
			return true
		}
	}
	for i := range inv.slots {
		if inv.slots[i].Empty() {
			inv.slots[i] = Stack{Kind: k, Count: 1}
			return true
		}
	}
	return false
}

// AddN adds up to n units and returns how many fit.
func (inv *Inventory) AddN(k tiles.Kind, n int) int {
	added := 0
	for added < n && inv.Add(k) {
		added++
	}
	return added
}

// CanAdd reports whether one unit of k would fit.
func (inv *Inventory) CanAdd(k tiles.Kind) bool {
	if !k.Valid() || k == tiles.Air || k == tiles.Gem {
		return false
	}
	for _, s := range inv.slots {
		if s.Empty() || (s.Kind == k && s.Count < inv.stackMax) {
			return true
		}
	}
	return false
}

func (inv *Inventory) Count(k tiles.Kind) int {
	n := 0
	for _, s := range inv.slots {
		if s.Kind == k {
			n += s.Count
		}
	}
	return n
}

// Remove takes n units of k, draining the last stacks first. It fails without effect when
// fewer than n are held.
func (inv *Inventory) Remove(k tiles.Kind, n int) bool {
	if n <= 0 || inv.Count(k) < n {
		return false
	}
	for i := len(inv.slots) - 1; i >= 0 && n > 0; i-- {
		s := &inv.slots[i]
		if s.Kind != k || s.Count == 0 {
			continue
		}
		take := n
		if take > s.Count {
			take = s.Count
		}
		s.Count -= take
		n -= take
		if s.Count == 0 {
			*s = Stack{Kind: tiles.None}
		}
	}
	return true
}

// TakeAt removes one unit from slot i and returns its kind.
func (inv *Inventory) TakeAt(i int) (tiles.Kind, bool) {
	if i < 0 || i >= len(inv.slots) || inv.slots[i].Empty() {
		return tiles.None, false
	}
	k := inv.slots[i].Kind
	inv.slots[i].Count--
	if inv.slots[i].Count == 0 {
		inv.slots[i] = Stack{Kind: tiles.None}
	}
	return k, true
}

// Grow adds n empty slots, capped at the hard maximum. It reports whether any were added.
func (inv *Inventory) Grow(n int) bool {
	room := inv.maxSlots - len(inv.slots)
	if n > room {
		n = room
	}
	if n <= 0 {
		return false
	}
	for i := 0; i < n; i++ {
		inv.slots = append(inv.slots, Stack{Kind: tiles.None})
	}
	return true
}
