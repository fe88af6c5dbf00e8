package player

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"tilecraft.ai/internal/protocol"
	"tilecraft.ai/internal/sim/tiles"
	"tilecraft.ai/internal/sim/tuning"
)

var (
	ErrInventoryFull = errors.New("inventory full")
	ErrNotHeld       = errors.New("item not in inventory")
	ErrNotEquipment  = errors.New("item is not equipment")
	ErrSlotEmpty     = errors.New("equipment slot empty")
	ErrNotEnoughGems = errors.New("not enough gems")
	ErrMaxCapacity   = errors.New("inventory at maximum capacity")
	ErrUnknownCode   = errors.New("unknown code")
	ErrCodeRedeemed  = errors.New("code already redeemed")
)

// Player is the locally simulated entity with its belongings.
type Player struct {
	UserID   string
	Username string

	Body
	Inventory *Inventory
	Equipment protocol.Equipment
	Gems      int
	Selected  int

	redeemed map[string]bool

	tu tuning.Tuning
}

func New(userID, username string, tu tuning.Tuning) *Player {
	return &Player{
		UserID:    userID,
		Username:  username,
		Inventory: NewInventory(tu.Inventory.BaseSlots, tu.Inventory.StackMax, tu.Inventory.MaxSlots),
		Equipment: protocol.EmptyEquipment(),
		redeemed:  map[string]bool{},
		tu:        tu,
	}
}

// Place puts the player at a pixel position with zero velocity.
func (p *Player) Place(x, y float64) {
	p.X, p.Y = x, y
	p.VX, p.VY = 0, 0
	p.OnGround = false
	p.JumpCount = 0
}

func (p *Player) HasWings() bool   { return p.Equipment.Wings == tiles.Wings }
func (p *Player) HasBoost() bool   { return p.Equipment.Shoes == tiles.Sneakers }
func (p *Player) HasPickaxe() bool { return p.Inventory.Count(tiles.Pickaxe) > 0 }

// Update runs one physics tick and reports whether a jump fired.
func (p *Player) Update(in Input, solids Solids, dt time.Duration) bool {
	return p.Body.Step(in, solids, p.tu.Physics, p.tu.TileSize, p.HasWings(), p.HasBoost(), dt)
}

// AddGems adds n gems, saturating at the configured cap.
func (p *Player) AddGems(n int) {
	if n <= 0 {
		return
	}
	limit := p.tu.Items.GemCap
	if p.Gems > limit-n {
		p.Gems = limit
		return
	}
	p.Gems += n
}

func (p *Player) SpendGems(n int) error {
	if n < 0 || p.Gems < n {
		return ErrNotEnoughGems
	}
	p.Gems -= n
	return nil
}

func slotOf(e *protocol.Equipment, s tiles.Slot) *tiles.Kind {
	switch s {
	case tiles.SlotHat:
		return &e.Hat
	case tiles.SlotShirt:
		return &e.Shirt
	case tiles.SlotPants:
		return &e.Pants
	case tiles.SlotShoes:
		return &e.Shoes
	case tiles.SlotWings:
		return &e.Wings
	}
	return nil
}

// Equip moves one k from the inventory into its slot. Whatever was worn there goes back
// to the inventory.
func (p *Player) Equip(k tiles.Kind) error {
	slot := slotOf(&p.Equipment, k.Slot())
	if !k.Valid() || k.Def().Category != tiles.CategoryEquipment || slot == nil {
		return ErrNotEquipment
	}
	if !p.Inventory.Remove(k, 1) {
		return ErrNotHeld
	}
	if prev := *slot; prev != tiles.None {
		if !p.Inventory.Add(prev) {
			p.Inventory.Add(k)
			return ErrInventoryFull
		}
	}
	*slot = k
	return nil
}

func (p *Player) Unequip(s tiles.Slot) error {
	slot := slotOf(&p.Equipment, s)
	if slot == nil || *slot == tiles.None {
		return ErrSlotEmpty
	}
	if !p.Inventory.Add(*slot) {
		return ErrInventoryFull
	}
	*slot = tiles.None
	return nil
}

// UpgradeInventory buys one slot increment with gems.
func (p *Player) UpgradeInventory() error {
	inv := p.tu.Inventory
	if p.Inventory.Len() >= inv.MaxSlots {
		return ErrMaxCapacity
	}
	if p.Gems < inv.UpgradeCost {
		return ErrNotEnoughGems
	}
	if !p.Inventory.Grow(inv.UpgradeSlots) {
		return ErrMaxCapacity
	}
	p.Gems -= inv.UpgradeCost
	return nil
}

// Redeem grants a configured code's reward once per player. Codes match case-insensitively.
func (p *Player) Redeem(code string) (tuning.Code, error) {
	key := strings.ToUpper(strings.TrimSpace(code))
	var found *tuning.Code
	for i := range p.tu.Codes {
		if strings.ToUpper(strings.TrimSpace(p.tu.Codes[i].Code)) == key {
			found = &p.tu.Codes[i]
			break
		}
	}
	if found == nil || key == "" {
		return tuning.Code{}, ErrUnknownCode
	}
	if p.redeemed[key] {
		return *found, ErrCodeRedeemed
	}
	k, ok := tiles.Parse(found.Kind)
	if !ok {
		return *found, fmt.Errorf("code %s: unknown kind %q", key, found.Kind)
	}
	if k == tiles.Gem {
		p.AddGems(found.Count)
	} else if p.Inventory.AddN(k, found.Count) == 0 {
		return *found, ErrInventoryFull
	}
	p.redeemed[key] = true
	return *found, nil
}

func (p *Player) Redeemed(code string) bool {
	return p.redeemed[strings.ToUpper(strings.TrimSpace(code))]
}

// Select picks the active hotbar slot, wrapping around the inventory.
func (p *Player) Select(i int) {
	n := p.Inventory.Len()
	p.Selected = ((i % n) + n) % n
}

func (p *Player) SelectedStack() Stack { return p.Inventory.Slot(p.Selected) }

// State is the broadcast projection of the player.
func (p *Player) State(sessionID string, now time.Time) protocol.PlayerState {
	return protocol.PlayerState{
		UserID:    p.UserID,
		Username:  p.Username,
		SessionID: sessionID,
		X:         p.X,
		Y:         p.Y,
		Equipment: p.Equipment,
		SentAtMS:  now.UnixMilli(),
	}
}
