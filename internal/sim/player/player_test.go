package player

import (
	"errors"
	"testing"
	"time"

	"tilecraft.ai/internal/sim/tiles"
	"tilecraft.ai/internal/sim/tuning"
)

var testNow = time.Unix(1_700_000_000, 0)

func TestInventory_AddStacksThenFillsEmpty(t *testing.T) {
	inv := NewInventory(3, 2, 8)
	for i := 0; i < 3; i++ {
		if !inv.Add(tiles.Dirt) {
			t.Fatalf("add dirt %d failed", i)
		}
	}
	if !inv.Add(tiles.Stone) {
		t.Fatalf("add stone failed")
	}
	s := inv.Slots()
	if s[0] != (Stack{tiles.Dirt, 2}) || s[1] != (Stack{tiles.Dirt, 1}) || s[2] != (Stack{tiles.Stone, 1}) {
		t.Fatalf("slots = %+v", s)
	}
	if !inv.Add(tiles.Dirt) {
		t.Fatalf("dirt should top up slot 1")
	}
	if inv.Add(tiles.Dirt) || inv.Add(tiles.Wood) || inv.CanAdd(tiles.Wood) {
		t.Fatalf("full inventory accepted an item")
	}
	if inv.Add(tiles.Gem) || inv.Add(tiles.Air) {
		t.Fatalf("gems and air never occupy slots")
	}
}

func TestInventory_RemoveFreesSlots(t *testing.T) {
	inv := NewInventory(4, 200, 8)
	inv.AddN(tiles.Wood, 5)
	if inv.Remove(tiles.Wood, 6) {
		t.Fatalf("removed more than held")
	}
	if !inv.Remove(tiles.Wood, 5) || inv.Count(tiles.Wood) != 0 {
		t.Fatalf("remove all failed")
	}
	if !inv.Slot(0).Empty() || inv.Slot(0).Kind != tiles.None {
		t.Fatalf("emptied slot = %+v", inv.Slot(0))
	}
	inv.Add(tiles.Glass)
	if k, ok := inv.TakeAt(0); !ok || k != tiles.Glass {
		t.Fatalf("take = %v %v", k, ok)
	}
	if _, ok := inv.TakeAt(0); ok {
		t.Fatalf("took from empty slot")
	}
}

func TestInventory_GrowCapped(t *testing.T) {
	inv := NewInventory(16, 200, 20)
	if !inv.Grow(8) || inv.Len() != 20 {
		t.Fatalf("len=%d want 20", inv.Len())
	}
	if inv.Grow(8) {
		t.Fatalf("grew beyond cap")
	}
}

func TestGems_Saturate(t *testing.T) {
	p := New("u", "a", tuning.Defaults())
	p.AddGems(999_999_990)
	p.AddGems(50)
	if p.Gems != 999_999_999 {
		t.Fatalf("gems=%d", p.Gems)
	}
	p.AddGems(-5)
	if p.Gems != 999_999_999 {
		t.Fatalf("negative add changed gems")
	}
	if err := p.SpendGems(1_000_000_000); !errors.Is(err, ErrNotEnoughGems) {
		t.Fatalf("overspend: %v", err)
	}
}

func TestEquip_SwapAndUnequip(t *testing.T) {
	p := New("u", "a", tuning.Defaults())
	if err := p.Equip(tiles.TopHat); !errors.Is(err, ErrNotHeld) {
		t.Fatalf("equip missing: %v", err)
	}
	if err := p.Equip(tiles.Dirt); !errors.Is(err, ErrNotEquipment) {
		t.Fatalf("equip dirt: %v", err)
	}
	p.Inventory.Add(tiles.TopHat)
	p.Inventory.Add(tiles.CapHat)
	if err := p.Equip(tiles.TopHat); err != nil {
		t.Fatalf("equip: %v", err)
	}
	if err := p.Equip(tiles.CapHat); err != nil {
		t.Fatalf("swap: %v", err)
	}
	if p.Equipment.Hat != tiles.CapHat || p.Inventory.Count(tiles.TopHat) != 1 || p.Inventory.Count(tiles.CapHat) != 0 {
		t.Fatalf("after swap: hat=%s inv=%+v", p.Equipment.Hat, p.Inventory.Slots())
	}
	if err := p.Unequip(tiles.SlotHat); err != nil {
		t.Fatalf("unequip: %v", err)
	}
	if p.Equipment.Hat != tiles.None {
		t.Fatalf("slot not cleared")
	}
	if err := p.Unequip(tiles.SlotHat); !errors.Is(err, ErrSlotEmpty) {
		t.Fatalf("unequip empty: %v", err)
	}
}

func TestEquip_EffectsFollowSlots(t *testing.T) {
	p := New("u", "a", tuning.Defaults())
	p.Inventory.Add(tiles.Wings)
	p.Inventory.Add(tiles.Sneakers)
	if p.HasWings() || p.HasBoost() {
		t.Fatalf("effects before equipping")
	}
	_ = p.Equip(tiles.Wings)
	_ = p.Equip(tiles.Sneakers)
	if !p.HasWings() || !p.HasBoost() {
		t.Fatalf("effects missing after equipping")
	}
	st := p.State("s1", testNow)
	if st.Equipment.Wings != tiles.Wings || st.Equipment.Hat != tiles.None || st.SessionID != "s1" {
		t.Fatalf("state = %+v", st)
	}
}

func TestUpgradeInventory(t *testing.T) {
	tu := tuning.Defaults()
	p := New("u", "a", tu)
	if err := p.UpgradeInventory(); !errors.Is(err, ErrNotEnoughGems) {
		t.Fatalf("upgrade without gems: %v", err)
	}
	p.AddGems(tu.Inventory.UpgradeCost * 10)
	for i := 0; i < 6; i++ {
		if err := p.UpgradeInventory(); err != nil {
			t.Fatalf("upgrade %d: %v", i, err)
		}
	}
	if p.Inventory.Len() != 64 {
		t.Fatalf("len=%d want 64", p.Inventory.Len())
	}
	if err := p.UpgradeInventory(); !errors.Is(err, ErrMaxCapacity) {
		t.Fatalf("upgrade past cap: %v", err)
	}
	if p.Gems != tu.Inventory.UpgradeCost*4 {
		t.Fatalf("gems=%d", p.Gems)
	}
}

func TestRedeem_OncePerPlayer(t *testing.T) {
	tu := tuning.Defaults()
	tu.Codes = []tuning.Code{{Code: "WELCOME", Kind: "GEM", Count: 250}, {Code: "FLY", Kind: "wings", Count: 1}}
	p := New("u", "a", tu)
	if _, err := p.Redeem("welcome"); err != nil {
		t.Fatalf("redeem: %v", err)
	}
	if p.Gems != 250 {
		t.Fatalf("gems=%d", p.Gems)
	}
	if _, err := p.Redeem("WELCOME "); !errors.Is(err, ErrCodeRedeemed) {
		t.Fatalf("second redeem: %v", err)
	}
	if _, err := p.Redeem("fly"); err != nil || p.Inventory.Count(tiles.Wings) != 1 {
		t.Fatalf("wings code: %v", err)
	}
	if _, err := p.Redeem("nope"); !errors.Is(err, ErrUnknownCode) {
		t.Fatalf("unknown: %v", err)
	}
}

func TestSelect_Wraps(t *testing.T) {
	p := New("u", "a", tuning.Defaults())
	p.Select(-1)
	if p.Selected != 15 {
		t.Fatalf("selected=%d", p.Selected)
	}
	p.Select(17)
	if p.Selected != 1 {
		t.Fatalf("selected=%d", p.Selected)
	}
}
