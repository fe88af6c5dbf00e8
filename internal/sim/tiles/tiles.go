package tiles

import (
	"fmt"
	"math"
	"strings"
)

// Kind enumerates tile and inventory item kinds. Numeric values are part of the
// snapshot wire format and must stay stable.
type Kind int

const (
	Air Kind = iota
	Dirt
	Grass
	Stone
	Wood
	Leaves
	Sand
	Water
	Bedrock
	SpawnDoor
	Sign
	GoldLock
	Glass
	Brick

	Gem
	Pickaxe

	TopHat
	CapHat
	RedShirt
	BluePants
	Sneakers
	Wings

	kindCount
)

// None is the empty equipment slot. It is distinct from Air so that an empty
// slot never aliases a tile kind.
const None Kind = -1

// Unbreakable is the maxHealth sentinel for kinds that cannot be damaged.
const Unbreakable = math.MaxInt32

// Slot names an equipment slot.
type Slot int

const (
	SlotNone Slot = iota
	SlotHat
	SlotShirt
	SlotPants
	SlotShoes
	SlotWings
)

// Category groups kinds for placement and pickup rules.
type Category int

const (
	CategoryTile Category = iota
	CategoryCurrency
	CategoryTool
	CategoryEquipment
)

type Def struct {
	Name      string
	Category  Category
	MaxHealth int
	Solid     bool
	Color     uint32 // 0xRRGGBB
	Slot      Slot
}

var defs = [kindCount]Def{
	Air:       {Name: "AIR", Category: CategoryTile, MaxHealth: 0, Color: 0x87ceeb},
	Dirt:      {Name: "DIRT", Category: CategoryTile, MaxHealth: 2, Solid: true, Color: 0x8b5a2b},
	Grass:     {Name: "GRASS", Category: CategoryTile, MaxHealth: 2, Solid: true, Color: 0x4caf50},
	Stone:     {Name: "STONE", Category: CategoryTile, MaxHealth: 4, Solid: true, Color: 0x808080},
	Wood:      {Name: "WOOD", Category: CategoryTile, MaxHealth: 3, Solid: true, Color: 0xa0522d},
	Leaves:    {Name: "LEAVES", Category: CategoryTile, MaxHealth: 1, Solid: true, Color: 0x2e7d32},
	Sand:      {Name: "SAND", Category: CategoryTile, MaxHealth: 1, Solid: true, Color: 0xe9d66b},
	Water:     {Name: "WATER", Category: CategoryTile, MaxHealth: 1, Color: 0x1e88e5},
	Bedrock:   {Name: "BEDROCK", Category: CategoryTile, MaxHealth: Unbreakable, Solid: true, Color: 0x333333},
	SpawnDoor: {Name: "SPAWN_DOOR", Category: CategoryTile, MaxHealth: Unbreakable, Color: 0x6d4c41},
	Sign:      {Name: "SIGN", Category: CategoryTile, MaxHealth: 2, Color: 0xc8a165},
	GoldLock:  {Name: "GOLD_LOCK", Category: CategoryTile, MaxHealth: 5, Solid: true, Color: 0xffd700},
	Glass:     {Name: "GLASS", Category: CategoryTile, MaxHealth: 1, Solid: true, Color: 0xd0f0ff},
	Brick:     {Name: "BRICK", Category: CategoryTile, MaxHealth: 5, Solid: true, Color: 0xb22222},

	Gem:     {Name: "GEM", Category: CategoryCurrency, Color: 0x00e5ff},
	Pickaxe: {Name: "PICKAXE", Category: CategoryTool, Color: 0x9e9e9e},

	TopHat:    {Name: "TOP_HAT", Category: CategoryEquipment, Slot: SlotHat, Color: 0x212121},
	CapHat:    {Name: "CAP_HAT", Category: CategoryEquipment, Slot: SlotHat, Color: 0x1565c0},
	RedShirt:  {Name: "RED_SHIRT", Category: CategoryEquipment, Slot: SlotShirt, Color: 0xd32f2f},
	BluePants: {Name: "BLUE_PANTS", Category: CategoryEquipment, Slot: SlotPants, Color: 0x283593},
	Sneakers:  {Name: "SNEAKERS", Category: CategoryEquipment, Slot: SlotShoes, Color: 0xfafafa},
	Wings:     {Name: "WINGS", Category: CategoryEquipment, Slot: SlotWings, Color: 0xfff59d},
}

var byName = func() map[string]Kind {
	m := make(map[string]Kind, kindCount)
	for k := Kind(0); k < kindCount; k++ {
		m[defs[k].Name] = k
	}
	return m
}()

// Valid reports whether k is a known kind (None is not a kind).
func (k Kind) Valid() bool { return k >= 0 && k < kindCount }

func (k Kind) Def() Def {
	if !k.Valid() {
		return Def{Name: "NONE", Category: CategoryEquipment}
	}
	return defs[k]
}

func (k Kind) String() string {
	if k == None {
		return "NONE"
	}
	if !k.Valid() {
		return fmt.Sprintf("KIND(%d)", int(k))
	}
	return defs[k].Name
}

func (k Kind) MaxHealth() int { return k.Def().MaxHealth }
func (k Kind) Color() uint32  { return k.Def().Color }
func (k Kind) Slot() Slot     { return k.Def().Slot }

// IsTile reports whether k can occupy a grid cell.
func (k Kind) IsTile() bool { return k.Valid() && defs[k].Category == CategoryTile }

// Solid reports whether a tile of this kind blocks movement.
func (k Kind) Solid() bool { return k.IsTile() && defs[k].Solid }

func (k Kind) Unbreakable() bool { return k.IsTile() && defs[k].MaxHealth == Unbreakable }

// Breakable reports whether damage can ever change a tile of this kind.
func (k Kind) Breakable() bool { return k.IsTile() && k != Air && !k.Unbreakable() }

// Placeable reports whether a player may put this kind into the grid.
func (k Kind) Placeable() bool { return k.Breakable() }

func (k Kind) IsCurrency() bool { return k.Valid() && defs[k].Category == CategoryCurrency }

func (k Kind) IsEquipment() bool { return k.Valid() && defs[k].Category == CategoryEquipment }

// Parse resolves a kind by name (case-insensitive), e.g. "dirt" or "GOLD_LOCK".
func Parse(name string) (Kind, bool) {
	k, ok := byName[strings.ToUpper(strings.TrimSpace(name))]
	return k, ok
}

// All returns every known kind in numeric order.
func All() []Kind {
	out := make([]Kind, 0, kindCount)
	for k := Kind(0); k < kindCount; k++ {
		out = append(out, k)
	}
	return out
}
