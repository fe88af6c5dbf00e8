package world

import (
	"tilecraft.ai/internal/sim/terrain"
	"tilecraft.ai/internal/sim/tiles"
)

type Tile struct {
	Type      tiles.Kind `json:"type" msgpack:"type"`
	Health    int        `json:"health" msgpack:"health"`
	MaxHealth int        `json:"maxHealth" msgpack:"maxHealth"`
	SignText  string     `json:"signText,omitempty" msgpack:"signText,omitempty"`
}

func newTile(k tiles.Kind) Tile {
	return Tile{Type: k, Health: k.MaxHealth(), MaxHealth: k.MaxHealth()}
}

// World is the tile grid of one session. It is not safe for concurrent use; the
// simulation goroutine owns it.
type World struct {
	width  int
	height int
	seed   int64

	tiles [][]Tile // tiles[x][y]

	owner  string
	spawnX int
	spawnY int
	signs  map[string]string
}

// Generate builds a fresh procedurally generated world.
func Generate(p terrain.Params) (*World, error) {
	l, err := terrain.Generate(p)
	if err != nil {
		return nil, err
	}
	w := &World{
		width:  p.Width,
		height: p.Height,
		seed:   p.Seed,
		tiles:  make([][]Tile, p.Width),
		spawnX: l.SpawnX,
		spawnY: l.SpawnY,
		signs:  map[string]string{},
	}
	for x := 0; x < p.Width; x++ {
		col := make([]Tile, p.Height)
		for y := 0; y < p.Height; y++ {
			col[y] = newTile(l.Kinds[x][y])
		}
		w.tiles[x] = col
	}
	return w, nil
}

func (w *World) Width() int  { return w.width }
func (w *World) Height() int { return w.height }
func (w *World) Seed() int64 { return w.seed }

// Spawn returns the spawn door tile coordinates.
func (w *World) Spawn() (int, int) { return w.spawnX, w.spawnY }

func (w *World) InBounds(x, y int) bool {
	return x >= 0 && y >= 0 && x < w.width && y < w.height
}

// Tile returns the tile at (x,y); ok is false out of bounds, which callers must treat as solid.
func (w *World) Tile(x, y int) (Tile, bool) {
	if !w.InBounds(x, y) {
		return Tile{}, false
	}
	return w.tiles[x][y], true
}

// Kind is Tile(x,y).Type with Bedrock for out-of-bounds cells.
func (w *World) Kind(x, y int) tiles.Kind {
	if !w.InBounds(x, y) {
		return tiles.Bedrock
	}
	return w.tiles[x][y].Type
}

// SetTile replaces the tile wholesale at full health. Out-of-range coordinates and
// non-tile kinds are ignored.
func (w *World) SetTile(x, y int, k tiles.Kind) {
	if !w.InBounds(x, y) || !k.IsTile() {
		return
	}
	if w.tiles[x][y].Type == tiles.Sign {
		delete(w.signs, signKey(x, y))
	}
	w.tiles[x][y] = newTile(k)
}

// DamageTile subtracts amount from the tile's health. It returns true only on the call
// that turns the tile into Air.
func (w *World) DamageTile(x, y, amount int) bool {
	if !w.InBounds(x, y) || amount <= 0 {
		return false
	}
	t := &w.tiles[x][y]
	if !t.Type.Breakable() {
		return false
	}
	t.Health -= amount
	if t.Health > 0 {
		return false
	}
	w.SetTile(x, y, tiles.Air)
	return true
}

// IsSolid reports whether (x,y) blocks movement. The world border is solid.
func (w *World) IsSolid(x, y int) bool {
	if !w.InBounds(x, y) {
		return true
	}
	return w.tiles[x][y].Type.Solid()
}

// Owner returns the locking username, or "" when the world is unlocked.
func (w *World) Owner() string { return w.owner }

func (w *World) SetOwner(owner string) { w.owner = owner }

// CountKind returns how many cells hold kind k.
func (w *World) CountKind(k tiles.Kind) int {
	n := 0
	for x := range w.tiles {
		for y := range w.tiles[x] {
			if w.tiles[x][y].Type == k {
				n++
			}
		}
	}
	return n
}
