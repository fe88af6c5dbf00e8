package world

import (
	"fmt"

	"tilecraft.ai/internal/sim/tiles"
)

// Data is the serialized world snapshot (TileWorldData). The field set is stable:
// persistence, the snapshot channel and the admin tool all exchange this shape.
type Data struct {
	Tiles  [][]Tile          `json:"tiles" msgpack:"tiles"`
	Width  int               `json:"width" msgpack:"width"`
	Height int               `json:"height" msgpack:"height"`
	Seed   int64             `json:"seed" msgpack:"seed"`
	Owner  string            `json:"owner,omitempty" msgpack:"owner,omitempty"`
	SpawnX *int              `json:"spawnX,omitempty" msgpack:"spawnX,omitempty"`
	SpawnY *int              `json:"spawnY,omitempty" msgpack:"spawnY,omitempty"`
	Signs  map[string]string `json:"signs,omitempty" msgpack:"signs,omitempty"`
}

// Data exports a deep copy of the world.
func (w *World) Data() Data {
	cols := make([][]Tile, w.width)
	for x := 0; x < w.width; x++ {
		col := make([]Tile, w.height)
		copy(col, w.tiles[x])
		cols[x] = col
	}
	sx, sy := w.spawnX, w.spawnY
	d := Data{
		Tiles:  cols,
		Width:  w.width,
		Height: w.height,
		Seed:   w.seed,
		Owner:  w.owner,
		SpawnX: &sx,
		SpawnY: &sy,
	}
	if len(w.signs) > 0 {
		d.Signs = make(map[string]string, len(w.signs))
		for k, v := range w.signs {
			d.Signs[k] = v
		}
	}
	return d
}

// Load builds a world from a snapshot.
func Load(d Data) (*World, error) {
	if d.Width <= 0 || d.Height <= 0 {
		return nil, fmt.Errorf("world data: bad dimensions %dx%d", d.Width, d.Height)
	}
	if len(d.Tiles) != d.Width {
		return nil, fmt.Errorf("world data: got %d columns, want %d", len(d.Tiles), d.Width)
	}
	w := &World{
		width:  d.Width,
		height: d.Height,
		seed:   d.Seed,
		tiles:  make([][]Tile, d.Width),
		owner:  d.Owner,
		signs:  map[string]string{},
	}
	for x := 0; x < d.Width; x++ {
		if len(d.Tiles[x]) != d.Height {
			return nil, fmt.Errorf("world data: column %d has %d rows, want %d", x, len(d.Tiles[x]), d.Height)
		}
		col := make([]Tile, d.Height)
		for y, t := range d.Tiles[x] {
			if !t.Type.IsTile() {
				return nil, fmt.Errorf("world data: tile (%d,%d) has non-tile kind %d", x, y, int(t.Type))
			}
			col[y] = normalizeTile(t)
			if col[y].SignText != "" {
				w.signs[signKey(x, y)] = col[y].SignText
			}
		}
		w.tiles[x] = col
	}
	for k, text := range d.Signs {
		x, y, ok := parseSignKey(k)
		if !ok || !w.InBounds(x, y) || w.tiles[x][y].Type != tiles.Sign {
			continue
		}
		text = ClampSignText(text)
		if text == "" {
			continue
		}
		w.tiles[x][y].SignText = text
		w.signs[signKey(x, y)] = text
	}

	if d.SpawnX != nil && d.SpawnY != nil && w.InBounds(*d.SpawnX, *d.SpawnY) {
		w.spawnX, w.spawnY = *d.SpawnX, *d.SpawnY
	} else {
		w.spawnX, w.spawnY = w.findSpawnDoor()
	}
	return w, nil
}

// Replace overwrites the whole world with a snapshot (last writer wins).
// On error the world is left unchanged.
func (w *World) Replace(d Data) error {
	nw, err := Load(d)
	if err != nil {
		return err
	}
	*w = *nw
	return nil
}

func normalizeTile(t Tile) Tile {
	if t.Type == tiles.Air {
		return Tile{Type: tiles.Air}
	}
	if t.MaxHealth <= 0 {
		t.MaxHealth = t.Type.MaxHealth()
	}
	if t.Health < 0 {
		t.Health = 0
	}
	if t.Health > t.MaxHealth {
		t.Health = t.MaxHealth
	}
	if t.Type != tiles.Sign {
		t.SignText = ""
	} else {
		t.SignText = ClampSignText(t.SignText)
	}
	return t
}

func (w *World) findSpawnDoor() (int, int) {
	for x := 0; x < w.width; x++ {
		for y := 0; y < w.height; y++ {
			if w.tiles[x][y].Type == tiles.SpawnDoor {
				return x, y
			}
		}
	}
	return w.width / 2, 0
}
