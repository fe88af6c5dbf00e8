package terrain

import (
	"fmt"

	"tilecraft.ai/internal/sim/tiles"
)

const (
	MinWidth  = 8
	MinHeight = 12
)

type Params struct {
	Width  int
	Height int
	Seed   int64

	// Surface profile, in tiles. Zero values pick defaults relative to Height,
	// except TreePerMil where zero means no trees.
	BaseLevel  int
	Amplitude  int
	NoiseScale float64
	WaterLevel int
	TreePerMil int
}

// Layout is a generated grid, column-major (Kinds[x][y]), y grows downward.
type Layout struct {
	Kinds  [][]tiles.Kind
	SpawnX int
	SpawnY int
}

func (p Params) withDefaults() Params {
	if p.BaseLevel <= 0 {
		p.BaseLevel = p.Height * 9 / 20
	}
	if p.Amplitude <= 0 {
		p.Amplitude = p.Height / 5
	}
	if p.NoiseScale <= 0 {
		p.NoiseScale = 24
	}
	if p.WaterLevel <= 0 {
		p.WaterLevel = p.Height * 11 / 20
	}
	if p.TreePerMil < 0 {
		p.TreePerMil = 0
	}
	return p
}

// SurfaceAt returns the y of the topmost ground tile in column x.
func (p Params) SurfaceAt(x int) int {
	p = p.withDefaults()
	n := Fractal1(p.Seed, float64(x)/p.NoiseScale, 3)
	y := p.BaseLevel + int((n-0.5)*2*float64(p.Amplitude))
	lo, hi := 4, p.Height-4
	if y < lo {
		y = lo
	}
	if y > hi {
		y = hi
	}
	return y
}

// Generate lays out a fresh world. The result has exactly one spawn door, a solid bedrock
// bottom row and Air above the terrain line (except water pools and trees).
func Generate(p Params) (Layout, error) {
	if p.Width < MinWidth || p.Height < MinHeight {
		return Layout{}, fmt.Errorf("world too small: %dx%d (min %dx%d)", p.Width, p.Height, MinWidth, MinHeight)
	}
	p = p.withDefaults()

	kinds := make([][]tiles.Kind, p.Width)
	surface := make([]int, p.Width)
	for x := 0; x < p.Width; x++ {
		col := make([]tiles.Kind, p.Height)
		surf := p.SurfaceAt(x)
		surface[x] = surf
		for y := 0; y < p.Height; y++ {
			col[y] = groundKind(p, x, y, surf)
		}
		kinds[x] = col
	}

	spawnX := p.Width / 2
	for x := 0; x < p.Width; x++ {
		if x < spawnX-3 || x > spawnX+3 {
			plantTree(p, kinds, x, surface[x])
		}
	}

	// Spawn door sits on its own bedrock platform with headroom above it.
	spawnY := surface[spawnX] - 1
	kinds[spawnX][spawnY+1] = tiles.Bedrock
	kinds[spawnX][spawnY] = tiles.SpawnDoor
	for y := spawnY - 1; y >= 0 && y >= spawnY-2; y-- {
		kinds[spawnX][y] = tiles.Air
	}

	return Layout{Kinds: kinds, SpawnX: spawnX, SpawnY: spawnY}, nil
}

func groundKind(p Params, x, y, surf int) tiles.Kind {
	switch {
	case y == p.Height-1:
		return tiles.Bedrock
	case y < surf:
		if y >= p.WaterLevel {
			return tiles.Water
		}
		return tiles.Air
	case y == surf:
		if surf >= p.WaterLevel-1 {
			return tiles.Sand
		}
		return tiles.Grass
	case y <= surf+3:
		return tiles.Dirt
	default:
		if Hash2(p.Seed+11, x, y)%1000 < 40 {
			return tiles.Dirt
		}
		return tiles.Stone
	}
}

func plantTree(p Params, kinds [][]tiles.Kind, x, surf int) {
	if p.TreePerMil == 0 || surf >= p.WaterLevel-1 {
		return
	}
	if Hash1(p.Seed+23, x)%1000 >= uint64(p.TreePerMil) {
		return
	}
	// Trunk of 3 with a 3x2 canopy; skip when the canopy would leave the grid.
	top := surf - 4
	if top-1 < 0 || x-1 < 0 || x+1 >= len(kinds) {
		return
	}
	for y := surf - 1; y >= surf-3; y-- {
		kinds[x][y] = tiles.Wood
	}
	for dx := -1; dx <= 1; dx++ {
		for y := top - 1; y <= top; y++ {
			if kinds[x+dx][y] == tiles.Air {
				kinds[x+dx][y] = tiles.Leaves
			}
		}
	}
}
