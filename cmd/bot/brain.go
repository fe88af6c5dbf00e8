package main

import (
	"math/rand"

	"tilecraft.ai/internal/sim/game"
	"tilecraft.ai/internal/sim/tiles"
)

// view is what the bot reads from the session between thinks.
type view struct {
	TileX, TileY int
	OnGround     bool
	Selected     tiles.Kind
	Held         int

	// Solid reports whether a tile blocks movement; out of bounds is solid.
	Solid func(x, y int) bool
}

// brain wanders, digs the ground ahead and builds with what it collected.
type brain struct {
	rng *rand.Rand
	dir int

	// turnOdds is the 1-in-n chance of turning around on a think; 0 never turns at random.
	turnOdds int

	lastX int
	stuck int
	think int
}

func newBrain(rng *rand.Rand) *brain {
	dir := 1
	if rng.Intn(2) == 0 {
		dir = -1
	}
	return &brain{rng: rng, dir: dir, turnOdds: 40, lastX: -1}
}

func (b *brain) decide(v view) game.Controls {
	b.think++
	if v.TileX == b.lastX {
		b.stuck++
	} else {
		b.stuck = 0
	}
	b.lastX = v.TileX

	if b.stuck >= 6 || (b.turnOdds > 0 && b.rng.Intn(b.turnOdds) == 0) {
		b.dir = -b.dir
		b.stuck = 0
	}

	var c game.Controls
	c.Input.Left = b.dir < 0
	c.Input.Right = b.dir > 0

	ahead := v.TileX + b.dir
	if v.OnGround && v.Solid(ahead, v.TileY) {
		c.Input.Jump = true
	}

	switch {
	case b.think%8 == 0 && v.Solid(ahead, v.TileY+1):
		c.Break = true
		c.TargetX, c.TargetY = ahead, v.TileY+1
	case b.think%13 == 0 && v.Held > 0 && v.Selected.Placeable() && !v.Solid(v.TileX-b.dir, v.TileY):
		c.Place = true
		c.TargetX, c.TargetY = v.TileX-b.dir, v.TileY
	}
	return c
}
