package player

import (
	"math"
	"time"

	"tilecraft.ai/internal/sim/tuning"
)

// Solids is the collision view of a tile grid. Out-of-range cells must report solid.
type Solids interface {
	IsSolid(x, y int) bool
	Width() int
	Height() int
}

// Input is the held state of the movement controls for one tick.
type Input struct {
	Left  bool
	Right bool
	Jump  bool
}

// Body is the physical state of a player. The box is exactly one tile in both axes.
type Body struct {
	X, Y   float64
	VX, VY float64

	OnGround  bool
	JumpCount int
	// DoubleJumpCooldown is the time left before wings may fire again.
	DoubleJumpCooldown time.Duration

	clock    time.Duration
	lastJump time.Duration
	jumped   bool
	jumpHeld bool
}

// edge keeps collision tests from counting a box flush against a tile edge as overlap.
const edge = 1e-6

// Step advances b by dt. wings and boost are the equipment effects active this tick; it
// reports whether a jump impulse fired.
func (b *Body) Step(in Input, solids Solids, p tuning.Physics, tileSize int, wings, boost bool, dt time.Duration) bool {
	ts := float64(tileSize)
	b.clock += dt

	dir := 0.0
	if in.Left {
		dir--
	}
	if in.Right {
		dir++
	}
	speed := p.MoveSpeed
	if boost {
		speed *= p.SpeedBoost
	}
	b.VX = dir * speed

	if b.DoubleJumpCooldown > 0 {
		b.DoubleJumpCooldown -= dt
		if b.DoubleJumpCooldown < 0 {
			b.DoubleJumpCooldown = 0
		}
	}

	pressed := in.Jump && !b.jumpHeld
	b.jumpHeld = in.Jump
	fired := false
	if pressed && (!b.jumped || b.clock-b.lastJump >= p.JumpRetrigger()) {
		switch {
		case b.OnGround:
			b.VY = -p.JumpImpulse
			b.JumpCount = 1
			fired = true
		case wings && b.JumpCount == 1 && b.DoubleJumpCooldown == 0:
			b.VY = -p.JumpImpulse
			b.JumpCount = 2
			b.DoubleJumpCooldown = p.DoubleJumpCooldown()
			fired = true
		}
		if fired {
			b.OnGround = false
			b.jumped = true
			b.lastJump = b.clock
		}
	}

	sec := dt.Seconds()
	b.VY = math.Min(b.VY+p.Gravity*sec, p.TerminalVelocity)

	// Substeps keep every displacement below a tile so the sweep cannot skip a column.
	maxDisp := math.Max(math.Abs(b.VX), math.Abs(b.VY)) * sec
	n := int(math.Ceil(maxDisp / (ts / 2)))
	if n < 1 {
		n = 1
	}
	sub := sec / float64(n)
	landed := false
	for i := 0; i < n; i++ {
		b.moveX(solids, ts, b.VX*sub)
		if b.moveY(solids, ts, b.VY*sub) {
			landed = true
		}
	}

	probe := solids.IsSolid(floorTile(b.X+ts/2, ts), floorTile(b.Y+ts+p.GroundProbePx, ts))
	b.OnGround = b.VY >= 0 && (landed || probe)
	if b.OnGround {
		b.JumpCount = 0
		b.DoubleJumpCooldown = 0
	}
	return fired
}

func (b *Body) moveX(s Solids, ts, dx float64) {
	if dx == 0 {
		return
	}
	nx := b.X + dx
	maxX := float64(s.Width())*ts - ts
	if nx < 0 {
		nx, b.VX = 0, 0
	} else if nx > maxX {
		nx, b.VX = maxX, 0
	}
	if col, hit := b.hitColumn(s, ts, nx, dx > 0); hit {
		if dx > 0 {
			nx = float64(col)*ts - ts
		} else {
			nx = float64(col+1) * ts
		}
		b.VX = 0
	}
	b.X = nx
}

// moveY reports a downward collision.
func (b *Body) moveY(s Solids, ts, dy float64) bool {
	if dy == 0 {
		return false
	}
	ny := b.Y + dy
	maxY := float64(s.Height())*ts - ts
	landed := false
	if ny < 0 {
		ny, b.VY = 0, 0
	} else if ny > maxY {
		ny, b.VY = maxY, 0
		landed = true
	}
	if row, hit := b.hitRow(s, ts, ny, dy > 0); hit {
		if dy > 0 {
			ny = float64(row)*ts - ts
			landed = true
		} else {
			ny = float64(row+1) * ts
		}
		b.VY = 0
	}
	b.Y = ny
	return landed
}

// hitColumn tests the leading column of the box at x. The trailing column was already
// clear before the move, since a substep covers less than a tile.
func (b *Body) hitColumn(s Solids, ts, x float64, right bool) (int, bool) {
	cx := floorTile(x, ts)
	if right {
		cx = floorTile(x+ts-edge, ts)
	}
	for cy := floorTile(b.Y, ts); cy <= floorTile(b.Y+ts-edge, ts); cy++ {
		if s.IsSolid(cx, cy) {
			return cx, true
		}
	}
	return 0, false
}

func (b *Body) hitRow(s Solids, ts, y float64, down bool) (int, bool) {
	cy := floorTile(y, ts)
	if down {
		cy = floorTile(y+ts-edge, ts)
	}
	for cx := floorTile(b.X, ts); cx <= floorTile(b.X+ts-edge, ts); cx++ {
		if s.IsSolid(cx, cy) {
			return cy, true
		}
	}
	return 0, false
}

// Overlaps reports whether the box at (x,y) intersects any solid cell.
func Overlaps(s Solids, tileSize int, x, y float64) bool {
	ts := float64(tileSize)
	for cx := floorTile(x, ts); cx <= floorTile(x+ts-edge, ts); cx++ {
		for cy := floorTile(y, ts); cy <= floorTile(y+ts-edge, ts); cy++ {
			if s.IsSolid(cx, cy) {
				return true
			}
		}
	}
	return false
}

// OccupiesTile reports whether the box at (x,y) covers tile (tx,ty).
func OccupiesTile(tileSize int, x, y float64, tx, ty int) bool {
	ts := float64(tileSize)
	return tx >= floorTile(x, ts) && tx <= floorTile(x+ts-edge, ts) &&
		ty >= floorTile(y, ts) && ty <= floorTile(y+ts-edge, ts)
}

func floorTile(v, ts float64) int { return int(math.Floor(v / ts)) }

// SpawnPosition is the pixel origin of a player standing in the spawn door tile.
func SpawnPosition(tileSize, sx, sy int) (float64, float64) {
	return float64(sx * tileSize), float64(sy * tileSize)
}
