package player

import (
	"math"
	"math/rand"
	"testing"
	"time"

	"tilecraft.ai/internal/sim/terrain"
	"tilecraft.ai/internal/sim/tiles"
	"tilecraft.ai/internal/sim/tuning"
	"tilecraft.ai/internal/sim/world"
)

const tick = time.Second / 60

type grid struct {
	w, h  int
	solid map[[2]int]bool
}

// floorGrid is open space above a solid bottom row.
func floorGrid(w, h int) *grid {
	g := &grid{w: w, h: h, solid: map[[2]int]bool{}}
	for x := 0; x < w; x++ {
		g.solid[[2]int{x, h - 1}] = true
	}
	return g
}

func (g *grid) IsSolid(x, y int) bool {
	if x < 0 || y < 0 || x >= g.w || y >= g.h {
		return true
	}
	return g.solid[[2]int{x, y}]
}
func (g *grid) Width() int  { return g.w }
func (g *grid) Height() int { return g.h }

func newTestPlayer(t *testing.T) *Player {
	t.Helper()
	return New("u1", "alice", tuning.Defaults())
}

func settle(p *Player, g Solids) {
	for i := 0; i < 120; i++ {
		p.Update(Input{}, g, tick)
	}
}

func TestStep_RestsWithoutJitter(t *testing.T) {
	g := floorGrid(10, 10)
	p := newTestPlayer(t)
	p.Place(64, 0)
	settle(p, g)
	if !p.OnGround || p.Y != 8*32 || p.VY != 0 {
		t.Fatalf("not at rest: y=%v vy=%v onGround=%v", p.Y, p.VY, p.OnGround)
	}
	for i := 0; i < 60; i++ {
		p.Update(Input{}, g, tick)
		if p.Y != 8*32 || !p.OnGround {
			t.Fatalf("jitter at tick %d: y=%v onGround=%v", i, p.Y, p.OnGround)
		}
	}
}

func TestStep_CollisionContainment(t *testing.T) {
	w, err := world.Generate(terrain.Params{Width: 40, Height: 30, Seed: 1234, TreePerMil: 120})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	tu := tuning.Defaults()
	for _, wings := range []bool{false, true} {
		p := New("u1", "alice", tu)
		if wings {
			p.Equipment.Wings = tiles.Wings
			p.Equipment.Shoes = tiles.Sneakers
		}
		sx, sy := w.Spawn()
		p.Place(SpawnPosition(tu.TileSize, sx, sy))
		if Overlaps(w, tu.TileSize, p.X, p.Y) {
			t.Fatalf("spawn position overlaps solid")
		}
		rng := rand.New(rand.NewSource(7))
		in := Input{}
		maxX := float64(w.Width()*tu.TileSize - tu.TileSize)
		for i := 0; i < 5000; i++ {
			if rng.Intn(8) == 0 {
				in = Input{Left: rng.Intn(2) == 0, Right: rng.Intn(2) == 0, Jump: rng.Intn(2) == 0}
			}
			dt := tick
			if rng.Intn(50) == 0 {
				dt = 5 * tick // frame hitch
			}
			p.Update(in, w, dt)
			if Overlaps(w, tu.TileSize, p.X, p.Y) {
				t.Fatalf("tick %d: box at (%v,%v) overlaps solid", i, p.X, p.Y)
			}
			if p.X < 0 || p.X > maxX {
				t.Fatalf("tick %d: x=%v outside [0,%v]", i, p.X, maxX)
			}
		}
	}
}

func TestJump_HoldFiresOnce(t *testing.T) {
	g := floorGrid(10, 12)
	p := newTestPlayer(t)
	p.Place(64, 0)
	settle(p, g)
	fired := 0
	for i := 0; i < 240; i++ {
		if p.Update(Input{Jump: true}, g, tick) {
			fired++
		}
	}
	if fired != 1 {
		t.Fatalf("holding jump fired %d impulses, want 1", fired)
	}
}

func TestJump_RetriggerInterval(t *testing.T) {
	g := floorGrid(10, 12)
	p := newTestPlayer(t)
	p.Place(64, 0)
	settle(p, g)
	// Tap every other tick; impulses are bounded by the retrigger interval.
	fired := 0
	const n = 600
	for i := 0; i < n; i++ {
		if p.Update(Input{Jump: i%2 == 0}, g, tick) {
			fired++
		}
	}
	limit := int(time.Duration(n) * tick / tuning.Defaults().Physics.JumpRetrigger())
	if fired == 0 || fired > limit {
		t.Fatalf("fired %d, want 1..%d", fired, limit)
	}
}

func TestJump_NoAirJumpWithoutWings(t *testing.T) {
	g := floorGrid(10, 20)
	p := newTestPlayer(t)
	p.Place(64, 0)
	settle(p, g)
	inAir := 0
	for i := 0; i < 600; i++ {
		wasGround := p.OnGround
		if p.Update(Input{Jump: i%2 == 0}, g, tick) {
			if !wasGround {
				t.Fatalf("tick %d: air jump fired without wings", i)
			}
			inAir++
		}
	}
	if inAir == 0 {
		t.Fatalf("expected ground jumps")
	}
}

func TestJump_WingsDoubleJump(t *testing.T) {
	g := floorGrid(10, 40)
	p := newTestPlayer(t)
	p.Equipment.Wings = tiles.Wings
	p.Place(64, 0)
	settle(p, g)

	if !p.Update(Input{Jump: true}, g, tick) || p.JumpCount != 1 {
		t.Fatalf("ground jump did not fire: count=%d", p.JumpCount)
	}
	for i := 0; i < 15; i++ {
		p.Update(Input{}, g, tick)
	}
	if p.OnGround {
		t.Fatalf("expected airborne")
	}
	if !p.Update(Input{Jump: true}, g, tick) {
		t.Fatalf("wings jump did not fire")
	}
	if p.JumpCount != 2 || p.DoubleJumpCooldown <= 0 {
		t.Fatalf("after double jump: count=%d cooldown=%v", p.JumpCount, p.DoubleJumpCooldown)
	}
	for i := 0; i < 20; i++ {
		p.Update(Input{}, g, tick)
		if p.OnGround {
			break
		}
		if p.Update(Input{Jump: true}, g, tick) {
			t.Fatalf("third impulse before ground contact")
		}
	}

	settle(p, g)
	if p.JumpCount != 0 || p.DoubleJumpCooldown != 0 {
		t.Fatalf("ground contact did not reset: count=%d cooldown=%v", p.JumpCount, p.DoubleJumpCooldown)
	}
}

func TestWalk_SpeedBoost(t *testing.T) {
	g := floorGrid(40, 10)
	dist := func(boost bool) float64 {
		p := newTestPlayer(t)
		if boost {
			p.Equipment.Shoes = tiles.Sneakers
		}
		p.Place(32, 0)
		settle(p, g)
		x0 := p.X
		for i := 0; i < 30; i++ {
			p.Update(Input{Right: true}, g, tick)
		}
		return p.X - x0
	}
	plain, fast := dist(false), dist(true)
	if plain <= 0 || math.Abs(fast/plain-1.5) > 1e-6 {
		t.Fatalf("boost ratio = %v (plain %v, fast %v)", fast/plain, plain, fast)
	}
}

func TestWalk_StopsAtWallFlush(t *testing.T) {
	g := floorGrid(10, 10)
	g.solid[[2]int{5, 8}] = true
	p := newTestPlayer(t)
	p.Place(32, 8*32)
	for i := 0; i < 120; i++ {
		p.Update(Input{Right: true}, g, tick)
	}
	if p.X != 4*32 {
		t.Fatalf("x=%v want flush at %v", p.X, 4*32)
	}
}

func TestGroundProbe_WalkOffLedge(t *testing.T) {
	g := &grid{w: 12, h: 12, solid: map[[2]int]bool{}}
	for x := 0; x < 4; x++ {
		g.solid[[2]int{x, 5}] = true
	}
	for x := 0; x < 12; x++ {
		g.solid[[2]int{x, 11}] = true
	}
	p := newTestPlayer(t)
	p.Place(32, 4*32)
	settle(p, g)
	if !p.OnGround {
		t.Fatalf("expected ground on ledge")
	}
	for i := 0; i < 120; i++ {
		p.Update(Input{Right: true}, g, tick)
	}
	if p.Y <= 4*32 {
		t.Fatalf("player did not fall off the ledge: y=%v", p.Y)
	}
	settle(p, g)
	if !p.OnGround || p.Y != 10*32 {
		t.Fatalf("did not land below: y=%v", p.Y)
	}
}

func TestOccupiesTile(t *testing.T) {
	if !OccupiesTile(32, 40, 0, 1, 0) || !OccupiesTile(32, 40, 0, 2, 0) {
		t.Fatalf("box straddling two columns must occupy both")
	}
	if OccupiesTile(32, 32, 0, 2, 0) || OccupiesTile(32, 32, 0, 0, 0) {
		t.Fatalf("aligned box occupies only its own tile")
	}
}
