package items

import (
	"math"
	"math/rand"
	"time"

	"github.com/google/uuid"

	"tilecraft.ai/internal/sim/tiles"
	"tilecraft.ai/internal/sim/tuning"
)

// Item is a dropped, collectable entity. Its footprint is one tile at pixel origin (X,Y).
type Item struct {
	ID        string
	X, Y      float64
	Kind      tiles.Kind
	GemValue  int
	SpawnedAt time.Time

	colliding bool
}

// Registry holds the dropped items of one world. It is owned by the simulation goroutine.
type Registry struct {
	items    []*Item
	byID     map[string]*Item
	delay    time.Duration
	tileSize float64
	gemMin   int
	gemMax   int
	rng      *rand.Rand
}

func NewRegistry(tu tuning.Tuning, rng *rand.Rand) *Registry {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Registry{
		byID:     map[string]*Item{},
		delay:    tu.Items.PickupDelay(),
		tileSize: float64(tu.TileSize),
		gemMin:   tu.Items.GemDropMin,
		gemMax:   tu.Items.GemDropMax,
		rng:      rng,
	}
}

func (r *Registry) Len() int { return len(r.items) }

// Items returns copies of the live items in spawn order.
func (r *Registry) Items() []Item {
	out := make([]Item, 0, len(r.items))
	for _, it := range r.items {
		out = append(out, *it)
	}
	return out
}

func (r *Registry) Get(id string) (Item, bool) {
	it, ok := r.byID[id]
	if !ok {
		return Item{}, false
	}
	return *it, true
}

// Spawn adds a new item with a fresh id.
func (r *Registry) Spawn(k tiles.Kind, x, y float64, gemValue int, now time.Time) Item {
	it := &Item{ID: uuid.New().String(), X: x, Y: y, Kind: k, GemValue: gemValue, SpawnedAt: now}
	r.add(it)
	return *it
}

// Insert adds an item announced by a peer. Known ids are ignored.
func (r *Registry) Insert(it Item) bool {
	if it.ID == "" || r.byID[it.ID] != nil || !it.Kind.Valid() {
		return false
	}
	it.colliding = false
	r.add(&it)
	return true
}

func (r *Registry) add(it *Item) {
	r.items = append(r.items, it)
	r.byID[it.ID] = it
}

// DropsFor spawns the drops of a broken tile at the tile's pixel origin: one item of the
// tile's own kind and one gem worth a random value in the configured range.
func (r *Registry) DropsFor(k tiles.Kind, tx, ty int, now time.Time) []Item {
	x, y := float64(tx)*r.tileSize, float64(ty)*r.tileSize
	gems := r.gemMin
	if r.gemMax > r.gemMin {
		gems += r.rng.Intn(r.gemMax - r.gemMin + 1)
	}
	return []Item{
		r.Spawn(k, x, y, 0, now),
		r.Spawn(tiles.Gem, x, y, gems, now),
	}
}

// Remove drops an item by id, e.g. after a peer collected it.
func (r *Registry) Remove(id string) bool {
	if r.byID[id] == nil {
		return false
	}
	delete(r.byID, id)
	for i, it := range r.items {
		if it.ID == id {
			r.items = append(r.items[:i], r.items[i+1:]...)
			break
		}
	}
	return true
}

func (r *Registry) overlaps(it *Item, x, y float64) bool {
	return math.Abs(it.X-x) < r.tileSize && math.Abs(it.Y-y) < r.tileSize
}

// Collect resolves pickups for a collector box at (x,y). An item is offered to accept only
// on the tick its footprint starts overlapping the box, and only once its pickup delay has
// elapsed. Accepted items are removed together after every item was evaluated; refused ones
// stay and need a fresh overlap edge.
func (r *Registry) Collect(x, y float64, now time.Time, accept func(Item) bool) []Item {
	var candidates []*Item
	for _, it := range r.items {
		if now.Sub(it.SpawnedAt) < r.delay {
			continue
		}
		hit := r.overlaps(it, x, y)
		if hit && !it.colliding {
			candidates = append(candidates, it)
		}
		it.colliding = hit
	}
	if len(candidates) == 0 {
		return nil
	}
	picked := make(map[string]bool, len(candidates))
	out := make([]Item, 0, len(candidates))
	for _, it := range candidates {
		if accept(*it) {
			picked[it.ID] = true
			out = append(out, *it)
		}
	}
	if len(picked) == 0 {
		return nil
	}
	kept := r.items[:0]
	for _, it := range r.items {
		if picked[it.ID] {
			delete(r.byID, it.ID)
			continue
		}
		kept = append(kept, it)
	}
	for i := len(kept); i < len(r.items); i++ {
		r.items[i] = nil
	}
	r.items = kept
	return out
}

// Clear removes every item, e.g. on a world reset.
func (r *Registry) Clear() {
	r.items = nil
	r.byID = map[string]*Item{}
}
