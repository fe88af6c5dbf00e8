package tuning

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"tilecraft.ai/internal/sim/terrain"
)

type Tuning struct {
	ProtocolVersion string `yaml:"protocol_version"`

	TickRateHz int `yaml:"tick_rate_hz"`
	TileSize   int `yaml:"tile_size"`

	Physics   Physics   `yaml:"physics"`
	World     World     `yaml:"world"`
	Items     Items     `yaml:"items"`
	Sync      Sync      `yaml:"sync"`
	Inventory Inventory `yaml:"inventory"`
	Rules     Rules     `yaml:"rules"`

	Codes []Code `yaml:"codes"`
}

// Physics speeds are in pixels per second, gravity in pixels per second squared.
type Physics struct {
	MoveSpeed            float64 `yaml:"move_speed"`
	SpeedBoost           float64 `yaml:"speed_boost"`
	JumpImpulse          float64 `yaml:"jump_impulse"`
	Gravity              float64 `yaml:"gravity"`
	TerminalVelocity     float64 `yaml:"terminal_velocity"`
	JumpRetriggerMs      int     `yaml:"jump_retrigger_ms"`
	DoubleJumpCooldownMs int     `yaml:"double_jump_cooldown_ms"`
	GroundProbePx        float64 `yaml:"ground_probe_px"`
}

type World struct {
	Width      int     `yaml:"width"`
	Height     int     `yaml:"height"`
	BaseLevel  int     `yaml:"base_level"`
	Amplitude  int     `yaml:"amplitude"`
	NoiseScale float64 `yaml:"noise_scale"`
	WaterLevel int     `yaml:"water_level"`
	TreePerMil int     `yaml:"tree_per_mil"`
}

type Items struct {
	PickupDelayMs int `yaml:"pickup_delay_ms"`
	GemDropMin    int `yaml:"gem_drop_min"`
	GemDropMax    int `yaml:"gem_drop_max"`
	GemCap        int `yaml:"gem_cap"`
}

type Sync struct {
	PositionIntervalMs int `yaml:"position_interval_ms"`
	SnapshotIntervalMs int `yaml:"snapshot_interval_ms"`
	PushDebounceMs     int `yaml:"push_debounce_ms"`
	LivenessTimeoutMs  int `yaml:"liveness_timeout_ms"`
	ChatHistory        int `yaml:"chat_history"`
	OutboxSize         int `yaml:"outbox_size"`
	InboxSize          int `yaml:"inbox_size"`
}

type Inventory struct {
	BaseSlots    int `yaml:"base_slots"`
	UpgradeSlots int `yaml:"upgrade_slots"`
	MaxSlots     int `yaml:"max_slots"`
	StackMax     int `yaml:"stack_max"`
	UpgradeCost  int `yaml:"upgrade_cost"`
}

// Rules govern block interaction in a session.
type Rules struct {
	ReachTiles        int `yaml:"reach_tiles"`
	HitCooldownMs     int `yaml:"hit_cooldown_ms"`
	BaseDamage        int `yaml:"base_damage"`
	PickaxeMultiplier int `yaml:"pickaxe_multiplier"`
}

// Code is a redeemable reward. Kind names a tiles.Kind ("GEM" adds to the gem counter).
type Code struct {
	Code  string `yaml:"code"`
	Kind  string `yaml:"kind"`
	Count int    `yaml:"count"`
}

// Defaults returns the built-in tuning used when no file is given.
func Defaults() Tuning {
	return Tuning{
		ProtocolVersion: "1.0",
		TickRateHz:      60,
		TileSize:        32,
		Physics: Physics{
			MoveSpeed:            240,
			SpeedBoost:           1.5,
			JumpImpulse:          560,
			Gravity:              1500,
			TerminalVelocity:     900,
			JumpRetriggerMs:      200,
			DoubleJumpCooldownMs: 1000,
			GroundProbePx:        2,
		},
		World: World{
			Width:      100,
			Height:     60,
			TreePerMil: 60,
		},
		Items: Items{
			PickupDelayMs: 500,
			GemDropMin:    1,
			GemDropMax:    5,
			GemCap:        999_999_999,
		},
		Sync: Sync{
			PositionIntervalMs: 50,
			SnapshotIntervalMs: 500,
			PushDebounceMs:     2000,
			LivenessTimeoutMs:  5000,
			ChatHistory:        100,
			OutboxSize:         256,
			InboxSize:          1024,
		},
		Inventory: Inventory{
			BaseSlots:    16,
			UpgradeSlots: 8,
			MaxSlots:     64,
			StackMax:     200,
			UpgradeCost:  100,
		},
		Rules: Rules{
			ReachTiles:        5,
			HitCooldownMs:     200,
			BaseDamage:        1,
			PickaxeMultiplier: 2,
		},
	}
}

// Load reads a YAML file over Defaults. An empty path returns Defaults.
func Load(path string) (Tuning, error) {
	t := Defaults()
	if strings.TrimSpace(path) == "" {
		return t, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	if err := t.Validate(); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	return t, nil
}

func (t Tuning) Validate() error {
	if t.TickRateHz <= 0 {
		return fmt.Errorf("tick_rate_hz must be > 0")
	}
	if t.TileSize <= 1 {
		return fmt.Errorf("tile_size must be > 1")
	}
	p := t.Physics
	if p.MoveSpeed <= 0 || p.JumpImpulse <= 0 || p.Gravity <= 0 || p.TerminalVelocity <= 0 {
		return fmt.Errorf("physics speeds and gravity must be > 0")
	}
	if p.SpeedBoost < 1 {
		return fmt.Errorf("physics.speed_boost must be >= 1")
	}
	// One tick may not move the body a full tile on either axis.
	perTick := func(v float64) float64 { return v / float64(t.TickRateHz) }
	if perTick(p.MoveSpeed*p.SpeedBoost) >= float64(t.TileSize) {
		return fmt.Errorf("physics: boosted move_speed covers a tile per tick")
	}
	if perTick(p.TerminalVelocity) >= float64(t.TileSize) || perTick(p.JumpImpulse) >= float64(t.TileSize) {
		return fmt.Errorf("physics: vertical speed covers a tile per tick")
	}
	if p.JumpRetriggerMs < 0 || p.DoubleJumpCooldownMs < 0 {
		return fmt.Errorf("physics timers must be >= 0")
	}
	if p.GroundProbePx <= 0 || p.GroundProbePx >= float64(t.TileSize) {
		return fmt.Errorf("physics.ground_probe_px must be in (0, tile_size)")
	}
	if t.World.Width < terrain.MinWidth || t.World.Height < terrain.MinHeight {
		return fmt.Errorf("world must be at least %dx%d, got %dx%d", terrain.MinWidth, terrain.MinHeight, t.World.Width, t.World.Height)
	}
	if t.Items.PickupDelayMs < 0 {
		return fmt.Errorf("items.pickup_delay_ms must be >= 0")
	}
	if t.Items.GemDropMin < 0 || t.Items.GemDropMax < t.Items.GemDropMin {
		return fmt.Errorf("items gem drop range invalid: [%d,%d]", t.Items.GemDropMin, t.Items.GemDropMax)
	}
	if t.Items.GemCap <= 0 {
		return fmt.Errorf("items.gem_cap must be > 0")
	}
	s := t.Sync
	if s.PositionIntervalMs <= 0 || s.SnapshotIntervalMs <= 0 || s.PushDebounceMs <= 0 || s.LivenessTimeoutMs <= 0 {
		return fmt.Errorf("sync intervals must be > 0")
	}
	if s.ChatHistory <= 0 || s.OutboxSize <= 0 || s.InboxSize <= 0 {
		return fmt.Errorf("sync buffer sizes must be > 0")
	}
	inv := t.Inventory
	if inv.BaseSlots <= 0 || inv.StackMax <= 0 || inv.UpgradeSlots < 0 {
		return fmt.Errorf("inventory sizes must be > 0")
	}
	if inv.MaxSlots < inv.BaseSlots {
		return fmt.Errorf("inventory.max_slots %d below base_slots %d", inv.MaxSlots, inv.BaseSlots)
	}
	r := t.Rules
	if r.ReachTiles <= 0 || r.BaseDamage <= 0 || r.PickaxeMultiplier < 1 || r.HitCooldownMs < 0 {
		return fmt.Errorf("rules invalid: %+v", r)
	}
	seen := map[string]bool{}
	for i, c := range t.Codes {
		code := strings.TrimSpace(c.Code)
		if code == "" {
			return fmt.Errorf("codes[%d]: empty code", i)
		}
		if seen[strings.ToUpper(code)] {
			return fmt.Errorf("codes[%d]: duplicate code %q", i, code)
		}
		seen[strings.ToUpper(code)] = true
		if c.Count <= 0 || strings.TrimSpace(c.Kind) == "" {
			return fmt.Errorf("codes[%d]: kind and count required", i)
		}
	}
	return nil
}

func ms(n int) time.Duration { return time.Duration(n) * time.Millisecond }

func (t Tuning) TickDuration() time.Duration { return time.Second / time.Duration(t.TickRateHz) }

func (p Physics) JumpRetrigger() time.Duration      { return ms(p.JumpRetriggerMs) }
func (p Physics) DoubleJumpCooldown() time.Duration { return ms(p.DoubleJumpCooldownMs) }

func (i Items) PickupDelay() time.Duration { return ms(i.PickupDelayMs) }

func (s Sync) PositionInterval() time.Duration { return ms(s.PositionIntervalMs) }
func (s Sync) SnapshotInterval() time.Duration { return ms(s.SnapshotIntervalMs) }
func (s Sync) PushDebounce() time.Duration     { return ms(s.PushDebounceMs) }
func (s Sync) LivenessTimeout() time.Duration  { return ms(s.LivenessTimeoutMs) }

func (r Rules) HitCooldown() time.Duration { return ms(r.HitCooldownMs) }

// Params builds generator input for a world of this shape.
func (w World) Params(seed int64) terrain.Params {
	return terrain.Params{
		Width:      w.Width,
		Height:     w.Height,
		Seed:       seed,
		BaseLevel:  w.BaseLevel,
		Amplitude:  w.Amplitude,
		NoiseScale: w.NoiseScale,
		WaterLevel: w.WaterLevel,
		TreePerMil: w.TreePerMil,
	}
}
