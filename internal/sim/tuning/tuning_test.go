package tuning

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoad_TuningYAML(t *testing.T) {
	tu, err := Load("../../../configs/tuning.yaml")
	if err != nil {
		t.Fatalf("load tuning.yaml: %v", err)
	}
	if tu.TileSize != 32 || tu.World.Width != 100 || tu.World.Height != 60 {
		t.Fatalf("unexpected shape: tile=%d world=%dx%d", tu.TileSize, tu.World.Width, tu.World.Height)
	}
	if tu.Sync.PositionInterval() != 50*time.Millisecond || tu.Sync.PushDebounce() != 2*time.Second {
		t.Fatalf("sync intervals: %+v", tu.Sync)
	}
	if tu.Physics.JumpRetrigger() != 200*time.Millisecond || tu.Physics.DoubleJumpCooldown() != time.Second {
		t.Fatalf("jump timers: %+v", tu.Physics)
	}
	if len(tu.Codes) == 0 {
		t.Fatalf("expected redeem codes")
	}
}

func TestLoad_EmptyPathIsDefaults(t *testing.T) {
	tu, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := tu.Validate(); err != nil {
		t.Fatalf("defaults invalid: %v", err)
	}
	if tu.Inventory.BaseSlots != 16 || tu.Inventory.MaxSlots != 64 || tu.Inventory.StackMax != 200 {
		t.Fatalf("inventory defaults: %+v", tu.Inventory)
	}
}

func TestLoad_PartialFileKeepsDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tuning.yaml")
	if err := os.WriteFile(path, []byte("physics:\n  move_speed: 300\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	tu, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if tu.Physics.MoveSpeed != 300 || tu.Physics.Gravity != Defaults().Physics.Gravity {
		t.Fatalf("overlay: %+v", tu.Physics)
	}
}

func TestValidate_RejectsTunnelingSpeeds(t *testing.T) {
	tu := Defaults()
	tu.Physics.TerminalVelocity = float64(tu.TileSize * tu.TickRateHz)
	if err := tu.Validate(); err == nil || !strings.Contains(err.Error(), "vertical") {
		t.Fatalf("expected vertical speed error, got %v", err)
	}
	tu = Defaults()
	tu.Physics.MoveSpeed = float64(tu.TileSize*tu.TickRateHz) / tu.Physics.SpeedBoost
	if err := tu.Validate(); err == nil {
		t.Fatalf("expected move speed error")
	}
}

func TestValidate_DuplicateCodes(t *testing.T) {
	tu := Defaults()
	tu.Codes = []Code{{Code: "A", Kind: "GEM", Count: 1}, {Code: "a", Kind: "GEM", Count: 2}}
	if err := tu.Validate(); err == nil {
		t.Fatalf("expected duplicate code error")
	}
}

func TestWorldParams(t *testing.T) {
	p := Defaults().World.Params(42)
	if p.Width != 100 || p.Height != 60 || p.Seed != 42 || p.TreePerMil != 60 {
		t.Fatalf("params: %+v", p)
	}
}
