// Package multiworld is the catalog of worlds a relay serves.
package multiworld

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"tilecraft.ai/internal/protocol"
	"tilecraft.ai/internal/sim/terrain"
	"tilecraft.ai/internal/sim/tuning"
)

type Config struct {
	DefaultWorldID string      `yaml:"default_world_id"`
	Worlds         []WorldSpec `yaml:"worlds"`
}

type WorldSpec struct {
	ID     string `yaml:"id"`
	Name   string `yaml:"name"`
	Seed   int64  `yaml:"seed"`
	Width  int    `yaml:"width"`
	Height int    `yaml:"height"`

	// AllowReset lets the admin tool broadcast a reset for this world.
	AllowReset bool `yaml:"allow_reset"`
}

func Load(path string) (Config, error) {
	cfg := defaults()
	if strings.TrimSpace(path) == "" {
		cfg.Normalize()
		return cfg, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	cfg = Config{}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return cfg, fmt.Errorf("worlds.yaml: %w", err)
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("worlds.yaml: %w", err)
	}
	return cfg, nil
}

func defaults() Config {
	w := tuning.Defaults().World
	return Config{
		DefaultWorldID: "main",
		Worlds: []WorldSpec{
			{ID: "main", Name: "Main", Seed: 1, Width: w.Width, Height: w.Height},
		},
	}
}

// Normalize fills sizes and names left out of the file.
func (c *Config) Normalize() {
	if c == nil {
		return
	}
	w := tuning.Defaults().World
	for i := range c.Worlds {
		c.Worlds[i].ID = strings.TrimSpace(c.Worlds[i].ID)
		if c.Worlds[i].Width == 0 {
			c.Worlds[i].Width = w.Width
		}
		if c.Worlds[i].Height == 0 {
			c.Worlds[i].Height = w.Height
		}
		if strings.TrimSpace(c.Worlds[i].Name) == "" {
			c.Worlds[i].Name = c.Worlds[i].ID
		}
	}
	c.DefaultWorldID = strings.TrimSpace(c.DefaultWorldID)
	if c.DefaultWorldID == "" && len(c.Worlds) > 0 {
		c.DefaultWorldID = c.Worlds[0].ID
	}
}

func (c Config) Validate() error {
	if len(c.Worlds) == 0 {
		return fmt.Errorf("worlds must not be empty")
	}
	seen := map[string]bool{}
	for _, w := range c.Worlds {
		if !protocol.ValidWorldID(w.ID) {
			return fmt.Errorf("world id %q must be 1..64 chars of [A-Za-z0-9_-]", w.ID)
		}
		if seen[w.ID] {
			return fmt.Errorf("duplicate world id: %s", w.ID)
		}
		seen[w.ID] = true
		if w.Width < terrain.MinWidth || w.Height < terrain.MinHeight {
			return fmt.Errorf("world %s size %dx%d below minimum %dx%d", w.ID, w.Width, w.Height, terrain.MinWidth, terrain.MinHeight)
		}
	}
	if !seen[c.DefaultWorldID] {
		return fmt.Errorf("default_world_id %q not found in worlds", c.DefaultWorldID)
	}
	return nil
}

// Manifest lists the catalog sorted by world id.
func (c Config) Manifest() []protocol.WorldRef {
	out := make([]protocol.WorldRef, 0, len(c.Worlds))
	for _, w := range c.Worlds {
		out = append(out, protocol.WorldRef{
			WorldID: w.ID,
			Name:    w.Name,
			Seed:    w.Seed,
			Width:   w.Width,
			Height:  w.Height,
			Default: w.ID == c.DefaultWorldID,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].WorldID < out[j].WorldID })
	return out
}

func (c Config) WorldSpecByID(id string) (WorldSpec, bool) {
	for _, w := range c.Worlds {
		if w.ID == id {
			return w, true
		}
	}
	return WorldSpec{}, false
}

// Tuning returns tu with the world section sized for w. Terrain shape settings are kept.
func (w WorldSpec) Tuning(tu tuning.Tuning) tuning.Tuning {
	tu.World.Width = w.Width
	tu.World.Height = w.Height
	return tu
}
