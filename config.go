package main

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// UnitStats holds the per-type tuning knobs the simulation reads.
type UnitStats struct {
	MaxHealth   int32   `yaml:"maxHealth"`
	Cost        int64   `yaml:"cost"`
	Buildable   bool    `yaml:"buildable"`
	Radius      int     `yaml:"radius"`      // engagement radius, tiles
	Cooldown    uint32  `yaml:"cooldown"`    // ticks after an engagement resolves
	Reload      uint32  `yaml:"reload"`      // per-charge reload window, ticks
	Speed       int     `yaml:"speed"`       // munition flight speed, tiles per tick
	BlastRadius int     `yaml:"blastRadius"` // munition detonation radius, tiles
	HitChance   float64 `yaml:"hitChance"`   // interceptor hit probability vs this munition
}

// Tuning is the match configuration catalog: global pacing constants plus
// one UnitStats block per unit type.
type Tuning struct {
	TickMillis     int   `yaml:"tickMillis"`
	SpawnRadius    int   `yaml:"spawnRadius"`
	ConquestRate   int   `yaml:"conquestRate"` // tiles converted per attack per tick
	TroopGrowth    int64 `yaml:"troopGrowth"`  // troops gained per player per tick
	StartingTroops int64 `yaml:"startingTroops"`
	HistoryDepth   int   `yaml:"historyDepth"` // retained unit positions, client side

	Units map[string]UnitStats `yaml:"units"`
}

// DefaultTuning returns the compiled-in catalog used when no tuning file is
// given. Values are in ticks and tiles.
func DefaultTuning() *Tuning {
	return &Tuning{
		TickMillis:     100,
		SpawnRadius:    4,
		ConquestRate:   6,
		TroopGrowth:    2,
		StartingTroops: 500,
		HistoryDepth:   16,
		Units: map[string]UnitStats{
			UnitCity.String():         {MaxHealth: 200, Cost: 100, Buildable: true},
			UnitDefensePost.String():  {MaxHealth: 150, Cost: 50, Buildable: true, Radius: 6},
			UnitSAMLauncher.String():  {MaxHealth: 100, Cost: 150, Buildable: true, Radius: 12, Cooldown: 30, Reload: 60},
			UnitMissileSilo.String():  {MaxHealth: 100, Cost: 200, Buildable: true, Cooldown: 50},
			UnitWarship.String():      {MaxHealth: 120, Cost: 120, Buildable: true, Speed: 2, Radius: 8},
			UnitAtomBomb.String():     {MaxHealth: 1, Speed: 4, BlastRadius: 6, HitChance: 1.0},
			UnitHydrogenBomb.String(): {MaxHealth: 1, Speed: 3, BlastRadius: 12, HitChance: 0.8},
		},
	}
}

// LoadTuning reads a YAML tuning file layered over the defaults.
func LoadTuning(path string) (*Tuning, error) {
	cfg := DefaultTuning()
	if path == "" {
		return cfg, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read tuning: %w", err)
	}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("parse tuning: %w", err)
	}
	if cfg.TickMillis <= 0 {
		return nil, fmt.Errorf("tuning: tickMillis must be positive")
	}
	return cfg, nil
}

// Stats returns the tuning block for a unit type. Unknown types get the
// zero block rather than a panic; building such a unit fails its cost check.
func (c *Tuning) Stats(t UnitType) UnitStats {
	return c.Units[t.String()]
}
