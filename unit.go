package main

// UnitType is the closed enumeration of unit kinds. Wire values are stable;
// append only.
type UnitType uint8

const (
	UnitCity UnitType = iota
	UnitDefensePost
	UnitSAMLauncher
	UnitMissileSilo
	UnitWarship
	UnitAtomBomb
	UnitHydrogenBomb

	unitTypeCount
)

var unitTypeNames = [unitTypeCount]string{
	"city", "defense_post", "sam_launcher", "missile_silo",
	"warship", "atom_bomb", "hydrogen_bomb",
}

func (t UnitType) String() string {
	if int(t) < len(unitTypeNames) {
		return unitTypeNames[t]
	}
	return "unknown"
}

// UnitTypeByName resolves a wire name to a type. ok is false for names
// outside the closed set.
func UnitTypeByName(name string) (UnitType, bool) {
	for i, n := range unitTypeNames {
		if n == name {
			return UnitType(i), true
		}
	}
	return 0, false
}

// IsMunition reports whether the type is a guided munition in flight.
func (t UnitType) IsMunition() bool {
	return t == UnitAtomBomb || t == UnitHydrogenBomb
}

// IsStructure reports whether the type is a fixed ground structure.
func (t UnitType) IsStructure() bool {
	switch t {
	case UnitCity, UnitDefensePost, UnitSAMLauncher, UnitMissileSilo:
		return true
	}
	return false
}

// EngageState is the discrete interceptor lifecycle. It alone gates target
// acquisition; the continuous readiness fraction is display-only.
type EngageState uint8

const (
	EngageIdle EngageState = iota
	EngageEngaged
	EngageCooldown
)

func (s EngageState) String() string {
	switch s {
	case EngageEngaged:
		return "engaged"
	case EngageCooldown:
		return "cooldown"
	}
	return "idle"
}

// Unit is one unit record, both the canonical server object and the wire
// shape broadcast inside world updates. A deactivated unit is broadcast
// once more with Active=false before it leaves live indices.
type Unit struct {
	ID     uint32        `json:"id" msgpack:"id"`
	Type   UnitType      `json:"type" msgpack:"t"`
	Owner  PlayerSmallID `json:"owner" msgpack:"o"`
	Tile   TileRef       `json:"tile" msgpack:"p"`
	Active bool          `json:"active" msgpack:"a"`

	Health int32 `json:"hp,omitempty" msgpack:"hp,omitempty"`
	Troops int32 `json:"troops,omitempty" msgpack:"tr,omitempty"`
	Level  int32 `json:"level,omitempty" msgpack:"lv,omitempty"`

	// Munition flight plan; both endpoints travel so any participant can
	// recompute the flight path locally.
	LaunchTile TileRef `json:"launch,omitempty" msgpack:"lt,omitempty"`
	TargetTile TileRef `json:"target,omitempty" msgpack:"tt,omitempty"`
	PathIdx    uint16  `json:"pathIdx,omitempty" msgpack:"pi,omitempty"`

	// Interceptor engagement state.
	TargetUnit uint32   `json:"targetUnit,omitempty" msgpack:"tu,omitempty"`
	Cooldown   uint32   `json:"cooldown,omitempty" msgpack:"cd,omitempty"`
	Reloads    []uint32 `json:"reloads,omitempty" msgpack:"rl,omitempty"`

	path []TileRef // lazily computed, never marshaled
}

// UnitID implements SpatialUnit.
func (u *Unit) UnitID() uint32 { return u.ID }

// Kind implements SpatialUnit.
func (u *Unit) Kind() UnitType { return u.Type }

// OwnerID implements SpatialUnit.
func (u *Unit) OwnerID() PlayerSmallID { return u.Owner }

// Pos implements SpatialUnit.
func (u *Unit) Pos() TileRef { return u.Tile }

// IsActive implements SpatialUnit.
func (u *Unit) IsActive() bool { return u.Active }

// Engagement derives the discrete interceptor state.
func (u *Unit) Engagement() EngageState {
	switch {
	case u.TargetUnit != 0:
		return EngageEngaged
	case u.Cooldown > 0:
		return EngageCooldown
	}
	return EngageIdle
}

// FlightPath returns the munition's full tile path, computing it on first
// use from the launch and target tiles.
func (u *Unit) FlightPath(g *Grid) []TileRef {
	if u.path == nil {
		u.path = linePath(g, u.LaunchTile, u.TargetTile)
	}
	return u.path
}

// Readiness estimates how close a multi-charge launcher is to fully armed,
// as a fraction of its Level charges. Reloading charges contribute their
// progress through the reload window. Advisory only: acquisition is gated
// by Engagement(), never by this value, and the result is clamped because
// overlapping reload windows can push the raw sum past 1.
func (u *Unit) Readiness(stats UnitStats, nowTick uint32) float64 {
	charges := int(u.Level)
	if charges < 1 {
		charges = 1
	}
	reloading := 0
	progress := 0.0
	for _, readyAt := range u.Reloads {
		if readyAt <= nowTick {
			continue
		}
		reloading++
		if stats.Reload > 0 {
			progress += 1.0 - float64(readyAt-nowTick)/float64(stats.Reload)
		}
	}
	ready := charges - reloading
	if ready < 0 {
		ready = 0
	}
	frac := (float64(ready) + progress) / float64(charges)
	if frac < 0 {
		return 0
	}
	if frac > 1 {
		return 1
	}
	return frac
}

// pruneReloads drops reload entries that have completed.
func (u *Unit) pruneReloads(nowTick uint32) {
	kept := u.Reloads[:0]
	for _, readyAt := range u.Reloads {
		if readyAt > nowTick {
			kept = append(kept, readyAt)
		}
	}
	u.Reloads = kept
}
