package main

import (
	"fmt"
	"sort"
	"sync"
)

// UnitView is the read-only client mirror of one unit, reconstructed from
// update records. The raw record is never exposed; mutation happens only
// inside WorldView.ApplyBroadcast.
type UnitView struct {
	rec      Unit
	history  []TileRef // most recent positions, newest last, bounded
	lastMove uint32    // tick of the most recent history append
}

func (v *UnitView) UnitID() uint32         { return v.rec.ID }
func (v *UnitView) Kind() UnitType         { return v.rec.Type }
func (v *UnitView) OwnerID() PlayerSmallID { return v.rec.Owner }
func (v *UnitView) Pos() TileRef           { return v.rec.Tile }
func (v *UnitView) IsActive() bool         { return v.rec.Active }

func (v *UnitView) Health() int32          { return v.rec.Health }
func (v *UnitView) Troops() int32          { return v.rec.Troops }
func (v *UnitView) Level() int32           { return v.rec.Level }
func (v *UnitView) TargetTile() TileRef    { return v.rec.TargetTile }
func (v *UnitView) TargetUnit() uint32     { return v.rec.TargetUnit }

func (v *UnitView) Engagement() EngageState { return v.rec.Engagement() }

// History returns the unit's retained recent positions, oldest first.
func (v *UnitView) History() []TileRef {
	return append([]TileRef(nil), v.history...)
}

// ArrivedAt reports whether the unit reached t on tick now. Once the unit
// sits still the answer goes back to false on the following tick.
func (v *UnitView) ArrivedAt(t TileRef, now uint32) bool {
	n := len(v.history)
	return n >= 2 && v.lastMove == now && v.history[n-1] == t && v.history[n-2] != t
}

// Readiness exposes the launcher's advisory charge fraction; see
// Unit.Readiness for the clamping caveat.
func (v *UnitView) Readiness(stats UnitStats, nowTick uint32) float64 {
	return v.rec.Readiness(stats, nowTick)
}

// PlayerView is the read-only client mirror of one player.
type PlayerView struct {
	rec       PlayerDelta
	pseudonym string // derived display name, computed once at creation
}

func (v *PlayerView) SmallID() PlayerSmallID  { return v.rec.SmallID }
func (v *PlayerView) ClientID() string        { return v.rec.ClientID }
func (v *PlayerView) Name() string            { return v.rec.Name }
func (v *PlayerView) DisplayName() string     { return v.pseudonym }
func (v *PlayerView) Type() PlayerType        { return v.rec.Type }
func (v *PlayerView) Team() int8              { return v.rec.Team }
func (v *PlayerView) Troops() int64           { return v.rec.Troops }
func (v *PlayerView) Gold() int64             { return v.rec.Gold }
func (v *PlayerView) Tiles() int32            { return v.rec.Tiles }
func (v *PlayerView) Allies() []PlayerSmallID { return append([]PlayerSmallID(nil), v.rec.Allies...) }
func (v *PlayerView) Incoming() []uint32      { return append([]uint32(nil), v.rec.Incoming...) }
func (v *PlayerView) Outgoing() []uint32      { return append([]uint32(nil), v.rec.Outgoing...) }

// TheUnclaimed is the singleton identity for unowned territory.
var TheUnclaimed = &PlayerView{
	rec:       PlayerDelta{SmallID: UnclaimedSmallID, Name: "Wilderness"},
	pseudonym: "Wilderness",
}

// WorldView reconstructs a queryable mirror of canonical state purely from
// the ordered delta stream. It never simulates; its only write path is
// ApplyBroadcast, and reads are safe concurrently with each other.
type WorldView struct {
	mu   sync.RWMutex
	grid *Grid
	cfg  Tuning
	tick uint32

	units    map[uint32]*UnitView
	players  map[PlayerSmallID]*PlayerView
	byClient map[string]*PlayerView
	owner    []PlayerSmallID
	index    *UnitIndex
	graves   []uint32 // deactivated in the last applied tick
}

// NewWorldView builds a view from a start-of-match payload, replaying the
// packed turn history so a late joiner converges on current state.
func NewWorldView(start *StartMsg) (*WorldView, error) {
	grid := NewGrid(start.Width, start.Height)
	v := &WorldView{
		grid:     grid,
		cfg:      start.Config,
		tick:     start.FromTurn,
		units:    make(map[uint32]*UnitView),
		players:  make(map[PlayerSmallID]*PlayerView),
		byClient: make(map[string]*PlayerView),
		owner:    make([]PlayerSmallID, grid.Tiles()),
		index:    NewUnitIndex(grid),
	}
	for _, pd := range start.Players {
		v.upsertPlayer(pd)
	}
	history, err := UnpackTurnHistory(start.TurnsPacked)
	if err != nil {
		return nil, fmt.Errorf("unpack history: %w", err)
	}
	for i := range history {
		if err := v.ApplyBroadcast(&history[i]); err != nil {
			return nil, err
		}
	}
	return v, nil
}

// ApplyBroadcast applies one turn's delta. Broadcasts must arrive in
// turn-number order; gaps and reordering are the transport's problem and
// rejected here.
func (v *WorldView) ApplyBroadcast(tb *TurnBroadcast) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	u := &tb.Update
	if u.Tick != v.tick+1 {
		return fmt.Errorf("update out of order: got turn %d, expected %d", u.Tick, v.tick+1)
	}
	if tb.Turn.Hash != nil && *tb.Turn.Hash != u.Hash {
		return fmt.Errorf("turn %d: turn hash %x disagrees with update hash %x", u.Tick, *tb.Turn.Hash, u.Hash)
	}

	// Units deactivated last tick were enumerable for one full tick;
	// drop them now.
	for _, id := range v.graves {
		delete(v.units, id)
	}
	v.graves = v.graves[:0]

	for i := range u.Units {
		v.reconcileUnit(&u.Units[i], u.Tick)
	}
	for _, pd := range u.Players {
		v.upsertPlayer(pd)
	}
	for _, packed := range u.Tiles {
		t, owner := unpackTileChange(packed)
		if v.grid.Contains(t) {
			v.owner[t] = owner
		}
	}

	v.tick = u.Tick
	return nil
}

// reconcileUnit merges one incoming unit record into the mirror. Known ids
// update in place, preserving position history; unknown ids create a new
// mirror object. Inactive records leave the spatial index immediately but
// stay enumerable until the next tick's cleanup.
func (v *WorldView) reconcileUnit(rec *Unit, tick uint32) {
	uv, known := v.units[rec.ID]
	if !known {
		uv = &UnitView{rec: *rec, history: []TileRef{rec.Tile}, lastMove: tick}
		v.units[rec.ID] = uv
		if rec.Active {
			v.index.AddUnit(uv)
		} else {
			v.graves = append(v.graves, rec.ID)
		}
		return
	}

	moved := uv.rec.Tile != rec.Tile
	uv.rec = *rec
	if moved {
		uv.history = append(uv.history, rec.Tile)
		uv.lastMove = tick
		if depth := v.cfg.HistoryDepth; depth > 0 && len(uv.history) > depth {
			uv.history = uv.history[len(uv.history)-depth:]
		}
	}

	if !rec.Active {
		v.index.RemoveUnit(uv)
		v.graves = append(v.graves, rec.ID)
		return
	}
	if moved {
		v.index.UpdateUnitCell(uv)
	}
}

// upsertPlayer merges a player delta, deriving the display pseudonym once
// on first sight of the identity.
func (v *WorldView) upsertPlayer(pd PlayerDelta) {
	if pv, ok := v.players[pd.SmallID]; ok {
		pv.rec = pd
		return
	}
	pv := &PlayerView{rec: pd, pseudonym: pseudonymFor(pd.ClientID)}
	v.players[pd.SmallID] = pv
	v.byClient[pd.ClientID] = pv
}

// Tick returns the last applied turn number.
func (v *WorldView) Tick() uint32 {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.tick
}

// Unit returns the mirror for a unit id. During the tick after
// deactivation the unit is still returned, with IsActive() == false.
func (v *WorldView) Unit(id uint32) (*UnitView, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	uv, ok := v.units[id]
	return uv, ok
}

// Units enumerates all mirrored units in ascending id order, including
// those deactivated on the last applied tick.
func (v *WorldView) Units() []*UnitView {
	v.mu.RLock()
	defer v.mu.RUnlock()
	ids := make([]uint32, 0, len(v.units))
	for id := range v.units {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	out := make([]*UnitView, len(ids))
	for i, id := range ids {
		out[i] = v.units[id]
	}
	return out
}

// ResolvePlayer translates a small-id into its mirror. An unregistered
// small-id is a violated upstream invariant and panics, except the
// unclaimed sentinel, which resolves to its singleton.
func (v *WorldView) ResolvePlayer(id PlayerSmallID) *PlayerView {
	if id == UnclaimedSmallID {
		return TheUnclaimed
	}
	v.mu.RLock()
	defer v.mu.RUnlock()
	pv, ok := v.players[id]
	if !ok {
		panic(fmt.Sprintf("unregistered player small-id %d", id))
	}
	return pv
}

// PlayerByClient looks a player up by stable client id.
func (v *WorldView) PlayerByClient(clientID string) (*PlayerView, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	pv, ok := v.byClient[clientID]
	return pv, ok
}

// OwnerOf returns the small-id owning a tile.
func (v *WorldView) OwnerOf(t TileRef) PlayerSmallID {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if !v.grid.Contains(t) {
		return UnclaimedSmallID
	}
	return v.owner[t]
}

// NearbyUnits runs a read-only range query against the view's index.
func (v *WorldView) NearbyUnits(t TileRef, radius int, types []UnitType, pred func(SpatialUnit) bool) []UnitHit {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.index.NearbyUnits(t, radius, types, pred)
}

// HasUnitNearby runs a read-only first-match query against the view's index.
func (v *WorldView) HasUnitNearby(t TileRef, radius int, typ UnitType, owner PlayerSmallID) bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.index.HasUnitNearby(t, radius, typ, owner)
}

var pseudonymFirst = []string{
	"Iron", "Crimson", "Silent", "Golden", "Northern", "Ashen", "Violet", "Stone",
}
var pseudonymSecond = []string{
	"Falcon", "Bastion", "Tide", "Ridge", "Lance", "Harbor", "Summit", "Verge",
}

// pseudonymFor derives a stable display name from a client id. Same input,
// same name, on every client.
func pseudonymFor(clientID string) string {
	h := splitmix64(seedFromID(clientID))
	first := pseudonymFirst[h%uint64(len(pseudonymFirst))]
	second := pseudonymSecond[(h>>8)%uint64(len(pseudonymSecond))]
	return first + " " + second
}
