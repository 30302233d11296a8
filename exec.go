package main

import (
	"fmt"
	"log"
	"sort"
)

// tickDelta accumulates everything a tick touches. It is rebuilt each tick
// and drained into the broadcast update.
type tickDelta struct {
	units   map[uint32]bool
	players map[PlayerSmallID]bool
	tiles   []uint64
}

func newTickDelta() *tickDelta {
	return &tickDelta{
		units:   make(map[uint32]bool),
		players: make(map[PlayerSmallID]bool),
	}
}

func (g *Game) touchUnit(id uint32)          { g.cur.units[id] = true }
func (g *Game) touchPlayer(id PlayerSmallID) { g.cur.players[id] = true }

// executeTurn applies one turn to canonical state and produces its delta.
// Caller holds mu. Given the same starting state and the same turn
// sequence, the result is bit-identical on any host: intents apply in turn
// order, systems iterate in sorted-id order, and the hash is computed over
// canonically ordered state after everything has settled.
func (g *Game) executeTurn(turn Turn) WorldUpdate {
	g.tick = turn.Number
	g.cur = newTickDelta()

	// Units deactivated last tick had their one tick of visibility;
	// drop them from the live map now.
	for _, id := range g.graves {
		delete(g.units, id)
	}
	g.graves = g.graves[:0]

	// Intents apply in the order they appear in the turn. A semantic
	// failure voids that intent only, never the tick.
	for _, in := range turn.Intents {
		if err := g.applyIntent(in); err != nil {
			log.Printf("turn %d: intent %s from %s dropped: %v", g.tick, in.Kind, in.ClientID, err)
		}
	}

	g.growTroops()
	g.tickCooldowns()
	g.advanceAttacks()
	g.advanceWarships()
	g.advanceMunitions()
	g.resolveEngagements()

	update := WorldUpdate{Tick: g.tick}

	unitIDs := make([]uint32, 0, len(g.cur.units))
	for id := range g.cur.units {
		unitIDs = append(unitIDs, id)
	}
	sort.Slice(unitIDs, func(i, j int) bool { return unitIDs[i] < unitIDs[j] })
	for _, id := range unitIDs {
		if u := g.units[id]; u != nil {
			update.Units = append(update.Units, *u)
		}
	}

	playerIDs := make([]PlayerSmallID, 0, len(g.cur.players))
	for id := range g.cur.players {
		playerIDs = append(playerIDs, id)
	}
	sort.Slice(playerIDs, func(i, j int) bool { return playerIDs[i] < playerIDs[j] })
	for _, id := range playerIDs {
		if p := g.players[id]; p != nil {
			update.Players = append(update.Players, p.delta())
		}
	}

	sort.Slice(g.cur.tiles, func(i, j int) bool { return g.cur.tiles[i] < g.cur.tiles[j] })
	update.Tiles = g.cur.tiles

	// Hash last, over fully settled post-tick state.
	update.Hash = g.stateHash()
	g.cur = nil
	return update
}

func (g *Game) playerByClient(clientID string) *Player {
	small, ok := g.byClient[clientID]
	if !ok {
		return nil
	}
	return g.players[small]
}

// applyIntent checks an intent's semantic preconditions and mutates state.
// Schema validity was established at ingress.
func (g *Game) applyIntent(in Intent) error {
	p := g.playerByClient(in.ClientID)
	if p == nil {
		return fmt.Errorf("unknown player")
	}

	switch in.Kind {
	case IntentSpawn:
		return g.applySpawn(p, in)
	case IntentBuildUnit:
		return g.applyBuild(p, in)
	case IntentAttack:
		return g.applyAttack(p, in)
	case IntentCancelAttack:
		return g.applyCancelAttack(p, in)
	case IntentMoveWarship:
		return g.applyMoveWarship(p, in)
	case IntentLaunchNuke:
		return g.applyLaunchNuke(p, in)
	}
	return fmt.Errorf("unhandled kind %q", in.Kind)
}

func (g *Game) applySpawn(p *Player, in Intent) error {
	if p.Tiles > 0 {
		return fmt.Errorf("already spawned")
	}
	if !g.grid.Contains(in.Tile) {
		return fmt.Errorf("tile out of bounds")
	}
	if g.owner[in.Tile] != UnclaimedSmallID {
		return fmt.Errorf("tile already claimed")
	}
	if g.unitCapReached() {
		return fmt.Errorf("unit limit reached")
	}

	r := g.cfg.SpawnRadius
	cx, cy := g.grid.XY(in.Tile)
	for y := cy - r; y <= cy+r; y++ {
		for x := cx - r; x <= cx+r; x++ {
			if !g.grid.InBounds(x, y) {
				continue
			}
			t := g.grid.Ref(x, y)
			if g.owner[t] == UnclaimedSmallID && g.grid.DistSq(in.Tile, t) <= r*r {
				g.setOwner(t, p.SmallID)
			}
		}
	}
	p.Troops = g.cfg.StartingTroops
	g.createUnit(p.SmallID, UnitCity, in.Tile)
	g.touchPlayer(p.SmallID)
	return nil
}

func (g *Game) applyBuild(p *Player, in Intent) error {
	typ, ok := UnitTypeByName(in.UnitName)
	if !ok {
		return fmt.Errorf("unknown unit type %q", in.UnitName)
	}
	stats := g.cfg.Stats(typ)
	if !stats.Buildable {
		return fmt.Errorf("%s is not buildable", typ)
	}
	if !g.grid.Contains(in.Tile) {
		return fmt.Errorf("tile out of bounds")
	}
	if g.owner[in.Tile] != p.SmallID {
		return fmt.Errorf("tile not owned")
	}
	if p.Troops < int64(stats.Cost) {
		return fmt.Errorf("insufficient troops: have %d need %d", p.Troops, stats.Cost)
	}

	// Building the same structure on its own tile upgrades it instead:
	// for launchers the level is the charge count.
	existing := g.unitAt(in.Tile, typ, p.SmallID)
	if existing == nil && g.unitCapReached() {
		return fmt.Errorf("unit limit reached")
	}
	p.Troops -= int64(stats.Cost)
	g.touchPlayer(p.SmallID)

	if existing != nil {
		existing.Level++
		g.touchUnit(existing.ID)
		return nil
	}
	g.createUnit(p.SmallID, typ, in.Tile)
	return nil
}

func (g *Game) applyAttack(p *Player, in Intent) error {
	if !g.grid.Contains(in.Target) {
		return fmt.Errorf("target out of bounds")
	}
	defender := g.owner[in.Target]
	if defender == p.SmallID {
		return fmt.Errorf("cannot attack own territory")
	}
	if defender != UnclaimedSmallID && p.IsAlliedWith(defender) {
		return fmt.Errorf("cannot attack ally")
	}
	if p.Troops < int64(in.Troops) {
		return fmt.Errorf("insufficient troops")
	}
	p.Troops -= int64(in.Troops)

	a := &Attack{
		ID:     g.nextAttackID(),
		From:   p.SmallID,
		To:     defender,
		Target: in.Target,
		Troops: in.Troops,
	}
	g.attacks[a.ID] = a
	p.Outgoing = append(p.Outgoing, a.ID)
	g.touchPlayer(p.SmallID)
	if dp := g.players[defender]; dp != nil {
		dp.Incoming = append(dp.Incoming, a.ID)
		g.touchPlayer(defender)
	}
	return nil
}

func (g *Game) applyCancelAttack(p *Player, in Intent) error {
	a := g.attacks[in.AttackID]
	if a == nil {
		return fmt.Errorf("attack %d not found", in.AttackID)
	}
	if a.From != p.SmallID {
		return fmt.Errorf("attack %d not yours", in.AttackID)
	}
	p.Troops += int64(a.Troops) // unspent troops come home
	g.finishAttack(a)
	return nil
}

func (g *Game) applyMoveWarship(p *Player, in Intent) error {
	u := g.units[in.UnitID]
	if u == nil || !u.Active {
		return fmt.Errorf("unit %d not found", in.UnitID)
	}
	if u.Owner != p.SmallID {
		return fmt.Errorf("unit %d not yours", in.UnitID)
	}
	if u.Type != UnitWarship {
		return fmt.Errorf("unit %d is not a warship", in.UnitID)
	}
	if !g.grid.Contains(in.Target) {
		return fmt.Errorf("target out of bounds")
	}
	u.TargetTile = in.Target
	u.path = nil
	g.touchUnit(u.ID)
	return nil
}

func (g *Game) applyLaunchNuke(p *Player, in Intent) error {
	typ, ok := UnitTypeByName(in.UnitName)
	if !ok || !typ.IsMunition() {
		return fmt.Errorf("not a launchable munition: %q", in.UnitName)
	}
	if !g.grid.Contains(in.Target) {
		return fmt.Errorf("target out of bounds")
	}
	silo := g.unitAt(in.Tile, UnitMissileSilo, p.SmallID)
	if silo == nil {
		return fmt.Errorf("no silo at tile %d", in.Tile)
	}
	if silo.Cooldown > 0 {
		return fmt.Errorf("silo %d still reloading", silo.ID)
	}
	if g.unitCapReached() {
		return fmt.Errorf("unit limit reached")
	}

	m := g.createUnit(p.SmallID, typ, silo.Tile)
	m.LaunchTile = silo.Tile
	m.TargetTile = in.Target
	silo.Cooldown = g.cfg.Stats(UnitMissileSilo).Cooldown
	g.touchUnit(silo.ID)
	return nil
}

// unitAt finds an active unit of the given type and owner on a tile.
func (g *Game) unitAt(t TileRef, typ UnitType, owner PlayerSmallID) *Unit {
	var found *Unit
	g.index.scanBuckets(t, 0, func(su SpatialUnit) bool {
		if su.IsActive() && su.Kind() == typ && su.OwnerID() == owner && su.Pos() == t {
			found = g.units[su.UnitID()]
			return true
		}
		return false
	})
	return found
}

// unitCapReached gates every intent that would allocate a unit. Graves
// still count; they leave the map on the next tick.
func (g *Game) unitCapReached() bool {
	return len(g.units) >= maxUnitsPerSession
}

func (g *Game) nextAttackID() uint32 {
	g.nextAttack++
	return g.nextAttack
}

// createUnit allocates a unit, indexes it, and marks it changed.
func (g *Game) createUnit(owner PlayerSmallID, typ UnitType, t TileRef) *Unit {
	stats := g.cfg.Stats(typ)
	u := &Unit{
		ID:     g.nextUnit,
		Type:   typ,
		Owner:  owner,
		Tile:   t,
		Active: true,
		Health: stats.MaxHealth,
		Level:  1,
		// Anchored to its own tile until ordered elsewhere; movers compare
		// TargetTile against Tile to decide whether to advance.
		TargetTile: t,
	}
	g.nextUnit++
	g.units[u.ID] = u
	g.index.AddUnit(u)
	g.touchUnit(u.ID)
	return u
}

// deactivateUnit takes a unit out of play. It leaves the live map until the
// next tick so "died this tick" is observable, but leaves the spatial index
// immediately.
func (g *Game) deactivateUnit(u *Unit) {
	if !u.Active {
		return
	}
	u.Active = false
	g.index.RemoveUnit(u)
	g.graves = append(g.graves, u.ID)
	g.touchUnit(u.ID)
	// A destroyed launcher frees its claim so another interceptor can
	// take the munition. A destroyed munition keeps its claim until the
	// engagement pass resolves the launcher into cooldown.
	if u.TargetUnit != 0 {
		delete(g.committed, u.TargetUnit)
		u.TargetUnit = 0
	}
}

// setOwner transfers one tile and keeps both players' tile counts current.
func (g *Game) setOwner(t TileRef, newOwner PlayerSmallID) {
	old := g.owner[t]
	if old == newOwner {
		return
	}
	if op := g.players[old]; op != nil {
		op.Tiles--
		g.touchPlayer(old)
	}
	if np := g.players[newOwner]; np != nil {
		np.Tiles++
		g.touchPlayer(newOwner)
	}
	g.owner[t] = newOwner
	g.cur.tiles = append(g.cur.tiles, packTileChange(t, newOwner))
}

// growTroops is the per-tick economy stub: players with territory gain a
// fixed troop income.
func (g *Game) growTroops() {
	for _, id := range sortedSmallIDs(g.players) {
		p := g.players[id]
		if p.Tiles > 0 {
			p.Troops += g.cfg.TroopGrowth
			g.touchPlayer(id)
		}
	}
}

// tickCooldowns decrements engagement and silo cooldowns and prunes
// completed reload entries. Runs before engagement resolution so a
// launcher leaving cooldown can acquire the same tick.
func (g *Game) tickCooldowns() {
	for _, id := range g.sortedUnitIDs() {
		u := g.units[id]
		if !u.Active {
			continue
		}
		changed := false
		if u.Cooldown > 0 && u.TargetUnit == 0 {
			u.Cooldown--
			changed = true
		}
		if len(u.Reloads) > 0 {
			before := len(u.Reloads)
			u.pruneReloads(g.tick)
			changed = changed || len(u.Reloads) != before
		}
		if changed {
			g.touchUnit(id)
		}
	}
}

// advanceAttacks converts tiles ring by ring around each attack's target.
// Each converted tile costs one troop; the attack ends when its troops run
// out or the ring outgrows the map.
func (g *Game) advanceAttacks() {
	ids := make([]uint32, 0, len(g.attacks))
	for id := range g.attacks {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	for _, id := range ids {
		a := g.attacks[id]
		a.Radius++
		budget := int32(g.cfg.ConquestRate)
		if budget > a.Troops {
			budget = a.Troops
		}

		r := int(a.Radius)
		cx, cy := g.grid.XY(a.Target)
		for y := cy - r; y <= cy+r && budget > 0; y++ {
			for x := cx - r; x <= cx+r && budget > 0; x++ {
				if !g.grid.InBounds(x, y) {
					continue
				}
				t := g.grid.Ref(x, y)
				if g.owner[t] != a.To || g.grid.DistSq(a.Target, t) > r*r {
					continue
				}
				g.setOwner(t, a.From)
				a.Troops--
				budget--
			}
		}

		maxR := g.grid.W + g.grid.H
		if a.Troops <= 0 || int(a.Radius) > maxR {
			g.finishAttack(a)
		}
	}
}

// finishAttack drops an attack from the registry and both players' lists.
func (g *Game) finishAttack(a *Attack) {
	delete(g.attacks, a.ID)
	if p := g.players[a.From]; p != nil {
		p.Outgoing = dropAttackID(p.Outgoing, a.ID)
		g.touchPlayer(a.From)
	}
	if p := g.players[a.To]; p != nil {
		p.Incoming = dropAttackID(p.Incoming, a.ID)
		g.touchPlayer(a.To)
	}
}

// advanceWarships steps each warship along a straight line toward its
// ordered destination.
func (g *Game) advanceWarships() {
	for _, id := range g.sortedUnitIDs() {
		u := g.units[id]
		if !u.Active || u.Type != UnitWarship || u.TargetTile == u.Tile {
			continue
		}
		speed := g.cfg.Stats(UnitWarship).Speed
		path := linePath(g.grid, u.Tile, u.TargetTile)
		step := clampInt(speed, 0, len(path)-1)
		u.Tile = path[step]
		g.index.UpdateUnitCell(u)
		g.touchUnit(id)
	}
}

// advanceMunitions moves every in-flight munition along its precomputed
// path and detonates it on arrival.
func (g *Game) advanceMunitions() {
	for _, id := range g.sortedUnitIDs() {
		u := g.units[id]
		if !u.Active || !u.Type.IsMunition() {
			continue
		}
		path := u.FlightPath(g.grid)
		speed := g.cfg.Stats(u.Type).Speed
		next := clampInt(int(u.PathIdx)+speed, 0, len(path)-1)
		u.PathIdx = uint16(next)
		u.Tile = path[next]
		g.index.UpdateUnitCell(u)
		g.touchUnit(id)

		if next == len(path)-1 {
			g.detonate(u)
		}
	}
}

// detonate resolves a munition reaching its target: structures and ships in
// the blast radius are destroyed and the ground is scorched to unclaimed.
func (g *Game) detonate(m *Unit) {
	blast := g.cfg.Stats(m.Type).BlastRadius
	g.deactivateUnit(m)

	hits := g.index.NearbyUnits(m.Tile, blast, []UnitType{
		UnitCity, UnitDefensePost, UnitSAMLauncher, UnitMissileSilo, UnitWarship,
	}, nil)
	sort.Slice(hits, func(i, j int) bool { return hits[i].Unit.UnitID() < hits[j].Unit.UnitID() })
	for _, h := range hits {
		if u := g.units[h.Unit.UnitID()]; u != nil {
			g.deactivateUnit(u)
		}
	}

	cx, cy := g.grid.XY(m.Tile)
	for y := cy - blast; y <= cy+blast; y++ {
		for x := cx - blast; x <= cx+blast; x++ {
			if !g.grid.InBounds(x, y) {
				continue
			}
			t := g.grid.Ref(x, y)
			if g.grid.DistSq(m.Tile, t) <= blast*blast {
				g.setOwner(t, UnclaimedSmallID)
			}
		}
	}
}

// sortedUnitIDs returns live unit ids ascending; every per-tick system
// iterates in this order so outcomes never depend on map ordering.
func (g *Game) sortedUnitIDs() []uint32 {
	ids := make([]uint32, 0, len(g.units))
	for id := range g.units {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
