package main

import "sort"

// munitionTypes is the threat set interceptors scan for.
var munitionTypes = []UnitType{UnitAtomBomb, UnitHydrogenBomb}

// engagementCandidate is one eligible threat with its remaining flight
// distance to the interception point.
type engagementCandidate struct {
	unit      *Unit
	remaining int // path steps until the munition enters the radius
}

// resolveEngagements runs the per-launcher state machine for every active
// interceptor, in ascending unit id order so same-tick claims resolve
// deterministically.
//
// Idle launchers scan for hostile munitions whose remaining flight path
// still passes through the engagement radius; a munition already past its
// point of interceptability is skipped even if currently in range. Engaged
// launchers fire once the target reaches the radius and then cool down,
// whether they hit, missed, or the munition detonated first.
func (g *Game) resolveEngagements() {
	for _, id := range g.sortedUnitIDs() {
		u := g.units[id]
		if !u.Active || u.Type != UnitSAMLauncher {
			continue
		}
		stats := g.cfg.Stats(UnitSAMLauncher)

		switch u.Engagement() {
		case EngageCooldown:
			// tickCooldowns owns the timer; nothing to do here.

		case EngageEngaged:
			m := g.units[u.TargetUnit]
			if m == nil || !m.Active {
				// Target reached its own terminal condition first.
				g.finishEngagement(u, stats)
				continue
			}
			if g.grid.DistSq(u.Tile, m.Tile) <= stats.Radius*stats.Radius {
				chance := g.cfg.Stats(m.Type).HitChance
				if rollChance(g.seed, uint64(g.tick), uint64(u.ID), uint64(m.ID)) < chance {
					g.deactivateUnit(m)
				}
				g.finishEngagement(u, stats)
			}

		case EngageIdle:
			if target := g.selectTarget(u, stats); target != nil {
				u.TargetUnit = target.ID
				g.committed[target.ID] = u.ID
				g.touchUnit(u.ID)
			}
		}
	}
}

// finishEngagement transitions a launcher out of Engaged: the claim is
// released, the cooldown starts, and one charge begins reloading.
func (g *Game) finishEngagement(u *Unit, stats UnitStats) {
	delete(g.committed, u.TargetUnit)
	u.TargetUnit = 0
	u.Cooldown = stats.Cooldown
	u.pruneReloads(g.tick)
	if len(u.Reloads) < int(u.Level) {
		u.Reloads = append(u.Reloads, g.tick+stats.Reload)
	}
	g.touchUnit(u.ID)
}

// selectTarget picks the launcher's best eligible threat: hostile
// munitions in range whose remaining path re-enters the radius, unclaimed
// by any other launcher, nearest by remaining path distance, ties broken
// by lowest unit id.
func (g *Game) selectTarget(u *Unit, stats UnitStats) *Unit {
	owner := g.players[u.Owner]

	hits := g.index.NearbyUnits(u.Tile, stats.Radius, munitionTypes, func(su SpatialUnit) bool {
		if su.OwnerID() == u.Owner {
			return false
		}
		if owner != nil && owner.IsAlliedWith(su.OwnerID()) {
			return false
		}
		_, claimed := g.committed[su.UnitID()]
		return !claimed
	})
	if len(hits) == 0 {
		return nil
	}

	var cands []engagementCandidate
	for _, h := range hits {
		m := g.units[h.Unit.UnitID()]
		if m == nil {
			continue
		}
		remaining, ok := remainingPathIntersects(g.grid, m, u.Tile, stats.Radius)
		if !ok {
			continue
		}
		cands = append(cands, engagementCandidate{unit: m, remaining: remaining})
	}
	if len(cands) == 0 {
		return nil
	}

	sort.Slice(cands, func(i, j int) bool {
		if cands[i].remaining != cands[j].remaining {
			return cands[i].remaining < cands[j].remaining
		}
		return cands[i].unit.ID < cands[j].unit.ID
	})
	return cands[0].unit
}

// remainingPathIntersects reports whether any point on the munition's
// future flight path lies within radius of tile, and if so how many path
// steps away the first such point is. The scan starts after the current
// position: a munition inside the radius but on its way out, with no
// future point re-entering, is unreachable and reports false.
func remainingPathIntersects(grid *Grid, m *Unit, tile TileRef, radius int) (int, bool) {
	path := m.FlightPath(grid)
	r2 := radius * radius
	for i := int(m.PathIdx) + 1; i < len(path); i++ {
		if grid.DistSq(tile, path[i]) <= r2 {
			return i - int(m.PathIdx), true
		}
	}
	return 0, false
}
