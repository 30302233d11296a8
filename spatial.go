package main

// IndexCellSize is the bucket edge length in tiles. Sized so typical
// engagement radii touch a handful of buckets, never the whole grid.
const IndexCellSize = 16

// SpatialUnit is what the index needs to know about a unit. Both canonical
// units and client-side mirrors satisfy it.
type SpatialUnit interface {
	UnitID() uint32
	Kind() UnitType
	OwnerID() PlayerSmallID
	Pos() TileRef
	IsActive() bool
}

// UnitHit pairs a query result with its squared distance to the query tile.
type UnitHit struct {
	Unit   SpatialUnit
	DistSq int
}

// UnitIndex maps tiles to buckets of the units occupying them and answers
// radius queries by visiting only buckets that can contain a match. A unit
// occupies exactly one bucket at a time.
type UnitIndex struct {
	grid       *Grid
	cols, rows int
	cells      [][]SpatialUnit
	where      map[uint32]int // unit id -> bucket currently holding it
}

// NewUnitIndex creates an empty index over the given grid.
func NewUnitIndex(grid *Grid) *UnitIndex {
	cols := (grid.W + IndexCellSize - 1) / IndexCellSize
	rows := (grid.H + IndexCellSize - 1) / IndexCellSize
	return &UnitIndex{
		grid:  grid,
		cols:  cols,
		rows:  rows,
		cells: make([][]SpatialUnit, cols*rows),
		where: make(map[uint32]int),
	}
}

func (ix *UnitIndex) bucketFor(t TileRef) int {
	x, y := ix.grid.XY(t)
	return (y/IndexCellSize)*ix.cols + x/IndexCellSize
}

// AddUnit inserts a unit into the bucket for its current tile. The caller
// ensures single insertion; inserting a unit twice is a caller error.
func (ix *UnitIndex) AddUnit(u SpatialUnit) {
	b := ix.bucketFor(u.Pos())
	ix.cells[b] = append(ix.cells[b], u)
	ix.where[u.UnitID()] = b
}

// RemoveUnit removes a unit from its recorded bucket. Removing a unit that
// was never indexed is a silent no-op: deactivation and cleanup race
// benignly against explicit removal on the client side.
func (ix *UnitIndex) RemoveUnit(u SpatialUnit) {
	b, ok := ix.where[u.UnitID()]
	if !ok {
		return
	}
	delete(ix.where, u.UnitID())
	cell := ix.cells[b]
	for i, held := range cell {
		if held.UnitID() == u.UnitID() {
			cell[i] = cell[len(cell)-1]
			ix.cells[b] = cell[:len(cell)-1]
			return
		}
	}
}

// UpdateUnitCell moves a unit to the bucket for its new tile. Must be
// called whenever an indexed unit's tile changes, or later range queries
// silently miss it.
func (ix *UnitIndex) UpdateUnitCell(u SpatialUnit) {
	b := ix.bucketFor(u.Pos())
	old, ok := ix.where[u.UnitID()]
	if ok && old == b {
		return
	}
	if ok {
		ix.RemoveUnit(u)
	}
	ix.cells[b] = append(ix.cells[b], u)
	ix.where[u.UnitID()] = b
}

// NearbyUnits returns every active unit of one of the requested types whose
// squared center distance to t is at most radius*radius, optionally
// filtered by pred. The boundary is inclusive and radius 0 matches only the
// exact tile. Duplicate entries in types cannot double-count a unit since
// each unit lives in exactly one bucket and is tested once.
func (ix *UnitIndex) NearbyUnits(t TileRef, radius int, types []UnitType, pred func(SpatialUnit) bool) []UnitHit {
	if len(types) == 0 {
		return nil
	}
	var wanted [unitTypeCount]bool
	for _, ty := range types {
		if int(ty) < len(wanted) {
			wanted[ty] = true
		}
	}

	r2 := radius * radius
	var hits []UnitHit
	ix.scanBuckets(t, radius, func(u SpatialUnit) bool {
		if !u.IsActive() || !wanted[u.Kind()] {
			return false
		}
		d := ix.grid.DistSq(t, u.Pos())
		if d > r2 {
			return false
		}
		if pred != nil && !pred(u) {
			return false
		}
		hits = append(hits, UnitHit{Unit: u, DistSq: d})
		return false
	})
	return hits
}

// HasUnitNearby reports whether at least one active unit of the given type
// and owner lies within radius of t, stopping at the first match.
func (ix *UnitIndex) HasUnitNearby(t TileRef, radius int, typ UnitType, owner PlayerSmallID) bool {
	r2 := radius * radius
	return ix.scanBuckets(t, radius, func(u SpatialUnit) bool {
		return u.IsActive() && u.Kind() == typ && u.OwnerID() == owner &&
			ix.grid.DistSq(t, u.Pos()) <= r2
	})
}

// scanBuckets visits every unit in the buckets overlapping the radius box
// around t. visit returning true stops the scan early.
func (ix *UnitIndex) scanBuckets(t TileRef, radius int, visit func(SpatialUnit) bool) bool {
	x, y := ix.grid.XY(t)
	minCX := clampInt((x-radius)/IndexCellSize, 0, ix.cols-1)
	maxCX := clampInt((x+radius)/IndexCellSize, 0, ix.cols-1)
	minCY := clampInt((y-radius)/IndexCellSize, 0, ix.rows-1)
	maxCY := clampInt((y+radius)/IndexCellSize, 0, ix.rows-1)

	for cy := minCY; cy <= maxCY; cy++ {
		for cx := minCX; cx <= maxCX; cx++ {
			for _, u := range ix.cells[cy*ix.cols+cx] {
				if visit(u) {
					return true
				}
			}
		}
	}
	return false
}
