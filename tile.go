package main

// TileRef is an opaque reference to one cell of the match grid. It is
// invertible to (x, y) through the Grid that produced it and stays stable
// for the lifetime of a match.
type TileRef uint32

// Grid is the map collaborator surface the simulation core needs: tile to
// coordinate conversion and distance. Terrain data itself lives elsewhere.
type Grid struct {
	W, H int
}

// NewGrid creates a grid of the given dimensions.
func NewGrid(w, h int) *Grid {
	return &Grid{W: w, H: h}
}

// Ref converts coordinates to a tile reference. Caller must check InBounds.
func (g *Grid) Ref(x, y int) TileRef {
	return TileRef(y*g.W + x)
}

// XY converts a tile reference back to coordinates.
func (g *Grid) XY(t TileRef) (int, int) {
	return int(t) % g.W, int(t) / g.W
}

// InBounds reports whether (x, y) lies on the grid.
func (g *Grid) InBounds(x, y int) bool {
	return x >= 0 && x < g.W && y >= 0 && y < g.H
}

// Contains reports whether t is a valid reference for this grid.
func (g *Grid) Contains(t TileRef) bool {
	return int(t) < g.W*g.H
}

// DistSq returns the squared Euclidean distance between the centers of two
// tiles. Integer math so it is exact and comparable against radius*radius.
func (g *Grid) DistSq(a, b TileRef) int {
	ax, ay := g.XY(a)
	bx, by := g.XY(b)
	dx := bx - ax
	dy := by - ay
	return dx*dx + dy*dy
}

// Tiles returns the total number of tiles.
func (g *Grid) Tiles() int {
	return g.W * g.H
}

// linePath returns the sequence of tiles a straight flight from a to b
// passes through, endpoints included. Bresenham stepping, so the same
// inputs always yield the same path on every host.
func linePath(g *Grid, from, to TileRef) []TileRef {
	x0, y0 := g.XY(from)
	x1, y1 := g.XY(to)

	dx := absInt(x1 - x0)
	dy := -absInt(y1 - y0)
	sx := 1
	if x0 > x1 {
		sx = -1
	}
	sy := 1
	if y0 > y1 {
		sy = -1
	}
	err := dx + dy

	path := make([]TileRef, 0, dx-dy+1)
	for {
		path = append(path, g.Ref(x0, y0))
		if x0 == x1 && y0 == y1 {
			return path
		}
		e2 := 2 * err
		if e2 >= dy {
			err += dy
			x0 += sx
		}
		if e2 <= dx {
			err += dx
			y0 += sy
		}
	}
}

func absInt(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
