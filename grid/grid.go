// Package grid holds common grid definitions for ECMWF model reanalysis
// products (regular gridded).
package grid

import (
	"errors"
	"fmt"
	"math"
	"sort"
)

// CellSize is the edge length in degree of grid cells used to group points
// when writing time series files.
const CellSize = 5.0

var ErrNotRegular = errors.New("grid not regular")

// Grid is a flat list of grid points. Points carry their index into the
// original full grid (GPI), so a subgrid keeps addressing positions of the
// grid it was cut from.
type Grid struct {
	Lons  []float64
	Lats  []float64
	GPIs  []int
	Cells []int
}

// RegularGrid creates the global regular ECMWF cell grid for given latitude
// and longitude resolution. Longitudes start at 0° and are wrapped into
// (-180, 180], latitudes run from 90° to -90°. Points are ordered
// latitude-major.
func RegularGrid(resLat, resLon float64) *Grid {
	lons := arange(0, 360-resLon/2, resLon)
	lats := arange(90, -90-resLat/2, -resLat)

	for i, lon := range lons {
		if lon > 180.0 {
			lons[i] = lon - 360
		}
	}

	n := len(lats) * len(lons)
	g := &Grid{
		Lons:  make([]float64, 0, n),
		Lats:  make([]float64, 0, n),
		GPIs:  make([]int, 0, n),
		Cells: make([]int, 0, n),
	}

	gpi := 0
	for _, lat := range lats {
		for _, lon := range lons {
			g.Lons = append(g.Lons, lon)
			g.Lats = append(g.Lats, lat)
			g.GPIs = append(g.GPIs, gpi)
			g.Cells = append(g.Cells, CellOf(lon, lat))
			gpi++
		}
	}

	return g
}

// IrregularGrid creates a cell grid from explicit coordinate arrays. The
// same longitude wrapping as for regular grids is applied.
func IrregularGrid(lons, lats []float64) (*Grid, error) {
	if len(lons) != len(lats) {
		return nil, fmt.Errorf("coordinate array size mismatch: %d lons vs %d lats", len(lons), len(lats))
	}

	g := &Grid{
		Lons:  make([]float64, len(lons)),
		Lats:  make([]float64, len(lats)),
		GPIs:  make([]int, len(lons)),
		Cells: make([]int, len(lons)),
	}

	for i := range lons {
		lon := lons[i]
		if lon > 180.0 {
			lon -= 360
		}
		g.Lons[i] = lon
		g.Lats[i] = lats[i]
		g.GPIs[i] = i
		g.Cells[i] = CellOf(lon, lats[i])
	}

	return g, nil
}

// LandGrid cuts a subgrid containing only points whose land fraction in
// `lsm` exceeds `threshold`. `lsm` must have one value per grid point.
func LandGrid(g *Grid, lsm []float64, threshold float64) (*Grid, error) {
	if len(lsm) != g.Len() {
		return nil, fmt.Errorf("land mask size %d does not match grid size %d", len(lsm), g.Len())
	}

	sub := &Grid{}
	for i, frac := range lsm {
		if math.IsNaN(frac) || frac <= threshold {
			continue
		}
		sub.Lons = append(sub.Lons, g.Lons[i])
		sub.Lats = append(sub.Lats, g.Lats[i])
		sub.GPIs = append(sub.GPIs, g.GPIs[i])
		sub.Cells = append(sub.Cells, g.Cells[i])
	}

	return sub, nil
}

func (g *Grid) Len() int {
	return len(g.GPIs)
}

// CellList returns all distinct cell numbers of the grid in ascending order.
func (g *Grid) CellList() []int {
	seen := map[int]bool{}
	var cells []int
	for _, cell := range g.Cells {
		if !seen[cell] {
			seen[cell] = true
			cells = append(cells, cell)
		}
	}

	sort.Ints(cells)

	return cells
}

// CellPoints returns indices into the grid arrays of all points falling into
// given cell.
func (g *Grid) CellPoints(cell int) []int {
	var idx []int
	for i, c := range g.Cells {
		if c == cell {
			idx = append(idx, i)
		}
	}
	return idx
}

// Resolution detects the latitude and longitude step of a regular grid from
// its coordinate arrays. Steps are compared after rounding to 3 decimals,
// uneven spacing returns ErrNotRegular.
func Resolution(lats, lons []float64) (resLat, resLon float64, err error) {
	resLat, err = uniqueStep(lats)
	if err != nil {
		return 0, 0, err
	}

	resLon, err = uniqueStep(lons)
	if err != nil {
		return 0, 0, err
	}

	return resLat, resLon, nil
}

func uniqueStep(values []float64) (float64, error) {
	unique := uniqueSorted(values)
	if len(unique) < 2 {
		return 0, ErrNotRegular
	}

	step := 0.0
	for i := 1; i < len(unique); i++ {
		diff := round3(math.Abs(math.Abs(unique[i]) - math.Abs(unique[i-1])))
		if i == 1 {
			step = diff
		} else if diff != step {
			return 0, ErrNotRegular
		}
	}

	return step, nil
}

func uniqueSorted(values []float64) []float64 {
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)

	unique := sorted[:0]
	for i, v := range sorted {
		if i == 0 || v != unique[len(unique)-1] {
			unique = append(unique, v)
		}
	}

	return unique
}

// CellOf maps a coordinate pair to its 5°x5° cell number. Cells are counted
// from the south-west corner of the map, column by column.
func CellOf(lon, lat float64) int {
	rows := int(180 / CellSize)

	y := int(math.Floor((lat + 90) / CellSize))
	if y >= rows {
		y = rows - 1
	}

	x := int(math.Floor((lon + 180) / CellSize))
	if x >= 2*rows {
		x = 2*rows - 1
	}

	return x*rows + y
}

// CellFilename returns the canonical time series file name for a cell.
func CellFilename(cell int) string {
	return fmt.Sprintf("%04d.nc", cell)
}

func arange(start, stop, step float64) []float64 {
	var values []float64
	if step > 0 {
		for v := start; v < stop; v += step {
			values = append(values, round3(v))
		}
	} else {
		for v := start; v > stop; v += step {
			values = append(values, round3(v))
		}
	}
	return values
}

func round3(v float64) float64 {
	return math.Round(v*1000) / 1000
}
