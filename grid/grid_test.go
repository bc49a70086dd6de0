package grid

import (
	"math"
	"testing"
)

func uniqueCount(values []float64) int {
	return len(uniqueSorted(values))
}

func TestRegularGrid(t *testing.T) {
	g := RegularGrid(0.3, 0.3)

	if cnt := uniqueCount(g.Lats); cnt != 601 {
		t.Errorf("unique latitude count: got %d, want %d", cnt, 601)
	}
	if cnt := uniqueCount(g.Lons); cnt != 1200 {
		t.Errorf("unique longitude count: got %d, want %d", cnt, 1200)
	}

	resLat, resLon, err := Resolution(g.Lats, g.Lons)
	if err != nil {
		t.Fatalf("failed to detect resolution: %s", err)
	}
	if resLat != 0.3 || resLon != 0.3 {
		t.Errorf("resolution: got (%g, %g), want (0.3, 0.3)", resLat, resLon)
	}

	for _, lon := range g.Lons {
		if lon > 180 {
			t.Fatalf("longitude %g not wrapped into (-180, 180]", lon)
		}
	}
}

func TestIrregularGrid(t *testing.T) {
	// built from a regular grid, because comparing against one is easier
	var lons, lats []float64
	for lat := 90.0; lat > -90.5; lat -= 1 {
		for lon := 0.0; lon < 359.5; lon += 1 {
			lats = append(lats, lat)
			lons = append(lons, lon)
		}
	}

	g, err := IrregularGrid(lons, lats)
	if err != nil {
		t.Fatalf("failed to build grid: %s", err)
	}

	ref := RegularGrid(1, 1)
	if g.Len() != ref.Len() {
		t.Fatalf("grid size: got %d, want %d", g.Len(), ref.Len())
	}

	for i := range ref.GPIs {
		if g.Lons[i] != ref.Lons[i] || g.Lats[i] != ref.Lats[i] {
			t.Fatalf("point %d: got (%g, %g), want (%g, %g)",
				i, g.Lons[i], g.Lats[i], ref.Lons[i], ref.Lats[i])
		}
		if g.Cells[i] != ref.Cells[i] {
			t.Fatalf("point %d cell: got %d, want %d", i, g.Cells[i], ref.Cells[i])
		}
	}
}

func TestResolutionNotRegular(t *testing.T) {
	lats := []float64{0, 0.3, 0.7, 1.2}
	lons := []float64{0, 0.3, 0.6, 0.9}

	if _, _, err := Resolution(lats, lons); err != ErrNotRegular {
		t.Errorf("expecting ErrNotRegular, got %v", err)
	}
}

func TestLandGrid(t *testing.T) {
	g := RegularGrid(30, 30)

	lsm := make([]float64, g.Len())
	for i := range lsm {
		if i%2 == 0 {
			lsm[i] = 1
		}
	}
	lsm[0] = math.NaN()

	sub, err := LandGrid(g, lsm, 0.5)
	if err != nil {
		t.Fatalf("failed to cut land grid: %s", err)
	}

	want := g.Len()/2 - 1
	if sub.Len() != want {
		t.Errorf("land grid size: got %d, want %d", sub.Len(), want)
	}

	for i, gpi := range sub.GPIs {
		if gpi%2 != 0 {
			t.Fatalf("sea point %d kept in land grid", gpi)
		}
		if sub.Cells[i] != g.Cells[gpi] {
			t.Fatalf("cell of point %d changed in subgrid", gpi)
		}
	}
}

func TestCellPoints(t *testing.T) {
	g := RegularGrid(30, 30)

	var total int
	for _, cell := range g.CellList() {
		points := g.CellPoints(cell)
		if len(points) == 0 {
			t.Fatalf("cell %d has no points", cell)
		}
		for _, i := range points {
			if g.Cells[i] != cell {
				t.Fatalf("point %d listed for cell %d, lies in cell %d", i, cell, g.Cells[i])
			}
		}
		total += len(points)
	}

	if total != g.Len() {
		t.Errorf("cell point total: got %d, want %d", total, g.Len())
	}
}

func TestCellOf(t *testing.T) {
	samples := []struct {
		lon, lat float64
		cell     int
	}{
		{-180, -90, 0},
		{-180, 90, 35},
		{179.9, 89.9, 2591},
		{0, 0, 36*36 + 18},
	}

	for _, sample := range samples {
		cell := CellOf(sample.lon, sample.lat)
		if cell != sample.cell {
			t.Errorf("cell of (%g, %g): got %d, want %d", sample.lon, sample.lat, cell, sample.cell)
		}
	}
}
