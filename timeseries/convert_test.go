package timeseries

import (
	"context"
	"errors"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/tuw-geo/eramodels/format/netcdf"
	"github.com/tuw-geo/eramodels/grid"
	"github.com/tuw-geo/eramodels/images"
)

func mustTime(value string) time.Time {
	ts, err := time.ParseInLocation("2006-01-02T15", value, time.UTC)
	if err != nil {
		panic(err)
	}
	return ts
}

// builds a period file with two timestamps on a 2x3 grid and splits it into
// an image archive
func buildArchive(t *testing.T, root string) {
	t.Helper()

	src := &netcdf.File{
		Dims: []netcdf.Dim{
			{Name: "time", Len: 2},
			{Name: "latitude", Len: 2},
			{Name: "longitude", Len: 3},
		},
		Vars: []netcdf.Var{
			{Name: "time", Type: netcdf.Int, Dims: []int{0},
				Attrs: []netcdf.Attr{{Name: "units", Value: images.TimeUnits}},
				Data: []int32{
					images.HoursSince(mustTime("2019-02-01T00")),
					images.HoursSince(mustTime("2019-02-01T06")),
				}},
			{Name: "latitude", Type: netcdf.Double, Dims: []int{1}, Data: []float64{0.25, 0}},
			{Name: "longitude", Type: netcdf.Double, Dims: []int{2}, Data: []float64{0, 0.25, 0.5}},
			{Name: "swvl1", Type: netcdf.Float, Dims: []int{0, 1, 2},
				Attrs: []netcdf.Attr{{Name: "units", Value: "m**3 m**-3"}},
				Data: []float32{
					0.1, 0.2, 0.3, 0.4, 0.5, 0.6,
					1.1, 1.2, 1.3, 1.4, 1.5, 1.6,
				}},
		},
	}

	srcPath := filepath.Join(t.TempDir(), "period.nc")
	if err := src.WriteFile(srcPath); err != nil {
		t.Fatalf("failed to write period file: %s", err)
	}

	if _, err := images.SplitNetCDF(srcPath, root, "ERA5"); err != nil {
		t.Fatalf("failed to split period file: %s", err)
	}
}

func TestConvert(t *testing.T) {
	root := t.TempDir()
	outPath := t.TempDir()

	buildArchive(t, root)

	repo := &images.Repository{
		Root:      root,
		Product:   "ERA5",
		Format:    images.FormatNetCDF,
		Variables: []string{"swvl1"},
		HSteps:    []int{0, 6, 12},
	}

	conv := &Converter{
		Repo:      repo,
		OutPath:   outPath,
		Start:     mustTime("2019-02-01T00"),
		End:       mustTime("2019-02-01T00"),
		ImgBuffer: 1, // force the append path
		Workers:   2,
		Gzip:      true,
		GlobalAttrs: map[string]string{
			"product": "ERA5 (from netcdf)",
		},
	}

	if err := conv.Calc(context.Background()); err != nil {
		t.Fatalf("conversion failed: %s", err)
	}

	// all six points share one 5 degree cell
	cell := grid.CellOf(0, 0.25)
	path := cellFilePath(outPath, cell, true)

	cd, err := readCellFile(path)
	if err != nil {
		t.Fatalf("failed to read cell file: %s", err)
	}

	if len(cd.gpis) != 6 {
		t.Fatalf("location count: got %d, want 6", len(cd.gpis))
	}
	// three hour steps requested, the 12:00 image is missing
	if cd.timeCount() != 3 {
		t.Fatalf("time count: got %d, want 3", cd.timeCount())
	}

	series := cd.values["swvl1"]
	if len(series) != 18 {
		t.Fatalf("series length: got %d, want 18", len(series))
	}

	// location 0 is (lon 0, lat 0.25); series layout is location major
	if math.Abs(float64(series[0])-0.1) > 1e-6 || math.Abs(float64(series[1])-1.1) > 1e-6 {
		t.Errorf("location 0 series: got %v, want [0.1 1.1 NaN]", series[:3])
	}
	if !math.IsNaN(float64(series[2])) {
		t.Errorf("missing image not filled with NaN: got %g", series[2])
	}

	// location 4 is (lon 0.25, lat 0)
	if math.Abs(float64(series[4*3])-0.5) > 1e-6 {
		t.Errorf("location 4 series start: got %g, want 0.5", series[4*3])
	}

	if cd.lons[1] != 0.25 || cd.lats[1] != 0.25 {
		t.Errorf("location 1 coordinates: got (%g, %g), want (0.25, 0.25)", cd.lons[1], cd.lats[1])
	}
}

func TestConvertLeadingGap(t *testing.T) {
	root := t.TempDir()
	outPath := t.TempDir()

	buildArchive(t, root)

	repo := &images.Repository{
		Root:      root,
		Product:   "ERA5",
		Format:    images.FormatNetCDF,
		Variables: []string{"swvl1"},
		HSteps:    []int{0, 6},
	}

	// the archive only covers February 1st, January 31st has no images
	conv := &Converter{
		Repo:    repo,
		OutPath: outPath,
		Start:   mustTime("2019-01-31T00"),
		End:     mustTime("2019-02-01T00"),
	}

	if err := conv.Calc(context.Background()); err != nil {
		t.Fatalf("conversion failed: %s", err)
	}

	cell := grid.CellOf(0, 0.25)
	cd, err := readCellFile(cellFilePath(outPath, cell, false))
	if err != nil {
		t.Fatalf("failed to read cell file: %s", err)
	}

	// timestamps before the first readable image must still be recorded
	if cd.timeCount() != 4 {
		t.Fatalf("time count: got %d, want 4", cd.timeCount())
	}
	if want := images.HoursSince(mustTime("2019-01-31T00")); cd.times[0] != want {
		t.Errorf("first timestamp: got %d, want %d", cd.times[0], want)
	}

	series := cd.values["swvl1"]
	if !math.IsNaN(float64(series[0])) || !math.IsNaN(float64(series[1])) {
		t.Errorf("leading gap not filled with NaN: got %v", series[:2])
	}
	if math.Abs(float64(series[2])-0.1) > 1e-6 || math.Abs(float64(series[3])-1.1) > 1e-6 {
		t.Errorf("location 0 series tail: got %v, want [0.1 1.1]", series[2:4])
	}
}

func TestFlushCanceledContext(t *testing.T) {
	// one point per cell, enough cells to keep the worker pool busy
	var lons, lats []float64
	for i := 0; i < 36; i++ {
		lons = append(lons, float64(i)*5+2.5)
		lats = append(lats, 2.5)
	}
	g, err := grid.IrregularGrid(lons, lats)
	if err != nil {
		t.Fatalf("failed to build grid: %s", err)
	}

	c := &Converter{OutPath: t.TempDir()}
	c.grid = g
	c.cellIdx = map[int][]int{}
	for i, cell := range g.Cells {
		c.cellIdx[cell] = append(c.cellIdx[cell], i)
	}

	chunk := map[string][][]float64{"swvl1": {make([]float64, g.Len())}}
	times := []time.Time{mustTime("2019-02-01T00")}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan error, 1)
	go func() { done <- c.flush(ctx, times, chunk, 2) }()

	select {
	case err := <-done:
		if err != nil && !errors.Is(err, context.Canceled) {
			t.Errorf("unexpected error: %s", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("flush did not return on canceled context")
	}
}

func TestAppendCellGridMismatch(t *testing.T) {
	outPath := t.TempDir()

	g, err := grid.IrregularGrid([]float64{0, 0.25}, []float64{0.25, 0.25})
	if err != nil {
		t.Fatalf("failed to build grid: %s", err)
	}

	c := &Converter{OutPath: outPath}
	c.grid = g
	c.cellIdx = map[int][]int{g.Cells[0]: {0, 1}}

	// a cell file left over from a different grid, same location count
	other := &cellData{
		gpis:   []int{7, 9},
		lons:   []float64{1, 1.25},
		lats:   []float64{0.25, 0.25},
		times:  []int32{images.HoursSince(mustTime("2019-02-01T00"))},
		values: map[string][]float32{"swvl1": {0.1, 0.2}},
	}
	path := cellFilePath(outPath, g.Cells[0], false)
	if err := writeCellFile(path, other, nil, nil, false); err != nil {
		t.Fatalf("failed to write cell file: %s", err)
	}

	job := cellJob{
		cell:  g.Cells[0],
		times: []time.Time{mustTime("2019-02-01T06")},
		chunk: map[string][][]float64{"swvl1": {{0.3, 0.4}}},
	}
	if err := c.appendCell(job); err == nil {
		t.Error("expecting error for cell file from another grid, got none")
	}
}

func TestConvertNoImages(t *testing.T) {
	repo := &images.Repository{
		Root:      t.TempDir(),
		Product:   "ERA5",
		Format:    images.FormatNetCDF,
		Variables: []string{"swvl1"},
		HSteps:    []int{0},
	}

	conv := &Converter{
		Repo:    repo,
		OutPath: t.TempDir(),
		Start:   mustTime("2019-02-01T00"),
		End:     mustTime("2019-02-01T00"),
	}

	if err := conv.Calc(context.Background()); err == nil {
		t.Error("expecting error for archive without images, got none")
	}
}
