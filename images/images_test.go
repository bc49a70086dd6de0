package images

import (
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/tuw-geo/eramodels/format/netcdf"
)

func samplePeriodFile() *netcdf.File {
	// two timestamps, 2x3 grid, one data variable plus the land-sea mask
	return &netcdf.File{
		Dims: []netcdf.Dim{
			{Name: "time", Len: 2},
			{Name: "latitude", Len: 2},
			{Name: "longitude", Len: 3},
		},
		Vars: []netcdf.Var{
			{Name: "time", Type: netcdf.Int, Dims: []int{0},
				Attrs: []netcdf.Attr{{Name: "units", Value: TimeUnits}},
				Data:  []int32{HoursSince(mustTime("2019-02-01T00")), HoursSince(mustTime("2019-02-01T06"))}},
			{Name: "latitude", Type: netcdf.Double, Dims: []int{1}, Data: []float64{0.25, 0}},
			{Name: "longitude", Type: netcdf.Double, Dims: []int{2}, Data: []float64{0, 0.25, 0.5}},
			{Name: "swvl1", Type: netcdf.Float, Dims: []int{0, 1, 2},
				Attrs: []netcdf.Attr{{Name: "units", Value: "m**3 m**-3"}},
				Data: []float32{
					0.1, 0.2, 0.3, 0.4, 0.5, 0.6,
					1.1, 1.2, 1.3, 1.4, 1.5, 1.6,
				}},
			{Name: "lsm", Type: netcdf.Float, Dims: []int{0, 1, 2},
				Data: []float32{
					1, 0, 1, 0, 1, 0,
					1, 0, 1, 0, 1, 0,
				}},
		},
	}
}

func mustTime(value string) time.Time {
	ts, err := time.ParseInLocation("2006-01-02T15", value, time.UTC)
	if err != nil {
		panic(err)
	}
	return ts
}

func TestImageName(t *testing.T) {
	ts := mustTime("2019-02-01T06")

	name := ImageName("ERA5", ts, "swvl1", "nc")
	if name != "ERA5_AN_20190201_0600.swvl1.nc" {
		t.Errorf("image name: got %q", name)
	}

	product, parsed, shortName, ext, err := ParseImageName(name)
	if err != nil {
		t.Fatalf("failed to parse image name: %s", err)
	}
	if product != "ERA5" || shortName != "swvl1" || ext != "nc" || !parsed.Equal(ts) {
		t.Errorf("parsed name: got (%s, %s, %s, %s)", product, parsed, shortName, ext)
	}

	dir := ImageDir("/data", ts)
	if dir != filepath.Join("/data", "2019", "032") {
		t.Errorf("image dir: got %q", dir)
	}
}

func TestSplitNetCDFAndRead(t *testing.T) {
	root := t.TempDir()

	srcPath := filepath.Join(root, "20190201_20190228.nc")
	if err := samplePeriodFile().WriteFile(srcPath); err != nil {
		t.Fatalf("failed to write period file: %s", err)
	}

	written, err := SplitNetCDF(srcPath, root, "ERA5")
	if err != nil {
		t.Fatalf("failed to split: %s", err)
	}
	// 2 variables x 2 timestamps
	if len(written) != 4 {
		t.Fatalf("written image count: got %d, want 4", len(written))
	}
	for _, path := range written {
		if _, err := os.Stat(path); err != nil {
			t.Errorf("missing image file %s", path)
		}
	}

	format, err := DetectFormat(root)
	if err != nil || format != FormatNetCDF {
		t.Fatalf("detect format: got (%s, %v)", format, err)
	}

	repo := &Repository{
		Root:      root,
		Product:   "ERA5",
		Format:    format,
		Variables: []string{"swvl1"},
		HSteps:    []int{0, 6},
		MaskSea:   true,
	}

	img, err := repo.Read(mustTime("2019-02-01T06"))
	if err != nil {
		t.Fatalf("failed to read image: %s", err)
	}

	values := img.Values["swvl1"]
	if len(values) != 6 {
		t.Fatalf("value count: got %d, want 6", len(values))
	}

	// land points keep their value, sea points become NaN
	if math.Abs(values[0]-1.1) > 1e-6 {
		t.Errorf("land point: got %g, want 1.1", values[0])
	}
	if !math.IsNaN(values[1]) {
		t.Errorf("sea point not masked: got %g", values[1])
	}

	if got := img.Attrs["swvl1"]["units"]; got != "m**3 m**-3" {
		t.Errorf("variable attrs not carried: got %q", got)
	}

	lons, lats := img.Points()
	if len(lons) != 6 || lats[0] != 0.25 || lons[3] != 0 || lats[3] != 0 {
		t.Errorf("point expansion wrong: lons %v lats %v", lons, lats)
	}
}

func TestReadMissingImage(t *testing.T) {
	repo := &Repository{
		Root:      t.TempDir(),
		Product:   "ERA5",
		Format:    FormatNetCDF,
		Variables: []string{"swvl1"},
		HSteps:    []int{0},
	}

	_, err := repo.Read(mustTime("2019-02-01T00"))
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expecting ErrNotFound, got %v", err)
	}
}

func TestTimestamps(t *testing.T) {
	repo := &Repository{HSteps: []int{0, 6, 12, 18}}

	stamps := repo.Timestamps(mustTime("2019-02-01T00"), mustTime("2019-02-03T00"))
	if len(stamps) != 12 {
		t.Fatalf("timestamp count: got %d, want 12", len(stamps))
	}
	if !stamps[5].Equal(mustTime("2019-02-02T06")) {
		t.Errorf("timestamp 5: got %s", stamps[5])
	}
}
