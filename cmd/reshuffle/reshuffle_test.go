package reshuffle

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/tuw-geo/eramodels/format/netcdf"
	"github.com/tuw-geo/eramodels/images"
)

func mustTime(value string) time.Time {
	ts, err := time.ParseInLocation("2006-01-02T15", value, time.UTC)
	if err != nil {
		panic(err)
	}
	return ts
}

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

func TestReshuffleCommand(t *testing.T) {
	root := t.TempDir()
	outPath := t.TempDir()

	buildArchive(t, root)

	args := []string{
		"reshuffle",
		"-s", "2019-02-01",
		"-e", "2019-02-01",
		"--variables", "swvl1",
		"--h-steps", "0",
		"--h-steps", "6",
		root, outPath,
	}
	if err := Cmd().Run(context.Background(), args); err != nil {
		t.Fatalf("command failed: %s", err)
	}

	matches, err := filepath.Glob(filepath.Join(outPath, "*.nc"))
	if err != nil || len(matches) != 1 {
		t.Fatalf("cell files: got %v (%v), want one", matches, err)
	}

	f, err := netcdf.ReadFile(matches[0])
	if err != nil {
		t.Fatalf("failed to read cell file: %s", err)
	}

	// the product attribute names the source format of the archive
	if got := netcdf.AttrString(f.Attrs, "product"); got != "ERA5 (from netcdf)" {
		t.Errorf("product attribute: got %q, want %q", got, "ERA5 (from netcdf)")
	}
}
