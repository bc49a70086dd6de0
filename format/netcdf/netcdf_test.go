package netcdf

import (
	"bytes"
	"math"
	"testing"
)

func sampleFile() *File {
	return &File{
		Dims: []Dim{
			{Name: "time", Len: 0},
			{Name: "lat", Len: 2},
			{Name: "lon", Len: 3},
		},
		Attrs: []Attr{
			{Name: "product", Value: "ERA5 (from netcdf)"},
		},
		Vars: []Var{
			{
				Name: "lat",
				Type: Double,
				Dims: []int{1},
				Data: []float64{0.25, 0},
			},
			{
				Name: "lon",
				Type: Double,
				Dims: []int{2},
				Data: []float64{0, 0.25, 0.5},
			},
			{
				Name: "time",
				Type: Int,
				Dims: []int{0},
				Data: []int32{1042776, 1042782},
			},
			{
				Name: "swvl1",
				Type: Float,
				Dims: []int{0, 1, 2},
				Attrs: []Attr{
					{Name: "units", Value: "m**3 m**-3"},
					{Name: "long_name", Value: "Volumetric soil water layer 1"},
				},
				Data: []float32{
					0.1, 0.2, 0.3, 0.4, 0.5, 0.6,
					1.1, 1.2, 1.3, 1.4, 1.5, 1.6,
				},
			},
		},
	}
}

func TestEncodeDecode(t *testing.T) {
	src := sampleFile()

	var buf bytes.Buffer
	if err := src.Encode(&buf); err != nil {
		t.Fatalf("failed to encode: %s", err)
	}

	f, err := Decode(buf.Bytes())
	if err != nil {
		t.Fatalf("failed to decode: %s", err)
	}

	if f.NumRecs != 2 {
		t.Errorf("record count: got %d, want 2", f.NumRecs)
	}

	if got := AttrString(f.Attrs, "product"); got != "ERA5 (from netcdf)" {
		t.Errorf("global attribute: got %q", got)
	}

	dim, ok := f.Dim("lon")
	if !ok || dim.Len != 3 {
		t.Errorf("lon dimension: got (%v, %v)", dim, ok)
	}

	v, ok := f.Var("swvl1")
	if !ok {
		t.Fatal("variable swvl1 missing after round trip")
	}
	if got := AttrString(v.Attrs, "units"); got != "m**3 m**-3" {
		t.Errorf("variable attribute: got %q", got)
	}

	values, err := v.Values()
	if err != nil {
		t.Fatalf("failed to unpack values: %s", err)
	}
	if len(values) != 12 {
		t.Fatalf("value count: got %d, want 12", len(values))
	}
	if math.Abs(values[7]-1.2) > 1e-6 {
		t.Errorf("value 7: got %g, want 1.2", values[7])
	}

	times, ok := f.Var("time")
	if !ok {
		t.Fatal("variable time missing after round trip")
	}
	timeValues, err := times.Values()
	if err != nil {
		t.Fatalf("failed to read times: %s", err)
	}
	if timeValues[1] != 1042782 {
		t.Errorf("time 1: got %g, want 1042782", timeValues[1])
	}
}

func TestPackedShortUnpacking(t *testing.T) {
	v := Var{
		Name: "tp",
		Type: Short,
		Attrs: []Attr{
			{Name: "scale_factor", Value: []float64{0.5}},
			{Name: "add_offset", Value: []float64{100}},
			{Name: "_FillValue", Value: []int16{-32767}},
		},
		Data: []int16{0, 2, -32767},
	}

	values, err := v.Values()
	if err != nil {
		t.Fatalf("failed to unpack: %s", err)
	}

	if values[0] != 100 || values[1] != 101 {
		t.Errorf("unpacked values: got %v, want [100 101 NaN]", values[:2])
	}
	if !math.IsNaN(values[2]) {
		t.Errorf("fill value not mapped to NaN: got %g", values[2])
	}
}

func TestDecodeRejectsGarbage(t *testing.T) {
	if _, err := Decode([]byte("HDF\x01 definitely not netcdf")); err == nil {
		t.Error("expecting error for bad magic, got none")
	}

	src := sampleFile()
	var buf bytes.Buffer
	if err := src.Encode(&buf); err != nil {
		t.Fatalf("failed to encode: %s", err)
	}

	if _, err := Decode(buf.Bytes()[:40]); err == nil {
		t.Error("expecting error for truncated header, got none")
	}
}
