package timeseries

import (
	"bufio"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/tuw-geo/eramodels/format/netcdf"
	"github.com/tuw-geo/eramodels/grid"
	"github.com/tuw-geo/eramodels/images"
)

// cellData is the in-memory form of one cell time series file: per variable
// a [location][time] matrix flattened location-major.
type cellData struct {
	gpis   []int
	lons   []float64
	lats   []float64
	times  []int32
	values map[string][]float32
}

func (cd *cellData) timeCount() int {
	return len(cd.times)
}

// appendChunk extends every series by the given timestamps. `chunk` holds
// per variable one slice per timestamp with one value per cell location; a
// nil timestamp slice stands for a missing image and becomes NaN.
func (cd *cellData) appendChunk(times []time.Time, chunk map[string][][]float64) {
	for _, ts := range times {
		cd.times = append(cd.times, images.HoursSince(ts))
	}

	n := len(cd.gpis)
	for name, perStamp := range chunk {
		series, ok := cd.values[name]
		if !ok {
			series = make([]float32, 0, n*len(times))
		}

		// grow per location, keeping the location-major layout
		old := series
		oldT := 0
		if n > 0 {
			oldT = len(old) / n
		}

		grown := make([]float32, 0, len(old)+n*len(times))
		for loc := 0; loc < n; loc++ {
			grown = append(grown, old[loc*oldT:(loc+1)*oldT]...)
			for t := range times {
				if perStamp[t] == nil {
					grown = append(grown, float32(math.NaN()))
				} else {
					grown = append(grown, float32(perStamp[t][loc]))
				}
			}
		}

		cd.values[name] = grown
	}
}

// readCellFile loads an existing cell file so new chunks can be appended.
func readCellFile(path string) (*cellData, error) {
	f, err := netcdf.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cd := &cellData{values: map[string][]float32{}}

	read := func(name string) ([]float64, error) {
		v, ok := f.Var(name)
		if !ok {
			return nil, fmt.Errorf("%s: no variable %s", path, name)
		}
		return v.Values()
	}

	lons, err := read("lon")
	if err != nil {
		return nil, err
	}
	lats, err := read("lat")
	if err != nil {
		return nil, err
	}
	gpis, err := read("location_id")
	if err != nil {
		return nil, err
	}
	timeValues, err := read("time")
	if err != nil {
		return nil, err
	}

	cd.lons = lons
	cd.lats = lats
	for _, gpi := range gpis {
		cd.gpis = append(cd.gpis, int(gpi))
	}
	for _, t := range timeValues {
		cd.times = append(cd.times, int32(t))
	}

	for i := range f.Vars {
		v := &f.Vars[i]
		switch v.Name {
		case "lon", "lat", "location_id", "time":
			continue
		}

		values, err := v.Values()
		if err != nil {
			return nil, fmt.Errorf("%s: variable %s: %s", path, v.Name, err)
		}

		series := make([]float32, len(values))
		for j, value := range values {
			series[j] = float32(value)
		}
		cd.values[v.Name] = series
	}

	return cd, nil
}

// writeCellFile stores a cell time series, gzip compressed when asked to.
func writeCellFile(path string, cd *cellData, varAttrs map[string]map[string]string,
	globalAttrs map[string]string, compress bool) error {

	nLoc := len(cd.gpis)
	nTime := cd.timeCount()

	gpis := make([]int32, nLoc)
	for i, gpi := range cd.gpis {
		gpis[i] = int32(gpi)
	}

	f := &netcdf.File{
		Dims: []netcdf.Dim{
			{Name: "loc", Len: nLoc},
			{Name: "time", Len: nTime},
		},
		Vars: []netcdf.Var{
			{Name: "lon", Type: netcdf.Double, Dims: []int{0}, Data: cd.lons},
			{Name: "lat", Type: netcdf.Double, Dims: []int{0}, Data: cd.lats},
			{Name: "location_id", Type: netcdf.Int, Dims: []int{0}, Data: gpis},
			{Name: "time", Type: netcdf.Int, Dims: []int{1},
				Attrs: []netcdf.Attr{{Name: "units", Value: images.TimeUnits}},
				Data:  append([]int32(nil), cd.times...)},
		},
	}

	for _, name := range sortedKeys(globalAttrs) {
		f.Attrs = append(f.Attrs, netcdf.Attr{Name: name, Value: globalAttrs[name]})
	}

	for _, name := range sortedKeys(cd.values) {
		attrs := []netcdf.Attr{
			{Name: "_FillValue", Value: []float32{float32(math.NaN())}},
		}
		for _, attrName := range sortedKeys(varAttrs[name]) {
			attrs = append(attrs, netcdf.Attr{Name: attrName, Value: varAttrs[name][attrName]})
		}

		f.Vars = append(f.Vars, netcdf.Var{
			Name:  name,
			Type:  netcdf.Float,
			Dims:  []int{0, 1},
			Attrs: attrs,
			Data:  append([]float32(nil), cd.values[name]...),
		})
	}

	if !compress {
		return f.WriteFile(path)
	}

	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create cell file %s: %s", path, err)
	}
	defer file.Close()

	bufWriter := bufio.NewWriter(file)
	gzWriter := gzip.NewWriter(bufWriter)

	if err := f.Encode(gzWriter); err != nil {
		return fmt.Errorf("failed to write cell file %s: %s", path, err)
	}
	if err := gzWriter.Close(); err != nil {
		return fmt.Errorf("failed to finish cell file %s: %s", path, err)
	}

	return bufWriter.Flush()
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// cellFilePath returns the path of a cell file, with the gzip suffix when
// compressed output is enabled.
func cellFilePath(outPath string, cell int, compress bool) string {
	name := grid.CellFilename(cell)
	if compress {
		name += ".gz"
	}
	return filepath.Join(outPath, name)
}
