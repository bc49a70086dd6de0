package images

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/tuw-geo/eramodels/common"
	"github.com/tuw-geo/eramodels/format/grib"
	"github.com/tuw-geo/eramodels/format/netcdf"
	"github.com/tuw-geo/eramodels/varinfo"
)

// coordinate and bookkeeping variables that are not split into images of
// their own
func isCoordVar(name string) bool {
	switch name {
	case "latitude", "longitude", "lat", "lon", "time", "number", "expver":
		return true
	}
	return false
}

// packing attributes are dropped when rewriting unpacked float data
func isPackingAttr(name string) bool {
	switch name {
	case "scale_factor", "add_offset", "_FillValue", "missing_value":
		return true
	}
	return false
}

// SplitNetCDF explodes a downloaded multi-variable period file into one
// image file per variable and timestamp under `root`. Returns the paths of
// all written images.
func SplitNetCDF(srcPath, root, product string) ([]string, error) {
	src, err := netcdf.ReadFile(srcPath)
	if err != nil {
		return nil, err
	}

	latVar, err := coordValues(src, "latitude", "lat")
	if err != nil {
		return nil, fmt.Errorf("%s: %s", srcPath, err)
	}
	lonVar, err := coordValues(src, "longitude", "lon")
	if err != nil {
		return nil, fmt.Errorf("%s: %s", srcPath, err)
	}

	timeVar, ok := src.Var("time")
	if !ok {
		return nil, fmt.Errorf("%s: no time variable", srcPath)
	}
	timeValues, err := timeVar.Values()
	if err != nil {
		return nil, fmt.Errorf("%s: %s", srcPath, err)
	}

	var written []string

	for i := range src.Vars {
		v := &src.Vars[i]
		if isCoordVar(v.Name) {
			continue
		}

		values, err := v.Values()
		if err != nil {
			return nil, fmt.Errorf("%s: variable %s: %s", srcPath, v.Name, err)
		}

		perImage := len(latVar) * len(lonVar)
		if len(values) != perImage*len(timeValues) {
			return nil, fmt.Errorf("%s: variable %s has %d values, expecting %d",
				srcPath, v.Name, len(values), perImage*len(timeValues))
		}

		for t, hours := range timeValues {
			ts := TimeFromHours(hours)

			path, err := writeImage(root, product, ts, v, latVar, lonVar,
				values[t*perImage:(t+1)*perImage])
			if err != nil {
				return nil, err
			}
			written = append(written, path)
		}
	}

	return written, nil
}

func coordValues(f *netcdf.File, names ...string) ([]float64, error) {
	for _, name := range names {
		if v, ok := f.Var(name); ok {
			return v.Values()
		}
	}
	return nil, fmt.Errorf("no %s variable", names[0])
}

func writeImage(root, product string, ts time.Time, src *netcdf.Var, lats, lons, values []float64) (string, error) {
	dir := ImageDir(root, ts)
	if err := common.EnsureDir(dir); err != nil {
		return "", err
	}

	var attrs []netcdf.Attr
	for _, attr := range src.Attrs {
		if !isPackingAttr(attr.Name) {
			attrs = append(attrs, attr)
		}
	}

	data := make([]float32, len(values))
	for i, v := range values {
		data[i] = float32(v)
	}

	out := &netcdf.File{
		Dims: []netcdf.Dim{
			{Name: "time", Len: 1},
			{Name: "lat", Len: len(lats)},
			{Name: "lon", Len: len(lons)},
		},
		Attrs: []netcdf.Attr{
			{Name: "product", Value: product},
		},
		Vars: []netcdf.Var{
			{Name: "time", Type: netcdf.Int, Dims: []int{0},
				Attrs: []netcdf.Attr{{Name: "units", Value: TimeUnits}},
				Data:  []int32{HoursSince(ts)}},
			{Name: "lat", Type: netcdf.Double, Dims: []int{1}, Data: append([]float64(nil), lats...)},
			{Name: "lon", Type: netcdf.Double, Dims: []int{2}, Data: append([]float64(nil), lons...)},
			{Name: src.Name, Type: netcdf.Float, Dims: []int{0, 1, 2}, Attrs: attrs, Data: data},
		},
	}

	path := ImagePath(root, product, ts, src.Name, Ext(FormatNetCDF))
	if err := out.WriteFile(path); err != nil {
		return "", err
	}

	return path, nil
}

// SplitGRIB explodes a downloaded GRIB period file into one single-message
// file per parameter and timestamp under `root`. Messages whose parameter
// code is not in the variable table keep their numeric code as name.
func SplitGRIB(srcPath, root, product string, table *varinfo.Table) ([]string, error) {
	data, err := os.ReadFile(srcPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read GRIB file %s: %s", srcPath, err)
	}

	messages, err := grib.Split(data)
	if err != nil {
		return nil, fmt.Errorf("failed to split GRIB file %s: %s", srcPath, err)
	}

	var written []string

	for _, msg := range messages {
		shortName := fmt.Sprintf("%d", msg.Param)
		if row, ok := table.ByParam(msg.Param); ok {
			shortName = row.ShortName
		} else {
			log.Warnf("unknown GRIB parameter %d in %s", msg.Param, srcPath)
		}

		dir := ImageDir(root, msg.RefTime)
		if err := common.EnsureDir(dir); err != nil {
			return nil, err
		}

		path := ImagePath(root, product, msg.RefTime, shortName, Ext(FormatGRIB))
		if err := os.WriteFile(path, msg.Raw, 0o644); err != nil {
			return nil, fmt.Errorf("failed to write image %s: %s", path, err)
		}

		written = append(written, path)
	}

	return written, nil
}

// Split dispatches on the extension of the downloaded file.
func Split(srcPath, root, product string, table *varinfo.Table) ([]string, error) {
	if strings.HasSuffix(srcPath, ".grb") {
		return SplitGRIB(srcPath, root, product, table)
	}
	return SplitNetCDF(srcPath, root, product)
}
