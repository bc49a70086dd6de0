// Package images manages the local archive of downloaded ERA5 images: one
// file per variable and timestamp, sorted into year and day-of-year folders.
package images

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

const (
	FormatNetCDF = "netcdf"
	FormatGRIB   = "grib"
)

// TimeUnits is the time encoding used in all NetCDF files written by this
// package.
const TimeUnits = "hours since 1900-01-01 00:00:0.0"

var timeEpoch = time.Date(1900, 1, 1, 0, 0, 0, 0, time.UTC)

var ErrNotFound = errors.New("image not found")

// HoursSince converts a timestamp into the archive time encoding.
func HoursSince(ts time.Time) int32 {
	return int32(ts.Sub(timeEpoch) / time.Hour)
}

// TimeFromHours converts an encoded time value back into a timestamp.
func TimeFromHours(hours float64) time.Time {
	return timeEpoch.Add(time.Duration(hours * float64(time.Hour)))
}

// Ext returns the file extension used for given storage format.
func Ext(format string) string {
	if format == FormatGRIB {
		return "grb"
	}
	return "nc"
}

// ImageDir returns the folder holding all images of a day.
func ImageDir(root string, ts time.Time) string {
	return filepath.Join(root,
		fmt.Sprintf("%04d", ts.Year()),
		fmt.Sprintf("%03d", ts.YearDay()))
}

// ImageName returns the file name of a single variable image, e.g.
// `ERA5_AN_20190201_0600.swvl1.nc`.
func ImageName(product string, ts time.Time, shortName, ext string) string {
	return fmt.Sprintf("%s_AN_%s_%s.%s.%s",
		product, ts.Format("20060102"), ts.Format("1504"), shortName, ext)
}

// ImagePath returns the full path of a single variable image.
func ImagePath(root, product string, ts time.Time, shortName, ext string) string {
	return filepath.Join(ImageDir(root, ts), ImageName(product, ts, shortName, ext))
}

// ParseImageName splits an image file name back into its parts.
func ParseImageName(name string) (product string, ts time.Time, shortName string, ext string, err error) {
	base := name
	parts := strings.Split(base, ".")
	if len(parts) != 3 {
		return "", time.Time{}, "", "", fmt.Errorf("unrecognized image name %q", name)
	}
	shortName, ext = parts[1], parts[2]

	stemParts := strings.Split(parts[0], "_")
	if len(stemParts) != 4 || stemParts[1] != "AN" {
		return "", time.Time{}, "", "", fmt.Errorf("unrecognized image name %q", name)
	}
	product = stemParts[0]

	ts, err = time.ParseInLocation("20060102 1504", stemParts[2]+" "+stemParts[3], time.UTC)
	if err != nil {
		return "", time.Time{}, "", "", fmt.Errorf("bad timestamp in image name %q: %s", name, err)
	}

	return product, ts, shortName, ext, nil
}

// Image is one timestamp of the archive: the coordinate axes plus the values
// of every requested variable, flattened latitude-major.
type Image struct {
	Time   time.Time
	Lons   []float64 // longitude axis, one value per column
	Lats   []float64 // latitude axis, one value per row
	Values map[string][]float64
	Attrs  map[string]map[string]string
}

// Points expands the coordinate axes into per point coordinate arrays
// matching the flattened value layout.
func (img *Image) Points() (lons, lats []float64) {
	n := len(img.Lats) * len(img.Lons)
	lons = make([]float64, 0, n)
	lats = make([]float64, 0, n)

	for _, lat := range img.Lats {
		for _, lon := range img.Lons {
			lons = append(lons, lon)
			lats = append(lats, lat)
		}
	}

	return lons, lats
}
