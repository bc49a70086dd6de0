package images

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/tuw-geo/eramodels/format/grib"
	"github.com/tuw-geo/eramodels/format/netcdf"
)

// Repository reads images back out of an archive directory.
type Repository struct {
	Root      string
	Product   string
	Format    string
	Variables []string // short names
	HSteps    []int

	// MaskSea replaces values over water with NaN, using the land-sea mask
	// field of the archive. The mask is static, it is read once from the
	// first image that carries it.
	MaskSea bool

	landMask []float64
}

// DetectFormat walks an archive and decides whether it holds NetCDF or GRIB
// images. Mixed archives and archives without a single image are errors.
func DetectFormat(root string) (string, error) {
	format := ""

	err := filepath.WalkDir(root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil || entry.IsDir() {
			return err
		}

		var found string
		switch {
		case strings.HasSuffix(path, ".nc"), strings.HasSuffix(path, ".nc.gz"):
			found = FormatNetCDF
		case strings.HasSuffix(path, ".grb"):
			found = FormatGRIB
		default:
			return nil
		}

		if format != "" && format != found {
			return fmt.Errorf("archive %s mixes NetCDF and GRIB images", root)
		}
		format = found

		return nil
	})
	if err != nil {
		return "", err
	}

	if format == "" {
		return "", fmt.Errorf("no images found under %s", root)
	}

	return format, nil
}

// Timestamps lists all image timestamps between two dates (inclusive) at the
// repository's hour steps.
func (r *Repository) Timestamps(start, end time.Time) []time.Time {
	var stamps []time.Time

	for day := start; !day.After(end); day = day.AddDate(0, 0, 1) {
		for _, h := range r.HSteps {
			stamps = append(stamps, time.Date(
				day.Year(), day.Month(), day.Day(), h, 0, 0, 0, time.UTC))
		}
	}

	return stamps
}

// Read loads all repository variables for one timestamp. A missing image
// file reports ErrNotFound wrapped with path context.
func (r *Repository) Read(ts time.Time) (*Image, error) {
	img := &Image{
		Time:   ts,
		Values: map[string][]float64{},
		Attrs:  map[string]map[string]string{},
	}

	for _, shortName := range r.Variables {
		path := ImagePath(r.Root, r.Product, ts, shortName, Ext(r.Format))

		var err error
		if r.Format == FormatGRIB {
			err = r.readGRIB(img, path, shortName)
		} else {
			err = r.readNetCDF(img, path, shortName)
		}
		if err != nil {
			return nil, err
		}
	}

	if r.MaskSea {
		if err := r.maskSeaPoints(img); err != nil {
			return nil, err
		}
	}

	return img, nil
}

func (r *Repository) readNetCDF(img *Image, path, shortName string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		// cell writers gzip their output, downloaded archives may too
		if _, err := os.Stat(path + ".gz"); err == nil {
			path += ".gz"
		} else {
			return fmt.Errorf("%w: %s", ErrNotFound, path)
		}
	}

	f, err := netcdf.ReadFile(path)
	if err != nil {
		return err
	}

	lats, err := coordValues(f, "lat", "latitude")
	if err != nil {
		return fmt.Errorf("%s: %s", path, err)
	}
	lons, err := coordValues(f, "lon", "longitude")
	if err != nil {
		return fmt.Errorf("%s: %s", path, err)
	}

	v, ok := f.Var(shortName)
	if !ok {
		return fmt.Errorf("%s: no variable %s", path, shortName)
	}

	values, err := v.Values()
	if err != nil {
		return fmt.Errorf("%s: %s", path, err)
	}

	attrs := map[string]string{}
	for _, attr := range v.Attrs {
		if s, ok := attr.Value.(string); ok {
			attrs[attr.Name] = s
		}
	}

	return img.add(shortName, lons, lats, values, attrs)
}

func (r *Repository) readGRIB(img *Image, path, shortName string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return fmt.Errorf("failed to read image %s: %s", path, err)
	}

	messages, err := grib.Split(data)
	if err != nil {
		return fmt.Errorf("failed to parse image %s: %s", path, err)
	}
	if len(messages) > 1 {
		log.Warnf("image %s holds %d messages, using the first", path, len(messages))
	}

	field, err := messages[0].Decode()
	if err != nil {
		return fmt.Errorf("failed to decode image %s: %s", path, err)
	}

	return img.add(shortName, field.Lons(), field.Lats(), field.Values, nil)
}

// add stores one variable field, checking that all fields of a timestamp
// share the same coordinate axes.
func (img *Image) add(shortName string, lons, lats, values []float64, attrs map[string]string) error {
	if img.Lons == nil {
		img.Lons = lons
		img.Lats = lats
	} else if len(lons) != len(img.Lons) || len(lats) != len(img.Lats) {
		return fmt.Errorf("variable %s is on a %dx%d grid, expecting %dx%d",
			shortName, len(lats), len(lons), len(img.Lats), len(img.Lons))
	}

	if len(values) != len(img.Lons)*len(img.Lats) {
		return fmt.Errorf("variable %s: %d values on a %dx%d grid",
			shortName, len(values), len(img.Lats), len(img.Lons))
	}

	img.Values[shortName] = values
	if attrs != nil {
		img.Attrs[shortName] = attrs
	}

	return nil
}
