package images

import (
	"fmt"
	"io/fs"
	"math"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/log"
)

const landMaskVar = "lsm"

func (r *Repository) maskSeaPoints(img *Image) error {
	if r.landMask == nil {
		if err := r.loadLandMask(img); err != nil {
			return err
		}
	}

	if len(r.landMask) != len(img.Lons)*len(img.Lats) {
		return fmt.Errorf("land mask has %d points, image %d", len(r.landMask), len(img.Lons)*len(img.Lats))
	}

	for name, values := range img.Values {
		if name == landMaskVar {
			continue
		}
		for i, frac := range r.landMask {
			if frac <= 0.5 {
				values[i] = math.NaN()
			}
		}
	}

	return nil
}

// loadLandMask finds the static land-sea mask: from the image itself if it
// carries one, else from the lsm image of the same timestamp, else from the
// first lsm image anywhere in the archive.
func (r *Repository) loadLandMask(img *Image) error {
	if values, ok := img.Values[landMaskVar]; ok {
		r.landMask = values
		return nil
	}

	probe := &Image{Values: map[string][]float64{}, Attrs: map[string]map[string]string{}}

	var err error
	if r.Format == FormatGRIB {
		err = r.readGRIB(probe, ImagePath(r.Root, r.Product, img.Time, landMaskVar, Ext(r.Format)), landMaskVar)
	} else {
		err = r.readNetCDF(probe, ImagePath(r.Root, r.Product, img.Time, landMaskVar, Ext(r.Format)), landMaskVar)
	}
	if err == nil {
		r.landMask = probe.Values[landMaskVar]
		return nil
	}

	path := r.findLandMaskImage()
	if path == "" {
		return fmt.Errorf("sea point masking needs a %s image in the archive, none found", landMaskVar)
	}

	log.Infof("reading land-sea mask from %s", path)

	probe = &Image{Values: map[string][]float64{}, Attrs: map[string]map[string]string{}}
	if r.Format == FormatGRIB {
		err = r.readGRIB(probe, path, landMaskVar)
	} else {
		err = r.readNetCDF(probe, path, landMaskVar)
	}
	if err != nil {
		return err
	}

	r.landMask = probe.Values[landMaskVar]

	return nil
}

func (r *Repository) findLandMaskImage() string {
	found := ""

	filepath.WalkDir(r.Root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil || entry.IsDir() || found != "" {
			return err
		}
		if strings.Contains(entry.Name(), "."+landMaskVar+".") {
			found = path
			return filepath.SkipAll
		}
		return nil
	})

	return found
}
