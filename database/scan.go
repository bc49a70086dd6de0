package database

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/tuw-geo/eramodels/database/data_model"
	"github.com/tuw-geo/eramodels/images"
	"gorm.io/gorm"
)

// Scan walks an image archive and (re)builds inventory entries from the
// files found on disk. Files that don't match the image naming scheme are
// skipped with a warning. Returns the number of recorded images.
func Scan(db *gorm.DB, root string) (int, error) {
	count := 0

	err := filepath.WalkDir(root, func(path string, entry fs.DirEntry, err error) error {
		if err != nil || entry.IsDir() {
			return err
		}

		name := entry.Name()
		if !strings.HasSuffix(name, ".nc") && !strings.HasSuffix(name, ".grb") {
			return nil
		}

		if recordErr := RecordFile(db, path); recordErr != nil {
			log.Warnf("skipping %s: %s", path, recordErr)
			return nil
		}

		count++

		return nil
	})
	if err != nil {
		return count, fmt.Errorf("failed to scan archive %s: %s", root, err)
	}

	return count, nil
}

// RecordFile records one image file in the inventory, deriving product,
// variable and timestamp from its file name.
func RecordFile(db *gorm.DB, path string) error {
	product, ts, shortName, ext, err := images.ParseImageName(filepath.Base(path))
	if err != nil {
		return err
	}

	format := images.FormatNetCDF
	if ext == "grb" {
		format = images.FormatGRIB
	}

	info, err := os.Stat(path)
	if err != nil {
		return err
	}

	checksum, err := fileChecksum(path)
	if err != nil {
		return err
	}

	return RecordImage(db, &data_model.ImageEntry{
		Path:      path,
		Product:   product,
		Variable:  shortName,
		Format:    format,
		Timestamp: ts,
		SizeBytes: info.Size(),
		Checksum:  checksum,
	})
}

func fileChecksum(path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open %s: %s", path, err)
	}
	defer file.Close()

	hash := sha256.New()
	if _, err := io.Copy(hash, file); err != nil {
		return "", fmt.Errorf("failed to checksum %s: %s", path, err)
	}

	return hex.EncodeToString(hash.Sum(nil)), nil
}
