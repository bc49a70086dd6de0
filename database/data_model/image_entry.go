package data_model

import (
	"time"

	"gorm.io/gorm"
)

// ImageEntry records one stored image file of the archive.
type ImageEntry struct {
	gorm.Model

	Path      string `gorm:"unique"`
	Product   string
	Variable  string
	Format    string
	Timestamp time.Time
	SizeBytes int64
	Checksum  string
}
