// Package database keeps an inventory of every downloaded image in a sqlite
// file, so archives can be audited and resumed without rescanning remote
// data.
package database

import (
	"fmt"

	"github.com/glebarez/sqlite"
	"github.com/tuw-geo/eramodels/database/data_model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

func Open(filePath string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(filePath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database %s: %s", filePath, err)
	}

	if err := Migrate(db); err != nil {
		return nil, err
	}

	return db, nil
}

func Migrate(db *gorm.DB) error {
	err := db.AutoMigrate(
		&data_model.ImageEntry{},
	)
	if err != nil {
		return fmt.Errorf("database migration failed: %s", err)
	}

	return nil
}

func Close(db *gorm.DB) error {
	inner, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to close database, can't read inner data: %s", err)
	}

	err = inner.Close()
	if err != nil {
		return fmt.Errorf("failed to close inner database: %s", err)
	}

	return nil
}

// GetModel resolves a table name given on the command line.
func GetModel(tableName string) any {
	return data_model.TableName(tableName)
}

// RecordImage inserts or refreshes the inventory entry of one image file,
// keyed by path.
func RecordImage(db *gorm.DB, entry *data_model.ImageEntry) error {
	result := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "path"}},
		UpdateAll: true,
	}).Create(entry)

	if result.Error != nil {
		return fmt.Errorf("failed to record image %s: %s", entry.Path, result.Error)
	}

	return nil
}
