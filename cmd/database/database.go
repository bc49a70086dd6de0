package database

import (
	"context"
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/tuw-geo/eramodels/database"
	"github.com/urfave/cli/v3"
)

func Cmd() *cli.Command {
	return &cli.Command{
		Name:  "database",
		Usage: "image inventory management utility",
		Commands: []*cli.Command{
			subcmdScan(),
			subcmdExport(),
			subcmdImport(),
			subcmdMigrate(),
		},
	}
}

func subcmdScan() *cli.Command {
	var dbPath string
	var rootPath string

	return &cli.Command{
		Name:  "scan",
		Usage: "rebuild inventory entries from the files of an image archive",
		Arguments: []cli.Argument{
			&cli.StringArg{
				Name:        "dbpath",
				UsageText:   "<db>",
				Destination: &dbPath,
				Min:         1,
				Max:         1,
			},
			&cli.StringArg{
				Name:        "root",
				UsageText:   " <image root>",
				Destination: &rootPath,
				Min:         1,
				Max:         1,
			},
		},
		Action: func(_ context.Context, _ *cli.Command) error {
			db, err := database.Open(dbPath)
			if err != nil {
				return err
			}
			defer database.Close(db)

			count, err := database.Scan(db, rootPath)
			if err != nil {
				return err
			}

			log.Infof("%d images recorded", count)

			return nil
		},
	}
}

func subcmdExport() *cli.Command {
	var dbPath string
	var tableName string
	var csvFilePath string

	return &cli.Command{
		Name:  "export",
		Usage: "export a table as CSV",
		Arguments: []cli.Argument{
			&cli.StringArg{
				Name:        "dbpath",
				UsageText:   "<db>",
				Destination: &dbPath,
				Min:         1,
				Max:         1,
			},
			&cli.StringArg{
				Name:        "table-name",
				UsageText:   " <table>",
				Destination: &tableName,
				Min:         1,
				Max:         1,
			},
			&cli.StringArg{
				Name:        "csv-file",
				UsageText:   " <csv>",
				Destination: &csvFilePath,
				Min:         1,
				Max:         1,
			},
		},
		Action: func(_ context.Context, _ *cli.Command) error {
			model := database.GetModel(tableName)
			if model == nil {
				return fmt.Errorf("invalid table name %q", tableName)
			}

			db, err := database.Open(dbPath)
			if err != nil {
				return err
			}
			defer database.Close(db)

			return database.ExportCSV(db, model, csvFilePath)
		},
	}
}

func subcmdImport() *cli.Command {
	var dbPath string
	var csvFilePath string
	var tableName string

	return &cli.Command{
		Name:  "import",
		Usage: "import table data from CSV",
		Arguments: []cli.Argument{
			&cli.StringArg{
				Name:        "dbpath",
				UsageText:   "<db>",
				Destination: &dbPath,
				Min:         1,
				Max:         1,
			},
			&cli.StringArg{
				Name:        "csv-file",
				UsageText:   " <csv>",
				Destination: &csvFilePath,
				Min:         1,
				Max:         1,
			},
			&cli.StringArg{
				Name:        "table-name",
				UsageText:   " <table>",
				Destination: &tableName,
				Min:         1,
				Max:         1,
			},
		},
		Action: func(_ context.Context, _ *cli.Command) error {
			model := database.GetModel(tableName)
			if model == nil {
				return fmt.Errorf("invalid table name %q", tableName)
			}

			db, err := database.Open(dbPath)
			if err != nil {
				return err
			}
			defer database.Close(db)

			return database.ImportCSV(db, model, csvFilePath)
		},
	}
}

func subcmdMigrate() *cli.Command {
	var dbPath string

	return &cli.Command{
		Name:  "migrate",
		Usage: "auto migrate database schema",
		Arguments: []cli.Argument{
			&cli.StringArg{
				Name:        "dbpath",
				UsageText:   "<path>",
				Destination: &dbPath,
				Min:         1,
				Max:         1,
			},
		},
		Action: func(_ context.Context, _ *cli.Command) error {
			db, err := database.Open(dbPath)
			if err != nil {
				return err
			}
			defer database.Close(db)

			return database.Migrate(db)
		},
	}
}
