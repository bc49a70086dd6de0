package download

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/charmbracelet/log"
	"github.com/tuw-geo/eramodels/cdsapi"
	"github.com/tuw-geo/eramodels/common"
	"github.com/tuw-geo/eramodels/database"
	"github.com/tuw-geo/eramodels/images"
	"github.com/tuw-geo/eramodels/varinfo"
	"github.com/urfave/cli/v3"
	"gorm.io/gorm"
)

const (
	product = "ERA5"
	dataset = "reanalysis-era5-single-levels"
)

// Directory under the archive root where period files land before they are
// split into single images.
const tempDirName = "temp_downloaded"

func Cmd() *cli.Command {
	var localRoot string

	cmd := &cli.Command{
		Name:    "download",
		Aliases: []string{"dl"},
		Usage:   "download ERA5 images from the Climate Data Store into a local archive",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "start",
				Aliases: []string{"s"},
				Usage:   "first date to download, formatted as YYYY-MM-DD",
				Value:   "1979-01-01",
			},
			&cli.StringFlag{
				Name:    "end",
				Aliases: []string{"e"},
				Usage:   "last date to download, formatted as YYYY-MM-DD, defaults to today",
			},
			&cli.StringSliceFlag{
				Name:  "variables",
				Usage: "variables to download, download names or short names, defaults to the soil moisture set",
			},
			&cli.IntSliceFlag{
				Name:  "h-steps",
				Usage: "full hours of day to download images for",
				Value: []int64{0, 6, 12, 18},
			},
			&cli.BoolFlag{
				Name:  "as-grib",
				Usage: "download images as GRIB files instead of NetCDF",
			},
			&cli.BoolFlag{
				Name:  "keep-original",
				Usage: "keep downloaded period files after splitting them into single images",
			},
			&cli.BoolFlag{
				Name:  "dry-run",
				Usage: "log planned requests without talking to the remote service",
			},
			&cli.StringFlag{
				Name:  "rc",
				Usage: "path of CDS API credential file, defaults to ~/.cdsapirc",
			},
			&cli.StringFlag{
				Name:  "db",
				Usage: "path of image inventory database, downloaded images get recorded when given",
			},
		},
		Arguments: []cli.Argument{
			&cli.StringArg{
				Name:        "localroot",
				UsageText:   "<root>",
				Destination: &localRoot,
				Min:         1,
				Max:         1,
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			options, err := getOptionsFromCmd(cmd, localRoot)
			if err != nil {
				return err
			}

			return cmdMain(ctx, options)
		},
	}

	return cmd
}

type options struct {
	localRoot string
	start     time.Time
	end       time.Time

	table     *varinfo.Table
	variables []varinfo.Variable
	hSteps    []int

	grb          bool
	keepOriginal bool
	dryRun       bool

	rcPath string
	dbPath string
}

func getOptionsFromCmd(cmd *cli.Command, localRoot string) (options, error) {
	options := options{
		localRoot:    localRoot,
		grb:          cmd.Bool("as-grib"),
		keepOriginal: cmd.Bool("keep-original"),
		dryRun:       cmd.Bool("dry-run"),
		rcPath:       cmd.String("rc"),
		dbPath:       cmd.String("db"),
	}

	var err error

	options.start, err = common.MkDate(cmd.String("start"))
	if err != nil {
		return options, err
	}

	endStr := cmd.String("end")
	if endStr == "" {
		now := time.Now().UTC()
		options.end = time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	} else if options.end, err = common.MkDate(endStr); err != nil {
		return options, err
	}

	if options.end.Before(options.start) {
		return options, fmt.Errorf("end date %s lies before start date %s", endStr, cmd.String("start"))
	}

	options.table, err = varinfo.Load()
	if err != nil {
		return options, err
	}

	names := cmd.StringSlice("variables")
	if len(names) == 0 {
		names = options.table.Defaults()
	}

	options.variables, err = options.table.Lookup(names)
	if err != nil {
		return options, err
	}

	for _, h := range cmd.IntSlice("h-steps") {
		if h < 0 || h > 23 {
			return options, fmt.Errorf("hour step %d out of range", h)
		}
		options.hSteps = append(options.hSteps, int(h))
	}

	return options, nil
}

func cmdMain(ctx context.Context, options options) error {
	logDownloadBeginBanner(options)

	var client *cdsapi.Client
	if !options.dryRun {
		creds, err := cdsapi.LoadCredentials(options.rcPath)
		if err != nil {
			return err
		}
		client = cdsapi.NewClient(creds)
	}

	var db *gorm.DB
	if options.dbPath != "" {
		var err error
		db, err = database.Open(options.dbPath)
		if err != nil {
			return err
		}
		defer database.Close(db)
	}

	tempDir := filepath.Join(options.localRoot, tempDirName)
	if err := common.EnsureDir(tempDir); err != nil {
		return err
	}

	ext := images.Ext(images.FormatNetCDF)
	if options.grb {
		ext = images.Ext(images.FormatGRIB)
	}

	for curStart := options.start; !curStart.After(options.end); {
		curEnd := common.MonthEnd(curStart)
		if curEnd.After(options.end) {
			curEnd = options.end
		}

		fname := fmt.Sprintf("%s_%s.%s",
			curStart.Format("20060102"), curEnd.Format("20060102"), ext)
		target := filepath.Join(tempDir, fname)

		if options.dryRun {
			log.Infof("dry run, would request %s to %s into %s",
				curStart.Format("2006-01-02"), curEnd.Format("2006-01-02"), target)
		} else {
			if err := downloadChunk(ctx, client, options, curStart, curEnd, target); err != nil {
				return err
			}

			if err := splitChunk(db, options, target); err != nil {
				return err
			}
		}

		curStart = curEnd.AddDate(0, 0, 1)
	}

	if !options.keepOriginal {
		if err := os.RemoveAll(tempDir); err != nil {
			log.Warnf("failed to remove %s: %s", tempDir, err)
		}
	}

	return nil
}

func logDownloadBeginBanner(options options) {
	names := make([]string, 0, len(options.variables))
	for _, v := range options.variables {
		names = append(names, v.ShortName)
	}

	msgs := []string{
		fmt.Sprintf("%-12s: %s", "archive", options.localRoot),
		fmt.Sprintf("%-12s: %s to %s", "period",
			options.start.Format("2006-01-02"), options.end.Format("2006-01-02")),
		fmt.Sprintf("%-12s: %v", "variables", names),
	}

	common.LogBannerMsg(msgs, 5)
}

// downloadChunk fetches one monthly period file, retrying failed requests a
// few times. Partial files from failed attempts are removed before retrying.
func downloadChunk(ctx context.Context, client *cdsapi.Client, options options, curStart, curEnd time.Time, target string) error {
	dlNames := make([]string, 0, len(options.variables))
	for _, v := range options.variables {
		dlNames = append(dlNames, v.DlName)
	}

	days := []int{}
	for d := curStart.Day(); d <= curEnd.Day(); d++ {
		days = append(days, d)
	}

	req := cdsapi.NewRequest(dlNames,
		[]int{curStart.Year()}, []int{int(curStart.Month())}, days,
		options.hSteps, options.grb)

	var lastErr error
	for i := 0; i < client.MaxRetry; i++ {
		lastErr = client.Retrieve(ctx, dataset, req, target)
		if lastErr == nil {
			return nil
		}

		log.Warnf("attempt %d failed for %s: %s", i+1, filepath.Base(target), lastErr)
		os.Remove(target)
	}

	return fmt.Errorf("giving up on %s after %d attempts: %s",
		filepath.Base(target), client.MaxRetry, lastErr)
}

// splitChunk splits a period file into single variable images and records
// them in the inventory database when one is open.
func splitChunk(db *gorm.DB, options options, target string) error {
	files, err := images.Split(target, options.localRoot, product, options.table)
	if err != nil {
		return fmt.Errorf("failed to split %s: %s", target, err)
	}

	log.Infof("%s split into %d images", filepath.Base(target), len(files))

	if db == nil {
		return nil
	}

	for _, file := range files {
		if err := database.RecordFile(db, file); err != nil {
			log.Warnf("failed to record %s: %s", file, err)
		}
	}

	return nil
}
