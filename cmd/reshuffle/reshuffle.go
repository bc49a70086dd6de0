package reshuffle

import (
	"context"
	"fmt"

	"github.com/tuw-geo/eramodels/common"
	"github.com/tuw-geo/eramodels/images"
	"github.com/tuw-geo/eramodels/timeseries"
	"github.com/tuw-geo/eramodels/varinfo"
	"github.com/urfave/cli/v3"
)

const product = "ERA5"

func Cmd() *cli.Command {
	var datasetRoot string
	var timeseriesRoot string

	cmd := &cli.Command{
		Name:  "reshuffle",
		Usage: "convert an image archive into cell wise time series files",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "start",
				Aliases:  []string{"s"},
				Usage:    "first date to convert, formatted as YYYY-MM-DD",
				Required: true,
			},
			&cli.StringFlag{
				Name:     "end",
				Aliases:  []string{"e"},
				Usage:    "last date to convert, formatted as YYYY-MM-DD",
				Required: true,
			},
			&cli.StringSliceFlag{
				Name:  "variables",
				Usage: "variables to convert, download names or short names, defaults to the soil moisture set",
			},
			&cli.IntSliceFlag{
				Name:  "h-steps",
				Usage: "full hours of day to read images for",
				Value: []int64{0, 6, 12, 18},
			},
			&cli.BoolFlag{
				Name:  "mask-seapoints",
				Usage: "replace values over water with fill values, using the land-sea mask",
			},
			&cli.BoolFlag{
				Name:  "land-points",
				Usage: "drop all water points from the output grid",
			},
			&cli.IntFlag{
				Name:  "imgbuffer",
				Usage: "number of images to buffer in memory between flushes",
				Value: 50,
			},
			&cli.IntFlag{
				Name:    "job",
				Aliases: []string{"j"},
				Usage:   "number of cell writer workers",
				Value:   4,
			},
			&cli.BoolFlag{
				Name:  "gzip",
				Usage: "gzip compress written cell files",
			},
		},
		Arguments: []cli.Argument{
			&cli.StringArg{
				Name:        "dataset-root",
				UsageText:   "<image root>",
				Destination: &datasetRoot,
				Min:         1,
				Max:         1,
			},
			&cli.StringArg{
				Name:        "timeseries-root",
				UsageText:   " <time series root>",
				Destination: &timeseriesRoot,
				Min:         1,
				Max:         1,
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			converter, err := getConverterFromCmd(cmd, datasetRoot, timeseriesRoot)
			if err != nil {
				return err
			}

			return converter.Calc(ctx)
		},
	}

	return cmd
}

func getConverterFromCmd(cmd *cli.Command, datasetRoot, timeseriesRoot string) (*timeseries.Converter, error) {
	start, err := common.MkDate(cmd.String("start"))
	if err != nil {
		return nil, err
	}

	end, err := common.MkDate(cmd.String("end"))
	if err != nil {
		return nil, err
	}

	if end.Before(start) {
		return nil, fmt.Errorf("end date %s lies before start date %s",
			cmd.String("end"), cmd.String("start"))
	}

	table, err := varinfo.Load()
	if err != nil {
		return nil, err
	}

	names := cmd.StringSlice("variables")
	if len(names) == 0 {
		names = table.Defaults()
	}

	variables, err := table.Lookup(names)
	if err != nil {
		return nil, err
	}

	shortNames := make([]string, 0, len(variables))
	hasLsm := false
	for _, v := range variables {
		shortNames = append(shortNames, v.ShortName)
		if v.ShortName == "lsm" {
			hasLsm = true
		}
	}

	landPoints := cmd.Bool("land-points")
	if landPoints && !hasLsm {
		// the land-sea mask drives the point selection
		shortNames = append(shortNames, "lsm")
	}

	hSteps := []int{}
	for _, h := range cmd.IntSlice("h-steps") {
		if h < 0 || h > 23 {
			return nil, fmt.Errorf("hour step %d out of range", h)
		}
		hSteps = append(hSteps, int(h))
	}

	format, err := images.DetectFormat(datasetRoot)
	if err != nil {
		return nil, err
	}

	repo := &images.Repository{
		Root:      datasetRoot,
		Product:   product,
		Format:    format,
		Variables: shortNames,
		HSteps:    hSteps,
		MaskSea:   cmd.Bool("mask-seapoints"),
	}

	converter := &timeseries.Converter{
		Repo:    repo,
		OutPath: timeseriesRoot,
		Start:   start,
		End:     end,

		ImgBuffer:  int(cmd.Int("imgbuffer")),
		Workers:    int(cmd.Int("job")),
		Gzip:       cmd.Bool("gzip"),
		LandPoints: landPoints,

		GlobalAttrs: map[string]string{
			"product": fmt.Sprintf("%s (from %s)", product, format),
		},
	}

	return converter, nil
}
