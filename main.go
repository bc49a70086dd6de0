package main

import (
	"context"
	"fmt"
	"os"

	"github.com/tuw-geo/eramodels/cmd/database"
	"github.com/tuw-geo/eramodels/cmd/download"
	"github.com/tuw-geo/eramodels/cmd/reshuffle"
	"github.com/urfave/cli/v3"
)

func main() {
	cmd := &cli.Command{
		Name:    "eramodels",
		Usage:   "helper program for downloading ERA5 reanalysis images and converting them to time series",
		Version: "0.1.0",
		Commands: []*cli.Command{
			download.Cmd(),
			reshuffle.Cmd(),
			database.Cmd(),
		},
	}

	err := cmd.Run(context.Background(), os.Args)
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
