// Package timeseries converts stacks of ERA5 images into per cell time
// series files.
package timeseries

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/charmbracelet/log"
	"github.com/schollz/progressbar/v3"
	"github.com/tuw-geo/eramodels/common"
	"github.com/tuw-geo/eramodels/grid"
	"github.com/tuw-geo/eramodels/images"
)

// Converter reads images between Start and End from the repository and
// appends them, in buffered chunks, to one time series file per grid cell.
type Converter struct {
	Repo    *images.Repository
	OutPath string
	Start   time.Time
	End     time.Time

	// ImgBuffer is how many images are held in memory before series are
	// flushed to the cell files. Bigger buffers are faster and hungrier.
	ImgBuffer int
	Workers   int
	Gzip      bool

	// LandPoints drops all water points from the output grid. Needs the
	// land-sea mask among the converted variables.
	LandPoints bool

	GlobalAttrs map[string]string

	grid     *grid.Grid
	cellIdx  map[int][]int // cell -> indices into grid arrays
	varAttrs map[string]map[string]string
}

// Calc runs the conversion.
func (c *Converter) Calc(ctx context.Context) error {
	stamps := c.Repo.Timestamps(c.Start, c.End)
	if len(stamps) == 0 {
		return fmt.Errorf("no timestamps between %s and %s", c.Start, c.End)
	}

	if err := common.EnsureDir(c.OutPath); err != nil {
		return err
	}

	imgBuffer := common.GetIntOr(c.ImgBuffer, 50)
	workers := common.GetIntOr(c.Workers, 4)

	bar := progressbar.Default(int64(len(stamps)))

	var chunkTimes []time.Time
	var chunk map[string][][]float64
	var pending []time.Time

	for _, ts := range stamps {
		if err := ctx.Err(); err != nil {
			return err
		}

		img, err := c.Repo.Read(ts)
		switch {
		case err == nil:
			if c.grid == nil {
				if err := c.initGrid(img); err != nil {
					return err
				}
			}
		case errors.Is(err, images.ErrNotFound):
			log.Warnf("no image for %s, writing fill values", ts.Format(time.RFC3339))
			img = nil
		default:
			return err
		}

		if img == nil && c.grid == nil {
			// the grid is unknown until the first readable image, remember
			// the timestamp and backfill it as fill values later
			pending = append(pending, ts)
			bar.Add(1)
			continue
		}

		if chunk == nil {
			chunk = map[string][][]float64{}
			for _, name := range c.Repo.Variables {
				chunk[name] = nil
			}
		}

		for _, missed := range pending {
			chunkTimes = append(chunkTimes, missed)
			for _, name := range c.Repo.Variables {
				chunk[name] = append(chunk[name], nil)
			}
		}
		pending = nil

		chunkTimes = append(chunkTimes, ts)
		for _, name := range c.Repo.Variables {
			if img == nil {
				chunk[name] = append(chunk[name], nil)
			} else {
				chunk[name] = append(chunk[name], img.Values[name])
			}
		}

		if len(chunkTimes) >= imgBuffer {
			if err := c.flush(ctx, chunkTimes, chunk, workers); err != nil {
				return err
			}
			chunkTimes = nil
			chunk = nil
		}

		bar.Add(1)
	}

	if len(chunkTimes) > 0 {
		if err := c.flush(ctx, chunkTimes, chunk, workers); err != nil {
			return err
		}
	}

	if c.grid == nil {
		return fmt.Errorf("no readable image between %s and %s", c.Start, c.End)
	}

	return nil
}

// initGrid derives the target grid from the first readable image and
// carries variable attributes over into the output files.
func (c *Converter) initGrid(img *images.Image) error {
	lons, lats := img.Points()

	g, err := grid.IrregularGrid(lons, lats)
	if err != nil {
		return err
	}

	if c.LandPoints {
		lsm, ok := img.Values["lsm"]
		if !ok {
			return fmt.Errorf("land point selection needs the lsm variable in the archive")
		}
		g, err = grid.LandGrid(g, lsm, 0.5)
		if err != nil {
			return err
		}
	}
	c.grid = g

	c.cellIdx = map[int][]int{}
	for i, cell := range g.Cells {
		c.cellIdx[cell] = append(c.cellIdx[cell], i)
	}

	c.varAttrs = img.Attrs

	log.Infof("converting %d points in %d cells", g.Len(), len(c.cellIdx))

	return nil
}

type cellJob struct {
	cell  int
	times []time.Time
	chunk map[string][][]float64
}

// flush appends one buffered chunk to every cell file, fanning the cells
// out over a worker pool.
func (c *Converter) flush(ctx context.Context, times []time.Time, chunk map[string][][]float64, workers int) error {
	cells := c.grid.CellList()

	workChan := make(chan cellJob, workers)
	// sized so workers never block on send after an early exit
	resultChan := make(chan error, len(cells))

	for i := 0; i < workers; i++ {
		go c.cellWorker(workChan, resultChan)
	}

	go func() {
		defer close(workChan)
		for _, cell := range cells {
			select {
			case workChan <- cellJob{cell: cell, times: times, chunk: chunk}:
			case <-ctx.Done():
				return
			}
		}
	}()

	// the producer stops enqueuing on cancellation, so the receive loop must
	// watch the context as well or it waits for results that never come
	var firstErr error
	for range cells {
		select {
		case err := <-resultChan:
			if err != nil && firstErr == nil {
				firstErr = err
			}
		case <-ctx.Done():
			if firstErr == nil {
				firstErr = ctx.Err()
			}
		}
		if firstErr != nil {
			break
		}
	}

	return firstErr
}

func (c *Converter) cellWorker(workChan chan cellJob, resultChan chan error) {
	for job := range workChan {
		resultChan <- c.appendCell(job)
	}
}

// appendCell loads the cell file if it exists, appends the chunk reduced to
// the cell's points and writes it back.
func (c *Converter) appendCell(job cellJob) error {
	idx := c.cellIdx[job.cell]
	path := cellFilePath(c.OutPath, job.cell, c.Gzip)

	var cd *cellData
	if _, err := os.Stat(path); err == nil {
		cd, err = readCellFile(path)
		if err != nil {
			return fmt.Errorf("cell %d: %s", job.cell, err)
		}
		if len(cd.gpis) != len(idx) {
			return fmt.Errorf("cell %d: existing file has %d locations, grid has %d",
				job.cell, len(cd.gpis), len(idx))
		}
		for j, i := range idx {
			if cd.gpis[j] != c.grid.GPIs[i] {
				return fmt.Errorf("cell %d: existing file was written for a different grid", job.cell)
			}
		}
	} else {
		cd = &cellData{values: map[string][]float32{}}
		for _, i := range idx {
			cd.gpis = append(cd.gpis, c.grid.GPIs[i])
			cd.lons = append(cd.lons, c.grid.Lons[i])
			cd.lats = append(cd.lats, c.grid.Lats[i])
		}
	}

	reduced := map[string][][]float64{}
	for name, perStamp := range job.chunk {
		slices := make([][]float64, len(perStamp))
		for t, values := range perStamp {
			if values == nil {
				continue
			}
			cellValues := make([]float64, len(idx))
			for j, i := range idx {
				// GPIs address the full image even on a land subgrid
				cellValues[j] = values[c.grid.GPIs[i]]
			}
			slices[t] = cellValues
		}
		reduced[name] = slices
	}

	cd.appendChunk(job.times, reduced)

	if err := writeCellFile(path, cd, c.varAttrs, c.GlobalAttrs, c.Gzip); err != nil {
		return fmt.Errorf("cell %d: %s", job.cell, err)
	}

	return nil
}
