package cdsapi

import (
	"errors"
	"fmt"
	"os"

	"github.com/charmbracelet/log"
	"github.com/gocolly/colly/v2"
	"github.com/tuw-geo/eramodels/network"
)

// download fetches a finished result file from its location URL. Failed
// requests are retried up to MaxRetry times before giving up.
func (c *Client) download(location, target string, contentLength int64) error {
	if location == "" {
		return fmt.Errorf("task reply carries no result location")
	}

	log.Infof("downloading %d bytes to %s", contentLength, target)

	collector := colly.NewCollector(
		colly.AllowURLRevisit(),
	)
	collector.SetClient(c.Client)

	var dlErr error
	saveBody := network.MakeSaveBodyCallback(target, contentLength > 0)

	collector.OnRequest(func(req *colly.Request) {
		if _, ok := req.Ctx.GetAny("maxRetryCnt").(int); !ok {
			req.Ctx.Put("maxRetryCnt", c.MaxRetry)
		}
	})

	collector.OnResponse(func(resp *colly.Response) {
		if data, err := network.DecompressResponseBody(resp); err == nil {
			resp.Body = data
		} else {
			log.Warn(err.Error())
		}

		saveBody(resp)
	})

	collector.OnError(func(resp *colly.Response, err error) {
		cnt, retryErr := network.RetryRequest(resp.Request)
		if errors.Is(retryErr, network.ErrMaxRetry) {
			dlErr = fmt.Errorf("download failed after %d tries: %s", cnt, err)
			return
		}
		log.Warnf("download attempt %d failed, retrying: %s", cnt, err)
	})

	if err := collector.Visit(location); err != nil {
		return fmt.Errorf("failed to fetch %s: %s", location, err)
	}
	collector.Wait()

	if dlErr != nil {
		return dlErr
	}

	info, err := os.Stat(target)
	if err != nil {
		return fmt.Errorf("download produced no file at %s: %s", target, err)
	}
	if contentLength > 0 && info.Size() != contentLength {
		return fmt.Errorf("download size mismatch: got %d bytes, expecting %d", info.Size(), contentLength)
	}

	return nil
}
