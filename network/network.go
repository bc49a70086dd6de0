package network

import (
	"bytes"
	"errors"
	"io"
	"os"

	"github.com/charmbracelet/log"
	"github.com/gocolly/colly/v2"
	"github.com/schollz/progressbar/v3"
)

var ErrMaxRetry = errors.New("max retry")

// MakeSaveBodyCallback returns a closure that saves response body to given
// path and can be used as colly onResponse callback. A progress bar is shown
// while the body is written when `showProgress` is set.
func MakeSaveBodyCallback(outputName string, showProgress bool) colly.ResponseCallback {
	return colly.ResponseCallback(func(resp *colly.Response) {
		if err := saveBody(resp.Body, outputName, showProgress); err == nil {
			log.Infof("file downloaded: %s", outputName)
		} else {
			log.Warnf("failed to save file %s: %s", outputName, err)
		}
	})
}

func saveBody(body []byte, outputName string, showProgress bool) error {
	file, err := os.Create(outputName)
	if err != nil {
		return err
	}
	defer file.Close()

	var dst io.Writer = file
	if showProgress {
		bar := progressbar.DefaultBytes(int64(len(body)), "writing")
		dst = io.MultiWriter(file, bar)
	}

	_, err = io.Copy(dst, bytes.NewReader(body))

	return err
}

// RetryRequest reads `retryCnt` and `maxRetryCnt` from request context. If
// current retry count is less than max retry count, this function retries given
// request, else a `ErrMaxRetry` will be retruned.
// This function returns retry count after operation, and error happenes during
// operation.
func RetryRequest(req *colly.Request) (int, error) {
	ctx := req.Ctx

	maxRetryCnt, _ := ctx.GetAny("maxRetryCnt").(int)

	retryCnt, _ := ctx.GetAny("retryCnt").(int)
	if retryCnt >= maxRetryCnt {
		return retryCnt, ErrMaxRetry
	}

	retryCnt++
	ctx.Put("retryCnt", retryCnt)

	return retryCnt, req.Retry()
}
