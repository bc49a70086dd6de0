// Package cdsapi talks to the Copernicus Climate Data Store API: submitting
// retrieve requests, polling their task state and downloading finished
// results. Registration and a ~/.cdsapirc file are required, see
// https://cds.climate.copernicus.eu/api-how-to
package cdsapi

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/tuw-geo/eramodels/common"
	"github.com/tuw-geo/eramodels/network"
)

const DefaultURL = "https://cds.climate.copernicus.eu/api/v2"

const (
	stateQueued    = "queued"
	stateRunning   = "running"
	stateCompleted = "completed"
	stateFailed    = "failed"
)

// Credentials hold the API endpoint and the `UID:APIKEY` pair used as basic
// auth.
type Credentials struct {
	URL string
	Key string
}

// LoadCredentials reads credentials from an rc file in the `.cdsapirc`
// format (lines `url: ...` and `key: ...`). An empty path means
// `~/.cdsapirc`. Values from CDSAPI_URL and CDSAPI_KEY environment variables
// take precedence over file content.
func LoadCredentials(rcPath string) (Credentials, error) {
	creds := Credentials{}

	if rcPath == "" {
		home, err := os.UserHomeDir()
		if err == nil {
			rcPath = filepath.Join(home, ".cdsapirc")
		}
	}

	if rcPath != "" {
		if err := readRcFile(rcPath, &creds); err != nil && !os.IsNotExist(err) {
			return creds, err
		}
	}

	if url := os.Getenv("CDSAPI_URL"); url != "" {
		creds.URL = url
	}
	if key := os.Getenv("CDSAPI_KEY"); key != "" {
		creds.Key = key
	}

	creds.URL = common.GetStrOr(creds.URL, DefaultURL)

	if creds.Key == "" {
		return creds, fmt.Errorf("no CDS API key found, set up %s or the CDSAPI_KEY environment variable", rcPath)
	}

	return creds, nil
}

func readRcFile(path string, creds *Credentials) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		name, value, found := strings.Cut(line, ":")
		if !found {
			continue
		}

		switch strings.TrimSpace(name) {
		case "url":
			creds.URL = strings.TrimSpace(value)
		case "key":
			creds.Key = strings.TrimSpace(value)
		}
	}

	return scanner.Err()
}

// Client is a CDS API client.
type Client struct {
	*http.Client
	creds Credentials

	PollInterval time.Duration
	MaxRetry     int
}

func NewClient(creds Credentials) *Client {
	client := &Client{
		Client: new(http.Client),
		creds:  creds,

		PollInterval: 2 * time.Second,
		MaxRetry:     5,
	}

	client.Transport = &http.Transport{
		Proxy: http.ProxyFromEnvironment,
	}

	return client
}

// Request is the retrieve request body for reanalysis single level data.
type Request struct {
	ProductType string   `json:"product_type"`
	Format      string   `json:"format"`
	Variable    []string `json:"variable"`
	Year        []string `json:"year"`
	Month       []string `json:"month"`
	Day         []string `json:"day"`
	Time        []string `json:"time"`
}

// NewRequest builds a reanalysis request for given variables and date parts.
// Months and days are zero padded, hours are given as full hour steps and
// formatted as HH:MM.
func NewRequest(variables []string, years, months, days, hSteps []int, grb bool) Request {
	format := "netcdf"
	if grb {
		format = "grib"
	}

	req := Request{
		ProductType: "reanalysis",
		Format:      format,
		Variable:    variables,
	}

	for _, y := range years {
		req.Year = append(req.Year, fmt.Sprintf("%d", y))
	}
	for _, m := range months {
		req.Month = append(req.Month, fmt.Sprintf("%02d", m))
	}
	for _, d := range days {
		req.Day = append(req.Day, fmt.Sprintf("%02d", d))
	}
	for _, h := range hSteps {
		req.Time = append(req.Time, fmt.Sprintf("%02d:00", h))
	}

	return req
}

type taskError struct {
	Message string `json:"message"`
	Reason  string `json:"reason"`
}

type taskReply struct {
	State         string     `json:"state"`
	RequestID     string     `json:"request_id"`
	Location      string     `json:"location"`
	ContentLength int64      `json:"content_length"`
	Error         *taskError `json:"error"`
}

// Retrieve submits a retrieve request for `dataset`, waits for the remote
// task to finish and downloads the result file to `target`.
func (c *Client) Retrieve(ctx context.Context, dataset string, req Request, target string) error {
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to encode request: %s", err)
	}

	submitURL := fmt.Sprintf("%s/resources/%s", strings.TrimSuffix(c.creds.URL, "/"), dataset)
	reply, err := c.call(ctx, "POST", submitURL, body)
	if err != nil {
		return err
	}

	log.Infof("request %s submitted, state %s", reply.RequestID, reply.State)

	reply, err = c.waitForTask(ctx, reply)
	if err != nil {
		return err
	}

	return c.download(reply.Location, target, reply.ContentLength)
}

func (c *Client) waitForTask(ctx context.Context, reply *taskReply) (*taskReply, error) {
	taskURL := fmt.Sprintf("%s/tasks/%s", strings.TrimSuffix(c.creds.URL, "/"), reply.RequestID)

	for {
		switch reply.State {
		case stateCompleted:
			return reply, nil
		case stateFailed:
			msg, reason := "unknown error", ""
			if reply.Error != nil {
				msg, reason = reply.Error.Message, reply.Error.Reason
			}
			return nil, fmt.Errorf("request %s failed: %s %s", reply.RequestID, msg, reason)
		case stateQueued, stateRunning:
			// keep polling
		default:
			return nil, fmt.Errorf("request %s in unknown state %q", reply.RequestID, reply.State)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(common.GetDurationOr(c.PollInterval, 2*time.Second)):
		}

		requestID := reply.RequestID

		var err error
		reply, err = c.call(ctx, "GET", taskURL, nil)
		if err != nil {
			return nil, err
		}
		if reply.RequestID == "" {
			reply.RequestID = requestID
		}
	}
}

// call sends one API request and decodes the task reply.
func (c *Client) call(ctx context.Context, method, url string, body []byte) (*taskReply, error) {
	var reader *bytes.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %s", err)
	}

	if uid, key, found := strings.Cut(c.creds.Key, ":"); found {
		req.SetBasicAuth(uid, key)
	} else {
		req.SetBasicAuth("", c.creds.Key)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request to %s failed: %s", url, err)
	}
	defer resp.Body.Close()

	data, err := network.DecompressHTTPBody(resp)
	if err != nil {
		return nil, err
	}

	reply := &taskReply{}
	if err := json.Unmarshal(data, reply); err != nil {
		return nil, fmt.Errorf("malformed reply from %s: %s", url, err)
	}

	if resp.StatusCode >= 300 {
		if reply.Error != nil {
			return nil, fmt.Errorf("%s replied %s: %s %s", url, resp.Status, reply.Error.Message, reply.Error.Reason)
		}
		return nil, fmt.Errorf("%s replied %s", url, resp.Status)
	}

	return reply, nil
}
