package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	pkgerrors "github.com/pkg/errors"

	"github.com/ericogr/airsense-mqtt/pkg/engine"
)

var (
	// ErrNotRunning is returned when the daemon cannot be reached.
	ErrNotRunning = errors.New("airsense daemon not reachable")
	// ErrNotFound is returned when the daemon answers 404.
	ErrNotFound = errors.New("404 not found")
)

// Client talks to the HTTP API of a running daemon.
type Client struct {
	base string
	http *http.Client
}

// NewClient accepts "host:port", ":port" or a full http URL.
func NewClient(addr string) *Client {
	base := addr
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		if strings.HasPrefix(base, ":") {
			base = "localhost" + base
		}
		base = "http://" + base
	}
	return &Client{
		base: strings.TrimRight(base, "/"),
		http: &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *Client) Sensors() ([]engine.Snapshot, error) {
	var out []engine.Snapshot
	if err := c.do(http.MethodGet, "/api/sensors", nil, &out); err != nil {
		return nil, pkgerrors.Wrapf(err, "failed to list sensors")
	}
	return out, nil
}

func (c *Client) Sensor(name string) (engine.Snapshot, error) {
	var out engine.Snapshot
	if err := c.do(http.MethodGet, "/api/sensors/"+url.PathEscape(name), nil, &out); err != nil {
		return out, pkgerrors.Wrapf(err, "failed to get sensor %s", name)
	}
	return out, nil
}

func (c *Client) Calibrate(name string) (engine.Status, error) {
	var out calibrateResponse
	if err := c.do(http.MethodPost, "/api/sensors/"+url.PathEscape(name)+"/calibrate", nil, &out); err != nil {
		return engine.StatusError, pkgerrors.Wrapf(err, "failed to calibrate %s", name)
	}
	return out.Status, nil
}

func (c *Client) ApplySettings(name string, s engine.Settings) (engine.Current, error) {
	var out engine.Current
	if err := c.do(http.MethodPut, "/api/sensors/"+url.PathEscape(name)+"/settings", s, &out); err != nil {
		return out, pkgerrors.Wrapf(err, "failed to change settings of %s", name)
	}
	return out, nil
}

func (c *Client) do(method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, c.base+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNotRunning, err)
	}
	defer resp.Body.Close()

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return pkgerrors.Wrapf(err, "failed to read response")
	}
	switch {
	case resp.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case resp.StatusCode >= http.StatusBadRequest:
		return fmt.Errorf("http %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}
	if err := json.Unmarshal(b, out); err != nil {
		return pkgerrors.Wrapf(err, "failed to unmarshal response")
	}
	return nil
}
