package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// DefaultTimeout bounds a remote call when no timeout is configured
const DefaultTimeout = 2 * time.Second

// maxResponseSize limits decoded response bodies
const maxResponseSize = 1 << 20

// UnitURL returns the base URL of a unit
func UnitURL(address string, port int) string {
	return "http://" + net.JoinHostPort(address, strconv.Itoa(port))
}

// RemoteEndpoint calls the security endpoint of another unit over HTTP
type RemoteEndpoint struct {
	httpClient *http.Client
	baseURL    string
	version    string
}

// NewRemoteEndpoint creates a client for the unit at baseURL
func NewRemoteEndpoint(baseURL, version string, timeout time.Duration) *RemoteEndpoint {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &RemoteEndpoint{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    baseURL,
		version:    version,
	}
}

// BaseURL returns the unit URL the endpoint talks to
func (e *RemoteEndpoint) BaseURL() string {
	return e.baseURL
}

// get performs a GET request and decodes the envelope.
// A response without result=true is a failure regardless of status code.
func (e *RemoteEndpoint) get(ctx context.Context, path string, query url.Values) (*Envelope, error) {
	u := e.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCallFailed, err)
	}

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCallFailed, err)
	}
	defer resp.Body.Close()

	var env Envelope
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseSize)).Decode(&env); err != nil {
		return nil, fmt.Errorf("%w: HTTP %d: decode response: %v", ErrCallFailed, resp.StatusCode, err)
	}
	if !env.Result {
		msg := env.Error
		if msg == "" {
			msg = "result=false"
		}
		return nil, fmt.Errorf("%w: HTTP %d: %s", ErrCallFailed, resp.StatusCode, msg)
	}
	return &env, nil
}

func (e *RemoteEndpoint) command(ctx context.Context, cmd string, params url.Values) (*Envelope, error) {
	if params == nil {
		params = url.Values{}
	}
	params.Set("cmd", cmd)

	env, err := e.get(ctx, "/api/"+e.version+"/security", params)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", cmd, err)
	}
	return env, nil
}

// Probe checks that the unit answers at its root path
func (e *RemoteEndpoint) Probe(ctx context.Context) error {
	_, err := e.get(ctx, "/", nil)
	return err
}

func (e *RemoteEndpoint) StatusSet(ctx context.Context, armed bool) error {
	_, err := e.command(ctx, CmdStatusSet, url.Values{"status": {strconv.FormatBool(armed)}})
	return err
}

func (e *RemoteEndpoint) StatusGet(ctx context.Context) (bool, error) {
	env, err := e.command(ctx, CmdStatusGet, nil)
	if err != nil {
		return false, err
	}
	if env.Status == nil {
		return false, fmt.Errorf("%s: %w: missing status", CmdStatusGet, ErrCallFailed)
	}
	return *env.Status, nil
}

func (e *RemoteEndpoint) AlarmSet(ctx context.Context, active bool) error {
	_, err := e.command(ctx, CmdAlarmSet, url.Values{"alarm": {strconv.FormatBool(active)}})
	return err
}

func (e *RemoteEndpoint) AlarmGet(ctx context.Context) (bool, error) {
	env, err := e.command(ctx, CmdAlarmGet, nil)
	if err != nil {
		return false, err
	}
	if env.Alarm == nil {
		return false, fmt.Errorf("%s: %w: missing alarm", CmdAlarmGet, ErrCallFailed)
	}
	return *env.Alarm, nil
}

func (e *RemoteEndpoint) SensorsGet(ctx context.Context) ([]SensorView, error) {
	env, err := e.command(ctx, CmdSensorsGet, nil)
	if err != nil {
		return nil, err
	}
	if env.Sensors == nil {
		return nil, fmt.Errorf("%s: %w: missing sensors", CmdSensorsGet, ErrCallFailed)
	}
	return env.Sensors, nil
}

var _ Endpoint = (*RemoteEndpoint)(nil)
