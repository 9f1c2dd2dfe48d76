// Package client talks to a running layoutsync daemon over its unix socket.
package client

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/grovetools/layoutsync/activity"
	"github.com/grovetools/layoutsync/address"
	"github.com/grovetools/layoutsync/errors"
	"github.com/grovetools/layoutsync/layout"
	"github.com/grovetools/layoutsync/pkg/paths"
)

// baseURL is the dummy host used for Unix socket HTTP requests.
// The actual connection goes through the Unix socket, not this URL.
const baseURL = "http://unix"

// AreaQuery selects an area. Exactly one of ID, Address or Parent must be
// set; Parent requires Area.
type AreaQuery struct {
	ID      string
	Address address.Address
	Parent  address.Address
	Area    string
	Wait    time.Duration
}

func (q AreaQuery) values() url.Values {
	v := url.Values{}
	if q.ID != "" {
		v.Set("id", q.ID)
	}
	if !q.Address.IsZero() {
		v.Set("address", q.Address.String())
	}
	if !q.Parent.IsZero() {
		v.Set("parent", q.Parent.String())
		v.Set("area", q.Area)
	}
	if q.Wait > 0 {
		v.Set("wait", q.Wait.String())
	}
	return v
}

// RemoteClient calls the daemon's HTTP API over a Unix socket.
type RemoteClient struct {
	httpClient *http.Client
	stream     *http.Client
	socketPath string
	base       string
}

// New connects to the daemon socket at the default location.
func New() *RemoteClient {
	return NewRemoteClient(paths.SocketPath())
}

// NewRemoteClient creates a client for the daemon listening on socketPath.
func NewRemoteClient(socketPath string) *RemoteClient {
	dial := func(ctx context.Context, _, _ string) (net.Conn, error) {
		var d net.Dialer
		return d.DialContext(ctx, "unix", socketPath)
	}
	return &RemoteClient{
		httpClient: &http.Client{
			Transport: &http.Transport{DialContext: dial, MaxIdleConns: 10, IdleConnTimeout: 90 * time.Second},
			Timeout:   10 * time.Second,
		},
		// No timeout for streaming or long waits.
		stream:     &http.Client{Transport: &http.Transport{DialContext: dial}},
		socketPath: socketPath,
		base:       baseURL,
	}
}

// newHTTPClient targets a plain HTTP base URL, used against httptest servers.
func newHTTPClient(base string) *RemoteClient {
	return &RemoteClient{
		httpClient: &http.Client{Timeout: 10 * time.Second},
		stream:     &http.Client{},
		base:       strings.TrimSuffix(base, "/"),
	}
}

// SocketPath returns the socket the client dials.
func (c *RemoteClient) SocketPath() string { return c.socketPath }

// IsRunning returns true if the daemon is available and responding.
func (c *RemoteClient) IsRunning() bool {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	resp, err := c.do(ctx, c.httpClient, http.MethodGet, "/health", nil)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// State returns the layout client's occupied slots.
func (c *RemoteClient) State(ctx context.Context) (*layout.Snapshot, error) {
	var snap layout.Snapshot
	if err := c.getJSON(ctx, c.httpClient, "/api/state", &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

// Area answers q. A nil event means the area was not populated within q.Wait.
func (c *RemoteClient) Area(ctx context.Context, q AreaQuery) (*layout.AreaChangedEvent, error) {
	hc := c.httpClient
	if q.Wait > 0 {
		hc = c.stream
	}
	var resp layout.GetResponse
	if err := c.getJSON(ctx, hc, "/api/areas?"+q.values().Encode(), &resp); err != nil {
		return nil, err
	}
	return resp.Event, nil
}

// PostEvent publishes evt on behalf of sender.
func (c *RemoteClient) PostEvent(ctx context.Context, sender address.Address, evt layout.AreaChangedEvent) error {
	body, err := json.Marshal(struct {
		Sender address.Address         `json:"sender"`
		Event  layout.AreaChangedEvent `json:"event"`
	}{sender, evt})
	if err != nil {
		return err
	}
	resp, err := c.do(ctx, c.httpClient, http.MethodPost, "/api/events", bytes.NewReader(body))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return checkStatus(resp, http.StatusAccepted)
}

// Activities returns the daemon's recent activities, newest first.
func (c *RemoteClient) Activities(ctx context.Context) ([]activity.Log, error) {
	var logs []activity.Log
	if err := c.getJSON(ctx, c.httpClient, "/api/activities", &logs); err != nil {
		return nil, err
	}
	return logs, nil
}

// Config returns the daemon's running configuration as raw JSON.
func (c *RemoteClient) Config(ctx context.Context) (json.RawMessage, error) {
	var raw json.RawMessage
	if err := c.getJSON(ctx, c.httpClient, "/api/config", &raw); err != nil {
		return nil, err
	}
	return raw, nil
}

// Stream subscribes to applied changes via Server-Sent Events. Patterns
// restrict the stream to matching "<sender>/<area>" paths. The channel is
// closed when ctx is cancelled or the connection is lost.
func (c *RemoteClient) Stream(ctx context.Context, patterns ...string) (<-chan layout.Change, error) {
	q := url.Values{}
	for _, p := range patterns {
		q.Add("area", p)
	}
	path := "/api/stream"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	resp, err := c.do(ctx, c.stream, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	if err := checkStatus(resp, http.StatusOK); err != nil {
		resp.Body.Close()
		return nil, err
	}

	ch := make(chan layout.Change, 10)
	go func() {
		defer resp.Body.Close()
		defer close(ch)
		readEvents(ctx, resp.Body, ch)
	}()
	return ch, nil
}

// readEvents parses an SSE body, sending every decodable change.
func readEvents(ctx context.Context, r io.Reader, ch chan<- layout.Change) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 10*1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var change layout.Change
		if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &change); err != nil {
			continue
		}
		select {
		case ch <- change:
		case <-ctx.Done():
			return
		}
	}
}

// Close releases idle connections.
func (c *RemoteClient) Close() error {
	c.httpClient.CloseIdleConnections()
	c.stream.CloseIdleConnections()
	return nil
}

func (c *RemoteClient) do(ctx context.Context, hc *http.Client, method, path string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := hc.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, errors.DaemonNotRunning(c.socketPath, err)
	}
	return resp, nil
}

func (c *RemoteClient) getJSON(ctx context.Context, hc *http.Client, path string, v any) error {
	resp, err := c.do(ctx, hc, http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := checkStatus(resp, http.StatusOK); err != nil {
		return err
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return nil
}

// checkStatus turns a non-matching response into the daemon's coded error
// when the body carries one.
func checkStatus(resp *http.Response, want int) error {
	if resp.StatusCode == want {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	var le errors.LayoutError
	if err := json.Unmarshal(body, &le); err == nil && le.Code != "" {
		return &le
	}
	msg := strings.TrimSpace(string(body))
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}
	return errors.New(errors.ErrCodeInternal, fmt.Sprintf("daemon returned status %d: %s", resp.StatusCode, msg))
}

// IsNotRunning reports whether err means the daemon could not be reached.
func IsNotRunning(err error) bool {
	return errors.Is(err, errors.ErrCodeDaemonNotRunning)
}
