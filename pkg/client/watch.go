package client

import (
	"context"
	"encoding/json"
	"net"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/grovetools/layoutsync/address"
	"github.com/grovetools/layoutsync/codec"
	"github.com/grovetools/layoutsync/errors"
	"github.com/grovetools/layoutsync/layout"
)

// Websocket subprotocols understood by the daemon.
const (
	SubprotocolJSON = "layoutsync.json"
	SubprotocolCBOR = "layoutsync.cbor"
)

// WatchOptions configures Watch.
type WatchOptions struct {
	// Sender is the address events posted through the watcher come from.
	// Without it the watcher is receive-only.
	Sender address.Address
	// Patterns restrict received changes to matching "<sender>/<area>" paths.
	Patterns []string
	// CBOR selects binary frames instead of JSON.
	CBOR bool
}

// Watcher is a two-way websocket session with the daemon.
type Watcher struct {
	conn    *websocket.Conn
	cbor    bool
	changes chan layout.Change
	done    chan struct{}
	once    sync.Once

	writeMu sync.Mutex
	errMu   sync.Mutex
	err     error
}

// Watch opens a websocket session.
func (c *RemoteClient) Watch(ctx context.Context, opts WatchOptions) (*Watcher, error) {
	q := url.Values{}
	if !opts.Sender.IsZero() {
		q.Set("sender", opts.Sender.String())
	}
	for _, p := range opts.Patterns {
		q.Add("area", p)
	}
	protocol := SubprotocolJSON
	if opts.CBOR {
		protocol = SubprotocolCBOR
	}

	dialer := websocket.Dialer{
		Subprotocols:     []string{protocol},
		HandshakeTimeout: 10 * time.Second,
	}
	if c.socketPath != "" {
		socket := c.socketPath
		dialer.NetDialContext = func(ctx context.Context, _, _ string) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(ctx, "unix", socket)
		}
	}

	u := "ws" + strings.TrimPrefix(c.base, "http") + "/ws"
	if len(q) > 0 {
		u += "?" + q.Encode()
	}
	conn, resp, err := dialer.DialContext(ctx, u, nil)
	if err != nil {
		if resp != nil {
			defer resp.Body.Close()
			if statusErr := checkStatus(resp, 0); statusErr != nil {
				return nil, statusErr
			}
		}
		return nil, errors.DaemonNotRunning(c.socketPath, err)
	}

	w := &Watcher{
		conn:    conn,
		cbor:    conn.Subprotocol() == SubprotocolCBOR,
		changes: make(chan layout.Change, 10),
		done:    make(chan struct{}),
	}
	go w.read()
	go func() {
		select {
		case <-ctx.Done():
			_ = w.Close()
		case <-w.done:
		}
	}()
	return w, nil
}

// Changes delivers applied changes until the session ends.
func (w *Watcher) Changes() <-chan layout.Change { return w.changes }

// Post sends evt from the watcher's sender.
func (w *Watcher) Post(evt layout.AreaChangedEvent) error {
	var (
		data []byte
		err  error
		kind = websocket.TextMessage
	)
	if w.cbor {
		data, err = codec.Marshal(evt)
		kind = websocket.BinaryMessage
	} else {
		data, err = json.Marshal(evt)
	}
	if err != nil {
		return err
	}

	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	return w.conn.WriteMessage(kind, data)
}

// Err returns the error that ended the session, if any.
func (w *Watcher) Err() error {
	w.errMu.Lock()
	defer w.errMu.Unlock()
	return w.err
}

// Close ends the session.
func (w *Watcher) Close() error {
	w.once.Do(func() { close(w.done) })
	w.writeMu.Lock()
	_ = w.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	w.writeMu.Unlock()
	return w.conn.Close()
}

func (w *Watcher) read() {
	defer close(w.changes)
	for {
		_, data, err := w.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				w.errMu.Lock()
				w.err = err
				w.errMu.Unlock()
			}
			return
		}
		var change layout.Change
		if w.cbor {
			err = codec.Unmarshal(data, &change)
		} else {
			err = json.Unmarshal(data, &change)
		}
		if err != nil {
			continue
		}
		select {
		case w.changes <- change:
		case <-w.done:
			return
		}
	}
}
