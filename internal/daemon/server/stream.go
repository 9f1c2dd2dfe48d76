package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/grovetools/layoutsync/address"
	"github.com/grovetools/layoutsync/codec"
	"github.com/grovetools/layoutsync/errors"
	"github.com/grovetools/layoutsync/layout"
	"github.com/moby/patternmatcher"
	"github.com/sirupsen/logrus"
)

// Websocket subprotocols. Frames are layout.Change values going out and
// layout.AreaChangedEvent values coming in.
const (
	SubprotocolJSON = "layoutsync.json"
	SubprotocolCBOR = "layoutsync.cbor"
)

const writeTimeout = 10 * time.Second

var upgrader = websocket.Upgrader{
	Subprotocols: []string{SubprotocolJSON, SubprotocolCBOR},
	// The socket is only reachable by the owning user.
	CheckOrigin: func(*http.Request) bool { return true },
}

// areaFilter matches changes by "<sender>/<area>" against gitignore-style
// patterns. A nil filter matches everything.
type areaFilter struct {
	pm *patternmatcher.PatternMatcher
}

func newAreaFilter(patterns []string) (*areaFilter, error) {
	if len(patterns) == 0 {
		return nil, nil
	}
	pm, err := patternmatcher.New(patterns)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInvalidInput, "invalid area pattern")
	}
	return &areaFilter{pm: pm}, nil
}

func (f *areaFilter) matches(c layout.Change) bool {
	if f == nil {
		return true
	}
	ok, err := f.pm.MatchesOrParentMatches(AreaPath(c.Sender, c.Event.Area))
	return err == nil && ok
}

// AreaPath is the path area filters are matched against.
func AreaPath(sender address.Address, area string) string {
	return sender.String() + "/" + area
}

// handleStream provides Server-Sent Events for applied changes. Repeated
// area parameters restrict the stream to matching "<sender>/<area>" paths.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	if !s.ready(w) {
		return
	}

	filter, err := newAreaFilter(r.URL.Query()["area"])
	if err != nil {
		writeError(w, err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	changes, cancel := s.engine.Plugin().Subscribe(s.streamBuffer)
	defer cancel()

	fmt.Fprintf(w, ": connected\n\n")
	flusher.Flush()
	s.logger.Debug("SSE client connected")

	for {
		select {
		case <-r.Context().Done():
			s.logger.Debug("SSE client disconnected")
			return
		case change, ok := <-changes:
			if !ok {
				return
			}
			if !filter.matches(change) {
				continue
			}
			data, err := json.Marshal(change)
			if err != nil {
				s.logger.WithError(err).Error("Failed to marshal change")
				continue
			}
			fmt.Fprintf(w, "event: change\ndata: %s\n\n", data)
			flusher.Flush()
		}
	}
}

// handleWebsocket upgrades to a two-way channel. Inbound frames are events
// posted from the sender query parameter; outbound frames are changes.
func (s *Server) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	if !s.ready(w) {
		return
	}

	q := r.URL.Query()
	var sender address.Address
	if raw := q.Get("sender"); raw != "" {
		a, err := address.Parse(raw)
		if err != nil {
			writeError(w, err)
			return
		}
		sender = a
	}
	filter, err := newAreaFilter(q["area"])
	if err != nil {
		writeError(w, err)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.WithError(err).Warn("Websocket upgrade failed")
		return
	}
	defer conn.Close()

	cbor := conn.Subprotocol() == SubprotocolCBOR
	logger := s.logger.WithFields(logrus.Fields{"sender": sender, "cbor": cbor})
	logger.Debug("Websocket client connected")

	changes, cancel := s.engine.Plugin().Subscribe(s.streamBuffer)
	defer cancel()

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if sender.IsZero() {
				logger.Warn("Dropping event from websocket without a sender")
				continue
			}
			var evt layout.AreaChangedEvent
			if cbor {
				err = codec.Unmarshal(data, &evt)
			} else {
				err = json.Unmarshal(data, &evt)
			}
			if err != nil {
				logger.WithError(err).Warn("Dropping malformed websocket frame")
				continue
			}
			if err := s.engine.PostEvent(sender, evt); err != nil {
				logger.WithError(err).Warn("Failed to post websocket event")
			}
		}
	}()

	for {
		select {
		case <-closed:
			logger.Debug("Websocket client disconnected")
			return
		case <-r.Context().Done():
			return
		case change, ok := <-changes:
			if !ok {
				return
			}
			if !filter.matches(change) {
				continue
			}
			if err := writeFrame(conn, change, cbor); err != nil {
				logger.WithError(err).Debug("Websocket write failed")
				return
			}
		}
	}
}

func writeFrame(conn *websocket.Conn, change layout.Change, cbor bool) error {
	var (
		data []byte
		err  error
		kind = websocket.TextMessage
	)
	if cbor {
		data, err = codec.Marshal(change)
		kind = websocket.BinaryMessage
	} else {
		data, err = json.Marshal(change)
	}
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteMessage(kind, data)
}
