package layout

import (
	"context"
	"time"

	"github.com/grovetools/layoutsync/address"
	"github.com/grovetools/layoutsync/errors"
	"github.com/grovetools/layoutsync/hub"
)

// Get asks the layout client at client for the event selected by sel, sending
// the request from h. With wait == 0 the answer reflects the current state;
// otherwise the client holds the request for up to wait. A nil event means
// the area was not populated in time.
func Get(ctx context.Context, h *hub.Hub, client address.Address, sel Selector, wait time.Duration) (*AreaChangedEvent, error) {
	now := time.Now()
	req := GetRequest{Options: sel, Deadline: now.Add(wait)}

	resp, err := h.Request(ctx, req, client)
	if err != nil {
		return nil, err
	}

	got, ok := resp.Message.(GetResponse)
	if !ok {
		return nil, errors.New(errors.ErrCodeInternal, "unexpected response to get request")
	}
	return got.Event, nil
}
