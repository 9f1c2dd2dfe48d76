package layout

import (
	"time"

	"github.com/grovetools/layoutsync/address"
)

// Selector picks an event out of a State, returning nil while the area it
// looks for has not been populated.
type Selector func(State) *AreaChangedEvent

// GetRequest asks the layout client for an area. Options must be a Selector;
// any other value is rejected as not supported. When the selector returns nil
// the request is queued until a later event satisfies it. A request with a
// Deadline is answered with an empty GetResponse once the deadline passes;
// a deadline already due on arrival means "answer now".
type GetRequest struct {
	Options  any
	Deadline time.Time
}

// GetResponse answers a GetRequest. Event is nil only when the request's
// deadline passed before the area was populated.
type GetResponse struct {
	Event *AreaChangedEvent `json:"event"`
}

// RefreshRequest asks a freshly checked-in control to publish its area again.
type RefreshRequest struct {
	Area string `json:"area"`
}

// Change is broadcast to subscribers after an event has been applied.
type Change struct {
	Version uint64           `json:"version"`
	Sender  address.Address  `json:"sender"`
	Event   AreaChangedEvent `json:"event"`
	Time    time.Time        `json:"time"`
}

// ByControlID selects the control with the given id.
func ByControlID(id string) Selector {
	return func(s State) *AreaChangedEvent { return s.GetByControlID(id) }
}

// ByControlAddress selects the control at addr.
func ByControlAddress(addr address.Address) Selector {
	return func(s State) *AreaChangedEvent { return s.GetByAddress(addr) }
}

// ByArea selects whatever occupies (parent, area).
func ByArea(parent address.Address, area string) Selector {
	return func(s State) *AreaChangedEvent { return s.GetByArea(parent, area) }
}

func asSelector(options any) (Selector, bool) {
	switch sel := options.(type) {
	case Selector:
		return sel, sel != nil
	case func(State) *AreaChangedEvent:
		return sel, sel != nil
	default:
		return nil, false
	}
}
