// Package layout mirrors a remotely rendered, hierarchical view tree on the
// client side.
//
// Producers post AreaChangedEvents naming an area under their own address.
// The Plugin installed on the client hub reconciles each event into an
// immutable State: it ignores stale and duplicate events, checks out the
// control previously occupying the area, checks in the new one together with
// its sub-areas, propagates the change into every ancestor container and
// answers GetRequests that were waiting for the area to appear.
package layout

import (
	"reflect"

	"github.com/grovetools/layoutsync/address"
)

// Control is a rendered view. The set of implementations is closed: Leaf,
// Container and Redirect.
type Control interface {
	ControlID() string
	ControlAddress() address.Address
	// IsUpToDate reports whether the receiver, as an incoming view, is already
	// reflected by other.
	IsUpToDate(other Control) bool

	control()
}

// AreaChangedEvent carries the latest view of a named area. A nil View means
// the area was cleared.
type AreaChangedEvent struct {
	Area string
	View Control
}

// Leaf is a control without sub-areas.
type Leaf struct {
	ID      string
	Address address.Address
	Data    any
}

func (l Leaf) ControlID() string               { return l.ID }
func (l Leaf) ControlAddress() address.Address { return l.Address }
func (Leaf) control()                          {}

// IsUpToDate compares structurally.
func (l Leaf) IsUpToDate(other Control) bool {
	o, ok := other.(Leaf)
	return ok && l.ID == o.ID && l.Address == o.Address && reflect.DeepEqual(l.Data, o.Data)
}

// Container is a control exposing named sub-areas.
type Container struct {
	ID      string
	Address address.Address
	Areas   []AreaChangedEvent
	Data    any
}

func (c Container) ControlID() string               { return c.ID }
func (c Container) ControlAddress() address.Address { return c.Address }
func (Container) control()                          {}

// IsUpToDate compares the container's own fields and, area by area, the
// views of its sub-areas.
func (c Container) IsUpToDate(other Control) bool {
	o, ok := other.(Container)
	if !ok || c.ID != o.ID || c.Address != o.Address || len(c.Areas) != len(o.Areas) {
		return false
	}
	if !reflect.DeepEqual(c.Data, o.Data) {
		return false
	}
	for i, area := range c.Areas {
		if area.Area != o.Areas[i].Area || !viewUpToDate(area.View, o.Areas[i].View) {
			return false
		}
	}
	return true
}

// SubAreas returns a copy of the container's areas.
func (c Container) SubAreas() []AreaChangedEvent {
	out := make([]AreaChangedEvent, len(c.Areas))
	copy(out, c.Areas)
	return out
}

// Area returns the sub-area with the given name.
func (c Container) Area(name string) (AreaChangedEvent, bool) {
	for _, a := range c.Areas {
		if a.Area == name {
			return a, true
		}
	}
	return AreaChangedEvent{}, false
}

// SetArea returns a copy of c with evt replacing the area of the same name,
// or appended when no such area exists. A nil view clears the slot's view but
// keeps the slot.
func (c Container) SetArea(evt AreaChangedEvent) Container {
	areas := make([]AreaChangedEvent, 0, len(c.Areas)+1)
	replaced := false
	for _, a := range c.Areas {
		if a.Area == evt.Area {
			areas = append(areas, evt)
			replaced = true
			continue
		}
		areas = append(areas, a)
	}
	if !replaced {
		areas = append(areas, evt)
	}
	c.Areas = areas
	return c
}

// Redirect asks the client to forward Message to Target when checked in,
// instead of requesting a refresh from its own address.
type Redirect struct {
	ID      string
	Address address.Address
	Message any
	Target  address.Address
	Data    any
}

func (r Redirect) ControlID() string               { return r.ID }
func (r Redirect) ControlAddress() address.Address { return r.Address }
func (Redirect) control()                          {}

// IsUpToDate compares structurally.
func (r Redirect) IsUpToDate(other Control) bool {
	o, ok := other.(Redirect)
	return ok && r.ID == o.ID && r.Address == o.Address && r.Target == o.Target &&
		reflect.DeepEqual(r.Message, o.Message) && reflect.DeepEqual(r.Data, o.Data)
}

// Normalize returns c with pointer variants replaced by their values, down
// through container sub-areas. A nil pointer becomes a nil Control, as does a
// container pointer that is reached again through its own sub-areas.
func Normalize(c Control) Control {
	return normalize(c, nil)
}

func normalize(c Control, path []*Container) Control {
	switch v := c.(type) {
	case *Leaf:
		if v == nil {
			return nil
		}
		return *v
	case *Redirect:
		if v == nil {
			return nil
		}
		return *v
	case *Container:
		if v == nil {
			return nil
		}
		for _, seen := range path {
			if seen == v {
				return nil
			}
		}
		return normalize(*v, append(path, v))
	case Container:
		if len(v.Areas) == 0 {
			return v
		}
		areas := make([]AreaChangedEvent, len(v.Areas))
		for i, a := range v.Areas {
			areas[i] = AreaChangedEvent{Area: a.Area, View: normalize(a.View, path)}
		}
		v.Areas = areas
		return v
	default:
		return c
	}
}

// viewUpToDate applies the staleness policy: nil matches nil, otherwise the
// incoming view decides.
func viewUpToDate(incoming, existing Control) bool {
	if incoming == nil || existing == nil {
		return incoming == nil && existing == nil
	}
	return incoming.IsUpToDate(existing)
}
