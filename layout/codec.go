package layout

import (
	"encoding/json"
	"fmt"

	"github.com/grovetools/layoutsync/address"
	"github.com/grovetools/layoutsync/codec"
	"github.com/grovetools/layoutsync/errors"
)

// Control type discriminators used on the wire.
const (
	TypeLeaf      = "leaf"
	TypeContainer = "container"
	TypeRedirect  = "redirect"
)

// WireControl is the serialized form of a Control. The "$type" field selects
// the variant.
type WireControl struct {
	Type    string          `json:"$type" yaml:"$type" cbor:"$type"`
	ID      string          `json:"id" yaml:"id" cbor:"id"`
	Address address.Address `json:"address" yaml:"address" cbor:"address"`
	Data    any             `json:"data,omitempty" yaml:"data,omitempty" cbor:"data,omitempty"`
	Areas   []WireEvent     `json:"areas,omitempty" yaml:"areas,omitempty" cbor:"areas,omitempty"`
	Message any             `json:"message,omitempty" yaml:"message,omitempty" cbor:"message,omitempty"`
	Target  address.Address `json:"target,omitempty" yaml:"target,omitempty" cbor:"target,omitempty"`
}

// WireEvent is the serialized form of an AreaChangedEvent.
type WireEvent struct {
	Area string       `json:"area" yaml:"area" cbor:"area"`
	View *WireControl `json:"view" yaml:"view" cbor:"view"`
}

// ToWire converts evt to its serialized form.
func ToWire(evt AreaChangedEvent) WireEvent {
	return toWire(AreaChangedEvent{Area: evt.Area, View: Normalize(evt.View)})
}

func toWire(evt AreaChangedEvent) WireEvent {
	return WireEvent{Area: evt.Area, View: controlToWire(evt.View)}
}

func controlToWire(c Control) *WireControl {
	switch v := c.(type) {
	case nil:
		return nil
	case Leaf:
		return &WireControl{Type: TypeLeaf, ID: v.ID, Address: v.Address, Data: v.Data}
	case Container:
		w := &WireControl{Type: TypeContainer, ID: v.ID, Address: v.Address, Data: v.Data}
		w.Areas = make([]WireEvent, 0, len(v.Areas))
		for _, a := range v.Areas {
			w.Areas = append(w.Areas, toWire(a))
		}
		return w
	case Redirect:
		return &WireControl{Type: TypeRedirect, ID: v.ID, Address: v.Address, Data: v.Data, Message: v.Message, Target: v.Target}
	default:
		panic(fmt.Sprintf("layout: unknown control type %T", c))
	}
}

// Event converts the wire form back into an AreaChangedEvent.
func (w WireEvent) Event() (AreaChangedEvent, error) {
	view, err := w.View.Control()
	if err != nil {
		return AreaChangedEvent{}, err
	}
	return AreaChangedEvent{Area: w.Area, View: view}, nil
}

// Control converts the wire form back into a Control. A nil receiver yields a
// nil Control.
func (w *WireControl) Control() (Control, error) {
	if w == nil {
		return nil, nil
	}
	if w.Address == "" {
		return nil, errors.New(errors.ErrCodeInvalidInput, "control is missing an address").
			WithDetail("id", w.ID)
	}
	if _, err := address.Parse(string(w.Address)); err != nil {
		return nil, err
	}

	switch w.Type {
	case TypeLeaf, "":
		return Leaf{ID: w.ID, Address: w.Address, Data: w.Data}, nil
	case TypeContainer:
		c := Container{ID: w.ID, Address: w.Address, Data: w.Data}
		for _, a := range w.Areas {
			evt, err := a.Event()
			if err != nil {
				return nil, err
			}
			c.Areas = append(c.Areas, evt)
		}
		return c, nil
	case TypeRedirect:
		if _, err := address.Parse(string(w.Target)); err != nil {
			return nil, err
		}
		return Redirect{ID: w.ID, Address: w.Address, Data: w.Data, Message: w.Message, Target: w.Target}, nil
	default:
		return nil, errors.New(errors.ErrCodeInvalidInput, fmt.Sprintf("unknown control type %q", w.Type))
	}
}

// MarshalJSON encodes the event with a "$type" discriminated view.
func (e AreaChangedEvent) MarshalJSON() ([]byte, error) {
	return json.Marshal(ToWire(e))
}

// UnmarshalJSON decodes an event written by MarshalJSON.
func (e *AreaChangedEvent) UnmarshalJSON(data []byte) error {
	var w WireEvent
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	evt, err := w.Event()
	if err != nil {
		return err
	}
	*e = evt
	return nil
}

// MarshalCBOR encodes the event in the same shape as MarshalJSON.
func (e AreaChangedEvent) MarshalCBOR() ([]byte, error) {
	return codec.Marshal(ToWire(e))
}

// UnmarshalCBOR decodes an event written by MarshalCBOR.
func (e *AreaChangedEvent) UnmarshalCBOR(data []byte) error {
	var w WireEvent
	if err := codec.Unmarshal(data, &w); err != nil {
		return err
	}
	evt, err := w.Event()
	if err != nil {
		return err
	}
	*e = evt
	return nil
}
