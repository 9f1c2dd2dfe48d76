package layout

import (
	"fmt"
	"time"

	"github.com/grovetools/layoutsync/address"
	"github.com/grovetools/layoutsync/errors"
	"github.com/grovetools/layoutsync/hub"
)

// Effect is an outbound action produced by a transition. The set is closed:
// PostEffect, RespondEffect, HaltEffect and RejectEffect.
type Effect interface{ effect() }

// PostEffect sends Message to Target.
type PostEffect struct {
	Target  address.Address
	Message any
}

// RespondEffect answers Request with Message.
type RespondEffect struct {
	Request *hub.Delivery
	Message any
}

// HaltEffect reports that propagation stopped at Owner, whose view has no
// sub-areas to take Event.
type HaltEffect struct {
	Owner address.Address
	Event AreaChangedEvent
}

// RejectEffect reports a view that was not checked in at Slot.
type RejectEffect struct {
	Slot    Slot
	Control address.Address
	Reason  string
}

func (PostEffect) effect()    {}
func (RespondEffect) effect() {}
func (HaltEffect) effect()    {}
func (RejectEffect) effect()  {}

// Reasons carried by RejectEffect.
const (
	ReasonNoAddress = "view has no control address"
	ReasonCycle     = "control is its own ancestor"
)

// Result classifies how an event was handled.
type Result string

const (
	Applied Result = "applied"
	Ignored Result = "ignored"
	Self    Result = "self"
)

// Reducer computes state transitions without side effects.
type Reducer struct {
	// Self is the address of the hub the client runs on.
	Self address.Address
}

// AreaChanged applies evt posted by sender to s.
func (r Reducer) AreaChanged(s State, evt AreaChangedEvent, sender address.Address, now time.Time) (State, []Effect, Result) {
	if sender == r.Self {
		return s, nil, Self
	}
	if !s.ready() {
		s = NewState()
	}
	evt.View = Normalize(evt.View)

	slot := Slot{Parent: sender, Area: evt.Area}
	if evt.View != nil {
		if reason := s.rejectReason(slot, evt.View.ControlAddress()); reason != "" {
			return s, []Effect{RejectEffect{Slot: slot, Control: evt.View.ControlAddress(), Reason: reason}}, Ignored
		}
	}
	existingAddr, occupied := s.controlByParentArea.Get(slot)
	if occupied {
		existing, _ := s.areasByAddress.Get(existingAddr)
		if viewUpToDate(evt.View, existing.View) {
			return s, nil, Ignored
		}
	} else if evt.View == nil {
		// Nothing there and nothing incoming.
		return s, nil, Ignored
	}

	var effects []Effect
	if occupied {
		s = checkOut(s, existingAddr)
	}
	if evt.View != nil {
		s, effects = r.checkIn(s, slot, evt, effects)
	}
	s, effects = propagate(s, sender, evt, effects)
	s, effects = resolvePending(s, now, effects)
	return s, effects, Applied
}

// GetRequest answers req immediately when its selector matches, queues it
// otherwise, and rejects non-selector options.
func (r Reducer) GetRequest(s State, req *hub.Delivery, msg GetRequest, now time.Time) (State, []Effect) {
	if !s.ready() {
		s = NewState()
	}
	sel, ok := asSelector(msg.Options)
	if !ok {
		return s, []Effect{RespondEffect{
			Request: req,
			Message: hub.DeliveryFailure{
				Code:    errors.ErrCodeNotSupported,
				Message: fmt.Sprintf("get request options of type %T are not a selector", msg.Options),
			},
		}}
	}

	evt, err := evaluate(sel, s)
	if err != nil {
		return s, []Effect{RespondEffect{Request: req, Message: hub.DeliveryFailure{
			Code:    errors.ErrCodeInternal,
			Message: err.Error(),
		}}}
	}
	if evt != nil {
		return s, []Effect{RespondEffect{Request: req, Message: GetResponse{Event: evt}}}
	}

	var effects []Effect
	s, effects = pruneExpired(s, now, effects)
	p := Pending{Selector: sel, Request: req, deadline: msg.Deadline}
	if p.expired(now) {
		return s, append(effects, RespondEffect{Request: req, Message: GetResponse{}})
	}
	return s.appendPending(p), effects
}

// checkOut removes addr and, recursively, every control checked in beneath
// it from all indices.
func checkOut(s State, addr address.Address) State {
	return checkOutTree(s, addr, make(map[address.Address]struct{}))
}

func checkOutTree(s State, addr address.Address, seen map[address.Address]struct{}) State {
	if _, ok := seen[addr]; ok {
		return s
	}
	seen[addr] = struct{}{}
	for _, child := range s.childrenOf(addr) {
		if childAddr, ok := s.controlByParentArea.Get(child); ok {
			s = checkOutTree(s, childAddr, seen)
		}
	}
	return s.unregister(addr)
}

// checkIn registers evt at slot, recursing into container sub-areas.
func (r Reducer) checkIn(s State, slot Slot, evt AreaChangedEvent, effects []Effect) (State, []Effect) {
	addr := evt.View.ControlAddress()

	// A control can only occupy one slot; moving it detaches it from the old one.
	if prev, ok := s.parentsByAddress.Get(addr); ok && prev != slot {
		s = checkOut(s, addr)
		s, effects = propagate(s, prev.Parent, AreaChangedEvent{Area: prev.Area}, effects)
	}
	if occupant, ok := s.controlByParentArea.Get(slot); ok && occupant != addr {
		s = checkOut(s, occupant)
	}

	s = s.register(slot, evt)

	switch view := evt.View.(type) {
	case Redirect:
		effects = append(effects, PostEffect{Target: view.Target, Message: view.Message})
		return s, effects
	case Container:
		effects = append(effects, PostEffect{Target: addr, Message: RefreshRequest{Area: slot.Area}})
		for _, sub := range view.Areas {
			if sub.View == nil {
				continue
			}
			subSlot := Slot{Parent: addr, Area: sub.Area}
			if reason := s.rejectReason(subSlot, sub.View.ControlAddress()); reason != "" {
				effects = append(effects, RejectEffect{Slot: subSlot, Control: sub.View.ControlAddress(), Reason: reason})
				continue
			}
			s, effects = r.checkIn(s, subSlot, sub, effects)
		}
		return s, effects
	case Leaf:
		effects = append(effects, PostEffect{Target: addr, Message: RefreshRequest{Area: slot.Area}})
		return s, effects
	default:
		panic(fmt.Sprintf("layout: unknown control type %T", view))
	}
}

// propagate writes evt into the view of owner and walks up through every
// ancestor, rewriting each container snapshot. It stops at the root (an owner
// that is not a checked-in control) or, with a HaltEffect, at an owner whose
// view has no sub-areas.
func propagate(s State, owner address.Address, evt AreaChangedEvent, effects []Effect) (State, []Effect) {
	seen := make(map[address.Address]struct{})
	for {
		if _, ok := seen[owner]; ok {
			return s, effects
		}
		seen[owner] = struct{}{}

		ownerEvt, ok := s.areasByAddress.Get(owner)
		if !ok {
			return s, effects
		}

		container, ok := ownerEvt.View.(Container)
		if !ok {
			return s, append(effects, HaltEffect{Owner: owner, Event: evt})
		}

		updated := AreaChangedEvent{Area: ownerEvt.Area, View: container.SetArea(evt)}
		parent, hasParent := s.parentsByAddress.Get(owner)
		if hasParent {
			updated.Area = parent.Area
		}
		s = s.setEvent(owner, updated)

		if !hasParent {
			return s, effects
		}
		owner, evt = parent.Parent, updated
	}
}

// rejectReason explains why addr cannot be checked in at slot. It returns ""
// when it can.
func (s State) rejectReason(slot Slot, addr address.Address) string {
	if addr.IsZero() {
		return ReasonNoAddress
	}
	if s.isAncestor(addr, slot.Parent) {
		return ReasonCycle
	}
	return ""
}

// isAncestor reports whether addr is owner or sits above it in the tree.
func (s State) isAncestor(addr, owner address.Address) bool {
	seen := make(map[address.Address]struct{})
	for cur := owner; ; {
		if cur == addr {
			return true
		}
		if _, ok := seen[cur]; ok {
			return false
		}
		seen[cur] = struct{}{}
		parent, ok := s.parentsByAddress.Get(cur)
		if !ok {
			return false
		}
		cur = parent.Parent
	}
}

// resolvePending answers every pending request whose selector now matches.
// Each entry is evaluated once per transition and removed when answered.
func resolvePending(s State, now time.Time, effects []Effect) (State, []Effect) {
	if s.PendingCount() == 0 {
		return s, effects
	}

	var remaining []Pending
	changed := false
	for _, p := range s.PendingRequests() {
		if p.expired(now) {
			effects = append(effects, RespondEffect{Request: p.Request, Message: GetResponse{}})
			changed = true
			continue
		}
		evt, err := evaluate(p.Selector, s)
		switch {
		case err != nil:
			effects = append(effects, RespondEffect{Request: p.Request, Message: hub.DeliveryFailure{
				Code:    errors.ErrCodeInternal,
				Message: err.Error(),
			}})
			changed = true
		case evt != nil:
			effects = append(effects, RespondEffect{Request: p.Request, Message: GetResponse{Event: evt}})
			changed = true
		default:
			remaining = append(remaining, p)
		}
	}
	if changed {
		s = s.withPending(remaining)
	}
	return s, effects
}

// pruneExpired answers and drops pending requests whose deadline has passed.
func pruneExpired(s State, now time.Time, effects []Effect) (State, []Effect) {
	var remaining []Pending
	changed := false
	for _, p := range s.PendingRequests() {
		if p.expired(now) {
			effects = append(effects, RespondEffect{Request: p.Request, Message: GetResponse{}})
			changed = true
			continue
		}
		remaining = append(remaining, p)
	}
	if changed {
		s = s.withPending(remaining)
	}
	return s, effects
}

// evaluate runs a caller supplied selector, converting a panic into an error.
func evaluate(sel Selector, s State) (evt *AreaChangedEvent, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("selector panicked: %v", r)
		}
	}()
	return sel(s), nil
}
