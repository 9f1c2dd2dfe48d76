package layout

import (
	"hash/fnv"
	"sort"
	"time"

	"github.com/benbjohnson/immutable"
	"github.com/grovetools/layoutsync/address"
	"github.com/grovetools/layoutsync/hub"
)

// Slot is a (parent, area) coordinate in the view tree.
type Slot struct {
	Parent address.Address `json:"parent"`
	Area   string          `json:"area"`
}

// Pending is a GetRequest waiting for its selector to match.
type Pending struct {
	Selector Selector
	Request  *hub.Delivery

	deadline time.Time
}

func (p Pending) expired(now time.Time) bool {
	return !p.deadline.IsZero() && !p.deadline.After(now)
}

// State is an immutable snapshot of the mirrored view tree. Every transition
// returns a new State sharing structure with the old one.
type State struct {
	controlByParentArea *immutable.Map[Slot, address.Address]
	parentsByAddress    *immutable.Map[address.Address, Slot]
	areasByAddress      *immutable.Map[address.Address, AreaChangedEvent]
	areasByID           *immutable.Map[string, AreaChangedEvent]
	pending             *immutable.List[Pending]
}

// NewState returns an empty state.
func NewState() State {
	return State{
		controlByParentArea: immutable.NewMap[Slot, address.Address](slotHasher{}),
		parentsByAddress:    immutable.NewMap[address.Address, Slot](addressHasher{}),
		areasByAddress:      immutable.NewMap[address.Address, AreaChangedEvent](addressHasher{}),
		areasByID:           immutable.NewMap[string, AreaChangedEvent](stringHasher{}),
		pending:             immutable.NewList[Pending](),
	}
}

func (s State) ready() bool { return s.controlByParentArea != nil }

// GetByControlID returns the last known event of the control with id.
func (s State) GetByControlID(id string) *AreaChangedEvent {
	if !s.ready() {
		return nil
	}
	if evt, ok := s.areasByID.Get(id); ok {
		return &evt
	}
	return nil
}

// GetByAddress returns the last known event of the control at addr.
func (s State) GetByAddress(addr address.Address) *AreaChangedEvent {
	if !s.ready() {
		return nil
	}
	if evt, ok := s.areasByAddress.Get(addr); ok {
		return &evt
	}
	return nil
}

// ControlAt returns the address of the control occupying (parent, area).
func (s State) ControlAt(parent address.Address, area string) (address.Address, bool) {
	if !s.ready() {
		return "", false
	}
	return s.controlByParentArea.Get(Slot{Parent: parent, Area: area})
}

// GetByArea returns the event occupying (parent, area).
func (s State) GetByArea(parent address.Address, area string) *AreaChangedEvent {
	addr, ok := s.ControlAt(parent, area)
	if !ok {
		return nil
	}
	return s.GetByAddress(addr)
}

// ParentOf returns the slot a control is checked in at.
func (s State) ParentOf(addr address.Address) (Slot, bool) {
	if !s.ready() {
		return Slot{}, false
	}
	return s.parentsByAddress.Get(addr)
}

// Len returns the number of checked-in controls.
func (s State) Len() int {
	if !s.ready() {
		return 0
	}
	return s.areasByAddress.Len()
}

// IDCount returns the number of entries in the id index.
func (s State) IDCount() int {
	if !s.ready() {
		return 0
	}
	return s.areasByID.Len()
}

// SlotCount returns the number of occupied (parent, area) slots.
func (s State) SlotCount() int {
	if !s.ready() {
		return 0
	}
	return s.controlByParentArea.Len()
}

// PendingCount returns the number of queued get requests.
func (s State) PendingCount() int {
	if !s.ready() {
		return 0
	}
	return s.pending.Len()
}

// PendingRequests returns the queued get requests in arrival order.
func (s State) PendingRequests() []Pending {
	out := make([]Pending, 0, s.PendingCount())
	for i := 0; i < s.PendingCount(); i++ {
		out = append(out, s.pending.Get(i))
	}
	return out
}

// SlotEntry is one occupied slot in a Snapshot.
type SlotEntry struct {
	Parent  address.Address  `json:"parent"`
	Area    string           `json:"area"`
	Control address.Address  `json:"control"`
	ID      string           `json:"id"`
	Event   AreaChangedEvent `json:"event"`
}

// Snapshot is a plain, serializable export of a State.
type Snapshot struct {
	Version uint64      `json:"version"`
	Slots   []SlotEntry `json:"slots"`
	Pending int         `json:"pending"`
}

// Snapshot exports every occupied slot ordered by parent and area.
func (s State) Snapshot(version uint64) Snapshot {
	snap := Snapshot{Version: version, Slots: []SlotEntry{}, Pending: s.PendingCount()}
	if !s.ready() {
		return snap
	}

	itr := s.controlByParentArea.Iterator()
	for !itr.Done() {
		slot, addr, _ := itr.Next()
		evt, _ := s.areasByAddress.Get(addr)
		entry := SlotEntry{Parent: slot.Parent, Area: slot.Area, Control: addr, Event: evt}
		if evt.View != nil {
			entry.ID = evt.View.ControlID()
		}
		snap.Slots = append(snap.Slots, entry)
	}
	sort.Slice(snap.Slots, func(i, j int) bool {
		a, b := snap.Slots[i], snap.Slots[j]
		if a.Parent != b.Parent {
			return a.Parent < b.Parent
		}
		return a.Area < b.Area
	})
	return snap
}

// childrenOf lists the slots whose parent is addr.
func (s State) childrenOf(addr address.Address) []Slot {
	var out []Slot
	itr := s.controlByParentArea.Iterator()
	for !itr.Done() {
		slot, _, _ := itr.Next()
		if slot.Parent == addr {
			out = append(out, slot)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Area < out[j].Area })
	return out
}

func (s State) register(slot Slot, evt AreaChangedEvent) State {
	addr := evt.View.ControlAddress()
	s.controlByParentArea = s.controlByParentArea.Set(slot, addr)
	s.parentsByAddress = s.parentsByAddress.Set(addr, slot)
	return s.setEvent(addr, evt)
}

func (s State) setEvent(addr address.Address, evt AreaChangedEvent) State {
	s.areasByAddress = s.areasByAddress.Set(addr, evt)
	if evt.View != nil {
		s.areasByID = s.areasByID.Set(evt.View.ControlID(), evt)
	}
	return s
}

func (s State) unregister(addr address.Address) State {
	if slot, ok := s.parentsByAddress.Get(addr); ok {
		if occupant, ok := s.controlByParentArea.Get(slot); ok && occupant == addr {
			s.controlByParentArea = s.controlByParentArea.Delete(slot)
		}
		s.parentsByAddress = s.parentsByAddress.Delete(addr)
	}
	if evt, ok := s.areasByAddress.Get(addr); ok {
		if evt.View != nil {
			id := evt.View.ControlID()
			if byID, ok := s.areasByID.Get(id); ok && byID.View != nil && byID.View.ControlAddress() == addr {
				s.areasByID = s.areasByID.Delete(id)
			}
		}
		s.areasByAddress = s.areasByAddress.Delete(addr)
	}
	return s
}

func (s State) withPending(p []Pending) State {
	s.pending = immutable.NewList[Pending](p...)
	return s
}

func (s State) appendPending(p Pending) State {
	s.pending = s.pending.Append(p)
	return s
}

func fnv32a(parts ...string) uint32 {
	h := fnv.New32a()
	for i, p := range parts {
		if i > 0 {
			_, _ = h.Write([]byte{0})
		}
		_, _ = h.Write([]byte(p))
	}
	return h.Sum32()
}

type addressHasher struct{}

func (addressHasher) Hash(a address.Address) uint32  { return fnv32a(string(a)) }
func (addressHasher) Equal(a, b address.Address) bool { return a == b }

type stringHasher struct{}

func (stringHasher) Hash(s string) uint32     { return fnv32a(s) }
func (stringHasher) Equal(a, b string) bool { return a == b }

type slotHasher struct{}

func (slotHasher) Hash(s Slot) uint32     { return fnv32a(string(s.Parent), s.Area) }
func (slotHasher) Equal(a, b Slot) bool { return a == b }
