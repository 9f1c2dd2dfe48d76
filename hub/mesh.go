package hub

import (
	"sort"
	"sync"

	"github.com/grovetools/layoutsync/address"
	"github.com/grovetools/layoutsync/errors"
	"github.com/grovetools/layoutsync/metrics"
	"github.com/sirupsen/logrus"
)

// Mesh is the in-process router connecting hubs by address.
type Mesh struct {
	opts options

	mu   sync.RWMutex
	hubs map[address.Address]*Hub
}

// NewMesh creates an empty mesh. Options become the defaults of every hub
// created through it.
func NewMesh(opts ...Option) *Mesh {
	return &Mesh{
		opts: buildOptions(options{mailboxWarn: DefaultMailboxWarn}, opts),
		hubs: make(map[address.Address]*Hub),
	}
}

// NewHub creates, registers and starts a hub at addr.
func (m *Mesh) NewHub(addr address.Address, opts ...Option) (*Hub, error) {
	if _, err := address.Parse(string(addr)); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.hubs[addr]; exists {
		return nil, errors.New(errors.ErrCodeInvalidInput, "hub already registered").
			WithDetail("address", addr.String())
	}

	h := newHub(m, addr, buildOptions(m.opts, opts))
	m.hubs[addr] = h
	go h.run()
	return h, nil
}

// Hub returns the hub registered at addr.
func (m *Mesh) Hub(addr address.Address) (*Hub, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	h, ok := m.hubs[addr]
	return h, ok
}

// Addresses lists the registered hubs in sorted order.
func (m *Mesh) Addresses() []address.Address {
	m.mu.RLock()
	out := make([]address.Address, 0, len(m.hubs))
	for addr := range m.hubs {
		out = append(out, addr)
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Route places d in its target's mailbox. Deliveries to unknown or disposing
// hubs are dropped and counted; Route reports whether d was queued.
func (m *Mesh) Route(d *Delivery) bool {
	m.mu.RLock()
	target, ok := m.hubs[d.Target]
	m.mu.RUnlock()

	if ok && target.enqueue(envelope{delivery: d}) {
		return true
	}

	m.opts.metrics.Delivery(metrics.OutcomeDropped)
	m.opts.logger.WithFields(logrus.Fields{
		"target":  d.Target,
		"sender":  d.Sender,
		"message": typeName(d.Message),
	}).Debug("Dropped delivery to unavailable hub")
	return false
}

// Dispose disposes every hub in the mesh.
func (m *Mesh) Dispose() {
	m.mu.RLock()
	hubs := make([]*Hub, 0, len(m.hubs))
	for _, h := range m.hubs {
		hubs = append(hubs, h)
	}
	m.mu.RUnlock()

	for _, h := range hubs {
		h.Dispose()
	}
}

func (m *Mesh) unregister(h *Hub) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.hubs[h.addr] == h {
		delete(m.hubs, h.addr)
	}
}
