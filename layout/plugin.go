package layout

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/grovetools/layoutsync/address"
	"github.com/grovetools/layoutsync/hub"
	"github.com/grovetools/layoutsync/logging"
	"github.com/grovetools/layoutsync/metrics"
	"github.com/sirupsen/logrus"
)

// PropagationHaltFunc is called when an ancestor of a changed area has no
// sub-areas to take the change.
type PropagationHaltFunc func(owner address.Address, evt AreaChangedEvent)

// Option configures a Plugin.
type Option func(*Plugin)

// WithPropagationHalt replaces the default halt handling, which logs at
// error level.
func WithPropagationHalt(fn PropagationHaltFunc) Option {
	return func(p *Plugin) { p.onHalt = fn }
}

// WithLogger sets the plugin logger.
func WithLogger(logger *logrus.Entry) Option {
	return func(p *Plugin) { p.logger = logger }
}

// WithMetrics enables instrumentation.
func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Plugin) { p.metrics = m }
}

// WithClock overrides time.Now, used for pending request deadlines.
func WithClock(now func() time.Time) Option {
	return func(p *Plugin) { p.now = now }
}

// Plugin is the layout client. It is registered on a hub and owns the State;
// all transitions run on that hub's mailbox.
type Plugin struct {
	hub     *hub.Hub
	reducer Reducer
	logger  *logrus.Entry
	metrics *metrics.Metrics
	onHalt  PropagationHaltFunc
	now     func() time.Time

	state   atomic.Pointer[State]
	version atomic.Uint64

	mu          sync.RWMutex
	subscribers map[chan Change]struct{}

	// Deadline timers of queued get requests.
	timersMu sync.Mutex
	timers   map[*hub.Delivery]*time.Timer
}

// NewPlugin creates the layout client and registers it on h.
func NewPlugin(h *hub.Hub, opts ...Option) *Plugin {
	p := &Plugin{
		hub:         h,
		reducer:     Reducer{Self: h.Address()},
		now:         time.Now,
		subscribers: make(map[chan Change]struct{}),
		timers:      make(map[*hub.Delivery]*time.Timer),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.logger == nil {
		p.logger = logging.NewLogger("layout")
	}
	p.logger = p.logger.WithField("client", h.Address().String())
	if p.onHalt == nil {
		p.onHalt = p.logHalt
	}

	initial := NewState()
	p.state.Store(&initial)
	h.Register(p)
	go func() {
		<-h.Done()
		p.stopTimers()
	}()
	return p
}

// Address returns the address of the hub the client runs on.
func (p *Plugin) Address() address.Address { return p.hub.Address() }

// State returns the current snapshot. Safe from any goroutine.
func (p *Plugin) State() State { return *p.state.Load() }

// Version counts applied transitions.
func (p *Plugin) Version() uint64 { return p.version.Load() }

// Snapshot exports the current state.
func (p *Plugin) Snapshot() Snapshot { return p.State().Snapshot(p.Version()) }

// Handle implements hub.Plugin.
func (p *Plugin) Handle(_ context.Context, d *hub.Delivery) bool {
	switch msg := d.Message.(type) {
	case AreaChangedEvent:
		p.HandleAreaChanged(msg, d.Sender)
	case *AreaChangedEvent:
		p.HandleAreaChanged(*msg, d.Sender)
	case GetRequest:
		p.HandleGetRequest(d, msg)
	case *GetRequest:
		p.HandleGetRequest(d, *msg)
	case sweep:
		p.sweep()
	default:
		return false
	}
	return true
}

// HandleAreaChanged reconciles evt from sender. It must run on the hub's
// mailbox.
func (p *Plugin) HandleAreaChanged(evt AreaChangedEvent, sender address.Address) Result {
	evt.View = Normalize(evt.View)
	current := p.State()
	next, effects, result := p.reducer.AreaChanged(current, evt, sender, p.now())
	p.metrics.LayoutEvent(string(result))

	if result != Applied {
		if len(effects) > 0 {
			// Rejections log themselves.
			p.perform(effects)
			return result
		}
		p.logger.WithFields(logrus.Fields{
			"sender": sender,
			"area":   evt.Area,
			"result": result,
		}).Debug("Area change not applied")
		return result
	}

	version := p.commit(next)
	p.perform(effects)
	p.broadcast(Change{Version: version, Sender: sender, Event: evt, Time: p.now()})
	return result
}

// HandleGetRequest serves or queues req. It must run on the hub's mailbox.
func (p *Plugin) HandleGetRequest(req *hub.Delivery, msg GetRequest) {
	current := p.State()
	next, effects := p.reducer.GetRequest(current, req, msg, p.now())
	if next.pending != current.pending {
		p.commit(next)
	}
	p.perform(effects)

	if n := next.PendingCount(); !msg.Deadline.IsZero() && n > 0 && next.pending.Get(n-1).Request == req {
		p.timersMu.Lock()
		p.timers[req] = time.AfterFunc(msg.Deadline.Sub(p.now()), func() { p.hub.Post(sweep{}) })
		p.timersMu.Unlock()
	}
}

// pendingTimers returns the number of armed deadline timers.
func (p *Plugin) pendingTimers() int {
	p.timersMu.Lock()
	defer p.timersMu.Unlock()
	return len(p.timers)
}

func (p *Plugin) stopTimer(req *hub.Delivery) {
	p.timersMu.Lock()
	defer p.timersMu.Unlock()
	if t, ok := p.timers[req]; ok {
		t.Stop()
		delete(p.timers, req)
	}
}

func (p *Plugin) stopTimers() {
	p.timersMu.Lock()
	defer p.timersMu.Unlock()
	for req, t := range p.timers {
		t.Stop()
		delete(p.timers, req)
	}
}

// sweep asks the client to answer pending requests whose deadline passed.
type sweep struct{}

func (p *Plugin) sweep() {
	current := p.State()
	next, effects := pruneExpired(current, p.now(), nil)
	if next.pending != current.pending {
		p.commit(next)
	}
	p.perform(effects)
}

// Subscribe returns a channel receiving every applied change, and a function
// that cancels the subscription. A subscriber that falls more than buffer
// changes behind misses changes rather than blocking the client.
func (p *Plugin) Subscribe(buffer int) (<-chan Change, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan Change, buffer)

	p.mu.Lock()
	p.subscribers[ch] = struct{}{}
	p.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			p.mu.Lock()
			delete(p.subscribers, ch)
			p.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

func (p *Plugin) commit(next State) uint64 {
	p.state.Store(&next)
	p.metrics.Pending(next.PendingCount())
	return p.version.Add(1)
}

func (p *Plugin) perform(effects []Effect) {
	for _, e := range effects {
		switch eff := e.(type) {
		case PostEffect:
			p.hub.Post(eff.Message, hub.WithTarget(eff.Target))
		case RespondEffect:
			p.stopTimer(eff.Request)
			p.hub.Post(eff.Message, hub.ResponseFor(eff.Request))
		case HaltEffect:
			p.metrics.PropagationHalt()
			p.onHalt(eff.Owner, eff.Event)
		case RejectEffect:
			p.logger.WithFields(logrus.Fields{
				"parent":  eff.Slot.Parent,
				"area":    eff.Slot.Area,
				"control": eff.Control,
			}).Warnf("Rejected view: %s", eff.Reason)
		}
	}
}

func (p *Plugin) broadcast(c Change) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for ch := range p.subscribers {
		select {
		case ch <- c:
		default:
			p.logger.WithField("version", c.Version).Debug("Subscriber full, dropping change")
		}
	}
}

func (p *Plugin) logHalt(owner address.Address, evt AreaChangedEvent) {
	p.logger.WithFields(logrus.Fields{
		"owner": owner,
		"area":  evt.Area,
	}).Error("Propagation halted: ancestor view has no sub-areas")
}
