// Package hub implements the actor-style message hubs the layout client and
// activities run on.
//
// A Hub owns one goroutine and one unbounded FIFO mailbox. Deliveries and
// invoked closures are processed strictly one at a time, so state owned by a
// hub needs no locking as long as it is only touched from the mailbox.
package hub

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/grovetools/layoutsync/address"
	"github.com/grovetools/layoutsync/errors"
	"github.com/grovetools/layoutsync/metrics"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("github.com/grovetools/layoutsync/hub")

// Plugin handles deliveries for a hub. Handle runs on the hub's mailbox
// goroutine and reports whether it consumed the delivery.
type Plugin interface {
	Handle(ctx context.Context, d *Delivery) bool
}

// PluginFunc adapts a function to Plugin.
type PluginFunc func(ctx context.Context, d *Delivery) bool

// Handle calls f.
func (f PluginFunc) Handle(ctx context.Context, d *Delivery) bool { return f(ctx, d) }

type envelope struct {
	delivery *Delivery
	fn       func()
}

// Hub is a single mailbox endpoint registered in a Mesh.
type Hub struct {
	addr   address.Address
	mesh   *Mesh
	opts   options
	logger *logrus.Entry

	mu      sync.Mutex
	queue   []envelope
	waiters map[string]chan *Delivery

	notify    chan struct{}
	stop      chan struct{}
	done      chan struct{}
	disposing atomic.Bool
	stopOnce  sync.Once

	pluginsMu sync.RWMutex
	plugins   []Plugin
}

func newHub(m *Mesh, addr address.Address, opts options) *Hub {
	return &Hub{
		addr:    addr,
		mesh:    m,
		opts:    opts,
		logger:  opts.logger.WithField("hub", addr.String()),
		waiters: make(map[string]chan *Delivery),
		notify:  make(chan struct{}, 1),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Address returns the hub's own address.
func (h *Hub) Address() address.Address { return h.addr }

// Mesh returns the mesh the hub is registered in.
func (h *Hub) Mesh() *Mesh { return h.mesh }

// Logger returns the hub's logger.
func (h *Hub) Logger() *logrus.Entry { return h.logger }

// Register appends a plugin. Plugins see deliveries in registration order
// until one reports the delivery handled.
func (h *Hub) Register(p Plugin) {
	h.pluginsMu.Lock()
	defer h.pluginsMu.Unlock()
	h.plugins = append(h.plugins, p)
}

// Post sends msg from this hub. Without options the delivery targets the hub
// itself.
func (h *Hub) Post(msg any, opts ...PostOption) *Delivery {
	d := newDelivery(h.addr, msg, opts)
	h.mesh.Route(d)
	return d
}

// Fail answers req with a DeliveryFailure.
func (h *Hub) Fail(req *Delivery, code errors.ErrorCode, message string) *Delivery {
	return h.Post(DeliveryFailure{Code: code, Message: message}, ResponseFor(req))
}

// Invoke runs fn on the mailbox goroutine after everything already queued.
func (h *Hub) Invoke(fn func()) error {
	if !h.enqueue(envelope{fn: fn}) {
		return errors.HubUnavailable(h.addr.String())
	}
	return nil
}

// Request posts msg to target and waits for the correlated response. A
// DeliveryFailure response is returned together with its coded error.
func (h *Hub) Request(ctx context.Context, msg any, target address.Address) (*Delivery, error) {
	if h.IsDisposing() {
		return nil, errors.HubUnavailable(h.addr.String())
	}

	d := newDelivery(h.addr, msg, []PostOption{WithTarget(target)})
	ch := make(chan *Delivery, 1)

	h.mu.Lock()
	h.waiters[d.ID] = ch
	h.mu.Unlock()
	defer func() {
		h.mu.Lock()
		delete(h.waiters, d.ID)
		h.mu.Unlock()
	}()

	if !h.mesh.Route(d) {
		return nil, errors.HubUnavailable(target.String())
	}

	select {
	case resp := <-ch:
		if failure, ok := resp.Message.(DeliveryFailure); ok {
			return resp, failure.Err()
		}
		return resp, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-h.done:
		return nil, errors.HubUnavailable(h.addr.String())
	}
}

// IsDisposing reports whether Dispose has been called.
func (h *Hub) IsDisposing() bool { return h.disposing.Load() }

// Dispose stops the mailbox and unregisters the hub. Queued work that has not
// started is discarded. Dispose blocks until the mailbox goroutine exits, so
// it must not be called from the hub's own mailbox.
func (h *Hub) Dispose() {
	h.stopOnce.Do(func() {
		h.disposing.Store(true)
		close(h.stop)
		h.mesh.unregister(h)
	})
	<-h.done
}

// Done is closed once the mailbox goroutine has exited.
func (h *Hub) Done() <-chan struct{} { return h.done }

func (h *Hub) enqueue(env envelope) bool {
	h.mu.Lock()
	if h.disposing.Load() {
		h.mu.Unlock()
		return false
	}
	h.queue = append(h.queue, env)
	depth := len(h.queue)
	h.mu.Unlock()

	h.opts.metrics.Mailbox(h.addr.Kind(), depth)
	if h.opts.mailboxWarn > 0 && depth == h.opts.mailboxWarn {
		h.logger.WithField("depth", depth).Warn("Mailbox backlog")
	}

	select {
	case h.notify <- struct{}{}:
	default:
	}
	return true
}

func (h *Hub) next() (envelope, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.queue) == 0 {
		return envelope{}, false
	}
	env := h.queue[0]
	h.queue[0] = envelope{}
	h.queue = h.queue[1:]
	return env, true
}

func (h *Hub) run() {
	defer close(h.done)
	defer h.discard()

	for {
		select {
		case <-h.stop:
			return
		case <-h.notify:
		}

		for {
			select {
			case <-h.stop:
				return
			default:
			}

			env, ok := h.next()
			if !ok {
				break
			}
			if env.fn != nil {
				h.invoke(env.fn)
			} else {
				h.dispatch(env.delivery)
			}
		}
		h.opts.metrics.Mailbox(h.addr.Kind(), h.depth())
	}
}

func (h *Hub) depth() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.queue)
}

func (h *Hub) discard() {
	h.mu.Lock()
	dropped := len(h.queue)
	h.queue = nil
	h.mu.Unlock()
	for i := 0; i < dropped; i++ {
		h.opts.metrics.Delivery(metrics.OutcomeDropped)
	}
	if dropped > 0 {
		h.logger.WithField("dropped", dropped).Debug("Discarded queued work on dispose")
	}
}

func (h *Hub) invoke(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			h.opts.metrics.Delivery(metrics.OutcomePanicked)
			h.logger.WithField("panic", r).Error("Invoked action panicked")
		}
	}()
	fn()
}

func (h *Hub) dispatch(d *Delivery) {
	ctx, span := tracer.Start(context.Background(), "hub.dispatch",
		trace.WithSpanKind(trace.SpanKindConsumer),
		trace.WithAttributes(
			attribute.String("hub.address", h.addr.String()),
			attribute.String("delivery.id", d.ID),
			attribute.String("delivery.sender", d.Sender.String()),
			attribute.String("message.type", typeName(d.Message)),
		),
	)
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			h.opts.metrics.Delivery(metrics.OutcomePanicked)
			span.SetStatus(codes.Error, fmt.Sprint(r))
			h.logger.WithFields(logrus.Fields{
				"panic":   r,
				"message": typeName(d.Message),
			}).Error("Plugin panicked while handling delivery")
		}
	}()

	if d.IsResponse() {
		h.mu.Lock()
		ch, ok := h.waiters[d.RequestID]
		delete(h.waiters, d.RequestID)
		h.mu.Unlock()
		if ok {
			ch <- d
			h.opts.metrics.Delivery(metrics.OutcomeHandled)
			return
		}
	}

	h.pluginsMu.RLock()
	plugins := h.plugins
	h.pluginsMu.RUnlock()

	for _, p := range plugins {
		if p.Handle(ctx, d) {
			h.opts.metrics.Delivery(metrics.OutcomeHandled)
			return
		}
	}

	h.opts.metrics.Delivery(metrics.OutcomeUnhandled)
	entry := h.logger.WithFields(logrus.Fields{
		"message": typeName(d.Message),
		"sender":  d.Sender,
	})
	if failure, ok := d.Message.(DeliveryFailure); ok {
		entry.WithField("code", failure.Code).Warn("Unhandled delivery failure")
		return
	}
	entry.Debug("Unhandled delivery")
}

func typeName(v any) string {
	return fmt.Sprintf("%T", v)
}
