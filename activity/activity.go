// Package activity tracks long-running operations as a tree of activities.
//
// Every Activity owns a private sync hub. All mutations go through Update,
// which runs the transform on that hub's mailbox, so concurrent callers never
// race. Parents observe children through subscriptions; children hold no
// reference to their parent.
package activity

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/grovetools/layoutsync/address"
	"github.com/grovetools/layoutsync/errors"
	"github.com/grovetools/layoutsync/hub"
	"github.com/grovetools/layoutsync/logging"
	"github.com/grovetools/layoutsync/metrics"
	"github.com/sirupsen/logrus"
)

// DefaultCompleteTimeout bounds how long Complete waits for sub-activities.
const DefaultCompleteTimeout = 100 * time.Second

// AddressKind is the address type of activity sync hubs.
const AddressKind = "activity"

type options struct {
	timeout   time.Duration
	logTarget address.Address
	logger    *logrus.Entry
	metrics   *metrics.Metrics
	now       func() time.Time
}

// Option configures an Activity. Sub-activities inherit their parent's
// options.
type Option func(*options)

// WithCompleteTimeout overrides DefaultCompleteTimeout.
func WithCompleteTimeout(d time.Duration) Option {
	return func(o *options) { o.timeout = d }
}

// WithLogTarget sends LogRequests to addr instead of the owning hub.
func WithLogTarget(addr address.Address) Option {
	return func(o *options) { o.logTarget = addr }
}

// WithLogger sets the logger used for dropped updates and disposal failures.
func WithLogger(logger *logrus.Entry) Option {
	return func(o *options) { o.logger = logger }
}

// WithMetrics enables instrumentation.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

type child struct {
	activity *Activity
	cancel   func()
}

type waiter struct {
	status Status
	result chan Log
}

// Activity is a live, mutable handle on an activity log.
type Activity struct {
	id       string
	category string
	owner    *hub.Hub
	sync     *hub.Hub
	opts     options
	logger   *logrus.Entry

	snapshot atomic.Pointer[Log]

	// Owned by the sync hub mailbox.
	current     Log
	subscribers map[int]func(Log)
	waiters     []*waiter

	nextSubID atomic.Int64

	mu          sync.Mutex
	children    []child
	disposables []func() error
	disposed    bool
}

// New starts a running activity whose log requests are posted through owner.
func New(owner *hub.Hub, category string, opts ...Option) (*Activity, error) {
	o := options{timeout: DefaultCompleteTimeout, now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = logging.NewLogger("activity")
	}
	return newActivity(owner, category, o)
}

func newActivity(owner *hub.Hub, category string, o options) (*Activity, error) {
	id := uuid.NewString()
	syncHub, err := owner.Mesh().NewHub(address.New(AddressKind, id))
	if err != nil {
		return nil, err
	}

	a := &Activity{
		id:          id,
		category:    category,
		owner:       owner,
		sync:        syncHub,
		opts:        o,
		logger:      o.logger.WithFields(logrus.Fields{"activity": id, "category": category}),
		subscribers: make(map[int]func(Log)),
		current: Log{
			ID:            id,
			Category:      category,
			Status:        Running,
			Start:         o.now(),
			Messages:      []LogMessage{},
			SubActivities: map[string]Log{},
		},
	}
	a.publish()
	return a, nil
}

// ID returns the activity id.
func (a *Activity) ID() string { return a.id }

// Address returns the address of the activity's sync hub.
func (a *Activity) Address() address.Address {
	if a.sync == nil {
		return ""
	}
	return a.sync.Address()
}

// Current returns the latest snapshot. Safe from any goroutine.
func (a *Activity) Current() Log {
	if l := a.snapshot.Load(); l != nil {
		return l.clone()
	}
	return Log{}
}

// Update applies transform to a copy of the current log on the sync hub.
// When the sync hub is missing or disposing the mutation is dropped and
// onError receives a HUB_UNAVAILABLE error. Updates after a terminal status
// are ignored.
func (a *Activity) Update(transform func(Log) Log, onError func(error)) {
	if onError == nil {
		onError = a.logDropped
	}
	if a.sync == nil {
		onError(errors.HubUnavailable(""))
		return
	}
	if a.sync.IsDisposing() {
		onError(errors.HubUnavailable(a.sync.Address().String()))
		return
	}
	if err := a.sync.Invoke(func() { a.apply(transform) }); err != nil {
		onError(err)
	}
}

// apply runs on the sync hub mailbox and reports whether the log changed.
func (a *Activity) apply(transform func(Log) Log) bool {
	if a.current.Status.IsTerminal() {
		return false
	}

	prev := a.current
	next := transform(prev.clone())
	next.ID, next.Category, next.Start = prev.ID, prev.Category, prev.Start
	next.Version = prev.Version + 1
	if next.Status.IsTerminal() && next.End == nil {
		end := a.opts.now()
		next.End = &end
	}
	a.current = next
	a.publish()

	if next.Status.IsTerminal() {
		a.opts.metrics.ActivityCompleted(string(next.Status))
		a.logger.WithField("status", next.Status).Debug("Activity finished")
	}

	for _, fn := range a.subscribers {
		a.notify(fn, next)
	}
	a.checkWaiters()
	return true
}

func (a *Activity) publish() {
	snap := a.current
	a.snapshot.Store(&snap)
}

func (a *Activity) notify(fn func(Log), l Log) {
	defer func() {
		if r := recover(); r != nil {
			a.logger.WithField("panic", r).Error("Activity subscriber panicked")
		}
	}()
	fn(l)
}

// Subscribe calls fn with the current log and then with every later
// snapshot, on the sync hub mailbox. The returned function cancels the
// subscription.
func (a *Activity) Subscribe(fn func(Log)) (cancel func()) {
	if a.sync == nil {
		return func() {}
	}

	id := int(a.nextSubID.Add(1))
	err := a.sync.Invoke(func() {
		a.subscribers[id] = fn
		a.notify(fn, a.current)
	})
	if err != nil {
		return func() {}
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			_ = a.sync.Invoke(func() { delete(a.subscribers, id) })
		})
	}
}

// StartSubActivity creates a running child whose updates are mirrored into
// this activity's SubActivities.
func (a *Activity) StartSubActivity(category string) (*Activity, error) {
	if a.owner == nil {
		return nil, errors.HubUnavailable("")
	}
	sub, err := newActivity(a.owner, category, a.opts)
	if err != nil {
		return nil, err
	}

	initial := sub.Current()
	a.Update(func(l Log) Log {
		l.SubActivities[initial.ID] = initial
		return l
	}, nil)

	cancel := sub.Subscribe(func(cl Log) {
		a.Update(func(l Log) Log {
			if existing, ok := l.SubActivities[cl.ID]; ok && existing.Version > cl.Version {
				return l
			}
			l.SubActivities[cl.ID] = cl
			return l
		}, nil)
	})

	a.mu.Lock()
	a.children = append(a.children, child{activity: sub, cancel: cancel})
	a.mu.Unlock()
	return sub, nil
}

// LogMessage appends msg and posts a LogRequest through the owning hub.
func (a *Activity) LogMessage(msg LogMessage) {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = a.opts.now()
	}
	if a.sync == nil || a.sync.IsDisposing() {
		a.logDropped(errors.HubUnavailable(a.Address().String()))
		return
	}
	err := a.sync.Invoke(func() {
		applied := a.apply(func(l Log) Log {
			l.Messages = append(l.Messages, msg)
			return l
		})
		if applied && a.owner != nil {
			target := a.opts.logTarget
			if target.IsZero() {
				target = a.owner.Address()
			}
			a.owner.Post(LogRequest{
				Target:     target,
				ActivityID: a.id,
				Category:   a.category,
				Payload:    msg,
			}, hub.WithTarget(target))
		}
	})
	if err != nil {
		a.logDropped(err)
	}
}

// Info logs at info level.
func (a *Activity) Info(format string, args ...any) { a.log(logrus.InfoLevel, format, args) }

// Warn logs at warning level.
func (a *Activity) Warn(format string, args ...any) { a.log(logrus.WarnLevel, format, args) }

// Error logs at error level; the activity will infer Failed on completion.
func (a *Activity) Error(format string, args ...any) { a.log(logrus.ErrorLevel, format, args) }

func (a *Activity) log(level logrus.Level, format string, args []any) {
	a.LogMessage(LogMessage{Level: level, Message: fmt.Sprintf(format, args...)})
}

// CompleteOption configures Complete.
type CompleteOption func(*completeOptions)

type completeOptions struct {
	status      Status
	onCompleted func(Log)
}

// WithStatus sets the final status instead of inferring it from logged errors.
func WithStatus(s Status) CompleteOption {
	return func(o *completeOptions) { o.status = s }
}

// OnCompleted is called with the final log once the activity is terminal.
func OnCompleted(fn func(Log)) CompleteOption {
	return func(o *completeOptions) { o.onCompleted = fn }
}

// Complete waits until no sub-activity is running and then moves the activity
// to its final status: the one given by WithStatus, otherwise Failed when an
// error was logged anywhere in the tree and Succeeded when not.
//
// If the completion timeout elapses first, the activity is forced to Failed
// and a TIMEOUT error is returned. If ctx ends first, ctx.Err() is returned
// and the activity is left as it is.
func (a *Activity) Complete(ctx context.Context, opts ...CompleteOption) error {
	var o completeOptions
	for _, opt := range opts {
		opt(&o)
	}
	if a.sync == nil {
		return errors.HubUnavailable("")
	}

	w := &waiter{status: o.status, result: make(chan Log, 1)}
	if err := a.sync.Invoke(func() {
		a.waiters = append(a.waiters, w)
		a.checkWaiters()
	}); err != nil {
		return err
	}

	timer := time.NewTimer(a.opts.timeout)
	defer timer.Stop()

	select {
	case final := <-w.result:
		if o.onCompleted != nil {
			o.onCompleted(final)
		}
		return nil

	case <-timer.C:
		forced := make(chan bool, 1)
		err := a.sync.Invoke(func() {
			if !a.removeWaiter(w) {
				forced <- false
				return
			}
			a.apply(func(l Log) Log {
				l.Status = Failed
				l.Messages = append(l.Messages, LogMessage{
					Level:     logrus.ErrorLevel,
					Message:   fmt.Sprintf("activity did not complete within %s", a.opts.timeout),
					Timestamp: a.opts.now(),
				})
				return l
			})
			forced <- true
		})
		if err != nil {
			return err
		}
		select {
		case ok := <-forced:
			if !ok {
				// Completed just before the timeout fired.
				final := <-w.result
				if o.onCompleted != nil {
					o.onCompleted(final)
				}
				return nil
			}
		case <-a.sync.Done():
			return errors.HubUnavailable(a.sync.Address().String())
		}
		if o.onCompleted != nil {
			o.onCompleted(a.Current())
		}
		return errors.Timeout("activity complete", a.opts.timeout).WithDetail("activity", a.id)

	case <-ctx.Done():
		_ = a.sync.Invoke(func() { a.removeWaiter(w) })
		return ctx.Err()

	case <-a.sync.Done():
		return errors.HubUnavailable(a.sync.Address().String())
	}
}

// checkWaiters resolves Complete calls whose condition now holds.
func (a *Activity) checkWaiters() {
	if len(a.waiters) == 0 {
		return
	}
	if !a.current.Status.IsTerminal() && a.current.HasRunningSubActivities() {
		return
	}

	waiters := a.waiters
	a.waiters = nil
	for _, w := range waiters {
		if !a.current.Status.IsTerminal() {
			status := w.status
			if status == "" || status == Running {
				status = Succeeded
				if a.current.HasErrors() {
					status = Failed
				}
			}
			a.apply(func(l Log) Log {
				l.Status = status
				return l
			})
		}
		w.result <- a.current
	}
}

func (a *Activity) removeWaiter(w *waiter) bool {
	for i, candidate := range a.waiters {
		if candidate == w {
			a.waiters = append(a.waiters[:i], a.waiters[i+1:]...)
			return true
		}
	}
	return false
}

// AddDisposable registers a cleanup to run when the activity is disposed.
func (a *Activity) AddDisposable(fn func() error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.disposables = append(a.disposables, fn)
}

// Dispose cancels child subscriptions, disposes children, runs registered
// cleanups and stops the sync hub. Each step is isolated: errors and panics
// are logged and do not prevent the remaining steps.
func (a *Activity) Dispose() {
	a.mu.Lock()
	if a.disposed {
		a.mu.Unlock()
		return
	}
	a.disposed = true
	children := a.children
	disposables := a.disposables
	a.children, a.disposables = nil, nil
	a.mu.Unlock()

	for _, c := range children {
		a.safely("cancel sub-activity subscription", func() error { c.cancel(); return nil })
		a.safely("dispose sub-activity", func() error { c.activity.Dispose(); return nil })
	}
	for _, fn := range disposables {
		a.safely("disposable", fn)
	}
	if a.sync != nil {
		a.safely("dispose sync hub", func() error { a.sync.Dispose(); return nil })
	}
}

func (a *Activity) safely(what string, fn func() error) {
	defer func() {
		if r := recover(); r != nil {
			a.logger.WithField("panic", r).Warnf("Failed to %s", what)
		}
	}()
	if err := fn(); err != nil {
		a.logger.WithError(err).Warnf("Failed to %s", what)
	}
}

func (a *Activity) logDropped(err error) {
	if a.logger == nil {
		return
	}
	a.logger.WithError(err).Debug("Dropped activity update")
}
