package layout

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/grovetools/layoutsync/address"
	"github.com/grovetools/layoutsync/errors"
	"github.com/grovetools/layoutsync/hub"
	"github.com/grovetools/layoutsync/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	mesh    *hub.Mesh
	client  *hub.Hub
	plugin  *Plugin
	metrics *metrics.Metrics
	logs    *logtest.Hook
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	logger, hook := logtest.NewNullLogger()
	entry := logrus.NewEntry(logger)

	m := hub.NewMesh(hub.WithLogger(entry))
	t.Cleanup(m.Dispose)

	client, err := m.NewHub(self)
	require.NoError(t, err)

	met := metrics.New(prometheus.NewRegistry())
	p := NewPlugin(client, append([]Option{WithLogger(entry), WithMetrics(met)}, opts...)...)
	return &fixture{mesh: m, client: client, plugin: p, metrics: met, logs: hook}
}

func (f *fixture) hub(t *testing.T, addr address.Address) *hub.Hub {
	t.Helper()
	h, err := f.mesh.NewHub(addr)
	require.NoError(t, err)
	return h
}

// drain waits until everything queued on h so far has been processed.
func drain(t *testing.T, h *hub.Hub) {
	t.Helper()
	done := make(chan struct{})
	require.NoError(t, h.Invoke(func() { close(done) }))
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("hub did not drain")
	}
}

// inbox records deliveries of one message type on a hub.
type inbox[T any] struct {
	mu  sync.Mutex
	got []T
}

func (b *inbox[T]) Handle(_ context.Context, d *hub.Delivery) bool {
	msg, ok := d.Message.(T)
	if !ok {
		return false
	}
	b.mu.Lock()
	b.got = append(b.got, msg)
	b.mu.Unlock()
	return true
}

func (b *inbox[T]) all() []T {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]T(nil), b.got...)
}

func TestScenarioReplaceControl(t *testing.T) {
	f := newFixture(t)
	producer := f.hub(t, sender)

	x := leaf("x", nil)
	y := leaf("y", nil)
	xHub, yHub := f.hub(t, x.Address), f.hub(t, y.Address)
	xRefresh, yRefresh := &inbox[RefreshRequest]{}, &inbox[RefreshRequest]{}
	xHub.Register(xRefresh)
	yHub.Register(yRefresh)

	producer.Post(area("A", x), hub.WithTarget(self))
	drain(t, f.client)
	drain(t, xHub)
	require.Len(t, xRefresh.all(), 1)

	producer.Post(area("A", y), hub.WithTarget(self))
	drain(t, f.client)
	drain(t, xHub)
	drain(t, yHub)

	s := f.plugin.State()
	assert.Nil(t, s.GetByAddress(x.Address))
	assert.Nil(t, s.GetByControlID("x"))
	at, ok := s.ControlAt(sender, "A")
	require.True(t, ok)
	assert.Equal(t, y.Address, at)

	assert.Len(t, yRefresh.all(), 1)
	assert.Len(t, xRefresh.all(), 1, "no refresh reaches X after checkout")
	assert.Equal(t, []RefreshRequest{{Area: "A"}}, yRefresh.all())
}

func TestScenarioPendingGet(t *testing.T) {
	f := newFixture(t)
	producer := f.hub(t, sender)
	requester := f.hub(t, "requester/1")
	answers := &inbox[GetResponse]{}
	requester.Register(answers)

	requester.Post(GetRequest{Options: ByControlID("42")}, hub.WithTarget(self))
	drain(t, f.client)
	assert.Equal(t, 1, f.plugin.State().PendingCount())

	producer.Post(area("main", leaf("42", "hello")), hub.WithTarget(self))
	producer.Post(area("main", leaf("42", "again")), hub.WithTarget(self))
	drain(t, f.client)
	drain(t, requester)

	got := answers.all()
	require.Len(t, got, 1)
	assert.Equal(t, "hello", got[0].Event.View.(Leaf).Data)
	assert.Equal(t, 0, f.plugin.State().PendingCount())
	assert.Equal(t, float64(0), testutil.ToFloat64(f.metrics.PendingRequests))
}

func TestGetHelper(t *testing.T) {
	f := newFixture(t)
	producer := f.hub(t, sender)
	requester := f.hub(t, "requester/1")
	ctx := context.Background()

	evt, err := Get(ctx, requester, self, ByControlID("42"), 0)
	require.NoError(t, err)
	assert.Nil(t, evt, "not populated")

	result := make(chan *AreaChangedEvent, 1)
	go func() {
		evt, err := Get(ctx, requester, self, ByControlID("42"), 5*time.Second)
		assert.NoError(t, err)
		result <- evt
	}()

	require.Eventually(t, func() bool { return f.plugin.State().PendingCount() == 1 }, 2*time.Second, 5*time.Millisecond)
	producer.Post(area("main", leaf("42", nil)), hub.WithTarget(self))

	select {
	case evt := <-result:
		require.NotNil(t, evt)
		assert.Equal(t, "main", evt.Area)
	case <-time.After(3 * time.Second):
		t.Fatal("get did not resolve")
	}
}

func TestGetHelperDeadline(t *testing.T) {
	f := newFixture(t)
	requester := f.hub(t, "requester/1")

	start := time.Now()
	evt, err := Get(context.Background(), requester, self, ByControlID("never"), 50*time.Millisecond)
	require.NoError(t, err)
	assert.Nil(t, evt)
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Eventually(t, func() bool { return f.plugin.State().PendingCount() == 0 }, time.Second, 5*time.Millisecond)
}

func TestRequestNotSupported(t *testing.T) {
	f := newFixture(t)
	requester := f.hub(t, "requester/1")

	_, err := requester.Request(context.Background(), GetRequest{Options: 42}, self)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrCodeNotSupported))
	assert.Equal(t, 0, f.plugin.State().PendingCount())
}

func TestPropagationHaltHook(t *testing.T) {
	var mu sync.Mutex
	var owners []address.Address
	f := newFixture(t, WithPropagationHalt(func(owner address.Address, evt AreaChangedEvent) {
		mu.Lock()
		owners = append(owners, owner)
		mu.Unlock()
	}))

	plain := leaf("plain", nil)
	producer := f.hub(t, sender)
	child := f.hub(t, plain.Address)

	producer.Post(area("main", plain), hub.WithTarget(self))
	drain(t, f.client)
	child.Post(area("inner", leaf("c", nil)), hub.WithTarget(self))
	drain(t, f.client)

	mu.Lock()
	assert.Equal(t, []address.Address{plain.Address}, owners)
	mu.Unlock()
	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.PropagationHalts))
}

func TestDefaultHaltLogsError(t *testing.T) {
	f := newFixture(t)
	plain := leaf("plain", nil)
	producer := f.hub(t, sender)
	child := f.hub(t, plain.Address)

	producer.Post(area("main", plain), hub.WithTarget(self))
	child.Post(area("inner", leaf("c", nil)), hub.WithTarget(self))
	drain(t, f.client)

	var found bool
	for _, e := range f.logs.AllEntries() {
		if e.Level == logrus.ErrorLevel && e.Data["owner"] == plain.Address {
			found = true
		}
	}
	assert.True(t, found, "halt must be reported, not swallowed")
}

func TestSelfEchoThroughHub(t *testing.T) {
	f := newFixture(t)
	f.client.Post(area("main", leaf("1", nil)))
	drain(t, f.client)

	assert.Equal(t, 0, f.plugin.State().Len())
	assert.Equal(t, uint64(0), f.plugin.Version())
	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.LayoutEvents.WithLabelValues(metrics.ResultSelf)))
}

func TestSubscribe(t *testing.T) {
	f := newFixture(t)
	changes, cancel := f.plugin.Subscribe(4)
	producer := f.hub(t, sender)

	evt := area("main", leaf("1", nil))
	producer.Post(evt, hub.WithTarget(self))
	producer.Post(evt, hub.WithTarget(self)) // duplicate, not broadcast
	drain(t, f.client)

	select {
	case c := <-changes:
		assert.Equal(t, sender, c.Sender)
		assert.Equal(t, uint64(1), c.Version)
		assert.Equal(t, "main", c.Event.Area)
	case <-time.After(time.Second):
		t.Fatal("no change received")
	}
	select {
	case c := <-changes:
		t.Fatalf("unexpected change %+v", c)
	default:
	}

	cancel()
	_, open := <-changes
	assert.False(t, open)
	cancel()
}

func TestSnapshot(t *testing.T) {
	f := newFixture(t)
	producer := f.hub(t, sender)
	producer.Post(area("main", container("c", area("b", leaf("b", nil)))), hub.WithTarget(self))
	drain(t, f.client)

	snap := f.plugin.Snapshot()
	assert.Equal(t, uint64(1), snap.Version)
	require.Len(t, snap.Slots, 2)
	assert.Equal(t, address.Address("control/c"), snap.Slots[0].Parent)
	assert.Equal(t, "b", snap.Slots[0].ID)
	assert.Equal(t, sender, snap.Slots[1].Parent)
	assert.Equal(t, "c", snap.Slots[1].ID)
}

func TestAnsweredRequestStopsDeadlineTimer(t *testing.T) {
	f := newFixture(t)
	producer := f.hub(t, sender)
	requester := f.hub(t, "requester/1")
	answers := &inbox[GetResponse]{}
	requester.Register(answers)

	requester.Post(GetRequest{Options: ByControlID("42"), Deadline: time.Now().Add(time.Minute)}, hub.WithTarget(self))
	drain(t, f.client)
	assert.Equal(t, 1, f.plugin.pendingTimers())

	producer.Post(area("main", leaf("42", nil)), hub.WithTarget(self))
	drain(t, f.client)
	drain(t, requester)

	require.Len(t, answers.all(), 1)
	assert.Equal(t, 0, f.plugin.pendingTimers())
}

func TestExpiredRequestReleasesTimer(t *testing.T) {
	f := newFixture(t)
	requester := f.hub(t, "requester/1")

	evt, err := Get(context.Background(), requester, self, ByControlID("never"), 20*time.Millisecond)
	require.NoError(t, err)
	assert.Nil(t, evt)
	assert.Eventually(t, func() bool { return f.plugin.pendingTimers() == 0 }, time.Second, 5*time.Millisecond)
}

func TestRejectedViewLoggedOnce(t *testing.T) {
	f := newFixture(t)
	producer := f.hub(t, sender)

	producer.Post(area("main", Leaf{ID: "anon"}), hub.WithTarget(self))
	drain(t, f.client)

	var rejected int
	for _, e := range f.logs.AllEntries() {
		if e.Data["area"] == "main" {
			assert.Equal(t, logrus.WarnLevel, e.Level)
			rejected++
		}
	}
	assert.Equal(t, 1, rejected)
	assert.Equal(t, float64(1), testutil.ToFloat64(f.metrics.LayoutEvents.WithLabelValues(metrics.ResultIgnored)))
}

func TestCyclicViewsDoNotStopClient(t *testing.T) {
	f := newFixture(t)
	producer := f.hub(t, sender)
	x := address.Address("control/x")
	xHub := f.hub(t, x)

	looped := Container{ID: "x", Address: x, Areas: []AreaChangedEvent{area("body", Leaf{ID: "x-body", Address: x})}}
	producer.Post(area("main", looped), hub.WithTarget(self))
	drain(t, f.client)
	xHub.Post(area("body", Leaf{ID: "x-body", Address: x, Data: 1}), hub.WithTarget(self))
	drain(t, f.client)

	// The client still serves later events.
	producer.Post(area("side", leaf("ok", nil)), hub.WithTarget(self))
	drain(t, f.client)

	s := f.plugin.State()
	assert.NotNil(t, s.GetByControlID("ok"))
	slot, ok := s.ParentOf(x)
	require.True(t, ok)
	assert.Equal(t, Slot{Parent: sender, Area: "main"}, slot)
	assert.False(t, f.client.IsDisposing())
}
