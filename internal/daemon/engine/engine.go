// Package engine wires the daemon's hubs together and runs its sources.
package engine

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/grovetools/layoutsync/activity"
	"github.com/grovetools/layoutsync/address"
	"github.com/grovetools/layoutsync/config"
	"github.com/grovetools/layoutsync/errors"
	"github.com/grovetools/layoutsync/hub"
	"github.com/grovetools/layoutsync/layout"
	"github.com/grovetools/layoutsync/metrics"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Well-known daemon hub addresses.
var (
	LogAddress = address.New("daemon", "log")
	APIAddress = address.New("daemon", "api")
)

// maxActivities bounds the activity history kept for /api/activities.
const maxActivities = 50

// Source produces area changed events for the layout client.
type Source interface {
	// Name returns the source's name for logging.
	Name() string

	// Run blocks until ctx is cancelled, posting events through p.
	Run(ctx context.Context, p Poster) error
}

// Poster is the part of the engine sources talk to.
type Poster interface {
	PostEvent(sender address.Address, evt layout.AreaChangedEvent) error
	StartActivity(category string) (*activity.Activity, error)
}

// Engine owns the mesh, the layout client and the activity history.
type Engine struct {
	cfg     *config.Config
	logger  *logrus.Entry
	metrics *metrics.Metrics

	mesh   *hub.Mesh
	client *hub.Hub
	api    *hub.Hub
	log    *hub.Hub
	plugin *layout.Plugin

	sources []Source

	mu         sync.Mutex
	activities []*activity.Activity
}

// New builds the mesh with the layout client, the API hub and the log sink.
func New(cfg *config.Config, logger *logrus.Entry, m *metrics.Metrics) (*Engine, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	cfg.SetDefaults()
	clientAddr, err := address.Parse(cfg.Hub.ClientAddress)
	if err != nil {
		return nil, err
	}
	mesh := hub.NewMesh(hub.WithLogger(logger), hub.WithMetrics(m), hub.WithMailboxWarn(cfg.Hub.MailboxWarn))

	e := &Engine{cfg: cfg, logger: logger, metrics: m, mesh: mesh}
	if e.client, err = mesh.NewHub(clientAddr); err != nil {
		mesh.Dispose()
		return nil, err
	}
	if e.api, err = mesh.NewHub(APIAddress); err != nil {
		mesh.Dispose()
		return nil, err
	}
	if e.log, err = mesh.NewHub(LogAddress); err != nil {
		mesh.Dispose()
		return nil, err
	}

	e.plugin = layout.NewPlugin(e.client, layout.WithLogger(logger), layout.WithMetrics(m))
	e.log.Register(hub.PluginFunc(e.handleLog))
	return e, nil
}

// Register adds a source. Sources must be registered before Start.
func (e *Engine) Register(s Source) {
	e.sources = append(e.sources, s)
}

// Start runs all sources and blocks until ctx is cancelled or a source fails.
func (e *Engine) Start(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, s := range e.sources {
		src := s
		g.Go(func() error {
			e.logger.WithField("source", src.Name()).Info("Starting source")
			if err := src.Run(ctx, e); err != nil {
				e.logger.WithField("source", src.Name()).WithError(err).Error("Source failed")
				return err
			}
			return nil
		})
	}
	return g.Wait()
}

// Close disposes every activity and hub.
func (e *Engine) Close() {
	e.mu.Lock()
	acts := e.activities
	e.activities = nil
	e.mu.Unlock()
	for _, a := range acts {
		a.Dispose()
	}
	e.mesh.Dispose()
}

// Plugin returns the layout client.
func (e *Engine) Plugin() *layout.Plugin { return e.plugin }

// Mesh returns the daemon mesh.
func (e *Engine) Mesh() *hub.Mesh { return e.mesh }

// Config returns the configuration the engine was built with.
func (e *Engine) Config() *config.Config { return e.cfg }

// PostEvent delivers evt to the layout client as if sent by sender.
func (e *Engine) PostEvent(sender address.Address, evt layout.AreaChangedEvent) error {
	if e.client.IsDisposing() {
		return errors.HubUnavailable(e.client.Address().String())
	}
	e.api.Post(evt, hub.WithSender(sender), hub.WithTarget(e.client.Address()))
	return nil
}

// Get asks the layout client for the event picked by sel, waiting up to wait
// for it to appear.
func (e *Engine) Get(ctx context.Context, sel layout.Selector, wait time.Duration) (*layout.AreaChangedEvent, error) {
	return layout.Get(ctx, e.api, e.client.Address(), sel, wait)
}

// StartActivity creates a tracked activity whose log messages go to the
// daemon log.
func (e *Engine) StartActivity(category string) (*activity.Activity, error) {
	a, err := activity.New(e.client, category,
		activity.WithLogger(e.logger),
		activity.WithMetrics(e.metrics),
		activity.WithLogTarget(LogAddress),
		activity.WithCompleteTimeout(e.cfg.CompleteTimeout()),
	)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	e.activities = append(e.activities, a)
	var evicted []*activity.Activity
	if n := len(e.activities) - maxActivities; n > 0 {
		evicted = append(evicted, e.activities[:n]...)
		e.activities = append([]*activity.Activity(nil), e.activities[n:]...)
	}
	e.mu.Unlock()

	for _, old := range evicted {
		old.Dispose()
	}
	return a, nil
}

// Activities returns snapshots of tracked activities, newest first.
func (e *Engine) Activities() []activity.Log {
	e.mu.Lock()
	acts := append([]*activity.Activity(nil), e.activities...)
	e.mu.Unlock()

	logs := make([]activity.Log, 0, len(acts))
	for _, a := range acts {
		logs = append(logs, a.Current())
	}
	sort.SliceStable(logs, func(i, j int) bool { return logs[i].Start.After(logs[j].Start) })
	return logs
}

// handleLog writes activity log requests to the daemon logger.
func (e *Engine) handleLog(_ context.Context, d *hub.Delivery) bool {
	req, ok := d.Message.(activity.LogRequest)
	if !ok {
		return false
	}
	fields := logrus.Fields{"activity": req.ActivityID, "category": req.Category}
	for k, v := range req.Payload.Scope {
		fields[k] = v
	}
	e.logger.WithFields(fields).WithTime(req.Payload.Timestamp).Log(req.Payload.Level, req.Payload.Message)
	return true
}
