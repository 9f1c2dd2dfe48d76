// Package source provides event producers for the daemon engine.
package source

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/grovetools/layoutsync/address"
	"github.com/grovetools/layoutsync/errors"
	"github.com/grovetools/layoutsync/internal/daemon/engine"
	"github.com/grovetools/layoutsync/layout"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// DefaultDebounce is how long DirSource waits for writes to settle.
const DefaultDebounce = 100 * time.Millisecond

// Document is one YAML document in a layout file: the view a sender
// publishes into one of its areas.
type Document struct {
	Sender string              `yaml:"sender"`
	Area   string              `yaml:"area"`
	View   *layout.WireControl `yaml:"view"`
}

type posted struct {
	sender address.Address
	area   string
}

// DirSource publishes the layout documents found in a directory and keeps
// publishing as files are written or removed.
type DirSource struct {
	dir      string
	debounce time.Duration
	logger   *logrus.Entry

	// Areas last posted per file, only touched from Run.
	posted map[string][]posted
}

// NewDirSource watches dir for *.yml and *.yaml layout files.
func NewDirSource(dir string, debounce time.Duration, logger *logrus.Entry) *DirSource {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &DirSource{
		dir:      dir,
		debounce: debounce,
		logger:   logger.WithField("dir", dir),
		posted:   make(map[string][]posted),
	}
}

// Name implements engine.Source.
func (s *DirSource) Name() string { return "dir" }

// Run loads every file once and then reloads files as they change.
func (s *DirSource) Run(ctx context.Context, p engine.Poster) error {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create layouts directory: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()
	if err := watcher.Add(s.dir); err != nil {
		return fmt.Errorf("failed to watch layouts directory: %w", err)
	}

	files, err := s.list()
	if err != nil {
		return err
	}
	s.Sync(ctx, p, files)

	dirty := make(map[string]struct{})
	var timer *time.Timer
	var fire <-chan time.Time
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !isLayoutFile(event.Name) {
				continue
			}
			s.logger.Debugf("fsnotify event: %s op=%v", event.Name, event.Op)
			dirty[event.Name] = struct{}{}
			if timer == nil {
				timer = time.NewTimer(s.debounce)
				fire = timer.C
			} else {
				timer.Reset(s.debounce)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.logger.WithError(err).Error("Watcher error")

		case <-fire:
			changed := make([]string, 0, len(dirty))
			for f := range dirty {
				changed = append(changed, f)
			}
			sort.Strings(changed)
			dirty = make(map[string]struct{})
			timer, fire = nil, nil
			s.Sync(ctx, p, changed)
		}
	}
}

// Sync reloads files as one scan activity with a sub-activity per file.
// Files that no longer exist have their areas cleared.
func (s *DirSource) Sync(ctx context.Context, p engine.Poster, files []string) {
	scan, err := p.StartActivity("scan")
	if err != nil {
		s.logger.WithError(err).Error("Failed to start scan activity")
		return
	}
	scan.Info("Scanning %d layout file(s) in %s", len(files), s.dir)

	for _, file := range files {
		sub, err := scan.StartSubActivity("file")
		if err != nil {
			scan.Error("Failed to track %s: %v", file, err)
			continue
		}
		if err := s.reload(p, file); err != nil {
			sub.Error("Failed to load %s: %v", filepath.Base(file), err)
		} else {
			sub.Info("Loaded %s", filepath.Base(file))
		}
		if err := sub.Complete(ctx); err != nil {
			s.logger.WithError(err).WithField("file", file).Warn("File activity did not complete")
		}
	}

	if err := scan.Complete(ctx); err != nil {
		s.logger.WithError(err).Warn("Scan activity did not complete")
	}
}

func (s *DirSource) reload(p engine.Poster, file string) error {
	previous := s.posted[file]

	docs, err := LoadFile(file)
	if os.IsNotExist(err) {
		delete(s.posted, file)
		s.clear(p, previous, nil)
		return nil
	}
	if err != nil {
		return err
	}

	// A file is published whole or not at all.
	type pending struct {
		sender address.Address
		event  layout.AreaChangedEvent
	}
	events := make([]pending, 0, len(docs))
	for _, doc := range docs {
		sender, evt, err := doc.Event()
		if err != nil {
			return err
		}
		events = append(events, pending{sender: sender, event: evt})
	}

	current := make([]posted, 0, len(events))
	for _, e := range events {
		if err := p.PostEvent(e.sender, e.event); err != nil {
			// Keep tracking everything that may still be published.
			s.posted[file] = union(current, previous)
			return err
		}
		current = append(current, posted{sender: e.sender, area: e.event.Area})
	}
	s.posted[file] = current
	s.clear(p, previous, current)
	return nil
}

func union(a, b []posted) []posted {
	out := append([]posted(nil), a...)
	for _, p := range b {
		if !contains(out, p) {
			out = append(out, p)
		}
	}
	return out
}

func contains(list []posted, p posted) bool {
	for _, q := range list {
		if q == p {
			return true
		}
	}
	return false
}

// clear posts an empty view for every area in previous that is not in keep.
func (s *DirSource) clear(p engine.Poster, previous, keep []posted) {
	for _, old := range previous {
		if contains(keep, old) {
			continue
		}
		if err := p.PostEvent(old.sender, layout.AreaChangedEvent{Area: old.area}); err != nil {
			s.logger.WithError(err).WithField("area", old.area).Warn("Failed to clear area")
		}
	}
}

func (s *DirSource) list() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, entry := range entries {
		if entry.IsDir() || !isLayoutFile(entry.Name()) {
			continue
		}
		files = append(files, filepath.Join(s.dir, entry.Name()))
	}
	return files, nil
}

func isLayoutFile(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	return ext == ".yml" || ext == ".yaml"
}

// LoadFile parses every document in a layout file.
func LoadFile(path string) ([]Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return ParseDocuments(data)
}

// ParseDocuments decodes a multi-document YAML stream. Empty documents are
// skipped.
func ParseDocuments(data []byte) ([]Document, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	var docs []Document
	for i := 0; ; i++ {
		var doc Document
		err := dec.Decode(&doc)
		if err == io.EOF {
			return docs, nil
		}
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeInvalidInput, fmt.Sprintf("invalid layout document %d", i+1))
		}
		if doc.Sender == "" && doc.Area == "" && doc.View == nil {
			continue
		}
		docs = append(docs, doc)
	}
}

// Event validates the document and converts it into an event from its sender.
func (d Document) Event() (address.Address, layout.AreaChangedEvent, error) {
	sender, err := address.Parse(d.Sender)
	if err != nil {
		return "", layout.AreaChangedEvent{}, err
	}
	if d.Area == "" {
		return "", layout.AreaChangedEvent{}, errors.New(errors.ErrCodeInvalidInput, "layout document is missing an area").
			WithDetail("sender", d.Sender)
	}
	evt, err := layout.WireEvent{Area: d.Area, View: d.View}.Event()
	if err != nil {
		return "", layout.AreaChangedEvent{}, err
	}
	return sender, evt, nil
}
