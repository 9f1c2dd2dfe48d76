package source

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/grovetools/layoutsync/activity"
	"github.com/grovetools/layoutsync/address"
	"github.com/grovetools/layoutsync/errors"
	"github.com/grovetools/layoutsync/hub"
	"github.com/grovetools/layoutsync/layout"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const mainDoc = `sender: editor/main
area: left
view:
  $type: container
  id: split
  address: view/split
  areas:
    - area: top
      view:
        $type: leaf
        id: files
        address: view/files
        data:
          title: Files
---
sender: editor/main
area: right
view:
  id: preview
  address: view/preview
`

type postedEvent struct {
	sender address.Address
	event  layout.AreaChangedEvent
}

type recorder struct {
	owner  *hub.Hub
	logger *logrus.Entry

	mu         sync.Mutex
	failArea   string
	events     []postedEvent
	activities []*activity.Activity
}

func newRecorder(t *testing.T) *recorder {
	t.Helper()
	logger, _ := logtest.NewNullLogger()
	entry := logrus.NewEntry(logger)
	m := hub.NewMesh(hub.WithLogger(entry))
	t.Cleanup(m.Dispose)
	h, err := m.NewHub(address.MustParse("layout/client"))
	require.NoError(t, err)
	return &recorder{owner: h, logger: entry}
}

func (r *recorder) PostEvent(sender address.Address, evt layout.AreaChangedEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failArea != "" && evt.Area == r.failArea {
		return errors.HubUnavailable(sender.String())
	}
	r.events = append(r.events, postedEvent{sender: sender, event: evt})
	return nil
}

func (r *recorder) StartActivity(category string) (*activity.Activity, error) {
	a, err := activity.New(r.owner, category, activity.WithLogger(r.logger))
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	r.activities = append(r.activities, a)
	r.mu.Unlock()
	return a, nil
}

func (r *recorder) take() []postedEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.events
	r.events = nil
	return out
}

func (r *recorder) lastActivity() activity.Log {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.activities[len(r.activities)-1].Current()
}

func TestParseDocuments(t *testing.T) {
	docs, err := ParseDocuments([]byte(mainDoc))
	require.NoError(t, err)
	require.Len(t, docs, 2)

	sender, evt, err := docs[0].Event()
	require.NoError(t, err)
	assert.Equal(t, address.MustParse("editor/main"), sender)
	assert.Equal(t, "left", evt.Area)

	split, ok := evt.View.(layout.Container)
	require.True(t, ok)
	top, ok := split.Area("top")
	require.True(t, ok)
	assert.Equal(t, "files", top.View.ControlID())
	assert.Equal(t, map[string]any{"title": "Files"}, top.View.(layout.Leaf).Data)

	_, evt, err = docs[1].Event()
	require.NoError(t, err)
	assert.IsType(t, layout.Leaf{}, evt.View)
}

func TestParseDocumentsErrors(t *testing.T) {
	_, err := ParseDocuments([]byte("sender: [unterminated"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrCodeInvalidInput))

	docs, err := ParseDocuments([]byte("sender: nope\narea: left\n"))
	require.NoError(t, err)
	_, _, err = docs[0].Event()
	assert.True(t, errors.Is(err, errors.ErrCodeInvalidAddress))

	docs, err = ParseDocuments([]byte("sender: editor/main\n"))
	require.NoError(t, err)
	_, _, err = docs[0].Event()
	assert.True(t, errors.Is(err, errors.ErrCodeInvalidInput))
}

func TestSyncPostsAndClears(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "main.yml")
	require.NoError(t, os.WriteFile(file, []byte(mainDoc), 0o644))

	rec := newRecorder(t)
	src := NewDirSource(dir, 0, rec.logger)

	src.Sync(context.Background(), rec, []string{file})
	got := rec.take()
	require.Len(t, got, 2)
	assert.Equal(t, "left", got[0].event.Area)
	assert.Equal(t, "right", got[1].event.Area)
	assert.Equal(t, activity.Succeeded, rec.lastActivity().Status)
	assert.Len(t, rec.lastActivity().SubActivities, 1)

	// Dropping the second document clears its area.
	first, _, _ := strings.Cut(mainDoc, "---\n")
	require.NoError(t, os.WriteFile(file, []byte(first), 0o644))
	src.Sync(context.Background(), rec, []string{file})
	got = rec.take()
	require.Len(t, got, 2)
	assert.Equal(t, "left", got[0].event.Area)
	assert.Equal(t, "right", got[1].event.Area)
	assert.Nil(t, got[1].event.View)

	// Removing the file clears what is left.
	require.NoError(t, os.Remove(file))
	src.Sync(context.Background(), rec, []string{file})
	got = rec.take()
	require.Len(t, got, 1)
	assert.Equal(t, "left", got[0].event.Area)
	assert.Nil(t, got[0].event.View)
}

func TestSyncRecordsFailures(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "broken.yaml")
	require.NoError(t, os.WriteFile(file, []byte("sender: nope\narea: left\n"), 0o644))

	rec := newRecorder(t)
	src := NewDirSource(dir, 0, rec.logger)
	src.Sync(context.Background(), rec, []string{file})

	assert.Empty(t, rec.take())
	scan := rec.lastActivity()
	assert.Equal(t, activity.Failed, scan.Status)
	for _, sub := range scan.SubActivities {
		assert.Equal(t, activity.Failed, sub.Status)
	}
}

func TestRunWatchesDirectory(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ignored.txt"), []byte("x"), 0o644))

	rec := newRecorder(t)
	src := NewDirSource(dir, 10*time.Millisecond, rec.logger)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- src.Run(ctx, rec) }()

	// Wait for the initial (empty) scan so the watcher is in place.
	assert.Eventually(t, func() bool {
		rec.mu.Lock()
		defer rec.mu.Unlock()
		return len(rec.activities) == 1
	}, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "main.yml"), []byte(mainDoc), 0o644))

	var got []postedEvent
	assert.Eventually(t, func() bool {
		got = append(got, rec.take()...)
		return len(got) >= 2
	}, 2*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("source did not stop")
	}
}

func TestSyncInvalidDocumentPostsNothing(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "main.yml")
	require.NoError(t, os.WriteFile(file, []byte(mainDoc), 0o644))

	rec := newRecorder(t)
	src := NewDirSource(dir, 0, rec.logger)
	src.Sync(context.Background(), rec, []string{file})
	require.Len(t, rec.take(), 2)

	// The first document is fine, the second names no area.
	first, _, _ := strings.Cut(mainDoc, "---\n")
	broken := first + "---\nsender: editor/main\nview:\n  id: x\n  address: view/x\n"
	require.NoError(t, os.WriteFile(file, []byte(broken), 0o644))
	src.Sync(context.Background(), rec, []string{file})
	assert.Empty(t, rec.take())
	assert.Equal(t, activity.Failed, rec.lastActivity().Status)

	// Both areas from the last good load are still cleared on removal.
	require.NoError(t, os.Remove(file))
	src.Sync(context.Background(), rec, []string{file})
	got := rec.take()
	require.Len(t, got, 2)
	assert.Equal(t, "left", got[0].event.Area)
	assert.Equal(t, "right", got[1].event.Area)
	for _, e := range got {
		assert.Nil(t, e.event.View)
	}
}

func TestSyncFailedPostStillTracksAreas(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "main.yml")
	require.NoError(t, os.WriteFile(file, []byte(mainDoc), 0o644))

	rec := newRecorder(t)
	rec.failArea = "right"
	src := NewDirSource(dir, 0, rec.logger)
	src.Sync(context.Background(), rec, []string{file})

	got := rec.take()
	require.Len(t, got, 1)
	assert.Equal(t, "left", got[0].event.Area)
	assert.Equal(t, activity.Failed, rec.lastActivity().Status)

	rec.mu.Lock()
	rec.failArea = ""
	rec.mu.Unlock()
	require.NoError(t, os.Remove(file))
	src.Sync(context.Background(), rec, []string{file})
	got = rec.take()
	require.Len(t, got, 1)
	assert.Equal(t, "left", got[0].event.Area)
	assert.Nil(t, got[0].event.View)
}
