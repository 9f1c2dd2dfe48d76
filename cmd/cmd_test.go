package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/grovetools/layoutsync/address"
	"github.com/grovetools/layoutsync/config"
	"github.com/grovetools/layoutsync/errors"
	"github.com/grovetools/layoutsync/internal/daemon/engine"
	"github.com/grovetools/layoutsync/internal/daemon/server"
	"github.com/grovetools/layoutsync/layout"
	"github.com/grovetools/layoutsync/logging"
	"github.com/grovetools/layoutsync/pkg/client"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sidebarDoc = `sender: editor/main
area: sidebar
view:
  $type: container
  id: split
  address: view/split
  areas:
    - area: top
      view:
        id: files
        address: view/files
`

func run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	root := NewRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func isolate(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("LAYOUTSYNC_HOME", home)
	logging.Reset()
	t.Cleanup(logging.Reset)
	return home
}

// startDaemon serves a fresh engine on a short unix socket path.
func startDaemon(t *testing.T) string {
	t.Helper()
	dir, err := os.MkdirTemp("", "lsync")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })
	sock := filepath.Join(dir, "d.sock")

	logger, _ := logtest.NewNullLogger()
	entry := logrus.NewEntry(logger)
	eng, err := engine.New(config.Default(), entry, nil)
	require.NoError(t, err)
	t.Cleanup(eng.Close)

	srv := server.New(entry)
	srv.SetEngine(eng)
	go func() { _ = srv.ListenAndServe(sock) }()
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })

	c := client.NewRemoteClient(sock)
	require.Eventually(t, c.IsRunning, 2*time.Second, 10*time.Millisecond)
	return sock
}

func TestPostGetAndState(t *testing.T) {
	isolate(t)
	sock := startDaemon(t)

	out, err := run(t, sidebarDoc, "--socket", sock, "post")
	require.NoError(t, err)
	assert.Contains(t, out, "Posted editor/main/sidebar")

	out, err = run(t, "", "--socket", sock, "--json", "get", "--id", "files")
	require.NoError(t, err)
	var resp layout.GetResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	require.NotNil(t, resp.Event)
	assert.Equal(t, "top", resp.Event.Area)
	assert.Equal(t, address.Address("view/files"), resp.Event.View.ControlAddress())

	out, err = run(t, "", "--socket", sock, "get", "--parent", "editor/main", "--area", "sidebar")
	require.NoError(t, err)
	assert.Contains(t, out, "sidebar:")
	assert.Contains(t, out, "top:")

	out, err = run(t, "", "--socket", sock, "--json", "state")
	require.NoError(t, err)
	var snap layout.Snapshot
	require.NoError(t, json.Unmarshal([]byte(out), &snap))
	assert.Len(t, snap.Slots, 2)
}

func TestPostSenderOverride(t *testing.T) {
	isolate(t)
	sock := startDaemon(t)

	_, err := run(t, sidebarDoc, "--socket", sock, "post", "--sender", "editor/other")
	require.NoError(t, err)

	out, err := run(t, "", "--socket", sock, "--json", "get", "--parent", "editor/other", "--area", "sidebar")
	require.NoError(t, err)
	var resp layout.GetResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	require.NotNil(t, resp.Event)
}

func TestPostRejectsEmptyInput(t *testing.T) {
	isolate(t)
	_, err := run(t, "", "--socket", "/nonexistent.sock", "post")
	assert.True(t, errors.Is(err, errors.ErrCodeInvalidInput))
}

func TestGetWithoutDaemon(t *testing.T) {
	isolate(t)
	_, err := run(t, "", "--socket", filepath.Join(t.TempDir(), "missing.sock"), "get", "--id", "x")
	assert.True(t, errors.Is(err, errors.ErrCodeDaemonNotRunning))
}

func TestBuildQuery(t *testing.T) {
	tests := []struct {
		name                   string
		id, addr, parent, area string
		code                   errors.ErrorCode
	}{
		{name: "id", id: "files"},
		{name: "address", addr: "view/files"},
		{name: "parent", parent: "editor/main", area: "sidebar"},
		{name: "none", code: errors.ErrCodeInvalidInput},
		{name: "two", id: "files", addr: "view/files", code: errors.ErrCodeInvalidInput},
		{name: "parent without area", parent: "editor/main", code: errors.ErrCodeInvalidInput},
		{name: "bad address", addr: "nokind", code: errors.ErrCodeInvalidAddress},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q, err := buildQuery(tt.id, tt.addr, tt.parent, tt.area, time.Second)
			if tt.code != "" {
				assert.True(t, errors.Is(err, tt.code), "got %v", err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, time.Second, q.Wait)
		})
	}
}

func TestDaemonStatusStopped(t *testing.T) {
	isolate(t)
	out, err := run(t, "", "--socket", filepath.Join(t.TempDir(), "d.sock"), "daemon", "status")
	assert.True(t, errors.Is(err, errors.ErrCodeDaemonNotRunning))
	assert.Contains(t, out, "Stopped")
}

func TestDaemonStopWhenNotRunning(t *testing.T) {
	isolate(t)
	out, err := run(t, "", "daemon", "stop")
	require.NoError(t, err)
	assert.Contains(t, out, "not running")
}

func TestConfigCommands(t *testing.T) {
	isolate(t)
	path := filepath.Join(t.TempDir(), "layoutsync.yml")
	require.NoError(t, os.WriteFile(path, []byte("hub:\n  client_address: layout/main\n"), 0644))

	out, err := run(t, "", "--config", path, "config", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "client_address: layout/main")

	out, err = run(t, "", "config", "validate", path)
	require.NoError(t, err)
	assert.Contains(t, out, "valid")

	bad := filepath.Join(t.TempDir(), "layoutsync.yml")
	require.NoError(t, os.WriteFile(bad, []byte("activity:\n  complete_timeout: soon\n"), 0644))
	_, err = run(t, "", "config", "validate", bad)
	assert.True(t, errors.Is(err, errors.ErrCodeConfigValidation))

	out, err = run(t, "", "config", "schema")
	require.NoError(t, err)
	assert.Contains(t, out, "layoutsync Configuration")
}

func TestPathsJSON(t *testing.T) {
	home := isolate(t)
	out, err := run(t, "", "--json", "paths")
	require.NoError(t, err)

	var p PathsOutput
	require.NoError(t, json.Unmarshal([]byte(out), &p))
	assert.Equal(t, filepath.Join(home, "config"), p.ConfigDir)
	assert.Equal(t, filepath.Join(home, "state", "layouts"), p.LayoutsDir)
}

func TestDaemonLogFile(t *testing.T) {
	home := isolate(t)
	logs := filepath.Join(home, "state", "logs")
	require.NoError(t, os.MkdirAll(logs, 0755))
	for _, name := range []string{"daemon-2026-01-01.log", "daemon-2026-01-02.log", "cli-2026-03-01.log"} {
		require.NoError(t, os.WriteFile(filepath.Join(logs, name), []byte("x\n"), 0644))
	}

	file, err := daemonLogFile(logging.Config{}, logs, time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(logs, "daemon-2026-01-02.log"), file)

	file, err = daemonLogFile(logging.Config{}, logs, time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(logs, "daemon-2026-01-01.log"), file)

	configured := logging.Config{File: logging.FileSinkConfig{Path: "/var/log/ls.log"}}
	file, err = daemonLogFile(configured, logs, time.Now())
	require.NoError(t, err)
	assert.Equal(t, "/var/log/ls.log", file)

	_, err = daemonLogFile(logging.Config{}, t.TempDir(), time.Now())
	assert.Error(t, err)
}

func TestPrintLastLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "daemon.log")
	require.NoError(t, os.WriteFile(path, []byte("one\ntwo\nthree\nfour\n"), 0644))

	var buf bytes.Buffer
	require.NoError(t, printLastLines(&buf, path, 2))
	assert.Equal(t, "three\nfour\n", buf.String())

	buf.Reset()
	require.NoError(t, printLastLines(&buf, path, 0))
	assert.Equal(t, "one\ntwo\nthree\nfour\n", buf.String())
}

func TestWatchModelTracksAreas(t *testing.T) {
	editor := address.MustParse("editor/main")
	leaf := func(id string) layout.AreaChangedEvent {
		return layout.AreaChangedEvent{Area: id, View: layout.Leaf{ID: id, Address: address.New("view", id)}}
	}

	snap := layout.Snapshot{Version: 3, Slots: []layout.SlotEntry{
		{Parent: editor, Area: "b", Event: leaf("b")},
	}}
	m := newWatchModel(snap, make(chan layout.Change))
	require.Len(t, m.rows, 1)

	m.Update(changeMsg{Version: 4, Sender: editor, Event: leaf("a")})
	require.Len(t, m.rows, 2)
	assert.Equal(t, "editor/main/a", m.rows[0].path)
	assert.Equal(t, "editor/main/b", m.rows[m.selected].path, "selection follows the row")
	assert.Equal(t, uint64(4), m.version)

	m.Update(changeMsg{Version: 5, Sender: editor, Event: layout.AreaChangedEvent{Area: "b"}})
	require.Len(t, m.rows, 1)
	assert.Equal(t, 0, m.selected)
	assert.Len(t, m.recent, 2)

	m.Update(watchClosedMsg{})
	assert.Contains(t, m.View(), "disconnected")
}
