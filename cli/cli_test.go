package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/grovetools/layoutsync/errors"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorHandler(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want []string
	}{
		{"daemon", errors.DaemonNotRunning("/run/x.sock", nil), []string{"not running", "/run/x.sock", "layoutsync daemon start"}},
		{"config not found", errors.ConfigNotFound("/tmp/missing.yml"), []string{"/tmp/missing.yml"}},
		{"validation", errors.New(errors.ErrCodeConfigValidation, "bad"), []string{"config validate"}},
		{"address", errors.InvalidAddress("nope"), []string{"{type}/{id}"}},
		{"timeout", errors.Timeout("activity complete", 100*time.Millisecond), []string{"activity complete", "100ms"}},
		{"wrapped", fmt.Errorf("posting: %w", errors.DaemonNotRunning("/s", nil)), []string{"layoutsync daemon start"}},
		{"plain", io.EOF, []string{"EOF"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			h := &ErrorHandler{Out: &out}
			assert.Equal(t, tt.err, h.Handle(tt.err))
			for _, w := range tt.want {
				assert.Contains(t, out.String(), w)
			}
		})
	}
}

func TestErrorHandlerVerbose(t *testing.T) {
	var out bytes.Buffer
	h := &ErrorHandler{Out: &out, Verbose: true}
	_ = h.Handle(errors.HubUnavailable("layout/client"))
	assert.Contains(t, out.String(), `"code": "HUB_UNAVAILABLE"`)

	assert.NoError(t, h.Handle(nil))
}

func TestWrapText(t *testing.T) {
	assert.Equal(t, "short", wrapText("short", 10))
	assert.Equal(t, "one two\nthree four", wrapText("one two three four", 9))
	assert.Equal(t, "a\n\nb", wrapText("a\n\nb", 10))
}

func TestParseDescription(t *testing.T) {
	desc, ex := parseDescription("Does things.\n\nExamples:\n  layoutsync get --id files\n")
	assert.Equal(t, "Does things.", desc)
	assert.Equal(t, "layoutsync get --id files", ex)

	desc, ex = parseDescription("Only text.")
	assert.Equal(t, "Only text.", desc)
	assert.Empty(t, ex)
}

func newTestRoot() *cobra.Command {
	root := NewStandardCommand("layoutsync", "Synchronize layouts")
	child := &cobra.Command{
		Use:   "get",
		Short: "Query an area",
		Long:  "Query an area.\n\nExamples:\n  # by id\n  layoutsync get --id files",
		RunE:  func(*cobra.Command, []string) error { return nil },
	}
	child.Flags().String("id", "", "Control id")
	child.Flags().Duration("wait", time.Second, "How long to wait")
	root.AddCommand(child)
	return root
}

func TestStyledHelp(t *testing.T) {
	root := newTestRoot()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetArgs([]string{"get", "--help"})
	require.NoError(t, root.Execute())

	help := out.String()
	assert.Contains(t, help, "LAYOUTSYNC GET")
	assert.Contains(t, help, "USAGE")
	assert.Contains(t, help, "FLAGS")
	assert.Contains(t, help, "--wait")
	assert.Contains(t, help, "(default: 1s)")
	assert.Contains(t, help, "EXAMPLES")
	assert.Contains(t, help, "# by id")

	out.Reset()
	root.SetArgs([]string{"--help"})
	require.NoError(t, root.Execute())
	assert.Contains(t, out.String(), "COMMANDS")
	assert.Contains(t, out.String(), "Query an area")
}

func TestRender(t *testing.T) {
	root := newTestRoot()
	require.NoError(t, root.ParseFlags(nil))
	var out bytes.Buffer
	root.SetOut(&out)

	value := map[string]int{"slots": 2}
	text := func(w io.Writer) error {
		_, err := fmt.Fprintln(w, "2 slots")
		return err
	}

	require.NoError(t, Render(root, value, text))
	assert.Equal(t, "2 slots\n", out.String())

	out.Reset()
	require.NoError(t, root.PersistentFlags().Set("json", "true"))
	require.NoError(t, Render(root, value, text))
	var got map[string]int
	require.NoError(t, json.Unmarshal(out.Bytes(), &got))
	assert.Equal(t, value, got)
}
