package cli

import (
	stderrors "errors"
	"fmt"
	"io"
	"os"

	"github.com/grovetools/layoutsync/errors"
	"github.com/grovetools/layoutsync/tui/theme"
)

// ErrorHandler turns coded errors into user-facing hints.
type ErrorHandler struct {
	Verbose bool
	Out     io.Writer
}

// NewErrorHandler writes to stderr.
func NewErrorHandler(verbose bool) *ErrorHandler {
	return &ErrorHandler{Verbose: verbose, Out: os.Stderr}
}

// Handle prints err with a hint for its code and returns it unchanged.
func (h *ErrorHandler) Handle(err error) error {
	if err == nil {
		return nil
	}
	t := theme.DefaultTheme
	label := t.Error.Render("Error:")

	var le *errors.LayoutError
	_ = stderrors.As(err, &le)
	detail := func(key string) any { return detailOr(le, key, "unknown") }

	switch errors.GetCode(err) {
	case errors.ErrCodeConfigNotFound:
		fmt.Fprintf(h.Out, "%s configuration not found at %v\n", label, detail("path"))
		fmt.Fprintln(h.Out, t.Muted.Render("Create layoutsync.yml or drop --config to use defaults."))

	case errors.ErrCodeConfigInvalid, errors.ErrCodeConfigValidation:
		fmt.Fprintf(h.Out, "%s %v\n", label, err)
		fmt.Fprintln(h.Out, t.Muted.Render("Run 'layoutsync config validate' for details, or 'layoutsync config schema' for the schema."))

	case errors.ErrCodeDaemonNotRunning:
		fmt.Fprintf(h.Out, "%s layoutsync daemon is not running (socket %v)\n", label, detail("socket"))
		fmt.Fprintln(h.Out, t.Muted.Render("Start it with 'layoutsync daemon start'."))

	case errors.ErrCodeInvalidAddress:
		fmt.Fprintf(h.Out, "%s %v\n", label, err)
		fmt.Fprintln(h.Out, t.Muted.Render("Addresses have the form {type}/{id}, e.g. editor/main."))

	case errors.ErrCodeTimeout:
		fmt.Fprintf(h.Out, "%s %v timed out after %v\n", label, detail("operation"), detail("timeout"))

	default:
		fmt.Fprintf(h.Out, "%s %v\n", label, err)
	}

	if h.Verbose && le != nil {
		fmt.Fprintf(h.Out, "\nError details:\n%s\n", le.ToJSON())
	}
	return err
}

func detailOr(le *errors.LayoutError, key, fallback string) any {
	if le == nil {
		return fallback
	}
	if v, ok := le.Details[key]; ok {
		return v
	}
	return fallback
}
