package errors

import (
	"fmt"
	"time"
)

// ConfigNotFound creates a configuration not found error
func ConfigNotFound(path string) *LayoutError {
	return New(ErrCodeConfigNotFound, fmt.Sprintf("configuration file not found: %s", path)).
		WithDetail("path", path)
}

// ConfigInvalid creates an invalid configuration error
func ConfigInvalid(reason string) *LayoutError {
	return New(ErrCodeConfigInvalid, fmt.Sprintf("invalid configuration: %s", reason))
}

// InvalidAddress reports an address that is not of the form "{type}/{id}".
func InvalidAddress(raw string) *LayoutError {
	return New(ErrCodeInvalidAddress, fmt.Sprintf("invalid address %q: expected {type}/{id}", raw)).
		WithDetail("address", raw)
}

// NotSupported reports a request whose shape the receiver does not understand.
func NotSupported(what string) *LayoutError {
	return New(ErrCodeNotSupported, fmt.Sprintf("not supported: %s", what))
}

// HubUnavailable reports that a hub is missing or already disposing.
func HubUnavailable(address string) *LayoutError {
	return New(ErrCodeHubUnavailable, fmt.Sprintf("hub %q is not available", address)).
		WithDetail("address", address)
}

// Timeout creates a timeout error for the named operation.
func Timeout(operation string, after time.Duration) *LayoutError {
	return New(ErrCodeTimeout, fmt.Sprintf("%s did not finish within %s", operation, after)).
		WithDetail("operation", operation).
		WithDetail("timeout", after.String())
}

// DaemonNotRunning is returned by clients when the daemon socket does not answer.
func DaemonNotRunning(socket string, err error) *LayoutError {
	return Wrap(err, ErrCodeDaemonNotRunning, "layoutsync daemon is not running").
		WithDetail("socket", socket)
}
