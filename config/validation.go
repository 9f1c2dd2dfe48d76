package config

import (
	"fmt"
	"time"

	"github.com/grovetools/layoutsync/address"
	"github.com/grovetools/layoutsync/errors"
)

// Validate checks the configuration against the JSON schema.
func (c *Config) Validate() error {
	v, err := NewSchemaValidator()
	if err != nil {
		return errors.Wrap(err, errors.ErrCodeInternal, "schema unavailable")
	}
	if err := v.Validate(c); err != nil {
		return errors.Wrap(err, errors.ErrCodeConfigValidation, "configuration does not match schema")
	}
	return nil
}

// ValidateSemantics checks constraints the schema cannot express.
func (c *Config) ValidateSemantics() error {
	if c.Hub != nil && c.Hub.ClientAddress != "" {
		if _, err := address.Parse(c.Hub.ClientAddress); err != nil {
			return errors.Wrap(err, errors.ErrCodeConfigValidation, "hub.client_address is not a valid address").
				WithDetail("value", c.Hub.ClientAddress)
		}
	}

	if c.Activity != nil && c.Activity.CompleteTimeout != "" {
		d, err := time.ParseDuration(c.Activity.CompleteTimeout)
		if err != nil {
			return errors.Wrap(err, errors.ErrCodeConfigValidation, "activity.complete_timeout is not a duration").
				WithDetail("value", c.Activity.CompleteTimeout)
		}
		if d <= 0 {
			return errors.New(errors.ErrCodeConfigValidation,
				fmt.Sprintf("activity.complete_timeout must be positive, got %s", d))
		}
	}

	if c.Hub != nil && c.Hub.MailboxWarn < 0 {
		return errors.New(errors.ErrCodeConfigValidation, "hub.mailbox_warn must not be negative")
	}
	if c.Daemon != nil {
		if c.Daemon.DebounceMs < 0 {
			return errors.New(errors.ErrCodeConfigValidation, "daemon.debounce_ms must not be negative")
		}
		if c.Daemon.StreamBuffer < 0 {
			return errors.New(errors.ErrCodeConfigValidation, "daemon.stream_buffer must not be negative")
		}
	}

	return nil
}
