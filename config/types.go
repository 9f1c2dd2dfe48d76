package config

import (
	"fmt"
	"time"

	"github.com/mitchellh/mapstructure"
)

// Default values applied by SetDefaults.
const (
	DefaultVersion         = "1"
	DefaultClientAddress   = "layout/client"
	DefaultMailboxWarn     = 1000
	DefaultCompleteTimeout = 100 * time.Second
	DefaultDebounceMs      = 100
	DefaultStreamBuffer    = 100
)

// HubConfig configures the message hubs hosted by the process.
type HubConfig struct {
	ClientAddress string `yaml:"client_address,omitempty" toml:"client_address,omitempty" json:"client_address,omitempty" jsonschema:"description=Address of the layout client hub ({type}/{id}),pattern=^[^/]+/.+$"`
	MailboxWarn   int    `yaml:"mailbox_warn,omitempty" toml:"mailbox_warn,omitempty" json:"mailbox_warn,omitempty" jsonschema:"description=Mailbox depth at which a hub logs a backlog warning,minimum=1"`
}

// ActivityConfig configures the activity state machine.
type ActivityConfig struct {
	CompleteTimeout string `yaml:"complete_timeout,omitempty" toml:"complete_timeout,omitempty" json:"complete_timeout,omitempty" jsonschema:"description=Upper bound for Complete to wait on running sub-activities (Go duration)"`
}

// DaemonConfig configures the layoutsync daemon.
type DaemonConfig struct {
	Socket       string `yaml:"socket,omitempty" toml:"socket,omitempty" json:"socket,omitempty" jsonschema:"description=Unix socket path (default: state dir)"`
	PidFile      string `yaml:"pid_file,omitempty" toml:"pid_file,omitempty" json:"pid_file,omitempty" jsonschema:"description=PID file path (default: state dir)"`
	LayoutsDir   string `yaml:"layouts_dir,omitempty" toml:"layouts_dir,omitempty" json:"layouts_dir,omitempty" jsonschema:"description=Directory of layout documents posted as area changes"`
	DebounceMs   int    `yaml:"debounce_ms,omitempty" toml:"debounce_ms,omitempty" json:"debounce_ms,omitempty" jsonschema:"description=Debounce window for layout directory changes,minimum=1"`
	StreamBuffer int    `yaml:"stream_buffer,omitempty" toml:"stream_buffer,omitempty" json:"stream_buffer,omitempty" jsonschema:"description=Per-subscriber change buffer,minimum=1"`
	Metrics      *bool  `yaml:"metrics,omitempty" toml:"metrics,omitempty" json:"metrics,omitempty" jsonschema:"description=Expose Prometheus metrics on /metrics (default: true)"`
}

// Config is the layoutsync configuration file.
type Config struct {
	Version  string          `yaml:"version,omitempty" toml:"version,omitempty" json:"version,omitempty" jsonschema:"description=Configuration version"`
	Hub      *HubConfig      `yaml:"hub,omitempty" toml:"hub,omitempty" json:"hub,omitempty" jsonschema:"description=Message hub settings"`
	Activity *ActivityConfig `yaml:"activity,omitempty" toml:"activity,omitempty" json:"activity,omitempty" jsonschema:"description=Activity settings"`
	Daemon   *DaemonConfig   `yaml:"daemon,omitempty" toml:"daemon,omitempty" json:"daemon,omitempty" jsonschema:"description=Daemon settings"`

	// Extensions captures all other top-level keys (e.g. "logging").
	Extensions map[string]interface{} `yaml:",inline" toml:"-" json:"-" jsonschema:"-"`

	// Sources lists the files this configuration was merged from, lowest
	// precedence first.
	Sources []string `yaml:"-" toml:"-" json:"-" jsonschema:"-"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	cfg.SetDefaults()
	return cfg
}

// SetDefaults fills in unset values.
func (c *Config) SetDefaults() {
	if c.Version == "" {
		c.Version = DefaultVersion
	}
	if c.Hub == nil {
		c.Hub = &HubConfig{}
	}
	if c.Hub.ClientAddress == "" {
		c.Hub.ClientAddress = DefaultClientAddress
	}
	if c.Hub.MailboxWarn == 0 {
		c.Hub.MailboxWarn = DefaultMailboxWarn
	}
	if c.Activity == nil {
		c.Activity = &ActivityConfig{}
	}
	if c.Activity.CompleteTimeout == "" {
		c.Activity.CompleteTimeout = DefaultCompleteTimeout.String()
	}
	if c.Daemon == nil {
		c.Daemon = &DaemonConfig{}
	}
	if c.Daemon.DebounceMs == 0 {
		c.Daemon.DebounceMs = DefaultDebounceMs
	}
	if c.Daemon.StreamBuffer == 0 {
		c.Daemon.StreamBuffer = DefaultStreamBuffer
	}
	if c.Daemon.Metrics == nil {
		enabled := true
		c.Daemon.Metrics = &enabled
	}
}

// CompleteTimeout returns the parsed activity completion timeout, falling back
// to the default when unset or malformed.
func (c *Config) CompleteTimeout() time.Duration {
	if c.Activity == nil || c.Activity.CompleteTimeout == "" {
		return DefaultCompleteTimeout
	}
	d, err := time.ParseDuration(c.Activity.CompleteTimeout)
	if err != nil || d <= 0 {
		return DefaultCompleteTimeout
	}
	return d
}

// MetricsEnabled reports whether the daemon should serve /metrics.
func (c *Config) MetricsEnabled() bool {
	return c.Daemon == nil || c.Daemon.Metrics == nil || *c.Daemon.Metrics
}

// UnmarshalExtension decodes a top-level extension section into target.
// A missing key leaves target untouched.
func (c *Config) UnmarshalExtension(key string, target interface{}) error {
	extensionConfig, ok := c.Extensions[key]
	if !ok {
		return nil
	}

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           target,
		TagName:          "yaml",
		WeaklyTypedInput: true,
	})
	if err != nil {
		return fmt.Errorf("failed to create mapstructure decoder: %w", err)
	}

	if err := decoder.Decode(extensionConfig); err != nil {
		return fmt.Errorf("failed to decode extension config for '%s': %w", key, err)
	}

	return nil
}
