package config

// mergeConfigs overlays the set fields of override onto base. Neither input is
// modified.
func mergeConfigs(base, override *Config) *Config {
	result := *base

	if override.Version != "" {
		result.Version = override.Version
	}

	if override.Hub != nil {
		hub := HubConfig{}
		if base.Hub != nil {
			hub = *base.Hub
		}
		if override.Hub.ClientAddress != "" {
			hub.ClientAddress = override.Hub.ClientAddress
		}
		if override.Hub.MailboxWarn != 0 {
			hub.MailboxWarn = override.Hub.MailboxWarn
		}
		result.Hub = &hub
	}

	if override.Activity != nil {
		act := ActivityConfig{}
		if base.Activity != nil {
			act = *base.Activity
		}
		if override.Activity.CompleteTimeout != "" {
			act.CompleteTimeout = override.Activity.CompleteTimeout
		}
		result.Activity = &act
	}

	if override.Daemon != nil {
		d := DaemonConfig{}
		if base.Daemon != nil {
			d = *base.Daemon
		}
		o := override.Daemon
		if o.Socket != "" {
			d.Socket = o.Socket
		}
		if o.PidFile != "" {
			d.PidFile = o.PidFile
		}
		if o.LayoutsDir != "" {
			d.LayoutsDir = o.LayoutsDir
		}
		if o.DebounceMs != 0 {
			d.DebounceMs = o.DebounceMs
		}
		if o.StreamBuffer != 0 {
			d.StreamBuffer = o.StreamBuffer
		}
		if o.Metrics != nil {
			d.Metrics = o.Metrics
		}
		result.Daemon = &d
	}

	// Extensions merge per top-level key; override wins.
	if len(base.Extensions) > 0 || len(override.Extensions) > 0 {
		result.Extensions = make(map[string]interface{}, len(base.Extensions)+len(override.Extensions))
		for k, v := range base.Extensions {
			result.Extensions[k] = v
		}
		for k, v := range override.Extensions {
			result.Extensions[k] = v
		}
	}

	return &result
}
