package config

import "reflect"

// ConfigDiff describes what changed between two configs.
//
// Only the log level is applied live. Every other changed section is listed
// in RestartRequired so the operator can be told the edit is pending.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// RestartRequired names the top-level sections that changed but are only
	// read at startup, e.g. "loop" or "providers".
	RestartRequired []string
}

// Changed reports whether anything at all differs.
func (d ConfigDiff) Changed() bool {
	return d.LogLevelChanged || len(d.RestartRequired) > 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	oldServer, newServer := old.Server, new.Server
	oldServer.LogLevel, newServer.LogLevel = "", ""

	sections := []struct {
		name     string
		old, new any
	}{
		{"server", oldServer, newServer},
		{"providers", old.Providers, new.Providers},
		{"capture", old.Capture, new.Capture},
		{"loop", old.Loop, new.Loop},
		{"presenter", old.Presenter, new.Presenter},
		{"resilience", old.Resilience, new.Resilience},
		{"proxy", old.Proxy, new.Proxy},
	}
	for _, s := range sections {
		if !reflect.DeepEqual(s.old, s.new) {
			d.RestartRequired = append(d.RestartRequired, s.name)
		}
	}
	return d
}
