package config

import "maps"

// ConfigDiff describes what changed between two configs.
type ConfigDiff struct {
	// Hot-reloadable.
	LogLevelChanged bool
	NewLogLevel     LogLevel
	KeywordsChanged bool

	// RestartRequired names the sections whose changes only take effect
	// after a restart, e.g. "peer" or "audio".
	RestartRequired []string
}

// Empty reports whether nothing changed.
func (d ConfigDiff) Empty() bool {
	return !d.LogLevelChanged && !d.KeywordsChanged && len(d.RestartRequired) == 0
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if old.Keywords.PhoneticFallback != new.Keywords.PhoneticFallback ||
		!maps.Equal(old.Keywords.Aliases, new.Keywords.Aliases) {
		d.KeywordsChanged = true
	}

	if old.Server.ListenAddr != new.Server.ListenAddr {
		d.RestartRequired = append(d.RestartRequired, "server.listen_addr")
	}
	if old.Peer != new.Peer {
		d.RestartRequired = append(d.RestartRequired, "peer")
	}
	if old.Dispatch != new.Dispatch {
		d.RestartRequired = append(d.RestartRequired, "dispatch")
	}
	if old.Audio != new.Audio {
		d.RestartRequired = append(d.RestartRequired, "audio")
	}
	if old.Recognizer != new.Recognizer {
		d.RestartRequired = append(d.RestartRequired, "recognizer")
	}

	return d
}
