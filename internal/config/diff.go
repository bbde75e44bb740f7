package config

// ConfigDiff describes what changed between two configs.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// ScoringChanged is set when the offline engine settings changed.
	ScoringChanged bool

	// AnalysisChanged is set when the local analyzer settings changed.
	AnalysisChanged bool

	// RestartRequired lists changed sections that are only read at startup.
	RestartRequired []string
}

// HotReloadable reports whether d contains any change that can be applied
// without a restart.
func (d ConfigDiff) HotReloadable() bool {
	return d.LogLevelChanged || d.ScoringChanged || d.AnalysisChanged
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	if old.Scoring != new.Scoring {
		d.ScoringChanged = true
	}
	if old.Analysis != new.Analysis {
		d.AnalysisChanged = true
	}

	oldSrv, newSrv := old.Server, new.Server
	oldSrv.LogLevel, newSrv.LogLevel = "", ""
	if oldSrv != newSrv {
		d.RestartRequired = append(d.RestartRequired, "server")
	}
	if old.Remote != new.Remote {
		d.RestartRequired = append(d.RestartRequired, "remote")
	}
	if old.Store != new.Store {
		d.RestartRequired = append(d.RestartRequired, "store")
	}
	if old.Telemetry != new.Telemetry {
		d.RestartRequired = append(d.RestartRequired, "telemetry")
	}

	return d
}
