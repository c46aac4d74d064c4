package plugin

// EnabledSources returns the enabled subset of sources in their configured
// order. The input slice is not modified.
func EnabledSources(sources []SourceConfig) []SourceConfig {
	enabled := make([]SourceConfig, 0, len(sources))
	for _, src := range sources {
		if src.Enabled {
			enabled = append(enabled, src)
		}
	}
	return enabled
}

// FindSource returns the source with the given name.
func FindSource(sources []SourceConfig, name string) (SourceConfig, bool) {
	for _, src := range sources {
		if src.Name == name {
			return src, true
		}
	}
	return SourceConfig{}, false
}
