package main

import (
	"strings"
	"sync/atomic"
)

const radioEnabledToken = "enabled"

// statusMonitor holds the process-wide radio state. The engine loop writes
// it from radio status results; anyone may read it.
type statusMonitor struct {
	enabled atomic.Bool
}

// observe records the radio state reported by a status query and returns it.
func (m *statusMonitor) observe(out string) bool {
	enabled := parseRadioStatus(out)
	m.enabled.Store(enabled)
	return enabled
}

func (m *statusMonitor) Enabled() bool {
	return m.enabled.Load()
}

// parseRadioStatus is true only for an exact "enabled" token; surrounding
// whitespace from the tool is ignored.
func parseRadioStatus(out string) bool {
	return strings.TrimSpace(out) == radioEnabledToken
}
