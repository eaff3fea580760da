package main

// AccessPoint is a visible wireless network. SSID is its identity within the
// registry.
type AccessPoint struct {
	SSID      string `json:"ssid" yaml:"ssid"`
	BSSID     string `json:"bssid,omitempty" yaml:"bssid,omitempty"`
	Strength  int    `json:"strength" yaml:"strength"`
	Frequency int    `json:"frequency" yaml:"frequency"`
	Active    bool   `json:"active" yaml:"active"`
	Security  string `json:"security,omitempty" yaml:"security,omitempty"`
}

// IsSecure reports whether the network advertises any security mode.
func (ap AccessPoint) IsSecure() bool {
	return ap.Security != ""
}

// Verb is a class of orchestrator operation. Each verb has its own
// independent state machine.
type Verb string

const (
	VerbConnect    Verb = "connect"
	VerbDisconnect Verb = "disconnect"
	VerbRadio      Verb = "radio"
	VerbRescan     Verb = "rescan"
	VerbStatus     Verb = "status"
)

var allVerbs = []Verb{VerbConnect, VerbDisconnect, VerbRadio, VerbRescan, VerbStatus}

// Phase is the state of one verb's state machine.
type Phase string

const (
	PhaseIdle      Phase = "idle"
	PhaseRunning   Phase = "running"
	PhaseSucceeded Phase = "succeeded"
	PhaseFailed    Phase = "failed"
)

// VerbState is the externally visible state of one verb.
type VerbState struct {
	Phase       Phase  `json:"phase" yaml:"phase"`
	OpID        string `json:"op_id,omitempty" yaml:"op_id,omitempty"`
	Target      string `json:"target,omitempty" yaml:"target,omitempty"`
	LastOutcome Phase  `json:"last_outcome,omitempty" yaml:"last_outcome,omitempty"`
	LastError   string `json:"last_error,omitempty" yaml:"last_error,omitempty"`
}

// DaemonStatus summarises the daemon's view of the world.
type DaemonStatus struct {
	Interface    string             `json:"interface" yaml:"interface"`
	RadioEnabled bool               `json:"radio_enabled" yaml:"radio_enabled"`
	Networks     int                `json:"networks" yaml:"networks"`
	ActiveSSID   string             `json:"active_ssid,omitempty" yaml:"active_ssid,omitempty"`
	Verbs        map[Verb]VerbState `json:"verbs" yaml:"verbs"`
	ConfigError  string             `json:"config_error,omitempty" yaml:"config_error,omitempty"`
}

// IPCRequest is sent from the CLI client to the daemon.
type IPCRequest struct {
	Command  string `json:"command"`            // "status" | "list" | "connect" | "disconnect" | "radio" | "rescan"
	SSID     string `json:"ssid,omitempty"`     // connect target
	Password string `json:"password,omitempty"` // optional connect credential
	Enabled  bool   `json:"enabled,omitempty"`  // desired radio state
}

// IPCResponse is sent from the daemon back to the CLI client.
type IPCResponse struct {
	OpID     string        `json:"op_id,omitempty"`
	Status   *DaemonStatus `json:"status,omitempty"`
	Networks []AccessPoint `json:"networks,omitempty"`
	Error    string        `json:"error,omitempty"`
}
