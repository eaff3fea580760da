package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
)

// operation is one launched external command for a verb.
type operation struct {
	id     string
	verb   Verb
	target string
}

// verbMachine is one verb's state machine. Only the engine loop touches it.
type verbMachine struct {
	phase       Phase
	current     *operation // latest intent; completions of any other op are stale
	last        *operation
	lastOutcome Phase
	lastErr     string
}

type intentKind int

const (
	intentOperation intentKind = iota
	intentRefresh
	intentPoll
)

type intent struct {
	kind     intentKind
	verb     Verb
	ssid     string
	password string
	enabled  bool
	toggle   bool // radio only: flip the pending or last observed state
	reply    chan string
}

// completion is delivered to the loop when an external command exits. A nil
// op marks a registry scan.
type completion struct {
	op  *operation
	res Result
	err error
}

type EngineConfig struct {
	Tool      Tool
	Interface string
	Registry  *Registry
	Notifier  Notifier
	Metrics   *metrics
	Logger    zerolog.Logger
}

// Engine serialises every registry mutation and orchestrator transition on
// one goroutine (Run). External commands run on their own goroutines and
// report back through the loop.
type Engine struct {
	tool     Tool
	iface    string
	registry *Registry
	radio    statusMonitor
	notify   Notifier
	metrics  *metrics
	log      zerolog.Logger

	intents  chan intent
	events   chan completion
	inflight sync.WaitGroup

	// Loop-owned.
	verbs         map[Verb]*verbMachine
	scanning      bool
	scanPending   bool
	statusPending bool
	toolErr       error

	mu        sync.RWMutex
	published map[Verb]VerbState
	configErr string
}

func NewEngine(cfg EngineConfig) *Engine {
	e := &Engine{
		tool:     cfg.Tool,
		iface:    cfg.Interface,
		registry: cfg.Registry,
		notify:   cfg.Notifier,
		metrics:  cfg.Metrics,
		log:      cfg.Logger,
		intents:  make(chan intent),
		events:   make(chan completion),
		verbs:    make(map[Verb]*verbMachine, len(allVerbs)),
	}
	if e.registry == nil {
		e.registry = NewRegistry()
	}
	if e.notify == nil {
		e.notify = logNotifier{log: cfg.Logger}
	}
	if e.metrics == nil {
		e.metrics = newMetrics(prometheus.NewRegistry())
	}
	for _, v := range allVerbs {
		e.verbs[v] = &verbMachine{phase: PhaseIdle}
	}
	e.publish()
	return e
}

// Run processes intents and command completions until ctx is cancelled,
// then waits for in-flight command goroutines to return.
func (e *Engine) Run(ctx context.Context) error {
	defer e.inflight.Wait()
	for {
		select {
		case <-ctx.Done():
			return nil
		case in := <-e.intents:
			in.reply <- e.handleIntent(ctx, in)
		case c := <-e.events:
			e.handleCompletion(ctx, c)
		}
	}
}

// Connect starts connecting to ssid, superseding any pending connect. It
// returns the new operation id without waiting for the command.
func (e *Engine) Connect(ctx context.Context, ssid, password string) (string, error) {
	if ssid == "" {
		return "", errors.New("ssid is required")
	}
	return e.submit(ctx, intent{kind: intentOperation, verb: VerbConnect, ssid: ssid, password: password})
}

func (e *Engine) Disconnect(ctx context.Context) (string, error) {
	return e.submit(ctx, intent{kind: intentOperation, verb: VerbDisconnect})
}

func (e *Engine) SetRadio(ctx context.Context, enabled bool) (string, error) {
	return e.submit(ctx, intent{kind: intentOperation, verb: VerbRadio, enabled: enabled})
}

// ToggleRadio flips the radio relative to the last observed state, or to the
// pending radio change if one is still running.
func (e *Engine) ToggleRadio(ctx context.Context) (string, error) {
	return e.submit(ctx, intent{kind: intentOperation, verb: VerbRadio, toggle: true})
}

// Rescan asks the tool for a fresh scan. A rescan already running is
// reused rather than stacked.
func (e *Engine) Rescan(ctx context.Context) (string, error) {
	return e.submit(ctx, intent{kind: intentOperation, verb: VerbRescan})
}

// Refresh schedules a registry reconciliation pass.
func (e *Engine) Refresh(ctx context.Context) error {
	_, err := e.submit(ctx, intent{kind: intentRefresh})
	return err
}

// Poll re-queries the radio state and refreshes the registry. It does
// nothing while the tool is known to be unavailable.
func (e *Engine) Poll(ctx context.Context) error {
	_, err := e.submit(ctx, intent{kind: intentPoll})
	return err
}

// Networks returns a copy of the registry.
func (e *Engine) Networks() []AccessPoint {
	return e.registry.Snapshot()
}

func (e *Engine) Status() DaemonStatus {
	e.mu.RLock()
	verbs := make(map[Verb]VerbState, len(e.published))
	for v, s := range e.published {
		verbs[v] = s
	}
	cfgErr := e.configErr
	e.mu.RUnlock()

	st := DaemonStatus{
		Interface:    e.iface,
		RadioEnabled: e.radio.Enabled(),
		Networks:     e.registry.Len(),
		Verbs:        verbs,
		ConfigError:  cfgErr,
	}
	if ap, ok := e.registry.Active(); ok {
		st.ActiveSSID = ap.SSID
	}
	return st
}

func (e *Engine) submit(ctx context.Context, in intent) (string, error) {
	in.reply = make(chan string, 1)
	select {
	case e.intents <- in:
	case <-ctx.Done():
		return "", ctx.Err()
	}
	select {
	case id := <-in.reply:
		return id, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

func (e *Engine) handleIntent(ctx context.Context, in intent) string {
	switch in.kind {
	case intentRefresh:
		e.refresh(ctx)
		return ""
	case intentPoll:
		if e.toolErr != nil {
			e.log.Debug().Msg("skipping poll, network tool unavailable")
			return ""
		}
		e.start(ctx, &operation{verb: VerbStatus}, e.tool.RadioStatus)
		e.refresh(ctx)
		return ""
	}

	switch in.verb {
	case VerbConnect:
		if ap, ok := e.registry.Lookup(in.ssid); ok {
			if ap.IsSecure() && in.password == "" {
				e.log.Debug().Str("ssid", in.ssid).Str("security", ap.Security).Msg("connecting to secured network without password, relying on saved profile")
			}
		} else {
			e.log.Debug().Str("ssid", in.ssid).Msg("connecting to network not in registry")
		}
		ssid, password := in.ssid, in.password
		return e.start(ctx, &operation{verb: VerbConnect, target: ssid}, func(ctx context.Context) (Result, error) {
			return e.tool.Connect(ctx, ssid, password)
		})
	case VerbDisconnect:
		return e.start(ctx, &operation{verb: VerbDisconnect, target: e.iface}, e.tool.Disconnect)
	case VerbRadio:
		enabled := in.enabled
		if in.toggle {
			enabled = !e.radio.Enabled()
			if st := e.verbs[VerbRadio]; st.phase == PhaseRunning {
				// Flip the pending change, not the state it will replace.
				enabled = st.current.target != "on"
			}
		} else if enabled == e.radio.Enabled() {
			e.log.Debug().Bool("enabled", enabled).Msg("radio already reported in requested state")
		}
		return e.start(ctx, &operation{verb: VerbRadio, target: radioWord(enabled)}, func(ctx context.Context) (Result, error) {
			return e.tool.SetRadio(ctx, enabled)
		})
	case VerbRescan:
		return e.start(ctx, &operation{verb: VerbRescan}, e.tool.Rescan)
	}
	return ""
}

// start moves op's verb to Running and launches fn. Rescans and status
// queries already running are reused; any other running op is superseded.
func (e *Engine) start(ctx context.Context, op *operation, fn func(context.Context) (Result, error)) string {
	st := e.verbs[op.verb]
	if st.phase == PhaseRunning {
		if op.verb == VerbRescan || op.verb == VerbStatus {
			return st.current.id
		}
		e.metrics.superseded.WithLabelValues(string(op.verb)).Inc()
		e.log.Info().
			Str("verb", string(op.verb)).
			Str("op_id", st.current.id).
			Str("target", st.current.target).
			Msg("superseding pending operation")
	}

	op.id = uuid.NewString()
	st.phase = PhaseRunning
	st.current = op
	e.publish()

	e.log.Debug().Str("verb", string(op.verb)).Str("op_id", op.id).Str("target", op.target).Msg("operation started")
	e.launch(ctx, op, fn)
	return op.id
}

func (e *Engine) launch(ctx context.Context, op *operation, fn func(context.Context) (Result, error)) {
	e.inflight.Add(1)
	go func() {
		defer e.inflight.Done()
		res, err := fn(ctx)
		select {
		case e.events <- completion{op: op, res: res, err: err}:
		case <-ctx.Done():
		}
	}()
}

// refresh launches a scan, or marks one pending if a scan is in flight so
// that one more pass follows it.
func (e *Engine) refresh(ctx context.Context) {
	if e.scanning {
		e.scanPending = true
		return
	}
	e.scanning = true
	e.launch(ctx, nil, e.tool.Scan)
}

func (e *Engine) handleCompletion(ctx context.Context, c completion) {
	switch {
	case errors.Is(c.err, ErrToolUnavailable):
		e.toolUnavailable(c.err)
	case c.err == nil:
		e.toolAvailable()
	}

	if c.op == nil {
		e.finishScan(ctx, c)
		return
	}
	e.finishOperation(ctx, c)
}

func (e *Engine) finishScan(ctx context.Context, c completion) {
	e.scanning = false
	switch {
	case c.err != nil:
		e.log.Warn().Err(c.err).Msg("scan failed, keeping registry")
	case !c.res.OK():
		e.log.Warn().Int("exit_code", c.res.ExitCode).Str("stderr", firstLine(c.res.Stderr)).Msg("scan failed, keeping registry")
	default:
		records, skipped := parseScanOutput(c.res.Stdout)
		diff := e.registry.Reconcile(deduplicate(records))
		size := e.registry.Len()
		e.metrics.observePass(diff, skipped, size)
		ev := e.log.Debug()
		if !diff.Empty() {
			ev = e.log.Info()
		}
		ev.Int("added", len(diff.Added)).
			Int("updated", len(diff.Updated)).
			Int("removed", len(diff.Removed)).
			Int("skipped", skipped).
			Int("size", size).
			Msg("registry reconciled")
	}

	pending := e.scanPending
	e.scanPending = false
	if pending && e.toolErr == nil {
		e.refresh(ctx)
	}
}

func (e *Engine) finishOperation(ctx context.Context, c completion) {
	op := c.op
	st := e.verbs[op.verb]
	if st.current != op {
		// Superseded: its outcome is not the user's latest intent, but it
		// may still have changed what is associated.
		e.log.Info().Str("verb", string(op.verb)).Str("op_id", op.id).Int("exit_code", c.res.ExitCode).Msg("ignoring superseded completion")
		if e.toolErr == nil {
			e.refresh(ctx)
		}
		return
	}

	outcome := PhaseSucceeded
	var diag string
	switch {
	case c.err != nil:
		outcome = PhaseFailed
		diag = c.err.Error()
	case !c.res.OK():
		outcome = PhaseFailed
		diag = firstLine(c.res.Stderr)
	}

	st.phase = PhaseIdle
	st.current = nil
	st.last = op
	st.lastOutcome = outcome
	st.lastErr = diag
	e.publish()
	e.metrics.observeOperation(op.verb, outcome)

	ev := e.log.Info()
	if outcome == PhaseFailed {
		ev = e.log.Warn()
	}
	if op.verb == VerbStatus || (op.verb == VerbRescan && outcome == PhaseSucceeded) {
		ev = e.log.Debug()
	}
	ev.Str("verb", string(op.verb)).
		Str("op_id", op.id).
		Str("target", op.target).
		Int("exit_code", c.res.ExitCode).
		Str("outcome", string(outcome)).
		Str("diagnostic", diag).
		Msg("operation finished")

	if !errors.Is(c.err, ErrToolUnavailable) {
		e.report(op, outcome, diag)
	}
	if e.toolErr != nil {
		e.statusPending = false
		return
	}

	switch op.verb {
	case VerbStatus:
		if c.err == nil {
			enabled := e.radio.observe(c.res.Stdout)
			e.metrics.observeRadio(enabled)
		}
		if e.statusPending {
			e.statusPending = false
			e.start(ctx, &operation{verb: VerbStatus}, e.tool.RadioStatus)
		}
	case VerbRadio:
		// A query already in flight may predate the change.
		if e.verbs[VerbStatus].phase == PhaseRunning {
			e.statusPending = true
		} else {
			e.start(ctx, &operation{verb: VerbStatus}, e.tool.RadioStatus)
		}
		e.refresh(ctx)
	default:
		e.refresh(ctx)
	}
}

// report sends the notification for a finished operation.
func (e *Engine) report(op *operation, outcome Phase, diag string) {
	ok := outcome == PhaseSucceeded
	switch op.verb {
	case VerbConnect:
		if ok {
			e.notify.Notify("Wi-Fi connected", fmt.Sprintf("Connected to %s", op.target), iconConnected)
			return
		}
		e.notify.Notify("Wi-Fi connection failed",
			withDiagnostic(fmt.Sprintf("Could not connect to %s: wrong password or weak signal", op.target), diag), iconError)
	case VerbDisconnect:
		if ok {
			e.notify.Notify("Wi-Fi disconnected", fmt.Sprintf("Disconnected %s", op.target), iconDisconnected)
			return
		}
		e.notify.Notify("Wi-Fi disconnect failed", withDiagnostic(fmt.Sprintf("Could not disconnect %s", op.target), diag), iconError)
	case VerbRadio:
		if ok {
			icon := iconConnected
			if op.target == "off" {
				icon = iconOffline
			}
			e.notify.Notify("Wi-Fi radio "+op.target, fmt.Sprintf("Wi-Fi radio turned %s", op.target), icon)
			return
		}
		e.notify.Notify("Wi-Fi radio change failed", withDiagnostic(fmt.Sprintf("Could not turn Wi-Fi radio %s", op.target), diag), iconError)
	case VerbRescan:
		if !ok {
			e.notify.Notify("Wi-Fi rescan failed", withDiagnostic("Could not request a rescan", diag), iconError)
		}
	}
}

// toolUnavailable records a configuration-level failure. It is surfaced once
// and suspends automatic refreshes until a later invocation works.
func (e *Engine) toolUnavailable(err error) {
	e.metrics.toolErrors.Inc()
	if e.toolErr != nil {
		return
	}
	e.toolErr = err
	e.log.Error().Err(err).Msg("network tool unavailable, automatic refresh suspended")
	e.notify.Notify("Wi-Fi tool unavailable", err.Error(), iconError)

	e.mu.Lock()
	e.configErr = err.Error()
	e.mu.Unlock()
}

func (e *Engine) toolAvailable() {
	if e.toolErr == nil {
		return
	}
	e.toolErr = nil
	e.log.Info().Msg("network tool reachable again, automatic refresh resumed")

	e.mu.Lock()
	e.configErr = ""
	e.mu.Unlock()
}

// publish copies the verb state machines for readers outside the loop.
func (e *Engine) publish() {
	out := make(map[Verb]VerbState, len(e.verbs))
	for v, st := range e.verbs {
		vs := VerbState{Phase: st.phase, LastOutcome: st.lastOutcome, LastError: st.lastErr}
		op := st.current
		if op == nil {
			op = st.last
		}
		if op != nil {
			vs.OpID = op.id
			vs.Target = op.target
		}
		out[v] = vs
	}
	e.mu.Lock()
	e.published = out
	e.mu.Unlock()
}

func radioWord(enabled bool) string {
	if enabled {
		return "on"
	}
	return "off"
}

func withDiagnostic(msg, diag string) string {
	if diag == "" {
		return msg
	}
	return msg + " (" + diag + ")"
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return s
}
