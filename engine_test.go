package main

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

// fakeTool is a scripted Tool. Hooks, when set, replace the canned results.
type fakeTool struct {
	mu       sync.Mutex
	calls    []string
	scans    int
	rescans  int
	scanOut  string
	radioOut string
	err      error

	disconnectRes Result
	connect       func(ctx context.Context, ssid, password string) (Result, error)
	setRadio      func(enabled bool)
	rescan        func(ctx context.Context) (Result, error)
	scanGate      chan struct{}
	statusGate    chan struct{}
}

func (f *fakeTool) record(call string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
	return f.err
}

func (f *fakeTool) Scan(ctx context.Context) (Result, error) {
	f.mu.Lock()
	f.scans++
	gate := f.scanGate
	f.mu.Unlock()
	if err := f.record("scan"); err != nil {
		return Result{ExitCode: -1}, err
	}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return Result{ExitCode: -1}, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return Result{Stdout: f.scanOut}, nil
}

func (f *fakeTool) Connect(ctx context.Context, ssid, password string) (Result, error) {
	if err := f.record(fmt.Sprintf("connect %s %s", ssid, password)); err != nil {
		return Result{ExitCode: -1}, err
	}
	if f.connect != nil {
		return f.connect(ctx, ssid, password)
	}
	return Result{}, nil
}

func (f *fakeTool) Disconnect(context.Context) (Result, error) {
	if err := f.record("disconnect"); err != nil {
		return Result{ExitCode: -1}, err
	}
	return f.disconnectRes, nil
}

func (f *fakeTool) SetRadio(_ context.Context, enabled bool) (Result, error) {
	if err := f.record("radio " + radioWord(enabled)); err != nil {
		return Result{ExitCode: -1}, err
	}
	if f.setRadio != nil {
		f.setRadio(enabled)
	}
	return Result{}, nil
}

func (f *fakeTool) RadioStatus(ctx context.Context) (Result, error) {
	if err := f.record("radio status"); err != nil {
		return Result{ExitCode: -1}, err
	}
	if f.statusGate != nil {
		select {
		case <-f.statusGate:
		case <-ctx.Done():
			return Result{ExitCode: -1}, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return Result{Stdout: f.radioOut + "\n"}, nil
}

func (f *fakeTool) Rescan(ctx context.Context) (Result, error) {
	f.mu.Lock()
	f.rescans++
	f.mu.Unlock()
	if err := f.record("rescan"); err != nil {
		return Result{ExitCode: -1}, err
	}
	if f.rescan != nil {
		return f.rescan(ctx)
	}
	return Result{}, nil
}

func (f *fakeTool) set(fn func(f *fakeTool)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}

func (f *fakeTool) scanCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.scans
}

func (f *fakeTool) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeTool) called(call string) bool {
	return f.count(call) > 0
}

func (f *fakeTool) count(call string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		if c == call {
			n++
		}
	}
	return n
}

type note struct {
	title, body, icon string
}

type recordingNotifier struct {
	mu    sync.Mutex
	notes []note
}

func (r *recordingNotifier) Notify(title, body, icon string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notes = append(r.notes, note{title, body, icon})
}

func (r *recordingNotifier) titled(title string) []note {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []note
	for _, n := range r.notes {
		if n.title == title {
			out = append(out, n)
		}
	}
	return out
}

func startEngine(t *testing.T, tool *fakeTool) (*Engine, *recordingNotifier) {
	t.Helper()
	n := &recordingNotifier{}
	e := NewEngine(EngineConfig{Tool: tool, Interface: "wlan0", Notifier: n, Logger: zerolog.Nop()})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		assert.NoError(t, e.Run(ctx))
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return e, n
}

func TestConnectSuccessNotifiesAndRefreshes(t *testing.T) {
	tool := &fakeTool{scanOut: "yes:70:2437:CoffeeShop:aa\\:bb\\:cc\\:dd\\:ee\\:ff:\n"}
	e, notes := startEngine(t, tool)

	id, err := e.Connect(context.Background(), "CoffeeShop", "")
	require.NoError(t, err)
	require.NotEmpty(t, id)

	require.Eventually(t, func() bool { return len(notes.titled("Wi-Fi connected")) == 1 }, waitFor, tick)
	require.Eventually(t, func() bool { return e.Status().ActiveSSID == "CoffeeShop" }, waitFor, tick)

	assert.True(t, tool.called("connect CoffeeShop "), "empty password is not passed on")
	assert.Equal(t, "Connected to CoffeeShop", notes.titled("Wi-Fi connected")[0].body)

	vs := e.Status().Verbs[VerbConnect]
	assert.Equal(t, PhaseIdle, vs.Phase)
	assert.Equal(t, PhaseSucceeded, vs.LastOutcome)
	assert.Equal(t, id, vs.OpID)
	assert.Equal(t, 1.0, testutil.ToFloat64(e.metrics.operations.WithLabelValues("connect", "succeeded")))
}

func TestConnectFailureStillRefreshes(t *testing.T) {
	tool := &fakeTool{
		scanOut: "no:40:2412:HomeNet:AA:BB:CC:DD:EE:FF:WPA2\n",
		connect: func(context.Context, string, string) (Result, error) {
			return Result{ExitCode: 4, Stderr: "Error: Connection activation failed: Secrets were required.\n"}, nil
		},
	}
	e, notes := startEngine(t, tool)

	_, err := e.Connect(context.Background(), "HomeNet", "hunter2")
	require.NoError(t, err)

	require.Eventually(t, func() bool { return len(notes.titled("Wi-Fi connection failed")) == 1 }, waitFor, tick)
	require.Eventually(t, func() bool { return e.Status().Networks == 1 }, waitFor, tick)

	n := notes.titled("Wi-Fi connection failed")[0]
	assert.Contains(t, n.body, "wrong password or weak signal")
	assert.Contains(t, n.body, "Secrets were required")
	assert.Equal(t, iconError, n.icon)
	assert.True(t, tool.called("connect HomeNet hunter2"))

	vs := e.Status().Verbs[VerbConnect]
	assert.Equal(t, PhaseIdle, vs.Phase)
	assert.Equal(t, PhaseFailed, vs.LastOutcome)
	assert.Contains(t, vs.LastError, "Secrets were required")
	assert.Empty(t, notes.titled("Wi-Fi connected"))
}

func TestConnectSupersedesPendingConnect(t *testing.T) {
	gates := map[string]chan Result{
		"First":  make(chan Result),
		"Second": make(chan Result),
	}
	tool := &fakeTool{
		connect: func(ctx context.Context, ssid, _ string) (Result, error) {
			select {
			case res := <-gates[ssid]:
				return res, nil
			case <-ctx.Done():
				return Result{ExitCode: -1}, ctx.Err()
			}
		},
	}
	e, notes := startEngine(t, tool)
	ctx := context.Background()

	first, err := e.Connect(ctx, "First", "")
	require.NoError(t, err)
	second, err := e.Connect(ctx, "Second", "")
	require.NoError(t, err)
	require.NotEqual(t, first, second)

	vs := e.Status().Verbs[VerbConnect]
	assert.Equal(t, PhaseRunning, vs.Phase)
	assert.Equal(t, second, vs.OpID)
	assert.Equal(t, "Second", vs.Target)

	gates["Second"] <- Result{}
	require.Eventually(t, func() bool { return len(notes.titled("Wi-Fi connected")) == 1 }, waitFor, tick)
	require.Eventually(t, func() bool { return tool.scanCount() >= 1 }, waitFor, tick)

	// The stale attempt fails late. It must not be reported, but it still
	// kicks a refresh.
	gates["First"] <- Result{ExitCode: 1, Stderr: "Error: timeout"}
	require.Eventually(t, func() bool { return tool.scanCount() >= 2 }, waitFor, tick)

	assert.Empty(t, notes.titled("Wi-Fi connection failed"))
	assert.Equal(t, "Connected to Second", notes.titled("Wi-Fi connected")[0].body)

	vs = e.Status().Verbs[VerbConnect]
	assert.Equal(t, PhaseSucceeded, vs.LastOutcome)
	assert.Equal(t, second, vs.OpID)
	assert.Equal(t, 1.0, testutil.ToFloat64(e.metrics.superseded.WithLabelValues("connect")))
	assert.Equal(t, 0.0, testutil.ToFloat64(e.metrics.operations.WithLabelValues("connect", "failed")))
}

func TestConnectRequiresSSID(t *testing.T) {
	e, _ := startEngine(t, &fakeTool{})
	_, err := e.Connect(context.Background(), "", "pw")
	require.Error(t, err)
}

func TestRadioOffRequeriesStatusAndRefreshes(t *testing.T) {
	tool := &fakeTool{
		radioOut: "enabled",
		scanOut: "yes:80:2412:HomeNet:AA:BB:CC:DD:EE:FF:WPA2\n" +
			"no:30:5180:Neighbour:11:22:33:44:55:66:WPA2\n",
	}
	tool.setRadio = func(enabled bool) {
		tool.set(func(f *fakeTool) {
			f.radioOut = "disabled"
			f.scanOut = ""
		})
	}
	e, notes := startEngine(t, tool)
	ctx := context.Background()

	require.NoError(t, e.Poll(ctx))
	require.Eventually(t, func() bool {
		st := e.Status()
		return st.RadioEnabled && st.Networks == 2
	}, waitFor, tick)

	_, err := e.SetRadio(ctx, false)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		st := e.Status()
		return !st.RadioEnabled && st.Networks == 0
	}, waitFor, tick)

	assert.True(t, tool.called("radio off"))
	off := notes.titled("Wi-Fi radio off")
	require.Len(t, off, 1)
	assert.Equal(t, iconOffline, off[0].icon)
	assert.Empty(t, e.Networks())
	assert.Empty(t, e.Status().ActiveSSID)
	assert.Equal(t, 0.0, testutil.ToFloat64(e.metrics.radio))
}

func TestToggleRadioFlipsObservedState(t *testing.T) {
	tool := &fakeTool{radioOut: "disabled"}
	tool.setRadio = func(enabled bool) {
		tool.set(func(f *fakeTool) { f.radioOut = map[bool]string{true: "enabled", false: "disabled"}[enabled] })
	}
	e, _ := startEngine(t, tool)
	ctx := context.Background()

	require.NoError(t, e.Poll(ctx))
	require.Eventually(t, func() bool { return e.Status().Verbs[VerbStatus].LastOutcome == PhaseSucceeded }, waitFor, tick)
	require.False(t, e.Status().RadioEnabled)

	_, err := e.ToggleRadio(ctx)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return e.Status().RadioEnabled }, waitFor, tick)
	assert.True(t, tool.called("radio on"))
}

func TestToggleRadioFlipsPendingChange(t *testing.T) {
	hold := make(chan struct{})
	release := sync.OnceFunc(func() { close(hold) })
	defer release()
	tool := &fakeTool{radioOut: "disabled", setRadio: func(bool) { <-hold }}
	e, notes := startEngine(t, tool)
	ctx := context.Background()

	_, err := e.ToggleRadio(ctx)
	require.NoError(t, err)
	assert.Equal(t, "on", e.Status().Verbs[VerbRadio].Target)

	second, err := e.ToggleRadio(ctx)
	require.NoError(t, err)
	vs := e.Status().Verbs[VerbRadio]
	assert.Equal(t, second, vs.OpID)
	assert.Equal(t, "off", vs.Target)

	require.Eventually(t, func() bool { return tool.called("radio on") && tool.called("radio off") }, waitFor, tick)
	release()

	require.Eventually(t, func() bool { return len(notes.titled("Wi-Fi radio off")) == 1 }, waitFor, tick)
	assert.Equal(t, 1, tool.count("radio on"))
	assert.Equal(t, 1, tool.count("radio off"))
	assert.Empty(t, notes.titled("Wi-Fi radio on"))
}

func TestQueuedStatusQueryDroppedWhenToolFails(t *testing.T) {
	gate := make(chan struct{})
	release := sync.OnceFunc(func() { close(gate) })
	defer release()
	tool := &fakeTool{
		radioOut:   "enabled",
		statusGate: gate,
		connect: func(context.Context, string, string) (Result, error) {
			return Result{ExitCode: -1}, fmt.Errorf("%w: nmcli: permission denied", ErrToolUnavailable)
		},
	}
	e, notes := startEngine(t, tool)
	ctx := context.Background()

	// A status query is in flight when the radio change finishes, so a
	// second query is queued behind it.
	require.NoError(t, e.Poll(ctx))
	require.Eventually(t, func() bool { return tool.called("radio status") }, waitFor, tick)
	_, err := e.SetRadio(ctx, true)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return len(notes.titled("Wi-Fi radio on")) == 1 }, waitFor, tick)

	_, err = e.Connect(ctx, "Cafe", "")
	require.NoError(t, err)
	require.Eventually(t, func() bool { return e.Status().Verbs[VerbConnect].LastOutcome == PhaseFailed }, waitFor, tick)
	assert.Len(t, notes.titled("Wi-Fi tool unavailable"), 1)

	release()
	require.Eventually(t, func() bool { return e.Status().Verbs[VerbStatus].LastOutcome == PhaseSucceeded }, waitFor, tick)
	assert.Never(t, func() bool { return tool.count("radio status") > 1 }, 50*time.Millisecond, tick)
}

func TestRescanDoesNotStack(t *testing.T) {
	release := make(chan struct{})
	tool := &fakeTool{
		rescan: func(ctx context.Context) (Result, error) {
			select {
			case <-release:
				return Result{}, nil
			case <-ctx.Done():
				return Result{ExitCode: -1}, ctx.Err()
			}
		},
	}
	e, _ := startEngine(t, tool)
	ctx := context.Background()

	first, err := e.Rescan(ctx)
	require.NoError(t, err)
	again, err := e.Rescan(ctx)
	require.NoError(t, err)
	assert.Equal(t, first, again)

	close(release)
	require.Eventually(t, func() bool { return e.Status().Verbs[VerbRescan].LastOutcome == PhaseSucceeded }, waitFor, tick)
	require.Eventually(t, func() bool { return tool.scanCount() >= 1 }, waitFor, tick)

	tool.mu.Lock()
	rescans := tool.rescans
	tool.mu.Unlock()
	assert.Equal(t, 1, rescans)
	assert.Equal(t, 0.0, testutil.ToFloat64(e.metrics.superseded.WithLabelValues("rescan")))

	next, err := e.Rescan(ctx)
	require.NoError(t, err)
	assert.NotEqual(t, first, next)
}

func TestDisconnectFailureNotifiesAndRefreshes(t *testing.T) {
	tool := &fakeTool{disconnectRes: Result{ExitCode: 6, Stderr: "Error: Device 'wlan0' is not active."}}
	e, notes := startEngine(t, tool)

	_, err := e.Disconnect(context.Background())
	require.NoError(t, err)

	require.Eventually(t, func() bool { return len(notes.titled("Wi-Fi disconnect failed")) == 1 }, waitFor, tick)
	require.Eventually(t, func() bool { return tool.scanCount() == 1 }, waitFor, tick)
	assert.Contains(t, notes.titled("Wi-Fi disconnect failed")[0].body, "wlan0")
	assert.Equal(t, "wlan0", e.Status().Verbs[VerbDisconnect].Target)
}

func TestRefreshCoalescesWhileScanning(t *testing.T) {
	gate := make(chan struct{})
	tool := &fakeTool{scanGate: gate, scanOut: "no:10:2412:a:x:\n"}
	e, _ := startEngine(t, tool)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		require.NoError(t, e.Refresh(ctx))
	}
	require.Eventually(t, func() bool { return tool.scanCount() == 1 }, waitFor, tick)

	gate <- struct{}{}
	require.Eventually(t, func() bool { return tool.scanCount() == 2 }, waitFor, tick)
	gate <- struct{}{}

	require.Eventually(t, func() bool { return e.Status().Networks == 1 }, waitFor, tick)
	assert.Never(t, func() bool { return tool.scanCount() > 2 }, 50*time.Millisecond, tick)
}

func TestToolUnavailableSurfacesOnce(t *testing.T) {
	tool := &fakeTool{err: fmt.Errorf("%w: nmcli: executable file not found in $PATH", ErrToolUnavailable)}
	e, notes := startEngine(t, tool)
	ctx := context.Background()

	require.NoError(t, e.Poll(ctx))
	require.Eventually(t, func() bool { return testutil.ToFloat64(e.metrics.toolErrors) == 2 }, waitFor, tick)

	st := e.Status()
	assert.Contains(t, st.ConfigError, "not found")
	assert.Len(t, notes.titled("Wi-Fi tool unavailable"), 1)

	// No automatic retries while the tool is missing.
	calls := tool.callCount()
	require.NoError(t, e.Poll(ctx))
	assert.Equal(t, calls, tool.callCount())

	// A user intent still tries, and success clears the error.
	tool.set(func(f *fakeTool) { f.err = nil })
	_, err := e.Connect(ctx, "Cafe", "")
	require.NoError(t, err)
	require.Eventually(t, func() bool { return e.Status().ConfigError == "" }, waitFor, tick)
	require.Eventually(t, func() bool { return len(notes.titled("Wi-Fi connected")) == 1 }, waitFor, tick)
	assert.Len(t, notes.titled("Wi-Fi tool unavailable"), 1)
}

func TestStatusListsEveryVerb(t *testing.T) {
	e, _ := startEngine(t, &fakeTool{})
	st := e.Status()
	assert.Equal(t, "wlan0", st.Interface)
	for _, v := range allVerbs {
		vs, ok := st.Verbs[v]
		require.True(t, ok, "verb %s", v)
		assert.Equal(t, PhaseIdle, vs.Phase)
	}
}

func TestFirstLine(t *testing.T) {
	assert.Equal(t, "Error: one", firstLine("\nError: one\nsecond\n"))
	assert.Equal(t, "", firstLine("  "))
	assert.True(t, strings.HasSuffix(withDiagnostic("msg", "why"), "(why)"))
	assert.Equal(t, "msg", withDiagnostic("msg", ""))
}
