package solenoid_test

import (
	"math"
	"testing"
	"time"

	"github.com/sweeney/solenoid-controller/internal/board"
	"github.com/sweeney/solenoid-controller/internal/solenoid"
)

// rig drives a controller over a FakeBoard with a manual clock.
type rig struct {
	t     *testing.T
	ctrl  *solenoid.Controller
	board *board.FakeBoard
	now   time.Time
}

func newRig(t *testing.T, cfg solenoid.Config, coils ...float64) *rig {
	t.Helper()
	r := &rig{
		t:     t,
		board: board.NewFakeBoard(12, coils...),
		now:   time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC),
	}
	ctrl, err := solenoid.New(cfg, r.board, len(coils), func() time.Time { return r.now })
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	r.ctrl = ctrl
	r.ctrl.Reset()
	return r
}

// tick advances the clock by one millisecond and runs the loop, n times.
func (r *rig) tick(n int) {
	for i := 0; i < n; i++ {
		r.now = r.now.Add(time.Millisecond)
		r.ctrl.Loop()
	}
}

// calibrate runs the loop until all ports have been probed and returns the
// number of ticks it took.
func (r *rig) calibrate() int {
	r.t.Helper()
	for n := 1; n <= 10000; n++ {
		r.tick(1)
		if r.ctrl.Ready() {
			return n
		}
	}
	r.t.Fatal("controller did not become ready")
	return 0
}

func (r *rig) port(i int) solenoid.PortStatus {
	return r.ctrl.Snapshot().Ports[i]
}

func near(a, b, eps float64) bool {
	return math.Abs(a-b) <= eps
}

func TestNewValidation(t *testing.T) {
	f := board.NewFakeBoard(12, 8)

	if _, err := solenoid.New(solenoid.DefaultConfig(), f, 0, nil); err == nil {
		t.Error("expected error for zero ports")
	}
	if _, err := solenoid.New(solenoid.DefaultConfig(), nil, 1, nil); err == nil {
		t.Error("expected error for nil hardware")
	}

	cfg := solenoid.DefaultConfig()
	cfg.Current.Max = -1
	if _, err := solenoid.New(cfg, f, 1, nil); err == nil {
		t.Error("expected error for invalid config")
	}

	c, err := solenoid.New(solenoid.DefaultConfig(), f, 1, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.Ports() != 1 {
		t.Errorf("Ports: got %d, want 1", c.Ports())
	}
	if c.Resistance(0) != -1 {
		t.Errorf("unprobed resistance: got %v, want -1", c.Resistance(0))
	}
}

func TestCalibrationConvergence(t *testing.T) {
	r := newRig(t, solenoid.DefaultConfig(), 8, 8, board.NoCoil, 5)

	if r.ctrl.Ready() {
		t.Fatal("should not be ready before probing")
	}

	n := r.calibrate()

	// Settle delay plus eleven rounds of four 10ms measurements.
	if n < 200+10*4*10 {
		t.Errorf("ready after %d ticks, too early", n)
	}
	if r.board.Count(solenoid.IndicatorInitializing) != 1 {
		t.Errorf("initializing indicator: got %d, want 1", r.board.Count(solenoid.IndicatorInitializing))
	}

	// Ready is signalled exactly once and stays.
	r.tick(5000)
	if !r.ctrl.Ready() {
		t.Error("ready flag was cleared without reset")
	}
	if got := r.board.Count(solenoid.IndicatorReady); got != 1 {
		t.Errorf("ready indicator: got %d, want 1", got)
	}

	snap := r.ctrl.Snapshot()
	want := []solenoid.CoilState{solenoid.CoilConnected, solenoid.CoilConnected, solenoid.CoilNotConnected, solenoid.CoilShortCircuit}
	for i, w := range want {
		if snap.Ports[i].Coil != w {
			t.Errorf("port %d coil: got %s, want %s", i, snap.Ports[i].Coil, w)
		}
	}
	if !near(r.ctrl.Resistance(0), 8, 1e-6) {
		t.Errorf("port 0 resistance: got %v, want 8", r.ctrl.Resistance(0))
	}
	if r.ctrl.Resistance(2) != -1 {
		t.Errorf("port 2 resistance: got %v, want -1", r.ctrl.Resistance(2))
	}
	if r.ctrl.Resistance(3) != 0 {
		t.Errorf("port 3 resistance: got %v, want 0", r.ctrl.Resistance(3))
	}
	if r.board.Powered {
		t.Error("power rail must stay off while probing")
	}
}

func TestTriggerIgnoredBeforeCalibration(t *testing.T) {
	r := newRig(t, solenoid.DefaultConfig(), 8)
	r.tick(300)

	r.ctrl.TriggerPort(0, 4, 0.2, false, false)

	p := r.port(0)
	if p.State != solenoid.DriverIdle || p.Duty != 0 {
		t.Errorf("port 0: got %s duty %v, want IDLE duty 0", p.State, p.Duty)
	}
	if r.board.Powered {
		t.Error("power rail switched on before calibration")
	}
}

func TestTriggerPeak(t *testing.T) {
	r := newRig(t, solenoid.DefaultConfig(), 8)
	r.calibrate()

	r.ctrl.TriggerPort(0, 4, 0.2, false, false)

	want := math.Sqrt(4*8) / 12
	p := r.port(0)
	if p.State != solenoid.DriverPeak {
		t.Fatalf("state: got %s, want PEAK", p.State)
	}
	if !near(p.Duty, want, 1e-6) || !near(p.Duty, 0.471, 1e-3) {
		t.Errorf("duty: got %v, want %v", p.Duty, want)
	}
	if !near(r.board.Duty[0], want, 1e-6) {
		t.Errorf("board duty: got %v, want %v", r.board.Duty[0], want)
	}
	if !r.board.Powered {
		t.Error("power rail not switched on")
	}
	if r.board.Count(solenoid.IndicatorPower) != 1 {
		t.Error("expected power indicator")
	}

	// Held after the 100ms peak, released after 200ms.
	r.tick(199)
	if r.port(0).State != solenoid.DriverHold {
		t.Fatalf("state at 199ms: got %s, want HOLD", r.port(0).State)
	}
	r.tick(1)
	if p := r.port(0); p.State != solenoid.DriverIdle || p.Duty != 0 || r.board.Duty[0] != 0 {
		t.Errorf("after pulse: got %s duty %v board %v", p.State, p.Duty, r.board.Duty[0])
	}
}

func TestFadeIn(t *testing.T) {
	r := newRig(t, solenoid.DefaultConfig(), 8)
	r.calibrate()

	r.ctrl.TriggerPort(0, 4, 0.2, true, false)
	if s := r.port(0).State; s != solenoid.DriverFadeIn {
		t.Fatalf("state: got %s, want FADE_IN", s)
	}

	target := math.Sqrt(4*8) / 12
	step := target / 200
	if !near(step, 0.00236, 1e-5) {
		t.Fatalf("step sanity: %v", step)
	}

	r.tick(1)
	if d := r.port(0).Duty; !near(d, step, 1e-9) {
		t.Errorf("first step: got %v, want %v", d, step)
	}

	prev := r.port(0).Duty
	ticks := 1
	for r.port(0).State == solenoid.DriverFadeIn {
		r.tick(1)
		ticks++
		d := r.port(0).Duty
		if d < prev {
			t.Fatalf("tick %d: duty decreased %v -> %v", ticks, prev, d)
		}
		if d > target {
			t.Fatalf("tick %d: duty %v exceeds target %v", ticks, d, target)
		}
		prev = d
		if ticks > 250 {
			t.Fatal("fade-in did not finish")
		}
	}

	if ticks < 199 || ticks > 201 {
		t.Errorf("fade-in took %d ticks, want ~200", ticks)
	}
}

func TestPeakToHold(t *testing.T) {
	r := newRig(t, solenoid.DefaultConfig(), 8)
	r.calibrate()

	r.ctrl.TriggerPort(0, 4, 1, false, false)
	target := r.port(0).Duty

	r.tick(100)
	if s := r.port(0).State; s != solenoid.DriverPeak {
		t.Fatalf("state at 100ms: got %s, want PEAK", s)
	}

	r.tick(1)
	p := r.port(0)
	if p.State != solenoid.DriverHold {
		t.Fatalf("state at 101ms: got %s, want HOLD", p.State)
	}
	if !near(p.Duty, target*0.5, 1e-9) || !near(r.board.Duty[0], target*0.5, 1e-9) {
		t.Errorf("hold duty: got %v, want %v", p.Duty, target*0.5)
	}

	r.tick(899)
	if p := r.port(0); p.State != solenoid.DriverIdle || p.Duty != 0 {
		t.Errorf("after pulse: got %s duty %v, want IDLE 0", p.State, p.Duty)
	}
}

func TestFadeOut(t *testing.T) {
	r := newRig(t, solenoid.DefaultConfig(), 8)
	r.calibrate()

	r.ctrl.TriggerPort(0, 4, 0.05, false, true)
	r.tick(50)

	if s := r.port(0).State; s != solenoid.DriverFadeOut {
		t.Fatalf("state: got %s, want FADE_OUT", s)
	}

	prev := r.port(0).Duty
	ticks := 0
	for r.port(0).State == solenoid.DriverFadeOut {
		r.tick(1)
		ticks++
		d := r.port(0).Duty
		if d > prev {
			t.Fatalf("tick %d: duty increased %v -> %v", ticks, prev, d)
		}
		prev = d
		if ticks > 400 {
			t.Fatal("fade-out did not finish")
		}
	}

	if s := r.port(0).State; s != solenoid.DriverIdle {
		t.Errorf("state: got %s, want IDLE", s)
	}
	if r.port(0).Duty != 0 || r.board.Duty[0] != 0 {
		t.Errorf("duty after fade-out: got %v / %v, want 0", r.port(0).Duty, r.board.Duty[0])
	}
	if ticks < 349 || ticks > 352 {
		t.Errorf("fade-out took %d ticks, want ~350", ticks)
	}
}

func TestReleaseRequest(t *testing.T) {
	r := newRig(t, solenoid.DefaultConfig(), 8, 8)
	r.calibrate()

	r.ctrl.TriggerPort(0, 4, 10, false, false)
	r.ctrl.TriggerPort(1, 4, 10, false, false)
	r.tick(5)

	r.ctrl.TriggerPort(0, 0, 0, false, false)
	if p := r.port(0); p.State != solenoid.DriverIdle || p.Duty != 0 {
		t.Errorf("port 0 after release: got %s duty %v", p.State, p.Duty)
	}

	r.ctrl.TriggerPort(1, 0, 1, false, true)
	if s := r.port(1).State; s != solenoid.DriverFadeOut {
		t.Errorf("port 1 after fading release: got %s, want FADE_OUT", s)
	}

	// Releasing an idle port is harmless.
	r.ctrl.TriggerPort(0, 0, 0, false, true)
	if s := r.port(0).State; s != solenoid.DriverIdle {
		t.Errorf("idle port after release: got %s", s)
	}
}

func TestShortCircuitIgnored(t *testing.T) {
	cfg := solenoid.DefaultConfig()

	// Just below the short-circuit threshold.
	r := newRig(t, cfg, 8, cfg.Resistance.Min-0.01)
	r.calibrate()

	if c := r.port(1).Coil; c != solenoid.CoilShortCircuit {
		t.Fatalf("coil: got %s, want SHORT_CIRCUIT", c)
	}
	if r.ctrl.Resistance(1) != 0 {
		t.Errorf("resistance: got %v, want 0", r.ctrl.Resistance(1))
	}
	if r.board.Count(solenoid.IndicatorShortCircuit) == 0 {
		t.Error("expected short circuit indicator")
	}

	r.ctrl.TriggerPort(1, 4, 0.2, false, false)
	if p := r.port(1); p.State != solenoid.DriverIdle || p.Duty != 0 {
		t.Errorf("short port: got %s duty %v, want IDLE 0", p.State, p.Duty)
	}
	if r.board.Powered {
		t.Error("power rail switched on for a short circuit")
	}
}

func TestNotConnectedIgnored(t *testing.T) {
	r := newRig(t, solenoid.DefaultConfig(), board.NoCoil)
	r.calibrate()

	r.ctrl.TriggerPort(0, 4, 0.2, false, false)
	if s := r.port(0).State; s != solenoid.DriverIdle {
		t.Errorf("state: got %s, want IDLE", s)
	}
}

func TestOverCurrentTrip(t *testing.T) {
	cfg := solenoid.DefaultConfig()
	cfg.Current.Alpha = 0.5
	r := newRig(t, cfg, 8, 8, 8)
	r.calibrate()

	r.ctrl.TriggerPort(0, 2, 10, false, false)
	r.ctrl.TriggerPort(2, 4, 10, false, false)
	r.tick(20)
	if s := r.port(2).State; s != solenoid.DriverPeak {
		t.Fatalf("port 2: got %s, want PEAK", s)
	}

	r.board.ExtraCurrent = 20
	raw := r.board.ReadTotalCurrent()
	r.tick(1)

	snap := r.ctrl.Snapshot()
	for i, p := range snap.Ports {
		if p.State != solenoid.DriverIdle || p.Duty != 0 || r.board.Duty[i] != 0 {
			t.Errorf("port %d: got %s duty %v board %v, want IDLE 0", i, p.State, p.Duty, r.board.Duty[i])
		}
	}
	if snap.Probe != solenoid.ProbeInit || snap.Ready {
		t.Errorf("probe: got %s ready=%v, want INIT not ready", snap.Probe, snap.Ready)
	}
	if r.board.Count(solenoid.IndicatorOverCurrent) != 1 {
		t.Errorf("over-current indicator: got %d, want 1", r.board.Count(solenoid.IndicatorOverCurrent))
	}

	// The filtered value is reported, not the raw reading.
	if c := r.ctrl.Current(); c <= cfg.Current.Max || c >= raw {
		t.Errorf("current: got %v, want filtered value in (%v, %v)", c, cfg.Current.Max, raw)
	}

	r.ctrl.TriggerPort(0, 2, 1, false, false)
	if s := r.port(0).State; s != solenoid.DriverIdle {
		t.Errorf("trigger after trip: got %s, want IDLE", s)
	}

	// Once the load is gone the ports are probed again.
	r.board.ExtraCurrent = 0
	r.calibrate()
	r.ctrl.TriggerPort(0, 2, 1, false, false)
	if s := r.port(0).State; s != solenoid.DriverPeak {
		t.Errorf("trigger after recalibration: got %s, want PEAK", s)
	}
}

func TestTriggerPreemptsProbe(t *testing.T) {
	r := newRig(t, solenoid.DefaultConfig(), 8, 8, 8)
	r.calibrate()

	// Wait for the power-off debounce and a measurement on port 1.
	for i := 0; i < 2000; i++ {
		r.tick(1)
		snap := r.ctrl.Snapshot()
		if snap.Probe == solenoid.ProbeMeasure && snap.ProbePort == 1 {
			break
		}
	}
	if snap := r.ctrl.Snapshot(); snap.Probe != solenoid.ProbeMeasure || snap.ProbePort != 1 {
		t.Fatalf("probe: got %s port %d, want MEASURE port 1", snap.Probe, snap.ProbePort)
	}
	if r.board.Duty[1] != 1 {
		t.Fatalf("probed port duty: got %v, want 1", r.board.Duty[1])
	}

	r.ctrl.TriggerPort(1, 4, 0.5, false, false)

	snap := r.ctrl.Snapshot()
	if snap.Probe != solenoid.ProbeInit {
		t.Errorf("probe: got %s, want INIT", snap.Probe)
	}
	want := math.Sqrt(4*8) / 12
	if !near(r.board.Duty[1], want, 1e-6) {
		t.Errorf("port 1 duty: got %v, want %v", r.board.Duty[1], want)
	}

	// Probing never runs on an actuated port.
	for i := 0; i < 1500; i++ {
		r.tick(1)
		snap := r.ctrl.Snapshot()
		if snap.Probe != solenoid.ProbeMeasure {
			continue
		}
		if s := snap.Ports[snap.ProbePort].State; s != solenoid.DriverIdle {
			t.Fatalf("tick %d: port %d measured while %s", i, snap.ProbePort, s)
		}
		if r.board.Powered {
			t.Fatalf("tick %d: measuring with the power rail on", i)
		}
	}
}

func TestPowerOffDebounce(t *testing.T) {
	r := newRig(t, solenoid.DefaultConfig(), 8)
	r.calibrate()

	r.ctrl.TriggerPort(0, 4, 0.01, false, false)
	r.tick(10)
	if s := r.port(0).State; s != solenoid.DriverIdle {
		t.Fatalf("state: got %s, want IDLE", s)
	}

	r.tick(185)
	if !r.board.Powered {
		t.Fatal("power rail switched off before the debounce delay")
	}
	if s := r.ctrl.Snapshot().Probe; s != solenoid.ProbeInit {
		t.Errorf("probe during debounce: got %s, want INIT", s)
	}

	r.tick(10)
	if r.board.Powered {
		t.Error("power rail still on after the debounce delay")
	}
}

func TestPowerRetry(t *testing.T) {
	r := newRig(t, solenoid.DefaultConfig(), 8)
	r.calibrate()

	r.board.PowerFailures = 2
	r.ctrl.TriggerPort(0, 4, 0.2, false, false)

	p := r.port(0)
	if !p.Pending || p.State != solenoid.DriverIdle || p.Duty != 0 {
		t.Fatalf("after failed power: got pending=%v %s duty %v", p.Pending, p.State, p.Duty)
	}

	r.tick(1)
	if !r.port(0).Pending {
		t.Fatal("expected pulse still pending")
	}
	if s := r.ctrl.Snapshot().Probe; s != solenoid.ProbeInit {
		t.Errorf("probe while pending: got %s, want INIT", s)
	}

	r.tick(1)
	p = r.port(0)
	if p.Pending || p.State != solenoid.DriverPeak {
		t.Fatalf("after power up: got pending=%v %s", p.Pending, p.State)
	}

	// The pulse duration counts from the actual start.
	r.tick(199)
	if s := r.port(0).State; s != solenoid.DriverHold {
		t.Errorf("state at 199ms: got %s, want HOLD", s)
	}
	r.tick(1)
	if s := r.port(0).State; s != solenoid.DriverIdle {
		t.Errorf("state at 200ms: got %s, want IDLE", s)
	}
}

func TestPendingRelease(t *testing.T) {
	r := newRig(t, solenoid.DefaultConfig(), 8)
	r.calibrate()

	r.board.PowerFailures = 100
	r.ctrl.TriggerPort(0, 4, 0.2, false, false)
	r.ctrl.TriggerPort(0, 0, 0, false, true)

	if p := r.port(0); p.Pending || p.State != solenoid.DriverIdle {
		t.Errorf("got pending=%v %s, want released", p.Pending, p.State)
	}
}

func TestDutyClamp(t *testing.T) {
	tests := []struct {
		name   string
		supply float64
		watts  float64
		want   float64
	}{
		{"nominal", 12, 4, math.Sqrt(32) / 12},
		{"supply too low", 2, 4, 1},
		{"huge request", 12, 10000, 1},
		{"no supply", 0, 4, 0},
		{"negative supply", -5, 4, 0},
		{"nan supply", math.NaN(), 4, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := newRig(t, solenoid.DefaultConfig(), 8)
			r.calibrate()

			r.board.Supply = tt.supply
			r.ctrl.TriggerPort(0, tt.watts, 0.5, false, false)

			d := r.port(0).Duty
			if d < 0 || d > 1 {
				t.Fatalf("duty %v out of range", d)
			}
			if !near(d, tt.want, 1e-9) {
				t.Errorf("duty: got %v, want %v", d, tt.want)
			}
		})
	}
}

func TestLoopRateLimit(t *testing.T) {
	r := newRig(t, solenoid.DefaultConfig(), 8)
	r.calibrate()

	r.ctrl.TriggerPort(0, 4, 0.2, true, false)
	r.tick(1)
	first := r.port(0).Duty

	// Loop without the clock advancing does nothing.
	r.ctrl.Loop()
	r.ctrl.Loop()
	if d := r.port(0).Duty; d != first {
		t.Errorf("duty changed without time passing: %v -> %v", first, d)
	}
}

func TestIndicatorTimeout(t *testing.T) {
	r := newRig(t, solenoid.DefaultConfig(), 8, 8)
	r.calibrate()
	r.board.Reset()

	r.tick(61000)

	offs := 0
	for _, ind := range r.board.Indicators {
		if ind.Mode == solenoid.IndicatorOff {
			offs++
		}
	}
	if offs == 0 {
		t.Error("expected indicators switched off after inactivity")
	}

	// Idle probing slows down.
	sleeping := false
	for i := 0; i < 2000; i++ {
		r.tick(1)
		if r.ctrl.Snapshot().Probe == solenoid.ProbeSleep {
			sleeping = true
			break
		}
	}
	if !sleeping {
		t.Error("expected probe to sleep when idle")
	}

	// A trigger refreshes all indicators.
	r.board.Reset()
	r.ctrl.TriggerPort(0, 4, 0.2, false, false)
	if n := r.board.Count(solenoid.IndicatorResistance); n != 2 {
		t.Errorf("refreshed indicators: got %d, want 2", n)
	}
}

func TestReset(t *testing.T) {
	r := newRig(t, solenoid.DefaultConfig(), 8)
	r.calibrate()
	r.ctrl.TriggerPort(0, 4, 1, false, false)
	r.tick(10)

	r.ctrl.Reset()

	if r.ctrl.Ready() {
		t.Error("ready after reset")
	}
	if r.ctrl.Resistance(0) != -1 {
		t.Errorf("resistance after reset: got %v, want -1", r.ctrl.Resistance(0))
	}
	if p := r.port(0); p.State != solenoid.DriverIdle || p.Duty != 0 {
		t.Errorf("port after reset: got %s duty %v", p.State, p.Duty)
	}
	if r.board.Powered {
		t.Error("power rail on after reset")
	}
	if r.ctrl.Current() != 0 {
		t.Errorf("current after reset: got %v", r.ctrl.Current())
	}
}

func TestReleaseWhileRailSettling(t *testing.T) {
	r := newRig(t, solenoid.DefaultConfig(), 8, 8)
	r.calibrate()

	// The rail comes up but never reports ready.
	r.board.PowerSettling = 100000
	r.ctrl.TriggerPort(0, 4, 0.2, false, false)
	if !r.board.Powered || !r.port(0).Pending {
		t.Fatalf("got powered=%v pending=%v, want a pending pulse on a live rail", r.board.Powered, r.port(0).Pending)
	}
	r.tick(5)
	r.ctrl.TriggerPort(0, 0, 0, false, false)

	for i := 0; i < 2000; i++ {
		r.tick(1)
		snap := r.ctrl.Snapshot()
		if snap.Probe == solenoid.ProbeMeasure && r.board.Powered {
			t.Fatalf("tick %d: measuring port %d with the power rail on", i, snap.ProbePort)
		}
	}
	if r.board.Powered {
		t.Error("power rail still on after the release")
	}
}

func TestOverCurrentWhileRailSettling(t *testing.T) {
	cfg := solenoid.DefaultConfig()
	cfg.Current.Alpha = 0
	r := newRig(t, cfg, 8)
	r.calibrate()

	r.board.PowerSettling = 100000
	r.ctrl.TriggerPort(0, 4, 0.2, false, false)
	r.board.ExtraCurrent = 5
	r.tick(1)
	r.board.ExtraCurrent = 0

	r.tick(250)
	if r.board.Powered {
		t.Error("power rail still on after an over-current trip")
	}
}

func TestReleaseInterruptsProbe(t *testing.T) {
	r := newRig(t, solenoid.DefaultConfig(), 40, 8)
	r.calibrate()

	for i := 0; i < 2000; i++ {
		snap := r.ctrl.Snapshot()
		if snap.Probe == solenoid.ProbeMeasure && snap.ProbePort == 0 {
			break
		}
		r.tick(1)
	}
	if snap := r.ctrl.Snapshot(); snap.Probe != solenoid.ProbeMeasure || snap.ProbePort != 0 {
		t.Fatalf("probe: got %s port %d, want MEASURE port 0", snap.Probe, snap.ProbePort)
	}

	r.ctrl.TriggerPort(0, 0, 0, false, false)
	if s := r.ctrl.Snapshot().Probe; s != solenoid.ProbeInit {
		t.Errorf("probe after release: got %s, want INIT", s)
	}
	if r.board.Duty[0] != 0 {
		t.Errorf("port 0 duty: got %v, want 0", r.board.Duty[0])
	}

	// The interrupted measurement must not be sampled.
	for i := 0; i < 500; i++ {
		r.tick(1)
		if p := r.port(0); p.Coil != solenoid.CoilConnected {
			t.Fatalf("tick %d: coil %s, want CONNECTED", i, p.Coil)
		}
	}
	if res := r.ctrl.Resistance(0); !near(res, 40, 0.5) {
		t.Errorf("resistance: got %v, want ~40", res)
	}

	r.ctrl.TriggerPort(0, 4, 0.2, false, false)
	if s := r.port(0).State; s != solenoid.DriverPeak {
		t.Errorf("trigger after release: got %s, want PEAK", s)
	}
}

func TestResetRetriesPowerOff(t *testing.T) {
	r := newRig(t, solenoid.DefaultConfig(), 8)
	r.calibrate()
	r.ctrl.TriggerPort(0, 4, 1, false, false)
	r.tick(10)

	r.board.PowerOffFailures = 1
	r.ctrl.Reset()
	if !r.board.Powered {
		t.Fatal("expected the failed switch-off to leave the rail on")
	}

	r.tick(1)
	if r.board.Powered {
		t.Error("switch-off not retried by the next loop")
	}
	if s := r.ctrl.Snapshot().Probe; s == solenoid.ProbeMeasure {
		t.Error("measuring right after the switch-off")
	}
}
