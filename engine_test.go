package main

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

type fakeHook struct {
	installed  bool
	uninstalls int
	installErr error
}

func (f *fakeHook) Install(decide func(pointerEvent) verdict) error {
	if f.installErr != nil {
		return f.installErr
	}
	f.installed = true
	return nil
}

func (f *fakeHook) Uninstall() { f.uninstalls++ }

type fakeDriver struct {
	started, stopped bool
	dpiSet           []int
}

func (f *fakeDriver) Start()          { f.started = true }
func (f *fakeDriver) Stop()           { f.stopped = true }
func (f *fakeDriver) SetDPI(dpi int)  { f.dpiSet = append(f.dpiSet, dpi) }
func (f *fakeDriver) RequestDPIRead() {}

type actionRecorder struct {
	mu      sync.Mutex
	actions []string
}

func (r *actionRecorder) exec(id string) {
	r.mu.Lock()
	r.actions = append(r.actions, id)
	r.mu.Unlock()
}

func (r *actionRecorder) wait(t *testing.T, n int) []string {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		r.mu.Lock()
		if len(r.actions) >= n {
			out := append([]string{}, r.actions...)
			r.mu.Unlock()
			return out
		}
		r.mu.Unlock()
		time.Sleep(5 * time.Millisecond)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	t.Fatalf("recorded %d actions, want %d (%v)", len(r.actions), n, r.actions)
	return nil
}

func newTestEngine(t *testing.T) (*Engine, *Store, *actionRecorder) {
	t.Helper()
	s := NewStore(filepath.Join(t.TempDir(), "config.json"))
	rec := &actionRecorder{}
	e := NewEngine(s)
	e.Exec = rec.exec
	return e, s, rec
}

func TestEngineLifecycle(t *testing.T) {
	e, _, _ := newTestEngine(t)
	hook := &fakeHook{}
	driver := &fakeDriver{}
	e.Hook = hook
	e.Driver = driver
	if err := e.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if e.State() != engineRunning {
		t.Errorf("state = %v, want running", e.State())
	}
	if !hook.installed || !driver.started {
		t.Error("collaborators not started")
	}
	if err := e.Start(); err == nil {
		t.Error("second Start accepted while running")
	}
	e.Stop()
	if e.State() != engineStopped {
		t.Errorf("state = %v, want stopped", e.State())
	}
	if hook.uninstalls != 1 || !driver.stopped {
		t.Error("collaborators not stopped")
	}
	e.Stop() // idempotent
}

func TestRestartDoesNotStackStoreCallbacks(t *testing.T) {
	e, s, _ := newTestEngine(t)
	driver := &fakeDriver{}
	e.Hook = &fakeHook{}
	e.Driver = driver
	if err := e.Start(); err != nil {
		t.Fatal(err)
	}
	e.Stop()
	if err := e.Start(); err != nil {
		t.Fatal(err)
	}
	defer e.Stop()

	base := len(driver.dpiSet)
	if err := s.SetDPI(1600); err != nil {
		t.Fatal(err)
	}
	if got := len(driver.dpiSet) - base; got != 1 {
		t.Errorf("one settings change pushed DPI %d times, want 1", got)
	}
}

func TestGestureAfterStopIsSafe(t *testing.T) {
	e, s, rec := newTestEngine(t)
	e.Driver = &fakeDriver{}
	if err := s.SetMapping(catchAllProfile, ControlGesture, "copy"); err != nil {
		t.Fatal(err)
	}
	if err := e.Start(); err != nil {
		t.Fatal(err)
	}
	e.Stop()

	// A driver callback that outlived its stop bound must be inert, not
	// a panic on the dispatch channel.
	e.OnGesture(true)
	e.OnGesture(false)

	time.Sleep(20 * time.Millisecond)
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.actions) != 0 {
		t.Errorf("actions dispatched after stop: %v", rec.actions)
	}
}

func TestEngineHookInstallFailureIsNotFatal(t *testing.T) {
	e, _, _ := newTestEngine(t)
	e.Hook = &fakeHook{installErr: os.ErrPermission}
	var status []string
	e.OnStatus = func(kind, detail string) { status = append(status, kind) }
	if err := e.Start(); err == nil {
		t.Fatal("install failure not reported")
	}
	if e.State() != engineRunning {
		t.Errorf("state = %v, want running in pass-through", e.State())
	}
	found := false
	for _, k := range status {
		if k == "hook" {
			found = true
		}
	}
	if !found {
		t.Error("no hook status notification")
	}
	e.Stop()
}

func TestDecideRouting(t *testing.T) {
	e, s, rec := newTestEngine(t)
	if err := e.Start(); err != nil {
		t.Fatal(err)
	}
	defer e.Stop()
	s.SetMapping(catchAllProfile, ControlMiddle, "copy")

	tests := []struct {
		name string
		ev   pointerEvent
		want verdict
	}{
		{"mapped press", pointerEvent{control: ControlMiddle, press: true}, verdictSuppress},
		{"mapped release", pointerEvent{control: ControlMiddle}, verdictSuppress},
		{"default back press", pointerEvent{control: ControlBack, press: true}, verdictSuppress},
		{"vertical wheel untouched", pointerEvent{wheel: true, delta: 120}, verdictForward},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := e.Decide(tt.ev); got != tt.want {
				t.Errorf("Decide(%+v) = %v, want %v", tt.ev, got, tt.want)
			}
		})
	}
	// Press events dispatch exactly once; releases do not.
	got := rec.wait(t, 2)
	if got[0] != "copy" || got[1] != "alt_tab" {
		t.Errorf("dispatched %v", got)
	}
}

func TestDecideDisabledForwardsEverything(t *testing.T) {
	e, s, _ := newTestEngine(t)
	if err := e.Start(); err != nil {
		t.Fatal(err)
	}
	defer e.Stop()
	s.SetMapping(catchAllProfile, ControlMiddle, "copy")
	s.SetInvertScroll(false, true)
	e.SetEnabled(false)

	evs := []pointerEvent{
		{control: ControlMiddle, press: true},
		{control: ControlBack, press: true},
		{wheel: true, delta: 120},
	}
	for _, ev := range evs {
		if got := e.Decide(ev); got != verdictForward {
			t.Errorf("Decide(%+v) = %v while disabled, want forward", ev, got)
		}
	}
	e.SetEnabled(true)
	if got := e.Decide(evs[0]); got != verdictSuppress {
		t.Errorf("Decide after re-enable = %v, want suppress", got)
	}
}

func TestDecideScrollInversion(t *testing.T) {
	e, s, _ := newTestEngine(t)
	if err := e.Start(); err != nil {
		t.Fatal(err)
	}
	defer e.Stop()
	s.SetInvertScroll(false, true)
	s.SetInvertScroll(true, true)
	// Clear the default hscroll mappings so inversion is observable.
	s.SetMapping(catchAllProfile, ControlHScrollLeft, ActionNone)
	s.SetMapping(catchAllProfile, ControlHScrollRight, ActionNone)

	if got := e.Decide(pointerEvent{wheel: true, delta: -120}); got != verdictInvert {
		t.Errorf("vertical = %v, want invert", got)
	}
	if got := e.Decide(pointerEvent{wheel: true, horizontal: true, delta: 120}); got != verdictInvert {
		t.Errorf("horizontal = %v, want invert", got)
	}
}

func TestDecideHorizontalScrollMapping(t *testing.T) {
	e, _, rec := newTestEngine(t)
	if err := e.Start(); err != nil {
		t.Fatal(err)
	}
	defer e.Stop()
	// Defaults map left tilt to browser_back and right to
	// browser_forward; positive delta is a left tilt.
	if got := e.Decide(pointerEvent{wheel: true, horizontal: true, delta: 120}); got != verdictSuppress {
		t.Errorf("left tilt = %v, want suppress", got)
	}
	if got := e.Decide(pointerEvent{wheel: true, horizontal: true, delta: -120}); got != verdictSuppress {
		t.Errorf("right tilt = %v, want suppress", got)
	}
	got := rec.wait(t, 2)
	if got[0] != "browser_back" || got[1] != "browser_forward" {
		t.Errorf("dispatched %v", got)
	}
}

func TestGestureAliasing(t *testing.T) {
	t.Run("gesture event fires middle action when gesture unmapped", func(t *testing.T) {
		e, s, rec := newTestEngine(t)
		if err := e.Start(); err != nil {
			t.Fatal(err)
		}
		defer e.Stop()
		s.SetMapping(catchAllProfile, ControlMiddle, "browser_back")
		e.OnGesture(true)
		e.OnGesture(false)
		got := rec.wait(t, 1)
		if got[0] != "browser_back" {
			t.Errorf("dispatched %v, want browser_back", got)
		}
	})

	t.Run("middle click fires gesture action when middle unmapped", func(t *testing.T) {
		e, s, rec := newTestEngine(t)
		if err := e.Start(); err != nil {
			t.Fatal(err)
		}
		defer e.Stop()
		s.SetMapping(catchAllProfile, ControlGesture, "task_view")
		if got := e.Decide(pointerEvent{control: ControlMiddle, press: true}); got != verdictSuppress {
			t.Errorf("middle press = %v, want suppress", got)
		}
		got := rec.wait(t, 1)
		if got[0] != "task_view" {
			t.Errorf("dispatched %v, want task_view", got)
		}
	})

	t.Run("no aliasing when both mapped", func(t *testing.T) {
		e, s, rec := newTestEngine(t)
		if err := e.Start(); err != nil {
			t.Fatal(err)
		}
		defer e.Stop()
		s.SetMapping(catchAllProfile, ControlMiddle, "copy")
		s.SetMapping(catchAllProfile, ControlGesture, "task_view")
		e.Decide(pointerEvent{control: ControlMiddle, press: true})
		e.OnGesture(true)
		got := rec.wait(t, 2)
		if got[0] != "copy" || got[1] != "task_view" {
			t.Errorf("dispatched %v", got)
		}
	})
}

func TestGestureEdgeDedupAcrossSources(t *testing.T) {
	e, s, rec := newTestEngine(t)
	if err := e.Start(); err != nil {
		t.Fatal(err)
	}
	defer e.Stop()
	s.SetMapping(catchAllProfile, ControlGesture, "win_d")
	// Feature and fallback tiers both reporting the same press may race
	// during a tier transition; only one fire is allowed.
	e.OnGesture(true)
	e.OnGesture(true)
	e.OnGesture(false)
	e.OnGesture(false)
	e.OnGesture(true)
	e.OnGesture(false)
	got := rec.wait(t, 2)
	if len(got) != 2 {
		t.Errorf("dispatched %v, want exactly 2", got)
	}
}

func TestUnknownActionIDIsPassThrough(t *testing.T) {
	e, s, _ := newTestEngine(t)
	doc := `{
        "schemaVersion": 2,
        "activeProfile": "default",
        "profiles": [{"name": "default", "label": "d", "apps": [], "mappings": {
            "middle": "hyper_warp", "gesture": "none", "xbutton1": "none",
            "xbutton2": "none", "hscroll_left": "none", "hscroll_right": "none"
        }}]
    }`
	if err := os.WriteFile(s.path, []byte(doc), 0644); err != nil {
		t.Fatal(err)
	}
	if err := s.Load(); err != nil {
		t.Fatal(err)
	}
	if err := e.Start(); err != nil {
		t.Fatal(err)
	}
	defer e.Stop()
	if got := e.Decide(pointerEvent{control: ControlMiddle, press: true}); got != verdictForward {
		t.Errorf("unknown action id = %v, want forward", got)
	}
}

func TestProfileSwitchOnAppChange(t *testing.T) {
	e, s, rec := newTestEngine(t)
	if _, err := s.AddProfileForApp("chrome.exe"); err != nil {
		t.Fatal(err)
	}
	if err := s.SetMapping("chrome", ControlMiddle, "close_tab"); err != nil {
		t.Fatal(err)
	}
	if err := e.Start(); err != nil {
		t.Fatal(err)
	}
	defer e.Stop()

	e.OnAppChange("chrome.exe")
	if got := s.ActiveProfile(); got != "chrome" {
		t.Errorf("active profile = %q, want chrome", got)
	}
	e.Decide(pointerEvent{control: ControlMiddle, press: true})
	got := rec.wait(t, 1)
	if got[0] != "close_tab" {
		t.Errorf("dispatched %v, want close_tab", got)
	}

	e.OnAppChange("notepad.exe")
	if got := s.ActiveProfile(); got != catchAllProfile {
		t.Errorf("active profile = %q, want %q", got, catchAllProfile)
	}
	if got := e.Decide(pointerEvent{control: ControlMiddle, press: true}); got != verdictForward {
		t.Errorf("middle after switch = %v, want forward (unmapped)", got)
	}
}

func TestExplicitActivationRoutes(t *testing.T) {
	e, s, rec := newTestEngine(t)
	if _, err := s.AddProfileForApp("chrome.exe"); err != nil {
		t.Fatal(err)
	}
	if err := s.SetMapping("chrome", ControlMiddle, "close_tab"); err != nil {
		t.Fatal(err)
	}
	if err := e.Start(); err != nil {
		t.Fatal(err)
	}
	defer e.Stop()

	// Activation through the store (the settings API path) must reach
	// the routing snapshot, not just the persisted document.
	if err := s.SetActiveProfile("chrome"); err != nil {
		t.Fatal(err)
	}
	if got := e.Decide(pointerEvent{control: ControlMiddle, press: true}); got != verdictSuppress {
		t.Fatalf("middle after activation = %v, want suppress", got)
	}
	if got := rec.wait(t, 1); got[0] != "close_tab" {
		t.Errorf("dispatched %v, want close_tab", got)
	}

	// The next app change overrides the manual choice.
	e.OnAppChange("notepad.exe")
	if got := s.ActiveProfile(); got != catchAllProfile {
		t.Errorf("active profile = %q, want %q", got, catchAllProfile)
	}
	if got := e.Decide(pointerEvent{control: ControlMiddle, press: true}); got != verdictForward {
		t.Errorf("middle after app change = %v, want forward (unmapped)", got)
	}
}

func TestRouteSwapUnderConcurrentLookups(t *testing.T) {
	e, s, _ := newTestEngine(t)
	e.Exec = func(string) {}
	if err := e.Start(); err != nil {
		t.Fatal(err)
	}
	defer e.Stop()

	stop := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				v := e.Decide(pointerEvent{control: ControlBack, press: true})
				if v != verdictForward && v != verdictSuppress {
					t.Errorf("unexpected verdict %v", v)
					return
				}
			}
		}()
	}
	actions := []string{"alt_tab", ActionNone, "copy", ActionNone, "save"}
	for i := 0; i < 50; i++ {
		s.SetMapping(catchAllProfile, ControlBack, actions[i%len(actions)])
	}
	close(stop)
	wg.Wait()
}

func TestTierStateMachine(t *testing.T) {
	e, _, _ := newTestEngine(t)
	var fallbackStates []bool
	e.FallbackEnable = func(on bool) { fallbackStates = append(fallbackStates, on) }
	var tiers []string
	e.OnStatus = func(kind, detail string) {
		if kind == "tier" {
			tiers = append(tiers, detail)
		}
	}

	if e.Tier() != tierFeature {
		t.Fatalf("initial tier = %v, want feature", e.Tier())
	}
	// Failures below the threshold keep the feature tier.
	e.OnDriverAvailable(false)
	e.OnDriverAvailable(false)
	if e.Tier() != tierFeature {
		t.Errorf("tier dropped after %d failures", 2)
	}
	e.OnDriverAvailable(false)
	if e.Tier() != tierFallback {
		t.Errorf("tier = %v after %d failures, want fallback", e.Tier(), discoveryFailLimit)
	}
	// Any success climbs straight back and resets the counter.
	e.OnDriverAvailable(true)
	if e.Tier() != tierFeature {
		t.Errorf("tier = %v after reconnect, want feature", e.Tier())
	}
	e.OnDriverAvailable(false)
	if e.Tier() != tierFeature {
		t.Error("failure counter not reset by success")
	}

	if len(fallbackStates) != 2 || fallbackStates[0] != true || fallbackStates[1] != false {
		t.Errorf("fallback transitions = %v, want [true false]", fallbackStates)
	}
	if len(tiers) != 2 || tiers[0] != "fallback" || tiers[1] != "feature" {
		t.Errorf("tier notifications = %v", tiers)
	}
}

func TestTierNoneWithoutFallback(t *testing.T) {
	e, _, _ := newTestEngine(t)
	e.FallbackEnable = nil
	for i := 0; i < discoveryFailLimit; i++ {
		e.OnDriverAvailable(false)
	}
	if e.Tier() != tierNone {
		t.Errorf("tier = %v, want none", e.Tier())
	}
}

func TestDPIReadLandsInStore(t *testing.T) {
	e, s, _ := newTestEngine(t)
	driver := &fakeDriver{}
	e.Driver = driver
	if err := e.Start(); err != nil {
		t.Fatal(err)
	}
	defer e.Stop()
	e.OnDPIRead(1600)
	if got := s.Settings().DPI; got != 1600 {
		t.Errorf("DPI = %d, want 1600", got)
	}
	// The settings change notification relays the value to the device.
	if len(driver.dpiSet) == 0 || driver.dpiSet[len(driver.dpiSet)-1] != 1600 {
		t.Errorf("driver DPI calls = %v, want trailing 1600", driver.dpiSet)
	}
}
