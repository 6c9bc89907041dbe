package main

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
)

// pointerEvent is the hook's classification of one intercepted OS event.
// Button events carry control+press; wheel events carry axis+delta.
type pointerEvent struct {
	control    ControlKey
	press      bool
	wheel      bool
	horizontal bool
	delta      int
}

// verdict is the decision returned to the hook callback. Invert tells
// the hook to swallow the wheel event and queue the flipped delta for
// asynchronous reinjection.
type verdict int

const (
	verdictForward verdict = iota
	verdictSuppress
	verdictInvert
)

type engineState int32

const (
	engineStopped engineState = iota
	engineStarting
	engineRunning
	engineDisabled
	engineStopping
)

func (s engineState) String() string {
	switch s {
	case engineStopped:
		return "stopped"
	case engineStarting:
		return "starting"
	case engineRunning:
		return "running"
	case engineDisabled:
		return "disabled"
	case engineStopping:
		return "stopping"
	}
	return "unknown"
}

// gestureTier names which source currently delivers gesture events.
type gestureTier int32

const (
	tierFeature  gestureTier = iota // HID++ diversion notifications
	tierFallback                    // Raw Input extra-button bits
	tierNone                        // no gesture source
)

func (t gestureTier) String() string {
	switch t {
	case tierFeature:
		return "feature"
	case tierFallback:
		return "fallback"
	}
	return "none"
}

// discoveryFailLimit is how many consecutive failed discovery sweeps the
// feature tier gets before the engine drops to the fallback detector.
const discoveryFailLimit = 3

// routeTable is an immutable routing snapshot. The hook callback and the
// gesture handlers read it through an atomic pointer and never lock.
type routeTable struct {
	enabled bool
	profile string
	actions map[ControlKey]string // resolved; unknown ids already collapsed to pass-through
	invertV bool
	invertH bool

	// Aliasing between the gesture button and the middle button when
	// exactly one of the two is mapped. Without diversion the gesture
	// button surfaces as a plain middle click, and with diversion a
	// suppressed middle mapping would orphan gesture-only events.
	middleFiresGesture bool // physical middle click runs the gesture action
	gestureFiresMiddle bool // diverted gesture event runs the middle action
}

type hookController interface {
	Install(decide func(pointerEvent) verdict) error
	Uninstall()
}

type gestureSource interface {
	Start()
	Stop()
	SetDPI(int)
	RequestDPIRead()
}

type appSource interface {
	Start()
	Stop()
}

var errHookInstall = errors.New("input hook install failed")

// Engine wires the hook, the feature driver, the fallback detector, and
// the app watcher to the mapping store, and owns the routing snapshot.
type Engine struct {
	store *Store

	// Collaborators; any may be nil (tests wire a subset, and the hook
	// may be absent after an install failure).
	Hook           hookController
	Driver         gestureSource
	Watcher        appSource
	Exec           func(actionID string)
	FallbackEnable func(bool)
	OnStatus       func(kind, detail string)

	mu             sync.Mutex
	state          engineState
	currentApp     string
	tier           gestureTier
	discoveryFails int
	hookInstalled  bool

	route        atomic.Pointer[routeTable]
	gestureHeld  atomic.Bool
	dispatch     chan string
	dispatchQuit chan struct{}
	workerWG     sync.WaitGroup
}

func NewEngine(store *Store) *Engine {
	e := &Engine{
		store:    store,
		dispatch: make(chan string, 64),
	}
	e.route.Store(&routeTable{actions: map[ControlKey]string{}})
	// Registered once here; Start/Stop cycles must not stack duplicate
	// callbacks.
	store.RegisterChangeCallback(e.onStoreChange)
	return e
}

func (e *Engine) State() engineState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

func (e *Engine) Tier() gestureTier {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.tier
}

func (e *Engine) CurrentApp() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.currentApp
}

func (e *Engine) status(kind, detail string) {
	if e.OnStatus != nil {
		e.OnStatus(kind, detail)
	}
}

// Start brings the engine to running. A hook install failure is not
// fatal: the engine keeps running in pass-through for hook-sourced
// controls while the gesture tiers still work.
func (e *Engine) Start() error {
	e.mu.Lock()
	if e.state != engineStopped {
		e.mu.Unlock()
		return fmt.Errorf("engine not stopped (state=%s)", e.state)
	}
	e.state = engineStarting
	e.mu.Unlock()

	e.rebuildRoute()

	e.dispatchQuit = make(chan struct{})
	e.workerWG.Add(1)
	go e.dispatchWorker()

	var hookErr error
	if e.Hook != nil {
		if err := e.Hook.Install(e.Decide); err != nil {
			hookErr = fmt.Errorf("%w: %v", errHookInstall, err)
			if logger != nil {
				logger.Printf("[ENGINE] %v; continuing without button interception", hookErr)
			}
			e.status("hook", hookErr.Error())
		} else {
			e.mu.Lock()
			e.hookInstalled = true
			e.mu.Unlock()
		}
	}
	if e.Driver != nil {
		e.Driver.Start()
	}
	if e.Watcher != nil {
		e.Watcher.Start()
	}

	e.mu.Lock()
	e.state = engineRunning
	e.mu.Unlock()
	if logger != nil {
		logger.Printf("[ENGINE] Running (hook=%v)", hookErr == nil)
	}
	return hookErr
}

// Stop reverses Start: hook first so no new OS events arrive, then the
// gesture sources, then the dispatch worker.
func (e *Engine) Stop() {
	e.mu.Lock()
	if e.state == engineStopped || e.state == engineStopping {
		e.mu.Unlock()
		return
	}
	e.state = engineStopping
	installed := e.hookInstalled
	e.hookInstalled = false
	e.mu.Unlock()

	if installed && e.Hook != nil {
		e.Hook.Uninstall()
	}
	if e.Watcher != nil {
		e.Watcher.Stop()
	}
	if e.Driver != nil {
		e.Driver.Stop()
	}
	if e.FallbackEnable != nil {
		e.FallbackEnable(false)
	}
	// The dispatch channel itself is never closed: a straggler gesture
	// from a source that outlived its Stop bound must never panic on a
	// closed-channel send. The worker exits through the quit channel
	// and leftovers are drained, not executed.
	close(e.dispatchQuit)
	e.workerWG.Wait()
	for len(e.dispatch) > 0 {
		<-e.dispatch
	}

	e.mu.Lock()
	e.state = engineStopped
	e.mu.Unlock()
	e.rebuildRoute()
	if logger != nil {
		logger.Printf("[ENGINE] Stopped")
	}
}

// SetEnabled flips remapping on or off. This is routing state only:
// nothing is torn down, the next snapshot simply forwards everything.
func (e *Engine) SetEnabled(enabled bool) {
	e.mu.Lock()
	switch {
	case enabled && e.state == engineDisabled:
		e.state = engineRunning
	case !enabled && e.state == engineRunning:
		e.state = engineDisabled
	default:
		e.mu.Unlock()
		return
	}
	e.mu.Unlock()
	e.rebuildRoute()
	e.status("enabled", fmt.Sprintf("%v", enabled))
	if logger != nil {
		logger.Printf("[ENGINE] Remapping enabled=%v", enabled)
	}
}

func (e *Engine) Enabled() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state == engineRunning || e.state == engineStarting
}

// OnAppChange is the watcher callback. Profile switching is a snapshot
// rebuild; the hook and the device session are untouched.
func (e *Engine) OnAppChange(exe string) {
	e.mu.Lock()
	e.currentApp = exe
	e.mu.Unlock()
	name := e.store.ProfileForApp(exe)
	if err := e.store.SetActiveProfile(name); err != nil {
		if logger != nil {
			logger.Printf("[ENGINE] activate profile %q: %v", name, err)
		}
	}
	e.rebuildRoute()
}

// onStoreChange reacts to committed store mutations.
func (e *Engine) onStoreChange(what string) {
	e.rebuildRoute()
	if what == "settings" && e.Driver != nil {
		e.Driver.SetDPI(e.store.Settings().DPI)
	}
}

// OnDriverAvailable is the feature driver's availability callback and
// the whole of the tier state machine. Repeated discovery failures drop
// to the fallback detector; any success climbs back to the feature tier.
func (e *Engine) OnDriverAvailable(ok bool) {
	e.mu.Lock()
	prev := e.tier
	if ok {
		e.discoveryFails = 0
		e.tier = tierFeature
	} else {
		e.discoveryFails++
		if e.discoveryFails >= discoveryFailLimit {
			if e.FallbackEnable != nil {
				e.tier = tierFallback
			} else {
				e.tier = tierNone
			}
		}
	}
	tier := e.tier
	e.mu.Unlock()
	if tier == prev {
		return
	}
	if e.FallbackEnable != nil {
		e.FallbackEnable(tier == tierFallback)
	}
	if logger != nil {
		logger.Printf("[ENGINE] Gesture tier: %s -> %s", prev, tier)
	}
	e.status("tier", tier.String())
}

// OnDPIRead is the driver's async DPI report; it lands in the store so
// the settings view reflects the sensor.
func (e *Engine) OnDPIRead(dpi int) {
	if err := e.store.SetDPI(dpi); err != nil {
		if logger != nil {
			logger.Printf("[ENGINE] record DPI %d: %v", dpi, err)
		}
		return
	}
	e.status("dpi", fmt.Sprintf("%d", dpi))
}

// rebuildRoute computes a fresh snapshot from the store and swaps it in.
// Routing follows the store's active profile: app changes keep it
// aligned with the foreground app, and an explicit activation holds
// until the next app change. Writers serialize on the engine mutex;
// readers see either the old or the new table, never a partial one.
func (e *Engine) rebuildRoute() {
	e.mu.Lock()
	defer e.mu.Unlock()

	name := e.store.ActiveProfile()
	profile, ok := e.store.Profile(name)
	if !ok {
		profile, _ = e.store.Profile(catchAllProfile)
	}
	settings := e.store.Settings()

	rt := &routeTable{
		enabled: e.state == engineRunning || e.state == engineStarting,
		profile: profile.Name,
		actions: make(map[ControlKey]string, len(controlKeys)),
		invertV: settings.InvertVScroll,
		invertH: settings.InvertHScroll,
	}
	for _, c := range controlKeys {
		id := profile.Mappings[c]
		if !isKnownAction(id) {
			id = ActionNone
		}
		rt.actions[c] = id
	}
	gestureMapped := rt.actions[ControlGesture] != ActionNone
	middleMapped := rt.actions[ControlMiddle] != ActionNone
	rt.middleFiresGesture = gestureMapped && !middleMapped
	rt.gestureFiresMiddle = middleMapped && !gestureMapped

	e.route.Store(rt)
}

// Decide is the hook's decision function. It must stay cheap and never
// block: one atomic load, map lookups, and a non-blocking channel send.
func (e *Engine) Decide(ev pointerEvent) verdict {
	rt := e.route.Load()
	if !rt.enabled {
		return verdictForward
	}
	if ev.wheel {
		if !ev.horizontal {
			if rt.invertV {
				return verdictInvert
			}
			return verdictForward
		}
		if rt.invertH {
			return verdictInvert
		}
		// Horizontal notches are mappable controls. Positive delta is a
		// physical left tilt on this hardware.
		control := ControlHScrollRight
		if ev.delta > 0 {
			control = ControlHScrollLeft
		}
		if action := rt.actions[control]; action != ActionNone {
			e.enqueue(action)
			return verdictSuppress
		}
		return verdictForward
	}
	action := rt.actions[ev.control]
	if ev.control == ControlMiddle && rt.middleFiresGesture {
		action = rt.actions[ControlGesture]
	}
	if action == ActionNone {
		return verdictForward
	}
	if ev.press {
		e.enqueue(action)
	}
	// The release is suppressed too so the foreground app never sees a
	// button-up without its button-down.
	return verdictSuppress
}

// OnGesture handles press/release events from the feature driver or the
// fallback detector. Both sources feed the same edge dedup so an overlap
// during a tier transition cannot double-fire. There is no OS event to
// suppress here; the action simply fires on press.
func (e *Engine) OnGesture(press bool) {
	if press {
		if !e.gestureHeld.CompareAndSwap(false, true) {
			return
		}
	} else {
		e.gestureHeld.CompareAndSwap(true, false)
		return
	}
	rt := e.route.Load()
	if !rt.enabled {
		return
	}
	action := rt.actions[ControlGesture]
	if action == ActionNone && rt.gestureFiresMiddle {
		action = rt.actions[ControlMiddle]
	}
	if action == ActionNone {
		return
	}
	e.enqueue(action)
}

func (e *Engine) enqueue(action string) {
	select {
	case e.dispatch <- action:
	default:
		if logger != nil {
			logger.Printf("[ENGINE] Dispatch queue full, dropping %q", action)
		}
	}
}

// dispatchWorker serializes action execution off the hook thread.
// Per-control ordering is the channel's FIFO order.
func (e *Engine) dispatchWorker() {
	defer e.workerWG.Done()
	for {
		var action string
		select {
		case <-e.dispatchQuit:
			return
		case action = <-e.dispatch:
		}
		if e.Exec == nil {
			continue
		}
		func() {
			defer func() {
				if r := recover(); r != nil {
					if logger != nil {
						logger.Printf("[ENGINE] Action %q panicked: %v", action, r)
					}
				}
			}()
			e.Exec(action)
		}()
	}
}
