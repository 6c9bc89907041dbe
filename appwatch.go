package main

import "time"

// AppWatcher polls a probe for the foreground executable name and fires
// a callback when it changes. A new name must survive two consecutive
// polls before it is reported, so brief focus flicker (alt-tab overlays,
// transient popups) does not thrash profile switching.
type AppWatcher struct {
	Probe    func() string
	Interval time.Duration
	OnChange func(exe string)

	stopCh chan struct{}
	done   chan struct{}
}

func NewAppWatcher(probe func() string, interval time.Duration, onChange func(string)) *AppWatcher {
	if interval <= 0 {
		interval = 300 * time.Millisecond
	}
	return &AppWatcher{
		Probe:    probe,
		Interval: interval,
		OnChange: onChange,
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}
}

func (w *AppWatcher) Start() {
	go w.run()
}

func (w *AppWatcher) Stop() {
	select {
	case <-w.stopCh:
	default:
		close(w.stopCh)
	}
	<-w.done
}

func (w *AppWatcher) run() {
	defer close(w.done)
	ticker := time.NewTicker(w.Interval)
	defer ticker.Stop()
	reported := ""
	candidate := ""
	for {
		select {
		case <-w.stopCh:
			return
		case <-ticker.C:
		}
		exe := w.Probe()
		if exe == reported {
			candidate = ""
			continue
		}
		if exe != candidate {
			candidate = exe
			continue
		}
		reported = exe
		candidate = ""
		if logger != nil {
			logger.Printf("[APP] Foreground app: %s", exe)
		}
		if w.OnChange != nil {
			w.OnChange(exe)
		}
	}
}
