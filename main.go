//go:build windows
// +build windows

package main

import (
	"log"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/sstallion/go-hid"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			if logger != nil {
				logger.Printf("[FATAL RECOVER] %v\n%s", r, debug.Stack())
			} else {
				log.Printf("[FATAL RECOVER] %v\n%s", r, debug.Stack())
			}
		}
	}()

	initPaths()
	os.MkdirAll(appDataDir, 0755)
	setupLogging()

	if err := hid.Init(); err != nil {
		if logger != nil {
			logger.Printf("[STARTUP] hid init failed: %v", err)
		}
	}
	defer hid.Exit()

	store = NewStore(configFile)
	if err := store.Load(); err != nil {
		if logger != nil {
			logger.Printf("[CONFIG] %v; starting from defaults", err)
		}
	}
	if err := store.Save(); err != nil {
		if logger != nil {
			logger.Printf("[CONFIG] save failed: %v", err)
		}
	}

	engine = NewEngine(store)

	driver := NewGestureDriver(defaultDriverConfig())
	driver.OnPress = func() { engine.OnGesture(true) }
	driver.OnRelease = func() { engine.OnGesture(false) }
	driver.OnAvailable = engine.OnDriverAvailable
	driver.OnDPI = engine.OnDPIRead

	rawOnGesture = engine.OnGesture

	engine.Hook = windowsHook{}
	engine.Driver = driver
	engine.Watcher = NewAppWatcher(foregroundExe, 300*time.Millisecond, engine.OnAppChange)
	engine.Exec = execAction
	engine.FallbackEnable = setFallbackEnabled

	applyStartWithWindows = setStartWithWindows
	statusToast = notifyStatus
	startNotifier()
	wireNotifications()

	if err := engine.Start(); err != nil {
		if logger != nil {
			logger.Printf("[STARTUP] %v", err)
		}
	}
	setStartWithWindows(store.Settings().StartWithWindows)

	listenAddr := defaultListenAddr
	if addr := os.Getenv("LOGICONTROL_ADDR"); addr != "" {
		listenAddr = addr
	}
	go startWebServer(listenAddr)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig
	if logger != nil {
		logger.Printf("[SHUTDOWN] signal received, stopping")
	}
	engine.Stop()
	stopNotifier()
}
