//go:build windows
// +build windows

package main

import (
	"errors"
	"runtime"
	"sync/atomic"
	"syscall"
	"time"
	"unsafe"

	"github.com/lxn/win"
	"golang.org/x/sys/windows"
)

const (
	whMouseLL = 14
	hcAction  = 0

	wmMouseWheel  = 0x020A
	wmXButtonDown = 0x020B
	wmXButtonUp   = 0x020C
	wmMouseHWheel = 0x020E
	wmMButtonDown = 0x0207
	wmMButtonUp   = 0x0208
	wmQuit        = 0x0012
	wmApp         = 0x8000

	// Deferred scroll-injection requests posted by the hook callback to
	// the hidden window; the pump thread drains the accumulators and
	// calls SendInput outside the hook.
	wmAppInjectVScroll = wmApp + 1
	wmAppInjectHScroll = wmApp + 2

	llmhfInjected = 0x00000001

	xButton1 = 1
	xButton2 = 2
)

type msllHookStruct struct {
	Pt          win.POINT
	MouseData   uint32
	Flags       uint32
	Time        uint32
	DwExtraInfo uintptr
}

var (
	user32                  = syscall.NewLazyDLL("user32.dll")
	procSetWindowsHookExW   = user32.NewProc("SetWindowsHookExW")
	procUnhookWindowsHookEx = user32.NewProc("UnhookWindowsHookEx")
	procCallNextHookEx      = user32.NewProc("CallNextHookEx")
	procPostThreadMessageW  = user32.NewProc("PostThreadMessageW")
)

// Hook state. The pump thread owns everything except the decision
// function pointer and the scroll accumulators.
var (
	hookDecide   func(pointerEvent) verdict
	hookHandle   uintptr
	hookWnd      win.HWND
	hookThreadID uint32
	hookRunning  atomic.Bool
	hookDoneCh   chan struct{}

	pendingVScroll int32 // atomic; accumulated inverted deltas
	pendingHScroll int32
	vScrollPosted  atomic.Bool
	hScrollPosted  atomic.Bool

	mouseHookProcPtr = syscall.NewCallback(mouseHookProc)
	hookWndProcPtr   = syscall.NewCallback(hookWndProc)
)

func hiword(v uint32) int16 {
	return int16(v >> 16)
}

// mouseHookProc is the WH_MOUSE_LL callback. It runs on the pump thread
// inside the OS's hook timeout budget, so it does nothing but classify,
// consult the decision function, and return.
func mouseHookProc(code int32, wParam, lParam uintptr) (ret uintptr) {
	defer func() {
		if r := recover(); r != nil {
			if logger != nil {
				logger.Printf("[HOOK] callback panic: %v", r)
			}
			ret, _, _ = procCallNextHookEx.Call(hookHandle, uintptr(code), wParam, lParam)
		}
	}()
	if code != hcAction || hookDecide == nil {
		ret, _, _ = procCallNextHookEx.Call(hookHandle, uintptr(code), wParam, lParam)
		return ret
	}
	ms := (*msllHookStruct)(unsafe.Pointer(lParam))
	if ms.Flags&llmhfInjected != 0 {
		ret, _, _ = procCallNextHookEx.Call(hookHandle, uintptr(code), wParam, lParam)
		return ret
	}

	var ev pointerEvent
	known := true
	switch wParam {
	case wmMButtonDown:
		ev = pointerEvent{control: ControlMiddle, press: true}
	case wmMButtonUp:
		ev = pointerEvent{control: ControlMiddle}
	case wmXButtonDown, wmXButtonUp:
		ev.press = wParam == wmXButtonDown
		switch hiword(ms.MouseData) {
		case xButton1:
			ev.control = ControlBack
		case xButton2:
			ev.control = ControlForward
		default:
			known = false
		}
	case wmMouseWheel:
		ev = pointerEvent{wheel: true, delta: int(hiword(ms.MouseData))}
	case wmMouseHWheel:
		ev = pointerEvent{wheel: true, horizontal: true, delta: int(hiword(ms.MouseData))}
	default:
		known = false
	}
	if !known {
		ret, _, _ = procCallNextHookEx.Call(hookHandle, uintptr(code), wParam, lParam)
		return ret
	}

	switch hookDecide(ev) {
	case verdictSuppress:
		return 1
	case verdictInvert:
		queueInvertedScroll(ev.horizontal, int32(-ev.delta))
		return 1
	}
	ret, _, _ = procCallNextHookEx.Call(hookHandle, uintptr(code), wParam, lParam)
	return ret
}

// queueInvertedScroll coalesces flipped deltas and makes sure exactly
// one injection request is in the queue per axis.
func queueInvertedScroll(horizontal bool, delta int32) {
	if delta == 0 || hookWnd == 0 {
		return
	}
	if horizontal {
		atomic.AddInt32(&pendingHScroll, delta)
		if hScrollPosted.CompareAndSwap(false, true) {
			win.PostMessage(hookWnd, wmAppInjectHScroll, 0, 0)
		}
	} else {
		atomic.AddInt32(&pendingVScroll, delta)
		if vScrollPosted.CompareAndSwap(false, true) {
			win.PostMessage(hookWnd, wmAppInjectVScroll, 0, 0)
		}
	}
}

func hookWndProc(hwnd win.HWND, msg uint32, wParam, lParam uintptr) uintptr {
	switch msg {
	case wmInput:
		handleRawInput(lParam)
		return 0
	case wmAppInjectVScroll:
		delta := atomic.SwapInt32(&pendingVScroll, 0)
		vScrollPosted.Store(false)
		if delta != 0 {
			injectScroll(false, int(delta))
		}
		return 0
	case wmAppInjectHScroll:
		delta := atomic.SwapInt32(&pendingHScroll, 0)
		hScrollPosted.Store(false)
		if delta != 0 {
			injectScroll(true, int(delta))
		}
		return 0
	}
	return win.DefWindowProc(hwnd, msg, wParam, lParam)
}

// windowsHook adapts the package-level hook to the engine's interface.
type windowsHook struct{}

// Install starts the pump thread, installs the low-level hook, and
// creates the hidden Raw Input window. Idempotent.
func (windowsHook) Install(decide func(pointerEvent) verdict) error {
	if !hookRunning.CompareAndSwap(false, true) {
		return nil
	}
	hookDecide = decide
	ready := make(chan error, 1)
	hookDoneCh = make(chan struct{})
	go hookPump(ready)
	if err := <-ready; err != nil {
		hookRunning.Store(false)
		return err
	}
	return nil
}

// Uninstall stops the pump thread by posting WM_QUIT; the hook is
// removed on its own thread. Idempotent.
func (windowsHook) Uninstall() {
	if !hookRunning.CompareAndSwap(true, false) {
		return
	}
	procPostThreadMessageW.Call(uintptr(hookThreadID), wmQuit, 0, 0)
	select {
	case <-hookDoneCh:
	case <-time.After(3 * time.Second):
		if logger != nil {
			logger.Printf("[HOOK] pump thread did not exit in time")
		}
	}
}

func hookPump(ready chan<- error) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	defer close(hookDoneCh)

	hookThreadID = windows.GetCurrentThreadId()

	h, _, err := procSetWindowsHookExW.Call(whMouseLL, mouseHookProcPtr, 0, 0)
	if h == 0 {
		ready <- errors.New("SetWindowsHookEx: " + err.Error())
		return
	}
	hookHandle = h
	if logger != nil {
		logger.Printf("[HOOK] Low-level mouse hook installed (thread=%d)", hookThreadID)
	}

	// The hidden window carries Raw Input and the deferred scroll
	// injections. Its absence loses the fallback tier and inversion,
	// not the hook.
	if wnd, err := createHookWindow(); err != nil {
		if logger != nil {
			logger.Printf("[HOOK] hidden window unavailable: %v", err)
		}
	} else {
		hookWnd = wnd
		registerRawInput(uintptr(wnd))
	}

	ready <- nil

	var msg win.MSG
	for {
		r := win.GetMessage(&msg, 0, 0, 0)
		if r == 0 || r == -1 {
			break
		}
		win.TranslateMessage(&msg)
		win.DispatchMessage(&msg)
	}

	if hookWnd != 0 {
		win.DestroyWindow(hookWnd)
		hookWnd = 0
	}
	procUnhookWindowsHookEx.Call(hookHandle)
	hookHandle = 0
	hookDecide = nil
	if logger != nil {
		logger.Printf("[HOOK] Low-level mouse hook removed")
	}
}

func createHookWindow() (win.HWND, error) {
	hInst := win.GetModuleHandle(nil)
	className, _ := syscall.UTF16PtrFromString("LogiControlRawInput")
	var wc win.WNDCLASSEX
	wc.CbSize = uint32(unsafe.Sizeof(wc))
	wc.LpfnWndProc = hookWndProcPtr
	wc.HInstance = hInst
	wc.LpszClassName = className
	// Registration can fail if the class survived a previous instance;
	// window creation is the real test.
	win.RegisterClassEx(&wc)

	title, _ := syscall.UTF16PtrFromString("LogiControl RI")
	wnd := win.CreateWindowEx(0, className, title, 0, 0, 0, 1, 1, 0, 0, hInst, nil)
	if wnd == 0 {
		return 0, errors.New("CreateWindowEx failed")
	}
	return wnd, nil
}
