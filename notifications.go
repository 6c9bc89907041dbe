//go:build windows
// +build windows

package main

import (
	"runtime"
	"sync"
	"syscall"
	"time"
	"unsafe"

	"github.com/lxn/win"
)

// Transient balloon notifications for status changes the user should see
// without opening the settings page: gesture tier transitions and a
// failed hook install. Each status key is debounced so a flapping device
// does not spam the tray.

var notifCooloff = time.Minute

var (
	notifWnd   win.HWND
	notifIcon  win.NOTIFYICONDATA
	notifMu    sync.Mutex
	notifReady = make(chan struct{})

	notifLastMu sync.Mutex
	notifLast   = map[string]time.Time{}

	notifWndProcPtr = syscall.NewCallback(func(hwnd win.HWND, msg uint32, wParam, lParam uintptr) uintptr {
		if msg == win.WM_DESTROY {
			win.PostQuitMessage(0)
			return 0
		}
		return win.DefWindowProc(hwnd, msg, wParam, lParam)
	})
)

// startNotifier creates the tray icon on its own pump thread. The icon
// exists only to host balloons; it has no menu and no callback message.
func startNotifier() {
	go notifierLoop()
	select {
	case <-notifReady:
	case <-time.After(2 * time.Second):
		if logger != nil {
			logger.Printf("[NOTIF] tray icon not ready, balloons disabled")
		}
	}
}

func notifierLoop() {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	hInst := win.GetModuleHandle(nil)
	className, _ := syscall.UTF16PtrFromString("LogiControlTray")
	var wc win.WNDCLASSEX
	wc.CbSize = uint32(unsafe.Sizeof(wc))
	wc.LpfnWndProc = notifWndProcPtr
	wc.HInstance = hInst
	wc.LpszClassName = className
	win.RegisterClassEx(&wc)

	windowName, _ := syscall.UTF16PtrFromString("LogiControl Tray")
	wnd := win.CreateWindowEx(0, className, windowName, 0, 0, 0, 0, 0, 0, 0, hInst, nil)
	if wnd == 0 {
		if logger != nil {
			logger.Printf("[NOTIF] tray window creation failed")
		}
		return
	}

	notifMu.Lock()
	notifWnd = wnd
	notifIcon = win.NOTIFYICONDATA{}
	notifIcon.CbSize = uint32(unsafe.Sizeof(notifIcon))
	notifIcon.HWnd = wnd
	notifIcon.UID = 1
	notifIcon.UFlags = win.NIF_ICON | win.NIF_TIP
	notifIcon.HIcon = win.LoadIcon(0, win.MAKEINTRESOURCE(win.IDI_APPLICATION))
	tip, _ := syscall.UTF16FromString("LogiControl")
	copy(notifIcon.SzTip[:], tip)
	win.Shell_NotifyIcon(win.NIM_ADD, &notifIcon)
	notifMu.Unlock()
	close(notifReady)

	var msg win.MSG
	for {
		r := win.GetMessage(&msg, 0, 0, 0)
		if r == 0 || r == -1 {
			break
		}
		win.TranslateMessage(&msg)
		win.DispatchMessage(&msg)
	}
}

// stopNotifier removes the tray icon and ends the pump thread.
func stopNotifier() {
	notifMu.Lock()
	wnd := notifWnd
	if wnd != 0 {
		win.Shell_NotifyIcon(win.NIM_DELETE, &notifIcon)
		notifWnd = 0
	}
	notifMu.Unlock()
	if wnd != 0 {
		win.PostMessage(wnd, win.WM_CLOSE, 0, 0)
	}
}

func sendNotification(title, message string, warning bool) {
	infoTitle, _ := syscall.UTF16FromString(title)
	infoText, _ := syscall.UTF16FromString(message)

	notifMu.Lock()
	defer notifMu.Unlock()
	if notifWnd == 0 {
		return
	}
	notifIcon.UFlags = win.NIF_INFO
	if warning {
		notifIcon.DwInfoFlags = win.NIIF_WARNING
	} else {
		notifIcon.DwInfoFlags = win.NIIF_INFO
	}
	for i := range notifIcon.SzInfoTitle {
		notifIcon.SzInfoTitle[i] = 0
	}
	for i := range notifIcon.SzInfo {
		notifIcon.SzInfo[i] = 0
	}
	copy(notifIcon.SzInfoTitle[:], infoTitle)
	copy(notifIcon.SzInfo[:], infoText)
	win.Shell_NotifyIcon(win.NIM_MODIFY, &notifIcon)

	notifIcon.UFlags = win.NIF_ICON | win.NIF_TIP
	win.Shell_NotifyIcon(win.NIM_MODIFY, &notifIcon)
}

// statusNotification maps an engine status to the balloon to show for
// it. Statuses without a user-facing message (dpi reads, the enable
// toggle) return ok=false.
func statusNotification(kind, detail string) (title, message string, warning, ok bool) {
	switch kind {
	case "tier":
		switch detail {
		case "fallback":
			return "Gesture button", "Using fallback detection for the gesture button.", false, true
		case "none":
			return "Gesture button unavailable", "No gesture source detected. Check the device connection.", true, true
		case "feature":
			return "Gesture button connected", "Gesture diversion is active.", false, true
		}
		return "", "", false, false
	case "hook":
		return "Button interception unavailable", "Remapping is limited to the gesture button.", true, true
	}
	return "", "", false, false
}

// toastDue reports whether a status key is past its debounce window and
// stamps it if so.
func toastDue(key string, now time.Time) bool {
	notifLastMu.Lock()
	defer notifLastMu.Unlock()
	if last, ok := notifLast[key]; ok && now.Sub(last) < notifCooloff {
		return false
	}
	notifLast[key] = now
	return true
}

// notifyStatus is wired as the engine's status toast sink.
func notifyStatus(kind, detail string) {
	title, message, warning, ok := statusNotification(kind, detail)
	if !ok {
		return
	}
	if !toastDue(kind+":"+detail, time.Now()) {
		return
	}
	if logger != nil {
		logger.Printf("[NOTIF] %s: %s", title, message)
	}
	go sendNotification(title, message, warning)
}
