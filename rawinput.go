//go:build windows
// +build windows

package main

import (
	"strings"
	"sync/atomic"
	"syscall"
	"unsafe"
)

const (
	wmInput = 0x00FF

	ridInput       = 0x10000003
	rideVInputSink = 0x00000100
	ridiDeviceName = 0x20000007

	rimTypeMouse = 0

	// The first five bits of ulRawButtons are the standard buttons;
	// anything above them is an extra control like the gesture button.
	standardButtonMask = 0x1F
)

type rawInputDevice struct {
	UsagePage uint16
	Usage     uint16
	Flags     uint32
	Target    uintptr
}

type rawInputHeader struct {
	Type    uint32
	Size    uint32
	HDevice uintptr
	WParam  uintptr
}

type rawMouse struct {
	Flags      uint16
	Buttons    uint32
	RawButtons uint32
	LastX      int32
	LastY      int32
	ExtraInfo  uint32
}

var (
	procRegisterRawInputDevices = user32.NewProc("RegisterRawInputDevices")
	procGetRawInputData         = user32.NewProc("GetRawInputData")
	procGetRawInputDeviceInfoW  = user32.NewProc("GetRawInputDeviceInfoW")
)

// Fallback detector state. The WM_INPUT handler runs on the pump
// thread; only the enable flag and the gesture callback are shared.
var (
	rawEnabled   atomic.Bool
	rawOnGesture func(press bool)

	rawPrevButtons = map[uintptr]uint32{}
	rawNameCache   = map[uintptr]string{}
)

// setFallbackEnabled is the engine's tier switch. Registration stays in
// place either way; disabled input is simply ignored.
func setFallbackEnabled(enabled bool) {
	rawEnabled.Store(enabled)
	if logger != nil {
		logger.Printf("[RAW] Fallback gesture detection enabled=%v", enabled)
	}
}

// registerRawInput subscribes the hidden window to the collections the
// gesture button can surface on. Registration is all-or-nothing per
// call, so it degrades from the full set to mice only.
func registerRawInput(wnd uintptr) bool {
	rid := []rawInputDevice{
		{UsagePage: 0x01, Usage: 0x02, Flags: rideVInputSink, Target: wnd},   // all mice, for ulRawButtons
		{UsagePage: 0xFF43, Usage: 0x0202, Flags: rideVInputSink, Target: wnd}, // HID++ short
		{UsagePage: 0xFF43, Usage: 0x0204, Flags: rideVInputSink, Target: wnd}, // HID++ long
		{UsagePage: 0x0C, Usage: 0x01, Flags: rideVInputSink, Target: wnd},   // consumer controls
	}
	for _, n := range []int{4, 2, 1} {
		ok, _, _ := procRegisterRawInputDevices.Call(
			uintptr(unsafe.Pointer(&rid[0])),
			uintptr(n),
			unsafe.Sizeof(rid[0]),
		)
		if ok != 0 {
			if logger != nil {
				logger.Printf("[RAW] Registered %d Raw Input collection(s)", n)
			}
			return true
		}
	}
	if logger != nil {
		logger.Printf("[RAW] Raw Input registration failed")
	}
	return false
}

// handleRawInput parses one WM_INPUT message and edge-detects extra
// button bits on Logitech mice.
func handleRawInput(lParam uintptr) {
	if !rawEnabled.Load() {
		return
	}
	headerSize := uint32(unsafe.Sizeof(rawInputHeader{}))
	var size uint32
	procGetRawInputData.Call(lParam, ridInput, 0, uintptr(unsafe.Pointer(&size)), uintptr(headerSize))
	if size == 0 {
		return
	}
	buf := make([]byte, size)
	n, _, _ := procGetRawInputData.Call(lParam, ridInput,
		uintptr(unsafe.Pointer(&buf[0])), uintptr(unsafe.Pointer(&size)), uintptr(headerSize))
	if n == ^uintptr(0) {
		return
	}
	header := (*rawInputHeader)(unsafe.Pointer(&buf[0]))
	if header.Type != rimTypeMouse || !isLogitechDevice(header.HDevice) {
		return
	}
	if uint32(len(buf)) < headerSize+uint32(unsafe.Sizeof(rawMouse{})) {
		return
	}
	mouse := (*rawMouse)(unsafe.Pointer(&buf[headerSize]))

	prev := rawPrevButtons[header.HDevice]
	rawPrevButtons[header.HDevice] = mouse.RawButtons

	extraNow := mouse.RawButtons &^ standardButtonMask
	extraPrev := prev &^ standardButtonMask
	if extraNow == extraPrev {
		return
	}
	if rawOnGesture == nil {
		return
	}
	if extraNow != 0 && extraPrev == 0 {
		if logger != nil {
			logger.Printf("[RAW] Gesture DOWN (extra bits 0x%X)", extraNow)
		}
		rawOnGesture(true)
	} else if extraNow == 0 && extraPrev != 0 {
		if logger != nil {
			logger.Printf("[RAW] Gesture UP")
		}
		rawOnGesture(false)
	}
}

func isLogitechDevice(hDevice uintptr) bool {
	if name, ok := rawNameCache[hDevice]; ok {
		return strings.Contains(strings.ToLower(name), "046d")
	}
	var size uint32
	procGetRawInputDeviceInfoW.Call(hDevice, ridiDeviceName, 0, uintptr(unsafe.Pointer(&size)))
	name := ""
	if size > 0 {
		buf := make([]uint16, size+1)
		procGetRawInputDeviceInfoW.Call(hDevice, ridiDeviceName,
			uintptr(unsafe.Pointer(&buf[0])), uintptr(unsafe.Pointer(&size)))
		name = syscall.UTF16ToString(buf)
	}
	rawNameCache[hDevice] = name
	return strings.Contains(strings.ToLower(name), "046d")
}
