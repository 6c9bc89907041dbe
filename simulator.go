//go:build windows
// +build windows

package main

import (
	"unsafe"

	"github.com/lxn/win"
)

// execAction synthesizes the key recipe for an action: every key pressed
// in order, then released in reverse, in a single SendInput batch.
// Pass-through and unknown ids are no-ops.
func execAction(actionID string) {
	action, ok := actionByID(actionID)
	if !ok || len(action.Keys) == 0 {
		return
	}
	inputs := make([]win.KEYBD_INPUT, 0, len(action.Keys)*2)
	for _, vk := range action.Keys {
		inputs = append(inputs, keyInput(vk, 0))
	}
	for i := len(action.Keys) - 1; i >= 0; i-- {
		inputs = append(inputs, keyInput(action.Keys[i], win.KEYEVENTF_KEYUP))
	}
	sent := win.SendInput(uint32(len(inputs)), unsafe.Pointer(&inputs[0]), int32(unsafe.Sizeof(inputs[0])))
	if sent != uint32(len(inputs)) && logger != nil {
		logger.Printf("[SIM] SendInput sent %d/%d for %q", sent, len(inputs), actionID)
	}
}

func keyInput(vk uint16, flags uint32) win.KEYBD_INPUT {
	if extendedKeys[vk] {
		flags |= win.KEYEVENTF_EXTENDEDKEY
	}
	var in win.KEYBD_INPUT
	in.Type = win.INPUT_KEYBOARD
	in.Ki.WVk = vk
	in.Ki.DwFlags = flags
	return in
}

// injectScroll synthesizes one wheel event. Injected events carry the
// injected flag, so the hook callback will not see them again.
func injectScroll(horizontal bool, delta int) {
	var in win.MOUSE_INPUT
	in.Type = win.INPUT_MOUSE
	in.Mi.MouseData = uint32(int32(delta))
	if horizontal {
		in.Mi.DwFlags = win.MOUSEEVENTF_HWHEEL
	} else {
		in.Mi.DwFlags = win.MOUSEEVENTF_WHEEL
	}
	win.SendInput(1, unsafe.Pointer(&in), int32(unsafe.Sizeof(in)))
}
