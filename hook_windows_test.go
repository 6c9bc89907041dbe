//go:build windows
// +build windows

package main

import (
	"sync/atomic"
	"testing"

	"github.com/lxn/win"
)

func TestHiword(t *testing.T) {
	tests := []struct {
		name string
		data uint32
		want int16
	}{
		{"wheel up", 0x00780000, 120},
		{"wheel down", 0xFF880000, -120},
		{"xbutton1", 0x00010000, 1},
		{"xbutton2", 0x00020000, 2},
		{"zero", 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := hiword(tt.data); got != tt.want {
				t.Errorf("hiword(%#x) = %d, want %d", tt.data, got, tt.want)
			}
		})
	}
}

func TestQueueInvertedScrollCoalesces(t *testing.T) {
	oldWnd := hookWnd
	defer func() {
		hookWnd = oldWnd
		atomic.StoreInt32(&pendingVScroll, 0)
		vScrollPosted.Store(false)
	}()
	// A bogus handle: PostMessage fails quietly, the accumulator still
	// has to gather every delta behind a single pending post.
	hookWnd = win.HWND(1)
	atomic.StoreInt32(&pendingVScroll, 0)
	vScrollPosted.Store(false)

	queueInvertedScroll(false, 120)
	queueInvertedScroll(false, 120)
	queueInvertedScroll(false, -120)

	if got := atomic.LoadInt32(&pendingVScroll); got != 120 {
		t.Errorf("pendingVScroll = %d, want 120", got)
	}
	if !vScrollPosted.Load() {
		t.Error("injection request not marked pending")
	}

	// Drain the way the window proc does, then the next delta must
	// arm a fresh post.
	atomic.SwapInt32(&pendingVScroll, 0)
	vScrollPosted.Store(false)
	queueInvertedScroll(false, 240)
	if got := atomic.LoadInt32(&pendingVScroll); got != 240 {
		t.Errorf("pendingVScroll after drain = %d, want 240", got)
	}
}

func TestQueueInvertedScrollIgnoresZeroAndNoWindow(t *testing.T) {
	oldWnd := hookWnd
	defer func() { hookWnd = oldWnd }()

	hookWnd = 0
	atomic.StoreInt32(&pendingHScroll, 0)
	hScrollPosted.Store(false)
	queueInvertedScroll(true, 120)
	if atomic.LoadInt32(&pendingHScroll) != 0 {
		t.Error("delta accumulated without a target window")
	}

	hookWnd = win.HWND(1)
	queueInvertedScroll(true, 0)
	if hScrollPosted.Load() {
		t.Error("zero delta armed an injection request")
	}
}

func TestKeyInput(t *testing.T) {
	in := keyInput(vkControl, 0)
	if in.Type != win.INPUT_KEYBOARD || in.Ki.WVk != vkControl {
		t.Errorf("keyInput(ctrl) = type %d vk %#x", in.Type, in.Ki.WVk)
	}
	if in.Ki.DwFlags != 0 {
		t.Errorf("ctrl flags = %#x, want 0", in.Ki.DwFlags)
	}

	up := keyInput(vkBrowserBack, win.KEYEVENTF_KEYUP)
	if up.Ki.DwFlags&win.KEYEVENTF_KEYUP == 0 {
		t.Error("keyup flag lost")
	}
	if up.Ki.DwFlags&win.KEYEVENTF_EXTENDEDKEY == 0 {
		t.Error("browser back not marked extended")
	}
}
