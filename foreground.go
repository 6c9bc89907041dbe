//go:build windows
// +build windows

package main

import (
	"path/filepath"
	"strings"
	"syscall"
	"unsafe"

	"github.com/lxn/win"
	"golang.org/x/sys/windows"
)

var (
	procEnumChildWindows = user32.NewProc("EnumChildWindows")
	procGetClassNameW    = user32.NewProc("GetClassNameW")
)

// foregroundExe returns the executable basename owning the foreground
// window, or "". UWP apps are hosted by ApplicationFrameHost.exe; the
// packaged process is resolved through its CoreWindow child.
func foregroundExe() string {
	hwnd := win.GetForegroundWindow()
	if hwnd == 0 {
		return ""
	}
	var pid uint32
	win.GetWindowThreadProcessId(hwnd, &pid)
	if pid == 0 {
		return ""
	}
	exe := exeFromPID(pid)
	if exe == "" {
		return ""
	}
	if strings.EqualFold(exe, "applicationframehost.exe") {
		if real := resolveUWPChild(hwnd, pid); real != "" {
			return real
		}
	}
	return exe
}

func exeFromPID(pid uint32) string {
	h, err := windows.OpenProcess(windows.PROCESS_QUERY_LIMITED_INFORMATION, false, pid)
	if err != nil {
		return ""
	}
	defer windows.CloseHandle(h)
	buf := make([]uint16, windows.MAX_PATH)
	size := uint32(len(buf))
	if err := windows.QueryFullProcessImageName(h, 0, &buf[0], &size); err != nil {
		return ""
	}
	return filepath.Base(windows.UTF16ToString(buf[:size]))
}

// UWP resolution state for the enumeration callback. Callbacks created
// with syscall.NewCallback are never released, so one lives at package
// level; only the watcher goroutine enumerates, so plain vars suffice.
var (
	uwpHostPID uint32
	uwpResult  string

	enumChildProcPtr = syscall.NewCallback(func(child, _ uintptr) uintptr {
		var cls [256]uint16
		procGetClassNameW.Call(child, uintptr(unsafe.Pointer(&cls[0])), uintptr(len(cls)))
		if syscall.UTF16ToString(cls[:]) != "Windows.UI.Core.CoreWindow" {
			return 1
		}
		var childPID uint32
		win.GetWindowThreadProcessId(win.HWND(child), &childPID)
		if childPID == 0 || childPID == uwpHostPID {
			return 1
		}
		if exe := exeFromPID(childPID); exe != "" {
			uwpResult = exe
			return 0
		}
		return 1
	})
)

// resolveUWPChild walks the host window's children for the CoreWindow
// belonging to a different process and returns that process's exe.
func resolveUWPChild(hwnd win.HWND, hostPID uint32) string {
	uwpHostPID = hostPID
	uwpResult = ""
	procEnumChildWindows.Call(uintptr(hwnd), enumChildProcPtr, 0)
	return uwpResult
}
