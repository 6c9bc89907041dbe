//go:build windows
// +build windows

package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	ole "github.com/go-ole/go-ole"
	"github.com/go-ole/go-ole/oleutil"
)

const startupAppName = "LogiControl"

func startupShortcutPath(appName string) string {
	return filepath.Join(
		os.Getenv("APPDATA"),
		`Microsoft\Windows\Start Menu\Programs\Startup`,
		appName+".lnk",
	)
}

func createStartupShortcut(appName, exePath, args string) error {
	startupDir := filepath.Dir(startupShortcutPath(appName))
	if err := os.MkdirAll(startupDir, 0755); err != nil {
		return err
	}

	linkPath := startupShortcutPath(appName)

	if err := ole.CoInitialize(0); err != nil {
		return fmt.Errorf("CoInitialize failed: %v", err)
	}
	defer ole.CoUninitialize()

	shellObj, err := oleutil.CreateObject("WScript.Shell")
	if err != nil {
		return fmt.Errorf("CreateObject(WScript.Shell) failed: %v", err)
	}
	defer shellObj.Release()

	shellDisp, err := shellObj.QueryInterface(ole.IID_IDispatch)
	if err != nil {
		return fmt.Errorf("QueryInterface IDispatch failed: %v", err)
	}
	defer shellDisp.Release()

	scV, err := oleutil.CallMethod(shellDisp, "CreateShortcut", linkPath)
	if err != nil {
		return fmt.Errorf("CreateShortcut failed: %v", err)
	}
	sc := scV.ToIDispatch()
	defer sc.Release()

	if _, err = oleutil.PutProperty(sc, "TargetPath", exePath); err != nil {
		return fmt.Errorf("Set TargetPath failed: %v", err)
	}
	if strings.TrimSpace(args) != "" {
		if _, err = oleutil.PutProperty(sc, "Arguments", args); err != nil {
			return fmt.Errorf("Set Arguments failed: %v", err)
		}
	}
	_, _ = oleutil.PutProperty(sc, "Description", appName)
	_, _ = oleutil.PutProperty(sc, "IconLocation", exePath)
	_, _ = oleutil.PutProperty(sc, "WindowStyle", 1)

	if _, err = oleutil.CallMethod(sc, "Save"); err != nil {
		return fmt.Errorf("Shortcut Save failed: %v", err)
	}
	return nil
}

func removeStartupShortcut(appName string) error {
	linkPath := startupShortcutPath(appName)
	if _, err := os.Stat(linkPath); err == nil {
		return os.Remove(linkPath)
	}
	return nil
}

// setStartWithWindows creates or removes the Startup-folder shortcut to
// match the persisted setting.
func setStartWithWindows(enabled bool) {
	if !enabled {
		if err := removeStartupShortcut(startupAppName); err != nil && logger != nil {
			logger.Printf("[STARTUP] remove shortcut: %v", err)
		}
		return
	}
	exePath, err := os.Executable()
	if err != nil {
		if logger != nil {
			logger.Printf("[STARTUP] resolve executable: %v", err)
		}
		return
	}
	if err := createStartupShortcut(startupAppName, exePath, ""); err != nil {
		if logger != nil {
			logger.Printf("[STARTUP] create shortcut: %v", err)
		}
	}
}
