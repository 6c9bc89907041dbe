package main

import "sort"

// Virtual-key codes used by the action recipes. Kept local so the
// catalog builds on any platform; the simulator layer owns SendInput.
const (
	vkBack    = 0x08
	vkTab     = 0x09
	vkShift   = 0x10
	vkControl = 0x11
	vkMenu    = 0x12
	vkReturn  = 0x0D
	vkEscape  = 0x1B
	vkLeft    = 0x25
	vkUp      = 0x26
	vkRight   = 0x27
	vkDown    = 0x28
	vkDelete  = 0x2E
	vkLWin    = 0x5B

	vkBrowserBack    = 0xA6
	vkBrowserForward = 0xA7
	vkBrowserRefresh = 0xA8
	vkBrowserStop    = 0xA9
	vkBrowserHome    = 0xAC

	vkVolumeMute     = 0xAD
	vkVolumeDown     = 0xAE
	vkVolumeUp       = 0xAF
	vkMediaNextTrack = 0xB0
	vkMediaPrevTrack = 0xB1
	vkMediaStop      = 0xB2
	vkMediaPlayPause = 0xB3

	vkA = 0x41
	vkC = 0x43
	vkD = 0x44
	vkF = 0x46
	vkN = 0x4E
	vkS = 0x53
	vkT = 0x54
	vkV = 0x56
	vkW = 0x57
	vkX = 0x58
	vkZ = 0x5A
)

// ActionNone is the pass-through action: the physical event is forwarded
// untouched and nothing is synthesized.
const ActionNone = "none"

type Action struct {
	ID       string   `json:"id"`
	Label    string   `json:"label"`
	Category string   `json:"category"`
	Keys     []uint16 `json:"-"`
}

// actionCatalog is the fixed set of assignable actions. Keys are pressed
// in order and released in reverse by the simulator.
var actionCatalog = map[string]Action{
	"alt_tab":       {ID: "alt_tab", Label: "Alt + Tab (Switch Windows)", Category: "Navigation", Keys: []uint16{vkMenu, vkTab}},
	"alt_shift_tab": {ID: "alt_shift_tab", Label: "Alt + Shift + Tab (Switch Windows Reverse)", Category: "Navigation", Keys: []uint16{vkMenu, vkShift, vkTab}},
	"win_d":         {ID: "win_d", Label: "Show Desktop (Win+D)", Category: "Navigation", Keys: []uint16{vkLWin, vkD}},
	"task_view":     {ID: "task_view", Label: "Task View (Win+Tab)", Category: "Navigation", Keys: []uint16{vkLWin, vkTab}},

	"browser_back":    {ID: "browser_back", Label: "Browser Back", Category: "Browser", Keys: []uint16{vkBrowserBack}},
	"browser_forward": {ID: "browser_forward", Label: "Browser Forward", Category: "Browser", Keys: []uint16{vkBrowserForward}},
	"close_tab":       {ID: "close_tab", Label: "Close Tab (Ctrl+W)", Category: "Browser", Keys: []uint16{vkControl, vkW}},
	"new_tab":         {ID: "new_tab", Label: "New Tab (Ctrl+T)", Category: "Browser", Keys: []uint16{vkControl, vkT}},

	"copy":       {ID: "copy", Label: "Copy (Ctrl+C)", Category: "Editing", Keys: []uint16{vkControl, vkC}},
	"paste":      {ID: "paste", Label: "Paste (Ctrl+V)", Category: "Editing", Keys: []uint16{vkControl, vkV}},
	"cut":        {ID: "cut", Label: "Cut (Ctrl+X)", Category: "Editing", Keys: []uint16{vkControl, vkX}},
	"undo":       {ID: "undo", Label: "Undo (Ctrl+Z)", Category: "Editing", Keys: []uint16{vkControl, vkZ}},
	"select_all": {ID: "select_all", Label: "Select All (Ctrl+A)", Category: "Editing", Keys: []uint16{vkControl, vkA}},
	"save":       {ID: "save", Label: "Save (Ctrl+S)", Category: "Editing", Keys: []uint16{vkControl, vkS}},
	"find":       {ID: "find", Label: "Find (Ctrl+F)", Category: "Editing", Keys: []uint16{vkControl, vkF}},

	"volume_up":   {ID: "volume_up", Label: "Volume Up", Category: "Media", Keys: []uint16{vkVolumeUp}},
	"volume_down": {ID: "volume_down", Label: "Volume Down", Category: "Media", Keys: []uint16{vkVolumeDown}},
	"volume_mute": {ID: "volume_mute", Label: "Volume Mute", Category: "Media", Keys: []uint16{vkVolumeMute}},
	"play_pause":  {ID: "play_pause", Label: "Play / Pause", Category: "Media", Keys: []uint16{vkMediaPlayPause}},
	"next_track":  {ID: "next_track", Label: "Next Track", Category: "Media", Keys: []uint16{vkMediaNextTrack}},
	"prev_track":  {ID: "prev_track", Label: "Previous Track", Category: "Media", Keys: []uint16{vkMediaPrevTrack}},

	ActionNone: {ID: ActionNone, Label: "Do Nothing (Pass-through)", Category: "Other", Keys: nil},
}

// extendedKeys need KEYEVENTF_EXTENDEDKEY on both press and release.
var extendedKeys = map[uint16]bool{
	vkBrowserBack: true, vkBrowserForward: true, vkBrowserRefresh: true,
	vkBrowserStop: true, vkBrowserHome: true,
	vkVolumeMute: true, vkVolumeDown: true, vkVolumeUp: true,
	vkMediaNextTrack: true, vkMediaPrevTrack: true,
	vkMediaStop: true, vkMediaPlayPause: true,
	vkLeft: true, vkRight: true, vkUp: true, vkDown: true,
	vkDelete: true, vkReturn: true, vkTab: true,
}

func actionByID(id string) (Action, bool) {
	a, ok := actionCatalog[id]
	return a, ok
}

func isKnownAction(id string) bool {
	_, ok := actionCatalog[id]
	return ok
}

// actionList returns all actions in a stable order: by category, then label,
// with pass-through last inside its category.
func actionList() []Action {
	out := make([]Action, 0, len(actionCatalog))
	for _, a := range actionCatalog {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Category != out[j].Category {
			return out[i].Category < out[j].Category
		}
		return out[i].Label < out[j].Label
	})
	return out
}

func actionsByCategory() map[string][]Action {
	out := map[string][]Action{}
	for _, a := range actionList() {
		out[a.Category] = append(out[a.Category], a)
	}
	return out
}
