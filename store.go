package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// ControlKey names a remappable control of the mouse. The set is closed;
// every profile's mapping table carries an entry for each of them.
type ControlKey string

const (
	ControlMiddle       ControlKey = "middle"
	ControlGesture      ControlKey = "gesture"
	ControlBack         ControlKey = "xbutton1"
	ControlForward      ControlKey = "xbutton2"
	ControlHScrollLeft  ControlKey = "hscroll_left"
	ControlHScrollRight ControlKey = "hscroll_right"
)

var controlKeys = []ControlKey{
	ControlMiddle, ControlGesture, ControlBack, ControlForward,
	ControlHScrollLeft, ControlHScrollRight,
}

var controlLabels = map[ControlKey]string{
	ControlMiddle:       "Middle button",
	ControlGesture:      "Gesture button",
	ControlBack:         "Back button",
	ControlForward:      "Forward button",
	ControlHScrollLeft:  "Horizontal scroll left",
	ControlHScrollRight: "Horizontal scroll right",
}

func isControlKey(k ControlKey) bool {
	for _, c := range controlKeys {
		if c == k {
			return true
		}
	}
	return false
}

const (
	catchAllProfile = "default"
	schemaVersion   = 2

	dpiMin = 200
	dpiMax = 8200
)

var (
	errUnknownProfile  = errors.New("unknown profile")
	errUnknownControl  = errors.New("unknown control key")
	errUnknownAction   = errors.New("unknown action id")
	errProtectedDelete = errors.New("the catch-all profile cannot be deleted")
	errProfileExists   = errors.New("profile already exists")
	errDPIRange        = fmt.Errorf("dpi out of range (%d-%d)", dpiMin, dpiMax)
	errBadSchema       = errors.New("config schema invalid")
)

type Profile struct {
	Name     string                `json:"name"`
	Label    string                `json:"label"`
	Apps     []string              `json:"apps"`
	Mappings map[ControlKey]string `json:"mappings"`
}

type Settings struct {
	DPI              int  `json:"dpi"`
	InvertVScroll    bool `json:"invertVScroll"`
	InvertHScroll    bool `json:"invertHScroll"`
	StartWithWindows bool `json:"startWithWindows"`
	StartMinimized   bool `json:"startMinimized"`
}

type configDoc struct {
	SchemaVersion int       `json:"schemaVersion"`
	ActiveProfile string    `json:"activeProfile"`
	Profiles      []Profile `json:"profiles"`
	Settings      Settings  `json:"settings"`
}

// KnownApps maps executable names to display labels for the profile UI.
// UWP apps show up under their package exe thanks to the
// ApplicationFrameHost resolution in the foreground probe.
var KnownApps = map[string]string{
	"msedge.exe":                 "Microsoft Edge",
	"chrome.exe":                 "Google Chrome",
	"Microsoft.Media.Player.exe": "Windows Media Player",
	"wmplayer.exe":               "Windows Media Player (Classic)",
	"vlc.exe":                    "VLC Media Player",
	"Code.exe":                   "Visual Studio Code",
}

func defaultMappings() map[ControlKey]string {
	return map[ControlKey]string{
		ControlMiddle:       ActionNone,
		ControlGesture:      ActionNone,
		ControlBack:         "alt_tab",
		ControlForward:      "alt_tab",
		ControlHScrollLeft:  "browser_back",
		ControlHScrollRight: "browser_forward",
	}
}

func defaultDoc() configDoc {
	return configDoc{
		SchemaVersion: schemaVersion,
		ActiveProfile: catchAllProfile,
		Profiles: []Profile{{
			Name:     catchAllProfile,
			Label:    "Default (All Apps)",
			Apps:     []string{},
			Mappings: defaultMappings(),
		}},
		Settings: Settings{
			DPI:            1000,
			StartMinimized: true,
		},
	}
}

// Store holds the persisted mapping document. All mutations are validated,
// saved to disk, and announced to registered callbacks.
type Store struct {
	mu       sync.Mutex
	path     string
	doc      configDoc
	onChange []func(what string)
}

func NewStore(path string) *Store {
	return &Store{path: path, doc: defaultDoc()}
}

// Load reads the document from disk. A missing file is not an error;
// a malformed or schema-invalid one is reported and the defaults stand.
func (s *Store) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	var doc configDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("%w: %v", errBadSchema, err)
	}
	migrateDoc(&doc)
	if err := validateDoc(&doc); err != nil {
		return fmt.Errorf("%w: %v", errBadSchema, err)
	}
	s.doc = doc
	return nil
}

// migrateDoc upgrades older documents in place. v1 documents predate
// per-app profiles and the scroll/DPI settings.
func migrateDoc(doc *configDoc) {
	if doc.SchemaVersion < 2 {
		for i := range doc.Profiles {
			if doc.Profiles[i].Apps == nil {
				doc.Profiles[i].Apps = []string{}
			}
		}
		if doc.Settings.DPI == 0 {
			doc.Settings.DPI = 1000
		}
		doc.SchemaVersion = 2
	}
	for i := range doc.Profiles {
		p := &doc.Profiles[i]
		for j, a := range p.Apps {
			if strings.EqualFold(a, "wmplayer.exe") {
				p.Apps[j] = "Microsoft.Media.Player.exe"
			}
		}
		if p.Mappings == nil {
			p.Mappings = map[ControlKey]string{}
		}
		for k := range p.Mappings {
			if !isControlKey(k) {
				delete(p.Mappings, k)
			}
		}
		for _, c := range controlKeys {
			if _, ok := p.Mappings[c]; !ok {
				p.Mappings[c] = ActionNone
			}
		}
	}
	if doc.ActiveProfile == "" {
		doc.ActiveProfile = catchAllProfile
	}
}

// validateDoc checks the structural invariants: the catch-all profile
// exists with an empty app set, app sets are pairwise disjoint, every
// mapping table holds exactly the control-key set. Unknown action ids
// are allowed here; they resolve to pass-through at routing time.
// Stray control keys are stripped by migrateDoc before validation, so a
// violation here means a key was added after load.
func validateDoc(doc *configDoc) error {
	if doc.SchemaVersion > schemaVersion {
		return fmt.Errorf("schema version %d is newer than supported %d", doc.SchemaVersion, schemaVersion)
	}
	seen := map[string]string{}
	names := map[string]bool{}
	foundCatchAll := false
	for i := range doc.Profiles {
		p := &doc.Profiles[i]
		if p.Name == "" {
			return errors.New("profile with empty name")
		}
		if names[p.Name] {
			return fmt.Errorf("duplicate profile %q", p.Name)
		}
		names[p.Name] = true
		if p.Name == catchAllProfile {
			foundCatchAll = true
			if len(p.Apps) != 0 {
				return errors.New("catch-all profile must have an empty app list")
			}
		}
		for _, a := range p.Apps {
			key := strings.ToLower(a)
			if other, dup := seen[key]; dup {
				return fmt.Errorf("app %q claimed by both %q and %q", a, other, p.Name)
			}
			seen[key] = p.Name
		}
		for _, c := range controlKeys {
			if _, ok := p.Mappings[c]; !ok {
				return fmt.Errorf("profile %q missing mapping for %q", p.Name, c)
			}
		}
		if len(p.Mappings) != len(controlKeys) {
			for k := range p.Mappings {
				if !isControlKey(k) {
					return fmt.Errorf("profile %q has mapping for unknown control %q", p.Name, k)
				}
			}
		}
	}
	if !foundCatchAll {
		return errors.New("catch-all profile missing")
	}
	return nil
}

var fileMu sync.Mutex

func (s *Store) saveLocked() error {
	data, err := json.MarshalIndent(&s.doc, "", "  ")
	if err != nil {
		return err
	}
	fileMu.Lock()
	defer fileMu.Unlock()
	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return err
	}
	return os.WriteFile(s.path, data, 0644)
}

func (s *Store) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked()
}

// RegisterChangeCallback adds a listener fired after every committed
// mutation, with a short tag naming what changed.
func (s *Store) RegisterChangeCallback(fn func(what string)) {
	s.mu.Lock()
	s.onChange = append(s.onChange, fn)
	s.mu.Unlock()
}

func (s *Store) notify(what string) {
	s.mu.Lock()
	cbs := make([]func(string), len(s.onChange))
	copy(cbs, s.onChange)
	s.mu.Unlock()
	for _, fn := range cbs {
		fn(what)
	}
}

func (s *Store) Profiles() []Profile {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Profile, len(s.doc.Profiles))
	for i, p := range s.doc.Profiles {
		out[i] = copyProfile(p)
	}
	return out
}

func (s *Store) Profile(name string) (Profile, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p := s.findLocked(name); p != nil {
		return copyProfile(*p), true
	}
	return Profile{}, false
}

func copyProfile(p Profile) Profile {
	cp := p
	cp.Apps = append([]string{}, p.Apps...)
	cp.Mappings = make(map[ControlKey]string, len(p.Mappings))
	for k, v := range p.Mappings {
		cp.Mappings[k] = v
	}
	return cp
}

func (s *Store) findLocked(name string) *Profile {
	for i := range s.doc.Profiles {
		if s.doc.Profiles[i].Name == name {
			return &s.doc.Profiles[i]
		}
	}
	return nil
}

func (s *Store) ActiveProfile() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doc.ActiveProfile
}

func (s *Store) SetActiveProfile(name string) error {
	s.mu.Lock()
	if s.findLocked(name) == nil {
		s.mu.Unlock()
		return fmt.Errorf("%w: %q", errUnknownProfile, name)
	}
	if s.doc.ActiveProfile == name {
		s.mu.Unlock()
		return nil
	}
	s.doc.ActiveProfile = name
	err := s.saveLocked()
	s.mu.Unlock()
	s.notify("activeProfile")
	return err
}

// SetMapping assigns an action to a control in the named profile. The
// edit is rejected synchronously if the profile, control, or action is
// unknown; the stored table is left untouched on rejection.
func (s *Store) SetMapping(profile string, control ControlKey, actionID string) error {
	s.mu.Lock()
	p := s.findLocked(profile)
	if p == nil {
		s.mu.Unlock()
		return fmt.Errorf("%w: %q", errUnknownProfile, profile)
	}
	if !isControlKey(control) {
		s.mu.Unlock()
		return fmt.Errorf("%w: %q", errUnknownControl, control)
	}
	if !isKnownAction(actionID) {
		s.mu.Unlock()
		return fmt.Errorf("%w: %q", errUnknownAction, actionID)
	}
	p.Mappings[control] = actionID
	err := s.saveLocked()
	s.mu.Unlock()
	s.notify("mappings")
	return err
}

// AddProfileForApp creates a profile bound to one executable, copying the
// catch-all mappings as a starting point. If another profile already
// claims the app, the association moves here in the same step so app
// sets stay disjoint.
func (s *Store) AddProfileForApp(exe string) (Profile, error) {
	exe = strings.TrimSpace(exe)
	if exe == "" {
		return Profile{}, errors.New("empty executable name")
	}
	name := strings.ToLower(strings.TrimSuffix(exe, filepath.Ext(exe)))
	label := AppLabel(exe)
	s.mu.Lock()
	if s.findLocked(name) != nil {
		s.mu.Unlock()
		return Profile{}, fmt.Errorf("%w: %q", errProfileExists, name)
	}
	for i := range s.doc.Profiles {
		p := &s.doc.Profiles[i]
		kept := p.Apps[:0]
		for _, a := range p.Apps {
			if !strings.EqualFold(a, exe) {
				kept = append(kept, a)
			}
		}
		p.Apps = kept
	}
	base := defaultMappings()
	if ca := s.findLocked(catchAllProfile); ca != nil {
		for k, v := range ca.Mappings {
			base[k] = v
		}
	}
	np := Profile{Name: name, Label: label, Apps: []string{exe}, Mappings: base}
	s.doc.Profiles = append(s.doc.Profiles, np)
	err := s.saveLocked()
	out := copyProfile(np)
	s.mu.Unlock()
	s.notify("profiles")
	return out, err
}

// DeleteProfile removes a profile. The catch-all is protected; deleting
// the active profile falls selection back to the catch-all.
func (s *Store) DeleteProfile(name string) error {
	if name == catchAllProfile {
		return errProtectedDelete
	}
	s.mu.Lock()
	idx := -1
	for i := range s.doc.Profiles {
		if s.doc.Profiles[i].Name == name {
			idx = i
			break
		}
	}
	if idx < 0 {
		s.mu.Unlock()
		return fmt.Errorf("%w: %q", errUnknownProfile, name)
	}
	s.doc.Profiles = append(s.doc.Profiles[:idx], s.doc.Profiles[idx+1:]...)
	if s.doc.ActiveProfile == name {
		s.doc.ActiveProfile = catchAllProfile
	}
	err := s.saveLocked()
	s.mu.Unlock()
	s.notify("profiles")
	return err
}

// ProfileForApp returns the profile claiming the executable, or the
// catch-all. Matching is case-insensitive and has no side effects.
func (s *Store) ProfileForApp(exe string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if exe != "" {
		for i := range s.doc.Profiles {
			for _, a := range s.doc.Profiles[i].Apps {
				if strings.EqualFold(a, exe) {
					return s.doc.Profiles[i].Name
				}
			}
		}
	}
	return catchAllProfile
}

func (s *Store) Settings() Settings {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doc.Settings
}

func (s *Store) SetDPI(dpi int) error {
	if dpi < dpiMin || dpi > dpiMax {
		return fmt.Errorf("%w: %d", errDPIRange, dpi)
	}
	s.mu.Lock()
	s.doc.Settings.DPI = dpi
	err := s.saveLocked()
	s.mu.Unlock()
	s.notify("settings")
	return err
}

func (s *Store) SetInvertScroll(horizontal, invert bool) error {
	s.mu.Lock()
	if horizontal {
		s.doc.Settings.InvertHScroll = invert
	} else {
		s.doc.Settings.InvertVScroll = invert
	}
	err := s.saveLocked()
	s.mu.Unlock()
	s.notify("settings")
	return err
}

func (s *Store) SetStartWithWindows(enabled bool) error {
	s.mu.Lock()
	s.doc.Settings.StartWithWindows = enabled
	err := s.saveLocked()
	s.mu.Unlock()
	s.notify("settings")
	return err
}

func (s *Store) SetStartMinimized(enabled bool) error {
	s.mu.Lock()
	s.doc.Settings.StartMinimized = enabled
	err := s.saveLocked()
	s.mu.Unlock()
	s.notify("settings")
	return err
}

// AppLabel returns the display label for an executable name.
func AppLabel(exe string) string {
	if label, ok := KnownApps[exe]; ok {
		return label
	}
	return exe
}

// sortedAppNames is used by the state endpoint so the known-app list is
// stable across responses.
func sortedAppNames() []string {
	out := make([]string, 0, len(KnownApps))
	for exe := range KnownApps {
		out = append(out, exe)
	}
	sort.Strings(out)
	return out
}
