package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
)

// The control surface for the settings UI: a localhost JSON API plus an
// SSE stream of change notifications. No rendering happens here.

const defaultListenAddr = "127.0.0.1:8723"

var (
	store  *Store
	engine *Engine

	// Wired on Windows to the startup-shortcut writer; nil elsewhere.
	applyStartWithWindows func(bool)

	// Wired on Windows to the tray balloon notifier; nil elsewhere.
	statusToast func(kind, detail string)

	clients   = map[chan string]bool{}
	clientsMu sync.RWMutex
)

func startWebServer(addr string) {
	http.HandleFunc("/api/state", handleState)
	http.HandleFunc("/api/mapping", handleMapping)
	http.HandleFunc("/api/profiles", handleProfiles)
	http.HandleFunc("/api/profiles/delete", handleProfileDelete)
	http.HandleFunc("/api/profiles/activate", handleProfileActivate)
	http.HandleFunc("/api/settings", handleSettings)
	http.HandleFunc("/events", handleSSE)

	if logger != nil {
		logger.Printf("[HTTP] listening on %s", addr)
	}
	if err := http.ListenAndServe(addr, nil); err != nil {
		if logger != nil {
			logger.Printf("[HTTP] server error: %v", err)
		}
	}
}

// wireNotifications forwards store mutations and engine status changes
// to SSE subscribers.
func wireNotifications() {
	store.RegisterChangeCallback(func(what string) {
		broadcast(map[string]interface{}{"changed": what})
	})
	engine.OnStatus = func(kind, detail string) {
		broadcast(map[string]interface{}{"changed": "status", "kind": kind, "detail": detail})
		if statusToast != nil {
			statusToast(kind, detail)
		}
	}
}

func stateSnapshot() map[string]interface{} {
	settings := store.Settings()
	controls := make([]map[string]string, 0, len(controlKeys))
	for _, c := range controlKeys {
		controls = append(controls, map[string]string{
			"key":   string(c),
			"label": controlLabels[c],
		})
	}
	return map[string]interface{}{
		"profiles":          store.Profiles(),
		"activeProfile":     store.ActiveProfile(),
		"currentApp":        engine.CurrentApp(),
		"controls":          controls,
		"actions":           actionList(),
		"actionsByCategory": actionsByCategory(),
		"knownApps":         sortedAppNames(),
		"settings":          settings,
		"state":             engine.State().String(),
		"enabled":           engine.Enabled(),
		"gestureTier":       engine.Tier().String(),
	}
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}

func handleState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, stateSnapshot())
}

func handleMapping(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "POST only", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		Profile string `json:"profile"`
		Control string `json:"control"`
		Action  string `json:"action"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.Profile == "" {
		req.Profile = store.ActiveProfile()
	}
	if err := store.SetMapping(req.Profile, ControlKey(req.Control), req.Action); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, map[string]bool{"ok": true})
}

func handleProfiles(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, store.Profiles())
	case http.MethodPost:
		var req struct {
			App string `json:"app"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		profile, err := store.AddProfileForApp(req.App)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		writeJSON(w, profile)
	default:
		http.Error(w, "GET or POST", http.StatusMethodNotAllowed)
	}
}

func handleProfileDelete(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "POST only", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := store.DeleteProfile(req.Name); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, map[string]bool{"ok": true})
}

func handleProfileActivate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "POST only", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := store.SetActiveProfile(req.Name); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, map[string]bool{"ok": true})
}

func handleSettings(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, store.Settings())
		return
	}
	var req struct {
		DPI              *int  `json:"dpi"`
		InvertVScroll    *bool `json:"invertVScroll"`
		InvertHScroll    *bool `json:"invertHScroll"`
		StartWithWindows *bool `json:"startWithWindows"`
		StartMinimized   *bool `json:"startMinimized"`
		Enabled          *bool `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.DPI != nil {
		if err := store.SetDPI(*req.DPI); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
	}
	if req.InvertVScroll != nil {
		store.SetInvertScroll(false, *req.InvertVScroll)
	}
	if req.InvertHScroll != nil {
		store.SetInvertScroll(true, *req.InvertHScroll)
	}
	if req.StartWithWindows != nil {
		store.SetStartWithWindows(*req.StartWithWindows)
		if applyStartWithWindows != nil {
			applyStartWithWindows(*req.StartWithWindows)
		}
	}
	if req.StartMinimized != nil {
		store.SetStartMinimized(*req.StartMinimized)
	}
	if req.Enabled != nil {
		engine.SetEnabled(*req.Enabled)
	}
	writeJSON(w, store.Settings())
}

func handleSSE(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	if f, ok := w.(http.Flusher); ok {
		fmt.Fprint(w, ":ok\n\n")
		if j, err := json.Marshal(stateSnapshot()); err == nil {
			fmt.Fprintf(w, "data: %s\n\n", j)
		}
		f.Flush()
	}

	messageChan := make(chan string, 8)

	clientsMu.Lock()
	clients[messageChan] = true
	clientsMu.Unlock()

	defer func() {
		clientsMu.Lock()
		delete(clients, messageChan)
		close(messageChan)
		clientsMu.Unlock()
	}()

	flusher, _ := w.(http.Flusher)
	ctxDone := r.Context().Done()

	for {
		select {
		case <-ctxDone:
			return
		case msg, ok := <-messageChan:
			if !ok {
				return
			}
			fmt.Fprintf(w, "data: %s\n\n", msg)
			if flusher != nil {
				flusher.Flush()
			}
		}
	}
}

func broadcast(data map[string]interface{}) {
	jsonData, _ := json.Marshal(data)
	payload := string(jsonData)

	clientsMu.RLock()
	for client := range clients {
		select {
		case client <- payload:
		default:
		}
	}
	clientsMu.RUnlock()
}
