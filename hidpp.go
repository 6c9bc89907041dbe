package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/sstallion/go-hid"
)

// HID++ 2.0 constants for the gesture-button diversion path.
const (
	logiVendorID = 0x046D

	reportIDShort = 0x10
	reportIDLong  = 0x11
	reportLenLong = 20

	// Device index 0xFF addresses a direct Bluetooth connection; Bolt
	// receivers expose paired devices behind slot indexes 1..6.
	devIdxBluetooth = 0xFF

	featIRoot    = 0x0000
	featReprogV4 = 0x1B04
	featAdjDPI   = 0x2201

	cidGesture = 0x00C3

	// Software id stamped into every request so responses can be told
	// apart from other hosts' traffic and from notifications.
	softwareID = 0x0A

	hidppErrFeatIdx = 0xFF

	divertFlags   = 0x03 // divert=1, dvalid=1
	undivertFlags = 0x02 // divert=0, dvalid=1
)

var (
	errDeviceUnavailable = errors.New("no compatible device")
	errRequestTimeout    = errors.New("request timed out")
)

// driverConfig carries the timing policy for discovery and requests.
// Values are deliberate knobs rather than literals in the code paths.
type driverConfig struct {
	RequestTimeout time.Duration // per attempt
	RequestRetries int
	RetryBackoff   time.Duration // pause before each re-attempt
	ReadSlice      time.Duration // rx poll granularity in the listen loop
	RescanDelay    time.Duration // wait between failed discovery sweeps
	ReconnectDelay time.Duration // wait after losing an open session
	DPIReadDelay   time.Duration // settle time before the post-connect DPI read
}

func defaultDriverConfig() driverConfig {
	return driverConfig{
		RequestTimeout: 2 * time.Second,
		RequestRetries: 3,
		RetryBackoff:   250 * time.Millisecond,
		ReadSlice:      500 * time.Millisecond,
		RescanDelay:    5 * time.Second,
		ReconnectDelay: 2 * time.Second,
		DPIReadDelay:   3 * time.Second,
	}
}

// hidDevice is the slice of go-hid's Device the driver needs. Tests
// substitute a scripted fake.
type hidDevice interface {
	Write(b []byte) (int, error)
	ReadWithTimeout(b []byte, timeout time.Duration) (int, error)
	Close() error
}

// Indirection points for tests; production wires go-hid.
var listVendorCollections = func() []string {
	var paths []string
	hid.Enumerate(logiVendorID, 0, func(info *hid.DeviceInfo) error {
		if info.UsagePage >= 0xFF00 {
			paths = append(paths, info.Path)
		}
		return nil
	})
	return paths
}

var openCollection = func(path string) (hidDevice, error) {
	dev, err := hid.OpenPath(path)
	if err != nil {
		return nil, err
	}
	return dev, nil
}

type hidppMsg struct {
	DevIdx  byte
	FeatIdx byte
	Func    byte
	SwID    byte
	Params  []byte
}

// parseHIDPP decodes an incoming report. Some Windows HID stacks strip
// the report-ID byte, so the offset is probed from the first byte.
func parseHIDPP(raw []byte) (hidppMsg, bool) {
	if len(raw) == 0 {
		return hidppMsg{}, false
	}
	off := 0
	if raw[0] == reportIDShort || raw[0] == reportIDLong {
		off = 1
	}
	if len(raw) < off+4 {
		return hidppMsg{}, false
	}
	fsw := raw[off+2]
	return hidppMsg{
		DevIdx:  raw[off],
		FeatIdx: raw[off+1],
		Func:    (fsw >> 4) & 0x0F,
		SwID:    fsw & 0x0F,
		Params:  raw[off+3:],
	}, true
}

// buildLongReport frames a request. Long reports are used throughout for
// BLE compatibility.
func buildLongReport(devIdx, featIdx, funcID byte, params []byte) []byte {
	buf := make([]byte, reportLenLong)
	buf[0] = reportIDLong
	buf[1] = devIdx
	buf[2] = featIdx
	buf[3] = (funcID&0x0F)<<4 | softwareID
	for i, b := range params {
		if 4+i < reportLenLong {
			buf[4+i] = b
		}
	}
	return buf
}

// parseCIDList extracts the pressed-control ids from a
// divertedButtonsEvent payload: big-endian CID pairs terminated by
// 0x0000.
func parseCIDList(params []byte) map[uint16]bool {
	cids := map[uint16]bool{}
	for i := 0; i+1 < len(params); i += 2 {
		c := uint16(params[i])<<8 | uint16(params[i+1])
		if c == 0 {
			break
		}
		cids[c] = true
	}
	return cids
}

type driverCommand struct {
	setDPI  int
	readDPI bool
}

// GestureDriver owns the HID++ session: discovery, diversion, the
// notification listen loop, and queued DPI requests. All device traffic
// happens on one goroutine; the session is strictly sequential.
type GestureDriver struct {
	cfg driverConfig

	OnPress   func()
	OnRelease func()
	// OnAvailable reports the outcome of every discovery sweep and
	// session loss. The engine's tier logic counts consecutive failures,
	// so reports are not edge-deduplicated here.
	OnAvailable func(bool)
	OnDPI       func(int) // async result of a DPI read

	commands chan driverCommand
	stopCh   chan struct{}
	done     chan struct{}

	// session state, touched only by the run goroutine
	dev     hidDevice
	devIdx  byte
	featIdx byte
	dpiIdx  byte
	held    bool
}

func NewGestureDriver(cfg driverConfig) *GestureDriver {
	return &GestureDriver{
		cfg:      cfg,
		commands: make(chan driverCommand, 8),
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}
}

func (g *GestureDriver) Start() {
	go g.run()
}

// Stop undiverts and closes the session, waiting for the run goroutine
// with a bound so shutdown never hangs on a wedged device.
func (g *GestureDriver) Stop() {
	select {
	case <-g.stopCh:
	default:
		close(g.stopCh)
	}
	select {
	case <-g.done:
	case <-time.After(3 * time.Second):
		if logger != nil {
			logger.Printf("[HIDPP] Stop timed out waiting for session goroutine")
		}
	}
}

func (g *GestureDriver) stopping() bool {
	select {
	case <-g.stopCh:
		return true
	default:
		return false
	}
}

// SetDPI queues a sensor DPI write; it is applied by the session
// goroutine between reads. Safe from any goroutine.
func (g *GestureDriver) SetDPI(dpi int) {
	if dpi < dpiMin {
		dpi = dpiMin
	}
	if dpi > dpiMax {
		dpi = dpiMax
	}
	select {
	case g.commands <- driverCommand{setDPI: dpi}:
	default:
		if logger != nil {
			logger.Printf("[HIDPP] Command queue full, dropping SetDPI(%d)", dpi)
		}
	}
}

// RequestDPIRead queues a sensor DPI read; the result arrives via OnDPI.
func (g *GestureDriver) RequestDPIRead() {
	select {
	case g.commands <- driverCommand{readDPI: true}:
	default:
	}
}

func (g *GestureDriver) setAvailable(ok bool) {
	if g.OnAvailable != nil {
		g.OnAvailable(ok)
	}
}

func (g *GestureDriver) run() {
	defer close(g.done)
	for !g.stopping() {
		if err := g.connect(); err != nil {
			g.setAvailable(false)
			if logger != nil {
				logger.Printf("[HIDPP] %v; retrying in %v", err, g.cfg.RescanDelay)
			}
			g.sleep(g.cfg.RescanDelay)
			continue
		}
		g.setAvailable(true)
		if logger != nil {
			logger.Printf("[HIDPP] Listening for gesture events (devIdx=0x%02X featIdx=0x%02X)", g.devIdx, g.featIdx)
		}
		time.AfterFunc(g.cfg.DPIReadDelay, g.RequestDPIRead)

		g.listen()

		g.teardown()
		g.setAvailable(false)
		if !g.stopping() {
			g.sleep(g.cfg.ReconnectDelay)
		}
	}
	g.teardown()
}

func (g *GestureDriver) sleep(d time.Duration) {
	select {
	case <-g.stopCh:
	case <-time.After(d):
	}
}

// connect sweeps the Logitech vendor collections, probing each device
// index for the reprogrammable-controls feature. Feature indexes are
// never reused across sessions; every connect rediscovers from IRoot.
func (g *GestureDriver) connect() error {
	paths := listVendorCollections()
	if len(paths) == 0 {
		return errDeviceUnavailable
	}
	for _, path := range paths {
		if g.stopping() {
			return errDeviceUnavailable
		}
		dev, err := openCollection(path)
		if err != nil {
			if logger != nil {
				logger.Printf("[HIDPP] Can't open %s: %v", path, err)
			}
			continue
		}
		g.dev = dev
		for _, idx := range []byte{devIdxBluetooth, 1, 2, 3, 4, 5, 6} {
			if g.stopping() {
				break
			}
			g.devIdx = idx
			fi, err := g.findFeature(featReprogV4)
			if err != nil || fi == 0 {
				continue
			}
			g.featIdx = fi
			if logger != nil {
				logger.Printf("[HIDPP] Found REPROG_V4 @0x%02X on %s devIdx=0x%02X", fi, path, idx)
			}
			if di, err := g.findFeature(featAdjDPI); err == nil && di != 0 {
				g.dpiIdx = di
				if logger != nil {
					logger.Printf("[HIDPP] Found ADJUSTABLE_DPI @0x%02X", di)
				}
			} else {
				g.dpiIdx = 0
			}
			if err := g.divert(); err != nil {
				if logger != nil {
					logger.Printf("[HIDPP] Divert failed: %v", err)
				}
				break // right device, wrong state; try the next path
			}
			return nil
		}
		g.dev.Close()
		g.dev = nil
	}
	return errDeviceUnavailable
}

func (g *GestureDriver) teardown() {
	if g.dev == nil {
		return
	}
	g.undivert()
	g.dev.Close()
	g.dev = nil
	g.featIdx = 0
	g.dpiIdx = 0
	g.held = false
}

// request sends one HID++ request and waits for the matching response,
// correlated on feature index, function, and software id. Unmatched
// frames are fed to the notification handler instead of discarded, so
// gesture events arriving mid-request are not lost. Bounded retries.
func (g *GestureDriver) request(featIdx, funcID byte, params []byte) ([]byte, error) {
	for attempt := 0; attempt < g.cfg.RequestRetries; attempt++ {
		if g.stopping() {
			return nil, errRequestTimeout
		}
		if attempt > 0 {
			g.sleep(g.cfg.RetryBackoff)
		}
		if _, err := g.dev.Write(buildLongReport(g.devIdx, featIdx, funcID, params)); err != nil {
			return nil, fmt.Errorf("write: %w", err)
		}
		deadline := time.Now().Add(g.cfg.RequestTimeout)
		for time.Now().Before(deadline) {
			raw, err := g.readOne(g.cfg.ReadSlice)
			if err != nil {
				return nil, err
			}
			if raw == nil {
				continue
			}
			msg, ok := parseHIDPP(raw)
			if !ok {
				continue
			}
			if msg.FeatIdx == hidppErrFeatIdx {
				if len(msg.Params) >= 2 {
					return nil, fmt.Errorf("hid++ error 0x%02X for feat=0x%02X func=%d", msg.Params[1], featIdx, funcID)
				}
				return nil, fmt.Errorf("hid++ error for feat=0x%02X func=%d", featIdx, funcID)
			}
			if msg.FeatIdx == featIdx && msg.Func == funcID && msg.SwID == softwareID {
				return msg.Params, nil
			}
			g.handleNotification(msg)
		}
	}
	return nil, fmt.Errorf("%w: feat=0x%02X func=%d after %d attempts", errRequestTimeout, featIdx, funcID, g.cfg.RequestRetries)
}

func (g *GestureDriver) readOne(timeout time.Duration) ([]byte, error) {
	buf := make([]byte, 64)
	n, err := g.dev.ReadWithTimeout(buf, timeout)
	if err != nil {
		return nil, fmt.Errorf("read: %w", err)
	}
	if n == 0 {
		return nil, nil
	}
	return buf[:n], nil
}

// findFeature resolves a feature id to its index through IRoot.
// Index 0 means the device does not expose the feature.
func (g *GestureDriver) findFeature(featureID uint16) (byte, error) {
	params, err := g.request(0x00, 0, []byte{byte(featureID >> 8), byte(featureID), 0x00})
	if err != nil {
		return 0, err
	}
	if len(params) == 0 {
		return 0, errors.New("empty IRoot response")
	}
	return params[0], nil
}

func (g *GestureDriver) divert() error {
	_, err := g.request(g.featIdx, 3, []byte{cidGesture >> 8, cidGesture & 0xFF, divertFlags})
	return err
}

// undivert is best effort fire-and-forget; the device may already be
// gone when a session ends.
func (g *GestureDriver) undivert() {
	g.dev.Write(buildLongReport(g.devIdx, g.featIdx, 3, []byte{cidGesture >> 8, cidGesture & 0xFF, undivertFlags}))
}

func (g *GestureDriver) listen() {
	for !g.stopping() {
		select {
		case cmd := <-g.commands:
			g.applyCommand(cmd)
			continue
		default:
		}
		raw, err := g.readOne(time.Second)
		if err != nil {
			if logger != nil {
				logger.Printf("[HIDPP] read error: %v", err)
			}
			return
		}
		if raw == nil {
			continue
		}
		if msg, ok := parseHIDPP(raw); ok {
			g.handleNotification(msg)
		}
	}
}

// handleNotification watches for divertedButtonsEvent (function 0 on the
// reprogrammable-controls feature) and edge-detects the gesture CID.
func (g *GestureDriver) handleNotification(msg hidppMsg) {
	if g.featIdx == 0 || msg.FeatIdx != g.featIdx || msg.Func != 0 {
		return
	}
	now := parseCIDList(msg.Params)[cidGesture]
	switch {
	case now && !g.held:
		g.held = true
		if logger != nil {
			logger.Printf("[HIDPP] Gesture DOWN")
		}
		if g.OnPress != nil {
			g.OnPress()
		}
	case !now && g.held:
		g.held = false
		if logger != nil {
			logger.Printf("[HIDPP] Gesture UP")
		}
		if g.OnRelease != nil {
			g.OnRelease()
		}
	}
}

func (g *GestureDriver) applyCommand(cmd driverCommand) {
	if g.dpiIdx == 0 {
		if logger != nil {
			logger.Printf("[HIDPP] DPI feature not present, dropping command")
		}
		return
	}
	switch {
	case cmd.setDPI > 0:
		dpi := cmd.setDPI
		_, err := g.request(g.dpiIdx, 3, []byte{0x00, byte(dpi >> 8), byte(dpi)})
		if err != nil {
			if logger != nil {
				logger.Printf("[HIDPP] set DPI %d failed: %v", dpi, err)
			}
			return
		}
		if logger != nil {
			logger.Printf("[HIDPP] DPI set to %d", dpi)
		}
	case cmd.readDPI:
		params, err := g.request(g.dpiIdx, 2, []byte{0x00})
		if err != nil || len(params) < 3 {
			if logger != nil {
				logger.Printf("[HIDPP] DPI read failed: %v", err)
			}
			return
		}
		dpi := int(params[1])<<8 | int(params[2])
		if logger != nil {
			logger.Printf("[HIDPP] DPI read: %d", dpi)
		}
		if g.OnDPI != nil {
			g.OnDPI(dpi)
		}
	}
}
