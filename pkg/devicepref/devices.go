// Package devicepref decides which of the plugged-in devices of a category
// is selected, and keeps that decision stable across hot-plug events and
// restarts by persisting an ordered preference list.
package devicepref

import (
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/Honorable-Knights-of-the-Roundtable/mediacore/internal/metrics"
	"github.com/thoas/go-funk"
)

// Preference entry meaning "select no device".
const NoneID = "none"

// Device keys must be valid UTF-8 to survive the stored list.
var ErrInvalidID = errors.New("device id is not valid UTF-8")

type Transport int

const (
	TransportUnknown Transport = iota
	TransportUSB
	TransportBluetooth
	TransportAirPlay
	TransportBuiltIn
	TransportVirtual
)

func (t Transport) String() string {
	switch t {
	case TransportUSB:
		return "USB"
	case TransportBluetooth:
		return "Bluetooth"
	case TransportAirPlay:
		return "AirPlay"
	case TransportBuiltIn:
		return "BuiltIn"
	case TransportVirtual:
		return "Virtual"
	default:
		return "Unknown"
	}
}

func ParseTransport(s string) Transport {
	switch strings.ToLower(s) {
	case "usb":
		return TransportUSB
	case "bluetooth":
		return TransportBluetooth
	case "airplay":
		return TransportAirPlay
	case "builtin", "built-in":
		return TransportBuiltIn
	case "virtual":
		return TransportVirtual
	default:
		return TransportUnknown
	}
}

// One record of the device enumeration feed.
type Device struct {
	// Name of the device, possibly localized.
	ID string
	// Hardware derived identifier, stable across restarts. May be empty.
	ModelID   string
	Transport Transport
	Active    bool
}

// The identifier preferences are stored under.
func (d Device) Key() string {
	if d.ModelID != "" {
		return d.ModelID
	}
	return d.ID
}

func (d Device) String() string {
	return fmt.Sprintf("%s (%s, %s)", d.ID, d.Key(), d.Transport)
}

type Category string

const (
	CategoryCapture  Category = "capture"
	CategoryNotify   Category = "notify"
	CategoryPlayback Category = "playback"
)

// Key of the ordered preference list.
func (c Category) ListKey() string {
	return "devicepref." + string(c) + ".devices"
}

// Key of the single device written by older versions. Only ever read.
func (c Category) LegacyKey() string {
	return "devicepref." + string(c) + ".device"
}

// --------------------------------------------------------------------------------

// The preference list of one device category.
//
// The list is loaded from the store on first use and written back
// synchronously on every change, before the change is visible to callers.
type Devices struct {
	category Category
	store    Store
	logger   *slog.Logger
	metrics  *metrics.Metrics

	mu            sync.Mutex
	loaded        bool
	prefs         []string
	autoSelectUSB bool
}

type Option func(*Devices)

// If logger is nil, slog.Default() is used.
func WithLogger(logger *slog.Logger) Option {
	return func(d *Devices) { d.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(d *Devices) { d.metrics = m }
}

// Whether new USB devices are selected as they are plugged in. Defaults to true.
func WithAutoSelectUSB(enabled bool) Option {
	return func(d *Devices) { d.autoSelectUSB = enabled }
}

func NewDevices(category Category, store Store, opts ...Option) *Devices {
	d := &Devices{
		category:      category,
		store:         store,
		autoSelectUSB: true,
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.logger == nil {
		d.logger = slog.Default()
	}
	d.logger = d.logger.With("device category", category)
	return d
}

func NewCaptureDevices(store Store, opts ...Option) *Devices {
	return NewDevices(CategoryCapture, store, opts...)
}

func NewNotifyDevices(store Store, opts ...Option) *Devices {
	return NewDevices(CategoryNotify, store, opts...)
}

func NewPlaybackDevices(store Store, opts ...Option) *Devices {
	return NewDevices(CategoryPlayback, store, opts...)
}

func (d *Devices) Category() Category {
	return d.category
}

// The preference list, most preferred first.
func (d *Devices) Preferences() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.load()
	return slices.Clone(d.prefs)
}

func (d *Devices) SetAutoSelectUSB(enabled bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.autoSelectUSB = enabled
}

func (d *Devices) AutoSelectUSB() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.autoSelectUSB
}

// Select the most preferred of the active devices. Inactive records are ignored.
//
// Devices seen for the first time are added to the preference list: USB
// devices, and on first run anything but Bluetooth and AirPlay, at the
// front, the rest at the back. Returns false if no device is selected,
// either because none is preferred or because the user selected none.
func (d *Devices) SelectedDevice(devices []Device) (Device, bool) {
	active := funk.Filter(devices, func(dev Device) bool { return dev.Active }).([]Device)

	d.mu.Lock()
	defer d.mu.Unlock()
	d.load()

	d.renameLegacy(active)
	d.addUnseen(active)

	for _, id := range d.prefs {
		if id == NoneID {
			return Device{}, false
		}
		for _, dev := range active {
			if dev.Key() == id {
				return dev, true
			}
		}
	}
	return Device{}, false
}

// Make dev the most preferred device. A nil dev selects no device.
func (d *Devices) SetDevice(dev *Device) error {
	id := NoneID
	if dev != nil {
		id = dev.Key()
	}
	if !utf8.ValidString(id) {
		return fmt.Errorf("%w: %q", ErrInvalidID, id)
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.load()
	if len(d.prefs) > 0 && d.prefs[0] == id {
		return nil
	}
	d.prefs = slices.Insert(funk.FilterString(d.prefs, func(p string) bool { return p != id }), 0, id)
	d.logger.Info("device selected", "device", id)
	return d.persist("select")
}

// Forget every preference of the category.
func (d *Devices) Reset() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.prefs = nil
	d.loaded = true
	// An empty list rather than no list, so the legacy key stays ignored.
	return d.persist("reset")
}

// --------------------------------------------------------------------------------

// Call with d.mu held.
func (d *Devices) load() {
	if d.loaded {
		return
	}
	d.loaded = true

	if encoded, ok := d.store.GetString(d.category.ListKey()); ok {
		prefs, err := DecodeList(encoded)
		if err != nil {
			d.logger.Warn("ignoring stored device preferences", "err", err)
			return
		}
		d.prefs = funk.UniqString(funk.FilterString(prefs, func(p string) bool { return p != "" }))
		return
	}
	if legacy, ok := d.store.GetString(d.category.LegacyKey()); ok && legacy != "" {
		d.logger.Debug("using legacy device preference", "device", legacy)
		d.prefs = []string{legacy}
	}
}

// Replace bare names by the model id of the one active device with that name.
//
// Call with d.mu held.
func (d *Devices) renameLegacy(active []Device) {
	changed := false
	for i := 0; i < len(d.prefs); i++ {
		id := d.prefs[i]
		if id == NoneID || slices.ContainsFunc(active, func(dev Device) bool { return dev.Key() == id }) {
			continue
		}

		var matches []Device
		for _, dev := range active {
			if dev.ID == id && dev.ModelID != "" {
				matches = append(matches, dev)
			}
		}
		if len(matches) != 1 || !utf8.ValidString(matches[0].ModelID) {
			continue
		}

		modelID := matches[0].ModelID
		d.logger.Debug("renaming legacy device preference", "from", id, "to", modelID)
		changed = true
		if funk.ContainsString(d.prefs, modelID) {
			d.prefs = slices.Delete(d.prefs, i, i+1)
			i--
		} else {
			d.prefs[i] = modelID
		}
	}
	if changed {
		if err := d.persist("rename"); err != nil {
			d.logger.Error("failed to persist renamed device preferences", "err", err)
		}
	}
}

// Call with d.mu held.
func (d *Devices) addUnseen(active []Device) {
	var unseen []Device
	for _, dev := range active {
		if !utf8.ValidString(dev.Key()) {
			d.logger.Warn("ignoring device with invalid id", "device", fmt.Sprintf("%q", dev.Key()))
			continue
		}
		if !funk.ContainsString(d.prefs, dev.Key()) &&
			!slices.ContainsFunc(unseen, func(other Device) bool { return other.Key() == dev.Key() }) {
			unseen = append(unseen, dev)
		}
	}
	slices.SortFunc(unseen, func(a, b Device) int { return strings.Compare(a.Key(), b.Key()) })

	firstRun := len(d.prefs) == 0
	for _, dev := range unseen {
		kind := "append"
		if d.autoSelects(dev, firstRun) {
			kind = "autoselect"
			d.prefs = slices.Insert(d.prefs, 0, dev.Key())
		} else {
			d.prefs = append(d.prefs, dev.Key())
		}
		d.logger.Info("new device", "device", dev, "autoselected", kind == "autoselect")
		if err := d.persist(kind); err != nil {
			d.logger.Error("failed to persist device preferences", "err", err)
		}
	}
}

func (d *Devices) autoSelects(dev Device, firstRun bool) bool {
	if dev.Transport == TransportUSB && d.autoSelectUSB {
		return true
	}
	return firstRun && dev.Transport != TransportBluetooth && dev.Transport != TransportAirPlay
}

// Call with d.mu held.
func (d *Devices) persist(kind string) error {
	d.metrics.PreferenceMutation(string(d.category), kind)
	if err := d.store.SetString(d.category.ListKey(), EncodeList(d.prefs)); err != nil {
		return fmt.Errorf("persisting %s device preferences: %w", d.category, err)
	}
	return nil
}
