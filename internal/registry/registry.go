// Package registry owns the device systems of a process and the preference
// lists deciding which of their devices are selected.
//
// A DeviceRegistry is created explicitly, initialized once with Init and torn
// down with Close.
package registry

import (
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"slices"
	"sync"

	"github.com/Honorable-Knights-of-the-Roundtable/mediacore/internal/metrics"
	"github.com/Honorable-Knights-of-the-Roundtable/mediacore/pkg/devicepref"
	"github.com/Honorable-Knights-of-the-Roundtable/mediacore/pkg/mediadevice"
	"github.com/Honorable-Knights-of-the-Roundtable/mediacore/pkg/mediaformat"
	"github.com/google/uuid"
)

var (
	ErrInitialized = errors.New("registry already initialized")
	ErrClosed      = errors.New("registry closed")
	errNoCategory  = errors.New("unknown device category")
)

// A device backend, e.g. an audio host API or a capture driver.
type System interface {
	Name() string
	Init() error
	Close() error
}

// Systems returning true are initialized and closed on a goroutine locked to
// its own OS thread, with COM initialized on Windows.
type ThreadAffine interface {
	ThreadAffine() bool
}

// Systems that can enumerate their devices. Enumerate is called once after Init.
type Enumerator interface {
	Enumerate(category devicepref.Category) []devicepref.Device
}

// Called after SetDevices with the device selected for category. ok is false
// if no device is selected.
type SelectionListener func(category devicepref.Category, selected devicepref.Device, ok bool)

type DeviceRegistry struct {
	logger  *slog.Logger
	metrics *metrics.Metrics

	prefs map[devicepref.Category]*devicepref.Devices

	mu          sync.Mutex
	systems     []System
	initialized []System
	state       registryState
	feeds       map[devicepref.Category][]devicepref.Device
	media       map[string]mediadevice.MediaDevice
	mediaOrder  []string
	listeners   []SelectionListener
}

type registryState int

const (
	stateNew registryState = iota
	stateInitialized
	stateClosed
)

type Option func(*options)

type options struct {
	logger        *slog.Logger
	metrics       *metrics.Metrics
	autoSelectUSB bool
}

// If logger is nil, slog.Default() is used.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

func WithAutoSelectUSB(enabled bool) Option {
	return func(o *options) { o.autoSelectUSB = enabled }
}

// Make a registry keeping its preference lists in store.
func New(store devicepref.Store, opts ...Option) *DeviceRegistry {
	o := options{autoSelectUSB: true}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}

	r := &DeviceRegistry{
		logger:  o.logger.With("registry uuid", uuid.New()),
		metrics: o.metrics,
		prefs:   make(map[devicepref.Category]*devicepref.Devices),
		feeds:   make(map[devicepref.Category][]devicepref.Device),
		media:   make(map[string]mediadevice.MediaDevice),
	}
	for _, category := range []devicepref.Category{
		devicepref.CategoryCapture,
		devicepref.CategoryNotify,
		devicepref.CategoryPlayback,
	} {
		r.prefs[category] = devicepref.NewDevices(category, store,
			devicepref.WithLogger(r.logger),
			devicepref.WithMetrics(o.metrics),
			devicepref.WithAutoSelectUSB(o.autoSelectUSB),
		)
	}
	return r
}

// Add a system to be initialized by Init. Systems are initialized in the
// order registered and closed in reverse.
func (r *DeviceRegistry) Register(system System) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch r.state {
	case stateInitialized:
		return ErrInitialized
	case stateClosed:
		return ErrClosed
	}
	r.systems = append(r.systems, system)
	return nil
}

// Initialize every registered system and load the devices of enumerating
// systems. If a system fails, the ones already initialized are closed again.
func (r *DeviceRegistry) Init() error {
	r.mu.Lock()
	switch r.state {
	case stateInitialized:
		r.mu.Unlock()
		return ErrInitialized
	case stateClosed:
		r.mu.Unlock()
		return ErrClosed
	}
	systems := slices.Clone(r.systems)
	r.mu.Unlock()

	var initialized []System
	for _, system := range systems {
		if err := run(system, system.Init); err != nil {
			r.logger.Error("failed to initialize device system", "system", system.Name(), "err", err)
			closeErr := closeAll(initialized)
			return errors.Join(fmt.Errorf("initializing %s: %w", system.Name(), err), closeErr)
		}
		r.logger.Debug("initialized device system", "system", system.Name())
		initialized = append(initialized, system)
	}

	r.mu.Lock()
	r.initialized = initialized
	r.state = stateInitialized
	r.mu.Unlock()

	for category := range r.prefs {
		var devices []devicepref.Device
		for _, system := range initialized {
			if e, ok := system.(Enumerator); ok {
				devices = append(devices, e.Enumerate(category)...)
			}
		}
		if len(devices) > 0 {
			if _, _, err := r.SetDevices(category, devices); err != nil {
				return err
			}
		}
	}
	return nil
}

// Close every initialized system in reverse order. Closing twice is a no-op.
func (r *DeviceRegistry) Close() error {
	r.mu.Lock()
	if r.state == stateClosed {
		r.mu.Unlock()
		return nil
	}
	initialized := r.initialized
	r.initialized = nil
	r.state = stateClosed
	r.mu.Unlock()

	err := closeAll(initialized)
	if err != nil {
		r.logger.Error("failed to close device systems", "err", err)
	} else {
		r.logger.Debug("closed device systems", "count", len(initialized))
	}
	return err
}

func closeAll(systems []System) error {
	var errs []error
	for _, system := range slices.Backward(systems) {
		if err := run(system, system.Close); err != nil {
			errs = append(errs, fmt.Errorf("closing %s: %w", system.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// Run fn on the calling goroutine, or on a thread-locked worker if system is thread-affine.
func run(system System, fn func() error) error {
	if ta, ok := system.(ThreadAffine); ok && ta.ThreadAffine() {
		return runLocked(fn)
	}
	return fn()
}

// Run fn on a fresh goroutine locked to its OS thread and wait for it.
func runLocked(fn func() error) error {
	errc := make(chan error, 1)
	go func() {
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()

		if err := threadInit(); err != nil {
			errc <- err
			return
		}
		defer threadUninit()
		errc <- fn()
	}()
	return <-errc
}

// --------------------------------------------------------------------------------
// Devices and preferences

// Replace the device feed of category and return the device now selected.
func (r *DeviceRegistry) SetDevices(category devicepref.Category, devices []devicepref.Device) (devicepref.Device, bool, error) {
	prefs, ok := r.prefs[category]
	if !ok {
		return devicepref.Device{}, false, fmt.Errorf("%w: %s", errNoCategory, category)
	}

	r.mu.Lock()
	if r.state == stateClosed {
		r.mu.Unlock()
		return devicepref.Device{}, false, ErrClosed
	}
	r.feeds[category] = slices.Clone(devices)
	listeners := slices.Clone(r.listeners)
	r.mu.Unlock()

	selected, ok := prefs.SelectedDevice(devices)
	r.logger.Debug("device feed changed", "category", category, "devices", len(devices), "selected", selected.Key())
	for _, l := range listeners {
		l(category, selected, ok)
	}
	return selected, ok, nil
}

// The last device feed of category.
func (r *DeviceRegistry) Devices(category devicepref.Category) []devicepref.Device {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.feeds[category])
}

// The device selected among the current feed of category.
func (r *DeviceRegistry) Selected(category devicepref.Category) (devicepref.Device, bool) {
	prefs, ok := r.prefs[category]
	if !ok {
		return devicepref.Device{}, false
	}
	return prefs.SelectedDevice(r.Devices(category))
}

// The preference list of category, or nil for an unknown category.
func (r *DeviceRegistry) Preferences(category devicepref.Category) *devicepref.Devices {
	return r.prefs[category]
}

func (r *DeviceRegistry) AddSelectionListener(l SelectionListener) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners = append(r.listeners, l)
}

// --------------------------------------------------------------------------------
// Media devices

// Make d resolvable by its ID. A device with the same ID is replaced.
func (r *DeviceRegistry) AddMediaDevice(d mediadevice.MediaDevice) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.media[d.ID()]; !ok {
		r.mediaOrder = append(r.mediaOrder, d.ID())
	}
	r.media[d.ID()] = d
}

func (r *DeviceRegistry) RemoveMediaDevice(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.media, id)
	r.mediaOrder = slices.DeleteFunc(r.mediaOrder, func(other string) bool { return other == id })
}

func (r *DeviceRegistry) MediaDevice(id string) (mediadevice.MediaDevice, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.media[id]
	return d, ok
}

// The media devices of mediaType in the order added.
func (r *DeviceRegistry) MediaDevices(mediaType mediaformat.MediaType) []mediadevice.MediaDevice {
	r.mu.Lock()
	defer r.mu.Unlock()
	var devices []mediadevice.MediaDevice
	for _, id := range r.mediaOrder {
		if d := r.media[id]; d.MediaType() == mediaType {
			devices = append(devices, d)
		}
	}
	return devices
}

// The media device backing the selected device of category, matched by ID
// and then by model id.
func (r *DeviceRegistry) SelectedMediaDevice(category devicepref.Category) (mediadevice.MediaDevice, bool) {
	selected, ok := r.Selected(category)
	if !ok {
		return nil, false
	}
	if d, ok := r.MediaDevice(selected.ID); ok {
		return d, true
	}
	return r.MediaDevice(selected.ModelID)
}

// The output sizes of a video device, nil if it lists none.
func (r *DeviceRegistry) SupportedSizes(id string) []mediaformat.Dimension {
	d, ok := r.MediaDevice(id)
	if !ok {
		return nil
	}
	if sc, ok := d.(mediadevice.SizeCapable); ok {
		return sc.SupportedSizes()
	}
	return nil
}
