package devicepref

import (
	"path/filepath"
	"testing"

	"github.com/Honorable-Knights-of-the-Roundtable/mediacore/internal/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func active(id string, transport Transport) Device {
	return Device{ID: id, Transport: transport, Active: true}
}

func storeWith(t *testing.T, category Category, prefs ...string) *MemoryStore {
	t.Helper()
	store := NewMemoryStore()
	require.NoError(t, store.SetString(category.ListKey(), EncodeList(prefs)))
	return store
}

func TestUSBDeviceIsSelectedOnFirstRun(t *testing.T) {
	store := NewMemoryStore()
	d := NewCaptureDevices(store)

	selected, ok := d.SelectedDevice([]Device{active("usb-mic", TransportUSB)})
	require.True(t, ok)
	assert.Equal(t, "usb-mic", selected.ID)
	assert.Equal(t, []string{"usb-mic"}, d.Preferences())

	stored, ok := store.GetString(CategoryCapture.ListKey())
	require.True(t, ok, "persisted before returning")
	assert.Equal(t, `["usb-mic"]`, stored)
}

func TestFirstMatchingPreferenceWins(t *testing.T) {
	d := NewCaptureDevices(storeWith(t, CategoryCapture, "dev-A", "dev-B"))

	selected, ok := d.SelectedDevice([]Device{active("dev-B", TransportBuiltIn)})
	require.True(t, ok)
	assert.Equal(t, "dev-B", selected.ID)

	selected, ok = d.SelectedDevice([]Device{active("dev-B", TransportBuiltIn), active("dev-A", TransportBuiltIn)})
	require.True(t, ok)
	assert.Equal(t, "dev-A", selected.ID, "preference order, not enumeration order")
}

func TestSelectionIsDeterministic(t *testing.T) {
	devices := []Device{
		active("speaker", TransportBuiltIn),
		active("headset", TransportBluetooth),
		active("usb-b", TransportUSB),
		active("usb-a", TransportUSB),
	}
	reversed := []Device{devices[3], devices[2], devices[1], devices[0]}

	first := NewPlaybackDevices(NewMemoryStore())
	second := NewPlaybackDevices(NewMemoryStore())
	a, _ := first.SelectedDevice(devices)
	b, _ := second.SelectedDevice(reversed)
	assert.Equal(t, a, b, "enumeration order does not matter")
	assert.Equal(t, first.Preferences(), second.Preferences())

	for range 3 {
		again, _ := first.SelectedDevice(devices)
		assert.Equal(t, a, again)
	}
}

func TestNewDevicePlacement(t *testing.T) {
	tests := []struct {
		name          string
		prefs         []string
		device        Device
		autoSelectUSB bool
		want          []string
	}{
		{"usb goes first", []string{"old"}, active("usb", TransportUSB), true, []string{"usb", "old"}},
		{"usb appended when disabled", []string{"old"}, active("usb", TransportUSB), false, []string{"old", "usb"}},
		{"built-in appended", []string{"old"}, active("mic", TransportBuiltIn), true, []string{"old", "mic"}},
		{"first run built-in", nil, active("mic", TransportBuiltIn), true, []string{"mic"}},
		{"first run bluetooth", nil, active("headset", TransportBluetooth), true, []string{"headset"}},
		{"first run usb disabled", nil, active("usb", TransportUSB), false, []string{"usb"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := NewCaptureDevices(storeWith(t, CategoryCapture, tt.prefs...), WithAutoSelectUSB(tt.autoSelectUSB))
			devices := []Device{tt.device}
			if len(tt.prefs) > 0 {
				devices = append(devices, active("old", TransportBuiltIn))
			}
			d.SelectedDevice(devices)
			assert.Equal(t, tt.want, d.Preferences())
		})
	}
}

func TestFirstRunSkipsWirelessDevices(t *testing.T) {
	d := NewPlaybackDevices(NewMemoryStore())
	selected, ok := d.SelectedDevice([]Device{
		active("airplay", TransportAirPlay),
		active("headset", TransportBluetooth),
		active("speaker", TransportBuiltIn),
	})
	require.True(t, ok)
	assert.Equal(t, "speaker", selected.ID)
	assert.Equal(t, []string{"speaker", "airplay", "headset"}, d.Preferences())
}

func TestInactiveDevicesAreIgnored(t *testing.T) {
	d := NewCaptureDevices(storeWith(t, CategoryCapture, "dev-A"))
	_, ok := d.SelectedDevice([]Device{{ID: "dev-A"}})
	assert.False(t, ok)
	assert.Equal(t, []string{"dev-A"}, d.Preferences())
}

func TestNoneSentinel(t *testing.T) {
	d := NewCaptureDevices(storeWith(t, CategoryCapture, "dev-A"))
	require.NoError(t, d.SetDevice(nil))
	assert.Equal(t, []string{NoneID, "dev-A"}, d.Preferences())

	_, ok := d.SelectedDevice([]Device{active("dev-A", TransportBuiltIn)})
	assert.False(t, ok, "user selected no device")

	dev := active("dev-A", TransportBuiltIn)
	require.NoError(t, d.SetDevice(&dev))
	assert.Equal(t, []string{"dev-A", NoneID}, d.Preferences())
	selected, ok := d.SelectedDevice([]Device{dev})
	require.True(t, ok)
	assert.Equal(t, "dev-A", selected.ID)
}

func TestSetDeviceMovesToFront(t *testing.T) {
	store := storeWith(t, CategoryNotify, "a", "b", "c")
	d := NewNotifyDevices(store)
	c := active("c", TransportBuiltIn)
	require.NoError(t, d.SetDevice(&c))
	assert.Equal(t, []string{"c", "a", "b"}, d.Preferences())

	writes := store.Writes()
	require.NoError(t, d.SetDevice(&c))
	assert.Equal(t, writes, store.Writes(), "reselecting the front device writes nothing")
}

func TestLegacyNamesAreRenamed(t *testing.T) {
	d := NewCaptureDevices(storeWith(t, CategoryCapture, "Headset", "Webcam Mic", "Speaker"))
	selected, ok := d.SelectedDevice([]Device{
		{ID: "Webcam Mic", ModelID: "usb:046d:0825", Transport: TransportUSB, Active: true},
		{ID: "Headset", ModelID: "bt:00:11:22", Transport: TransportBluetooth, Active: true},
	})
	require.True(t, ok)
	assert.Equal(t, "bt:00:11:22", selected.ModelID)
	assert.Equal(t, []string{"bt:00:11:22", "usb:046d:0825", "Speaker"}, d.Preferences(), "renamed in place")
}

func TestLegacyRenameDropsDuplicate(t *testing.T) {
	d := NewCaptureDevices(storeWith(t, CategoryCapture, "Mic", "model-1"))
	d.SelectedDevice([]Device{{ID: "Mic", ModelID: "model-1", Active: true}})
	assert.Equal(t, []string{"model-1"}, d.Preferences())
}

func TestAmbiguousLegacyNameIsKept(t *testing.T) {
	d := NewCaptureDevices(storeWith(t, CategoryCapture, "Mic"))
	d.SelectedDevice([]Device{
		{ID: "Mic", ModelID: "model-1", Active: true},
		{ID: "Mic", ModelID: "model-2", Active: true},
	})
	assert.Equal(t, []string{"Mic", "model-1", "model-2"}, d.Preferences())
}

func TestLegacySingleValueKey(t *testing.T) {
	store := NewMemoryStore()
	require.NoError(t, store.SetString(CategoryPlayback.LegacyKey(), "old-speaker"))
	d := NewPlaybackDevices(store)

	selected, ok := d.SelectedDevice([]Device{active("new-speaker", TransportBuiltIn), active("old-speaker", TransportBuiltIn)})
	require.True(t, ok)
	assert.Equal(t, "old-speaker", selected.ID)

	legacy, _ := store.GetString(CategoryPlayback.LegacyKey())
	assert.Equal(t, "old-speaker", legacy, "legacy key is never written")
	list, ok := store.GetString(CategoryPlayback.ListKey())
	require.True(t, ok)
	assert.Equal(t, `["old-speaker", "new-speaker"]`, list)
}

func TestStoredDuplicatesAreDropped(t *testing.T) {
	d := NewCaptureDevices(storeWith(t, CategoryCapture, "a", "b", "a"))
	assert.Equal(t, []string{"a", "b"}, d.Preferences())
}

func TestReset(t *testing.T) {
	store := storeWith(t, CategoryCapture, "a")
	d := NewCaptureDevices(store)
	require.NoError(t, d.Reset())
	assert.Empty(t, d.Preferences())
	list, ok := store.GetString(CategoryCapture.ListKey())
	require.True(t, ok)
	assert.Equal(t, "[]", list)
}

func TestResetOutlivesLegacyKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "preferences.yaml")
	viperStore, err := NewViperStore(path)
	require.NoError(t, err)

	tests := map[string]struct {
		store   Store
		restart func(t *testing.T, s Store) Store
	}{
		"memory": {
			store:   NewMemoryStore(),
			restart: func(_ *testing.T, s Store) Store { return s },
		},
		"viper": {
			store: viperStore,
			restart: func(t *testing.T, _ Store) Store {
				reopened, err := NewViperStore(path)
				require.NoError(t, err)
				return reopened
			},
		},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, tt.store.SetString(CategoryPlayback.LegacyKey(), "old-speaker"))
			d := NewPlaybackDevices(tt.store)
			require.Equal(t, []string{"old-speaker"}, d.Preferences())
			require.NoError(t, d.Reset())

			store := tt.restart(t, tt.store)
			assert.Empty(t, NewPlaybackDevices(store).Preferences(), "cleared preferences stay cleared")
			legacy, _ := store.GetString(CategoryPlayback.LegacyKey())
			assert.Equal(t, "old-speaker", legacy, "legacy key is never written")
		})
	}
}

func TestInvalidUTF8IDs(t *testing.T) {
	store := NewMemoryStore()
	d := NewCaptureDevices(store)
	bad := active("mic\xff", TransportUSB)

	assert.ErrorIs(t, d.SetDevice(&bad), ErrInvalidID)
	assert.Empty(t, d.Preferences())
	assert.Zero(t, store.Writes())

	selected, ok := d.SelectedDevice([]Device{bad, active("speaker", TransportBuiltIn)})
	require.True(t, ok)
	assert.Equal(t, "speaker", selected.ID)
	assert.Equal(t, []string{"speaker"}, d.Preferences())

	reloaded := NewCaptureDevices(store)
	assert.Equal(t, d.Preferences(), reloaded.Preferences(), "stored list round trips")
}

func TestMutationsAreCounted(t *testing.T) {
	reg := prometheus.NewRegistry()
	d := NewCaptureDevices(NewMemoryStore(), WithMetrics(metrics.New(reg)))
	d.SelectedDevice([]Device{active("usb", TransportUSB), active("bt", TransportBluetooth)})

	count, err := testutil.GatherAndCount(reg, "mediacore_devicepref_mutations_total")
	require.NoError(t, err)
	assert.Equal(t, 2, count, "one series per mutation kind")
}

func TestViperStorePersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "preferences.yaml")
	store, err := NewViperStore(path)
	require.NoError(t, err)

	d := NewCaptureDevices(store)
	d.SelectedDevice([]Device{active("usb-mic", TransportUSB)})

	reopened, err := NewViperStore(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"usb-mic"}, NewCaptureDevices(reopened).Preferences())

	require.NoError(t, reopened.RemoveKey(CategoryCapture.ListKey()))
	_, ok := reopened.GetString(CategoryCapture.ListKey())
	assert.False(t, ok)
	require.NoError(t, reopened.RemoveKey("never.set"))
}
