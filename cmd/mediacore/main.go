package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/Honorable-Knights-of-the-Roundtable/mediacore/cmd/config"
	"github.com/Honorable-Knights-of-the-Roundtable/mediacore/internal/metrics"
	"github.com/Honorable-Knights-of-the-Roundtable/mediacore/internal/registry"
	"github.com/Honorable-Knights-of-the-Roundtable/mediacore/internal/utils"
	"github.com/Honorable-Knights-of-the-Roundtable/mediacore/pkg/audiodevice/device"
	"github.com/Honorable-Knights-of-the-Roundtable/mediacore/pkg/devicepref"
	"github.com/Honorable-Knights-of-the-Roundtable/mediacore/pkg/direction"
	"github.com/Honorable-Knights-of-the-Roundtable/mediacore/pkg/engine"
	"github.com/Honorable-Knights-of-the-Roundtable/mediacore/pkg/engine/loopback"
	"github.com/Honorable-Knights-of-the-Roundtable/mediacore/pkg/mediadevice"
	"github.com/Honorable-Knights-of-the-Roundtable/mediacore/pkg/mediaformat"
	"github.com/Honorable-Knights-of-the-Roundtable/mediacore/pkg/mixer"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const numCalls = 2

// The devices of the loopback engine: a silent built-in microphone, and a
// .WAV file standing in for a USB microphone if one is configured.
type loopbackSystem struct {
	engine        *loopback.Engine
	registry      *registry.DeviceRegistry
	format        mediaformat.Format
	frameDuration time.Duration
	captureFile   string
}

func (s *loopbackSystem) Name() string { return "loopback" }

func (s *loopbackSystem) Init() error {
	s.registry.AddMediaDevice(mediadevice.NewSilenceDevice("builtin-mic", s.engine, s.format, s.frameDuration))
	if s.captureFile == "" {
		return nil
	}
	if _, err := os.Stat(s.captureFile); err != nil {
		return fmt.Errorf("capture file: %w", err)
	}
	s.registry.AddMediaDevice(mediadevice.NewCaptureDevice(
		s.fileDeviceID(),
		mediaformat.Audio,
		s.engine,
		func() (engine.CaptureHandle, error) {
			h, err := device.NewFileAudioInputDevice(s.captureFile, s.frameDuration, true)
			if err != nil {
				return nil, err
			}
			return device.NewConvertingCaptureDevice(h), nil
		},
		func() (engine.Renderer, error) {
			return device.NewDummyAudioSinkDevice(s.format.Properties), nil
		},
	))
	return nil
}

func (s *loopbackSystem) Close() error {
	for _, d := range s.registry.MediaDevices(mediaformat.Audio) {
		s.registry.RemoveMediaDevice(d.ID())
	}
	return nil
}

func (s *loopbackSystem) Enumerate(category devicepref.Category) []devicepref.Device {
	if category != devicepref.CategoryCapture {
		return nil
	}
	devices := []devicepref.Device{{
		ID:        "Built-in Microphone",
		ModelID:   "builtin-mic",
		Transport: devicepref.TransportBuiltIn,
		Active:    true,
	}}
	if s.captureFile != "" {
		devices = append(devices, devicepref.Device{
			ID:        filepath.Base(s.captureFile),
			ModelID:   s.fileDeviceID(),
			Transport: devicepref.TransportUSB,
			Active:    true,
		})
	}
	return devices
}

func (s *loopbackSystem) fileDeviceID() string {
	return "wav:" + filepath.Base(s.captureFile)
}

// --------------------------------------------------------------------------------

func openPreferenceStore(path string) (devicepref.Store, error) {
	if path == "" {
		return devicepref.NewMemoryStore(), nil
	}
	return devicepref.NewViperStore(path)
}

func serveMetrics(address string, reg *prometheus.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(reg))
	server := &http.Server{Addr: address, Handler: mux}
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics server stopped", "address", address, "err", err)
		}
	}()
	return server
}

func main() {
	configFilePath := flag.String("configFilePath", "config.yaml", "Set the file path to the config file.")
	flag.Parse()

	configManager, err := config.LoadConfig(*configFilePath)
	if err != nil {
		slog.Error("error while loading config", "err", err)
		panic(err)
	}
	cfg := configManager.Config()

	logLevel := new(slog.LevelVar)
	if level, err := utils.ParseLogLevel(cfg.LogLevel); err == nil {
		logLevel.Set(level)
	}
	logFilePointer, err := utils.ConfigureDefaultLogger(cfg.LogLevel, cfg.LogFile, slog.HandlerOptions{Level: logLevel})
	if err != nil {
		slog.Error("error while configuring default logger", "err", err)
		panic(err)
	}
	if logFilePointer != nil {
		defer logFilePointer.Close()
	}
	configManager.OnChange(func(c config.Config) {
		if level, err := utils.ParseLogLevel(c.LogLevel); err == nil {
			logLevel.Set(level)
		}
	})
	configManager.Watch()

	// --------------------------------------------------------------------------------

	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(promRegistry)
	metricsServer := serveMetrics(cfg.MetricsAddress, promRegistry)

	codecs, err := mediaformat.CodecsFromNames(cfg.Codecs)
	if err != nil {
		slog.Error("error while loading codecs", "err", err)
		panic(err)
	}
	formats := mediaformat.FormatsFor(mediaformat.Audio, codecs, mediaformat.Dimension{})
	if len(formats) == 0 {
		slog.Error("no audio codec configured", "codecs", cfg.Codecs)
		panic("no audio codec configured")
	}
	format := formats[0]

	// --------------------------------------------------------------------------------

	store, err := openPreferenceStore(cfg.PreferencesFile)
	if err != nil {
		slog.Error("error while opening device preferences", "err", err)
		panic(err)
	}
	deviceRegistry := registry.New(store,
		registry.WithMetrics(m),
		registry.WithAutoSelectUSB(cfg.AutoSelectUSB),
	)
	deviceRegistry.AddSelectionListener(func(category devicepref.Category, selected devicepref.Device, ok bool) {
		slog.Info("device selection", "category", category, "device", selected.Key(), "selected", ok)
	})
	err = deviceRegistry.Register(&loopbackSystem{
		engine:        loopback.New(),
		registry:      deviceRegistry,
		format:        format,
		frameDuration: cfg.FrameDuration,
		captureFile:   cfg.CaptureFile,
	})
	if err == nil {
		err = deviceRegistry.Init()
	}
	if err != nil {
		slog.Error("error while initializing devices", "err", err)
		panic(err)
	}
	defer deviceRegistry.Close()

	base, ok := deviceRegistry.SelectedMediaDevice(devicepref.CategoryCapture)
	if !ok {
		slog.Error("no capture device selected", "preferences", deviceRegistry.Preferences(devicepref.CategoryCapture).Preferences())
		os.Exit(1)
	}
	mixerDevice, err := mixer.NewDevice(base,
		mixer.WithMetrics(m),
		mixer.WithFormat(format),
		mixer.WithFrameDuration(cfg.FrameDuration),
		mixer.WithPipelineTimeout(cfg.PipelineTimeout),
	)
	if err != nil {
		slog.Error("error while creating mixer", "device", base.ID(), "err", err)
		panic(err)
	}

	// --------------------------------------------------------------------------------

	var packets atomic.Int64
	calls := make([]*mixer.MediaStreamMediaDeviceSession, 0, numCalls)
	for i := range numCalls {
		call, err := mixerDevice.CreateSession()
		if err != nil {
			slog.Error("error while creating call session", "call", i, "err", err)
			panic(err)
		}
		calls = append(calls, call)

		logger := call.Logger().With("call", i)
		call.AddLocalLevelListener(mixer.NewLevelListener(func(level int) {
			logger.Debug("local audio level", "level", level)
		}))
		if err := errors.Join(call.SetFormat(format), call.Start(direction.SendOnly)); err != nil {
			logger.Error("error while starting call session", "err", err)
			continue
		}
		if out, ok := call.Output(); ok {
			go func() {
				for range out {
					packets.Add(1)
				}
			}()
		}
	}
	slog.Info("mixer running",
		"device", mixerDevice.ID(),
		"format", format,
		"participants", mixerDevice.Participants(),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case <-ticker.C:
			slog.Info("packets sent", "count", packets.Load())
		}
	}

	// --------------------------------------------------------------------------------

	slog.Info("shutting down")
	for _, call := range calls {
		if err := call.Close(direction.SendRecv); err != nil {
			slog.Warn("error while closing call session", "err", err)
		}
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	metricsServer.Shutdown(shutdownCtx)
}
