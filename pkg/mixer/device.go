package mixer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Honorable-Knights-of-the-Roundtable/mediacore/internal/metrics"
	"github.com/Honorable-Knights-of-the-Roundtable/mediacore/pkg/direction"
	"github.com/Honorable-Knights-of-the-Roundtable/mediacore/pkg/engine"
	"github.com/Honorable-Knights-of-the-Roundtable/mediacore/pkg/frame"
	"github.com/Honorable-Knights-of-the-Roundtable/mediacore/pkg/mediadevice"
	"github.com/Honorable-Knights-of-the-Roundtable/mediacore/pkg/mediaformat"
	"github.com/Honorable-Knights-of-the-Roundtable/mediacore/pkg/session"
	"github.com/google/uuid"
)

const (
	DefaultFrameDuration = 20 * time.Millisecond
	captureInputID       = "capture"
)

var ErrNotMixable = errors.New("device cannot back an audio mixer")

// Receives every non-empty frame read from a remote stream.
type RawBufferObserver func(ssrc int64, f frame.PCMFrame)

// A MediaDevice sharing an audio device between calls.
//
// The first call session opens a shared session holding the genuine capture
// handle and the one player of the mix. Closing the last call session
// closes it again.
type Device struct {
	id        string
	logger    *slog.Logger
	metrics   *metrics.Metrics
	base      mediadevice.MediaDevice
	pipelines mediadevice.PipelineCapable
	captures  mediadevice.CaptureCapable

	format        mediaformat.Format
	frameDuration time.Duration
	manual        bool
	mixOpts       []MixerOption
	timeout       time.Duration

	mixer  *Mixer
	levels *LevelDispatcher
	remote *RemoteLevels
	raw    atomic.Pointer[RawBufferObserver]

	mu           sync.Mutex
	shared       *session.Session
	sharedOutput *Output
	stopMixing   context.CancelFunc
	mixing       sync.WaitGroup
	participants []*MediaStreamMediaDeviceSession

	captureMu        sync.Mutex
	capture          engine.CaptureHandle
	captureConnected bool
}

type Option func(*Device)

func WithLogger(logger *slog.Logger) Option {
	return func(d *Device) { d.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(d *Device) { d.metrics = m }
}

// Format of the mix. Defaults to the format of a capture handle opened from the base device.
func WithFormat(f mediaformat.Format) Option {
	return func(d *Device) { d.format = f }
}

func WithFrameDuration(frameDuration time.Duration) Option {
	return func(d *Device) { d.frameDuration = frameDuration }
}

// Leave calling MixOnce to the owner of the device.
func WithManualMixing() Option {
	return func(d *Device) { d.manual = true }
}

func WithMix(mix MixFunc) Option {
	return func(d *Device) { d.mixOpts = append(d.mixOpts, WithMixFunc(mix)) }
}

func WithPipelineTimeout(timeout time.Duration) Option {
	return func(d *Device) { d.timeout = timeout }
}

// Build a mixer on base, which must be an audio device able to capture and create pipelines.
func NewDevice(base mediadevice.MediaDevice, opts ...Option) (*Device, error) {
	if base == nil || base.MediaType() != mediaformat.Audio {
		return nil, fmt.Errorf("%w: need an audio device", ErrNotMixable)
	}
	pipelines, ok := base.(mediadevice.PipelineCapable)
	if !ok {
		return nil, fmt.Errorf("%w: %s cannot create pipelines", ErrNotMixable, base.ID())
	}
	captures, ok := base.(mediadevice.CaptureCapable)
	if !ok {
		return nil, fmt.Errorf("%w: %s cannot capture", ErrNotMixable, base.ID())
	}

	d := &Device{
		id:            "mixer-" + base.ID(),
		base:          base,
		pipelines:     pipelines,
		captures:      captures,
		frameDuration: DefaultFrameDuration,
		timeout:       session.DefaultPipelineTimeout,
		levels:        NewLevelDispatcher(),
		remote:        NewRemoteLevels(),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.logger == nil {
		d.logger = slog.Default()
	}
	d.logger = d.logger.With("mixer uuid", uuid.New(), "device", base.ID())
	if d.format.IsZero() {
		d.format = mediaformat.NewAudioFormat(mediaformat.CodecMap["CodecOpus48000Mono"])
	}
	d.levels.onChange = d.metrics.SetLevelListeners

	d.mixer = NewMixer(d.format, d.frameDuration, append([]MixerOption{WithMixerLogger(d.logger)}, d.mixOpts...)...)
	d.mixer.SetReadHook(d.onRead)
	return d, nil
}

func (d *Device) ID() string                       { return d.id }
func (d *Device) Kind() mediadevice.Kind           { return mediadevice.KindMixer }
func (d *Device) MediaType() mediaformat.MediaType { return mediaformat.Audio }
func (d *Device) Direction() direction.Direction   { return d.base.Direction() }
func (d *Device) Base() mediadevice.MediaDevice    { return d.base }
func (d *Device) Mixer() *Mixer                    { return d.mixer }

func (d *Device) CreatePipeline(src engine.DataSource, f mediaformat.Format) (engine.Pipeline, error) {
	return d.pipelines.CreatePipeline(src, f)
}

func (d *Device) CreatePlayer(src engine.DataSource) (engine.Pipeline, error) {
	return d.pipelines.CreatePlayer(src)
}

func (d *Device) CreateRenderer() (engine.Renderer, error) {
	rc, ok := d.base.(mediadevice.RenderCapable)
	if !ok {
		return nil, fmt.Errorf("device %s cannot render", d.base.ID())
	}
	return rc.CreateRenderer()
}

// The mix of every remote input, without the local capture. The caller closes it.
func (d *Device) CreateOutputDataSource() *Output {
	return d.mixer.NewOutput("output-"+uuid.NewString(), CaptureOwner)
}

// Open a session for one call. Its capture is the mix of everything but the call's own streams.
func (d *Device) CreateSession() (*MediaStreamMediaDeviceSession, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.shared == nil {
		if err := d.openShared(); err != nil {
			return nil, err
		}
	}
	p, err := newMediaStreamSession(d)
	if err != nil {
		if len(d.participants) == 0 {
			d.closeShared()
		}
		return nil, err
	}
	d.participants = append(d.participants, p)
	d.metrics.SetMixerParticipants(len(d.participants))
	d.logger.Debug("added call session", "call", p.owner, "participants", len(d.participants))
	return p, nil
}

func (d *Device) Participants() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.participants)
}

// The session holding the genuine capture handle, nil without participants.
func (d *Device) SharedSession() *session.Session {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.shared
}

// The genuine capture handle, nil without participants.
func (d *Device) CaptureHandle() engine.CaptureHandle {
	d.captureMu.Lock()
	defer d.captureMu.Unlock()
	return d.capture
}

func (d *Device) AddLocalLevelListener(l LevelListener) { d.levels.AddListener(l) }

func (d *Device) RemoveLocalLevelListener(l LevelListener) bool { return d.levels.RemoveListener(l) }

func (d *Device) LocalLevels() *LevelDispatcher { return d.levels }

func (d *Device) AddRemoteLevelListener(ssrc int64, l LevelListener) { d.remote.AddListener(ssrc, l) }

func (d *Device) RemoveRemoteLevelListener(ssrc int64, l LevelListener) bool {
	return d.remote.RemoveListener(ssrc, l)
}

func (d *Device) RemoteLevels() *RemoteLevels { return d.remote }

// A nil observer removes the current one.
func (d *Device) SetRawBufferObserver(observer RawBufferObserver) {
	if observer == nil {
		d.raw.Store(nil)
		return
	}
	d.raw.Store(&observer)
}

// Source ids of every remote stream being mixed, ascending.
func (d *Device) ContributingSources() []uint32 {
	var ids []uint32
	for _, in := range d.mixer.Inputs() {
		if in.Kind == InputRemote {
			ids = append(ids, SourceID(in.SSRC))
		}
	}
	slices.Sort(ids)
	return slices.Compact(ids)
}

// --------------------------------------------------------------------------------
// Connecting

// Connect src. Only the genuine capture handle is connected as a mixer
// input, anything else is connected directly.
func (d *Device) ConnectSource(src engine.DataSource) error {
	if d.isCapture(src) {
		return d.connectCapture()
	}
	return src.Connect()
}

func (d *Device) DisconnectSource(src engine.DataSource) {
	if d.isCapture(src) {
		d.disconnectCapture()
		return
	}
	src.Disconnect()
}

func (d *Device) isCapture(src engine.DataSource) bool {
	d.captureMu.Lock()
	defer d.captureMu.Unlock()
	return d.capture != nil && engine.Underlying(src) == engine.DataSource(d.capture)
}

func (d *Device) openCapture() (engine.CaptureHandle, error) {
	h, err := d.captures.CreateCaptureHandle()
	if err != nil {
		return nil, err
	}
	d.captureMu.Lock()
	d.capture = h
	d.captureMu.Unlock()
	return &sharedCapture{CaptureHandle: h, device: d}, nil
}

func (d *Device) connectCapture() error {
	d.captureMu.Lock()
	defer d.captureMu.Unlock()
	if d.captureConnected {
		return nil
	}
	if err := d.capture.Connect(); err != nil {
		return err
	}
	d.captureConnected = true
	if err := d.capture.Start(); err != nil {
		d.logger.Warn("failed to start capture device", "capture", d.capture.ID(), "err", err)
	}

	pcm, ok := d.capture.(engine.PCMSource)
	if !ok {
		d.logger.Warn("capture device does not push audio, mixing without it", "capture", d.capture.ID())
		return nil
	}
	d.mixer.AddInput(InputInfo{ID: captureInputID, Owner: CaptureOwner, Kind: InputCapture}, pcm.GetStream())
	return nil
}

func (d *Device) disconnectCapture() {
	d.captureMu.Lock()
	defer d.captureMu.Unlock()
	if !d.captureConnected {
		return
	}
	d.mixer.RemoveInput(captureInputID)
	if err := d.capture.Stop(); err != nil {
		d.logger.Warn("failed to stop capture device", "capture", d.capture.ID(), "err", err)
	}
	d.capture.Disconnect()
	d.captureConnected = false
}

// --------------------------------------------------------------------------------
// Shared session

// Call with d.mu held.
func (d *Device) openShared() error {
	s, err := session.NewBuilder(d).
		WithLogger(d.logger).
		WithMetrics(d.metrics).
		WithPipelineTimeout(d.timeout).
		WithStrategies(session.Strategies{
			CaptureFactory: func(mediadevice.MediaDevice) (engine.CaptureHandle, error) { return d.openCapture() },
		}).
		Build()
	if err != nil {
		return err
	}
	d.shared = s

	if s.ConnectedCaptureDevice() == nil {
		d.logger.Warn("mixing without local capture")
	}
	if d.Direction().AllowsReceiving() {
		d.sharedOutput = d.CreateOutputDataSource()
		s.AddPlaybackDataSource(d.sharedOutput)
		if err := s.Start(direction.RecvOnly); err != nil {
			d.logger.Warn("failed to start playback of the mix", "err", err)
		}
	}

	if !d.manual {
		ctx, cancel := context.WithCancel(context.Background())
		d.stopMixing = cancel
		d.mixing.Add(1)
		go func() {
			defer d.mixing.Done()
			d.mixer.Run(ctx)
		}()
	}
	d.logger.Debug("opened shared mixer session")
	return nil
}

// Call with d.mu held.
func (d *Device) closeShared() {
	if d.shared == nil {
		return
	}
	if d.stopMixing != nil {
		d.stopMixing()
		d.mixing.Wait()
		d.stopMixing = nil
	}

	if err := d.shared.Close(direction.SendRecv); err != nil {
		d.logger.Warn("failed to close shared mixer session", "err", err)
	}
	if d.sharedOutput != nil {
		d.sharedOutput.Close()
		d.sharedOutput = nil
	}
	d.shared = nil

	d.captureMu.Lock()
	d.capture = nil
	d.captureMu.Unlock()
	d.logger.Debug("closed shared mixer session")
}

func (d *Device) removeParticipant(p *MediaStreamMediaDeviceSession) {
	d.mu.Lock()
	defer d.mu.Unlock()
	i := slices.Index(d.participants, p)
	if i < 0 {
		return
	}
	d.participants = slices.Delete(d.participants, i, i+1)
	d.metrics.SetMixerParticipants(len(d.participants))
	d.logger.Debug("removed call session", "call", p.owner, "participants", len(d.participants))

	if len(d.participants) == 0 {
		d.closeShared()
	}
}

// --------------------------------------------------------------------------------
// Inputs of calls

func inputID(owner string, entry session.PlaybackEntry) string {
	if rs := entry.ReceiveStream; rs != nil {
		return fmt.Sprintf("%s/%d", owner, SourceID(rs.SSRC()))
	}
	return owner + "/" + entry.Source.ID()
}

func (d *Device) addInput(owner string, entry session.PlaybackEntry) {
	src := entry.Source
	if src == nil {
		return
	}
	if err := d.ConnectSource(src); err != nil {
		d.logger.Warn("failed to connect call input", "source", src.ID(), "err", err)
		return
	}
	if err := src.Start(); err != nil {
		d.logger.Debug("call input did not start", "source", src.ID(), "err", err)
	}
	pcm, ok := src.(engine.PCMSource)
	if !ok || !engine.IsPushable(src) {
		d.logger.Warn("call input does not push audio, not mixing it", "source", src.ID())
		return
	}

	info := InputInfo{ID: inputID(owner, entry), Owner: owner, Kind: InputSource}
	if rs := entry.ReceiveStream; rs != nil {
		info.Kind = InputRemote
		info.SSRC = rs.SSRC()
	}
	if !d.mixer.AddInput(info, pcm.GetStream()) {
		return
	}
	if info.Kind == InputRemote {
		d.notifyContributingSources()
	}
}

func (d *Device) removeInput(owner string, entry session.PlaybackEntry) {
	if entry.Source == nil {
		return
	}
	removed := d.mixer.RemoveInput(inputID(owner, entry))
	d.DisconnectSource(entry.Source)
	if rs := entry.ReceiveStream; rs != nil {
		d.remote.Remove(rs.SSRC())
		if removed {
			d.notifyContributingSources()
		}
	}
}

func (d *Device) notifyContributingSources() {
	ids := d.ContributingSources()
	d.mu.Lock()
	participants := slices.Clone(d.participants)
	d.mu.Unlock()
	for _, p := range participants {
		p.forwardContributingSources(ids)
	}
}

func (d *Device) onRead(in InputInfo, f frame.PCMFrame) {
	switch in.Kind {
	case InputCapture:
		d.levels.Process(f)
	case InputRemote:
		if dispatcher, ok := d.remote.Dispatcher(in.SSRC); ok {
			dispatcher.Process(f)
		}
		if observer := d.raw.Load(); observer != nil && len(f) > 0 {
			(*observer)(in.SSRC, f)
		}
	}
}

// --------------------------------------------------------------------------------

// The capture handle of the shared session, connected through the mixer.
type sharedCapture struct {
	engine.CaptureHandle
	device *Device
	muted  atomic.Bool
}

func (c *sharedCapture) Connect() error { return c.device.ConnectSource(c.CaptureHandle) }
func (c *sharedCapture) Disconnect()    { c.device.DisconnectSource(c.CaptureHandle) }

// The mixer starts and stops the genuine capture with its connection.
func (c *sharedCapture) Start() error { return nil }
func (c *sharedCapture) Stop() error  { return nil }

// Muting leaves the local capture out of every mix.
func (c *sharedCapture) SetMute(mute bool) {
	c.muted.Store(mute)
	c.device.mixer.SetInputMute(captureInputID, mute)
}

func (c *sharedCapture) IsMute() bool { return c.muted.Load() }

func (c *sharedCapture) Unwrap() engine.CaptureHandle { return c.CaptureHandle }
