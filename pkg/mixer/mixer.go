// Package mixer shares one audio capture device between several calls.
//
// The Mixer reads every input once per frame and produces one output per
// consumer, each leaving out the inputs owned by that consumer. The mixer
// Device puts a session in front of it, so calls see a private
// mixed-minus-self capture while sharing a single capture handle and a
// single playback of the mix.
package mixer

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Honorable-Knights-of-the-Roundtable/mediacore/pkg/audiodevice"
	"github.com/Honorable-Knights-of-the-Roundtable/mediacore/pkg/frame"
	"github.com/Honorable-Knights-of-the-Roundtable/mediacore/pkg/mediaformat"
)

// Owner of the local capture input.
const CaptureOwner = "capture"

type InputKind int

const (
	InputCapture InputKind = iota
	InputRemote
	InputSource
)

// Mix inputs into dst. dst is zeroed and as long as the longest input.
type MixFunc func(dst frame.PCMFrame, inputs []frame.PCMFrame)

// Sum the inputs, clipping to [-1, 1].
func AdditiveMix(dst frame.PCMFrame, inputs []frame.PCMFrame) {
	for _, in := range inputs {
		for i := 0; i < len(in) && i < len(dst); i++ {
			dst[i] += in[i]
		}
	}
	for i, sample := range dst {
		dst[i] = max(-1, min(1, sample))
	}
}

// Called with every frame read from an input, before mixing.
type ReadHook func(in InputInfo, f frame.PCMFrame)

type InputInfo struct {
	ID    string
	Owner string
	Kind  InputKind
	// Only set for InputRemote.
	SSRC int64
}

type input struct {
	InputInfo
	stream <-chan frame.PCMFrame
	muted  atomic.Bool
}

// Read at most one frame. ok is false once the stream is closed.
func (in *input) read() (f frame.PCMFrame, ok bool) {
	select {
	case f, ok = <-in.stream:
		return f, ok
	default:
		return nil, true
	}
}

type Mixer struct {
	logger        *slog.Logger
	format        mediaformat.Format
	frameDuration time.Duration
	mix           MixFunc

	mu       sync.Mutex
	inputs   []*input
	outputs  []*Output
	readHook ReadHook
}

type MixerOption func(*Mixer)

func WithMixFunc(mix MixFunc) MixerOption {
	return func(m *Mixer) {
		if mix != nil {
			m.mix = mix
		}
	}
}

func WithMixerLogger(logger *slog.Logger) MixerOption {
	return func(m *Mixer) { m.logger = logger }
}

// Mix audio of format f, one frame every frameDuration.
func NewMixer(f mediaformat.Format, frameDuration time.Duration, opts ...MixerOption) *Mixer {
	m := &Mixer{
		format:        f,
		frameDuration: frameDuration,
		mix:           AdditiveMix,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}
	return m
}

func (m *Mixer) Format() mediaformat.Format {
	return m.format
}

func (m *Mixer) Properties() audiodevice.DeviceProperties {
	return m.format.Properties
}

func (m *Mixer) SetReadHook(hook ReadHook) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.readHook = hook
}

// Add an input read from stream. Returns false if id is already an input.
func (m *Mixer) AddInput(info InputInfo, stream <-chan frame.PCMFrame) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if slices.ContainsFunc(m.inputs, func(in *input) bool { return in.ID == info.ID }) {
		return false
	}
	m.inputs = append(m.inputs, &input{InputInfo: info, stream: stream})
	m.logger.Debug("added mixer input", "input", info.ID, "owner", info.Owner)
	return true
}

func (m *Mixer) RemoveInput(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := len(m.inputs)
	m.inputs = slices.DeleteFunc(m.inputs, func(in *input) bool { return in.ID == id })
	if len(m.inputs) == n {
		return false
	}
	m.logger.Debug("removed mixer input", "input", id)
	return true
}

// A muted input is still read, and still levelled, but left out of every mix.
func (m *Mixer) SetInputMute(id string, mute bool) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, in := range m.inputs {
		if in.ID == id {
			in.muted.Store(mute)
			return true
		}
	}
	return false
}

func (m *Mixer) Inputs() []InputInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	infos := make([]InputInfo, len(m.inputs))
	for i, in := range m.inputs {
		infos[i] = in.InputInfo
	}
	return infos
}

// A new output mixing every input except those owned by one of exclude.
func (m *Mixer) NewOutput(id string, exclude ...string) *Output {
	out := newOutput(id, m, exclude)
	m.mu.Lock()
	m.outputs = append(m.outputs, out)
	m.mu.Unlock()
	return out
}

func (m *Mixer) removeOutput(out *Output) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outputs = slices.DeleteFunc(m.outputs, func(other *Output) bool { return other == out })
}

func (m *Mixer) NumOutputs() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.outputs)
}

// Read one frame from every input and push one mixed frame to every output.
func (m *Mixer) MixOnce() {
	m.mu.Lock()
	inputs := slices.Clone(m.inputs)
	outputs := slices.Clone(m.outputs)
	hook := m.readHook
	m.mu.Unlock()

	frames := make([]frame.PCMFrame, len(inputs))
	length := m.format.Properties.SamplesPerFrame(m.frameDuration)
	for i, in := range inputs {
		f, ok := in.read()
		if !ok {
			m.logger.Debug("mixer input closed", "input", in.ID)
			m.RemoveInput(in.ID)
			continue
		}
		if f == nil {
			continue
		}
		if hook != nil {
			hook(in.InputInfo, f)
		}
		if in.muted.Load() {
			continue
		}
		frames[i] = f
		length = max(length, len(f))
	}

	for _, out := range outputs {
		var contributions []frame.PCMFrame
		for i, in := range inputs {
			if frames[i] != nil && !out.excludes(in.Owner) {
				contributions = append(contributions, frames[i])
			}
		}
		mixed := make(frame.PCMFrame, length)
		m.mix(mixed, contributions)
		out.push(mixed)
	}
}

// Mix every frame duration until ctx is done.
func (m *Mixer) Run(ctx context.Context) {
	if m.frameDuration <= 0 {
		m.logger.Error("mixer cannot run without a frame duration")
		return
	}
	ticker := time.NewTicker(m.frameDuration)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.MixOnce()
		}
	}
}
