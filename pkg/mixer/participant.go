package mixer

import (
	"slices"
	"sync"

	"github.com/Honorable-Knights-of-the-Roundtable/mediacore/pkg/direction"
	"github.com/Honorable-Knights-of-the-Roundtable/mediacore/pkg/engine"
	"github.com/Honorable-Knights-of-the-Roundtable/mediacore/pkg/mediadevice"
	"github.com/Honorable-Knights-of-the-Roundtable/mediacore/pkg/session"
	"github.com/google/uuid"
)

// Receives the source ids of the remote streams being mixed, ascending.
type ContributingSourcesListener func(ssrcs []uint32)

// The session of one call on a mixer Device.
//
// Its capture is the mix of every input except the call's own receive
// streams. Receive streams and playback sources become mixer inputs
// instead of getting players, the shared session plays the mix once for
// every call.
type MediaStreamMediaDeviceSession struct {
	*session.Session

	device *Device
	owner  string
	output *Output

	mu              sync.Mutex
	muted           bool
	levelListeners  []LevelListener
	sourceListeners []ContributingSourcesListener
	sources         []uint32

	closeOnce sync.Once
}

func newMediaStreamSession(d *Device) (*MediaStreamMediaDeviceSession, error) {
	owner := uuid.NewString()
	p := &MediaStreamMediaDeviceSession{device: d, owner: owner}
	p.output = d.mixer.NewOutput("call-"+owner, owner)

	s, err := session.NewBuilder(d).
		WithLogger(d.logger.With("call", owner)).
		WithMetrics(d.metrics).
		WithPipelineTimeout(d.timeout).
		WithStrategies(session.Strategies{
			CaptureFactory: func(mediadevice.MediaDevice) (engine.CaptureHandle, error) { return p.output, nil },
			PlaybackFilter: func(engine.ReceiveStream) bool { return false },
			PlaybackHook:   p.playbackChanged,
		}).
		Build()
	if err != nil {
		p.output.Close()
		return nil, err
	}
	p.Session = s
	return p, nil
}

// Identifies the call's inputs in the mixer.
func (p *MediaStreamMediaDeviceSession) Owner() string {
	return p.owner
}

// The mix captured by this call.
func (p *MediaStreamMediaDeviceSession) MixedOutput() *Output {
	return p.output
}

// Muting a call stops reporting its local audio level. The call's audio stays in the mix.
func (p *MediaStreamMediaDeviceSession) SetMute(mute bool) error {
	if err := p.Session.SetMute(mute); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.muted == mute {
		return nil
	}
	p.muted = mute
	for _, l := range p.levelListeners {
		if mute {
			p.device.levels.RemoveListener(l)
		} else {
			p.device.levels.AddListener(l)
		}
	}
	return nil
}

// Receive the local audio level while the call is not muted.
func (p *MediaStreamMediaDeviceSession) AddLocalLevelListener(l LevelListener) {
	if l == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.levelListeners = append(p.levelListeners, l)
	if !p.muted {
		p.device.levels.AddListener(l)
	}
}

func (p *MediaStreamMediaDeviceSession) RemoveLocalLevelListener(l LevelListener) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	i := slices.Index(p.levelListeners, l)
	if i < 0 {
		return false
	}
	p.levelListeners = slices.Delete(p.levelListeners, i, i+1)
	if !p.muted {
		p.device.levels.RemoveListener(l)
	}
	return true
}

func (p *MediaStreamMediaDeviceSession) AddRemoteLevelListener(ssrc int64, l LevelListener) {
	p.device.AddRemoteLevelListener(ssrc, l)
}

func (p *MediaStreamMediaDeviceSession) RemoveRemoteLevelListener(ssrc int64, l LevelListener) bool {
	return p.device.RemoveRemoteLevelListener(ssrc, l)
}

// Listeners are called on the goroutine of whichever call changed the
// sources, and must not call back into that call synchronously.
func (p *MediaStreamMediaDeviceSession) AddContributingSourcesListener(l ContributingSourcesListener) {
	if l == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sourceListeners = append(p.sourceListeners, l)
}

func (p *MediaStreamMediaDeviceSession) ContributingSources() []uint32 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.sources)
}

// Close the call in dir. Closing in direction.SendRecv also leaves the
// mixer, releasing the shared session if this was the last call.
func (p *MediaStreamMediaDeviceSession) Close(dir direction.Direction) error {
	err := p.Session.Close(dir)
	if dir.And(direction.SendRecv) != direction.SendRecv {
		return err
	}

	p.closeOnce.Do(func() {
		p.mu.Lock()
		listeners := p.levelListeners
		p.levelListeners = nil
		muted := p.muted
		p.mu.Unlock()
		if !muted {
			for _, l := range listeners {
				p.device.levels.RemoveListener(l)
			}
		}

		p.output.Close()
		p.device.removeParticipant(p)
	})
	return err
}

func (p *MediaStreamMediaDeviceSession) playbackChanged(change session.PlaybackChange) {
	if change.Added {
		p.device.addInput(p.owner, change.Entry)
	} else {
		p.device.removeInput(p.owner, change.Entry)
	}
}

func (p *MediaStreamMediaDeviceSession) forwardContributingSources(ids []uint32) {
	p.mu.Lock()
	if slices.Equal(p.sources, ids) {
		p.mu.Unlock()
		return
	}
	p.sources = slices.Clone(ids)
	listeners := slices.Clone(p.sourceListeners)
	p.mu.Unlock()

	for _, l := range listeners {
		l(slices.Clone(ids))
	}
}
