package mixer

import (
	"sync"
	"sync/atomic"

	"github.com/Honorable-Knights-of-the-Roundtable/mediacore/pkg/frame"
)

// Receives audio levels in -dBov, see frame.AudioLevel.
//
// Listeners are registered by identity, so implementations must be comparable.
type LevelListener interface {
	AudioLevelChanged(level int)
}

type levelFunc struct {
	fn func(level int)
}

func (l *levelFunc) AudioLevelChanged(level int) { l.fn(level) }

// Wrap fn as a LevelListener. Each call returns a distinct listener.
func NewLevelListener(fn func(level int)) LevelListener {
	return &levelFunc{fn: fn}
}

// --------------------------------------------------------------------------------
// Level Dispatcher

// A LevelDispatcher measures frames and fires the level to its listeners.
//
// Registration is reference counted: a listener added n times keeps
// receiving levels until it is removed n times. Process reads an immutable
// snapshot of the listeners and never takes the registration lock.
type LevelDispatcher struct {
	mu     sync.Mutex
	counts map[LevelListener]int
	order  []LevelListener

	snapshot atomic.Pointer[[]LevelListener]

	// Called with the number of distinct listeners after every change.
	onChange func(n int)
}

func NewLevelDispatcher() *LevelDispatcher {
	return &LevelDispatcher{counts: make(map[LevelListener]int)}
}

func (d *LevelDispatcher) AddListener(l LevelListener) {
	if l == nil {
		return
	}
	d.mu.Lock()
	d.counts[l]++
	if d.counts[l] == 1 {
		d.order = append(d.order, l)
		d.publish()
	}
	n := len(d.order)
	d.mu.Unlock()

	d.changed(n)
}

// Drop one registration of l. Returns false if l was not registered.
func (d *LevelDispatcher) RemoveListener(l LevelListener) bool {
	d.mu.Lock()
	count, ok := d.counts[l]
	if !ok {
		d.mu.Unlock()
		return false
	}
	if count > 1 {
		d.counts[l] = count - 1
		d.mu.Unlock()
		return true
	}
	delete(d.counts, l)
	for i, other := range d.order {
		if other == l {
			d.order = append(d.order[:i:i], d.order[i+1:]...)
			break
		}
	}
	d.publish()
	n := len(d.order)
	d.mu.Unlock()

	d.changed(n)
	return true
}

// Number of distinct listeners.
func (d *LevelDispatcher) ListenerCount() int {
	snapshot := d.snapshot.Load()
	if snapshot == nil {
		return 0
	}
	return len(*snapshot)
}

func (d *LevelDispatcher) HasListeners() bool {
	return d.ListenerCount() > 0
}

// Measure f and fire its level. The level is only computed when someone listens.
func (d *LevelDispatcher) Process(f frame.PCMFrame) {
	snapshot := d.snapshot.Load()
	if snapshot == nil || len(*snapshot) == 0 {
		return
	}
	level := frame.AudioLevel(f)
	for _, l := range *snapshot {
		l.AudioLevelChanged(level)
	}
}

// Call with d.mu held.
func (d *LevelDispatcher) publish() {
	snapshot := append([]LevelListener(nil), d.order...)
	d.snapshot.Store(&snapshot)
}

func (d *LevelDispatcher) changed(n int) {
	if d.onChange != nil {
		d.onChange(n)
	}
}

// --------------------------------------------------------------------------------
// Remote Levels

// Key of a remote stream in the level cache: the low 32 bits of its SSRC.
func SourceID(ssrc int64) uint32 {
	return uint32(ssrc & 0xFFFFFFFF)
}

// A cache of level dispatchers, one per remote stream.
//
// Dispatchers are created by the first listener registration for a stream
// and only removed by Remove, once the stream itself is gone.
type RemoteLevels struct {
	mu          sync.RWMutex
	dispatchers map[uint32]*LevelDispatcher
}

func NewRemoteLevels() *RemoteLevels {
	return &RemoteLevels{dispatchers: make(map[uint32]*LevelDispatcher)}
}

func (r *RemoteLevels) AddListener(ssrc int64, l LevelListener) {
	if l == nil {
		return
	}
	id := SourceID(ssrc)
	r.mu.Lock()
	d, ok := r.dispatchers[id]
	if !ok {
		d = NewLevelDispatcher()
		r.dispatchers[id] = d
	}
	r.mu.Unlock()

	d.AddListener(l)
}

func (r *RemoteLevels) RemoveListener(ssrc int64, l LevelListener) bool {
	d, ok := r.Dispatcher(ssrc)
	if !ok {
		return false
	}
	return d.RemoveListener(l)
}

func (r *RemoteLevels) Dispatcher(ssrc int64) (*LevelDispatcher, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	d, ok := r.dispatchers[SourceID(ssrc)]
	return d, ok
}

// Forget the stream with ssrc and all its listeners.
func (r *RemoteLevels) Remove(ssrc int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.dispatchers, SourceID(ssrc))
}

func (r *RemoteLevels) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.dispatchers)
}
