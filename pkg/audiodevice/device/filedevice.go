package device

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"os"
	"sync"
	"time"

	"github.com/Honorable-Knights-of-the-Roundtable/mediacore/pkg/audiodevice"
	"github.com/Honorable-Knights-of-the-Roundtable/mediacore/pkg/engine"
	"github.com/Honorable-Knights-of-the-Roundtable/mediacore/pkg/frame"
	"github.com/Honorable-Knights-of-the-Roundtable/mediacore/pkg/mediaformat"
	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/google/uuid"
)

const maxInt16 = float32(math.MaxInt16)

// --------------------------------------------------------------------------------
// FileAudioInputDevice

// A capture handle that plays a .WAV file while started, e.g. to stand in
// for a microphone. The file is decoded once and replayed from the start
// on every Start.
type FileAudioInputDevice struct {
	logger *slog.Logger
	uuid   uuid.UUID

	samples         []int
	properties      audiodevice.DeviceProperties
	frameDuration   time.Duration
	samplesPerFrame int
	loop            bool

	mu        sync.Mutex
	connected bool
	cancel    context.CancelFunc
	done      chan struct{}

	shutdownOnce sync.Once
	sinkStream   chan frame.PCMFrame
}

// Make a new FileAudioInputDevice from a .WAV file. The sample rate is
// determined by the file, the duration between frames by frameDuration.
//
// With loop set the file restarts once finished, otherwise playback stops.
func NewFileAudioInputDevice(
	audioFilePath string,
	frameDuration time.Duration,
	loop bool,
) (*FileAudioInputDevice, error) {
	uuid := uuid.New()
	logger := slog.Default().With(
		"file input device uuid", uuid,
	)

	f, err := os.Open(audioFilePath)
	if err != nil {
		logger.Error(
			"could not open audio file",
			"audioFile", audioFilePath,
			"err", err,
		)
		return nil, err
	}
	defer f.Close()

	decoder := wav.NewDecoder(f)
	if !decoder.IsValidFile() {
		logger.Error(
			"could not decode audio file",
			"audioFile", audioFilePath,
			"err", decoder.Err(),
		)
		return nil, errors.New("error while decoding audio file")
	}

	samplesPerFrame := int(float64(decoder.NumChans) * float64(decoder.SampleRate) *
		float64(frameDuration) / float64(time.Second))
	if samplesPerFrame <= 0 {
		logger.Error(
			"non-positive samples per frame during opening of file audio input",
			"audioFile", audioFilePath,
			"sampleRate", decoder.SampleRate,
			"channels", decoder.NumChans,
			"samplesPerFrame", samplesPerFrame,
		)
		return nil, errors.New("non-positive samples per frame")
	}

	buf, err := decoder.FullPCMBuffer()
	if err != nil {
		logger.Error("could not get full PCM buffer from audio file", "err", err)
		return nil, err
	}

	logger.Debug(
		"loaded audio file",
		"audioFile", audioFilePath,
		"sampleRate", decoder.SampleRate,
		"channels", decoder.NumChans,
		"samplesPerFrame", samplesPerFrame,
	)

	return &FileAudioInputDevice{
		logger:  logger,
		uuid:    uuid,
		samples: buf.Data,
		properties: audiodevice.DeviceProperties{
			SampleRate:  int(decoder.SampleRate),
			NumChannels: int(decoder.NumChans),
		},
		frameDuration:   frameDuration,
		samplesPerFrame: samplesPerFrame,
		loop:            loop,
		sinkStream:      make(chan frame.PCMFrame, 1),
	}, nil
}

func (d *FileAudioInputDevice) ID() string                       { return d.uuid.String() }
func (d *FileAudioInputDevice) MediaType() mediaformat.MediaType { return mediaformat.Audio }

func (d *FileAudioInputDevice) Format() mediaformat.Format {
	return mediaformat.Format{MediaType: mediaformat.Audio, Properties: d.properties}
}

func (d *FileAudioInputDevice) Connect() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.connected = true
	return nil
}

func (d *FileAudioInputDevice) Disconnect() {
	d.Stop()
	d.mu.Lock()
	defer d.mu.Unlock()
	d.connected = false
}

func (d *FileAudioInputDevice) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.connected {
		return engine.ErrWrongState
	}
	if d.cancel != nil {
		return nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	d.cancel = cancel
	d.done = make(chan struct{})
	go d.play(ctx, d.done)
	return nil
}

func (d *FileAudioInputDevice) Stop() error {
	d.mu.Lock()
	cancel, done := d.cancel, d.done
	d.cancel, d.done = nil, nil
	d.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	return nil
}

func (d *FileAudioInputDevice) play(ctx context.Context, done chan<- struct{}) {
	defer close(done)
	d.logger.Debug("playing audio")

	ticker := time.NewTicker(d.frameDuration)
	defer ticker.Stop()
	for {
		for frameStart := 0; frameStart < len(d.samples); frameStart += d.samplesPerFrame {
			frameEnd := min(frameStart+d.samplesPerFrame, len(d.samples))
			pcmFrame := make(frame.PCMFrame, frameEnd-frameStart)
			for i := range pcmFrame {
				pcmFrame[i] = float32(d.samples[frameStart+i]) / maxInt16
			}

			select {
			case <-ticker.C:
				select {
				case d.sinkStream <- pcmFrame:
				case <-ctx.Done():
					return
				}
			case <-ctx.Done():
				return
			}
		}
		if !d.loop {
			d.logger.Debug("finished playing")
			return
		}
	}
}

func (d *FileAudioInputDevice) Close() {
	d.logger.Debug("shutdown called")
	d.Stop()
	d.shutdownOnce.Do(func() {
		close(d.sinkStream)
	})
}

func (d *FileAudioInputDevice) GetStream() <-chan frame.PCMFrame {
	return d.sinkStream
}

func (d *FileAudioInputDevice) GetDeviceProperties() audiodevice.DeviceProperties {
	return d.properties
}

// --------------------------------------------------------------------------------
// FileAudioOutputDevice

// A renderer that writes incoming PCM frames to a .WAV file.
// The file is only valid once the input stream is closed, or the device is closed.
type FileAudioOutputDevice struct {
	ctx           context.Context
	ctxCancelFunc context.CancelFunc
	logger        *slog.Logger
	uuid          uuid.UUID
	encoder       *wav.Encoder
	fileHandle    *os.File

	mu        sync.Mutex
	hasStream bool
	closeOnce sync.Once
}

func NewFileAudioOutputDevice(
	audioFilePath string,
	sampleRate int,
	numChannels int,
) (*FileAudioOutputDevice, error) {
	uuid := uuid.New()
	logger := slog.Default().With(
		"file output device uuid", uuid,
	)

	f, err := os.Create(audioFilePath)
	if err != nil {
		logger.Error(
			"could not open audio file",
			"audioFile", audioFilePath,
			"err", err,
		)
		return nil, err
	}

	encoder := wav.NewEncoder(f, sampleRate, 16, numChannels, 1)

	logger.Debug(
		"created audio file",
		"audioFile", audioFilePath,
		"sampleRate", encoder.SampleRate,
		"channels", encoder.NumChans,
	)

	ctx, ctxCancelFunc := context.WithCancel(context.Background())
	return &FileAudioOutputDevice{
		ctx:           ctx,
		ctxCancelFunc: ctxCancelFunc,
		logger:        logger,
		uuid:          uuid,
		encoder:       encoder,
		fileHandle:    f,
	}, nil
}

func (d *FileAudioOutputDevice) Name() string { return "wav:" + d.fileHandle.Name() }
func (d *FileAudioOutputDevice) Start() error { return nil }
func (d *FileAudioOutputDevice) Stop() error  { return nil }

// Finalize the file unless a stream is still being written, in which case
// the file is finalized when that stream closes.
func (d *FileAudioOutputDevice) Close() {
	d.mu.Lock()
	hasStream := d.hasStream
	d.mu.Unlock()
	if !hasStream {
		d.close()
	}
}

// Blocks until the file has been finalized.
func (d *FileAudioOutputDevice) WaitForClose() {
	<-d.ctx.Done()
}

func (d *FileAudioOutputDevice) close() {
	d.closeOnce.Do(func() {
		if err := d.encoder.Close(); err != nil {
			d.logger.Error("error while finalizing file", "err", err)
		}
		d.fileHandle.Sync()
		d.fileHandle.Close()
		d.ctxCancelFunc()
	})
}

// The file is finalized once sourceChannel is closed.
func (d *FileAudioOutputDevice) SetStream(sourceChannel <-chan frame.PCMFrame) {
	d.mu.Lock()
	d.hasStream = true
	d.mu.Unlock()

	go func() {
		bufFormat := &goaudio.Format{
			SampleRate:  d.encoder.SampleRate,
			NumChannels: d.encoder.NumChans,
		}
		for pcmFrame := range sourceChannel {
			buf := &goaudio.IntBuffer{
				Format:         bufFormat,
				Data:           make([]int, len(pcmFrame)),
				SourceBitDepth: 16,
			}
			for i, sample := range pcmFrame {
				buf.Data[i] = int(max(-1, min(1, sample)) * maxInt16)
			}

			if err := d.encoder.Write(buf); err != nil {
				d.logger.Error("error while writing frame to file", "err", err)
				continue
			}
		}
		d.logger.Debug("incoming audio stream closed")
		d.close()
	}()
}

func (d *FileAudioOutputDevice) GetDeviceProperties() audiodevice.DeviceProperties {
	return audiodevice.DeviceProperties{
		SampleRate:  d.encoder.SampleRate,
		NumChannels: d.encoder.NumChans,
	}
}
