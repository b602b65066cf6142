package audio

import (
	"context"
	"encoding/binary"
	"errors"
	"io"
	"os"
	"sync"

	"go.uber.org/zap"

	"github.com/yjainexcollo/clinicai-intake/domain/repositories"
)

const defaultFrameSamples = 1024

// ReaderDevice captures little-endian 16-bit PCM from an io.Reader, typically
// a capture pipe or a prerecorded file. Each frame holds defaultFrameSamples
// samples except possibly the last.
type ReaderDevice struct {
	source     io.ReadCloser
	sampleRate int
	logger     *zap.Logger

	mu      sync.Mutex
	started bool
	stopped bool
	frames  chan []int16
}

var _ repositories.CaptureDevice = (*ReaderDevice)(nil)

// NewReaderDevice wraps an already-open PCM source.
func NewReaderDevice(source io.ReadCloser, sampleRate int, logger *zap.Logger) *ReaderDevice {
	return &ReaderDevice{
		source:     source,
		sampleRate: sampleRate,
		logger:     logger,
		frames:     make(chan []int16, 16),
	}
}

// OpenPCMFile opens a raw PCM file as a capture device. A missing or
// unreadable path is a capture-unavailable condition, mirroring a denied
// microphone permission.
func OpenPCMFile(path string, sampleRate int, logger *zap.Logger) (*ReaderDevice, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &repositories.CaptureUnavailableError{Err: err}
	}
	return NewReaderDevice(f, sampleRate, logger), nil
}

// Start begins reading frames until the source drains or Stop is called.
func (d *ReaderDevice) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started {
		return errors.New("capture already started")
	}
	if d.source == nil {
		return &repositories.CaptureUnavailableError{Err: errors.New("no audio source configured")}
	}
	d.started = true

	go d.readLoop(ctx)
	return nil
}

// Frames returns the capture channel; closed when the device stops.
func (d *ReaderDevice) Frames() <-chan []int16 {
	return d.frames
}

// SampleRate returns the configured sample rate.
func (d *ReaderDevice) SampleRate() int {
	return d.sampleRate
}

// Stop releases the source. Idempotent.
func (d *ReaderDevice) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return nil
	}
	d.stopped = true
	return d.source.Close()
}

func (d *ReaderDevice) readLoop(ctx context.Context) {
	defer close(d.frames)

	raw := make([]byte, defaultFrameSamples*2)
	for {
		n, err := io.ReadFull(d.source, raw)
		if n > 0 {
			frame := make([]int16, n/2)
			for i := range frame {
				frame[i] = int16(binary.LittleEndian.Uint16(raw[i*2 : i*2+2]))
			}
			select {
			case d.frames <- frame:
			case <-ctx.Done():
				return
			}
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) && !d.isStopped() {
				d.logger.Error("Audio source read failed", zap.Error(err))
			}
			return
		}
	}
}

func (d *ReaderDevice) isStopped() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stopped
}
