package repositories

import (
	"context"
	"fmt"
)

// CaptureDevice abstracts a microphone source producing PCM frames.
type CaptureDevice interface {
	// Start begins capture. Permission or device errors are terminal for the
	// attempt; callers must not retry automatically.
	Start(ctx context.Context) error
	// Frames returns the channel of signed 16-bit PCM frames. The channel is
	// closed when the device stops.
	Frames() <-chan []int16
	// SampleRate returns the capture sample rate in Hz.
	SampleRate() int
	// Stop releases the device. Idempotent.
	Stop() error
}

// AudioEncoder finalizes buffered PCM frames into a single encoded blob.
type AudioEncoder interface {
	// Encoding returns the encoding identifier, e.g. "LINEAR16".
	Encoding() string
	// ContainerType returns the MIME container for blobs this encoder
	// produces, e.g. "audio/wav".
	ContainerType() string
	// Encode flushes the frames into one blob.
	Encode(sampleRate int, frames [][]int16) ([]byte, error)
}

// CaptureUnavailableError collapses permission denials and unsupported-device
// failures into the single error class the capture flow surfaces. The
// underlying message is preserved; no finer distinction is made.
type CaptureUnavailableError struct {
	Err error
}

func (e *CaptureUnavailableError) Error() string {
	return fmt.Sprintf("audio capture unavailable: %v", e.Err)
}

func (e *CaptureUnavailableError) Unwrap() error {
	return e.Err
}
