package entities

import (
	"sync"
	"time"
)

// RecordingSession accumulates PCM frames while a consultation capture is
// running. It is created on start and destroyed on stop, when the buffered
// frames are flushed into a single encoded blob.
type RecordingSession struct {
	ID        string
	Encoding  string
	StartedAt time.Time

	mu     sync.Mutex
	frames [][]int16
	level  float64
}

// NewRecordingSession creates a session tagged with the negotiated encoding.
func NewRecordingSession(id, encoding string) *RecordingSession {
	return &RecordingSession{
		ID:        id,
		Encoding:  encoding,
		StartedAt: time.Now(),
		frames:    make([][]int16, 0),
	}
}

// AppendFrame buffers one captured PCM frame.
func (r *RecordingSession) AppendFrame(frame []int16) {
	copied := make([]int16, len(frame))
	copy(copied, frame)
	r.mu.Lock()
	r.frames = append(r.frames, copied)
	r.mu.Unlock()
}

// Frames returns the buffered frames in capture order.
func (r *RecordingSession) Frames() [][]int16 {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([][]int16, len(r.frames))
	copy(out, r.frames)
	return out
}

// FrameCount returns how many frames have been buffered so far.
func (r *RecordingSession) FrameCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.frames)
}

// SetLevel stores the latest smoothed loudness level (0..1).
func (r *RecordingSession) SetLevel(level float64) {
	r.mu.Lock()
	r.level = level
	r.mu.Unlock()
}

// Level returns the latest smoothed loudness level (0..1).
func (r *RecordingSession) Level() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.level
}

// EncodedAudio is the finalized capture payload: one blob in the container
// matching the negotiated encoding.
type EncodedAudio struct {
	Data          []byte
	ContainerType string
	Encoding      string
	SampleRate    int
	Duration      time.Duration
}
