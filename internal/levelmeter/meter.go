// Package levelmeter computes a smoothed 0..1 loudness level from PCM frames
// at a steady cadence, for live recording feedback.
package levelmeter

import (
	"errors"
	"math"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap"
)

const (
	// DefaultInterval approximates a display refresh cadence.
	DefaultInterval = 33 * time.Millisecond
	// DefaultSmoothing is the weight given to the previous level:
	// level = smoothing*prev + (1-smoothing)*rms.
	DefaultSmoothing = 0.8
)

// Options configures a Meter.
type Options struct {
	Interval  time.Duration
	Smoothing float64
	Clock     clock.Clock
}

func (o Options) withDefaults() Options {
	if o.Interval <= 0 {
		o.Interval = DefaultInterval
	}
	if o.Smoothing <= 0 || o.Smoothing >= 1 {
		o.Smoothing = DefaultSmoothing
	}
	if o.Clock == nil {
		o.Clock = clock.New()
	}
	return o
}

// Meter owns its metering loop and its cancellation. Once Stop returns, the
// level callback is guaranteed not to fire again.
type Meter struct {
	logger *zap.Logger
	opts   Options

	mu      sync.Mutex
	window  []int16
	level   float64
	started bool
	stopped bool

	stopCh chan struct{}
	doneCh chan struct{}
}

// New creates a meter.
func New(logger *zap.Logger, opts Options) *Meter {
	return &Meter{
		logger: logger,
		opts:   opts.withDefaults(),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

// Start launches the metering loop. onLevel receives the smoothed level on
// every tick and must be fast; it is invoked from the meter goroutine.
func (m *Meter) Start(onLevel func(level float64)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started {
		return errors.New("meter already started")
	}
	m.started = true

	go m.run(onLevel)
	return nil
}

// Feed replaces the sample window the next tick will measure.
func (m *Meter) Feed(frame []int16) {
	copied := make([]int16, len(frame))
	copy(copied, frame)
	m.mu.Lock()
	m.window = copied
	m.mu.Unlock()
}

// Level returns the most recent smoothed level.
func (m *Meter) Level() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.level
}

// Stop tears down the loop and blocks until it has exited. Idempotent.
func (m *Meter) Stop() {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}
	m.stopped = true
	started := m.started
	m.mu.Unlock()

	close(m.stopCh)
	if started {
		<-m.doneCh
	}
}

func (m *Meter) run(onLevel func(level float64)) {
	defer close(m.doneCh)

	ticker := m.opts.Clock.Ticker(m.opts.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopCh:
			m.logger.Debug("Level meter loop stopped")
			return
		case <-ticker.C:
			level := m.measure()
			onLevel(level)
		}
	}
}

func (m *Meter) measure() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	rms := rootMeanSquare(m.window)
	m.level = m.opts.Smoothing*m.level + (1-m.opts.Smoothing)*rms
	return m.level
}

// rootMeanSquare normalizes signed 16-bit samples to 0..1.
func rootMeanSquare(samples []int16) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		v := float64(s) / 32768.0
		sum += v * v
	}
	rms := math.Sqrt(sum / float64(len(samples)))
	if rms > 1 {
		rms = 1
	}
	return rms
}
