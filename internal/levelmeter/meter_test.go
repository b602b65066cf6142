package levelmeter

import (
	"math"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/zap/zaptest"
)

func fullScaleFrame(samples int) []int16 {
	frame := make([]int16, samples)
	for i := range frame {
		frame[i] = 32767
	}
	return frame
}

func TestMeterSmoothsTowardRMS(t *testing.T) {
	mock := clock.NewMock()
	meter := New(zaptest.NewLogger(t), Options{
		Interval:  33 * time.Millisecond,
		Smoothing: 0.8,
		Clock:     mock,
	})

	levels := make(chan float64, 16)
	if err := meter.Start(func(level float64) {
		levels <- level
	}); err != nil {
		t.Fatalf("Expected meter to start, got %v", err)
	}
	defer meter.Stop()

	// Let the metering goroutine register its ticker before advancing.
	time.Sleep(10 * time.Millisecond)

	meter.Feed(fullScaleFrame(256))
	mock.Add(33 * time.Millisecond)

	first := receiveLevel(t, levels)
	if math.Abs(first-0.2) > 0.01 {
		t.Errorf("Expected first level near 0.2, got %f", first)
	}

	mock.Add(33 * time.Millisecond)
	second := receiveLevel(t, levels)
	if second <= first {
		t.Errorf("Expected level to rise toward the signal, got %f then %f", first, second)
	}
	if second > 1 {
		t.Errorf("Expected level within 0..1, got %f", second)
	}
	if got := meter.Level(); math.Abs(got-second) > 1e-9 {
		t.Errorf("Expected Level() to report last callback value %f, got %f", second, got)
	}
}

func TestMeterSilenceDecaysToZero(t *testing.T) {
	mock := clock.NewMock()
	meter := New(zaptest.NewLogger(t), Options{
		Interval: 33 * time.Millisecond,
		Clock:    mock,
	})

	levels := make(chan float64, 16)
	if err := meter.Start(func(level float64) { levels <- level }); err != nil {
		t.Fatalf("Expected meter to start, got %v", err)
	}
	defer meter.Stop()
	time.Sleep(10 * time.Millisecond)

	meter.Feed(fullScaleFrame(64))
	mock.Add(33 * time.Millisecond)
	loud := receiveLevel(t, levels)

	meter.Feed(make([]int16, 64))
	mock.Add(33 * time.Millisecond)
	quiet := receiveLevel(t, levels)

	if quiet >= loud {
		t.Errorf("Expected level to decay on silence, got %f then %f", loud, quiet)
	}
}

func TestMeterNoCallbackAfterStop(t *testing.T) {
	mock := clock.NewMock()
	meter := New(zaptest.NewLogger(t), Options{
		Interval: 33 * time.Millisecond,
		Clock:    mock,
	})

	levels := make(chan float64, 16)
	if err := meter.Start(func(level float64) { levels <- level }); err != nil {
		t.Fatalf("Expected meter to start, got %v", err)
	}
	time.Sleep(10 * time.Millisecond)

	meter.Stop()

	mock.Add(330 * time.Millisecond)
	select {
	case level := <-levels:
		t.Errorf("Expected no callback after Stop, got %f", level)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestMeterStopIsIdempotent(t *testing.T) {
	meter := New(zaptest.NewLogger(t), Options{Clock: clock.NewMock()})
	if err := meter.Start(func(float64) {}); err != nil {
		t.Fatalf("Expected meter to start, got %v", err)
	}
	meter.Stop()
	meter.Stop()
}

func TestRootMeanSquare(t *testing.T) {
	if got := rootMeanSquare(nil); got != 0 {
		t.Errorf("Expected 0 for empty window, got %f", got)
	}

	full := rootMeanSquare(fullScaleFrame(128))
	if math.Abs(full-1.0) > 0.001 {
		t.Errorf("Expected near 1 for full-scale signal, got %f", full)
	}

	half := make([]int16, 128)
	for i := range half {
		half[i] = 16384
	}
	if got := rootMeanSquare(half); math.Abs(got-0.5) > 0.001 {
		t.Errorf("Expected 0.5 for half-scale signal, got %f", got)
	}

	// Most negative sample squares past 1.0; the result must stay clamped.
	extreme := []int16{-32768}
	if got := rootMeanSquare(extreme); got > 1 {
		t.Errorf("Expected clamp to 1, got %f", got)
	}
}

func receiveLevel(t *testing.T, levels chan float64) float64 {
	t.Helper()
	select {
	case level := <-levels:
		return level
	case <-time.After(time.Second):
		t.Fatal("Timed out waiting for level callback")
		return 0
	}
}
