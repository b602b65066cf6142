package audio

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"io"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/yjainexcollo/clinicai-intake/domain/repositories"
)

func pcmBytes(samples []int16) []byte {
	buf := &bytes.Buffer{}
	for _, s := range samples {
		binary.Write(buf, binary.LittleEndian, s)
	}
	return buf.Bytes()
}

func TestReaderDeviceStreamsFrames(t *testing.T) {
	samples := make([]int16, defaultFrameSamples+3)
	for i := range samples {
		samples[i] = int16(i)
	}
	source := io.NopCloser(bytes.NewReader(pcmBytes(samples)))
	device := NewReaderDevice(source, 16000, zaptest.NewLogger(t))

	if err := device.Start(context.Background()); err != nil {
		t.Fatalf("Expected start to succeed, got %v", err)
	}

	var received []int16
	deadline := time.After(time.Second)
	for {
		select {
		case frame, ok := <-device.Frames():
			if !ok {
				if len(received) != len(samples) {
					t.Fatalf("Expected %d samples, got %d", len(samples), len(received))
				}
				if received[0] != 0 || received[defaultFrameSamples] != defaultFrameSamples {
					t.Error("Expected samples delivered in order")
				}
				return
			}
			received = append(received, frame...)
		case <-deadline:
			t.Fatal("Timed out waiting for frames")
		}
	}
}

func TestReaderDeviceStartTwice(t *testing.T) {
	source := io.NopCloser(bytes.NewReader(nil))
	device := NewReaderDevice(source, 16000, zaptest.NewLogger(t))

	if err := device.Start(context.Background()); err != nil {
		t.Fatalf("Expected first start to succeed, got %v", err)
	}
	if err := device.Start(context.Background()); err == nil {
		t.Error("Expected error on second start")
	}
}

func TestOpenPCMFileMissingIsCaptureUnavailable(t *testing.T) {
	_, err := OpenPCMFile("/nonexistent/capture.pcm", 16000, zaptest.NewLogger(t))
	if err == nil {
		t.Fatal("Expected error for missing file")
	}
	var unavailable *repositories.CaptureUnavailableError
	if !errors.As(err, &unavailable) {
		t.Errorf("Expected capture-unavailable error class, got %v", err)
	}
}

func TestReaderDeviceStopIsIdempotent(t *testing.T) {
	source := io.NopCloser(bytes.NewReader(nil))
	device := NewReaderDevice(source, 16000, zaptest.NewLogger(t))

	if err := device.Stop(); err != nil {
		t.Errorf("Expected first stop to succeed, got %v", err)
	}
	if err := device.Stop(); err != nil {
		t.Errorf("Expected repeated stop to succeed, got %v", err)
	}
}
