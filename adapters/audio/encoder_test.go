package audio

import (
	"encoding/binary"
	"testing"

	"go.uber.org/zap"

	"github.com/yjainexcollo/clinicai-intake/domain/repositories"
)

func TestWAVEncoderProducesValidHeader(t *testing.T) {
	encoder := &WAVEncoder{}
	frames := [][]int16{{100, -100, 32767}, {-32768}}

	data, err := encoder.Encode(16000, frames)
	if err != nil {
		t.Fatalf("Expected encode to succeed, got %v", err)
	}

	if len(data) != 44+8 {
		t.Fatalf("Expected 44-byte header plus 8 data bytes, got %d", len(data))
	}
	if string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		t.Error("Expected RIFF/WAVE magic")
	}
	if rate := binary.LittleEndian.Uint32(data[24:28]); rate != 16000 {
		t.Errorf("Expected sample rate 16000, got %d", rate)
	}
	if dataSize := binary.LittleEndian.Uint32(data[40:44]); dataSize != 8 {
		t.Errorf("Expected data chunk size 8, got %d", dataSize)
	}
	if sample := int16(binary.LittleEndian.Uint16(data[44:46])); sample != 100 {
		t.Errorf("Expected first sample 100, got %d", sample)
	}
}

func TestWAVEncoderRejectsBadSampleRate(t *testing.T) {
	encoder := &WAVEncoder{}
	if _, err := encoder.Encode(0, nil); err == nil {
		t.Error("Expected error for zero sample rate")
	}
}

type fakeEncoder struct {
	encoding  string
	container string
}

func (e *fakeEncoder) Encoding() string      { return e.encoding }
func (e *fakeEncoder) ContainerType() string { return e.container }
func (e *fakeEncoder) Encode(sampleRate int, frames [][]int16) ([]byte, error) {
	return []byte{}, nil
}

func TestNegotiateEncoderPicksFirstPreferred(t *testing.T) {
	opus := &fakeEncoder{encoding: "OGG_OPUS", container: "audio/ogg"}
	flac := &fakeEncoder{encoding: "FLAC", container: "audio/flac"}

	chosen := NegotiateEncoder(zap.NewNop(), nil, []repositories.AudioEncoder{flac, opus})
	if chosen.Encoding() != "OGG_OPUS" {
		t.Errorf("Expected OGG_OPUS to win by preference order, got %s", chosen.Encoding())
	}
}

func TestNegotiateEncoderHonorsCustomOrder(t *testing.T) {
	opus := &fakeEncoder{encoding: "OGG_OPUS", container: "audio/ogg"}
	flac := &fakeEncoder{encoding: "FLAC", container: "audio/flac"}

	chosen := NegotiateEncoder(zap.NewNop(), []string{"FLAC", "OGG_OPUS"}, []repositories.AudioEncoder{opus, flac})
	if chosen.Encoding() != "FLAC" {
		t.Errorf("Expected FLAC for custom preference, got %s", chosen.Encoding())
	}
}

func TestNegotiateEncoderFallsBackToWAV(t *testing.T) {
	chosen := NegotiateEncoder(zap.NewNop(), []string{"OGG_OPUS"}, nil)
	if chosen.Encoding() != "LINEAR16" {
		t.Errorf("Expected LINEAR16 fallback, got %s", chosen.Encoding())
	}
	if chosen.ContainerType() != "audio/wav" {
		t.Errorf("Expected audio/wav container, got %s", chosen.ContainerType())
	}
}
