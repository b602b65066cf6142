package audio

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"go.uber.org/zap"

	"github.com/yjainexcollo/clinicai-intake/domain/repositories"
)

// DefaultEncodingPreference is the ordered list of encodings the recording
// flow tries; the first one a registered encoder supports wins.
var DefaultEncodingPreference = []string{"OGG_OPUS", "WEBM_OPUS", "FLAC", "LINEAR16"}

// WAVEncoder flushes PCM frames into a single RIFF/WAVE blob. It is the
// fallback encoder that is always available.
type WAVEncoder struct{}

var _ repositories.AudioEncoder = (*WAVEncoder)(nil)

// Encoding returns the encoding identifier.
func (e *WAVEncoder) Encoding() string {
	return "LINEAR16"
}

// ContainerType returns the blob's MIME container.
func (e *WAVEncoder) ContainerType() string {
	return "audio/wav"
}

// Encode writes a mono 16-bit PCM WAV blob.
func (e *WAVEncoder) Encode(sampleRate int, frames [][]int16) ([]byte, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("invalid sample rate: %d", sampleRate)
	}

	totalSamples := 0
	for _, frame := range frames {
		totalSamples += len(frame)
	}
	dataSize := totalSamples * 2

	buf := &bytes.Buffer{}
	buf.WriteString("RIFF")
	binary.Write(buf, binary.LittleEndian, uint32(36+dataSize))
	buf.WriteString("WAVE")

	buf.WriteString("fmt ")
	binary.Write(buf, binary.LittleEndian, uint32(16))
	binary.Write(buf, binary.LittleEndian, uint16(1)) // PCM
	binary.Write(buf, binary.LittleEndian, uint16(1)) // mono
	binary.Write(buf, binary.LittleEndian, uint32(sampleRate))
	binary.Write(buf, binary.LittleEndian, uint32(sampleRate*2)) // byte rate
	binary.Write(buf, binary.LittleEndian, uint16(2))            // block align
	binary.Write(buf, binary.LittleEndian, uint16(16))           // bits per sample

	buf.WriteString("data")
	binary.Write(buf, binary.LittleEndian, uint32(dataSize))
	for _, frame := range frames {
		for _, sample := range frame {
			binary.Write(buf, binary.LittleEndian, sample)
		}
	}

	return buf.Bytes(), nil
}

// NegotiateEncoder picks the first preferred encoding that a registered
// encoder supports. When none match it falls back to the WAV encoder, which
// every runtime can produce.
func NegotiateEncoder(logger *zap.Logger, preferred []string, encoders []repositories.AudioEncoder) repositories.AudioEncoder {
	if len(preferred) == 0 {
		preferred = DefaultEncodingPreference
	}

	byEncoding := make(map[string]repositories.AudioEncoder, len(encoders))
	for _, enc := range encoders {
		byEncoding[enc.Encoding()] = enc
	}

	for _, want := range preferred {
		if enc, ok := byEncoding[want]; ok {
			logger.Info("Negotiated audio encoding", zap.String("encoding", want))
			return enc
		}
	}

	logger.Warn("No preferred encoding supported, falling back to WAV",
		zap.Strings("preferred", preferred))
	return &WAVEncoder{}
}
