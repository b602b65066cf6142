package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/yjainexcollo/clinicai-intake/adapters/audio"
	"github.com/yjainexcollo/clinicai-intake/domain/entities"
	"github.com/yjainexcollo/clinicai-intake/domain/repositories"
	"github.com/yjainexcollo/clinicai-intake/internal/levelmeter"
)

// RecordingService runs the consultation audio capture pipeline: device
// acquisition, encoding negotiation, frame buffering, live level metering,
// and finalization into a single encoded blob on stop.
type RecordingService struct {
	device    repositories.CaptureDevice
	encoders  []repositories.AudioEncoder
	preferred []string
	logger    *zap.Logger

	mu       sync.Mutex
	session  *entities.RecordingSession
	encoder  repositories.AudioEncoder
	meter    *levelmeter.Meter
	drained  chan struct{}
	onLevel  func(level float64)
	stopOnce bool
}

// NewRecordingService creates the capture pipeline. Encoders are tried in
// preference order; pass nil preferred to use the default order.
func NewRecordingService(
	device repositories.CaptureDevice,
	encoders []repositories.AudioEncoder,
	preferred []string,
	logger *zap.Logger,
) *RecordingService {
	return &RecordingService{
		device:    device,
		encoders:  encoders,
		preferred: preferred,
		logger:    logger,
	}
}

// OnLevel registers the loudness listener receiving the smoothed 0..1 level.
// Must be called before StartCapture.
func (s *RecordingService) OnLevel(fn func(level float64)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onLevel = fn
}

// StartCapture acquires the device and begins buffering frames. Permission
// and device failures surface as a single capture-unavailable error class,
// terminal for this attempt; there is no retry loop.
func (s *RecordingService) StartCapture(ctx context.Context) (*entities.RecordingSession, error) {
	s.mu.Lock()
	if s.session != nil {
		s.mu.Unlock()
		return nil, errors.New("a recording session is already active")
	}

	encoder := audio.NegotiateEncoder(s.logger, s.preferred, s.encoders)
	session := entities.NewRecordingSession(uuid.NewString(), encoder.Encoding())
	meter := levelmeter.New(s.logger, levelmeter.Options{})
	onLevel := s.onLevel

	s.session = session
	s.encoder = encoder
	s.meter = meter
	s.drained = make(chan struct{})
	s.stopOnce = false
	s.mu.Unlock()

	if err := s.device.Start(ctx); err != nil {
		s.teardown()
		var unavailable *repositories.CaptureUnavailableError
		if errors.As(err, &unavailable) {
			return nil, err
		}
		return nil, &repositories.CaptureUnavailableError{Err: err}
	}

	if err := meter.Start(func(level float64) {
		session.SetLevel(level)
		if onLevel != nil {
			onLevel(level)
		}
	}); err != nil {
		s.device.Stop()
		s.teardown()
		return nil, fmt.Errorf("failed to start level meter: %w", err)
	}

	go s.consumeFrames(session, meter, s.drained)

	s.logger.Info("Recording started",
		zap.String("sessionID", session.ID),
		zap.String("encoding", encoder.Encoding()),
		zap.Int("sampleRate", s.device.SampleRate()))
	return session, nil
}

// StopCapture tears down metering and the device, then flushes the buffered
// frames into one blob tagged with the negotiated container type. After it
// returns, no further level callbacks occur.
func (s *RecordingService) StopCapture() (*entities.EncodedAudio, error) {
	s.mu.Lock()
	session := s.session
	encoder := s.encoder
	meter := s.meter
	drained := s.drained
	alreadyStopped := s.stopOnce
	s.stopOnce = true
	s.mu.Unlock()

	if session == nil || alreadyStopped {
		return nil, errors.New("no active recording session")
	}

	// Metering is torn down before the device so a level callback can never
	// observe a released stream.
	meter.Stop()
	if err := s.device.Stop(); err != nil {
		s.logger.Warn("Failed to release capture device", zap.Error(err))
	}
	<-drained

	frames := session.Frames()
	sampleRate := s.device.SampleRate()
	data, err := encoder.Encode(sampleRate, frames)
	if err != nil {
		s.teardown()
		return nil, fmt.Errorf("failed to encode recording: %w", err)
	}

	sampleCount := 0
	for _, frame := range frames {
		sampleCount += len(frame)
	}

	blob := &entities.EncodedAudio{
		Data:          data,
		ContainerType: encoder.ContainerType(),
		Encoding:      encoder.Encoding(),
		SampleRate:    sampleRate,
		Duration:      time.Duration(sampleCount) * time.Second / time.Duration(sampleRate),
	}

	s.logger.Info("Recording finalized",
		zap.String("sessionID", session.ID),
		zap.String("containerType", blob.ContainerType),
		zap.Int("bytes", len(blob.Data)),
		zap.Duration("duration", blob.Duration))

	s.teardown()
	return blob, nil
}

// Level returns the current smoothed loudness, zero when not recording.
func (s *RecordingService) Level() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session == nil {
		return 0
	}
	return s.session.Level()
}

func (s *RecordingService) consumeFrames(session *entities.RecordingSession, meter *levelmeter.Meter, drained chan struct{}) {
	defer close(drained)
	for frame := range s.device.Frames() {
		session.AppendFrame(frame)
		meter.Feed(frame)
	}
}

func (s *RecordingService) teardown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.session = nil
	s.encoder = nil
	s.meter = nil
}
