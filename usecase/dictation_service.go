package usecase

import (
	"bytes"
	"context"
	"fmt"
	"mime"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/yjainexcollo/clinicai-intake/domain/entities"
	"github.com/yjainexcollo/clinicai-intake/domain/repositories"
	"github.com/yjainexcollo/clinicai-intake/internal/jobs"
)

// DictationService uploads the recorded consultation audio, tracks the
// transcription job, and drives post-visit summary generation. It runs
// alongside the interview without blocking it; transcript and summary
// accessors simply report not-ready until their job completes.
type DictationService struct {
	api    repositories.JobAPI
	poller *jobs.Poller
	logger *zap.Logger

	mu              sync.Mutex
	transcript      string
	transcriptJob   *entities.Job
	transcriptReady bool
	summary         string
	summaryJob      *entities.Job
	summaryReady    bool
}

// NewDictationService creates the job facade.
func NewDictationService(api repositories.JobAPI, poller *jobs.Poller, logger *zap.Logger) *DictationService {
	return &DictationService{
		api:    api,
		poller: poller,
		logger: logger,
	}
}

// Transcribe uploads the audio blob and polls the transcription job to an
// outcome. A failed job is terminal; calling Transcribe again issues a new
// start call, which creates a new job rather than retrying the old one.
func (s *DictationService) Transcribe(ctx context.Context, subjectID string, audio *entities.EncodedAudio) (jobs.Result, error) {
	if subjectID == "" {
		subjectID = uuid.NewString()
	}

	filename := "consultation" + extensionFor(audio.ContainerType)
	job := entities.NewJob("", entities.JobKindTranscription, subjectID)

	result, err := s.poller.Run(ctx,
		func(ctx context.Context) (repositories.StartOutcome, error) {
			outcome, err := s.api.StartTranscription(ctx, subjectID, repositories.UploadFile{
				Filename:    filename,
				ContentType: audio.ContainerType,
				Data:        bytes.NewReader(audio.Data),
			})
			if err == nil && outcome.Accepted != nil {
				job.ID = outcome.Accepted.ID
			}
			return outcome, err
		},
		func(ctx context.Context, handle repositories.JobHandle) (repositories.JobStatusReport, error) {
			report, err := s.api.PollTranscription(ctx, handle)
			if err == nil {
				job.RecordPoll(report.Status, report.ErrorMessage)
			}
			return report, err
		},
	)
	if err != nil {
		return jobs.Result{}, fmt.Errorf("transcription job failed to run: %w", err)
	}

	s.mu.Lock()
	s.transcriptJob = job
	if result.Outcome == jobs.OutcomeCompleted {
		s.transcript = result.Payload
		s.transcriptReady = true
	}
	s.mu.Unlock()

	s.logger.Info("Transcription job finished",
		zap.String("subjectID", subjectID),
		zap.String("outcome", string(result.Outcome)),
		zap.Int("attempts", result.Attempts))
	return result, nil
}

// Transcript returns the completed transcript. The second return is false
// until the transcription job has completed; callers gate "view transcript"
// and "generate SOAP" actions on it.
func (s *DictationService) Transcript() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transcript, s.transcriptReady
}

// GenerateSummary starts post-visit summary generation and polls it to an
// outcome.
func (s *DictationService) GenerateSummary(ctx context.Context, patientID, visitID string) (jobs.Result, error) {
	job := entities.NewJob("", entities.JobKindPostVisitSummary, patientID+"/"+visitID)

	result, err := s.poller.Run(ctx,
		func(ctx context.Context) (repositories.StartOutcome, error) {
			outcome, err := s.api.StartVisitSummary(ctx, patientID, visitID)
			if err == nil && outcome.Accepted != nil {
				job.ID = outcome.Accepted.ID
			}
			return outcome, err
		},
		func(ctx context.Context, handle repositories.JobHandle) (repositories.JobStatusReport, error) {
			report, err := s.api.PollVisitSummary(ctx, handle)
			if err == nil {
				job.RecordPoll(report.Status, report.ErrorMessage)
			}
			return report, err
		},
	)
	if err != nil {
		return jobs.Result{}, fmt.Errorf("summary job failed to run: %w", err)
	}

	s.mu.Lock()
	s.summaryJob = job
	if result.Outcome == jobs.OutcomeCompleted {
		s.summary = result.Payload
		s.summaryReady = true
	}
	s.mu.Unlock()

	s.logger.Info("Summary job finished",
		zap.String("visitID", visitID),
		zap.String("outcome", string(result.Outcome)))
	return result, nil
}

// Summary returns the completed post-visit summary, with readiness.
func (s *DictationService) Summary() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.summary, s.summaryReady
}

// LastTranscriptionJob returns the most recent transcription job record.
func (s *DictationService) LastTranscriptionJob() *entities.Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transcriptJob
}

// LastSummaryJob returns the most recent summary job record.
func (s *DictationService) LastSummaryJob() *entities.Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.summaryJob
}

// UserMessage renders a job result as the message shown to the patient.
// Timeout deliberately reads differently from failure: the job may still
// finish server-side.
func UserMessage(result jobs.Result) string {
	switch result.Outcome {
	case jobs.OutcomeCompleted:
		return "Processing complete."
	case jobs.OutcomeFailed:
		return fmt.Sprintf("Processing failed: %s. You can start it again.", result.ErrorMessage)
	case jobs.OutcomeTimeout:
		return "This is taking longer than usual. Please check back in a few minutes."
	case jobs.OutcomeCanceled:
		return "Processing was canceled."
	default:
		return "Unknown processing state."
	}
}

func extensionFor(containerType string) string {
	exts, err := mime.ExtensionsByType(containerType)
	if err == nil && len(exts) > 0 {
		return exts[0]
	}
	return ".bin"
}
