package repositories

import (
	"context"
	"time"

	"github.com/yjainexcollo/clinicai-intake/domain/entities"
)

// JobHandle identifies an accepted server-side job for subsequent polling.
type JobHandle struct {
	ID   string
	Kind entities.JobKind
}

// JobStatusReport is one observation of a job's status. RetryAfter is zero
// unless the server supplied an explicit retry hint, which takes precedence
// over computed backoff for the next attempt only. Result is populated when
// the status is completed.
type JobStatusReport struct {
	Status       entities.JobStatus
	Result       string
	ErrorMessage string
	RetryAfter   time.Duration
}

// StartOutcome is the result of a start-job call. The clinic API signals in
// two styles: an immediate synchronous result, or a 202-style acceptance that
// must be polled. Exactly one field is set.
type StartOutcome struct {
	Immediate *JobStatusReport
	Accepted  *JobHandle
}

// JobAPI is the clinic backend boundary for long-running jobs.
type JobAPI interface {
	// StartTranscription uploads consultation audio and starts transcription
	// for the given subject (patient+visit or an ad-hoc id).
	StartTranscription(ctx context.Context, subjectID string, audio UploadFile) (StartOutcome, error)
	// PollTranscription checks transcription status. Safe to call repeatedly;
	// it never restarts the job.
	PollTranscription(ctx context.Context, handle JobHandle) (JobStatusReport, error)
	// StartVisitSummary starts post-visit summary generation.
	StartVisitSummary(ctx context.Context, patientID, visitID string) (StartOutcome, error)
	// PollVisitSummary checks summary generation status.
	PollVisitSummary(ctx context.Context, handle JobHandle) (JobStatusReport, error)
}
