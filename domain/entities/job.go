package entities

import "time"

// JobKind identifies the type of server-side long-running task.
type JobKind string

const (
	JobKindTranscription    JobKind = "transcription"
	JobKindPostVisitSummary JobKind = "post_visit_summary"
)

// JobStatus represents the server-reported status of a job.
type JobStatus string

const (
	JobStatusPending    JobStatus = "pending"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// Job tracks one server-side task from start through its terminal status.
// A failed job is never retried in place; restarting means issuing a new
// start call, which creates a new Job.
type Job struct {
	ID        string    `json:"id"`
	Kind      JobKind   `json:"kind"`
	SubjectID string    `json:"subject_id"`
	Status    JobStatus `json:"status"`
	Attempt   int       `json:"attempt"`
	StartedAt time.Time `json:"started_at"`
	Error     string    `json:"error,omitempty"`
}

// NewJob creates a job record in pending status.
func NewJob(id string, kind JobKind, subjectID string) *Job {
	return &Job{
		ID:        id,
		Kind:      kind,
		SubjectID: subjectID,
		Status:    JobStatusPending,
		StartedAt: time.Now(),
	}
}

// Terminal reports whether the job has reached a terminal status.
func (j *Job) Terminal() bool {
	return j.Status == JobStatusCompleted || j.Status == JobStatusFailed
}

// RecordPoll applies a polled status to the job and bumps the attempt counter.
// Terminal statuses are sticky: a late status report never reopens the job.
func (j *Job) RecordPoll(status JobStatus, errorMessage string) {
	if j.Terminal() {
		return
	}
	j.Attempt++
	j.Status = status
	if status == JobStatusFailed {
		j.Error = errorMessage
	}
}
