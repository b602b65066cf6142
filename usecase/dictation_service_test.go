package usecase

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/yjainexcollo/clinicai-intake/domain/entities"
	"github.com/yjainexcollo/clinicai-intake/domain/repositories"
	"github.com/yjainexcollo/clinicai-intake/internal/jobs"
)

// fakeJobAPI scripts job acceptance and a fixed sequence of poll reports.
type fakeJobAPI struct {
	mu          sync.Mutex
	transcribe  []repositories.JobStatusReport
	summarize   []repositories.JobStatusReport
	audioBytes  int
	lastSubject string
}

func (f *fakeJobAPI) StartTranscription(ctx context.Context, subjectID string, audio repositories.UploadFile) (repositories.StartOutcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastSubject = subjectID
	buf := make([]byte, 1024)
	for {
		n, err := audio.Data.Read(buf)
		f.audioBytes += n
		if err != nil {
			break
		}
	}
	return repositories.StartOutcome{
		Accepted: &repositories.JobHandle{ID: "job-t1", Kind: entities.JobKindTranscription},
	}, nil
}

func (f *fakeJobAPI) PollTranscription(ctx context.Context, handle repositories.JobHandle) (repositories.JobStatusReport, error) {
	return f.pop(&f.transcribe), nil
}

func (f *fakeJobAPI) StartVisitSummary(ctx context.Context, patientID, visitID string) (repositories.StartOutcome, error) {
	return repositories.StartOutcome{
		Accepted: &repositories.JobHandle{ID: "job-s1", Kind: entities.JobKindPostVisitSummary},
	}, nil
}

func (f *fakeJobAPI) PollVisitSummary(ctx context.Context, handle repositories.JobHandle) (repositories.JobStatusReport, error) {
	return f.pop(&f.summarize), nil
}

func (f *fakeJobAPI) pop(queue *[]repositories.JobStatusReport) repositories.JobStatusReport {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(*queue) == 0 {
		return repositories.JobStatusReport{Status: entities.JobStatusProcessing}
	}
	report := (*queue)[0]
	*queue = (*queue)[1:]
	return report
}

func newTestDictation(t *testing.T, api *fakeJobAPI) *DictationService {
	t.Helper()
	logger := zaptest.NewLogger(t)
	poller := jobs.NewPoller(logger, jobs.Options{
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
		MaxWait:        time.Second,
	})
	return NewDictationService(api, poller, logger)
}

func testBlob() *entities.EncodedAudio {
	return &entities.EncodedAudio{
		Data:          []byte("RIFFfakewav"),
		ContainerType: "audio/wav",
		Encoding:      "LINEAR16",
		SampleRate:    16000,
		Duration:      2 * time.Second,
	}
}

func TestTranscribeStoresTranscriptOnCompletion(t *testing.T) {
	api := &fakeJobAPI{
		transcribe: []repositories.JobStatusReport{
			{Status: entities.JobStatusProcessing},
			{Status: entities.JobStatusCompleted, Result: "Patient reports a cough."},
		},
	}
	service := newTestDictation(t, api)

	if _, ok := service.Transcript(); ok {
		t.Error("Expected transcript not ready before the job runs")
	}

	result, err := service.Transcribe(context.Background(), "visit-1", testBlob())
	if err != nil {
		t.Fatalf("Expected transcription to run, got %v", err)
	}
	if result.Outcome != jobs.OutcomeCompleted {
		t.Fatalf("Expected completed outcome, got %s", result.Outcome)
	}

	transcript, ok := service.Transcript()
	if !ok {
		t.Fatal("Expected transcript ready after completion")
	}
	if transcript != "Patient reports a cough." {
		t.Errorf("Expected stored transcript, got %q", transcript)
	}
	if api.audioBytes == 0 {
		t.Error("Expected the audio payload uploaded")
	}

	job := service.LastTranscriptionJob()
	if job == nil || job.Status != entities.JobStatusCompleted {
		t.Error("Expected the job record to reach completed status")
	}
	if job.ID != "job-t1" {
		t.Errorf("Expected the accepted job id recorded, got %q", job.ID)
	}
}

func TestTranscribeFailureLeavesTranscriptUnready(t *testing.T) {
	api := &fakeJobAPI{
		transcribe: []repositories.JobStatusReport{
			{Status: entities.JobStatusFailed, ErrorMessage: "audio quality too low"},
		},
	}
	service := newTestDictation(t, api)

	result, err := service.Transcribe(context.Background(), "visit-1", testBlob())
	if err != nil {
		t.Fatalf("Expected the run itself to succeed, got %v", err)
	}
	if result.Outcome != jobs.OutcomeFailed {
		t.Errorf("Expected failed outcome, got %s", result.Outcome)
	}
	if result.ErrorMessage != "audio quality too low" {
		t.Errorf("Expected failure message, got %q", result.ErrorMessage)
	}
	if _, ok := service.Transcript(); ok {
		t.Error("Expected no transcript after failure")
	}
}

func TestGenerateSummaryStoresResult(t *testing.T) {
	api := &fakeJobAPI{
		summarize: []repositories.JobStatusReport{
			{Status: entities.JobStatusProcessing},
			{Status: entities.JobStatusCompleted, Result: "Follow up in two weeks."},
		},
	}
	service := newTestDictation(t, api)

	result, err := service.GenerateSummary(context.Background(), "p1", "v1")
	if err != nil {
		t.Fatalf("Expected summary generation to run, got %v", err)
	}
	if result.Outcome != jobs.OutcomeCompleted {
		t.Fatalf("Expected completed outcome, got %s", result.Outcome)
	}

	summary, ok := service.Summary()
	if !ok {
		t.Fatal("Expected summary ready after completion")
	}
	if summary != "Follow up in two weeks." {
		t.Errorf("Expected stored summary, got %q", summary)
	}
}

func TestUserMessageDistinguishesFailureFromTimeout(t *testing.T) {
	failed := UserMessage(jobs.Result{Outcome: jobs.OutcomeFailed, ErrorMessage: "model unavailable"})
	timeout := UserMessage(jobs.Result{Outcome: jobs.OutcomeTimeout})

	if !strings.Contains(failed, "failed") {
		t.Errorf("Expected failure wording, got %q", failed)
	}
	if !strings.Contains(failed, "model unavailable") {
		t.Errorf("Expected the server's reason included, got %q", failed)
	}
	if strings.Contains(timeout, "failed") {
		t.Errorf("Expected timeout wording distinct from failure, got %q", timeout)
	}
	if failed == timeout {
		t.Error("Expected different messages for failure and timeout")
	}
}
