package clinicapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/yjainexcollo/clinicai-intake/domain/entities"
	"github.com/yjainexcollo/clinicai-intake/domain/repositories"
)

var _ repositories.JobAPI = (*Client)(nil)

// StartTranscription uploads consultation audio and starts transcription.
// The server answers in one of two styles: a synchronous result, or a 202
// acceptance carrying a job id to poll.
func (c *Client) StartTranscription(ctx context.Context, subjectID string, audio repositories.UploadFile) (repositories.StartOutcome, error) {
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	if err := writer.WriteField("subject_id", subjectID); err != nil {
		return repositories.StartOutcome{}, fmt.Errorf("failed to write subject field: %w", err)
	}
	part, err := writer.CreateFormFile("audio", audio.Filename)
	if err != nil {
		return repositories.StartOutcome{}, fmt.Errorf("failed to create multipart field: %w", err)
	}
	if _, err := io.Copy(part, audio.Data); err != nil {
		return repositories.StartOutcome{}, fmt.Errorf("failed to buffer audio payload: %w", err)
	}
	if err := writer.Close(); err != nil {
		return repositories.StartOutcome{}, fmt.Errorf("failed to finalize multipart body: %w", err)
	}

	outcome, err := c.startJob(ctx, "/api/v1/transcriptions", body, writer.FormDataContentType(),
		c.uploadTimeout, entities.JobKindTranscription)
	if err != nil {
		return repositories.StartOutcome{}, fmt.Errorf("failed to start transcription: %w", err)
	}
	return outcome, nil
}

// PollTranscription checks transcription status. Polling never restarts the
// job; it is a pure status read.
func (c *Client) PollTranscription(ctx context.Context, handle repositories.JobHandle) (repositories.JobStatusReport, error) {
	return c.pollJob(ctx, "/api/v1/transcriptions/"+handle.ID)
}

// StartVisitSummary starts post-visit summary generation.
func (c *Client) StartVisitSummary(ctx context.Context, patientID, visitID string) (repositories.StartOutcome, error) {
	path := fmt.Sprintf("/api/v1/patients/%s/visits/%s/summary", patientID, visitID)
	outcome, err := c.startJob(ctx, path, nil, "application/json", c.submitTimeout, entities.JobKindPostVisitSummary)
	if err != nil {
		return repositories.StartOutcome{}, fmt.Errorf("failed to start visit summary: %w", err)
	}
	return outcome, nil
}

// PollVisitSummary checks summary generation status.
func (c *Client) PollVisitSummary(ctx context.Context, handle repositories.JobHandle) (repositories.JobStatusReport, error) {
	return c.pollJob(ctx, "/api/v1/summaries/"+handle.ID)
}

// startJob posts a start request and normalizes the two acceptance styles
// into a StartOutcome.
func (c *Client) startJob(ctx context.Context, path string, body io.Reader, contentType string, timeout time.Duration, kind entities.JobKind) (repositories.StartOutcome, error) {
	var raw json.RawMessage
	var response *http.Response
	if err := c.doRaw(ctx, http.MethodPost, path, body, contentType, timeout, &raw, &response); err != nil {
		return repositories.StartOutcome{}, err
	}

	if response.StatusCode == http.StatusAccepted {
		var accepted jobAcceptedResponse
		if err := json.Unmarshal(raw, &accepted); err != nil {
			return repositories.StartOutcome{}, fmt.Errorf("failed to decode job acceptance: %w", err)
		}
		c.logger.Info("Job accepted",
			zap.String("jobID", accepted.JobID),
			zap.String("kind", string(kind)))
		return repositories.StartOutcome{
			Accepted: &repositories.JobHandle{ID: accepted.JobID, Kind: kind},
		}, nil
	}

	var status jobStatusResponse
	if err := json.Unmarshal(raw, &status); err != nil {
		return repositories.StartOutcome{}, fmt.Errorf("failed to decode synchronous job result: %w", err)
	}
	report := statusReport(status, 0)
	return repositories.StartOutcome{Immediate: &report}, nil
}

// pollJob reads a job's status, honoring the Retry-After header when the
// server supplies one (seconds form; the clinic API never sends HTTP-date).
func (c *Client) pollJob(ctx context.Context, path string) (repositories.JobStatusReport, error) {
	var status jobStatusResponse
	var response *http.Response
	if err := c.doRaw(ctx, http.MethodGet, path, nil, "", c.pollTimeout, &status, &response); err != nil {
		return repositories.JobStatusReport{}, fmt.Errorf("failed to poll job status: %w", err)
	}

	var retryAfter time.Duration
	if header := response.Header.Get("Retry-After"); header != "" {
		if seconds, err := strconv.Atoi(header); err == nil && seconds > 0 {
			retryAfter = time.Duration(seconds) * time.Second
		}
	}

	return statusReport(status, retryAfter), nil
}

func statusReport(status jobStatusResponse, retryAfter time.Duration) repositories.JobStatusReport {
	result := status.Transcript
	if result == "" {
		result = status.Summary
	}
	return repositories.JobStatusReport{
		Status:       entities.JobStatus(status.Status),
		Result:       result,
		ErrorMessage: status.ErrorMessage,
		RetryAfter:   retryAfter,
	}
}
