package mockclinic

import (
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

// Job pacing. The first transcription poll carries a Retry-After hint so
// clients exercise the server-directed delay path.
const (
	transcriptionPollsUntilDone = 3
	summaryPollsUntilDone       = 2
)

type jobStatusBody struct {
	Status       string `json:"status"`
	Transcript   string `json:"transcript,omitempty"`
	Summary      string `json:"summary,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
}

func (s *Server) startTranscription(c echo.Context) error {
	subjectID := c.FormValue("subject_id")
	if subjectID == "" {
		subjectID = uuid.NewString()
	}

	file, err := c.FormFile("audio")
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorBody{Error: "missing_audio", Message: "Audio file is required"})
	}
	src, err := file.Open()
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorBody{Error: "invalid_audio", Message: "Failed to read audio file"})
	}
	size, _ := io.Copy(io.Discard, src)
	src.Close()

	s.logger.Info("Received consultation audio",
		zap.String("subjectID", subjectID),
		zap.String("filename", file.Filename),
		zap.Int64("bytes", size))

	// Sync subjects complete in the start response, no job created.
	if strings.Contains(subjectID, "sync") {
		return c.JSON(http.StatusOK, jobStatusBody{
			Status:     "completed",
			Transcript: transcriptText(subjectID),
		})
	}

	record := &jobRecord{
		ID:             uuid.NewString(),
		pollsUntilDone: transcriptionPollsUntilDone,
		result:         transcriptText(subjectID),
	}
	if strings.Contains(subjectID, "fail") {
		record.failed = true
		record.errorMessage = "audio quality too low for transcription"
	}

	s.mu.Lock()
	s.jobs[record.ID] = record
	s.mu.Unlock()

	return c.JSON(http.StatusAccepted, map[string]string{"job_id": record.ID})
}

func (s *Server) pollTranscription(c echo.Context) error {
	record, status := s.advanceJob(c.Param("id"))
	if record == nil {
		return c.JSON(http.StatusNotFound, errorBody{Error: "unknown_job", Message: "No such transcription job"})
	}
	if status == "processing" && record.polls == 1 {
		c.Response().Header().Set("Retry-After", "1")
	}

	body := jobStatusBody{Status: status}
	switch status {
	case "completed":
		body.Transcript = record.result
	case "failed":
		body.ErrorMessage = record.errorMessage
	}
	return c.JSON(http.StatusOK, body)
}

func (s *Server) startSummary(c echo.Context) error {
	key := visitKey(c)
	s.mu.Lock()
	session, ok := s.visits[key]
	if !ok {
		s.mu.Unlock()
		return c.JSON(http.StatusNotFound, errorBody{Error: "no_session", Message: "Interview has not been started"})
	}

	record := &jobRecord{
		ID:             uuid.NewString(),
		pollsUntilDone: summaryPollsUntilDone,
		result: fmt.Sprintf(
			"Post-visit summary for %s: %d intake answers reviewed. Follow up as directed by your care team.",
			key, len(session.answers)),
	}
	s.jobs[record.ID] = record
	s.mu.Unlock()

	return c.JSON(http.StatusAccepted, map[string]string{"job_id": record.ID})
}

func (s *Server) pollSummary(c echo.Context) error {
	record, status := s.advanceJob(c.Param("id"))
	if record == nil {
		return c.JSON(http.StatusNotFound, errorBody{Error: "unknown_job", Message: "No such summary job"})
	}

	body := jobStatusBody{Status: status}
	switch status {
	case "completed":
		body.Summary = record.result
	case "failed":
		body.ErrorMessage = record.errorMessage
	}
	return c.JSON(http.StatusOK, body)
}

// advanceJob counts a poll against the record and reports the status the
// client should see for it.
func (s *Server) advanceJob(id string) (*jobRecord, string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.jobs[id]
	if !ok {
		return nil, ""
	}
	record.polls++
	if record.polls < record.pollsUntilDone {
		return record, "processing"
	}
	if record.failed {
		return record, "failed"
	}
	return record, "completed"
}

func transcriptText(subjectID string) string {
	return fmt.Sprintf(
		"Clinician: Thanks for coming in. Patient (%s): I've had a persistent cough for about a week. Clinician: Any fever? Patient: Mild, on and off.",
		subjectID)
}
