package repositories

import (
	"context"
	"io"

	"github.com/yjainexcollo/clinicai-intake/domain/entities"
)

// OCRQualityTier is the server's assessment of image text extraction quality.
type OCRQualityTier string

const (
	OCRQualityExcellent OCRQualityTier = "excellent"
	OCRQualityGood      OCRQualityTier = "good"
	OCRQualityPoor      OCRQualityTier = "poor"
	OCRQualityFailed    OCRQualityTier = "failed"
)

// NeedsReview reports whether the tier is low enough that the intake flow
// must stop and ask the patient to confirm or re-upload.
func (t OCRQualityTier) NeedsReview() bool {
	return t == OCRQualityPoor || t == OCRQualityFailed
}

// OCRReport carries the server's extraction result for medication images
// submitted with an answer.
type OCRReport struct {
	Quality              OCRQualityTier `json:"quality"`
	Confidence           float64        `json:"confidence"`
	ExtractedText        string         `json:"extracted_text,omitempty"`
	ExtractedMedications []string       `json:"extracted_medications,omitempty"`
	Suggestions          []string       `json:"suggestions,omitempty"`
}

// AnswerReply is the server's response to a submitted or edited answer.
// NextQuestion is nil or empty when the interview is complete.
type AnswerReply struct {
	NextQuestion      *string    `json:"next_question,omitempty"`
	IsComplete        bool       `json:"is_complete"`
	CompletionPercent *int       `json:"completion_percent,omitempty"`
	AllowsImageUpload *bool      `json:"allows_image_upload,omitempty"`
	OCRQuality        *OCRReport `json:"ocr_quality,omitempty"`
	Summary           string     `json:"summary,omitempty"`
}

// AnswerRequest is one answer submission. Attachments are uploaded as a
// separate batch beforehand and referenced here by server id, so a failed
// upload never blocks the answer itself.
type AnswerRequest struct {
	PatientID     string
	VisitID       string
	Answer        string
	AttachmentIDs []string
	// SkipOCRReview tells the server to proceed with whatever it already
	// extracted instead of raising another quality report.
	SkipOCRReview bool
}

// EditRequest replaces the answer of an existing turn. The server decides
// which question follows the edit; downstream branching may change.
type EditRequest struct {
	PatientID      string
	VisitID        string
	QuestionNumber int
	NewAnswer      string
}

// UploadFile is one file in an attachment or audio upload.
type UploadFile struct {
	Filename    string
	ContentType string
	Data        io.Reader
}

// IntakeAPI is the clinic backend boundary for the interview flow.
type IntakeAPI interface {
	// StartInterview opens the interview session and returns the first question.
	StartInterview(ctx context.Context, patientID, visitID string) (*AnswerReply, error)
	// SubmitAnswer submits the answer for the pending question.
	SubmitAnswer(ctx context.Context, req AnswerRequest) (*AnswerReply, error)
	// EditAnswer replaces a past answer, invalidating everything after it
	// server-side.
	EditAnswer(ctx context.Context, req EditRequest) (*AnswerReply, error)
	// UploadAttachments uploads staged medication images as one multipart
	// batch and returns a server reference per accepted file.
	UploadAttachments(ctx context.Context, patientID, visitID string, files []UploadFile) ([]entities.AttachmentRef, error)
}
