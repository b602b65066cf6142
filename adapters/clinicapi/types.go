package clinicapi

// answerPayload is the JSON body for submitting the pending question's answer.
type answerPayload struct {
	Answer        string   `json:"answer"`
	AttachmentIDs []string `json:"attachment_ids,omitempty"`
	SkipOCRReview bool     `json:"skip_ocr_review,omitempty"`
}

// editPayload is the JSON body for replacing a past answer.
type editPayload struct {
	QuestionNumber int    `json:"question_number"`
	NewAnswer      string `json:"new_answer"`
}

// attachmentBatchResponse lists the server reference per accepted file.
type attachmentBatchResponse struct {
	Attachments []attachmentItem `json:"attachments"`
}

type attachmentItem struct {
	ID          string `json:"id"`
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
}

// jobAcceptedResponse is the 202-style acceptance for a started job.
type jobAcceptedResponse struct {
	JobID string `json:"job_id"`
}

// jobStatusResponse reports job status; exactly one of Transcript or Summary
// is populated on completion depending on the job kind.
type jobStatusResponse struct {
	Status       string `json:"status"`
	Transcript   string `json:"transcript,omitempty"`
	Summary      string `json:"summary,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
}

// errorResponse mirrors the clinic API's error envelope.
type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}
