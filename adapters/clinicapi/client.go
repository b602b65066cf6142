package clinicapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/yjainexcollo/clinicai-intake/domain/entities"
	"github.com/yjainexcollo/clinicai-intake/domain/repositories"
	"github.com/yjainexcollo/clinicai-intake/internal/auth"
)

const (
	defaultBaseURL       = "http://localhost:8080"
	defaultSubmitTimeout = 30 * time.Second
	defaultUploadTimeout = 60 * time.Second
	defaultPollTimeout   = 15 * time.Second
)

// Config holds configuration for the clinic API client.
// Every operation gets an explicit timeout rather than relying on transport
// defaults.
type Config struct {
	BaseURL       string        // Optional: clinic API base URL
	Token         string        // Optional: visit-scoped bearer token
	SubmitTimeout time.Duration // Optional: answer submit/edit/start timeout
	UploadTimeout time.Duration // Optional: attachment and audio upload timeout
	PollTimeout   time.Duration // Optional: job status poll timeout
}

// NewConfigFromEnv creates a Config from environment variables.
func NewConfigFromEnv() Config {
	config := Config{
		BaseURL: os.Getenv("CLINIC_API_BASE_URL"),
		Token:   os.Getenv("CLINIC_VISIT_TOKEN"),
	}

	if v := os.Getenv("CLINIC_API_SUBMIT_TIMEOUT_SECONDS"); v != "" {
		if seconds, err := strconv.Atoi(v); err == nil && seconds > 0 {
			config.SubmitTimeout = time.Duration(seconds) * time.Second
		}
	}
	if v := os.Getenv("CLINIC_API_UPLOAD_TIMEOUT_SECONDS"); v != "" {
		if seconds, err := strconv.Atoi(v); err == nil && seconds > 0 {
			config.UploadTimeout = time.Duration(seconds) * time.Second
		}
	}
	if v := os.Getenv("CLINIC_API_POLL_TIMEOUT_SECONDS"); v != "" {
		if seconds, err := strconv.Atoi(v); err == nil && seconds > 0 {
			config.PollTimeout = time.Duration(seconds) * time.Second
		}
	}

	return config
}

// Client implements the clinic API boundary over JSON/multipart HTTP.
type Client struct {
	baseURL       string
	httpClient    *http.Client
	tokens        auth.TokenSource
	submitTimeout time.Duration
	uploadTimeout time.Duration
	pollTimeout   time.Duration
	logger        *zap.Logger
}

var _ repositories.IntakeAPI = (*Client)(nil)

// NewClient creates a clinic API client.
func NewClient(config Config, logger *zap.Logger) *Client {
	baseURL := config.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
		logger.Info("Using default clinic API base URL", zap.String("baseURL", baseURL))
	}

	submitTimeout := config.SubmitTimeout
	if submitTimeout == 0 {
		submitTimeout = defaultSubmitTimeout
	}
	uploadTimeout := config.UploadTimeout
	if uploadTimeout == 0 {
		uploadTimeout = defaultUploadTimeout
	}
	pollTimeout := config.PollTimeout
	if pollTimeout == 0 {
		pollTimeout = defaultPollTimeout
	}

	return &Client{
		baseURL:       baseURL,
		httpClient:    &http.Client{},
		tokens:        auth.NewStaticTokenSource(config.Token),
		submitTimeout: submitTimeout,
		uploadTimeout: uploadTimeout,
		pollTimeout:   pollTimeout,
		logger:        logger,
	}
}

// StartInterview opens the interview session and returns the first question.
func (c *Client) StartInterview(ctx context.Context, patientID, visitID string) (*repositories.AnswerReply, error) {
	path := fmt.Sprintf("/api/v1/patients/%s/visits/%s/interview", patientID, visitID)

	var reply repositories.AnswerReply
	if err := c.doJSON(ctx, http.MethodPost, path, nil, c.submitTimeout, &reply); err != nil {
		return nil, fmt.Errorf("failed to start interview: %w", err)
	}

	c.logger.Info("Interview started",
		zap.String("patientID", patientID),
		zap.String("visitID", visitID))
	return &reply, nil
}

// SubmitAnswer submits the answer for the pending question.
func (c *Client) SubmitAnswer(ctx context.Context, req repositories.AnswerRequest) (*repositories.AnswerReply, error) {
	path := fmt.Sprintf("/api/v1/patients/%s/visits/%s/interview/answers", req.PatientID, req.VisitID)
	payload := answerPayload{
		Answer:        req.Answer,
		AttachmentIDs: req.AttachmentIDs,
		SkipOCRReview: req.SkipOCRReview,
	}

	var reply repositories.AnswerReply
	if err := c.doJSON(ctx, http.MethodPost, path, payload, c.submitTimeout, &reply); err != nil {
		return nil, fmt.Errorf("failed to submit answer: %w", err)
	}
	return &reply, nil
}

// EditAnswer replaces a past answer. The server is authoritative for which
// question follows the edit.
func (c *Client) EditAnswer(ctx context.Context, req repositories.EditRequest) (*repositories.AnswerReply, error) {
	path := fmt.Sprintf("/api/v1/patients/%s/visits/%s/interview/answers", req.PatientID, req.VisitID)
	payload := editPayload{
		QuestionNumber: req.QuestionNumber,
		NewAnswer:      req.NewAnswer,
	}

	var reply repositories.AnswerReply
	if err := c.doJSON(ctx, http.MethodPatch, path, payload, c.submitTimeout, &reply); err != nil {
		return nil, fmt.Errorf("failed to edit answer: %w", err)
	}
	return &reply, nil
}

// UploadAttachments uploads staged medication images as one multipart batch.
func (c *Client) UploadAttachments(ctx context.Context, patientID, visitID string, files []repositories.UploadFile) ([]entities.AttachmentRef, error) {
	path := fmt.Sprintf("/api/v1/patients/%s/visits/%s/attachments", patientID, visitID)

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	for _, file := range files {
		part, err := writer.CreateFormFile("files", file.Filename)
		if err != nil {
			return nil, fmt.Errorf("failed to create multipart field: %w", err)
		}
		if _, err := io.Copy(part, file.Data); err != nil {
			return nil, fmt.Errorf("failed to buffer attachment %s: %w", file.Filename, err)
		}
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to finalize multipart body: %w", err)
	}

	var batch attachmentBatchResponse
	if err := c.doRaw(ctx, http.MethodPost, path, body, writer.FormDataContentType(), c.uploadTimeout, &batch, nil); err != nil {
		return nil, fmt.Errorf("failed to upload attachments: %w", err)
	}

	refs := make([]entities.AttachmentRef, 0, len(batch.Attachments))
	for _, item := range batch.Attachments {
		refs = append(refs, entities.AttachmentRef{
			ServerID:    item.ID,
			Filename:    item.Filename,
			ContentType: item.ContentType,
		})
	}

	c.logger.Info("Uploaded attachment batch",
		zap.String("visitID", visitID),
		zap.Int("count", len(refs)))
	return refs, nil
}

// doJSON issues a JSON request and decodes a JSON reply into out.
func (c *Client) doJSON(ctx context.Context, method, path string, payload interface{}, timeout time.Duration, out interface{}) error {
	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(encoded)
	}
	return c.doRaw(ctx, method, path, body, "application/json", timeout, out, nil)
}

// doRaw issues a request with an explicit content type and decodes the JSON
// reply into out. When resp is non-nil the response is exposed to the caller
// for status and header inspection; its body is consumed here.
func (c *Client) doRaw(ctx context.Context, method, path string, body io.Reader, contentType string, timeout time.Duration, out interface{}, resp **http.Response) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("failed to create HTTP request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")

	token, err := c.tokens.Token()
	if err != nil {
		return fmt.Errorf("failed to obtain visit token: %w", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	response, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer response.Body.Close()

	if resp != nil {
		*resp = response
	}

	if response.StatusCode < 200 || response.StatusCode >= 300 {
		var apiErr errorResponse
		raw, _ := io.ReadAll(response.Body)
		if json.Unmarshal(raw, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("clinic API returned %d: %s", response.StatusCode, apiErr.Message)
		}
		return fmt.Errorf("clinic API returned unexpected status %d", response.StatusCode)
	}

	if out != nil {
		if err := json.NewDecoder(response.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}
