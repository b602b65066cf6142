// Package mockclinic implements an in-memory clinic API for local
// development and integration tests: scripted interview questions, OCR
// quality reports, attachment storage, and job lifecycles for transcription
// and post-visit summaries.
package mockclinic

import (
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/yjainexcollo/clinicai-intake/domain/repositories"
	"github.com/yjainexcollo/clinicai-intake/internal/auth"
)

// interviewScript is the fixed question sequence every visit walks through.
var interviewScript = []string{
	"What brings you in today?",
	"How long have you been experiencing these symptoms?",
	"Are you currently taking any medications? You can attach photos of the labels.",
	"On a scale of 1 to 10, how severe is your discomfort?",
}

// medicationQuestionIndex is the zero-based turn that allows image upload.
const medicationQuestionIndex = 2

type visitSession struct {
	answers     []string
	attachments map[string]storedAttachment
}

type storedAttachment struct {
	ID          string
	Filename    string
	ContentType string
}

type jobRecord struct {
	ID             string
	polls          int
	pollsUntilDone int
	result         string
	failed         bool
	errorMessage   string
}

// Server holds the mock clinic state.
type Server struct {
	logger      *zap.Logger
	requireAuth bool

	mu     sync.Mutex
	visits map[string]*visitSession
	jobs   map[string]*jobRecord
}

// NewServer creates an empty mock clinic.
func NewServer(logger *zap.Logger, requireAuth bool) *Server {
	return &Server{
		logger:      logger,
		requireAuth: requireAuth,
		visits:      make(map[string]*visitSession),
		jobs:        make(map[string]*jobRecord),
	}
}

// Routes registers all mock clinic endpoints.
func (s *Server) Routes(e *echo.Echo) {
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"service": "clinicai-mock",
		})
	})

	e.POST("/api/v1/patients/:patient/visits/:visit/token", s.issueToken)

	v1 := e.Group("/api/v1")
	if s.requireAuth {
		v1.Use(s.bearerAuth)
	}

	v1.POST("/patients/:patient/visits/:visit/interview", s.startInterview)
	v1.POST("/patients/:patient/visits/:visit/interview/answers", s.submitAnswer)
	v1.PATCH("/patients/:patient/visits/:visit/interview/answers", s.submitEdit)
	v1.POST("/patients/:patient/visits/:visit/attachments", s.uploadAttachments)
	v1.POST("/transcriptions", s.startTranscription)
	v1.GET("/transcriptions/:id", s.pollTranscription)
	v1.POST("/patients/:patient/visits/:visit/summary", s.startSummary)
	v1.GET("/summaries/:id", s.pollSummary)
}

// errorBody mirrors the clinic API's error envelope.
type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

func (s *Server) bearerAuth(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		header := c.Request().Header.Get("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			return c.JSON(http.StatusUnauthorized, errorBody{
				Error:   "missing_token",
				Message: "Visit token is required in Authorization header",
			})
		}
		if _, err := auth.ValidateToken(strings.TrimPrefix(header, "Bearer ")); err != nil {
			s.logger.Warn("Rejected request with invalid token", zap.Error(err))
			return c.JSON(http.StatusUnauthorized, errorBody{
				Error:   "invalid_token",
				Message: "Invalid or expired visit token",
			})
		}
		return next(c)
	}
}

func (s *Server) issueToken(c echo.Context) error {
	token, err := auth.GenerateVisitToken(c.Param("patient"), c.Param("visit"))
	if err != nil {
		return c.JSON(http.StatusInternalServerError, errorBody{
			Error:   "token_generation_failed",
			Message: "Failed to generate visit token",
		})
	}
	return c.JSON(http.StatusOK, map[string]string{"token": token})
}

func (s *Server) startInterview(c echo.Context) error {
	key := visitKey(c)
	s.mu.Lock()
	s.visits[key] = &visitSession{
		answers:     make([]string, 0),
		attachments: make(map[string]storedAttachment),
	}
	s.mu.Unlock()

	s.logger.Info("Interview session created", zap.String("visit", key))
	return c.JSON(http.StatusOK, s.replyFor(key))
}

type answerBody struct {
	Answer        string   `json:"answer"`
	AttachmentIDs []string `json:"attachment_ids"`
	SkipOCRReview bool     `json:"skip_ocr_review"`
}

func (s *Server) submitAnswer(c echo.Context) error {
	var body answerBody
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, errorBody{Error: "invalid_request", Message: "Invalid request format"})
	}
	if strings.TrimSpace(body.Answer) == "" {
		return c.JSON(http.StatusBadRequest, errorBody{Error: "empty_answer", Message: "Answer is required"})
	}

	key := visitKey(c)
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.visits[key]
	if !ok {
		return c.JSON(http.StatusNotFound, errorBody{Error: "no_session", Message: "Interview has not been started"})
	}
	if len(session.answers) >= len(interviewScript) {
		return c.JSON(http.StatusConflict, errorBody{Error: "complete", Message: "Interview is already complete"})
	}

	// Low-confidence extraction stops the flow until the client either
	// re-uploads or explicitly skips remediation.
	if !body.SkipOCRReview {
		if report := s.ocrReportLocked(session, body.AttachmentIDs); report != nil {
			return c.JSON(http.StatusOK, repositories.AnswerReply{OCRQuality: report})
		}
	}

	session.answers = append(session.answers, body.Answer)
	return c.JSON(http.StatusOK, s.replyForLocked(session))
}

type editBody struct {
	QuestionNumber int    `json:"question_number"`
	NewAnswer      string `json:"new_answer"`
}

func (s *Server) submitEdit(c echo.Context) error {
	var body editBody
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, errorBody{Error: "invalid_request", Message: "Invalid request format"})
	}

	key := visitKey(c)
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.visits[key]
	if !ok {
		return c.JSON(http.StatusNotFound, errorBody{Error: "no_session", Message: "Interview has not been started"})
	}
	if body.QuestionNumber < 1 || body.QuestionNumber > len(session.answers) {
		return c.JSON(http.StatusBadRequest, errorBody{
			Error:   "bad_turn",
			Message: fmt.Sprintf("Question %d has not been answered", body.QuestionNumber),
		})
	}

	// Everything after the edited answer is invalidated; the interview
	// resumes from the question that follows it.
	session.answers = append(session.answers[:body.QuestionNumber-1], body.NewAnswer)
	s.logger.Info("Answer edited",
		zap.String("visit", key),
		zap.Int("questionNumber", body.QuestionNumber))
	return c.JSON(http.StatusOK, s.replyForLocked(session))
}

func (s *Server) uploadAttachments(c echo.Context) error {
	form, err := c.MultipartForm()
	if err != nil {
		return c.JSON(http.StatusBadRequest, errorBody{Error: "invalid_request", Message: "Multipart form required"})
	}

	key := visitKey(c)
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.visits[key]
	if !ok {
		return c.JSON(http.StatusNotFound, errorBody{Error: "no_session", Message: "Interview has not been started"})
	}

	type item struct {
		ID          string `json:"id"`
		Filename    string `json:"filename"`
		ContentType string `json:"content_type"`
	}
	items := make([]item, 0)
	for _, file := range form.File["files"] {
		stored := storedAttachment{
			ID:          uuid.NewString(),
			Filename:    file.Filename,
			ContentType: file.Header.Get("Content-Type"),
		}
		session.attachments[stored.ID] = stored
		items = append(items, item{ID: stored.ID, Filename: stored.Filename, ContentType: stored.ContentType})
	}

	s.logger.Info("Stored attachment batch",
		zap.String("visit", key),
		zap.Int("count", len(items)))
	return c.JSON(http.StatusOK, map[string]interface{}{"attachments": items})
}

// ocrReportLocked simulates extraction scoring: any referenced attachment
// whose filename suggests a bad capture yields a poor-quality report.
func (s *Server) ocrReportLocked(session *visitSession, attachmentIDs []string) *repositories.OCRReport {
	for _, id := range attachmentIDs {
		stored, ok := session.attachments[id]
		if !ok {
			continue
		}
		if strings.Contains(strings.ToLower(stored.Filename), "blur") {
			return &repositories.OCRReport{
				Quality:       repositories.OCRQualityPoor,
				Confidence:    0.34,
				ExtractedText: "amox---llin 5--mg",
				Suggestions: []string{
					"Retake the photo in better lighting",
					"Hold the camera steady and closer to the label",
				},
			}
		}
	}
	return nil
}

func (s *Server) replyFor(key string) repositories.AnswerReply {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.replyForLocked(s.visits[key])
}

func (s *Server) replyForLocked(session *visitSession) repositories.AnswerReply {
	answered := len(session.answers)
	percent := answered * 100 / len(interviewScript)

	if answered >= len(interviewScript) {
		sentinel := "COMPLETE"
		return repositories.AnswerReply{
			NextQuestion:      &sentinel,
			IsComplete:        true,
			CompletionPercent: &percent,
			Summary:           "Thank you. Your intake interview is complete and has been shared with your care team.",
		}
	}

	next := interviewScript[answered]
	allows := answered == medicationQuestionIndex
	return repositories.AnswerReply{
		NextQuestion:      &next,
		CompletionPercent: &percent,
		AllowsImageUpload: &allows,
	}
}

func visitKey(c echo.Context) string {
	return c.Param("patient") + "/" + c.Param("visit")
}
