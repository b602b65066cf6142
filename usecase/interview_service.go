package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/yjainexcollo/clinicai-intake/domain/entities"
	"github.com/yjainexcollo/clinicai-intake/domain/repositories"
)

// completionSentinel is the next_question value the server uses to signal the
// interview is finished, alongside null and empty.
const completionSentinel = "COMPLETE"

var (
	// ErrSubmissionInFlight is returned when a submit or edit is attempted
	// while another one is still in flight for the session. Submissions are
	// serialized per session; concurrent ones would race on the pending
	// question and corrupt turn ordering.
	ErrSubmissionInFlight = errors.New("a submission is already in flight for this session")

	// ErrInterviewNotStarted is returned for operations that need an open session.
	ErrInterviewNotStarted = errors.New("interview has not been started")

	// ErrInterviewComplete is returned when submitting after completion.
	ErrInterviewComplete = errors.New("interview is already complete")

	// ErrEmptyAnswer is returned for an empty free-text answer with no
	// structured symptom selection.
	ErrEmptyAnswer = errors.New("answer text is required")

	// ErrOCRResolutionRequired is returned when a submit or edit is attempted
	// while an OCR quality report is awaiting resolution.
	ErrOCRResolutionRequired = errors.New("pending OCR quality report must be resolved first")

	// ErrNoOCRPending is returned when resolving a gate that is not open.
	ErrNoOCRPending = errors.New("no OCR quality report is awaiting resolution")
)

// SubmitFailedError reports a transport failure during answer submission.
// The optimistic turn append has been rolled back; RestoredInput carries the
// typed answer so the UI can put it back for retry.
type SubmitFailedError struct {
	RestoredInput string
	Err           error
}

func (e *SubmitFailedError) Error() string {
	return fmt.Sprintf("answer submission failed: %v", e.Err)
}

func (e *SubmitFailedError) Unwrap() error {
	return e.Err
}

// OCRResolution is one of the exactly two ways the OCR gate can resolve.
type OCRResolution string

const (
	// OCRResolutionReupload clears the staged images for the turn and returns
	// control to the user without advancing.
	OCRResolutionReupload OCRResolution = "reupload"
	// OCRResolutionProceed re-issues the submission without new attachments,
	// authorizing the server to proceed with what it already extracted.
	OCRResolutionProceed OCRResolution = "proceed"
)

// TurnResult reports the outcome of a submit, edit, or gate resolution.
type TurnResult struct {
	Turn       entities.Turn
	State      entities.InterviewState
	OCRPending bool
	OCRReport  *repositories.OCRReport
	// AttachmentWarning surfaces a failed attachment upload. Attachment
	// upload is best-effort relative to the answer: the interview continues,
	// but the failure is never silently swallowed.
	AttachmentWarning error
	Summary           string
}

// InterviewService sequences question/answer turns for one intake interview
// session: optimistic submission, edit-and-truncate, completion tracking, and
// the OCR quality gate. State transitions happen only here; callers observe
// snapshots.
type InterviewService struct {
	api         repositories.IntakeAPI
	attachments *AttachmentService
	logger      *zap.Logger

	mu              sync.Mutex
	state           *entities.InterviewState
	pendingReport   *repositories.OCRReport
	suspendedAnswer string
	inFlight        bool
}

// NewInterviewService creates the interview engine.
func NewInterviewService(api repositories.IntakeAPI, attachments *AttachmentService, logger *zap.Logger) *InterviewService {
	return &InterviewService{
		api:         api,
		attachments: attachments,
		logger:      logger,
	}
}

// StartInterview opens the session and fetches the first question.
func (s *InterviewService) StartInterview(ctx context.Context, patientID, visitID string) (*TurnResult, error) {
	s.mu.Lock()
	if s.state != nil && s.state.Phase != entities.PhaseNotStarted {
		s.mu.Unlock()
		return nil, fmt.Errorf("interview already started for visit %s", s.state.VisitID)
	}
	s.state = entities.NewInterviewState(patientID, visitID)
	s.mu.Unlock()

	reply, err := s.api.StartInterview(ctx, patientID, visitID)
	if err != nil {
		s.mu.Lock()
		s.state = nil
		s.mu.Unlock()
		return nil, fmt.Errorf("failed to start interview: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	result := s.applyReply(reply, "")
	s.logger.Info("Interview session opened",
		zap.String("patientID", patientID),
		zap.String("visitID", visitID),
		zap.String("firstQuestion", s.state.PendingQuestion))
	return result, nil
}

// FirstQuestionIsStructured reports whether the next answer may be a
// multi-select symptom set instead of free text. Only the first turn of a
// session accepts the structured form.
func (s *InterviewService) FirstQuestionIsStructured() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state != nil && len(s.state.Turns) == 0 && s.state.Phase == entities.PhaseAwaitingAnswer
}

// SubmitAnswer submits a free-text answer for the pending question.
func (s *InterviewService) SubmitAnswer(ctx context.Context, text string) (*TurnResult, error) {
	return s.submit(ctx, text, nil)
}

// SubmitSymptoms submits the first turn's structured symptom selection. The
// set is serialized into the single comma-joined answer string the server
// expects from every turn.
func (s *InterviewService) SubmitSymptoms(ctx context.Context, symptoms []string) (*TurnResult, error) {
	return s.submit(ctx, "", symptoms)
}

func (s *InterviewService) submit(ctx context.Context, text string, symptoms []string) (*TurnResult, error) {
	answer := strings.TrimSpace(text)
	if len(symptoms) > 0 {
		answer = strings.Join(symptoms, ", ")
	}
	if answer == "" {
		return nil, ErrEmptyAnswer
	}

	question, err := s.beginSubmission(len(symptoms) > 0)
	if err != nil {
		return nil, err
	}

	// Upload-before-submit: staged images go up first so the answer can
	// reference them. A failed upload is surfaced but does not block the
	// answer; upload and submit are independent calls, not a transaction.
	var attachmentWarning error
	refs, flushErr := s.attachments.FlushOnSubmit(ctx, s.patientID(), s.visitID())
	if flushErr != nil {
		attachmentWarning = flushErr
	}

	s.mu.Lock()
	turn := s.state.AppendTurn(question, answer, refs)
	s.mu.Unlock()

	attachmentIDs := make([]string, 0, len(refs))
	for _, ref := range refs {
		attachmentIDs = append(attachmentIDs, ref.ServerID)
	}

	reply, err := s.api.SubmitAnswer(ctx, repositories.AnswerRequest{
		PatientID:     s.patientID(),
		VisitID:       s.visitID(),
		Answer:        answer,
		AttachmentIDs: attachmentIDs,
	})
	if err != nil {
		s.mu.Lock()
		s.state.RollbackLastTurn()
		s.state.Phase = entities.PhaseAwaitingAnswer
		s.inFlight = false
		s.mu.Unlock()
		s.logger.Error("Answer submission failed, optimistic turn rolled back",
			zap.String("visitID", s.visitID()),
			zap.Error(err))
		return nil, &SubmitFailedError{RestoredInput: text, Err: err}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.inFlight = false
	result := s.applyReply(reply, answer)
	result.Turn = turn
	result.AttachmentWarning = attachmentWarning
	return result, nil
}

// EditAnswer replaces the answer of an existing turn, destroying it and every
// later turn. This is irreversible client-side; callers must obtain explicit
// user confirmation before invoking it. On transport failure the truncation
// stays applied: the server may already reflect the edit by the time the
// client learns of the failure, and reviving locally-deleted turns would risk
// diverging further.
func (s *InterviewService) EditAnswer(ctx context.Context, turnNumber int, newText string) (*TurnResult, error) {
	answer := strings.TrimSpace(newText)
	if answer == "" {
		return nil, ErrEmptyAnswer
	}

	s.mu.Lock()
	if s.state == nil || s.state.Phase == entities.PhaseNotStarted {
		s.mu.Unlock()
		return nil, ErrInterviewNotStarted
	}
	if s.state.Phase == entities.PhaseAwaitingOcrResolution {
		s.mu.Unlock()
		return nil, ErrOCRResolutionRequired
	}
	if s.inFlight {
		s.mu.Unlock()
		return nil, ErrSubmissionInFlight
	}
	original, ok := s.state.TurnByNumber(turnNumber)
	if !ok {
		s.mu.Unlock()
		return nil, fmt.Errorf("turn %d does not exist", turnNumber)
	}
	s.inFlight = true
	s.state.Phase = entities.PhaseEditingInvalidated
	s.state.TruncateFrom(turnNumber)
	replacement := s.state.AppendTurn(original.Question, answer, nil)
	s.mu.Unlock()

	reply, err := s.api.EditAnswer(ctx, repositories.EditRequest{
		PatientID:      s.patientID(),
		VisitID:        s.visitID(),
		QuestionNumber: turnNumber,
		NewAnswer:      answer,
	})
	if err != nil {
		// Truncation is deliberately kept: the edit may have been applied
		// server-side before the transport failed.
		s.mu.Lock()
		s.state.Complete = false
		s.state.Phase = entities.PhaseAwaitingAnswer
		s.inFlight = false
		s.mu.Unlock()
		s.logger.Error("Edit submission failed, truncation kept",
			zap.String("visitID", s.visitID()),
			zap.Int("turnNumber", turnNumber),
			zap.Error(err))
		return nil, fmt.Errorf("failed to edit answer for turn %d: %w", turnNumber, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.inFlight = false
	result := s.applyReply(reply, answer)
	result.Turn = replacement
	return result, nil
}

// PendingOCR returns the quality report awaiting resolution, if any.
func (s *InterviewService) PendingOCR() *repositories.OCRReport {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pendingReport == nil {
		return nil
	}
	report := *s.pendingReport
	return &report
}

// ResolveOCR resolves an open OCR gate. Reupload drops the suspended turn and
// its staged images so the user can retry; proceed re-issues the submission
// without attachments and with remediation explicitly skipped. No other
// resolution exists.
func (s *InterviewService) ResolveOCR(ctx context.Context, resolution OCRResolution) (*TurnResult, error) {
	s.mu.Lock()
	if s.state == nil || s.state.Phase != entities.PhaseAwaitingOcrResolution {
		s.mu.Unlock()
		return nil, ErrNoOCRPending
	}

	switch resolution {
	case OCRResolutionReupload:
		s.state.RollbackLastTurn()
		s.state.Phase = entities.PhaseAwaitingAnswer
		s.pendingReport = nil
		s.suspendedAnswer = ""
		s.attachments.Clear()
		result := &TurnResult{State: s.state.Snapshot()}
		s.mu.Unlock()
		s.logger.Info("OCR gate resolved with re-upload", zap.String("visitID", s.visitID()))
		return result, nil

	case OCRResolutionProceed:
		answer := s.suspendedAnswer
		s.inFlight = true
		s.mu.Unlock()

		reply, err := s.api.SubmitAnswer(ctx, repositories.AnswerRequest{
			PatientID:     s.patientID(),
			VisitID:       s.visitID(),
			Answer:        answer,
			SkipOCRReview: true,
		})
		if err != nil {
			// The gate stays open; the turn is already recorded and the user
			// can try either resolution again.
			s.mu.Lock()
			s.inFlight = false
			s.mu.Unlock()
			return nil, fmt.Errorf("failed to proceed past OCR review: %w", err)
		}

		s.mu.Lock()
		defer s.mu.Unlock()
		s.inFlight = false
		s.pendingReport = nil
		s.suspendedAnswer = ""
		result := s.applyReply(reply, answer)
		s.logger.Info("OCR gate resolved with proceed", zap.String("visitID", s.state.VisitID))
		return result, nil

	default:
		s.mu.Unlock()
		return nil, fmt.Errorf("unknown OCR resolution %q", resolution)
	}
}

// State returns a snapshot of the conversation state.
func (s *InterviewService) State() entities.InterviewState {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == nil {
		return *entities.NewInterviewState("", "")
	}
	return s.state.Snapshot()
}

// beginSubmission validates preconditions and claims the single in-flight
// submission slot. The caller must clear inFlight on every path.
func (s *InterviewService) beginSubmission(structured bool) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == nil || s.state.Phase == entities.PhaseNotStarted {
		return "", ErrInterviewNotStarted
	}
	if s.state.Phase == entities.PhaseComplete {
		return "", ErrInterviewComplete
	}
	if s.state.Phase == entities.PhaseAwaitingOcrResolution {
		return "", ErrOCRResolutionRequired
	}
	if s.inFlight {
		return "", ErrSubmissionInFlight
	}
	if structured && len(s.state.Turns) > 0 {
		return "", errors.New("structured symptom selection is only valid for the first question")
	}
	if s.state.PendingQuestion == "" {
		return "", ErrInterviewComplete
	}

	s.inFlight = true
	s.state.Phase = entities.PhaseSubmitting
	return s.state.PendingQuestion, nil
}

// applyReply interprets a server reply as one of three outcomes, checked in
// this order: completion, OCR quality report, advancement to a new question.
// Caller must hold s.mu.
func (s *InterviewService) applyReply(reply *repositories.AnswerReply, answer string) *TurnResult {
	result := &TurnResult{}

	if replySignalsCompletion(reply) {
		s.state.Complete = true
		s.state.PendingQuestion = ""
		s.state.CompletionPercent = 100
		s.state.Phase = entities.PhaseComplete
		result.Summary = reply.Summary
		result.State = s.state.Snapshot()
		s.logger.Info("Interview complete",
			zap.String("visitID", s.state.VisitID),
			zap.Int("turns", len(s.state.Turns)))
		return result
	}

	if reply.OCRQuality != nil && reply.OCRQuality.Quality.NeedsReview() {
		// Suspend advancement: the turn is recorded but the pending question
		// stays untouched until the gate resolves.
		report := *reply.OCRQuality
		s.pendingReport = &report
		s.suspendedAnswer = answer
		s.state.Phase = entities.PhaseAwaitingOcrResolution
		result.OCRPending = true
		result.OCRReport = &report
		result.State = s.state.Snapshot()
		s.logger.Warn("Low-confidence OCR report, awaiting resolution",
			zap.String("visitID", s.state.VisitID),
			zap.String("quality", string(report.Quality)),
			zap.Float64("confidence", report.Confidence))
		return result
	}

	if reply.NextQuestion != nil {
		s.state.PendingQuestion = *reply.NextQuestion
	}
	if reply.CompletionPercent != nil {
		s.state.CompletionPercent = *reply.CompletionPercent
	}
	if reply.AllowsImageUpload != nil {
		s.state.AllowsImageUpload = *reply.AllowsImageUpload
	}
	s.state.Phase = entities.PhaseAwaitingAnswer
	result.State = s.state.Snapshot()
	return result
}

// replySignalsCompletion checks the completion sentinel: is_complete, a null
// or empty next question, or the literal COMPLETE marker.
func replySignalsCompletion(reply *repositories.AnswerReply) bool {
	if reply.IsComplete {
		return true
	}
	if reply.OCRQuality != nil && reply.OCRQuality.Quality.NeedsReview() {
		// A suspending reply often omits next_question entirely; that must
		// not be mistaken for completion.
		return false
	}
	if reply.NextQuestion == nil {
		return true
	}
	next := strings.TrimSpace(*reply.NextQuestion)
	return next == "" || strings.EqualFold(next, completionSentinel)
}

func (s *InterviewService) patientID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == nil {
		return ""
	}
	return s.state.PatientID
}

func (s *InterviewService) visitID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == nil {
		return ""
	}
	return s.state.VisitID
}
