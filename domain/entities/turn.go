package entities

import (
	"errors"
	"fmt"
	"time"
)

// InterviewPhase represents the phase of an intake interview session
type InterviewPhase string

const (
	PhaseNotStarted            InterviewPhase = "not_started"
	PhaseAwaitingAnswer        InterviewPhase = "awaiting_answer"
	PhaseSubmitting            InterviewPhase = "submitting"
	PhaseAwaitingOcrResolution InterviewPhase = "awaiting_ocr_resolution"
	PhaseEditingInvalidated    InterviewPhase = "editing_invalidated"
	PhaseComplete              InterviewPhase = "complete"
)

// AttachmentRef identifies a medication image that has been uploaded to the
// server and bound to a turn. Staged (not yet uploaded) files live in the
// attachment staging queue, not here.
type AttachmentRef struct {
	ServerID    string `json:"id"`
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
}

// Turn is one question/answer exchange in the intake interview, numbered from 1.
// A turn is immutable once recorded; the only way to change it is the edit
// operation on InterviewState, which destroys it and every later turn.
type Turn struct {
	Question    string          `json:"question"`
	Answer      string          `json:"answer"`
	Number      int             `json:"number"`
	Attachments []AttachmentRef `json:"attachments,omitempty"`
	AskedAt     time.Time       `json:"asked_at"`
}

// InterviewState holds the authoritative conversation state for one
// (patient, visit) pair. It is mutated only through its methods; callers
// observe it via copies.
type InterviewState struct {
	PatientID         string         `json:"patient_id"`
	VisitID           string         `json:"visit_id"`
	Turns             []Turn         `json:"turns"`
	PendingQuestion   string         `json:"pending_question,omitempty"`
	CompletionPercent int            `json:"completion_percent"`
	Complete          bool           `json:"complete"`
	AllowsImageUpload bool           `json:"allows_image_upload"`
	Phase             InterviewPhase `json:"phase"`
}

// NewInterviewState creates the state for a fresh interview session.
func NewInterviewState(patientID, visitID string) *InterviewState {
	return &InterviewState{
		PatientID: patientID,
		VisitID:   visitID,
		Turns:     make([]Turn, 0),
		Phase:     PhaseNotStarted,
	}
}

// AppendTurn records a new turn for the current pending question. Turn numbers
// are assigned sequentially starting from 1.
func (s *InterviewState) AppendTurn(question, answer string, attachments []AttachmentRef) Turn {
	turn := Turn{
		Question:    question,
		Answer:      answer,
		Number:      len(s.Turns) + 1,
		Attachments: attachments,
		AskedAt:     time.Now(),
	}
	s.Turns = append(s.Turns, turn)
	return turn
}

// RollbackLastTurn removes the most recently appended turn. Used when an
// optimistic append has to be undone after a transport failure.
func (s *InterviewState) RollbackLastTurn() (Turn, error) {
	if len(s.Turns) == 0 {
		return Turn{}, errors.New("no turn to roll back")
	}
	last := s.Turns[len(s.Turns)-1]
	s.Turns = s.Turns[:len(s.Turns)-1]
	return last, nil
}

// TruncateFrom removes the turn with the given number and every turn after it.
// Turns before it are untouched.
func (s *InterviewState) TruncateFrom(turnNumber int) error {
	if turnNumber < 1 || turnNumber > len(s.Turns) {
		return fmt.Errorf("turn %d does not exist (have %d turns)", turnNumber, len(s.Turns))
	}
	s.Turns = s.Turns[:turnNumber-1]
	return nil
}

// TurnByNumber returns the turn with the given number.
func (s *InterviewState) TurnByNumber(turnNumber int) (Turn, bool) {
	if turnNumber < 1 || turnNumber > len(s.Turns) {
		return Turn{}, false
	}
	return s.Turns[turnNumber-1], true
}

// Validate checks the turn monotonicity invariant: turns[i].Number == i+1.
func (s *InterviewState) Validate() error {
	for i, turn := range s.Turns {
		if turn.Number != i+1 {
			return fmt.Errorf("turn at index %d has number %d, expected %d", i, turn.Number, i+1)
		}
	}
	return nil
}

// Snapshot returns a copy of the state safe for callers to hold. The turns
// slice is copied so later engine mutations do not show through.
func (s *InterviewState) Snapshot() InterviewState {
	copied := *s
	copied.Turns = make([]Turn, len(s.Turns))
	copy(copied.Turns, s.Turns)
	return copied
}
