package model

import (
	"time"

	"github.com/google/uuid"
)

// QuestionType enumerates the supported question shapes.
type QuestionType string

const (
	QuestionTypeMultipleChoice QuestionType = "MULTIPLE_CHOICE"
	QuestionTypeFreeResponse   QuestionType = "FREE_RESPONSE"
)

// AnswerKindFor maps a question type to the answer variant it accepts.
func AnswerKindFor(t QuestionType) AnswerKind {
	if t == QuestionTypeFreeResponse {
		return AnswerKindFreeResponse
	}
	return AnswerKindChoice
}

// QuestionRef identifies one question an attempt must eventually answer.
type QuestionRef struct {
	QuestionID string       `json:"question_id"`
	Type       QuestionType `json:"type"`
}

// AttemptDescriptor is the immutable metadata for one attempt, fixed at
// session creation and snapshotted into the durable store for recovery.
type AttemptDescriptor struct {
	AttemptID       uuid.UUID     `json:"attempt_id"`
	Title           string        `json:"title"`
	DurationMinutes int           `json:"duration_in_minute"`
	Questions       []QuestionRef `json:"questions"`
}

// DurationSeconds returns the attempt duration as countdown seconds.
func (d AttemptDescriptor) DurationSeconds() int {
	return d.DurationMinutes * 60
}

// SubmissionState enumerates the session lifecycle. Transitions are
// monotonic: NOT_STARTED → ACTIVE → SUBMITTING → SUBMITTED | FAILED.
type SubmissionState string

const (
	SubmissionStateNotStarted SubmissionState = "NOT_STARTED"
	SubmissionStateActive     SubmissionState = "ACTIVE"
	SubmissionStateSubmitting SubmissionState = "SUBMITTING"
	SubmissionStateSubmitted  SubmissionState = "SUBMITTED"
	SubmissionStateFailed     SubmissionState = "FAILED"
)

// AttemptStatus enumerates the authority-side attempt row states.
type AttemptStatus string

const (
	AttemptStatusInProgress AttemptStatus = "IN_PROGRESS"
	AttemptStatusSubmitted  AttemptStatus = "SUBMITTED"
	AttemptStatusDiscarded  AttemptStatus = "DISCARDED"
)

// Attempt represents a learner's attempt row as stored by the authority.
type Attempt struct {
	ID         uuid.UUID     `json:"id"`
	TemplateID uuid.UUID     `json:"template_id"`
	LearnerID  int           `json:"learner_id"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt *time.Time    `json:"finished_at,omitempty"`
	Status     AttemptStatus `json:"status"`
}

// ExamTemplate is the exam definition an attempt is created from.
type ExamTemplate struct {
	ID              uuid.UUID `json:"id"`
	Title           string    `json:"title"`
	DurationMinutes int       `json:"duration_minutes"`
	Published       bool      `json:"published"`
	CreatedAt       time.Time `json:"created_at"`
}

// SetAnswerRequest is the payload for recording one answer.
type SetAnswerRequest struct {
	QuestionID       string `json:"question_id" binding:"required,uuid"`
	SelectedOptionID string `json:"selected_option_id" binding:"omitempty,max=64"`
	FreeResponseText string `json:"free_response_text" binding:"omitempty,max=10000"`
}

// CancelAttemptRequest resolves a cancellation into one of two outcomes:
// submit the current state, or discard it. There is no third, lossy option.
type CancelAttemptRequest struct {
	Mode string `json:"mode" binding:"required,oneof=submit discard"`
}

// LoginRequest is the payload for learner authentication.
type LoginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=6"`
}
