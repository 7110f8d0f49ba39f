// Package remote defines the submission authority the session engine
// reconciles with, and its Postgres-backed implementation.
package remote

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/prepin/attempt-engine/internal/model"
)

// Result is the authority's acknowledgment of a final submission.
type Result struct {
	AttemptID   uuid.UUID `json:"attempt_id"`
	SubmittedAt time.Time `json:"submitted_at"`
	AnswerCount int       `json:"answer_count"`
}

// SubmissionError wraps any failure of the authority to accept a
// submission. The engine returns it as a value, never a panic: the caller
// decides between "offer retry" and "results will arrive later".
type SubmissionError struct {
	AttemptID uuid.UUID
	Err       error
}

func (e *SubmissionError) Error() string {
	return fmt.Sprintf("submit attempt %s: %v", e.AttemptID, e.Err)
}

func (e *SubmissionError) Unwrap() error {
	return e.Err
}

// SubmissionService is the remote authority consumed by the engine.
// Both calls are synchronous from the caller's point of view but must be
// invoked off the countdown path.
type SubmissionService interface {
	// SaveProgress forwards an in-progress answer payload. Best-effort:
	// failures are logged by the caller and retried on the next cadence.
	SaveProgress(ctx context.Context, attemptID uuid.UUID, payload model.SubmissionPayload) error
	// SubmitAttempt finalizes the attempt with its total payload.
	SubmitAttempt(ctx context.Context, attemptID uuid.UUID, payload model.SubmissionPayload) (*Result, error)
}
