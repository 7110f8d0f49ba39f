package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prepin/attempt-engine/internal/config"
	"github.com/prepin/attempt-engine/internal/model"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Authority implements SubmissionService against PostgreSQL. Progress saves
// are queued to Redis and drained by the archive worker; the final submit
// writes synchronously in one transaction so the acknowledgment is real.
type Authority struct {
	pool *pgxpool.Pool
	rdb  *redis.Client
	log  zerolog.Logger
}

// NewAuthority creates a Postgres-backed submission authority.
func NewAuthority(pool *pgxpool.Pool, rdb *redis.Client, log zerolog.Logger) *Authority {
	return &Authority{
		pool: pool,
		rdb:  rdb,
		log:  log.With().Str("component", "authority").Logger(),
	}
}

// ProgressEnvelope is one archive queue item: an attempt's payload at the
// moment of a progress save.
type ProgressEnvelope struct {
	AttemptID string               `json:"attempt_id"`
	Answers   []model.AnswerRecord `json:"answers"`
	SavedAt   time.Time            `json:"saved_at"`
}

// SaveProgress enqueues the payload for asynchronous archiving. The queue
// push is the whole operation: a slow Postgres never blocks a save.
func (a *Authority) SaveProgress(ctx context.Context, attemptID uuid.UUID, payload model.SubmissionPayload) error {
	envelope, err := json.Marshal(ProgressEnvelope{
		AttemptID: attemptID.String(),
		Answers:   payload.Answers,
		SavedAt:   time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("marshal progress: %w", err)
	}

	if err := a.rdb.RPush(ctx, config.ArchiveQueue, envelope).Err(); err != nil {
		return fmt.Errorf("enqueue progress: %w", err)
	}
	return nil
}

// SubmitAttempt upserts every answer record and marks the attempt row
// SUBMITTED in a single transaction.
func (a *Authority) SubmitAttempt(ctx context.Context, attemptID uuid.UUID, payload model.SubmissionPayload) (*Result, error) {
	tx, err := a.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, &SubmissionError{AttemptID: attemptID, Err: fmt.Errorf("begin tx: %w", err)}
	}
	defer tx.Rollback(ctx)

	for _, rec := range payload.Answers {
		questionID, err := uuid.Parse(rec.QuestionID)
		if err != nil {
			return nil, &SubmissionError{AttemptID: attemptID, Err: fmt.Errorf("question id %q: %w", rec.QuestionID, err)}
		}
		_, err = tx.Exec(ctx,
			`INSERT INTO attempt_answers (attempt_id, question_id, selected_answer_id, frq_answer_text)
			 VALUES ($1, $2, $3, $4)
			 ON CONFLICT (attempt_id, question_id) DO UPDATE
			 SET selected_answer_id = EXCLUDED.selected_answer_id,
			     frq_answer_text = EXCLUDED.frq_answer_text,
			     updated_at = NOW()`,
			attemptID, questionID, rec.SelectedAnswerID, rec.FRQAnswerText,
		)
		if err != nil {
			return nil, &SubmissionError{AttemptID: attemptID, Err: fmt.Errorf("upsert answer: %w", err)}
		}
	}

	now := time.Now().UTC()
	tag, err := tx.Exec(ctx,
		`UPDATE attempts
		 SET status = $1, finished_at = $2
		 WHERE id = $3 AND status = $4`,
		model.AttemptStatusSubmitted, now, attemptID, model.AttemptStatusInProgress,
	)
	if err != nil {
		return nil, &SubmissionError{AttemptID: attemptID, Err: fmt.Errorf("finalize attempt: %w", err)}
	}
	if tag.RowsAffected() == 0 {
		return nil, &SubmissionError{AttemptID: attemptID, Err: fmt.Errorf("attempt is not in progress")}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, &SubmissionError{AttemptID: attemptID, Err: fmt.Errorf("commit: %w", err)}
	}

	a.log.Info().
		Str("attempt_id", attemptID.String()).
		Int("answers", len(payload.Answers)).
		Msg("Attempt submitted")

	return &Result{
		AttemptID:   attemptID,
		SubmittedAt: now,
		AnswerCount: len(payload.Answers),
	}, nil
}
