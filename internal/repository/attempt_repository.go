package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prepin/attempt-engine/internal/model"
)

// AttemptRepository handles attempt row data access.
type AttemptRepository struct {
	pool *pgxpool.Pool
}

// NewAttemptRepository creates a new AttemptRepository.
func NewAttemptRepository(pool *pgxpool.Pool) *AttemptRepository {
	return &AttemptRepository{pool: pool}
}

// GetByID retrieves an attempt by ID.
func (r *AttemptRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Attempt, error) {
	a := &model.Attempt{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, template_id, learner_id, started_at, finished_at, status
		 FROM attempts
		 WHERE id = $1`, id,
	).Scan(&a.ID, &a.TemplateID, &a.LearnerID, &a.StartedAt, &a.FinishedAt, &a.Status)
	if err != nil {
		return nil, err
	}
	return a, nil
}

// GetInProgress retrieves the learner's in-progress attempt for a template,
// if one exists.
func (r *AttemptRepository) GetInProgress(ctx context.Context, templateID uuid.UUID, learnerID int) (*model.Attempt, error) {
	a := &model.Attempt{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, template_id, learner_id, started_at, finished_at, status
		 FROM attempts
		 WHERE template_id = $1 AND learner_id = $2 AND status = $3`,
		templateID, learnerID, model.AttemptStatusInProgress,
	).Scan(&a.ID, &a.TemplateID, &a.LearnerID, &a.StartedAt, &a.FinishedAt, &a.Status)
	if err != nil {
		return nil, err
	}
	return a, nil
}

// Create inserts a new in-progress attempt. The partial unique index on
// (template_id, learner_id) WHERE status = 'IN_PROGRESS' makes concurrent
// starts collapse into one row.
func (r *AttemptRepository) Create(ctx context.Context, a *model.Attempt) error {
	return r.pool.QueryRow(ctx,
		`INSERT INTO attempts (template_id, learner_id, status)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (template_id, learner_id) WHERE status = 'IN_PROGRESS' DO NOTHING
		 RETURNING id, started_at`,
		a.TemplateID, a.LearnerID, model.AttemptStatusInProgress,
	).Scan(&a.ID, &a.StartedAt)
}

// MarkDiscarded records an explicit discard cancellation.
func (r *AttemptRepository) MarkDiscarded(ctx context.Context, id uuid.UUID) error {
	now := time.Now().UTC()
	_, err := r.pool.Exec(ctx,
		`UPDATE attempts
		 SET status = $1, finished_at = $2
		 WHERE id = $3 AND status = $4`,
		model.AttemptStatusDiscarded, now, id, model.AttemptStatusInProgress)
	return err
}
