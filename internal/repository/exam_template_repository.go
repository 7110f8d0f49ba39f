package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prepin/attempt-engine/internal/model"
)

// ExamTemplateRepository handles exam template data access.
type ExamTemplateRepository struct {
	pool *pgxpool.Pool
}

// NewExamTemplateRepository creates a new ExamTemplateRepository.
func NewExamTemplateRepository(pool *pgxpool.Pool) *ExamTemplateRepository {
	return &ExamTemplateRepository{pool: pool}
}

// GetByID retrieves a template by ID.
func (r *ExamTemplateRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.ExamTemplate, error) {
	t := &model.ExamTemplate{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, title, duration_minutes, published, created_at
		 FROM exam_templates
		 WHERE id = $1`, id,
	).Scan(&t.ID, &t.Title, &t.DurationMinutes, &t.Published, &t.CreatedAt)
	if err != nil {
		return nil, err
	}
	return t, nil
}

// ListPublished retrieves templates available to learners.
func (r *ExamTemplateRepository) ListPublished(ctx context.Context) ([]model.ExamTemplate, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, title, duration_minutes, published, created_at
		 FROM exam_templates
		 WHERE published = TRUE
		 ORDER BY created_at DESC`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var templates []model.ExamTemplate
	for rows.Next() {
		var t model.ExamTemplate
		if err := rows.Scan(&t.ID, &t.Title, &t.DurationMinutes, &t.Published, &t.CreatedAt); err != nil {
			return nil, err
		}
		templates = append(templates, t)
	}
	return templates, rows.Err()
}

// QuestionRefs retrieves the ordered question identifiers for a template.
// The engine only needs IDs and types; question text stays out of the
// attempt descriptor.
func (r *ExamTemplateRepository) QuestionRefs(ctx context.Context, templateID uuid.UUID) ([]model.QuestionRef, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, question_type
		 FROM template_questions
		 WHERE template_id = $1
		 ORDER BY order_num ASC`, templateID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var refs []model.QuestionRef
	for rows.Next() {
		var id uuid.UUID
		var qtype model.QuestionType
		if err := rows.Scan(&id, &qtype); err != nil {
			return nil, err
		}
		refs = append(refs, model.QuestionRef{QuestionID: id.String(), Type: qtype})
	}
	return refs, rows.Err()
}
