package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/prepin/attempt-engine/internal/model"
	"github.com/prepin/attempt-engine/internal/remote"
	"github.com/prepin/attempt-engine/internal/repository"
	"github.com/prepin/attempt-engine/internal/session"
)

// Attempt service errors surfaced to handlers.
var (
	ErrTemplateNotAvailable = errors.New("exam template is not available")
	ErrAttemptNotFound      = errors.New("attempt not found")
	ErrNotAttemptOwner      = errors.New("attempt belongs to another learner")
	ErrAttemptFinished      = errors.New("attempt is already finished")
)

// AttemptService ties the authority's attempt rows to live engine sessions:
// it creates or resumes attempts, routes mutations to the right session and
// resolves cancellations.
type AttemptService struct {
	attemptRepo  *repository.AttemptRepository
	templateRepo *repository.ExamTemplateRepository
	manager      *session.Manager
}

// NewAttemptService creates a new AttemptService.
func NewAttemptService(
	attemptRepo *repository.AttemptRepository,
	templateRepo *repository.ExamTemplateRepository,
	manager *session.Manager,
) *AttemptService {
	return &AttemptService{
		attemptRepo:  attemptRepo,
		templateRepo: templateRepo,
		manager:      manager,
	}
}

// StartResult is what a start/resume call hands back to the UI collaborator.
type StartResult struct {
	Descriptor model.AttemptDescriptor `json:"descriptor"`
	State      session.State           `json:"state"`
	Recovered  bool                    `json:"recovered"`
}

// ListTemplates returns the published exam templates.
func (s *AttemptService) ListTemplates(ctx context.Context) ([]model.ExamTemplate, error) {
	return s.templateRepo.ListPublished(ctx)
}

// Start creates or resumes the learner's attempt on a template and brings
// its engine session up. Idempotent: a second start for the same attempt
// attaches to the live session or recovers it from the durable store.
func (s *AttemptService) Start(ctx context.Context, templateID uuid.UUID, learnerID int) (*StartResult, error) {
	template, err := s.templateRepo.GetByID(ctx, templateID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTemplateNotAvailable
		}
		return nil, fmt.Errorf("get template: %w", err)
	}
	if !template.Published {
		return nil, ErrTemplateNotAvailable
	}

	attempt, err := s.attemptRepo.GetInProgress(ctx, templateID, learnerID)
	if errors.Is(err, pgx.ErrNoRows) {
		attempt = &model.Attempt{TemplateID: templateID, LearnerID: learnerID}
		if createErr := s.attemptRepo.Create(ctx, attempt); createErr != nil {
			if errors.Is(createErr, pgx.ErrNoRows) {
				// Concurrent start from another device won the insert.
				attempt, err = s.attemptRepo.GetInProgress(ctx, templateID, learnerID)
				if err != nil {
					return nil, fmt.Errorf("concurrent start detected, fetch failed: %w", err)
				}
			} else {
				return nil, fmt.Errorf("create attempt: %w", createErr)
			}
		}
	} else if err != nil {
		return nil, fmt.Errorf("get attempt: %w", err)
	}

	refs, err := s.templateRepo.QuestionRefs(ctx, templateID)
	if err != nil {
		return nil, fmt.Errorf("load question refs: %w", err)
	}

	desc := model.AttemptDescriptor{
		AttemptID:       attempt.ID,
		Title:           template.Title,
		DurationMinutes: template.DurationMinutes,
		Questions:       refs,
	}

	sess, recovered, err := s.manager.StartOrAttach(ctx, desc)
	if err != nil && sess == nil {
		return nil, fmt.Errorf("start session: %w", err)
	}
	// A SubmissionError here means the recovered attempt had already
	// expired and its immediate submission failed. The session is Failed
	// but alive; hand it to the caller with its real state.

	return &StartResult{
		Descriptor: desc,
		State:      sess.State(),
		Recovered:  recovered,
	}, nil
}

// sessionFor resolves a live session, checking ownership against the
// attempt row.
func (s *AttemptService) sessionFor(ctx context.Context, attemptID uuid.UUID, learnerID int) (*session.Session, error) {
	attempt, err := s.attemptRepo.GetByID(ctx, attemptID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAttemptNotFound
		}
		return nil, fmt.Errorf("get attempt: %w", err)
	}
	if attempt.LearnerID != learnerID {
		return nil, ErrNotAttemptOwner
	}
	if attempt.Status != model.AttemptStatusInProgress {
		return nil, ErrAttemptFinished
	}

	sess, ok := s.manager.Get(attemptID)
	if !ok {
		return nil, ErrAttemptNotFound
	}
	return sess, nil
}

// State returns the observable session state for an attempt.
func (s *AttemptService) State(ctx context.Context, attemptID uuid.UUID, learnerID int) (*session.State, error) {
	sess, err := s.sessionFor(ctx, attemptID, learnerID)
	if err != nil {
		return nil, err
	}
	st := sess.State()
	return &st, nil
}

// SetAnswer records one answer on the live session.
func (s *AttemptService) SetAnswer(ctx context.Context, attemptID uuid.UUID, learnerID int, req model.SetAnswerRequest) error {
	sess, err := s.sessionFor(ctx, attemptID, learnerID)
	if err != nil {
		return err
	}
	value, err := answerValueFrom(req)
	if err != nil {
		return err
	}
	return sess.SetAnswer(ctx, req.QuestionID, value)
}

// answerValueFrom binds the request to the tagged variant. Exactly one
// payload field must be set; the session then checks the variant against
// the question's declared type.
func answerValueFrom(req model.SetAnswerRequest) (model.AnswerValue, error) {
	if req.SelectedOptionID != "" && req.FreeResponseText != "" {
		return model.AnswerValue{}, model.ErrInvalidAnswer
	}
	if req.FreeResponseText != "" {
		return model.FreeResponseAnswer(req.FreeResponseText), nil
	}
	return model.ChoiceAnswer(req.SelectedOptionID), nil
}

// Submit finalizes the attempt through the engine's single submission path.
func (s *AttemptService) Submit(ctx context.Context, attemptID uuid.UUID, learnerID int) (*remote.Result, error) {
	sess, err := s.sessionFor(ctx, attemptID, learnerID)
	if err != nil {
		return nil, err
	}
	return sess.RequestSubmit(ctx)
}

// Cancel resolves a cancellation: submit the current state, or discard it.
// Discard also closes out the attempt row so it cannot be resumed.
func (s *AttemptService) Cancel(ctx context.Context, attemptID uuid.UUID, learnerID int, submitCurrent bool) (*remote.Result, error) {
	sess, err := s.sessionFor(ctx, attemptID, learnerID)
	if err != nil {
		return nil, err
	}

	result, err := sess.RequestCancel(ctx, submitCurrent)
	if err != nil {
		return nil, err
	}
	if !submitCurrent {
		if markErr := s.attemptRepo.MarkDiscarded(ctx, attemptID); markErr != nil {
			return nil, fmt.Errorf("mark discarded: %w", markErr)
		}
	}
	return result, nil
}
