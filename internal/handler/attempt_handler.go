package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/prepin/attempt-engine/internal/middleware"
	"github.com/prepin/attempt-engine/internal/model"
	"github.com/prepin/attempt-engine/internal/remote"
	"github.com/prepin/attempt-engine/internal/response"
	"github.com/prepin/attempt-engine/internal/service"
	"github.com/prepin/attempt-engine/internal/session"
	"github.com/prepin/attempt-engine/internal/validator"
)

// AttemptHandler exposes the attempt lifecycle over HTTP.
type AttemptHandler struct {
	attemptService *service.AttemptService
	log            zerolog.Logger
}

// NewAttemptHandler creates a new AttemptHandler.
func NewAttemptHandler(attemptService *service.AttemptService, log zerolog.Logger) *AttemptHandler {
	return &AttemptHandler{
		attemptService: attemptService,
		log:            log.With().Str("component", "attempt_handler").Logger(),
	}
}

// ListTemplates godoc
// GET /api/v1/learner/templates
// Returns the published exam templates available to the learner.
func (h *AttemptHandler) ListTemplates(c *gin.Context) {
	templates, err := h.attemptService.ListTemplates(c.Request.Context())
	if err != nil {
		h.log.Error().Err(err).Msg("List templates failed")
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"templates": templates})
}

// Start godoc
// POST /api/v1/learner/templates/:template_id/start
// Creates or resumes the learner's attempt on a template. Safe to call
// again after a crash or reconnect: the same attempt comes back with its
// recovered answers and remaining time.
func (h *AttemptHandler) Start(c *gin.Context) {
	claims := middleware.GetClaims(c)

	templateID, err := uuid.Parse(c.Param("template_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	result, err := h.attemptService.Start(c.Request.Context(), templateID, claims.LearnerID)
	if err != nil {
		if errors.Is(err, service.ErrTemplateNotAvailable) {
			response.Fail(c, http.StatusNotFound, response.ErrExamNotAvailable)
			return
		}
		h.log.Error().Err(err).Str("template_id", templateID.String()).Msg("Start attempt failed")
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	response.Success(c, http.StatusOK, result)
}

// State godoc
// GET /api/v1/learner/attempts/:attempt_id/state
// Returns the observable session state: status, remaining seconds, answer
// count and last persisted timestamp.
func (h *AttemptHandler) State(c *gin.Context) {
	claims := middleware.GetClaims(c)

	attemptID, err := uuid.Parse(c.Param("attempt_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	state, err := h.attemptService.State(c.Request.Context(), attemptID, claims.LearnerID)
	if err != nil {
		h.failAttemptError(c, err)
		return
	}

	response.Success(c, http.StatusOK, state)
}

// SetAnswer godoc
// PUT /api/v1/learner/attempts/:attempt_id/answers
// Records one answer. Replaces any previous answer for the same question.
func (h *AttemptHandler) SetAnswer(c *gin.Context) {
	claims := middleware.GetClaims(c)

	attemptID, err := uuid.Parse(c.Param("attempt_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	var req model.SetAnswerRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	if err := h.attemptService.SetAnswer(c.Request.Context(), attemptID, claims.LearnerID, req); err != nil {
		h.failAttemptError(c, err)
		return
	}

	response.Success(c, http.StatusOK, gin.H{"status": "saved"})
}

// Submit godoc
// POST /api/v1/learner/attempts/:attempt_id/submit
// Finalizes the attempt. On authority failure the attempt stays
// resubmittable; the client may retry this endpoint.
func (h *AttemptHandler) Submit(c *gin.Context) {
	claims := middleware.GetClaims(c)

	attemptID, err := uuid.Parse(c.Param("attempt_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	result, err := h.attemptService.Submit(c.Request.Context(), attemptID, claims.LearnerID)
	if err != nil {
		h.failAttemptError(c, err)
		return
	}

	response.Success(c, http.StatusOK, result)
}

// Cancel godoc
// POST /api/v1/learner/attempts/:attempt_id/cancel
// Resolves a cancellation: mode "submit" sends the current answers through
// the normal submission path, mode "discard" abandons the attempt.
func (h *AttemptHandler) Cancel(c *gin.Context) {
	claims := middleware.GetClaims(c)

	attemptID, err := uuid.Parse(c.Param("attempt_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	var req model.CancelAttemptRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	result, err := h.attemptService.Cancel(c.Request.Context(), attemptID, claims.LearnerID, req.Mode == "submit")
	if err != nil {
		h.failAttemptError(c, err)
		return
	}

	if result == nil {
		response.Success(c, http.StatusOK, gin.H{"status": "discarded"})
		return
	}
	response.Success(c, http.StatusOK, result)
}

// failAttemptError maps service and engine errors onto API error codes.
func (h *AttemptHandler) failAttemptError(c *gin.Context, err error) {
	var subErr *remote.SubmissionError
	switch {
	case errors.Is(err, service.ErrAttemptNotFound):
		response.Fail(c, http.StatusNotFound, response.ErrAttemptNotFound)
	case errors.Is(err, service.ErrNotAttemptOwner):
		response.Fail(c, http.StatusForbidden, response.ErrForbidden)
	case errors.Is(err, service.ErrAttemptFinished),
		errors.Is(err, session.ErrAlreadySubmitted),
		errors.Is(err, session.ErrNotActive):
		response.Fail(c, http.StatusConflict, response.ErrAttemptFinished)
	case errors.Is(err, session.ErrSubmissionInFlight):
		response.Fail(c, http.StatusConflict, response.ErrSubmitInFlight)
	case errors.Is(err, session.ErrUnknownQuestion):
		response.Fail(c, http.StatusUnprocessableEntity, response.ErrUnknownQuestion)
	case errors.Is(err, model.ErrInvalidAnswer):
		response.Fail(c, http.StatusUnprocessableEntity, response.ErrInvalidAnswer)
	case errors.As(err, &subErr):
		// Answers are durable; the client is told it can resubmit.
		h.log.Error().Err(err).Msg("Submission failed")
		response.Fail(c, http.StatusBadGateway, response.ErrSubmissionFailed)
	default:
		h.log.Error().Err(err).Msg("Attempt operation failed")
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
	}
}
