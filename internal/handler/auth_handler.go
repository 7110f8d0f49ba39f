package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prepin/attempt-engine/internal/middleware"
	"github.com/prepin/attempt-engine/internal/model"
	"github.com/prepin/attempt-engine/internal/repository"
	"github.com/prepin/attempt-engine/internal/response"
	"github.com/prepin/attempt-engine/internal/service"
	"github.com/prepin/attempt-engine/internal/validator"
)

// AuthHandler handles learner authentication endpoints.
type AuthHandler struct {
	authService *service.AuthService
	learnerRepo *repository.LearnerRepository
}

// NewAuthHandler creates a new AuthHandler.
func NewAuthHandler(authService *service.AuthService, learnerRepo *repository.LearnerRepository) *AuthHandler {
	return &AuthHandler{
		authService: authService,
		learnerRepo: learnerRepo,
	}
}

// Login godoc
// POST /api/v1/auth/login
// Validates email + password, issues a JWT and registers it as the
// learner's single active device session.
func (h *AuthHandler) Login(c *gin.Context) {
	var req model.LoginRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	learner, err := h.learnerRepo.GetByEmail(c.Request.Context(), req.Email)
	if err != nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrInvalidCredentials)
		return
	}

	if err := h.authService.CheckPassword(learner.PasswordHash, req.Password); err != nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrInvalidCredentials)
		return
	}

	token, err := h.authService.GenerateToken(c.Request.Context(), learner.ID)
	if err != nil {
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"token": token,
		"learner": gin.H{
			"id":    learner.ID,
			"name":  learner.Name,
			"email": learner.Email,
		},
	})
}

// Logout godoc
// POST /api/v1/auth/logout
// Invalidates the learner's active device session.
func (h *AuthHandler) Logout(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	if err := h.authService.Logout(c.Request.Context(), claims.LearnerID); err != nil {
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	response.Success(c, http.StatusOK, gin.H{})
}

// Me godoc
// GET /api/v1/auth/me
// Returns the profile of the currently authenticated learner.
func (h *AuthHandler) Me(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	learner, err := h.learnerRepo.GetByID(c.Request.Context(), claims.LearnerID)
	if err != nil {
		response.Fail(c, http.StatusNotFound, response.ErrNotFound)
		return
	}

	response.Success(c, http.StatusOK, gin.H{
		"learner": gin.H{
			"id":    learner.ID,
			"name":  learner.Name,
			"email": learner.Email,
		},
	})
}
