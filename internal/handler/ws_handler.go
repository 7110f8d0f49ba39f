package handler

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/prepin/attempt-engine/internal/middleware"
	"github.com/prepin/attempt-engine/internal/model"
	"github.com/prepin/attempt-engine/internal/service"
	ws "github.com/prepin/attempt-engine/internal/websocket"
)

// buildUpgrader creates a WebSocket upgrader with origin validation.
// An empty allowedOrigins slice permits all origins (development mode).
func buildUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			for _, allowed := range allowedOrigins {
				if strings.EqualFold(allowed, origin) {
					return true
				}
			}
			return false
		},
	}
}

// WSHandler streams attempt mutations over a WebSocket, for clients that
// prefer a single connection over per-answer HTTP calls.
type WSHandler struct {
	attemptService *service.AttemptService
	log            zerolog.Logger
	upgrader       websocket.Upgrader
}

// NewWSHandler creates a new WSHandler.
func NewWSHandler(attemptService *service.AttemptService, log zerolog.Logger, allowedOrigins []string) *WSHandler {
	return &WSHandler{
		attemptService: attemptService,
		log:            log.With().Str("component", "ws_handler").Logger(),
		upgrader:       buildUpgrader(allowedOrigins),
	}
}

// AttemptStream godoc
// WS /ws/v1/attempts/:attempt_id/stream
// Upgrades to WebSocket for answer recording and submission.
func (h *WSHandler) AttemptStream(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	attemptID, err := uuid.Parse(c.Param("attempt_id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid attempt ID"})
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	// Verify the attempt is live and owned before streaming anything.
	if _, err := h.attemptService.State(c.Request.Context(), attemptID, claims.LearnerID); err != nil {
		ws.WriteError(conn, "no active attempt")
		return
	}

	wsLog := h.log.With().
		Int("learner_id", claims.LearnerID).
		Str("attempt_id", attemptID.String()).
		Logger()

	wsLog.Info().Msg("Learner connected")

	for {
		var envelope ws.RequestEnvelope
		raw, err := ws.ReadRaw(conn)
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				wsLog.Warn().Err(err).Msg("Unexpected close")
			} else {
				wsLog.Debug().Msg("Connection closed")
			}
			break
		}
		if err := json.Unmarshal(raw, &envelope); err != nil {
			ws.WriteError(conn, "malformed message")
			continue
		}

		switch envelope.Action {
		case ws.ActionAnswer:
			h.handleAnswer(c, conn, wsLog, attemptID, claims.LearnerID, raw)
		case ws.ActionSubmit:
			h.handleSubmit(c, conn, wsLog, attemptID, claims.LearnerID)
		case ws.ActionPing:
			ws.WriteTyped(conn, ws.PongResponse{Event: ws.EventPong})
		default:
			wsLog.Warn().Str("action", string(envelope.Action)).Msg("Unknown action")
			ws.WriteError(conn, "unknown action: "+string(envelope.Action))
		}
	}
}

// handleAnswer records a single answer through the service path, so the
// same validation and persistence apply as for the HTTP endpoint.
func (h *WSHandler) handleAnswer(c *gin.Context, conn *websocket.Conn, log zerolog.Logger, attemptID uuid.UUID, learnerID int, raw []byte) {
	var msg ws.AnswerRequest
	if err := json.Unmarshal(raw, &msg); err != nil {
		ws.WriteError(conn, "malformed answer message")
		return
	}
	if _, err := uuid.Parse(msg.QuestionID); err != nil {
		ws.WriteError(conn, "invalid question_id format")
		return
	}

	req := model.SetAnswerRequest{
		QuestionID:       msg.QuestionID,
		SelectedOptionID: msg.SelectedOptionID,
		FreeResponseText: msg.FreeResponseText,
	}
	if err := h.attemptService.SetAnswer(c.Request.Context(), attemptID, learnerID, req); err != nil {
		log.Warn().Err(err).Str("question_id", msg.QuestionID).Msg("Answer rejected")
		ws.WriteError(conn, err.Error())
		return
	}

	ws.WriteTyped(conn, ws.AnswerResponse{Event: ws.EventSuccess, Status: "saved"})
}

// handleSubmit finalizes the attempt and closes out the stream.
func (h *WSHandler) handleSubmit(c *gin.Context, conn *websocket.Conn, log zerolog.Logger, attemptID uuid.UUID, learnerID int) {
	result, err := h.attemptService.Submit(c.Request.Context(), attemptID, learnerID)
	if err != nil {
		log.Error().Err(err).Msg("Submit over WebSocket failed")
		ws.WriteError(conn, err.Error())
		return
	}

	ws.WriteTyped(conn, ws.SubmittedResponse{
		Event:       ws.EventSubmitted,
		Status:      "submitted",
		SubmittedAt: result.SubmittedAt.Format(time.RFC3339),
		AnswerCount: result.AnswerCount,
	})
}
