package websocket

// ─── Actions (Client → Server) ──────────────────────────────────────

type Action string

const (
	ActionAnswer Action = "answer"
	ActionSubmit Action = "submit"
	ActionPing   Action = "ping"
)

// RequestEnvelope is used to peek at the action before full parsing.
type RequestEnvelope struct {
	Action Action `json:"action"`
}

// AnswerRequest is sent by the client to record a single answer.
type AnswerRequest struct {
	Action           Action `json:"action"`
	QuestionID       string `json:"question_id"`
	SelectedOptionID string `json:"selected_option_id,omitempty"`
	FreeResponseText string `json:"free_response_text,omitempty"`
}

// SubmitRequest is sent by the client to finish the attempt.
type SubmitRequest struct {
	Action Action `json:"action"`
}

// ─── Events (Server → Client) ───────────────────────────────────────

type Event string

const (
	EventError     Event = "error"
	EventSuccess   Event = "success"
	EventSubmitted Event = "submitted"
	EventPong      Event = "pong"
)

type AnswerResponse struct {
	Event  Event  `json:"event"`
	Status string `json:"status"`
}

type SubmittedResponse struct {
	Event       Event  `json:"event"`
	Status      string `json:"status"`
	SubmittedAt string `json:"submitted_at"`
	AnswerCount int    `json:"answer_count"`
}

type ErrorResponse struct {
	Event Event  `json:"event"`
	Error string `json:"error"`
}

type PongResponse struct {
	Event Event `json:"event"`
}
