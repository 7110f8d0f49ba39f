package model

import "errors"

// AnswerKind discriminates the two answer variants. The kind is bound once,
// from the question type, and never re-inferred from the value shape.
type AnswerKind string

const (
	AnswerKindChoice       AnswerKind = "CHOICE"
	AnswerKindFreeResponse AnswerKind = "FREE_RESPONSE"
)

// AnswerValue is a tagged variant: exactly one payload field is meaningful,
// selected by Kind.
type AnswerValue struct {
	Kind             AnswerKind `json:"kind"`
	SelectedOptionID string     `json:"selected_option_id,omitempty"`
	FreeResponseText string     `json:"free_response_text,omitempty"`
}

// ChoiceAnswer builds a multiple-choice AnswerValue.
func ChoiceAnswer(optionID string) AnswerValue {
	return AnswerValue{Kind: AnswerKindChoice, SelectedOptionID: optionID}
}

// FreeResponseAnswer builds a free-response AnswerValue.
func FreeResponseAnswer(text string) AnswerValue {
	return AnswerValue{Kind: AnswerKindFreeResponse, FreeResponseText: text}
}

// ErrInvalidAnswer is returned for a value whose Kind is unknown or whose
// payload does not match its Kind.
var ErrInvalidAnswer = errors.New("invalid answer value")

// Validate checks that the variant tag and payload agree.
func (v AnswerValue) Validate() error {
	switch v.Kind {
	case AnswerKindChoice:
		if v.SelectedOptionID == "" || v.FreeResponseText != "" {
			return ErrInvalidAnswer
		}
	case AnswerKindFreeResponse:
		if v.FreeResponseText == "" || v.SelectedOptionID != "" {
			return ErrInvalidAnswer
		}
	default:
		return ErrInvalidAnswer
	}
	return nil
}

// AnswerRecord is one row of a submission payload. The authority expects one
// record per question of the attempt: an unanswered question is an explicit
// pair of nulls, never an omitted row.
type AnswerRecord struct {
	QuestionID       string  `json:"question_id"`
	SelectedAnswerID *string `json:"selected_answer_id"`
	FRQAnswerText    *string `json:"frq_answer_text"`
}

// SubmissionPayload is the body sent to the submission authority for both
// progress saves and the final submit.
type SubmissionPayload struct {
	Answers []AnswerRecord `json:"answers"`
}
