// Package ledger holds the in-memory answer state for one attempt: the
// current best-known value for every question, point updates in constant
// time, and the total submission payload the authority expects.
package ledger

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"

	"github.com/prepin/attempt-engine/internal/model"
)

// Ledger maps question ID to the current answer value. A question absent
// from the map is unanswered. The ledger is a pure in-memory structure with
// no locking; the session controller owns it exclusively.
type Ledger struct {
	answers map[string]model.AnswerValue
}

// New returns an empty ledger.
func New() *Ledger {
	return &Ledger{answers: make(map[string]model.AnswerValue)}
}

// FromMap seeds a ledger from a recovered answer map. The map is copied.
func FromMap(answers map[string]model.AnswerValue) *Ledger {
	l := New()
	for qid, v := range answers {
		l.answers[qid] = v
	}
	return l
}

// SetAnswer inserts or replaces the entry for questionID. Replacing with a
// different variant than the existing entry is allowed.
func (l *Ledger) SetAnswer(questionID string, value model.AnswerValue) {
	l.answers[questionID] = value
}

// Get returns the current value for questionID, if any.
func (l *Ledger) Get(questionID string) (model.AnswerValue, bool) {
	v, ok := l.answers[questionID]
	return v, ok
}

// Len returns the number of answered questions.
func (l *Ledger) Len() int {
	return len(l.answers)
}

// Snapshot returns a copy of the answer map. Flushes serialize the copy so
// a concurrent mutation can never tear a write.
func (l *Ledger) Snapshot() map[string]model.AnswerValue {
	out := make(map[string]model.AnswerValue, len(l.answers))
	for qid, v := range l.answers {
		out[qid] = v
	}
	return out
}

// ToSubmissionPayload produces one record per question ref, in ref order.
// Unanswered questions carry explicit nulls in both fields: the authority
// treats omission and "skipped" differently, so the payload length always
// equals len(refs).
func (l *Ledger) ToSubmissionPayload(refs []model.QuestionRef) model.SubmissionPayload {
	records := make([]model.AnswerRecord, 0, len(refs))
	for _, ref := range refs {
		rec := model.AnswerRecord{QuestionID: ref.QuestionID}
		if v, ok := l.answers[ref.QuestionID]; ok {
			switch v.Kind {
			case model.AnswerKindChoice:
				selected := v.SelectedOptionID
				rec.SelectedAnswerID = &selected
			case model.AnswerKindFreeResponse:
				text := v.FreeResponseText
				rec.FRQAnswerText = &text
			}
		}
		records = append(records, rec)
	}
	return model.SubmissionPayload{Answers: records}
}

// Signature returns a content hash of the answer map, stable across map
// iteration order. Equal signatures mean a flush would be a no-op.
func (l *Ledger) Signature() string {
	return SignatureOf(l.answers)
}

// SignatureOf hashes an answer map in canonical (sorted-key) JSON form.
func SignatureOf(answers map[string]model.AnswerValue) string {
	qids := make([]string, 0, len(answers))
	for qid := range answers {
		qids = append(qids, qid)
	}
	sort.Strings(qids)

	h := sha256.New()
	enc := json.NewEncoder(h)
	for _, qid := range qids {
		_ = enc.Encode(qid)
		_ = enc.Encode(answers[qid])
	}
	return hex.EncodeToString(h.Sum(nil))
}
