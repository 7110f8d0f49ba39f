package ledger

import (
	"testing"

	"github.com/prepin/attempt-engine/internal/model"
)

func refs(ids ...string) []model.QuestionRef {
	out := make([]model.QuestionRef, 0, len(ids))
	for _, id := range ids {
		out = append(out, model.QuestionRef{QuestionID: id, Type: model.QuestionTypeMultipleChoice})
	}
	return out
}

func TestSetAnswerReplacesVariant(t *testing.T) {
	l := New()
	l.SetAnswer("q1", model.ChoiceAnswer("A"))
	l.SetAnswer("q1", model.FreeResponseAnswer("an essay"))

	v, ok := l.Get("q1")
	if !ok {
		t.Fatal("q1 missing after SetAnswer")
	}
	if v.Kind != model.AnswerKindFreeResponse || v.FreeResponseText != "an essay" {
		t.Errorf("got %+v, want free-response replacement", v)
	}
	if l.Len() != 1 {
		t.Errorf("Len() = %d, want 1", l.Len())
	}
}

func TestToSubmissionPayloadIsTotal(t *testing.T) {
	tests := []struct {
		name     string
		answered map[string]model.AnswerValue
		refs     []model.QuestionRef
	}{
		{"empty ledger", nil, refs("q1", "q2", "q3")},
		{"partial", map[string]model.AnswerValue{"q2": model.ChoiceAnswer("B")}, refs("q1", "q2", "q3")},
		{"full", map[string]model.AnswerValue{
			"q1": model.ChoiceAnswer("A"),
			"q2": model.FreeResponseAnswer("text"),
		}, refs("q1", "q2")},
		{"no refs", map[string]model.AnswerValue{"q1": model.ChoiceAnswer("A")}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := FromMap(tt.answered)
			payload := l.ToSubmissionPayload(tt.refs)

			if len(payload.Answers) != len(tt.refs) {
				t.Fatalf("got %d records, want %d", len(payload.Answers), len(tt.refs))
			}
			for i, rec := range payload.Answers {
				if rec.QuestionID != tt.refs[i].QuestionID {
					t.Errorf("record %d: question %s, want %s in ref order", i, rec.QuestionID, tt.refs[i].QuestionID)
				}
				v, answered := tt.answered[rec.QuestionID]
				if !answered {
					if rec.SelectedAnswerID != nil || rec.FRQAnswerText != nil {
						t.Errorf("unanswered %s: want explicit nulls, got %+v", rec.QuestionID, rec)
					}
					continue
				}
				switch v.Kind {
				case model.AnswerKindChoice:
					if rec.SelectedAnswerID == nil || *rec.SelectedAnswerID != v.SelectedOptionID {
						t.Errorf("%s: selected_answer_id = %v, want %q", rec.QuestionID, rec.SelectedAnswerID, v.SelectedOptionID)
					}
					if rec.FRQAnswerText != nil {
						t.Errorf("%s: frq_answer_text should be null for choice answers", rec.QuestionID)
					}
				case model.AnswerKindFreeResponse:
					if rec.FRQAnswerText == nil || *rec.FRQAnswerText != v.FreeResponseText {
						t.Errorf("%s: frq_answer_text = %v, want %q", rec.QuestionID, rec.FRQAnswerText, v.FreeResponseText)
					}
					if rec.SelectedAnswerID != nil {
						t.Errorf("%s: selected_answer_id should be null for free-response answers", rec.QuestionID)
					}
				}
			}
		})
	}
}

func TestSignatureStability(t *testing.T) {
	a := FromMap(map[string]model.AnswerValue{
		"q1": model.ChoiceAnswer("A"),
		"q2": model.FreeResponseAnswer("x"),
		"q3": model.ChoiceAnswer("C"),
	})
	b := FromMap(a.Snapshot())

	if a.Signature() != b.Signature() {
		t.Error("same content produced different signatures")
	}

	b.SetAnswer("q1", model.ChoiceAnswer("B"))
	if a.Signature() == b.Signature() {
		t.Error("different content produced equal signatures")
	}

	if New().Signature() == a.Signature() {
		t.Error("empty ledger signature collides with populated ledger")
	}
}

func TestSnapshotIsIsolated(t *testing.T) {
	l := New()
	l.SetAnswer("q1", model.ChoiceAnswer("A"))

	snap := l.Snapshot()
	l.SetAnswer("q1", model.ChoiceAnswer("B"))

	if snap["q1"].SelectedOptionID != "A" {
		t.Error("snapshot mutated by later SetAnswer")
	}
}
