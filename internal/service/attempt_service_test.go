package service

import (
	"testing"

	"github.com/prepin/attempt-engine/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAnswerValueFrom(t *testing.T) {
	tests := []struct {
		name    string
		req     model.SetAnswerRequest
		want    model.AnswerValue
		wantErr bool
	}{
		{
			name: "choice",
			req:  model.SetAnswerRequest{QuestionID: "q1", SelectedOptionID: "B"},
			want: model.ChoiceAnswer("B"),
		},
		{
			name: "free response",
			req:  model.SetAnswerRequest{QuestionID: "q2", FreeResponseText: "osmosis"},
			want: model.FreeResponseAnswer("osmosis"),
		},
		{
			name:    "both fields set is ambiguous",
			req:     model.SetAnswerRequest{QuestionID: "q1", SelectedOptionID: "B", FreeResponseText: "osmosis"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := answerValueFrom(tt.req)
			if tt.wantErr {
				assert.ErrorIs(t, err, model.ErrInvalidAnswer)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
