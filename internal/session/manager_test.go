package session

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prepin/attempt-engine/internal/model"
	"github.com/prepin/attempt-engine/internal/store"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func managerDesc() model.AttemptDescriptor {
	return model.AttemptDescriptor{
		AttemptID:       uuid.New(),
		Title:           "Physics Final",
		DurationMinutes: 45,
		Questions: []model.QuestionRef{
			{QuestionID: "q1", Type: model.QuestionTypeMultipleChoice},
		},
	}
}

func TestManagerSingleSessionPerAttempt(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	m := NewManager(st, &fakeAuthority{}, Config{}, zerolog.Nop())
	defer m.Shutdown(ctx)

	desc := managerDesc()
	first, _, err := m.StartOrAttach(ctx, desc)
	require.NoError(t, err)

	second, startedRecovered, err := m.StartOrAttach(ctx, desc)
	require.NoError(t, err)
	assert.Same(t, first, second, "second start must attach, not spawn a second countdown")
	assert.False(t, startedRecovered)

	got, ok := m.Get(desc.AttemptID)
	require.True(t, ok)
	assert.Same(t, first, got)
}

func TestManagerDetachesTerminalSessions(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	m := NewManager(st, &fakeAuthority{}, Config{}, zerolog.Nop())
	defer m.Shutdown(ctx)

	desc := managerDesc()
	sess, _, err := m.StartOrAttach(ctx, desc)
	require.NoError(t, err)

	_, err = sess.RequestSubmit(ctx)
	require.NoError(t, err)

	_, ok := m.Get(desc.AttemptID)
	assert.False(t, ok, "submitted session must leave the registry")
}

func TestManagerShutdownSuspendsForRecovery(t *testing.T) {
	ctx := context.Background()
	st := store.NewMemoryStore()
	authority := &fakeAuthority{}

	m := NewManager(st, authority, Config{}, zerolog.Nop())
	desc := managerDesc()
	sess, _, err := m.StartOrAttach(ctx, desc)
	require.NoError(t, err)
	require.NoError(t, sess.SetAnswer(ctx, "q1", model.ChoiceAnswer("B")))

	m.Shutdown(ctx)
	assert.Equal(t, 0, authority.submits(), "shutdown suspends, it does not submit")

	// A new manager over the same store recovers the suspended attempt.
	m2 := NewManager(st, authority, Config{}, zerolog.Nop())
	defer m2.Shutdown(ctx)
	restored, recovered, err := m2.StartOrAttach(ctx, desc)
	require.NoError(t, err)
	assert.True(t, recovered)
	require.Eventually(t, func() bool {
		return restored.State().SubmissionState == model.SubmissionStateActive
	}, time.Second, time.Millisecond)
	assert.Equal(t, "B", restored.State().Answers["q1"].SelectedOptionID)
}
