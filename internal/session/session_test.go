package session

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prepin/attempt-engine/internal/model"
	"github.com/prepin/attempt-engine/internal/remote"
	"github.com/prepin/attempt-engine/internal/store"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeAuthority records submission traffic and can be made to fail or
// block, to exercise the failure and racing paths.
type fakeAuthority struct {
	mu          sync.Mutex
	saveCalls   int
	submitCalls int
	lastPayload model.SubmissionPayload
	failSubmit  bool

	// entered is signalled when SubmitAttempt is invoked; release gates its
	// return. Both nil by default (no blocking).
	entered chan struct{}
	release chan struct{}
}

func (f *fakeAuthority) SaveProgress(ctx context.Context, attemptID uuid.UUID, payload model.SubmissionPayload) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.saveCalls++
	return nil
}

func (f *fakeAuthority) SubmitAttempt(ctx context.Context, attemptID uuid.UUID, payload model.SubmissionPayload) (*remote.Result, error) {
	f.mu.Lock()
	f.submitCalls++
	f.lastPayload = payload
	entered, release, fail := f.entered, f.release, f.failSubmit
	f.mu.Unlock()

	if entered != nil {
		entered <- struct{}{}
	}
	if release != nil {
		<-release
	}
	if fail {
		return nil, &remote.SubmissionError{AttemptID: attemptID, Err: errors.New("authority rejected")}
	}
	return &remote.Result{AttemptID: attemptID, SubmittedAt: time.Now(), AnswerCount: len(payload.Answers)}, nil
}

func (f *fakeAuthority) submits() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.submitCalls
}

type testEnv struct {
	desc      model.AttemptDescriptor
	store     *store.MemoryStore
	authority *fakeAuthority
	countdown *ManualTicker
	flush     *ManualTicker
}

func newTestEnv() *testEnv {
	return &testEnv{
		desc: model.AttemptDescriptor{
			AttemptID:       uuid.New(),
			Title:           "Algebra Mock Exam",
			DurationMinutes: 30,
			Questions: []model.QuestionRef{
				{QuestionID: "q1", Type: model.QuestionTypeMultipleChoice},
				{QuestionID: "q2", Type: model.QuestionTypeFreeResponse},
			},
		},
		store:     store.NewMemoryStore(),
		authority: &fakeAuthority{},
		countdown: NewManualTicker(),
		flush:     NewManualTicker(),
	}
}

// factory hands the countdown ticker to the 1s request and the flush
// ticker to everything coarser.
func (e *testEnv) factory(d time.Duration) Ticker {
	if d == time.Second {
		return e.countdown
	}
	return e.flush
}

func (e *testEnv) newSession() *Session {
	return New(e.desc, e.store, e.authority, Config{
		TickPeriod:    time.Second,
		FlushInterval: 30 * time.Second,
		SubmitTimeout: 2 * time.Second,
		NewTicker:     e.factory,
	}, zerolog.Nop())
}

func (e *testEnv) keys() store.AttemptKeys {
	return store.KeysFor(e.desc.AttemptID.String())
}

func TestSetAnswerFlushesImmediately(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv()
	sess := env.newSession()
	defer sess.Close()

	recovered, err := sess.Start(ctx)
	require.NoError(t, err)
	assert.False(t, recovered)

	require.NoError(t, sess.SetAnswer(ctx, "q1", model.ChoiceAnswer("A")))

	raw, err := env.store.Get(ctx, env.keys().Answers)
	require.NoError(t, err, "answers record should exist right after SetAnswer")

	var persisted map[string]model.AnswerValue
	require.NoError(t, json.Unmarshal([]byte(raw), &persisted))
	assert.Equal(t, "A", persisted["q1"].SelectedOptionID)
}

func TestSetAnswerRejectsUnknownQuestionAndBadValue(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv()
	sess := env.newSession()
	defer sess.Close()

	_, err := sess.Start(ctx)
	require.NoError(t, err)

	err = sess.SetAnswer(ctx, "q99", model.ChoiceAnswer("A"))
	assert.ErrorIs(t, err, ErrUnknownQuestion)

	err = sess.SetAnswer(ctx, "q1", model.AnswerValue{Kind: "BOGUS"})
	assert.ErrorIs(t, err, model.ErrInvalidAnswer)

	// A well-formed value of the wrong kind for the question is rejected
	// in both directions.
	err = sess.SetAnswer(ctx, "q1", model.FreeResponseAnswer("an essay"))
	assert.ErrorIs(t, err, model.ErrInvalidAnswer)
	err = sess.SetAnswer(ctx, "q2", model.ChoiceAnswer("A"))
	assert.ErrorIs(t, err, model.ErrInvalidAnswer)

	// Rejected inputs never reach the durable store.
	_, err = env.store.Get(ctx, env.keys().Answers)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

// Start logs the session's remaining time after the countdown goroutine is
// already running; with wall tickers at a microsecond cadence the read and
// the first decrements overlap unless Start uses its own captured value.
// Run with -race.
func TestStartDoesNotRaceWithCountdown(t *testing.T) {
	ctx := context.Background()

	for i := 0; i < 20; i++ {
		env := newTestEnv()
		sess := New(env.desc, env.store, env.authority, Config{
			TickPeriod:    50 * time.Microsecond,
			FlushInterval: time.Hour,
			SubmitTimeout: 2 * time.Second,
		}, zerolog.Nop())

		_, err := sess.Start(ctx)
		require.NoError(t, err)
		time.Sleep(time.Millisecond)
		sess.Close()
	}
}

func TestRoundTripRecovery(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv()
	sess := env.newSession()

	_, err := sess.Start(ctx)
	require.NoError(t, err)
	require.NoError(t, sess.SetAnswer(ctx, "q1", model.ChoiceAnswer("B")))
	require.NoError(t, sess.SetAnswer(ctx, "q2", model.FreeResponseAnswer("because entropy")))
	before := sess.State().Answers

	// Simulated process death: clock handle dropped, store survives.
	sess.Suspend(ctx)

	env2 := *env
	env2.countdown = NewManualTicker()
	env2.flush = NewManualTicker()
	restored := env2.newSession()
	defer restored.Close()

	recovered, err := restored.Start(ctx)
	require.NoError(t, err)
	assert.True(t, recovered, "caller must be told a recovery occurred")
	assert.Equal(t, before, restored.State().Answers)
}

func TestTimeRecoveryIsClampedAndMonotonic(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv()

	// Persisted value above the duration must clamp down to it.
	require.NoError(t, env.store.Set(ctx, env.keys().Time, "99999"))

	sess := env.newSession()
	defer sess.Close()
	recovered, err := sess.Start(ctx)
	require.NoError(t, err)
	assert.True(t, recovered)
	assert.Equal(t, env.desc.DurationSeconds(), sess.State().TimeRemainingSeconds)

	total := env.desc.DurationSeconds()
	for i := 1; i <= 5; i++ {
		require.True(t, env.countdown.Tick())
		want := total - i
		require.Eventually(t, func() bool {
			return sess.State().TimeRemainingSeconds == want
		}, time.Second, time.Millisecond, "each tick decrements by exactly one")
	}
}

func TestCorruptRecordsStartFresh(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv()
	require.NoError(t, env.store.Set(ctx, env.keys().Answers, "{not json"))
	require.NoError(t, env.store.Set(ctx, env.keys().Time, "soon"))

	sess := env.newSession()
	defer sess.Close()
	recovered, err := sess.Start(ctx)
	require.NoError(t, err, "corrupt persistence must not crash session creation")
	assert.False(t, recovered)

	st := sess.State()
	assert.Equal(t, env.desc.DurationSeconds(), st.TimeRemainingSeconds)
	assert.Empty(t, st.Answers)

	// The corrupt records were discarded, not kept around.
	_, err = env.store.Get(ctx, env.keys().Answers)
	assert.ErrorIs(t, err, store.ErrNotFound)
	_, err = env.store.Get(ctx, env.keys().Time)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestRecoveredAnswersOutsideAttemptAreDropped(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv()
	stale, _ := json.Marshal(map[string]model.AnswerValue{
		"q1":       model.ChoiceAnswer("A"),
		"intruder": model.ChoiceAnswer("X"),
	})
	require.NoError(t, env.store.Set(ctx, env.keys().Answers, string(stale)))

	sess := env.newSession()
	defer sess.Close()
	_, err := sess.Start(ctx)
	require.NoError(t, err)

	answers := sess.State().Answers
	assert.Contains(t, answers, "q1")
	assert.NotContains(t, answers, "intruder")
}

func TestExpirySubmitsTotalPayload(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv()
	// Resume with two seconds on the clock.
	require.NoError(t, env.store.Set(ctx, env.keys().Time, "2"))

	sess := env.newSession()
	defer sess.Close()
	_, err := sess.Start(ctx)
	require.NoError(t, err)

	require.NoError(t, sess.SetAnswer(ctx, "q1", model.ChoiceAnswer("A")))

	require.True(t, env.countdown.Tick())
	require.True(t, env.countdown.Tick()) // hits zero, expiry submit runs

	require.Eventually(t, func() bool {
		return sess.State().SubmissionState == model.SubmissionStateSubmitted
	}, 2*time.Second, 10*time.Millisecond)

	require.Equal(t, 1, env.authority.submits())
	env.authority.mu.Lock()
	payload := env.authority.lastPayload
	env.authority.mu.Unlock()
	require.Len(t, payload.Answers, 2, "payload covers every question ref")

	require.Equal(t, "q1", payload.Answers[0].QuestionID)
	require.NotNil(t, payload.Answers[0].SelectedAnswerID)
	assert.Equal(t, "A", *payload.Answers[0].SelectedAnswerID)
	assert.Nil(t, payload.Answers[0].FRQAnswerText)

	require.Equal(t, "q2", payload.Answers[1].QuestionID)
	assert.Nil(t, payload.Answers[1].SelectedAnswerID, "unanswered means explicit nulls")
	assert.Nil(t, payload.Answers[1].FRQAnswerText)
}

func TestExpiryAndManualSubmitAreMutuallyExclusive(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv()
	require.NoError(t, env.store.Set(ctx, env.keys().Time, "1"))
	env.authority.entered = make(chan struct{}, 1)
	env.authority.release = make(chan struct{})

	sess := env.newSession()
	defer sess.Close()
	_, err := sess.Start(ctx)
	require.NoError(t, err)

	// Expiry fires and parks inside the authority call.
	require.True(t, env.countdown.Tick())
	<-env.authority.entered

	// The racing manual tap must be a no-op, not a second submission.
	_, err = sess.RequestSubmit(ctx)
	assert.ErrorIs(t, err, ErrSubmissionInFlight)

	close(env.authority.release)
	require.Eventually(t, func() bool {
		return sess.State().SubmissionState == model.SubmissionStateSubmitted
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, 1, env.authority.submits())
}

func TestCleanupOnSuccessOnly(t *testing.T) {
	ctx := context.Background()

	t.Run("failure retains records and is retryable", func(t *testing.T) {
		env := newTestEnv()
		env.authority.failSubmit = true

		sess := env.newSession()
		defer sess.Close()
		_, err := sess.Start(ctx)
		require.NoError(t, err)
		require.NoError(t, sess.SetAnswer(ctx, "q1", model.ChoiceAnswer("C")))

		_, err = sess.RequestSubmit(ctx)
		require.Error(t, err)
		var subErr *remote.SubmissionError
		assert.ErrorAs(t, err, &subErr, "submission failures are typed, never bare")
		assert.Equal(t, model.SubmissionStateFailed, sess.State().SubmissionState)

		for _, key := range env.keys().All() {
			_, err := env.store.Get(ctx, key)
			assert.NoError(t, err, "durable record %s must survive a failed submission", key)
		}

		// The session stays recoverable until a submission succeeds.
		env.authority.failSubmit = false
		_, err = sess.RequestSubmit(ctx)
		require.NoError(t, err)
		assert.Equal(t, model.SubmissionStateSubmitted, sess.State().SubmissionState)
	})

	t.Run("success clears all three records", func(t *testing.T) {
		env := newTestEnv()
		sess := env.newSession()
		defer sess.Close()
		_, err := sess.Start(ctx)
		require.NoError(t, err)
		require.NoError(t, sess.SetAnswer(ctx, "q1", model.ChoiceAnswer("C")))

		result, err := sess.RequestSubmit(ctx)
		require.NoError(t, err)
		require.NotNil(t, result)
		assert.Equal(t, 2, result.AnswerCount)

		for _, key := range env.keys().All() {
			_, err := env.store.Get(ctx, key)
			assert.ErrorIs(t, err, store.ErrNotFound, "durable record %s must be gone after success", key)
		}

		_, err = sess.RequestSubmit(ctx)
		assert.ErrorIs(t, err, ErrAlreadySubmitted)
	})
}

func TestCancelDiscardClearsWithoutSubmitting(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv()
	sess := env.newSession()
	defer sess.Close()
	_, err := sess.Start(ctx)
	require.NoError(t, err)

	result, err := sess.RequestCancel(ctx, false)
	require.NoError(t, err)
	assert.Nil(t, result)
	assert.Equal(t, 0, env.authority.submits(), "pure discard makes no authority call")

	for _, key := range env.keys().All() {
		_, err := env.store.Get(ctx, key)
		assert.ErrorIs(t, err, store.ErrNotFound)
	}

	assert.ErrorIs(t, sess.SetAnswer(ctx, "q1", model.ChoiceAnswer("A")), ErrNotActive)
}

func TestCancelSubmitGoesThroughTheFunnel(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv()
	sess := env.newSession()
	defer sess.Close()
	_, err := sess.Start(ctx)
	require.NoError(t, err)
	require.NoError(t, sess.SetAnswer(ctx, "q2", model.FreeResponseAnswer("partial thoughts")))

	result, err := sess.RequestCancel(ctx, true)
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, 1, env.authority.submits())
	assert.Equal(t, model.SubmissionStateSubmitted, sess.State().SubmissionState)
}

func TestIntervalFlushWritesAnswersAndTime(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv()
	sess := env.newSession()
	defer sess.Close()
	_, err := sess.Start(ctx)
	require.NoError(t, err)

	require.NoError(t, sess.SetAnswer(ctx, "q1", model.ChoiceAnswer("D")))
	for i := 0; i < 3; i++ {
		require.True(t, env.countdown.Tick())
	}
	require.Eventually(t, func() bool {
		return sess.State().TimeRemainingSeconds == 1797
	}, time.Second, time.Millisecond)

	snap, remaining, active := sess.flushSnapshot()
	require.True(t, active)
	sess.flushNow(ctx, snap, remaining)

	raw, err := env.store.Get(ctx, env.keys().Time)
	require.NoError(t, err)
	assert.Equal(t, "1797", raw)

	env.authority.mu.Lock()
	saves := env.authority.saveCalls
	env.authority.mu.Unlock()
	assert.Equal(t, 1, saves, "interval flush forwards progress to the authority")
}

func TestStorageFailureDoesNotInterruptTheSession(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv()
	sess := env.newSession()
	defer sess.Close()
	_, err := sess.Start(ctx)
	require.NoError(t, err)

	env.store.FailWrites = true
	require.NoError(t, sess.SetAnswer(ctx, "q1", model.ChoiceAnswer("A")),
		"a flush failure is absorbed, never surfaced to input")

	require.True(t, env.countdown.Tick())
	assert.Equal(t, env.desc.DurationSeconds()-1, sess.State().TimeRemainingSeconds)

	// Store heals; the next change-triggered flush lands the answer.
	env.store.FailWrites = false
	require.NoError(t, sess.SetAnswer(ctx, "q2", model.FreeResponseAnswer("late but safe")))
	raw, err := env.store.Get(ctx, env.keys().Answers)
	require.NoError(t, err)

	var persisted map[string]model.AnswerValue
	require.NoError(t, json.Unmarshal([]byte(raw), &persisted))
	assert.Len(t, persisted, 2, "retry flush writes the current ledger, not a stale delta")
}

func TestRecoveredZeroTimeSubmitsImmediately(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv()
	require.NoError(t, env.store.Set(ctx, env.keys().Time, "0"))

	sess := env.newSession()
	defer sess.Close()
	recovered, err := sess.Start(ctx)
	require.NoError(t, err)
	assert.True(t, recovered)
	assert.Equal(t, 1, env.authority.submits())
	assert.Equal(t, model.SubmissionStateSubmitted, sess.State().SubmissionState)
}
