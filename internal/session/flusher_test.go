package session

import (
	"context"
	"testing"

	"github.com/prepin/attempt-engine/internal/ledger"
	"github.com/prepin/attempt-engine/internal/model"
	"github.com/prepin/attempt-engine/internal/store"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFlusherUnderTest() (*Flusher, *store.MemoryStore) {
	st := store.NewMemoryStore()
	keys := store.KeysFor("7f8e0c1a-0000-0000-0000-000000000001")
	return NewFlusher(st, keys, zerolog.Nop()), st
}

func TestFlushAnswersSkipsNoOps(t *testing.T) {
	ctx := context.Background()
	f, st := newFlusherUnderTest()

	answers := map[string]model.AnswerValue{"q1": model.ChoiceAnswer("A")}

	assert.True(t, f.FlushAnswers(ctx, answers), "first flush writes")
	assert.False(t, f.FlushAnswers(ctx, answers), "identical content is skipped")
	assert.Equal(t, 1, st.WriteCount(), "no-op flush must not reach the store")

	answers["q2"] = model.FreeResponseAnswer("new content")
	assert.True(t, f.FlushAnswers(ctx, answers), "changed content writes again")
	assert.Equal(t, 2, st.WriteCount())
}

func TestFlushFailureLeavesSignatureUnchanged(t *testing.T) {
	ctx := context.Background()
	f, st := newFlusherUnderTest()
	answers := map[string]model.AnswerValue{"q1": model.ChoiceAnswer("A")}

	st.FailWrites = true
	assert.False(t, f.FlushAnswers(ctx, answers))
	assert.True(t, f.LastPersistedAt().IsZero())

	// The store heals; the same content must not be mistaken for a no-op.
	st.FailWrites = false
	assert.True(t, f.FlushAnswers(ctx, answers), "retry after failure must write")
	assert.False(t, f.LastPersistedAt().IsZero())
}

func TestPrimeSuppressesRewriteAfterRecovery(t *testing.T) {
	ctx := context.Background()
	f, st := newFlusherUnderTest()
	answers := map[string]model.AnswerValue{"q1": model.ChoiceAnswer("A")}

	require.True(t, f.FlushAnswers(ctx, answers))
	writes := st.WriteCount()

	// A fresh flusher recovering the same content skips the first flush.
	recovered := NewFlusher(st, store.KeysFor("7f8e0c1a-0000-0000-0000-000000000001"), zerolog.Nop())
	recovered.Prime(ledger.SignatureOf(answers))
	assert.False(t, recovered.FlushAnswers(ctx, answers))
	assert.Equal(t, writes, st.WriteCount())
}

func TestCleanupRemovesEveryKey(t *testing.T) {
	ctx := context.Background()
	f, st := newFlusherUnderTest()

	require.True(t, f.FlushAnswers(ctx, map[string]model.AnswerValue{"q1": model.ChoiceAnswer("A")}))
	f.FlushTime(ctx, 120)
	require.NoError(t, st.Set(ctx, f.keys.Meta, "{}"))

	f.Cleanup(ctx)
	for _, key := range f.keys.All() {
		_, err := st.Get(ctx, key)
		assert.ErrorIs(t, err, store.ErrNotFound, "key %s should be gone", key)
	}
}
