package session

import (
	"context"
	"encoding/json"
	"strconv"
	"sync"
	"time"

	"github.com/prepin/attempt-engine/internal/ledger"
	"github.com/prepin/attempt-engine/internal/model"
	"github.com/prepin/attempt-engine/internal/store"
	"github.com/rs/zerolog"
)

// Flusher is the persistence scheduler for one attempt: it decides when
// ledger and remaining-time state reach the durable store and skips writes
// whose content has not changed. It serves both triggers — the immediate
// answer-change flush and the coarse interval flush — with one signature
// check, so there is a single autosave policy rather than two divergent
// ones.
//
// Storage failures are logged and swallowed. The next scheduled flush is
// the retry mechanism; a failed write leaves the last-persisted signature
// unchanged so the retry is never skipped as a no-op.
type Flusher struct {
	store store.DurableStore
	keys  store.AttemptKeys
	log   zerolog.Logger

	mu      sync.Mutex
	lastSig string
	lastAt  time.Time
}

// NewFlusher creates a Flusher for the given attempt keys.
func NewFlusher(st store.DurableStore, keys store.AttemptKeys, log zerolog.Logger) *Flusher {
	return &Flusher{
		store: st,
		keys:  keys,
		log:   log.With().Str("component", "flusher").Logger(),
	}
}

// Prime records the signature of content already in the durable store, so
// a flush right after recovery does not rewrite identical data.
func (f *Flusher) Prime(signature string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastSig = signature
}

// FlushAnswers writes the answers record unless its signature matches the
// last persisted one. Reports whether a write actually happened.
func (f *Flusher) FlushAnswers(ctx context.Context, answers map[string]model.AnswerValue) bool {
	sig := ledger.SignatureOf(answers)

	f.mu.Lock()
	if sig == f.lastSig {
		f.mu.Unlock()
		return false
	}
	f.mu.Unlock()

	raw, err := json.Marshal(answers)
	if err != nil {
		f.log.Error().Err(err).Msg("Marshal answers failed")
		return false
	}

	if err := f.store.Set(ctx, f.keys.Answers, string(raw)); err != nil {
		f.log.Warn().Err(err).Msg("Answers flush failed, next cadence retries")
		return false
	}

	f.mu.Lock()
	f.lastSig = sig
	f.lastAt = time.Now()
	f.mu.Unlock()
	return true
}

// FlushTime writes the remaining-time record. Time has no useful change
// event per second, so it only rides the interval cadence.
func (f *Flusher) FlushTime(ctx context.Context, remainingSeconds int) {
	if err := f.store.Set(ctx, f.keys.Time, strconv.Itoa(remainingSeconds)); err != nil {
		f.log.Warn().Err(err).Msg("Time flush failed, next cadence retries")
		return
	}
	f.mu.Lock()
	f.lastAt = time.Now()
	f.mu.Unlock()
}

// WriteMeta stores the immutable attempt descriptor snapshot. Written once
// at session start; failure is non-fatal.
func (f *Flusher) WriteMeta(ctx context.Context, desc model.AttemptDescriptor) {
	raw, err := json.Marshal(desc)
	if err != nil {
		f.log.Error().Err(err).Msg("Marshal descriptor failed")
		return
	}
	if err := f.store.Set(ctx, f.keys.Meta, string(raw)); err != nil {
		f.log.Warn().Err(err).Msg("Descriptor write failed")
	}
}

// Cleanup removes all three durable records. Only called once a submission
// has actually succeeded, or on explicit discard.
func (f *Flusher) Cleanup(ctx context.Context) {
	for _, key := range f.keys.All() {
		if err := f.store.Remove(ctx, key); err != nil {
			f.log.Warn().Err(err).Str("key", key).Msg("Cleanup remove failed")
		}
	}
}

// LastPersistedAt reports when a flush last reached the store.
func (f *Flusher) LastPersistedAt() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastAt
}
