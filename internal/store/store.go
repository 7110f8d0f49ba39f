// Package store defines the durable key-value protocol the session engine
// persists through, plus its Redis and in-memory implementations.
package store

import (
	"context"
	"errors"

	"github.com/prepin/attempt-engine/internal/config"
)

// ErrNotFound is returned by Get when the key has no value.
var ErrNotFound = errors.New("store: key not found")

// DurableStore abstracts the string key-value storage attempt state is
// flushed to, so sessions can run against Redis in production and an
// in-memory store in tests.
type DurableStore interface {
	// Get retrieves the value for key. Returns ErrNotFound if absent.
	Get(ctx context.Context, key string) (string, error)
	// Set writes the value for key, overwriting any previous value.
	Set(ctx context.Context, key, value string) error
	// Remove deletes the key. Removing an absent key is not an error.
	Remove(ctx context.Context, key string) error
}

// AttemptKeys is the fixed set of durable keys owned by one attempt.
// They are namespaced by attempt ID and shared with no other session.
type AttemptKeys struct {
	Answers string
	Meta    string
	Time    string
}

// KeysFor builds the three durable keys for an attempt ID.
func KeysFor(attemptID string) AttemptKeys {
	return AttemptKeys{
		Answers: config.StoreKey.AttemptAnswersKey(attemptID),
		Meta:    config.StoreKey.AttemptMetaKey(attemptID),
		Time:    config.StoreKey.AttemptTimeKey(attemptID),
	}
}

// All returns the keys as a slice, for bounded cleanup loops.
func (k AttemptKeys) All() []string {
	return []string{k.Answers, k.Meta, k.Time}
}
