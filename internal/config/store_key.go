package config

import (
	"fmt"
)

// StoreKeyStruct builds every durable-store and queue key the engine uses.
// All per-attempt state lives under exactly three keys so that cleanup after
// a successful submission is a bounded, enumerable operation.
type StoreKeyStruct struct{}

func NewStoreKeyStruct() *StoreKeyStruct {
	return &StoreKeyStruct{}
}

// AttemptAnswersKey returns the durable key for an attempt's answer ledger
// snapshot (JSON object keyed by question ID).
func (r *StoreKeyStruct) AttemptAnswersKey(attemptID string) string {
	return fmt.Sprintf("attempt:%s:answers", attemptID)
}

// AttemptMetaKey returns the durable key for the immutable attempt
// descriptor snapshot (JSON).
func (r *StoreKeyStruct) AttemptMetaKey(attemptID string) string {
	return fmt.Sprintf("attempt:%s:meta", attemptID)
}

// AttemptTimeKey returns the durable key for the remaining-time record
// (integer seconds, serialized as text).
func (r *StoreKeyStruct) AttemptTimeKey(attemptID string) string {
	return fmt.Sprintf("attempt:%s:time_remaining", attemptID)
}

// LearnerSessionKey returns the key holding a learner's active login JTI.
func (r *StoreKeyStruct) LearnerSessionKey(learnerID int) string {
	return fmt.Sprintf("login:%d", learnerID)
}

// ArchiveQueue is the Redis list drained by the progress archive worker.
const ArchiveQueue = "archive_progress_queue"

var StoreKey = NewStoreKeyStruct()
