package worker

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/prepin/attempt-engine/internal/config"
	"github.com/prepin/attempt-engine/internal/remote"
)

// ArchiveWorker consumes the progress archive queue and UPSERTs answer
// snapshots into PostgreSQL. Attempts stay fully recoverable from the
// durable store alone; the archive gives the authority a queryable copy.
type ArchiveWorker struct {
	pool *pgxpool.Pool
	rdb  *redis.Client
	log  zerolog.Logger
}

// NewArchiveWorker creates a new ArchiveWorker.
func NewArchiveWorker(pool *pgxpool.Pool, rdb *redis.Client, log zerolog.Logger) *ArchiveWorker {
	return &ArchiveWorker{
		pool: pool,
		rdb:  rdb,
		log:  log.With().Str("component", "archive_worker").Logger(),
	}
}

// Start begins the infinite worker loop. Call in a goroutine.
func (w *ArchiveWorker) Start(ctx context.Context) {
	w.log.Info().Msg("Worker started")

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("Worker stopping...")
			// Drain remaining items before exit.
			w.drain(context.Background())
			w.log.Info().Msg("Worker stopped")
			return
		default:
			w.processNext(ctx)
		}
	}
}

func (w *ArchiveWorker) processNext(ctx context.Context) {
	// BLPop blocks until an item is available or timeout (1 second).
	result, err := w.rdb.BLPop(ctx, time.Second, config.ArchiveQueue).Result()
	if err != nil {
		if err != redis.Nil && ctx.Err() == nil {
			w.log.Error().Err(err).Msg("BLPop error")
		}
		return
	}

	if len(result) < 2 {
		return
	}

	var envelope remote.ProgressEnvelope
	if err := json.Unmarshal([]byte(result[1]), &envelope); err != nil {
		w.log.Error().Err(err).Msg("Unmarshal error")
		return
	}

	if err := w.persistEnvelope(ctx, &envelope); err != nil {
		w.log.Error().Err(err).
			Str("attempt_id", envelope.AttemptID).
			Msg("Persist error, retrying in 5s")
		// Push back to queue for retry.
		w.rdb.RPush(ctx, config.ArchiveQueue, result[1])
		time.Sleep(5 * time.Second)
	}
}

func (w *ArchiveWorker) persistEnvelope(ctx context.Context, e *remote.ProgressEnvelope) error {
	attemptID, err := uuid.Parse(e.AttemptID)
	if err != nil {
		return err
	}

	for _, rec := range e.Answers {
		questionID, err := uuid.Parse(rec.QuestionID)
		if err != nil {
			return err
		}

		// UPSERT the snapshot row — creates or updates without locking.
		_, err = w.pool.Exec(ctx,
			`INSERT INTO attempt_answers (attempt_id, question_id, selected_answer_id, frq_answer_text)
			 VALUES ($1, $2, $3, $4)
			 ON CONFLICT (attempt_id, question_id) DO UPDATE
			 SET selected_answer_id = EXCLUDED.selected_answer_id,
			     frq_answer_text = EXCLUDED.frq_answer_text,
			     updated_at = NOW()`,
			attemptID, questionID, rec.SelectedAnswerID, rec.FRQAnswerText,
		)
		if err != nil {
			return err
		}
	}
	return nil
}

// drain processes all remaining items in the queue before shutdown.
func (w *ArchiveWorker) drain(ctx context.Context) {
	drained := 0
	for {
		result, err := w.rdb.LPop(ctx, config.ArchiveQueue).Result()
		if err != nil {
			break
		}

		var envelope remote.ProgressEnvelope
		if err := json.Unmarshal([]byte(result), &envelope); err != nil {
			w.log.Error().Err(err).Msg("Drain unmarshal error")
			continue
		}

		if err := w.persistEnvelope(ctx, &envelope); err != nil {
			w.log.Error().Err(err).Msg("Drain persist error")
			w.rdb.RPush(ctx, config.ArchiveQueue, result)
			break
		}
		drained++
	}

	if drained > 0 {
		w.log.Info().Int("count", drained).Msg("Drained remaining items")
	}
}
