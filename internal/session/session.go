// Package session implements the timed attempt session engine: the answer
// ledger lifecycle, the countdown state machine, durable persistence and
// the single submission path that expiry, manual submit and cancellation
// all funnel through.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prepin/attempt-engine/internal/ledger"
	"github.com/prepin/attempt-engine/internal/model"
	"github.com/prepin/attempt-engine/internal/remote"
	"github.com/prepin/attempt-engine/internal/store"
	"github.com/rs/zerolog"
)

// Engine errors surfaced to callers. Submission failures additionally carry
// a *remote.SubmissionError so the caller can distinguish "offer retry"
// from "results will arrive later".
var (
	ErrNotActive          = errors.New("session: attempt is not active")
	ErrSubmissionInFlight = errors.New("session: submission already in flight")
	ErrAlreadySubmitted   = errors.New("session: attempt already submitted")
	ErrUnknownQuestion    = errors.New("session: question is not part of this attempt")
)

// Config tunes one session's timers.
type Config struct {
	TickPeriod    time.Duration // countdown granularity, 1s in production
	FlushInterval time.Duration // coarse autosave cadence
	SubmitTimeout time.Duration // bound on one authority call
	NewTicker     TickerFactory // nil means wall-clock tickers
}

func (c Config) withDefaults() Config {
	if c.TickPeriod <= 0 {
		c.TickPeriod = time.Second
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = 30 * time.Second
	}
	if c.SubmitTimeout <= 0 {
		c.SubmitTimeout = 15 * time.Second
	}
	if c.NewTicker == nil {
		c.NewTicker = NewWallTicker
	}
	return c
}

// submitReason records which path entered the submission funnel.
type submitReason string

const (
	reasonExpiry  submitReason = "expiry"
	reasonLearner submitReason = "learner"
	reasonCancel  submitReason = "cancel"
)

// State is the read-only observable snapshot exposed to the UI collaborator.
type State struct {
	AttemptID            uuid.UUID                    `json:"attempt_id"`
	Title                string                       `json:"title"`
	TimeRemainingSeconds int                          `json:"time_remaining_seconds"`
	SubmissionState      model.SubmissionState        `json:"submission_state"`
	Answers              map[string]model.AnswerValue `json:"answers"`
	LastPersistedAt      *time.Time                   `json:"last_persisted_at,omitempty"`
	Recovered            bool                         `json:"recovered"`
}

// Session is the lifecycle controller for one attempt. Exactly one live
// Session exists per attempt ID (enforced by the Manager); it owns the
// ledger, the countdown and the three durable keys exclusively.
type Session struct {
	desc        model.AttemptDescriptor
	cfg         Config
	questionSet map[string]model.QuestionType
	store       store.DurableStore
	remote      remote.SubmissionService
	flusher     *Flusher
	log         zerolog.Logger

	mu         sync.Mutex
	ledger     *ledger.Ledger
	remaining  int
	state      model.SubmissionState
	recovered  bool
	submitting bool
	closed     bool

	countdown Ticker
	flushTick Ticker
	done      chan struct{}
	closeOnce sync.Once

	// onTerminal detaches the session from its manager once it can never
	// become active again.
	onTerminal func(uuid.UUID)
}

// New builds a session in the NotStarted state. Call Start to recover
// persisted state and begin ticking.
func New(desc model.AttemptDescriptor, st store.DurableStore, authority remote.SubmissionService, cfg Config, log zerolog.Logger) *Session {
	questionSet := make(map[string]model.QuestionType, len(desc.Questions))
	for _, q := range desc.Questions {
		questionSet[q.QuestionID] = q.Type
	}

	keys := store.KeysFor(desc.AttemptID.String())
	sessionLog := log.With().
		Str("component", "session").
		Str("attempt_id", desc.AttemptID.String()).
		Logger()

	return &Session{
		desc:        desc,
		cfg:         cfg.withDefaults(),
		questionSet: questionSet,
		store:       st,
		remote:      authority,
		flusher:     NewFlusher(st, keys, sessionLog),
		log:         sessionLog,
		ledger:      ledger.New(),
		remaining:   desc.DurationSeconds(),
		state:       model.SubmissionStateNotStarted,
		done:        make(chan struct{}),
	}
}

// SetOnTerminal registers the manager detach callback. Must be called
// before Start.
func (s *Session) SetOnTerminal(fn func(uuid.UUID)) {
	s.onTerminal = fn
}

// Start seeds the session from durable records if any exist, writes the
// descriptor snapshot, and begins the countdown. Returns whether a
// recovery occurred, so the caller can tell the learner.
//
// A recovered remaining time of zero means the attempt expired while the
// engine was down: the session submits immediately instead of ticking.
func (s *Session) Start(ctx context.Context) (bool, error) {
	s.mu.Lock()
	if s.state != model.SubmissionStateNotStarted {
		s.mu.Unlock()
		return false, errors.New("session: already started")
	}
	s.mu.Unlock()

	s.recoverPersisted(ctx)
	s.flusher.WriteMeta(ctx, s.desc)

	s.mu.Lock()
	s.state = model.SubmissionStateActive
	remaining := s.remaining
	expired := remaining <= 0
	recovered := s.recovered
	if !expired {
		s.countdown = s.cfg.NewTicker(s.cfg.TickPeriod)
		s.flushTick = s.cfg.NewTicker(s.cfg.FlushInterval)
	}
	s.mu.Unlock()

	if expired {
		s.log.Info().Msg("Recovered attempt already expired, submitting")
		if _, err := s.submit(ctx, reasonExpiry); err != nil {
			return recovered, err
		}
		return recovered, nil
	}

	go s.run()

	// The run goroutine owns s.remaining from here on; log the value
	// captured under the lock above.
	s.log.Info().
		Bool("recovered", recovered).
		Int("remaining_seconds", remaining).
		Msg("Session active")
	return recovered, nil
}

// recoverPersisted seeds the ledger and remaining time from the durable
// store. Malformed records are treated as absent: recovery must never be
// worse than starting fresh.
func (s *Session) recoverPersisted(ctx context.Context) {
	raw, err := s.store.Get(ctx, s.flusher.keys.Answers)
	switch {
	case err == nil:
		var answers map[string]model.AnswerValue
		if jsonErr := json.Unmarshal([]byte(raw), &answers); jsonErr != nil {
			s.log.Warn().Err(jsonErr).Msg("Corrupt answers record discarded")
			_ = s.store.Remove(ctx, s.flusher.keys.Answers)
			break
		}
		// Durable entries never reference questions outside the attempt.
		for qid := range answers {
			if _, known := s.questionSet[qid]; !known {
				s.log.Warn().Str("question_id", qid).Msg("Dropping recovered answer for unknown question")
				delete(answers, qid)
			}
		}
		s.ledger = ledger.FromMap(answers)
		s.recovered = true
		s.flusher.Prime(s.ledger.Signature())
	case !errors.Is(err, store.ErrNotFound):
		s.log.Warn().Err(err).Msg("Durable answers read failed, starting fresh")
	}

	raw, err = s.store.Get(ctx, s.flusher.keys.Time)
	switch {
	case err == nil:
		secs, convErr := strconv.Atoi(strings.TrimSpace(raw))
		if convErr != nil {
			s.log.Warn().Err(convErr).Msg("Corrupt time record discarded")
			_ = s.store.Remove(ctx, s.flusher.keys.Time)
			break
		}
		if secs < 0 {
			secs = 0
		}
		if max := s.desc.DurationSeconds(); secs > max {
			secs = max
		}
		s.remaining = secs
		s.recovered = true
	case !errors.Is(err, store.ErrNotFound):
		s.log.Warn().Err(err).Msg("Durable time read failed, starting fresh")
	}
}

// run is the session's single cooperative timeline: countdown ticks and
// interval flushes are serialized here, so neither ever observes a
// half-applied mutation of the other.
func (s *Session) run() {
	for {
		select {
		case <-s.done:
			return
		case <-s.countdown.C():
			if expired := s.onTick(); expired {
				if _, err := s.submit(context.Background(), reasonExpiry); err != nil {
					s.log.Error().Err(err).Msg("Expiry submission failed, answers retained")
				}
			}
		case <-s.flushTick.C():
			snap, remaining, active := s.flushSnapshot()
			if active {
				// Off the tick path: a slow store or authority must not
				// delay the countdown.
				go s.flushNow(context.Background(), snap, remaining)
			}
		}
	}
}

// onTick decrements the countdown. It is the only mutator of remaining
// time besides recovery. Reports whether the attempt just expired.
func (s *Session) onTick() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != model.SubmissionStateActive || s.remaining <= 0 {
		return false
	}
	s.remaining--
	return s.remaining == 0
}

// flushSnapshot captures a consistent view for an interval flush.
func (s *Session) flushSnapshot() (map[string]model.AnswerValue, int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != model.SubmissionStateActive {
		return nil, 0, false
	}
	return s.ledger.Snapshot(), s.remaining, true
}

// flushNow performs one interval flush: answers (signature-gated), the
// remaining-time record, and a best-effort progress save to the authority.
func (s *Session) flushNow(ctx context.Context, answers map[string]model.AnswerValue, remaining int) {
	s.flusher.FlushAnswers(ctx, answers)
	s.flusher.FlushTime(ctx, remaining)

	if len(answers) == 0 {
		return
	}
	payload := ledger.FromMap(answers).ToSubmissionPayload(s.desc.Questions)
	if err := s.remote.SaveProgress(ctx, s.desc.AttemptID, payload); err != nil {
		s.log.Warn().Err(err).Msg("Progress save failed, next cadence retries")
	}
}

// SetAnswer records an answer and immediately flushes the answers record.
// Answer loss on a crash is the most damaging failure, so the flush does
// not wait for the interval cadence; a storage failure is absorbed and the
// answer stays in the ledger for the next flush.
func (s *Session) SetAnswer(ctx context.Context, questionID string, value model.AnswerValue) error {
	if err := value.Validate(); err != nil {
		return err
	}
	qType, known := s.questionSet[questionID]
	if !known {
		return ErrUnknownQuestion
	}
	if value.Kind != model.AnswerKindFor(qType) {
		return model.ErrInvalidAnswer
	}

	s.mu.Lock()
	if s.closed || s.state != model.SubmissionStateActive {
		s.mu.Unlock()
		return ErrNotActive
	}
	s.ledger.SetAnswer(questionID, value)
	snap := s.ledger.Snapshot()
	s.mu.Unlock()

	s.flusher.FlushAnswers(ctx, snap)
	return nil
}

// RequestSubmit finalizes the attempt with its current state. Safe to race
// with expiry: whichever caller enters the funnel first proceeds, the
// other receives ErrSubmissionInFlight and no second authority call is
// made.
func (s *Session) RequestSubmit(ctx context.Context) (*remote.Result, error) {
	return s.submit(ctx, reasonLearner)
}

// RequestCancel resolves a cancellation. Mode "submit" submits the current
// state through the normal funnel; mode "discard" destroys the durable
// records without an authority call. Discarding answered state is the
// caller's explicit decision — the engine never loses it silently.
func (s *Session) RequestCancel(ctx context.Context, submitCurrent bool) (*remote.Result, error) {
	if submitCurrent {
		return s.submit(ctx, reasonCancel)
	}

	s.mu.Lock()
	if s.submitting {
		s.mu.Unlock()
		return nil, ErrSubmissionInFlight
	}
	if s.closed || s.state == model.SubmissionStateSubmitted {
		s.mu.Unlock()
		return nil, ErrNotActive
	}
	s.closed = true
	s.mu.Unlock()

	s.flusher.Cleanup(ctx)
	s.stop()
	s.log.Info().Msg("Attempt discarded")
	if s.onTerminal != nil {
		s.onTerminal(s.desc.AttemptID)
	}
	return nil, nil
}

// submit is the single submission entry point. All three triggers (expiry,
// learner submit, cancel-as-submit) pass through the in-flight guard here.
func (s *Session) submit(ctx context.Context, reason submitReason) (*remote.Result, error) {
	s.mu.Lock()
	if s.submitting {
		s.mu.Unlock()
		return nil, ErrSubmissionInFlight
	}
	if s.state == model.SubmissionStateSubmitted {
		s.mu.Unlock()
		return nil, ErrAlreadySubmitted
	}
	// Failed is re-enterable: the session stays recoverable until a
	// submission actually succeeds.
	if s.closed || (s.state != model.SubmissionStateActive && s.state != model.SubmissionStateFailed) {
		s.mu.Unlock()
		return nil, ErrNotActive
	}
	s.submitting = true
	s.state = model.SubmissionStateSubmitting
	answers := s.ledger.Snapshot()
	remaining := s.remaining
	payload := s.ledger.ToSubmissionPayload(s.desc.Questions)
	s.mu.Unlock()

	s.log.Info().Str("reason", string(reason)).Msg("Submitting attempt")

	// Flush before submitting so a failed submission leaves the freshest
	// possible records behind for recovery.
	s.flusher.FlushAnswers(ctx, answers)
	s.flusher.FlushTime(ctx, remaining)

	submitCtx, cancel := context.WithTimeout(ctx, s.cfg.SubmitTimeout)
	defer cancel()

	result, err := s.remote.SubmitAttempt(submitCtx, s.desc.AttemptID, payload)
	if err != nil {
		s.mu.Lock()
		s.submitting = false
		s.state = model.SubmissionStateFailed
		s.mu.Unlock()
		s.stop()
		s.log.Error().Err(err).Str("reason", string(reason)).Msg("Submission failed, durable records retained")

		var subErr *remote.SubmissionError
		if errors.As(err, &subErr) {
			return nil, err
		}
		return nil, &remote.SubmissionError{AttemptID: s.desc.AttemptID, Err: err}
	}

	s.mu.Lock()
	s.submitting = false
	s.state = model.SubmissionStateSubmitted
	s.mu.Unlock()

	// Submitted and durable records are mutually exclusive.
	s.flusher.Cleanup(ctx)
	s.stop()
	s.log.Info().Str("reason", string(reason)).Msg("Attempt submitted, durable records cleared")

	if s.onTerminal != nil {
		s.onTerminal(s.desc.AttemptID)
	}
	return result, nil
}

// Suspend flushes current state and stops the clock without touching the
// attempt's status. Used at engine shutdown so a restart recovers exactly
// what was live.
func (s *Session) Suspend(ctx context.Context) {
	snap, remaining, active := s.flushSnapshot()
	if active {
		s.flusher.FlushAnswers(ctx, snap)
		s.flusher.FlushTime(ctx, remaining)
	}
	s.Close()
}

// Close stops the tickers and the run loop. Idempotent, and safe on every
// exit path: a discarded controller must never leave a zombie timer.
func (s *Session) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.stop()
}

func (s *Session) stop() {
	s.closeOnce.Do(func() {
		if s.countdown != nil {
			s.countdown.Stop()
		}
		if s.flushTick != nil {
			s.flushTick.Stop()
		}
		close(s.done)
	})
}

// State returns the observable snapshot for the UI collaborator.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := State{
		AttemptID:            s.desc.AttemptID,
		Title:                s.desc.Title,
		TimeRemainingSeconds: s.remaining,
		SubmissionState:      s.state,
		Answers:              s.ledger.Snapshot(),
		Recovered:            s.recovered,
	}
	if at := s.flusher.LastPersistedAt(); !at.IsZero() {
		st.LastPersistedAt = &at
	}
	return st
}

// Descriptor returns the immutable attempt metadata.
func (s *Session) Descriptor() model.AttemptDescriptor {
	return s.desc
}
