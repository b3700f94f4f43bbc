// Package alerting implements the alerting loop (C4, spec §4.3) and its
// nag sub-loop (C5, spec §4.4) as two sweeps of one ticker-driven
// service, mirroring the teacher's scheduler.Service /
// services.HealthChecker lifecycle (sync.Once start/stop, a cancellable
// child context, a doneCh closed when the loop goroutine exits).
package alerting

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/opus-domini/pulsecheck/internal/events"
	"github.com/opus-domini/pulsecheck/internal/model"
	"github.com/opus-domini/pulsecheck/internal/resolve"
	"github.com/opus-domini/pulsecheck/internal/schedule"
)

const (
	defaultTickInterval   = 5 * time.Second
	defaultNagInterval    = time.Hour
	defaultFlipRetention  = 93 * 24 * time.Hour
	defaultLockStaleAfter = 5 * time.Minute
	defaultBatchSize      = 100
)

// Store is the narrow persistence surface the alerting loop needs.
type Store interface {
	ListChecksDueForEvaluation(ctx context.Context, now time.Time) ([]model.Check, error)
	ListChecksByStatus(ctx context.Context, status model.CheckStatus) ([]model.Check, error)
	ClaimCheck(ctx context.Context, id uuid.UUID, staleAfter time.Duration, now time.Time) (bool, error)
	ReleaseCheck(ctx context.Context, id uuid.UUID) error
	UpdateCheckState(ctx context.Context, c model.Check) error
	InsertFlip(ctx context.Context, f model.Flip) (int64, error)
	LastNagOrDownFlip(ctx context.Context, checkID uuid.UUID) (model.Flip, error)
	PruneFlipsOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// Dispatcher drains unprocessed flips after each sweep (spec §4.3: "after
// the scan, the loop invokes the dispatcher to drain unprocessed flips").
type Dispatcher interface {
	DrainUnprocessed(ctx context.Context, limit int)
}

// Options configures a Service.
type Options struct {
	TickInterval   time.Duration
	NagInterval    time.Duration
	FlipRetention  time.Duration
	LockStaleAfter time.Duration
	BatchSize      int
	EventHub       *events.Hub
}

// Service runs C4 and C5 on one tick loop.
type Service struct {
	store      Store
	eval       *schedule.Evaluator
	dispatcher Dispatcher
	opts       Options

	startOnce sync.Once
	stopOnce  sync.Once
	stopFn    context.CancelFunc
	doneCh    chan struct{}
}

// New builds a Service.
func New(st Store, eval *schedule.Evaluator, dispatcher Dispatcher, opts Options) *Service {
	if opts.TickInterval <= 0 {
		opts.TickInterval = defaultTickInterval
	}
	if opts.NagInterval <= 0 {
		opts.NagInterval = defaultNagInterval
	}
	if opts.FlipRetention <= 0 {
		opts.FlipRetention = defaultFlipRetention
	}
	if opts.LockStaleAfter <= 0 {
		opts.LockStaleAfter = defaultLockStaleAfter
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultBatchSize
	}
	return &Service{store: st, eval: eval, dispatcher: dispatcher, opts: opts}
}

// Start begins the tick loop in a background goroutine.
func (s *Service) Start(parent context.Context) {
	if s == nil {
		return
	}
	s.startOnce.Do(func() {
		ctx, cancel := context.WithCancel(parent)
		s.stopFn = cancel
		s.doneCh = make(chan struct{})

		go func() {
			defer close(s.doneCh)
			// Ticks run on a context that Stop does not cancel, so a tick
			// already in flight finishes its dispatches while Stop waits.
			tickCtx := context.WithoutCancel(ctx)
			ticker := time.NewTicker(s.opts.TickInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					s.tick(tickCtx)
				}
			}
		}()
	})
}

// Stop gracefully stops the alerting loop, waiting up to ctx's deadline
// for the in-flight tick (including its dispatcher drain) to finish.
func (s *Service) Stop(ctx context.Context) {
	if s == nil {
		return
	}
	s.stopOnce.Do(func() {
		if s.stopFn != nil {
			s.stopFn()
		}
		if s.doneCh == nil {
			return
		}
		select {
		case <-s.doneCh:
		case <-ctx.Done():
		}
	})
}

func (s *Service) tick(ctx context.Context) {
	now := time.Now().UTC()
	s.evaluateDue(ctx, now)
	s.nagSweep(ctx, now)
	if s.dispatcher != nil {
		s.dispatcher.DrainUnprocessed(ctx, s.opts.BatchSize)
	}
	if n, err := s.store.PruneFlipsOlderThan(ctx, now.Add(-s.opts.FlipRetention)); err != nil {
		slog.Warn("alerting: prune flips failed", "err", err)
	} else if n > 0 {
		slog.Debug("alerting: pruned old flips", "count", n)
	}
}

// evaluateDue implements C4 (spec §4.3): recompute every due check's
// label and, on a transition, insert a reason=timeout flip.
func (s *Service) evaluateDue(ctx context.Context, now time.Time) {
	due, err := s.store.ListChecksDueForEvaluation(ctx, now)
	if err != nil {
		slog.Warn("alerting: list due checks failed", "err", err)
		return
	}
	for _, c := range due {
		s.evaluateOne(ctx, c, now)
	}
}

func (s *Service) evaluateOne(ctx context.Context, c model.Check, now time.Time) {
	claimed, err := s.store.ClaimCheck(ctx, c.ID, s.opts.LockStaleAfter, now)
	if err != nil {
		slog.Warn("alerting: claim check failed", "check", c.ID, "err", err)
		return
	}
	if !claimed {
		return
	}
	defer func() {
		if err := s.store.ReleaseCheck(ctx, c.ID); err != nil {
			slog.Warn("alerting: release check failed", "check", c.ID, "err", err)
		}
	}()

	resolvedLabel, nextAlertAfter, resolveErr := resolve.Resolve(s.eval, c, now)
	if resolveErr != nil {
		slog.Warn("alerting: resolve failed, pausing check", "check", c.ID, "err", resolveErr)
		c.Status = model.StatusPaused
		c.AlertAfter = nil
		if err := s.store.UpdateCheckState(ctx, c); err != nil {
			slog.Warn("alerting: update check state failed", "check", c.ID, "err", err)
		}
		return
	}

	newStatus := resolvedLabel.Stored()
	if newStatus != c.Status {
		if _, err := s.store.InsertFlip(ctx, model.Flip{
			CheckID:   c.ID,
			Created:   now,
			OldStatus: c.Status,
			NewStatus: newStatus,
			Reason:    model.ReasonTimeout,
		}); err != nil {
			slog.Warn("alerting: insert flip failed", "check", c.ID, "err", err)
			return
		}
		s.publish(events.TypeCheckStatusChanged, map[string]any{
			"check": c.ID.String(), "old_status": string(c.Status), "new_status": string(newStatus),
		})
		s.publish(events.TypeFlipRecorded, map[string]any{
			"check": c.ID.String(), "reason": string(model.ReasonTimeout),
		})
	}
	c.Status = newStatus
	c.AlertAfter = nextAlertAfter
	if err := s.store.UpdateCheckState(ctx, c); err != nil {
		slog.Warn("alerting: update check state failed", "check", c.ID, "err", err)
	}
}

// nagSweep implements C5 (spec §4.4): checks stuck down get a repeat
// flip once per NagInterval, anchored on the last reason=nag-or-initial
// flip rather than on notification history (the self-reference trap
// documented in store.LastNagOrDownFlip).
func (s *Service) nagSweep(ctx context.Context, now time.Time) {
	down, err := s.store.ListChecksByStatus(ctx, model.StatusDown)
	if err != nil {
		slog.Warn("alerting: list down checks failed", "err", err)
		return
	}
	for _, c := range down {
		s.nagOne(ctx, c, now)
	}
}

func (s *Service) nagOne(ctx context.Context, c model.Check, now time.Time) {
	anchor, err := s.store.LastNagOrDownFlip(ctx, c.ID)
	if err != nil {
		// A down check with no down-transition flip on record shouldn't
		// happen, but a fresh check manually set to down by an operator
		// could hit this; skip rather than nag with no anchor.
		return
	}
	if now.Sub(anchor.Created) < s.opts.NagInterval {
		return
	}

	claimed, err := s.store.ClaimCheck(ctx, c.ID, s.opts.LockStaleAfter, now)
	if err != nil {
		slog.Warn("alerting: claim check for nag failed", "check", c.ID, "err", err)
		return
	}
	if !claimed {
		return
	}
	defer func() {
		if err := s.store.ReleaseCheck(ctx, c.ID); err != nil {
			slog.Warn("alerting: release check after nag failed", "check", c.ID, "err", err)
		}
	}()

	if _, err := s.store.InsertFlip(ctx, model.Flip{
		CheckID:   c.ID,
		Created:   now,
		OldStatus: model.StatusDown,
		NewStatus: model.StatusDown,
		Reason:    model.ReasonNag,
	}); err != nil {
		slog.Warn("alerting: insert nag flip failed", "check", c.ID, "err", err)
		return
	}
	s.publish(events.TypeFlipRecorded, map[string]any{
		"check": c.ID.String(), "reason": string(model.ReasonNag),
	})
}

func (s *Service) publish(eventType string, payload map[string]any) {
	if s == nil || s.opts.EventHub == nil {
		return
	}
	s.opts.EventHub.Publish(events.NewEvent(eventType, payload))
}
