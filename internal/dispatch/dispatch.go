// Package dispatch implements the dispatcher (C6, spec §4.6): for each
// unprocessed flip, selects and fans out to the flip's check's
// channels, with at-most-once-per-flip-per-channel semantics under
// normal shutdown.
package dispatch

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/opus-domini/pulsecheck/internal/model"
	"github.com/opus-domini/pulsecheck/internal/transport"
)

const defaultNumWorkers = 10

// Store is the narrow persistence surface the dispatcher needs.
type Store interface {
	GetCheck(ctx context.Context, id uuid.UUID) (model.Check, error)
	ChannelsForCheck(ctx context.Context, checkID uuid.UUID) ([]model.Channel, error)
	UnprocessedFlips(ctx context.Context, limit int) ([]model.Flip, error)
	MarkFlipProcessed(ctx context.Context, flipID int64, at time.Time) error
	InsertNotification(ctx context.Context, n model.Notification) error
	RecordDeliveryResult(ctx context.Context, channelID uuid.UUID, at time.Time, duration time.Duration, deliveryErr string) error
	SetChannelDisabled(ctx context.Context, channelID uuid.UUID, disabled bool) error
}

// Dispatcher fans flips out to their check's channels using a bounded
// worker pool, following the same chan-struct{} semaphore shape as the
// teacher's scheduler.Service.sem.
type Dispatcher struct {
	store            Store
	registry         *transport.Registry
	siteRoot         string
	sem              chan struct{}
	transportTimeout time.Duration
}

// New builds a Dispatcher. numWorkers <= 0 falls back to 10, matching
// spec §5's "bounded worker pool, default ≈10". transportTimeout <= 0
// falls back to timeoutFor's per-kind defaults; a positive
// value overrides every kind uniformly (operator-configurable via
// config.Config.TransportTimeout).
func New(st Store, registry *transport.Registry, siteRoot string, numWorkers int, transportTimeout time.Duration) *Dispatcher {
	if numWorkers <= 0 {
		numWorkers = defaultNumWorkers
	}
	return &Dispatcher{
		store:            st,
		registry:         registry,
		siteRoot:         siteRoot,
		sem:              make(chan struct{}, numWorkers),
		transportTimeout: transportTimeout,
	}
}

// DrainUnprocessed processes up to limit unprocessed flips, oldest first (spec
// §4.3: "after the scan, the loop invokes the dispatcher to drain
// unprocessed flips"). It is called once per alerting-loop tick.
func (d *Dispatcher) DrainUnprocessed(ctx context.Context, limit int) {
	flips, err := d.store.UnprocessedFlips(ctx, limit)
	if err != nil {
		slog.Warn("dispatch: list unprocessed flips failed", "err", err)
		return
	}

	var wg sync.WaitGroup
	for _, flip := range flips {
		flip := flip
		select {
		case d.sem <- struct{}{}:
		case <-ctx.Done():
			return
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-d.sem }()
			d.dispatchFlip(ctx, flip)
		}()
	}
	wg.Wait()
}

func (d *Dispatcher) dispatchFlip(ctx context.Context, flip model.Flip) {
	check, err := d.store.GetCheck(ctx, flip.CheckID)
	if err != nil {
		slog.Warn("dispatch: get check failed", "flip", flip.ID, "check", flip.CheckID, "err", err)
		return
	}

	channels, err := d.store.ChannelsForCheck(ctx, flip.CheckID)
	if err != nil {
		slog.Warn("dispatch: list channels failed", "flip", flip.ID, "check", flip.CheckID, "err", err)
		return
	}

	var fanout sync.WaitGroup
	for _, ch := range channels {
		t, ok := d.registry.Lookup(ch.Kind)
		if !ok {
			slog.Warn("dispatch: no transport registered for channel kind", "kind", ch.Kind, "channel", ch.ID)
			continue
		}

		notif := transport.Notification{
			CheckName:   check.Name,
			CheckCode:   check.Code,
			CheckStatus: flip.NewStatus,
			Reason:      flip.Reason,
			SiteRoot:    d.siteRoot,
			ChannelKind: ch.Kind,
			ChannelAddr: ch.Value,
		}
		if t.IsNoop(notif) {
			continue
		}

		fanout.Add(1)
		go func(ch model.Channel, t transport.Transport, notif transport.Notification) {
			defer fanout.Done()
			d.sendOne(ctx, flip, check, ch, t, notif)
		}(ch, t, notif)
	}
	fanout.Wait()

	if err := d.store.MarkFlipProcessed(ctx, flip.ID, time.Now().UTC()); err != nil {
		slog.Warn("dispatch: mark flip processed failed", "flip", flip.ID, "err", err)
	}
}

func (d *Dispatcher) sendOne(ctx context.Context, flip model.Flip, check model.Check, ch model.Channel, t transport.Transport, notif transport.Notification) {
	// Every transport call has a per-call timeout (spec §5), independent
	// of the outer tick's context.
	sendCtx, cancel := context.WithTimeout(ctx, d.timeoutFor(ch.Kind))
	defer cancel()

	n := model.Notification{
		ID:          uuid.New(),
		CheckID:     check.ID,
		ChannelID:   ch.ID,
		CheckStatus: flip.NewStatus,
		Created:     time.Now().UTC(),
	}
	// Create the notification row before the transport call so a
	// crashed dispatcher still leaves an audit trail (spec §4.6).
	if err := d.store.InsertNotification(ctx, n); err != nil {
		slog.Warn("dispatch: insert notification failed", "channel", ch.ID, "err", err)
		return
	}

	start := time.Now()
	sendErr := t.Send(sendCtx, notif)
	duration := time.Since(start)
	now := time.Now().UTC()

	if sendErr == nil {
		if err := d.store.RecordDeliveryResult(ctx, ch.ID, now, duration, ""); err != nil {
			slog.Warn("dispatch: record delivery result failed", "channel", ch.ID, "err", err)
		}
		return
	}

	slog.Warn("dispatch: transport send failed", "channel", ch.ID, "kind", ch.Kind, "check", check.Name, "err", sendErr)
	if err := d.store.RecordDeliveryResult(ctx, ch.ID, now, duration, sendErr.Error()); err != nil {
		slog.Warn("dispatch: record delivery error failed", "channel", ch.ID, "err", err)
	}

	var tErr *transport.Error
	if isPermanent(sendErr, &tErr) {
		if err := d.store.SetChannelDisabled(ctx, ch.ID, true); err != nil {
			slog.Warn("dispatch: disable channel failed", "channel", ch.ID, "err", err)
		}
	}
}

func isPermanent(err error, tErr **transport.Error) bool {
	te, ok := err.(*transport.Error)
	if !ok {
		return false
	}
	*tErr = te
	return te.Permanent
}

func (d *Dispatcher) timeoutFor(kind string) time.Duration {
	if d.transportTimeout > 0 {
		return d.transportTimeout
	}
	switch kind {
	case "email":
		return 15 * time.Second
	case "pagerduty", "opsgenie":
		return 15 * time.Second
	default:
		return 10 * time.Second
	}
}
