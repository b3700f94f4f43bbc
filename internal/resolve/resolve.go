// Package resolve implements the status resolver (spec §4.2), the pure
// function that defines the central semantics of the product: given a
// check's cached state and the current instant, it derives the status
// label to report and the next instant the alerting loop must wake up
// for this check.
//
// Resolve must not read from the store or the system clock except
// through its arguments — that invariant is structural here, not just a
// convention: this package imports neither internal/store nor time.Now.
package resolve

import (
	"time"

	"github.com/opus-domini/pulsecheck/internal/model"
	"github.com/opus-domini/pulsecheck/internal/schedule"
)

// Label is the status reported to callers. It is a superset of
// model.CheckStatus: LabelStarted is reported to API consumers but
// collapses to model.StatusUp when persisted (spec §4.2 step 5).
type Label string

const (
	LabelNew     Label = "new"
	LabelUp      Label = "up"
	LabelStarted Label = "started"
	LabelDown    Label = "down"
	LabelPaused  Label = "paused"
)

// Stored returns the model.CheckStatus this label collapses to for
// persistence.
func (l Label) Stored() model.CheckStatus {
	switch l {
	case LabelStarted:
		return model.StatusUp
	case LabelUp:
		return model.StatusUp
	case LabelDown:
		return model.StatusDown
	case LabelPaused:
		return model.StatusPaused
	default:
		return model.StatusNew
	}
}

// Resolve computes (label, next_alert_after) for check at instant now,
// following spec §4.2's algorithm exactly.
func Resolve(eval *schedule.Evaluator, c model.Check, now time.Time) (Label, *time.Time, error) {
	if c.Status == model.StatusPaused {
		return LabelPaused, nil, nil
	}
	if c.NPings == 0 {
		return LabelNew, nil, nil
	}

	running := c.Running()
	reference := referenceInstant(c, running)

	nextExpected, err := eval.NextExpected(c, reference)
	if err != nil {
		return "", nil, err
	}
	deadline := nextExpected.Add(c.Grace)

	if now.Before(deadline) {
		label := LabelUp
		if running {
			label = LabelStarted
		}
		return label, &deadline, nil
	}
	return LabelDown, nil, nil
}

// referenceInstant picks the instant schedule.NextExpected is evaluated
// from: last_start while running, otherwise last_ping. If the check has
// received pings but last_ping is still nil — every ping so far was a
// "fail" ping, which per spec §4.2 does not set last_ping — the check's
// creation time is used as the anchor. This resolves the gap spec §9
// leaves open about last_start/timing semantics when no success or
// start event has ever landed; see DESIGN.md.
func referenceInstant(c model.Check, running bool) time.Time {
	if running {
		return *c.LastStart
	}
	if c.LastPing != nil {
		return *c.LastPing
	}
	return c.CreatedAt
}
