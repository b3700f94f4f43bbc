// Package ingest implements the ping-intake writer (spec §4.8, §6
// "Ping ingestion"): the one exported entry point external HTTP and
// SMTP collectors call to record a heartbeat and apply its effect on
// check state. The ping insert, the flip insert and the check update are
// separate Store calls; they do not run in one shared transaction.
package ingest

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/opus-domini/pulsecheck/internal/model"
	"github.com/opus-domini/pulsecheck/internal/resolve"
	"github.com/opus-domini/pulsecheck/internal/schedule"
)

// Store is the narrow persistence surface RecordPing needs, matching
// the teacher's convention of a small per-package repo interface
// (scheduler.schedulerRepo, services.healthAlertsRepo) rather than
// depending on *store.Store directly.
type Store interface {
	GetCheck(ctx context.Context, id uuid.UUID) (model.Check, error)
	NextPingSequence(ctx context.Context, checkID uuid.UUID) (int64, error)
	InsertPing(ctx context.Context, p model.Ping) (id int64, duplicate bool, err error)
	UpdateCheckState(ctx context.Context, c model.Check) error
	InsertFlip(ctx context.Context, f model.Flip) (int64, error)
}

// Input is the raw ping as received from an HTTP or SMTP collector,
// before filter policy or transition rules are applied.
type Input struct {
	Kind       model.PingKind
	Scheme     string
	RemoteAddr string
	UserAgent  string
	Method     string
	ExitStatus *int
	RunID      string
	Body       string
	ObjectSize int64
	Offloaded  bool
}

// Result reports what RecordPing did.
type Result struct {
	Ping      model.Ping
	Duplicate bool
}

// RecordPing applies in.Kind to checkID's state: filter policy, the
// idempotency check, the §4.2 transition rules, and the immediate
// reason=fail flip a fail ping requires.
func RecordPing(ctx context.Context, st Store, eval *schedule.Evaluator, now time.Time, checkID uuid.UUID, in Input) (Result, error) {
	c, err := st.GetCheck(ctx, checkID)
	if err != nil {
		return Result{}, fmt.Errorf("ingest: get check: %w", err)
	}

	kind := applyFilterPolicy(c.Filter, in)

	n, err := st.NextPingSequence(ctx, checkID)
	if err != nil {
		return Result{}, fmt.Errorf("ingest: next ping sequence: %w", err)
	}

	ping := model.Ping{
		CheckID:    checkID,
		N:          n,
		Kind:       kind,
		CreatedAt:  now,
		Scheme:     in.Scheme,
		RemoteAddr: in.RemoteAddr,
		UserAgent:  in.UserAgent,
		Method:     in.Method,
		ExitStatus: in.ExitStatus,
		RunID:      in.RunID,
		Body:       in.Body,
		ObjectSize: in.ObjectSize,
		Offloaded:  in.Offloaded,
	}

	pingID, duplicate, err := st.InsertPing(ctx, ping)
	if err != nil {
		return Result{}, fmt.Errorf("ingest: insert ping: %w", err)
	}
	if duplicate {
		return Result{Ping: ping, Duplicate: true}, nil
	}
	ping.ID = pingID

	oldStatus := c.Status
	applyTransition(&c, kind, now)

	label, alertAfter, resolveErr := resolve.Resolve(eval, c, now)
	switch {
	case resolveErr != nil:
		// spec §7: a schedule-parse error pauses the check rather than
		// alerting on garbage. An operator must fix the expression.
		c.Status = model.StatusPaused
		c.AlertAfter = nil
	case label == resolve.LabelPaused:
		c.AlertAfter = nil
	case kind == model.PingLog || kind == model.PingIgnored:
		// log and ign pings record history only: status and alert_after
		// stay as they were.
	case c.Status == model.StatusDown:
		// A fail ping, or a success ping held back by manual_resume, leaves
		// the check down; the resolver's deadline does not lift it.
		c.AlertAfter = nil
	default:
		c.Status = label.Stored()
		c.AlertAfter = alertAfter
	}

	if kind == model.PingFail {
		if _, err := st.InsertFlip(ctx, model.Flip{
			CheckID:   checkID,
			Created:   now,
			OldStatus: oldStatus,
			NewStatus: model.StatusDown,
			Reason:    model.ReasonFail,
		}); err != nil {
			return Result{}, fmt.Errorf("ingest: insert fail flip: %w", err)
		}
	} else if oldStatus == model.StatusDown && c.Status == model.StatusUp {
		if _, err := st.InsertFlip(ctx, model.Flip{
			CheckID:   checkID,
			Created:   now,
			OldStatus: oldStatus,
			NewStatus: model.StatusUp,
			Reason:    model.ReasonRecovered,
		}); err != nil {
			return Result{}, fmt.Errorf("ingest: insert recovery flip: %w", err)
		}
	}

	if err := st.UpdateCheckState(ctx, c); err != nil {
		return Result{}, fmt.Errorf("ingest: update check state: %w", err)
	}

	return Result{Ping: ping}, nil
}

// applyTransition mutates c per spec §4.2's ping transition rules.
func applyTransition(c *model.Check, kind model.PingKind, now time.Time) {
	switch kind {
	case model.PingSuccess:
		if c.LastStart != nil {
			d := now.Sub(*c.LastStart)
			c.LastDuration = d
		}
		c.LastStart = nil
		t := now
		c.LastPing = &t
		c.NPings++
		if !(c.ManualResume && c.Status == model.StatusDown) {
			c.Status = model.StatusUp
		}
	case model.PingStart:
		t := now
		c.LastStart = &t
		c.NPings++
	case model.PingFail:
		// last_ping is deliberately left untouched: resolve.referenceInstant
		// falls back to created_at for a check whose every ping has been a
		// fail, and bumping last_ping here would hide that case.
		c.LastStart = nil
		c.NPings++
		c.Status = model.StatusDown
	default: // log, ign
		c.NPings++
	}
}

// filterCache memoizes compiled filter regexes per pattern string,
// following schedule.Evaluator's sync.Map memoization idiom for the same
// reason: compiling a regex per ping would be wasteful and every check
// reuses the same patterns across its lifetime.
var filterCache sync.Map // string -> *regexp.Regexp

func compileCached(pattern string) (*regexp.Regexp, error) {
	if pattern == "" {
		return nil, nil
	}
	if cached, ok := filterCache.Load(pattern); ok {
		return cached.(*regexp.Regexp), nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}
	filterCache.Store(pattern, re)
	return re, nil
}

// applyFilterPolicy classifies the incoming ping against the check's
// filter policy (spec §3, §6): disallowed HTTP methods and
// non-matching subject/body regexes downgrade it to kind=ign; keyword
// lists reclassify an ambiguous (e.g. email-sourced) ping by scanning
// its body. An explicit in.Kind from an unambiguous HTTP ping URL
// (/success, /fail, /start) always wins over keyword inference.
func applyFilterPolicy(f model.FilterPolicy, in Input) model.PingKind {
	if len(f.AllowedMethods) > 0 && in.Method != "" {
		allowed := false
		for _, m := range f.AllowedMethods {
			if m == in.Method {
				allowed = true
				break
			}
		}
		if !allowed {
			return model.PingIgnored
		}
	}

	if re, err := compileCached(f.SubjectRegex); err == nil && re != nil {
		if !re.MatchString(in.Body) {
			return model.PingIgnored
		}
	}
	if re, err := compileCached(f.BodyRegex); err == nil && re != nil {
		if !re.MatchString(in.Body) {
			return model.PingIgnored
		}
	}

	if in.Kind != "" && in.Kind != model.PingLog {
		return in.Kind
	}

	if containsAny(in.Body, f.FailureKeywords) {
		return model.PingFail
	}
	if containsAny(in.Body, f.StartKeywords) {
		return model.PingStart
	}
	if containsAny(in.Body, f.SuccessKeywords) {
		return model.PingSuccess
	}
	if in.Kind == "" {
		return model.PingIgnored
	}
	return in.Kind
}

func containsAny(body string, keywords []string) bool {
	for _, kw := range keywords {
		if kw == "" {
			continue
		}
		if strings.Contains(body, kw) {
			return true
		}
	}
	return false
}
