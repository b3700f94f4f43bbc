// Package schedule implements the clock & schedule evaluator (spec §4.1):
// given a check's schedule descriptor and a reference instant, it yields
// the next expected ping instant. It is a pure function of its inputs;
// the only internal state is a memoization cache for parsed expressions,
// which never affects the result for a given (kind, expr, tz) triple.
package schedule

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/opus-domini/pulsecheck/internal/model"
)

// ErrInvalidExpression is returned when a cron or OnCalendar expression
// cannot be parsed. Callers (ping ingestion, the alerting loop) treat a
// check with this error the way spec §7 prescribes for Schedule-parse
// errors: pause the check, do not send alerts, wait for an operator fix.
var ErrInvalidExpression = errors.New("schedule: invalid expression")

var cronParser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

// Evaluator memoizes parsed cron and OnCalendar expressions per their raw
// string form. A single Evaluator may be shared across all checks; it
// holds no per-check state.
type Evaluator struct {
	cronCache       sync.Map // string -> cron.Schedule
	onCalendarCache sync.Map // string -> *onCalendarExpr
}

// NewEvaluator creates an Evaluator with empty caches.
func NewEvaluator() *Evaluator {
	return &Evaluator{}
}

// NextExpected returns the next instant strictly after 'after' at which a
// ping is expected for the given check's schedule.
func (e *Evaluator) NextExpected(c model.Check, after time.Time) (time.Time, error) {
	switch c.ScheduleKind {
	case model.ScheduleSimple, "":
		if c.Timeout <= 0 {
			return time.Time{}, fmt.Errorf("%w: simple schedule missing timeout", ErrInvalidExpression)
		}
		return after.Add(c.Timeout), nil
	case model.ScheduleCron:
		sched, err := e.parseCron(c.Schedule)
		if err != nil {
			return time.Time{}, err
		}
		loc, err := loadLocation(c.Timezone)
		if err != nil {
			return time.Time{}, err
		}
		return sched.Next(after.In(loc)).UTC(), nil
	case model.ScheduleOnCalendar:
		expr, err := e.parseOnCalendar(c.Schedule)
		if err != nil {
			return time.Time{}, err
		}
		loc, err := loadLocation(c.Timezone)
		if err != nil {
			return time.Time{}, err
		}
		next, ok := expr.next(after.In(loc))
		if !ok {
			return time.Time{}, fmt.Errorf("%w: oncalendar expression never matches", ErrInvalidExpression)
		}
		return next.UTC(), nil
	default:
		return time.Time{}, fmt.Errorf("%w: unknown schedule kind %q", ErrInvalidExpression, c.ScheduleKind)
	}
}

func (e *Evaluator) parseCron(expr string) (cron.Schedule, error) {
	if cached, ok := e.cronCache.Load(expr); ok {
		return cached.(cron.Schedule), nil
	}
	sched, err := cronParser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidExpression, err)
	}
	e.cronCache.Store(expr, sched)
	return sched, nil
}

func (e *Evaluator) parseOnCalendar(expr string) (*onCalendarExpr, error) {
	if cached, ok := e.onCalendarCache.Load(expr); ok {
		return cached.(*onCalendarExpr), nil
	}
	parsed, err := parseOnCalendar(expr)
	if err != nil {
		return nil, err
	}
	e.onCalendarCache.Store(expr, parsed)
	return parsed, nil
}

func loadLocation(tz string) (*time.Location, error) {
	if tz == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid timezone %q: %v", ErrInvalidExpression, tz, err)
	}
	return loc, nil
}
