// Package model defines the data types shared across the monitoring core:
// checks, pings, flips, channels and notifications (spec §3).
package model

import (
	"time"

	"github.com/google/uuid"
)

// ScheduleKind selects how a Check's next expected ping is computed.
type ScheduleKind string

const (
	ScheduleSimple     ScheduleKind = "simple"
	ScheduleCron       ScheduleKind = "cron"
	ScheduleOnCalendar ScheduleKind = "oncalendar"
)

// CheckStatus is the persisted status cache on a Check.
type CheckStatus string

const (
	StatusNew    CheckStatus = "new"
	StatusUp     CheckStatus = "up"
	StatusDown   CheckStatus = "down"
	StatusPaused CheckStatus = "paused"
)

// PingKind classifies a single heartbeat event.
type PingKind string

const (
	PingSuccess PingKind = "success"
	PingStart   PingKind = "start"
	PingFail    PingKind = "fail"
	PingLog     PingKind = "log"
	PingIgnored PingKind = "ign"
)

// FlipReason records why a status transition was recorded.
type FlipReason string

const (
	ReasonTimeout FlipReason = "timeout"
	ReasonFail    FlipReason = "fail"
	ReasonNag     FlipReason = "nag"

	// ReasonRecovered marks a down-to-up transition driven by something
	// other than the alerting loop noticing a deadline: either an
	// accepted ping (spec §8 scenario 2) or an operator's explicit
	// manual resume of a manual_resume check (spec §8 scenario 3). See
	// DESIGN.md's resolution of both scenarios.
	ReasonRecovered FlipReason = "recovered"
)

// FilterPolicy governs which pings are accepted verbatim versus
// downgraded to kind=ign by the ingest writer (spec §3, §6).
type FilterPolicy struct {
	SubjectRegex    string
	BodyRegex       string
	SuccessKeywords []string
	StartKeywords   []string
	FailureKeywords []string
	AllowedMethods  []string
}

// Check is the monitored schedule (spec §3).
type Check struct {
	ID        uuid.UUID
	Code      string
	Name      string
	ProjectID string

	ScheduleKind ScheduleKind
	Timeout      time.Duration // simple schedules only
	Schedule     string        // cron expression or OnCalendar expression
	Timezone     string        // IANA timezone, scheduled kinds only
	Grace        time.Duration

	Status       CheckStatus
	LastPing     *time.Time
	LastStart    *time.Time
	AlertAfter   *time.Time
	NPings       int64
	LastDuration time.Duration
	ManualResume bool

	Filter FilterPolicy

	LockedBy string
	LockedAt *time.Time

	CreatedAt time.Time
}

// Running reports whether the check currently has an unmatched start event.
func (c Check) Running() bool {
	return c.LastStart != nil
}

// Ping is one heartbeat event belonging to a Check (spec §3).
type Ping struct {
	ID         int64
	CheckID    uuid.UUID
	N          int64
	Kind       PingKind
	CreatedAt  time.Time
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

// Flip is an immutable status-transition event (spec §3).
type Flip struct {
	ID         int64
	CheckID    uuid.UUID
	Created    time.Time
	Processed  *time.Time
	OldStatus  CheckStatus
	NewStatus  CheckStatus
	Reason     FlipReason
}

// IsNag reports whether this flip represents a repeat alert (spec §4.4).
func (f Flip) IsNag() bool {
	return f.Reason == ReasonNag
}

// Channel is a notification target shared across checks (spec §3).
type Channel struct {
	ID       uuid.UUID
	Kind     string
	Value    string

	LastNotify         *time.Time
	LastNotifyDuration time.Duration
	LastError          string
	Disabled           bool
	EmailVerified      bool

	CreatedAt time.Time
}

// Notification records one delivery attempt (spec §3).
type Notification struct {
	ID          uuid.UUID
	CheckID     uuid.UUID
	ChannelID   uuid.UUID
	CheckStatus CheckStatus
	Created     time.Time
	Error       string
}
