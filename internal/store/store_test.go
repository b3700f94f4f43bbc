package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/opus-domini/pulsecheck/internal/model"
)

func TestNew(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	dbPath := filepath.Join(dir, "sub", "pulsecheck.db")

	s, err := New(dbPath, Options{})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	defer func() { _ = s.Close() }()

	// Verify the subdirectory was created by New().
	s2, err := New(dbPath, Options{})
	if err != nil {
		t.Fatalf("second New() on same path error = %v", err)
	}
	defer func() { _ = s2.Close() }()
}

func TestWorkerIDUnique(t *testing.T) {
	t.Parallel()

	s1 := newTestStore(t)
	defer func() { _ = s1.Close() }()
	s2 := newTestStore(t)
	defer func() { _ = s2.Close() }()

	if s1.WorkerID() == s2.WorkerID() {
		t.Fatalf("expected distinct worker ids, got %q twice", s1.WorkerID())
	}
}

func TestCreateAndGetCheck(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := newTestStore(t)
	defer func() { _ = s.Close() }()

	now := time.Now().UTC().Truncate(time.Second)
	c := model.Check{
		ID:           uuid.New(),
		Code:         NewCheckCode(),
		Name:         "nightly backup",
		ProjectID:    "proj-1",
		ScheduleKind: model.ScheduleCron,
		Schedule:     "0 2 * * *",
		Timezone:     "UTC",
		Grace:        5 * time.Minute,
		Status:       model.StatusNew,
		Filter: model.FilterPolicy{
			SuccessKeywords: []string{"ok", "done"},
			AllowedMethods:  []string{"POST"},
		},
		CreatedAt: now,
	}
	if err := s.CreateCheck(ctx, c); err != nil {
		t.Fatalf("CreateCheck: %v", err)
	}

	got, err := s.GetCheck(ctx, c.ID)
	if err != nil {
		t.Fatalf("GetCheck: %v", err)
	}
	if got.Name != c.Name || got.Schedule != c.Schedule || got.ScheduleKind != c.ScheduleKind {
		t.Fatalf("GetCheck = %+v, want fields matching %+v", got, c)
	}
	if len(got.Filter.SuccessKeywords) != 2 || got.Filter.SuccessKeywords[0] != "ok" {
		t.Fatalf("Filter.SuccessKeywords = %v, want [ok done]", got.Filter.SuccessKeywords)
	}

	byCode, err := s.GetCheckByCode(ctx, c.Code)
	if err != nil {
		t.Fatalf("GetCheckByCode: %v", err)
	}
	if byCode.ID != c.ID {
		t.Fatalf("GetCheckByCode returned id %v, want %v", byCode.ID, c.ID)
	}

	if _, err := s.GetCheck(ctx, uuid.New()); err != ErrNotFound {
		t.Fatalf("GetCheck(missing) error = %v, want ErrNotFound", err)
	}
}

func TestUpdateCheckState(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := newTestStore(t)
	defer func() { _ = s.Close() }()

	c := seedCheck(t, s, ctx, time.Now().UTC())
	pingTime := time.Now().UTC().Truncate(time.Second)
	c.Status = model.StatusUp
	c.LastPing = &pingTime
	c.NPings = 1

	if err := s.UpdateCheckState(ctx, c); err != nil {
		t.Fatalf("UpdateCheckState: %v", err)
	}

	got, err := s.GetCheck(ctx, c.ID)
	if err != nil {
		t.Fatalf("GetCheck: %v", err)
	}
	if got.Status != model.StatusUp || got.NPings != 1 || got.LastPing == nil {
		t.Fatalf("GetCheck after update = %+v", got)
	}
}

func TestPauseAndResumeCheck(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := newTestStore(t)
	defer func() { _ = s.Close() }()

	c := seedCheck(t, s, ctx, time.Now().UTC())

	if err := s.PauseCheck(ctx, c.ID); err != nil {
		t.Fatalf("PauseCheck: %v", err)
	}
	got, err := s.GetCheck(ctx, c.ID)
	if err != nil {
		t.Fatalf("GetCheck: %v", err)
	}
	if got.Status != model.StatusPaused {
		t.Fatalf("Status = %q, want paused", got.Status)
	}

	if err := s.ResumeCheck(ctx, c.ID, true); err != nil {
		t.Fatalf("ResumeCheck: %v", err)
	}
	got, err = s.GetCheck(ctx, c.ID)
	if err != nil {
		t.Fatalf("GetCheck: %v", err)
	}
	if got.Status != model.StatusNew || !got.ManualResume {
		t.Fatalf("GetCheck after resume = %+v", got)
	}
}

func TestResumeFromDownInsertsRecoveryFlip(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := newTestStore(t)
	defer func() { _ = s.Close() }()

	now := time.Now().UTC()
	c := seedCheck(t, s, ctx, now)
	c.Status = model.StatusDown
	c.NPings = 3
	c.ManualResume = true
	if err := s.UpdateCheckState(ctx, c); err != nil {
		t.Fatalf("UpdateCheckState: %v", err)
	}

	if err := s.ResumeFromDown(ctx, c.ID, now.Add(time.Minute)); err != nil {
		t.Fatalf("ResumeFromDown: %v", err)
	}

	got, err := s.GetCheck(ctx, c.ID)
	if err != nil {
		t.Fatalf("GetCheck: %v", err)
	}
	if got.Status != model.StatusUp {
		t.Fatalf("Status = %q, want up", got.Status)
	}

	flips, err := s.FlipsForCheck(ctx, c.ID, 10)
	if err != nil {
		t.Fatalf("FlipsForCheck: %v", err)
	}
	if len(flips) != 1 {
		t.Fatalf("flips = %+v, want exactly one", flips)
	}
	if flips[0].OldStatus != model.StatusDown || flips[0].NewStatus != model.StatusUp || flips[0].Reason != model.ReasonRecovered {
		t.Fatalf("flip = %+v, want down->up reason=recovered", flips[0])
	}
}

func TestResumeFromDownIsNoOpWhenNotDown(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := newTestStore(t)
	defer func() { _ = s.Close() }()

	now := time.Now().UTC()
	c := seedCheck(t, s, ctx, now)
	c.Status = model.StatusUp
	if err := s.UpdateCheckState(ctx, c); err != nil {
		t.Fatalf("UpdateCheckState: %v", err)
	}

	if err := s.ResumeFromDown(ctx, c.ID, now); !errors.Is(err, ErrNotFound) {
		t.Fatalf("ResumeFromDown error = %v, want ErrNotFound", err)
	}

	flips, err := s.FlipsForCheck(ctx, c.ID, 10)
	if err != nil {
		t.Fatalf("FlipsForCheck: %v", err)
	}
	if len(flips) != 0 {
		t.Fatalf("flips = %+v, want none", flips)
	}
}

func TestDeleteCheckCascades(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := newTestStore(t)
	defer func() { _ = s.Close() }()

	c := seedCheck(t, s, ctx, time.Now().UTC())
	if _, _, err := s.InsertPing(ctx, model.Ping{CheckID: c.ID, N: 1, Kind: model.PingSuccess, CreatedAt: time.Now().UTC()}); err != nil {
		t.Fatalf("InsertPing: %v", err)
	}

	if err := s.DeleteCheck(ctx, c.ID); err != nil {
		t.Fatalf("DeleteCheck: %v", err)
	}
	if _, err := s.GetCheck(ctx, c.ID); err != ErrNotFound {
		t.Fatalf("GetCheck after delete error = %v, want ErrNotFound", err)
	}

	pings, err := s.ListPingsForCheck(ctx, c.ID, 10)
	if err != nil {
		t.Fatalf("ListPingsForCheck: %v", err)
	}
	if len(pings) != 0 {
		t.Fatalf("pings survived cascade delete: %d", len(pings))
	}
}

func TestListChecksDueForEvaluation(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	s := newTestStore(t)
	defer func() { _ = s.Close() }()

	now := time.Now().UTC().Truncate(time.Second)
	due := now.Add(-time.Minute)
	notYet := now.Add(time.Hour)

	c1 := seedCheck(t, s, ctx, now)
	c1.Status = model.StatusUp
	c1.AlertAfter = &due
	if err := s.UpdateCheckState(ctx, c1); err != nil {
		t.Fatalf("UpdateCheckState(c1): %v", err)
	}

	c2 := seedCheck(t, s, ctx, now)
	c2.Status = model.StatusUp
	c2.AlertAfter = &notYet
	if err := s.UpdateCheckState(ctx, c2); err != nil {
		t.Fatalf("UpdateCheckState(c2): %v", err)
	}

	due2, err := s.ListChecksDueForEvaluation(ctx, now)
	if err != nil {
		t.Fatalf("ListChecksDueForEvaluation: %v", err)
	}
	if len(due2) != 1 || due2[0].ID != c1.ID {
		t.Fatalf("ListChecksDueForEvaluation = %+v, want only c1", due2)
	}
}

func TestClose(t *testing.T) {
	t.Parallel()

	s := newTestStore(t)
	if err := s.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	ctx := context.Background()
	_, err := s.ListChecks(ctx)
	if err == nil {
		t.Fatal("ListChecks() after Close() should return error")
	}
}

// newTestStore creates a Store backed by a temporary SQLite database.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "pulsecheck.db")
	s, err := New(dbPath, Options{})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return s
}

func seedCheck(t *testing.T, s *Store, ctx context.Context, createdAt time.Time) model.Check {
	t.Helper()
	c := model.Check{
		ID:           uuid.New(),
		Code:         NewCheckCode(),
		Name:         "store-test",
		ScheduleKind: model.ScheduleSimple,
		Timeout:      time.Hour,
		Status:       model.StatusNew,
		CreatedAt:    createdAt,
	}
	if err := s.CreateCheck(ctx, c); err != nil {
		t.Fatalf("CreateCheck: %v", err)
	}
	return c
}

func seedChannel(t *testing.T, s *Store, ctx context.Context, createdAt time.Time) model.Channel {
	t.Helper()
	ch := model.Channel{ID: uuid.New(), Kind: "webhook", Value: "https://example.test/hook", CreatedAt: createdAt}
	if err := s.CreateChannel(ctx, ch); err != nil {
		t.Fatalf("CreateChannel: %v", err)
	}
	return ch
}
