package outbox_test

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/leottami/mindull-sub001/internal/conflict"
	"github.com/leottami/mindull-sub001/internal/domain"
	"github.com/leottami/mindull-sub001/internal/executor"
	"github.com/leottami/mindull-sub001/internal/netmon"
	"github.com/leottami/mindull-sub001/internal/outbox"
	"github.com/leottami/mindull-sub001/internal/store"
)

// scriptedExecutor records every dispatch (keyed by payload) and returns
// whatever script says for that call.
type scriptedExecutor struct {
	mu     sync.Mutex
	calls  []string
	sleep  time.Duration
	script func(payload string) error
}

func (s *scriptedExecutor) Execute(_ context.Context, _ domain.Op, _ *string, payload json.RawMessage) error {
	s.mu.Lock()
	s.calls = append(s.calls, string(payload))
	s.mu.Unlock()

	if s.sleep > 0 {
		time.Sleep(s.sleep)
	}
	if s.script != nil {
		return s.script(string(payload))
	}
	return nil
}

func (s *scriptedExecutor) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.calls)
}

func (s *scriptedExecutor) callOrder() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.calls))
	copy(out, s.calls)
	return out
}

// fakeClock hands out strictly increasing timestamps so items enqueued
// back to back still get distinct createdAt values.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 8, 25, 10, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(time.Millisecond)
	return c.t
}

type fixture struct {
	proc  *outbox.Processor
	store *store.MockStore
	exec  *scriptedExecutor
	feed  *conflict.Feed
}

func newFixture(t *testing.T, online bool, cfg outbox.Config) *fixture {
	t.Helper()

	st := store.NewMockStore()
	exec := &scriptedExecutor{}
	reg := executor.NewRegistry()
	reg.Register("diary", exec)
	reg.Register("gratitude", exec)
	feed := conflict.NewFeed(8)

	if cfg.Now == nil {
		cfg.Now = newFakeClock().Now
	}
	if cfg.Policy == (outbox.Policy{}) {
		// A far-off base keeps scheduled retry timers from firing mid-test;
		// tests drive drains explicitly.
		cfg.Policy = outbox.Policy{Base: time.Hour, Max: time.Hour, AttemptLimit: 5}
	}

	proc := outbox.New(st, reg, feed, func() bool { return online }, cfg, zap.NewNop(), outbox.Hooks{})
	t.Cleanup(proc.Close)
	t.Cleanup(feed.Close)

	return &fixture{proc: proc, store: st, exec: exec, feed: feed}
}

func enqueue(t *testing.T, f *fixture, domainTag, payload string) *domain.Item {
	t.Helper()
	item, err := f.proc.Enqueue(context.Background(), domain.EnqueueRequest{
		Op:      domain.OpCreate,
		Domain:  domainTag,
		OwnerID: "user-1",
		Payload: []byte(payload),
	})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	return item
}

func TestProcessor_EnqueuePersistsPendingItem(t *testing.T) {
	f := newFixture(t, false, outbox.Config{})

	item := enqueue(t, f, "diary", `"d1"`)

	stored, ok := f.store.Get(item.ID)
	if !ok {
		t.Fatal("item not persisted")
	}
	if stored.Status != domain.StatusPending || stored.AttemptCount != 0 {
		t.Fatalf("expected pending item with 0 attempts, got %+v", stored)
	}
	if stored.AttemptLimit != 5 {
		t.Fatalf("expected attempt limit 5, got %d", stored.AttemptLimit)
	}

	// Offline: nothing may have been dispatched.
	if f.exec.callCount() != 0 {
		t.Fatalf("expected no dispatch while offline, got %d", f.exec.callCount())
	}
}

func TestProcessor_EnqueueValidates(t *testing.T) {
	f := newFixture(t, false, outbox.Config{})

	_, err := f.proc.Enqueue(context.Background(), domain.EnqueueRequest{
		Op:      domain.OpUpdate,
		Domain:  "diary",
		OwnerID: "user-1",
	})
	if err != domain.ErrMissingEntityID {
		t.Fatalf("expected ErrMissingEntityID, got %v", err)
	}
}

func TestProcessor_EnqueueSurfacesStorageError(t *testing.T) {
	f := newFixture(t, false, outbox.Config{})
	f.store.AppendErr = fmt.Errorf("disk full")

	_, err := f.proc.Enqueue(context.Background(), domain.EnqueueRequest{
		Op:      domain.OpCreate,
		Domain:  "diary",
		OwnerID: "user-1",
	})
	if err == nil {
		t.Fatal("expected storage error to surface")
	}
}

func TestProcessor_DrainDispatchesInCreationOrder(t *testing.T) {
	// Batch size 1 serializes dispatches so the recorded order is exact.
	f := newFixture(t, false, outbox.Config{BatchSize: 1})

	enqueue(t, f, "diary", `"first"`)
	enqueue(t, f, "diary", `"second"`)
	enqueue(t, f, "diary", `"third"`)

	if err := f.proc.Drain(context.Background()); err != nil {
		t.Fatal(err)
	}

	got := f.exec.callOrder()
	want := []string{`"first"`, `"second"`, `"third"`}
	if len(got) != len(want) {
		t.Fatalf("expected %d dispatches, got %d", len(want), len(got))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("position %d: expected %s, got %s", i, want[i], got[i])
		}
	}
}

func TestProcessor_SuccessRemovesItem(t *testing.T) {
	f := newFixture(t, false, outbox.Config{})

	item := enqueue(t, f, "diary", `"d1"`)
	if err := f.proc.Drain(context.Background()); err != nil {
		t.Fatal(err)
	}

	if _, ok := f.store.Get(item.ID); ok {
		t.Fatal("expected completed item to be removed from the store")
	}

	stats, err := f.proc.Stats(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if stats != (domain.Stats{}) {
		t.Fatalf("expected all-zero stats, got %+v", stats)
	}
}

func TestProcessor_TransientFailureSchedulesRetry(t *testing.T) {
	f := newFixture(t, false, outbox.Config{})
	f.exec.script = func(string) error {
		return domain.NewTransientError(503, "unavailable", nil)
	}

	item := enqueue(t, f, "diary", `"d1"`)
	if err := f.proc.Drain(context.Background()); err != nil {
		t.Fatal(err)
	}

	stored, _ := f.store.Get(item.ID)
	if stored.Status != domain.StatusPending {
		t.Fatalf("expected pending after transient failure, got %s", stored.Status)
	}
	if stored.AttemptCount != 1 {
		t.Fatalf("expected attempt count 1, got %d", stored.AttemptCount)
	}
	if stored.LastError == nil {
		t.Fatal("expected last error to be recorded")
	}
}

func TestProcessor_ExhaustionFailsAfterAttemptLimit(t *testing.T) {
	f := newFixture(t, false, outbox.Config{})
	f.exec.script = func(string) error {
		return domain.NewTransientError(500, "boom", nil)
	}

	item := enqueue(t, f, "diary", `"d1"`)

	// Drive more drains than the budget allows; extra passes must not
	// reach the executor once the item is failed.
	for i := 0; i < 8; i++ {
		if err := f.proc.Drain(context.Background()); err != nil {
			t.Fatal(err)
		}
	}

	if got := f.exec.callCount(); got != 5 {
		t.Fatalf("expected exactly 5 executions (attempt limit), got %d", got)
	}

	stored, _ := f.store.Get(item.ID)
	if stored.Status != domain.StatusFailed {
		t.Fatalf("expected failed, got %s", stored.Status)
	}
	if stored.AttemptCount != 5 {
		t.Fatalf("expected attempt count 5, got %d", stored.AttemptCount)
	}
	if stored.ConflictResolution != nil {
		t.Fatal("exhaustion must not set a conflict resolution")
	}
}

func TestProcessor_ConcurrentDrainsProcessEachItemOnce(t *testing.T) {
	f := newFixture(t, false, outbox.Config{BatchSize: 10})
	f.exec.sleep = 20 * time.Millisecond

	for i := 0; i < 5; i++ {
		enqueue(t, f, "diary", fmt.Sprintf(`"item-%d"`, i))
	}

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = f.proc.Drain(context.Background())
		}()
	}
	wg.Wait()

	// One of the two drains won the single-flight guard; each item was
	// dispatched exactly once.
	if got := f.exec.callCount(); got != 5 {
		t.Fatalf("expected 5 dispatches, got %d", got)
	}
	stats, _ := f.proc.Stats(context.Background())
	if stats.Total != 0 {
		t.Fatalf("expected empty queue after drain, got %+v", stats)
	}
}

func TestProcessor_ConflictFailsImmediatelyAndNotifiesOnce(t *testing.T) {
	f := newFixture(t, false, outbox.Config{})
	f.exec.script = func(string) error {
		return domain.NewConflictError(409, "entry changed remotely")
	}

	events, unsubscribe := f.feed.Subscribe()
	defer unsubscribe()

	entityID := "entry-9"
	item, err := f.proc.Enqueue(context.Background(), domain.EnqueueRequest{
		Op:       domain.OpUpdate,
		Domain:   "diary",
		EntityID: &entityID,
		OwnerID:  "user-1",
		Payload:  []byte(`"d1"`),
	})
	if err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 3; i++ {
		if err := f.proc.Drain(context.Background()); err != nil {
			t.Fatal(err)
		}
	}

	// Conflicts are terminal on first sight: one execution, no retries.
	if got := f.exec.callCount(); got != 1 {
		t.Fatalf("expected exactly 1 execution, got %d", got)
	}

	stored, _ := f.store.Get(item.ID)
	if stored.Status != domain.StatusFailed {
		t.Fatalf("expected failed, got %s", stored.Status)
	}
	if stored.ConflictResolution == nil || *stored.ConflictResolution != domain.ResolutionServer {
		t.Fatalf("expected conflict resolution %q, got %v", domain.ResolutionServer, stored.ConflictResolution)
	}

	select {
	case ev := <-events:
		if ev.ItemID != item.ID || ev.Domain != "diary" || ev.EntityID == nil || *ev.EntityID != entityID {
			t.Fatalf("unexpected conflict event: %+v", ev)
		}
	default:
		t.Fatal("expected a conflict event")
	}
	select {
	case ev := <-events:
		t.Fatalf("expected exactly one conflict event, got another: %+v", ev)
	default:
	}
}

func TestProcessor_PermanentFailureNeverRetries(t *testing.T) {
	f := newFixture(t, false, outbox.Config{})
	f.exec.script = func(string) error {
		return domain.NewPermanentError(422, "payload rejected")
	}

	item := enqueue(t, f, "diary", `"d1"`)
	for i := 0; i < 3; i++ {
		_ = f.proc.Drain(context.Background())
	}

	if got := f.exec.callCount(); got != 1 {
		t.Fatalf("expected exactly 1 execution, got %d", got)
	}
	stored, _ := f.store.Get(item.ID)
	if stored.Status != domain.StatusFailed {
		t.Fatalf("expected failed, got %s", stored.Status)
	}
}

func TestProcessor_MissingExecutorFailsPermanently(t *testing.T) {
	f := newFixture(t, false, outbox.Config{})

	item := enqueue(t, f, "dreams", `"d1"`) // no executor registered for "dreams"
	if err := f.proc.Drain(context.Background()); err != nil {
		t.Fatal(err)
	}

	stored, _ := f.store.Get(item.ID)
	if stored.Status != domain.StatusFailed {
		t.Fatalf("expected failed, got %s", stored.Status)
	}
	if stored.LastError == nil {
		t.Fatal("expected last error naming the missing executor")
	}
}

func TestProcessor_StoreFailureLeavesItemPending(t *testing.T) {
	f := newFixture(t, false, outbox.Config{})

	item := enqueue(t, f, "diary", `"d1"`)
	// The in-flight mark fails: outcome unknown, the executor must not run.
	f.store.UpdateErrOnce = fmt.Errorf("io error")

	if err := f.proc.Drain(context.Background()); err != nil {
		t.Fatal(err)
	}
	if f.exec.callCount() != 0 {
		t.Fatal("executor must not run when the in-flight mark fails")
	}

	stored, _ := f.store.Get(item.ID)
	if stored.Status != domain.StatusPending {
		t.Fatalf("expected item to stay pending, got %s", stored.Status)
	}

	// The hiccup is gone; the next drain completes the item.
	if err := f.proc.Drain(context.Background()); err != nil {
		t.Fatal(err)
	}
	if _, ok := f.store.Get(item.ID); ok {
		t.Fatal("expected item to complete on the next drain")
	}
}

func TestProcessor_DrainSurfacesLoadError(t *testing.T) {
	f := newFixture(t, false, outbox.Config{})
	f.store.LoadPendingErr = fmt.Errorf("io error")

	if err := f.proc.Drain(context.Background()); err == nil {
		t.Fatal("expected load error to surface")
	}
}

func TestProcessor_RecoverResetsInFlightLeftovers(t *testing.T) {
	f := newFixture(t, false, outbox.Config{})

	item := enqueue(t, f, "diary", `"d1"`)
	// Simulate a crash mid-drain: the persisted status is in_flight but no
	// process holds the item.
	stored, _ := f.store.Get(item.ID)
	stored.Status = domain.StatusInFlight
	if err := f.store.Update(context.Background(), stored); err != nil {
		t.Fatal(err)
	}

	if err := f.proc.Recover(context.Background()); err != nil {
		t.Fatal(err)
	}

	stats, _ := f.proc.Stats(context.Background())
	if stats.Pending != 1 || stats.InFlight != 0 {
		t.Fatalf("expected recovered pending item, got %+v", stats)
	}
}

func TestProcessor_ClearEmptiesQueue(t *testing.T) {
	f := newFixture(t, false, outbox.Config{})

	enqueue(t, f, "diary", `"d1"`)
	enqueue(t, f, "gratitude", `"g1"`)

	if err := f.proc.Clear(context.Background()); err != nil {
		t.Fatal(err)
	}
	stats, _ := f.proc.Stats(context.Background())
	if stats.Total != 0 {
		t.Fatalf("expected empty queue, got %+v", stats)
	}
}

func TestProcessor_OfflineEnqueueThenOnlineDrain(t *testing.T) {
	st := store.NewMockStore()
	exec := &scriptedExecutor{}
	reg := executor.NewRegistry()
	reg.Register("diary", exec)
	reg.Register("gratitude", exec)
	feed := conflict.NewFeed(8)
	defer feed.Close()

	monitor := netmon.New(false)
	cfg := outbox.Config{
		Policy: outbox.Policy{Base: time.Hour, Max: time.Hour, AttemptLimit: 5},
		Now:    newFakeClock().Now,
	}
	proc := outbox.New(st, reg, feed, monitor.Online, cfg, zap.NewNop(), outbox.Hooks{})
	defer proc.Close()

	// The network trigger: drain once on the offline→online edge.
	monitor.OnChange(func(online bool) {
		if online {
			_ = proc.Drain(context.Background())
		}
	})

	ctx := context.Background()
	for _, payload := range []string{`"d1"`, `"g1"`} {
		if _, err := proc.Enqueue(ctx, domain.EnqueueRequest{
			Op:      domain.OpCreate,
			Domain:  "diary",
			OwnerID: "user-1",
			Payload: []byte(payload),
		}); err != nil {
			t.Fatal(err)
		}
	}

	stats, _ := proc.Stats(ctx)
	if stats.Pending != 2 {
		t.Fatalf("expected 2 pending while offline, got %+v", stats)
	}
	if exec.callCount() != 0 {
		t.Fatal("nothing may be dispatched while offline")
	}

	monitor.Set(true)

	if got := exec.callCount(); got != 2 {
		t.Fatalf("expected 2 dispatches after going online, got %d", got)
	}
	stats, _ = proc.Stats(ctx)
	if stats != (domain.Stats{}) {
		t.Fatalf("expected all-zero stats after drain, got %+v", stats)
	}
}

func TestProcessor_EnqueueWhileOnlineTriggersDrain(t *testing.T) {
	f := newFixture(t, true, outbox.Config{})

	enqueue(t, f, "diary", `"d1"`)

	// The drain runs on a background goroutine; poll briefly.
	deadline := time.After(2 * time.Second)
	for f.exec.callCount() < 1 {
		select {
		case <-deadline:
			t.Fatal("enqueue while online did not trigger a drain")
		case <-time.After(5 * time.Millisecond):
		}
	}
}
