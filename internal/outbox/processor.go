package outbox

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/leottami/mindull-sub001/internal/conflict"
	"github.com/leottami/mindull-sub001/internal/domain"
	"github.com/leottami/mindull-sub001/internal/executor"
	"github.com/leottami/mindull-sub001/internal/ratelimit"
	"github.com/leottami/mindull-sub001/internal/store"
)

// DefaultBatchSize is the number of items dispatched concurrently within
// one drain batch.
const DefaultBatchSize = 10

// Hooks carries the metric callback functions injected by main.
// Using a struct keeps the processor constructor signature clean; all
// fields are optional (nil = no-op).
type Hooks struct {
	OnCompleted func(domainTag string, latency time.Duration)
	OnRetry     func(domainTag string)
	OnFailed    func(domainTag string, class domain.FailureClass)
}

// Config groups the processor's tunables.
type Config struct {
	// BatchSize bounds intra-drain concurrency. Defaults to DefaultBatchSize.
	BatchSize int
	// Policy is the retry budget and backoff curve.
	Policy Policy
	// Limiter throttles dispatches per domain. Optional.
	Limiter *ratelimit.DomainLimiters
	// Now is the clock, injectable for deterministic tests.
	// Defaults to time.Now in UTC.
	Now func() time.Time
}

// Processor orchestrates draining of pending items: it is the only writer
// of item status, delegates execution to the registered per-domain
// executors, applies the backoff policy and failure classification to
// outcomes, and persists every transition through the store.
type Processor struct {
	store    store.Store
	registry *executor.Registry
	feed     *conflict.Feed
	online   func() bool
	timers   *Timers
	logger   *zap.Logger
	hooks    Hooks

	batchSize int
	policy    Policy
	limiter   *ratelimit.DomainLimiters
	now       func() time.Time

	// Single-flight guard: only one drain pass runs at a time.
	draining atomic.Bool

	// Per-item guard: an id in this set is currently dispatched and must
	// not be dispatched again by an overlapping drain trigger.
	mu       sync.Mutex
	inflight map[string]struct{}
}

// New constructs a processor. online reports the current connectivity
// signal; Enqueue only triggers a drain while it returns true.
func New(
	st store.Store,
	registry *executor.Registry,
	feed *conflict.Feed,
	online func() bool,
	cfg Config,
	logger *zap.Logger,
	hooks Hooks,
) *Processor {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.Policy == (Policy{}) {
		cfg.Policy = DefaultPolicy()
	}
	if cfg.Now == nil {
		cfg.Now = func() time.Time { return time.Now().UTC() }
	}
	if hooks.OnCompleted == nil {
		hooks.OnCompleted = func(string, time.Duration) {}
	}
	if hooks.OnRetry == nil {
		hooks.OnRetry = func(string) {}
	}
	if hooks.OnFailed == nil {
		hooks.OnFailed = func(string, domain.FailureClass) {}
	}

	return &Processor{
		store:     st,
		registry:  registry,
		feed:      feed,
		online:    online,
		timers:    NewTimers(),
		logger:    logger,
		hooks:     hooks,
		batchSize: cfg.BatchSize,
		policy:    cfg.Policy,
		limiter:   cfg.Limiter,
		now:       cfg.Now,
		inflight:  make(map[string]struct{}),
	}
}

// Enqueue validates and persists a new pending item, then triggers an
// asynchronous drain if currently online. It returns as soon as the store
// write succeeds and never blocks on remote execution: once an item is
// durable, its fate is reported only through Stats, the failed-item list
// and the conflict feed.
func (p *Processor) Enqueue(ctx context.Context, req domain.EnqueueRequest) (*domain.Item, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	now := p.now()
	item := &domain.Item{
		ID:           ulid.Make().String(),
		Op:           req.Op,
		Domain:       req.Domain,
		EntityID:     req.EntityID,
		OwnerID:      req.OwnerID,
		Payload:      req.Payload,
		AttemptCount: 0,
		AttemptLimit: p.policy.AttemptLimit,
		Status:       domain.StatusPending,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if err := p.store.Append(ctx, item); err != nil {
		return nil, fmt.Errorf("persist item: %w", err)
	}

	p.logger.Debug("item enqueued",
		zap.String("item_id", item.ID),
		zap.String("domain", item.Domain),
		zap.String("op", string(item.Op)),
	)

	if p.online() {
		// The request context dies with the HTTP response; execution is
		// deliberately detached from the caller.
		go p.drainAsync()
	}

	return item, nil
}

// Drain processes all pending items, oldest first, in batches of
// batchSize with intra-batch fan-out. Idempotent and re-entrant-safe: a
// call while another drain is running is a no-op.
func (p *Processor) Drain(ctx context.Context) error {
	if !p.draining.CompareAndSwap(false, true) {
		return nil
	}
	defer p.draining.Store(false)

	pending, err := p.store.LoadPending(ctx)
	if err != nil {
		return fmt.Errorf("load pending items: %w", err)
	}
	if len(pending) == 0 {
		return nil
	}

	p.logger.Info("drain started", zap.Int("pending", len(pending)))

	for start := 0; start < len(pending); start += p.batchSize {
		end := start + p.batchSize
		if end > len(pending) {
			end = len(pending)
		}

		var wg sync.WaitGroup
		for _, item := range pending[start:end] {
			if !p.claim(item.ID) {
				continue
			}
			wg.Add(1)
			go func(it *domain.Item) {
				defer wg.Done()
				defer p.release(it.ID)
				p.process(ctx, it)
			}(item)
		}
		wg.Wait()

		if ctx.Err() != nil {
			return ctx.Err()
		}
	}

	return nil
}

// Stats returns a snapshot of the queue contents by status.
func (p *Processor) Stats(ctx context.Context) (domain.Stats, error) {
	items, err := p.store.LoadAll(ctx)
	if err != nil {
		return domain.Stats{}, fmt.Errorf("load items: %w", err)
	}

	var s domain.Stats
	s.Total = len(items)
	for _, item := range items {
		switch item.Status {
		case domain.StatusPending:
			s.Pending++
		case domain.StatusInFlight:
			s.InFlight++
		case domain.StatusFailed:
			s.Failed++
		case domain.StatusCompleted:
			s.Completed++
		}
	}
	return s, nil
}

// Failed returns the retained failed items for inspection.
func (p *Processor) Failed(ctx context.Context) ([]*domain.Item, error) {
	items, err := p.store.LoadAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("load items: %w", err)
	}
	var failed []*domain.Item
	for _, item := range items {
		if item.Status == domain.StatusFailed {
			failed = append(failed, item)
		}
	}
	return failed, nil
}

// Clear removes every item and cancels outstanding retry timers.
// Destructive; test and debug use only.
func (p *Processor) Clear(ctx context.Context) error {
	p.timers.CancelAll()
	if err := p.store.Clear(ctx); err != nil {
		return fmt.Errorf("clear outbox: %w", err)
	}
	return nil
}

// Recover resets persisted in_flight leftovers from a crashed drain back
// to pending. Run once at startup, before the first drain.
func (p *Processor) Recover(ctx context.Context) error {
	reset, err := p.store.ResetInFlight(ctx)
	if err != nil {
		return fmt.Errorf("reset in-flight items: %w", err)
	}
	if reset > 0 {
		p.logger.Info("recovered in-flight items from previous run", zap.Int("count", reset))
	}
	return nil
}

// Close cancels all outstanding retry timers. In-flight executions are not
// interrupted; they finish or fail against a durable store either way.
func (p *Processor) Close() {
	p.timers.CancelAll()
}

// ---- internal ----

func (p *Processor) drainAsync() {
	if err := p.Drain(context.Background()); err != nil {
		p.logger.Error("drain failed", zap.Error(err))
	}
}

// claim marks an item as dispatched. Returns false if another drain
// trigger already holds it.
func (p *Processor) claim(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, held := p.inflight[id]; held {
		return false
	}
	p.inflight[id] = struct{}{}
	return true
}

func (p *Processor) release(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.inflight, id)
}

// process executes a single claimed item end to end. Execution errors never
// escape: they are classified and written back as item state.
func (p *Processor) process(ctx context.Context, item *domain.Item) {
	start := p.now()
	log := p.logger.With(
		zap.String("item_id", item.ID),
		zap.String("domain", item.Domain),
		zap.String("op", string(item.Op)),
	)

	item.Status = domain.StatusInFlight
	item.UpdatedAt = start
	if err := p.store.Update(ctx, item); err != nil {
		// Outcome unknown: without a durable in_flight mark the item simply
		// stays pending and is picked up by a later drain.
		log.Error("failed to mark item in flight", zap.Error(err))
		return
	}

	exec, err := p.registry.Lookup(item.Domain)
	if err != nil {
		// Nothing can ever execute this item; retrying is pointless.
		p.fail(ctx, item, domain.FailurePermanent, err.Error(), nil, log)
		return
	}

	if p.limiter != nil {
		if err := p.limiter.Wait(ctx, item.Domain); err != nil {
			// ctx cancelled while waiting, shutting down.
			p.revert(item, log)
			return
		}
	}

	execErr := exec.Execute(ctx, item.Op, item.EntityID, item.Payload)
	elapsed := p.now().Sub(start)

	if execErr == nil {
		if err := p.store.Remove(ctx, item.ID); err != nil {
			// The mutation reached the backend but the removal failed.
			// Leaving the item pending means it may be executed again;
			// at-least-once delivery accepts that.
			log.Error("failed to remove completed item", zap.Error(err))
			p.revert(item, log)
			return
		}
		p.hooks.OnCompleted(item.Domain, elapsed)
		log.Info("mutation synced", zap.Duration("latency", elapsed))
		return
	}

	switch Classify(execErr) {
	case domain.FailureTransient:
		p.handleTransient(ctx, item, execErr, log)

	case domain.FailureConflict:
		res := domain.ResolutionServer
		p.fail(ctx, item, domain.FailureConflict, execErr.Error(), &res, log)
		if p.feed != nil {
			p.feed.Publish(domain.Conflict{
				ItemID:     item.ID,
				Domain:     item.Domain,
				EntityID:   item.EntityID,
				DetectedAt: p.now(),
			})
		}

	case domain.FailurePermanent:
		p.fail(ctx, item, domain.FailurePermanent, execErr.Error(), nil, log)
	}
}

// handleTransient consumes one attempt and either schedules a deferred
// retry or, when the budget is exhausted, marks the item failed.
func (p *Processor) handleTransient(ctx context.Context, item *domain.Item, execErr error, log *zap.Logger) {
	item.AttemptCount++

	if item.AttemptCount >= item.AttemptLimit {
		p.fail(ctx, item, domain.FailureTransient, execErr.Error(), nil, log)
		return
	}

	msg := execErr.Error()
	item.Status = domain.StatusPending
	item.LastError = &msg
	item.UpdatedAt = p.now()

	if err := p.store.Update(ctx, item); err != nil {
		log.Error("failed to persist retry state", zap.Error(err))
		p.revert(item, log)
		return
	}

	p.hooks.OnRetry(item.Domain)
	delay := p.policy.Delay(item.AttemptCount)
	p.timers.Schedule(item.ID, delay, p.drainAsync)

	log.Warn("transient failure, retry scheduled",
		zap.Int("attempt", item.AttemptCount),
		zap.Int("attempt_limit", item.AttemptLimit),
		zap.Duration("delay", delay),
		zap.String("error", msg),
	)
}

// fail moves an item to its terminal failed state.
func (p *Processor) fail(
	ctx context.Context,
	item *domain.Item,
	class domain.FailureClass,
	msg string,
	resolution *string,
	log *zap.Logger,
) {
	item.Status = domain.StatusFailed
	item.LastError = &msg
	item.ConflictResolution = resolution
	item.UpdatedAt = p.now()

	if err := p.store.Update(ctx, item); err != nil {
		log.Error("failed to persist failed state", zap.Error(err))
		p.revert(item, log)
		return
	}

	p.hooks.OnFailed(item.Domain, class)
	log.Error("item failed",
		zap.String("class", string(class)),
		zap.Int("attempt_count", item.AttemptCount),
		zap.String("error", msg),
	)
}

// revert is the best-effort path back to pending when a result could not
// be persisted. If this write fails too, the item stays in_flight on disk
// and Recover picks it up on the next start.
func (p *Processor) revert(item *domain.Item, log *zap.Logger) {
	item.Status = domain.StatusPending
	item.UpdatedAt = p.now()
	if err := p.store.Update(context.Background(), item); err != nil {
		log.Error("failed to revert item to pending", zap.Error(err))
	}
}
