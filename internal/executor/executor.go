package executor

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/leottami/mindull-sub001/internal/domain"
)

// Executor submits a single mutation to the remote backend for one domain
// (diary, gratitude, session, dream, ...). Mocking this interface in tests
// gives full control over backend behaviour without real HTTP calls.
//
// A nil return means the mutation was accepted remotely. Failures should be
// returned as *domain.ExecutionError so the processor can classify them;
// unclassified errors are treated as transient.
type Executor interface {
	Execute(ctx context.Context, op domain.Op, entityID *string, payload json.RawMessage) error
}

// Func adapts a plain function to the Executor interface.
type Func func(ctx context.Context, op domain.Op, entityID *string, payload json.RawMessage) error

func (f Func) Execute(ctx context.Context, op domain.Op, entityID *string, payload json.RawMessage) error {
	return f(ctx, op, entityID, payload)
}

// Registry maps domain tags to executors. New domains are added by
// registration, not by editing the processor.
type Registry struct {
	mu        sync.RWMutex
	executors map[string]Executor
}

func NewRegistry() *Registry {
	return &Registry{executors: make(map[string]Executor)}
}

// Register binds an executor to a domain tag, replacing any previous binding.
func (r *Registry) Register(domainTag string, exec Executor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.executors[domainTag] = exec
}

// Lookup returns the executor for a domain tag, or ErrNoExecutor.
func (r *Registry) Lookup(domainTag string) (Executor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	exec, ok := r.executors[domainTag]
	if !ok {
		return nil, domain.ErrNoExecutor
	}
	return exec, nil
}

// Domains returns the registered domain tags, for startup logging and the
// per-domain rate limiters.
func (r *Registry) Domains() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tags := make([]string, 0, len(r.executors))
	for tag := range r.executors {
		tags = append(tags, tag)
	}
	return tags
}
