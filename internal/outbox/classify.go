package outbox

import (
	"context"
	"errors"
	"strings"

	"github.com/leottami/mindull-sub001/internal/domain"
)

// Classify maps an executor failure to a FailureClass.
//
// Executors that return *domain.ExecutionError carry their class
// explicitly; message-substring matching is only a fallback for executors
// that surface raw errors. Unrecognized errors default to transient, since
// network-class failures are the overwhelmingly common case on a device
// with intermittent connectivity.
func Classify(err error) domain.FailureClass {
	var execErr *domain.ExecutionError
	if errors.As(err, &execErr) {
		return execErr.Class
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return domain.FailureTransient
	}

	msg := strings.ToLower(err.Error())
	switch {
	case containsAny(msg, "conflict", "version mismatch", "stale", "precondition failed", "optimistic lock"):
		return domain.FailureConflict
	case containsAny(msg, "validation", "invalid payload", "schema", "unprocessable"):
		return domain.FailurePermanent
	default:
		return domain.FailureTransient
	}
}

func containsAny(s string, markers ...string) bool {
	for _, m := range markers {
		if strings.Contains(s, m) {
			return true
		}
	}
	return false
}
