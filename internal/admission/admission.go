// Package admission defines the resource-admission collaborator spec.md
// §1 scopes out of the kernel core ("Resource admission... decided by a
// policy the kernel consults, not one it implements"). Hook is the
// interface the Scheduler calls before granting a ResourceId; RedisHook
// is a reference implementation, not a requirement — callers may supply
// any Hook.
package admission

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/ipwis/kernel/internal/domain"
)

// ErrDenied is wrapped by a Hook's error when it declines to grant a
// ResourceId, as distinct from a transport failure talking to whatever
// backs the policy decision.
var ErrDenied = fmt.Errorf("admission denied")

// Hook decides whether a task described by constraints may be admitted.
// A nil error grants admission; any error (typically wrapping ErrDenied)
// denies it. The kernel never retries a denial automatically.
type Hook interface {
	Admit(ctx context.Context, tenant string, constraints domain.TaskConstraints) error
}

// AlwaysAdmit is the zero-configuration Hook: every task is admitted. It
// exists so the Scheduler and Kernel facade are usable without wiring a
// real policy backend in tests and simple deployments.
type AlwaysAdmit struct{}

func (AlwaysAdmit) Admit(context.Context, string, domain.TaskConstraints) error { return nil }

// RedisHook is a reference admission policy: a per-tenant fixed-window
// budget enforced with INCR + EXPIRE (the expiry is set on the window's
// first INCR), the same primitive
// pairing the teacher uses for its rate-limit counters.
type RedisHook struct {
	client *redis.Client
	limit  int64
	window time.Duration
}

// NewRedisHook constructs a RedisHook that admits at most limit
// concurrently-admitted tasks per tenant within window.
func NewRedisHook(client *redis.Client, limit int64, window time.Duration) *RedisHook {
	return &RedisHook{client: client, limit: limit, window: window}
}

// Admit increments the tenant's counter and denies admission once limit
// is exceeded within the current window. DueDate is not itself enforced
// here (spec.md §9: due_date is advisory, never enforced by the core);
// a policy wanting deadline-aware admission would read
// constraints.Resources.DueDate itself.
func (h *RedisHook) Admit(ctx context.Context, tenant string, constraints domain.TaskConstraints) error {
	key := "ipwis:admission:" + tenant
	n, err := h.client.Incr(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("admission counter: %w", err)
	}
	if n == 1 {
		if err := h.client.Expire(ctx, key, h.window).Err(); err != nil {
			return fmt.Errorf("admission counter expiry: %w", err)
		}
	}
	if n > h.limit {
		return fmt.Errorf("%w: tenant %q over limit %d within %s", ErrDenied, tenant, h.limit, h.window)
	}
	return nil
}

// Release decrements the tenant's counter when a task completes, giving
// the window a concurrency-budget rather than a pure rate-limit shape.
func (h *RedisHook) Release(ctx context.Context, tenant string) error {
	return h.client.Decr(ctx, "ipwis:admission:"+tenant).Err()
}
