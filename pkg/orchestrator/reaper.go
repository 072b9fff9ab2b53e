package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dukex/aide/pkg/models"
	"github.com/dukex/aide/pkg/persistence"
	"github.com/dukex/aide/pkg/queue"
)

// DefaultRequeueAfter is how long a re-enqueued expired claim is left alone
// before the reaper enqueues it again.
const DefaultRequeueAfter = time.Minute

// Reaper re-enqueues runs whose claim lease ran out without being released,
// so a crashed orchestrator's runs are picked up without relying on broker
// redelivery. Each expired claim is enqueued once, and again only if it is
// still expired RequeueAfter later.
type Reaper struct {
	claims       persistence.ClaimStore
	queue        queue.Publisher
	logger       *slog.Logger
	now          func() time.Time
	requeueAfter time.Duration

	mu   sync.Mutex
	sent map[sweptClaim]time.Time
}

// sweptClaim identifies one lease; a new owner or a renewal is a new lease.
type sweptClaim struct {
	runID     string
	owner     string
	expiresAt int64
}

func NewReaper(claims persistence.ClaimStore, publisher queue.Publisher, logger *slog.Logger) *Reaper {
	return &Reaper{
		claims:       claims,
		queue:        publisher,
		logger:       logger.With("module", "reaper"),
		now:          time.Now,
		requeueAfter: DefaultRequeueAfter,
		sent:         make(map[sweptClaim]time.Time),
	}
}

// WithRequeueAfter overrides DefaultRequeueAfter.
func (r *Reaper) WithRequeueAfter(d time.Duration) *Reaper {
	r.requeueAfter = d

	return r
}

// Sweep publishes a run-ready job for every expired claim not enqueued
// within RequeueAfter and returns how many were enqueued.
func (r *Reaper) Sweep(ctx context.Context) (int, error) {
	now := r.now()

	expired, err := r.claims.Expired(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("failed to list expired claims: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	seen := make(map[sweptClaim]bool, len(expired))
	n := 0

	for _, c := range expired {
		key := sweptClaim{runID: c.RunID, owner: c.Owner, expiresAt: c.ExpiresAt.UnixNano()}
		seen[key] = true

		if at, ok := r.sent[key]; ok && now.Sub(at) < r.requeueAfter {
			continue
		}

		if err := r.queue.PublishRunJob(ctx, models.RunJob{RunID: c.RunID, Reason: "lease expired"}); err != nil {
			return n, err
		}

		r.sent[key] = now
		r.logger.WarnContext(ctx, "re-enqueued run with expired claim", "run_id", c.RunID, "previous_owner", c.Owner, "expired_at", c.ExpiresAt)
		n++
	}

	for key := range r.sent {
		if !seen[key] {
			delete(r.sent, key)
		}
	}

	return n, nil
}
