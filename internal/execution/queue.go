package execution

import (
	"context"

	"go.uber.org/zap"

	"arbitrage-core/internal/domain"
)

// Queue drives RankedOpportunity values one at a time through the
// execution Lock and Core, so no two opportunities are ever in flight
// simultaneously.
type Queue struct {
	lock *Lock
	core *Core
	log  *zap.Logger
}

// NewQueue wires a Queue over an existing Lock and Core.
func NewQueue(lock *Lock, core *Core, log *zap.Logger) *Queue {
	if log == nil {
		log = zap.NewNop()
	}
	return &Queue{lock: lock, core: core, log: log}
}

// Submit processes one opportunity: acquire the lock, run the two-leg
// executor, release the lock. Blocks the caller until a prior
// opportunity's lifecycle has fully completed.
func (q *Queue) Submit(ctx context.Context, opp domain.RankedOpportunity) Result {
	id := q.lock.Acquire()
	defer q.lock.Release(id)

	return q.core.Execute(ctx, opp)
}
