// Package execution содержит сериализованную блокировку исполнения,
// очередь возможностей и ядро двух-ножевого исполнителя: проверку глубины
// перед каждой ногой, обработку экспозиции одной ноги и персистентность
// ордеров/позиций. Стиль безопасного force-release позаимствован из
// эксплуатационных таймаутов торгового ядра-предшественника
// (internal/bot/risk.go CloseTimeout/MaxCloseRetries), применён здесь к
// единственному слоту блокировки вместо пер-позиционного таймера закрытия.
package execution

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// forceReleaseAfter is the liveness guard: a holder that has not explicitly
// released after this long is force-released, and the force-release is
// always logged critical.
const forceReleaseAfter = 30 * time.Second

// Lock is a single-slot mutex with FIFO waiter ordering and a safety timer.
type Lock struct {
	mu       sync.Mutex
	held     bool
	waiters  []chan struct{}
	holderID uint64
	seq      uint64
	timer    *time.Timer
	log      *zap.Logger
}

// NewLock creates an unheld Lock.
func NewLock(log *zap.Logger) *Lock {
	if log == nil {
		log = zap.NewNop()
	}
	return &Lock{log: log}
}

// Acquire blocks the caller until the slot is free, honoring FIFO waiter
// order, and returns a token identifying this holder's tenure. The caller
// must pass the token to Release.
func (l *Lock) Acquire() uint64 {
	l.mu.Lock()
	if !l.held {
		l.held = true
		l.holderID++
		id := l.holderID
		l.armForceRelease(id)
		l.mu.Unlock()
		return id
	}

	ch := make(chan struct{})
	l.waiters = append(l.waiters, ch)
	l.mu.Unlock()

	<-ch

	l.mu.Lock()
	l.holderID++
	id := l.holderID
	l.armForceRelease(id)
	l.mu.Unlock()
	return id
}

// armForceRelease must be called with l.mu held.
func (l *Lock) armForceRelease(id uint64) {
	if l.timer != nil {
		l.timer.Stop()
	}
	l.timer = time.AfterFunc(forceReleaseAfter, func() {
		l.forceRelease(id)
	})
}

func (l *Lock) forceRelease(id uint64) {
	l.mu.Lock()
	if !l.held || l.holderID != id {
		l.mu.Unlock()
		return
	}
	l.log.Error("execution lock force-released after holder exceeded the safety timer", zap.Uint64("holder", id))
	l.releaseLocked()
}

// Release hands the slot off to the longest-waiting caller, or frees it if
// no one is waiting. A Release for a holder that no longer holds the lock
// (already force-released) is a no-op.
func (l *Lock) Release(id uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.held || l.holderID != id {
		return
	}
	l.releaseLocked()
}

// releaseLocked must be called with l.mu held.
func (l *Lock) releaseLocked() {
	if l.timer != nil {
		l.timer.Stop()
		l.timer = nil
	}
	if len(l.waiters) == 0 {
		l.held = false
		return
	}
	next := l.waiters[0]
	l.waiters = l.waiters[1:]
	close(next)
}
