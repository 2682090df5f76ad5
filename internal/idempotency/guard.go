// Package idempotency отклоняет повторную отправку того же запроса клиента
// в коротком окне. Это оптимизация перед проверками уникальности в БД,
// а не их замена.
package idempotency

import (
	"context"
	"strconv"
	"sync"
	"time"
)

// DefaultWindow время хранения пары (пользователь, идентификатор запроса).
const DefaultWindow = 60 * time.Second

// Result результат CheckAndRecord.
type Result struct {
	Fresh       bool
	FirstSeenAt time.Time
}

// Guard запоминает пары (пользователь, идентификатор запроса).
type Guard interface {
	// CheckAndRecord возвращает Fresh для первого вызова в окне и время первого
	// появления для повторов. Пустой requestID всегда даёт Fresh.
	CheckAndRecord(ctx context.Context, userID int64, requestID string) (Result, error)
}

func key(userID int64, requestID string) string {
	return strconv.FormatInt(userID, 10) + ":" + requestID
}

// MemoryGuard хранит пары в памяти процесса. Устаревшие записи удаляются
// при обработке вызовов не чаще раза за интервал очистки.
type MemoryGuard struct {
	mu         sync.Mutex
	seen       map[string]time.Time
	window     time.Duration
	sweepEvery time.Duration
	lastSweep  time.Time
	now        func() time.Time
}

// NewMemoryGuard создаёт guard, хранящий пары в течение window.
func NewMemoryGuard(window time.Duration) *MemoryGuard {
	if window <= 0 {
		window = DefaultWindow
	}
	return &MemoryGuard{
		seen:       make(map[string]time.Time),
		window:     window,
		sweepEvery: window,
		now:        time.Now,
	}
}

// CheckAndRecord реализует Guard.
func (g *MemoryGuard) CheckAndRecord(_ context.Context, userID int64, requestID string) (Result, error) {
	now := g.now()
	if requestID == "" {
		return Result{Fresh: true, FirstSeenAt: now}, nil
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if now.Sub(g.lastSweep) >= g.sweepEvery {
		g.sweep(now)
	}

	k := key(userID, requestID)
	if first, ok := g.seen[k]; ok && now.Sub(first) < g.window {
		return Result{Fresh: false, FirstSeenAt: first}, nil
	}

	g.seen[k] = now
	return Result{Fresh: true, FirstSeenAt: now}, nil
}

func (g *MemoryGuard) sweep(now time.Time) {
	for k, first := range g.seen {
		if now.Sub(first) >= g.window {
			delete(g.seen, k)
		}
	}
	g.lastSweep = now
}
