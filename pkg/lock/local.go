package lock

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/pkg/errors"
)

// NewLocal returns a Locker whose keys are scoped to the current process.
func NewLocal(logger *slog.Logger) Locker {
	if logger == nil {
		logger = slog.Default()
	}

	return &localLocker{logger: logger}
}

type localLocker struct {
	locks  sync.Map // key -> *localEntry
	logger *slog.Logger
}

type localEntry struct {
	mu sync.Mutex

	guard sync.Mutex // protects token and timer
	token string
	timer *time.Timer
}

func (l *localLocker) NonBlockingSynchronized(ctx context.Context, key string, ttl time.Duration, f func(context.Context) error) error {
	if holding(ctx, key) {
		return f(ctx)
	}

	entry, ok := l.acquire(key)
	if !ok {
		return errors.WithMessagef(ErrLocked, "[localLocker.NonBlockingSynchronized] key %s", key)
	}

	token := newToken()

	entry.guard.Lock()
	entry.token = token
	entry.timer = time.AfterFunc(ttl, func() {
		l.release(key, entry, token)
	})
	entry.guard.Unlock()

	defer l.release(key, entry, token)

	return f(withHeld(ctx, key, token))
}

// acquire locks the entry registered for key. An entry removed from the map between load and
// lock is stale, so the attempt is repeated on the fresh one.
func (l *localLocker) acquire(key string) (*localEntry, bool) {
	for {
		value, _ := l.locks.LoadOrStore(key, &localEntry{})
		entry := value.(*localEntry)

		if !entry.mu.TryLock() {
			return nil, false
		}

		if current, ok := l.locks.Load(key); ok && current == entry {
			return entry, true
		}

		entry.mu.Unlock()
	}
}

func (l *localLocker) release(key string, entry *localEntry, token string) {
	entry.guard.Lock()
	defer entry.guard.Unlock()

	if entry.token != token {
		return
	}

	entry.token = ""

	if entry.timer != nil {
		entry.timer.Stop()
	}

	l.locks.CompareAndDelete(key, entry)
	entry.mu.Unlock()

	l.logger.Debug("released lock", "key", key)
}
