package lock

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

type memoryEntry struct {
	token   string
	expires time.Time
}

// MemoryLocker is an in-process Locker for single-node deployments and tests.
type MemoryLocker struct {
	mu   sync.Mutex
	held map[string]memoryEntry
}

// NewMemoryLocker creates an empty in-process locker.
func NewMemoryLocker() *MemoryLocker {
	return &MemoryLocker{
		held: make(map[string]memoryEntry),
	}
}

// Acquire obtains the lock for key, or returns ErrHeld if an unexpired
// holder exists.
func (l *MemoryLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	if entry, ok := l.held[key]; ok && now.Before(entry.expires) {
		return nil, ErrHeld
	}

	token := uuid.New().String()
	l.held[key] = memoryEntry{token: token, expires: now.Add(ttl)}

	released := false
	unlock := func() {
		l.mu.Lock()
		defer l.mu.Unlock()

		if released {
			return
		}
		released = true

		// Only the holder's token may release the key; an expired lock may
		// already belong to a new holder.
		if entry, ok := l.held[key]; ok && entry.token == token {
			delete(l.held, key)
		}
	}

	return unlock, nil
}

var _ Locker = (*MemoryLocker)(nil)
