// Package runguard provides the per-campaign single-flight guard that keeps
// at most one generation run active per campaign.
package runguard

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/fentz26/postloom/internal/models"
)

// Guard admits at most one holder per id. TryAcquire must check and insert
// without yielding in between.
type Guard interface {
	TryAcquire(ctx context.Context, id string) (bool, error)
	Release(ctx context.Context, id string) error
	IsActive(ctx context.Context, id string) bool
}

// Renewer is implemented by guards whose holds expire. Renew extends the
// hold and reports false once it has passed to another holder.
type Renewer interface {
	Renew(ctx context.Context, id string) (bool, error)
}

// Memory is an in-process guard.
type Memory struct {
	mu     sync.Mutex
	active map[string]time.Time
}

var _ Guard = (*Memory)(nil)

// NewMemory creates an empty in-process guard.
func NewMemory() *Memory {
	return &Memory{active: make(map[string]time.Time)}
}

// TryAcquire marks id active unless it already is.
func (m *Memory) TryAcquire(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.active[id]; ok {
		return false, nil
	}
	m.active[id] = time.Now()
	return true, nil
}

// Release clears id. Releasing an inactive id is a no-op.
func (m *Memory) Release(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.active, id)
	return nil
}

// IsActive reports whether id is held.
func (m *Memory) IsActive(_ context.Context, id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.active[id]
	return ok
}

// Active returns the number of held ids.
func (m *Memory) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.active)
}

// LockStore is the subset of the store used by Locking.
type LockStore interface {
	AcquireLock(ctx context.Context, resourceID, holderID, lockType string, ttl time.Duration) (*models.Lock, error)
	GetLock(ctx context.Context, resourceID string) (*models.Lock, error)
	ReleaseLock(ctx context.Context, resourceID string) error
	RenewLock(ctx context.Context, resourceID, holderID string, ttl time.Duration) (bool, error)
}

// Locking backs the guard with the store's lock table so several daemons
// sharing one database honor the same guard.
type Locking struct {
	store    LockStore
	holderID string
	ttl      time.Duration

	// errLocked identifies the store's "already locked" condition.
	errLocked error
}

var (
	_ Guard   = (*Locking)(nil)
	_ Renewer = (*Locking)(nil)
)

// NewLocking creates a storage-backed guard. errLocked is the sentinel the
// store returns when a live lock exists.
func NewLocking(s LockStore, holderID string, ttl time.Duration, errLocked error) *Locking {
	return &Locking{store: s, holderID: holderID, ttl: ttl, errLocked: errLocked}
}

func resourceKey(id string) string {
	return "campaign:" + id
}

// TryAcquire inserts a generation lock for id.
func (l *Locking) TryAcquire(ctx context.Context, id string) (bool, error) {
	_, err := l.store.AcquireLock(ctx, resourceKey(id), l.holderID, "generation", l.ttl)
	if err == nil {
		return true, nil
	}
	if l.errLocked != nil && errors.Is(err, l.errLocked) {
		return false, nil
	}
	return false, fmt.Errorf("acquire generation lock: %w", err)
}

// Release deletes the generation lock for id.
func (l *Locking) Release(ctx context.Context, id string) error {
	return l.store.ReleaseLock(ctx, resourceKey(id))
}

// IsActive reports whether a live lock exists. Lookup errors read as inactive.
func (l *Locking) IsActive(ctx context.Context, id string) bool {
	lock, err := l.store.GetLock(ctx, resourceKey(id))
	return err == nil && lock != nil
}

// Renew extends this holder's lock on id by the guard's TTL.
func (l *Locking) Renew(ctx context.Context, id string) (bool, error) {
	held, err := l.store.RenewLock(ctx, resourceKey(id), l.holderID, l.ttl)
	if err != nil {
		return false, fmt.Errorf("renew generation lock: %w", err)
	}
	return held, nil
}
