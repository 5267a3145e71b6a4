package engine

import "sync"

// LockManager is a thread-safe map of product_id → mutex. Every ledger
// mutation for a product runs while holding that product's mutex, so
// unrelated products never contend.
type LockManager struct {
	mu    sync.RWMutex
	locks map[string]*sync.Mutex
}

// NewLockManager creates an empty LockManager.
func NewLockManager() *LockManager {
	return &LockManager{locks: make(map[string]*sync.Mutex)}
}

// GetOrCreate returns the mutex for productID, creating it on first use.
func (lm *LockManager) GetOrCreate(productID string) *sync.Mutex {
	lm.mu.RLock()
	l, ok := lm.locks[productID]
	lm.mu.RUnlock()
	if ok {
		return l
	}

	lm.mu.Lock()
	defer lm.mu.Unlock()
	// Double-check after acquiring write lock.
	if l, ok = lm.locks[productID]; ok {
		return l
	}
	l = &sync.Mutex{}
	lm.locks[productID] = l
	return l
}

// Len returns the number of products that have a mutex.
func (lm *LockManager) Len() int {
	lm.mu.RLock()
	defer lm.mu.RUnlock()
	return len(lm.locks)
}
