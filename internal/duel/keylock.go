package duel

import "sync"

// keyLock serializes operations per duel id. Different duels proceed
// fully independently; one duel is a single-writer state machine.
// Entries are kept for the process lifetime; the population is bounded
// by the number of duels ever touched by this process.
type keyLock struct {
	mu    sync.Mutex
	locks map[int64]*sync.Mutex
}

func newKeyLock() *keyLock {
	return &keyLock{locks: make(map[int64]*sync.Mutex)}
}

func (k *keyLock) lock(id int64) func() {
	k.mu.Lock()
	m, ok := k.locks[id]
	if !ok {
		m = &sync.Mutex{}
		k.locks[id] = m
	}
	k.mu.Unlock()

	m.Lock()
	return m.Unlock
}
