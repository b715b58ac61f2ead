package application

import (
	"sync"

	"github.com/q4ZAr/strike-leaderboard/leaderboard-service/internal/domain"
)

// Ledger counts strikes per address for one network. Only that network's
// poller writes to it; readers get copies.
type Ledger struct {
	mu     sync.RWMutex
	counts map[domain.Address]uint64
	total  uint64
}

func NewLedger() *Ledger {
	return &Ledger{counts: make(map[domain.Address]uint64)}
}

func (l *Ledger) Increment(addr domain.Address) uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.counts[addr]++
	l.total++
	return l.counts[addr]
}

func (l *Ledger) Count(addr domain.Address) uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.counts[addr]
}

func (l *Ledger) Snapshot() map[domain.Address]uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make(map[domain.Address]uint64, len(l.counts))
	for a, c := range l.counts {
		out[a] = c
	}
	return out
}

func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.counts)
}

func (l *Ledger) Total() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.total
}
