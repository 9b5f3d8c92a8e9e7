package auditlog

import (
	"context"
	"sort"
	"sync"
)

// MemorySink keeps chains in memory. Used in tests and as the default
// when no durable driver is configured.
type MemorySink struct {
	mu     sync.RWMutex
	chains map[string][]Entry
}

// NewMemorySink creates an empty sink.
func NewMemorySink() *MemorySink {
	return &MemorySink{chains: make(map[string][]Entry)}
}

func (s *MemorySink) Append(_ context.Context, rec Record) (Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	chain := s.chains[rec.TenantID]
	headSeq, headHash := uint64(0), GenesisHash
	if n := len(chain); n > 0 {
		headSeq, headHash = chain[n-1].Sequence, chain[n-1].Hash
	}
	e, err := Chain(rec, headSeq, headHash)
	if err != nil {
		return Entry{}, err
	}
	s.chains[rec.TenantID] = append(chain, e)
	return e, nil
}

func (s *MemorySink) Range(_ context.Context, tenant string, from, to uint64) ([]Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	chain := s.chains[tenant]
	if from == 0 {
		from = 1
	}
	var out []Entry
	for _, e := range chain {
		if e.Sequence < from {
			continue
		}
		if to != 0 && e.Sequence > to {
			break
		}
		out = append(out, e)
	}
	return out, nil
}

func (s *MemorySink) VerifyRange(ctx context.Context, tenant string, from, to uint64) (Report, error) {
	return VerifyChain(ctx, s, tenant, from, to)
}

func (s *MemorySink) Tenants(context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.chains))
	for t := range s.chains {
		out = append(out, t)
	}
	sort.Strings(out)
	return out, nil
}

func (s *MemorySink) Close() error { return nil }

// Tamper replaces the stored entry at seq. Tests use it to simulate
// corruption.
func (s *MemorySink) Tamper(tenant string, seq uint64, fn func(e *Entry)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	chain := s.chains[tenant]
	for i := range chain {
		if chain[i].Sequence == seq {
			fn(&chain[i])
			return
		}
	}
}
