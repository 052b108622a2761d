package membershipsvc

import (
	"context"
	"sort"
	"sync"

	"github.com/gear-foundation/one-of-us/internal/clock"
	"github.com/gear-foundation/one-of-us/internal/membership"
)

// MemoryStore is an in-process Store used when no database is configured.
type MemoryStore struct {
	clock clock.Clock

	mu      sync.RWMutex
	nextID  int64
	members map[string]*membership.Member
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty MemoryStore. A nil clock uses wall time.
func NewMemoryStore(c clock.Clock) *MemoryStore {
	if c == nil {
		c = clock.Real()
	}
	return &MemoryStore{clock: c, members: make(map[string]*membership.Member)}
}

func (s *MemoryStore) AddMember(_ context.Context, address, txHash string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.members[address]; ok {
		return false, nil
	}
	s.nextID++
	m := &membership.Member{ID: s.nextID, Address: address, JoinedAt: s.clock.Now().UTC()}
	if txHash != "" {
		m.TxHash = &txHash
	}
	s.members[address] = m
	return true, nil
}

func (s *MemoryStore) IsMember(_ context.Context, address string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.members[address]
	return ok, nil
}

func (s *MemoryStore) GetMember(_ context.Context, address string) (*membership.Member, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.members[address]
	if !ok {
		return nil, membership.ErrNotFound
	}
	return copyMember(m), nil
}

func (s *MemoryStore) UpdateTxHash(_ context.Context, address, txHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.members[address]
	if !ok {
		return membership.ErrNotFound
	}
	m.TxHash = &txHash
	return nil
}

func (s *MemoryStore) Count(context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.members), nil
}

func (s *MemoryStore) ListMembers(_ context.Context, page, pageSize int) ([]membership.Member, error) {
	s.mu.RLock()
	all := make([]membership.Member, 0, len(s.members))
	for _, m := range s.members {
		all = append(all, *copyMember(m))
	}
	s.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool {
		if all[i].JoinedAt.Equal(all[j].JoinedAt) {
			return all[i].ID > all[j].ID
		}
		return all[i].JoinedAt.After(all[j].JoinedAt)
	})

	offset := page * pageSize
	if offset >= len(all) {
		return []membership.Member{}, nil
	}
	end := offset + pageSize
	if end > len(all) {
		end = len(all)
	}
	return all[offset:end], nil
}

func (s *MemoryStore) Ping(context.Context) error { return nil }

func copyMember(m *membership.Member) *membership.Member {
	cp := *m
	if m.TxHash != nil {
		h := *m.TxHash
		cp.TxHash = &h
	}
	return &cp
}
