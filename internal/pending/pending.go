// Package pending persists the single in-flight join record that lets a
// restarted client resume its "confirming" state.
package pending

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/gear-foundation/one-of-us/internal/localstore"
)

// StorageKey is the localstore key holding the record.
const StorageKey = "one-of-us-pending-join"

// Expiry is how long a pending join is trusted after it was recorded.
const Expiry = 10 * time.Minute

// Join records a submitted, not yet finalized join.
type Join struct {
	Address           string    `json:"address"`
	Timestamp         time.Time `json:"timestamp"`
	MemberCountAtJoin uint32    `json:"memberCountAtJoin"`
}

// Expired reports whether the record is older than Expiry at now.
func (j Join) Expired(now time.Time) bool {
	return now.Sub(j.Timestamp) > Expiry
}

// BelongsTo reports whether the record was written for address.
func (j Join) BelongsTo(address string) bool {
	return strings.EqualFold(j.Address, address)
}

// Store holds at most one pending join. Save replaces any existing record.
type Store struct {
	storage localstore.Storage
}

// NewStore wraps storage.
func NewStore(storage localstore.Storage) *Store {
	return &Store{storage: storage}
}

// Load returns the stored record without applying expiry or address checks.
// A missing or unreadable record is reported as nil.
func (s *Store) Load() (*Join, error) {
	raw, ok, err := s.storage.Get(StorageKey)
	if err != nil {
		return nil, fmt.Errorf("load pending join: %w", err)
	}
	if !ok || raw == "" {
		return nil, nil
	}

	var j Join
	if err := json.Unmarshal([]byte(raw), &j); err != nil {
		// A garbled record is treated as absent and dropped.
		_ = s.storage.Remove(StorageKey)
		return nil, nil
	}
	return &j, nil
}

// LoadFor returns the record for address if it is still valid at now.
// Records for other addresses and expired records are purged.
func (s *Store) LoadFor(address string, now time.Time) (*Join, error) {
	j, err := s.Load()
	if err != nil || j == nil {
		return nil, err
	}
	if !j.BelongsTo(address) || j.Expired(now) {
		if err := s.Clear(); err != nil {
			return nil, err
		}
		return nil, nil
	}
	return j, nil
}

// Save replaces the stored record.
func (s *Store) Save(j Join) error {
	raw, err := json.Marshal(j)
	if err != nil {
		return fmt.Errorf("encode pending join: %w", err)
	}
	if err := s.storage.Set(StorageKey, string(raw)); err != nil {
		return fmt.Errorf("save pending join: %w", err)
	}
	return nil
}

// Clear removes the stored record.
func (s *Store) Clear() error {
	if err := s.storage.Remove(StorageKey); err != nil {
		return fmt.Errorf("clear pending join: %w", err)
	}
	return nil
}
