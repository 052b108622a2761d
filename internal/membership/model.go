// Package membership holds the member record shared by the membership
// service and its clients, plus the HTTP client for the membership API.
package membership

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
)

// ErrNotFound is returned when no member exists for an address.
var ErrNotFound = errors.New("member not found")

// Member is a registered address. TxHash stays nil until on-chain
// finalization of the join has been observed.
type Member struct {
	ID       int64     `json:"id" db:"id"`
	Address  string    `json:"address" db:"address"`
	TxHash   *string   `json:"tx_hash" db:"tx_hash"`
	JoinedAt time.Time `json:"joined_at" db:"joined_at"`
}

// Finalized reports whether a transaction hash has been attached.
func (m Member) Finalized() bool {
	return m.TxHash != nil && *m.TxHash != ""
}

// Info is the membership check result for one address.
type Info struct {
	IsMember bool    `json:"isMember"`
	Member   *Member `json:"member,omitempty"`
}

// TxHash returns the finalization hash or "".
func (i Info) TxHash() string {
	if i.Member == nil || i.Member.TxHash == nil {
		return ""
	}
	return *i.Member.TxHash
}

// RegisterResult is returned by a registration attempt.
type RegisterResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Count   int    `json:"count"`
}

// NormalizeAddress lower-cases a 0x-prefixed hex account address. Both
// 20-byte Ethereum addresses and 32-byte actor ids are accepted.
func NormalizeAddress(address string) (string, error) {
	addr := strings.ToLower(strings.TrimSpace(address))
	if addr == "" {
		return "", fmt.Errorf("address is required")
	}
	raw, err := hexutil.Decode(addr)
	if err != nil {
		return "", fmt.Errorf("invalid address %q: %w", address, err)
	}
	if len(raw) != 20 && len(raw) != 32 {
		return "", fmt.Errorf("invalid address %q: expected 20 or 32 bytes, got %d", address, len(raw))
	}
	return addr, nil
}

// Page is one page of the member listing, newest first.
type Page struct {
	Members  []Member `json:"members"`
	Page     int      `json:"page"`
	PageSize int      `json:"pageSize"`
	Total    int      `json:"total"`
	HasMore  bool     `json:"hasMore"`
}

// Paging limits of the member listing.
const (
	DefaultPageSize = 100
	MaxPageSize     = 500
)
