// Package membershipsvc implements the membership store service: the
// registry of addresses that joined, exposed over HTTP.
package membershipsvc

import (
	"context"

	"github.com/gear-foundation/one-of-us/internal/membership"
)

// Store is the persistence surface of the membership service. Addresses are
// passed in normalized (lower-case) form.
type Store interface {
	// AddMember inserts address. Inserting an existing address is a no-op
	// reported as added=false.
	AddMember(ctx context.Context, address, txHash string) (added bool, err error)
	IsMember(ctx context.Context, address string) (bool, error)
	// GetMember returns membership.ErrNotFound for an unknown address.
	GetMember(ctx context.Context, address string) (*membership.Member, error)
	// UpdateTxHash returns membership.ErrNotFound for an unknown address.
	UpdateTxHash(ctx context.Context, address, txHash string) error
	Count(ctx context.Context) (int, error)
	// ListMembers returns members newest first.
	ListMembers(ctx context.Context, page, pageSize int) ([]membership.Member, error)
	Ping(ctx context.Context) error
}
