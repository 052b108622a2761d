package join

import (
	"time"

	"github.com/gear-foundation/one-of-us/internal/membership"
	"github.com/gear-foundation/one-of-us/internal/pending"
)

// Decision is the outcome of Reconcile: the state to show and the side
// effects the caller must perform.
type Decision struct {
	State State
	// ClearPending removes the stored pending join.
	ClearPending bool
	// RestoreCount seeds the member count cache from the pending join.
	RestoreCount bool
	// Reregister repeats the store registration of the address.
	Reregister bool
	// Watch resumes the finalization watch.
	Watch bool
}

// Reconcile decides the join state of address from the local pending join
// and the store's answer. remote is ignored when remoteErr is set. A pending
// join that belongs to another address or has expired is discarded.
func Reconcile(local *pending.Join, remote membership.Info, remoteErr error, address string, now time.Time) Decision {
	var d Decision

	if local != nil && (!local.BelongsTo(address) || local.Expired(now)) {
		d.ClearPending = true
		local = nil
	}

	switch {
	case remoteErr != nil && local != nil:
		// Store unreachable or racing: trust the unexpired local record.
		d.State = confirmingState(address)
		d.RestoreCount = true
		d.Watch = true

	case remoteErr != nil:
		d.State = idleState(address)

	case remote.IsMember && remote.TxHash() != "":
		d.State = State{
			Address:   address,
			IsJoined:  true,
			Finalized: true,
			TxHash:    remote.TxHash(),
			TxStatus:  StatusSuccess,
		}
		if local != nil {
			d.ClearPending = true
		}

	case remote.IsMember:
		// Registered but finalization not observed yet.
		d.State = confirmingState(address)
		d.RestoreCount = local != nil
		d.Watch = true

	case local != nil:
		// The registration write raced or failed after the chain accepted
		// the join.
		d.State = confirmingState(address)
		d.RestoreCount = true
		d.Reregister = true
		d.Watch = true

	default:
		d.State = idleState(address)
	}

	return d
}
