package join

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/gear-foundation/one-of-us/internal/membership"
	"github.com/gear-foundation/one-of-us/internal/pending"
)

func TestReconcile(t *testing.T) {
	hash := deadHash.Hex()
	fresh := &pending.Join{Address: alice, Timestamp: epoch.Add(-time.Minute), MemberCountAtJoin: 45}
	stale := &pending.Join{Address: alice, Timestamp: epoch.Add(-pending.Expiry - time.Second), MemberCountAtJoin: 45}
	foreign := &pending.Join{Address: bob, Timestamp: epoch, MemberCountAtJoin: 45}
	unreachable := errors.New("connection refused")

	member := func(txHash string) membership.Info {
		m := &membership.Member{Address: alice, JoinedAt: epoch}
		if txHash != "" {
			m.TxHash = &txHash
		}
		return membership.Info{IsMember: true, Member: m}
	}

	tests := []struct {
		name   string
		local  *pending.Join
		remote membership.Info
		err    error
		want   Decision
	}{
		{
			name: "nothing anywhere",
			want: Decision{State: idleState(alice)},
		},
		{
			name:  "store down with pending join",
			local: fresh,
			err:   unreachable,
			want:  Decision{State: confirmingState(alice), RestoreCount: true, Watch: true},
		},
		{
			name: "store down without pending join",
			err:  unreachable,
			want: Decision{State: idleState(alice)},
		},
		{
			name:   "finalized member",
			remote: member(hash),
			want: Decision{State: State{
				Address: alice, IsJoined: true, Finalized: true, TxHash: hash, TxStatus: StatusSuccess,
			}},
		},
		{
			name:   "finalized member clears pending join",
			local:  fresh,
			remote: member(hash),
			want: Decision{
				State:        State{Address: alice, IsJoined: true, Finalized: true, TxHash: hash, TxStatus: StatusSuccess},
				ClearPending: true,
			},
		},
		{
			name:   "registered member awaiting finalization",
			remote: member(""),
			want:   Decision{State: confirmingState(alice), Watch: true},
		},
		{
			name:   "registered member with pending join restores count",
			local:  fresh,
			remote: member(""),
			want:   Decision{State: confirmingState(alice), RestoreCount: true, Watch: true},
		},
		{
			name:   "unregistered with pending join re-registers",
			local:  fresh,
			remote: membership.Info{IsMember: false},
			want: Decision{
				State: confirmingState(alice), RestoreCount: true, Reregister: true, Watch: true,
			},
		},
		{
			name:   "expired pending join is purged",
			local:  stale,
			remote: membership.Info{IsMember: false},
			want:   Decision{State: idleState(alice), ClearPending: true},
		},
		{
			name:  "pending join of another address is purged",
			local: foreign,
			err:   unreachable,
			want:  Decision{State: idleState(alice), ClearPending: true},
		},
		{
			name:   "remote ignored when error is set",
			local:  nil,
			remote: member(hash),
			err:    unreachable,
			want:   Decision{State: idleState(alice)},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Reconcile(tt.local, tt.remote, tt.err, alice, epoch)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestReconcile_ExpiryBoundary(t *testing.T) {
	j := &pending.Join{Address: alice, Timestamp: epoch}

	d := Reconcile(j, membership.Info{}, errors.New("down"), alice, epoch.Add(pending.Expiry))
	assert.Equal(t, StatusConfirming, d.State.TxStatus, "exactly at expiry the record still counts")

	d = Reconcile(j, membership.Info{}, errors.New("down"), alice, epoch.Add(pending.Expiry+time.Millisecond))
	assert.Equal(t, StatusIdle, d.State.TxStatus)
	assert.True(t, d.ClearPending)
}

func TestReconcile_AddressCaseInsensitive(t *testing.T) {
	j := &pending.Join{Address: "0xABC0000000000000000000000000000000000001", Timestamp: epoch}

	d := Reconcile(j, membership.Info{}, errors.New("down"), alice, epoch)
	assert.False(t, d.ClearPending)
	assert.Equal(t, StatusConfirming, d.State.TxStatus)
}
