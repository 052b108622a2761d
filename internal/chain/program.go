package chain

import (
	"bytes"
	"context"
	"fmt"

	"github.com/centrifuge/go-substrate-rpc-client/v4/scale"
	"github.com/ethereum/go-ethereum/common"
)

// =============================================================================
// Program addresses (configurable)
// =============================================================================

// ParseProgramAddress validates a 0x-prefixed 20-byte program address.
func ParseProgramAddress(s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, fmt.Errorf("invalid program address %q", s)
	}
	return common.HexToAddress(s), nil
}

// =============================================================================
// OneOfUs service
// =============================================================================

// Service and method names of the registry program.
const (
	ServiceOneOfUs  = "OneOfUs"
	MethodJoinUs    = "JoinUs"
	MethodCount     = "Count"
	MethodIsOneOfUs = "IsOneOfUs"
)

// CountRoute is the encoded OneOfUs.Count query: 0x1c4f6e654f66557314436f756e74.
var CountRoute = Route(ServiceOneOfUs, MethodCount)

// IsOneOfUsRoute prefixes the OneOfUs.IsOneOfUs query and its reply.
var IsOneOfUsRoute = Route(ServiceOneOfUs, MethodIsOneOfUs)

// Registry describes the member registry program interface.
type Registry struct {
	address common.Address
}

// NewRegistry binds the registry interface to a program address.
func NewRegistry(address common.Address) *Registry {
	return &Registry{address: address}
}

// Address returns the program address.
func (r *Registry) Address() common.Address { return r.address }

// JoinPayload encodes OneOfUs.JoinUs().
func (r *Registry) JoinPayload() ([]byte, error) {
	return Route(ServiceOneOfUs, MethodJoinUs), nil
}

// CountPayload encodes OneOfUs.Count().
func (r *Registry) CountPayload() []byte {
	out := make([]byte, len(CountRoute))
	copy(out, CountRoute)
	return out
}

// IsOneOfUsPayload encodes OneOfUs.IsOneOfUs(account) with the 32-byte
// actor id of account.
func (r *Registry) IsOneOfUsPayload(account []byte) []byte {
	out := append([]byte{}, IsOneOfUsRoute...)
	return append(out, ActorID(account)...)
}

// IsOneOfUs asks the registry whether account has joined. The answer
// reflects executed state, so it lags a just-accepted join.
func (r *Registry) IsOneOfUs(ctx context.Context, client *Client, account []byte) (bool, error) {
	reply, err := client.CalculateReply(ctx, r.address, r.IsOneOfUsPayload(account))
	if err != nil {
		return false, fmt.Errorf("query membership: %w", err)
	}
	body, err := StripRoute(reply, IsOneOfUsRoute)
	if err != nil {
		return false, fmt.Errorf("query membership: %w", err)
	}
	var member bool
	if err := scale.NewDecoder(bytes.NewReader(body)).Decode(&member); err != nil {
		return false, fmt.Errorf("query membership: %w: %v", ErrShortPayload, err)
	}
	return member, nil
}

// ActorID left-pads an address to the 32-byte actor id form.
func ActorID(b []byte) []byte {
	return common.LeftPadBytes(b, 32)
}
