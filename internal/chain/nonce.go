package chain

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// Nonce service routes.
const (
	ServiceNonces = "Nonces"
	MethodGet     = "Get"
)

// NonceService reads replay-protection nonces for passkey accounts.
type NonceService struct {
	client  *Client
	program common.Address
}

// NewNonceService binds the nonce service to a program address.
func NewNonceService(client *Client, program common.Address) *NonceService {
	return &NonceService{client: client, program: program}
}

// Nonce returns the next nonce for account.
func (s *NonceService) Nonce(ctx context.Context, account []byte) (uint64, error) {
	route := Route(ServiceNonces, MethodGet)
	payload := append(append([]byte{}, route...), ActorID(account)...)

	reply, err := s.client.CalculateReply(ctx, s.program, payload)
	if err != nil {
		return 0, fmt.Errorf("query nonce: %w", err)
	}
	body, err := StripRoute(reply, route)
	if err != nil {
		return 0, fmt.Errorf("query nonce: %w", err)
	}
	return DecodeU64LE(body)
}
