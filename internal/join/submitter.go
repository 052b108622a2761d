package join

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/rs/zerolog"

	"github.com/gear-foundation/one-of-us/internal/chain"
	"github.com/gear-foundation/one-of-us/internal/passkey"
)

// Submitter signs a program message and submits it. It returns once a
// validator has accepted the transaction.
type Submitter interface {
	// Ready reports a missing signing precondition.
	Ready() error
	Submit(ctx context.Context, destination common.Address, payload []byte) (common.Hash, error)
}

// Sender submits signed injected transactions. *chain.Client implements it.
type Sender interface {
	SendInjected(ctx context.Context, signed chain.SignedInjectedTx) (common.Hash, error)
}

// =============================================================================
// Direct wallet
// =============================================================================

// DirectSubmitter signs with a local wallet key and sends to the program.
type DirectSubmitter struct {
	sender Sender
	signer *chain.WalletSigner
}

// NewDirectSubmitter creates a DirectSubmitter.
func NewDirectSubmitter(sender Sender, signer *chain.WalletSigner) *DirectSubmitter {
	return &DirectSubmitter{sender: sender, signer: signer}
}

// Ready implements Submitter.
func (s *DirectSubmitter) Ready() error {
	if s.signer == nil {
		return ErrNoAddress
	}
	if s.sender == nil {
		return ErrAPINotReady
	}
	return nil
}

// Submit implements Submitter.
func (s *DirectSubmitter) Submit(ctx context.Context, destination common.Address, payload []byte) (common.Hash, error) {
	tx, err := chain.NewInjectedTx(destination, payload)
	if err != nil {
		return common.Hash{}, err
	}
	signed, err := s.signer.Sign(tx)
	if err != nil {
		return common.Hash{}, err
	}
	return s.sender.SendInjected(ctx, signed)
}

// =============================================================================
// Passkey via verifier proxy
// =============================================================================

// MsgAuthNotReady is shown when no passkey account has been authenticated.
const MsgAuthNotReady = "Loading auth program interface..."

// ErrAuthNotReady reports a missing passkey account program.
var ErrAuthNotReady = errors.New(MsgAuthNotReady)

// NonceSource returns the replay-protection nonce of a passkey account.
type NonceSource interface {
	Nonce(ctx context.Context, account []byte) (uint64, error)
}

// HashSigner obtains a passkey signature over a hash.
type HashSigner interface {
	WaitForSignature(ctx context.Context, hashToSign string) (passkey.SignedResult, error)
}

// AccountSource returns the authenticated passkey account program id.
type AccountSource interface {
	Get() (string, error)
}

// PasskeySubmitter authorizes the message with a passkey signature and sends
// it wrapped in a Verifier.SubmitTransaction call. The relayer key only pays
// for and carries the outer transaction.
type PasskeySubmitter struct {
	sender   Sender
	relayer  *chain.WalletSigner
	nonces   NonceSource
	signer   HashSigner
	accounts AccountSource
	verifier common.Address
	logger   zerolog.Logger
}

// PasskeySubmitterConfig configures a PasskeySubmitter.
type PasskeySubmitterConfig struct {
	Sender   Sender
	Relayer  *chain.WalletSigner
	Nonces   NonceSource
	Signer   HashSigner
	Accounts AccountSource
	Verifier common.Address
	Logger   zerolog.Logger
}

// NewPasskeySubmitter creates a PasskeySubmitter.
func NewPasskeySubmitter(cfg PasskeySubmitterConfig) *PasskeySubmitter {
	return &PasskeySubmitter{
		sender:   cfg.Sender,
		relayer:  cfg.Relayer,
		nonces:   cfg.Nonces,
		signer:   cfg.Signer,
		accounts: cfg.Accounts,
		verifier: cfg.Verifier,
		logger:   cfg.Logger.With().Str("component", "passkey_submitter").Logger(),
	}
}

// Ready implements Submitter.
func (s *PasskeySubmitter) Ready() error {
	if s.sender == nil || s.relayer == nil || s.nonces == nil {
		return ErrAPINotReady
	}
	if s.signer == nil || s.accounts == nil {
		return ErrAuthNotReady
	}
	if id, err := s.accounts.Get(); err != nil || id == "" {
		return ErrAuthNotReady
	}
	return nil
}

// Submit implements Submitter.
func (s *PasskeySubmitter) Submit(ctx context.Context, destination common.Address, payload []byte) (common.Hash, error) {
	accountHex, err := s.accounts.Get()
	if err != nil || accountHex == "" {
		return common.Hash{}, ErrAuthNotReady
	}
	account, err := chain.DecodeHex(accountHex)
	if err != nil {
		return common.Hash{}, fmt.Errorf("passkey account: %w", err)
	}

	nonce, err := s.nonces.Nonce(ctx, account)
	if err != nil {
		return common.Hash{}, err
	}

	req := chain.SignRequest{Payload: payload, Nonce: nonce, Destination: destination}
	hash := req.Hash()
	s.logger.Debug().Uint64("nonce", nonce).Str("hash", hash.Hex()).Msg("requesting passkey signature")

	res, err := s.signer.WaitForSignature(ctx, hash.Hex())
	if err != nil {
		return common.Hash{}, err
	}

	call, err := proxyCall(req, account, res)
	if err != nil {
		return common.Hash{}, err
	}

	tx, err := chain.NewInjectedTx(s.verifier, call.Encode())
	if err != nil {
		return common.Hash{}, err
	}
	signed, err := s.relayer.Sign(tx)
	if err != nil {
		return common.Hash{}, err
	}
	return s.sender.SendInjected(ctx, signed)
}

func proxyCall(req chain.SignRequest, provider []byte, res passkey.SignedResult) (chain.ProxyCall, error) {
	sig, err := chain.DecodeHex(res.Signature)
	if err != nil {
		return chain.ProxyCall{}, fmt.Errorf("passkey signature: %w", err)
	}
	authData, err := chain.DecodeHex(res.AuthenticatorData)
	if err != nil {
		return chain.ProxyCall{}, fmt.Errorf("authenticator data: %w", err)
	}
	credID, err := chain.DecodeHex(res.CredentialID)
	if err != nil {
		return chain.ProxyCall{}, fmt.Errorf("credential id: %w", err)
	}
	return chain.ProxyCall{
		Request:           req,
		Provider:          provider,
		Signature:         sig,
		AuthenticatorData: authData,
		CredentialID:      credID,
	}, nil
}
