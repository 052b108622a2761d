package chain

import (
	"context"
	"crypto/ecdsa"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/centrifuge/go-substrate-rpc-client/v4/scale"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"golang.org/x/crypto/blake2b"
)

// =============================================================================
// Injected transactions
// =============================================================================

// MethodSendInjected submits a signed injected transaction to the validator set.
const MethodSendInjected = "injected_sendTransaction"

// Validator acceptance results.
const (
	Accept = "Accept"
	Reject = "Reject"
)

// ErrValidatorRejected is returned when the validator answers Reject.
var ErrValidatorRejected = errors.New("transaction rejected by validator")

// InjectedTx is a message sent to a program through the validator set.
type InjectedTx struct {
	Destination common.Address `json:"destination"`
	Payload     hexutil.Bytes  `json:"payload"`
	Value       uint64         `json:"value"`
	Salt        common.Hash    `json:"salt"`
}

// NewInjectedTx builds a transaction with a random salt.
func NewInjectedTx(destination common.Address, payload []byte) (InjectedTx, error) {
	var salt common.Hash
	if _, err := rand.Read(salt[:]); err != nil {
		return InjectedTx{}, fmt.Errorf("generate salt: %w", err)
	}
	return InjectedTx{Destination: destination, Payload: payload, Salt: salt}, nil
}

// Hash is keccak256(destination ‖ payload ‖ value as u128 LE ‖ salt).
func (tx InjectedTx) Hash() common.Hash {
	value := encode(func(e *scale.Encoder) error {
		if err := e.Encode(tx.Value); err != nil {
			return err
		}
		return e.Write(make([]byte, 8))
	})
	return crypto.Keccak256Hash(tx.Destination.Bytes(), tx.Payload, value, tx.Salt.Bytes())
}

// SignedInjectedTx is an InjectedTx with the sender's recoverable signature.
type SignedInjectedTx struct {
	Tx        InjectedTx     `json:"data"`
	Sender    common.Address `json:"sender"`
	Signature hexutil.Bytes  `json:"signature"`
}

// WalletSigner signs injected transactions with a secp256k1 key.
type WalletSigner struct {
	key     *ecdsa.PrivateKey
	address common.Address
}

// NewWalletSigner parses a hex private key, with or without 0x.
func NewWalletSigner(privateKeyHex string) (*WalletSigner, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(privateKeyHex), "0x"))
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	return &WalletSigner{key: key, address: crypto.PubkeyToAddress(key.PublicKey)}, nil
}

// Address returns the signer address.
func (w *WalletSigner) Address() common.Address { return w.address }

// Sign signs tx.Hash().
func (w *WalletSigner) Sign(tx InjectedTx) (SignedInjectedTx, error) {
	hash := tx.Hash()
	sig, err := crypto.Sign(hash.Bytes(), w.key)
	if err != nil {
		return SignedInjectedTx{}, fmt.Errorf("sign transaction: %w", err)
	}
	return SignedInjectedTx{Tx: tx, Sender: w.address, Signature: sig}, nil
}

// SendInjected submits a signed transaction and returns its hash once a
// validator has accepted it. Accept means the transaction is guaranteed to be
// included; a Reject answer is returned as ErrValidatorRejected.
func (c *Client) SendInjected(ctx context.Context, signed SignedInjectedTx) (common.Hash, error) {
	result, err := c.Call(ctx, MethodSendInjected, []any{signed})
	if err != nil {
		return common.Hash{}, err
	}

	var answer string
	if err := json.Unmarshal(result, &answer); err != nil {
		return common.Hash{}, fmt.Errorf("unmarshal acceptance: %w", err)
	}

	switch answer {
	case Accept:
		hash := signed.Tx.Hash()
		c.logger.Debug().Str("tx", hash.Hex()).Str("destination", signed.Tx.Destination.Hex()).Msg("injected transaction accepted")
		return hash, nil
	case Reject:
		return common.Hash{}, ErrValidatorRejected
	default:
		return common.Hash{}, fmt.Errorf("unexpected acceptance %q", answer)
	}
}

// =============================================================================
// Passkey proxy
// =============================================================================

// Verifier service routes.
const (
	ServiceVerifier         = "Verifier"
	MethodSubmitTransaction = "SubmitTransaction"
)

// SignRequest is the message a passkey signs to authorize a proxied call.
type SignRequest struct {
	Payload     []byte
	Nonce       uint64
	Destination common.Address
}

// Encode returns compact-length payload ‖ u64 LE nonce ‖ 32-byte destination.
func (r SignRequest) Encode() []byte {
	return encode(func(e *scale.Encoder) error {
		if err := e.Encode(r.Payload); err != nil {
			return err
		}
		if err := e.Encode(r.Nonce); err != nil {
			return err
		}
		return e.Write(ActorID(r.Destination.Bytes()))
	})
}

// Hash returns blake2b-256 of the encoded request.
func (r SignRequest) Hash() common.Hash {
	return common.Hash(blake2b.Sum256(r.Encode()))
}

// ProxyCall wraps a signed request for the verifier program.
type ProxyCall struct {
	Request           SignRequest
	Provider          []byte
	Signature         []byte
	AuthenticatorData []byte
	CredentialID      []byte
}

// Encode returns the Verifier.SubmitTransaction message.
func (p ProxyCall) Encode() []byte {
	return encode(func(e *scale.Encoder) error {
		for _, raw := range [][]byte{
			Route(ServiceVerifier, MethodSubmitTransaction),
			p.Request.Encode(),
			ActorID(p.Provider),
		} {
			if err := e.Write(raw); err != nil {
				return err
			}
		}
		for _, field := range [][]byte{p.Signature, p.AuthenticatorData, p.CredentialID} {
			if err := e.Encode(field); err != nil {
				return err
			}
		}
		return nil
	})
}
