// Package passkey implements the popup flow used to authenticate and sign
// with a passkey held by an external auth provider. The provider redirects
// to a callback page, which relays the result to the waiting flow over a
// message Bus.
package passkey

import (
	"errors"
	"net/url"
)

// Channels shared with the callback page.
const (
	ChannelSign = "passkey_sign"
	ChannelAuth = "passkey_auth"
)

// Message types.
const (
	TypeResult = "passkey_result"
	TypeError  = "passkey_error"
)

// Flow errors.
var (
	ErrPopupBlocked = errors.New("popup was blocked")
	ErrPopupClosed  = errors.New("popup was closed")
	ErrPopupTimeout = errors.New("passkey popup timeout")
	ErrBusClosed    = errors.New("message bus closed")
)

// SignedResult is what the provider returns on success. For signing flows
// ID echoes the hash that was signed; for auth flows it is the account id.
type SignedResult struct {
	ID                string `json:"id"`
	Signature         string `json:"signature"`
	AuthenticatorData string `json:"authenticator_data"`
	CredentialID      string `json:"credential_id"`
}

// Message is one callback result relayed on a channel. ID is the key the
// waiting flow matches on: the hash to sign, or the auth request id.
type Message struct {
	Type    string        `json:"type"`
	ID      string        `json:"id"`
	Payload *SignedResult `json:"payload,omitempty"`
	Error   string        `json:"error,omitempty"`
}

// ProviderError is an error reported by the auth provider.
type ProviderError struct {
	Message string
}

func (e *ProviderError) Error() string {
	if e.Message == "" {
		return "passkey error"
	}
	return e.Message
}

// CallbackParams are the query parameters of the callback page.
type CallbackParams struct {
	SignedResult
	RID   string
	Error string
}

// ParseCallback reads callback params from a query. ok is false when any of
// the result fields is missing; Error and RID are still populated.
func ParseCallback(q url.Values) (p CallbackParams, ok bool) {
	p = CallbackParams{
		SignedResult: SignedResult{
			ID:                q.Get("id"),
			Signature:         q.Get("signature"),
			AuthenticatorData: q.Get("authenticator_data"),
			CredentialID:      q.Get("credential_id"),
		},
		RID:   q.Get("rid"),
		Error: q.Get("error"),
	}
	ok = p.ID != "" && p.Signature != "" && p.AuthenticatorData != "" && p.CredentialID != ""
	return p, ok
}
