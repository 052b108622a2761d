package join

import (
	"errors"
	"strings"

	"github.com/gear-foundation/one-of-us/internal/chain"
	"github.com/gear-foundation/one-of-us/internal/passkey"
)

// User-facing messages.
const (
	MsgConnectWallet     = "Please connect wallet first"
	MsgAPINotReady       = "API not ready yet, please wait..."
	MsgProgramLoading    = "Loading program interface..."
	MsgCancelled         = "Transaction cancelled by user"
	MsgAlreadyMember     = "You are already a member!"
	MsgInsufficientFunds = "Insufficient funds for transaction"
	MsgValidatorRejected = "Transaction rejected by validator"
	MsgPopupBlocked      = "Popup was blocked. Please allow popups and try again."
	MsgGeneric           = "Something went wrong. Please try again."
)

// Precondition errors. Their text is shown to the user as is.
var (
	ErrNoAddress      = errors.New(MsgConnectWallet)
	ErrAPINotReady    = errors.New(MsgAPINotReady)
	ErrProgramLoading = errors.New(MsgProgramLoading)
	ErrJoinInProgress = errors.New("a join is already in progress")
	ErrClosed         = errors.New("join machine closed")
)

// userCodeRejected is the EIP-1193 code for a request the user rejected.
const userCodeRejected = 4001

// Classify maps a join failure to a user-facing message. alreadyMember
// reports that the chain says the address has joined before.
func Classify(err error) (msg string, alreadyMember bool) {
	if err == nil {
		return "", false
	}

	if errors.Is(err, chain.ErrValidatorRejected) {
		return MsgValidatorRejected, false
	}
	if errors.Is(err, passkey.ErrPopupBlocked) {
		return MsgPopupBlocked, false
	}
	if errors.Is(err, passkey.ErrPopupClosed) {
		return MsgCancelled, false
	}

	var rpcErr *chain.RPCError
	if errors.As(err, &rpcErr) && rpcErr.Code == userCodeRejected {
		return MsgCancelled, false
	}

	text := err.Error()
	switch {
	case strings.Contains(text, "rejected"), strings.Contains(text, "denied"):
		return MsgCancelled, false
	case strings.Contains(text, "already"):
		return MsgAlreadyMember, true
	case strings.Contains(text, "insufficient"):
		return MsgInsufficientFunds, false
	default:
		return MsgGeneric, false
	}
}
