// Package join drives a membership join from signing to on-chain
// finalization. It reconciles the local pending-join record, the membership
// store and the chain's StateChanged events, and scopes every side effect to
// the address that started it.
package join

// TxStatus is the join transaction status.
type TxStatus string

// Join statuses. Success and error are terminal for one attempt.
const (
	StatusIdle       TxStatus = "idle"
	StatusSigning    TxStatus = "signing"
	StatusConfirming TxStatus = "confirming"
	StatusSuccess    TxStatus = "success"
	StatusError      TxStatus = "error"
)

// State is the observable join state of the active address.
type State struct {
	Address            string   `json:"address"`
	IsJoined           bool     `json:"isJoined"`
	Finalized          bool     `json:"finalized"`
	Loading            bool     `json:"loading"`
	TxHash             string   `json:"txHash,omitempty"`
	TxStatus           TxStatus `json:"txStatus"`
	Error              string   `json:"error,omitempty"`
	CheckingMembership bool     `json:"checkingMembership"`
}

func idleState(address string) State {
	return State{Address: address, TxStatus: StatusIdle}
}

func confirmingState(address string) State {
	return State{Address: address, IsJoined: true, Loading: true, TxStatus: StatusConfirming}
}
