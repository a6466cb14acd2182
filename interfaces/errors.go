package interfaces

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// Error taxonomy surfaced to callers. Every failure of the client resolves to
// one of these (possibly wrapped), so callers can branch with errors.Is.
var (
	// ErrWalletNotFound is returned when no wallet provider is present.
	ErrWalletNotFound = errors.New("wallet provider not found")

	// ErrProviderUnavailable is returned when the provider exists but cannot be reached.
	ErrProviderUnavailable = errors.New("wallet provider unavailable")

	// ErrProviderRejected is returned when the user declined a wallet prompt.
	ErrProviderRejected = errors.New("request rejected by user")

	// ErrProviderError is an unclassified transport failure.
	ErrProviderError = errors.New("provider error")

	// ErrNetworkMismatch is returned when the wallet is on a different chain than required.
	ErrNetworkMismatch = errors.New("wallet is connected to the wrong network")

	// ErrNetworkSwitchRejected is returned when the user declined a network switch prompt.
	ErrNetworkSwitchRejected = errors.New("network switch rejected by user")

	// ErrNotConnected is returned when an operation requires a connected session.
	ErrNotConnected = errors.New("wallet not connected")

	// ErrInvalidArguments is returned when call arguments fail client-side validation.
	ErrInvalidArguments = errors.New("invalid arguments")

	// ErrTransactionReverted is returned when a transaction was rejected on-chain.
	ErrTransactionReverted = errors.New("transaction reverted")

	// ErrReadFailed is returned when a contract read fails at the node.
	ErrReadFailed = errors.New("contract read failed")

	// ErrStillPending is returned when the caller stopped waiting for a
	// transaction that has not reached a terminal state. It does not mean the
	// transaction failed.
	ErrStillPending = errors.New("transaction still pending")

	// ErrInvalidConfig is returned for unusable client configuration.
	ErrInvalidConfig = errors.New("invalid configuration")
)

// RevertError carries the on-chain revert reason of a transaction.
type RevertError struct {
	Reason string
	// TxHash is zero when the revert was detected before the transaction was mined.
	TxHash common.Hash
}

func (e *RevertError) Error() string {
	reason := e.Reason
	if reason == "" {
		reason = "no reason given"
	}
	if e.TxHash == (common.Hash{}) {
		return fmt.Sprintf("%s: %s", ErrTransactionReverted, reason)
	}
	return fmt.Sprintf("%s: %s (tx %s)", ErrTransactionReverted, reason, e.TxHash.Hex())
}

// Unwrap makes errors.Is(err, ErrTransactionReverted) hold.
func (e *RevertError) Unwrap() error {
	return ErrTransactionReverted
}
