package provider

import (
	"context"
	"errors"
	"fmt"
	"net"
	"regexp"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/ruteri/token-registry-sync/interfaces"
)

// EIP-1193 provider error codes.
const (
	CodeUserRejected       = 4001
	CodeUnauthorized       = 4100
	CodeUnsupportedMethod  = 4200
	CodeDisconnected       = 4900
	CodeChainDisconnected  = 4901
	CodeUnrecognizedChain  = 4902
	CodeExecutionReverted  = 3
	CodeInternalJSONRPCErr = -32603
)

// JSONRPCError is a wallet error as it appears on the JSON-RPC boundary.
// It satisfies rpc.Error and rpc.DataError.
type JSONRPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func (e *JSONRPCError) Error() string {
	return fmt.Sprintf("%s (code %d)", e.Message, e.Code)
}

func (e *JSONRPCError) ErrorCode() int {
	return e.Code
}

func (e *JSONRPCError) ErrorData() interface{} {
	return e.Data
}

// NewUserRejected is the error a wallet returns when the user declines a prompt.
func NewUserRejected() *JSONRPCError {
	return &JSONRPCError{Code: CodeUserRejected, Message: "User rejected the request."}
}

// NewRevertError builds the error a node returns for a reverted call.
func NewRevertError(reason string) *JSONRPCError {
	return &JSONRPCError{
		Code:    CodeExecutionReverted,
		Message: "execution reverted: " + reason,
		Data:    hexutil.Encode(EncodeRevert(reason)),
	}
}

var revertSelector = crypto.Keccak256([]byte("Error(string)"))[:4]

// EncodeRevert ABI-encodes reason as Error(string) revert data.
func EncodeRevert(reason string) []byte {
	stringType, _ := abi.NewType("string", "", nil)
	packed, _ := abi.Arguments{{Type: stringType}}.Pack(reason)
	return append(append([]byte{}, revertSelector...), packed...)
}

// ErrorCode extracts the JSON-RPC error code from anywhere in err's chain.
func ErrorCode(err error) (int, bool) {
	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) {
		return rpcErr.ErrorCode(), true
	}
	return 0, false
}

var hardhatReason = regexp.MustCompile(`reverted with reason string '(.*)'`)

// RevertReason reports whether err is an execution revert and decodes its reason.
// A revert with undecodable data yields ("", true).
func RevertReason(err error) (string, bool) {
	var dataErr rpc.DataError
	if errors.As(err, &dataErr) {
		if s, ok := dataErr.ErrorData().(string); ok && strings.HasPrefix(s, "0x") {
			if raw, decErr := hexutil.Decode(s); decErr == nil && len(raw) >= 4 {
				if reason, unpackErr := abi.UnpackRevert(raw); unpackErr == nil {
					return reason, true
				}
				return "", true
			}
		}
	}

	var rpcErr rpc.Error
	if !errors.As(err, &rpcErr) {
		return "", false
	}
	msg := rpcErr.Error()
	if m := hardhatReason.FindStringSubmatch(msg); m != nil {
		return m[1], true
	}
	if rpcErr.ErrorCode() == CodeExecutionReverted || strings.Contains(msg, "execution reverted") {
		_, reason, _ := strings.Cut(msg, "execution reverted")
		return strings.TrimSpace(strings.TrimPrefix(reason, ":")), true
	}
	return "", false
}

// Classify maps a raw provider error onto the client's error taxonomy. The
// original error stays in the chain so callers can still inspect codes and data.
func Classify(err error) error {
	if err == nil {
		return nil
	}

	for _, known := range []error{
		interfaces.ErrWalletNotFound,
		interfaces.ErrProviderUnavailable,
		interfaces.ErrProviderRejected,
		interfaces.ErrProviderError,
		interfaces.ErrTransactionReverted,
	} {
		if errors.Is(err, known) {
			return err
		}
	}

	if code, ok := ErrorCode(err); ok {
		switch code {
		case CodeUserRejected, CodeUnauthorized:
			return fmt.Errorf("%w: %w", interfaces.ErrProviderRejected, err)
		case CodeDisconnected, CodeChainDisconnected:
			return fmt.Errorf("%w: %w", interfaces.ErrProviderUnavailable, err)
		}
		if reason, reverted := RevertReason(err); reverted {
			return fmt.Errorf("%w: %w", &interfaces.RevertError{Reason: reason}, err)
		}
		return fmt.Errorf("%w: %w", interfaces.ErrProviderError, err)
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", interfaces.ErrProviderError, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, rpc.ErrClientQuit) {
		return fmt.Errorf("%w: %w", interfaces.ErrProviderUnavailable, err)
	}

	return fmt.Errorf("%w: %w", interfaces.ErrProviderError, err)
}
