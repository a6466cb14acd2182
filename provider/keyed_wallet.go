package provider

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"log/slog"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/event"
	"github.com/ethereum/go-ethereum/rpc"
	"github.com/ruteri/token-registry-sync/interfaces"
)

// Approver decides whether a prompting request goes through. Returning false
// makes the wallet answer with a user-rejected error.
type Approver func(ctx context.Context, method string, params []interface{}) bool

// Dialer opens a connection to a network's RPC endpoint.
type Dialer func(ctx context.Context, url string) (*rpc.Client, error)

// KeyedWallet is an in-process wallet that signs with a local secp256k1 key and
// forwards everything it does not handle to the node of the active network.
type KeyedWallet struct {
	key     *ecdsa.PrivateKey
	address common.Address
	feed    event.Feed
	log     *slog.Logger

	approve Approver
	dial    Dialer

	// sendMu serializes nonce assignment.
	sendMu sync.Mutex

	mu       sync.RWMutex
	upstream *rpc.Client
	chainID  uint64
	networks map[uint64]interfaces.NetworkConfig
}

// NewKeyedWallet creates a wallet connected to upstream. The active chain id is
// read from the node.
func NewKeyedWallet(ctx context.Context, key *ecdsa.PrivateKey, upstream *rpc.Client, log *slog.Logger) (*KeyedWallet, error) {
	var chainID hexutil.Uint64
	if err := upstream.CallContext(ctx, &chainID, "eth_chainId"); err != nil {
		return nil, fmt.Errorf("%w: reading chain id: %w", interfaces.ErrProviderUnavailable, err)
	}

	return &KeyedWallet{
		key:      key,
		address:  crypto.PubkeyToAddress(key.PublicKey),
		log:      log,
		approve:  func(context.Context, string, []interface{}) bool { return true },
		dial:     rpc.DialContext,
		upstream: upstream,
		chainID:  uint64(chainID),
		networks: map[uint64]interfaces.NetworkConfig{},
	}, nil
}

// WithApprover installs a hook consulted before account access, transaction
// signing and network changes.
func (w *KeyedWallet) WithApprover(approve Approver) *KeyedWallet {
	w.approve = approve
	return w
}

// WithDialer replaces rpc.DialContext for network switches.
func (w *KeyedWallet) WithDialer(dial Dialer) *KeyedWallet {
	w.dial = dial
	return w
}

// AddNetwork registers a network the wallet can switch to, as if the user had
// added it beforehand.
func (w *KeyedWallet) AddNetwork(cfg interfaces.NetworkConfig) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.networks[cfg.ChainID] = cfg
}

// Address is the wallet's only account.
func (w *KeyedWallet) Address() common.Address {
	return w.address
}

func (w *KeyedWallet) IsAvailable() bool {
	return true
}

func (w *KeyedWallet) Subscribe(ch chan<- interfaces.ProviderEvent) event.Subscription {
	return w.feed.Subscribe(ch)
}

func (w *KeyedWallet) Request(ctx context.Context, result interface{}, method string, params ...interface{}) error {
	switch method {
	case "eth_accounts":
		return Assign(result, []common.Address{w.address})
	case "eth_requestAccounts":
		if !w.approve(ctx, method, params) {
			return Classify(NewUserRejected())
		}
		return Assign(result, []common.Address{w.address})
	case "eth_chainId":
		w.mu.RLock()
		chainID := w.chainID
		w.mu.RUnlock()
		return Assign(result, hexutil.Uint64(chainID))
	case "eth_sendTransaction":
		return Classify(w.sendTransaction(ctx, result, params))
	case "wallet_addEthereumChain":
		return Classify(w.addChain(ctx, params))
	case "wallet_switchEthereumChain":
		return Classify(w.switchChain(ctx, params))
	}

	w.mu.RLock()
	upstream := w.upstream
	w.mu.RUnlock()
	return Classify(upstream.CallContext(ctx, result, method, params...))
}

func (w *KeyedWallet) sendTransaction(ctx context.Context, result interface{}, params []interface{}) error {
	var args TransactionArgs
	if err := DecodeParam(params, 0, &args); err != nil {
		return err
	}
	if args.From != nil && *args.From != w.address {
		return &JSONRPCError{Code: CodeUnauthorized, Message: "The requested account has not been authorized by the user."}
	}
	args.From = &w.address

	if !w.approve(ctx, "eth_sendTransaction", params) {
		return NewUserRejected()
	}

	w.mu.RLock()
	upstream, chainID := w.upstream, w.chainID
	w.mu.RUnlock()

	w.sendMu.Lock()
	defer w.sendMu.Unlock()

	if args.Nonce == nil {
		var nonce hexutil.Uint64
		if err := upstream.CallContext(ctx, &nonce, "eth_getTransactionCount", w.address, "pending"); err != nil {
			return err
		}
		args.Nonce = &nonce
	}
	if args.GasPrice == nil {
		var price hexutil.Big
		if err := upstream.CallContext(ctx, &price, "eth_gasPrice"); err != nil {
			return err
		}
		args.GasPrice = &price
	}
	if args.Gas == nil {
		var gas hexutil.Uint64
		if err := upstream.CallContext(ctx, &gas, "eth_estimateGas", args); err != nil {
			return err
		}
		args.Gas = &gas
	}

	value := new(big.Int)
	if args.Value != nil {
		value = args.Value.ToInt()
	}
	tx := types.NewTx(&types.LegacyTx{
		Nonce:    uint64(*args.Nonce),
		GasPrice: args.GasPrice.ToInt(),
		Gas:      uint64(*args.Gas),
		To:       args.To,
		Value:    value,
		Data:     args.Data,
	})

	signed, err := types.SignTx(tx, types.LatestSignerForChainID(new(big.Int).SetUint64(chainID)), w.key)
	if err != nil {
		return fmt.Errorf("signing transaction: %w", err)
	}
	raw, err := signed.MarshalBinary()
	if err != nil {
		return fmt.Errorf("encoding transaction: %w", err)
	}

	var hash common.Hash
	if err := upstream.CallContext(ctx, &hash, "eth_sendRawTransaction", hexutil.Bytes(raw)); err != nil {
		return err
	}

	w.log.Debug("transaction signed and sent",
		"hash", hash.Hex(),
		"nonce", signed.Nonce(),
		"chainID", chainID)

	return Assign(result, hash)
}

func (w *KeyedWallet) addChain(ctx context.Context, params []interface{}) error {
	var add AddChainParams
	if err := DecodeParam(params, 0, &add); err != nil {
		return err
	}
	if add.ChainID == 0 || len(add.RPCURLs) == 0 {
		return &JSONRPCError{Code: -32602, Message: "chainId and rpcUrls are required"}
	}
	if !w.approve(ctx, "wallet_addEthereumChain", params) {
		return NewUserRejected()
	}
	w.AddNetwork(add.Network())
	return nil
}

func (w *KeyedWallet) switchChain(ctx context.Context, params []interface{}) error {
	var sw SwitchChainParams
	if err := DecodeParam(params, 0, &sw); err != nil {
		return err
	}
	target := uint64(sw.ChainID)

	w.mu.RLock()
	current := w.chainID
	cfg, known := w.networks[target]
	w.mu.RUnlock()

	if target == current {
		return nil
	}
	if !known {
		return &JSONRPCError{Code: CodeUnrecognizedChain, Message: fmt.Sprintf("Unrecognized chain ID %d. Try adding the chain using wallet_addEthereumChain first.", target)}
	}
	if !w.approve(ctx, "wallet_switchEthereumChain", params) {
		return NewUserRejected()
	}

	client, err := w.dial(ctx, cfg.RPCURLs[0])
	if err != nil {
		return &JSONRPCError{Code: CodeChainDisconnected, Message: fmt.Sprintf("could not connect to %s: %v", cfg.ChainName, err)}
	}

	w.mu.Lock()
	previous := w.upstream
	w.upstream = client
	w.chainID = target
	w.mu.Unlock()

	if previous != nil {
		previous.Close()
	}

	w.log.Info("wallet switched network", "chainID", target, "chainName", cfg.ChainName)
	w.feed.Send(interfaces.ProviderEvent{Name: interfaces.EventChainChanged, ChainID: target})
	return nil
}
