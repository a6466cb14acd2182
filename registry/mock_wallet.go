package registry

import (
	"context"
	"encoding/binary"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/event"
	"github.com/ruteri/token-registry-sync/bindings/toptokens"
	"github.com/ruteri/token-registry-sync/interfaces"
	"github.com/ruteri/token-registry-sync/provider"
)

// MockWallet is an in-memory wallet provider with a TopTokens contract behind
// it. It implements interfaces.ProviderGateway for tests and local demos
// without a chain.
//
// Transactions are mined immediately unless SetAutoMine(false) is called, in
// which case they stay pending until Mine.
type MockWallet struct {
	feed event.Feed
	abi  abi.ABI

	mu          sync.Mutex
	available   bool
	chainID     uint64
	knownChains map[uint64]bool
	accounts    []common.Address
	authorized  bool

	contract common.Address
	owner    common.Address
	tokens   []toptokens.Token
	now      func() time.Time

	autoMine    bool
	blockNumber uint64
	nonce       uint64
	pending     []mockTx
	receipts    map[common.Hash]*provider.Receipt

	rejectNext map[string]int
	failNext   map[string]error
	calls      map[string]int
	readHook   func(ctx context.Context)
}

type mockTx struct {
	hash common.Hash
	from common.Address
	data []byte
}

// NewMockWallet creates a wallet on chainID holding accounts, with the contract
// deployed at contract and owned by the first account.
func NewMockWallet(contract common.Address, chainID uint64, accounts ...common.Address) *MockWallet {
	w := &MockWallet{
		abi:         toptokens.MustABI(),
		available:   true,
		chainID:     chainID,
		knownChains: map[uint64]bool{chainID: true},
		accounts:    accounts,
		contract:    contract,
		now:         time.Now,
		autoMine:    true,
		receipts:    make(map[common.Hash]*provider.Receipt),
		rejectNext:  make(map[string]int),
		failNext:    make(map[string]error),
		calls:       make(map[string]int),
	}
	if len(accounts) > 0 {
		w.owner = accounts[0]
	}
	return w
}

// SetAvailable toggles whether the wallet answers at all.
func (w *MockWallet) SetAvailable(available bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.available = available
}

// SetAutoMine controls whether transactions are mined on submission.
func (w *MockWallet) SetAutoMine(autoMine bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.autoMine = autoMine
}

// SetChainID changes the active chain without a notification, as if the wallet
// had been on that chain all along.
func (w *MockWallet) SetChainID(chainID uint64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.chainID = chainID
	w.knownChains[chainID] = true
}

// ForgetChain makes the wallet answer 4902 for chainID until it is added again.
func (w *MockWallet) ForgetChain(chainID uint64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.knownChains, chainID)
}

// SetOwner overrides the contract owner.
func (w *MockWallet) SetOwner(owner common.Address) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.owner = owner
}

// SeedTokens writes records directly into contract storage, bypassing validation.
func (w *MockWallet) SeedTokens(records ...interfaces.TokenRecord) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.tokens = w.tokens[:0]
	for _, r := range records {
		price := new(big.Int)
		if r.Price != nil {
			price.Set(r.Price)
		}
		w.tokens = append(w.tokens, toptokens.Token{
			TokenAddress: r.TokenAddress,
			Symbol:       r.Symbol,
			Price:        price,
			Timestamp:    new(big.Int).SetUint64(r.Timestamp),
		})
	}
}

// Tokens returns the current contract storage.
func (w *MockWallet) Tokens() []interfaces.TokenRecord {
	w.mu.Lock()
	defer w.mu.Unlock()
	return tokensToRecords(w.tokens)
}

// RejectNext makes the next request for method fail as if the user declined it.
func (w *MockWallet) RejectNext(method string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.rejectNext[method]++
}

// FailNext makes the next request for method fail with err.
func (w *MockWallet) FailNext(method string, err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.failNext[method] = err
}

// SetReadHook installs a function run at the start of every eth_call, outside
// the wallet lock. Tests use it to hold reads in flight.
func (w *MockWallet) SetReadHook(hook func(ctx context.Context)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.readHook = hook
}

// Calls reports how many times method was requested.
func (w *MockWallet) Calls(method string) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.calls[method]
}

// PendingCount reports transactions waiting for Mine.
func (w *MockWallet) PendingCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.pending)
}

// EmitChainChanged switches the active chain and notifies subscribers.
func (w *MockWallet) EmitChainChanged(chainID uint64) {
	w.mu.Lock()
	w.chainID = chainID
	w.knownChains[chainID] = true
	w.mu.Unlock()
	w.feed.Send(interfaces.ProviderEvent{Name: interfaces.EventChainChanged, ChainID: chainID})
}

// EmitAccountsChanged replaces the exposed accounts and notifies subscribers.
// An empty list revokes authorization.
func (w *MockWallet) EmitAccountsChanged(accounts ...common.Address) {
	w.mu.Lock()
	w.accounts = accounts
	if len(accounts) == 0 {
		w.authorized = false
	}
	w.mu.Unlock()
	w.feed.Send(interfaces.ProviderEvent{Name: interfaces.EventAccountsChanged, Accounts: accounts})
}

// Mine executes all pending transactions in a new block and returns their hashes.
func (w *MockWallet) Mine() []common.Hash {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.mineLocked()
}

func (w *MockWallet) IsAvailable() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.available
}

func (w *MockWallet) Subscribe(ch chan<- interfaces.ProviderEvent) event.Subscription {
	return w.feed.Subscribe(ch)
}

func (w *MockWallet) Request(ctx context.Context, result interface{}, method string, params ...interface{}) error {
	if method == "eth_call" {
		w.mu.Lock()
		hook := w.readHook
		w.mu.Unlock()
		if hook != nil {
			hook(ctx)
		}
	}

	value, events, err := w.handle(method, params)
	for _, ev := range events {
		w.feed.Send(ev)
	}
	if err != nil {
		return provider.Classify(err)
	}
	return provider.Assign(result, value)
}

func (w *MockWallet) handle(method string, params []interface{}) (interface{}, []interfaces.ProviderEvent, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.available {
		return nil, nil, &provider.JSONRPCError{Code: provider.CodeDisconnected, Message: "provider is disconnected"}
	}

	w.calls[method]++
	if w.rejectNext[method] > 0 {
		w.rejectNext[method]--
		return nil, nil, provider.NewUserRejected()
	}
	if err, ok := w.failNext[method]; ok {
		delete(w.failNext, method)
		return nil, nil, err
	}

	switch method {
	case "eth_chainId":
		return hexutil.Uint64(w.chainID), nil, nil

	case "eth_accounts":
		if !w.authorized {
			return []common.Address{}, nil, nil
		}
		return w.accounts, nil, nil

	case "eth_requestAccounts":
		if len(w.accounts) == 0 {
			return nil, nil, &provider.JSONRPCError{Code: provider.CodeUnauthorized, Message: "wallet is locked"}
		}
		w.authorized = true
		return w.accounts, nil, nil

	case "wallet_addEthereumChain":
		var add provider.AddChainParams
		if err := provider.DecodeParam(params, 0, &add); err != nil {
			return nil, nil, err
		}
		w.knownChains[uint64(add.ChainID)] = true
		return nil, nil, nil

	case "wallet_switchEthereumChain":
		var sw provider.SwitchChainParams
		if err := provider.DecodeParam(params, 0, &sw); err != nil {
			return nil, nil, err
		}
		target := uint64(sw.ChainID)
		if !w.knownChains[target] {
			return nil, nil, &provider.JSONRPCError{Code: provider.CodeUnrecognizedChain, Message: fmt.Sprintf("Unrecognized chain ID %d", target)}
		}
		if target == w.chainID {
			return nil, nil, nil
		}
		w.chainID = target
		return nil, []interfaces.ProviderEvent{{Name: interfaces.EventChainChanged, ChainID: target}}, nil

	case "eth_call", "eth_estimateGas":
		var args provider.TransactionArgs
		if err := provider.DecodeParam(params, 0, &args); err != nil {
			return nil, nil, err
		}
		if args.To == nil || *args.To != w.contract {
			return hexutil.Bytes{}, nil, nil
		}
		var from common.Address
		if args.From != nil {
			from = *args.From
		}
		ret, reason, reverted, err := w.execute(from, args.Data, false)
		if err != nil {
			return nil, nil, err
		}
		if reverted {
			return nil, nil, provider.NewRevertError(reason)
		}
		if method == "eth_estimateGas" {
			return hexutil.Uint64(100000), nil, nil
		}
		return hexutil.Bytes(ret), nil, nil

	case "eth_sendTransaction":
		var args provider.TransactionArgs
		if err := provider.DecodeParam(params, 0, &args); err != nil {
			return nil, nil, err
		}
		if args.From == nil || !w.isAuthorizedLocked(*args.From) {
			return nil, nil, &provider.JSONRPCError{Code: provider.CodeUnauthorized, Message: "The requested account has not been authorized by the user."}
		}
		var nonce [8]byte
		binary.BigEndian.PutUint64(nonce[:], w.nonce)
		w.nonce++
		hash := crypto.Keccak256Hash(args.From.Bytes(), nonce[:], args.Data)
		w.pending = append(w.pending, mockTx{hash: hash, from: *args.From, data: args.Data})
		if w.autoMine {
			w.mineLocked()
		}
		return hash, nil, nil

	case "eth_getTransactionReceipt":
		var hash common.Hash
		if err := provider.DecodeParam(params, 0, &hash); err != nil {
			return nil, nil, err
		}
		receipt, ok := w.receipts[hash]
		if !ok {
			return nil, nil, nil
		}
		return receipt, nil, nil

	case "eth_blockNumber":
		return hexutil.Uint64(w.blockNumber), nil, nil
	}

	return nil, nil, &provider.JSONRPCError{Code: -32601, Message: fmt.Sprintf("the method %s does not exist/is not available", method)}
}

func (w *MockWallet) isAuthorizedLocked(addr common.Address) bool {
	if !w.authorized {
		return false
	}
	for _, a := range w.accounts {
		if a == addr {
			return true
		}
	}
	return false
}

func (w *MockWallet) mineLocked() []common.Hash {
	if len(w.pending) == 0 {
		return nil
	}
	w.blockNumber++
	block := new(big.Int).SetUint64(w.blockNumber)
	blockHash := crypto.Keccak256Hash(block.Bytes())

	hashes := make([]common.Hash, 0, len(w.pending))
	for _, tx := range w.pending {
		_, _, reverted, err := w.execute(tx.from, tx.data, true)
		status := hexutil.Uint64(1)
		if reverted || err != nil {
			status = 0
		}
		contract := w.contract
		w.receipts[tx.hash] = &provider.Receipt{
			TxHash:      tx.hash,
			Status:      status,
			BlockNumber: (*hexutil.Big)(block),
			BlockHash:   blockHash,
			GasUsed:     hexutil.Uint64(50000),
			From:        tx.from,
			To:          &contract,
		}
		hashes = append(hashes, tx.hash)
	}
	w.pending = nil
	return hashes
}

// execute runs a contract call against the in-memory state. State changes are
// applied only when commit is set and the call does not revert.
func (w *MockWallet) execute(from common.Address, data []byte, commit bool) ([]byte, string, bool, error) {
	if len(data) < 4 {
		return nil, "", true, nil
	}
	method, err := w.abi.MethodById(data[:4])
	if err != nil {
		return nil, "", true, nil
	}
	args, err := method.Inputs.Unpack(data[4:])
	if err != nil {
		return nil, "", true, nil
	}

	switch method.Name {
	case toptokens.MethodGetTokens:
		tokens := make([]toptokens.Token, len(w.tokens))
		copy(tokens, w.tokens)
		ret, err := method.Outputs.Pack(tokens)
		return ret, "", false, err

	case toptokens.MethodGetTokenCount:
		ret, err := method.Outputs.Pack(big.NewInt(int64(len(w.tokens))))
		return ret, "", false, err

	case toptokens.MethodOwner:
		ret, err := method.Outputs.Pack(w.owner)
		return ret, "", false, err

	case toptokens.MethodSaveTokens:
		if from != w.owner {
			return nil, toptokens.ReasonNotOwner, true, nil
		}
		addrs := args[0].([]common.Address)
		symbols := args[1].([]string)
		prices := args[2].([]*big.Int)
		if len(addrs) != len(symbols) || len(addrs) != len(prices) {
			return nil, toptokens.ReasonLengthMismatch, true, nil
		}
		if len(addrs) > toptokens.MaxTokens {
			return nil, toptokens.ReasonTooManyTokens, true, nil
		}
		next := make([]toptokens.Token, 0, len(addrs))
		ts := big.NewInt(w.now().Unix())
		for i := range addrs {
			switch {
			case addrs[i] == (common.Address{}):
				return nil, toptokens.ReasonInvalidAddress, true, nil
			case symbols[i] == "":
				return nil, toptokens.ReasonEmptySymbol, true, nil
			case prices[i].Sign() <= 0:
				return nil, toptokens.ReasonInvalidPrice, true, nil
			}
			next = append(next, toptokens.Token{TokenAddress: addrs[i], Symbol: symbols[i], Price: prices[i], Timestamp: ts})
		}
		if commit {
			w.tokens = next
		}
		return nil, "", false, nil

	case toptokens.MethodClearTokens:
		if from != w.owner {
			return nil, toptokens.ReasonNotOwner, true, nil
		}
		if commit {
			w.tokens = nil
		}
		return nil, "", false, nil

	case toptokens.MethodTransferOwnership:
		if from != w.owner {
			return nil, toptokens.ReasonNotOwner, true, nil
		}
		newOwner := args[0].(common.Address)
		if newOwner == (common.Address{}) {
			return nil, "Ownable: new owner is the zero address", true, nil
		}
		if commit {
			w.owner = newOwner
		}
		return nil, "", false, nil
	}

	return nil, "", true, nil
}

func tokensToRecords(tokens []toptokens.Token) []interfaces.TokenRecord {
	records := make([]interfaces.TokenRecord, 0, len(tokens))
	for _, t := range tokens {
		var ts uint64
		if t.Timestamp != nil {
			ts = t.Timestamp.Uint64()
		}
		records = append(records, interfaces.TokenRecord{
			TokenAddress: t.TokenAddress,
			Symbol:       t.Symbol,
			Price:        t.Price,
			Timestamp:    ts,
		})
	}
	return records
}
