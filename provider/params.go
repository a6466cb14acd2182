package provider

import (
	"encoding/json"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ruteri/token-registry-sync/interfaces"
)

// TransactionArgs is the object accepted by eth_call, eth_estimateGas and
// eth_sendTransaction.
type TransactionArgs struct {
	From     *common.Address `json:"from,omitempty"`
	To       *common.Address `json:"to,omitempty"`
	Gas      *hexutil.Uint64 `json:"gas,omitempty"`
	GasPrice *hexutil.Big    `json:"gasPrice,omitempty"`
	Value    *hexutil.Big    `json:"value,omitempty"`
	Nonce    *hexutil.Uint64 `json:"nonce,omitempty"`
	Data     hexutil.Bytes   `json:"data,omitempty"`
}

// SwitchChainParams is the wallet_switchEthereumChain parameter.
type SwitchChainParams struct {
	ChainID hexutil.Uint64 `json:"chainId"`
}

// AddChainParams is the wallet_addEthereumChain parameter.
type AddChainParams struct {
	ChainID           hexutil.Uint64            `json:"chainId"`
	ChainName         string                    `json:"chainName"`
	RPCURLs           []string                  `json:"rpcUrls"`
	NativeCurrency    interfaces.NativeCurrency `json:"nativeCurrency"`
	BlockExplorerURLs []string                  `json:"blockExplorerUrls,omitempty"`
}

// AddChainParamsFor converts a network configuration into wallet_addEthereumChain form.
func AddChainParamsFor(cfg interfaces.NetworkConfig) AddChainParams {
	return AddChainParams{
		ChainID:           hexutil.Uint64(cfg.ChainID),
		ChainName:         cfg.ChainName,
		RPCURLs:           cfg.RPCURLs,
		NativeCurrency:    cfg.NativeCurrency,
		BlockExplorerURLs: cfg.BlockExplorerURLs,
	}
}

// Network converts the parameters back into a network configuration.
func (p AddChainParams) Network() interfaces.NetworkConfig {
	return interfaces.NetworkConfig{
		ChainID:           uint64(p.ChainID),
		ChainName:         p.ChainName,
		RPCURLs:           p.RPCURLs,
		NativeCurrency:    p.NativeCurrency,
		BlockExplorerURLs: p.BlockExplorerURLs,
	}
}

// Receipt is the subset of eth_getTransactionReceipt the client relies on.
type Receipt struct {
	TxHash      common.Hash     `json:"transactionHash"`
	Status      hexutil.Uint64  `json:"status"`
	BlockNumber *hexutil.Big    `json:"blockNumber"`
	BlockHash   common.Hash     `json:"blockHash"`
	GasUsed     hexutil.Uint64  `json:"gasUsed"`
	From        common.Address  `json:"from"`
	To          *common.Address `json:"to"`
}

// Succeeded reports a status 1 receipt.
func (r *Receipt) Succeeded() bool {
	return r.Status == 1
}

// DecodeParam decodes params[i] into out the way a JSON-RPC server would.
func DecodeParam(params []interface{}, i int, out interface{}) error {
	if i >= len(params) {
		return &JSONRPCError{Code: -32602, Message: fmt.Sprintf("missing value for required argument %d", i)}
	}
	if err := Assign(out, params[i]); err != nil {
		return &JSONRPCError{Code: -32602, Message: fmt.Sprintf("invalid argument %d: %v", i, err)}
	}
	return nil
}

// Assign stores value into result through a JSON round trip, mirroring what
// rpc.Client does with a server response. A nil result discards the value.
func Assign(result interface{}, value interface{}) error {
	if result == nil {
		return nil
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, result)
}
