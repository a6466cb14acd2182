// Package toptokens holds the ABI of the TopTokens registry contract.
package toptokens

import (
	"math/big"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// TopTokensABI is the ABI of the deployed TopTokens contract.
const TopTokensABI = `[
  {
    "inputs": [],
    "stateMutability": "nonpayable",
    "type": "constructor"
  },
  {
    "anonymous": false,
    "inputs": [
      {"indexed": true, "internalType": "address", "name": "previousOwner", "type": "address"},
      {"indexed": true, "internalType": "address", "name": "newOwner", "type": "address"}
    ],
    "name": "OwnershipTransferred",
    "type": "event"
  },
  {
    "anonymous": false,
    "inputs": [
      {"indexed": true, "internalType": "address", "name": "tokenAddress", "type": "address"},
      {"indexed": false, "internalType": "string", "name": "symbol", "type": "string"},
      {"indexed": false, "internalType": "uint256", "name": "price", "type": "uint256"}
    ],
    "name": "TokenAdded",
    "type": "event"
  },
  {
    "anonymous": false,
    "inputs": [
      {"indexed": false, "internalType": "uint256", "name": "timestamp", "type": "uint256"}
    ],
    "name": "TokensCleared",
    "type": "event"
  },
  {
    "anonymous": false,
    "inputs": [
      {"indexed": false, "internalType": "uint256", "name": "count", "type": "uint256"},
      {"indexed": false, "internalType": "uint256", "name": "timestamp", "type": "uint256"}
    ],
    "name": "TokensUpdated",
    "type": "event"
  },
  {
    "inputs": [],
    "name": "clearTokens",
    "outputs": [],
    "stateMutability": "nonpayable",
    "type": "function"
  },
  {
    "inputs": [],
    "name": "getTokenCount",
    "outputs": [{"internalType": "uint256", "name": "", "type": "uint256"}],
    "stateMutability": "view",
    "type": "function"
  },
  {
    "inputs": [],
    "name": "getTokens",
    "outputs": [
      {
        "components": [
          {"internalType": "address", "name": "tokenAddress", "type": "address"},
          {"internalType": "string", "name": "symbol", "type": "string"},
          {"internalType": "uint256", "name": "price", "type": "uint256"},
          {"internalType": "uint256", "name": "timestamp", "type": "uint256"}
        ],
        "internalType": "struct TopTokens.Token[]",
        "name": "",
        "type": "tuple[]"
      }
    ],
    "stateMutability": "view",
    "type": "function"
  },
  {
    "inputs": [],
    "name": "owner",
    "outputs": [{"internalType": "address", "name": "", "type": "address"}],
    "stateMutability": "view",
    "type": "function"
  },
  {
    "inputs": [
      {"internalType": "address[]", "name": "_addresses", "type": "address[]"},
      {"internalType": "string[]", "name": "_symbols", "type": "string[]"},
      {"internalType": "uint256[]", "name": "_prices", "type": "uint256[]"}
    ],
    "name": "saveTokens",
    "outputs": [],
    "stateMutability": "nonpayable",
    "type": "function"
  },
  {
    "inputs": [{"internalType": "address", "name": "newOwner", "type": "address"}],
    "name": "transferOwnership",
    "outputs": [],
    "stateMutability": "nonpayable",
    "type": "function"
  }
]`

// Method names.
const (
	MethodGetTokens         = "getTokens"
	MethodGetTokenCount     = "getTokenCount"
	MethodOwner             = "owner"
	MethodSaveTokens        = "saveTokens"
	MethodClearTokens       = "clearTokens"
	MethodTransferOwnership = "transferOwnership"
)

// Revert reasons emitted by the contract.
const (
	ReasonLengthMismatch = "Arrays length mismatch"
	ReasonTooManyTokens  = "Too many tokens"
	ReasonInvalidAddress = "Invalid token address"
	ReasonEmptySymbol    = "Empty symbol"
	ReasonInvalidPrice   = "Invalid price"
	ReasonNotOwner       = "Ownable: caller is not the owner"
)

// MaxTokens is the contract's per-write cap.
const MaxTokens = 10

// Token mirrors the TopTokens.Token struct as returned by getTokens.
type Token struct {
	TokenAddress common.Address `abi:"tokenAddress"`
	Symbol       string         `abi:"symbol"`
	Price        *big.Int       `abi:"price"`
	Timestamp    *big.Int       `abi:"timestamp"`
}

var (
	parsedOnce sync.Once
	parsedABI  abi.ABI
	parseErr   error
)

// ABI returns the parsed contract ABI.
func ABI() (abi.ABI, error) {
	parsedOnce.Do(func() {
		parsedABI, parseErr = abi.JSON(strings.NewReader(TopTokensABI))
	})
	return parsedABI, parseErr
}

// MustABI is ABI for callers that treat a broken embedded ABI as a programming error.
func MustABI() abi.ABI {
	parsed, err := ABI()
	if err != nil {
		panic(err)
	}
	return parsed
}
