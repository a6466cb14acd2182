package api

import (
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/ruteri/token-registry-sync/interfaces"
)

type SessionResponse struct {
	Status          interfaces.SessionStatus `json:"status"`
	Account         *common.Address          `json:"account,omitempty"`
	ChainID         uint64                   `json:"chainId"`
	RequiredChainID uint64                   `json:"requiredChainId"`
}

// Token is a registry record as served to clients. Price is the decimal wei
// amount; PriceEther is the same amount formatted in ether.
type Token struct {
	TokenAddress common.Address `json:"tokenAddress"`
	Symbol       string         `json:"symbol"`
	Price        string         `json:"price"`
	PriceEther   string         `json:"priceEther"`
	Timestamp    uint64         `json:"timestamp"`
}

func TokenFromRecord(r interfaces.TokenRecord) Token {
	price := "0"
	if r.Price != nil {
		price = r.Price.String()
	}
	return Token{
		TokenAddress: r.TokenAddress,
		Symbol:       r.Symbol,
		Price:        price,
		PriceEther:   r.PriceEther(),
		Timestamp:    r.Timestamp,
	}
}

type TokensResponse struct {
	Tokens    []Token         `json:"tokens"`
	FetchedAt time.Time       `json:"fetchedAt"`
	ChainID   uint64          `json:"chainId"`
	Account   *common.Address `json:"account,omitempty"`
	// Rejected counts on-chain records hidden because they are invalid.
	Rejected int `json:"rejected,omitempty"`
	// ContentID is set once the snapshot has been archived.
	ContentID string `json:"contentId,omitempty"`
}

func TokensFromSnapshot(s *interfaces.RegistrySnapshot) *TokensResponse {
	tokens := make([]Token, 0, len(s.Records))
	for _, r := range s.Records {
		tokens = append(tokens, TokenFromRecord(r))
	}
	return &TokensResponse{
		Tokens:    tokens,
		FetchedAt: s.FetchedAt,
		ChainID:   s.ChainID,
		Account:   s.Account,
		Rejected:  s.Rejected,
	}
}

// TokenInput is one record of a saveTokens request. Exactly one of Price (wei)
// and PriceEther must be set.
type TokenInput struct {
	TokenAddress common.Address `json:"tokenAddress"`
	Symbol       string         `json:"symbol"`
	Price        string         `json:"price,omitempty"`
	PriceEther   string         `json:"priceEther,omitempty"`
}

// Record converts the input into a TokenRecord. It only parses; the record
// checks run when the call is validated.
func (in TokenInput) Record() (interfaces.TokenRecord, error) {
	var price *big.Int
	switch {
	case in.Price != "" && in.PriceEther != "":
		return interfaces.TokenRecord{}, fmt.Errorf("%w: %s: set either price or priceEther", interfaces.ErrInvalidArguments, in.Symbol)
	case in.Price != "":
		p, ok := new(big.Int).SetString(in.Price, 10)
		if !ok {
			return interfaces.TokenRecord{}, fmt.Errorf("%w: %s: invalid wei amount %q", interfaces.ErrInvalidArguments, in.Symbol, in.Price)
		}
		price = p
	case in.PriceEther != "":
		p, err := interfaces.ParseEther(in.PriceEther)
		if err != nil {
			return interfaces.TokenRecord{}, fmt.Errorf("%w: %s: %w", interfaces.ErrInvalidArguments, in.Symbol, err)
		}
		price = p
	default:
		return interfaces.TokenRecord{}, fmt.Errorf("%w: %s: missing price", interfaces.ErrInvalidArguments, in.Symbol)
	}

	return interfaces.TokenRecord{
		TokenAddress: in.TokenAddress,
		Symbol:       in.Symbol,
		Price:        price,
	}, nil
}

type SaveTokensRequest struct {
	Tokens []TokenInput `json:"tokens"`
}

type TransferOwnershipRequest struct {
	NewOwner common.Address `json:"newOwner"`
}

// TransactionResponse describes a submitted transaction. Terminal fields are
// set once the transaction is Confirmed or Failed.
type TransactionResponse struct {
	ID          uuid.UUID          `json:"id"`
	TxHash      common.Hash        `json:"txHash"`
	Method      string             `json:"method"`
	State       interfaces.TxState `json:"state"`
	SubmittedAt time.Time          `json:"submittedAt"`

	FinishedAt   *time.Time `json:"finishedAt,omitempty"`
	BlockNumber  string     `json:"blockNumber,omitempty"`
	Error        string     `json:"error,omitempty"`
	RevertReason string     `json:"revertReason,omitempty"`
	RefreshError string     `json:"refreshError,omitempty"`
	// LastPollError is set while receipt queries for a pending transaction fail.
	LastPollError string `json:"lastPollError,omitempty"`
}

type ErrorResponse struct {
	Error string `json:"error"`
	// RevertReason is set for reverted transactions.
	RevertReason string `json:"revertReason,omitempty"`
}
