package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/ruteri/token-registry-sync/api"
	"github.com/ruteri/token-registry-sync/interfaces"
)

// ErrPending is returned by Transaction while the transaction is unconfirmed.
var ErrPending = errors.New("transaction pending")

// StatusError is returned for any non-2xx response.
type StatusError struct {
	StatusCode   int
	Message      string
	RevertReason string
}

func (e *StatusError) Error() string {
	if e.RevertReason != "" {
		return fmt.Sprintf("server returned %d: %s (revert reason: %s)", e.StatusCode, e.Message, e.RevertReason)
	}
	return fmt.Sprintf("server returned %d: %s", e.StatusCode, e.Message)
}

// SyncClient talks to the token registry sync HTTP server.
type SyncClient struct {
	// ServerAddr is the base URL of the server, e.g. http://127.0.0.1:8080
	ServerAddr string

	// HTTPClient defaults to http.DefaultClient
	HTTPClient *http.Client
}

func NewSyncClient(serverAddr string) *SyncClient {
	return &SyncClient{ServerAddr: serverAddr}
}

func (c *SyncClient) Session(ctx context.Context) (*api.SessionResponse, error) {
	var resp api.SessionResponse
	if _, err := c.do(ctx, http.MethodGet, "/api/session", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *SyncClient) Connect(ctx context.Context) (*api.SessionResponse, error) {
	var resp api.SessionResponse
	if _, err := c.do(ctx, http.MethodPost, "/api/session/connect", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *SyncClient) SwitchNetwork(ctx context.Context) (*api.SessionResponse, error) {
	var resp api.SessionResponse
	if _, err := c.do(ctx, http.MethodPost, "/api/session/switch-network", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Tokens returns the server's cached snapshot.
func (c *SyncClient) Tokens(ctx context.Context) (*api.TokensResponse, error) {
	var resp api.TokensResponse
	if _, err := c.do(ctx, http.MethodGet, "/api/tokens", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Refresh forces a registry read.
func (c *SyncClient) Refresh(ctx context.Context) (*api.TokensResponse, error) {
	var resp api.TokensResponse
	if _, err := c.do(ctx, http.MethodPost, "/api/tokens/refresh", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// SaveTokens submits a saveTokens transaction. With wait set the server holds
// the request until the transaction is final or its wait timeout passes.
func (c *SyncClient) SaveTokens(ctx context.Context, tokens []api.TokenInput, wait bool) (*api.TransactionResponse, error) {
	return c.write(ctx, http.MethodPost, "/api/tokens", &api.SaveTokensRequest{Tokens: tokens}, wait)
}

func (c *SyncClient) ClearTokens(ctx context.Context, wait bool) (*api.TransactionResponse, error) {
	return c.write(ctx, http.MethodDelete, "/api/tokens", nil, wait)
}

func (c *SyncClient) TransferOwnership(ctx context.Context, newOwner common.Address, wait bool) (*api.TransactionResponse, error) {
	return c.write(ctx, http.MethodPost, "/api/owner", &api.TransferOwnershipRequest{NewOwner: newOwner}, wait)
}

// Transactions lists transactions whose outcome has not been reported yet.
func (c *SyncClient) Transactions(ctx context.Context) ([]api.TransactionResponse, error) {
	var resp []api.TransactionResponse
	if _, err := c.do(ctx, http.MethodGet, "/api/transactions", nil, &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// Transaction fetches one transaction. While it is unconfirmed the returned
// error wraps ErrPending. A terminal outcome is served only once.
func (c *SyncClient) Transaction(ctx context.Context, id uuid.UUID) (*api.TransactionResponse, error) {
	var resp api.TransactionResponse
	status, err := c.do(ctx, http.MethodGet, "/api/transactions/"+id.String(), nil, &resp)
	if err != nil {
		return nil, err
	}
	if status == http.StatusAccepted {
		return &resp, fmt.Errorf("%w: %s", ErrPending, resp.TxHash.Hex())
	}
	return &resp, nil
}

// ArchivedSnapshot fetches an archived snapshot by content id.
func (c *SyncClient) ArchivedSnapshot(ctx context.Context, id interfaces.ContentID) (*api.TokensResponse, error) {
	var resp api.TokensResponse
	if _, err := c.do(ctx, http.MethodGet, "/api/public/snapshots/"+id.String(), nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *SyncClient) write(ctx context.Context, method, path string, body interface{}, wait bool) (*api.TransactionResponse, error) {
	if wait {
		path += "?wait=true"
	}

	var resp api.TransactionResponse
	status, err := c.do(ctx, method, path, body, &resp)
	if err != nil {
		return nil, err
	}
	// A reverted transaction is reported with its outcome in the body.
	if status == http.StatusUnprocessableEntity {
		return &resp, &StatusError{StatusCode: status, Message: resp.Error, RevertReason: resp.RevertReason}
	}
	return &resp, nil
}

func (c *SyncClient) do(ctx context.Context, method, path string, body, out interface{}) (int, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return 0, fmt.Errorf("could not encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.ServerAddr+path, reader)
	if err != nil {
		return 0, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	httpClient := c.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("could not request %s: %w", path, err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, fmt.Errorf("could not read response: %w", err)
	}

	if resp.StatusCode >= 300 && resp.StatusCode != http.StatusUnprocessableEntity {
		var errResp api.ErrorResponse
		if json.Unmarshal(bodyBytes, &errResp) != nil || errResp.Error == "" {
			errResp.Error = string(bytes.TrimSpace(bodyBytes))
		}
		return resp.StatusCode, &StatusError{StatusCode: resp.StatusCode, Message: errResp.Error, RevertReason: errResp.RevertReason}
	}

	if out != nil {
		if err := json.Unmarshal(bodyBytes, out); err != nil {
			return resp.StatusCode, fmt.Errorf("could not parse response: %w", err)
		}
	}
	return resp.StatusCode, nil
}
