package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/ruteri/token-registry-sync/api"
	"github.com/ruteri/token-registry-sync/interfaces"
	"github.com/ruteri/token-registry-sync/registrysync"
	"github.com/ruteri/token-registry-sync/txcoord"
)

// maxBodySize is the maximum allowed request body size (1MB).
const maxBodySize = 1024 * 1024

const defaultWaitTimeout = 20 * time.Second

// RequestError carries the status code an error is reported with.
type RequestError struct {
	StatusCode int
	Err        error
}

func (e *RequestError) Error() string {
	return e.Err.Error()
}

func (e *RequestError) Unwrap() error {
	return e.Err
}

// SessionController is satisfied by *session.ConnectionSession.
type SessionController interface {
	Snapshot() interfaces.Session
	Connect(ctx context.Context) error
	SwitchNetwork(ctx context.Context) error
}

// TokenCache is satisfied by *registrysync.Engine.
type TokenCache interface {
	Snapshot() *interfaces.RegistrySnapshot
	Refresh(ctx context.Context) (*interfaces.RegistrySnapshot, error)
	LastArchived() (interfaces.ContentID, bool)
}

// CallBuilder is satisfied by *registry.TokenRegistry.
type CallBuilder interface {
	SaveTokens(records []interfaces.TokenRecord) interfaces.WriteCall
	ClearTokens() interfaces.WriteCall
	TransferOwnership(newOwner common.Address) interfaces.WriteCall
}

// TxSubmitter is satisfied by *txcoord.Coordinator.
type TxSubmitter interface {
	Submit(ctx context.Context, call interfaces.WriteCall) (*txcoord.PendingTransaction, error)
	Pending() []*txcoord.PendingTransaction
	Lookup(id uuid.UUID) (*txcoord.PendingTransaction, bool)
}

// SnapshotArchive is satisfied by *storage.Archive.
type SnapshotArchive interface {
	Snapshot(ctx context.Context, id interfaces.ContentID) (*interfaces.RegistrySnapshot, error)
}

// Handler serves the token registry API on top of the sync client.
type Handler struct {
	session         SessionController
	tokens          TokenCache
	calls           CallBuilder
	txs             TxSubmitter
	archive         SnapshotArchive
	requiredChainID uint64
	waitTimeout     time.Duration
	log             *slog.Logger
}

func NewHandler(session SessionController, tokens TokenCache, calls CallBuilder, txs TxSubmitter, requiredChainID uint64, log *slog.Logger) *Handler {
	return &Handler{
		session:         session,
		tokens:          tokens,
		calls:           calls,
		txs:             txs,
		requiredChainID: requiredChainID,
		waitTimeout:     defaultWaitTimeout,
		log:             log,
	}
}

// SetArchive enables GET /api/public/snapshots/{content_id}.
func (h *Handler) SetArchive(archive SnapshotArchive) {
	h.archive = archive
}

// SetWaitTimeout bounds ?wait=true writes. Non-positive values are ignored.
func (h *Handler) SetWaitTimeout(d time.Duration) {
	if d > 0 {
		h.waitTimeout = d
	}
}

// HandleSession returns the current session.
//
// URL format: GET /api/session
func (h *Handler) HandleSession(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.sessionResponse())
}

// HandleConnect asks the wallet for account access and returns the resulting
// session. A wrong network is reported as 409 with the session in WrongNetwork.
//
// URL format: POST /api/session/connect
func (h *Handler) HandleConnect(w http.ResponseWriter, r *http.Request) {
	if err := h.session.Connect(r.Context()); err != nil {
		h.writeError(w, "connect failed", err)
		return
	}
	h.writeJSON(w, http.StatusOK, h.sessionResponse())
}

// HandleSwitchNetwork asks the wallet to move to the required chain.
//
// URL format: POST /api/session/switch-network
func (h *Handler) HandleSwitchNetwork(w http.ResponseWriter, r *http.Request) {
	if err := h.session.SwitchNetwork(r.Context()); err != nil {
		h.writeError(w, "network switch failed", err)
		return
	}
	h.writeJSON(w, http.StatusOK, h.sessionResponse())
}

// HandleTokens returns the cached snapshot without touching the chain.
//
// URL format: GET /api/tokens
func (h *Handler) HandleTokens(w http.ResponseWriter, r *http.Request) {
	snapshot := h.tokens.Snapshot()
	if snapshot == nil {
		if s := h.session.Snapshot(); s.Status != interfaces.Connected {
			h.writeError(w, "no snapshot", fmt.Errorf("%w: session is %s", interfaces.ErrNotConnected, s.Status))
			return
		}
		h.writeError(w, "no snapshot", &RequestError{StatusCode: http.StatusNotFound, Err: errors.New("registry has not been read yet")})
		return
	}
	h.writeJSON(w, http.StatusOK, h.tokensResponse(snapshot))
}

// HandleRefresh re-reads the registry.
//
// URL format: POST /api/tokens/refresh
func (h *Handler) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	snapshot, err := h.tokens.Refresh(r.Context())
	if err != nil {
		h.writeError(w, "refresh failed", err)
		return
	}
	h.writeJSON(w, http.StatusOK, h.tokensResponse(snapshot))
}

// HandleSaveTokens submits saveTokens.
//
// URL format: POST /api/tokens[?wait=true]
// Request body: api.SaveTokensRequest
func (h *Handler) HandleSaveTokens(w http.ResponseWriter, r *http.Request) {
	var req api.SaveTokensRequest
	if err := decodeBody(w, r, &req); err != nil {
		h.writeError(w, "invalid request", err)
		return
	}

	records := make([]interfaces.TokenRecord, 0, len(req.Tokens))
	for _, in := range req.Tokens {
		rec, err := in.Record()
		if err != nil {
			h.writeError(w, "invalid token", err)
			return
		}
		records = append(records, rec)
	}

	h.submit(w, r, h.calls.SaveTokens(records))
}

// HandleClearTokens submits clearTokens.
//
// URL format: DELETE /api/tokens[?wait=true]
func (h *Handler) HandleClearTokens(w http.ResponseWriter, r *http.Request) {
	h.submit(w, r, h.calls.ClearTokens())
}

// HandleTransferOwnership submits transferOwnership.
//
// URL format: POST /api/owner[?wait=true]
// Request body: api.TransferOwnershipRequest
func (h *Handler) HandleTransferOwnership(w http.ResponseWriter, r *http.Request) {
	var req api.TransferOwnershipRequest
	if err := decodeBody(w, r, &req); err != nil {
		h.writeError(w, "invalid request", err)
		return
	}
	h.submit(w, r, h.calls.TransferOwnership(req.NewOwner))
}

// HandleTransactions lists transactions whose outcome has not been reported.
//
// URL format: GET /api/transactions
func (h *Handler) HandleTransactions(w http.ResponseWriter, r *http.Request) {
	pending := h.txs.Pending()
	out := make([]*api.TransactionResponse, 0, len(pending))
	for _, p := range pending {
		out = append(out, transactionResponse(p.Info(), nil))
	}
	h.writeJSON(w, http.StatusOK, out)
}

// HandleTransaction reports one transaction. A terminal state is returned
// exactly once; afterwards the id is unknown.
//
// URL format: GET /api/transactions/{id}
func (h *Handler) HandleTransaction(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.writeError(w, "invalid id", &RequestError{StatusCode: http.StatusBadRequest, Err: fmt.Errorf("invalid transaction id: %w", err)})
		return
	}

	p, ok := h.txs.Lookup(id)
	if !ok {
		h.writeError(w, "unknown transaction", &RequestError{StatusCode: http.StatusNotFound, Err: fmt.Errorf("transaction %s not found or already reported", id)})
		return
	}

	select {
	case <-p.Done():
		outcome, first := p.Report()
		if !first {
			h.writeError(w, "unknown transaction", &RequestError{StatusCode: http.StatusNotFound, Err: fmt.Errorf("transaction %s already reported", id)})
			return
		}
		h.writeJSON(w, http.StatusOK, transactionResponse(p.Info(), outcome))
	default:
		h.writeJSON(w, http.StatusAccepted, transactionResponse(p.Info(), nil))
	}
}

// HandleArchivedSnapshot serves an archived snapshot by content id.
//
// URL format: GET /api/public/snapshots/{content_id}
func (h *Handler) HandleArchivedSnapshot(w http.ResponseWriter, r *http.Request) {
	if h.archive == nil {
		h.writeError(w, "archive disabled", &RequestError{StatusCode: http.StatusNotFound, Err: errors.New("snapshot archive is not configured")})
		return
	}

	id, err := interfaces.NewContentIDFromHex(chi.URLParam(r, "content_id"))
	if err != nil {
		h.writeError(w, "invalid content id", &RequestError{StatusCode: http.StatusBadRequest, Err: err})
		return
	}

	snapshot, err := h.archive.Snapshot(r.Context(), id)
	if err != nil {
		h.writeError(w, "archived snapshot unavailable", err)
		return
	}
	resp := api.TokensFromSnapshot(snapshot)
	resp.ContentID = id.String()
	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) submit(w http.ResponseWriter, r *http.Request, call interfaces.WriteCall) {
	p, err := h.txs.Submit(r.Context(), call)
	if err != nil {
		h.writeError(w, "submit failed", err)
		return
	}

	if r.URL.Query().Get("wait") != "true" {
		h.writeJSON(w, http.StatusAccepted, transactionResponse(p.Info(), nil))
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.waitTimeout)
	defer cancel()

	outcome, err := p.Wait(ctx)
	switch {
	case errors.Is(err, interfaces.ErrStillPending):
		h.writeJSON(w, http.StatusAccepted, transactionResponse(p.Info(), nil))
	case outcome == nil:
		h.writeError(w, "waiting for transaction failed", err)
	case outcome.State == interfaces.TxFailed:
		h.writeJSON(w, statusFor(outcome.Err), transactionResponse(p.Info(), outcome))
	default:
		h.writeJSON(w, http.StatusOK, transactionResponse(p.Info(), outcome))
	}
}

func (h *Handler) sessionResponse() *api.SessionResponse {
	s := h.session.Snapshot()
	return &api.SessionResponse{
		Status:          s.Status,
		Account:         s.Account,
		ChainID:         s.ChainID,
		RequiredChainID: h.requiredChainID,
	}
}

func (h *Handler) tokensResponse(snapshot *interfaces.RegistrySnapshot) *api.TokensResponse {
	resp := api.TokensFromSnapshot(snapshot)
	if id, ok := h.tokens.LastArchived(); ok {
		resp.ContentID = id.String()
	}
	return resp
}

func transactionResponse(info txcoord.Info, outcome *txcoord.Outcome) *api.TransactionResponse {
	resp := &api.TransactionResponse{
		ID:          info.ID,
		TxHash:      info.TxHash,
		Method:      info.Method,
		State:       info.State,
		SubmittedAt: info.SubmittedAt,

		LastPollError: info.LastPollError,
	}
	if outcome == nil {
		return resp
	}

	finished := outcome.FinishedAt
	resp.State = outcome.State
	resp.FinishedAt = &finished
	resp.Error = outcome.Error
	resp.RefreshError = outcome.RefreshError
	if outcome.Receipt != nil && outcome.Receipt.BlockNumber != nil {
		resp.BlockNumber = outcome.Receipt.BlockNumber.ToInt().String()
	}
	var revert *interfaces.RevertError
	if errors.As(outcome.Err, &revert) {
		resp.RevertReason = revert.Reason
	}
	return resp
}

func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: malformed request body: %w", interfaces.ErrInvalidArguments, err)
	}
	return nil
}

// statusFor maps the client error taxonomy to HTTP status codes.
func statusFor(err error) int {
	var reqErr *RequestError
	switch {
	case errors.As(err, &reqErr):
		return reqErr.StatusCode
	case errors.Is(err, interfaces.ErrWalletNotFound),
		errors.Is(err, interfaces.ErrProviderUnavailable),
		errors.Is(err, interfaces.ErrBackendUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, interfaces.ErrTransactionReverted):
		return http.StatusUnprocessableEntity
	case errors.Is(err, interfaces.ErrProviderRejected),
		errors.Is(err, interfaces.ErrNetworkSwitchRejected):
		return http.StatusForbidden
	case errors.Is(err, interfaces.ErrInvalidArguments),
		errors.Is(err, interfaces.ErrInvalidConfig):
		return http.StatusBadRequest
	case errors.Is(err, interfaces.ErrNotConnected),
		errors.Is(err, interfaces.ErrNetworkMismatch),
		errors.Is(err, registrysync.ErrRefreshSuperseded):
		return http.StatusConflict
	case errors.Is(err, interfaces.ErrStillPending):
		return http.StatusAccepted
	case errors.Is(err, interfaces.ErrContentNotFound):
		return http.StatusNotFound
	case errors.Is(err, interfaces.ErrReadFailed),
		errors.Is(err, interfaces.ErrProviderError):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeError(w http.ResponseWriter, msg string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.log.Error(msg, "err", err, "status", status)
	} else {
		h.log.Debug(msg, "err", err, "status", status)
	}

	resp := api.ErrorResponse{Error: err.Error()}
	var revert *interfaces.RevertError
	if errors.As(err, &revert) {
		resp.RevertReason = revert.Reason
	}
	h.writeJSON(w, status, resp)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.log.Error("Failed to encode response", "err", err)
	}
}
