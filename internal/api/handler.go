package api

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/ClementSutjiatma/niche/internal/auth"
	"github.com/ClementSutjiatma/niche/internal/escrow"
	"github.com/ClementSutjiatma/niche/internal/service"
	"github.com/ClementSutjiatma/niche/internal/store"
	"github.com/ClementSutjiatma/niche/internal/transfer"
)

// Metrics
var (
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "niche_http_requests_total",
		Help: "Total HTTP requests processed, labeled by status code",
	}, []string{"method", "endpoint", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "niche_http_request_duration_seconds",
		Help:    "Latency distribution of HTTP requests",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
	}, []string{"method", "endpoint"})
)

const maxRequestBody = 1 << 20 // 1 MiB

// IdempotencyStore caches responses for replayed deposit requests.
type IdempotencyStore interface {
	LookupIdempotency(ctx context.Context, userID uuid.UUID, key, requestHash string) (*store.StoredResponse, error)
	SaveIdempotency(ctx context.Context, userID uuid.UUID, key, requestHash string, status int, body []byte) error
}

// Handler is the HTTP front-end over the transition executor.
type Handler struct {
	exec *service.Executor
	idem IdempotencyStore
}

func NewHandler(exec *service.Executor, idem IdempotencyStore) *Handler {
	return &Handler{exec: exec, idem: idem}
}

// Register mounts all escrow routes. Everything under /api/v1 requires a
// verified caller.
func (h *Handler) Register(r *mux.Router, authn *auth.Authenticator) {
	apiV1 := r.PathPrefix("/api/v1").Subrouter()
	apiV1.Use(authn.Middleware)

	apiV1.HandleFunc("/escrows", h.OpenDeposit).Methods("POST")
	apiV1.HandleFunc("/escrows", h.ListEscrows).Methods("GET")
	apiV1.HandleFunc("/escrows/{id}", h.GetEscrow).Methods("GET")
	apiV1.HandleFunc("/escrows/{id}/accept", h.action(escrow.Accept{})).Methods("POST")
	apiV1.HandleFunc("/escrows/{id}/reject", h.action(escrow.Reject{})).Methods("POST")
	apiV1.HandleFunc("/escrows/{id}/cancel", h.action(escrow.Cancel{})).Methods("POST")
	apiV1.HandleFunc("/escrows/{id}/confirm", h.Confirm).Methods("POST")
	apiV1.HandleFunc("/escrows/{id}/dispute", h.Dispute).Methods("POST")
	apiV1.HandleFunc("/escrows/{id}/messages", h.GetMessages).Methods("GET")
	apiV1.HandleFunc("/escrows/{id}/messages", h.PostMessage).Methods("POST")
	apiV1.HandleFunc("/listings/{id}/escrow", h.EscrowForListing).Methods("GET")
}

type depositRequest struct {
	ListingID     uuid.UUID `json:"listing_id"`
	DepositAmount int64     `json:"deposit_amount"`
	TotalPrice    int64     `json:"total_price"`
	DepositRef    string    `json:"deposit_ref"`
}

// OpenDeposit creates the escrow. The deposit already sits in the holding
// account; the body carries its receipt. An Idempotency-Key header is
// required so network retries never open two escrows.
func (h *Handler) OpenDeposit(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/escrows"
	timer := prometheus.NewTimer(httpRequestDuration.WithLabelValues("POST", endpoint))
	defer timer.ObserveDuration()

	callerID, ok := auth.UserID(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "not authenticated", "POST", endpoint)
		return
	}

	idempotencyKey := r.Header.Get("Idempotency-Key")
	if idempotencyKey == "" {
		respondError(w, http.StatusBadRequest, "Missing Idempotency-Key header", "POST", endpoint)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody))
	if err != nil {
		respondError(w, http.StatusInternalServerError, "Stream read error", "POST", endpoint)
		return
	}
	hash := sha256.Sum256(body)
	requestHash := hex.EncodeToString(hash[:])

	if cached, err := h.idem.LookupIdempotency(r.Context(), callerID, idempotencyKey, requestHash); err != nil {
		code, msg := mapError(err)
		respondError(w, code, msg, "POST", endpoint)
		return
	} else if cached != nil {
		httpRequestsTotal.WithLabelValues("POST", endpoint, strconv.Itoa(cached.Status)).Inc()
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(cached.Status)
		_, _ = w.Write(cached.Body)
		return
	}

	var req depositRequest
	if err := json.Unmarshal(body, &req); err != nil {
		respondError(w, http.StatusBadRequest, "Malformed JSON body", "POST", endpoint)
		return
	}

	e, err := h.exec.OpenDeposit(r.Context(), callerID, service.OpenDepositRequest{
		ListingID:     req.ListingID,
		DepositAmount: req.DepositAmount,
		TotalPrice:    req.TotalPrice,
		DepositRef:    req.DepositRef,
	})

	status := http.StatusCreated
	var payload any
	if err != nil {
		var msg string
		status, msg = mapError(err)
		payload = map[string]string{"error": msg}
	} else {
		payload = map[string]any{"escrow": e}
	}

	// Cache everything except server-side failures so retries with the same
	// key replay the answer instead of re-running the deposit.
	if respBody, marshalErr := json.Marshal(payload); marshalErr == nil && status < http.StatusInternalServerError {
		_ = h.idem.SaveIdempotency(r.Context(), callerID, idempotencyKey, requestHash, status, respBody)
	}
	respondJSON(w, status, payload, "POST", endpoint)
}

func (h *Handler) GetEscrow(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/escrows/{id}"
	callerID, escrowID, ok := h.callerAndID(w, r, "GET", endpoint)
	if !ok {
		return
	}
	e, err := h.exec.Get(r.Context(), escrowID, callerID)
	if err != nil {
		code, msg := mapError(err)
		respondError(w, code, msg, "GET", endpoint)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"escrow": e}, "GET", endpoint)
}

func (h *Handler) ListEscrows(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/escrows"
	callerID, ok := auth.UserID(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "not authenticated", "GET", endpoint)
		return
	}
	escrows, err := h.exec.ListForUser(r.Context(), callerID)
	if err != nil {
		code, msg := mapError(err)
		respondError(w, code, msg, "GET", endpoint)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"escrows": escrows}, "GET", endpoint)
}

func (h *Handler) EscrowForListing(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/listings/{id}/escrow"
	callerID, listingID, ok := h.callerAndID(w, r, "GET", endpoint)
	if !ok {
		return
	}
	e, err := h.exec.ActiveForListing(r.Context(), listingID, callerID)
	if errors.Is(err, escrow.ErrNotFound) {
		respondJSON(w, http.StatusOK, map[string]any{"escrow": nil}, "GET", endpoint)
		return
	}
	if err != nil {
		code, msg := mapError(err)
		respondError(w, code, msg, "GET", endpoint)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"escrow": e}, "GET", endpoint)
}

// action builds a handler for the body-less transitions.
func (h *Handler) action(act escrow.Action) http.HandlerFunc {
	endpoint := "/escrows/{id}/" + actionPath(act)
	return func(w http.ResponseWriter, r *http.Request) {
		timer := prometheus.NewTimer(httpRequestDuration.WithLabelValues("POST", endpoint))
		defer timer.ObserveDuration()

		callerID, escrowID, ok := h.callerAndID(w, r, "POST", endpoint)
		if !ok {
			return
		}
		e, err := h.exec.Apply(r.Context(), escrowID, callerID, act)
		if err != nil {
			code, msg := mapError(err)
			respondError(w, code, msg, "POST", endpoint)
			return
		}
		respondJSON(w, http.StatusOK, map[string]any{"escrow": e}, "POST", endpoint)
	}
}

type confirmRequest struct {
	PaymentRef string `json:"payment_ref"`
}

// Confirm dispatches on the caller's role: the buyer confirms with the
// remaining payment receipt, the seller confirms handoff which triggers the
// release.
func (h *Handler) Confirm(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/escrows/{id}/confirm"
	timer := prometheus.NewTimer(httpRequestDuration.WithLabelValues("POST", endpoint))
	defer timer.ObserveDuration()

	callerID, escrowID, ok := h.callerAndID(w, r, "POST", endpoint)
	if !ok {
		return
	}

	var req confirmRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "Malformed JSON body", "POST", endpoint)
		return
	}

	current, err := h.exec.Get(r.Context(), escrowID, callerID)
	if err != nil {
		code, msg := mapError(err)
		respondError(w, code, msg, "POST", endpoint)
		return
	}

	var act escrow.Action
	role, _ := current.RoleOf(callerID)
	if role == escrow.RoleBuyer {
		act = escrow.BuyerConfirm{PaymentRef: req.PaymentRef}
	} else {
		act = escrow.SellerConfirm{}
	}

	e, err := h.exec.Apply(r.Context(), escrowID, callerID, act)
	if err != nil {
		code, msg := mapError(err)
		respondError(w, code, msg, "POST", endpoint)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"escrow": e, "role": role}, "POST", endpoint)
}

type disputeRequest struct {
	Reason string `json:"reason"`
}

func (h *Handler) Dispute(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/escrows/{id}/dispute"
	callerID, escrowID, ok := h.callerAndID(w, r, "POST", endpoint)
	if !ok {
		return
	}
	var req disputeRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "Malformed JSON body", "POST", endpoint)
		return
	}
	e, err := h.exec.Apply(r.Context(), escrowID, callerID, escrow.Dispute{Reason: req.Reason})
	if err != nil {
		code, msg := mapError(err)
		respondError(w, code, msg, "POST", endpoint)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"escrow": e}, "POST", endpoint)
}

type messageRequest struct {
	Body string `json:"body"`
}

func (h *Handler) PostMessage(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/escrows/{id}/messages"
	callerID, escrowID, ok := h.callerAndID(w, r, "POST", endpoint)
	if !ok {
		return
	}
	var req messageRequest
	if err := decodeBody(r, &req); err != nil {
		respondError(w, http.StatusBadRequest, "Malformed JSON body", "POST", endpoint)
		return
	}
	m, err := h.exec.PostMessage(r.Context(), escrowID, callerID, req.Body)
	if err != nil {
		code, msg := mapError(err)
		respondError(w, code, msg, "POST", endpoint)
		return
	}
	respondJSON(w, http.StatusCreated, map[string]any{"message": m}, "POST", endpoint)
}

func (h *Handler) GetMessages(w http.ResponseWriter, r *http.Request) {
	const endpoint = "/escrows/{id}/messages"
	callerID, escrowID, ok := h.callerAndID(w, r, "GET", endpoint)
	if !ok {
		return
	}
	messages, err := h.exec.Messages(r.Context(), escrowID, callerID)
	if err != nil {
		code, msg := mapError(err)
		respondError(w, code, msg, "GET", endpoint)
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"messages": messages}, "GET", endpoint)
}

// Helpers

func (h *Handler) callerAndID(w http.ResponseWriter, r *http.Request, method, endpoint string) (uuid.UUID, uuid.UUID, bool) {
	callerID, ok := auth.UserID(r.Context())
	if !ok {
		respondError(w, http.StatusUnauthorized, "not authenticated", method, endpoint)
		return uuid.Nil, uuid.Nil, false
	}
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid id", method, endpoint)
		return uuid.Nil, uuid.Nil, false
	}
	return callerID, id, true
}

func decodeBody(r *http.Request, dst any) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody))
	if err != nil {
		return err
	}
	if len(body) == 0 {
		return nil
	}
	return json.Unmarshal(body, dst)
}

// mapError translates the typed error taxonomy to HTTP statuses. A transfer
// timeout maps to 504: the transfer's status is unknown and the escrow has
// not moved, so the caller retries with the same intent rather than assuming
// failure.
func mapError(err error) (int, string) {
	var invalidState *escrow.InvalidStateError
	var validation *escrow.ValidationError
	var roleErr *escrow.RoleError
	var transferFailed *transfer.FailedError

	switch {
	case errors.Is(err, escrow.ErrNotFound):
		return http.StatusNotFound, "escrow not found"
	case errors.Is(err, service.ErrListingNotFound):
		return http.StatusNotFound, "listing not found"
	case errors.Is(err, escrow.ErrNotParty):
		return http.StatusForbidden, escrow.ErrNotParty.Error()
	case errors.As(err, &roleErr):
		return http.StatusForbidden, roleErr.Error()
	case errors.As(err, &invalidState):
		return http.StatusConflict, invalidState.Error()
	case errors.As(err, &validation):
		return http.StatusUnprocessableEntity, validation.Error()
	case errors.Is(err, service.ErrActiveEscrowExists):
		return http.StatusConflict, service.ErrActiveEscrowExists.Error()
	case errors.Is(err, store.ErrListingUnavailable):
		return http.StatusConflict, store.ErrListingUnavailable.Error()
	case errors.Is(err, store.ErrIdempotencyMismatch):
		return http.StatusUnprocessableEntity, "Key reuse with mismatched payload"
	case errors.Is(err, service.ErrConflict):
		return http.StatusConflict, "escrow was modified concurrently, re-read and retry"
	case errors.Is(err, transfer.ErrTimeout):
		return http.StatusGatewayTimeout, "transfer status unknown, retry later"
	case errors.As(err, &transferFailed):
		return http.StatusBadGateway, transferFailed.Error()
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

func actionPath(act escrow.Action) string {
	switch act.(type) {
	case escrow.Accept:
		return "accept"
	case escrow.Reject:
		return "reject"
	case escrow.Cancel:
		return "cancel"
	default:
		return "action"
	}
}

func respondJSON(w http.ResponseWriter, code int, payload any, method, endpoint string) {
	httpRequestsTotal.WithLabelValues(method, endpoint, strconv.Itoa(code)).Inc()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, code int, msg, method, endpoint string) {
	respondJSON(w, code, map[string]string{"error": msg}, method, endpoint)
}
