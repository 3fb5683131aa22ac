package main

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"escrowflow/agreement"
	"escrowflow/auth"
)

type ctxKey string

const ctxKeyAddress ctxKey = "address"

// escrowService is the subset of *agreement.Service the handlers use.
type escrowService interface {
	InitiateAgreement(ctx context.Context, initiator, partner agreement.Address, amount *big.Int, durationUnits uint64) (agreement.Agreement, error)
	GetAgreement(ctx context.Context, id int64) (agreement.Agreement, error)
	SignAgreement(ctx context.Context, caller agreement.Address, id int64) (agreement.Agreement, error)
	Deposit(ctx context.Context, caller agreement.Address, id int64, value *big.Int) (agreement.Agreement, error)
	ConfirmFulfilment(ctx context.Context, caller agreement.Address, id int64) (agreement.Agreement, error)
	ListAgreements(ctx context.Context, filters agreement.ListFilters) ([]agreement.Agreement, int, error)
	Timeline(ctx context.Context, id int64) ([]agreement.TimelineEvent, error)
	Custody(ctx context.Context) (agreement.CustodySnapshot, error)
}

type authService interface {
	Register(ctx context.Context, req auth.RegisterRequest) (*auth.Party, error)
	Login(ctx context.Context, req auth.LoginRequest) (auth.LoginResult, error)
	VerifyToken(token string) (agreement.Address, error)
}

type Server struct {
	escrowService escrowService
	authService   authService
}

func NewServer(escrowService escrowService, authService authService) *Server {
	return &Server{escrowService: escrowService, authService: authService}
}

func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })

	r.Route("/api", func(api chi.Router) {
		api.Post("/auth/register", s.handleRegister)
		api.Post("/auth/login", s.handleLogin)

		api.Group(func(authed chi.Router) {
			authed.Use(s.requireParty)
			authed.Post("/agreements", s.handleInitiate)
			authed.Get("/agreements", s.handleList)
			authed.Get("/agreements/{id}", s.handleGet)
			authed.Post("/agreements/{id}/sign", s.handleSign)
			authed.Post("/agreements/{id}/deposit", s.handleDeposit)
			authed.Post("/agreements/{id}/confirm", s.handleConfirm)
			authed.Get("/agreements/{id}/timeline", s.handleTimeline)
			authed.Get("/custody", s.handleCustody)
		})
	})
	return r
}

func (s *Server) requireParty(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || strings.TrimSpace(token) == "" {
			writeError(w, http.StatusUnauthorized, "UNAUTHENTICATED", "missing bearer token")
			return
		}
		address, err := s.authService.VerifyToken(strings.TrimSpace(token))
		if err != nil {
			writeError(w, http.StatusUnauthorized, "UNAUTHENTICATED", "invalid token")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKeyAddress, address)))
	})
}

func callerFrom(ctx context.Context) agreement.Address {
	address, _ := ctx.Value(ctxKeyAddress).(agreement.Address)
	return address
}

type credentialsRequest struct {
	Address  string `json:"address"`
	Password string `json:"password"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_JSON", err.Error())
		return
	}
	party, err := s.authService.Register(r.Context(), auth.RegisterRequest{
		Address:  agreement.Address(req.Address),
		Password: req.Password,
	})
	switch {
	case err == nil:
		writeJSON(w, http.StatusCreated, map[string]any{
			"id":        party.ID,
			"address":   string(party.Address),
			"createdAt": party.CreatedAt.Format(time.RFC3339),
		})
	case errors.Is(err, auth.ErrWeakPassword), errors.Is(err, auth.ErrInvalidAddress):
		writeError(w, http.StatusBadRequest, "INVALID_REGISTRATION", err.Error())
	case errors.Is(err, auth.ErrDuplicateAddress):
		writeError(w, http.StatusConflict, "DUPLICATE_ADDRESS", err.Error())
	default:
		log.Printf("api: register: %v", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL", "internal error")
	}
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_JSON", err.Error())
		return
	}
	res, err := s.authService.Login(r.Context(), auth.LoginRequest{
		Address:  agreement.Address(req.Address),
		Password: req.Password,
	})
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]any{
			"token":     res.Token,
			"expiresAt": res.ExpiresAt.UTC().Format(time.RFC3339),
			"address":   string(res.Party.Address),
		})
	case errors.Is(err, auth.ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, "INVALID_CREDENTIALS", err.Error())
	default:
		log.Printf("api: login: %v", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL", "internal error")
	}
}

type initiateRequest struct {
	Partner       string `json:"partner"`
	Amount        string `json:"amount"`
	DurationUnits uint64 `json:"durationUnits"`
}

func (s *Server) handleInitiate(w http.ResponseWriter, r *http.Request) {
	var req initiateRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_JSON", err.Error())
		return
	}
	amount, err := agreement.ParseAmount(req.Amount)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	ag, err := s.escrowService.InitiateAgreement(r.Context(), callerFrom(r.Context()), agreement.Address(req.Partner), amount, req.DurationUnits)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toAgreementResponse(ag))
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filters := agreement.ListFilters{Party: callerFrom(r.Context())}
	if raw := q.Get("state"); raw != "" {
		st, err := agreement.ParseState(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_STATE_FILTER", err.Error())
			return
		}
		filters.State = &st
	}
	filters.Page, _ = strconv.Atoi(q.Get("page"))
	filters.PageSize, _ = strconv.Atoi(q.Get("pageSize"))

	items, total, err := s.escrowService.ListAgreements(r.Context(), filters)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	out := make([]agreementResponse, 0, len(items))
	for _, ag := range items {
		out = append(out, toAgreementResponse(ag))
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": out, "total": total})
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	id, ok := agreementID(w, r)
	if !ok {
		return
	}
	ag, err := s.escrowService.GetAgreement(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toAgreementResponse(ag))
}

func (s *Server) handleSign(w http.ResponseWriter, r *http.Request) {
	id, ok := agreementID(w, r)
	if !ok {
		return
	}
	ag, err := s.escrowService.SignAgreement(r.Context(), callerFrom(r.Context()), id)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toAgreementResponse(ag))
}

type depositRequest struct {
	Value string `json:"value"`
}

func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	id, ok := agreementID(w, r)
	if !ok {
		return
	}
	var req depositRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "BAD_JSON", err.Error())
		return
	}
	// An unparsable value is a mismatch, reported after caller and state checks.
	value, err := agreement.ParseAmount(req.Value)
	if err != nil {
		value = nil
	}
	ag, err := s.escrowService.Deposit(r.Context(), callerFrom(r.Context()), id, value)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toAgreementResponse(ag))
}

func (s *Server) handleConfirm(w http.ResponseWriter, r *http.Request) {
	id, ok := agreementID(w, r)
	if !ok {
		return
	}
	ag, err := s.escrowService.ConfirmFulfilment(r.Context(), callerFrom(r.Context()), id)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toAgreementResponse(ag))
}

type timelineEventResponse struct {
	Seq       int             `json:"seq"`
	Type      string          `json:"type"`
	Actor     string          `json:"actor"`
	CreatedAt string          `json:"createdAt"`
	Payload   json.RawMessage `json:"payload"`
}

func (s *Server) handleTimeline(w http.ResponseWriter, r *http.Request) {
	id, ok := agreementID(w, r)
	if !ok {
		return
	}
	events, err := s.escrowService.Timeline(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	out := make([]timelineEventResponse, 0, len(events))
	for _, ev := range events {
		out = append(out, timelineEventResponse{
			Seq:       ev.Seq,
			Type:      string(ev.Type),
			Actor:     string(ev.Actor),
			CreatedAt: ev.CreatedAt.UTC().Format(time.RFC3339),
			Payload:   json.RawMessage(ev.Payload),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": out})
}

func (s *Server) handleCustody(w http.ResponseWriter, r *http.Request) {
	snap, err := s.escrowService.Custody(r.Context())
	if err != nil {
		s.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"total":    snap.Total.String(),
		"released": snap.Released.String(),
		"settled":  snap.Settled,
		"holdings": len(snap.Held),
	})
}

func agreementID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "INVALID_ID", "agreement id must be a positive integer")
		return 0, false
	}
	return id, true
}

func (s *Server) writeServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, agreement.ErrInvalidParty):
		writeError(w, http.StatusBadRequest, "INVALID_PARTY", err.Error())
	case errors.Is(err, agreement.ErrInvalidAmount):
		writeError(w, http.StatusBadRequest, "INVALID_AMOUNT", err.Error())
	case errors.Is(err, agreement.ErrAmountMismatch):
		writeError(w, http.StatusBadRequest, "AMOUNT_MISMATCH", err.Error())
	case errors.Is(err, agreement.ErrUnauthorized):
		writeError(w, http.StatusForbidden, "UNAUTHORIZED", err.Error())
	case errors.Is(err, agreement.ErrNotFound):
		writeError(w, http.StatusNotFound, "NOT_FOUND", err.Error())
	case errors.Is(err, agreement.ErrInvalidState):
		writeError(w, http.StatusConflict, "INVALID_STATE", err.Error())
	case errors.Is(err, agreement.ErrNotInitialized):
		writeError(w, http.StatusServiceUnavailable, "NOT_INITIALIZED", err.Error())
	default:
		log.Printf("api: unexpected error: %v", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL", "internal error")
	}
}

type settlementResponse struct {
	Payee     string `json:"payee"`
	Amount    string `json:"amount"`
	Policy    string `json:"policy"`
	SettledAt string `json:"settledAt"`
}

type agreementResponse struct {
	ID              int64               `json:"id"`
	Initiator       string              `json:"initiator"`
	Partner         string              `json:"partner"`
	AgreementAmount string              `json:"agreementAmount"`
	DurationUnits   uint64              `json:"durationUnits"`
	Signed          bool                `json:"signed"`
	State           string              `json:"state"`
	DepositedAmount string              `json:"depositedAmount"`
	Settlement      *settlementResponse `json:"settlement,omitempty"`
	CreatedAt       string              `json:"createdAt"`
	UpdatedAt       string              `json:"updatedAt"`
}

func toAgreementResponse(ag agreement.Agreement) agreementResponse {
	resp := agreementResponse{
		ID:              ag.ID,
		Initiator:       string(ag.Initiator),
		Partner:         string(ag.Partner),
		AgreementAmount: ag.AgreementAmount.String(),
		DurationUnits:   ag.DurationUnits,
		Signed:          ag.Signed,
		State:           ag.State.String(),
		DepositedAmount: ag.DepositedAmount.String(),
		CreatedAt:       ag.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:       ag.UpdatedAt.UTC().Format(time.RFC3339),
	}
	if ag.Settlement != nil {
		resp.Settlement = &settlementResponse{
			Payee:     string(ag.Settlement.Payee),
			Amount:    ag.Settlement.Amount.String(),
			Policy:    string(ag.Settlement.Policy),
			SettledAt: ag.Settlement.SettledAt.UTC().Format(time.RFC3339),
		}
	}
	return resp
}

func newRequestID() string { return "req_" + uuid.NewString() }

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("content-type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func readJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]any{
		"request_id": newRequestID(),
		"error": map[string]any{
			"code":    code,
			"message": message,
		},
	})
}
