package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"fleetguardian/internal/audit"
	"fleetguardian/internal/auth"
	intentsapp "fleetguardian/internal/intents/application"
	intents "fleetguardian/internal/intents/domain"
)

const maxBodyBytes = 64 << 10

// Sender is the intent service surface the handler needs.
type Sender interface {
	Send(ctx context.Context, req intentsapp.SendRequest) (*intents.Intent, error)
	List(ctx context.Context, target string, limit int) ([]intents.Intent, error)
}

// Handler provides intent HTTP endpoints.
type Handler struct {
	service     Sender
	auditLogger audit.Logger
}

// NewHandler constructs a handler.
func NewHandler(service Sender, auditLogger audit.Logger) (*Handler, error) {
	if service == nil {
		return nil, errors.New("intents handler: nil service")
	}
	return &Handler{service: service, auditLogger: auditLogger}, nil
}

// ServeHTTP handles POST/GET /api/v1/intents.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.handlePost(w, r)
	case http.MethodGet:
		h.handleGet(w, r)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (h *Handler) handlePost(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		http.Error(w, "read body error", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	var req intentsapp.SendRequest
	if err := json.Unmarshal(body, &req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if key := r.Header.Get("Idempotency-Key"); key != "" && req.IdempotencyKey == "" {
		req.IdempotencyKey = key
	}

	intent, err := h.service.Send(r.Context(), req)
	if err != nil {
		respondError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(intent)

	h.logAudit(r, intent)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	target := r.URL.Query().Get("target")
	if target == "" {
		http.Error(w, "target required", http.StatusBadRequest)
		return
	}
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil || value <= 0 {
			http.Error(w, "limit must be a positive integer", http.StatusBadRequest)
			return
		}
		limit = value
	}

	list, err := h.service.List(r.Context(), target, limit)
	if err != nil {
		respondError(w, err)
		return
	}
	if list == nil {
		list = []intents.Intent{}
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(list)
}

func (h *Handler) logAudit(r *http.Request, intent *intents.Intent) {
	if h.auditLogger == nil || intent == nil {
		return
	}
	meta, _ := json.Marshal(map[string]any{
		"kind":            intent.Kind,
		"idempotency_key": intent.IdempotencyKey,
	})
	_ = h.auditLogger.Log(r.Context(), audit.Entry{
		OrganizationID: intent.OrganizationID,
		BranchID:       intent.BranchID,
		Actor:          auth.SubjectFromContext(r.Context()),
		Role:           string(auth.RoleFromContext(r.Context())),
		Action:         "intent.send",
		ResourceType:   "intent",
		ResourceID:     intent.ID,
		DeviceID:       intent.Target,
		Metadata:       meta,
		IP:             audit.ClientIP(r),
		UserAgent:      r.UserAgent(),
	})
}

// RespondError maps intent and tenant errors to status codes.
func RespondError(w http.ResponseWriter, err error) {
	respondError(w, err)
}

func respondError(w http.ResponseWriter, err error) {
	switch {
	case err == nil:
		return
	case errors.Is(err, intentsapp.ErrInvalidTarget),
		errors.Is(err, intents.ErrUnknownKind),
		errors.Is(err, intents.ErrInvalidPayload):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, auth.ErrMissingTenant), errors.Is(err, auth.ErrInvalidTenant):
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	case errors.Is(err, auth.ErrTenantMismatch):
		http.Error(w, "forbidden", http.StatusForbidden)
	case errors.Is(err, auth.ErrNotFound):
		http.Error(w, "not found", http.StatusNotFound)
	default:
		http.Error(w, "intent write failed", http.StatusBadGateway)
	}
}
