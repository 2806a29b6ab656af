package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"safety-cloud/internal/audit"
	"safety-cloud/internal/auth"
	notifapp "safety-cloud/internal/notifications/application"
	notifications "safety-cloud/internal/notifications/domain"
	"safety-cloud/internal/paging"
)

const maxBodyBytes = 1 << 12

// Handler provides the recipient notification endpoints. The recipient is
// always the authenticated caller.
type Handler struct {
	ledger      *notifapp.Ledger
	logger      *zap.Logger
	auditLogger audit.Logger
}

// HandlerOption configures the handler.
type HandlerOption func(*Handler)

// WithAuditLogger records device token registrations.
func WithAuditLogger(logger audit.Logger) HandlerOption {
	return func(h *Handler) {
		h.auditLogger = logger
	}
}

// NewHandler constructs a handler.
func NewHandler(ledger *notifapp.Ledger, logger *zap.Logger, opts ...HandlerOption) (*Handler, error) {
	if ledger == nil {
		return nil, errors.New("notifications handler: nil ledger")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Handler{ledger: ledger, logger: logger}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h, nil
}

type registerRequest struct {
	DeviceToken string `json:"deviceToken"`
}

type readResponse struct {
	Count int64 `json:"count"`
}

// ServeHTTP handles /notification and subroutes.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	recipientID, ok := auth.RecipientIDFromContext(r.Context())
	if !ok {
		http.Error(w, auth.ErrUnauthorized.Error(), http.StatusUnauthorized)
		return
	}

	switch strings.TrimSuffix(r.URL.Path, "/") {
	case "/notification":
		switch r.Method {
		case http.MethodGet:
			h.handleList(w, r, recipientID)
		case http.MethodPost:
			h.handleRegister(w, r, recipientID)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	case "/notification/read":
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.handleRead(w, r, recipientID)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request, recipientID int64) {
	query := r.URL.Query()
	page, err := paging.Parse(query.Get("pageNum"), query.Get("pageSize"))
	if err != nil {
		h.respondError(w, err)
		return
	}
	result, err := h.ledger.ListForRecipient(r.Context(), recipientID, page)
	if err != nil {
		h.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request, recipientID int64) {
	var req registerRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if err := h.ledger.RegisterDeviceToken(r.Context(), recipientID, req.DeviceToken); err != nil {
		h.respondError(w, err)
		return
	}
	h.logAudit(r, recipientID)
	w.WriteHeader(http.StatusNoContent)
}

// logAudit records the registration without the token itself.
func (h *Handler) logAudit(r *http.Request, recipientID int64) {
	if h.auditLogger == nil {
		return
	}
	actor := strconv.FormatInt(recipientID, 10)
	if err := h.auditLogger.Log(r.Context(), audit.Entry{
		Actor:        actor,
		Role:         string(auth.RoleFromContext(r.Context())),
		Action:       "notification.device_token",
		ResourceType: "recipient",
		ResourceID:   actor,
		IP:           audit.ClientIP(r),
		UserAgent:    r.UserAgent(),
	}); err != nil {
		h.logger.Warn("audit log failed", zap.Error(err))
	}
}

func (h *Handler) handleRead(w http.ResponseWriter, r *http.Request, recipientID int64) {
	count, err := h.ledger.MarkAllRead(r.Context(), recipientID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, readResponse{Count: count})
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, paging.ErrInvalid), errors.Is(err, notifications.ErrInvalidDeviceToken):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, notifications.ErrRecipientNotFound):
		http.Error(w, "recipient not found", http.StatusNotFound)
	default:
		h.logger.Error("notification request failed", zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
