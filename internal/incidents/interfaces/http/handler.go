package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"safety-cloud/internal/audit"
	"safety-cloud/internal/auth"
	incidentapp "safety-cloud/internal/incidents/application"
	incidents "safety-cloud/internal/incidents/domain"
	notifications "safety-cloud/internal/notifications/domain"
	"safety-cloud/internal/observability/metrics"
	"safety-cloud/internal/paging"
)

const maxBodyBytes = 1 << 16

// Handler provides incident endpoints.
type Handler struct {
	service     *incidentapp.Service
	logger      *zap.Logger
	auditLogger audit.Logger
}

// HandlerOption configures the handler.
type HandlerOption func(*Handler)

// WithAuditLogger records closes and exports.
func WithAuditLogger(logger audit.Logger) HandlerOption {
	return func(h *Handler) {
		h.auditLogger = logger
	}
}

// NewHandler constructs a handler.
func NewHandler(service *incidentapp.Service, logger *zap.Logger, opts ...HandlerOption) (*Handler, error) {
	if service == nil {
		return nil, errors.New("incidents handler: nil service")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Handler{service: service, logger: logger}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h, nil
}

type openRequest struct {
	StreamKey string     `json:"streamKey"`
	Type      string     `json:"type"`
	StartAt   *time.Time `json:"startAt,omitempty"`
}

type closeRequest struct {
	ID       int64      `json:"id"`
	VideoURL string     `json:"videoUrl,omitempty"`
	EndAt    *time.Time `json:"endAt,omitempty"`
}

type redispatchRequest struct {
	ID int64 `json:"id"`
}

type fanoutResponse struct {
	Status  string `json:"status"`
	Sent    int    `json:"sent"`
	Failed  int    `json:"failed"`
	Skipped int    `json:"skipped"`
	Error   string `json:"error,omitempty"`
}

type openResponse struct {
	ID     int64          `json:"id"`
	Fanout fanoutResponse `json:"fanout"`
}

// ServeHTTP handles /incident and subroutes.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimSuffix(r.URL.Path, "/")
	switch {
	case path == "/incident":
		switch r.Method {
		case http.MethodPost:
			h.handleOpen(w, r)
		case http.MethodGet:
			h.handleList(w, r)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	case path == "/incident/end":
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.handleClose(w, r)
	case path == "/incident/redispatch":
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.handleRedispatch(w, r)
	case path == "/incident/date":
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.handleDay(w, r)
	case path == "/incident/export.xlsx" || path == "/incident/export.pdf":
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.handleExport(w, r, strings.TrimPrefix(path, "/incident/export."))
	case strings.HasPrefix(path, "/incident/stream/"):
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.handleByStream(w, r, strings.TrimPrefix(path, "/incident/stream/"))
	case strings.HasPrefix(path, "/incident/detail/"):
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.handleDetail(w, r, strings.TrimPrefix(path, "/incident/detail/"))
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *Handler) handleOpen(w http.ResponseWriter, r *http.Request) {
	var req openRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	cmd := incidentapp.OpenCommand{StreamKey: req.StreamKey, Type: req.Type}
	if req.StartAt != nil {
		cmd.StartAt = *req.StartAt
	}
	result, err := h.service.OpenIncident(r.Context(), cmd)
	if err != nil {
		h.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, openResponse{
		ID:     result.Incident.ID,
		Fanout: fanoutStatus(result.Fanout, result.FanoutErr),
	})
}

func fanoutStatus(outcome notifications.Outcome, err error) fanoutResponse {
	resp := fanoutResponse{
		Status:  incidentapp.FanoutStatus(outcome, err),
		Sent:    outcome.Sent,
		Failed:  outcome.Failed,
		Skipped: outcome.Skipped,
	}
	if err != nil {
		resp.Error = err.Error()
	}
	return resp
}

func (h *Handler) handleRedispatch(w http.ResponseWriter, r *http.Request) {
	var req redispatchRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	result, err := h.service.Redispatch(r.Context(), req.ID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	fanout := fanoutStatus(result.Fanout, result.FanoutErr)
	h.logAudit(r, "incident.redispatch", "incident", strconv.FormatInt(result.Incident.ID, 10), map[string]any{"fanout": fanout.Status})
	writeJSON(w, http.StatusOK, openResponse{ID: result.Incident.ID, Fanout: fanout})
}

func (h *Handler) handleClose(w http.ResponseWriter, r *http.Request) {
	var req closeRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	cmd := incidentapp.CloseCommand{ID: req.ID, VideoURL: req.VideoURL}
	if req.EndAt != nil {
		cmd.EndAt = *req.EndAt
	}
	closed, err := h.service.CloseIncident(r.Context(), cmd)
	if err != nil {
		h.respondError(w, err)
		return
	}
	h.logAudit(r, "incident.close", "incident", strconv.FormatInt(closed.ID, 10), map[string]any{"videoUrl": closed.VideoURL})
	writeJSON(w, http.StatusCreated, struct{}{})
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	page, err := paging.Parse(query.Get("pageNum"), query.Get("pageSize"))
	if err != nil {
		h.respondError(w, err)
		return
	}
	result, err := h.service.ListIncidents(r.Context(), page)
	if err != nil {
		h.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) handleDay(w http.ResponseWriter, r *http.Request) {
	day, err := h.service.ListByDay(r.Context(), r.URL.Query().Get("date"))
	if err != nil {
		h.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, day.Incidents)
}

func (h *Handler) handleByStream(w http.ResponseWriter, r *http.Request, key string) {
	list, err := h.service.ListByStream(r.Context(), key)
	if err != nil {
		h.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *Handler) handleDetail(w http.ResponseWriter, r *http.Request, rawID string) {
	id, err := strconv.ParseInt(rawID, 10, 64)
	if err != nil {
		http.Error(w, incidents.ErrInvalidID.Error(), http.StatusBadRequest)
		return
	}
	detail, err := h.service.GetWithStream(r.Context(), id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

func (h *Handler) handleExport(w http.ResponseWriter, r *http.Request, format string) {
	started := time.Now()
	day, err := h.service.ListByDay(r.Context(), r.URL.Query().Get("date"))
	if err != nil {
		metrics.ObserveExport(format, metrics.ResultError, time.Since(started))
		h.respondError(w, err)
		return
	}

	var (
		data        []byte
		contentType string
	)
	switch format {
	case "pdf":
		data, err = BuildDayReportPDF(day)
		contentType = "application/pdf"
	default:
		data, err = BuildDayReportXLSX(day)
		contentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	}
	if err != nil {
		metrics.ObserveExport(format, metrics.ResultError, time.Since(started))
		h.logger.Error("render day report failed", zap.String("format", format), zap.Error(err))
		http.Error(w, "export failed", http.StatusInternalServerError)
		return
	}
	metrics.ObserveExport(format, metrics.ResultSuccess, time.Since(started))

	filename := "incidents-" + day.Date.Format(incidents.DateLayout) + "." + format
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
	h.logAudit(r, "incident.export", "incident_day", day.Date.Format(incidents.DateLayout), map[string]any{
		"format": format,
		"count":  len(day.Incidents),
	})
}

func (h *Handler) logAudit(r *http.Request, action, resourceType, resourceID string, meta map[string]any) {
	if h.auditLogger == nil {
		return
	}
	var actor string
	if id, ok := auth.RecipientIDFromContext(r.Context()); ok {
		actor = strconv.FormatInt(id, 10)
	}
	payload, _ := json.Marshal(meta)
	if err := h.auditLogger.Log(r.Context(), audit.Entry{
		Actor:        actor,
		Role:         string(auth.RoleFromContext(r.Context())),
		Action:       action,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		Metadata:     payload,
		IP:           audit.ClientIP(r),
		UserAgent:    r.UserAgent(),
	}); err != nil {
		h.logger.Warn("audit log failed", zap.String("action", action), zap.Error(err))
	}
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, incidents.ErrInvalidType):
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
	case errors.Is(err, incidents.ErrInvalidInput), errors.Is(err, paging.ErrInvalid):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, incidents.ErrNotFound):
		http.Error(w, "incident not found", http.StatusNotFound)
	case errors.Is(err, incidents.ErrStreamNotFound):
		http.Error(w, "stream not found", http.StatusNotFound)
	case errors.Is(err, notifications.ErrAlreadyDispatched):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, notifications.ErrRedispatchUnavailable):
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
	default:
		h.logger.Error("incident request failed", zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
