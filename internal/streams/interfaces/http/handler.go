package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	streamapp "safety-cloud/internal/streams/application"
	streams "safety-cloud/internal/streams/domain"
)

const maxBodyBytes = 1 << 16

// Handler provides stream endpoints, including the media server publish hooks.
type Handler struct {
	service *streamapp.Service
	logger  *zap.Logger
}

// NewHandler constructs a handler.
func NewHandler(service *streamapp.Service, logger *zap.Logger) (*Handler, error) {
	if service == nil {
		return nil, errors.New("streams handler: nil service")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{service: service, logger: logger}, nil
}

type hookRequest struct {
	StreamKey string `json:"streamKey"`
}

// ServeHTTP handles /stream and subroutes.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.URL.Path == "/stream":
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.handleList(w, r)
	case r.URL.Path == "/stream/verify" || r.URL.Path == "/stream/end":
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.handleHook(w, r)
	case strings.HasPrefix(r.URL.Path, "/stream/"):
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.handleGet(w, r, strings.TrimPrefix(r.URL.Path, "/stream/"))
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	list, err := h.service.List(r.Context())
	if err != nil {
		h.logger.Error("list streams failed", zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if list == nil {
		list = []streams.Stream{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request, key string) {
	stream, err := h.service.Get(r.Context(), key)
	if err != nil {
		h.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stream)
}

func (h *Handler) handleHook(w http.ResponseWriter, r *http.Request) {
	var req hookRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}

	var (
		err     error
		message string
	)
	if strings.HasSuffix(r.URL.Path, "/verify") {
		err = h.service.Verify(r.Context(), req.StreamKey)
		message = "Stream Verified"
	} else {
		err = h.service.End(r.Context(), req.StreamKey)
		message = "Stream ended"
	}
	if err != nil {
		h.respondError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"message": message})
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, streams.ErrInvalidKey):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, streams.ErrNotFound):
		http.Error(w, "stream not found", http.StatusNotFound)
	default:
		h.logger.Error("stream request failed", zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
