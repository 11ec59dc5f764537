package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/rl1809/part-ledger/internal/core/domain"
	"github.com/rl1809/part-ledger/internal/core/service"
)

type HTTPHandler struct {
	ledger *service.LedgerService
	logger *slog.Logger
}

func NewHTTPHandler(ledger *service.LedgerService, logger *slog.Logger) *HTTPHandler {
	return &HTTPHandler{ledger: ledger, logger: logger.With(slog.String("component", "http"))}
}

// Register mounts the ledger routes on mux.
func (h *HTTPHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", h.HealthCheck)
	mux.HandleFunc("POST /api/reconcile", h.Reconcile)
	mux.HandleFunc("POST /api/transitions", h.ApplyTransition)
	mux.HandleFunc("POST /api/imports", h.EnqueueImport)
	mux.HandleFunc("POST /api/stock/check", h.CheckStock)
	mux.HandleFunc("POST /api/containers/sync", h.SyncContents)
	mux.HandleFunc("GET /api/containers/{kind}/{id}/snapshot", h.Snapshot)
	mux.HandleFunc("GET /api/containers/{kind}/{id}/timeline", h.Timeline)
	mux.HandleFunc("GET /api/containers/{kind}/{id}/history", h.History)
}

func (h *HTTPHandler) Reconcile(w http.ResponseWriter, r *http.Request) {
	var req ReconcileRequest
	if !h.decode(w, r, &req) {
		return
	}
	reconcile := service.Reconcile
	if req.AdoptSerials {
		reconcile = service.ReconcileAdopting
	}
	delta, err := reconcile(req.Desired, req.Current)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, delta)
}

func (h *HTTPHandler) ApplyTransition(w http.ResponseWriter, r *http.Request) {
	var req TransitionRequest
	if !h.decode(w, r, &req) {
		return
	}
	result, err := h.ledger.Apply(r.Context(), req.Transition())
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// EnqueueImport accepts a migrated transition for the background workers.
func (h *HTTPHandler) EnqueueImport(w http.ResponseWriter, r *http.Request) {
	var req TransitionRequest
	if !h.decode(w, r, &req) {
		return
	}
	t := req.Transition()
	t.Migrated = true
	if err := t.Create.Container.Validate(); err != nil {
		h.fail(w, err)
		return
	}
	if err := h.ledger.Enqueue(r.Context(), t); err != nil {
		if errors.Is(err, service.ErrQueueClosed) {
			writeJSON(w, http.StatusServiceUnavailable, ErrorResponse{Message: "shutting down"})
			return
		}
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, ErrorResponse{Success: true, Message: "import queued"})
}

func (h *HTTPHandler) CheckStock(w http.ResponseWriter, r *http.Request) {
	var req StockCheckRequest
	if !h.decode(w, r, &req) {
		return
	}
	shortfalls, err := h.ledger.CheckStock(r.Context(), req.Search.Filter(), req.Items)
	if err != nil {
		h.fail(w, err)
		return
	}
	if shortfalls == nil {
		shortfalls = []domain.Shortfall{}
	}
	writeJSON(w, http.StatusOK, StockCheckResponse{Sufficient: len(shortfalls) == 0, Shortfalls: shortfalls})
}

func (h *HTTPHandler) SyncContents(w http.ResponseWriter, r *http.Request) {
	var req SyncHTTPRequest
	if !h.decode(w, r, &req) {
		return
	}
	result, err := h.ledger.SyncContents(r.Context(), req.SyncRequest())
	if err != nil {
		var short *domain.InsufficientStockError
		if errors.As(err, &short) {
			writeJSON(w, http.StatusConflict, StockCheckResponse{Shortfalls: short.Shortfalls})
			return
		}
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *HTTPHandler) Snapshot(w http.ResponseWriter, r *http.Request) {
	c, ok := h.container(w, r)
	if !ok {
		return
	}
	at := time.Now()
	if v := r.URL.Query().Get("at"); v != "" {
		parsed, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			h.fail(w, &domain.ValidationError{Field: "at", Message: "must be RFC 3339"})
			return
		}
		at = parsed
	}
	snap, err := h.ledger.SnapshotAt(r.Context(), c, at)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (h *HTTPHandler) Timeline(w http.ResponseWriter, r *http.Request) {
	c, ok := h.container(w, r)
	if !ok {
		return
	}
	page, ok := h.page(w, r)
	if !ok {
		return
	}
	tl, err := h.ledger.Timeline(r.Context(), c, page)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tl)
}

func (h *HTTPHandler) History(w http.ResponseWriter, r *http.Request) {
	c, ok := h.container(w, r)
	if !ok {
		return
	}
	page, ok := h.page(w, r)
	if !ok {
		return
	}
	snaps, tl, err := h.ledger.History(r.Context(), c, page)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, HistoryResponse{Page: tl.Page, Total: tl.Total, Snapshots: snaps})
}

func (h *HTTPHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *HTTPHandler) container(w http.ResponseWriter, r *http.Request) (domain.Container, bool) {
	c := domain.Container{Kind: domain.ContainerKind(r.PathValue("kind")), ID: r.PathValue("id")}
	if err := c.Validate(); err != nil {
		h.fail(w, err)
		return domain.Container{}, false
	}
	return c, true
}

func (h *HTTPHandler) page(w http.ResponseWriter, r *http.Request) (domain.Page, bool) {
	var p domain.Page
	q := r.URL.Query()
	for _, f := range []struct {
		name string
		dst  *int
	}{{"page", &p.Number}, {"page_size", &p.Size}} {
		v := q.Get(f.name)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			h.fail(w, &domain.ValidationError{Field: f.name, Message: "must be an integer"})
			return domain.Page{}, false
		}
		*f.dst = n
	}
	return p.Normalize(), true
}

func (h *HTTPHandler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Message: "invalid request body"})
		return false
	}
	return true
}

func (h *HTTPHandler) fail(w http.ResponseWriter, err error) {
	status, message := httpStatus(err)
	if status == http.StatusInternalServerError {
		h.logger.Error("request failed", slog.Any("error", err))
	}
	writeJSON(w, status, ErrorResponse{Message: message})
}

func httpStatus(err error) (int, string) {
	switch {
	case domain.IsValidation(err):
		return http.StatusBadRequest, err.Error()
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, "not found"
	case errors.Is(err, domain.ErrDuplicateRequest):
		return http.StatusConflict, "duplicate request"
	case errors.Is(err, domain.ErrConcurrencyConflict):
		return http.StatusConflict, "concurrent update, retry"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}
