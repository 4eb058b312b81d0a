package query

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"HouseLedger/internal/observability"

	"github.com/google/uuid"
)

// HTTPHandler serves the read API over HTTP/JSON from the projection
// tables. Writes never come through here: every mutation enters the
// system through NATS and the deterministic core.
type HTTPHandler struct {
	service *QueryService
	metrics *observability.Metrics
}

func NewHTTPHandler(service *QueryService, metrics *observability.Metrics) *HTTPHandler {
	return &HTTPHandler{service: service, metrics: metrics}
}

// Register mounts the read API routes on the given mux.
func (h *HTTPHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /v1/houses", h.instrument("list_houses", h.handleListHouses))
	mux.HandleFunc("GET /v1/houses/{house}", h.instrument("get_house", h.handleGetHouse))
	mux.HandleFunc("GET /v1/houses/{house}/positions/{participant}", h.instrument("get_position", h.handleGetPosition))
	mux.HandleFunc("GET /v1/houses/{house}/settlements", h.instrument("get_settlements", h.handleGetSettlements))
	mux.HandleFunc("GET /v1/houses/{house}/epochs", h.instrument("get_epoch_results", h.handleGetEpochResults))
	mux.HandleFunc("GET /v1/participants/{participant}/journal", h.instrument("get_journal", h.handleGetJournal))
	mux.HandleFunc("GET /v1/admin/integrity", h.instrument("verify_integrity", h.handleVerifyIntegrity))
}

func (h *HTTPHandler) instrument(endpoint string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next(sw, r)
		if h.metrics != nil {
			h.metrics.QueryRequests.WithLabelValues(endpoint, strconv.Itoa(sw.status)).Inc()
			h.metrics.QueryDuration.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
			if sw.status >= 500 {
				h.metrics.QueryErrors.WithLabelValues(endpoint, strconv.Itoa(sw.status)).Inc()
			}
		}
	}
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (sw *statusWriter) WriteHeader(status int) {
	sw.status = status
	sw.ResponseWriter.WriteHeader(status)
}

func (h *HTTPHandler) handleListHouses(w http.ResponseWriter, r *http.Request) {
	houses, err := h.service.ListHouses(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, map[string]interface{}{"houses": houses})
}

func (h *HTTPHandler) handleGetHouse(w http.ResponseWriter, r *http.Request) {
	houseID, ok := pathUUID(w, r, "house")
	if !ok {
		return
	}
	house, err := h.service.GetHouse(r.Context(), houseID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, house)
}

func (h *HTTPHandler) handleGetPosition(w http.ResponseWriter, r *http.Request) {
	houseID, ok := pathUUID(w, r, "house")
	if !ok {
		return
	}
	participantID, ok := pathUUID(w, r, "participant")
	if !ok {
		return
	}
	position, err := h.service.GetPosition(r.Context(), houseID, participantID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, position)
}

func (h *HTTPHandler) handleGetSettlements(w http.ResponseWriter, r *http.Request) {
	houseID, ok := pathUUID(w, r, "house")
	if !ok {
		return
	}
	limit := queryLimit(r, 100)
	before := queryCursor(r, "before_sequence")

	settlements, err := h.service.GetSettlements(r.Context(), houseID, limit, before)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, map[string]interface{}{"settlements": settlements})
}

func (h *HTTPHandler) handleGetEpochResults(w http.ResponseWriter, r *http.Request) {
	houseID, ok := pathUUID(w, r, "house")
	if !ok {
		return
	}
	limit := queryLimit(r, 100)
	before := queryCursor(r, "before_epoch")

	results, err := h.service.GetEpochResults(r.Context(), houseID, limit, before)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, map[string]interface{}{"epochs": results})
}

func (h *HTTPHandler) handleGetJournal(w http.ResponseWriter, r *http.Request) {
	participantID, ok := pathUUID(w, r, "participant")
	if !ok {
		return
	}
	limit := queryLimit(r, 100)
	before := queryCursor(r, "before_sequence")

	entries, err := h.service.GetJournalHistory(r.Context(), participantID, limit, before)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, map[string]interface{}{"entries": entries})
}

func (h *HTTPHandler) handleVerifyIntegrity(w http.ResponseWriter, r *http.Request) {
	report, err := h.service.VerifyIntegrity(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, report)
}

// --- helpers ---

func pathUUID(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue(name))
	if err != nil {
		http.Error(w, "invalid "+name+" id", http.StatusBadRequest)
		return uuid.Nil, false
	}
	return id, true
}

func queryLimit(r *http.Request, def int) int {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 || limit > 1000 {
		return def
	}
	return limit
}

func queryCursor(r *http.Request, name string) *int64 {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil
	}
	cursor, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return nil
	}
	return &cursor
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	if errors.Is(err, ErrNotFound) {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	http.Error(w, "internal error", http.StatusInternalServerError)
}
