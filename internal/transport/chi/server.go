// Package chi is the HTTP transport: hand-written chi routes over the
// per-resource engines.
package chi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/stgy-dev/shardix/internal/domain"
	logpkg "github.com/stgy-dev/shardix/internal/logger"
	"github.com/stgy-dev/shardix/internal/resource"
	healthuc "github.com/stgy-dev/shardix/internal/usecase/health"
	"github.com/stgy-dev/shardix/internal/usecase/ingest"
)

// Error codes returned in the response body.
const (
	codeInvalidRequest = "invalid_request"
	codeNotFound       = "not_found"
	codeModeConflict   = "mode_conflict"
	codeJobActive      = "job_active"
	codeUnavailable    = "unavailable"
	codeInternalError  = "internal_error"
)

// errorHandler tries to handle a domain error. Returns true if handled.
type errorHandler func(w http.ResponseWriter, err error, msg string) bool

// Server exposes the indexing engines over HTTP. It logs through the
// request-scoped logger carried in the request context.
type Server struct {
	resources     *resource.Registry
	health        *healthuc.Service
	errorHandlers []errorHandler
}

// NewServer creates an HTTP API server.
func NewServer(resources *resource.Registry, health *healthuc.Service) *Server {
	s := &Server{
		resources: resources,
		health:    health,
	}
	s.errorHandlers = []errorHandler{
		sentinelHandler(domain.ErrInvalidDocument, http.StatusBadRequest, codeInvalidRequest),
		sentinelHandler(domain.ErrInvalidLocale, http.StatusBadRequest, codeInvalidRequest),
		sentinelHandler(domain.ErrInvalidTimestamp, http.StatusBadRequest, codeInvalidRequest),
		sentinelHandler(domain.ErrNotFound, http.StatusNotFound, codeNotFound),
		sentinelHandler(domain.ErrShardNotFound, http.StatusNotFound, codeNotFound),
		sentinelHandler(domain.ErrResourceNotFound, http.StatusNotFound, codeNotFound),
		sentinelHandler(domain.ErrMaintenanceRequired, http.StatusConflict, codeModeConflict),
		sentinelHandler(domain.ErrReservationRequired, http.StatusConflict, codeModeConflict),
		sentinelHandler(domain.ErrIngestionSuspended, http.StatusConflict, codeModeConflict),
		sentinelHandler(domain.ErrJobActive, http.StatusConflict, codeJobActive),
		sentinelHandler(domain.ErrQueueNotDrained, http.StatusConflict, codeJobActive),
	}
	return s
}

// Register mounts every route on r. Fixed segments are routed before the
// document-id wildcard; document ids colliding with them are rejected at
// validation.
func (s *Server) Register(r chi.Router) {
	r.Get("/health", s.healthCheck)
	r.Get("/metrics", s.metrics)

	r.Route("/{resource}", func(r chi.Router) {
		r.Get("/tokenize", s.tokenize)
		r.Get("/search", s.search)
		r.Get("/search-fetch", s.searchFetch)
		r.Post("/flush", s.flush)

		r.Get("/maintenance", s.maintenanceState)
		r.Post("/maintenance", s.maintenanceEnable)
		r.Delete("/maintenance", s.maintenanceDisable)

		r.Get("/reservation-mode", s.reservationState)
		r.Put("/reservation-mode", s.reservationEnable)
		r.Delete("/reservation-mode", s.reservationDisable)

		r.Post("/reserve", s.reserve)
		r.Post("/reconstruct", s.reconstruct)
		r.Post("/optimize", s.optimize)

		r.Get("/shards", s.listShards)
		r.Delete("/shards/{bucketTimestamp}", s.deleteShard)

		r.Put("/{id}", s.upsertDocument)
		r.Delete("/{id}", s.deleteDocument)
		r.Get("/{id}", s.getDocument)
		r.Head("/{id}", s.headDocument)
	})
}

type upsertRequest struct {
	Text      string  `json:"text"`
	Timestamp int64   `json:"timestamp"`
	Locale    string  `json:"locale"`
	Attrs     string  `json:"attrs"`
	Wait      float64 `json:"wait"`
}

type deleteRequest struct {
	Timestamp int64   `json:"timestamp"`
	Wait      float64 `json:"wait"`
}

type flushRequest struct {
	Wait float64 `json:"wait"`
}

type reserveRequest struct {
	IDs        []string `json:"ids"`
	Timestamps []int64  `json:"timestamps"`
}

type reconstructRequest struct {
	Timestamp    int64   `json:"timestamp"`
	NewInitialID int64   `json:"newInitialId"`
	Wait         float64 `json:"wait"`
}

type optimizeRequest struct {
	Timestamp int64   `json:"timestamp"`
	Wait      float64 `json:"wait"`
}

type documentResponse struct {
	ID        string  `json:"id"`
	BodyText  *string `json:"bodyText"`
	Timestamp int64   `json:"timestamp"`
	Locale    string  `json:"locale"`
	Attrs     *string `json:"attrs"`
}

// upsertDocument handles PUT /{resource}/{id}.
func (s *Server) upsertDocument(w http.ResponseWriter, r *http.Request) {
	eng, ok := s.engine(w, r)
	if !ok {
		return
	}

	var req upsertRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidRequest, "Invalid request body: "+err.Error())
		return
	}
	wait, err := ingest.ParseWait(req.Wait)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}

	id := chi.URLParam(r, "id")
	if err := eng.Ingest.Upsert(r.Context(), id, req.Text, req.Timestamp, req.Locale, req.Attrs, wait); err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"result": "accepted"})
}

// deleteDocument handles DELETE /{resource}/{id}. The body is optional.
func (s *Server) deleteDocument(w http.ResponseWriter, r *http.Request) {
	eng, ok := s.engine(w, r)
	if !ok {
		return
	}

	var req deleteRequest
	if err := decodeOptional(r.Body, &req); err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidRequest, "Invalid request body: "+err.Error())
		return
	}
	wait, err := ingest.ParseWait(req.Wait)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}

	id := chi.URLParam(r, "id")
	if err := eng.Ingest.Delete(r.Context(), id, wait); err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"result": "accepted"})
}

// getDocument handles GET /{resource}/{id}.
func (s *Server) getDocument(w http.ResponseWriter, r *http.Request) {
	eng, ok := s.engine(w, r)
	if !ok {
		return
	}

	doc, err := eng.Query.Fetch(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}

	resp := documentResponse{
		ID:        doc.ID(),
		Timestamp: doc.Timestamp(),
		Locale:    doc.Locale(),
	}
	if !boolQuery(r, "omitBodyText") {
		body := doc.BodyText()
		resp.BodyText = &body
	}
	if !boolQuery(r, "omitAttrs") {
		attrs := doc.Attrs()
		resp.Attrs = &attrs
	}
	writeJSON(w, http.StatusOK, resp)
}

// headDocument handles HEAD /{resource}/{id}: existence check, no body.
func (s *Server) headDocument(w http.ResponseWriter, r *http.Request) {
	eng, ok := s.engine(w, r)
	if !ok {
		return
	}

	if _, err := eng.Query.Fetch(r.Context(), chi.URLParam(r, "id")); err != nil {
		if errors.Is(err, domain.ErrNotFound) || errors.Is(err, domain.ErrInvalidDocument) {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// tokenize handles GET /{resource}/tokenize.
func (s *Server) tokenize(w http.ResponseWriter, r *http.Request) {
	eng, ok := s.engine(w, r)
	if !ok {
		return
	}

	tokens, base, err := eng.Query.Tokenize(r.URL.Query().Get("text"), r.URL.Query().Get("locale"))
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	if tokens == nil {
		tokens = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"tokens": tokens, "locale": base})
}

// search handles GET /{resource}/search: a bare JSON array of ids.
func (s *Server) search(w http.ResponseWriter, r *http.Request) {
	eng, ok := s.engine(w, r)
	if !ok {
		return
	}

	ids, err := eng.Query.Search(r.Context(), r.URL.Query().Get("query"), r.URL.Query().Get("locale"))
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	if ids == nil {
		ids = []string{}
	}
	writeJSON(w, http.StatusOK, ids)
}

// searchFetch handles GET /{resource}/search-fetch: full documents.
func (s *Server) searchFetch(w http.ResponseWriter, r *http.Request) {
	eng, ok := s.engine(w, r)
	if !ok {
		return
	}

	docs, err := eng.Query.SearchFetch(r.Context(), r.URL.Query().Get("query"), r.URL.Query().Get("locale"))
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}

	items := make([]documentResponse, 0, len(docs))
	for i := range docs {
		body := docs[i].BodyText()
		attrs := docs[i].Attrs()
		items = append(items, documentResponse{
			ID:        docs[i].ID(),
			BodyText:  &body,
			Timestamp: docs[i].Timestamp(),
			Locale:    docs[i].Locale(),
			Attrs:     &attrs,
		})
	}
	writeJSON(w, http.StatusOK, items)
}

// flush handles POST /{resource}/flush.
func (s *Server) flush(w http.ResponseWriter, r *http.Request) {
	eng, ok := s.engine(w, r)
	if !ok {
		return
	}

	var req flushRequest
	if err := decodeOptional(r.Body, &req); err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidRequest, "Invalid request body: "+err.Error())
		return
	}
	wait, err := ingest.ParseWait(req.Wait)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}

	drained, pending := eng.Ingest.Flush(r.Context(), wait)
	writeJSON(w, http.StatusOK, map[string]any{
		"result":  "ok",
		"drained": drained,
		"pending": pending,
	})
}

// maintenanceState handles GET /{resource}/maintenance.
func (s *Server) maintenanceState(w http.ResponseWriter, r *http.Request) {
	eng, ok := s.engine(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"enabled": eng.Maintenance.Maintenance()})
}

// maintenanceEnable handles POST /{resource}/maintenance.
func (s *Server) maintenanceEnable(w http.ResponseWriter, r *http.Request) {
	eng, ok := s.engine(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"enabled": eng.Maintenance.SetMaintenance(true)})
}

// maintenanceDisable handles DELETE /{resource}/maintenance.
func (s *Server) maintenanceDisable(w http.ResponseWriter, r *http.Request) {
	eng, ok := s.engine(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"enabled": eng.Maintenance.SetMaintenance(false)})
}

// reservationState handles GET /{resource}/reservation-mode.
func (s *Server) reservationState(w http.ResponseWriter, r *http.Request) {
	eng, ok := s.engine(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"enabled": eng.Maintenance.ReservationMode()})
}

// reservationEnable handles PUT /{resource}/reservation-mode.
func (s *Server) reservationEnable(w http.ResponseWriter, r *http.Request) {
	eng, ok := s.engine(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"enabled": eng.Maintenance.SetReservationMode(true)})
}

// reservationDisable handles DELETE /{resource}/reservation-mode.
func (s *Server) reservationDisable(w http.ResponseWriter, r *http.Request) {
	eng, ok := s.engine(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"enabled": eng.Maintenance.SetReservationMode(false)})
}

// reserve handles POST /{resource}/reserve.
func (s *Server) reserve(w http.ResponseWriter, r *http.Request) {
	eng, ok := s.engine(w, r)
	if !ok {
		return
	}

	var req reserveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidRequest, "Invalid request body: "+err.Error())
		return
	}
	if len(req.IDs) == 0 {
		writeError(w, http.StatusBadRequest, codeInvalidRequest, "ids are required")
		return
	}

	count, err := eng.Maintenance.Reserve(req.IDs)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"result": "reserved", "count": count})
}

// reconstruct handles POST /{resource}/reconstruct.
func (s *Server) reconstruct(w http.ResponseWriter, r *http.Request) {
	eng, ok := s.engine(w, r)
	if !ok {
		return
	}

	var req reconstructRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidRequest, "Invalid request body: "+err.Error())
		return
	}
	if req.Timestamp <= 0 {
		s.handleDomainError(w, r, domain.ErrInvalidTimestamp)
		return
	}
	if req.NewInitialID < 0 {
		writeError(w, http.StatusBadRequest, codeInvalidRequest, "newInitialId must be non-negative")
		return
	}
	wait, err := ingest.ParseWait(req.Wait)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}

	remapped, err := eng.Maintenance.Reconstruct(r.Context(), req.Timestamp, req.NewInitialID, wait)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"result": "ok", "remapped": remapped})
}

// optimize handles POST /{resource}/optimize.
func (s *Server) optimize(w http.ResponseWriter, r *http.Request) {
	eng, ok := s.engine(w, r)
	if !ok {
		return
	}

	var req optimizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidRequest, "Invalid request body: "+err.Error())
		return
	}
	if req.Timestamp <= 0 {
		s.handleDomainError(w, r, domain.ErrInvalidTimestamp)
		return
	}
	wait, err := ingest.ParseWait(req.Wait)
	if err != nil {
		s.handleDomainError(w, r, err)
		return
	}

	if err := eng.Maintenance.Optimize(r.Context(), req.Timestamp, wait); err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"result": "ok"})
}

// listShards handles GET /{resource}/shards.
func (s *Server) listShards(w http.ResponseWriter, r *http.Request) {
	eng, ok := s.engine(w, r)
	if !ok {
		return
	}

	infos := eng.Maintenance.ListShards(r.Context(), boolQuery(r, "detailed"))
	writeJSON(w, http.StatusOK, infos)
}

// deleteShard handles DELETE /{resource}/shards/{bucketTimestamp}.
func (s *Server) deleteShard(w http.ResponseWriter, r *http.Request) {
	eng, ok := s.engine(w, r)
	if !ok {
		return
	}

	bucket, err := strconv.ParseInt(chi.URLParam(r, "bucketTimestamp"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidRequest, "bucketTimestamp must be an integer")
		return
	}

	if err := eng.Maintenance.DeleteShard(r.Context(), bucket); err != nil {
		s.handleDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"result": "ok"})
}

// healthCheck handles GET /health.
func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	if err := s.health.Check(r.Context()); err != nil {
		logpkg.FromContext(r.Context()).Error("health check failed", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, codeUnavailable, "storage unreachable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"result": "ok"})
}

// metrics handles GET /metrics.
func (s *Server) metrics(w http.ResponseWriter, r *http.Request) {
	promhttp.Handler().ServeHTTP(w, r)
}

func (s *Server) engine(w http.ResponseWriter, r *http.Request) (*resource.Engine, bool) {
	eng, err := s.resources.Get(chi.URLParam(r, "resource"))
	if err != nil {
		s.handleDomainError(w, r, err)
		return nil, false
	}
	return eng, true
}

// decodeOptional decodes JSON, treating an empty body as the zero request.
func decodeOptional(body io.Reader, v any) error {
	err := json.NewDecoder(body).Decode(v)
	if err == nil || errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func boolQuery(r *http.Request, name string) bool {
	v := r.URL.Query().Get(name)
	b, err := strconv.ParseBool(v)
	return err == nil && b
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Code: code, Message: message})
}

// safeDomainMessage returns a sentinel error message for the client without
// exposing internals.
func safeDomainMessage(err error) string {
	sentinels := []error{
		domain.ErrInvalidDocument,
		domain.ErrInvalidLocale,
		domain.ErrInvalidTimestamp,
		domain.ErrNotFound,
		domain.ErrShardNotFound,
		domain.ErrResourceNotFound,
		domain.ErrMaintenanceRequired,
		domain.ErrReservationRequired,
		domain.ErrIngestionSuspended,
		domain.ErrJobActive,
		domain.ErrQueueNotDrained,
	}
	for _, sentinel := range sentinels {
		if errors.Is(err, sentinel) {
			return sentinel.Error()
		}
	}
	return "internal error"
}

// sentinelHandler returns an errorHandler that matches a single sentinel error.
func sentinelHandler(sentinel error, status int, code string) errorHandler {
	return func(w http.ResponseWriter, err error, msg string) bool {
		if !errors.Is(err, sentinel) {
			return false
		}
		writeError(w, status, code, msg)
		return true
	}
}

func (s *Server) handleDomainError(w http.ResponseWriter, r *http.Request, err error) {
	log := logpkg.FromContext(r.Context())
	log.Warn("domain error", zap.Error(err))
	msg := safeDomainMessage(err)
	for _, h := range s.errorHandlers {
		if h(w, err, msg) {
			return
		}
	}
	log.Error("internal error", zap.Error(err))
	writeError(w, http.StatusInternalServerError, codeInternalError, "internal error")
}
