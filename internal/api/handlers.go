package api

import (
	"encoding/json"
	"errors"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/cinecard/cinecard/internal/discovery"
	"github.com/cinecard/cinecard/internal/ingest"
	"github.com/cinecard/cinecard/internal/model"
)

// Response statuses for non-card endpoints.
const (
	statusOK    = "ok"
	statusError = "error"
)

const maxBodyBytes = 1 << 20

type ingestRequest struct {
	ExternalID   int64 `json:"external_id"`
	ForceRefresh bool  `json:"force_refresh"`
}

type discoveryRequest struct {
	Source  string `json:"source"`
	MaxNew  int    `json:"max_new"`
	Trigger string `json:"trigger"`
}

type errorResponse struct {
	Status     string `json:"status"`
	Error      string `json:"error"`
	RetryAfter int    `json:"retry_after,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if s.deps.Store != nil {
		if err := s.deps.Store.Ping(r.Context()); err != nil {
			s.log.Warn("health check failed", zap.Error(err))
			writeJSON(w, http.StatusServiceUnavailable, errorResponse{Status: statusError, Error: "store unavailable"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": statusOK})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	lookback := s.opts.LookbackHours
	if v := r.URL.Query().Get("lookback_hours"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "lookback_hours must be a positive integer")
			return
		}
		lookback = n
	}

	snap, err := s.deps.Stats.Collect(r.Context(), lookback)
	if err != nil {
		s.log.Error("collect stats", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to collect stats")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": statusOK, "stats": snap})
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	var req ingestRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.ExternalID <= 0 {
		writeError(w, http.StatusBadRequest, "external_id must be a positive integer")
		return
	}

	res, err := s.deps.Ingester.Ingest(r.Context(), req.ExternalID, req.ForceRefresh)
	if err != nil {
		s.writeIngestError(w, req.ExternalID, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleCard(w http.ResponseWriter, r *http.Request) {
	var req ingestRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.serveCard(w, r, req.ExternalID)
}

func (s *Server) handleGetCard(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "id must be an integer")
		return
	}
	s.serveCard(w, r, id)
}

func (s *Server) serveCard(w http.ResponseWriter, r *http.Request, externalID int64) {
	if externalID <= 0 {
		writeError(w, http.StatusBadRequest, "external_id must be a positive integer")
		return
	}

	res, err := s.deps.Ingester.GetCard(r.Context(), externalID)
	if err != nil {
		s.writeIngestError(w, externalID, err)
		return
	}

	if res.ETag != "" {
		etag := strconv.Quote(res.ETag)
		w.Header().Set("ETag", etag)
		if etagMatches(r.Header.Get("If-None-Match"), etag) {
			w.WriteHeader(http.StatusNotModified)
			return
		}
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleDiscovery(w http.ResponseWriter, r *http.Request) {
	var req discoveryRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	source := discovery.SourceAll
	if req.Source != "" {
		parsed, err := discovery.ParseSource(req.Source)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		source = parsed
	}
	trigger := model.TriggerAPI
	if req.Trigger != "" {
		trigger = model.RunTrigger(strings.ToLower(req.Trigger))
		if !trigger.Valid() {
			writeError(w, http.StatusBadRequest, "unknown trigger "+strconv.Quote(req.Trigger))
			return
		}
	}
	if req.MaxNew < 0 {
		writeError(w, http.StatusBadRequest, "max_new must not be negative")
		return
	}

	run, err := s.deps.Discovery.Run(r.Context(), source, req.MaxNew, trigger)
	if err != nil {
		s.log.Error("discovery run failed", zap.String("source", string(source)), zap.Error(err))
		body := map[string]any{"status": statusError, "error": err.Error()}
		if run != nil {
			body["run"] = run
		}
		writeJSON(w, http.StatusInternalServerError, body)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": statusOK, "run": run})
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	res, err := s.deps.Refresh.RunBatch(r.Context())
	if err != nil {
		s.log.Error("refresh batch failed", zap.Error(err))
		body := map[string]any{"status": statusError, "error": err.Error()}
		if res != nil {
			body["result"] = res
		}
		writeJSON(w, http.StatusInternalServerError, body)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": statusOK, "result": res})
}

func (s *Server) writeIngestError(w http.ResponseWriter, externalID int64, err error) {
	switch {
	case ingest.IsInProgress(err):
		secs := int(math.Ceil(s.opts.RetryAfter.Seconds()))
		w.Header().Set("Retry-After", strconv.Itoa(secs))
		writeJSON(w, http.StatusConflict, errorResponse{
			Status:     statusError,
			Error:      "ingestion in progress, retry shortly",
			RetryAfter: secs,
		})
	case ingest.IsNotFound(err):
		writeError(w, http.StatusNotFound, "title not found")
	default:
		s.log.Error("ingest failed", zap.Int64("external_id", externalID), zap.Error(err))
		writeJSON(w, http.StatusBadGateway, errorResponse{Status: statusError, Error: err.Error()})
	}
}

func decodeBody(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return eris.Wrap(err, "api: decode request body")
	}
	return nil
}

// etagMatches implements the weak comparison of If-None-Match.
func etagMatches(header, etag string) bool {
	if header == "" {
		return false
	}
	for _, candidate := range strings.Split(header, ",") {
		candidate = strings.TrimSpace(candidate)
		if candidate == "*" || strings.TrimPrefix(candidate, "W/") == etag {
			return true
		}
	}
	return false
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, errorResponse{Status: statusError, Error: msg})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}
