package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kalambet/mathcoach/internal/extract"
	"github.com/kalambet/mathcoach/internal/pipeline"
	"github.com/kalambet/mathcoach/internal/session"
	"github.com/kalambet/mathcoach/internal/storage"
)

const maxRequestBodySize = 1 << 20 // 1MB

// QueryHandler answers student queries.
type QueryHandler interface {
	HandleQuery(ctx context.Context, q pipeline.Query) pipeline.Result
}

// SessionReader exposes session snapshots.
type SessionReader interface {
	Snapshot(sessionID string) (session.Info, bool)
}

// FileExtractor turns uploaded files into question text.
type FileExtractor interface {
	Extract(ctx context.Context, name string, data []byte) (string, error)
}

// InteractionReader reads the interaction log.
type InteractionReader interface {
	RecentInteractions(ctx context.Context, limit int) ([]storage.Interaction, error)
	SessionInteractions(ctx context.Context, sessionID string, limit int) ([]storage.Interaction, error)
	GetInteraction(ctx context.Context, id string) (storage.Interaction, error)
	OutcomeCounts(ctx context.Context) (map[string]int, error)
}

// CorpusStats reports on the retrieval corpus.
type CorpusStats interface {
	Count(ctx context.Context) (int, error)
	Sections(ctx context.Context) (map[string]int, error)
}

// Deps holds dependencies for the HTTP API. Extractor, Interactions and
// Corpus are optional; their routes answer 503 when unset.
type Deps struct {
	Queries      QueryHandler
	Sessions     SessionReader
	Extractor    FileExtractor
	Interactions InteractionReader
	Corpus       CorpusStats
}

// QueryRequest is the body of POST /v1/query.
type QueryRequest struct {
	Query     string `json:"query"`
	SessionID string `json:"session_id,omitempty"`
	UserID    string `json:"user_id,omitempty"`
}

// NewHandler returns the HTTP API.
func NewHandler(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Post("/query", handleQuery(deps))
		r.Post("/query/file", handleQueryFile(deps))
		r.Get("/sessions/{id}", handleGetSession(deps))
		r.Get("/sessions/{id}/interactions", handleSessionInteractions(deps))
		r.Get("/interactions", handleListInteractions(deps))
		r.Get("/interactions/outcomes", handleOutcomeCounts(deps))
		r.Get("/interactions/{id}", handleGetInteraction(deps))
		r.Get("/corpus/stats", handleCorpusStats(deps))
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func handleQuery(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req QueryRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if strings.TrimSpace(req.Query) == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "query is required and must not be empty")
			return
		}

		res := deps.Queries.HandleQuery(r.Context(), pipeline.Query{
			Text:      req.Query,
			SessionID: req.SessionID,
			UserID:    req.UserID,
		})
		writeResult(w, res)
	}
}

// handleQueryFile accepts a multipart upload with a "file" part and an
// optional "query" field. Extraction failures are reported to the caller
// and never reach the pipeline.
func handleQueryFile(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Extractor == nil {
			httpError(w, http.StatusServiceUnavailable, "unavailable", "file extraction is not configured")
			return
		}
		r.Body = http.MaxBytesReader(w, r.Body, extract.MaxFileSize+maxRequestBodySize)
		if err := r.ParseMultipartForm(extract.MaxFileSize); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid multipart body: %v", err)
			return
		}

		f, hdr, err := r.FormFile("file")
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "file is required")
			return
		}
		defer f.Close()

		data, err := io.ReadAll(f)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "reading upload: %v", err)
			return
		}

		text, err := deps.Extractor.Extract(r.Context(), hdr.Filename, data)
		if err != nil {
			httpError(w, http.StatusUnprocessableEntity, "extraction_error", "Error processing %s: %v", extract.Kind(hdr.Filename, data), err)
			return
		}

		res := deps.Queries.HandleQuery(r.Context(), pipeline.Query{
			Text:      extract.CombineQuery(text, r.FormValue("query")),
			SessionID: r.FormValue("session_id"),
			UserID:    r.FormValue("user_id"),
		})
		writeResult(w, res)
	}
}

func writeResult(w http.ResponseWriter, res pipeline.Result) {
	code := http.StatusOK
	switch res.ErrorType {
	case pipeline.ErrorTypeInputValidation, pipeline.ErrorTypeOutputValidation:
		code = http.StatusUnprocessableEntity
	case pipeline.ErrorTypeSystem:
		code = http.StatusInternalServerError
	}
	writeJSON(w, code, res)
}

func handleGetSession(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		info, ok := deps.Sessions.Snapshot(id)
		if !ok {
			httpError(w, http.StatusNotFound, "not_found", "session not found")
			return
		}
		writeJSON(w, http.StatusOK, info)
	}
}

func handleListInteractions(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Interactions == nil {
			httpError(w, http.StatusServiceUnavailable, "unavailable", "interaction log is not configured")
			return
		}
		limit := parseIntParam(r, "limit", 20, 100)

		interactions, err := deps.Interactions.RecentInteractions(r.Context(), limit)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list interactions: %v", err)
			return
		}
		if interactions == nil {
			interactions = []storage.Interaction{}
		}
		writeJSON(w, http.StatusOK, interactions)
	}
}

// handleSessionInteractions reads the persistent log, so it also answers for
// sessions that have since been pruned from memory.
func handleSessionInteractions(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Interactions == nil {
			httpError(w, http.StatusServiceUnavailable, "unavailable", "interaction log is not configured")
			return
		}
		limit := parseIntParam(r, "limit", 20, 100)

		interactions, err := deps.Interactions.SessionInteractions(r.Context(), chi.URLParam(r, "id"), limit)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list session interactions: %v", err)
			return
		}
		if interactions == nil {
			interactions = []storage.Interaction{}
		}
		writeJSON(w, http.StatusOK, interactions)
	}
}

func handleOutcomeCounts(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Interactions == nil {
			httpError(w, http.StatusServiceUnavailable, "unavailable", "interaction log is not configured")
			return
		}
		counts, err := deps.Interactions.OutcomeCounts(r.Context())
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to count outcomes: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, counts)
	}
}

func handleGetInteraction(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Interactions == nil {
			httpError(w, http.StatusServiceUnavailable, "unavailable", "interaction log is not configured")
			return
		}
		id := chi.URLParam(r, "id")

		interaction, err := deps.Interactions.GetInteraction(r.Context(), id)
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "interaction not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get interaction: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, interaction)
	}
}

func handleCorpusStats(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Corpus == nil {
			httpError(w, http.StatusServiceUnavailable, "unavailable", "corpus is not configured")
			return
		}
		total, err := deps.Corpus.Count(r.Context())
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to count corpus: %v", err)
			return
		}
		sections, err := deps.Corpus.Sections(r.Context())
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list sections: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"total": total, "sections": sections})
	}
}

func parseIntParam(r *http.Request, name string, def, max int) int {
	v, err := strconv.Atoi(r.URL.Query().Get(name))
	if err != nil || v <= 0 {
		return def
	}
	if max > 0 && v > max {
		return max
	}
	return v
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	writeJSON(w, code, map[string]any{
		"error": map[string]any{
			"message": fmt.Sprintf(format, args...),
			"type":    errType,
		},
	})
}
