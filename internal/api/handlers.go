// Package api serves a read-only view of a migration target: its schema, the
// last reconciliation report, identifier mappings and run metrics.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/JonMunkholm/docmigrate/internal/report"
	"github.com/JonMunkholm/docmigrate/internal/schema"
)

// SchemaSource describes the tables of the migration target.
type SchemaSource interface {
	GetSchema(ctx context.Context) (*schema.Schema, error)
}

// MappingSource looks up persisted identifier mappings.
type MappingSource interface {
	LookupMapping(ctx context.Context, entityType, legacyID string) (uuid.UUID, bool, error)
}

// Target is what the API reads from. Both relational stores satisfy it.
type Target interface {
	SchemaSource
	MappingSource
}

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	target      Target
	reportFile  string
	metrics     http.Handler
	rateLimiter *RateLimiter
}

// NewHandler creates a new API handler. metrics may be nil.
func NewHandler(target Target, reportFile string, metrics http.Handler) *Handler {
	return &Handler{
		target:      target,
		reportFile:  reportFile,
		metrics:     metrics,
		rateLimiter: NewRateLimiter(100, time.Minute), // 100 requests per minute
	}
}

// RegisterRoutes sets up the HTTP routes.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	apiMux := http.NewServeMux()
	apiMux.HandleFunc("GET /api/schema", h.handleGetSchema)
	apiMux.HandleFunc("GET /api/types", h.handleGetTypes)
	apiMux.HandleFunc("GET /api/report", h.handleGetReport)
	apiMux.HandleFunc("GET /api/mappings/{entityType}/{legacyID}", h.handleGetMapping)

	// Apply middleware chain: body limit -> rate limiting
	protected := LimitBodySize(h.rateLimiter.Wrap(apiMux), 1<<20)
	mux.Handle("/api/", protected)

	if h.metrics != nil {
		mux.Handle("GET /metrics", h.metrics)
	}
}

// Stop stops background goroutines. Should be called on graceful shutdown.
func (h *Handler) Stop() {
	h.rateLimiter.Stop()
}

// API Response types for consistent format
type apiResponse[T any] struct {
	Success bool      `json:"success"`
	Data    T         `json:"data,omitempty"`
	Error   *apiError `json:"error,omitempty"`
}

type apiError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes for API responses
const (
	ErrInvalidRequest    = "INVALID_REQUEST"
	ErrMissingField      = "MISSING_FIELD"
	ErrInvalidEntityType = "INVALID_ENTITY_TYPE"
	ErrSchemaError       = "SCHEMA_ERROR"
	ErrDatabaseError     = "DATABASE_ERROR"
	ErrReportNotFound    = "REPORT_NOT_FOUND"
	ErrReportError       = "REPORT_ERROR"
	ErrMappingNotFound   = "MAPPING_NOT_FOUND"
)

// respondJSON sends a successful JSON response with type-safe data
func respondJSON[T any](w http.ResponseWriter, data T) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	resp := apiResponse[T]{Success: true, Data: data}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		log.Printf("failed to encode response: %v", err)
	}
}

// errorResponse is the response type for errors (no data field)
type errorResponse struct {
	Success bool      `json:"success"`
	Error   *apiError `json:"error,omitempty"`
}

// respondError sends an error JSON response (logs details server-side, sends safe message to client)
func (h *Handler) respondError(w http.ResponseWriter, code string, clientMessage string, status int, internalErr error) {
	if internalErr != nil {
		log.Printf("[%s] %s: %v", code, clientMessage, internalErr)
	} else {
		log.Printf("[%s] %s", code, clientMessage)
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	resp := errorResponse{
		Success: false,
		Error:   &apiError{Code: code, Message: clientMessage},
	}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		log.Printf("failed to encode error response: %v", err)
	}
}

func (h *Handler) handleGetSchema(w http.ResponseWriter, r *http.Request) {
	s, err := h.target.GetSchema(r.Context())
	if err != nil {
		h.respondError(w, ErrSchemaError, "Failed to load schema", http.StatusInternalServerError, err)
		return
	}
	respondJSON(w, s)
}

type typesData struct {
	Types []schema.TypeInfo `json:"types"`
}

func (h *Handler) handleGetTypes(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, typesData{Types: schema.AllowedTypes})
}

func (h *Handler) handleGetReport(w http.ResponseWriter, r *http.Request) {
	f, err := os.Open(h.reportFile)
	if errors.Is(err, fs.ErrNotExist) {
		h.respondError(w, ErrReportNotFound, "No report has been written yet", http.StatusNotFound, nil)
		return
	}
	if err != nil {
		h.respondError(w, ErrReportError, "Failed to open report", http.StatusInternalServerError, err)
		return
	}
	defer f.Close()

	rep, err := report.ReadJSON(f)
	if err != nil {
		h.respondError(w, ErrReportError, "Failed to read report", http.StatusInternalServerError, err)
		return
	}
	respondJSON(w, rep)
}

type mappingData struct {
	EntityType  string `json:"entityType"`
	LegacyID    string `json:"legacyId"`
	SurrogateID string `json:"surrogateId"`
}

func (h *Handler) handleGetMapping(w http.ResponseWriter, r *http.Request) {
	entityType := r.PathValue("entityType")
	legacyID := r.PathValue("legacyID")

	if legacyID == "" {
		h.respondError(w, ErrMissingField, "legacy id is required", http.StatusBadRequest, nil)
		return
	}
	if !schema.ValidIdentifier(entityType) {
		h.respondError(w, ErrInvalidEntityType, "Invalid entity type format", http.StatusBadRequest, nil)
		return
	}

	id, ok, err := h.target.LookupMapping(r.Context(), entityType, legacyID)
	if err != nil {
		h.respondError(w, ErrDatabaseError, "Failed to look up mapping", http.StatusInternalServerError, err)
		return
	}
	if !ok {
		h.respondError(w, ErrMappingNotFound, "Mapping not found", http.StatusNotFound, nil)
		return
	}

	respondJSON(w, mappingData{EntityType: entityType, LegacyID: legacyID, SurrogateID: id.String()})
}
