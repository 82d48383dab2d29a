package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/caseatlas/casesync/internal/casesync"
)

type ServerConfig struct {
	IdentitySecret  string
	RateLimitMax    int
	RateLimitWindow time.Duration
	MaxBodyBytes    int64
}

type Server struct {
	gateway     *casesync.Gateway
	cfg         ServerConfig
	rateLimiter *rateLimiter
}

type rateLimiter struct {
	mu      sync.Mutex
	window  time.Duration
	max     int
	entries map[string]rateEntry
}

type rateEntry struct {
	count   int
	resetAt time.Time
}

func NewServer(gateway *casesync.Gateway) *Server {
	return NewServerWithConfig(gateway, ServerConfig{})
}

func NewServerWithConfig(gateway *casesync.Gateway, cfg ServerConfig) *Server {
	if cfg.RateLimitMax < 0 {
		cfg.RateLimitMax = 0
	}
	if cfg.RateLimitWindow <= 0 {
		cfg.RateLimitWindow = time.Minute
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 1 << 20
	}
	var limiter *rateLimiter
	if cfg.RateLimitMax > 0 {
		limiter = &rateLimiter{
			window:  cfg.RateLimitWindow,
			max:     cfg.RateLimitMax,
			entries: map[string]rateEntry{},
		}
	}
	return &Server{
		gateway:     gateway,
		cfg:         cfg,
		rateLimiter: limiter,
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/health" && r.Method == http.MethodGet {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}
	if r.URL.Path == "/dashboard" && r.Method == http.MethodGet {
		s.handleDashboard(w, r)
		return
	}
	if r.URL.Path == "/v1/admin/rooms" && r.Method == http.MethodGet {
		writeJSON(w, http.StatusOK, map[string]any{"rooms": s.gateway.Rooms()})
		return
	}

	parts := strings.Split(strings.TrimPrefix(r.URL.Path, "/"), "/")
	if len(parts) < 3 || parts[0] != "v1" {
		writeError(w, http.StatusNotFound, "not_found", "route not found")
		return
	}

	userID, authErr := s.resolveUserID(r)
	if authErr != nil {
		writeError(w, authErr.status, authErr.code, authErr.message)
		return
	}

	var route string
	var caseID, resourceID string
	switch {
	case len(parts) == 4 && parts[1] == "cases" && parts[3] == "ws" && r.Method == http.MethodGet:
		route = "ws"
		caseID = parts[2]
	case len(parts) == 4 && parts[1] == "cases" && parts[3] == "annotations" && r.Method == http.MethodGet:
		route = "list_annotations"
		caseID = parts[2]
	case len(parts) == 4 && parts[1] == "cases" && parts[3] == "annotations" && r.Method == http.MethodPost:
		route = "create_annotation"
		caseID = parts[2]
	case len(parts) == 4 && parts[1] == "cases" && parts[3] == "versions" && r.Method == http.MethodGet:
		route = "list_versions"
		caseID = parts[2]
	case len(parts) == 4 && parts[1] == "cases" && parts[3] == "versions" && r.Method == http.MethodPost:
		route = "save_version"
		caseID = parts[2]
	case len(parts) == 3 && parts[1] == "annotations" && (r.Method == http.MethodPatch || r.Method == http.MethodPut):
		route = "update_annotation"
		resourceID = parts[2]
	case len(parts) == 3 && parts[1] == "annotations" && r.Method == http.MethodDelete:
		route = "delete_annotation"
		resourceID = parts[2]
	case len(parts) == 3 && parts[1] == "versions" && r.Method == http.MethodDelete:
		route = "delete_version"
		resourceID = parts[2]
	default:
		writeError(w, http.StatusNotFound, "not_found", "route not found")
		return
	}

	if route != "ws" && s.rateLimiter != nil {
		key := userID
		if key == "" {
			key = clientAddr(r)
		}
		if !s.rateLimiter.allow(key, time.Now().UTC()) {
			retryAfter := int(math.Ceil(s.rateLimiter.window.Seconds()))
			if retryAfter < 1 {
				retryAfter = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
			writeError(w, http.StatusTooManyRequests, "rate_limited", "rate limit exceeded")
			return
		}
	}

	switch route {
	case "ws":
		s.handleCaseSocket(w, r, caseID, userID)
	case "list_annotations":
		s.handleListAnnotations(w, caseID)
	case "create_annotation":
		s.handleCreateAnnotation(w, r, caseID, userID)
	case "update_annotation":
		s.handleUpdateAnnotation(w, r, resourceID)
	case "delete_annotation":
		s.handleDeleteAnnotation(w, resourceID)
	case "list_versions":
		s.handleListVersions(w, caseID)
	case "save_version":
		s.handleSaveVersion(w, r, caseID, userID)
	case "delete_version":
		s.handleDeleteVersion(w, resourceID)
	}
}

func (s *Server) handleListAnnotations(w http.ResponseWriter, caseID string) {
	annotations, err := s.gateway.ListAnnotations(caseID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"annotations": annotations})
}

func (s *Server) handleCreateAnnotation(w http.ResponseWriter, r *http.Request, caseID, userID string) {
	var req struct {
		Type string         `json:"type"`
		Data map[string]any `json:"data"`
	}
	if !s.decodeJSONBody(w, r, &req) {
		return
	}
	created, err := s.gateway.CreateAnnotation(caseID, userID, req.Type, req.Data)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleUpdateAnnotation(w http.ResponseWriter, r *http.Request, id string) {
	var patch casesync.AnnotationPatch
	if !s.decodeJSONBody(w, r, &patch) {
		return
	}
	updated, err := s.gateway.UpdateAnnotation(id, patch)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handleDeleteAnnotation(w http.ResponseWriter, id string) {
	if err := s.gateway.DeleteAnnotation(id); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted", "annotationId": id})
}

func (s *Server) handleListVersions(w http.ResponseWriter, caseID string) {
	versions, err := s.gateway.ListVersions(caseID)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"versions": versions})
}

func (s *Server) handleSaveVersion(w http.ResponseWriter, r *http.Request, caseID, userID string) {
	var req struct {
		Annotations []map[string]any `json:"annotations"`
	}
	if !s.decodeJSONBody(w, r, &req) {
		return
	}
	saved, err := s.gateway.SaveVersion(caseID, userID, req.Annotations)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, saved)
}

func (s *Server) handleDeleteVersion(w http.ResponseWriter, id string) {
	removed, err := s.gateway.DeleteVersion(id)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "deleted", "versionId": removed.ID})
}

func (s *Server) readRequestBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "payload_too_large", "request body exceeds configured limit")
			return nil, false
		}
		writeError(w, http.StatusBadRequest, "bad_request", "failed to read request body")
		return nil, false
	}
	return body, true
}

func (s *Server) decodeJSONBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	body, ok := s.readRequestBody(w, r)
	if !ok {
		return false
	}
	if err := json.Unmarshal(body, dst); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid json body")
		return false
	}
	return true
}

func writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, casesync.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, casesync.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, "bad_request", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, map[string]any{
		"code":    code,
		"message": message,
	})
}

func (r *rateLimiter) allow(key string, now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries[key]
	if !ok || now.After(entry.resetAt) {
		r.entries[key] = rateEntry{
			count:   1,
			resetAt: now.Add(r.window),
		}
		return true
	}
	if entry.count >= r.max {
		return false
	}
	entry.count++
	r.entries[key] = entry
	return true
}

func clientAddr(r *http.Request) string {
	addr := r.RemoteAddr
	if i := strings.LastIndex(addr, ":"); i > 0 {
		addr = addr[:i]
	}
	return addr
}
