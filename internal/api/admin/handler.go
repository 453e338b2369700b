// Package admin serves the read-only operator API of the gateway.
package admin

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/piwi3910/s3gateway/internal/eventloop"
	"github.com/piwi3910/s3gateway/internal/kvs"
	"github.com/piwi3910/s3gateway/internal/metadata"
)

// Handler handles Admin API requests
type Handler struct {
	client  *kvs.Client
	loops   *eventloop.Group
	version string
}

// NewHandler creates a new Admin API handler
func NewHandler(client *kvs.Client, loops *eventloop.Group, version string) *Handler {
	return &Handler{
		client:  client,
		loops:   loops,
		version: version,
	}
}

// RegisterRoutes registers the admin routes on r.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/engine", h.GetEngine)
	r.Get("/buckets/{name}", h.GetBucket)
	r.Get("/buckets/{name}/objects/*", h.GetObject)
}

// BuffersResponse reports the buffer budget.
type BuffersResponse struct {
	InUse  int64 `json:"in_use"`
	Budget int64 `json:"budget"`
}

// LoopResponse reports one event loop.
type LoopResponse struct {
	Name    string `json:"name"`
	Pending int    `json:"pending"`
}

// EngineResponse is returned by GetEngine.
type EngineResponse struct {
	Engine  string          `json:"engine"`
	Version string          `json:"version"`
	Buffers BuffersResponse `json:"buffers"`
	Loops   []LoopResponse  `json:"loops"`
}

// GetEngine reports the backend, the buffer budget and the loop backlogs.
func (h *Handler) GetEngine(w http.ResponseWriter, r *http.Request) {
	alloc := h.client.Allocator()

	resp := EngineResponse{
		Engine:  h.client.Engine().Name(),
		Version: h.version,
		Buffers: BuffersResponse{InUse: alloc.InUse(), Budget: alloc.Budget()},
	}

	for _, l := range h.loops.Loops() {
		resp.Loops = append(resp.Loops, LoopResponse{Name: l.Name(), Pending: l.Pending()})
	}

	writeJSON(w, http.StatusOK, resp)
}

// GetBucket returns the stored bucket record.
func (h *Handler) GetBucket(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	var bucket metadata.Bucket
	if !h.load(w, r, metadata.BucketsIndex, name, "Bucket not found", &bucket) {
		return
	}

	writeJSON(w, http.StatusOK, bucket)
}

// GetObject returns the stored object record.
func (h *Handler) GetObject(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	key := strings.TrimPrefix(chi.URLParam(r, "*"), "/")

	if key == "" {
		writeError(w, "Object key is required", http.StatusBadRequest)
		return
	}

	var obj metadata.Object
	if !h.load(w, r, metadata.ObjectsIndex(name), key, "Object not found", &obj) {
		return
	}

	writeJSON(w, http.StatusOK, obj)
}

// load reads one JSON record and writes the error response itself when that
// fails.
func (h *Handler) load(w http.ResponseWriter, r *http.Request, index, key, notFound string, v any) bool {
	data, err := h.client.Get(r.Context(), index, key)
	if err != nil {
		switch kvs.Classify(err) {
		case kvs.ClassNotFound:
			writeError(w, notFound, http.StatusNotFound)
		case kvs.ClassUnavailable, kvs.ClassAllocation:
			writeError(w, err.Error(), http.StatusServiceUnavailable)
		default:
			writeError(w, err.Error(), http.StatusInternalServerError)
		}

		return false
	}

	if err := json.Unmarshal(data, v); err != nil {
		writeError(w, "Corrupt record: "+err.Error(), http.StatusInternalServerError)
		return false
	}

	return true
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, map[string]string{"error": message})
}
