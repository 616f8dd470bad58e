// Package api exposes the runtime over HTTP: step and multi-turn
// reasoning, memory access, semantic search, direct skill dispatch, and
// the heal surface, plus a WebSocket event stream.
package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/loomworks/loom/internal/dispatch"
	"github.com/loomworks/loom/internal/events"
	"github.com/loomworks/loom/internal/loop"
	"github.com/loomworks/loom/internal/memory"
	"github.com/loomworks/loom/internal/selfheal"
	"go.uber.org/zap"
)

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	runner   *loop.Runner
	mediator *dispatch.Mediator
	facade   *memory.Facade
	semantic *memory.Semantic
	heal     *selfheal.Watchdog
	hub      *events.Hub
	logger   *zap.Logger
}

// NewHandler creates a new API handler. semantic and heal may be nil;
// their endpoints answer 503.
func NewHandler(
	runner *loop.Runner,
	mediator *dispatch.Mediator,
	facade *memory.Facade,
	semantic *memory.Semantic,
	heal *selfheal.Watchdog,
	hub *events.Hub,
	logger *zap.Logger,
) *Handler {
	return &Handler{
		runner:   runner,
		mediator: mediator,
		facade:   facade,
		semantic: semantic,
		heal:     heal,
		hub:      hub,
		logger:   logger,
	}
}

// Router builds the chi router with all routes.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", h.healthCheck)

		r.Post("/rlm", h.runStep)
		r.Post("/rlm/multi", h.runMultiTurn)

		r.Post("/memory", h.memoryAccess)
		r.Post("/search", h.search)
		r.Post("/upsert", h.upsert)

		r.Post("/action", h.action)
		r.Get("/skills", h.listSkills)

		r.Post("/heal/simulate", h.healSimulate)
		r.Get("/heal/patches", h.healPatches)
	})

	r.Get("/ws/agent", h.agentStream)

	return r
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func (h *Handler) healthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "service": "loom"})
}

type stepRequest struct {
	Query   string `json:"query"`
	Context string `json:"context,omitempty"`
	Depth   int    `json:"depth,omitempty"`
}

func (h *Handler) runStep(w http.ResponseWriter, r *http.Request) {
	var req stepRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if req.Query == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "query is required"})
		return
	}
	summary := h.runner.RunStep(r.Context(), req.Query, req.Context, req.Depth)
	writeJSON(w, http.StatusOK, summary)
}

type multiTurnRequest struct {
	Query    string `json:"query"`
	Context  string `json:"context,omitempty"`
	MaxTurns int    `json:"max_turns,omitempty"`
}

func (h *Handler) runMultiTurn(w http.ResponseWriter, r *http.Request) {
	var req multiTurnRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if req.Query == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "query is required"})
		return
	}
	summaries := h.runner.RunMultiTurn(r.Context(), req.Query, req.Context, req.MaxTurns)
	writeJSON(w, http.StatusOK, map[string]interface{}{"summaries": summaries})
}

type memoryRequest struct {
	Layer int     `json:"layer"`
	Key   string  `json:"key"`
	Value *string `json:"value,omitempty"`
}

func (h *Handler) memoryAccess(w http.ResponseWriter, r *http.Request) {
	var req memoryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	res := h.facade.Access(req.Layer, req.Key, req.Value)
	if !res.Success {
		writeJSON(w, http.StatusBadRequest, res)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type searchRequest struct {
	Query       string    `json:"query"`
	KBName      string    `json:"kb_name"`
	Limit       int       `json:"limit,omitempty"`
	QueryVector []float32 `json:"query_vector,omitempty"`
}

func (h *Handler) search(w http.ResponseWriter, r *http.Request) {
	if h.semantic == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "semantic tier not configured"})
		return
	}
	var req searchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if !memory.KnownBase(req.KBName) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unknown knowledge base"})
		return
	}
	hits, err := h.semantic.Search(r.Context(), req.Query, req.KBName, req.Limit, req.QueryVector)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"hits": hits})
}

type upsertRequest struct {
	KBName string `json:"kb_name"`
	Points []struct {
		ID      string    `json:"id"`
		Content string    `json:"content"`
		Vector  []float32 `json:"vector,omitempty"`
	} `json:"points"`
}

func (h *Handler) upsert(w http.ResponseWriter, r *http.Request) {
	if h.semantic == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "semantic tier not configured"})
		return
	}
	var req upsertRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	if !memory.KnownBase(req.KBName) {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unknown knowledge base"})
		return
	}
	docs := make([]memory.Document, 0, len(req.Points))
	for _, p := range req.Points {
		docs = append(docs, memory.Document{ID: p.ID, Content: p.Content, Vector: p.Vector})
	}
	n, err := h.semantic.Upsert(r.Context(), req.KBName, docs)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true, "upserted_count": n})
}

type actionRequest struct {
	SkillName string            `json:"skill_name"`
	Params    map[string]string `json:"params,omitempty"`
	TimeoutMS int               `json:"timeout_ms,omitempty"`
}

func (h *Handler) action(w http.ResponseWriter, r *http.Request) {
	var req actionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	obs := h.mediator.Dispatch(r.Context(), "", "", req.SkillName, req.Params, req.TimeoutMS)
	writeJSON(w, http.StatusOK, obs)
}

func (h *Handler) listSkills(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.mediator.Registry().List())
}

func (h *Handler) healSimulate(w http.ResponseWriter, r *http.Request) {
	if h.heal == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "self-heal not configured"})
		return
	}
	p, err := h.heal.Simulate(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"status": "simulated", "patch": p})
}

func (h *Handler) healPatches(w http.ResponseWriter, r *http.Request) {
	if h.heal == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "self-heal not configured"})
		return
	}
	writeJSON(w, http.StatusOK, h.heal.Pending())
}
