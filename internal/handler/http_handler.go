package handler

import (
	"encoding/json"
	stderrors "errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/devrev/memdb/internal/errors"
	"github.com/devrev/memdb/internal/model"
	"github.com/devrev/memdb/internal/service"
)

// APIHandler exposes the engine over a JSON HTTP API
type APIHandler struct {
	engine *service.Engine
	logger *zap.Logger
}

// NewAPIHandler creates the API handler
func NewAPIHandler(engine *service.Engine, logger *zap.Logger) *APIHandler {
	return &APIHandler{engine: engine, logger: logger}
}

// Register installs the API routes on mux
func (h *APIHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /tables", h.createTable)
	mux.HandleFunc("PUT /tables/{table}/records/{key}", h.putRecord)
	mux.HandleFunc("GET /tables/{table}/records/{key}", h.getRecord)
	mux.HandleFunc("POST /tables/{table}/query", h.query)
	mux.HandleFunc("POST /flush", h.flush)
	mux.HandleFunc("POST /evict", h.evict)
	mux.HandleFunc("GET /stats", h.stats)
}

type createTableRequest struct {
	Name   string            `json:"name"`
	Schema map[string]string `json:"schema,omitempty"`
}

func (h *APIHandler) createTable(w http.ResponseWriter, r *http.Request) {
	var req createTableRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, errors.InvalidArgument("malformed request body", err))
		return
	}
	if err := h.engine.CreateTable(r.Context(), req.Name, req.Schema); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, map[string]string{"table": req.Name})
}

func (h *APIHandler) putRecord(w http.ResponseWriter, r *http.Request) {
	table, key := r.PathValue("table"), r.PathValue("key")

	var doc model.Document
	if err := json.NewDecoder(r.Body).Decode(&doc); err != nil {
		h.writeError(w, errors.InvalidArgument("document must be a JSON object", err))
		return
	}
	if err := h.engine.Upsert(table, key, doc); err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"table": table, "key": key})
}

func (h *APIHandler) getRecord(w http.ResponseWriter, r *http.Request) {
	table, key := r.PathValue("table"), r.PathValue("key")
	useCache := r.URL.Query().Get("cache") != "false"

	doc, err := h.engine.Get(r.Context(), table, key, useCache)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if doc == nil {
		h.writeError(w, errors.KeyNotFound(table, key))
		return
	}
	h.writeJSON(w, http.StatusOK, doc)
}

type queryRequest struct {
	Where string `json:"where,omitempty"`
	Limit int    `json:"limit,omitempty"`
}

func (h *APIHandler) query(w http.ResponseWriter, r *http.Request) {
	table := r.PathValue("table")

	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, errors.InvalidArgument("malformed request body", err))
		return
	}
	docs, err := h.engine.Query(r.Context(), table, req.Where, req.Limit)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if docs == nil {
		docs = []model.Document{}
	}
	h.writeJSON(w, http.StatusOK, map[string]interface{}{"records": docs, "count": len(docs)})
}

func (h *APIHandler) flush(w http.ResponseWriter, r *http.Request) {
	table := r.URL.Query().Get("table")

	flushed, err := h.engine.Flush(r.Context(), table)
	if err != nil {
		h.logger.Warn("Manual flush incomplete",
			zap.String("table", table),
			zap.Int("flushed", flushed),
			zap.Error(err))
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]int{"flushed": flushed})
}

func (h *APIHandler) evict(w http.ResponseWriter, r *http.Request) {
	evicted, err := h.engine.EvictIdle()
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]int{"evicted": evicted})
}

func (h *APIHandler) stats(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.engine.Stats())
}

func (h *APIHandler) writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.Error("Failed to encode response", zap.Error(err))
	}
}

func (h *APIHandler) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	code := errors.GetCode(err)

	var ee *errors.EngineError
	if stderrors.As(err, &ee) {
		status = ee.ToHTTPStatus()
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"error": err.Error(),
		"code":  int(code),
	})
}
