package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hyperjump/lexalign/internal/codec"
	"github.com/hyperjump/lexalign/internal/config"
	"github.com/hyperjump/lexalign/internal/index"
	"github.com/hyperjump/lexalign/internal/models"
	"github.com/hyperjump/lexalign/internal/search"
	"github.com/hyperjump/lexalign/internal/storage"
	"github.com/hyperjump/lexalign/pkg/utils"
)

type textSearchRequest struct {
	models.TextQuery
	models.Page
	View models.Granularity `json:"view,omitempty"`
}

type parametrizedSearchRequest struct {
	models.ParametrizedQuery
	models.Page
	View            models.Granularity `json:"view,omitempty"`
	Parameters      *models.Parameters `json:"parameters,omitempty"`
	Optimized       bool               `json:"optimized,omitempty"`
	AlwaysUseCoarse bool               `json:"always_use_coarse,omitempty"`
}

type ensembleSearchRequest struct {
	models.ParametrizedQuery
	models.Page
	View    models.Granularity      `json:"view,omitempty"`
	Members []models.EnsembleMember `json:"members,omitempty"`
}

type optimizeRequest struct {
	MaxSegments int `json:"max_segments"`
}

type statusResponse struct {
	Mode           string            `json:"mode"`
	ReadOnly       bool              `json:"read_only"`
	Documents      uint64            `json:"documents"`
	Terms          int64             `json:"terms"`
	Sources        int64             `json:"sources"`
	DiskUsageBytes int64             `json:"disk_usage_bytes"`
	Cells          []index.CellStats `json:"cells"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	manager := s.engine.Manager()
	cells, err := manager.Stats()
	if err != nil {
		s.logger.Error("status: cell stats failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	resp := statusResponse{
		Mode:     manager.Mode().String(),
		ReadOnly: manager.ReadOnly(),
		Cells:    cells,
	}
	for _, c := range cells {
		if c.Key.Granularity == models.GranularityDocument {
			resp.Documents += c.Documents
		}
	}
	if s.storage != nil {
		if resp.Terms, err = s.storage.CountTerms(ctx); err != nil {
			s.logger.Error("status: count terms failed", zap.Error(err))
			s.respondError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if resp.Sources, err = s.storage.CountSources(ctx); err != nil {
			s.logger.Error("status: count sources failed", zap.Error(err))
			s.respondError(w, http.StatusInternalServerError, err.Error())
			return
		}
	}
	if usage, err := storage.DiskUsageBytes(manager.Root(), s.config.Vocabulary.DatabasePath); err == nil {
		resp.DiskUsageBytes = usage
	}
	s.respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleTextSearch(w http.ResponseWriter, r *http.Request) {
	var req textSearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := req.TextQuery.Validate(); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.logger.Debug("text search request",
		zap.String("language", req.Language),
		zap.String("query", req.QueryString),
		zap.String("granularity", req.SearchIn.String()),
	)
	res, err := s.engine.TextSearch(r.Context(), req.TextQuery, req.View, s.page(req.Page))
	if err != nil {
		s.respondSearchError(w, "text search failed", err)
		return
	}
	s.respondJSON(w, http.StatusOK, res)
}

func (s *Server) handleParametrizedSearch(w http.ResponseWriter, r *http.Request) {
	var req parametrizedSearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := req.ParametrizedQuery.Validate(); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	params := s.config.Search.Parameters
	if req.Parameters != nil {
		if err := req.Parameters.Validate(); err != nil {
			s.respondError(w, http.StatusBadRequest, "parameters: "+err.Error())
			return
		}
		params = *req.Parameters
	}
	var compiler search.Compiler[models.ParametrizedQuery] = search.ParametrizedCompiler{Params: params, AlwaysUseCoarse: req.AlwaysUseCoarse}
	if req.Optimized {
		compiler = search.OptimizedCompiler{Params: params}
	}
	view := req.View
	if view == 0 {
		view = req.SearchIn.Finest()
	}
	s.logger.Debug("parametrized search request",
		zap.String("language", req.Language),
		zap.String("search_in", req.SearchIn.String()),
		zap.Bool("optimized", req.Optimized),
	)
	res, err := s.engine.ParametrizedSearch(r.Context(), compiler, req.ParametrizedQuery, view, s.page(req.Page))
	if err != nil {
		s.respondSearchError(w, "parametrized search failed", err)
		return
	}
	s.respondJSON(w, http.StatusOK, res)
}

func (s *Server) handleEnsembleSearch(w http.ResponseWriter, r *http.Request) {
	var req ensembleSearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := req.ParametrizedQuery.Validate(); err != nil {
		s.respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	members := req.Members
	if len(members) == 0 {
		members = s.config.Search.Ensemble
	}
	for i, m := range members {
		if err := m.Validate(); err != nil {
			s.respondError(w, http.StatusBadRequest, "members["+strconv.Itoa(i)+"]: "+err.Error())
			return
		}
	}
	view := req.View
	if view == 0 {
		view = req.SearchIn.Finest()
	}
	s.logger.Debug("ensemble search request",
		zap.String("language", req.Language),
		zap.Int("members", len(members)),
	)
	res, err := s.engine.EnsembleSearch(r.Context(), members, req.ParametrizedQuery, view, s.page(req.Page))
	if err != nil {
		s.respondSearchError(w, "ensemble search failed", err)
		return
	}
	s.respondJSON(w, http.StatusOK, res)
}

func (s *Server) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	language := chi.URLParam(r, "language")
	id, err := codec.ParseID(chi.URLParam(r, "id"))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid document id")
		return
	}
	full := r.URL.Query().Get("full") == "true"
	var doc *models.Document
	if full {
		doc, err = s.engine.FullDocument(r.Context(), language, id)
	} else {
		doc, err = s.engine.Document(r.Context(), language, id)
	}
	if err != nil {
		s.respondSearchError(w, "document lookup failed", err)
		return
	}
	if doc == nil {
		s.respondError(w, http.StatusNotFound, "document not found")
		return
	}
	s.respondJSON(w, http.StatusOK, doc)
}

func (s *Server) handleFindTranslation(w http.ResponseWriter, r *http.Request) {
	g, err := models.ParseGranularity(chi.URLParam(r, "granularity"))
	if err != nil || !g.IsSingle() {
		s.respondError(w, http.StatusBadRequest, "invalid granularity")
		return
	}
	id, err := codec.ParseID(chi.URLParam(r, "id"))
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid entity id")
		return
	}
	target := r.URL.Query().Get("target")
	if target == "" {
		s.respondError(w, http.StatusBadRequest, "target language is required")
		return
	}
	entity, err := s.lookup(r.Context(), chi.URLParam(r, "language"), g, id)
	if err != nil {
		s.respondSearchError(w, "entity lookup failed", err)
		return
	}
	if entity == nil {
		s.respondError(w, http.StatusNotFound, "entity not found")
		return
	}
	match, err := s.engine.FindTranslation(r.Context(), entity, target)
	if err != nil {
		s.respondSearchError(w, "find translation failed", err)
		return
	}
	if match == nil {
		s.respondError(w, http.StatusNotFound, "no translation found")
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"granularity": g,
		"source":      entity,
		"translation": match,
	})
}

func (s *Server) handleRandomEntity(w http.ResponseWriter, r *http.Request) {
	g, err := models.ParseGranularity(chi.URLParam(r, "granularity"))
	if err != nil || !g.IsSingle() {
		s.respondError(w, http.StatusBadRequest, "invalid granularity")
		return
	}
	entity, err := s.engine.RandomEntity(r.Context(), chi.URLParam(r, "language"), g)
	if err != nil {
		s.respondSearchError(w, "random entity failed", err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"granularity": g, "entity": entity})
}

// lookup returns the entity of level g, or nil. Typed nil pointers are
// turned into a nil interface.
func (s *Server) lookup(ctx context.Context, language string, g models.Granularity, id uuid.UUID) (models.Entity, error) {
	switch g {
	case models.GranularityDocument:
		v, err := s.engine.Document(ctx, language, id)
		if v == nil {
			return nil, err
		}
		return v, err
	case models.GranularitySection:
		v, err := s.engine.Section(ctx, language, id)
		if v == nil {
			return nil, err
		}
		return v, err
	case models.GranularityParagraph:
		v, err := s.engine.Paragraph(ctx, language, id)
		if v == nil {
			return nil, err
		}
		return v, err
	default:
		v, err := s.engine.Sentence(ctx, language, id)
		if v == nil {
			return nil, err
		}
		return v, err
	}
}

func (s *Server) handleCommit(w http.ResponseWriter, r *http.Request) {
	if err := s.engine.Manager().Commit(r.Context()); err != nil {
		s.respondSearchError(w, "commit failed", err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "committed"})
}

func (s *Server) handleOptimize(w http.ResponseWriter, r *http.Request) {
	req := optimizeRequest{MaxSegments: s.config.Index.MaxSegments}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.MaxSegments < 1 {
		s.respondError(w, http.StatusBadRequest, "max_segments must be at least 1")
		return
	}
	s.logger.Info("optimize request", zap.Int("max_segments", req.MaxSegments))
	manager := s.engine.Manager()
	if err := manager.FullOptimize(r.Context(), req.MaxSegments, manager.ExistingKeys()...); err != nil {
		s.respondSearchError(w, "optimize failed", err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"status": "optimized", "max_segments": req.MaxSegments})
}

func (s *Server) handleWatchDirectoriesList(w http.ResponseWriter, r *http.Request) {
	if s.watch == nil {
		s.respondError(w, http.StatusNotImplemented, "watch not enabled")
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{"directories": s.watch.Directories()})
}

type watchAddRequest struct {
	Path string `json:"path"`
	Sync *bool  `json:"sync,omitempty"`
}

func (s *Server) handleWatchDirectoriesAdd(w http.ResponseWriter, r *http.Request) {
	if s.watch == nil {
		s.respondError(w, http.StatusNotImplemented, "watch not enabled")
		return
	}
	var req watchAddRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Path == "" {
		s.respondError(w, http.StatusBadRequest, "path is required")
		return
	}
	abs, err := filepath.Abs(req.Path)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid path")
		return
	}
	info, err := os.Stat(abs)
	if err != nil {
		if os.IsNotExist(err) {
			s.respondError(w, http.StatusNotFound, "directory not found")
			return
		}
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if !info.IsDir() {
		s.respondError(w, http.StatusBadRequest, "path is not a directory")
		return
	}
	syncExisting := true
	if req.Sync != nil {
		syncExisting = *req.Sync
	}
	s.logger.Debug("watch add directory request", zap.String("path", abs), zap.Bool("sync_existing", syncExisting))
	if err := s.watch.AddDirectory(abs, syncExisting); err != nil {
		s.logger.Error("watch add directory failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.persistWatchDirectories()
	s.respondJSON(w, http.StatusCreated, map[string]string{"path": abs, "status": "added"})
}

func (s *Server) handleWatchDirectoriesRemove(w http.ResponseWriter, r *http.Request) {
	if s.watch == nil {
		s.respondError(w, http.StatusNotImplemented, "watch not enabled")
		return
	}
	path := r.URL.Query().Get("path")
	if path == "" {
		var body struct {
			Path string `json:"path"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err == nil {
			path = body.Path
		}
	}
	if path == "" {
		s.respondError(w, http.StatusBadRequest, "path is required (query or body)")
		return
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid path")
		return
	}
	s.logger.Debug("watch remove directory request", zap.String("path", abs))
	if err := s.watch.RemoveDirectory(abs); err != nil {
		s.logger.Error("watch remove directory failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.persistWatchDirectories()
	s.respondJSON(w, http.StatusOK, map[string]string{"path": abs, "status": "removed"})
}

func (s *Server) persistWatchDirectories() {
	if s.configPath == "" {
		return
	}
	s.configMu.Lock()
	defer s.configMu.Unlock()
	s.config.Watch.Directories = s.watch.Directories()
	if err := config.Save(s.configPath, s.config); err != nil {
		s.logger.Warn("failed to persist watch config", zap.Error(err))
	}
}

// page fills the configured default size and caps it at the configured maximum.
func (s *Server) page(p models.Page) models.Page {
	if p.Size <= 0 {
		p.Size = s.config.Search.DefaultPageSize
	}
	if limit := s.config.Search.MaxPageSize; limit > 0 {
		p.Size = utils.Clamp(p.Size, 1, limit)
	}
	return p
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, index.ErrUnsupportedLanguage),
		errors.Is(err, index.ErrInvalidGranularity),
		errors.Is(err, search.ErrUnsupportedConversion),
		errors.Is(err, search.ErrNoMembers):
		return http.StatusBadRequest
	case errors.Is(err, search.ErrNoSuitableEntity),
		errors.Is(err, search.ErrParentNotFound):
		return http.StatusNotFound
	case errors.Is(err, index.ErrReadOnly),
		errors.Is(err, index.ErrIndexLocked):
		return http.StatusConflict
	case errors.Is(err, search.ErrTooManyResults):
		return http.StatusUnprocessableEntity
	case errors.Is(err, index.ErrClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

func (s *Server) respondSearchError(w http.ResponseWriter, msg string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error(msg, zap.Error(err))
	} else {
		s.logger.Debug(msg, zap.Error(err))
	}
	s.respondError(w, status, err.Error())
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}
