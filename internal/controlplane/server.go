package controlplane

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/fentz26/postloom/internal/models"
	"github.com/fentz26/postloom/internal/orchestrator"
)

// Version is reported by the health endpoint.
var Version = "dev"

// Pinger checks database connectivity. *store.Store satisfies it.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server provides the HTTP API for Postloom.
type Server struct {
	service *Service
	db      Pinger
	addr    string
	logger  *zap.Logger
	server  *http.Server
}

// NewServer creates a new HTTP server.
func NewServer(service *Service, db Pinger, addr string, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		service: service,
		db:      db,
		addr:    addr,
		logger:  logger.With(zap.String("component", "http")),
	}
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	r.HandleFunc("/health", s.handleHealth)

	// Campaign routes
	r.Post("/campaigns", s.createCampaign)
	r.Route("/campaigns/{id}", func(r chi.Router) {
		r.Get("/", s.getCampaign)
		r.Post("/generate-content", s.generateContent)
		r.Get("/generation-progress", s.getProgress)
		r.Get("/generation-stats", s.getStats)
		r.Post("/cancel-generation", s.cancelGeneration)
		r.Get("/publications", s.listPublications)
	})

	// Publication routes
	r.Post("/publications/{id}/regenerate", s.regeneratePublication)
	r.Get("/publications/{id}/history", s.publicationHistory)

	r.Get("/workers", s.getWorkers)
	return r
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.addr,
		Handler:      s.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 5 * time.Minute,
	}

	s.logger.Info("starting postloom daemon", zap.String("addr", s.addr))
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())))
	})
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	OK      bool   `json:"ok"`
	DB      string `json:"db"`
	Version string `json:"version"`
	Time    string `json:"time"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	health := HealthResponse{
		OK:      true,
		DB:      "ok",
		Version: Version,
		Time:    time.Now().UTC().Format(time.RFC3339),
	}
	status := http.StatusOK

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := s.db.Ping(ctx); err != nil {
		health.OK = false
		health.DB = err.Error()
		status = http.StatusServiceUnavailable
	}

	writeJSON(w, status, health)
}

// --- Campaign Handlers ---

type createCampaignRequest struct {
	WorkspaceID string `json:"workspaceId"`
	Name        string `json:"name"`
}

func (s *Server) createCampaign(w http.ResponseWriter, r *http.Request) {
	var req createCampaignRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}

	c, err := s.service.CreateCampaign(r.Context(), req.WorkspaceID, req.Name)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, c)
}

func (s *Server) getCampaign(w http.ResponseWriter, r *http.Request) {
	c, err := s.service.GetCampaign(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) generateContent(w http.ResponseWriter, r *http.Request) {
	var req GenerateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}

	resp, err := s.service.StartGeneration(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, resp)
}

func (s *Server) getProgress(w http.ResponseWriter, r *http.Request) {
	p, err := s.service.GetProgress(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) getStats(w http.ResponseWriter, r *http.Request) {
	st, err := s.service.GetStats(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (s *Server) cancelGeneration(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.service.CancelGeneration(r.Context(), id); err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"campaignId": id, "status": "cancelled"})
}

func (s *Server) listPublications(w http.ResponseWriter, r *http.Request) {
	pubs, err := s.service.ListPublications(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, err)
		return
	}
	if pubs == nil {
		pubs = []models.Publication{}
	}
	writeJSON(w, http.StatusOK, pubs)
}

// --- Publication Handlers ---

func (s *Server) regeneratePublication(w http.ResponseWriter, r *http.Request) {
	var req orchestrator.RegenerateInput
	// An empty body regenerates from the stored publication.
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}

	pub, err := s.service.RegeneratePublication(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		s.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, pub)
}

func (s *Server) publicationHistory(w http.ResponseWriter, r *http.Request) {
	history, err := s.service.PublicationHistory(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, err)
		return
	}
	if history == nil {
		history = []models.RegenerationHistory{}
	}
	writeJSON(w, http.StatusOK, history)
}

func (s *Server) getWorkers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.service.Workers())
}

// statusFor maps service errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, orchestrator.ErrGenerationInProgress):
		return http.StatusConflict
	case errors.Is(err, orchestrator.ErrEmptyPlan), errors.Is(err, ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, orchestrator.ErrCampaignNotFound),
		errors.Is(err, orchestrator.ErrPublicationNotFound),
		errors.Is(err, orchestrator.ErrNoActiveGeneration),
		errors.Is(err, ErrCampaignNotFound),
		errors.Is(err, ErrProgressNotFound),
		errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrAtCapacity):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) fail(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", zap.Error(err))
	}
	writeError(w, status, err.Error())
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
