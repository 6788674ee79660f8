// Package api is the HTTP surface of the control plane. Handlers decode
// documents, delegate to the engine, and translate taxonomy errors to
// transport codes. No policy decisions live here.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/Mindburn-Labs/foundry/pkg/contracts"
	"github.com/Mindburn-Labs/foundry/pkg/engine"
	"github.com/Mindburn-Labs/foundry/pkg/fault"
)

type requestIDKey struct{}

// RequestID returns the request id assigned by the server middleware, or ""
// outside a request.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

// Server routes control-plane operations to the engine.
type Server struct {
	engine      *engine.Engine
	evaluations *engine.EvaluationService
	logger      *slog.Logger
	mux         *http.ServeMux
}

// NewServer builds the HTTP surface.
func NewServer(eng *engine.Engine, evals *engine.EvaluationService, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		engine:      eng,
		evaluations: evals,
		logger:      logger.With("component", "api"),
		mux:         http.NewServeMux(),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("POST /jobs", s.handleSubmitJob)
	s.mux.HandleFunc("GET /jobs/{id}", s.handleGetJob)
	s.mux.HandleFunc("POST /jobs/{id}/run", s.handleRunJob)
	s.mux.HandleFunc("POST /jobs/{id}/stop", s.handleStopJob)
	s.mux.HandleFunc("POST /artifacts", s.handleSubmitArtifact)
	s.mux.HandleFunc("GET /artifacts/{id}", s.handleGetArtifact)
	s.mux.HandleFunc("POST /evaluations", s.handleSubmitEvaluation)
	s.mux.HandleFunc("GET /evaluations/{id}", s.handleGetEvaluation)
	s.mux.HandleFunc("GET /health", s.handleHealth)
}

// ServeHTTP assigns a request id before dispatch.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	requestID := uuid.NewString()
	ctx := context.WithValue(r.Context(), requestIDKey{}, requestID)
	w.Header().Set("X-Request-Id", requestID)
	s.mux.ServeHTTP(w, r.WithContext(ctx))
}

func (s *Server) handleSubmitJob(w http.ResponseWriter, r *http.Request) {
	doc, err := decodeDocument(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	job, err := s.engine.SubmitJob(r.Context(), doc)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"job": job})
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.engine.GetJob(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"job": job})
}

func (s *Server) handleRunJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.engine.RunJob(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"job": job})
}

func (s *Server) handleStopJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.engine.StopJob(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"job": job})
}

func (s *Server) handleSubmitArtifact(w http.ResponseWriter, r *http.Request) {
	doc, err := decodeDocument(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	artifact, err := s.engine.SubmitArtifact(r.Context(), doc)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"artifact": artifact})
}

func (s *Server) handleGetArtifact(w http.ResponseWriter, r *http.Request) {
	artifact, err := s.engine.GetArtifact(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"artifact": artifact})
}

func (s *Server) handleSubmitEvaluation(w http.ResponseWriter, r *http.Request) {
	doc, err := decodeDocument(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	result, err := s.evaluations.Submit(r.Context(), doc)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"evaluation": result.Evaluation,
		"job":        result.Job,
	})
}

func (s *Server) handleGetEvaluation(w http.ResponseWriter, r *http.Request) {
	evaluation, err := s.evaluations.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"evaluation": evaluation})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func decodeDocument(r *http.Request) (contracts.Document, error) {
	var doc contracts.Document
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(&doc); err != nil {
		return nil, fault.ContractViolation("INVALID_JSON_BODY", "request body must be a JSON object: %v", err)
	}
	return doc, nil
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.logger.Error("response encode failed", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := fault.HTTPStatus(err)
	if status == http.StatusInternalServerError {
		s.logger.ErrorContext(r.Context(), "internal error",
			"request_id", RequestID(r.Context()), "method", r.Method, "path", r.URL.Path, "error", err)
	} else {
		s.logger.WarnContext(r.Context(), "request refused",
			"request_id", RequestID(r.Context()), "method", r.Method, "path", r.URL.Path, "status", status, "error", err)
	}
	s.writeJSON(w, status, errorPayload(err))
}
