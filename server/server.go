// Package server exposes read-only pipeline status over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/framer-cd/framer/domain"
	"github.com/framer-cd/framer/repository"
)

type projectView struct {
	ID                  uuid.UUID         `json:"id"`
	Name                string            `json:"name"`
	OwnerID             string            `json:"owner_id"`
	Status              string            `json:"status"`
	RepoURL             string            `json:"repo_url"`
	GitBranch           string            `json:"git_branch"`
	DeploymentProjectID string            `json:"deployment_project_id,omitempty"`
	DeploymentURL       string            `json:"deployment_url,omitempty"`
	Metadata            map[string]string `json:"metadata,omitempty"`
	CreatedAt           time.Time         `json:"created_at"`
	UpdatedAt           time.Time         `json:"updated_at"`
}

func newProjectView(p *domain.Project) projectView {
	return projectView{
		ID:                  p.ID,
		Name:                p.Name,
		OwnerID:             p.OwnerID,
		Status:              p.Status.String(),
		RepoURL:             p.RepoURL,
		GitBranch:           p.GitBranch,
		DeploymentProjectID: p.DeploymentProjectID,
		DeploymentURL:       p.DeploymentURL,
		Metadata:            p.Metadata,
		CreatedAt:           p.CreatedAt,
		UpdatedAt:           p.UpdatedAt,
	}
}

type buildView struct {
	ID           uuid.UUID         `json:"id"`
	ProjectID    uuid.UUID         `json:"project_id"`
	CommitHash   string            `json:"commit_hash"`
	Status       string            `json:"status"`
	DeploymentID string            `json:"deployment_id,omitempty"`
	Data         map[string]string `json:"data,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
}

func newBuildView(b *domain.Build) buildView {
	return buildView{
		ID:           b.ID,
		ProjectID:    b.ProjectID,
		CommitHash:   b.CommitHash,
		Status:       b.Status.String(),
		DeploymentID: b.DeploymentID,
		Data:         b.Data,
		CreatedAt:    b.CreatedAt,
		UpdatedAt:    b.UpdatedAt,
	}
}

type jobView struct {
	ID        uuid.UUID       `json:"id"`
	ProjectID *uuid.UUID      `json:"project_id,omitempty"`
	Type      string          `json:"type"`
	Status    string          `json:"status"`
	State     string          `json:"state"`
	Error     string          `json:"error,omitempty"`
	Context   json.RawMessage `json:"context,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

func newJobView(j *domain.Job) jobView {
	return jobView{
		ID:        j.ID,
		ProjectID: j.ProjectID,
		Type:      j.Type.String(),
		Status:    j.Status.String(),
		State:     j.State.String(),
		Error:     j.Data.Error,
		Context:   j.Data.Context,
		CreatedAt: j.CreatedAt,
		UpdatedAt: j.UpdatedAt,
	}
}

type logView struct {
	Source    string    `json:"source"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

func newLogViews(entries []*domain.LogEntry) []logView {
	views := make([]logView, len(entries))
	for i, e := range entries {
		views[i] = logView{Source: e.Source, Text: e.Text, CreatedAt: e.CreatedAt}
	}
	return views
}

// Handler serves the status API
type Handler struct {
	repos   *repository.Repositories
	version string
}

// NewRouter returns the routes of the status API
func NewRouter(repos *repository.Repositories, version string) http.Handler {
	h := &Handler{repos: repos, version: version}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)

	r.Get("/health", h.health)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Get("/projects", h.listProjects)
		r.With(withID).Get("/projects/{id}", h.getProject)
		r.With(withID).Get("/jobs/{id}", h.getJob)
		r.With(withID).Get("/builds/{id}", h.getBuild)
	})
	return r
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		slog.Debug("HTTP request",
			"layer", "server",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(started),
			"request_id", middleware.GetReqID(r.Context()))
	})
}

type idKey struct{}

// withID parses the {id} URL parameter and rejects malformed ids
func withID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid id format")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), idKey{}, id)))
	})
}

func idFrom(r *http.Request) uuid.UUID {
	id, _ := r.Context().Value(idKey{}).(uuid.UUID)
	return id
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "version": h.version})
}

func (h *Handler) listProjects(w http.ResponseWriter, r *http.Request) {
	projects, err := h.repos.Projects.List(r.Context())
	if err != nil {
		h.fail(w, "list_projects", err)
		return
	}
	views := make([]projectView, len(projects))
	for i, p := range projects {
		views[i] = newProjectView(p)
	}
	writeJSON(w, http.StatusOK, views)
}

func (h *Handler) getProject(w http.ResponseWriter, r *http.Request) {
	project, err := h.repos.Projects.FindByID(r.Context(), idFrom(r))
	if err != nil {
		h.fail(w, "get_project", err)
		return
	}
	builds, err := h.repos.Builds.ListByProjectID(r.Context(), project.ID)
	if err != nil {
		h.fail(w, "list_builds", err)
		return
	}
	buildViews := make([]buildView, len(builds))
	for i, b := range builds {
		buildViews[i] = newBuildView(b)
	}
	writeJSON(w, http.StatusOK, struct {
		projectView
		Builds []buildView `json:"builds"`
	}{newProjectView(project), buildViews})
}

func (h *Handler) getJob(w http.ResponseWriter, r *http.Request) {
	job, err := h.repos.Jobs.FindByID(r.Context(), idFrom(r))
	if err != nil {
		h.fail(w, "get_job", err)
		return
	}
	logs, err := h.repos.Logs.ListBySubjectID(r.Context(), job.ID)
	if err != nil {
		h.fail(w, "list_logs", err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		jobView
		Logs []logView `json:"logs"`
	}{newJobView(job), newLogViews(logs)})
}

func (h *Handler) getBuild(w http.ResponseWriter, r *http.Request) {
	build, err := h.repos.Builds.FindByID(r.Context(), idFrom(r))
	if err != nil {
		h.fail(w, "get_build", err)
		return
	}
	logs, err := h.repos.Logs.ListBySubjectID(r.Context(), build.ID)
	if err != nil {
		h.fail(w, "list_logs", err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		buildView
		Logs []logView `json:"logs"`
	}{newBuildView(build), newLogViews(logs)})
}

func (h *Handler) fail(w http.ResponseWriter, operation string, err error) {
	if repository.IsNotFound(err) {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	slog.Error("Handler operation failed",
		"layer", "server",
		"operation", operation,
		"error", err)
	writeError(w, http.StatusInternalServerError, "internal server error")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("Failed to write response", "layer", "server", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// Run serves handler on addr until ctx is cancelled, then shuts down gracefully
func Run(ctx context.Context, addr string, handler http.Handler) error {
	server := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("HTTP server starting", "layer", "server", "address", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("Shutting down HTTP server", "layer", "server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http server shutdown failed: %w", err)
	}
	return nil
}
