package api

import (
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/issuetracker/backend/internal/auth"
	apperrors "github.com/issuetracker/backend/internal/errors"
	"github.com/issuetracker/backend/internal/health"
	"github.com/issuetracker/backend/internal/logger"
	"github.com/issuetracker/backend/internal/metrics"
	"github.com/issuetracker/backend/internal/middleware"
	"github.com/issuetracker/backend/internal/websocket"
)

const apiPrefix = "/api/v1"

// RouterConfig wires the HTTP surface. Health, Events and Metrics are
// optional.
type RouterConfig struct {
	Auth           *auth.Handlers
	Session        func(http.Handler) http.Handler
	Resources      *Handlers
	Events         *websocket.Handler
	Health         *health.Handler
	Metrics        *metrics.Metrics
	AllowedOrigins []string
	SlowRequest    time.Duration
}

type Router struct {
	mux     *http.ServeMux
	handler http.Handler
	cfg     RouterConfig
	log     *logger.Logger
}

func NewRouter(cfg RouterConfig) *Router {
	r := &Router{
		mux: http.NewServeMux(),
		cfg: cfg,
		log: logger.Default().WithComponent("api"),
	}
	r.setupRoutes()

	r.handler = middleware.Chain(r.mux,
		apperrors.RequestIDMiddleware,
		logger.RecoveryMiddleware,
		logger.LoggingMiddleware,
		metrics.MetricsMiddleware(cfg.Metrics),
		middleware.Timing(cfg.SlowRequest),
		middleware.CORS(cfg.AllowedOrigins),
	)
	return r
}

func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.handler.ServeHTTP(w, req)
}

func (r *Router) setupRoutes() {
	if r.cfg.Health != nil {
		r.cfg.Health.Mount(r.mux)
	}
	if r.cfg.Metrics != nil {
		r.mux.Handle("GET /metrics", r.cfg.Metrics.Handler())
	}

	r.cfg.Auth.Mount(r.mux, apiPrefix+"/auth", r.cfg.Session)

	h := r.cfg.Resources

	// Projects
	r.handle("POST", "/projects/create", h.CreateProject)
	r.handle("GET", "/projects/get-all", h.ListProjects)
	r.handle("GET", "/projects/get/{id}", h.GetProject)
	r.handle("GET", "/projects/get-project-users/{id}", h.GetProjectUsers)
	r.handle("DELETE", "/projects/delete/{id}", h.DeleteProject)
	r.handle("PUT", "/projects/change-role/{projectId}", h.ChangeRole)
	if r.cfg.Events != nil {
		r.handle("GET", "/projects/events/{projectId}", r.cfg.Events.ServeWS)
	}

	// Issues
	r.handle("POST", "/issues/create/{projectId}", h.CreateIssue)
	r.handle("GET", "/issues/get/{issueId}", h.GetIssue)
	r.handle("GET", "/issues/get-all/{projectId}", h.ListIssues)
	r.handle("PUT", "/issues/update/{issueId}", h.UpdateIssue)
	r.handle("DELETE", "/issues/delete/{issueId}", h.DeleteIssue)
	r.handle("POST", "/issues/attachment/{issueId}", h.UploadAttachment)
	r.handle("GET", "/issues/attachments/{issueId}", h.ListAttachments)
	r.handle("GET", "/issues/attachment/{attachmentId}", h.DownloadAttachment)
	r.handle("DELETE", "/issues/attachment/{issueId}/{attachmentId}", h.DeleteAttachment)

	// Comments
	r.handle("POST", "/comments/create/{issueId}", h.CreateComment)
	r.handle("GET", "/comments/get-all/{issueId}", h.ListComments)
	r.handle("GET", "/comments/get/{commentId}", h.GetComment)
	r.handle("PUT", "/comments/update/{commentId}", h.UpdateComment)
	r.handle("DELETE", "/comments/delete/{commentId}", h.DeleteComment)
}

// handle registers a session-protected route under the API prefix.
func (r *Router) handle(method, path string, fn apperrors.Handler) {
	r.mux.Handle(method+" "+apiPrefix+path, r.cfg.Session(apperrors.HandleFunc(r.logged(fn))))
}

// logged records the cause of failed requests. Server errors carry the
// wrapped cause the client never sees.
func (r *Router) logged(fn apperrors.Handler) apperrors.Handler {
	return func(w http.ResponseWriter, req *http.Request) error {
		err := fn(w, req)
		switch {
		case err == nil:
		case apperrors.IsServerError(err):
			r.log.Error(req.Context(), "request failed", err, zap.String("path", req.URL.Path))
		case apperrors.IsClientError(err):
			r.log.Debug(req.Context(), "request rejected", zap.String("path", req.URL.Path), zap.Error(err))
		}
		return err
	}
}
