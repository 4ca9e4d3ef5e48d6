package internal

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"

	"connectrpc.com/grpchealth"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/kazz187/taskflow/internal/actionlog"
	"github.com/kazz187/taskflow/internal/automation"
	"github.com/kazz187/taskflow/internal/config"
	"github.com/kazz187/taskflow/internal/event"
	"github.com/kazz187/taskflow/internal/jobqueue"
	"github.com/kazz187/taskflow/internal/task"
	"github.com/kazz187/taskflow/internal/workflow"
	"github.com/kazz187/taskflow/pkg/cerr"
	"github.com/kazz187/taskflow/pkg/clog"
)

type Server struct {
	mu               sync.Mutex
	server           *http.Server
	env              *config.Env
	gatherer         prometheus.Gatherer
	taskServer       *task.Server
	workflowServer   *workflow.Server
	actionLogServer  *actionlog.Server
	jobServer        *jobqueue.Server
	automationServer *automation.Server
	eventServer      *event.Server
}

func NewServer(
	env *config.Env,
	gatherer prometheus.Gatherer,
	taskServer *task.Server,
	workflowServer *workflow.Server,
	actionLogServer *actionlog.Server,
	jobServer *jobqueue.Server,
	automationServer *automation.Server,
	eventServer *event.Server,
) *Server {
	return &Server{
		env:              env,
		gatherer:         gatherer,
		taskServer:       taskServer,
		workflowServer:   workflowServer,
		actionLogServer:  actionLogServer,
		jobServer:        jobServer,
		automationServer: automationServer,
		eventServer:      eventServer,
	}
}

// Handler builds the full HTTP handler tree.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Route("/api", func(r chi.Router) {
		// Event streams stay open for the life of a client; logging their
		// close adds nothing.
		r.Use(clog.SlogChiMiddleware(clog.WithChiFilter(func(r *http.Request) bool {
			return r.URL.Path != "/api/events"
		})))

		// The event stream writes its own frames and must stay outside the
		// JSON response middleware.
		s.eventServer.Mount(r)

		r.Group(func(r chi.Router) {
			r.Use(cerr.NewJSONResponseChiMiddleware())
			s.taskServer.Mount(r)
			s.workflowServer.Mount(r)
			s.actionLogServer.Mount(r)
			s.jobServer.Mount(r)
			s.automationServer.Mount(r)
			r.NotFound(func(w http.ResponseWriter, r *http.Request) {
				cerr.SetNewJSONError(r.Context(), cerr.NotFound, "not found", nil)
			})
		})
	})

	mux := http.NewServeMux()
	mux.Handle("/health", &HealthChecker{})
	mux.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	mux.Handle("/api/", r)
	mux.Handle(grpchealth.NewHandler(grpchealth.NewStaticChecker()))

	return h2c.NewHandler(cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{
			http.MethodGet,
			http.MethodPost,
			http.MethodPut,
			http.MethodDelete,
			http.MethodOptions,
		},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	}).Handler(s.apiKeyMiddleware(mux)), &http2.Server{})
}

// ListenAndServe starts the HTTP server. ctx becomes the base context of
// every request, so cancelling it also ends open event streams.
func (s *Server) ListenAndServe(ctx context.Context) error {
	addr := net.JoinHostPort(s.env.HTTPHost, s.env.HTTPPort)
	slog.Info("starting server", "addr", addr)

	srv := &http.Server{
		Addr:        addr,
		Handler:     s.Handler(),
		BaseContext: func(_ net.Listener) context.Context { return ctx },
	}
	s.mu.Lock()
	s.server = srv
	s.mu.Unlock()
	return srv.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.server
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

type HealthChecker struct{}

func (hc *HealthChecker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

// apiKeyMiddleware is a no-op when no API key is configured.
func (s *Server) apiKeyMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.env.APIKey == "" ||
			r.URL.Path == "/health" ||
			r.URL.Path == "/metrics" ||
			r.URL.Path == "/grpc.health.v1.Health/Check" {
			next.ServeHTTP(w, r)
			return
		}
		apiKey := r.Header.Get("X-API-Key")
		if apiKey == "" {
			apiKey = strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		}
		if subtle.ConstantTimeCompare([]byte(apiKey), []byte(s.env.APIKey)) != 1 {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}
