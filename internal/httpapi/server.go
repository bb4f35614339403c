package httpapi

import (
	"context"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/klauspost/compress/gzhttp"

	"schoolbus-tracker/internal/admin"
	"schoolbus-tracker/internal/alerts"
	"schoolbus-tracker/internal/logging"
	"schoolbus-tracker/internal/metrics"
	"schoolbus-tracker/internal/publisher"
	"schoolbus-tracker/internal/route"
	"schoolbus-tracker/internal/session"
	"schoolbus-tracker/internal/sim"
)

// Buses is the live fleet; *sim.Manager implements it.
type Buses interface {
	Snapshots() []sim.Snapshot
	Snapshot(busID string) (sim.Snapshot, error)
	ETA(busID string, j int) (sim.ETA, error)
	Restart(busID string) error
}

type AlertFeed interface {
	List() []alerts.Alert
	Unread() int
	MarkRead(id string) error
}

type History interface {
	RecentPositions(ctx context.Context, busID string, limit int) ([]publisher.PositionMessage, error)
}

type Sessions interface {
	Login(ctx context.Context, email, password, userType string) (session.State, error)
	Logout(ctx context.Context) error
	Current(ctx context.Context) (session.State, error)
}

type PasswordResetter interface {
	ForgotPassword(ctx context.Context, email string) (string, error)
}

// Deps wires the server. Routes and Buses are required; the rest enable
// their endpoints when set.
type Deps struct {
	Routes    map[string]*route.Route
	Buses     Buses
	Alerts    AlertFeed
	History   History
	Sessions  Sessions
	Passwords PasswordResetter
	Stats     func(ctx context.Context) (admin.Stats, error)
	Admin     *AdminPanels
	Metrics   *metrics.Collector
	Logger    *slog.Logger
}

type Options struct {
	CORSOrigins     []string
	RateLimitPerSec int
}

type Server struct {
	deps     Deps
	routeIDs []string
	limiter  *rateLimiter
	handler  http.Handler
}

func NewServer(deps Deps, opts Options) *Server {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	s := &Server{deps: deps, limiter: newRateLimiter(opts.RateLimitPerSec)}
	for id := range deps.Routes {
		s.routeIDs = append(s.routeIDs, id)
	}
	sort.Strings(s.routeIDs)

	origins := opts.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))
	r.Use(s.limiter.middleware)

	r.Get("/health", s.health)
	r.Route("/api", func(r chi.Router) {
		r.Get("/routes", s.listRoutes)
		r.Get("/routes/{routeID}", s.getRoute)

		r.Get("/buses", s.listBuses)
		r.Get("/buses/{busID}", s.getBus)
		r.Get("/buses/{busID}/eta", s.busETA)
		r.Post("/buses/{busID}/restart", s.restartBus)
		if deps.History != nil {
			r.Get("/buses/{busID}/history", s.busHistory)
		}
		r.Get("/parent/buses/{busID}/status", s.parentStatus)

		if deps.Alerts != nil {
			r.Get("/alerts", s.listAlerts)
			r.Post("/alerts/{alertID}/read", s.markAlertRead)
		}
		if deps.Sessions != nil {
			r.Get("/session", s.currentSession)
			r.Post("/session", s.login)
			r.Delete("/session", s.logout)
		}
		if deps.Passwords != nil {
			r.Post("/forgot-password", s.forgotPassword)
		}
		if deps.Stats != nil {
			r.Get("/admin/stats", s.adminStats)
		}
		if deps.Admin != nil {
			mountAdmin(r, deps.Admin)
		}
	})

	s.handler = gzhttp.GzipHandler(r)
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// Close stops background work of the middleware stack.
func (s *Server) Close() { s.limiter.Stop() }

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		reqLogger := s.deps.Logger.With(slog.String("request_id", middleware.GetReqID(r.Context())))
		next.ServeHTTP(ww, r.WithContext(logging.WithLogger(r.Context(), reqLogger)))

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		pattern := r.URL.Path
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			pattern = rc.RoutePattern()
		}
		logging.LogHTTPRequest(s.deps.Logger, r.Method, r.URL.Path, status,
			float64(time.Since(start).Microseconds())/1000,
			slog.String("request_id", middleware.GetReqID(r.Context())))
		if s.deps.Metrics != nil {
			s.deps.Metrics.HTTPRequests.WithLabelValues(pattern, strconv.Itoa(status)).Inc()
		}
	})
}

// ListenAndServe runs the server until ctx is cancelled, then shuts it down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.deps.Logger.Info("http server listening", slog.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		s.Close()
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := srv.Shutdown(shutdownCtx)
	s.Close()
	return err
}
