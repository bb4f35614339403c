package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"schoolbus-tracker/internal/admin"
	"schoolbus-tracker/internal/alerts"
	"schoolbus-tracker/internal/apiclient"
	"schoolbus-tracker/internal/config"
	"schoolbus-tracker/internal/db"
	"schoolbus-tracker/internal/httpapi"
	"schoolbus-tracker/internal/localstore"
	"schoolbus-tracker/internal/logging"
	"schoolbus-tracker/internal/metrics"
	"schoolbus-tracker/internal/publisher"
	"schoolbus-tracker/internal/route"
	"schoolbus-tracker/internal/session"
	"schoolbus-tracker/internal/sim"
)

func main() {
	// Load configuration from .env and environment
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}
	logger := logging.NewStructuredLogger(os.Stdout, cfg.LogLevel)
	slog.SetDefault(logger)

	// Root context with cancellation on SIGINT/SIGTERM
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, logger); err != nil {
		logging.LogError(logger, "tracker stopped with error", err)
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	mcol := metrics.NewCollector(cfg.SpeedMultiplier, cfg.TickInterval, cfg.StepMeters, cfg.Dwell)
	if cfg.MetricsAddr != "" {
		srv := mcol.Serve(cfg.MetricsAddr, logger)
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	// Routes come from Postgres when configured, else the built-in itineraries.
	routes := route.Builtin()
	var history *db.PositionStore
	if cfg.DatabaseURL != "" {
		sqlDB, err := openDatabase(ctx, cfg.DatabaseURL, routes, logger)
		if err != nil {
			return err
		}
		defer logging.SafeClose(sqlDB, logger, "postgres")

		stored, err := db.FetchRoutes(ctx, sqlDB)
		if err != nil {
			return err
		}
		if len(stored) > 0 {
			routes = stored
		}
		history = db.NewPositionStore(sqlDB)
	}

	var pub *publisher.NATSPublisher
	if cfg.NATSURL != "" {
		p, err := publisher.NewNATSPublisher(cfg.NATSURL, cfg.NATSSubjectPrefix, cfg.LogNATSSubjects, mcol.PublisherMetrics(), logger)
		if err != nil {
			return err
		}
		defer p.Close()
		pub = p
	}

	api, err := apiclient.NewClient(cfg.APIBaseURL, nil, mcol, logger)
	if err != nil {
		return err
	}
	store, err := localstore.Open(cfg.StorePath)
	if err != nil {
		return err
	}
	defer logging.SafeClose(store, logger, "local store")
	sessions := session.NewManager(api, store, cfg.SessionTTL, mcol, logger)
	api.SetTokenSource(sessions)

	poller := alerts.NewPoller(api.DriverAlerts(), api.Messages(), cfg.AlertPollInterval, mcol, logger)
	if pub != nil {
		poller.OnNew(func(a alerts.Alert) {
			msg := publisher.AlertMessage{ID: a.ID, Kind: string(a.Kind), Message: a.Message, CreatedAt: a.CreatedAt}
			if err := pub.PublishAlert(msg); err != nil {
				logging.LogError(logger, "alert publish failed", err, slog.String("alert", a.ID))
			}
		})
	}

	assignments, err := resolveAssignments(cfg.Buses, routes)
	if err != nil {
		return err
	}
	var posPub sim.PositionPublisher
	if pub != nil {
		posPub = pub
	}
	var posRec sim.PositionRecorder
	if history != nil {
		posRec = history
	}
	mgr, err := sim.NewManager(posPub, posRec, sim.ManagerConfig{
		TickInterval:    cfg.TickInterval,
		StepMeters:      cfg.StepMeters,
		SpeedMps:        cfg.SpeedMps,
		SpeedMultiplier: cfg.SpeedMultiplier,
		Dwell:           cfg.Dwell,
		ReturnTrip:      cfg.ReturnTrip,
	}, mcol, logger)
	if err != nil {
		return err
	}
	if err := mgr.Start(ctx, assignments); err != nil {
		return err
	}
	defer mgr.Stop()

	deps := httpapi.Deps{
		Routes:    routes,
		Buses:     mgr,
		Alerts:    poller,
		Sessions:  sessions,
		Passwords: api,
		Stats: func(ctx context.Context) (admin.Stats, error) {
			return admin.CollectStats(ctx, api)
		},
		Admin:   httpapi.NewAdminPanels(api),
		Metrics: mcol,
		Logger:  logger,
	}
	if history != nil {
		deps.History = history
	}
	srv := httpapi.NewServer(deps, httpapi.Options{CORSOrigins: cfg.CORSOrigins, RateLimitPerSec: cfg.RateLimitPerSec})

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		poller.Run(ctx)
	}()

	logger.Info("tracker started",
		slog.Int("buses", len(assignments)),
		slog.Int("routes", len(routes)),
		slog.String("api", api.BaseURL()),
		slog.Bool("postgres", history != nil),
		slog.Bool("nats", pub != nil))

	err = srv.ListenAndServe(ctx, cfg.HTTPAddr)
	cancel()
	wg.Wait()
	return err
}

func openDatabase(ctx context.Context, dsn string, seed map[string]*route.Route, logger *slog.Logger) (*sql.DB, error) {
	sqlDB, err := db.Open(dsn)
	if err != nil {
		return nil, err
	}
	redacted, err := db.RedactDSN(dsn)
	if err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("invalid DATABASE_URL: %w", err)
	}
	if err := db.Ping(ctx, sqlDB); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("postgres %s: %w", redacted, err)
	}
	if err := db.EnsureSchema(ctx, sqlDB); err != nil {
		sqlDB.Close()
		return nil, err
	}
	if err := db.SeedRoutes(ctx, sqlDB, seed); err != nil {
		sqlDB.Close()
		return nil, err
	}
	logger.Info("postgres connected", slog.String("dsn", redacted))
	return sqlDB, nil
}

// resolveAssignments maps configured bus/route pairs onto loaded routes.
func resolveAssignments(buses []config.BusAssignment, routes map[string]*route.Route) ([]sim.Assignment, error) {
	out := make([]sim.Assignment, 0, len(buses))
	for _, b := range buses {
		r, ok := routes[b.RouteID]
		if !ok {
			return nil, fmt.Errorf("bus %s: unknown route %q", b.BusID, b.RouteID)
		}
		out = append(out, sim.Assignment{BusID: b.BusID, Route: r})
	}
	return out, nil
}
