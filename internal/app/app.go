// Package app wires the mealsync services together.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/adamavenir/mealsync/internal/blobstore"
	"github.com/adamavenir/mealsync/internal/config"
	"github.com/adamavenir/mealsync/internal/events"
	"github.com/adamavenir/mealsync/internal/mealapi"
	"github.com/adamavenir/mealsync/internal/overlay"
	"github.com/adamavenir/mealsync/internal/push"
	"github.com/adamavenir/mealsync/internal/reconcile"
	"github.com/adamavenir/mealsync/internal/retention"
	"github.com/adamavenir/mealsync/internal/store"
	"github.com/adamavenir/mealsync/internal/upload"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
)

// ErrOffline is returned by operations that need the meal API when no API
// URL is configured.
var ErrOffline = errors.New("meal api is not configured (set MEALSYNC_API_URL)")

// App holds every service of a running client.
type App struct {
	Config *config.Config
	Logger *slog.Logger

	Broker     *events.Broker
	Store      *store.Store
	Blobs      *blobstore.Store
	Overlay    *overlay.Overlay
	API        *mealapi.Client
	Reconciler *reconcile.Reconciler
	Uploads    *upload.Orchestrator
	Sweeper    *retention.Sweeper
	Push       *push.Client
}

// New opens the store and builds all services from cfg. The push client is
// only created when a push URL is configured.
func New(cfg *config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}

	broker := events.NewBroker()
	st, err := store.Open(cfg.DBPath, broker, logger)
	if err != nil {
		return nil, err
	}

	blobs, err := blobstore.New(cfg.PhotoDir)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	a := &App{
		Config:  cfg,
		Logger:  logger,
		Broker:  broker,
		Store:   st,
		Blobs:   blobs,
		Overlay: overlay.New(broker),
	}

	var api offlineAPI
	var uploader upload.API = api
	var syncer reconcile.Syncer = api
	if cfg.APIURL != "" {
		client, err := mealapi.NewClient(cfg.APIURL, mealapi.Options{
			Token:         cfg.Token,
			Timeout:       cfg.HTTPTimeout,
			UploadTimeout: cfg.UploadTimeout,
		})
		if err != nil {
			_ = st.Close()
			return nil, fmt.Errorf("meal api: %w", err)
		}
		a.API = client
		uploader = client
		syncer = client
	}

	a.Reconciler = reconcile.New(st, syncer, a.Overlay, logger, reconcile.Options{
		DedupeSize:  cfg.DedupeSize,
		DedupeTTL:   cfg.DedupeTTL,
		SyncOverlap: cfg.SyncOverlap,
	})
	a.Uploads = upload.New(st, a.Overlay, blobs, uploader, upload.Options{
		AnalysisTimeout: cfg.AnalysisTimeout,
	}, logger)
	a.Sweeper = retention.New(st, blobs, retention.Options{
		Retention:     cfg.Retention,
		Interval:      cfg.SweepInterval,
		StaleAfter:    cfg.StaleAnalyzingAfter,
		StaleInterval: cfg.StaleCheckInterval,
	}, logger)

	if cfg.PushURL != "" {
		client, err := push.New(push.Options{
			URL:       cfg.PushURL,
			Token:     cfg.Token,
			OnConnect: a.Reconciler.HandleReconnect,
		}, a.Reconciler.HandlePush, logger)
		if err != nil {
			_ = st.Close()
			return nil, err
		}
		a.Push = client
	}

	return a, nil
}

// Online reports whether a meal API is configured.
func (a *App) Online() bool {
	return a.API != nil
}

// Foreground runs the pull-sync pass expected when the app comes to the
// foreground.
func (a *App) Foreground(ctx context.Context) (*reconcile.SyncResult, error) {
	if !a.Online() {
		return nil, ErrOffline
	}
	return a.Reconciler.PullSync(ctx)
}

// RunOptions configures Run.
type RunOptions struct {
	// MetricsAddr serves Prometheus metrics on /metrics when set.
	MetricsAddr string
}

// Run keeps the background services going until ctx ends: the retention
// sweeper, the push channel when configured, and the metrics endpoint.
// Without a push channel a single pull-sync runs at start.
func (a *App) Run(ctx context.Context, opts RunOptions) error {
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return a.Sweeper.Run(ctx)
	})

	if a.Push != nil {
		g.Go(func() error {
			return a.Push.Run(ctx)
		})
	} else if a.Online() {
		g.Go(func() error {
			if _, err := a.Foreground(ctx); err != nil && ctx.Err() == nil {
				a.Logger.Warn("startup pull-sync failed", slog.Any("error", err))
			}
			return nil
		})
	}

	if opts.MetricsAddr != "" {
		g.Go(func() error {
			return serveMetrics(ctx, opts.MetricsAddr, a.Logger)
		})
	}

	return g.Wait()
}

// Close releases the store.
func (a *App) Close() error {
	return a.Store.Close()
}

func serveMetrics(ctx context.Context, addr string, logger *slog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("metrics server started", slog.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("metrics server shutdown: %w", err)
	}
	return nil
}

// offlineAPI stands in for the meal API when none is configured.
type offlineAPI struct{}

func (offlineAPI) Upload(context.Context, mealapi.UploadRequest) error {
	return ErrOffline
}

func (offlineAPI) Feedback(context.Context, mealapi.FeedbackRequest) error {
	return ErrOffline
}

func (offlineAPI) Sync(context.Context, time.Time) (mealapi.SyncResponse, error) {
	return mealapi.SyncResponse{}, ErrOffline
}
