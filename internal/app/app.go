// Package app builds the long-lived services behind every command: the worksheet
// store, diagnostics store, notifier, source registry and sync runner.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"

	"cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/JakeFAU/healthsync/internal/artifact"
	artifactgcs "github.com/JakeFAU/healthsync/internal/artifact/gcs"
	artifactlocal "github.com/JakeFAU/healthsync/internal/artifact/local"
	artifactmemory "github.com/JakeFAU/healthsync/internal/artifact/memory"
	"github.com/JakeFAU/healthsync/internal/browser"
	"github.com/JakeFAU/healthsync/internal/clock/system"
	"github.com/JakeFAU/healthsync/internal/config"
	"github.com/JakeFAU/healthsync/internal/id/uuid"
	"github.com/JakeFAU/healthsync/internal/notify"
	notifypubsub "github.com/JakeFAU/healthsync/internal/notify/pubsub"
	"github.com/JakeFAU/healthsync/internal/sheet"
	sheetgoogle "github.com/JakeFAU/healthsync/internal/sheet/google"
	sheetmemory "github.com/JakeFAU/healthsync/internal/sheet/memory"
	sheetpostgres "github.com/JakeFAU/healthsync/internal/sheet/postgres"
	sheetsqlite "github.com/JakeFAU/healthsync/internal/sheet/sqlite"
	"github.com/JakeFAU/healthsync/internal/source"
	"github.com/JakeFAU/healthsync/internal/source/heartcloud"
	"github.com/JakeFAU/healthsync/internal/source/myair"
	"github.com/JakeFAU/healthsync/internal/source/oura"
	"github.com/JakeFAU/healthsync/internal/source/strava"
	"github.com/JakeFAU/healthsync/internal/syncer"
)

// App holds the shared services for one process.
type App struct {
	cfg       config.Config
	logger    *zap.Logger
	clock     *system.Clock
	ids       *uuid.Generator
	store     sheet.Store
	artifacts *artifact.Store
	publisher notify.Publisher
	registry  *source.Registry
	runner    *syncer.Runner
	closers   []func() error
	heartOpts []heartcloud.Option
	// stravaTokens outlives each Strava source so rotated refresh tokens carry over.
	stravaTokens *strava.RefreshTokens
}

// Option overrides a service New would otherwise build from config.
type Option func(*options)

type options struct {
	store     sheet.Store
	publisher notify.Publisher
	blobs     artifact.BlobStore
	output    io.Writer
	heartOpts []heartcloud.Option
}

// WithStore replaces the configured worksheet store.
func WithStore(store sheet.Store) Option {
	return func(o *options) { o.store = store }
}

// WithPublisher replaces the configured notifier.
func WithPublisher(p notify.Publisher) Option {
	return func(o *options) { o.publisher = p }
}

// WithBlobStore replaces the configured diagnostics backend.
func WithBlobStore(b artifact.BlobStore) Option {
	return func(o *options) { o.blobs = b }
}

// WithOutput sets where dry-run previews are printed.
func WithOutput(w io.Writer) Option {
	return func(o *options) { o.output = w }
}

// WithHeartCloudOptions passes options to the dashboard source.
func WithHeartCloudOptions(opts ...heartcloud.Option) Option {
	return func(o *options) { o.heartOpts = append(o.heartOpts, opts...) }
}

// New initializes every service. It fails fast when a configured backend cannot be reached.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger, opts ...Option) (*App, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	a := &App{
		cfg:       cfg,
		logger:    logger,
		clock:     system.New(loc),
		ids:       uuid.New(),
		registry:  source.NewRegistry(),
		heartOpts: o.heartOpts,

		stravaTokens: strava.NewRefreshTokens(cfg.Strava.RefreshToken),
	}

	a.store = o.store
	if a.store == nil {
		if a.store, err = a.buildStore(ctx); err != nil {
			return nil, err
		}
	}
	a.closers = append(a.closers, a.store.Close)

	blobs := o.blobs
	if blobs == nil {
		if blobs, err = a.buildBlobStore(ctx); err != nil {
			a.Close()
			return nil, err
		}
	}
	if blobs != nil {
		if a.artifacts, err = artifact.NewStore(blobs, cfg.Artifacts.Prefix); err != nil {
			a.Close()
			return nil, fmt.Errorf("artifact store: %w", err)
		}
	}

	a.publisher = o.publisher
	if a.publisher == nil {
		if a.publisher, err = a.buildPublisher(ctx); err != nil {
			a.Close()
			return nil, err
		}
	}
	a.closers = append(a.closers, a.publisher.Close)

	a.registerSources()
	a.runner = syncer.New(a.registry, a.store, a.publisher, a.ids, a.clock, syncer.Config{
		PushgatewayURL: cfg.Metrics.PushgatewayURL,
		PushJob:        cfg.Metrics.Job,
		Output:         o.output,
	}, logger)

	logger.Info("application services initialized",
		zap.String("store", cfg.Store.Driver),
		zap.String("artifacts", cfg.Artifacts.Driver),
		zap.Bool("notify", cfg.Notify.Topic != ""),
		zap.Strings("sources", a.registry.Names()),
	)
	return a, nil
}

// Config returns the loaded configuration.
func (a *App) Config() config.Config { return a.cfg }

// Logger returns the shared logger.
func (a *App) Logger() *zap.Logger { return a.logger }

// Clock returns the clock in the configured time zone.
func (a *App) Clock() *system.Clock { return a.clock }

// IDs returns the run ID generator.
func (a *App) IDs() *uuid.Generator { return a.ids }

// Registry returns the source registry.
func (a *App) Registry() *source.Registry { return a.registry }

// Runner returns the sync runner.
func (a *App) Runner() *syncer.Runner { return a.runner }

// HeartCloud builds the dashboard source directly, for snapshots.
func (a *App) HeartCloud() (*heartcloud.Source, error) {
	return a.newHeartCloud()
}

// Close shuts services down in reverse order of construction.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	if err := errors.Join(errs...); err != nil {
		a.logger.Warn("error closing services", zap.Error(err))
		return err
	}
	return nil
}

func (a *App) buildStore(ctx context.Context) (sheet.Store, error) {
	sc := a.cfg.Store
	switch sc.Driver {
	case config.StoreGoogle:
		store, err := sheetgoogle.New(ctx, sheetgoogle.Config{
			SpreadsheetID:   sc.SpreadsheetID,
			CredentialsFile: sc.CredentialsFile,
			CredentialsJSON: sc.CredentialsJSON,
		})
		if err != nil {
			return nil, fmt.Errorf("google sheets store: %w", err)
		}
		return store, nil
	case config.StorePostgres:
		store, err := sheetpostgres.New(ctx, sheetpostgres.Config{
			DSN:             sc.DSN,
			MaxConns:        sc.MaxConns,
			MaxConnLifetime: sc.MaxConnLifetime,
		})
		if err != nil {
			return nil, fmt.Errorf("postgres store: %w", err)
		}
		return store, nil
	case config.StoreSQLite:
		store, err := sheetsqlite.Open(sc.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("sqlite store: %w", err)
		}
		return store, nil
	case config.StoreMemory:
		store, _ := sheetmemory.NewStore()
		return store, nil
	default:
		return nil, fmt.Errorf("unknown store driver: %s", sc.Driver)
	}
}

func (a *App) buildBlobStore(ctx context.Context) (artifact.BlobStore, error) {
	ac := a.cfg.Artifacts
	switch ac.Driver {
	case config.ArtifactsNone, "":
		return nil, nil
	case config.ArtifactsLocal:
		blobs, err := artifactlocal.New(ac.Dir)
		if err != nil {
			return nil, fmt.Errorf("local artifacts: %w", err)
		}
		return blobs, nil
	case config.ArtifactsGCS:
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs client: %w", err)
		}
		blobs, err := artifactgcs.New(client, ac.Bucket)
		if err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("gcs artifacts: %w", err)
		}
		a.closers = append(a.closers, blobs.Close)
		return blobs, nil
	case config.ArtifactsMemory:
		return artifactmemory.NewBlobStore(), nil
	default:
		return nil, fmt.Errorf("unknown artifacts driver: %s", ac.Driver)
	}
}

func (a *App) buildPublisher(ctx context.Context) (notify.Publisher, error) {
	if a.cfg.Notify.Topic == "" {
		return notify.Noop{}, nil
	}
	pub, err := notifypubsub.New(ctx, notifypubsub.Config{
		ProjectID: a.cfg.Notify.ProjectID,
		Topic:     a.cfg.Notify.Topic,
	})
	if err != nil {
		return nil, fmt.Errorf("pubsub notifier: %w", err)
	}
	return pub, nil
}

func (a *App) registerSources() {
	cfg := a.cfg
	a.registry.Register(oura.Name, func(context.Context) (source.Source, error) {
		src, err := oura.New(oura.Config{
			BaseURL:   cfg.Oura.BaseURL,
			Token:     cfg.Oura.Token,
			Worksheet: cfg.Oura.Worksheet,
			Timeout:   cfg.Oura.Timeout,
		}, a.logger)
		if err != nil {
			return nil, err
		}
		return src, nil
	})
	a.registry.Register(strava.Name, func(context.Context) (source.Source, error) {
		src, err := strava.New(strava.Config{
			BaseURL:      cfg.Strava.BaseURL,
			TokenURL:     cfg.Strava.TokenURL,
			ClientID:     cfg.Strava.ClientID,
			ClientSecret: cfg.Strava.ClientSecret,
			RefreshToken: cfg.Strava.RefreshToken,
			Tokens:       a.stravaTokens,
			Worksheet:    cfg.Strava.Worksheet,
			LookbackDays: cfg.Strava.LookbackDays,
			DetailRate:   cfg.Strava.DetailRate,
			Timeout:      cfg.Strava.Timeout,
		}, a.logger)
		if err != nil {
			return nil, err
		}
		return src, nil
	})
	a.registry.Register(myair.Name, func(context.Context) (source.Source, error) {
		src, err := myair.New(myair.Config{
			BaseURL:   cfg.MyAir.BaseURL,
			Email:     cfg.MyAir.Email,
			Password:  cfg.MyAir.Password,
			Worksheet: cfg.MyAir.Worksheet,
			UserAgent: cfg.Browser.UserAgent,
			Timeout:   cfg.MyAir.Timeout,
		}, a.logger)
		if err != nil {
			return nil, err
		}
		return src, nil
	})
	a.registry.Register(heartcloud.Name, func(context.Context) (source.Source, error) {
		src, err := a.newHeartCloud()
		if err != nil {
			return nil, err
		}
		return src, nil
	})
}

func (a *App) newHeartCloud() (*heartcloud.Source, error) {
	hc := a.cfg.HeartCloud
	opts := append([]heartcloud.Option(nil), a.heartOpts...)
	if a.artifacts != nil {
		opts = append([]heartcloud.Option{heartcloud.WithArtifacts(a.artifacts)}, opts...)
	}
	return heartcloud.New(heartcloud.Config{
		BaseURL:        hc.BaseURL,
		LoginPath:      hc.LoginPath,
		CandidatePaths: hc.CandidatePaths,
		Email:          hc.Email,
		Password:       hc.Password,
		Worksheet:      hc.Worksheet,
		Selectors:      hc.Selectors,
		WaitTimeout:    hc.WaitTimeout,
		Settle:         hc.Settle,
		PageSettle:     hc.PageSettle,
		Backfill:       hc.Backfill,
		Browser: browser.Config{
			Headless:   a.cfg.Browser.Headless,
			UserAgent:  a.cfg.Browser.UserAgent,
			ExecPath:   a.cfg.Browser.ExecPath,
			NavTimeout: a.cfg.Browser.NavTimeout,
		},
	}, a.logger, opts...)
}
