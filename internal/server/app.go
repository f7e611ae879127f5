// Package server assembles the registry from its configuration and runs
// one of its three roles: the admin gRPC API, the download permission
// worker or a one-shot maintenance task. Every role also exposes
// Prometheus metrics while it runs.
package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dmitrijs2005/trialregistry/internal/logging"
	"github.com/dmitrijs2005/trialregistry/internal/server/access"
	"github.com/dmitrijs2005/trialregistry/internal/server/config"
	"github.com/dmitrijs2005/trialregistry/internal/server/csms"
	"github.com/dmitrijs2005/trialregistry/internal/server/downloads"
	"github.com/dmitrijs2005/trialregistry/internal/server/gcloud"
	"github.com/dmitrijs2005/trialregistry/internal/server/jobs"
	"github.com/dmitrijs2005/trialregistry/internal/server/manifests"
	"github.com/dmitrijs2005/trialregistry/internal/server/metrics"
	"github.com/dmitrijs2005/trialregistry/internal/server/objectstore"
	"github.com/dmitrijs2005/trialregistry/internal/server/permissions"
	"github.com/dmitrijs2005/trialregistry/internal/server/queue"
	"github.com/dmitrijs2005/trialregistry/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/trialregistry/internal/server/schema"
	"github.com/dmitrijs2005/trialregistry/internal/server/trials"
	"github.com/dmitrijs2005/trialregistry/internal/server/uploads"
	"github.com/dmitrijs2005/trialregistry/internal/server/users"
	"github.com/dmitrijs2005/trialregistry/internal/timex"
	"golang.org/x/sync/errgroup"

	gs "github.com/dmitrijs2005/trialregistry/internal/server/grpc"
)

type App struct {
	config    *config.Config
	logger    logging.Logger
	db        *sql.DB
	clients   *gcloud.Clients
	publisher *queue.PubSubPublisher
	metrics   *metrics.Metrics
	store     objectstore.Store

	users       *users.Service
	permissions *permissions.Service
	access      *access.Service
	trials      *trials.Service
	uploads     *uploads.Service
	manifests   *manifests.Engine
	downloads   *downloads.Service
	syncer      *csms.Syncer
	// csmsConfigured is false when no CSMS endpoint is set; bulk sync is
	// then unavailable while single-manifest sync still works.
	csmsConfigured bool
}

func NewApp(ctx context.Context, c *config.Config) (*App, error) {
	logger := logging.NewJSONLogger(os.Stdout, logging.ParseLevel(c.LogLevel))

	db, err := sql.Open("pgx", c.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("db open error: %w", err)
	}

	rm := repomanager.NewPostgresRepositoryManager()
	if err := rm.RunMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migration error: %w", err)
	}

	app := &App{config: c, logger: logger, db: db, metrics: metrics.New()}
	if err := app.wire(ctx, rm); err != nil {
		_ = app.Close()
		return nil, err
	}
	return app, nil
}

func (app *App) wire(ctx context.Context, rm repomanager.RepositoryManager) error {
	c := app.config
	clock := timex.Clock(time.Now)

	app.clients = gcloud.NewClients(c.GCPProject)

	publisher, err := queue.NewPubSubPublisher(ctx, c.GCPProject, app.logger, app.metrics)
	if err != nil {
		return fmt.Errorf("queue init error: %w", err)
	}
	app.publisher = publisher
	notifier := queue.NewNotifier(publisher, queue.Topics{
		DownloadPermissions: c.DownloadPermissionsTopic,
		UploadSuccess:       c.UploadTopic,
		Emails:              c.EmailsTopic,
		PatientSample:       c.PatientSampleTopic,
		ArtifactUpload:      c.ArtifactUploadTopic,
	})

	store, err := objectstore.Open(ctx, c, app.clients)
	if err != nil {
		return fmt.Errorf("object store init error: %w", err)
	}
	app.store = store

	validator, err := schema.New()
	if err != nil {
		return fmt.Errorf("schema init error: %w", err)
	}

	app.trials = trials.NewService(app.db, rm, validator, app.logger)
	app.access = access.NewService(app.clients, gcloud.NewBindingManager(app.logger, clock, app.metrics), notifier, app.trials,
		access.Settings{
			DataBucket:         c.DataBucket,
			UploadBucket:       c.UploadBucket,
			IntakeBucketPrefix: c.IntakeBucketPrefix,
			ListerRole:         c.ListerRole,
			UploadRole:         c.UploadRole,
			IntakeRole:         c.IntakeRole,
			BigQueryRole:       c.BigQueryRole,
			BigQueryDataset:    c.BigQueryDataset,
			TTLDays:            c.InactiveUserDays,
		}, app.logger)
	app.permissions = permissions.NewService(app.db, rm, app.access, app.metrics, app.logger)
	app.users = users.NewService(app.db, rm, app.permissions, app.access, c.InactiveUserDays, clock, app.logger)
	app.uploads = uploads.NewService(app.db, rm, notifier, app.permissions, app.logger)
	app.manifests = manifests.NewEngine(app.db, rm, app.trials, notifier, manifests.Source(c.ManifestSource), app.metrics, app.logger)
	app.downloads = downloads.NewService(app.db, rm, app.permissions, store, c.SignedURLTTL, clock, app.logger)

	var source csms.ManifestSource
	if c.CSMSBaseURL != "" {
		source = csms.NewClient(ctx, csms.Config{
			BaseURL:      c.CSMSBaseURL,
			TokenURL:     c.CSMSTokenURL,
			ClientID:     c.CSMSClientID,
			ClientSecret: c.CSMSClientSecret,
		})
		app.csmsConfigured = true
	}
	app.syncer = csms.NewSyncer(source, app.manifests, app.logger)
	return nil
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	// Channel to catch OS signals.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

// serve runs role next to the metrics endpoint until either fails or a
// signal arrives.
func (app *App) serve(ctx context.Context, role string, run func(ctx context.Context) error) error {
	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()
	app.initSignalHandler(cancelFunc)

	app.logger.Info(ctx, "Starting app...", "role", role)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return app.metrics.Serve(ctx, app.config.MetricsAddr, app.logger) })
	g.Go(func() error { return run(ctx) })

	err := g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		app.logger.Error(ctx, "app stopped", "role", role, "error", err)
		return err
	}
	app.logger.Info(ctx, "App stopped", "role", role)
	return nil
}

// Run serves the admin gRPC API.
func (app *App) Run(ctx context.Context) error {
	s := gs.NewGRPCServer(app.config.EndpointAddrGRPC, app.logger, gs.Services{
		Users:       app.users,
		Permissions: app.permissions,
		Uploads:     app.uploads,
		Syncer:      app.syncer,
		Manifests:   app.manifests,
		Trials:      app.trials,
		Downloads:   app.downloads,
	}, app.config.SecretKey)
	return app.serve(ctx, "server", s.Run)
}

// RunWorker consumes download permission jobs from the queue.
func (app *App) RunWorker(ctx context.Context) error {
	sub, err := queue.NewPubSubSubscriber(ctx, app.config.GCPProject, app.config.DownloadPermissionsSubName, app.logger)
	if err != nil {
		return fmt.Errorf("subscriber init error: %w", err)
	}
	defer sub.Close()

	w := jobs.NewDownloadWorker(app.permissions, app.access, app.store, app.config.WorkerConcurrency, app.metrics, app.logger)
	return app.serve(ctx, "worker", func(ctx context.Context) error { return w.Run(ctx, sub) })
}

// RunMaintenance runs one task to completion.
func (app *App) RunMaintenance(ctx context.Context, t jobs.Task) error {
	var syncer jobs.ManifestSyncer
	if app.csmsConfigured {
		syncer = app.syncer
	}
	m := jobs.NewMaintenance(app.users, app.permissions, syncer, app.logger)

	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()
	app.initSignalHandler(cancelFunc)
	return m.Run(ctx, t)
}

// Close releases the queue, cloud and database clients.
func (app *App) Close() error {
	var errs []error
	if app.publisher != nil {
		errs = append(errs, app.publisher.Close())
	}
	if app.clients != nil {
		errs = append(errs, app.clients.Close())
	}
	errs = append(errs, app.db.Close())
	return errors.Join(errs...)
}
