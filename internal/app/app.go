package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"go-docspace/internal/auth"
	"go-docspace/internal/config"
	"go-docspace/internal/convert"
	"go-docspace/internal/cryptox"
	"go-docspace/internal/dao"
	"go-docspace/internal/database"
	"go-docspace/internal/event"
	"go-docspace/internal/handler"
	"go-docspace/internal/lock"
	"go-docspace/internal/marker"
	"go-docspace/internal/middleware"
	"go-docspace/internal/model"
	"go-docspace/internal/notify"
	"go-docspace/internal/operations"
	"go-docspace/internal/provider"
	"go-docspace/internal/provider/box"
	"go-docspace/internal/provider/dropbox"
	"go-docspace/internal/provider/googledrive"
	"go-docspace/internal/provider/graph"
	"go-docspace/internal/provider/webdav"
	"go-docspace/internal/quota"
	"go-docspace/internal/router"
	"go-docspace/internal/security"
	"go-docspace/internal/storage"
	"go-docspace/internal/store"
	storememory "go-docspace/internal/store/memory"
	storepostgres "go-docspace/internal/store/postgres"
	"go-docspace/internal/taskqueue"
	queuememory "go-docspace/internal/taskqueue/memory"
	queuepostgres "go-docspace/internal/taskqueue/postgres"
	queuesqlite "go-docspace/internal/taskqueue/sqlite"
	"go-docspace/internal/tasks"
	"go-docspace/internal/tracker"
	"go-docspace/internal/websocket"
)

// App owns every long-lived component of the process: the HTTP server and
// the background loops (task workers, websocket hub, audit sink, upload
// cleanup).
type App struct {
	cfg          *config.Config
	server       *http.Server
	background   []func(ctx context.Context) error
	cleanupFuncs []func()
}

func New(ctx context.Context, cfg *config.Config) (*App, error) {
	a := &App{cfg: cfg}
	built := false
	defer func() {
		if !built {
			a.cleanup()
		}
	}()

	checks := map[string]handler.Pinger{}

	var (
		db  *database.DB
		err error
	)
	if cfg.NeedsDatabase() {
		slog.Info("connecting to PostgreSQL")
		db, err = database.New(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		a.cleanupFuncs = append(a.cleanupFuncs, db.Close)

		if err := db.Migrate(ctx); err != nil {
			return nil, fmt.Errorf("failed to migrate database: %w", err)
		}
		checks["database"] = db.Pool
		slog.Info("database ready")
	}

	var st store.Store
	var locks lock.Locker
	if cfg.MetadataDriver == "postgres" {
		st = storepostgres.New(db.Pool)
		locks = lock.NewPostgres(db.Pool)
	} else {
		st = storememory.New()
		locks = lock.NewLocal()
	}

	queue, err := a.openQueue(ctx, db, checks)
	if err != nil {
		return nil, err
	}

	content, err := storage.New(ctx, storage.Config{
		Backend: cfg.StorageBackend,
		Root:    cfg.StorageRoot,
		S3: storage.S3Config{
			Endpoint:  cfg.S3Endpoint,
			Bucket:    cfg.S3Bucket,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			Region:    cfg.S3Region,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	a.cleanupFuncs = append(a.cleanupFuncs, func() { _ = content.Close() })

	temp, err := storage.NewLocal(cfg.TempRoot)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize temp storage: %w", err)
	}

	nativeUploads, err := dao.NewUploads[int](filepath.Join(cfg.UploadTempDir, "native"))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize upload sessions: %w", err)
	}
	thirdUploads, err := dao.NewUploads[string](filepath.Join(cfg.UploadTempDir, "thirdparty"))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize upload sessions: %w", err)
	}
	a.background = append(a.background, func(ctx context.Context) error {
		cleanupUploads(ctx, cfg.UploadSessionTTL, nativeUploads.CleanupExpired, thirdUploads.CleanupExpired)
		return nil
	})

	cipher, err := cryptox.New(cfg.CredentialsSecret)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize credentials cipher: %w", err)
	}
	catalogue, err := provider.LoadCatalogue(cfg.ProvidersFile)
	if err != nil {
		return nil, err
	}
	sessions := provider.NewSessionCache(
		providers(),
		catalogue,
		cipher,
		st,
		provider.NewEntityCache(cfg.ProviderCacheSize, cfg.ProviderCacheTTL),
		provider.SessionOptions{TTL: cfg.ProviderSessionTTL, RPS: cfg.ProviderRPS},
	)
	a.cleanupFuncs = append(a.cleanupFuncs, func() { _ = sessions.Close() })

	bus := event.NewBus()

	var auditWriter notify.AuditWriter = notify.LogWriter{}
	if db != nil {
		auditWriter = notify.NewPostgresWriter(db.Pool)
	}
	audit := notify.NewAudit(auditWriter, cfg.AuditBuffer)
	a.background = append(a.background, func(ctx context.Context) error {
		audit.Run(ctx)
		return nil
	})
	a.cleanupFuncs = append(a.cleanupFuncs, audit.Close)

	factory := operations.NewFactory(operations.Deps{
		Store:         st,
		Content:       content,
		Temp:          temp,
		NativeUploads: nativeUploads,
		ThirdUploads:  thirdUploads,
		Sessions:      sessions,
		Security:      security.NewAceOracle(st),
		Audit:         audit,
		Notifier:      notify.NewNotifier(bus),
		Marker:        marker.New(st),
		Rooms:         quota.NewRooms(st, locks, notify.NewStats(bus), cfg.MaxRooms),
		Editors:       tracker.New(cfg.ProviderCacheSize, cfg.EditingSessionTTL),
		Converter:     convert.New(nil),
		Bus:           bus,
	}, operations.Config{
		MaxTransferFileSize:     cfg.MaxTransferFileSize,
		DownloadMaxPathLength:   cfg.DownloadMaxPathLength,
		DownloadPathPlaceholder: cfg.DownloadPathPlaceholder,
		PrivacyEnabled:          cfg.PrivacyRoomEnabled,
	})

	taskService := tasks.NewService(queue, tasks.FromFactory(factory), locks, bus, tasks.Config{
		Workers:         cfg.WorkerCount,
		PublishInterval: cfg.ProgressPublishInterval,
		HeartbeatTTL:    cfg.TaskHeartbeatTTL,
		SweepInterval:   cfg.TaskSweepInterval,
	})
	a.background = append(a.background, taskService.Run)

	hub := websocket.NewHub(bus)
	a.background = append(a.background, func(ctx context.Context) error {
		hub.Run(ctx)
		return nil
	})

	authMiddleware := middleware.NewAuthMiddleware(auth.NewTokens(cfg.JWTSecret))
	appRouter := router.New(cfg, authMiddleware, router.Handlers{
		FileOps: handler.NewFileOpsHandler(taskService, temp),
		Health:  handler.NewHealthHandler(checks),
		Docs:    handler.NewDocsHandler(),
		Websocket: hub.Handler(cfg.CORSOrigins, func(r *http.Request) (model.Actor, bool) {
			return middleware.ActorFromContext(r.Context())
		}),
	})

	a.server = &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           appRouter,
		ReadHeaderTimeout: cfg.ServerReadHeaderTimeout,
		WriteTimeout:      cfg.ServerWriteTimeout,
		IdleTimeout:       cfg.ServerIdleTimeout,
	}

	built = true
	return a, nil
}

func (a *App) openQueue(ctx context.Context, db *database.DB, checks map[string]handler.Pinger) (taskqueue.Queue, error) {
	switch a.cfg.TaskQueueDriver {
	case "postgres":
		return queuepostgres.New(db.Pool), nil
	case "sqlite":
		q, err := queuesqlite.Open(ctx, a.cfg.TaskQueueSQLitePath)
		if err != nil {
			return nil, fmt.Errorf("failed to open task queue: %w", err)
		}
		a.cleanupFuncs = append(a.cleanupFuncs, func() { _ = q.Close() })
		checks["task_queue"] = q
		return q, nil
	default:
		slog.Warn("in-memory task queue: tasks do not survive a restart")
		return queuememory.New(), nil
	}
}

func providers() *provider.Registry {
	r := provider.NewRegistry()
	r.Register(model.ProviderGoogleDrive, true, googledrive.Open)
	r.Register(model.ProviderDropbox, true, dropbox.Open)
	r.Register(model.ProviderOneDrive, true, graph.OpenOneDrive)
	r.Register(model.ProviderSharePoint, true, graph.OpenSharePoint)
	r.Register(model.ProviderBox, true, box.Open)
	r.Register(model.ProviderWebDav, false, webdav.Open)
	return r
}

// cleanupUploads drops chunked upload sessions abandoned for maxAge.
func cleanupUploads(ctx context.Context, maxAge time.Duration, sweeps ...func(time.Duration)) {
	if maxAge <= 0 {
		return
	}
	ticker := time.NewTicker(maxAge / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, sweep := range sweeps {
				sweep(maxAge)
			}
		}
	}
}

// Run serves HTTP and the background loops until SIGINT or SIGTERM, then
// drains the server and stops the loops. Running tasks see their context
// cancelled and finish as cancelled.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	defer a.cleanup()

	g, ctx := errgroup.WithContext(ctx)
	for _, run := range a.background {
		g.Go(func() error {
			if err := run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	}

	g.Go(func() error {
		slog.Info("server starting", "addr", a.server.Addr)
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.cfg.ShutdownTimeout)
		defer cancel()

		if err := a.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		return nil
	})

	err := g.Wait()
	slog.Info("server stopped")
	return err
}

func (a *App) cleanup() {
	for i := len(a.cleanupFuncs) - 1; i >= 0; i-- {
		a.cleanupFuncs[i]()
	}
	a.cleanupFuncs = nil
}
