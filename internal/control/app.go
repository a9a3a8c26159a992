package control

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/vietddude/syncd/internal/core/config"
	"github.com/vietddude/syncd/internal/core/domain"
	redisclient "github.com/vietddude/syncd/internal/infra/redis"
	sourcehttp "github.com/vietddude/syncd/internal/infra/source/httpapi"
	sourcepg "github.com/vietddude/syncd/internal/infra/source/postgres"
	"github.com/vietddude/syncd/internal/infra/storage"
	"github.com/vietddude/syncd/internal/infra/storage/memory"
	"github.com/vietddude/syncd/internal/infra/storage/postgres"
	"github.com/vietddude/syncd/internal/sync/event"
	"github.com/vietddude/syncd/internal/sync/orchestrator"
	"github.com/vietddude/syncd/internal/sync/session"
	"github.com/vietddude/syncd/internal/sync/source"
	"github.com/vietddude/syncd/internal/sync/target"
)

// App is the main application struct. It wires the configuration into
// storage, event delivery, the source registry, the orchestrator, and
// the control HTTP server.
type App struct {
	cfg      config.AppConfig
	orch     *orchestrator.Orchestrator
	tracker  *session.Tracker
	sessions storage.SessionRepository
	batches  storage.BatchRepository
	records  storage.TargetRecordRepository
	db       *postgres.DB
	redis    *redisclient.Client
	server   *Server
	log      *slog.Logger

	mu     sync.Mutex
	active string // ID of the in-flight session, if any
}

// NewApp creates a new App with all dependencies initialized.
func NewApp(cfg config.AppConfig) (*App, error) {
	log := slog.Default()
	app := &App{cfg: cfg, log: log}

	// 1. Storage: postgres when a URL is configured, memory otherwise.
	if cfg.Database.URL != "" {
		db, err := postgres.NewDB(context.Background(), cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("failed to init db: %w", err)
		}
		// Migrations live in "migrations" relative to CWD.
		if err := db.Migrate("migrations"); err != nil {
			return nil, fmt.Errorf("failed to migrate db: %w", err)
		}
		app.db = db
		app.sessions = postgres.NewSessionRepo(db)
		app.batches = postgres.NewBatchRepo(db)
		app.records = postgres.NewRecordRepo(db)
		log.Info("Using PostgreSQL storage")
	} else {
		store := memory.NewMemoryStorage()
		app.sessions = memory.NewSessionRepo(store)
		app.batches = memory.NewBatchRepo(store)
		app.records = memory.NewRecordRepo(store)
		log.Info("Using memory storage")
	}

	// 2. Event delivery: redis pub/sub when a URL is configured,
	// structured log otherwise.
	var sink event.Sink
	if cfg.Redis.URL != "" {
		client, err := redisclient.NewClient(cfg.Redis)
		if err != nil {
			log.Warn("Failed to connect to Redis, events go to the log", "error", err)
			sink = event.NewLogSink(log)
		} else {
			app.redis = client
			sink = redisclient.NewEventSink(client)
			log.Info("Publishing events to Redis")
		}
	} else {
		sink = event.NewLogSink(log)
	}
	capture := &sessionCapture{inner: sink, app: app}

	// 3. Tracker, registry, targets, orchestrator.
	app.tracker = session.NewTracker(app.sessions, app.batches, capture, log)

	registry := source.NewRegistry()
	registry.Register("httpapi", sourcehttp.New)
	registry.Register("postgres", sourcepg.New)

	targets := map[string]target.Store{}
	if cfg.Sync.TargetResource != "" {
		targets[cfg.Sync.TargetResource] = storage.NewRecordStore(app.records, cfg.Sync.Target.UniqueField)
	}

	app.orch = orchestrator.New(registry, targets, app.tracker, capture, log)
	app.server = NewServer(app, cfg.Server.Port)

	return app, nil
}

// Start starts the control HTTP server. It returns immediately.
func (a *App) Start(ctx context.Context) error {
	go func() {
		if err := a.server.Start(); err != nil {
			a.log.Error("Control server failed", "error", err)
		}
	}()
	return nil
}

// Stop shuts down the control server and closes infrastructure handles.
func (a *App) Stop(ctx context.Context) error {
	a.log.Info("Stopping syncd...")

	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.log.Warn("Failed to close Redis", "error", err)
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.log.Warn("Failed to close database", "error", err)
		}
	}
	return a.server.Stop(ctx)
}

// ExecuteSync runs the configured sync once.
func (a *App) ExecuteSync(ctx context.Context, opts orchestrator.Options) (*orchestrator.SyncResult, error) {
	defer a.setActive("")
	return a.orch.ExecuteSync(ctx, a.cfg.Sync, opts)
}

// CancelActive requests cooperative cancellation of the in-flight
// session. The current batch finishes; consumption stops at the next
// batch boundary. No-op when nothing is running.
func (a *App) CancelActive(ctx context.Context) error {
	a.mu.Lock()
	id := a.active
	a.mu.Unlock()
	if id == "" {
		return nil
	}
	a.log.Info("Cancelling session", "session_id", id)
	return a.tracker.CancelSession(ctx, id)
}

// Tracker exposes the session tracker for status queries.
func (a *App) Tracker() *session.Tracker {
	return a.tracker
}

func (a *App) setActive(id string) {
	a.mu.Lock()
	a.active = id
	a.mu.Unlock()
}

// sessionCapture wraps the configured sink and records the ID of the
// most recently started session so signal handlers can cancel it.
type sessionCapture struct {
	inner event.Sink
	app   *App
}

func (c *sessionCapture) Publish(ctx context.Context, ev domain.SyncEvent) error {
	if ev.Type == domain.EventSessionStarted {
		c.app.setActive(ev.SessionID)
	}
	return c.inner.Publish(ctx, ev)
}
