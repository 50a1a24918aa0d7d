// Package daemon composes the agent daemon with fx.
package daemon

import (
	"context"
	"fmt"
	"io"
	"os"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/matheus3301/wppagent/internal/bus"
	"github.com/matheus3301/wppagent/internal/config"
	"github.com/matheus3301/wppagent/internal/conn"
	"github.com/matheus3301/wppagent/internal/credentials"
	"github.com/matheus3301/wppagent/internal/embedding"
	"github.com/matheus3301/wppagent/internal/encryption"
	"github.com/matheus3301/wppagent/internal/events"
	"github.com/matheus3301/wppagent/internal/httpapi"
	"github.com/matheus3301/wppagent/internal/lock"
	"github.com/matheus3301/wppagent/internal/logging"
	"github.com/matheus3301/wppagent/internal/metrics"
	"github.com/matheus3301/wppagent/internal/scheduler"
	"github.com/matheus3301/wppagent/internal/session"
	"github.com/matheus3301/wppagent/internal/store"
	intsync "github.com/matheus3301/wppagent/internal/sync"
	"github.com/matheus3301/wppagent/internal/tools"
	"github.com/matheus3301/wppagent/internal/vectors"
	"github.com/matheus3301/wppagent/internal/wa"
)

// Mode selects the surface the daemon exposes.
type Mode int

const (
	// ModeServe fails to start when the HTTP port is taken.
	ModeServe Mode = iota
	// ModeMCP speaks MCP on In/Out and logs only to file.
	ModeMCP
)

func (m Mode) String() string {
	if m == ModeMCP {
		return "mcp"
	}
	return "serve"
}

// Params holds what the command line resolved before the graph is built.
type Params struct {
	Config  *config.Config
	Mode    Mode
	Version string
	// MCP streams, used in ModeMCP.
	In  io.Reader
	Out io.Writer
	// QR receives pairing codes as terminal art. Nil disables it.
	QR io.Writer
}

// Module returns the fx module for the daemon, composing all providers and lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p, p.Config),
		fx.Provide(
			provideLayout,
			provideLogger,
			provideLock,
			provideMetrics,
			provideBus,
			provideEncryption,
			provideCredentials,
			provideStore,
			provideAdapter,
			provideDispatcher,
			provideManager,
			provideEmbedder,
			provideIndex,
			provideIndexer,
			provideEngine,
			provideScheduler,
			provideTools,
			provideStatus,
			provideHTTP,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideLayout(cfg *config.Config) (session.Layout, error) {
	l, err := session.NewLayout(cfg.StoreDir, cfg.Session)
	if err != nil {
		return session.Layout{}, err
	}
	if err := l.EnsureDirs(); err != nil {
		return session.Layout{}, err
	}
	return l, nil
}

func provideLogger(p Params, l session.Layout) (*zap.Logger, error) {
	opts := []logging.Option{logging.Fields(zap.String("mode", p.Mode.String()))}
	if p.Mode != ModeMCP {
		opts = append(opts, logging.Console(os.Stderr))
	}
	return logging.New(l.LogPath(), l.Name, p.Config.LogLevel, opts...)
}

func provideLock(l session.Layout, logger *zap.Logger) (*lock.Lock, error) {
	logger.Info("acquiring session lock", zap.String("session", l.Name))
	lk, err := lock.Acquire(l.Dir())
	if err != nil {
		return nil, err
	}
	logger.Info("session lock acquired", zap.String("path", lk.Path()))
	return lk, nil
}

func provideMetrics() *metrics.Metrics {
	return metrics.New()
}

func provideBus(mx *metrics.Metrics) *bus.Bus {
	return bus.New(bus.OnDrop(mx.NotificationDropped))
}

// provideEncryption derives the key. The lock is a dependency so two
// daemons never derive against the same salt concurrently.
func provideEncryption(cfg *config.Config, l session.Layout, _ *lock.Lock) (*encryption.Service, error) {
	svc := encryption.New(l.SaltPath())
	if err := svc.Initialize(cfg.Passphrase); err != nil {
		return nil, fmt.Errorf("initialize encryption: %w", err)
	}
	return svc, nil
}

func provideCredentials(svc *encryption.Service, l session.Layout, logger *zap.Logger) (*credentials.Store, error) {
	cs := credentials.New(svc, l.SessionDBPath(), l.CredentialsPath(), logger.Named("credentials"))
	if err := cs.Restore(); err != nil {
		svc.Zero()
		return nil, err
	}
	return cs, nil
}

func provideStore(l session.Layout, logger *zap.Logger) (*store.DB, error) {
	dbPath := l.AppDBPath()
	db, err := store.Open(dbPath)
	if err != nil {
		return nil, err
	}
	result, err := db.Migrate()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if result.Changed {
		logger.Info("migrations applied", zap.Uint("from", result.From), zap.Uint("version", result.Version))
	} else {
		logger.Info("migrations up to date", zap.Uint("version", result.Version))
	}
	logger.Info("store initialized", zap.String("path", dbPath))
	return db, nil
}

// provideAdapter depends on the credential store so the plaintext session
// is restored before whatsmeow opens it.
func provideAdapter(cfg *config.Config, l session.Layout, cs *credentials.Store, logger *zap.Logger) (*wa.Adapter, error) {
	return wa.NewAdapter(context.Background(), wa.Options{
		DBPath:       cs.PlainPath(),
		MediaDir:     l.MediaDir(),
		AutoDownload: cfg.MediaAutoDownload,
		Log:          logging.WhatsmeowLogger(logger, "whatsmeow"),
	}, logger.Named("wa"))
}

func provideDispatcher(mx *metrics.Metrics, logger *zap.Logger) *events.Dispatcher {
	return events.NewDispatcher(logger.Named("dispatcher"), events.OnError(mx.EventDropped))
}

// vault joins the credential store with the key that protects it.
type vault struct {
	*credentials.Store
	*encryption.Service
}

func provideManager(cfg *config.Config, a *wa.Adapter, cs *credentials.Store, svc *encryption.Service, d *events.Dispatcher, b *bus.Bus, mx *metrics.Metrics, logger *zap.Logger) *conn.Manager {
	return conn.NewManager(a, vault{cs, svc}, d, b, mx, conn.Config{
		HistoryReplay: cfg.HistoryReplay(),
		Backoff: conn.Backoff{
			Base:   cfg.ReconnectBase,
			Max:    cfg.ReconnectMax,
			Jitter: cfg.ReconnectJitter,
		},
		MaxAttempts: cfg.ReconnectMaxAttempts,
		FlushEvery:  cfg.CredentialsFlush,
	}, logger.Named("conn"))
}

func provideEmbedder(cfg *config.Config) embedding.Embedder {
	return embedding.NewFromConfig(cfg)
}

func provideIndex(db *store.DB, logger *zap.Logger) *vectors.Index {
	return vectors.NewIndex(db, logger)
}

func provideIndexer(idx *vectors.Index, emb embedding.Embedder, db *store.DB, mx *metrics.Metrics, logger *zap.Logger) *vectors.Indexer {
	return vectors.NewIndexer(idx, emb, db, mx, logger)
}

func provideEngine(db *store.DB, ix *vectors.Indexer, b *bus.Bus, mx *metrics.Metrics, logger *zap.Logger) *intsync.Engine {
	return intsync.NewEngine(db, ix, b, mx, logger)
}

func provideScheduler(cfg *config.Config, db *store.DB, m *conn.Manager, b *bus.Bus, mx *metrics.Metrics, logger *zap.Logger) *scheduler.Scheduler {
	delivery := scheduler.NewDelivery(db, deliverer{m}, b, mx, logger)
	return scheduler.New(db, b, delivery, cfg.SchedulerInterval, logger)
}

func provideTools(cfg *config.Config, m *conn.Manager, db *store.DB, ix *vectors.Indexer, s *scheduler.Scheduler, logger *zap.Logger) *tools.Tools {
	return tools.New(tools.Deps{
		Conn:      m,
		DB:        db,
		Indexer:   ix,
		Scheduler: s,
		Config:    cfg,
		Logger:    logger,
	})
}

func provideHTTP(cfg *config.Config, sp *statusProvider, mx *metrics.Metrics, logger *zap.Logger) *httpapi.Server {
	return httpapi.NewServer(cfg.HTTPAddr, cfg.IdleTimeout, httpapi.Deps{
		Status:  sp,
		Metrics: mx.Handler(),
		Logger:  logger,
	})
}
