package daemon

import (
	"context"
	"errors"
	"os"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/matheus3301/wppagent/internal/bus"
	"github.com/matheus3301/wppagent/internal/conn"
	"github.com/matheus3301/wppagent/internal/credentials"
	"github.com/matheus3301/wppagent/internal/embedding"
	"github.com/matheus3301/wppagent/internal/encryption"
	"github.com/matheus3301/wppagent/internal/events"
	"github.com/matheus3301/wppagent/internal/httpapi"
	"github.com/matheus3301/wppagent/internal/lock"
	"github.com/matheus3301/wppagent/internal/scheduler"
	"github.com/matheus3301/wppagent/internal/store"
	intsync "github.com/matheus3301/wppagent/internal/sync"
	"github.com/matheus3301/wppagent/internal/tools"
	"github.com/matheus3301/wppagent/internal/vectors"
	"github.com/matheus3301/wppagent/internal/wa"
)

const backfillBatch = 64

type lifecycleParams struct {
	fx.In

	LC       fx.Lifecycle
	Shutdown fx.Shutdowner
	Params   Params
	Logger   *zap.Logger

	Lock        *lock.Lock
	Encryption  *encryption.Service
	Credentials *credentials.Store
	DB          *store.DB
	Adapter     *wa.Adapter
	Dispatcher  *events.Dispatcher
	Manager     *conn.Manager
	Bus         *bus.Bus
	Embedder    embedding.Embedder
	Index       *vectors.Index
	Indexer     *vectors.Indexer
	Engine      *intsync.Engine
	Scheduler   *scheduler.Scheduler
	Tools       *tools.Tools
	HTTP        *httpapi.Server
}

func registerLifecycle(p lifecycleParams) {
	ctx, cancel := context.WithCancel(context.Background())
	logger := p.Logger
	stopHTTP := func(context.Context) error { return nil }

	p.LC.Append(fx.Hook{
		OnStart: func(startCtx context.Context) error {
			p.Manager.Subscribe(p.Engine)

			if p.Embedder != nil {
				if p.Embedder.Available(startCtx) {
					if err := p.Index.Initialize(p.Embedder.Model()); err != nil {
						logger.Warn("vector index disabled", zap.Error(err))
					}
				} else {
					logger.Warn("embedding provider unreachable, semantic search disabled",
						zap.String("model", p.Embedder.Model()))
				}
			}
			p.Indexer.Start(ctx)
			if p.Indexer.Enabled() {
				go func() {
					n, err := p.Indexer.Backfill(ctx, backfillBatch)
					if err != nil && !errors.Is(err, context.Canceled) {
						logger.Warn("embedding backfill stopped", zap.Error(err))
						return
					}
					logger.Info("embedding backfill finished", zap.Int("embedded", n))
				}()
			}

			if err := p.Scheduler.Start(ctx); err != nil {
				return err
			}

			httpUp := p.Params.Config.HTTPAddr != ""
			if !httpUp {
				logger.Info("http server disabled")
			} else if err := p.HTTP.Start(); err != nil {
				if p.Params.Mode == ModeServe {
					return err
				}
				// MCP clients may spawn several daemons; only one gets the port.
				httpUp = false
				logger.Warn("http server not started", zap.Error(err))
			}
			stopHTTP = func(ctx context.Context) error {
				if !httpUp {
					return nil
				}
				return p.HTTP.Stop(ctx)
			}
			if p.Params.QR != nil {
				go printQR(ctx, p.Bus, p.Params.QR)
			}
			if p.Params.Mode == ModeMCP {
				go serveMCP(ctx, p)
			}

			if err := p.Manager.Connect(ctx); err != nil {
				// Transient failures are retried by the manager.
				if errors.Is(err, conn.ErrLoggedOut) {
					return err
				}
				logger.Warn("initial connect failed", zap.Error(err))
			}
			logger.Info("daemon started", zap.String("version", p.Params.Version))
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			cancel()
			p.Scheduler.Stop()
			p.Manager.Disconnect()
			p.Dispatcher.Close()
			p.Indexer.Close()
			if err := stopHTTP(stopCtx); err != nil {
				logger.Warn("http shutdown", zap.Error(err))
			}

			if err := p.Adapter.Close(); err != nil {
				logger.Warn("closing session store", zap.Error(err))
			}
			if err := p.Credentials.Persist(); err != nil {
				// Keep the plaintext so the next start can encrypt it.
				logger.Error("failed to persist credentials", zap.Error(err))
			} else if err := p.Credentials.DiscardPlaintext(); err != nil {
				logger.Warn("failed to remove plaintext session", zap.Error(err))
			}
			p.Encryption.Zero()

			if err := p.DB.Close(); err != nil {
				logger.Warn("closing store", zap.Error(err))
			}
			if err := p.Lock.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			_ = logger.Sync()
			return nil
		},
	})
}

// serveMCP runs the stdio server and stops the app when the client hangs up.
func serveMCP(ctx context.Context, p lifecycleParams) {
	in, out := p.Params.In, p.Params.Out
	if in == nil {
		in = os.Stdin
	}
	if out == nil {
		out = os.Stdout
	}
	s := tools.NewServer(p.Tools, p.Params.Version)
	err := tools.Serve(ctx, s, in, out, p.Logger)
	if ctx.Err() != nil {
		return
	}
	if err != nil {
		p.Logger.Warn("mcp server stopped", zap.Error(err))
	} else {
		p.Logger.Info("mcp client disconnected")
	}
	if err := p.Shutdown.Shutdown(); err != nil {
		p.Logger.Warn("shutdown", zap.Error(err))
	}
}
