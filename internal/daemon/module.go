// Package daemon composes the solchat daemon out of its components and
// manages their lifecycle.
package daemon

import (
	"context"

	"github.com/solchat-dev/solchat/internal/api"
	"github.com/solchat-dev/solchat/internal/arweave"
	"github.com/solchat-dev/solchat/internal/bus"
	"github.com/solchat-dev/solchat/internal/config"
	"github.com/solchat-dev/solchat/internal/conversation"
	"github.com/solchat-dev/solchat/internal/lock"
	"github.com/solchat-dev/solchat/internal/logging"
	"github.com/solchat-dev/solchat/internal/outbox"
	"github.com/solchat-dev/solchat/internal/pinata"
	"github.com/solchat-dev/solchat/internal/session"
	"github.com/solchat-dev/solchat/internal/status"
	"github.com/solchat-dev/solchat/internal/store"
	"github.com/solchat-dev/solchat/internal/syncer"
	"github.com/solchat-dev/solchat/internal/syncindex"
	"github.com/solchat-dev/solchat/internal/wallet"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Params holds the resolved session configuration passed to the fx module.
type Params struct {
	Wallet     string
	ListenAddr string // optional override for testing; empty = use config
}

// Module returns the fx module for the daemon, composing all providers and
// lifecycle hooks.
func Module(p Params) fx.Option {
	return fx.Module("daemon",
		fx.Supply(p),
		fx.Provide(
			provideConfig,
			provideLogger,
			provideBus,
			provideStateMachine,
			provideLock,
			provideStore,
			provideSyncIndexStore,
			provideSigner,
			providePinata,
			provideArweave,
			provideSyncer,
			provideManager,
			provideSender,
			provideServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideConfig(p Params) (*config.Config, error) {
	cfg, err := config.Load(session.ConfigPath())
	if err != nil {
		return nil, err
	}
	if p.ListenAddr != "" {
		cfg.API.ListenAddr = p.ListenAddr
	}
	return cfg, nil
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(session.LogPath(p.Wallet), p.Wallet)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideStateMachine(b *bus.Bus) *status.Machine {
	return status.NewMachine(b)
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := session.EnsureDir(p.Wallet); err != nil {
		return nil, err
	}
	logger.Info("acquiring session lock", zap.String("wallet", logging.Short(p.Wallet)))
	l, err := lock.Acquire(session.Dir(p.Wallet))
	if err != nil {
		return nil, err
	}
	logger.Info("session lock acquired")
	return l, nil
}

func provideStore(p Params, logger *zap.Logger) (*store.DB, error) {
	dbPath := session.MessageDBPath(p.Wallet)
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
		logger.Info("migrations applied", zap.Uint("version", result.Version))
	} else {
		logger.Info("migrations up to date", zap.Uint("version", result.Version))
	}
	logger.Info("store initialized", zap.String("path", dbPath))
	return db, nil
}

func provideSyncIndexStore(p Params) (*syncindex.Store, error) {
	return syncindex.Open(session.SyncIndexPath(p.Wallet))
}

func provideSigner(p Params, logger *zap.Logger) (*wallet.Keypair, error) {
	kp, err := wallet.LoadOrCreate(session.KeypairPath(p.Wallet))
	if err != nil {
		return nil, err
	}
	if kp.Address() != p.Wallet {
		logger.Warn("session keypair address differs from session wallet",
			zap.String("keypair", logging.Short(kp.Address())),
			zap.String("session", logging.Short(p.Wallet)))
	}
	return kp, nil
}

func providePinata(cfg *config.Config, logger *zap.Logger) *pinata.Client {
	return pinata.New(cfg.Pinata, cfg.Sync, logger)
}

func provideArweave(cfg *config.Config, logger *zap.Logger) *arweave.Client {
	return arweave.New(cfg.Arweave, logger)
}

func provideSyncer(p Params, pc *pinata.Client, st *syncindex.Store, b *bus.Bus, cfg *config.Config, logger *zap.Logger) (*syncer.Syncer, error) {
	return syncer.New(p.Wallet, pc, pc, st, b, cfg.Sync, logger)
}

func provideManager(p Params, db *store.DB, b *bus.Bus, s *syncer.Syncer, cfg *config.Config, logger *zap.Logger) *conversation.Manager {
	var syncNow func()
	if cfg.Pinata.Configured() {
		syncNow = func() { s.Sync(context.Background()) }
	}
	return conversation.NewManager(p.Wallet, db, b, syncNow, logger)
}

func provideSender(db *store.DB, kp *wallet.Keypair, pc *pinata.Client, ac *arweave.Client, b *bus.Bus, cfg *config.Config, logger *zap.Logger) *outbox.Sender {
	var fallback outbox.ContentStore
	if cfg.Arweave.Enabled {
		fallback = ac
	}
	return outbox.NewSender(db, kp, pc, fallback, b, logger)
}

func provideServer(p Params, db *store.DB, m *conversation.Manager, sender *outbox.Sender, s *syncer.Syncer, machine *status.Machine, cfg *config.Config, logger *zap.Logger) *api.Server {
	var sc api.SyncControl
	var q api.Queuer
	if cfg.Pinata.Configured() {
		sc = s
		q = sender
	}
	return api.New(p.Wallet, db, m, q, sc, machine, cfg.API, logger)
}

func registerLifecycle(lc fx.Lifecycle, srv *api.Server, lk *lock.Lock, db *store.DB, ixStore *syncindex.Store, s *syncer.Syncer, m *conversation.Manager, sender *outbox.Sender, machine *status.Machine, pc *pinata.Client, cfg *config.Config, logger *zap.Logger) {
	configured := cfg.Pinata.Configured()
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			m.Start(context.Background())

			if err := srv.Start(); err != nil {
				return err
			}

			if !configured {
				logger.Info("no content store credentials, serving local data only")
				_ = machine.Transition(status.AuthRequired)
				return nil
			}

			_ = machine.Transition(status.Syncing)
			sender.Start(context.Background())

			go func() {
				ctx, cancel := context.WithTimeout(context.Background(), cfg.Sync.GatewayTimeout())
				defer cancel()
				if err := pc.TestAuth(ctx); err != nil {
					logger.Error("content store auth probe failed", zap.Error(err))
					_ = machine.Transition(status.AuthRequired)
					return
				}
				s.Start(context.Background())
				_ = machine.Transition(status.Ready)
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			s.Stop()
			sender.Stop()
			m.Stop()
			if err := srv.Stop(ctx); err != nil {
				logger.Warn("error stopping api server", zap.Error(err))
			}
			if err := ixStore.Close(); err != nil {
				logger.Warn("error closing sync index", zap.Error(err))
			}
			if err := db.Close(); err != nil {
				logger.Warn("error closing store", zap.Error(err))
			}
			if err := lk.Release(); err != nil {
				logger.Warn("error releasing lock", zap.Error(err))
			}
			logger.Info("daemon stopped")
			return nil
		},
	})
}
