package daemon

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/driftchat/drift/internal/bus"
	"github.com/driftchat/drift/internal/config"
	"github.com/driftchat/drift/internal/directory"
	"github.com/driftchat/drift/internal/docstore"
	"github.com/driftchat/drift/internal/docstore/memstore"
	"github.com/driftchat/drift/internal/docstore/mongostore"
	"github.com/driftchat/drift/internal/docstore/sqlstore"
	"github.com/driftchat/drift/internal/gateway"
	"github.com/driftchat/drift/internal/identity"
	"github.com/driftchat/drift/internal/lock"
	"github.com/driftchat/drift/internal/logging"
	"github.com/driftchat/drift/internal/messages"
	"github.com/driftchat/drift/internal/outbox"
	"github.com/driftchat/drift/internal/presence"
	"github.com/driftchat/drift/internal/registry"
	"github.com/driftchat/drift/internal/session"
	"github.com/driftchat/drift/internal/status"
)

// Params holds the resolved profile configuration passed to the fx module.
type Params struct {
	Profile    string
	ListenAddr string // optional override for testing; empty = use config
}

// Module returns the fx module for the daemon, composing all providers and lifecycle hooks.
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
			provideDirectory,
			providePresence,
			provideRegistry,
			provideMessages,
			provideSender,
			provideEmitter,
			provideVerifier,
			provideBinder,
			provideGateway,
			NewServer,
		),
		fx.Invoke(registerLifecycle),
	)
}

func provideConfig() (*config.Config, error) {
	return config.LoadOrDefault(session.ConfigPath())
}

func provideLogger(p Params) (*zap.Logger, error) {
	return logging.New(session.LogPath(p.Profile), p.Profile)
}

func provideBus() *bus.Bus {
	return bus.New()
}

func provideStateMachine(b *bus.Bus) *status.Machine {
	return status.NewMachine(b)
}

func provideLock(p Params, logger *zap.Logger) (*lock.Lock, error) {
	if err := session.EnsureDir(p.Profile); err != nil {
		return nil, err
	}
	logger.Info("acquiring profile lock", zap.String("profile", p.Profile))
	l, err := lock.Acquire(session.Dir(p.Profile))
	if err != nil {
		return nil, err
	}
	logger.Info("profile lock acquired")
	return l, nil
}

func provideStore(p Params, cfg *config.Config, b *bus.Bus, logger *zap.Logger) (docstore.Store, error) {
	switch cfg.Store.Backend {
	case "memory":
		logger.Info("store initialized", zap.String("backend", "memory"))
		return memstore.New(b), nil
	case "sqlite", "":
		path := cfg.Store.SQLitePath
		if path == "" {
			path = session.DBPath(p.Profile)
		}
		s, err := sqlstore.Open(path, b)
		if err != nil {
			return nil, err
		}
		logger.Info("store initialized", zap.String("backend", "sqlite"), zap.String("path", path))
		return s, nil
	case "mongo":
		if cfg.Store.MongoURI == "" {
			return nil, errors.New("store backend is mongo but mongo_uri is not set")
		}
		s, err := mongostore.Open(context.Background(), cfg.Store.MongoURI, cfg.Store.MongoDatabase, b)
		if err != nil {
			return nil, err
		}
		logger.Info("store initialized", zap.String("backend", "mongo"), zap.String("database", cfg.Store.MongoDatabase))
		return s, nil
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
	}
}

func provideDirectory(s docstore.Store, logger *zap.Logger) *directory.Directory {
	return directory.New(s, logger)
}

func providePresence(s docstore.Store, logger *zap.Logger) *presence.Tracker {
	return presence.NewTracker(s, logger)
}

func provideRegistry(s docstore.Store, logger *zap.Logger) *registry.Registry {
	return registry.New(s, logger)
}

func provideMessages(s docstore.Store, logger *zap.Logger) *messages.Store {
	return messages.New(s, logger)
}

func provideSender(m *messages.Store, b *bus.Bus, logger *zap.Logger) *outbox.Sender {
	return outbox.NewSender(m, b, logger)
}

func provideEmitter() *identity.Emitter {
	return identity.NewEmitter()
}

func provideVerifier(cfg *config.Config) (*identity.Verifier, error) {
	if cfg.Auth.Secret == "" {
		return nil, errors.New("auth secret is not configured; set [auth] secret in config.toml")
	}
	return identity.NewVerifier([]byte(cfg.Auth.Secret)), nil
}

func provideBinder(d *directory.Directory, pr *presence.Tracker, m *status.Machine, logger *zap.Logger) *identity.Binder {
	return identity.NewBinder(d, pr, m, logger)
}

func provideGateway(
	cfg *config.Config,
	v *identity.Verifier,
	e *identity.Emitter,
	reg *registry.Registry,
	msgs *messages.Store,
	dir *directory.Directory,
	pres *presence.Tracker,
	sender *outbox.Sender,
	b *bus.Bus,
	logger *zap.Logger,
) *gateway.Gateway {
	return gateway.New(gateway.Params{
		Verifier:  v,
		Emitter:   e,
		Registry:  reg,
		Messages:  msgs,
		Directory: dir,
		Presence:  pres,
		Outbox:    sender,
		Bus:       b,
		Logger:    logger,
		Window:    cfg.Messages.Window,
	})
}

func registerLifecycle(
	lc fx.Lifecycle,
	srv *Server,
	lk *lock.Lock,
	store docstore.Store,
	sender *outbox.Sender,
	binder *identity.Binder,
	emitter *identity.Emitter,
	logger *zap.Logger,
) {
	var stopBinder func()
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			sender.Start(context.Background())
			stopBinder = binder.Run(context.Background(), emitter)

			go func() {
				if err := srv.Start(); err != nil {
					logger.Error("gateway server error", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			srv.Stop(ctx)
			if stopBinder != nil {
				stopBinder()
			}
			// Drops the signed-in user to offline before the store closes.
			emitter.SignOut()
			sender.Stop()
			if err := store.Close(ctx); err != nil {
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
