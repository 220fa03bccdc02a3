package app

import (
	"context"
	"errors"
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/five82/platter/internal/api"
	"github.com/five82/platter/internal/auth"
	"github.com/five82/platter/internal/config"
	"github.com/five82/platter/internal/prefs"
	"github.com/five82/platter/internal/session"
	"github.com/five82/platter/internal/storage"
	"github.com/five82/platter/internal/storage/filestore"
	"github.com/five82/platter/internal/storage/redisstore"
	"github.com/five82/platter/internal/storage/sqlstore"
	"github.com/five82/platter/internal/ui"
)

// Options configure the platter dashboard.
type Options struct {
	Config    config.Config
	PrefsPath string // empty uses default ~/.config/platter/prefs.toml
	// OrderID is tracked on startup instead of the remembered order.
	OrderID string
}

// Runtime is an opened client: logger, durable storage and session.
type Runtime struct {
	Config  config.Config
	Logger  *zap.Logger
	Storage storage.Store
	Session *session.Session
}

// Open builds every component for cfg. The session is not started.
func Open(ctx context.Context, cfg config.Config) (*Runtime, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger, err := NewLogger(cfg)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	store, err := OpenStorage(cfg)
	if err != nil {
		_ = logger.Sync()
		return nil, fmt.Errorf("open storage: %w", err)
	}

	authSession := auth.NewSession(cfg.Token)
	client, err := api.NewClient(cfg.APIURL,
		api.WithSession(authSession),
		api.WithLogger(logger.Named("api")),
		api.WithTimeout(cfg.RequestTimeout),
	)
	if err != nil {
		_ = store.Close()
		_ = logger.Sync()
		return nil, fmt.Errorf("init api client: %w", err)
	}

	sess := session.New(ctx, client, authSession, store, session.Options{
		Logger:            logger,
		VersionInterval:   cfg.VersionInterval,
		OrderPollInterval: cfg.OrderPollInterval,
	})
	logger.Info("client opened",
		zap.String("api_url", cfg.APIURL),
		zap.String("storage", cfg.StorageDriver),
		zap.Bool("signed_in", authSession.Present()))

	return &Runtime{Config: cfg, Logger: logger, Storage: store, Session: sess}, nil
}

// Close stops the session and releases storage.
func (r *Runtime) Close() error {
	r.Session.Close()
	err := r.Storage.Close()
	_ = r.Logger.Sync()
	return err
}

// Run boots the dashboard until the context is cancelled or the user quits.
func Run(ctx context.Context, opts Options) error {
	userPrefs, _ := prefs.Load(opts.PrefsPath)
	if opts.OrderID != "" {
		userPrefs.LastOrderID = opts.OrderID
	}

	rt, err := Open(ctx, opts.Config)
	if err != nil {
		return err
	}
	defer rt.Close()

	if err := rt.Session.Start(ctx); err != nil {
		return fmt.Errorf("start session: %w", err)
	}

	return ui.Run(ui.Options{
		Context:   ctx,
		Session:   rt.Session,
		LogPath:   opts.Config.LogPath(),
		Prefs:     userPrefs,
		PrefsPath: opts.PrefsPath,
	})
}

// NewLogger builds a JSON logger writing to cfg.LogPath(); the terminal
// belongs to the dashboard.
func NewLogger(cfg config.Config) (*zap.Logger, error) {
	level := zapcore.InfoLevel
	if cfg.LogLevel != "" {
		parsed, err := zapcore.ParseLevel(cfg.LogLevel)
		if err != nil {
			return nil, fmt.Errorf("log level: %w", err)
		}
		level = parsed
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	zcfg := zap.NewProductionConfig()
	zcfg.Level = zap.NewAtomicLevelAt(level)
	zcfg.Sampling = nil
	zcfg.OutputPaths = []string{cfg.LogPath()}
	zcfg.ErrorOutputPaths = []string{cfg.LogPath()}
	zcfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	return zcfg.Build()
}

// OpenStorage opens the durable store selected by cfg.StorageDriver.
func OpenStorage(cfg config.Config) (storage.Store, error) {
	target := cfg.StorageTarget()
	switch cfg.StorageDriver {
	case config.DriverMemory:
		return storage.NewMemory(), nil
	case config.DriverFile:
		return filestore.New(target)
	case config.DriverSQLite, config.DriverPostgres:
		return sqlstore.Open(target)
	case config.DriverRedis:
		return redisstore.Open(redisstore.Options{URL: target})
	default:
		return nil, errors.Join(config.ErrUnknownDriver, fmt.Errorf("driver %q", cfg.StorageDriver))
	}
}
