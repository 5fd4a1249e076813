package cli

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/roach88/nodemon/internal/action"
	"github.com/roach88/nodemon/internal/config"
	"github.com/roach88/nodemon/internal/mail"
	"github.com/roach88/nodemon/internal/monitor"
	"github.com/roach88/nodemon/internal/nodes"
	"github.com/roach88/nodemon/internal/store"
	"github.com/roach88/nodemon/internal/store/pgstore"
	"github.com/roach88/nodemon/internal/web"
)

// backend is what the commands need from a concrete store.
type backend interface {
	monitor.Store
	web.Views
	Close() error
}

// app holds the wired components for one configuration.
type app struct {
	cfg        config.Config
	store      backend
	signer     *action.Signer
	emitter    *monitor.Emitter
	executor   *monitor.Executor
	reconciler *monitor.Reconciler
	scheduler  *monitor.Scheduler
	logger     *slog.Logger
}

// loadConfig reads the --config file, mapping failures to ExitCommandError.
func loadConfig(opts *RootOptions) (config.Config, error) {
	cfg, err := config.Load(opts.Config)
	if err != nil {
		return config.Config{}, WrapExitError(ExitCommandError, "failed to load config", err)
	}
	return cfg, nil
}

// newSigner builds the token signer from the configured master key.
func newSigner(cfg config.Config) (*action.Signer, error) {
	key, err := cfg.SigningKey()
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "invalid signing key", err)
	}
	signer, err := action.NewSigner(key, action.WithMaxAge(cfg.TokenMaxAge))
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "invalid signing key", err)
	}
	return signer, nil
}

// openStore opens PostgreSQL for postgres:// URLs and SQLite otherwise.
func openStore(ctx context.Context, cfg config.Config) (backend, error) {
	if cfg.UsesPostgres() {
		return pgstore.Open(ctx, cfg.Database)
	}
	return store.Open(cfg.Database)
}

// newApp wires every component. transport overrides the SMTP relay when
// non-nil.
func newApp(ctx context.Context, cfg config.Config, transport mail.Transport, logger *slog.Logger) (*app, error) {
	signer, err := newSigner(cfg)
	if err != nil {
		return nil, err
	}
	root, err := cfg.Root()
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "invalid root url", err)
	}
	templates, err := mail.ParseTemplates()
	if err != nil {
		return nil, fmt.Errorf("parse mail templates: %w", err)
	}

	logger.Info("opening database", "postgres", cfg.UsesPostgres())
	st, err := openStore(ctx, cfg)
	if err != nil {
		return nil, WrapExitError(ExitCommandError, "failed to open database", err)
	}

	if transport == nil {
		transport = mail.NewSMTPTransport(mail.SMTPConfig{
			Host:     cfg.SMTP.Host,
			Port:     cfg.SMTP.Port,
			Username: cfg.SMTP.Username,
			Password: cfg.SMTP.Password,
			Timeout:  cfg.SMTP.Timeout,
		})
	}
	mailer := mail.NewMailer(cfg.EmailFrom, transport)
	emitter := monitor.NewEmitter(signer, templates, mailer, root, cfg.InstanceName)

	reconciler := monitor.NewReconciler(st, nodes.NewHTTPSource(cfg.NodesURL), emitter,
		monitor.WithAbsentStatus(cfg.AbsentStatus()),
		// Leave room for a full SMTP session inside each transition.
		monitor.WithTransitionTimeout(max(monitor.DefaultTransitionTimeout, 2*cfg.SMTP.Timeout)),
		monitor.WithReconcilerLogger(logger),
	)

	return &app{
		cfg:        cfg,
		store:      st,
		signer:     signer,
		emitter:    emitter,
		executor:   monitor.NewExecutor(st, monitor.WithExecutorLogger(logger)),
		reconciler: reconciler,
		scheduler:  monitor.NewScheduler(reconciler, logger),
		logger:     logger,
	}, nil
}

// Close releases the store.
func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		a.logger.Error("error closing database", "error", err)
	}
}
