package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/nodemon/internal/mail"
	"github.com/roach88/nodemon/internal/telemetry"
	"github.com/roach88/nodemon/internal/web"
)

// Version is reported in the build_info metric. Set with -ldflags.
var Version = "dev"

// shutdownTimeout bounds graceful HTTP shutdown.
const shutdownTimeout = 10 * time.Second

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	NoScheduler bool

	// Transport overrides the SMTP relay (for testing).
	Transport mail.Transport
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the web interface and run periodic reconciliation",
		Long: `Serve the subscription pages on the configured listen address and
reconcile node status every reconcile_interval.

With --no-scheduler only the web interface runs; reconciliation then has to
be triggered through GET /cron or "nodemon reconcile".

Example:
  nodemon serve --config /etc/nodemon.yaml
  nodemon serve --no-scheduler --verbose`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts, cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.NoScheduler, "no-scheduler", false, "do not reconcile periodically")

	return cmd
}

func runServe(opts *ServeOptions, cmd *cobra.Command) error {
	logger := setupLogging(opts.RootOptions, cmd.ErrOrStderr())

	cfg, err := loadConfig(opts.RootOptions)
	if err != nil {
		return err
	}

	// Use command's context if available (for testing), otherwise create one
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := signal.NotifyContext(parentCtx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := newApp(ctx, cfg, opts.Transport, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	telemetry.SetBuildInfo(Version)

	srv, err := web.New(cfg.Listen, web.Deps{
		Instance:  cfg.InstanceName,
		StaticDir: cfg.StaticDir,
		Views:     a.store,
		Confirmer: a.emitter,
		Opener:    a.signer,
		Executor:  a.executor,
		Ticks:     a.scheduler,
		Logger:    logger,
	})
	if err != nil {
		return fmt.Errorf("build web server: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", cfg.Listen)
		if err := srv.Run(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	schedDone := make(chan struct{})
	if opts.NoScheduler {
		close(schedDone)
	} else {
		go func() {
			defer close(schedDone)
			_ = a.scheduler.Run(ctx, cfg.ReconcileInterval)
		}()
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Serving %s on %s. Press Ctrl-C to stop.\n", cfg.InstanceName, cfg.Listen)

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case runErr = <-errCh:
		logger.Error("web server failed", "error", runErr)
		cancel()
	}

	shutdownCtx, stop := context.WithTimeout(context.Background(), shutdownTimeout)
	defer stop()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("web server shutdown", "error", err)
	}
	<-schedDone

	if runErr != nil {
		return WrapExitError(ExitFailure, "web server error", runErr)
	}
	logger.Info("stopped gracefully")
	return nil
}
