package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/nodemon/internal/mail"
	"github.com/roach88/nodemon/internal/monitor"
)

// ReconcileOptions holds flags for the reconcile command.
type ReconcileOptions struct {
	*RootOptions

	// Transport overrides the SMTP relay (for testing).
	Transport mail.Transport
}

// NewReconcileCommand creates the reconcile command.
func NewReconcileCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ReconcileOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Run one reconciliation tick",
		Long: `Fetch the node map once, refresh the node cache and notify every
subscriber whose node changed status since the last notification.

Exits with code 1 if any monitor could not be notified; those are retried on
the next tick.

Example:
  nodemon reconcile --config /etc/nodemon.yaml
  nodemon reconcile --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReconcile(opts, cmd)
		},
	}

	return cmd
}

// reportText is the text form of a TickReport.
type reportText monitor.TickReport

func (r reportText) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "tick %s: %d nodes, %d monitors, %d notified", r.TickID, r.Nodes, r.Monitors, r.Notified)
	if r.Cancelled {
		b.WriteString(" (cancelled)")
	}
	for _, f := range r.Failed {
		fmt.Fprintf(&b, "\n  failed: monitor %d (%s, %s): %s", f.MonitorID, f.Email, f.NodeID, f.Error)
	}
	return b.String()
}

func runReconcile(opts *ReconcileOptions, cmd *cobra.Command) error {
	logger := setupLogging(opts.RootOptions, cmd.ErrOrStderr())
	out := NewOutputFormatter(opts.RootOptions, cmd.OutOrStdout())

	cfg, err := loadConfig(opts.RootOptions)
	if err != nil {
		_ = out.Error(CodeConfig, err.Error(), nil)
		return err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	a, err := newApp(ctx, cfg, opts.Transport, logger)
	if err != nil {
		_ = out.Error(CodeStore, err.Error(), nil)
		return err
	}
	defer a.Close()

	report, err := a.scheduler.Tick(ctx)
	if err != nil {
		_ = out.Error(CodeTick, err.Error(), nil)
		return WrapExitError(ExitFailure, "reconciliation failed", err)
	}

	if out.Format == "json" {
		err = out.Success(report)
	} else {
		err = out.Success(reportText(report))
	}
	if err != nil {
		return err
	}

	if len(report.Failed) > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d monitors not notified", len(report.Failed)))
	}
	return nil
}
