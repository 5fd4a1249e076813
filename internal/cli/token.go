package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/nodemon/internal/action"
	"github.com/roach88/nodemon/internal/monitor"
)

// TokenOptions holds flags for the token commands.
type TokenOptions struct {
	*RootOptions
	Op     string
	Email  string
	NodeID string
}

// NewTokenCommand creates the token command group.
func NewTokenCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue and inspect signed action tokens",
	}
	cmd.AddCommand(newTokenSignCommand(rootOpts))
	cmd.AddCommand(newTokenVerifyCommand(rootOpts))
	return cmd
}

// tokenResult is the output of token sign and token verify.
type tokenResult struct {
	Kind   string `json:"kind"`
	Email  string `json:"email"`
	NodeID string `json:"node_id,omitempty"`
	Token  string `json:"token,omitempty"`
	URL    string `json:"url,omitempty"`
}

func (r tokenResult) String() string {
	if r.URL != "" {
		return r.URL
	}
	if r.NodeID != "" {
		return fmt.Sprintf("%s %s %s", r.Kind, r.Email, r.NodeID)
	}
	return fmt.Sprintf("%s %s", r.Kind, r.Email)
}

func newTokenSignCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TokenOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "sign",
		Short: "Sign an action and print its run_action link",
		Long: `Sign an action with the configured key without sending any mail.
Useful to act on behalf of a subscriber who cannot receive mails.

Example:
  nodemon token sign --op subscribe --email a@example.com --node c04a00dd692a`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTokenSign(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Op, "op", "", "action kind (subscribe|unsubscribe|confirm_email)")
	cmd.Flags().StringVar(&opts.Email, "email", "", "email address")
	cmd.Flags().StringVar(&opts.NodeID, "node", "", "node ID (subscribe and unsubscribe)")
	_ = cmd.MarkFlagRequired("op")
	_ = cmd.MarkFlagRequired("email")

	return cmd
}

func runTokenSign(opts *TokenOptions, cmd *cobra.Command) error {
	out := NewOutputFormatter(opts.RootOptions, cmd.OutOrStdout())

	cfg, err := loadConfig(opts.RootOptions)
	if err != nil {
		_ = out.Error(CodeConfig, err.Error(), nil)
		return err
	}
	signer, err := newSigner(cfg)
	if err != nil {
		_ = out.Error(CodeConfig, err.Error(), nil)
		return err
	}
	root, err := cfg.Root()
	if err != nil {
		return WrapExitError(ExitCommandError, "invalid root url", err)
	}

	kind, err := action.ParseKind(opts.Op)
	if err != nil {
		_ = out.Error(CodeArgument, err.Error(), nil)
		return WrapExitError(ExitCommandError, "invalid action", err)
	}
	a, err := action.New(kind, opts.Email, opts.NodeID)
	if err != nil {
		_ = out.Error(CodeArgument, err.Error(), nil)
		return WrapExitError(ExitCommandError, "invalid action", err)
	}

	token, err := signer.SignToken(a)
	if err != nil {
		return WrapExitError(ExitFailure, "sign failed", err)
	}

	// Only the URL helpers of the emitter are used, so no sender is needed.
	links := monitor.NewEmitter(signer, nil, nil, root, cfg.InstanceName)
	return out.Success(tokenResult{
		Kind:   string(a.Kind()),
		Email:  a.Address(),
		NodeID: action.NodeOf(a),
		Token:  token,
		URL:    links.ActionURL(token),
	})
}

func newTokenVerifyCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TokenOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "verify <token>",
		Short: "Verify a token and print the action it carries",
		Long: `Verify a token against the configured key and max age.

Exits with code 1 if the token is malformed, forged or expired.

Example:
  nodemon token verify eyJlbWFpbCI6...`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTokenVerify(opts, args[0], cmd)
		},
	}

	return cmd
}

func runTokenVerify(opts *TokenOptions, token string, cmd *cobra.Command) error {
	out := NewOutputFormatter(opts.RootOptions, cmd.OutOrStdout())

	cfg, err := loadConfig(opts.RootOptions)
	if err != nil {
		_ = out.Error(CodeConfig, err.Error(), nil)
		return err
	}
	signer, err := newSigner(cfg)
	if err != nil {
		_ = out.Error(CodeConfig, err.Error(), nil)
		return err
	}

	a, err := signer.Open(token)
	if err != nil {
		_ = out.Error(CodeToken, err.Error(), nil)
		return WrapExitError(ExitFailure, "token rejected", err)
	}

	return out.Success(tokenResult{
		Kind:   string(a.Kind()),
		Email:  a.Address(),
		NodeID: action.NodeOf(a),
	})
}
