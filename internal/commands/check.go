package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/gaborage/go-coherence/app"
)

// ErrNotReady is returned by check when a critical probe failed.
var ErrNotReady = errors.New("service is not ready")

// CheckOptions holds options for the check command.
type CheckOptions struct {
	Timeout time.Duration
}

// NewCheckCommand creates the check command.
func NewCheckCommand(opts *GlobalOptions, factory AppFactory) *cobra.Command {
	checkOpts := &CheckOptions{}

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Probe the database and the cache",
		Long: `Runs the readiness probes once and prints their outcome. Exits non-zero when a
critical dependency is down.`,
		Example: `  # Check the configuration in the current directory
  coherence check

  # Check a deployment's configuration
  coherence check -c /etc/coherence --timeout 2s`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := factory(opts.ConfigDir)
			if err != nil {
				return err
			}
			defer func() { _ = a.Shutdown(context.WithoutCancel(cmd.Context())) }()

			ctx, cancel := context.WithTimeout(cmd.Context(), checkOpts.Timeout)
			defer cancel()
			return runCheck(ctx, cmd.OutOrStdout(), a)
		},
	}
	cmd.Flags().DurationVar(&checkOpts.Timeout, "timeout", 5*time.Second, "Overall probe timeout")
	return cmd
}

func runCheck(ctx context.Context, out io.Writer, a *app.App) error {
	ready, statuses := a.Check(ctx)
	for _, s := range statuses {
		line := fmt.Sprintf("%-10s %s", s.Name, s.Status)
		if s.Critical {
			line += " (critical)"
		}
		if s.Err != nil {
			line += ": " + s.Error()
		}
		fmt.Fprintln(out, line)
	}
	if !ready {
		return ErrNotReady
	}
	fmt.Fprintln(out, "ready")
	return nil
}
