package commands

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/gaborage/go-coherence/app"
)

// FlushOptions holds options for the flush command.
type FlushOptions struct {
	All bool
}

// NewFlushCommand creates the flush command.
func NewFlushCommand(opts *GlobalOptions, factory AppFactory) *cobra.Command {
	flushOpts := &FlushOptions{}

	cmd := &cobra.Command{
		Use:   "flush [entity...]",
		Short: "Drop every cached entry of the given entities",
		Long: `Drops all cache namespaces of the named entities without touching the database.
Use it after writes that bypassed the service, such as manual SQL or migrations.`,
		Example: `  # Flush one entity
  coherence flush user

  # Flush everything
  coherence flush --all`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if flushOpts.All == (len(args) > 0) {
				return errors.New("name at least one entity or pass --all, not both")
			}
			a, err := factory(opts.ConfigDir)
			if err != nil {
				return err
			}
			defer func() { _ = a.Shutdown(context.WithoutCancel(cmd.Context())) }()

			if flushOpts.All {
				args = a.Entities()
			}
			return runFlush(cmd.Context(), cmd.OutOrStdout(), a, args)
		},
	}
	cmd.Flags().BoolVar(&flushOpts.All, "all", false, "Flush every configured entity")
	return cmd
}

// runFlush flushes every entity it can and reports the failures together.
func runFlush(ctx context.Context, out io.Writer, a *app.App, names []string) error {
	var errs []error
	for _, name := range names {
		svc, err := a.Service(name)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if err := svc.Flush(ctx); err != nil {
			errs = append(errs, fmt.Errorf("flush %s: %w", name, err))
			continue
		}
		fmt.Fprintf(out, "flushed %s\n", name)
	}
	return errors.Join(errs...)
}
