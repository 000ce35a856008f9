package commands

import (
	"github.com/spf13/cobra"
)

// NewServeCommand creates the serve command.
func NewServeCommand(opts *GlobalOptions, factory AppFactory) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the service and its operations server",
		Long: `Connects to the database and the cache, builds every configured entity and serves
/health, /ready and /entities until SIGINT or SIGTERM.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := factory(opts.ConfigDir)
			if err != nil {
				return err
			}
			return a.RunContext(cmd.Context())
		},
	}
}
