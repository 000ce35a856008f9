// Package commands implements the coherence command line.
package commands

import (
	"github.com/spf13/cobra"

	"github.com/gaborage/go-coherence/app"
	"github.com/gaborage/go-coherence/config"
)

// AppFactory builds the application from the configuration found in configDir.
type AppFactory func(configDir string) (*app.App, error)

// DefaultAppFactory loads config.yaml, config.<env>.yaml and the environment from
// configDir and connects to everything configured.
func DefaultAppFactory(configDir string) (*app.App, error) {
	return app.NewWithOptions(&app.Options{
		ConfigLoader: func() (*config.Config, error) {
			return config.LoadFrom(configDir)
		},
	})
}

// GlobalOptions are shared by every subcommand.
type GlobalOptions struct {
	ConfigDir string
}

// NewRootCommand assembles the command tree.
func NewRootCommand(version string, factory AppFactory) *cobra.Command {
	opts := &GlobalOptions{}

	root := &cobra.Command{
		Use:   "coherence",
		Short: "Run and operate a commit-gated cache coherence service",
		Long: `coherence keeps Redis caches of PostgreSQL tables coherent with committed writes.

Entities, their cache dimensions and the connections are read from config.yaml,
config.<env>.yaml and environment variables in the configuration directory.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&opts.ConfigDir, "config-dir", "c", ".", "Directory holding config.yaml")

	root.AddCommand(
		NewServeCommand(opts, factory),
		NewCheckCommand(opts, factory),
		NewEntitiesCommand(opts, factory),
		NewFlushCommand(opts, factory),
		NewVersionCommand(version),
	)
	return root
}
