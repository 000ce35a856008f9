package commands

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/gaborage/go-coherence/app"
)

// NewEntitiesCommand creates the entities command.
func NewEntitiesCommand(opts *GlobalOptions, factory AppFactory) *cobra.Command {
	return &cobra.Command{
		Use:   "entities",
		Short: "List configured entities and their cache namespaces",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := factory(opts.ConfigDir)
			if err != nil {
				return err
			}
			defer func() { _ = a.Shutdown(context.WithoutCancel(cmd.Context())) }()
			return listEntities(cmd.OutOrStdout(), a)
		},
	}
}

func listEntities(out io.Writer, a *app.App) error {
	for _, name := range a.Entities() {
		svc, err := a.Service(name)
		if err != nil {
			return err
		}
		cfg := svc.Config()
		fmt.Fprintf(out, "%s (key %s, ttl %s)\n", name, cfg.Key, cfg.TTL)
		for _, g := range svc.Planner().PlanAll() {
			fmt.Fprintf(out, "  %s\n", g.Namespace)
		}
	}
	return nil
}
