package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dshills/stratum/internal/layer"
)

// routingFlags are the flags that select the target layer of a write.
type routingFlags struct {
	layer.Routing
}

func (r *routingFlags) register(cmd *cobra.Command) {
	cmd.Flags().BoolVar(&r.Global, "global", false, "Target the global layer")
	cmd.Flags().BoolVar(&r.Local, "local", false, "Target the user-local layer")
	cmd.Flags().StringVar(&r.Mode, "mode", "", "Target a mode layer")
	cmd.Flags().StringVar(&r.Scope, "scope", "", "Target a scope layer")
	cmd.Flags().BoolVar(&r.Project, "project", false, "Target the active project")
}

func (r *routingFlags) route(a *app) (layer.Ref, error) {
	return layer.Route(r.Routing, a.cfg.Context())
}

func newRouteCmd(a *app) *cobra.Command {
	var flags routingFlags
	cmd := &cobra.Command{
		Use:   "route",
		Short: "Print the layer and ref a write would go to",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ref, err := flags.route(a)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", ref.Layer, ref.Path)
			return nil
		},
	}
	flags.register(cmd)
	return cmd
}
