package commands

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/dshills/stratum/internal/merge"
	"github.com/dshills/stratum/internal/staging"
)

func newAddCmd(a *app) *cobra.Command {
	var (
		flags  routingFlags
		remove bool
	)
	cmd := &cobra.Command{
		Use:   "add <path>...",
		Short: "Stage files for the routed layer",
		Long: `Stage workspace files for the layer selected by the routing flags.
Without flags files go to the active project's layer. With --remove the
paths are staged for deletion from that layer.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ref, err := flags.route(a)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()

			for _, arg := range args {
				path, err := a.workspacePath(arg)
				if err != nil {
					return err
				}
				if merge.IsSidecar(path) {
					return fmt.Errorf("%s is a conflict file; run 'stratum resolve' first", arg)
				}

				entry := staging.Entry{Ref: ref, Path: path, Removed: remove}
				if !remove {
					data, err := afero.ReadFile(a.fs, a.target(path))
					if err != nil {
						return fmt.Errorf("read %s: %w", arg, err)
					}
					entry.Hash, err = a.store.CreateBlob(cmd.Context(), data)
					if err != nil {
						return fmt.Errorf("store %s: %w", arg, err)
					}
					entry.Size = int64(len(data))
				}
				if err := a.index.Add(entry); err != nil {
					return err
				}

				verb := "staged"
				if remove {
					verb = "staged removal of"
				}
				fmt.Fprintf(out, "%s %s -> %s\n", verb, path, ref.Layer)
				a.log.Debug().Str("path", path).Str("ref", ref.Path).Str("blob", entry.Hash.Short()).Msg("staged")
			}
			return nil
		},
	}
	flags.register(cmd)
	cmd.Flags().BoolVar(&remove, "remove", false, "Stage the paths for deletion")
	return cmd
}

func newStatusCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "List staged files",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			entries, err := a.index.Entries()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(entries) == 0 {
				fmt.Fprintln(out, "nothing staged")
				return nil
			}

			w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			for _, e := range entries {
				change := e.Hash.Short()
				if e.Removed {
					change = "removed"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\n", e.Ref.Layer, e.Path, change)
			}
			return w.Flush()
		},
	}
}
