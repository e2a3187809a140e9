package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dshills/stratum/internal/merge"
	"github.com/dshills/stratum/internal/pull"
	"github.com/dshills/stratum/internal/store"
)

func newPullMergeCmd(a *app) *cobra.Command {
	var flags routingFlags
	cmd := &cobra.Command{
		Use:   "pull-merge <remote-commit>",
		Short: "Merge a fetched commit into a layer",
		Long: `Merge a commit fetched from another repository into the layer selected
by the routing flags. Diverged histories get a merge commit with the
local history as first parent. Conflicted files keep the local content
in the layer and get a conflict file in the workspace.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			out := cmd.OutOrStdout()
			if err := a.recover(ctx, out); err != nil {
				return err
			}

			ref, err := flags.route(a)
			if err != nil {
				return err
			}
			remote := store.ID(strings.TrimSpace(args[0]))
			if _, err := a.store.ReadTree(ctx, remote); err != nil {
				return fmt.Errorf("remote commit %s: %w", args[0], err)
			}
			local, _, err := a.store.ReadRef(ctx, ref.Path)
			if err != nil {
				return err
			}

			m := pull.NewMerger(a.store, a.journal,
				pull.WithSidecars(a.fs, a.cfg.Root),
				pull.WithLogger(a.log),
			)
			res, err := m.Merge(ctx, ref, local, remote)
			if err != nil {
				return err
			}

			switch {
			case res.UpToDate:
				fmt.Fprintf(out, "%s already up to date\n", ref.Layer)
			case res.FastForward:
				fmt.Fprintf(out, "%s fast-forwarded to %s\n", ref.Layer, res.Commit.Short())
			case res.Clean():
				fmt.Fprintf(out, "%s merged cleanly at %s\n", ref.Layer, res.Commit.Short())
			default:
				fmt.Fprintf(out, "%s merged at %s with %d conflicts\n", ref.Layer, res.Commit.Short(), len(res.Conflicts))
				for _, p := range res.Conflicts {
					fmt.Fprintf(out, "  %s (see %s)\n", p, merge.SidecarPath(p))
				}
			}
			return nil
		},
	}
	flags.register(cmd)
	return cmd
}
