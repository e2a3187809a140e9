package commands

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dshills/stratum/internal/merge"
	"github.com/dshills/stratum/internal/workspace"
)

// ErrNotInAnyLayer indicates show for a path no active layer holds.
var ErrNotInAnyLayer = errors.New("path is not in any active layer")

func (a *app) merger() *workspace.Merger {
	return workspace.NewMerger(a.store, a.journal,
		workspace.WithRoot(a.fs, a.cfg.Root),
		workspace.WithLogger(a.log),
	)
}

func newApplyCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "apply",
		Short: "Merge the active layers into the workspace",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			out := cmd.OutOrStdout()
			if err := a.recover(ctx, out); err != nil {
				return err
			}

			m := a.merger()
			ws, err := m.Merge(ctx, a.cfg.Context())
			if err != nil {
				return err
			}
			applied, err := m.Materialize(ctx, ws)
			if err != nil {
				return err
			}

			for _, p := range applied.Written {
				fmt.Fprintf(out, "wrote %s\n", p)
			}
			for _, p := range applied.Removed {
				fmt.Fprintf(out, "removed %s\n", p)
			}
			for _, f := range ws.Conflicted() {
				fmt.Fprintf(out, "conflict in %s (%d regions), see %s\n", f.Path, f.Conflicts, merge.SidecarPath(f.Path))
			}
			errOut := cmd.ErrOrStderr()
			for _, ferr := range ws.Errors() {
				fmt.Fprintf(errOut, "skipped %v\n", ferr)
			}
			fmt.Fprintf(out, "%d files from %d layers (%s)\n", len(ws.Files), len(ws.Stack), ws.Context)
			return nil
		},
	}
}

func newShowCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "show <path>",
		Short: "Print the merged content of one file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := a.workspacePath(args[0])
			if err != nil {
				return err
			}
			stack, err := a.cfg.Context().Stack()
			if err != nil {
				return err
			}

			res, err := a.merger().MergeFile(cmd.Context(), path, stack)
			if err != nil {
				return err
			}
			if res.Err != nil {
				return res.Err
			}
			if !res.Present {
				return fmt.Errorf("%w: %s", ErrNotInAnyLayer, path)
			}
			if res.Conflicted() {
				fmt.Fprintf(cmd.ErrOrStderr(), "%s: %d conflict regions, showing the last clean merge\n", path, res.Conflicts)
			}
			_, err = cmd.OutOrStdout().Write(res.Content)
			return err
		},
	}
}
