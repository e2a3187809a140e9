package commands

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/dshills/stratum/internal/layer"
	"github.com/dshills/stratum/internal/merge"
)

// ErrSideRequired indicates resolve without exactly one of --ours or --theirs.
var ErrSideRequired = errors.New("exactly one of --ours or --theirs is required")

func newResolveCmd(a *app) *cobra.Command {
	var ours, theirs bool
	cmd := &cobra.Command{
		Use:   "resolve <path>",
		Short: "Resolve a conflict file by taking one side",
		Long: `Rewrite a conflicted workspace file with one side of every conflict
region and delete its conflict file. Stage and commit the result to keep
it in a layer.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if ours == theirs {
				return ErrSideRequired
			}
			side := merge.Left
			if theirs {
				side = merge.Right
			}

			path, err := a.workspacePath(args[0])
			if err != nil {
				return err
			}
			target := a.target(path)
			cf, err := merge.ReadConflictFile(a.fs, target)
			if err != nil {
				return err
			}
			text, err := cf.Resolve(side)
			if err != nil {
				return err
			}

			tmp := target + ".tmp"
			if err := afero.WriteFile(a.fs, tmp, []byte(text), 0o644); err != nil {
				return fmt.Errorf("write %s: %w", path, err)
			}
			if err := a.fs.Rename(tmp, target); err != nil {
				_ = a.fs.Remove(tmp)
				return fmt.Errorf("write %s: %w", path, err)
			}
			if err := merge.RemoveConflictFile(a.fs, target); err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "resolved %s with %s from %s (%d regions)\n", path, side, sideSource(cf, side), len(cf.Regions))
			return nil
		},
	}
	cmd.Flags().BoolVar(&ours, "ours", false, "Take the lower layer or local side")
	cmd.Flags().BoolVar(&theirs, "theirs", false, "Take the higher layer or remote side")
	return cmd
}

// sideSource names the layer a side of cf came from. Marker ids are a layer
// ref path, optionally followed by a qualifier such as "(remote)".
func sideSource(cf *merge.ConflictFile, side merge.Side) string {
	if len(cf.Regions) == 0 {
		return "unknown"
	}
	id := cf.Regions[0].LeftID
	if side == merge.Right {
		id = cf.Regions[0].RightID
	}
	fields := strings.Fields(id)
	if len(fields) == 0 {
		return "unknown"
	}
	ref, _, err := layer.ParseRef(fields[0])
	if err != nil {
		return id
	}
	return ref.Layer.String()
}
