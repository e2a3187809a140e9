package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dshills/stratum/internal/commit"
)

func newCommitCmd(a *app) *cobra.Command {
	var (
		message string
		dryRun  bool
	)
	cmd := &cobra.Command{
		Use:   "commit",
		Short: "Commit staged files to their layers",
		Long: `Commit every staged file. Each affected layer gets one commit and all
layer refs move together. When another writer moves a layer first, the
commit is rebuilt and retried.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			out := cmd.OutOrStdout()
			if !dryRun {
				if err := a.recover(ctx, out); err != nil {
					return err
				}
			}

			p := commit.NewPipeline(a.store, a.journal, a.index, commit.WithLogger(a.log))
			res, err := p.ExecuteWithRetry(ctx, message, dryRun, commit.RetryPolicy{
				MaxAttempts:     a.cfg.Retry.MaxAttempts,
				InitialInterval: a.cfg.Retry.InitialInterval,
			})
			if err != nil {
				return err
			}

			if len(res.Layers) == 0 {
				fmt.Fprintln(out, "no changes")
				return nil
			}
			prefix := ""
			if res.DryRun {
				prefix = "would commit "
			}
			for _, l := range res.Layers {
				fmt.Fprintf(out, "%s%s %s (%d files)\n", prefix, l.Ref.Layer, l.Commit.Short(), len(l.Files))
			}
			fmt.Fprintf(out, "%d layers, %d files\n", len(res.Layers), res.FileCount)
			return nil
		},
	}
	cmd.Flags().StringVarP(&message, "message", "m", "", "Commit message")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Show the commits without moving any ref")
	_ = cmd.MarkFlagRequired("message")
	return cmd
}
