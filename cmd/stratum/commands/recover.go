package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dshills/stratum/internal/txn"
)

func newRecoverCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "recover",
		Short: "Replay or discard transaction logs left by an interrupted run",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			report, err := txn.Recover(cmd.Context(), a.store, a.journal, a.log)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if report.Empty() {
				fmt.Fprintln(out, "nothing to recover")
				return nil
			}
			for _, id := range report.Replayed {
				fmt.Fprintf(out, "replayed %s\n", id)
			}
			for _, id := range report.Discarded {
				fmt.Fprintf(out, "discarded %s\n", id)
			}
			return nil
		},
	}
}
