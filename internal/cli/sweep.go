package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/spec-kit/account-service/internal/worker"
)

func newSweepCmd(app *app) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Delete records whose expiry grace has passed",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if app.sweeper == nil {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "store reclaims expired records natively")
				return nil
			}
			removed := worker.SweepOnce(cmd.Context(), app.sweeper, app.now(), app.logger)
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "removed %d\n", removed)
			return nil
		},
	}
}
