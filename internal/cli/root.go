// Package cli implements accountctl, the operator command line for the
// account store.
package cli

import (
	"context"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/spec-kit/account-service/internal/service"
	"github.com/spec-kit/account-service/internal/store"
)

type app struct {
	accounts *service.AccountService
	sweeper  store.Sweeper
	logger   *zap.Logger
	close    func()
	now      func() time.Time
}

type wireFunc func(ctx context.Context) (*app, error)

// Execute runs accountctl against the store configured in the environment.
func Execute() error {
	return newRootCmd(wireApp).Execute()
}

func newRootCmd(wire wireFunc) *cobra.Command {
	state := &app{}
	rootCmd := &cobra.Command{
		Use:           "accountctl",
		Short:         "Administer accounts and lifecycle tokens",
		Long:          "accountctl creates, inspects and removes accounts, drives the setup, password reset and email change flows, and reclaims expired records on backends without native expiry.",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			wired, err := wire(cmd.Context())
			if err != nil {
				return err
			}
			*state = *wired
			return nil
		},
		PersistentPostRun: func(_ *cobra.Command, _ []string) {
			if state.close != nil {
				state.close()
			}
		},
	}

	rootCmd.AddCommand(
		newAccountCmd(state),
		newSweepCmd(state),
	)

	return rootCmd
}
