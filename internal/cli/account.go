package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/spec-kit/account-service/internal/api/dto"
	"github.com/spec-kit/account-service/internal/domain"
	"github.com/spec-kit/account-service/internal/repository"
)

func newAccountCmd(app *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "account",
		Short: "Manage accounts",
	}

	cmd.AddCommand(
		newAccountCreateCmd(app),
		newAccountGetCmd(app),
		newAccountUpdateCmd(app),
		newAccountDeleteCmd(app),
		newAccountActivateCmd(app),
		newAccountResetPasswordCmd(app),
		newAccountConfirmEmailCmd(app),
	)

	return cmd
}

func newAccountCreateCmd(app *app) *cobra.Command {
	var (
		email    string
		fullName string
		scope    []string
		asJSON   bool
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create an account in setup status and print its setup token",
		RunE: func(cmd *cobra.Command, _ []string) error {
			scopes := make([]domain.Scope, 0, len(scope))
			for _, s := range scope {
				scopes = append(scopes, domain.Scope(s))
			}
			account, token, err := app.accounts.SetupAccount(cmd.Context(), repository.CreateAccountInput{
				Email:    email,
				FullName: fullName,
				Scope:    scopes,
			})
			if err != nil {
				return err
			}

			if asJSON {
				return writeJSON(cmd.OutOrStdout(), map[string]any{
					"account":    dto.NewAccountResponse(account),
					"setupToken": token.ID,
					"expiresAt":  token.ExpiresAt,
				})
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", account.ID, token.ID)
			return nil
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "email address")
	cmd.Flags().StringVar(&fullName, "name", "", "full name")
	cmd.Flags().StringSliceVar(&scope, "scope", []string{string(domain.ScopeUser)}, "scopes to grant (user, admin)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON output")
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("name")

	return cmd
}

func newAccountGetCmd(app *app) *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: "Print an account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			account, err := app.accounts.GetAccount(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), dto.NewAccountResponse(account))
		},
	}
}

func newAccountUpdateCmd(app *app) *cobra.Command {
	var (
		fullName string
		scope    []string
	)

	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Change the name or scope of an account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			patch := map[string]any{}
			if cmd.Flags().Changed("name") {
				patch["fullName"] = fullName
			}
			if cmd.Flags().Changed("scope") {
				patch["scope"] = scope
			}
			if len(patch) == 0 {
				return fmt.Errorf("nothing to update: pass --name or --scope")
			}

			account, err := app.accounts.UpdateAccount(cmd.Context(), args[0], patch)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), dto.NewAccountResponse(account))
		},
	}

	cmd.Flags().StringVar(&fullName, "name", "", "full name")
	cmd.Flags().StringSliceVar(&scope, "scope", nil, "scopes to grant (user, admin)")

	return cmd
}

func newAccountDeleteCmd(app *app) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Cancel billing and delete an account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := app.accounts.DeleteAccount(cmd.Context(), args[0]); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", args[0])
			return nil
		},
	}
}

func newAccountActivateCmd(app *app) *cobra.Command {
	var token, password string

	cmd := &cobra.Command{
		Use:   "activate",
		Short: "Consume a setup token and set the first password",
		RunE: func(cmd *cobra.Command, _ []string) error {
			account, err := app.accounts.ActivateAccount(cmd.Context(), token, password)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", account.ID, account.Status)
			return nil
		},
	}

	cmd.Flags().StringVar(&token, "token", "", "setup token")
	cmd.Flags().StringVar(&password, "password", "", "new password")
	_ = cmd.MarkFlagRequired("token")
	_ = cmd.MarkFlagRequired("password")

	return cmd
}

func newAccountResetPasswordCmd(app *app) *cobra.Command {
	var email, token, password string

	cmd := &cobra.Command{
		Use:   "reset-password",
		Short: "Request a password reset token, or consume one with --token",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if token != "" {
				account, err := app.accounts.ConsumePasswordReset(cmd.Context(), token, password)
				if err != nil {
					return err
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "password reset for %s\n", account.ID)
				return nil
			}

			if email == "" {
				return fmt.Errorf("pass --email to request a reset or --token to consume one")
			}
			account, reset, err := app.accounts.RequestPasswordReset(cmd.Context(), email)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\n", account.ID, reset.ID, reset.ExpiresAt.Format(time.RFC3339))
			return nil
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "email of the account to reset")
	cmd.Flags().StringVar(&token, "token", "", "password reset token to consume")
	cmd.Flags().StringVar(&password, "password", "", "new password, with --token")
	cmd.MarkFlagsRequiredTogether("token", "password")
	cmd.MarkFlagsMutuallyExclusive("email", "token")

	return cmd
}

func newAccountConfirmEmailCmd(app *app) *cobra.Command {
	var token string

	cmd := &cobra.Command{
		Use:   "confirm-email",
		Short: "Consume an email change or verification token",
		RunE: func(cmd *cobra.Command, _ []string) error {
			account, err := app.accounts.ConsumeEmailChange(cmd.Context(), token)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", account.ID, account.Email)
			return nil
		},
	}

	cmd.Flags().StringVar(&token, "token", "", "email change token")
	_ = cmd.MarkFlagRequired("token")

	return cmd
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
