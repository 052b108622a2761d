package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewAuthCommand creates the auth command and its logout and show
// subcommands.
func NewAuthCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Sign in with a passkey",
		Long: `Sign in with a passkey.

Opens the auth provider in the browser and waits for its callback. The
returned account is stored in the state directory and used by join.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			out := NewPrinter(cmd.OutOrStdout(), rootOpts.Format)

			cfg, logger, err := loadConfig(rootOpts)
			if err != nil {
				return err
			}
			app, err := NewApp(cfg, logger)
			if err != nil {
				return err
			}
			defer app.Close()

			if err := app.ServeCallback(); err != nil {
				return err
			}

			spin := out.NewSpinner("waiting for the auth provider")
			spin.Start()
			id, err := app.popup.WaitForAuth(ctx)
			spin.Stop()
			if err != nil {
				return fmt.Errorf("passkey sign in: %w", err)
			}

			if err := app.programIDs.Set(id); err != nil {
				return err
			}
			out.Value(map[string]string{"programId": id}, "signed in as "+id)
			return nil
		},
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show the stored passkey account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := NewPrinter(cmd.OutOrStdout(), rootOpts.Format)
			app, err := newStateApp(rootOpts)
			if err != nil {
				return err
			}
			defer app.Close()

			id, err := app.programIDs.Get()
			if err != nil {
				return err
			}
			if id == "" {
				out.Value(map[string]string{"programId": ""}, "not signed in")
				return nil
			}
			out.Value(map[string]string{"programId": id}, "signed in as "+id)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "logout",
		Short: "Forget the stored passkey account",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := newStateApp(rootOpts)
			if err != nil {
				return err
			}
			defer app.Close()

			if err := app.programIDs.Clear(); err != nil {
				return err
			}
			NewPrinter(cmd.OutOrStdout(), rootOpts.Format).Success("signed out")
			return nil
		},
	})

	return cmd
}

func newStateApp(opts *RootOptions) (*App, error) {
	cfg, logger, err := loadConfig(opts)
	if err != nil {
		return nil, err
	}
	return NewApp(cfg, logger)
}
