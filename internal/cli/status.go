package cli

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/gear-foundation/one-of-us/internal/chain"
	"github.com/gear-foundation/one-of-us/internal/join"
)

// StatusResult is the JSON form of the status command. OnChain is absent
// when the registry could not be queried.
type StatusResult struct {
	join.State
	OnChain *bool `json:"onChain,omitempty"`
}

// StatusOptions holds flags for the status command.
type StatusOptions struct {
	*RootOptions
	Address string
}

// NewStatusCommand creates the status command.
func NewStatusCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &StatusOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "status [address]",
		Short: "Show the membership of an account",
		Long: `Show the membership of an account.

The local pending join is reconciled with the membership API without
changing either. When the API is unreachable the local record alone decides.
The registry program is also asked directly whether the account has joined.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				opts.Address = args[0]
			}
			return runStatus(cmd, opts)
		},
	}

	return cmd
}

func runStatus(cmd *cobra.Command, opts *StatusOptions) error {
	ctx := cmd.Context()
	out := NewPrinter(cmd.OutOrStdout(), opts.Format)

	cfg, logger, err := loadConfig(opts.RootOptions)
	if err != nil {
		return err
	}
	app, err := NewApp(cfg, logger)
	if err != nil {
		return err
	}
	defer app.Close()

	address, err := app.Address(opts.Address)
	if err != nil {
		return err
	}

	local, err := app.pending.Load()
	if err != nil {
		logger.Warn().Err(err).Msg("failed to read pending join")
	}
	info, checkErr := app.api.Check(ctx, address)
	if checkErr != nil {
		logger.Warn().Err(checkErr).Msg("membership check failed, using local state")
	}
	// Reconcile without applying, so status never clears local records.
	state := join.Reconcile(local, info, checkErr, address, time.Now()).State

	result := StatusResult{State: state}
	if account, err := chain.DecodeHex(address); err != nil {
		logger.Warn().Err(err).Msg("address is not hex, skipping registry query")
	} else if onChain, err := app.registry.IsOneOfUs(ctx, app.chain, account); err != nil {
		logger.Warn().Err(err).Msg("registry query failed")
	} else {
		result.OnChain = &onChain
	}

	if out.JSON() {
		out.Value(result, "")
		return nil
	}
	out.State(state)
	if result.OnChain != nil {
		if *result.OnChain {
			out.Info("registry: member")
		} else {
			out.Info("registry: not a member")
		}
	}
	out.Info("account: " + chain.AddressExplorerURL(cfg.ExplorerURL, address))
	return nil
}
