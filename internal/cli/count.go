package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/gear-foundation/one-of-us/internal/chain"
)

// CountOptions holds flags for the count command.
type CountOptions struct {
	*RootOptions
	Watch bool
}

// CountResult is the output of the count command.
type CountResult struct {
	Chain uint32 `json:"chain"`
	// Store is the membership API count; nil when the API is unreachable.
	Store *int `json:"store,omitempty"`
}

// NewCountCommand creates the count command.
func NewCountCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CountOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "count",
		Short: "Show the member count",
		Long: `Show the member count.

The on-chain count is read from the registry program. The membership API
count is shown alongside when the API is reachable. With --watch the chain
count is polled until interrupted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCount(cmd.Context(), opts, NewPrinter(cmd.OutOrStdout(), opts.Format))
		},
	}

	cmd.Flags().BoolVarP(&opts.Watch, "watch", "w", false, "keep polling the chain count")

	return cmd
}

func runCount(ctx context.Context, opts *CountOptions, out *Printer) error {
	cfg, logger, err := loadConfig(opts.RootOptions)
	if err != nil {
		return err
	}
	app, err := NewApp(cfg, logger)
	if err != nil {
		return err
	}
	defer app.Close()

	n, err := chain.ReadCount(ctx, app.chain, app.Program(), app.encoding)
	if err != nil {
		return fmt.Errorf("read chain count: %w", err)
	}
	res := CountResult{Chain: n}
	text := fmt.Sprintf("%d members on chain", n)

	if app.api.Available(ctx) {
		if stored, err := app.api.Count(ctx); err != nil {
			logger.Warn().Err(err).Msg("membership count failed")
		} else {
			res.Store = &stored
			text += fmt.Sprintf(", %d registered", stored)
		}
	}
	out.Value(res, text)

	if !opts.Watch {
		return nil
	}

	last := n
	cache := app.Counter(func(v uint32) {
		if v == last {
			return
		}
		last = v
		out.Value(CountResult{Chain: v}, fmt.Sprintf("%d members on chain", v))
	})
	cache.Run(ctx)
	return nil
}
