package cli

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/gear-foundation/one-of-us/internal/chain"
	"github.com/gear-foundation/one-of-us/internal/join"
)

// JoinOptions holds flags for the join command.
type JoinOptions struct {
	*RootOptions
	Address string
}

// NewJoinCommand creates the join command.
func NewJoinCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &JoinOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "join",
		Short: "Join the registry and wait for finalization",
		Long: `Join the registry and wait for finalization.

With WALLET_PRIVATE_KEY set the join is signed by that wallet. With
VERIFIER_PROGRAM_ID set it is signed by your passkey in the browser and
relayed by the wallet. An interrupted join resumes when run again.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runJoin(cmd.Context(), opts, NewPrinter(cmd.OutOrStdout(), opts.Format))
		},
	}

	cmd.Flags().StringVar(&opts.Address, "address", "", "account to join as (defaults to the signing account)")

	return cmd
}

func runJoin(ctx context.Context, opts *JoinOptions, out *Printer) error {
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
	if cfg.Passkey() {
		if err := app.ServeCallback(); err != nil {
			return err
		}
	}

	cache := app.Counter(nil)
	cache.Refresh(ctx)

	var (
		last     join.State
		lastMu   sync.Mutex
		done     = make(chan join.State, 1)
		doneOnce sync.Once
	)
	onChange := func(s join.State) {
		lastMu.Lock()
		changed := s.TxStatus != last.TxStatus || s.Finalized != last.Finalized || s.IsJoined != last.IsJoined
		last = s
		lastMu.Unlock()
		if changed && !s.CheckingMembership {
			out.State(s)
		}
		if s.Finalized {
			doneOnce.Do(func() { done <- s })
		}
	}

	m, err := app.Machine(cache, onChange)
	if err != nil {
		return err
	}
	defer m.Close()

	m.SetAddress(ctx, address)
	state := m.CheckMembership(ctx)
	switch {
	case state.Finalized:
		return nil
	case state.IsJoined:
		// A join from an earlier run is still confirming.
	default:
		ok, err := m.HandleJoin(ctx)
		if err != nil && !ok {
			return joinError(m.State(), err)
		}
	}

	started := time.Now()
	spin := out.NewSpinner("waiting for finalization")
	spin.Start()
	defer spin.Stop()

	select {
	case s := <-done:
		spin.Stop()
		if s.TxHash != "" {
			out.Info("explorer: " + chain.TxExplorerURL(cfg.ExplorerURL, s.TxHash))
		}
		out.Info(fmt.Sprintf("finalized in %s, %d members", formatDuration(time.Since(started)), cache.Count()))
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// joinError prefers the message shown to the user over the raw cause.
func joinError(s join.State, err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	if s.Error != "" {
		return errors.New(s.Error)
	}
	return err
}
