package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/gear-foundation/one-of-us/internal/membership"
)

// MembersOptions holds flags for the members command.
type MembersOptions struct {
	*RootOptions
	Page     int
	PageSize int
}

// NewMembersCommand creates the members command.
func NewMembersCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &MembersOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "members",
		Short: "List registered members, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMembers(cmd, opts)
		},
	}

	cmd.Flags().IntVar(&opts.Page, "page", 0, "page number, from 0")
	cmd.Flags().IntVar(&opts.PageSize, "page-size", membership.DefaultPageSize, "members per page")

	return cmd
}

func runMembers(cmd *cobra.Command, opts *MembersOptions) error {
	if opts.Page < 0 {
		return fmt.Errorf("invalid page %d", opts.Page)
	}
	if opts.PageSize < 1 || opts.PageSize > membership.MaxPageSize {
		return fmt.Errorf("page size must be between 1 and %d", membership.MaxPageSize)
	}

	cfg, _, err := loadConfig(opts.RootOptions)
	if err != nil {
		return err
	}
	api := membership.NewClient(membership.ClientConfig{BaseURL: cfg.APIURL})

	page, err := api.List(cmd.Context(), opts.Page, opts.PageSize)
	if err != nil {
		return fmt.Errorf("list members: %w", err)
	}

	var b strings.Builder
	for _, m := range page.Members {
		status := "pending"
		if m.Finalized() {
			status = "finalized"
		}
		fmt.Fprintf(&b, "%s  %s  %s\n", m.JoinedAt.UTC().Format("2006-01-02 15:04:05"), m.Address, status)
	}
	fmt.Fprintf(&b, "page %d, %d of %d members", page.Page, len(page.Members), page.Total)
	if page.HasMore {
		b.WriteString(", more with --page ")
		fmt.Fprint(&b, page.Page+1)
	}

	NewPrinter(cmd.OutOrStdout(), opts.Format).Value(page, b.String())
	return nil
}
