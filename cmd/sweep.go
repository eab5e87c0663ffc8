package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func newSweepCmd(configPath *string) *cobra.Command {
	var tenantID string

	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Run one expiry pass and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			a, err := buildApp(ctx, *configPath)
			if err != nil {
				return err
			}
			defer a.close()

			if tenantID != "" {
				r, err := a.sweeper.SweepTenant(ctx, tenantID)
				cmd.Printf("%s: %d bids expired, %d offers timed out, %d tenders expired\n",
					r.TenantID, r.ExpiredBids, r.TimedOutOffers, r.ExpiredTenders)
				return err
			}

			reports, err := a.sweeper.RunOnce(ctx)
			for _, r := range reports {
				cmd.Printf("%s: %d bids expired, %d offers timed out, %d tenders expired\n",
					r.TenantID, r.ExpiredBids, r.TimedOutOffers, r.ExpiredTenders)
			}
			return err
		},
	}

	cmd.Flags().StringVar(&tenantID, "tenant", "", "sweep a single tenant")
	return cmd
}
