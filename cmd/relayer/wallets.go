package main

import (
	"fmt"
	"io"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/0gfoundation/swap-relay/internal/wallet"
)

func newSweepCmd() *cobra.Command {
	var maxAge time.Duration
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Destroy persisted wallets older than the sweep age (stranded wallets are kept)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := bootstrap(cmd.Context())
			if err != nil {
				return err
			}
			defer e.close()

			if maxAge <= 0 {
				maxAge = e.cfg.Relay.SweepMaxAge()
			}
			m := wallet.NewManager(e.store, e.cfg.Relay.WalletTTL(), e.cfg.Relay.TokenTTL(), e.log)
			n, err := m.Sweep(cmd.Context(), maxAge)
			if err != nil {
				return fmt.Errorf("sweep: %w", err)
			}
			e.log.Info("sweep complete", zap.Int("removed", n), zap.Duration("max_age", maxAge))
			fmt.Fprintf(cmd.OutOrStdout(), "removed %d wallet(s) older than %s\n", n, maxAge)
			return nil
		},
	}
	cmd.Flags().DurationVar(&maxAge, "max-age", 0, "override relay.sweep_max_age_hours")
	return cmd
}

func newWalletsCmd() *cobra.Command {
	var strandedOnly bool
	cmd := &cobra.Command{
		Use:   "wallets",
		Short: "List persisted ephemeral wallets",
		Long: `List the durable wallet records. Stranded wallets hold funds from a swap
whose forward failed; recover them manually with the key held in the store.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := bootstrap(cmd.Context())
			if err != nil {
				return err
			}
			defer e.close()

			recs, err := e.store.ScanRecords(cmd.Context())
			if err != nil {
				return err
			}
			return printRecords(cmd.OutOrStdout(), recs, time.Now(), strandedOnly)
		},
	}
	cmd.Flags().BoolVar(&strandedOnly, "stranded", false, "only list wallets stranded by a failed forward")
	return cmd
}

func printRecords(out io.Writer, recs []wallet.Record, now time.Time, strandedOnly bool) error {
	sort.Slice(recs, func(i, j int) bool { return recs[i].CreatedAt < recs[j].CreatedAt })

	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ADDRESS\tCREATED\tAGE\tUSED\tSTRANDED")
	n := 0
	for _, r := range recs {
		if strandedOnly && !r.Stranded {
			continue
		}
		n++
		fmt.Fprintf(tw, "%s\t%s\t%s\t%t\t%t\n",
			r.Address,
			time.Unix(r.CreatedAt, 0).UTC().Format(time.RFC3339),
			r.Age(now).Truncate(time.Second),
			r.Used,
			r.Stranded,
		)
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	_, err := fmt.Fprintf(out, "%d wallet(s)\n", n)
	return err
}
