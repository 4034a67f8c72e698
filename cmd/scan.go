package cmd

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/spigell/pitch-analyst/internal/chain"
	"github.com/spigell/pitch-analyst/internal/logger"
	"github.com/spigell/pitch-analyst/internal/payment"
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Look for a qualifying payment from a wallet without a live session",
	Run: func(cmd *cobra.Command, _ []string) {
		scan(cmd)
	},
}

func init() {
	rootCmd.AddCommand(scanCmd)

	scanCmd.Flags().StringP("wallet", "w", "", "wallet address the participant paid from")
	scanCmd.Flags().StringP("since", "s", "", "RFC3339 lower bound for transfers (default 24 hours ago)")
	scanCmd.Flags().Int("lookback", 0, "number of recent treasury signatures to inspect")

	scanCmd.MarkFlagRequired("wallet")
	viper.BindPFlag("payment.lookback", scanCmd.Flags().Lookup("lookback"))
}

func scan(cmd *cobra.Command) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	logger, err := logger.New(viper.GetBool("json"), viper.GetBool("debug"))
	if err != nil {
		log.Fatalf("creating a logger: %s", err)
	}

	config, err := getConfig()
	if err != nil {
		logger.Fatal("getting a config", zap.Error(err))
	}

	wallet, _ := cmd.Flags().GetString("wallet")
	rawSince, _ := cmd.Flags().GetString("since")

	since, err := parseSince(rawSince, time.Now())
	if err != nil {
		logger.Fatal("parsing --since", zap.Error(err))
	}

	gate, client, err := newPaymentGate(config.Payment, nil, logger)
	if err != nil {
		logger.Fatal("configuring payment verification", zap.Error(err))
	}
	defer client.Close()

	if err := gate.ValidateWallet(wallet); err != nil {
		logger.Fatal("invalid wallet", zap.Error(err))
	}

	logger.Info("scanning treasury history",
		zap.String("treasury_token_account", gate.TreasuryAccount()),
		zap.String("wallet", wallet),
		zap.Time("since", since),
	)

	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SIGNATURE\tBLOCK TIME\tSOURCE\tAMOUNT\tQUALIFIES")

	res, err := gate.Match(ctx, wallet, since, func(c chain.Candidate, ok bool) {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%t\n",
			c.Signature,
			c.BlockTime.Format(time.RFC3339),
			c.Source,
			payment.FormatUnits(c.Amount, config.Payment.TokenDecimals),
			ok,
		)
	})
	tw.Flush()

	if err != nil {
		logger.Fatal("scan failed", zap.Error(err))
	}

	logger.Info("scan finished",
		zap.String("outcome", res.Outcome.String()),
		zap.Int("inspected", res.Inspected),
	)
}

// parseSince reads an RFC3339 timestamp, defaulting to 24 hours before now.
func parseSince(raw string, now time.Time) (time.Time, error) {
	if raw == "" {
		return now.Add(-24 * time.Hour), nil
	}
	return time.Parse(time.RFC3339, raw)
}
