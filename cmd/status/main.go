// Command status prints the bot's persisted state and, when a position is
// open, the live per-leg pnl from both venues. Read-only, no credentials
// needed.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"hp-hedge-bot/internal/app"
	"hp-hedge-bot/internal/config"
	"hp-hedge-bot/internal/logging"
)

func main() {
	configPath := flag.String("config", "internal/config/config.yaml", "path to config file")
	flag.Parse()

	if err := config.LoadEnv(".env"); err != nil {
		fmt.Fprintf(os.Stderr, "failed to load .env: %v\n", err)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fatal(err)
	}
	log := logging.New(cfg.Log)
	defer func() { _ = log.Sync() }()

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	st, err := app.CollectStatus(ctx, cfg, log)
	if err != nil {
		fatal(err)
	}

	fmt.Printf("phase:            %s\n", st.Phase)
	fmt.Printf("cycle:            %d\n", st.CycleNumber)
	fmt.Printf("completed cycles: %d\n", st.CompletedCycles)
	fmt.Printf("initial capital:  %s USD\n", st.InitialCapital.StringFixed(2))
	fmt.Printf("cumulative pnl:   %s USD\n", st.CumulativePnL.StringFixed(2))

	if st.Position == nil {
		fmt.Println("position:         none")
		return
	}
	rec := st.Position
	fmt.Printf("position:         %s, long %s / short %s\n", rec.Symbol, rec.LongVenue, rec.ShortVenue)
	fmt.Printf("quantity:         %s at %dx (%s USD notional)\n",
		rec.Quantity, rec.Leverage, rec.NotionalUSD.StringFixed(2))
	fmt.Printf("stop loss:        %s%% of notional\n", rec.StopLossPct)
	fmt.Printf("opened at:        %s\n", rec.OpenedAt.Format(time.RFC3339))
	fmt.Printf("target close at:  %s\n", rec.TargetCloseAt.Format(time.RFC3339))

	fmt.Printf("\n%-14s %14s %14s %14s\n", "VENUE", "QUANTITY", "ENTRY PRICE", "UNREALIZED")
	for _, leg := range st.Legs {
		fmt.Printf("%-14s %14s %14s %14s\n",
			leg.Venue, leg.Quantity, leg.EntryPrice, leg.UnrealizedPnL.StringFixed(2))
	}
	if len(st.Legs) == 0 {
		fmt.Println("no live legs found on either venue")
		return
	}
	fmt.Printf("\ntotal unrealized: %s USD\n", st.UnrealizedPnL.StringFixed(2))
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
