// Command volumes prints 24h USD volume per configured symbol on both venues
// and flags the ones below the configured liquidity floor. Read-only, no
// credentials needed.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/shopspring/decimal"

	"hp-hedge-bot/internal/app"
	"hp-hedge-bot/internal/config"
	"hp-hedge-bot/internal/logging"
	"hp-hedge-bot/internal/venue"
)

func main() {
	configPath := flag.String("config", "internal/config/config.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fatal(err)
	}
	log := logging.New(cfg.Log)
	defer func() { _ = log.Sync() }()

	hl, pa, err := app.DialVenues(cfg, log, false)
	if err != nil {
		fatal(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	floor := cfg.Strategy.LiquidityFloorUSD.Decimal
	fmt.Printf("%-10s %18s %18s   %s\n", "SYMBOL", hl.Name()+" 24H USD", pa.Name()+" 24H USD", "STATUS")
	fetched := 0
	for _, symbol := range cfg.Strategy.Symbols {
		volA, okA := fetchVolume(ctx, hl, symbol)
		volB, okB := fetchVolume(ctx, pa, symbol)
		if okA || okB {
			fetched++
		}
		status := "ok"
		if !okA || !okB {
			status = "unavailable"
		} else if floor.Sign() > 0 && (volA.LessThan(floor) || volB.LessThan(floor)) {
			status = fmt.Sprintf("below floor (%s)", floor.StringFixed(0))
		}
		fmt.Printf("%-10s %18s %18s   %s\n", symbol, format(volA, okA), format(volB, okB), status)
	}
	if fetched == 0 {
		fatal(fmt.Errorf("no volumes fetched for any configured symbol"))
	}
}

func fetchVolume(ctx context.Context, v venue.Venue, symbol string) (decimal.Decimal, bool) {
	vol, err := v.DayVolumeUSD(ctx, symbol)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %s: %v\n", symbol, v.Name(), err)
		return decimal.Decimal{}, false
	}
	return vol, true
}

func format(vol decimal.Decimal, ok bool) string {
	if !ok {
		return "-"
	}
	return vol.StringFixed(0)
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
