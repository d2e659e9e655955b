// Command rates prints the current funding picture for every configured
// symbol: per-venue annualized rates, the net spread and which side each
// venue would take. Read-only, no credentials needed.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"hp-hedge-bot/internal/app"
	"hp-hedge-bot/internal/config"
	"hp-hedge-bot/internal/logging"
	"hp-hedge-bot/internal/strategy"
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

	type row struct {
		symbol string
		opp    strategy.Opportunity
	}
	var rows []row
	for _, symbol := range cfg.Strategy.Symbols {
		rateA, err := hl.FundingRate(ctx, symbol)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s: %s: %v\n", symbol, hl.Name(), err)
			continue
		}
		rateB, err := pa.FundingRate(ctx, symbol)
		if err != nil {
			fmt.Fprintf(os.Stderr, "%s: %s: %v\n", symbol, pa.Name(), err)
			continue
		}
		opp := strategy.BuildOpportunity(strategy.RatePair{
			Symbol: symbol,
			VenueA: hl.Name(),
			VenueB: pa.Name(),
			RateA:  rateA,
			RateB:  rateB,
		}, cfg.Strategy.FundingPeriodsPerDay)
		rows = append(rows, row{symbol: symbol, opp: opp})
	}
	sort.Slice(rows, func(i, j int) bool {
		return rows[i].opp.NetAPR.GreaterThan(rows[j].opp.NetAPR)
	})

	threshold := cfg.Strategy.MinNetAPR.Decimal
	fmt.Printf("%-10s %14s %14s %12s   %s\n", "SYMBOL", hl.Name()+" APR%", pa.Name()+" APR%", "NET APR%", "PLAN")
	for _, r := range rows {
		plan := fmt.Sprintf("long %s / short %s", r.opp.LongVenue, r.opp.ShortVenue)
		if r.opp.NetAPR.LessThan(threshold) {
			plan = "below threshold"
		}
		fmt.Printf("%-10s %14s %14s %12s   %s\n",
			r.symbol,
			aprString(r.opp.APR, hl.Name()),
			aprString(r.opp.APR, pa.Name()),
			r.opp.NetAPR.StringFixed(2),
			plan)
	}
	if len(rows) == 0 {
		fatal(fmt.Errorf("no rates fetched for any configured symbol"))
	}
}

func aprString(aprs map[string]decimal.Decimal, name string) string {
	return aprs[name].StringFixed(2)
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
