// Command emergencyclose flattens one symbol on both venues with reduce-only
// market orders, without going through the bot's state machine. Meant for
// operator intervention when the bot is stopped or wedged.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"

	"hp-hedge-bot/internal/app"
	"hp-hedge-bot/internal/config"
	"hp-hedge-bot/internal/logging"
)

func main() {
	configPath := flag.String("config", "internal/config/config.yaml", "path to config file")
	symbol := flag.String("symbol", "", "symbol to close on both venues")
	dryRun := flag.Bool("dry-run", false, "report open legs without sending orders")
	force := flag.Bool("force", false, "skip the confirmation prompt")
	flag.Parse()

	if err := config.LoadEnv(".env"); err != nil {
		fmt.Fprintf(os.Stderr, "failed to load .env: %v\n", err)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fatal(err)
	}
	if *symbol == "" {
		if len(cfg.Strategy.Symbols) == 1 {
			*symbol = cfg.Strategy.Symbols[0]
		} else {
			fatal(errors.New("--symbol is required when more than one symbol is configured"))
		}
	}
	log := logging.New(cfg.Log)
	defer func() { _ = log.Sync() }()

	if !*dryRun && !*force {
		fmt.Printf("close %s on both venues with market orders? [y/N] ", *symbol)
		line, _ := bufio.NewReader(os.Stdin).ReadString('\n')
		if answer := strings.ToLower(strings.TrimSpace(line)); answer != "y" && answer != "yes" {
			fmt.Println("aborted")
			return
		}
	}

	if err := app.EmergencyClose(context.Background(), cfg, log, *symbol, *dryRun); err != nil {
		fatal(err)
	}
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
