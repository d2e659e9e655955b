// Package app wires the connectors, persistence and alerting together and
// runs the orchestrator phase loop.
package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"hp-hedge-bot/internal/alerts"
	"hp-hedge-bot/internal/config"
	"hp-hedge-bot/internal/exec"
	"hp-hedge-bot/internal/metrics"
	"hp-hedge-bot/internal/state"
	"hp-hedge-bot/internal/state/sqlite"
	"hp-hedge-bot/internal/strategy"
	"hp-hedge-bot/internal/timescale"
	"hp-hedge-bot/internal/venue"
	"hp-hedge-bot/internal/venue/hyperliquid"
	"hp-hedge-bot/internal/venue/pacifica"
)

// readAttempts bounds retries on read-only venue calls. Orders and leverage
// updates are never retried.
const readAttempts = 4

type App struct {
	cfg     *config.Config
	cfgPath string
	log     *zap.Logger

	store    *state.FileStore
	kv       *sqlite.Store
	venueA   venue.Venue
	venueB   venue.Venue
	executor *exec.Executor
	metrics  *metrics.Metrics
	prom     *metrics.Prometheus
	alerts   *alerts.Telegram
	history  *timescale.Writer
	mids     *hyperliquid.MidStream

	// symbols is the tradeable set: configured, listed on both venues and
	// above the liquidity floor. infos caches per-venue contract specs.
	symbols []string
	infos   map[string]map[string]venue.SymbolInfo
}

func New(cfg *config.Config, cfgPath string, log *zap.Logger) (*App, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.State.SQLitePath), 0o755); err != nil {
		return nil, err
	}
	kv, err := sqlite.New(cfg.State.SQLitePath)
	if err != nil {
		return nil, err
	}
	store, err := state.Open(cfg.State.FilePath)
	if err != nil {
		_ = kv.Close()
		return nil, err
	}

	hl, pa, err := DialVenues(cfg, log, true)
	if err != nil {
		return nil, err
	}
	mids := hyperliquid.NewMidStream(cfg.Hyperliquid.WSURL, cfg.Hyperliquid.ReconnectDelay, log)
	hl.UseMidStream(mids)

	history, err := timescale.New(cfg.Timescale, log)
	if err != nil {
		return nil, fmt.Errorf("timescale init: %w", err)
	}

	var m *metrics.Metrics
	var prom *metrics.Prometheus
	if cfg.Metrics.ListenAddr != "" {
		prom = metrics.NewPrometheus()
		m = prom.Metrics
	} else {
		m = metrics.NewNoop()
	}

	a := &App{
		cfg:      cfg,
		cfgPath:  cfgPath,
		log:      log,
		store:    store,
		kv:       kv,
		venueA:   hl,
		venueB:   pa,
		executor: exec.New(kv, log),
		metrics:  m,
		alerts:   alerts.NewTelegram(cfg.Telegram, log),
		history:  history,
		mids:     mids,
	}
	a.prom = prom
	return a, nil
}

// Prometheus is non-nil only when a metrics listener is configured.
func (a *App) Prometheus() *metrics.Prometheus { return a.prom }

// DialVenues builds both exchange connectors from config and environment
// credentials. With requireKeys false missing credentials produce read-only
// connectors instead of an error.
func DialVenues(cfg *config.Config, log *zap.Logger, requireKeys bool) (*hyperliquid.Client, *pacifica.Client, error) {
	hlPrivateKey := strings.TrimSpace(os.Getenv("HL_PRIVATE_KEY"))
	if requireKeys && hlPrivateKey == "" {
		return nil, nil, errors.New("HL_PRIVATE_KEY is required")
	}
	hl, err := hyperliquid.NewClient(hyperliquid.Config{
		BaseURL:       cfg.Hyperliquid.BaseURL,
		Timeout:       cfg.Hyperliquid.Timeout,
		WalletAddress: os.Getenv("HL_WALLET"),
		PrivateKey:    hlPrivateKey,
	}, log)
	if err != nil {
		return nil, nil, err
	}
	paPrivateKey := strings.TrimSpace(os.Getenv("API_PRIVATE"))
	if requireKeys && paPrivateKey == "" {
		return nil, nil, errors.New("API_PRIVATE is required")
	}
	pa, err := pacifica.NewClient(pacifica.Config{
		BaseURL:        cfg.Pacifica.BaseURL,
		Timeout:        cfg.Pacifica.Timeout,
		Account:        os.Getenv("SOL_WALLET"),
		AgentPublicKey: os.Getenv("API_PUBLIC"),
		PrivateKey:     paPrivateKey,
	}, log)
	if err != nil {
		return nil, nil, err
	}
	return hl, pa, nil
}

func (a *App) Run(ctx context.Context) error {
	defer a.kv.Close()
	defer func() {
		if a.history != nil {
			_ = a.history.Close()
		}
	}()

	if hl, ok := a.venueA.(*hyperliquid.Client); ok {
		if err := hl.InitNonceStore(ctx, a.kv); err != nil {
			a.log.Warn("nonce store init failed", zap.Error(err))
		}
	}
	if a.mids != nil {
		go func() {
			if err := a.mids.Run(ctx); err != nil && ctx.Err() == nil {
				a.log.Warn("mid stream stopped", zap.Error(err))
			}
		}()
	}
	a.history.Start(ctx)

	if err := a.prepareSymbols(ctx); err != nil {
		return err
	}
	if err := a.captureInitialCapital(ctx); err != nil {
		a.log.Warn("initial capital capture failed", zap.Error(err))
	}
	if err := a.normalizeStartup(ctx); err != nil {
		return err
	}

	for {
		if ctx.Err() != nil {
			return a.shutdown(ctx.Err())
		}
		doc := a.store.Document()
		var err error
		switch doc.Phase {
		case state.PhaseIdle:
			err = a.analyzeAndOpen(ctx)
			if err == nil && a.store.Document().Phase == state.PhaseIdle {
				// No opportunity this round; pace the next scan.
				err = a.sleep(ctx, a.cfg.Strategy.CheckInterval)
			}
		case state.PhaseHolding:
			err = a.monitor(ctx)
		case state.PhaseWaiting:
			err = a.waitCooldown(ctx)
		case state.PhaseError:
			err = a.recoverStep(ctx)
		case state.PhaseShutdown:
			return nil
		default:
			// ANALYZING/OPENING/CLOSING are transient inside the step
			// functions; seeing one here means a crash interrupted it.
			err = a.enterError(fmt.Errorf("unexpected resting phase %s", doc.Phase))
		}
		if err != nil {
			if ctx.Err() != nil {
				return a.shutdown(ctx.Err())
			}
			return err
		}
	}
}

// prepareSymbols intersects the configured symbols with both venues'
// listings and applies the liquidity floor. Ending up empty is a
// configuration error, not something to retry.
func (a *App) prepareSymbols(ctx context.Context) error {
	infosA, err := a.symbolsWithRetry(ctx, a.venueA)
	if err != nil {
		return fmt.Errorf("%s symbols: %w", a.venueA.Name(), err)
	}
	infosB, err := a.symbolsWithRetry(ctx, a.venueB)
	if err != nil {
		return fmt.Errorf("%s symbols: %w", a.venueB.Name(), err)
	}
	a.infos = map[string]map[string]venue.SymbolInfo{
		a.venueA.Name(): infosA,
		a.venueB.Name(): infosB,
	}
	floor := a.cfg.Strategy.LiquidityFloorUSD.Decimal
	var kept, dropped []string
	for _, symbol := range a.cfg.Strategy.Symbols {
		if _, ok := infosA[symbol]; !ok {
			dropped = append(dropped, symbol)
			continue
		}
		if _, ok := infosB[symbol]; !ok {
			dropped = append(dropped, symbol)
			continue
		}
		if floor.Sign() > 0 {
			var volume decimal.Decimal
			err := exec.Retry(ctx, readAttempts, func() error {
				var err error
				volume, err = a.venueA.DayVolumeUSD(ctx, symbol)
				return err
			})
			if err != nil {
				return fmt.Errorf("volume for %s: %w", symbol, err)
			}
			if volume.LessThan(floor) {
				a.log.Info("symbol below liquidity floor",
					zap.String("symbol", symbol),
					zap.String("volume_usd", volume.String()),
					zap.String("floor_usd", floor.String()))
				dropped = append(dropped, symbol)
				continue
			}
		}
		kept = append(kept, symbol)
	}
	if len(dropped) > 0 {
		sort.Strings(dropped)
		a.log.Warn("symbols excluded", zap.Strings("symbols", dropped))
	}
	if len(kept) == 0 {
		return errors.New("no tradeable symbols: every configured symbol is missing on a venue or below the liquidity floor")
	}
	a.symbols = kept
	a.log.Info("tradeable symbols resolved", zap.Strings("symbols", kept))
	return nil
}

// captureInitialCapital records combined equity once, on the first run ever.
func (a *App) captureInitialCapital(ctx context.Context) error {
	doc := a.store.Document()
	if doc.InitialCapital.Sign() > 0 {
		return nil
	}
	balA, balB, err := a.balances(ctx)
	if err != nil {
		return err
	}
	total := balA.Equity.Add(balB.Equity)
	return a.store.Update(func(doc *state.Document) error {
		if doc.InitialCapital.Sign() > 0 {
			return nil
		}
		doc.InitialCapital = total
		return nil
	})
}

// normalizeStartup maps whatever phase the state file was left in onto a
// phase the loop can run from, then checks the record against what the
// exchanges actually hold. A crash mid-OPENING or mid-CLOSING lands in
// ERROR so reconciliation decides what actually happened.
func (a *App) normalizeStartup(ctx context.Context) error {
	doc := a.store.Document()
	switch doc.Phase {
	case state.PhaseOpening, state.PhaseClosing, state.PhaseAnalyzing:
		a.log.Warn("resuming from interrupted phase", zap.String("phase", string(doc.Phase)))
		if err := a.store.Transition(state.PhaseError); err != nil {
			return err
		}
	case state.PhaseHolding:
		if doc.Position == nil {
			a.log.Warn("holding phase with no position record")
			if err := a.store.Transition(state.PhaseError); err != nil {
				return err
			}
		}
	case state.PhaseShutdown:
		// A clean shutdown resumes as idle or holding depending on the book.
		if doc.Position != nil {
			if err := a.store.Update(func(d *state.Document) error {
				d.Phase = state.PhaseHolding
				return nil
			}); err != nil {
				return err
			}
		} else if err := a.store.Transition(state.PhaseIdle); err != nil {
			return err
		}
	}
	return a.reconcileStartup(ctx)
}

// reconcileStartup scans both venues once before the loop starts trading.
// The state file is not trusted on its own: it may have been lost, or the
// position it records may no longer exist. Any disagreement between the
// record and the book goes through the recovery path.
func (a *App) reconcileStartup(ctx context.Context) error {
	found, err := a.scanPositions(ctx)
	if err != nil {
		a.log.Warn("startup position scan failed", zap.Error(err))
		return a.store.Transition(state.PhaseError)
	}
	outcome := strategy.Reconcile(found, a.cfg.Risk.MaxLegImbalancePct.Decimal)
	doc := a.store.Document()
	switch outcome.Kind {
	case strategy.OutcomeFlat:
		if doc.Position == nil && doc.Phase != state.PhaseError {
			return nil
		}
	case strategy.OutcomeRecovered:
		if doc.Phase == state.PhaseHolding && doc.Position != nil &&
			doc.Position.Symbol == outcome.Symbol {
			return nil
		}
	}
	a.log.Warn("recorded state does not match the exchanges, reconciling",
		zap.String("phase", string(doc.Phase)))
	if doc.Phase != state.PhaseError {
		if err := a.store.Transition(state.PhaseError); err != nil {
			return err
		}
	}
	return a.applyOutcome(ctx, outcome)
}

func (a *App) shutdown(cause error) error {
	if err := a.store.Transition(state.PhaseShutdown); err != nil {
		a.log.Warn("shutdown transition failed", zap.Error(err))
	}
	a.log.Info("shutting down", zap.NamedError("cause", cause))
	if errors.Is(cause, context.Canceled) {
		return nil
	}
	return cause
}

// enterError records the failure and moves to the error phase. The recover
// step takes it from there.
func (a *App) enterError(cause error) error {
	a.log.Error("entering error phase", zap.Error(cause))
	a.alerts.Notify(context.Background(), "⚠️ bot entered error state: %v", cause)
	return a.store.Transition(state.PhaseError)
}

func (a *App) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

func (a *App) waitCooldown(ctx context.Context) error {
	a.log.Info("cooldown before next cycle", zap.Duration("cooldown", a.cfg.Strategy.CycleCooldown))
	if err := a.sleep(ctx, a.cfg.Strategy.CycleCooldown); err != nil {
		return nil
	}
	return a.store.Transition(state.PhaseIdle)
}

func (a *App) symbolsWithRetry(ctx context.Context, v venue.Venue) (map[string]venue.SymbolInfo, error) {
	var infos map[string]venue.SymbolInfo
	err := exec.Retry(ctx, readAttempts, func() error {
		var err error
		infos, err = v.Symbols(ctx)
		return err
	})
	return infos, err
}

func (a *App) balances(ctx context.Context) (venue.Balance, venue.Balance, error) {
	var balA, balB venue.Balance
	err := inParallel(
		func() error {
			return exec.Retry(ctx, readAttempts, func() error {
				var err error
				balA, err = a.venueA.Balance(ctx)
				return err
			})
		},
		func() error {
			return exec.Retry(ctx, readAttempts, func() error {
				var err error
				balB, err = a.venueB.Balance(ctx)
				return err
			})
		},
	)
	return balA, balB, err
}

// inParallel runs both legs concurrently and joins the failures. Used for
// every per-leg venue call so one slow venue never serializes the other.
func inParallel(fnA, fnB func() error) error {
	var wg sync.WaitGroup
	var errA, errB error
	wg.Add(2)
	go func() {
		defer wg.Done()
		errA = fnA()
	}()
	go func() {
		defer wg.Done()
		errB = fnB()
	}()
	wg.Wait()
	return errors.Join(errA, errB)
}
