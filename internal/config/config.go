package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Log         LoggingConfig     `yaml:"log"`
	Hyperliquid HyperliquidConfig `yaml:"hyperliquid"`
	Pacifica    PacificaConfig    `yaml:"pacifica"`
	State       StateConfig       `yaml:"state"`
	Strategy    StrategyConfig    `yaml:"strategy"`
	Risk        RiskConfig        `yaml:"risk"`
	Recovery    RecoveryConfig    `yaml:"recovery"`
	Telegram    TelegramConfig    `yaml:"telegram"`
	Metrics     MetricsConfig     `yaml:"metrics"`
	Timescale   TimescaleConfig   `yaml:"timescale"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

type HyperliquidConfig struct {
	BaseURL        string        `yaml:"base_url"`
	WSURL          string        `yaml:"ws_url"`
	Timeout        time.Duration `yaml:"timeout"`
	ReconnectDelay time.Duration `yaml:"reconnect_delay"`
}

type PacificaConfig struct {
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`
}

type StateConfig struct {
	FilePath   string `yaml:"file_path"`
	SQLitePath string `yaml:"sqlite_path"`
}

type StrategyConfig struct {
	Symbols              []string      `yaml:"symbols"`
	Leverage             int           `yaml:"leverage"`
	BaseCapitalUSD       Decimal       `yaml:"base_capital_usd"`
	HoldDuration         time.Duration `yaml:"hold_duration"`
	CheckInterval        time.Duration `yaml:"check_interval"`
	CycleCooldown        time.Duration `yaml:"cycle_cooldown"`
	MinNetAPR            Decimal       `yaml:"min_net_apr_threshold"`
	FundingPeriodsPerDay int           `yaml:"funding_periods_per_day"`
	LiquidityFloorUSD    Decimal       `yaml:"liquidity_floor_usd"`
	MinNotionalUSD       Decimal       `yaml:"min_notional_usd"`
	MinAvailableUSD      Decimal       `yaml:"min_available_usd"`

	// Field names accepted from older deployments, mapped in applyLegacy.
	LegacySymbols        []string `yaml:"symbols_to_monitor"`
	LegacyBaseCapital    *Decimal `yaml:"notional_per_position"`
	LegacyBaseAllocation *Decimal `yaml:"base_capital_allocation"`
	LegacyHoldHours      *float64 `yaml:"hold_duration_hours"`
	LegacyCooldownMins   *float64 `yaml:"wait_between_cycles_minutes"`
	LegacyCheckSeconds   *int     `yaml:"check_interval_seconds"`
}

type RiskConfig struct {
	MaxLegImbalancePct Decimal `yaml:"max_leg_imbalance_pct"`
}

type RecoveryConfig struct {
	RetryInterval   time.Duration `yaml:"retry_interval"`
	CloseOrphanLegs *bool         `yaml:"close_orphan_legs"`
}

type TelegramConfig struct {
	Enabled bool   `yaml:"enabled"`
	Token   string `yaml:"token"`
	ChatID  string `yaml:"chat_id"`
}

type MetricsConfig struct {
	ListenAddr string `yaml:"listen_addr"`
}

type TimescaleConfig struct {
	Enabled         bool          `yaml:"enabled"`
	DSN             string        `yaml:"dsn"`
	Schema          string        `yaml:"schema"`
	QueueSize       int           `yaml:"queue_size"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	applyLegacy(&cfg)
	applyDefaults(&cfg)
	return &cfg, validate(&cfg)
}

// applyLegacy maps old field names onto current ones. Current names win when
// both are present.
func applyLegacy(cfg *Config) {
	s := &cfg.Strategy
	if len(s.Symbols) == 0 && len(s.LegacySymbols) > 0 {
		s.Symbols = s.LegacySymbols
	}
	if s.BaseCapitalUSD.IsZero() {
		if s.LegacyBaseAllocation != nil {
			s.BaseCapitalUSD = *s.LegacyBaseAllocation
		} else if s.LegacyBaseCapital != nil {
			s.BaseCapitalUSD = *s.LegacyBaseCapital
		}
	}
	if s.HoldDuration == 0 && s.LegacyHoldHours != nil {
		s.HoldDuration = time.Duration(*s.LegacyHoldHours * float64(time.Hour))
	}
	if s.CycleCooldown == 0 && s.LegacyCooldownMins != nil {
		s.CycleCooldown = time.Duration(*s.LegacyCooldownMins * float64(time.Minute))
	}
	if s.CheckInterval == 0 && s.LegacyCheckSeconds != nil {
		s.CheckInterval = time.Duration(*s.LegacyCheckSeconds) * time.Second
	}
	s.LegacySymbols = nil
	s.LegacyBaseCapital = nil
	s.LegacyBaseAllocation = nil
	s.LegacyHoldHours = nil
	s.LegacyCooldownMins = nil
	s.LegacyCheckSeconds = nil
}

func applyDefaults(cfg *Config) {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Hyperliquid.BaseURL == "" {
		cfg.Hyperliquid.BaseURL = "https://api.hyperliquid.xyz"
	}
	if cfg.Hyperliquid.WSURL == "" {
		cfg.Hyperliquid.WSURL = "wss://api.hyperliquid.xyz/ws"
	}
	if cfg.Hyperliquid.Timeout == 0 {
		cfg.Hyperliquid.Timeout = 10 * time.Second
	}
	if cfg.Hyperliquid.ReconnectDelay == 0 {
		cfg.Hyperliquid.ReconnectDelay = 3 * time.Second
	}
	if cfg.Pacifica.BaseURL == "" {
		cfg.Pacifica.BaseURL = "https://api.pacifica.fi/api/v1"
	}
	if cfg.Pacifica.Timeout == 0 {
		cfg.Pacifica.Timeout = 10 * time.Second
	}
	if cfg.State.FilePath == "" {
		cfg.State.FilePath = "data/bot_state.json"
	}
	if cfg.State.SQLitePath == "" {
		cfg.State.SQLitePath = "data/hp-hedge-bot.db"
	}
	s := &cfg.Strategy
	if len(s.Symbols) == 0 {
		s.Symbols = []string{"BTC", "ETH", "SOL"}
	}
	if s.Leverage == 0 {
		s.Leverage = 3
	}
	if s.BaseCapitalUSD.IsZero() {
		s.BaseCapitalUSD = NewDecimal(decimal.NewFromInt(100))
	}
	if s.HoldDuration == 0 {
		s.HoldDuration = 8 * time.Hour
	}
	if s.CheckInterval == 0 {
		s.CheckInterval = 60 * time.Second
	}
	if s.CycleCooldown == 0 {
		s.CycleCooldown = 5 * time.Minute
	}
	if s.MinNetAPR.IsZero() {
		s.MinNetAPR = NewDecimal(decimal.NewFromInt(5))
	}
	if s.FundingPeriodsPerDay == 0 {
		s.FundingPeriodsPerDay = 24
	}
	if s.MinNotionalUSD.IsZero() {
		s.MinNotionalUSD = NewDecimal(decimal.NewFromInt(10))
	}
	if s.MinAvailableUSD.IsZero() {
		s.MinAvailableUSD = NewDecimal(decimal.NewFromInt(20))
	}
	if cfg.Risk.MaxLegImbalancePct.IsZero() {
		cfg.Risk.MaxLegImbalancePct = NewDecimal(decimal.NewFromInt(5))
	}
	if cfg.Recovery.RetryInterval == 0 {
		cfg.Recovery.RetryInterval = 5 * time.Minute
	}
	if cfg.Recovery.CloseOrphanLegs == nil {
		enabled := true
		cfg.Recovery.CloseOrphanLegs = &enabled
	}
	if cfg.Timescale.Schema == "" {
		cfg.Timescale.Schema = "public"
	}
}

func validate(cfg *Config) error {
	s := &cfg.Strategy
	if len(s.Symbols) == 0 {
		return errors.New("strategy.symbols is required")
	}
	for _, sym := range s.Symbols {
		if strings.TrimSpace(sym) == "" {
			return errors.New("strategy.symbols contains an empty symbol")
		}
	}
	if s.Leverage < 1 {
		return fmt.Errorf("strategy.leverage must be >= 1, got %d", s.Leverage)
	}
	if s.BaseCapitalUSD.Sign() <= 0 {
		return errors.New("strategy.base_capital_usd must be > 0")
	}
	if s.MinNetAPR.Sign() < 0 {
		return errors.New("strategy.min_net_apr_threshold must be >= 0")
	}
	if s.LiquidityFloorUSD.Sign() < 0 {
		return errors.New("strategy.liquidity_floor_usd must be >= 0")
	}
	if cfg.Risk.MaxLegImbalancePct.Sign() <= 0 {
		return errors.New("risk.max_leg_imbalance_pct must be > 0")
	}
	return nil
}
