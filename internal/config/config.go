// Package config provides configuration management for the hedge engine.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/spf13/viper"
)

// Config holds all engine configuration. Loaded once per process and
// treated as read-only per evaluation cycle.
type Config struct {
	Sizing    SizingConfig    `mapstructure:"sizing"`
	Budget    BudgetConfig    `mapstructure:"budget"`
	Liquidity LiquidityConfig `mapstructure:"liquidity"`
	Roll      RollConfig      `mapstructure:"roll"`
	Unwind    UnwindConfig    `mapstructure:"unwind"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Database  DatabaseConfig  `mapstructure:"database"`
}

// SizingConfig holds hedge sizing parameters.
type SizingConfig struct {
	// Volatility tier boundaries (volatility-index points).
	VolTierLowMax  float64 `mapstructure:"vol_tier_low_max"`
	VolTierMidMax  float64 `mapstructure:"vol_tier_mid_max"`
	VolRichLevel   float64 `mapstructure:"vol_rich_level"`
	DampenFraction float64 `mapstructure:"dampen_fraction"`

	// Canonical scenario and payoff band per evaluation.
	ScenarioMovePct  float64 `mapstructure:"scenario_move_pct"`
	TargetPayoffPct  float64 `mapstructure:"target_payoff_pct"`
	MinPayoffPct     float64 `mapstructure:"min_payoff_pct"`
	MaxPayoffPct     float64 `mapstructure:"max_payoff_pct"`
	ProtectionFloor  float64 `mapstructure:"protection_floor_pct"`
	FallbackPolicy   string  `mapstructure:"fallback_policy"` // clip_and_report, switch_template, skip
	DefaultTemplate  string  `mapstructure:"default_template"`
	TargetDelta      float64 `mapstructure:"target_delta"`
	TargetDTE        int     `mapstructure:"target_dte"`
	WideDelta        float64 `mapstructure:"wide_delta"`
	ExtendedDTE      int     `mapstructure:"extended_dte"`
	SpreadWidthPct   float64 `mapstructure:"spread_width_pct"`
	ContractMult     float64 `mapstructure:"contract_multiplier"`
	MaxContracts     int     `mapstructure:"max_contracts"`
	MinNAV           float64 `mapstructure:"min_nav"`
	MinExposureRatio float64 `mapstructure:"min_exposure_ratio"`
	MaxActiveHedges  int     `mapstructure:"max_active_hedges"`
}

// BudgetConfig holds premium budget parameters.
type BudgetConfig struct {
	// Soft monthly budget rate per volatility tier, as pct of NAV.
	TierLowMonthlyPct  float64 `mapstructure:"tier_low_monthly_pct"`
	TierMidMonthlyPct  float64 `mapstructure:"tier_mid_monthly_pct"`
	TierHighMonthlyPct float64 `mapstructure:"tier_high_monthly_pct"`

	// Hard caps, as pct of NAV. The monthly cap always overrides the
	// soft tier rate; the annual cap is enforced over the rolling
	// window.
	MonthlyCapPct float64 `mapstructure:"monthly_cap_pct"`
	AnnualCapPct  float64 `mapstructure:"annual_cap_pct"`

	// RollingWindowMonths is the trailing window over which premium
	// spend counts against the annual cap.
	RollingWindowMonths int `mapstructure:"rolling_window_months"`
}

// LiquidityConfig holds contract liquidity filter thresholds.
type LiquidityConfig struct {
	MinOpenInterest int64   `mapstructure:"min_open_interest"`
	MinVolume       int64   `mapstructure:"min_volume"`
	MaxSpreadRel    float64 `mapstructure:"max_spread_rel"`
	MaxSpreadAbs    float64 `mapstructure:"max_spread_abs"`
	MinMidPrice     float64 `mapstructure:"min_mid_price"`
	// PayoffpremiumRatio: preferred minimum scenario payoff as a
	// multiple of premium.
	MinPayoffPremiumRatio float64 `mapstructure:"min_payoff_premium_ratio"`
	QuoteTimeout          string  `mapstructure:"quote_timeout"`
}

// RollConfig holds per-template roll trigger thresholds.
type RollConfig struct {
	TailFirst TailFirstRollConfig `mapstructure:"tail_first"`
	Smoothing SmoothingRollConfig `mapstructure:"smoothing"`
}

// TailFirstRollConfig holds roll thresholds for outright put hedges.
type TailFirstRollConfig struct {
	MinDTE             int     `mapstructure:"min_dte"`
	DeltaDriftPoints   float64 `mapstructure:"delta_drift_points"`
	ExtrinsicDecayFrac float64 `mapstructure:"extrinsic_decay_frac"`
	SkewDeviationStdev float64 `mapstructure:"skew_deviation_stdev"`
}

// SmoothingRollConfig holds roll thresholds for put-spread hedges.
type SmoothingRollConfig struct {
	CadenceDays        int     `mapstructure:"cadence_days"`
	MinValueFrac       float64 `mapstructure:"min_value_frac"`
	LongDriftPoints    float64 `mapstructure:"long_drift_points"`
	ShortDriftPoints   float64 `mapstructure:"short_drift_points"`
	AssignmentWarn     float64 `mapstructure:"assignment_warn_delta"`
	AssignmentHigh     float64 `mapstructure:"assignment_high_delta"`
	AssignmentCritical float64 `mapstructure:"assignment_critical_delta"`
	CriticalGateCount  int     `mapstructure:"critical_gate_count"`
}

// UnwindConfig holds emergency unwind parameters.
type UnwindConfig struct {
	FillVerifyTimeout string `mapstructure:"fill_verify_timeout"`
	MaxCloseRetries   int    `mapstructure:"max_close_retries"`
	RetryBackoff      string `mapstructure:"retry_backoff"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Console    bool   `mapstructure:"console"`
	File       bool   `mapstructure:"file"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
}

// MetricsConfig holds metrics exposure configuration.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

// DatabaseConfig holds database configuration.
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// DefaultConfigDir returns the default configuration directory.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".config/alchemiser-hedger"
	}
	return filepath.Join(home, ".config", "alchemiser-hedger")
}

// Load loads configuration from the specified directory.
// If configDir is empty, uses the default config directory.
func Load(configDir string) (*Config, error) {
	if configDir == "" {
		configDir = DefaultConfigDir()
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("toml")
	v.AddConfigPath(configDir)
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("loading config.toml: %w", err)
		}
		if err := createTemplateConfig(configDir); err != nil {
			return nil, fmt.Errorf("creating config template: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	// Sizing
	v.SetDefault("sizing.vol_tier_low_max", 17.0)
	v.SetDefault("sizing.vol_tier_mid_max", 25.0)
	v.SetDefault("sizing.vol_rich_level", 32.0)
	v.SetDefault("sizing.dampen_fraction", 0.25)
	v.SetDefault("sizing.scenario_move_pct", -20.0)
	v.SetDefault("sizing.target_payoff_pct", 8.0)
	v.SetDefault("sizing.min_payoff_pct", 4.0)
	v.SetDefault("sizing.max_payoff_pct", 12.0)
	v.SetDefault("sizing.protection_floor_pct", 2.0)
	v.SetDefault("sizing.fallback_policy", "clip_and_report")
	v.SetDefault("sizing.default_template", "TAIL_FIRST")
	v.SetDefault("sizing.target_delta", 0.25)
	v.SetDefault("sizing.target_dte", 90)
	v.SetDefault("sizing.wide_delta", 0.15)
	v.SetDefault("sizing.extended_dte", 150)
	v.SetDefault("sizing.spread_width_pct", 10.0)
	v.SetDefault("sizing.contract_multiplier", 100.0)
	v.SetDefault("sizing.max_contracts", 10000)
	v.SetDefault("sizing.min_nav", 25000.0)
	v.SetDefault("sizing.min_exposure_ratio", 1.2)
	v.SetDefault("sizing.max_active_hedges", 6)

	// Budget
	v.SetDefault("budget.tier_low_monthly_pct", 0.20)
	v.SetDefault("budget.tier_mid_monthly_pct", 0.30)
	v.SetDefault("budget.tier_high_monthly_pct", 0.40)
	v.SetDefault("budget.monthly_cap_pct", 0.35)
	v.SetDefault("budget.annual_cap_pct", 5.0)
	v.SetDefault("budget.rolling_window_months", 12)

	// Liquidity
	v.SetDefault("liquidity.min_open_interest", 500)
	v.SetDefault("liquidity.min_volume", 50)
	v.SetDefault("liquidity.max_spread_rel", 0.12)
	v.SetDefault("liquidity.max_spread_abs", 0.50)
	v.SetDefault("liquidity.min_mid_price", 0.20)
	v.SetDefault("liquidity.min_payoff_premium_ratio", 3.0)
	v.SetDefault("liquidity.quote_timeout", "5s")

	// Roll
	v.SetDefault("roll.tail_first.min_dte", 30)
	v.SetDefault("roll.tail_first.delta_drift_points", 0.10)
	v.SetDefault("roll.tail_first.extrinsic_decay_frac", 0.35)
	v.SetDefault("roll.tail_first.skew_deviation_stdev", 2.0)
	v.SetDefault("roll.smoothing.cadence_days", 30)
	v.SetDefault("roll.smoothing.min_value_frac", 0.25)
	v.SetDefault("roll.smoothing.long_drift_points", 0.15)
	v.SetDefault("roll.smoothing.short_drift_points", 0.10)
	v.SetDefault("roll.smoothing.assignment_warn_delta", 0.60)
	v.SetDefault("roll.smoothing.assignment_high_delta", 0.80)
	v.SetDefault("roll.smoothing.assignment_critical_delta", 0.90)
	v.SetDefault("roll.smoothing.critical_gate_count", 2)

	// Unwind
	v.SetDefault("unwind.fill_verify_timeout", "30s")
	v.SetDefault("unwind.max_close_retries", 3)
	v.SetDefault("unwind.retry_backoff", "2s")

	// Logging
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.console", true)
	v.SetDefault("logging.file", true)
	v.SetDefault("logging.max_size", 100)
	v.SetDefault("logging.max_backups", 7)
	v.SetDefault("logging.max_age", 30)

	// Metrics
	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.addr", ":9464")

	// Database
	v.SetDefault("database.path", filepath.Join(DefaultConfigDir(), "hedger.db"))
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("HEDGER_DB_PATH"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("HEDGER_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("HEDGER_METRICS_ADDR"); v != "" {
		cfg.Metrics.Addr = v
		cfg.Metrics.Enabled = true
	}
	if v := os.Getenv("HEDGER_FALLBACK_POLICY"); v != "" {
		cfg.Sizing.FallbackPolicy = v
	}
	if v := os.Getenv("HEDGER_ANNUAL_CAP_PCT"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Budget.AnnualCapPct = f
		}
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	switch c.Sizing.FallbackPolicy {
	case "clip_and_report", "switch_template", "skip":
	default:
		return fmt.Errorf("invalid fallback_policy: %s (must be 'clip_and_report', 'switch_template' or 'skip')", c.Sizing.FallbackPolicy)
	}

	if c.Sizing.DefaultTemplate != "TAIL_FIRST" && c.Sizing.DefaultTemplate != "SMOOTHING" {
		return fmt.Errorf("invalid default_template: %s", c.Sizing.DefaultTemplate)
	}
	if c.Sizing.TargetDelta <= 0 || c.Sizing.TargetDelta >= 1 {
		return fmt.Errorf("target_delta must be in (0, 1)")
	}
	if c.Sizing.ScenarioMovePct >= 0 {
		return fmt.Errorf("scenario_move_pct must be negative")
	}
	if c.Sizing.TargetPayoffPct <= 0 {
		return fmt.Errorf("target_payoff_pct must be positive")
	}
	if c.Sizing.ContractMult <= 0 {
		return fmt.Errorf("contract_multiplier must be positive")
	}

	if c.Budget.MonthlyCapPct <= 0 || c.Budget.MonthlyCapPct > 100 {
		return fmt.Errorf("monthly_cap_pct must be in (0, 100]")
	}
	if c.Budget.AnnualCapPct <= 0 || c.Budget.AnnualCapPct > 100 {
		return fmt.Errorf("annual_cap_pct must be in (0, 100]")
	}
	if c.Budget.RollingWindowMonths <= 0 {
		return fmt.Errorf("rolling_window_months must be positive")
	}

	if c.Roll.Smoothing.AssignmentWarn >= c.Roll.Smoothing.AssignmentHigh ||
		c.Roll.Smoothing.AssignmentHigh >= c.Roll.Smoothing.AssignmentCritical {
		return fmt.Errorf("assignment delta bands must be strictly increasing")
	}

	if c.Sizing.VolTierLowMax >= c.Sizing.VolTierMidMax {
		return fmt.Errorf("vol_tier_low_max must be below vol_tier_mid_max")
	}

	return nil
}
