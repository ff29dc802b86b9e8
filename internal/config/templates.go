package config

import (
	"fmt"
	"os"
	"path/filepath"
)

const configTemplate = `# Alchemiser Hedger Configuration

[sizing]
# Volatility tier boundaries (volatility-index points)
vol_tier_low_max = 17.0
vol_tier_mid_max = 25.0
# Above this level the sizing intensity is dampened (outrights only)
vol_rich_level = 32.0
dampen_fraction = 0.25
# Canonical protection scenario
scenario_move_pct = -20.0
target_payoff_pct = 8.0
min_payoff_pct = 4.0
max_payoff_pct = 12.0
# Minimum acceptable scenario payoff, as pct of NAV
protection_floor_pct = 2.0
# Fallback when the clipped position falls below the floor:
# clip_and_report, switch_template, or skip
fallback_policy = "clip_and_report"
# Default hedge template: TAIL_FIRST (outright put) or SMOOTHING (put spread)
default_template = "TAIL_FIRST"
target_delta = 0.25
target_dte = 90
# Dampened targets used when volatility is rich
wide_delta = 0.15
extended_dte = 150
spread_width_pct = 10.0
contract_multiplier = 100.0
max_contracts = 10000
# Pre-flight gates
min_nav = 25000.0
min_exposure_ratio = 1.2
max_active_hedges = 6

[budget]
# Soft monthly budget rates per volatility tier, pct of NAV
tier_low_monthly_pct = 0.20
tier_mid_monthly_pct = 0.30
tier_high_monthly_pct = 0.40
# Hard caps, pct of NAV
monthly_cap_pct = 0.35
annual_cap_pct = 5.0
rolling_window_months = 12

[liquidity]
min_open_interest = 500
min_volume = 50
max_spread_rel = 0.12
max_spread_abs = 0.50
min_mid_price = 0.20
min_payoff_premium_ratio = 3.0
quote_timeout = "5s"

[roll.tail_first]
min_dte = 30
delta_drift_points = 0.10
extrinsic_decay_frac = 0.35
skew_deviation_stdev = 2.0

[roll.smoothing]
cadence_days = 30
min_value_frac = 0.25
long_drift_points = 0.15
short_drift_points = 0.10
assignment_warn_delta = 0.60
assignment_high_delta = 0.80
assignment_critical_delta = 0.90
critical_gate_count = 2

[unwind]
fill_verify_timeout = "30s"
max_close_retries = 3
retry_backoff = "2s"

[logging]
level = "info"
console = true
file = true
max_size = 100
max_backups = 7
max_age = 30

[metrics]
enabled = false
addr = ":9464"
`

// WriteTemplate writes the template config file into the directory,
// leaving an existing file untouched.
func WriteTemplate(configDir string) error {
	return createTemplateConfig(configDir)
}

func createTemplateConfig(configDir string) error {
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	path := filepath.Join(configDir, "config.toml")
	if _, err := os.Stat(path); err == nil {
		return nil
	}

	if err := os.WriteFile(path, []byte(configTemplate), 0600); err != nil {
		return fmt.Errorf("writing config template: %w", err)
	}

	return nil
}
