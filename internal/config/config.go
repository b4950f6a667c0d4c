// Package config handles configuration management with validation
package config

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete configuration structure
type Config struct {
	App          AppConfig              `yaml:"app"`
	Venues       map[string]VenueConfig `yaml:"venues"`
	Spread       SpreadConfig           `yaml:"spread"`
	Cross        CrossConfig            `yaml:"cross"`
	Funding      FundingConfig          `yaml:"funding"`
	Rebalance    RebalanceConfig        `yaml:"rebalance"`
	Risk         RiskConfig             `yaml:"risk"`
	Tuner        TunerConfig            `yaml:"tuner"`
	Predictor    PredictorConfig        `yaml:"predictor"`
	Filter       FilterConfig           `yaml:"filter"`
	Orchestrator OrchestratorConfig     `yaml:"orchestrator"`
	System       SystemConfig           `yaml:"system"`
	Telemetry    TelemetryConfig        `yaml:"telemetry"`
	Alert        AlertConfig            `yaml:"alert"`
	Storage      StorageConfig          `yaml:"storage"`
}

// AppConfig contains application-level settings
type AppConfig struct {
	Name   string `yaml:"name"`
	DryRun bool   `yaml:"dry_run"` // orders are acknowledged as fully filled without reaching the venue
}

// VenueConfig describes one venue connection. The map key is the venue name
// used everywhere else (e.g. "upbit", "binance_futures").
type VenueConfig struct {
	Kind       string        `yaml:"kind"`   // binance, bybit, okx, upbit, bithumb, mock
	Market     string        `yaml:"market"` // spot or futures
	APIKey     Secret        `yaml:"api_key"`
	SecretKey  Secret        `yaml:"secret_key"`
	Passphrase Secret        `yaml:"passphrase"`
	BaseURL    string        `yaml:"base_url"`
	FeeRate    float64       `yaml:"fee_rate"`   // taker fee as a fraction
	Timeout    time.Duration `yaml:"timeout"`    // per call
	RateLimit  float64       `yaml:"rate_limit"` // requests per second, 0 = unlimited
}

// IsFutures reports whether the venue trades perpetual futures
func (v VenueConfig) IsFutures() bool {
	return strings.EqualFold(v.Market, "futures")
}

// FXConfig selects the KRW/USDT conversion quote
type FXConfig struct {
	Venue    string  `yaml:"venue"`
	Symbol   string  `yaml:"symbol"`
	Side     string  `yaml:"side"` // bid, ask or mid
	Fallback float64 `yaml:"fallback"`
}

// SpreadConfig configures the reference-vs-KRW layer
type SpreadConfig struct {
	Enabled         bool     `yaml:"enabled"`
	ReferenceVenue  string   `yaml:"reference_venue"`
	ReferenceSymbol string   `yaml:"reference_symbol"`
	Venues          []string `yaml:"venues"`
	Symbol          string   `yaml:"symbol"`
	Depth           int      `yaml:"depth"`
	FX              FXConfig `yaml:"fx"`
}

// CrossConfig configures the KRW-vs-KRW layer
type CrossConfig struct {
	Enabled bool     `yaml:"enabled"`
	Venues  []string `yaml:"venues"`
	Symbol  string   `yaml:"symbol"`
	Depth   int      `yaml:"depth"`
}

// FundingConfig configures the funding hedge. Rates are fractions per interval.
type FundingConfig struct {
	Enabled        bool          `yaml:"enabled"`
	Venues         []string      `yaml:"venues"`
	Symbol         string        `yaml:"symbol"`
	OpenThreshold  float64       `yaml:"open_threshold"`
	CloseThreshold float64       `yaml:"close_threshold"`
	Ratio          float64       `yaml:"ratio"`
	MinNotionalUSD float64       `yaml:"min_notional_usd"`
	TargetPayments int           `yaml:"target_payments"`
	IntervalHours  float64       `yaml:"interval_hours"`
	StaleAfter     time.Duration `yaml:"stale_after"`
}

// HoldDuration is target_payments x interval_hours
func (f FundingConfig) HoldDuration() time.Duration {
	return time.Duration(float64(f.TargetPayments) * f.IntervalHours * float64(time.Hour))
}

// RebalanceConfig configures drift correction
type RebalanceConfig struct {
	Enabled        bool               `yaml:"enabled"`
	Schedule       string             `yaml:"schedule"` // cron expression or @every
	Venues         []string           `yaml:"venues"`
	Targets        map[string]float64 `yaml:"targets"` // asset -> share of venue value
	Band           float64            `yaml:"band"`
	Fraction       float64            `yaml:"fraction"`
	MinNotionalKRW float64            `yaml:"min_notional_krw"`
}

// RiskConfig contains loss limits and breaker settings
type RiskConfig struct {
	DailyLossRatio      float64            `yaml:"daily_loss_ratio"`
	LayerDrawdownKRW    float64            `yaml:"layer_drawdown_krw"`
	LayerDrawdownByName map[string]float64 `yaml:"layer_drawdown_overrides"`
	BreakerThreshold    int                `yaml:"breaker_threshold"`
	BreakerCooldown     time.Duration      `yaml:"breaker_cooldown"`
	WeekStart           string             `yaml:"week_start"` // YYYY-MM-DD, empty = first run
}

// LayerDrawdown returns the drawdown limit for a layer
func (r RiskConfig) LayerDrawdown(layer string) float64 {
	if v, ok := r.LayerDrawdownByName[layer]; ok {
		return v
	}
	return r.LayerDrawdownKRW
}

// TunerConfig bounds the adaptive threshold and ratio. Thresholds are percent.
type TunerConfig struct {
	MinThreshold         float64 `yaml:"min_threshold"`
	MaxThreshold         float64 `yaml:"max_threshold"`
	ThresholdFloor       float64 `yaml:"threshold_floor"`
	ThresholdCeiling     float64 `yaml:"threshold_ceiling"`
	ScoreDiscount        float64 `yaml:"score_discount"`
	BaseRatio            float64 `yaml:"base_ratio"`
	VolPenalty           float64 `yaml:"vol_penalty"`
	ScoreBoost           float64 `yaml:"score_boost"`
	MinRatio             float64 `yaml:"min_ratio"`
	MaxRatio             float64 `yaml:"max_ratio"`
	HourlyTradeCap       int     `yaml:"hourly_trade_cap"`
	CongestionHighBump   float64 `yaml:"congestion_high_bump"`
	CongestionMidBump    float64 `yaml:"congestion_mid_bump"`
	CongestionHighFactor float64 `yaml:"congestion_high_factor"`
	CongestionMidFactor  float64 `yaml:"congestion_mid_factor"`
}

// PredictorConfig weights the opportunity score
type PredictorConfig struct {
	HistorySize      int     `yaml:"history_size"`
	MomentumWeight   float64 `yaml:"momentum_weight"`
	VolatilityWeight float64 `yaml:"volatility_weight"`
	ImbalanceWeight  float64 `yaml:"imbalance_weight"`
	MomentumScale    float64 `yaml:"momentum_scale"` // percent move that saturates momentum
	ImbalanceLevels  int     `yaml:"imbalance_levels"`
	VolatilityBorder float64 `yaml:"volatility_border"` // percent
}

// FilterConfig configures the rolling z-score gate
type FilterConfig struct {
	Enabled    bool    `yaml:"enabled"`
	Window     int     `yaml:"window"`
	Threshold  float64 `yaml:"threshold"`
	MinSamples int     `yaml:"min_samples"`
}

// TierConfig maps an edge bracket to a size multiplier
type TierConfig struct {
	Name       string  `yaml:"name"`
	MinEdgePct float64 `yaml:"min_edge_pct"`
	Multiplier float64 `yaml:"multiplier"`
}

// OrchestratorConfig contains sizing and pacing settings
type OrchestratorConfig struct {
	Tiers          []TierConfig  `yaml:"tiers"`
	MinNotionalKRW float64       `yaml:"min_notional_krw"`
	MaxNotionalKRW float64       `yaml:"max_notional_krw"`
	MinAmount      float64       `yaml:"min_amount"`
	AmountDecimals int           `yaml:"amount_decimals"`
	Cooldown       time.Duration `yaml:"cooldown"`
	UnhedgedPolicy string        `yaml:"unhedged_policy"` // unwind, halt, accept
}

// SystemConfig contains loop and logging settings
type SystemConfig struct {
	LogLevel      string        `yaml:"log_level"`
	LogFormat     string        `yaml:"log_format"`
	TickInterval  time.Duration `yaml:"tick_interval"`
	ErrorBackoff  time.Duration `yaml:"error_backoff"`
	SnapshotPool  int           `yaml:"snapshot_pool"`
	ShutdownGrace time.Duration `yaml:"shutdown_grace"`
}

// TelemetryConfig contains telemetry settings
type TelemetryConfig struct {
	MetricsPort   int  `yaml:"metrics_port"`
	EnableMetrics bool `yaml:"enable_metrics"`
	StdoutTrace   bool `yaml:"stdout_trace"`
	StdoutLogs    bool `yaml:"stdout_logs"`
}

// AlertConfig configures notification channels
type AlertConfig struct {
	TelegramToken  Secret        `yaml:"telegram_token"`
	TelegramChatID string        `yaml:"telegram_chat_id"`
	SlackWebhook   Secret        `yaml:"slack_webhook"`
	Timeout        time.Duration `yaml:"timeout"`
}

// StorageConfig selects persistence backends
type StorageConfig struct {
	SQLitePath string `yaml:"sqlite_path"` // empty = in-memory
	JournalDir string `yaml:"journal_dir"` // empty = in-memory
}

// ValidationError represents a configuration validation error
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s' (value: %v): %s", e.Field, e.Value, e.Message)
}

var (
	validKinds    = []string{"binance", "bybit", "okx", "upbit", "bithumb", "mock"}
	validPolicies = []string{"unwind", "halt", "accept"}
	validLevels   = []string{"DEBUG", "INFO", "WARN", "ERROR", "FATAL"}
)

// LoadConfig loads configuration from a YAML file with environment variable
// expansion. Omitted fields keep the values of Defaults().
func LoadConfig(filename string) (*Config, error) {
	return LoadConfigWith(filename)
}

// LoadConfigWith is LoadConfig with overrides applied after parsing and
// before validation, e.g. command line flags
func LoadConfigWith(filename string, overrides ...func(*Config)) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	expandedData := expandEnvVars(string(data))

	config := Defaults()
	if err := yaml.Unmarshal([]byte(expandedData), config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	for _, override := range overrides {
		override(config)
	}
	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// defaultTargets is applied after parsing; yaml.v3 merges into non-nil maps
var defaultTargets = map[string]float64{"BTC": 0.5, "KRW": 0.5}

func (c *Config) applyDefaults() {
	if len(c.Rebalance.Targets) == 0 {
		c.Rebalance.Targets = make(map[string]float64, len(defaultTargets))
		for k, v := range defaultTargets {
			c.Rebalance.Targets[k] = v
		}
	}
	for name, v := range c.Venues {
		if v.Kind == "" {
			v.Kind = strings.SplitN(name, "_", 2)[0]
		}
		if v.Market == "" {
			v.Market = "spot"
		}
		if v.Timeout <= 0 {
			v.Timeout = 10 * time.Second
		}
		c.Venues[name] = v
	}
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	var errors []string

	validators := []func() []error{
		c.validateVenues,
		c.validateSpread,
		c.validateCross,
		c.validateFunding,
		c.validateRebalance,
		c.validateRisk,
		c.validateTuner,
		c.validateFilter,
		c.validateOrchestrator,
		c.validateSystem,
	}
	for _, validate := range validators {
		for _, err := range validate() {
			errors = append(errors, err.Error())
		}
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n%s", strings.Join(errors, "\n"))
	}

	return nil
}

func (c *Config) validateVenues() []error {
	if len(c.Venues) == 0 {
		return []error{ValidationError{Field: "venues", Message: "at least one venue must be configured"}}
	}

	var errs []error
	for _, name := range c.VenueNames() {
		v := c.Venues[name]
		field := "venues." + name
		if !contains(validKinds, v.Kind) {
			errs = append(errs, ValidationError{Field: field + ".kind", Value: v.Kind,
				Message: fmt.Sprintf("must be one of: %s", strings.Join(validKinds, ", "))})
		}
		if v.Market != "" && v.Market != "spot" && v.Market != "futures" {
			errs = append(errs, ValidationError{Field: field + ".market", Value: v.Market, Message: "must be spot or futures"})
		}
		if v.FeeRate < 0 || v.FeeRate >= 1 {
			errs = append(errs, ValidationError{Field: field + ".fee_rate", Value: v.FeeRate, Message: "must be in [0, 1)"})
		}
		if v.Kind != "mock" && !c.App.DryRun {
			if v.APIKey == "" {
				errs = append(errs, ValidationError{Field: field + ".api_key", Message: "API key is required"})
			}
			if v.SecretKey == "" {
				errs = append(errs, ValidationError{Field: field + ".secret_key", Message: "secret key is required"})
			}
		}
		if v.Kind == "okx" && v.Passphrase == "" && !c.App.DryRun {
			errs = append(errs, ValidationError{Field: field + ".passphrase", Message: "passphrase is required for okx"})
		}
	}
	return errs
}

func (c *Config) requireVenues(field string, names []string, min int) []error {
	var errs []error
	if len(names) < min {
		errs = append(errs, ValidationError{Field: field, Value: len(names), Message: fmt.Sprintf("at least %d venues required", min)})
	}
	for _, n := range names {
		if _, ok := c.Venues[n]; !ok {
			errs = append(errs, ValidationError{Field: field, Value: n, Message: "venue not found in venues section"})
		}
	}
	return errs
}

func (c *Config) validateSpread() []error {
	if !c.Spread.Enabled {
		return nil
	}
	errs := c.requireVenues("spread.venues", c.Spread.Venues, 1)
	errs = append(errs, c.requireVenues("spread.reference_venue", []string{c.Spread.ReferenceVenue}, 1)...)
	if c.Spread.FX.Fallback <= 0 {
		errs = append(errs, ValidationError{Field: "spread.fx.fallback", Value: c.Spread.FX.Fallback, Message: "fallback FX rate must be positive"})
	}
	if c.Spread.Depth <= 0 {
		errs = append(errs, ValidationError{Field: "spread.depth", Value: c.Spread.Depth, Message: "must be positive"})
	}
	return errs
}

func (c *Config) validateCross() []error {
	if !c.Cross.Enabled {
		return nil
	}
	return c.requireVenues("cross.venues", c.Cross.Venues, 2)
}

func (c *Config) validateFunding() []error {
	f := c.Funding
	if !f.Enabled {
		return nil
	}
	errs := c.requireVenues("funding.venues", f.Venues, 2)
	for _, n := range f.Venues {
		if v, ok := c.Venues[n]; ok && !v.IsFutures() && v.Kind != "mock" {
			errs = append(errs, ValidationError{Field: "funding.venues", Value: n, Message: "funding venues must be futures markets"})
		}
	}
	if f.CloseThreshold >= f.OpenThreshold {
		errs = append(errs, ValidationError{Field: "funding.close_threshold", Value: f.CloseThreshold, Message: "must be below open_threshold"})
	}
	if f.Ratio <= 0 || f.Ratio > 1 {
		errs = append(errs, ValidationError{Field: "funding.ratio", Value: f.Ratio, Message: "must be in (0, 1]"})
	}
	if f.TargetPayments <= 0 || f.IntervalHours <= 0 {
		errs = append(errs, ValidationError{Field: "funding.target_payments", Value: f.TargetPayments, Message: "target_payments and interval_hours must be positive"})
	}
	return errs
}

func (c *Config) validateRebalance() []error {
	r := c.Rebalance
	if !r.Enabled {
		return nil
	}
	errs := c.requireVenues("rebalance.venues", r.Venues, 1)
	if r.Schedule == "" {
		errs = append(errs, ValidationError{Field: "rebalance.schedule", Message: "schedule is required"})
	}
	total := 0.0
	for _, share := range r.Targets {
		total += share
	}
	if len(r.Targets) < 2 || total < 0.999 || total > 1.001 {
		errs = append(errs, ValidationError{Field: "rebalance.targets", Value: total, Message: "need at least two assets whose shares sum to 1"})
	}
	if r.Fraction <= 0 || r.Fraction >= 1 {
		errs = append(errs, ValidationError{Field: "rebalance.fraction", Value: r.Fraction, Message: "must be in (0, 1)"})
	}
	if r.Band <= 0 {
		errs = append(errs, ValidationError{Field: "rebalance.band", Value: r.Band, Message: "must be positive"})
	}
	return errs
}

func (c *Config) validateRisk() []error {
	var errs []error
	if c.Risk.DailyLossRatio <= 0 || c.Risk.DailyLossRatio >= 1 {
		errs = append(errs, ValidationError{Field: "risk.daily_loss_ratio", Value: c.Risk.DailyLossRatio, Message: "must be in (0, 1)"})
	}
	if c.Risk.LayerDrawdownKRW <= 0 {
		errs = append(errs, ValidationError{Field: "risk.layer_drawdown_krw", Value: c.Risk.LayerDrawdownKRW, Message: "must be positive"})
	}
	if c.Risk.BreakerThreshold <= 0 {
		errs = append(errs, ValidationError{Field: "risk.breaker_threshold", Value: c.Risk.BreakerThreshold, Message: "must be positive"})
	}
	if c.Risk.BreakerCooldown <= 0 {
		errs = append(errs, ValidationError{Field: "risk.breaker_cooldown", Value: c.Risk.BreakerCooldown, Message: "must be positive"})
	}
	if c.Risk.WeekStart != "" {
		if _, err := time.Parse("2006-01-02", c.Risk.WeekStart); err != nil {
			errs = append(errs, ValidationError{Field: "risk.week_start", Value: c.Risk.WeekStart, Message: "must be YYYY-MM-DD"})
		}
	}
	return errs
}

func (c *Config) validateTuner() []error {
	t := c.Tuner
	var errs []error
	if t.ThresholdFloor > t.ThresholdCeiling {
		errs = append(errs, ValidationError{Field: "tuner.threshold_floor", Value: t.ThresholdFloor, Message: "must not exceed threshold_ceiling"})
	}
	if t.MinThreshold > t.MaxThreshold {
		errs = append(errs, ValidationError{Field: "tuner.min_threshold", Value: t.MinThreshold, Message: "must not exceed max_threshold"})
	}
	if t.MinRatio <= 0 || t.MinRatio > t.MaxRatio || t.MaxRatio > 1 {
		errs = append(errs, ValidationError{Field: "tuner.min_ratio", Value: t.MinRatio, Message: "need 0 < min_ratio <= max_ratio <= 1"})
	}
	if t.HourlyTradeCap <= 0 {
		errs = append(errs, ValidationError{Field: "tuner.hourly_trade_cap", Value: t.HourlyTradeCap, Message: "must be positive"})
	}
	if c.Predictor.VolatilityBorder <= 0 {
		errs = append(errs, ValidationError{Field: "predictor.volatility_border", Value: c.Predictor.VolatilityBorder, Message: "must be positive"})
	}
	return errs
}

func (c *Config) validateFilter() []error {
	if !c.Filter.Enabled {
		return nil
	}
	if c.Filter.Window < c.Filter.MinSamples {
		return []error{ValidationError{Field: "filter.window", Value: c.Filter.Window, Message: "must be at least min_samples"}}
	}
	return nil
}

func (c *Config) validateOrchestrator() []error {
	o := c.Orchestrator
	var errs []error
	if len(o.Tiers) == 0 {
		errs = append(errs, ValidationError{Field: "orchestrator.tiers", Message: "at least one tier is required"})
	}
	for i, tier := range o.Tiers {
		if tier.Multiplier <= 0 {
			errs = append(errs, ValidationError{Field: fmt.Sprintf("orchestrator.tiers[%d].multiplier", i), Value: tier.Multiplier, Message: "must be positive"})
		}
	}
	if o.MinNotionalKRW <= 0 || o.MaxNotionalKRW < o.MinNotionalKRW {
		errs = append(errs, ValidationError{Field: "orchestrator.max_notional_krw", Value: o.MaxNotionalKRW, Message: "need 0 < min_notional_krw <= max_notional_krw"})
	}
	if !contains(validPolicies, o.UnhedgedPolicy) {
		errs = append(errs, ValidationError{Field: "orchestrator.unhedged_policy", Value: o.UnhedgedPolicy,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(validPolicies, ", "))})
	}
	return errs
}

func (c *Config) validateSystem() []error {
	var errs []error
	if !contains(validLevels, strings.ToUpper(c.System.LogLevel)) {
		errs = append(errs, ValidationError{
			Field:   "system.log_level",
			Value:   c.System.LogLevel,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(validLevels, ", ")),
		})
	}
	if c.System.TickInterval <= 0 {
		errs = append(errs, ValidationError{Field: "system.tick_interval", Value: c.System.TickInterval, Message: "must be positive"})
	}
	return errs
}

// VenueNames returns configured venue names in a stable order
func (c *Config) VenueNames() []string {
	names := make([]string, 0, len(c.Venues))
	for name := range c.Venues {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// String returns a YAML rendering; Secret fields redact themselves
func (c *Config) String() string {
	data, _ := yaml.Marshal(c)
	return string(data)
}

// Helper functions

func expandEnvVars(s string) string {
	return os.Expand(s, os.Getenv)
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}

func maskString(s string) string {
	if len(s) <= 8 {
		return strings.Repeat("*", len(s))
	}
	return s[:4] + strings.Repeat("*", len(s)-8) + s[len(s)-4:]
}

// Defaults returns production defaults with no venues configured
func Defaults() *Config {
	return &Config{
		App: AppConfig{Name: "kimchi_arb"},
		Spread: SpreadConfig{
			ReferenceSymbol: "BTC/USDT",
			Symbol:          "BTC/KRW",
			Depth:           15,
			FX: FXConfig{
				Venue:    "bithumb",
				Symbol:   "USDT/KRW",
				Side:     "bid",
				Fallback: 1350,
			},
		},
		Cross: CrossConfig{Symbol: "BTC/KRW", Depth: 15},
		Funding: FundingConfig{
			Symbol:         "BTC/USDT",
			OpenThreshold:  0.0005,
			CloseThreshold: 0.0001,
			Ratio:          0.3,
			MinNotionalUSD: 50,
			TargetPayments: 3,
			IntervalHours:  8,
			StaleAfter:     5 * time.Minute,
		},
		Rebalance: RebalanceConfig{
			Schedule:       "@every 6h",
			Band:           0.1,
			Fraction:       0.5,
			MinNotionalKRW: 10_000,
		},
		Risk: RiskConfig{
			DailyLossRatio:   0.03,
			LayerDrawdownKRW: 50_000,
			BreakerThreshold: 3,
			BreakerCooldown:  5 * time.Minute,
		},
		Tuner: TunerConfig{
			MinThreshold:         1.0,
			MaxThreshold:         2.5,
			ThresholdFloor:       0.5,
			ThresholdCeiling:     3.0,
			ScoreDiscount:        0.3,
			BaseRatio:            0.3,
			VolPenalty:           0.15,
			ScoreBoost:           0.1,
			MinRatio:             0.05,
			MaxRatio:             0.5,
			HourlyTradeCap:       20,
			CongestionHighBump:   0.3,
			CongestionMidBump:    0.15,
			CongestionHighFactor: 0.5,
			CongestionMidFactor:  0.75,
		},
		Predictor: PredictorConfig{
			HistorySize:      50,
			MomentumWeight:   0.4,
			VolatilityWeight: 0.3,
			ImbalanceWeight:  0.3,
			MomentumScale:    1.0,
			ImbalanceLevels:  5,
			VolatilityBorder: 5.0,
		},
		Filter: FilterConfig{
			Enabled:    true,
			Window:     100,
			Threshold:  1.5,
			MinSamples: 10,
		},
		Orchestrator: OrchestratorConfig{
			Tiers: []TierConfig{
				{Name: "base", MinEdgePct: 0, Multiplier: 1.0},
				{Name: "strong", MinEdgePct: 2.0, Multiplier: 1.5},
				{Name: "extreme", MinEdgePct: 3.0, Multiplier: 2.0},
			},
			MinNotionalKRW: 50_000,
			MaxNotionalKRW: 5_000_000,
			MinAmount:      0.001,
			AmountDecimals: 4,
			Cooldown:       5 * time.Minute,
			UnhedgedPolicy: "unwind",
		},
		System: SystemConfig{
			LogLevel:      "INFO",
			LogFormat:     "console",
			TickInterval:  60 * time.Second,
			ErrorBackoff:  10 * time.Second,
			SnapshotPool:  8,
			ShutdownGrace: 5 * time.Second,
		},
		Telemetry: TelemetryConfig{
			MetricsPort:   9090,
			EnableMetrics: true,
		},
		Alert: AlertConfig{Timeout: 10 * time.Second},
	}
}

// DefaultConfig returns a complete configuration over mock venues for testing
func DefaultConfig() *Config {
	c := Defaults()
	c.App.DryRun = true
	c.Venues = map[string]VenueConfig{
		"binance":         {Kind: "mock", Market: "spot", FeeRate: 0.001, Timeout: time.Second},
		"upbit":           {Kind: "mock", Market: "spot", FeeRate: 0.0005, Timeout: time.Second},
		"bithumb":         {Kind: "mock", Market: "spot", FeeRate: 0.0004, Timeout: time.Second},
		"binance_futures": {Kind: "mock", Market: "futures", FeeRate: 0.0004, Timeout: time.Second},
		"bybit_futures":   {Kind: "mock", Market: "futures", FeeRate: 0.00055, Timeout: time.Second},
	}
	c.Spread.Enabled = true
	c.Spread.ReferenceVenue = "binance"
	c.Spread.Venues = []string{"upbit", "bithumb"}
	c.Cross.Enabled = true
	c.Cross.Venues = []string{"upbit", "bithumb"}
	c.Funding.Enabled = true
	c.Funding.Venues = []string{"binance_futures", "bybit_futures"}
	c.Rebalance.Enabled = true
	c.Rebalance.Venues = []string{"upbit", "bithumb"}
	c.applyDefaults()
	return c
}
