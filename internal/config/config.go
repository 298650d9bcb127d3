// Package config loads the risk control plane's YAML configuration: the
// governed pool risk parameters, the breaker scheduler cadences, and the
// logging environment tag.
package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config captures the runtime settings for the risk-control-plane daemon.
type Config struct {
	PoolID    string          `yaml:"pool_id"`
	Pool      PoolConfig      `yaml:"pool"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// PoolConfig mirrors pool.RiskParameters plus the deposit caps, expressed in
// the same basis-point and smallest-unit terms the engine uses internally.
type PoolConfig struct {
	SeniorAllocationBps      uint64 `yaml:"senior_allocation_bps"`
	MinSubordinationBps      uint64 `yaml:"min_subordination_bps"`
	JuniorCoverageFloorBps   uint64 `yaml:"junior_coverage_floor_bps"`
	SeniorTargetYieldBps     uint64 `yaml:"senior_target_yield_bps"`
	ReserveFactorBps         uint64 `yaml:"reserve_factor_bps"`
	SeniorPriorityMaxSeconds int64  `yaml:"senior_priority_max_seconds"`
	JuniorDepositCap         string `yaml:"junior_deposit_cap"`
	SeniorDepositCap         string `yaml:"senior_deposit_cap"`
}

// SchedulerConfig sets the three breaker evaluation cadences (spec §5) plus
// the self-audit cadence (spec §7) that re-runs the pool's invariant check.
type SchedulerConfig struct {
	SettlementIntervalMinutes    int `yaml:"settlement_interval_minutes"`
	CreditLiquidityIntervalHours int `yaml:"credit_liquidity_interval_hours"`
	FullReconciliationHourUTC    int `yaml:"full_reconciliation_hour_utc"`
	SelfAuditIntervalMinutes     int `yaml:"self_audit_interval_minutes"`
}

// LoggingConfig carries a deployment environment tag. The risk-control-plane
// daemon does not read it: its log lines take their env tag from the
// RISKPLANE_ENV environment variable.
type LoggingConfig struct {
	Env string `yaml:"env"`
}

// Load reads the YAML configuration from disk, applies defaults matching
// the spec's documented cadences and parameter ranges, and validates the
// result.
func Load(path string) (Config, error) {
	cfg := defaults()
	if path == "" {
		return cfg, fmt.Errorf("config path required")
	}
	file, err := os.Open(path)
	if err != nil {
		return cfg, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	decoder := yaml.NewDecoder(file)
	if err := decoder.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}

	cfg.normalize()
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func defaults() Config {
	return Config{
		Pool: PoolConfig{
			SeniorAllocationBps:      7000,
			MinSubordinationBps:      1000,
			JuniorCoverageFloorBps:   1000,
			SeniorTargetYieldBps:     800,
			ReserveFactorBps:         1000,
			SeniorPriorityMaxSeconds: 30 * 24 * 60 * 60,
			JuniorDepositCap:         "0",
			SeniorDepositCap:         "0",
		},
		Scheduler: SchedulerConfig{
			SettlementIntervalMinutes:    5,
			CreditLiquidityIntervalHours: 1,
			FullReconciliationHourUTC:    3,
			SelfAuditIntervalMinutes:     15,
		},
	}
}

func (cfg *Config) normalize() {
	if cfg == nil {
		return
	}
	cfg.PoolID = strings.TrimSpace(cfg.PoolID)
	cfg.Logging.Env = strings.TrimSpace(cfg.Logging.Env)
	if cfg.Pool.JuniorDepositCap == "" {
		cfg.Pool.JuniorDepositCap = "0"
	}
	if cfg.Pool.SeniorDepositCap == "" {
		cfg.Pool.SeniorDepositCap = "0"
	}
}

func (cfg Config) validate() error {
	if cfg.PoolID == "" {
		return fmt.Errorf("pool_id is required")
	}
	if cfg.Pool.SeniorAllocationBps < 5000 || cfg.Pool.SeniorAllocationBps > 9000 {
		return fmt.Errorf("pool.senior_allocation_bps must fall in [5000,9000]")
	}
	if cfg.Pool.JuniorCoverageFloorBps > 10_000 {
		return fmt.Errorf("pool.junior_coverage_floor_bps must not exceed 10000")
	}
	if cfg.Pool.MinSubordinationBps > 10_000 {
		return fmt.Errorf("pool.min_subordination_bps must not exceed 10000")
	}
	if cfg.Scheduler.SettlementIntervalMinutes <= 0 {
		return fmt.Errorf("scheduler.settlement_interval_minutes must be positive")
	}
	if cfg.Scheduler.CreditLiquidityIntervalHours <= 0 {
		return fmt.Errorf("scheduler.credit_liquidity_interval_hours must be positive")
	}
	if cfg.Scheduler.FullReconciliationHourUTC < 0 || cfg.Scheduler.FullReconciliationHourUTC > 23 {
		return fmt.Errorf("scheduler.full_reconciliation_hour_utc must fall in [0,23]")
	}
	if cfg.Scheduler.SelfAuditIntervalMinutes <= 0 {
		return fmt.Errorf("scheduler.self_audit_interval_minutes must be positive")
	}
	return nil
}
