// Package config loads the engine's configuration from environment
// variables (spec §6), following the teacher's config.go shape — a typed
// Config struct, validation inside Load that collects every problem
// before failing, and a masked String() for safe logging — but sourced
// from os.Getenv rather than a YAML file, since this engine runs one
// symbol per process and has no multi-exchange fleet to describe in a file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// GridMode selects which of the three placement algorithms (§4.5) the
// planner runs.
type GridMode int

const (
	ModeSimple GridMode = iota
	ModeBox
	ModeBin
	ModeFollow
)

// ScheduleType selects how EDGEX_USE_SCHEDULE_TYPE gates trading (§6.2).
type ScheduleType int

const (
	ScheduleNone ScheduleType = iota
	ScheduleRemote
)

// OutOfScheduleAction selects the behavior when the schedule goes inactive
// (§6.2): do nothing, auto-exit at the next natural opportunity, or flatten
// immediately.
type OutOfScheduleAction int

const (
	ActionNothing OutOfScheduleAction = iota
	ActionAuto
	ActionImmediately
)

// Config is the fully parsed, validated engine configuration.
type Config struct {
	BaseURL          string
	AccountID        int64
	StarkPrivateKey  string
	Symbol           string
	ContractID       string
	PollIntervalSec  float64
	LogLevel         string

	GridSize            decimal.Decimal
	GridStepUSD         decimal.Decimal
	GridFirstOffsetUSD  decimal.Decimal
	GridLevelsPerSide   int
	PriceTick           decimal.Decimal
	GridOpSpacingSec    float64
	GridMode            GridMode
	ActiveSyncEvery     int
	EnforceLevels       bool
	MaxNewPerLoop       int
	MaxShiftPerLoop     int
	FollowSlackSteps    int

	PositionLossCutPct     decimal.Decimal
	PositionTakeProfitPct  decimal.Decimal
	AssetLossCutPct        decimal.Decimal
	AssetTakeProfitPct     decimal.Decimal

	BalanceRecoveryEnabled  bool
	InitialBalanceUSD       decimal.Decimal
	RecoveryEnforceLevelUSD decimal.Decimal

	PositionSizeLimitBTC          *decimal.Decimal
	PositionSizeReduceOnlyBTC     *decimal.Decimal
	PositionSizeLimitRatio        *decimal.Decimal
	PositionSizeReduceOnlyRatio   *decimal.Decimal

	Leverage decimal.Decimal

	UseSchedule         bool
	UseScheduleType     ScheduleType
	OutOfScheduleAction OutOfScheduleAction
}

// ValidationError mirrors the teacher's per-field validation error shape.
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s' (value: %v): %s", e.Field, e.Value, e.Message)
}

// Load reads every EDGEX_* variable from the environment, applies defaults,
// and validates the result. On any problem it returns one error listing
// every validation failure; the caller (cmd/gridbot) treats this as fatal
// at startup (§7).
func Load() (*Config, error) {
	var c Config
	var errs []string

	c.BaseURL = os.Getenv("EDGEX_BASE_URL")
	if c.BaseURL == "" {
		errs = append(errs, ValidationError{Field: "EDGEX_BASE_URL", Message: "required"}.Error())
	}

	accountID, err := getenvInt64("EDGEX_ACCOUNT_ID", 0)
	if err != nil || accountID == 0 {
		errs = append(errs, ValidationError{Field: "EDGEX_ACCOUNT_ID", Message: "required, must be a nonzero integer"}.Error())
	}
	c.AccountID = accountID

	c.StarkPrivateKey = os.Getenv("EDGEX_STARK_PRIVATE_KEY")
	if c.StarkPrivateKey == "" {
		errs = append(errs, ValidationError{Field: "EDGEX_STARK_PRIVATE_KEY", Message: "required"}.Error())
	}

	c.Symbol = firstNonEmpty(os.Getenv("EDGEX_SYMBOL"), os.Getenv("EDGEX_CONTRACT_ID"))
	c.ContractID = c.Symbol
	if c.Symbol == "" {
		errs = append(errs, ValidationError{Field: "EDGEX_SYMBOL", Message: "required (or EDGEX_CONTRACT_ID)"}.Error())
	}

	c.PollIntervalSec = getenvFloat("EDGEX_POLL_INTERVAL_SEC", 2.0)
	if c.PollIntervalSec < 1.5 {
		errs = append(errs, ValidationError{Field: "EDGEX_POLL_INTERVAL_SEC", Value: c.PollIntervalSec, Message: "must be >= 1.5"}.Error())
	}

	c.LogLevel = firstNonEmpty(os.Getenv("EDGEX_LOG_LEVEL"), "INFO")

	c.GridSize = getenvDecimal("EDGEX_GRID_SIZE", decimal.Zero, &errs)
	if !c.GridSize.IsPositive() {
		errs = append(errs, ValidationError{Field: "EDGEX_GRID_SIZE", Value: c.GridSize, Message: "must be > 0"}.Error())
	}
	c.GridStepUSD = getenvDecimal("EDGEX_GRID_STEP_USD", decimal.Zero, &errs)
	c.GridFirstOffsetUSD = getenvDecimal("EDGEX_GRID_FIRST_OFFSET_USD", decimal.Zero, &errs)
	c.GridLevelsPerSide = getenvInt("EDGEX_GRID_LEVELS_PER_SIDE", 5)
	c.PriceTick = getenvDecimal("EDGEX_PRICE_TICK", decimal.New(1, -1), &errs)
	c.GridOpSpacingSec = getenvFloat("EDGEX_GRID_OP_SPACING_SEC", 0.4)

	c.GridMode = resolveGridMode()
	c.ActiveSyncEvery = getenvInt("EDGEX_GRID_ACTIVE_SYNC_EVERY", 20)
	c.EnforceLevels = getenvBool("EDGEX_GRID_ENFORCE_LEVELS", true)
	c.MaxNewPerLoop = getenvInt("EDGEX_GRID_MAX_NEW_PER_LOOP", 4)
	c.MaxShiftPerLoop = getenvInt("EDGEX_GRID_MAX_SHIFT_PER_LOOP", 4)
	c.FollowSlackSteps = getenvInt("EDGEX_GRID_FOLLOW_SLACK_STEPS", 1)

	c.PositionLossCutPct = getenvDecimal("EDGEX_POSITION_LOSSCUT_PERCENTAGE", decimal.Zero, &errs)
	c.PositionTakeProfitPct = getenvDecimal("EDGEX_POSITION_TAKE_PROFIT_PERCENTAGE", decimal.Zero, &errs)
	c.AssetLossCutPct = getenvDecimal("EDGEX_ASSET_LOSSCUT_PERCENTAGE", decimal.Zero, &errs)
	c.AssetTakeProfitPct = getenvDecimal("EDGEX_ASSET_TAKE_PROFIT_PERCENTAGE", decimal.Zero, &errs)

	c.BalanceRecoveryEnabled = getenvBool("EDGEX_BALANCE_RECOVERY_ENABLED", false)
	c.InitialBalanceUSD = getenvDecimal("EDGEX_INITIAL_BALANCE_USD", decimal.Zero, &errs)
	c.RecoveryEnforceLevelUSD = getenvDecimal("EDGEX_RECOVERY_ENFORCE_LEVEL_USD", decimal.Zero, &errs)
	if c.BalanceRecoveryEnabled && c.InitialBalanceUSD.IsZero() {
		errs = append(errs, ValidationError{Field: "EDGEX_INITIAL_BALANCE_USD", Message: "required when EDGEX_BALANCE_RECOVERY_ENABLED=true"}.Error())
	}

	c.PositionSizeLimitBTC = getenvDecimalPtr("EDGEX_POSITION_SIZE_LIMIT_BTC")
	c.PositionSizeReduceOnlyBTC = getenvDecimalPtr("EDGEX_POSITION_SIZE_REDUCE_ONLY_BTC")
	c.PositionSizeLimitRatio = getenvDecimalPtr("EDGEX_POSITION_SIZE_LIMIT_RATIO")
	c.PositionSizeReduceOnlyRatio = getenvDecimalPtr("EDGEX_POSITION_SIZE_REDUCE_ONLY_RATIO")

	absSet := c.PositionSizeLimitBTC != nil || c.PositionSizeReduceOnlyBTC != nil
	ratioSet := c.PositionSizeLimitRatio != nil || c.PositionSizeReduceOnlyRatio != nil
	if absSet && ratioSet {
		errs = append(errs, ValidationError{Field: "EDGEX_POSITION_SIZE_LIMIT_*", Message: "absolute and ratio reduce-only thresholds are mutually exclusive"}.Error())
	}
	if c.PositionSizeLimitBTC != nil && c.PositionSizeReduceOnlyBTC != nil && c.PositionSizeLimitBTC.LessThanOrEqual(*c.PositionSizeReduceOnlyBTC) {
		errs = append(errs, ValidationError{Field: "EDGEX_POSITION_SIZE_LIMIT_BTC", Value: *c.PositionSizeLimitBTC, Message: "must be greater than EDGEX_POSITION_SIZE_REDUCE_ONLY_BTC"}.Error())
	}
	if c.PositionSizeLimitRatio != nil && c.PositionSizeReduceOnlyRatio != nil && c.PositionSizeLimitRatio.LessThanOrEqual(*c.PositionSizeReduceOnlyRatio) {
		errs = append(errs, ValidationError{Field: "EDGEX_POSITION_SIZE_LIMIT_RATIO", Value: *c.PositionSizeLimitRatio, Message: "must be greater than EDGEX_POSITION_SIZE_REDUCE_ONLY_RATIO"}.Error())
	}

	c.Leverage = getenvDecimal("EDGEX_LEVERAGE", decimal.New(100, 0), &errs)

	c.UseSchedule = getenvBool("EDGEX_USE_SCHEDULE", false)
	c.UseScheduleType = resolveScheduleType()
	c.OutOfScheduleAction = resolveOutOfScheduleAction()

	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed:\n%s", strings.Join(errs, "\n"))
	}
	return &c, nil
}

func resolveGridMode() GridMode {
	switch {
	case getenvBool("EDGEX_GRID_BOX_MODE", false):
		return ModeBox
	case getenvBool("EDGEX_GRID_BIN_MODE", false):
		return ModeBin
	case getenvBool("EDGEX_GRID_FOLLOW_ENABLE", false):
		return ModeFollow
	default:
		return ModeSimple
	}
}

func resolveScheduleType() ScheduleType {
	if strings.EqualFold(os.Getenv("EDGEX_USE_SCHEDULE_TYPE"), "remote") {
		return ScheduleRemote
	}
	return ScheduleNone
}

func resolveOutOfScheduleAction() OutOfScheduleAction {
	switch strings.ToLower(os.Getenv("EDGEX_OUT_OF_SCHEDULE_ACTION")) {
	case "auto":
		return ActionAuto
	case "immediately":
		return ActionImmediately
	default:
		return ActionNothing
	}
}

// String renders the config for logging with secrets masked.
func (c *Config) String() string {
	return fmt.Sprintf(
		"Config{BaseURL=%s AccountID=%d Symbol=%s PollIntervalSec=%v GridMode=%d GridSize=%s Leverage=%s StarkPrivateKey=%s}",
		c.BaseURL, c.AccountID, c.Symbol, c.PollIntervalSec, c.GridMode, c.GridSize, c.Leverage, mask(c.StarkPrivateKey))
}

func mask(s string) string {
	if len(s) <= 4 {
		return "****"
	}
	return s[:2] + strings.Repeat("*", len(s)-4) + s[len(s)-2:]
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func getenvInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func getenvInt64(key string, def int64) (int64, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	return strconv.ParseInt(v, 10, 64)
}

func getenvFloat(key string, def float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

func getenvBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func getenvDecimal(key string, def decimal.Decimal, errs *[]string) decimal.Decimal {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	d, err := decimal.NewFromString(v)
	if err != nil {
		*errs = append(*errs, ValidationError{Field: key, Value: v, Message: "must be a decimal number"}.Error())
		return def
	}
	return d
}

func getenvDecimalPtr(key string) *decimal.Decimal {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	d, err := decimal.NewFromString(v)
	if err != nil {
		return nil
	}
	return &d
}
