package config

import (
	"strings"
	"testing"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("EDGEX_BASE_URL", "https://testnet.edgex.example")
	t.Setenv("EDGEX_ACCOUNT_ID", "12345")
	t.Setenv("EDGEX_STARK_PRIVATE_KEY", "0xdeadbeef")
	t.Setenv("EDGEX_SYMBOL", "BTCUSD")
	t.Setenv("EDGEX_GRID_SIZE", "0.01")
}

func TestLoad_MinimalValidConfig(t *testing.T) {
	setRequiredEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.BaseURL != "https://testnet.edgex.example" {
		t.Errorf("BaseURL = %s", cfg.BaseURL)
	}
	if cfg.AccountID != 12345 {
		t.Errorf("AccountID = %d, want 12345", cfg.AccountID)
	}
	if cfg.GridMode != ModeSimple {
		t.Errorf("default GridMode should be ModeSimple, got %d", cfg.GridMode)
	}
	if cfg.LogLevel != "INFO" {
		t.Errorf("default LogLevel = %s, want INFO", cfg.LogLevel)
	}
}

func TestLoad_MissingRequiredFieldsAggregateErrors(t *testing.T) {
	_, err := Load()
	if err == nil {
		t.Fatal("expected an error with no environment set")
	}
	for _, want := range []string{"EDGEX_BASE_URL", "EDGEX_ACCOUNT_ID", "EDGEX_STARK_PRIVATE_KEY", "EDGEX_SYMBOL", "EDGEX_GRID_SIZE"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("expected aggregated error to mention %s, got: %v", want, err)
		}
	}
}

func TestLoad_SymbolFallsBackToContractID(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("EDGEX_SYMBOL", "")
	t.Setenv("EDGEX_CONTRACT_ID", "ETHUSD")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Symbol != "ETHUSD" {
		t.Errorf("Symbol = %s, want ETHUSD (from EDGEX_CONTRACT_ID)", cfg.Symbol)
	}
}

func TestLoad_GridModeResolution(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("EDGEX_GRID_BIN_MODE", "true")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.GridMode != ModeBin {
		t.Errorf("GridMode = %d, want ModeBin", cfg.GridMode)
	}
}

func TestLoad_BalanceRecoveryRequiresInitialBalance(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("EDGEX_BALANCE_RECOVERY_ENABLED", "true")

	_, err := Load()
	if err == nil || !strings.Contains(err.Error(), "EDGEX_INITIAL_BALANCE_USD") {
		t.Fatalf("expected a validation error requiring EDGEX_INITIAL_BALANCE_USD, got %v", err)
	}
}

func TestLoad_AbsoluteAndRatioReduceOnlyAreMutuallyExclusive(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("EDGEX_POSITION_SIZE_LIMIT_BTC", "1.0")
	t.Setenv("EDGEX_POSITION_SIZE_LIMIT_RATIO", "0.5")

	_, err := Load()
	if err == nil || !strings.Contains(err.Error(), "mutually exclusive") {
		t.Fatalf("expected a mutual-exclusivity error, got %v", err)
	}
}

func TestLoad_PollIntervalFloor(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("EDGEX_POLL_INTERVAL_SEC", "0.5")

	_, err := Load()
	if err == nil || !strings.Contains(err.Error(), "EDGEX_POLL_INTERVAL_SEC") {
		t.Fatalf("expected a validation error for a too-low poll interval, got %v", err)
	}
}

func TestConfig_StringMasksPrivateKey(t *testing.T) {
	setRequiredEnv(t)
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	s := cfg.String()
	if strings.Contains(s, "0xdeadbeef") {
		t.Errorf("String() should mask the private key, got: %s", s)
	}
}
