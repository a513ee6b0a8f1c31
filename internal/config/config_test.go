package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "test-secret")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.BindAddr != ":8080" {
		t.Fatalf("unexpected bind addr %q", cfg.BindAddr)
	}
	if cfg.SessionMaxTurns != 20 || cfg.SendBuffer != 20 {
		t.Fatalf("unexpected session defaults %+v", cfg)
	}
	if cfg.IdleTimeout != 120*time.Second || cfg.HeartbeatInterval != 15*time.Second {
		t.Fatalf("unexpected timing defaults %+v", cfg)
	}
	if cfg.StreamTimeout != 75*time.Second || cfg.RecommendTimeout != 15*time.Second {
		t.Fatalf("unexpected timeout defaults %+v", cfg)
	}
	if cfg.LeakGuardNGram != 20 || cfg.LeakGuardMinMatch != 3 || cfg.LeakGuardMode != "mask" {
		t.Fatalf("unexpected leak guard defaults %+v", cfg)
	}
	if cfg.LLMModel != "gpt-5-mini" || len(cfg.LLMBackupModels) != 2 {
		t.Fatalf("unexpected model defaults %+v", cfg)
	}
}

func TestLoadRequiresSecretUnlessAnonymous(t *testing.T) {
	t.Setenv("JWT_SECRET", "")
	t.Setenv("APP_ALLOW_ANONYMOUS", "")

	if _, err := Load(); err == nil {
		t.Fatal("expected error without JWT_SECRET")
	}

	t.Setenv("APP_ALLOW_ANONYMOUS", "true")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load with anonymous: %v", err)
	}
	if !cfg.AllowAnonymous {
		t.Fatal("AllowAnonymous not set")
	}
}

func TestLoadClampsHistoryTurns(t *testing.T) {
	t.Setenv("JWT_SECRET", "test-secret")

	t.Setenv("WS_HISTORY_TURNS", "2")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HistoryTurns != 5 {
		t.Fatalf("expected clamp to 5, got %d", cfg.HistoryTurns)
	}

	t.Setenv("WS_HISTORY_TURNS", "50")
	cfg, err = Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HistoryTurns != 10 {
		t.Fatalf("expected clamp to 10, got %d", cfg.HistoryTurns)
	}
}

func TestLoadRejectsBadLeakGuardMode(t *testing.T) {
	t.Setenv("JWT_SECRET", "test-secret")
	t.Setenv("LEAK_GUARD_MODE", "scramble")

	if _, err := Load(); err == nil {
		t.Fatal("expected error for invalid LEAK_GUARD_MODE")
	}
}

func TestLoadParsesOverrides(t *testing.T) {
	t.Setenv("JWT_SECRET", "test-secret")
	t.Setenv("WS_IDLE_TIMEOUT", "90s")
	t.Setenv("SESSION_MAX_TURNS", "7")
	t.Setenv("LLM_BACKUP_MODELS", "gpt-4o, gpt-4.1-mini")
	t.Setenv("LLM_TEMPERATURE", "0.3")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.IdleTimeout != 90*time.Second {
		t.Fatalf("idle timeout override ignored: %v", cfg.IdleTimeout)
	}
	if cfg.SessionMaxTurns != 7 {
		t.Fatalf("turn cap override ignored: %d", cfg.SessionMaxTurns)
	}
	if len(cfg.LLMBackupModels) != 2 || cfg.LLMBackupModels[1] != "gpt-4.1-mini" {
		t.Fatalf("backup models not parsed: %v", cfg.LLMBackupModels)
	}
	if cfg.LLMTemperature != 0.3 {
		t.Fatalf("temperature override ignored: %v", cfg.LLMTemperature)
	}
}
