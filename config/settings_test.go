package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"HOST", "PORT", "ALLOWED_ORIGINS", "DATABASE_URL", "REDIS_URL", "REDIS_PASSWORD",
		"REDIS_DB", "NATS_URL", "LOG_LEVEL", "LOG_FORMAT", "GAME_CONFIG",
	} {
		t.Setenv(key, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)

	s, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if s.Addr() != "0.0.0.0:8080" {
		t.Errorf("Expected default addr 0.0.0.0:8080, got %s", s.Addr())
	}
	if len(s.AllowedOrigins) != 1 || s.AllowedOrigins[0] != "*" {
		t.Errorf("Expected wildcard origin, got %v", s.AllowedOrigins)
	}

	rules, err := s.Game.Rules()
	if err != nil {
		t.Fatalf("Rules failed: %v", err)
	}
	if !rules.StartingPrice.Equal(decimal.RequireFromString("178.50")) {
		t.Errorf("Expected starting price 178.50, got %s", rules.StartingPrice)
	}
	if rules.RoundDuration != 120*time.Second || rules.CandleDuration != 10*time.Second {
		t.Errorf("unexpected timing %s / %s", rules.RoundDuration, rules.CandleDuration)
	}
	if rules.LobbyDuration != 15*time.Second || rules.ResultsDuration != 8*time.Second {
		t.Errorf("unexpected phase timing %s / %s", rules.LobbyDuration, rules.ResultsDuration)
	}
	if rules.MaxClicksPerWindow != 8 || rules.RateWindow != time.Second {
		t.Errorf("unexpected rate limit %d per %s", rules.MaxClicksPerWindow, rules.RateWindow)
	}
}

func TestLoadFromEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("PORT", "9090")
	t.Setenv("ALLOWED_ORIGINS", "https://a.example, https://b.example ,")
	t.Setenv("REDIS_DB", "3")
	t.Setenv("NATS_URL", "nats://localhost:4222")

	s, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if s.Port != "9090" {
		t.Errorf("Expected port 9090, got %s", s.Port)
	}
	if len(s.AllowedOrigins) != 2 || s.AllowedOrigins[1] != "https://b.example" {
		t.Errorf("unexpected origins %v", s.AllowedOrigins)
	}
	if s.RedisDB != 3 {
		t.Errorf("Expected redis db 3, got %d", s.RedisDB)
	}
	if s.NATSURL != "nats://localhost:4222" {
		t.Errorf("unexpected NATS url %q", s.NATSURL)
	}
}

func TestLoadGameFile(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "game.yaml")
	content := "round_duration: 60s\ncandle_duration: 5s\nclick_impact: \"0.05\"\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write game file: %v", err)
	}
	t.Setenv("GAME_CONFIG", path)

	s, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	rules, _ := s.Game.Rules()
	if rules.RoundDuration != time.Minute || rules.CandleDuration != 5*time.Second {
		t.Errorf("Expected 60s/5s from file, got %s/%s", rules.RoundDuration, rules.CandleDuration)
	}
	if !rules.ClickImpact.Equal(decimal.RequireFromString("0.05")) {
		t.Errorf("Expected click impact 0.05, got %s", rules.ClickImpact)
	}
	if rules.LobbyDuration != LobbyDuration {
		t.Errorf("Expected lobby duration to keep its default, got %s", rules.LobbyDuration)
	}
}

func TestLoadMissingGameFile(t *testing.T) {
	clearEnv(t)
	t.Setenv("GAME_CONFIG", filepath.Join(t.TempDir(), "missing.yaml"))

	if _, err := Load(); err == nil {
		t.Error("Expected an error for a missing game file")
	}
}

func TestRulesValidation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*GameConfig)
		want   string
	}{
		{"ZeroRound", func(g *GameConfig) { g.RoundDuration = 0 }, "round_duration"},
		{"NegativeCandle", func(g *GameConfig) { g.CandleDuration = -time.Second }, "candle_duration"},
		{"ZeroCap", func(g *GameConfig) { g.MaxClicksPerWindow = 0 }, "max_clicks_per_window"},
		{"ZeroImpact", func(g *GameConfig) { g.ClickImpact = "0" }, "click_impact"},
		{"BadPrice", func(g *GameConfig) { g.StartingPrice = "abc" }, "starting_price"},
		{"PriceBelowFloor", func(g *GameConfig) { g.StartingPrice = "0.001" }, "starting_price"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := DefaultGameConfig()
			tt.mutate(&g)
			_, err := g.Rules()
			if err == nil {
				t.Fatal("Expected a validation error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Expected error mentioning %q, got %v", tt.want, err)
			}
		})
	}
}
