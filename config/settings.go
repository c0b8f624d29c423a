package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"bulkwars/game"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Settings is the process configuration. Game mechanics are fixed once Load
// returns; nothing renegotiates them at runtime.
type Settings struct {
	Host           string
	Port           string
	AllowedOrigins []string

	DatabaseURL   string
	RedisURL      string
	RedisPassword string
	RedisDB       int
	NATSURL       string

	LogLevel  string
	LogFormat string

	// Strict makes the engine panic on invariant violations.
	Strict bool

	Game GameConfig
}

// GameConfig is the tunable part of the game mechanics. It can be overridden
// by the YAML file named in GAME_CONFIG.
type GameConfig struct {
	RoundDuration      time.Duration `yaml:"round_duration"`
	CandleDuration     time.Duration `yaml:"candle_duration"`
	LobbyDuration      time.Duration `yaml:"lobby_duration"`
	ResultsDuration    time.Duration `yaml:"results_duration"`
	TickInterval       time.Duration `yaml:"tick_interval"`
	StartingPrice      string        `yaml:"starting_price"`
	ClickImpact        string        `yaml:"click_impact"`
	MaxClicksPerWindow int           `yaml:"max_clicks_per_window"`
}

// DefaultGameConfig returns the built-in mechanics.
func DefaultGameConfig() GameConfig {
	return GameConfig{
		RoundDuration:      RoundDuration,
		CandleDuration:     CandleDuration,
		LobbyDuration:      LobbyDuration,
		ResultsDuration:    ResultsDuration,
		TickInterval:       TickInterval,
		StartingPrice:      StartingPrice,
		ClickImpact:        ClickImpact,
		MaxClicksPerWindow: MaxClicksPerWindow,
	}
}

// Load reads .env (if present), the environment and the optional game file.
func Load() (*Settings, error) {
	if err := godotenv.Load(); err != nil {
		log.Debug().Msg(".env file not found, using environment variables")
	}

	s := &Settings{
		Host:           getEnv("HOST", ServerHost),
		Port:           getEnv("PORT", ServerPort),
		AllowedOrigins: splitList(getEnv("ALLOWED_ORIGINS", AllowOrigin)),
		DatabaseURL:    os.Getenv("DATABASE_URL"),
		RedisURL:       os.Getenv("REDIS_URL"),
		RedisPassword:  os.Getenv("REDIS_PASSWORD"),
		RedisDB:        getEnvAsInt("REDIS_DB", 0),
		NATSURL:        os.Getenv("NATS_URL"),
		LogLevel:       getEnv("LOG_LEVEL", "info"),
		LogFormat:      getEnv("LOG_FORMAT", "json"),
		Strict:         getEnv("STRICT_MODE", "false") == "true",
		Game:           DefaultGameConfig(),
	}

	if path := os.Getenv("GAME_CONFIG"); path != "" {
		if err := s.Game.loadFile(path); err != nil {
			return nil, err
		}
	}

	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// Addr is the listen address.
func (s *Settings) Addr() string {
	return s.Host + ":" + s.Port
}

// Validate rejects mechanics the engine cannot run with.
func (s *Settings) Validate() error {
	_, err := s.Game.Rules()
	return err
}

func (g *GameConfig) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read game config: %w", err)
	}
	// Fields missing from the file keep their current values.
	if err := yaml.Unmarshal(data, g); err != nil {
		return fmt.Errorf("failed to parse game config: %w", err)
	}
	return nil
}

// Rules converts the config into game rules, validating it on the way.
func (g GameConfig) Rules() (game.Rules, error) {
	var errs []error
	positive := func(name string, d time.Duration) {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %s", name, d))
		}
	}
	positive("round_duration", g.RoundDuration)
	positive("candle_duration", g.CandleDuration)
	positive("lobby_duration", g.LobbyDuration)
	positive("results_duration", g.ResultsDuration)
	positive("tick_interval", g.TickInterval)
	if g.MaxClicksPerWindow <= 0 {
		errs = append(errs, fmt.Errorf("max_clicks_per_window must be positive, got %d", g.MaxClicksPerWindow))
	}

	floor := decimal.RequireFromString(PriceFloor)
	start, err := decimal.NewFromString(g.StartingPrice)
	switch {
	case err != nil:
		errs = append(errs, fmt.Errorf("starting_price: %w", err))
	case start.LessThan(floor):
		errs = append(errs, fmt.Errorf("starting_price must be at least %s, got %s", floor, start))
	}
	impact, err := decimal.NewFromString(g.ClickImpact)
	switch {
	case err != nil:
		errs = append(errs, fmt.Errorf("click_impact: %w", err))
	case !impact.IsPositive():
		errs = append(errs, fmt.Errorf("click_impact must be positive, got %s", impact))
	}

	if len(errs) > 0 {
		return game.Rules{}, fmt.Errorf("invalid game config: %w", errors.Join(errs...))
	}

	return game.Rules{
		StartingPrice:      start.Round(PricePrecision),
		PriceFloor:         floor,
		ClickImpact:        impact,
		PricePrecision:     PricePrecision,
		MaxClicksPerWindow: g.MaxClicksPerWindow,
		RateWindow:         RateWindow,
		RoundDuration:      g.RoundDuration,
		CandleDuration:     g.CandleDuration,
		LobbyDuration:      g.LobbyDuration,
		ResultsDuration:    g.ResultsDuration,
		TickInterval:       g.TickInterval,
	}, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
		log.Warn().Str("key", key).Str("value", value).Msg("ignoring non-integer environment value")
	}
	return defaultValue
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
