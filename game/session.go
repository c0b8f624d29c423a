package game

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	// ErrWrongPhase rejects a click submitted outside battle.
	ErrWrongPhase = errors.New("game: not in battle phase")
	// ErrInvalidTeam rejects a click whose team is neither green nor red.
	ErrInvalidTeam = errors.New("game: invalid team")
	// ErrRateLimited rejects a click over the connection's per-window budget.
	ErrRateLimited = errors.New("game: rate limited")
	// ErrNoActiveRound is an internal invariant violation: sealing or ending a
	// round while no round is running.
	ErrNoActiveRound = errors.New("game: no active round")
	// ErrNotInLobby is an internal invariant violation: starting a battle from
	// any phase other than lobby.
	ErrNotInLobby = errors.New("game: not in lobby phase")
)

// Session is the whole state of one competitive session.
//
// It is not safe for concurrent use: the engine owns a Session and only calls
// it from its event loop.
type Session struct {
	rules   Rules
	limiter *RateLimiter

	roundID string
	phase   Phase

	price      decimal.Decimal
	candleOpen decimal.Decimal
	candleHigh decimal.Decimal
	candleLow  decimal.Decimal

	candles []Candle
	score   Score

	totalGreen  int
	totalRed    int
	candleGreen int
	candleRed   int

	roundStartAt  *time.Time
	candleStartAt *time.Time
	lobbyEndsAt   *time.Time

	winner    Winner
	observers int
}

// NewSession returns a session in the lobby phase at the starting price. No
// lobby deadline is set until EnterLobby is called.
func NewSession(rules Rules) *Session {
	s := &Session{
		rules:   rules,
		limiter: NewRateLimiter(rules.MaxClicksPerWindow, rules.RateWindow),
	}
	s.reset()
	return s
}

func (s *Session) reset() {
	s.phase = PhaseLobby
	s.price = s.rules.StartingPrice
	s.candleOpen = s.rules.StartingPrice
	s.candleHigh = s.rules.StartingPrice
	s.candleLow = s.rules.StartingPrice
	s.candles = make([]Candle, 0, s.candlesPerRound())
	s.score = Score{}
	s.totalGreen, s.totalRed = 0, 0
	s.candleGreen, s.candleRed = 0, 0
	s.roundStartAt = nil
	s.candleStartAt = nil
	s.lobbyEndsAt = nil
	s.winner = WinnerNone
}

func (s *Session) candlesPerRound() int {
	if s.rules.CandleDuration <= 0 {
		return 0
	}
	return int((s.rules.RoundDuration + s.rules.CandleDuration - 1) / s.rules.CandleDuration)
}

func (s *Session) Phase() Phase                { return s.phase }
func (s *Session) RoundID() string             { return s.roundID }
func (s *Session) Price() decimal.Decimal      { return s.price }
func (s *Session) Score() Score                { return s.score }
func (s *Session) Winner() Winner              { return s.winner }
func (s *Session) Observers() int              { return s.observers }
func (s *Session) Limiter() *RateLimiter       { return s.limiter }
func (s *Session) CandleHigh() decimal.Decimal { return s.candleHigh }
func (s *Session) CandleLow() decimal.Decimal  { return s.candleLow }

// Candles returns a copy of the sealed candles of the current round.
func (s *Session) Candles() []Candle {
	out := make([]Candle, len(s.candles))
	copy(out, s.candles)
	return out
}

// EnterLobby resets every round-scoped field and opens a new lobby.
// The observer count and rate-limit entries survive the reset.
func (s *Session) EnterLobby(now time.Time) LobbyStarted {
	s.reset()
	s.roundID = uuid.NewString()
	ends := now.Add(s.rules.LobbyDuration)
	s.lobbyEndsAt = &ends
	return LobbyStarted{RoundID: s.roundID, LobbyEndsAt: ends}
}

// BeginBattle starts the round clock and the first live candle.
func (s *Session) BeginBattle(now time.Time) (BattleStarted, error) {
	if s.phase != PhaseLobby {
		return BattleStarted{}, fmt.Errorf("begin battle from %s: %w", s.phase, ErrNotInLobby)
	}
	s.phase = PhaseBattle
	start := now
	s.roundStartAt = &start
	candleStart := now
	s.candleStartAt = &candleStart
	return BattleStarted{Snapshot: s.Snapshot()}, nil
}

// RoundEndsAt reports when the running round is due to end.
func (s *Session) RoundEndsAt() (time.Time, bool) {
	if s.roundStartAt == nil {
		return time.Time{}, false
	}
	return s.roundStartAt.Add(s.rules.RoundDuration), true
}

// ApplyImpact moves the price one click in dir, clamped to the floor and
// rounded to the configured precision, and widens the live candle.
func (s *Session) ApplyImpact(dir Direction) error {
	if s.phase != PhaseBattle {
		return ErrWrongPhase
	}
	next := s.price.Add(s.rules.ClickImpact.Mul(decimal.NewFromInt(int64(dir))))
	s.price = decimal.Max(s.rules.PriceFloor, next.Round(s.rules.PricePrecision))
	if s.price.GreaterThan(s.candleHigh) {
		s.candleHigh = s.price
	}
	if s.price.LessThan(s.candleLow) {
		s.candleLow = s.price
	}
	return nil
}

// Submit is the click gateway. It returns ErrWrongPhase, ErrInvalidTeam or
// ErrRateLimited for rejected clicks; rejected clicks change nothing except
// that a rate-limited connection keeps its exhausted window.
//
// The team tag is trusted as sent: one connection may click for both teams.
func (s *Session) Submit(connID, team string, now time.Time) (ClickApplied, error) {
	if s.phase != PhaseBattle {
		return ClickApplied{}, ErrWrongPhase
	}
	t, ok := ParseTeam(team)
	if !ok {
		return ClickApplied{}, ErrInvalidTeam
	}
	if !s.limiter.Allow(connID, now) {
		return ClickApplied{}, ErrRateLimited
	}

	if err := s.ApplyImpact(t.Direction()); err != nil {
		return ClickApplied{}, err
	}
	if t == TeamGreen {
		s.totalGreen++
		s.candleGreen++
	} else {
		s.totalRed++
		s.candleRed++
	}

	return ClickApplied{
		ConnID:      connID,
		Team:        t,
		Price:       s.price,
		TotalGreen:  s.totalGreen,
		TotalRed:    s.totalRed,
		CandleGreen: s.candleGreen,
		CandleRed:   s.candleRed,
	}, nil
}

// Seal finalizes the live candle, scores it and starts the next one at the
// current price. A candle whose close equals its open is green.
func (s *Session) Seal(now time.Time) (CandleSealed, error) {
	if s.phase != PhaseBattle {
		return CandleSealed{}, fmt.Errorf("seal in %s: %w", s.phase, ErrNoActiveRound)
	}

	candle := Candle{
		Open:        s.candleOpen,
		Close:       s.price,
		High:        s.candleHigh,
		Low:         s.candleLow,
		IsGreen:     s.price.GreaterThanOrEqual(s.candleOpen),
		GreenClicks: s.candleGreen,
		RedClicks:   s.candleRed,
		Timestamp:   now.UnixMilli(),
	}
	s.candles = append(s.candles, candle)
	if candle.IsGreen {
		s.score.Green++
	} else {
		s.score.Red++
	}

	s.candleOpen = s.price
	s.candleHigh = s.price
	s.candleLow = s.price
	s.candleGreen = 0
	s.candleRed = 0
	start := now
	s.candleStartAt = &start

	return CandleSealed{
		RoundID: s.roundID,
		Index:   len(s.candles) - 1,
		Candle:  candle,
		Score:   s.score,
	}, nil
}

// FinishRound force-seals the trailing partial candle, decides the winner and
// moves to results.
func (s *Session) FinishRound(now time.Time) (RoundEnded, error) {
	final, err := s.Seal(now)
	if err != nil {
		return RoundEnded{}, fmt.Errorf("finish round: %w", err)
	}

	switch {
	case s.score.Green > s.score.Red:
		s.winner = WinnerGreen
	case s.score.Red > s.score.Green:
		s.winner = WinnerRed
	default:
		s.winner = WinnerDraw
	}
	s.phase = PhaseResults

	var started time.Time
	if s.roundStartAt != nil {
		started = *s.roundStartAt
	}
	return RoundEnded{
		RoundID:   s.roundID,
		Final:     final,
		Score:     s.score,
		Winner:    s.winner,
		Candles:   s.Candles(),
		Totals:    Score{Green: s.totalGreen, Red: s.totalRed},
		StartedAt: started,
		EndedAt:   now,
	}, nil
}

// Tick reports the live candle without touching state.
func (s *Session) Tick() (TickReport, bool) {
	if s.phase != PhaseBattle || s.roundStartAt == nil || s.candleStartAt == nil {
		return TickReport{}, false
	}
	return TickReport{
		Price:        s.price,
		CandleOpen:   s.candleOpen,
		CandleHigh:   s.candleHigh,
		CandleLow:    s.candleLow,
		CandleGreen:  s.candleGreen,
		CandleRed:    s.candleRed,
		RoundEndsAt:  s.roundStartAt.Add(s.rules.RoundDuration).UnixMilli(),
		CandleEndsAt: s.candleStartAt.Add(s.rules.CandleDuration).UnixMilli(),
	}, true
}

// SyncState wraps a full snapshot for the periodic safety-net broadcast.
func (s *Session) SyncState() StateSynced {
	return StateSynced{Snapshot: s.Snapshot()}
}

// Connect registers one more observer.
func (s *Session) Connect() PlayersChanged {
	s.observers++
	return PlayersChanged{Players: s.observers}
}

// Disconnect removes an observer and forgets its rate-limit window.
func (s *Session) Disconnect(connID string) PlayersChanged {
	if s.observers > 0 {
		s.observers--
	}
	s.limiter.Forget(connID)
	return PlayersChanged{Players: s.observers}
}
