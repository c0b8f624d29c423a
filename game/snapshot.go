package game

import "github.com/shopspring/decimal"

// Snapshot is the full public state sent on connect, at battle start and after
// each periodic seal. Timestamps are unix ms and nil when the phase does not
// use them.
type Snapshot struct {
	RoundID      string          `json:"roundId"`
	Phase        Phase           `json:"phase"`
	Price        decimal.Decimal `json:"price"`
	CandleOpen   decimal.Decimal `json:"candleOpen"`
	CandleHigh   decimal.Decimal `json:"candleHigh"`
	CandleLow    decimal.Decimal `json:"candleLow"`
	Candles      []Candle        `json:"candles"`
	Score        Score           `json:"score"`
	TotalGreen   int             `json:"totalGreen"`
	TotalRed     int             `json:"totalRed"`
	CandleGreen  int             `json:"candleGreen"`
	CandleRed    int             `json:"candleRed"`
	Players      int             `json:"players"`
	Winner       Winner          `json:"winner"`
	RoundEndsAt  *int64          `json:"roundEndsAt"`
	CandleEndsAt *int64          `json:"candleEndsAt"`
	LobbyEndsAt  *int64          `json:"lobbyEndsAt"`
}

// Snapshot copies the current state. The candle list is copied so the result
// can leave the engine loop.
func (s *Session) Snapshot() Snapshot {
	snap := Snapshot{
		RoundID:     s.roundID,
		Phase:       s.phase,
		Price:       s.price,
		CandleOpen:  s.candleOpen,
		CandleHigh:  s.candleHigh,
		CandleLow:   s.candleLow,
		Candles:     s.Candles(),
		Score:       s.score,
		TotalGreen:  s.totalGreen,
		TotalRed:    s.totalRed,
		CandleGreen: s.candleGreen,
		CandleRed:   s.candleRed,
		Players:     s.observers,
		Winner:      s.winner,
		LobbyEndsAt: unixMilli(s.lobbyEndsAt),
	}
	if s.roundStartAt != nil {
		end := s.roundStartAt.Add(s.rules.RoundDuration)
		snap.RoundEndsAt = unixMilli(&end)
	}
	if s.candleStartAt != nil {
		end := s.candleStartAt.Add(s.rules.CandleDuration)
		snap.CandleEndsAt = unixMilli(&end)
	}
	return snap
}
