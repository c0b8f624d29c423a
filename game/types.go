package game

import (
	"time"

	"github.com/shopspring/decimal"
)

func init() {
	// Prices travel to observers as JSON numbers, not quoted strings.
	decimal.MarshalJSONWithoutQuotes = true
}

// Phase is the session's position in the lobby -> battle -> results cycle.
type Phase string

const (
	PhaseLobby   Phase = "lobby"
	PhaseBattle  Phase = "battle"
	PhaseResults Phase = "results"
)

// Team is the side a click is submitted for. Green pushes the price up, red pushes it down.
type Team string

const (
	TeamGreen Team = "green"
	TeamRed   Team = "red"
)

// ParseTeam accepts exactly "green" or "red".
func ParseTeam(s string) (Team, bool) {
	switch Team(s) {
	case TeamGreen, TeamRed:
		return Team(s), true
	}
	return "", false
}

// Direction is the sign of a price impact.
type Direction int

const (
	Up   Direction = 1
	Down Direction = -1
)

// Direction maps a team to the way its clicks move the price.
func (t Team) Direction() Direction {
	if t == TeamGreen {
		return Up
	}
	return Down
}

// Winner is the round outcome. The zero value means no round has finished yet.
type Winner string

const (
	WinnerNone  Winner = ""
	WinnerGreen Winner = "green"
	WinnerRed   Winner = "red"
	WinnerDraw  Winner = "draw"
)

// MarshalJSON encodes WinnerNone as null.
func (w Winner) MarshalJSON() ([]byte, error) {
	if w == WinnerNone {
		return []byte("null"), nil
	}
	return []byte(`"` + string(w) + `"`), nil
}

// Candle is a sealed OHLC record. It is never modified after Seal returns it.
type Candle struct {
	Open        decimal.Decimal `json:"open"`
	Close       decimal.Decimal `json:"close"`
	High        decimal.Decimal `json:"high"`
	Low         decimal.Decimal `json:"low"`
	IsGreen     bool            `json:"isGreen"`
	GreenClicks int             `json:"greenClicks"`
	RedClicks   int             `json:"redClicks"`
	Timestamp   int64           `json:"ts"` // seal time, unix ms
}

type Score struct {
	Green int `json:"green"`
	Red   int `json:"red"`
}

// Rules are the fixed game mechanics of a session. They are set once at process start.
type Rules struct {
	StartingPrice  decimal.Decimal
	PriceFloor     decimal.Decimal
	ClickImpact    decimal.Decimal
	PricePrecision int32

	MaxClicksPerWindow int
	RateWindow         time.Duration

	RoundDuration   time.Duration
	CandleDuration  time.Duration
	LobbyDuration   time.Duration
	ResultsDuration time.Duration
	TickInterval    time.Duration
}

func unixMilli(t *time.Time) *int64 {
	if t == nil {
		return nil
	}
	ms := t.UnixMilli()
	return &ms
}
