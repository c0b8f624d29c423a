package engine

import (
	"time"

	"github.com/jonboulle/clockwork"
)

// timerSet holds the timers of the active phase. A nil field means the timer
// is not armed; its select case then blocks forever.
type timerSet struct {
	lobby   clockwork.Timer
	round   clockwork.Timer
	candle  clockwork.Timer
	results clockwork.Timer
	tick    clockwork.Ticker
}

func (ts *timerSet) cancel() {
	for _, t := range []*clockwork.Timer{&ts.lobby, &ts.round, &ts.candle, &ts.results} {
		if *t != nil {
			stopAndDrainTimer(*t)
			*t = nil
		}
	}
	if ts.tick != nil {
		ts.tick.Stop()
		ts.tick = nil
	}
}

// stopAndDrainTimer stops a timer and empties its channel so a stale expiry
// can never be read later.
func stopAndDrainTimer(timer clockwork.Timer) {
	if !timer.Stop() {
		select {
		case <-timer.Chan():
		default:
		}
	}
}

func timerChan(t clockwork.Timer) <-chan time.Time {
	if t == nil {
		return nil
	}
	return t.Chan()
}

func tickerChan(t clockwork.Ticker) <-chan time.Time {
	if t == nil {
		return nil
	}
	return t.Chan()
}

func fired(t clockwork.Timer) bool {
	if t == nil {
		return false
	}
	select {
	case <-t.Chan():
		return true
	default:
		return false
	}
}

func ticked(t clockwork.Ticker) bool {
	if t == nil {
		return false
	}
	select {
	case <-t.Chan():
		return true
	default:
		return false
	}
}
