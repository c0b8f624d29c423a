// Package engine runs one session's phase scheduler. All session state is
// touched from a single event-loop goroutine; clicks, connects and timer
// expiries are serialized through it.
package engine

import (
	"context"
	"errors"
	"time"

	"bulkwars/game"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// ErrStopped is returned by calls that need the event loop after Run has returned.
var ErrStopped = errors.New("engine: stopped")

const defaultQueueSize = 1024

// Publisher delivers wire messages to observers. Implementations must not block.
type Publisher interface {
	Broadcast(msg Message)
	SendTo(connID string, msg Message)
}

// Sink observes every session event, including ones that never reach the wire.
// Observe is called from the event loop and must not block.
type Sink interface {
	Observe(ev game.Event)
}

// Options tune an Engine. The zero value runs on the real clock.
type Options struct {
	// Clock drives every timer. Tests pass a clockwork.FakeClock.
	Clock clockwork.Clock
	// Strict panics on session invariant violations instead of logging them.
	Strict bool
	// Sinks receive every event after it has been published.
	Sinks []Sink
	// QueueSize bounds pending commands. Clicks beyond it are dropped.
	QueueSize int
}

// Engine owns a game.Session and every timer that drives it.
type Engine struct {
	session *game.Session
	rules   game.Rules
	clock   clockwork.Clock
	pub     Publisher
	sinks   []Sink
	strict  bool

	cmds chan func()
	done chan struct{}

	timers timerSet
}

// New builds an engine. Nothing happens until Run is called.
func New(rules game.Rules, pub Publisher, opts Options) *Engine {
	clock := opts.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	size := opts.QueueSize
	if size <= 0 {
		size = defaultQueueSize
	}
	return &Engine{
		session: game.NewSession(rules),
		rules:   rules,
		clock:   clock,
		pub:     pub,
		sinks:   opts.Sinks,
		strict:  opts.Strict,
		cmds:    make(chan func(), size),
		done:    make(chan struct{}),
	}
}

// Run enters the lobby and processes commands and timers until ctx is done.
// It must be called exactly once.
func (e *Engine) Run(ctx context.Context) error {
	defer close(e.done)
	defer e.timers.cancel()

	e.transition(game.PhaseLobby)
	log.Info().Str("round_id", e.session.RoundID()).Msg("engine started")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("engine shutting down")
			return ctx.Err()

		case cmd := <-e.cmds:
			// A due timer always runs before the command that raced it.
			e.drainTimers()
			cmd()

		case <-timerChan(e.timers.lobby):
			e.timers.lobby = nil
			e.transition(game.PhaseBattle)

		case <-timerChan(e.timers.candle):
			e.timers.candle = nil
			e.onCandleDue()

		case <-timerChan(e.timers.round):
			e.timers.round = nil
			e.transition(game.PhaseResults)

		case <-timerChan(e.timers.results):
			e.timers.results = nil
			e.transition(game.PhaseLobby)

		case <-tickerChan(e.timers.tick):
			e.onTick()
		}
	}
}

// Connect registers an observer, broadcasts the new count and sends the
// observer its init snapshot.
func (e *Engine) Connect(connID string) {
	e.enqueueWait(func() {
		e.emit(e.session.Connect())
		e.pub.SendTo(connID, Message{Type: TypeInit, Data: e.session.Snapshot()})
	})
}

// Disconnect removes an observer and its rate-limit window.
func (e *Engine) Disconnect(connID string) {
	e.enqueueWait(func() {
		e.emit(e.session.Disconnect(connID))
	})
}

// Submit queues a click without waiting for the outcome. It reports false when
// the queue is full and the click was dropped.
func (e *Engine) Submit(connID, team string) bool {
	select {
	case e.cmds <- func() { _ = e.submit(connID, team) }:
		return true
	default:
		log.Debug().Str("conn_id", connID).Msg("command queue full, dropping click")
		return false
	}
}

// SubmitWait runs a click and returns why it was rejected, if it was.
func (e *Engine) SubmitWait(ctx context.Context, connID, team string) error {
	errc := make(chan error, 1)
	if err := e.do(ctx, func() { errc <- e.submit(connID, team) }); err != nil {
		return err
	}
	return <-errc
}

// Snapshot returns a copy of the current session state.
func (e *Engine) Snapshot(ctx context.Context) (game.Snapshot, error) {
	var snap game.Snapshot
	err := e.do(ctx, func() { snap = e.session.Snapshot() })
	return snap, err
}

func (e *Engine) submit(connID, team string) error {
	ev, err := e.session.Submit(connID, team, e.clock.Now())
	if err != nil {
		log.Debug().Err(err).Str("conn_id", connID).Str("team", team).Msg("click rejected")
		e.observe(game.ClickRejected{ConnID: connID, Team: team, Err: err})
		return err
	}
	e.emit(ev)
	return nil
}

// do runs fn on the event loop and waits for it to finish.
func (e *Engine) do(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	select {
	case e.cmds <- func() { fn(); close(finished) }:
	case <-e.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-finished:
		return nil
	case <-e.done:
		// Run may have exited between accepting the command and running it.
		select {
		case <-finished:
			return nil
		default:
			return ErrStopped
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// enqueueWait blocks until the loop accepts fn or has stopped. Registry
// changes use it so the observer count never drifts under load.
func (e *Engine) enqueueWait(fn func()) {
	select {
	case e.cmds <- fn:
	case <-e.done:
	}
}

// transition is the only place phases change. It cancels every outstanding
// timer before arming the next phase's set.
func (e *Engine) transition(next game.Phase) {
	e.timers.cancel()
	now := e.clock.Now()

	switch next {
	case game.PhaseLobby:
		e.emit(e.session.EnterLobby(now))
		e.timers.lobby = e.clock.NewTimer(e.rules.LobbyDuration)

	case game.PhaseBattle:
		ev, err := e.session.BeginBattle(now)
		if err != nil {
			e.violation(err)
			return
		}
		e.emit(ev)
		e.timers.round = e.clock.NewTimer(e.rules.RoundDuration)
		e.armCandle(now)
		e.timers.tick = e.clock.NewTicker(e.rules.TickInterval)

	case game.PhaseResults:
		ev, err := e.session.FinishRound(now)
		if err != nil {
			e.violation(err)
			return
		}
		e.emit(ev.Final)
		e.emit(ev)
		e.timers.results = e.clock.NewTimer(e.rules.ResultsDuration)
	}

	log.Info().
		Str("phase", string(next)).
		Str("round_id", e.session.RoundID()).
		Int("players", e.session.Observers()).
		Msg("phase changed")
}

// armCandle schedules the next periodic seal only when its boundary falls
// strictly before the round end. The round-end transition seals the last one.
func (e *Engine) armCandle(now time.Time) {
	end, ok := e.session.RoundEndsAt()
	if !ok || e.rules.CandleDuration <= 0 {
		return
	}
	if now.Add(e.rules.CandleDuration).Before(end) {
		e.timers.candle = e.clock.NewTimer(e.rules.CandleDuration)
	}
}

func (e *Engine) onCandleDue() {
	now := e.clock.Now()
	ev, err := e.session.Seal(now)
	if err != nil {
		e.violation(err)
		return
	}
	e.emit(ev)
	e.emit(e.session.SyncState())
	e.armCandle(now)
}

func (e *Engine) onTick() {
	if report, ok := e.session.Tick(); ok {
		e.emit(report)
	}
}

// drainTimers runs every timer that is already due, candle seals first.
func (e *Engine) drainTimers() {
	for {
		switch {
		case fired(e.timers.candle):
			e.timers.candle = nil
			e.onCandleDue()
		case fired(e.timers.round):
			e.timers.round = nil
			e.transition(game.PhaseResults)
		case fired(e.timers.lobby):
			e.timers.lobby = nil
			e.transition(game.PhaseBattle)
		case fired(e.timers.results):
			e.timers.results = nil
			e.transition(game.PhaseLobby)
		case ticked(e.timers.tick):
			e.onTick()
		default:
			return
		}
	}
}

func (e *Engine) emit(ev game.Event) {
	if msg, ok := toMessage(ev); ok {
		e.pub.Broadcast(msg)
	}
	e.observe(ev)
}

func (e *Engine) observe(ev game.Event) {
	for _, s := range e.sinks {
		s.Observe(ev)
	}
}

func (e *Engine) violation(err error) {
	if e.strict {
		panic(err)
	}
	log.Error().Err(err).Str("phase", string(e.session.Phase())).Msg("session invariant violated")
}
