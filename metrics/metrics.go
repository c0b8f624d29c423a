// Package metrics exposes game counters to Prometheus.
package metrics

import (
	"errors"
	"net/http"

	"bulkwars/game"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "bulkwars"

// HubStats is the part of the websocket hub the collector reads.
type HubStats interface {
	Len() int
	Evictions() uint64
	Sent() uint64
}

// Collector counts session events. It implements engine.Sink.
type Collector struct {
	registry *prometheus.Registry

	clicksAccepted *prometheus.CounterVec
	clicksRejected *prometheus.CounterVec
	candlesSealed  *prometheus.CounterVec
	roundsFinished *prometheus.CounterVec
	observers      prometheus.Gauge
	phase          *prometheus.GaugeVec
}

// New registers every metric on a fresh registry, along with the Go runtime
// and process collectors.
func New() *Collector {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Collector{
		registry: reg,
		clicksAccepted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "clicks_accepted_total",
			Help:      "Accepted clicks by team.",
		}, []string{"team"}),
		clicksRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "clicks_rejected_total",
			Help:      "Dropped clicks by reason.",
		}, []string{"reason"}),
		candlesSealed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "candles_sealed_total",
			Help:      "Sealed candles by colour.",
		}, []string{"color"}),
		roundsFinished: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rounds_finished_total",
			Help:      "Finished rounds by winner.",
		}, []string{"winner"}),
		observers: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "observers",
			Help:      "Connected observers as counted by the session.",
		}),
		phase: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "phase",
			Help:      "1 for the active phase, 0 otherwise.",
		}, []string{"phase"}),
	}
}

// WatchHub exports the hub's connection and delivery counters.
func (c *Collector) WatchHub(h HubStats) {
	factory := promauto.With(c.registry)
	factory.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "ws",
		Name:      "clients",
		Help:      "Registered websocket clients.",
	}, func() float64 { return float64(h.Len()) })
	factory.NewCounterFunc(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "ws",
		Name:      "evictions_total",
		Help:      "Clients disconnected for a full send queue.",
	}, func() float64 { return float64(h.Evictions()) })
	factory.NewCounterFunc(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "ws",
		Name:      "frames_queued_total",
		Help:      "Outbound frames queued to clients.",
	}, func() float64 { return float64(h.Sent()) })
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

// Observe implements engine.Sink.
func (c *Collector) Observe(ev game.Event) {
	switch ev := ev.(type) {
	case game.ClickApplied:
		c.clicksAccepted.WithLabelValues(string(ev.Team)).Inc()
	case game.ClickRejected:
		c.clicksRejected.WithLabelValues(rejectReason(ev.Err)).Inc()
	case game.CandleSealed:
		color := "red"
		if ev.Candle.IsGreen {
			color = "green"
		}
		c.candlesSealed.WithLabelValues(color).Inc()
	case game.RoundEnded:
		c.roundsFinished.WithLabelValues(string(ev.Winner)).Inc()
		c.setPhase(game.PhaseResults)
	case game.LobbyStarted:
		c.setPhase(game.PhaseLobby)
	case game.BattleStarted:
		c.setPhase(game.PhaseBattle)
	case game.PlayersChanged:
		c.observers.Set(float64(ev.Players))
	}
}

func (c *Collector) setPhase(active game.Phase) {
	for _, p := range []game.Phase{game.PhaseLobby, game.PhaseBattle, game.PhaseResults} {
		v := 0.0
		if p == active {
			v = 1
		}
		c.phase.WithLabelValues(string(p)).Set(v)
	}
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, game.ErrWrongPhase):
		return "wrong_phase"
	case errors.Is(err, game.ErrInvalidTeam):
		return "invalid_team"
	case errors.Is(err, game.ErrRateLimited):
		return "rate_limited"
	default:
		return "other"
	}
}
