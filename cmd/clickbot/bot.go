package main

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

type serverMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type clickMessage struct {
	Type string    `json:"type"`
	Data clickTeam `json:"data"`
}

type clickTeam struct {
	Team string `json:"team"`
}

// Stats is what one bot saw and did.
type Stats struct {
	Sent     int
	Received map[string]int
}

func (s *Stats) merge(o Stats) {
	s.Sent += o.Sent
	if s.Received == nil {
		s.Received = make(map[string]int)
	}
	for k, v := range o.Received {
		s.Received[k] += v
	}
}

// bot is one simulated player. It clicks at a fixed rate while the server
// reports a battle and counts every message type it receives.
type bot struct {
	id       int
	url      string
	team     string
	interval time.Duration

	mu       sync.Mutex
	inBattle bool
	received map[string]int
}

func newBot(id int, url, team string, rate float64) *bot {
	if team == "mixed" {
		team = "green"
		if id%2 == 1 {
			team = "red"
		}
	}
	return &bot{
		id:       id,
		url:      url,
		team:     team,
		interval: time.Duration(float64(time.Second) / rate),
		received: make(map[string]int),
	}
}

// run plays until ctx is done or the server closes the connection.
func (b *bot) run(ctx context.Context) (Stats, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, b.url, nil)
	if err != nil {
		return Stats{}, fmt.Errorf("bot %d: dial: %w", b.id, err)
	}
	defer conn.Close()

	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		b.readLoop(conn)
	}()

	// Jitter the first click so bots do not fire in lockstep.
	first := time.Duration(rand.Int64N(int64(b.interval) + 1))
	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()
	select {
	case <-time.After(first):
	case <-ctx.Done():
	}

	sent := 0
loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case <-readDone:
			break loop
		case <-ticker.C:
			if !b.battle() {
				continue
			}
			conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := conn.WriteJSON(clickMessage{Type: "click", Data: clickTeam{Team: b.team}}); err != nil {
				log.Debug().Err(err).Int("bot", b.id).Msg("click write failed")
				break loop
			}
			sent++
		}
	}

	conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	conn.Close()
	<-readDone

	b.mu.Lock()
	defer b.mu.Unlock()
	received := make(map[string]int, len(b.received))
	for k, v := range b.received {
		received[k] = v
	}
	return Stats{Sent: sent, Received: received}, nil
}

func (b *bot) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var msg serverMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			log.Debug().Err(err).Int("bot", b.id).Msg("bad server message")
			continue
		}
		b.handle(msg)
	}
}

func (b *bot) handle(msg serverMessage) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.received[msg.Type]++

	switch msg.Type {
	case "battle_start":
		b.inBattle = true
	case "round_end", "lobby":
		b.inBattle = false
	case "init", "state_update":
		var state struct {
			Phase string `json:"phase"`
		}
		if json.Unmarshal(msg.Data, &state) == nil && state.Phase != "" {
			b.inBattle = state.Phase == "battle"
		}
	}
}

func (b *bot) battle() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.inBattle
}
