package main

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// battleServer sends init in battle and counts click frames by team.
type battleServer struct {
	mu     sync.Mutex
	clicks map[string]int
}

func (s *battleServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := (&websocket.Upgrader{}).Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"init","data":{"phase":"battle"}}`))
	for {
		var msg clickMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}
		if msg.Type == "click" {
			s.mu.Lock()
			s.clicks[msg.Data.Team]++
			s.mu.Unlock()
		}
	}
}

func TestSwarmClicksDuringBattle(t *testing.T) {
	srv := &battleServer{clicks: make(map[string]int)}
	ts := httptest.NewServer(srv)
	defer ts.Close()
	url := "ws" + strings.TrimPrefix(ts.URL, "http")

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	total, err := swarm(ctx, url, 2, "mixed", 50)
	if err != nil {
		t.Fatalf("swarm failed: %v", err)
	}
	if total.Sent == 0 {
		t.Fatal("Expected clicks to be sent")
	}
	if total.Received["init"] != 2 {
		t.Errorf("Expected 2 init messages, got %d", total.Received["init"])
	}

	// Writes that raced the close may not have been read.
	time.Sleep(50 * time.Millisecond)
	srv.mu.Lock()
	defer srv.mu.Unlock()
	if srv.clicks["green"] == 0 || srv.clicks["red"] == 0 {
		t.Errorf("Expected clicks from both teams, got %v", srv.clicks)
	}
}

func TestBotTracksPhase(t *testing.T) {
	b := newBot(0, "", "green", 1)

	steps := []struct {
		msg  serverMessage
		want bool
	}{
		{serverMessage{Type: "init", Data: []byte(`{"phase":"lobby"}`)}, false},
		{serverMessage{Type: "battle_start"}, true},
		{serverMessage{Type: "tick"}, true},
		{serverMessage{Type: "round_end"}, false},
		{serverMessage{Type: "state_update", Data: []byte(`{"phase":"battle"}`)}, true},
		{serverMessage{Type: "lobby"}, false},
	}
	for _, s := range steps {
		b.handle(s.msg)
		if got := b.battle(); got != s.want {
			t.Errorf("after %s: expected battle=%v, got %v", s.msg.Type, s.want, got)
		}
	}
	if b.received["init"] != 1 || b.received["tick"] != 1 {
		t.Errorf("unexpected counts %v", b.received)
	}
}

func TestMixedTeams(t *testing.T) {
	if got := newBot(0, "", "mixed", 1).team; got != "green" {
		t.Errorf("Expected even bot green, got %s", got)
	}
	if got := newBot(1, "", "mixed", 1).team; got != "red" {
		t.Errorf("Expected odd bot red, got %s", got)
	}
	if got := newBot(1, "", "red", 4).interval; got != 250*time.Millisecond {
		t.Errorf("Expected 250ms interval, got %v", got)
	}
}
