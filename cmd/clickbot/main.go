// Command clickbot connects simulated players to a running server and clicks
// during battles. It is a smoke and load tool for the websocket protocol.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

func main() {
	url := flag.String("url", "ws://localhost:8080/ws", "server websocket URL")
	bots := flag.Int("bots", 10, "number of simulated players")
	rate := flag.Float64("rate", 5, "clicks per second per bot")
	team := flag.String("team", "mixed", "green, red or mixed")
	duration := flag.Duration("duration", time.Minute, "how long to play")
	flag.Parse()

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	if *bots <= 0 || *rate <= 0 {
		log.Fatal().Msg("bots and rate must be positive")
	}
	switch *team {
	case "green", "red", "mixed":
	default:
		log.Fatal().Str("team", *team).Msg("unknown team")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithTimeout(ctx, *duration)
	defer cancel()

	total, err := swarm(ctx, *url, *bots, *team, *rate)
	if err != nil {
		log.Error().Err(err).Msg("swarm failed")
	}

	types := make([]string, 0, len(total.Received))
	for k := range total.Received {
		types = append(types, k)
	}
	sort.Strings(types)
	ev := log.Info().Int("bots", *bots).Int("clicks_sent", total.Sent)
	for _, k := range types {
		ev = ev.Int(k, total.Received[k])
	}
	ev.Msg("done")
}

// swarm runs n bots until ctx is done and sums their stats.
func swarm(ctx context.Context, url string, n int, team string, rate float64) (Stats, error) {
	var (
		mu    sync.Mutex
		total Stats
	)
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < n; i++ {
		b := newBot(i, url, team, rate)
		g.Go(func() error {
			stats, err := b.run(ctx)
			if err != nil {
				return err
			}
			mu.Lock()
			total.merge(stats)
			mu.Unlock()
			return nil
		})
	}
	err := g.Wait()
	return total, err
}
