package config

import "time"

/* =========================
   GAME MECHANICS
========================= */

const (
	// Price simulation
	StartingPrice  = "178.50" // decimal string, parsed once at startup
	PriceFloor     = "0.01"
	ClickImpact    = "0.02" // price move per accepted click
	PricePrecision = 4      // fractional digits kept after every click

	// Game timing
	RoundDuration   = 120 * time.Second
	CandleDuration  = 10 * time.Second
	LobbyDuration   = 15 * time.Second
	ResultsDuration = 8 * time.Second
	TickInterval    = 200 * time.Millisecond

	// Click rate limiting (fixed window per connection)
	MaxClicksPerWindow = 8
	RateWindow         = 1 * time.Second

	// Engine command queue
	CommandQueueSize = 4096
)

/* =========================
   REDIS CONFIGURATION
========================= */

const (
	// Live session snapshot (HASH), refreshed on every phase change and seal
	RedisSessionKey = "bulkwars:session"
	RedisSessionTTL = 10 * time.Minute

	// Finished round results are PUBLISHed here as JSON
	RedisRoundsChannel = "bulkwars:rounds"

	// Pending mirror writes before new ones are dropped
	RedisQueueSize = 256
	RedisOpTimeout = 2 * time.Second
)

/* =========================
   POSTGRESQL CONFIGURATION
========================= */

const (
	// Connection pool settings
	MaxOpenConns    = 25
	MaxIdleConns    = 5
	ConnMaxLifetime = 5 * time.Minute

	// Round archive writes run off the game loop with this budget
	ArchiveWriteTimeout = 5 * time.Second
	MaxRoundsPerQuery   = 100
)

/* =========================
   NATS CONFIGURATION
========================= */

const (
	NATSSubjectLobby        = "bulkwars.round.lobby"
	NATSSubjectRoundStarted = "bulkwars.round.started"
	NATSSubjectCandleSealed = "bulkwars.candle.sealed"
	NATSSubjectRoundEnded   = "bulkwars.round.ended"

	NATSReconnectWait = 2 * time.Second
	NATSMaxReconnects = -1 // retry forever
)

/* =========================
   API CONFIGURATION
========================= */

const (
	// Server settings
	ServerPort = "8080"
	ServerHost = "0.0.0.0"

	// CORS settings
	AllowOrigin = "*"

	ShutdownTimeout = 10 * time.Second
)

/* =========================
   WEBSOCKET CONFIGURATION
========================= */

const (
	// WebSocket settings
	WSReadDeadline  = 60 * time.Second
	WSWriteDeadline = 10 * time.Second
	WSPingInterval  = 30 * time.Second

	// Buffer sizes
	WSReadBufferSize  = 1024
	WSWriteBufferSize = 1024
	WSSendBufferSize  = 256 // queued outbound messages before a client is evicted

	// Message size limits
	MaxMessageSize = 1024 // inbound frames are tiny click envelopes
)
