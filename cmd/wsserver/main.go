package main

import (
	"context"
	"database/sql"
	"log"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/teamchat/chat-app/internal/auth"
	"github.com/teamchat/chat-app/internal/channel"
	"github.com/teamchat/chat-app/internal/chat"
	"github.com/teamchat/chat-app/internal/hub"
	"github.com/teamchat/chat-app/internal/messaging"
	"github.com/teamchat/chat-app/internal/metrics"
	"github.com/teamchat/chat-app/internal/presence"
	"github.com/teamchat/chat-app/internal/ratelimit"
	"github.com/teamchat/chat-app/internal/room"
	"github.com/teamchat/chat-app/internal/ws"
)

const lockStripes = 256

func main() {
	config := ws.DefaultServerConfig()

	if addr := os.Getenv("LISTEN_ADDR"); addr != "" {
		config.ListenAddr = addr
	}
	if v := os.Getenv("WORKER_POOL_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			config.WorkerPoolSize = n
		}
	}
	if v := os.Getenv("MAX_CONNECTIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			config.MaxConnections = n
		}
	}
	if v := os.Getenv("READ_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			config.ReadTimeout = d
		}
	}
	if v := os.Getenv("WRITE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			config.WriteTimeout = d
		}
	}
	if v := os.Getenv("SEND_QUEUE_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			config.SendQueueSize = n
		}
	}

	authConfig := auth.DefaultConfig()
	if v := os.Getenv("JWT_SECRET"); v != "" {
		authConfig.Secret = v
	}
	if v, ok := os.LookupEnv("JWT_ISSUER"); ok {
		authConfig.Issuer = v
	}

	pageSize := chat.DefaultPageSize
	if v := os.Getenv("HISTORY_PAGE_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= chat.MaxPageSize {
			pageSize = n
		}
	}

	serverName, _ := os.Hostname()
	if v := os.Getenv("SERVER_NAME"); v != "" {
		serverName = v
	}
	if serverName == "" {
		serverName = "ws-1"
	}

	natsURL := os.Getenv("NATS_URL")
	redisAddr := os.Getenv("REDIS_ADDR")
	databaseURL := os.Getenv("DATABASE_URL")

	log.Printf("TeamChat WebSocket server starting")
	log.Printf("  listen_addr:     %s", config.ListenAddr)
	log.Printf("  worker_pool:     %d", config.WorkerPoolSize)
	log.Printf("  max_connections: %d", config.MaxConnections)
	log.Printf("  read_timeout:    %s", config.ReadTimeout)
	log.Printf("  write_timeout:   %s", config.WriteTimeout)
	log.Printf("  send_queue:      %d", config.SendQueueSize)
	log.Printf("  nats_url:        %s", orDisabled(natsURL))
	log.Printf("  redis_addr:      %s", orDisabled(redisAddr))
	log.Printf("  database:        %s", orDisabled(redactURL(databaseURL)))
	log.Printf("  history_page:    %d", pageSize)
	log.Printf("  server_name:     %s", serverName)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Postgres ---
	var (
		store    chat.Store        = chat.NewMemoryStore(0)
		channels channel.Directory = channel.Open{}
	)
	if databaseURL != "" {
		db, err := sql.Open("postgres", databaseURL)
		if err != nil {
			log.Fatalf("failed to open database: %v", err)
		}
		defer db.Close()
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err = db.PingContext(pingCtx)
		cancel()
		if err != nil {
			log.Fatalf("failed to connect to database: %v", err)
		}
		if err := chat.Migrate(db); err != nil {
			log.Fatalf("failed to migrate database: %v", err)
		}
		store = chat.NewPostgresStore(db)
		channels = channel.NewPostgres(db)
	}

	// --- Redis ---
	var (
		directory    presence.Directory
		messageLimit chat.Throttle
		typingLimit  hub.Throttle
		connectLimit ws.Throttle
	)
	if redisAddr != "" {
		redisClient := redis.NewClient(&redis.Options{Addr: redisAddr})
		defer redisClient.Close()
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := redisClient.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			log.Fatalf("failed to connect to Redis: %v", err)
		}
		limiter := ratelimit.NewLimiter(redisClient)
		messageLimit = limiter.Bind(ratelimit.RuleMessage)
		typingLimit = limiter.Bind(ratelimit.RuleTyping)
		connectLimit = limiter.Bind(ratelimit.RuleConnect)
		directory = presence.NewRedisDirectory(redisClient, serverName)
	}

	// --- Core ---
	router := room.NewRouter(lockStripes)
	tracker := presence.NewTracker(presence.NewRegistry(lockStripes), directory)

	// --- NATS ---
	var natsClient *messaging.NATSClient
	if natsURL != "" {
		natsConfig := messaging.DefaultNATSConfig()
		natsConfig.URL = natsURL
		natsConfig.Name = "teamchat-" + serverName
		var err error
		natsClient, err = messaging.NewNATSClient(natsConfig)
		if err != nil {
			log.Fatalf("failed to connect to NATS: %v", err)
		}
		defer natsClient.Close()
	}
	fanout := messaging.NewFanout(natsClient, router)
	if err := fanout.Start(); err != nil {
		log.Fatalf("failed to subscribe to room events: %v", err)
	}

	pipeline := chat.NewPipeline(chat.PipelineConfig{
		Store:       store,
		Channels:    channels,
		Broadcaster: fanout,
		Throttle:    messageLimit,
		Stripes:     lockStripes,
	})
	h := hub.New(hub.Config{
		Tracker:        tracker,
		Router:         router,
		Pipeline:       pipeline,
		History:        chat.NewHistory(store, channels, pageSize),
		Channels:       channels,
		Publisher:      fanout,
		TypingThrottle: typingLimit,
	})

	// --- WebSocket server ---
	verifier := auth.NewJWTVerifier(authConfig)
	dispatcher := ws.NewMessageDispatcher()
	h.Register(dispatcher)

	server := ws.NewServer(config, verifier, dispatcher.Dispatch)
	server.SetOnConnect(func(c *ws.Connection) { h.Connect(c) })
	server.SetOnDisconnect(func(c *ws.Connection) { h.Disconnect(c) })
	if connectLimit != nil {
		server.SetThrottle(connectLimit)
	}
	server.Handle("/metrics", metrics.Handler())
	server.Handle("GET /api/channels/{id}/messages", h.HistoryHandler(verifier))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		tracker.Run(gctx)
		return nil
	})
	g.Go(server.Start)
	g.Go(func() error {
		<-gctx.Done()
		log.Printf("shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Printf("server error: %v", err)
	}
	if natsClient != nil {
		if err := natsClient.Flush(); err != nil {
			log.Printf("nats flush error: %v", err)
		}
	}
	log.Printf("server stopped")
}

func orDisabled(v string) string {
	if v == "" {
		return "(disabled)"
	}
	return v
}

func redactURL(raw string) string {
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "(unparseable)"
	}
	return u.Redacted()
}
