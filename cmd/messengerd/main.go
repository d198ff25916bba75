package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/loqui/messenger/internal/config"
	"github.com/loqui/messenger/internal/conversation"
	"github.com/loqui/messenger/internal/gateway"
	"github.com/loqui/messenger/internal/identity"
	"github.com/loqui/messenger/internal/message"
	"github.com/loqui/messenger/internal/messaging"
	"github.com/loqui/messenger/internal/ratelimit"
	"github.com/loqui/messenger/internal/rest"
	"github.com/loqui/messenger/internal/session"
	"github.com/loqui/messenger/internal/ws"
	"github.com/loqui/messenger/migrations"
)

func main() {
	log.Println("Starting Loqui messaging engine...")

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	// --- Postgres ---
	db, err := sql.Open("postgres", cfg.Database.DSN)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.Database.ConnMaxLifetime)

	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := db.PingContext(pingCtx); err != nil {
		cancel()
		log.Fatalf("connect to database: %v", err)
	}
	cancel()

	if err := migrations.Up(db); err != nil {
		log.Fatalf("run migrations: %v", err)
	}

	// --- Redis ---
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	pingCtx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		cancel()
		log.Fatalf("connect to Redis: %v", err)
	}
	cancel()

	// --- NATS ---
	natsConfig := messaging.NATSConfig{URL: cfg.NATS.URL, Name: cfg.NATS.Name}
	natsClient, err := messaging.NewNATSClient(natsConfig)
	if err != nil {
		log.Fatalf("connect to NATS: %v", err)
	}

	instance, _ := os.Hostname()
	if v := os.Getenv("INSTANCE_NAME"); v != "" {
		instance = v
	}
	if instance == "" {
		instance = "messenger-1"
	}

	presence, err := session.NewPresenceStore(cfg.Redis.Addr, instance)
	if err != nil {
		log.Fatalf("connect presence store: %v", err)
	}

	// --- Stores ---
	verifier := identity.NewTokenVerifier(cfg.JWT.Secret, cfg.JWT.Issuer)
	// Participant IDs come from verified JWT subjects, so no directory
	// lookups are required here.
	convs := conversation.NewRegistry(db, nil)
	msgs := message.NewStore(db, convs)
	sessions := session.NewRegistry(cfg.Gateway.TypingTTL)
	limiter := ratelimit.NewLimiter(rdb)

	// --- WebSocket gateway ---
	wsConfig := ws.ServerConfig{
		ListenAddr:     cfg.Server.WSListenAddr,
		WorkerPoolSize: cfg.Server.WorkerPoolSize,
		MaxConnections: cfg.Server.MaxConnections,
		ReadTimeout:    cfg.Server.ReadTimeout,
		WriteTimeout:   cfg.Server.WriteTimeout,
		OutboundQueue:  cfg.Gateway.OutboundQueue,
		AuthTimeout:    cfg.Gateway.AuthTimeout,
	}

	var dispatcher *ws.MessageDispatcher
	wsServer := ws.NewServer(wsConfig, func(conn *ws.Connection, data []byte) {
		dispatcher.Dispatch(conn, data)
	})

	gw, d := gateway.New(gateway.Options{
		Server:   wsServer,
		Sessions: sessions,
		Presence: presence,
		Verifier: verifier,
		Convs:    convs,
		Msgs:     msgs,
		Limiter:  limiter,
		NATS:     natsClient,
		Instance: instance,
	})
	dispatcher = d

	if err := gw.Start(); err != nil {
		log.Fatalf("start gateway: %v", err)
	}

	// --- REST façade ---
	restServer := rest.NewServer(rest.Options{
		Convs:    convs,
		Msgs:     msgs,
		Verifier: verifier,
		Events:   gw,
		Limiter:  limiter,
	})
	httpServer := &http.Server{
		Addr:    cfg.Server.RESTListenAddr,
		Handler: restServer.Handler(),
	}
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("rest server: %v", err)
		}
	}()

	log.Printf("Loqui messaging engine running")
	log.Printf("  ws_listen_addr:   %s", cfg.Server.WSListenAddr)
	log.Printf("  rest_listen_addr: %s", cfg.Server.RESTListenAddr)
	log.Printf("  database:         connected")
	log.Printf("  redis_addr:       %s", cfg.Redis.Addr)
	log.Printf("  nats_url:         %s", cfg.NATS.URL)
	log.Printf("  instance:         %s", instance)

	// Graceful shutdown.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.Printf("received signal %v, initiating graceful shutdown...", sig)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Printf("rest shutdown error: %v", err)
		}

		gw.Stop()
		natsClient.Close()
		if err := wsServer.Shutdown(); err != nil {
			log.Printf("ws shutdown error: %v", err)
		}
		presence.Close()
		rdb.Close()
		db.Close()
		os.Exit(0)
	}()

	if err := wsServer.Start(); err != nil {
		log.Fatalf("ws server error: %v", err)
	}
}
