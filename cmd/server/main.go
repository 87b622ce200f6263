package main

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/xtrntr/brokerage/internal/api"
	"github.com/xtrntr/brokerage/internal/auth"
	"github.com/xtrntr/brokerage/internal/config"
	"github.com/xtrntr/brokerage/internal/db"
	"github.com/xtrntr/brokerage/internal/engine"
	"github.com/xtrntr/brokerage/internal/metrics"
	"github.com/xtrntr/brokerage/internal/oracle"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins in development
	},
}

type WSClient struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

var (
	clients   = make(map[*WSClient]bool)
	clientsMu sync.RWMutex
)

func broadcastQuotes(orc *oracle.Service, log *zap.SugaredLogger) {
	data, err := json.Marshal(map[string]interface{}{
		"quotes": orc.Quotes(),
	})
	if err != nil {
		log.Errorw("failed to marshal quotes", "err", err)
		return
	}

	clientsMu.RLock()
	defer clientsMu.RUnlock()
	var stale []*WSClient
	for client := range clients {
		client.mu.Lock()
		err := client.conn.WriteMessage(websocket.TextMessage, data)
		client.mu.Unlock()
		if err != nil {
			stale = append(stale, client)
		}
	}
	if len(stale) > 0 {
		go dropClients(stale)
	}
}

func dropClients(stale []*WSClient) {
	clientsMu.Lock()
	defer clientsMu.Unlock()
	for _, client := range stale {
		if clients[client] {
			delete(clients, client)
			metrics.WebSocketClients.Dec()
			client.conn.Close()
		}
	}
}

func handleWebSocket(orc *oracle.Service, log *zap.SugaredLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Errorw("failed to upgrade connection", "err", err)
			return
		}

		client := &WSClient{conn: conn}
		clientsMu.Lock()
		clients[client] = true
		clientsMu.Unlock()
		metrics.WebSocketClients.Inc()

		// Send initial quote snapshot
		broadcastQuotes(orc, log)

		// Keep connection alive and handle disconnection
		for {
			_, _, err := conn.ReadMessage()
			if err != nil {
				dropClients([]*WSClient{client})
				break
			}
		}
	}
}

// Main entry point: sets up database, price oracle, engine, and HTTP server
func main() {
	ctx := context.Background()

	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer logger.Sync()
	log := logger.Sugar()

	cfg := config.Load()

	// Initialize database connection
	store, err := db.NewPostgresStore(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalw("failed to connect to database", "err", err)
	}
	defer store.Close(ctx)

	// Optional redis quote mirror
	var rdb *redis.Client
	if cfg.RedisURL != "" {
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			log.Fatalw("invalid REDIS_URL", "err", err)
		}
		rdb = redis.NewClient(opts)
	}

	// Initialize price oracle and start the refresh cycle
	orc := oracle.NewService(oracle.NewCoinGeckoClient(cfg.CoinGeckoBaseURL), rdb, log)
	go orc.Run(ctx, cfg.PriceRefreshInterval)

	// Initialize order execution engine
	eng := engine.New(store, orc, log)

	// Initialize auth service
	authService := auth.NewAuthService(store, cfg.JWTSecret)

	// Initialize API handlers
	handler := api.NewHandler(store, eng, authService, orc, log)

	// Set up HTTP router
	r := chi.NewRouter()
	r.Use(metrics.Middleware)

	// Enable CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// Health and metrics
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	r.Method("GET", "/metrics", metrics.Handler())

	// WebSocket quote stream
	r.Get("/ws", handleWebSocket(orc, log))

	// Public endpoints
	r.Post("/auth/register", handler.Register)
	r.Post("/auth/login", handler.Login)
	r.Get("/instruments", handler.GetInstruments)

	// Protected endpoints (require JWT)
	r.Group(func(r chi.Router) {
		r.Use(handler.JWTAuthMiddleware)
		r.Post("/orders", handler.PlaceOrder)
		r.Get("/orders", handler.GetUserOrders)
		r.Get("/wallet/balance", handler.GetBalance)
		r.Post("/wallet/balance", handler.UpdateBalance)
		r.Get("/portfolio", handler.GetPortfolio)
		r.Post("/favorites", handler.AddFavorite)
		r.Get("/favorites", handler.GetFavorites)
		r.Delete("/favorites/{symbol}", handler.RemoveFavorite)
	})

	// Push fresh quotes to websocket clients
	go func() {
		ticker := time.NewTicker(5 * time.Second)
		for range ticker.C {
			broadcastQuotes(orc, log)
		}
	}()

	// Start server
	log.Infow("starting server", "addr", cfg.Addr)
	if err := http.ListenAndServe(cfg.Addr, r); err != nil {
		log.Fatalw("server failed", "err", err)
	}
}
