package server

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/gravitas-games/hacksim/internal/config"
	"github.com/gravitas-games/hacksim/internal/engine"
	"github.com/gravitas-games/hacksim/internal/metrics"
)

const redisPingTimeout = 2 * time.Second

// Option customizes a Server
type Option func(*Server)

// WithBlacklist replaces the Redis blacklist
func WithBlacklist(b Blacklist) Option {
	return func(s *Server) { s.blacklist = b }
}

// WithEngineOptions passes options to the simulation engine
func WithEngineOptions(opts ...engine.Option) Option {
	return func(s *Server) { s.engineOpts = append(s.engineOpts, opts...) }
}

// Server represents the game server
type Server struct {
	config   *config.Config
	session  *Session
	engine   *engine.Engine
	metrics  *metrics.Collector
	registry *prometheus.Registry
	upgrader websocket.Upgrader
	httpSrv  *http.Server

	blacklist  Blacklist
	redis      *RedisBlacklist
	engineOpts []engine.Option

	// Connection tracking
	connections map[*Connection]bool
	connMu      sync.RWMutex

	// Shutdown
	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a new server instance
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	log.Debug().Msg("Initializing server...")

	ctx, cancel := context.WithCancel(context.Background())

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	srv := &Server{
		config:      cfg,
		session:     NewSession(uuid.NewString()),
		metrics:     metrics.New(registry),
		registry:    registry,
		connections: make(map[*Connection]bool),
		ctx:         ctx,
		cancel:      cancel,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				// Classroom clients are served from anywhere on the LAN
				return true
			},
		},
	}

	for _, opt := range opts {
		opt(srv)
	}

	if srv.blacklist == nil && cfg.Redis.Address != "" {
		bl := NewRedisBlacklist(cfg.Redis)
		pingCtx, pingCancel := context.WithTimeout(ctx, redisPingTimeout)
		if err := bl.Ping(pingCtx); err != nil {
			log.Warn().Err(err).Str("address", cfg.Redis.Address).
				Msg("Redis unreachable, clients are admitted until the blacklist recovers")
		} else {
			log.Info().Str("address", cfg.Redis.Address).Msg("Connected to Redis blacklist")
		}
		pingCancel()
		srv.redis = bl
		srv.blacklist = bl
	}

	engineOpts := append([]engine.Option{engine.WithMetrics(srv.metrics)}, srv.engineOpts...)
	srv.engine = engine.New(cfg, srv.session, engineOpts...)

	log.Info().
		Str("session", srv.session.ID).
		Dur("tick", cfg.Game.TickInterval).
		Dur("cooldown", cfg.Game.Cooldown).
		Str("recovery", cfg.Recovery.Policy).
		Msg("Server initialized")

	return srv, nil
}

// Handler returns the HTTP routes
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/health", s.handleHealth)
	if s.config.Metrics.Enabled {
		mux.Handle(s.config.Metrics.Path, promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	}
	return mux
}

// Start begins listening for connections
func (s *Server) Start(addr string) error {
	s.httpSrv = &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	log.Info().Str("endpoint", "ws://"+addr+"/ws").Msg("WebSocket endpoint")
	log.Info().Str("endpoint", "http://"+addr+"/health").Msg("Health endpoint")

	if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}

	return nil
}

// Shutdown gracefully stops the server
func (s *Server) Shutdown() error {
	log.Info().Msg("Shutting down server...")

	// Cancel context to signal shutdown
	s.cancel()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if s.httpSrv != nil {
		if err := s.httpSrv.Shutdown(ctx); err != nil {
			log.Error().Err(err).Msg("HTTP server shutdown error")
		}
	}

	// Close all WebSocket connections
	s.connMu.RLock()
	conns := make([]*Connection, 0, len(s.connections))
	for conn := range s.connections {
		conns = append(conns, conn)
	}
	s.connMu.RUnlock()

	for _, conn := range conns {
		conn.Close()
	}

	s.engine.Shutdown()

	if s.redis != nil {
		if err := s.redis.Close(); err != nil {
			log.Error().Err(err).Msg("Redis close error")
		}
	}

	log.Info().Msg("Server shutdown complete")
	return nil
}

// handleWebSocket handles WebSocket connection requests
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	ip := remoteIP(r)

	if s.blacklist != nil {
		blocked, err := s.blacklist.Blocked(r.Context(), ip)
		if err != nil {
			// Do not lock the class out if Redis is down
			log.Warn().Err(err).Str("ip", ip).Msg("Blacklist lookup failed")
		} else if blocked {
			log.Info().Str("ip", ip).Msg("Blacklisted client refused")
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Debug().Err(err).Str("ip", ip).Msg("WebSocket upgrade failed")
		return
	}

	id := uuid.NewString()
	logger := log.With().Str("conn", id).Str("ip", ip).Logger()
	conn := NewConnection(id, ws, s, logger)

	s.connMu.Lock()
	s.connections[conn] = true
	s.connMu.Unlock()
	s.session.AddConnection(conn)

	logger.Info().Msg("WebSocket connection established")

	// Handle connection (blocking)
	conn.Handle()

	s.connMu.Lock()
	delete(s.connections, conn)
	s.connMu.Unlock()

	logger.Info().Msg("WebSocket connection closed")
}

// handleHealth handles health check requests
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	status := s.session.GetStatus(len(s.engine.PublicRoster()))

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"status":  "ok",
		"session": status,
	})
}
