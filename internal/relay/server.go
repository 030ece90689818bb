package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/nan0silver/AIBitcoinTrading/internal/bus"
	"github.com/nan0silver/AIBitcoinTrading/internal/connection"
	"github.com/nan0silver/AIBitcoinTrading/internal/model"
	"github.com/nan0silver/AIBitcoinTrading/internal/poller"
	"github.com/nan0silver/AIBitcoinTrading/internal/session"
)

// State is the session surface the relay serves.
type State interface {
	Snapshot(domain model.Domain) (model.StateEntry, bool)
	SnapshotAll() []model.StateEntry
	Subscribe(domain model.Domain, listener bus.Listener) (unsubscribe func(), err error)
	Health() session.Health
	Streams() map[model.Channel]connection.ChannelStats
	Polls() map[model.Domain]poller.TaskStats
	SetChartInterval(interval string) error
	Refresh(domain model.Domain) error
}

// Actions are the one-shot backend calls passed through to the UI.
type Actions interface {
	AIAnalysis(ctx context.Context, includeBalance bool) (json.RawMessage, error)
	ManualTrade(ctx context.Context, decision string, percentage int) (json.RawMessage, error)
	AITrade(ctx context.Context) (json.RawMessage, error)
}

// Config holds relay settings.
type Config struct {
	Port           int
	AllowedOrigins []string      // empty allows any origin
	WriteTimeout   time.Duration // Default: 5s
	PingInterval   time.Duration // Default: 30s
	SendBuffer     int           // Default: 256; a client this far behind is dropped
	Debug          bool          // gin debug mode
}

// DefaultConfig returns default configuration.
func DefaultConfig() Config {
	return Config{
		Port:         8080,
		WriteTimeout: 5 * time.Second,
		PingInterval: 30 * time.Second,
		SendBuffer:   256,
	}
}

// Server is the relay HTTP server.
type Server struct {
	cfg      Config
	state    State
	actions  Actions
	logger   *slog.Logger
	engine   *gin.Engine
	upgrader websocket.Upgrader
	srv      *http.Server

	mu      sync.Mutex
	clients map[*client]struct{}
	closed  bool
}

// New creates a relay server. actions may be nil, which disables the
// action routes.
func New(cfg Config, state State, actions Actions, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultConfig()
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = def.PingInterval
	}
	if cfg.SendBuffer < 1 {
		cfg.SendBuffer = def.SendBuffer
	}

	if !cfg.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		cfg:     cfg,
		state:   state,
		actions: actions,
		logger:  logger.With("component", "relay"),
		engine:  gin.New(),
		clients: make(map[*client]struct{}),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}

	s.engine.Use(gin.Recovery(), s.requestLogger(), s.cors())
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.engine.GET("/health", s.getHealth)

	api := s.engine.Group("/api")
	api.GET("/state", s.getState)
	api.GET("/state/:domain", s.getDomain)
	api.GET("/connections", s.getConnections)
	api.POST("/chart-interval", s.postChartInterval)
	api.POST("/refresh/:domain", s.postRefresh)

	if s.actions != nil {
		actions := api.Group("/actions")
		actions.POST("/ai-analysis", s.postAIAnalysis)
		actions.POST("/manual-trade", s.postManualTrade)
		actions.POST("/ai-trade", s.postAITrade)
	}

	s.engine.GET("/ws", s.handleWebSocket)
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Start listens on cfg.Port until Shutdown. It returns nil after a
// clean shutdown.
func (s *Server) Start() error {
	s.mu.Lock()
	s.srv = &http.Server{
		Addr:              fmt.Sprintf(":%d", s.cfg.Port),
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	srv := s.srv
	s.mu.Unlock()

	s.logger.Info("relay listening", "addr", srv.Addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("relay server: %w", err)
	}
	return nil
}

// Shutdown stops accepting requests and disconnects every WebSocket
// client.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed = true
	srv := s.srv
	clients := make([]*client, 0, len(s.clients))
	for c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.Unlock()

	for _, c := range clients {
		c.close()
	}

	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

// Clients returns the number of connected WebSocket clients.
func (s *Server) Clients() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

func (s *Server) register(c *client) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.clients[c] = struct{}{}
	return true
}

func (s *Server) unregister(c *client) {
	s.mu.Lock()
	delete(s.clients, c)
	s.mu.Unlock()
}

func (s *Server) checkOrigin(r *http.Request) bool {
	if len(s.cfg.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	return origin == "" || slices.Contains(s.cfg.AllowedOrigins, origin)
}

func (s *Server) cors() gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if origin != "" && s.checkOrigin(c.Request) {
			c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
			c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, Accept")
			c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		}

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("request",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration", time.Since(start),
		)
	}
}
