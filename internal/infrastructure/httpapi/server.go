// Package httpapi exposes the Dispatcher Entry's command surface (§6) over
// HTTP: submit a lattice, poll a dispatch's Result, request cancellation,
// and stream Observer events over a websocket, in the teacher's gin-router
// embeddable-server shape.
package httpapi

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/latticerun/dispatcher/internal/application/dispatcher"
	"github.com/latticerun/dispatcher/internal/application/observer"
	"github.com/latticerun/dispatcher/internal/config"
	"github.com/latticerun/dispatcher/internal/infrastructure/logger"
	"github.com/latticerun/dispatcher/internal/infrastructure/storage"
)

// Server is the embeddable HTTP server fronting one Dispatcher.
type Server struct {
	cfg        *config.Config
	logger     *logger.Logger
	router     *gin.Engine
	httpServer *http.Server

	dispatcher *dispatcher.Dispatcher
	store      *storage.DispatchStore
	observers  *observer.Manager
	ws         *observer.WebSocketObserver
	upgrader   websocket.Upgrader
}

// New builds the router and wires the dispatch endpoints. store may be nil
// (GET /dispatches/:id then answers 503 "dispatch store not configured").
// ws may be nil to disable the websocket stream even if the
// config enables it elsewhere.
func New(cfg *config.Config, log *logger.Logger, d *dispatcher.Dispatcher, store *storage.DispatchStore, observers *observer.Manager, ws *observer.WebSocketObserver) *Server {
	if cfg.Server.CORS {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())

	s := &Server{
		cfg:        cfg,
		logger:     log,
		router:     router,
		dispatcher: d,
		store:      store,
		observers:  observers,
		ws:         ws,
		upgrader:   websocket.Upgrader{ReadBufferSize: 1024, WriteBufferSize: 1024, CheckOrigin: func(r *http.Request) bool { return true }},
	}

	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	return s
}

func (s *Server) setupRoutes() {
	if s.cfg.Server.CORS {
		s.router.Use(corsMiddleware(s.cfg.Server.CORSAllowedOrigins))
	}

	s.router.GET("/healthz", s.handleHealth)

	v1 := s.router.Group("/api/v1")
	v1.POST("/dispatches", s.handleSubmit)
	v1.GET("/dispatches/:id", s.handleGet)
	v1.POST("/dispatches/:id/cancel", s.handleCancel)
	if s.ws != nil {
		v1.GET("/dispatches/:id/stream", s.handleStream)
	}
}

// Run starts the server and blocks until ctx is done or the listener fails;
// when ctx is done it shuts the server down gracefully.
func (s *Server) Run(ctx context.Context) error {
	serverErrors := make(chan error, 1)
	go func() {
		s.logger.Info("dispatcher HTTP server starting", "host", s.cfg.Server.Host, "port", s.cfg.Server.Port)
		serverErrors <- s.httpServer.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if err == http.ErrServerClosed {
			return nil
		}
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.Server.ShutdownTimeout)
		defer cancel()
		return s.Shutdown(shutdownCtx)
	}
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Error("graceful shutdown failed", "error", err)
		return s.httpServer.Close()
	}
	return nil
}

// Router exposes the underlying gin engine for tests and for embedding
// additional routes.
func (s *Server) Router() *gin.Engine {
	return s.router
}

func corsMiddleware(allowedOrigins []string) gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if origin != "" && originAllowed(origin, allowedOrigins) {
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")
		}
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

func originAllowed(origin string, allowed []string) bool {
	if len(allowed) == 0 {
		return true
	}
	for _, a := range allowed {
		if a == "*" || a == origin {
			return true
		}
	}
	return false
}
