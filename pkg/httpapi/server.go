// Package httpapi exposes a read-mostly REST surface next to the TCP
// chat server: account registration, friend and group queries, message
// history and presence.
package httpapi

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/chatwire/chatwire/pkg/server"
	"github.com/chatwire/chatwire/pkg/store"
)

// Config holds API server configuration
type Config struct {
	Port         int
	EnableCORS   bool
	RateLimit    int // requests per minute per IP
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultConfig returns default API server configuration
func DefaultConfig() *Config {
	return &Config{
		Port:         8080,
		EnableCORS:   true,
		RateLimit:    100,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
}

// Deps bundles the collaborators the handlers query
type Deps struct {
	Users    *store.UserStore
	Friends  *store.FriendStore
	Groups   *store.GroupStore
	Messages *store.MessageStore
	Presence *store.Presence
	Registry server.Registry
}

// Server is the HTTP API server
type Server struct {
	deps       Deps
	router     *gin.Engine
	port       int
	httpServer *http.Server
}

// NewServer creates an API server over the given collaborators
func NewServer(deps Deps, config *Config) *Server {
	if config == nil {
		config = DefaultConfig()
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	s := &Server{
		deps:   deps,
		router: router,
		port:   config.Port,
	}

	s.setupMiddleware(config)
	s.setupRoutes()

	return s
}

func (s *Server) setupMiddleware(config *Config) {
	if config.EnableCORS {
		s.router.Use(CORSMiddleware())
	}
	s.router.Use(RateLimitMiddleware(config.RateLimit))
	s.router.Use(LoggingMiddleware())
	s.router.Use(gin.Recovery())
}

func (s *Server) setupRoutes() {
	v1 := s.router.Group("/im/v1")
	{
		users := v1.Group("/users")
		{
			users.POST("/register", s.handleRegister)
			users.GET("/:userId", s.handleUserInfo)
			users.GET("/:userId/online", s.handleUserOnline)
			users.GET("/:userId/friends", s.handleFriendList)
			users.GET("/:userId/friends/requests", s.handleFriendRequests)
			users.GET("/:userId/groups", s.handleUserGroups)
			users.GET("/:userId/messages/history", s.handleMessageHistory)
		}

		friends := v1.Group("/friends")
		{
			friends.POST("/request", s.handleFriendRequestSend)
			friends.POST("/request/handle", s.handleFriendRequestHandle)
		}

		groups := v1.Group("/groups")
		{
			groups.GET("/:groupId", s.handleGroupInfo)
			groups.GET("/:groupId/members", s.handleGroupMembers)
			groups.GET("/:groupId/messages/history", s.handleGroupHistory)
		}

		v1.GET("/stats", s.handleStats)
	}

	s.router.GET("/health", s.handleHealth)
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))
}

// Start runs the server until ctx is cancelled, then shuts down
// gracefully
func (s *Server) Start(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", s.port),
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("http api listening on port %d", s.port)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("http api server error: %v", err)
		}
	}()

	<-ctx.Done()

	log.Println("shutting down http api server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(shutdownCtx)
}

// Stop shuts the server down without waiting for a context
func (s *Server) Stop() error {
	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(ctx)
	}
	return nil
}
