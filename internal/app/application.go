package app

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	"counselchat/internal/api"
	"counselchat/internal/auth"
	"counselchat/internal/chat"
	"counselchat/internal/config"
	"counselchat/internal/database"
	"counselchat/internal/hub"
	"counselchat/internal/router"
	"counselchat/internal/websocket"
)

const socketDrainTimeout = 5 * time.Second

// Application owns every component and their start/stop order
type Application struct {
	config      *config.Config
	dbManager   *database.Manager
	registry    *websocket.Registry
	hub         *hub.Hub
	chat        *chat.Service
	auth        *auth.Authenticator
	users       *database.UserDirectory
	router      *router.Router
	apiServer   *api.Server
	httpServer  *http.Server
	mu          sync.Mutex
	listenAddr  string
	serveErrors chan error
}

// NewApplication builds the component graph:
// database → stores → registry → hub → chat → auth → router → socket handler → API
func NewApplication(cfg *config.Config) (*Application, error) {
	if cfg == nil {
		return nil, fmt.Errorf("configuration is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	dbManager, err := database.NewManager(cfg.DatabaseSettings())
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database manager: %w", err)
	}
	if err := dbManager.Migrate(); err != nil {
		_ = dbManager.Close()
		return nil, fmt.Errorf("failed to apply database migrations: %w", err)
	}
	log.Println("Database migrations applied successfully")

	users := database.NewUserDirectory(dbManager)
	registry := websocket.NewRegistry()
	broadcastHub := hub.NewHub(registry, cfg.RateLimit.Window)

	chatService := chat.NewService(
		database.NewRoomDirectory(dbManager),
		database.NewMessageStore(dbManager),
		database.NewReadTracker(dbManager),
		users,
		broadcastHub,
		chat.Options{
			MaxMessageLength: cfg.Chat.MaxMessageLength,
			DefaultPageSize:  cfg.Chat.DefaultPageSize,
			MaxPageSize:      cfg.Chat.MaxPageSize,
		},
	)

	authenticator := auth.NewAuthenticator(cfg.Auth.JWTSecret, users, cfg.Auth.ProfileCacheTTL)
	limiter := router.NewRateLimiter(cfg.RateLimit.Actions, cfg.RateLimit.Window)
	eventRouter := router.NewRouter(registry, chatService, broadcastHub, limiter)

	broadcastHub.AddSweeper(limiter.Cleanup)
	broadcastHub.AddSweeper(authenticator.Cleanup)

	wsHandler := websocket.NewHandler(registry, authenticator, chatService, eventRouter, websocket.Options{
		AllowedOrigins: cfg.HTTP.AllowedOrigins,
		PingInterval:   cfg.WebSocket.PingInterval,
		ReadTimeout:    cfg.WebSocket.ReadTimeout,
		MaxMessageSize: cfg.WebSocket.MaxMessageSize,
	})

	apiServer := api.NewServer(chatService, authenticator, dbManager, registry, wsHandler.HandleWebSocket, cfg.HTTP.AllowedOrigins)

	httpServer := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      apiServer,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
	}

	return &Application{
		config:      cfg,
		dbManager:   dbManager,
		registry:    registry,
		hub:         broadcastHub,
		chat:        chatService,
		auth:        authenticator,
		users:       users,
		router:      eventRouter,
		apiServer:   apiServer,
		httpServer:  httpServer,
		listenAddr:  cfg.Addr(),
		serveErrors: make(chan error, 1),
	}, nil
}

// Start runs the hub and begins serving HTTP. It returns once the
// listener is bound.
func (app *Application) Start(ctx context.Context) error {
	if err := app.hub.Start(ctx); err != nil {
		return fmt.Errorf("failed to start broadcast hub: %w", err)
	}

	listener, err := net.Listen("tcp", app.httpServer.Addr)
	if err != nil {
		_ = app.hub.Stop()
		return fmt.Errorf("failed to listen on %s: %w", app.httpServer.Addr, err)
	}
	app.mu.Lock()
	app.listenAddr = listener.Addr().String()
	app.mu.Unlock()

	go func() {
		if err := app.httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
			app.serveErrors <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	log.Printf("Counsel chat listening on %s", app.GetAddr())
	return nil
}

// Errors reports a fatal serve error after Start
func (app *Application) Errors() <-chan error {
	return app.serveErrors
}

// Stop shuts down in reverse order: HTTP, sockets, hub, database
func (app *Application) Stop(ctx context.Context) error {
	log.Printf("Shutting down counsel chat")

	if err := app.httpServer.Shutdown(ctx); err != nil {
		log.Printf("HTTP server shutdown error: %v", err)
	}

	// Shutdown does not touch hijacked connections.
	if n := app.registry.CloseAll(); n > 0 {
		log.Printf("Closed %d websocket connections", n)
		app.waitForSockets(ctx)
	}

	if err := app.hub.Stop(); err != nil && err != hub.ErrHubNotRunning {
		log.Printf("Broadcast hub shutdown error: %v", err)
	}
	if err := app.dbManager.Close(); err != nil {
		log.Printf("Database shutdown error: %v", err)
	}

	log.Printf("Shutdown complete")
	return nil
}

// waitForSockets lets read pumps unregister before the database closes
func (app *Application) waitForSockets(ctx context.Context) {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	deadline := time.After(socketDrainTimeout)

	for app.registry.GetStats()["total_connections"] > 0 {
		select {
		case <-ticker.C:
		case <-deadline:
			log.Printf("Websocket connections still registered after %v", socketDrainTimeout)
			return
		case <-ctx.Done():
			return
		}
	}
}

// GetAddr returns the bound address once started, else the configured one
func (app *Application) GetAddr() string {
	app.mu.Lock()
	defer app.mu.Unlock()
	return app.listenAddr
}

// Handler exposes the HTTP surface, e.g. for httptest servers
func (app *Application) Handler() http.Handler {
	return app.apiServer
}

// Stats returns live connection statistics
func (app *Application) Stats() map[string]int {
	return app.registry.GetStats()
}

// Users exposes the profile store. Accounts are provisioned outside the
// chat subsystem; this is the seam for provisioning and tests.
func (app *Application) Users() *database.UserDirectory {
	return app.users
}
