package api

import (
	"context"
	"net/http"
	"runtime"
	"strconv"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"counselchat/internal/auth"
	"counselchat/pkg/interfaces"
	"counselchat/pkg/types"
)

const identityKey = "identity"

// HealthChecker reports storage health
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// StatsProvider reports live connection statistics
type StatsProvider interface {
	GetStats() map[string]int
}

// Server is the HTTP surface: the chat REST API, the socket endpoint and
// a health check. It holds no business logic.
type Server struct {
	chat     interfaces.ChatService
	auth     interfaces.Authenticator
	db       HealthChecker
	registry StatsProvider
	engine   *gin.Engine
	started  time.Time
}

// NewServer wires routes. wsHandler is mounted at GET /ws.
func NewServer(chat interfaces.ChatService, auth interfaces.Authenticator, db HealthChecker, registry StatsProvider, wsHandler http.HandlerFunc, allowedOrigins []string) *Server {
	s := &Server{
		chat:     chat,
		auth:     auth,
		db:       db,
		registry: registry,
		engine:   gin.Default(),
		started:  time.Now(),
	}

	s.engine.Use(cors.New(corsConfig(allowedOrigins)))
	s.setupRoutes(wsHandler)
	return s
}

func corsConfig(origins []string) cors.Config {
	config := cors.DefaultConfig()
	config.AddAllowHeaders("Authorization", "Accept")
	for _, origin := range origins {
		if origin == "*" {
			config.AllowAllOrigins = true
			return config
		}
	}
	if len(origins) == 0 {
		config.AllowAllOrigins = true
		return config
	}
	config.AllowOrigins = origins
	config.AllowCredentials = true
	return config
}

func (s *Server) setupRoutes(wsHandler http.HandlerFunc) {
	s.engine.GET("/health", s.healthCheck)
	if wsHandler != nil {
		s.engine.GET("/ws", gin.WrapF(wsHandler))
	}

	chat := s.engine.Group("/api/chat")
	chat.Use(s.requireAuth())
	{
		chat.POST("/direct", s.createDirectChat)
		chat.GET("/rooms", s.listRooms)
		chat.GET("/rooms/:roomId", s.getRoom)
		chat.GET("/rooms/:roomId/messages", s.getMessages)
		chat.POST("/rooms/:roomId/messages", s.sendMessage)
		chat.GET("/rooms/:roomId/unread", s.getUnreadMessages)
		chat.GET("/rooms/:roomId/unread-count", s.getUnreadCount)
		chat.POST("/rooms/:roomId/read", s.markAsRead)
	}
}

// ServeHTTP lets the server be used directly as an http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.engine.ServeHTTP(w, r)
}

// requireAuth resolves the bearer token into an identity on the context
func (s *Server) requireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := auth.BearerToken(c.GetHeader("Authorization"))
		if token == "" {
			fail(c, types.ErrAuthentication)
			return
		}
		identity, err := s.auth.Authenticate(c.Request.Context(), token)
		if err != nil {
			fail(c, err)
			return
		}
		c.Set(identityKey, identity)
		c.Next()
	}
}

func currentUser(c *gin.Context) *types.Identity {
	return c.MustGet(identityKey).(*types.Identity)
}

func roomParam(c *gin.Context) (uint64, error) {
	id, err := strconv.ParseUint(c.Param("roomId"), 10, 64)
	if err != nil || id == 0 {
		return 0, types.ErrInvalidRoomID
	}
	return id, nil
}

func intQuery(c *gin.Context, key string) (int, error) {
	v := c.Query(key)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, types.ErrInvalidPayload
	}
	return n, nil
}

type createDirectChatRequest struct {
	CounselorID uint64 `json:"counselorId"`
	ClientID    uint64 `json:"clientId"`
}

type sendMessageRequest struct {
	Message     string `json:"message"`
	MessageType string `json:"messageType"`
}

type markAsReadRequest struct {
	MessageID uint64 `json:"messageId"`
}

func (s *Server) createDirectChat(c *gin.Context) {
	var req createDirectChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, types.ErrInvalidPayload)
		return
	}
	room, err := s.chat.CreateDirectChat(c.Request.Context(), currentUser(c).UserID, req.CounselorID, req.ClientID)
	if err != nil {
		fail(c, err)
		return
	}
	respond(c, http.StatusCreated, room)
}

func (s *Server) listRooms(c *gin.Context) {
	rooms, err := s.chat.GetUserChatRooms(c.Request.Context(), currentUser(c).UserID)
	if err != nil {
		fail(c, err)
		return
	}
	respond(c, http.StatusOK, rooms)
}

func (s *Server) getRoom(c *gin.Context) {
	roomID, err := roomParam(c)
	if err != nil {
		fail(c, err)
		return
	}
	room, err := s.chat.GetRoomDetails(c.Request.Context(), roomID, currentUser(c).UserID)
	if err != nil {
		fail(c, err)
		return
	}
	respond(c, http.StatusOK, room)
}

func (s *Server) getMessages(c *gin.Context) {
	roomID, err := roomParam(c)
	if err != nil {
		fail(c, err)
		return
	}
	limit, err := intQuery(c, "limit")
	if err != nil {
		fail(c, err)
		return
	}
	offset, err := intQuery(c, "offset")
	if err != nil {
		fail(c, err)
		return
	}
	page, err := s.chat.GetMessages(c.Request.Context(), roomID, currentUser(c).UserID, limit, offset)
	if err != nil {
		fail(c, err)
		return
	}
	respond(c, http.StatusOK, page)
}

func (s *Server) sendMessage(c *gin.Context) {
	roomID, err := roomParam(c)
	if err != nil {
		fail(c, err)
		return
	}
	var req sendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, types.ErrInvalidPayload)
		return
	}
	msg, err := s.chat.SendMessage(c.Request.Context(), roomID, currentUser(c).UserID, req.Message, req.MessageType)
	if err != nil {
		fail(c, err)
		return
	}
	respond(c, http.StatusCreated, msg)
}

func (s *Server) getUnreadMessages(c *gin.Context) {
	roomID, err := roomParam(c)
	if err != nil {
		fail(c, err)
		return
	}
	messages, err := s.chat.GetUnreadMessages(c.Request.Context(), roomID, currentUser(c).UserID)
	if err != nil {
		fail(c, err)
		return
	}
	respond(c, http.StatusOK, messages)
}

func (s *Server) getUnreadCount(c *gin.Context) {
	roomID, err := roomParam(c)
	if err != nil {
		fail(c, err)
		return
	}
	count, err := s.chat.GetUnreadCount(c.Request.Context(), roomID, currentUser(c).UserID)
	if err != nil {
		fail(c, err)
		return
	}
	respond(c, http.StatusOK, gin.H{"roomId": roomID, "unreadCount": count})
}

func (s *Server) markAsRead(c *gin.Context) {
	roomID, err := roomParam(c)
	if err != nil {
		fail(c, err)
		return
	}
	var req markAsReadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, types.ErrInvalidPayload)
		return
	}
	if req.MessageID == 0 {
		fail(c, types.ErrInvalidMessageID)
		return
	}
	receipt, err := s.chat.MarkAsRead(c.Request.Context(), roomID, req.MessageID, currentUser(c).UserID)
	if err != nil {
		fail(c, err)
		return
	}
	respond(c, http.StatusOK, receipt)
}

// HealthResponse reports component status for health checks
type HealthResponse struct {
	Status      string                 `json:"status"`
	Timestamp   time.Time              `json:"timestamp"`
	Database    string                 `json:"database"`
	Connections map[string]int         `json:"connections"`
	System      map[string]interface{} `json:"system"`
}

func (s *Server) healthCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	resp := HealthResponse{
		Status:      "healthy",
		Timestamp:   time.Now().UTC(),
		Database:    "healthy",
		Connections: s.registry.GetStats(),
		System: map[string]interface{}{
			"goroutines": runtime.NumGoroutine(),
			"uptime":     time.Since(s.started).Round(time.Second).String(),
		},
	}

	status := http.StatusOK
	if err := s.db.HealthCheck(ctx); err != nil {
		resp.Status = "unhealthy"
		resp.Database = "error: " + err.Error()
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, resp)
}
