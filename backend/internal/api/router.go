// Package api exposes the agent runtime over HTTP.
package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"vega-agent/backend/internal/agent"
	"vega-agent/backend/internal/embedding"
	"vega-agent/backend/internal/memory"
	"vega-agent/backend/internal/progress"
	"vega-agent/backend/internal/tools"
	apperrors "vega-agent/backend/pkg/errors"
)

const (
	sessionKey          = "session_id"
	defaultHistoryLimit = 50
	defaultContextLimit = 5
	maxBatchSize        = 20
)

// Server holds the handlers' dependencies
type Server struct {
	store    memory.Store
	embedder embedding.Embedder
	pool     *agent.Pool
	registry *tools.Registry
	logger   *zap.Logger
}

// NewServer creates the HTTP surface over a running agent
func NewServer(store memory.Store, embedder embedding.Embedder, pool *agent.Pool, registry *tools.Registry, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{
		store:    store,
		embedder: embedder,
		pool:     pool,
		registry: registry,
		logger:   log,
	}
}

// Router builds the gin engine
func (s *Server) Router(production bool) *gin.Engine {
	if production {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(ginLogger(s.logger))
	router.Use(gin.Recovery())
	router.Use(cors())

	// Health check
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := router.Group("/api")
	{
		api.GET("/stats", s.stats)
		api.GET("/tools", s.listTools)
		api.GET("/sessions", s.listSessions)
		api.GET("/sessions/:id", s.sessionHistory)
		api.POST("/sessions/:id/chat", s.chat)
		api.POST("/batch", s.batch)
		api.GET("/context", s.contextPreview)
	}

	return router
}

func (s *Server) stats(c *gin.Context) {
	stats, err := s.store.Stats(c.Request.Context())
	if err != nil {
		s.logger.Error("Failed to read store stats", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to read stats"})
		return
	}
	c.JSON(http.StatusOK, stats)
}

type toolInfo struct {
	Name                 string `json:"name"`
	Description          string `json:"description"`
	RequiresConfirmation bool   `json:"requires_confirmation"`
}

func (s *Server) listTools(c *gin.Context) {
	infos := []toolInfo{}
	for _, name := range s.registry.Names() {
		t, ok := s.registry.Get(name)
		if !ok {
			continue
		}
		infos = append(infos, toolInfo{
			Name:                 name,
			Description:          t.Description(),
			RequiresConfirmation: t.RequiresConfirmation(),
		})
	}
	c.JSON(http.StatusOK, gin.H{"tools": infos})
}

func (s *Server) listSessions(c *gin.Context) {
	sessions, err := s.store.ListSessions(c.Request.Context())
	if err != nil {
		s.logger.Error("Failed to list sessions", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list sessions"})
		return
	}
	if sessions == nil {
		sessions = []memory.SessionInfo{}
	}
	c.JSON(http.StatusOK, gin.H{"sessions": sessions})
}

func (s *Server) sessionHistory(c *gin.Context) {
	sessionID := c.Param("id")
	c.Set(sessionKey, sessionID)
	ctx := c.Request.Context()

	limit, ok := queryInt(c, "limit", defaultHistoryLimit)
	if !ok {
		return
	}

	exists, err := s.store.SessionExists(ctx, sessionID)
	if err != nil {
		s.logger.Error("Failed to look up session", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch session"})
		return
	}
	if !exists {
		c.JSON(http.StatusNotFound, gin.H{"error": "Session not found"})
		return
	}

	entries, err := s.store.History(ctx, sessionID, limit)
	if err != nil {
		s.logger.Error("Failed to fetch history", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to fetch session"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"session_id": sessionID, "entries": entries})
}

// contextPreview previews what retrieval would hand the model for a query
func (s *Server) contextPreview(c *gin.Context) {
	sessionID := c.Query("session_id")
	query := c.Query("q")
	if strings.TrimSpace(sessionID) == "" || strings.TrimSpace(query) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "session_id and q are required"})
		return
	}
	c.Set(sessionKey, sessionID)

	limit, ok := queryInt(c, "limit", defaultContextLimit)
	if !ok {
		return
	}

	ctx := c.Request.Context()
	vec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		s.logger.Warn("Failed to embed context query", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Embedding backend unavailable"})
		return
	}

	entries, err := s.store.Retrieve(ctx, sessionID, vec, limit)
	if err != nil {
		s.logger.Error("Failed to retrieve context", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve context"})
		return
	}
	if entries == nil {
		entries = []memory.Entry{}
	}
	c.JSON(http.StatusOK, gin.H{"session_id": sessionID, "entries": entries})
}

type chatRequest struct {
	Message string `json:"message" binding:"required"`
}

type chatResponse struct {
	TurnID    string   `json:"turn_id"`
	SessionID string   `json:"session_id"`
	Response  string   `json:"response"`
	Phases    []string `json:"phases"`
}

func (s *Server) chat(c *gin.Context) {
	sessionID := c.Param("id")
	c.Set(sessionKey, sessionID)

	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	// each request watches only its own turn
	reporter := progress.New(io.Discard)
	var (
		mu     sync.Mutex
		phases []string
	)
	unsubscribe := reporter.Subscribe(func(ev progress.Event) {
		mu.Lock()
		phases = append(phases, ev.Phase.String())
		mu.Unlock()
	})
	defer unsubscribe()

	ctx := agent.ContextWithReporter(c.Request.Context(), reporter)
	turn, err := s.pool.Run(ctx, sessionID, req.Message)
	if err != nil {
		status := statusFor(err)
		if status >= http.StatusInternalServerError {
			s.logger.Error("Failed to run turn", zap.String("session_id", sessionID), zap.Error(err))
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}

	mu.Lock()
	seen := append([]string(nil), phases...)
	mu.Unlock()

	c.JSON(http.StatusOK, chatResponse{
		TurnID:    turn.ID,
		SessionID: turn.SessionID,
		Response:  turn.Response,
		Phases:    seen,
	})
}

type batchItem struct {
	SessionID string `json:"session_id" binding:"required"`
	Message   string `json:"message" binding:"required"`
}

type batchRequest struct {
	Requests []batchItem `json:"requests" binding:"required,min=1,dive"`
}

type batchResult struct {
	SessionID string `json:"session_id"`
	Status    int    `json:"status"`
	TurnID    string `json:"turn_id,omitempty"`
	Response  string `json:"response,omitempty"`
	Error     string `json:"error,omitempty"`
}

// batch runs several turns through the pool. Turns of one session never
// overlap; distinct sessions run concurrently.
func (s *Server) batch(c *gin.Context) {
	var req batchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if len(req.Requests) > maxBatchSize {
		c.JSON(http.StatusBadRequest, gin.H{"error": "at most " + strconv.Itoa(maxBatchSize) + " requests per batch"})
		return
	}

	reqs := make([]agent.Request, len(req.Requests))
	for i, item := range req.Requests {
		reqs[i] = agent.Request{SessionID: item.SessionID, Prompt: item.Message}
	}

	results, err := s.pool.RunBatch(c.Request.Context(), reqs)
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}

	out := make([]batchResult, len(results))
	for i, r := range results {
		out[i] = batchResult{SessionID: r.Request.SessionID, Status: http.StatusOK}
		if r.Err != nil {
			out[i].Status = statusFor(r.Err)
			out[i].Error = r.Err.Error()
			if out[i].Status >= http.StatusInternalServerError {
				s.logger.Error("Batch turn failed", zap.String("session_id", r.Request.SessionID), zap.Error(r.Err))
			}
			continue
		}
		out[i].TurnID = r.Turn.ID
		out[i].Response = r.Turn.Response
	}
	c.JSON(http.StatusOK, gin.H{"results": out})
}

// statusFor maps turn failures onto HTTP statuses
func statusFor(err error) int {
	switch {
	case apperrors.IsErrorType(err, apperrors.ErrorTypeInput):
		return http.StatusBadRequest
	case apperrors.IsErrorType(err, apperrors.ErrorTypeLoop):
		return http.StatusUnprocessableEntity
	case apperrors.IsErrorType(err, apperrors.ErrorTypeBackend),
		apperrors.IsErrorType(err, apperrors.ErrorTypeEmbedding):
		return http.StatusServiceUnavailable
	case apperrors.IsErrorType(err, apperrors.ErrorTypeCancelled),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return http.StatusRequestTimeout
	}
	return http.StatusInternalServerError
}

// queryInt reads an optional positive integer query parameter, answering 400 when malformed
func queryInt(c *gin.Context, key string, def int) (int, bool) {
	raw := c.Query(key)
	if raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": key + " must be a positive integer"})
		return 0, false
	}
	return n, true
}
