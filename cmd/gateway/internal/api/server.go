package api

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/paulofpaiva/realtime-trading-simulator/cmd/gateway/internal/history"
	"github.com/paulofpaiva/realtime-trading-simulator/pkg/models"
)

type Broadcaster interface {
	GetLatestAll() []models.Snapshot
	Count() int
}

type HistoryReader interface {
	Query(ctx context.Context, symbol string, from, to time.Time, limit int) ([]history.Point, error)
	Symbols(ctx context.Context) ([]history.Symbol, error)
}

// Server exposes the pull side of the gateway over HTTP
type Server struct {
	engine  *gin.Engine
	hub     Broadcaster
	history HistoryReader // nil when history is disabled
	logger  *zap.Logger
}

func NewServer(hub Broadcaster, hist HistoryReader, ws http.HandlerFunc, logger *zap.Logger, debug bool) *Server {
	if !debug {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		engine:  gin.New(),
		hub:     hub,
		history: hist,
		logger:  logger,
	}
	s.engine.Use(gin.Recovery(), s.requestLogger())

	s.engine.GET("/ws", gin.WrapF(ws))
	s.engine.GET("/healthz", s.getHealth)

	apiGroup := s.engine.Group("/api")
	apiGroup.GET("/latest", s.getLatest)
	apiGroup.GET("/analytics/:symbol", s.getAnalytics)
	apiGroup.GET("/symbols", s.getSymbols)

	return s
}

func (s *Server) Handler() http.Handler { return s.engine }

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("HTTP request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)))
	}
}

func (s *Server) getHealth(c *gin.Context) {
	latest := s.hub.GetLatestAll()
	c.JSON(http.StatusOK, gin.H{
		"status":      "ok",
		"subscribers": s.hub.Count(),
		"instruments": len(latest),
	})
}

func (s *Server) getLatest(c *gin.Context) {
	c.JSON(http.StatusOK, s.hub.GetLatestAll())
}

func (s *Server) getAnalytics(c *gin.Context) {
	if s.history == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "history disabled"})
		return
	}

	symbol := strings.TrimSpace(c.Param("symbol"))
	if symbol == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "symbol required"})
		return
	}

	from, err := parseTime(c.Query("from"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid from: " + err.Error()})
		return
	}
	to, err := parseTime(c.Query("to"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid to: " + err.Error()})
		return
	}

	limit := history.DefaultLimit
	if raw, ok := c.GetQuery("limit"); ok {
		n, err := strconv.Atoi(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		if n < 1 {
			n = 1
		}
		limit = n
	}

	points, err := s.history.Query(c.Request.Context(), symbol, from, to, limit)
	if err != nil {
		s.logger.Error("History query failed", zap.String("symbol", symbol), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		return
	}
	c.JSON(http.StatusOK, points)
}

func (s *Server) getSymbols(c *gin.Context) {
	if s.history == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "history disabled"})
		return
	}
	symbols, err := s.history.Symbols(c.Request.Context())
	if err != nil {
		s.logger.Error("Symbols query failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "query failed"})
		return
	}
	c.JSON(http.StatusOK, symbols)
}

func parseTime(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}
