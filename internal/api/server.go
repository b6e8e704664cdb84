// Package api exposes the gateway's HTTP surface: health, tool discovery and
// tool invocation. Tool semantics live in internal/tools; this package only
// handles transport, auth and error serialization.
package api

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/web2labs/studio-gateway/internal/buildinfo"
	"github.com/web2labs/studio-gateway/internal/json"
	log "github.com/web2labs/studio-gateway/internal/logging"
	"github.com/web2labs/studio-gateway/internal/studio"
	"github.com/web2labs/studio-gateway/internal/tools"
)

const (
	maxParamsBytes  = 4 << 20
	shutdownTimeout = 10 * time.Second
)

// Server is the gateway HTTP server.
type Server struct {
	engine *gin.Engine
	server *http.Server
	tools  *tools.Context

	mu   sync.RWMutex
	keys []string
}

// Options configures a Server.
type Options struct {
	Port        int
	GatewayKeys []string
	Debug       bool
}

// NewServer wires the routes and middleware onto a fresh engine.
func NewServer(opts Options, tc *tools.Context) *Server {
	if opts.Debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	engine := gin.New()
	engine.Use(log.GinLogger(), log.GinRecovery())

	s := &Server{
		engine: engine,
		tools:  tc,
		keys:   append([]string(nil), opts.GatewayKeys...),
		server: &http.Server{
			Addr:    fmt.Sprintf(":%d", opts.Port),
			Handler: engine,
		},
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.engine.GET("/healthz", s.handleHealth)

	v1 := s.engine.Group("/v1", s.authMiddleware())
	v1.GET("/tools", s.handleListTools)
	v1.POST("/tools/:name", s.handleInvokeTool)
}

// SetGatewayKeys swaps the accepted gateway keys, typically on config reload.
func (s *Server) SetGatewayKeys(keys []string) {
	s.mu.Lock()
	s.keys = append([]string(nil), keys...)
	s.mu.Unlock()
}

// authMiddleware enforces the gateway key when any are configured. Keys are
// accepted as a bearer token or an X-Gateway-Key header.
func (s *Server) authMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		s.mu.RLock()
		keys := s.keys
		s.mu.RUnlock()
		if len(keys) == 0 {
			c.Next()
			return
		}

		presented := c.GetHeader("X-Gateway-Key")
		if presented == "" {
			presented = strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
		}
		for _, key := range keys {
			if subtle.ConstantTimeCompare([]byte(presented), []byte(key)) == 1 {
				c.Next()
				return
			}
		}
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
			"error":   true,
			"code":    "unauthorized",
			"status":  http.StatusUnauthorized,
			"message": "Missing or invalid gateway key",
		})
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"version": buildinfo.Version,
	})
}

func (s *Server) handleListTools(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"tools": tools.Names()})
}

func (s *Server) handleInvokeTool(c *gin.Context) {
	name := c.Param("name")

	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxParamsBytes))
	if err != nil {
		writeError(c, studio.NewAPIError("Could not read request body", "invalid_params", http.StatusBadRequest))
		return
	}
	params := json.RawMessage(body)
	if len(strings.TrimSpace(string(body))) == 0 {
		params = json.RawMessage("{}")
	}

	result, err := tools.Invoke(c.Request.Context(), s.tools, name, params)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": result})
}

// writeError serializes an error in the gateway's envelope. Typed API errors
// keep their code and HTTP status; anything else is a 500.
func writeError(c *gin.Context, err error) {
	if apiErr, ok := studio.AsAPIError(err); ok {
		status := apiErr.Status
		if status < 400 || status > 599 {
			status = http.StatusInternalServerError
		}
		payload := gin.H{
			"error":   true,
			"code":    apiErr.Code,
			"status":  status,
			"message": apiErr.Message,
		}
		if apiErr.Details != nil {
			payload["details"] = apiErr.Details
		}
		c.JSON(status, payload)
		return
	}

	log.WithError(err).Error("tool invocation failed")
	c.JSON(http.StatusInternalServerError, gin.H{
		"error":   true,
		"code":    "internal_error",
		"status":  http.StatusInternalServerError,
		"message": err.Error(),
	})
}

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	log.Infof("gateway listening on %s", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests before returning.
func (s *Server) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()
	return s.server.Shutdown(ctx)
}

// Handler exposes the underlying engine, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}
