// Package gin provides a baseline server using the Gin framework.
package gin

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/goceleris/ringserver/internal/response"
	"github.com/goceleris/ringserver/servers/common"
)

// Server is a baseline server using Gin.
type Server struct {
	config common.ServerConfig
	engine *gin.Engine
}

// NewServer creates a new Gin baseline server.
func NewServer(cfg common.ServerConfig) *Server {
	gin.SetMode(gin.ReleaseMode)

	engine := gin.New()
	engine.UseRawPath = true

	cfg.ServerType = "gin"
	s := &Server{
		config: cfg,
		engine: engine,
	}

	s.registerRoutes()
	return s
}

// Run starts the Gin server.
func (s *Server) Run() error {
	return common.Serve(s.config, s.engine)
}

func (s *Server) registerRoutes() {
	s.engine.Any("/*path", func(c *gin.Context) {
		c.Header("Content-Type", common.ContentType)
		c.Header("Connection", common.KeepAlive)
		c.String(http.StatusOK, response.Body)
	})
}
