// Package echo provides a baseline server using the Echo framework.
package echo

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/goceleris/ringserver/internal/response"
	"github.com/goceleris/ringserver/servers/common"
)

// Server is a baseline server using Echo.
type Server struct {
	config common.ServerConfig
	echo   *echo.Echo
}

// NewServer creates a new Echo baseline server.
func NewServer(cfg common.ServerConfig) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	cfg.ServerType = "echo"
	s := &Server{
		config: cfg,
		echo:   e,
	}

	s.registerRoutes()
	return s
}

// Run starts the Echo server.
func (s *Server) Run() error {
	return common.Serve(s.config, s.echo)
}

func (s *Server) registerRoutes() {
	s.echo.Any("/*", func(c echo.Context) error {
		c.Response().Header().Set("Connection", common.KeepAlive)
		return c.String(http.StatusOK, response.Body)
	})
}
