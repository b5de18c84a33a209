// Package fiber provides a baseline HTTP/1.1 server using the Fiber
// framework.
package fiber

import (
	"github.com/gofiber/fiber/v2"

	"github.com/goceleris/ringserver/internal/response"
	"github.com/goceleris/ringserver/servers/common"
)

// Server is a baseline HTTP/1.1 server using Fiber.
// Fiber only supports HTTP/1.1 natively, so H2C is ignored.
type Server struct {
	config common.ServerConfig
	app    *fiber.App
}

// NewServer creates a new Fiber baseline server.
func NewServer(cfg common.ServerConfig) *Server {
	app := fiber.New(fiber.Config{
		ServerHeader:          "fiber-benchmark",
		DisableStartupMessage: true,
		Prefork:               false,
		ReadBufferSize:        16384,
		WriteBufferSize:       16384,
		Concurrency:           maxConcurrency(cfg.MaxConns),
	})

	cfg.ServerType = "fiber"
	s := &Server{
		config: cfg,
		app:    app,
	}

	s.registerRoutes()
	return s
}

func maxConcurrency(n int) int {
	if n <= 0 {
		return fiber.DefaultConcurrency
	}
	return n
}

// Run starts the Fiber server.
func (s *Server) Run() error {
	return s.app.Listen(s.config.Addr)
}

func (s *Server) registerRoutes() {
	s.app.Use(func(c *fiber.Ctx) error {
		c.Set(fiber.HeaderContentType, common.ContentType)
		c.Set(fiber.HeaderConnection, common.KeepAlive)
		return c.SendString(response.Body)
	})
}
