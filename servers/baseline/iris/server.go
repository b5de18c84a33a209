// Package iris provides a baseline server using the Iris framework.
package iris

import (
	"github.com/kataras/iris/v12"

	"github.com/goceleris/ringserver/internal/response"
	"github.com/goceleris/ringserver/servers/common"
)

// Server is a baseline server using Iris.
type Server struct {
	config common.ServerConfig
	app    *iris.Application
}

// NewServer creates a new Iris baseline server.
func NewServer(cfg common.ServerConfig) *Server {
	app := iris.New()
	app.Logger().SetLevel("warn") // Reduce logging noise

	cfg.ServerType = "iris"
	s := &Server{
		config: cfg,
		app:    app,
	}

	s.registerRoutes()
	return s
}

// Run starts the Iris server.
func (s *Server) Run() error {
	if s.config.H2C {
		if err := s.app.Build(); err != nil {
			return err
		}
		return common.Serve(s.config, s.app)
	}

	ln, err := common.Listen(s.config)
	if err != nil {
		return err
	}
	return s.app.Run(iris.Listener(ln),
		iris.WithOptimizations,
		iris.WithoutServerError(iris.ErrServerClosed),
		iris.WithoutStartupLog,
	)
}

func (s *Server) registerRoutes() {
	hello := func(ctx iris.Context) {
		ctx.ContentType(common.ContentType)
		ctx.Header("Connection", common.KeepAlive)
		_, _ = ctx.WriteString(response.Body)
	}
	s.app.Any("/", hello)
	s.app.Any("/{rest:path}", hello)
}
