// Package chi provides a baseline server using the Chi router.
package chi

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/goceleris/ringserver/servers/common"
)

// Server is a baseline server using Chi.
type Server struct {
	config common.ServerConfig
	router chi.Router
}

// NewServer creates a new Chi baseline server.
func NewServer(cfg common.ServerConfig) *Server {
	cfg.ServerType = "chi"
	s := &Server{
		config: cfg,
		router: chi.NewRouter(),
	}

	s.registerRoutes()
	return s
}

// Run starts the Chi server.
func (s *Server) Run() error {
	return common.Serve(s.config, s.router)
}

func (s *Server) registerRoutes() {
	s.router.HandleFunc("/*", func(w http.ResponseWriter, r *http.Request) {
		common.WriteHello(w)
	})
}
