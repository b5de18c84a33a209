// Package stdhttp provides the net/http baseline server.
package stdhttp

import (
	"net/http"

	"github.com/goceleris/ringserver/servers/common"
)

// Server is the net/http baseline. With H2C set it also speaks HTTP/2
// cleartext by prior knowledge or upgrade.
type Server struct {
	config common.ServerConfig
	mux    *http.ServeMux
}

// NewServer creates a new net/http baseline server.
func NewServer(cfg common.ServerConfig) *Server {
	cfg.ServerType = "stdhttp"
	s := &Server{config: cfg, mux: http.NewServeMux()}
	s.registerRoutes()
	return s
}

// Run starts the server.
func (s *Server) Run() error {
	return common.Serve(s.config, s.mux)
}

func (s *Server) registerRoutes() {
	// "/" is the catch-all pattern: every path and method.
	s.mux.Handle("/", common.HelloHandler())
}
