// Package common provides the settings and response helpers shared by the
// baseline servers.
package common

import (
	"net"
	"net/http"

	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
	"golang.org/x/net/netutil"

	"github.com/goceleris/ringserver/internal/response"
)

const (
	ContentType = "text/plain"
	// KeepAlive is sent on every response, like the fixed engine payload.
	KeepAlive = "keep-alive"
)

// ServerConfig holds configuration for baseline servers.
type ServerConfig struct {
	Addr       string
	ServerType string // "stdhttp", "chi", "gin", ...
	// H2C also accepts HTTP/2 cleartext, by prior knowledge or upgrade.
	H2C bool
	// MaxConns caps concurrently open connections. Zero means unlimited.
	MaxConns int
}

// WriteHello writes the fixed response body.
func WriteHello(w http.ResponseWriter) {
	w.Header().Set("Content-Type", ContentType)
	w.Header().Set("Connection", KeepAlive)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(response.Body))
}

// HelloHandler answers every method and path with the fixed body.
func HelloHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		WriteHello(w)
	})
}

// Wrap adds h2c support to h when cfg asks for it.
func Wrap(cfg ServerConfig, h http.Handler) http.Handler {
	if !cfg.H2C {
		return h
	}
	return h2c.NewHandler(h, &http2.Server{
		MaxConcurrentStreams: 1000,
		MaxReadFrameSize:     1 << 20,
	})
}

// Listen binds cfg.Addr, capped at cfg.MaxConns open connections.
func Listen(cfg ServerConfig) (net.Listener, error) {
	ln, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		return nil, err
	}
	if cfg.MaxConns > 0 {
		ln = netutil.LimitListener(ln, cfg.MaxConns)
	}
	return ln, nil
}

// Serve runs h on a listener from Listen until the listener fails.
func Serve(cfg ServerConfig, h http.Handler) error {
	ln, err := Listen(cfg)
	if err != nil {
		return err
	}
	server := &http.Server{
		Handler:        Wrap(cfg, h),
		MaxHeaderBytes: 1 << 20,
	}
	return server.Serve(ln)
}
