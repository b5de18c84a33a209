package iris

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/goceleris/ringserver/internal/response"
	"github.com/goceleris/ringserver/servers/common"
)

func TestEveryRouteSaysHello(t *testing.T) {
	s := NewServer(common.ServerConfig{Addr: "127.0.0.1:0"})
	assert.Equal(t, "iris", s.config.ServerType)
	if err := s.app.Build(); err != nil {
		t.Fatal(err)
	}

	for _, target := range []string{"/", "/json", "/users/42", "/deep/nested/path?q=1"} {
		for _, method := range []string{http.MethodGet, http.MethodPost, http.MethodPut} {
			t.Run(method+" "+target, func(t *testing.T) {
				rec := httptest.NewRecorder()
				req := httptest.NewRequest(method, target, strings.NewReader("payload"))
				s.app.ServeHTTP(rec, req)

				assert.Equal(t, http.StatusOK, rec.Code)
				assert.Equal(t, response.Body, rec.Body.String())
				assert.Equal(t, common.KeepAlive, rec.Header().Get("Connection"))
			})
		}
	}
}
