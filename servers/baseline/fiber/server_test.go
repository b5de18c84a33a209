package fiber

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goceleris/ringserver/internal/response"
	"github.com/goceleris/ringserver/servers/common"
)

func TestEveryRouteSaysHello(t *testing.T) {
	s := NewServer(common.ServerConfig{Addr: "127.0.0.1:0"})
	assert.Equal(t, "fiber", s.config.ServerType)

	for _, target := range []string{"/", "/json", "/users/42", "/deep/nested/path?q=1"} {
		for _, method := range []string{http.MethodGet, http.MethodPost, http.MethodPut} {
			t.Run(method+" "+target, func(t *testing.T) {
				req := httptest.NewRequest(method, target, strings.NewReader("payload"))
				resp, err := s.app.Test(req)
				require.NoError(t, err)
				defer resp.Body.Close()

				body, err := io.ReadAll(resp.Body)
				require.NoError(t, err)
				assert.Equal(t, http.StatusOK, resp.StatusCode)
				assert.Equal(t, response.Body, string(body))
				assert.Equal(t, common.KeepAlive, resp.Header.Get("Connection"))
			})
		}
	}
}

func TestMaxConcurrency(t *testing.T) {
	assert.Equal(t, 10, maxConcurrency(10))
	assert.Positive(t, maxConcurrency(0))
}
