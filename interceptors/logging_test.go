package interceptors

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	restful "github.com/emicklei/go-restful/v3"
	"github.com/grpc-ecosystem/go-grpc-middleware/v2/interceptors/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestRequestLogger(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)

	ws := new(restful.WebService)
	ws.Path("/ping")
	ws.Route(ws.GET("").To(func(_ *restful.Request, resp *restful.Response) {
		resp.WriteHeader(http.StatusTeapot)
	}))
	c := restful.NewContainer()
	c.Filter(RequestLogger(zap.New(core)))
	c.Add(ws)

	req := httptest.NewRequest(http.MethodGet, "/ping", nil)
	req.Header.Set("User-Agent", "probe/1.0")
	c.ServeHTTP(httptest.NewRecorder(), req)

	entries := logs.FilterMessage("Request").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "GET", fields["method"])
	assert.Equal(t, int64(http.StatusTeapot), fields["status_code"])
	assert.Equal(t, "/ping", fields["path"])
	assert.Equal(t, "probe/1.0", fields["user_agent"])
	assert.Equal(t, "http", entries[0].LoggerName)
}

func TestInterceptorLogger(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	l := InterceptorLogger(zap.New(core))

	l.Log(context.Background(), logging.LevelWarn, "finished call", "grpc.code", "Unavailable", "grpc.method", "Check")
	l.Log(context.Background(), logging.Level(42), "odd")

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, zapcore.WarnLevel, entries[0].Level)
	assert.Equal(t, map[string]interface{}{"grpc.code": "Unavailable", "grpc.method": "Check"}, entries[0].ContextMap())

	assert.Equal(t, zapcore.ErrorLevel, entries[1].Level)
	assert.Equal(t, "odd", entries[1].ContextMap()["original_msg"])
}
