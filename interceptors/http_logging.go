package interceptors

import (
	"time"

	restful "github.com/emicklei/go-restful/v3"
	"go.uber.org/zap"
)

// RequestLogger returns a go-restful container filter that logs every
// request once it has been handled.
func RequestLogger(logger *zap.Logger) restful.FilterFunction {
	logger = logger.Named("http")
	return func(req *restful.Request, resp *restful.Response, chain *restful.FilterChain) {
		startTime := time.Now()

		chain.ProcessFilter(req, resp)

		logger.Info("Request",
			zap.String("client_ip", req.Request.RemoteAddr),
			zap.String("method", req.Request.Method),
			zap.Int("status_code", resp.StatusCode()),
			zap.Duration("latency", time.Since(startTime)),
			zap.String("user_agent", req.Request.UserAgent()),
			zap.String("path", req.Request.URL.Path),
		)
	}
}
