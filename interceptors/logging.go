package interceptors

import (
	"context"
	"fmt"

	"github.com/grpc-ecosystem/go-grpc-middleware/v2/interceptors/logging"
	"go.uber.org/zap"
	"google.golang.org/grpc"
)

// InterceptorLogger adapts a zap logger to the logging middleware's
// interface.
func InterceptorLogger(l *zap.Logger) logging.Logger {
	return logging.LoggerFunc(func(ctx context.Context, lvl logging.Level, msg string, fields ...any) {
		zapFields := make([]zap.Field, 0, len(fields)/2)
		for it := logging.Fields(fields).Iterator(); it.Next(); {
			key, value := it.At()
			zapFields = append(zapFields, zap.Any(key, value))
		}

		logger := l.WithOptions(zap.AddCallerSkip(1))
		switch lvl {
		case logging.LevelDebug:
			logger.Debug(msg, zapFields...)
		case logging.LevelInfo:
			logger.Info(msg, zapFields...)
		case logging.LevelWarn:
			logger.Warn(msg, zapFields...)
		case logging.LevelError:
			logger.Error(msg, zapFields...)
		default:
			logger.Error("Unknown log level in interceptor", zap.String("original_msg", msg), zap.String("level", fmt.Sprint(lvl)))
		}
	})
}

// ZapLoggingInterceptor returns a unary server interceptor that logs the
// finish of every call, at a level derived from its status code.
func ZapLoggingInterceptor(logger *zap.Logger) grpc.UnaryServerInterceptor {
	opts := []logging.Option{
		logging.WithLogOnEvents(logging.FinishCall),
		logging.WithLevels(logging.DefaultServerCodeToLevel),
	}
	return logging.UnaryServerInterceptor(InterceptorLogger(logger.Named("grpc")), opts...)
}
