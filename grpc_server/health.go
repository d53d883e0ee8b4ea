package grpcserver

import (
	"context"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"user-directory/interceptors"
)

// Pinger is satisfied by repositories.Store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// NewServer creates the gRPC server with the standard health service
// registered. Every call is logged through zap.
func NewServer(logger *zap.Logger) (*grpc.Server, *health.Server) {
	srv := grpc.NewServer(
		grpc.ChainUnaryInterceptor(interceptors.ZapLoggingInterceptor(logger)),
	)
	hs := health.NewServer()
	healthpb.RegisterHealthServer(srv, hs)
	return srv, hs
}

// WatchDatabase keeps the overall and per-service health status in step with
// the database until ctx is done, then marks both as not serving.
func WatchDatabase(ctx context.Context, hs *health.Server, pinger Pinger, service string, interval time.Duration, logger *zap.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	last := probe(ctx, hs, pinger, service)
	for {
		select {
		case <-ctx.Done():
			hs.Shutdown()
			return
		case <-ticker.C:
			status := probe(ctx, hs, pinger, service)
			if status != last {
				logger.Info("Health status changed", zap.String("service", service), zap.Stringer("status", status))
				last = status
			}
		}
	}
}

func probe(ctx context.Context, hs *health.Server, pinger Pinger, service string) healthpb.HealthCheckResponse_ServingStatus {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	status := healthpb.HealthCheckResponse_SERVING
	if err := pinger.Ping(ctx); err != nil {
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}
	hs.SetServingStatus("", status)
	hs.SetServingStatus(service, status)
	return status
}
