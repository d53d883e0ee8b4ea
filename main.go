package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	consulapi "github.com/hashicorp/consul/api"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"user-directory/auth"
	"user-directory/config"
	"user-directory/controllers"
	"user-directory/database"
	grpcserver "user-directory/grpc_server"
	"user-directory/registry"
	"user-directory/repositories"
	"user-directory/services"
)

func main() {
	fs := config.Flags()
	if err := fs.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	// Initialize configs
	cfg, err := config.InitConfig(fs)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	var logger *zap.Logger
	switch cfg.LogLevel {
	case "debug":
		logger, _ = zap.NewDevelopment()
	default:
		logger, _ = zap.NewProduction()
	}
	defer logger.Sync() // Make sure the buffer is flushed before the program exits

	if err := run(cfg, fs, logger); err != nil {
		logger.Fatal("Service stopped with error", zap.Error(err))
	}
}

func run(cfg *config.Config, fs *pflag.FlagSet, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := openStore(ctx, cfg.Database, logger)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := store.Close(closeCtx); err != nil {
			logger.Warn("Failed to close database", zap.Error(err))
		}
	}()

	authenticator, err := auth.NewAuthenticator(cfg.JwtSecret, cfg.JwtIssuer, cfg.JwtTTL)
	if err != nil {
		return err
	}

	userService := services.NewUserService(store, services.Options{
		PasswordCost: cfg.Users.PasswordCost,
		DefaultRoles: cfg.Users.DefaultRoles,
	})
	if _, err := services.SeedBootstrapAdmin(ctx, userService, cfg.Users.BootstrapAdmin, logger); err != nil {
		return fmt.Errorf("seed bootstrap admin: %w", err)
	}

	if username, _ := fs.GetString("mint-token"); username != "" {
		return mintToken(ctx, store, authenticator, username)
	}

	container := controllers.NewContainer(logger,
		controllers.NewUserController(userService, authenticator, cfg.Users.RequiredRoles, logger),
		controllers.NewHealthController(store, logger),
	)
	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           container,
		ReadHeaderTimeout: 10 * time.Second,
	}

	grpcSrv, healthSrv := grpcserver.NewServer(logger)
	grpcLis, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.GRPCPort))
	if err != nil {
		return fmt.Errorf("failed to listen on gRPC port %d: %w", cfg.GRPCPort, err)
	}
	go grpcserver.WatchDatabase(ctx, healthSrv, store, cfg.ServiceName, 10*time.Second, logger)

	errCh := make(chan error, 2)
	go func() {
		logger.Info("HTTP server listening", zap.Int("port", cfg.HTTPPort))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()
	go func() {
		logger.Info("gRPC server listening", zap.Int("port", cfg.GRPCPort))
		if err := grpcSrv.Serve(grpcLis); err != nil {
			errCh <- fmt.Errorf("grpc server: %w", err)
		}
	}()

	deregister := registerWithConsul(cfg, logger)
	defer deregister()

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("Shutting down")
	case runErr = <-errCh:
		logger.Error("Server failed, shutting down", zap.Error(runErr))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP shutdown incomplete", zap.Error(err))
	}
	grpcSrv.GracefulStop()
	return runErr
}

func openStore(ctx context.Context, cfg config.DatabaseConfig, logger *zap.Logger) (repositories.Store, error) {
	switch cfg.Driver {
	case config.DriverMongo:
		client, err := database.ConnectMongo(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
		return repositories.NewMongoStore(client, cfg.Name, cfg.Transactions), nil
	default:
		db, err := database.OpenGorm(cfg, logger)
		if err != nil {
			return nil, err
		}
		return repositories.NewGormStore(db), nil
	}
}

// mintToken prints a bearer token for an existing user.
func mintToken(ctx context.Context, store repositories.Store, authenticator *auth.Authenticator, username string) error {
	user, err := store.Users().FindByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			return fmt.Errorf("user %q not found", username)
		}
		return err
	}
	token, err := authenticator.GenerateToken(user)
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}

// registerWithConsul announces the HTTP and gRPC endpoints when Consul is
// enabled and returns the matching deregistration.
func registerWithConsul(cfg *config.Config, logger *zap.Logger) func() {
	if !cfg.Consul.Enabled {
		return func() {}
	}

	reg, err := registry.NewConsulRegistry(cfg.Consul, logger)
	if err != nil {
		logger.Warn("Consul unavailable, continuing without registration", zap.Error(err))
		return func() {}
	}

	host := cfg.Consul.CheckHost
	httpID := registry.ServiceID(cfg.ServiceName, host, cfg.HTTPPort)
	grpcName := cfg.ServiceName + "-grpc"
	grpcID := registry.ServiceID(grpcName, host, cfg.GRPCPort)

	endpoints := []struct {
		id, name string
		port     int
		tags     []string
		check    *consulapi.AgentServiceCheck
	}{
		{httpID, cfg.ServiceName, cfg.HTTPPort, []string{"http", "users"},
			registry.CreateHTTPCheck(httpID, host, cfg.HTTPPort, "/healthz", cfg.Consul.CheckInterval, cfg.Consul.CheckTimeout)},
		{grpcID, grpcName, cfg.GRPCPort, []string{"grpc", "health"},
			registry.CreateGRPCCheck(grpcID, host, cfg.GRPCPort, cfg.ServiceName, cfg.Consul.CheckInterval, cfg.Consul.CheckTimeout)},
	}

	var registered []string
	for _, ep := range endpoints {
		if err := reg.Register(ep.id, ep.name, host, ep.port, ep.tags, ep.check); err != nil {
			logger.Warn("Consul registration failed", zap.String("service_id", ep.id), zap.Error(err))
			continue
		}
		registered = append(registered, ep.id)
	}

	return func() {
		for _, id := range registered {
			if err := reg.Deregister(id); err != nil {
				logger.Warn("Consul deregistration failed", zap.String("service_id", id), zap.Error(err))
			}
		}
	}
}
