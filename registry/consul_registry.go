package registry

import (
	"fmt"

	consulapi "github.com/hashicorp/consul/api"
	"go.uber.org/zap"

	"user-directory/config"
)

type consulRegistry struct {
	agent  *consulapi.Agent
	logger *zap.Logger
}

var _ ServiceRegistry = (*consulRegistry)(nil)

// NewConsulRegistry connects to the local Consul agent and checks it answers.
func NewConsulRegistry(cfg config.ConsulConfig, logger *zap.Logger) (ServiceRegistry, error) {
	consulConfig := consulapi.DefaultConfig()
	consulConfig.Address = cfg.Address

	client, err := consulapi.NewClient(consulConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create consul client: %w", err)
	}

	if _, err := client.Agent().NodeName(); err != nil {
		return nil, fmt.Errorf("cannot connect to consul agent at %s: %w", cfg.Address, err)
	}
	logger.Info("Connected to Consul agent", zap.String("address", cfg.Address))

	return &consulRegistry{agent: client.Agent(), logger: logger.Named("consul")}, nil
}

// Register registers a service instance with Consul, including its check.
func (r *consulRegistry) Register(id, name, address string, port int, tags []string, check *consulapi.AgentServiceCheck) error {
	reg := &consulapi.AgentServiceRegistration{
		ID:      id,
		Name:    name,
		Tags:    tags,
		Port:    port,
		Address: address,
		Check:   check,
		Meta:    map[string]string{"protocol": checkProtocol(check)},
	}

	if err := r.agent.ServiceRegister(reg); err != nil {
		return fmt.Errorf("failed to register service '%s': %w", name, err)
	}
	r.logger.Info("Registered service", zap.String("service_id", id), zap.String("service_name", name), zap.String("address", address), zap.Int("port", port))
	return nil
}

// Deregister removes a service instance from Consul.
func (r *consulRegistry) Deregister(id string) error {
	if err := r.agent.ServiceDeregister(id); err != nil {
		return fmt.Errorf("failed to deregister service '%s': %w", id, err)
	}
	r.logger.Info("Deregistered service", zap.String("service_id", id))
	return nil
}

// ServiceID names one instance of serviceName listening on host:port.
func ServiceID(serviceName, host string, port int) string {
	return fmt.Sprintf("%s-%s-%d", serviceName, host, port)
}

// CreateHTTPCheck builds a Consul HTTP check against checkPath. Instances
// that stay critical for a minute are deregistered by the agent.
func CreateHTTPCheck(serviceID, serviceHost string, servicePort int, checkPath string, interval, timeout string) *consulapi.AgentServiceCheck {
	return &consulapi.AgentServiceCheck{
		CheckID:                        fmt.Sprintf("check_%s_http", serviceID),
		Name:                           fmt.Sprintf("HTTP Check for %s", serviceID),
		HTTP:                           fmt.Sprintf("http://%s:%d%s", serviceHost, servicePort, checkPath),
		Method:                         "GET",
		Interval:                       interval,
		Timeout:                        timeout,
		DeregisterCriticalServiceAfter: "1m",
	}
}

// CreateGRPCCheck builds a Consul check that calls grpc.health.v1 on
// host:port for the named service. An empty service checks the server as a
// whole.
func CreateGRPCCheck(serviceID, serviceHost string, servicePort int, healthService string, interval, timeout string) *consulapi.AgentServiceCheck {
	target := fmt.Sprintf("%s:%d", serviceHost, servicePort)
	if healthService != "" {
		target += "/" + healthService
	}
	return &consulapi.AgentServiceCheck{
		CheckID:                        fmt.Sprintf("check_%s_grpc", serviceID),
		Name:                           fmt.Sprintf("gRPC Check for %s", serviceID),
		GRPC:                           target,
		GRPCUseTLS:                     false,
		Interval:                       interval,
		Timeout:                        timeout,
		DeregisterCriticalServiceAfter: "1m",
	}
}

func checkProtocol(check *consulapi.AgentServiceCheck) string {
	if check != nil && check.GRPC != "" {
		return "grpc"
	}
	return "http"
}
