package registry

import (
	consulapi "github.com/hashicorp/consul/api"
)

// ServiceRegistry registers this service instance with a discovery backend.
type ServiceRegistry interface {
	// Register announces an instance. id must be unique per instance; name
	// is the logical service name.
	Register(id, name, address string, port int, tags []string, check *consulapi.AgentServiceCheck) error

	// Deregister removes an instance using its unique ID.
	Deregister(id string) error
}
