package validator

import (
	"context"
	"fmt"
	"sync"

	appconfig "trendoracle/config"
	"trendoracle/models"
)

// Registry holds the validator set for a deployment. It is built from
// configuration and injected into the coordinator, so swapping
// simulated validators for network-addressed ones is a config change.
type Registry struct {
	clients []Client
}

// NewRegistry builds one client per configured validator.
func NewRegistry(cfgs []appconfig.ValidatorConfig) (*Registry, error) {
	clients := make([]Client, 0, len(cfgs))
	for _, cfg := range cfgs {
		switch cfg.Kind {
		case "simulated":
			clients = append(clients, NewSimulated(cfg.ID, cfg.Seed, cfg.Delay))
		case "http":
			clients = append(clients, NewHTTP(cfg))
		case "websocket":
			clients = append(clients, NewWS(cfg))
		default:
			return nil, fmt.Errorf("unknown validator kind '%s' for %s", cfg.Kind, cfg.ID)
		}
	}
	return &Registry{clients: clients}, nil
}

// NewRegistryFromClients wraps an explicit client set. Used by tests
// and by embedders that construct clients themselves.
func NewRegistryFromClients(clients ...Client) *Registry {
	return &Registry{clients: clients}
}

// Clients returns the validator set in registration order.
func (r *Registry) Clients() []Client {
	return r.clients
}

// Len returns the number of registered validators.
func (r *Registry) Len() int {
	return len(r.clients)
}

// Health probes every validator concurrently.
func (r *Registry) Health(ctx context.Context) []models.ValidatorHealth {
	out := make([]models.ValidatorHealth, len(r.clients))
	var wg sync.WaitGroup
	for i, c := range r.clients {
		wg.Add(1)
		go func(i int, c Client) {
			defer wg.Done()
			out[i] = c.Healthy(ctx)
		}(i, c)
	}
	wg.Wait()
	return out
}
