// Package health reports process liveness backed by a storage ping.
package health

import "context"

// Pinger is the storage reachability probe.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Service answers health checks.
type Service struct {
	store Pinger
}

// New creates the health service.
func New(store Pinger) *Service {
	return &Service{store: store}
}

// Check returns nil when the backing store is reachable.
func (s *Service) Check(ctx context.Context) error {
	return s.store.Ping(ctx)
}
