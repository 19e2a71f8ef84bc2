package keys

import (
	"context"

	"github.com/charmbracelet/log"
)

// KeyLister is the slice of the upstream management API the service needs to
// keep the proxy's key list in sync with the pool.
type KeyLister interface {
	APIKeys(ctx context.Context) ([]string, error)
	PutAPIKeys(ctx context.Context, keys []string) error
}

// Service wires the pool, the registry, and the upstream proxy together for
// key assignment and revocation.
type Service struct {
	pool     *Pool
	registry *Registry
	upstream KeyLister
}

func NewService(pool *Pool, registry *Registry, upstream KeyLister) *Service {
	return &Service{pool: pool, registry: registry, upstream: upstream}
}

func (s *Service) Pool() *Pool         { return s.pool }
func (s *Service) Registry() *Registry { return s.registry }

// Register assigns an unused pool key to the given identifier and records it
// in the registry. Name and label default to the identifier when empty.
func (s *Service) Register(email, name, label string) (string, error) {
	if name == "" {
		name = email
	}
	if label == "" {
		label = email
	}

	key, err := s.pool.Assign(email)
	if err != nil {
		return "", err
	}

	if err := s.registry.AddAssignment(email, name, label, key); err != nil {
		return "", err
	}

	log.Info("Assigned key", "key", key, "email", email)
	return key, nil
}

// Revoke removes a key from its owner, returns it to the pool, and removes
// it from the upstream proxy's accepted key list. Upstream failures are
// logged but do not fail the revocation, matching how the pool is the source
// of truth.
func (s *Service) Revoke(ctx context.Context, key string) error {
	email, err := s.registry.RemoveKey(key)
	if err != nil {
		return err
	}

	if err := s.pool.Release(key); err != nil {
		return err
	}

	if s.upstream != nil {
		if err := s.removeUpstreamKey(ctx, key); err != nil {
			log.Warn("Failed to remove key from upstream", "key", key, "error", err)
		}
	}

	log.Info("Revoked key", "key", key, "email", email)
	return nil
}

func (s *Service) removeUpstreamKey(ctx context.Context, key string) error {
	current, err := s.upstream.APIKeys(ctx)
	if err != nil {
		return err
	}

	kept := make([]string, 0, len(current))
	found := false
	for _, k := range current {
		if k == key {
			found = true
			continue
		}
		kept = append(kept, k)
	}
	if !found {
		return nil
	}
	return s.upstream.PutAPIKeys(ctx, kept)
}

// Provision generates count new pool keys, stores them, and registers them
// with the upstream proxy so they are accepted immediately.
func (s *Service) Provision(ctx context.Context, count int) ([]string, error) {
	status, err := s.pool.Status()
	if err != nil {
		return nil, err
	}

	generated := Generate(count, status.Total)
	if err := s.pool.Add(generated); err != nil {
		return nil, err
	}

	if s.upstream != nil {
		existing, err := s.upstream.APIKeys(ctx)
		if err != nil {
			return nil, err
		}
		if err := s.upstream.PutAPIKeys(ctx, append(existing, generated...)); err != nil {
			return nil, err
		}
	}

	log.Info("Provisioned pool keys", "count", len(generated))
	return generated, nil
}
