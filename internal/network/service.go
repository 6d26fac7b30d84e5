package network

import (
	"context"
	"log/slog"
	"sync"
)

// Service applies actions to stored ward networks.
type Service struct {
	repo   Repository
	logger *slog.Logger
	mu     sync.Mutex
}

// NewService creates a network service over repo.
func NewService(repo Repository, logger *slog.Logger) *Service {
	return &Service{repo: repo, logger: logger}
}

// Get loads the network of ward.
func (s *Service) Get(ctx context.Context, ward string) (Network, error) {
	return s.repo.Load(ctx, ward)
}

// Apply loads ward, reduces every action and saves the result. Nothing is
// saved if any action fails.
func (s *Service) Apply(ctx context.Context, ward string, actions ...Action) (Network, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, err := s.repo.Load(ctx, ward)
	if err != nil {
		return Network{}, err
	}
	next, err := Apply(cur, actions...)
	if err != nil {
		return cur, err
	}
	for i := range next.Nodes {
		next.Nodes[i].Ward = ward
	}
	if err := s.repo.Save(ctx, ward, next); err != nil {
		return cur, err
	}
	s.logger.Debug("network updated", "ward", ward, "actions", len(actions), "nodes", len(next.Nodes))
	return next, nil
}
