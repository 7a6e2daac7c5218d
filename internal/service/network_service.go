package service

import (
	"context"

	"github.com/osa911/stackctl/internal/config"
	"github.com/osa911/stackctl/internal/docker"
	"github.com/osa911/stackctl/internal/logging"
)

// ManagedByLabel marks networks created by stackctl.
const ManagedByLabel = "managed-by"

// NetworkService creates the shared docker networks stacks attach to.
type NetworkService interface {
	Ensure(ctx context.Context, names []string, dryRun bool) ([]NetworkResult, error)
	Status(ctx context.Context, names []string) ([]NetworkResult, error)
}

// NetworkResult reports one network.
type NetworkResult struct {
	Name    string `json:"name"`
	Exists  bool   `json:"exists"`
	Created bool   `json:"created"`
}

type networkService struct {
	logger *logging.Logger
	docker *docker.Client
}

// NewNetworkService creates a new network service instance
func NewNetworkService(client *docker.Client) NetworkService {
	return &networkService{
		logger: logging.GetGlobalLogger(),
		docker: client,
	}
}

// RequiredNetworks returns the configured shared networks followed by the
// external networks of the given stacks, without duplicates.
func RequiredNetworks(cfg *config.Config, stacks ...*Stack) []string {
	var names []string
	seen := map[string]bool{}
	add := func(n string) {
		if n != "" && !seen[n] {
			seen[n] = true
			names = append(names, n)
		}
	}
	for _, n := range cfg.Networks {
		add(n)
	}
	for _, s := range stacks {
		for _, n := range s.Compose.ExternalNetworks() {
			add(n)
		}
	}
	return names
}

// Ensure creates every missing network with the bridge driver. Existing
// networks are left untouched.
func (s *networkService) Ensure(ctx context.Context, names []string, dryRun bool) ([]NetworkResult, error) {
	results, err := s.Status(ctx, names)
	if err != nil {
		return nil, err
	}

	for i := range results {
		r := &results[i]
		if r.Exists {
			s.logger.Info("Network %s already exists", r.Name)
			continue
		}
		if dryRun {
			s.logger.Info("[dry-run] would create network %s", r.Name)
			continue
		}
		if err := s.docker.NetworkCreate(ctx, r.Name, "bridge", map[string]string{ManagedByLabel: "stackctl"}); err != nil {
			return results, err
		}
		r.Exists, r.Created = true, true
		s.logger.Success("Created network %s", r.Name)
	}
	return results, nil
}

func (s *networkService) Status(ctx context.Context, names []string) ([]NetworkResult, error) {
	results := make([]NetworkResult, 0, len(names))
	seen := map[string]bool{}
	for _, name := range names {
		if seen[name] {
			continue
		}
		seen[name] = true
		exists, err := s.docker.NetworkExists(ctx, name)
		if err != nil {
			return nil, err
		}
		results = append(results, NetworkResult{Name: name, Exists: exists})
	}
	return results, nil
}
