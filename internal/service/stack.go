package service

import (
	"context"
	"fmt"
	"os"

	"github.com/osa911/stackctl/internal/compose"
	"github.com/osa911/stackctl/internal/config"
	"github.com/osa911/stackctl/internal/docker"
	"github.com/osa911/stackctl/internal/envfile"
)

// Stack is a compose project directory with its environment.
type Stack struct {
	Name    string
	Dir     string
	Compose *compose.File
	// Env is empty when the .env file could not be read; EnvErr says why.
	Env    *envfile.Env
	EnvErr error
}

// OpenStack resolves nameOrPath against the stacks root and loads its compose
// file and .env.
func OpenStack(cfg *config.Config, nameOrPath string) (*Stack, error) {
	dir := cfg.StackDir(nameOrPath)
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrStackNotFound, dir)
	}

	file, err := compose.Load(dir)
	if err != nil {
		return nil, err
	}

	s := &Stack{
		Name:    config.StackName(dir),
		Dir:     dir,
		Compose: file,
	}
	s.Env, s.EnvErr = envfile.Load(dir)
	if s.EnvErr != nil {
		s.Env = envfile.New(nil)
	}
	return s, nil
}

// OpenStacks opens the named stacks, or every stack under the root when
// names is empty.
func OpenStacks(cfg *config.Config, names []string) ([]*Stack, error) {
	if len(names) == 0 {
		dirs, err := cfg.Stacks(compose.Exists)
		if err != nil {
			return nil, err
		}
		if len(dirs) == 0 {
			return nil, fmt.Errorf("%w under %s", ErrStackNotFound, cfg.RootDir)
		}
		names = dirs
	}

	stacks := make([]*Stack, 0, len(names))
	for _, name := range names {
		s, err := OpenStack(cfg, name)
		if err != nil {
			return nil, err
		}
		stacks = append(stacks, s)
	}
	return stacks, nil
}

// Project returns the docker compose project of the stack.
func (s *Stack) Project() docker.Project {
	name := s.Compose.Name
	if name == "" {
		name = s.Name
	}
	return docker.Project{Name: name, Dir: s.Dir, File: s.Compose.Path}
}

// Lookup resolves a variable the way compose does: process environment first,
// then the stack's .env.
func (s *Stack) Lookup(key string) (string, bool) {
	if v, ok := os.LookupEnv(key); ok {
		return v, true
	}
	return s.Env.Lookup(key)
}

// IsProxy reports whether the stack runs Traefik.
func (s *Stack) IsProxy(cfg *config.Config) bool {
	return s.Name == cfg.TraefikStack || s.Compose.IsTraefik()
}

// Routers returns the stack's Traefik routers with variables expanded.
func (s *Stack) Routers() []compose.Router {
	routers := s.Compose.Routers()
	for i := range routers {
		routers[i] = routers[i].Expand(s.Lookup)
	}
	return routers
}

// URLs returns the public URL of every router.
func (s *Stack) URLs() []string {
	var urls []string
	seen := map[string]bool{}
	for _, r := range s.Routers() {
		if u := r.URL(); u != "" && !seen[u] {
			seen[u] = true
			urls = append(urls, u)
		}
	}
	return urls
}

// DatabaseCredentials returns the PostgreSQL user and database of the stack.
func (s *Stack) DatabaseCredentials() (user, database string) {
	user = s.Env.GetDefault("POSTGRES_USER", "postgres")
	database = s.Env.GetDefault("POSTGRES_DB", user)
	return user, database
}

// DatabaseService returns override when set, otherwise the detected
// PostgreSQL service.
func (s *Stack) DatabaseService(override string) (string, error) {
	if override != "" {
		if _, ok := s.Compose.Services[override]; !ok {
			return "", fmt.Errorf("service %q is not defined in %s", override, s.Compose.Path)
		}
		return override, nil
	}
	if svc := s.Compose.DatabaseService(); svc != "" {
		return svc, nil
	}
	return "", fmt.Errorf("%w in %s", ErrNoDatabaseService, s.Compose.Path)
}

// States lists the stack's containers by service name.
func (s *Stack) States(ctx context.Context, client *docker.Client) (map[string]docker.ServiceState, error) {
	states, err := client.ComposePS(ctx, s.Project())
	if err != nil {
		return nil, err
	}
	out := make(map[string]docker.ServiceState, len(states))
	for _, st := range states {
		if prev, ok := out[st.Service]; ok && prev.Running() {
			continue
		}
		out[st.Service] = st
	}
	return out, nil
}
