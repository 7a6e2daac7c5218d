package service

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/osa911/stackctl/internal/config"
	"github.com/osa911/stackctl/internal/docker"
	"github.com/osa911/stackctl/internal/envfile"
	"github.com/osa911/stackctl/internal/logging"
	"github.com/osa911/stackctl/internal/traefik"
)

// ProxyRequiredVariables must be set in the proxy stack's .env.
var ProxyRequiredVariables = []string{"ACME_EMAIL", "DOMAIN"}

// DefaultACMEStorage is the acme.json path relative to the proxy stack.
const DefaultACMEStorage = "letsencrypt/acme.json"

// Confirmer asks the operator a yes/no question.
type Confirmer func(question string) (bool, error)

// DeployOptions tunes Deploy.
type DeployOptions struct {
	Require  []string
	Services []string
	Yes      bool
	// Confirm is nil when nobody can answer, in which case weak secrets
	// abort unless Yes is set.
	Confirm Confirmer
	DryRun  bool
	Pull    bool
	Build   bool
	NoWait  bool
	Wait    WaitOptions
}

// DeployResult summarizes a deployment.
type DeployResult struct {
	Stack          string
	ComposeVersion string
	Networks       []NetworkResult
	URLs           []string
	Warnings       []string
	Plan           []string
}

// DeployService validates a stack and brings it up.
type DeployService interface {
	Deploy(ctx context.Context, stack *Stack, opts DeployOptions) (*DeployResult, error)
}

type deployService struct {
	logger   *logging.Logger
	cfg      *config.Config
	docker   *docker.Client
	networks NetworkService
	waiter   WaitService
}

// NewDeployService creates a new deploy service instance
func NewDeployService(cfg *config.Config, client *docker.Client, networks NetworkService, waiter WaitService) DeployService {
	return &deployService{
		logger:   logging.GetGlobalLogger(),
		cfg:      cfg,
		docker:   client,
		networks: networks,
		waiter:   waiter,
	}
}

// RequiredVariables returns the keys a stack's .env must set before deploying.
func RequiredVariables(cfg *config.Config, stack *Stack, extra []string) []string {
	seen := map[string]bool{}
	var keys []string
	add := func(k string) {
		k = strings.TrimSpace(k)
		if k != "" && !seen[k] {
			seen[k] = true
			keys = append(keys, k)
		}
	}
	for _, k := range stack.Compose.RequiredVariables() {
		add(k)
	}
	for _, k := range extra {
		add(k)
	}
	if stack.IsProxy(cfg) {
		for _, k := range ProxyRequiredVariables {
			add(k)
		}
	}
	sort.Strings(keys)
	return keys
}

// CheckEnv validates the stack's .env. Missing keys and format errors are
// returned as an error; weak secrets are returned for the caller to confirm.
func CheckEnv(cfg *config.Config, stack *Stack, extra []string) ([]envfile.Problem, error) {
	if stack.EnvErr != nil {
		return nil, stack.EnvErr
	}
	if err := stack.Env.RequireSet(RequiredVariables(cfg, stack, extra)); err != nil {
		return nil, err
	}

	problems := stack.Env.Validate()
	if envfile.HasErrors(problems) {
		msgs := make([]string, 0, len(problems))
		for _, p := range problems {
			msgs = append(msgs, p.String())
		}
		return nil, fmt.Errorf("%w: %s", ErrValidation, strings.Join(msgs, "; "))
	}
	return append(problems, stack.Env.WeakSecrets()...), nil
}

func (s *deployService) Deploy(ctx context.Context, stack *Stack, opts DeployOptions) (*DeployResult, error) {
	res := &DeployResult{Stack: stack.Name}
	plan := func(format string, args ...interface{}) {
		step := fmt.Sprintf(format, args...)
		res.Plan = append(res.Plan, step)
		if opts.DryRun {
			s.logger.Info("[dry-run] %s", step)
		}
	}

	s.logger.Info("Deploying %s from %s", stack.Name, stack.Dir)

	warnings, err := CheckEnv(s.cfg, stack, opts.Require)
	if err != nil {
		return nil, err
	}
	if len(warnings) > 0 {
		for _, w := range warnings {
			s.logger.Warn("%s", w)
			res.Warnings = append(res.Warnings, w.String())
		}
		if err := s.confirmWeakSecrets(opts); err != nil {
			return nil, err
		}
	}
	s.logger.Success("Environment of %s is valid", stack.Name)

	res.ComposeVersion, err = s.docker.CheckCompose(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.docker.ComposeConfig(ctx, stack.Project()); err != nil {
		return nil, err
	}

	res.Networks, err = s.networks.Ensure(ctx, RequiredNetworks(s.cfg, stack), opts.DryRun)
	if err != nil {
		return nil, err
	}
	for _, n := range res.Networks {
		if !n.Exists {
			plan("create network %s", n.Name)
		}
	}

	if stack.IsProxy(s.cfg) {
		acmePath := ACMEPath(stack)
		if opts.DryRun {
			plan("ensure %s exists with mode 0600", acmePath)
		} else {
			changed, err := traefik.EnsureACMEFile(acmePath)
			if err != nil {
				return nil, err
			}
			if changed {
				s.logger.Info("Prepared %s with mode 0600", acmePath)
			}
		}
	} else {
		s.checkProxyRunning(ctx)
	}

	project := stack.Project()
	if opts.Pull {
		plan("pull images of %s", stack.Name)
		if !opts.DryRun {
			if err := s.docker.ComposePull(ctx, project, opts.Services...); err != nil {
				return nil, err
			}
		}
	}

	plan("docker compose up -d --remove-orphans for %s", stack.Name)
	if opts.DryRun {
		res.URLs = stack.URLs()
		return res, nil
	}

	start := time.Now()
	if err := s.docker.ComposeUp(ctx, project, docker.UpOptions{Build: opts.Build, Services: opts.Services}); err != nil {
		return nil, err
	}
	s.logger.Success("Started %s in %s", stack.Name, time.Since(start).Round(time.Second))

	if !opts.NoWait {
		wait := opts.Wait
		if len(wait.Services) == 0 {
			wait.Services = opts.Services
		}
		if err := s.waiter.Wait(ctx, stack, wait); err != nil {
			if logs, logErr := s.docker.ComposeLogs(ctx, project, 30); logErr == nil && logs != "" {
				s.logger.Error("Recent logs of %s:\n%s", stack.Name, logs)
			}
			return nil, err
		}
	}

	res.URLs = stack.URLs()
	for _, u := range res.URLs {
		s.logger.Info("Available at %s", u)
	}
	return res, nil
}

func (s *deployService) confirmWeakSecrets(opts DeployOptions) error {
	if opts.Yes {
		s.logger.Warn("Continuing despite weak secrets (--yes)")
		return nil
	}
	if opts.Confirm == nil {
		return fmt.Errorf("%w: weak secrets found and no terminal to confirm; re-run with --yes to proceed", ErrAborted)
	}
	ok, err := opts.Confirm("Weak secrets found. Deploy anyway?")
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w by user", ErrAborted)
	}
	return nil
}

// checkProxyRunning warns when the proxy stack is not up, since application
// routes stay unreachable without it.
func (s *deployService) checkProxyRunning(ctx context.Context) {
	proxy, err := OpenStack(s.cfg, s.cfg.TraefikStack)
	if err != nil {
		s.logger.Warn("Proxy stack %s not found; routes will not be reachable until it is deployed", s.cfg.TraefikStack)
		return
	}
	states, err := proxy.States(ctx, s.docker)
	if err != nil {
		s.logger.Warn("Could not check proxy stack %s: %v", proxy.Name, err)
		return
	}
	svc := proxy.Compose.TraefikService()
	if st, ok := states[svc]; svc != "" && ok && st.Running() {
		return
	}
	s.logger.Warn("Proxy stack %s is not running; deploy it first with 'stackctl deploy %s'", proxy.Name, proxy.Name)
}

// ACMEPath returns the acme.json location of a proxy stack.
func ACMEPath(stack *Stack) string {
	p := stack.Env.GetDefault("ACME_STORAGE", DefaultACMEStorage)
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(stack.Dir, p)
}
