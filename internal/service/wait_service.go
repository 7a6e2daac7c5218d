package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/briandowns/spinner"
	"github.com/sethvargo/go-retry"

	"github.com/osa911/stackctl/internal/docker"
	"github.com/osa911/stackctl/internal/logging"
)

// WaitService blocks until a stack's services are up.
type WaitService interface {
	Wait(ctx context.Context, stack *Stack, opts WaitOptions) error
}

// WaitOptions tunes Wait. Zero durations fall back to the defaults below.
type WaitOptions struct {
	Services []string
	Timeout  time.Duration
	Interval time.Duration
	// Grace is how long a service may report unhealthy before Wait gives up.
	Grace time.Duration
	// Spinner shows progress; only set it on a terminal.
	Spinner bool
}

const (
	defaultWaitTimeout  = 120 * time.Second
	defaultWaitInterval = 5 * time.Second
	defaultGrace        = 30 * time.Second
)

type waitService struct {
	logger *logging.Logger
	docker *docker.Client
	now    func() time.Time
}

// NewWaitService creates a new wait service instance
func NewWaitService(client *docker.Client) WaitService {
	return &waitService{
		logger: logging.GetGlobalLogger(),
		docker: client,
		now:    time.Now,
	}
}

var errPending = errors.New("services pending")

// Wait polls compose ps until every target service is running and, when it
// declares a healthcheck, healthy. Without explicit services every service
// of the stack is awaited.
func (s *waitService) Wait(ctx context.Context, stack *Stack, opts WaitOptions) error {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultWaitTimeout
	}
	if opts.Interval <= 0 {
		opts.Interval = defaultWaitInterval
	}
	if opts.Grace <= 0 {
		opts.Grace = defaultGrace
	}

	targets := opts.Services
	if len(targets) == 0 {
		targets = stack.Compose.ServiceNames()
	}
	for _, name := range targets {
		if _, ok := stack.Compose.Services[name]; !ok {
			return fmt.Errorf("service %q is not defined in %s", name, stack.Compose.Path)
		}
	}

	s.logger.Info("Waiting up to %s for %s: %s", opts.Timeout, stack.Name, strings.Join(targets, ", "))

	var sp *spinner.Spinner
	if opts.Spinner {
		sp = spinner.New(spinner.CharSets[14], 120*time.Millisecond)
		sp.Suffix = " Waiting for services..."
		sp.Start()
		defer sp.Stop()
	}

	unhealthySince := map[string]time.Time{}
	pending := map[string]string{}
	for _, name := range targets {
		pending[name] = "not created"
	}

	backoff := retry.WithMaxDuration(opts.Timeout, retry.NewConstant(opts.Interval))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		states, err := stack.States(ctx, s.docker)
		if err != nil {
			s.logger.Debug("compose ps failed: %v", err)
			return retry.RetryableError(err)
		}

		pending = map[string]string{}
		for _, name := range targets {
			st, ok := states[name]
			if !ok {
				pending[name] = "not created"
				continue
			}
			if st.Failed() {
				return fmt.Errorf("%w: %s is %s (exit code %d)", ErrServiceFailed, name, st.State, st.ExitCode)
			}
			if st.Health == "unhealthy" {
				first, seen := unhealthySince[name]
				if !seen {
					first = s.now()
					unhealthySince[name] = first
				}
				if s.now().Sub(first) >= opts.Grace {
					return fmt.Errorf("%w: %s has been unhealthy for %s", ErrServiceFailed, name, opts.Grace)
				}
			} else {
				delete(unhealthySince, name)
			}
			if !st.Ready() || (stack.Compose.HasHealthcheck(name) && st.Health != "healthy") {
				pending[name] = describeState(st)
			}
		}

		if len(pending) > 0 {
			if sp != nil {
				sp.Lock()
				sp.Suffix = fmt.Sprintf(" Waiting for %d/%d services...", len(pending), len(targets))
				sp.Unlock()
			}
			return retry.RetryableError(errPending)
		}
		return nil
	})

	if err == nil {
		s.logger.Success("All services of %s are ready", stack.Name)
		return nil
	}
	if errors.Is(err, ErrServiceFailed) || errors.Is(err, context.Canceled) {
		return err
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}

	names := make([]string, 0, len(pending))
	for name := range pending {
		names = append(names, name)
	}
	sort.Strings(names)
	details := make([]string, 0, len(names))
	for _, name := range names {
		details = append(details, fmt.Sprintf("%s (%s)", name, pending[name]))
	}
	return fmt.Errorf("%w after %s: %s", ErrTimeout, opts.Timeout, strings.Join(details, ", "))
}

func describeState(st docker.ServiceState) string {
	if st.Health != "" {
		return st.State + ", " + st.Health
	}
	return st.State
}
