package docker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/osa911/stackctl/internal/logging"
	"github.com/osa911/stackctl/internal/version"
)

// Project addresses a compose project on disk.
type Project struct {
	Name string
	Dir  string
	File string
}

func (p Project) args(extra ...string) []string {
	args := []string{"compose"}
	if p.File != "" {
		args = append(args, "-f", p.File)
	}
	if p.Dir != "" {
		args = append(args, "--project-directory", p.Dir)
	}
	if p.Name != "" {
		args = append(args, "-p", p.Name)
	}
	return append(args, extra...)
}

// Client issues docker and docker compose commands through a Runner.
type Client struct {
	runner Runner
	logger *logging.Logger
	// progress receives compose progress output of pull and up.
	progress io.Writer
}

// NewClient creates a client on top of runner.
func NewClient(runner Runner) *Client {
	return &Client{
		runner: runner,
		logger: logging.GetGlobalLogger(),
	}
}

// WithProgress returns a copy of the client that streams pull/up progress to w.
func (c *Client) WithProgress(w io.Writer) *Client {
	clone := *c
	clone.progress = w
	return &clone
}

func (c *Client) run(ctx context.Context, args ...string) (Result, error) {
	return c.runner.Run(ctx, Cmd{Args: args})
}

// Version returns the docker engine version.
func (c *Client) Version(ctx context.Context) (string, error) {
	res, err := c.run(ctx, "version", "--format", "{{.Server.Version}}")
	if err != nil {
		return "", fmt.Errorf("failed to query docker version: %w", err)
	}
	return strings.TrimSpace(string(res.Stdout)), nil
}

// ComposeVersion returns the docker compose plugin version without a leading v.
func (c *Client) ComposeVersion(ctx context.Context) (string, error) {
	res, err := c.run(ctx, "compose", "version", "--short")
	if err != nil {
		return "", fmt.Errorf("docker compose v2 is required: %w", err)
	}
	return strings.TrimPrefix(strings.TrimSpace(string(res.Stdout)), "v"), nil
}

// CheckCompose rejects compose versions older than version.MinimumComposeVersion.
func (c *Client) CheckCompose(ctx context.Context) (string, error) {
	v, err := c.ComposeVersion(ctx)
	if err != nil {
		return "", err
	}
	return v, version.CheckComposeVersion(v)
}

// NetworkExists reports whether a docker network with the given name exists.
func (c *Client) NetworkExists(ctx context.Context, name string) (bool, error) {
	_, err := c.run(ctx, "network", "inspect", "--format", "{{.Name}}", name)
	if err != nil {
		if IsExitError(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// NetworkCreate creates a network with the given driver and labels.
func (c *Client) NetworkCreate(ctx context.Context, name, driver string, labels map[string]string) error {
	args := []string{"network", "create"}
	if driver != "" {
		args = append(args, "--driver", driver)
	}
	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		args = append(args, "--label", k+"="+labels[k])
	}
	args = append(args, name)

	if _, err := c.run(ctx, args...); err != nil {
		return fmt.Errorf("failed to create network %s: %w", name, err)
	}
	return nil
}

// ComposeConfig validates the project's compose file and interpolation.
func (c *Client) ComposeConfig(ctx context.Context, p Project) error {
	if _, err := c.run(ctx, p.args("config", "-q")...); err != nil {
		return fmt.Errorf("compose file is invalid: %w", err)
	}
	return nil
}

// ComposePull pulls the images of the given services, or all services.
func (c *Client) ComposePull(ctx context.Context, p Project, services ...string) error {
	args := p.args(append([]string{"pull"}, services...)...)
	if _, err := c.runner.Run(ctx, Cmd{Args: args, Stderr: c.progress}); err != nil {
		return fmt.Errorf("failed to pull images: %w", err)
	}
	return nil
}

// UpOptions tunes ComposeUp.
type UpOptions struct {
	Build    bool
	Services []string
}

// ComposeUp starts the project detached and removes orphan containers.
func (c *Client) ComposeUp(ctx context.Context, p Project, opts UpOptions) error {
	extra := []string{"up", "-d", "--remove-orphans"}
	if opts.Build {
		extra = append(extra, "--build")
	}
	extra = append(extra, opts.Services...)
	if _, err := c.runner.Run(ctx, Cmd{Args: p.args(extra...), Stderr: c.progress}); err != nil {
		return fmt.Errorf("failed to start services: %w", err)
	}
	return nil
}

// ComposeDown stops and removes the project's containers.
func (c *Client) ComposeDown(ctx context.Context, p Project) error {
	if _, err := c.run(ctx, p.args("down")...); err != nil {
		return fmt.Errorf("failed to stop project: %w", err)
	}
	return nil
}

// ComposeStop stops the given services.
func (c *Client) ComposeStop(ctx context.Context, p Project, services ...string) error {
	if _, err := c.run(ctx, p.args(append([]string{"stop"}, services...)...)...); err != nil {
		return fmt.Errorf("failed to stop %s: %w", strings.Join(services, ", "), err)
	}
	return nil
}

// ComposeStart starts previously stopped services.
func (c *Client) ComposeStart(ctx context.Context, p Project, services ...string) error {
	if _, err := c.run(ctx, p.args(append([]string{"start"}, services...)...)...); err != nil {
		return fmt.Errorf("failed to start %s: %w", strings.Join(services, ", "), err)
	}
	return nil
}

// ComposePS lists the project's containers, stopped ones included.
func (c *Client) ComposePS(ctx context.Context, p Project) ([]ServiceState, error) {
	res, err := c.run(ctx, p.args("ps", "--all", "--format", "json")...)
	if err != nil {
		return nil, fmt.Errorf("failed to list containers: %w", err)
	}
	states, err := ParsePS(res.Stdout)
	if err != nil {
		return nil, fmt.Errorf("failed to parse compose ps output: %w", err)
	}
	return states, nil
}

// ComposeExec runs command inside a service container without a TTY,
// streaming stdin and stdout.
func (c *Client) ComposeExec(ctx context.Context, p Project, service string, command []string, stdin io.Reader, stdout io.Writer) error {
	args := p.args(append([]string{"exec", "-T", service}, command...)...)
	if _, err := c.runner.Run(ctx, Cmd{Args: args, Stdin: stdin, Stdout: stdout}); err != nil {
		return fmt.Errorf("exec in %s failed: %w", service, err)
	}
	return nil
}

// ComposeLogs returns the last tail lines of the given services' logs.
func (c *Client) ComposeLogs(ctx context.Context, p Project, tail int, services ...string) (string, error) {
	extra := []string{"logs", "--no-color", "--tail", strconv.Itoa(tail)}
	res, err := c.run(ctx, p.args(append(extra, services...)...)...)
	if err != nil {
		return "", fmt.Errorf("failed to read logs: %w", err)
	}
	return string(res.Stdout), nil
}

// ServiceState is one container as reported by compose ps.
type ServiceState struct {
	Name       string      `json:"Name"`
	Service    string      `json:"Service"`
	State      string      `json:"State"`
	Health     string      `json:"Health"`
	Status     string      `json:"Status"`
	ExitCode   int         `json:"ExitCode"`
	Publishers []Publisher `json:"Publishers"`
}

// Publisher is a published port.
type Publisher struct {
	URL           string `json:"URL"`
	TargetPort    int    `json:"TargetPort"`
	PublishedPort int    `json:"PublishedPort"`
	Protocol      string `json:"Protocol"`
}

func (s ServiceState) Running() bool { return s.State == "running" }

// Ready reports whether the container runs and, when it has a healthcheck, is healthy.
func (s ServiceState) Ready() bool {
	return s.Running() && (s.Health == "" || s.Health == "healthy")
}

// Failed reports a container that will not become ready on its own.
func (s ServiceState) Failed() bool {
	switch s.State {
	case "dead":
		return true
	case "exited":
		return s.ExitCode != 0
	}
	return false
}

// Ports renders published ports as host:published->target/proto.
func (s ServiceState) Ports() string {
	var parts []string
	seen := map[string]bool{}
	for _, p := range s.Publishers {
		if p.PublishedPort == 0 {
			continue
		}
		entry := fmt.Sprintf("%d->%d/%s", p.PublishedPort, p.TargetPort, p.Protocol)
		if seen[entry] {
			continue
		}
		seen[entry] = true
		parts = append(parts, entry)
	}
	return strings.Join(parts, ", ")
}

// ParsePS decodes compose ps JSON output, which older compose releases emit
// as an array and newer ones as one object per line.
func ParsePS(data []byte) ([]ServiceState, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, nil
	}

	var states []ServiceState
	if data[0] == '[' {
		if err := json.Unmarshal(data, &states); err != nil {
			return nil, err
		}
	} else {
		dec := json.NewDecoder(bytes.NewReader(data))
		for dec.More() {
			var s ServiceState
			if err := dec.Decode(&s); err != nil {
				return nil, err
			}
			states = append(states, s)
		}
	}

	sort.SliceStable(states, func(i, j int) bool { return states[i].Service < states[j].Service })
	return states, nil
}
