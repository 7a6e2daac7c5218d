// Package traefik talks to a running Traefik instance and reads the files
// Traefik leaves on disk.
package traefik

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/osa911/stackctl/internal/logging"
)

// Client reads Traefik's API.
type Client interface {
	Ping(ctx context.Context) error
	Version(ctx context.Context) (*VersionInfo, error)
	Overview(ctx context.Context) (*Overview, error)
	Routers(ctx context.Context) ([]Router, error)
}

// VersionInfo is the body of /api/version.
type VersionInfo struct {
	Version  string `json:"Version"`
	Codename string `json:"Codename"`
}

// Counts of one kind of dynamic configuration object.
type Counts struct {
	Total    int `json:"total"`
	Warnings int `json:"warnings"`
	Errors   int `json:"errors"`
}

// Overview is the body of /api/overview.
type Overview struct {
	HTTP struct {
		Routers     Counts `json:"routers"`
		Services    Counts `json:"services"`
		Middlewares Counts `json:"middlewares"`
	} `json:"http"`
	Providers []string `json:"providers"`
}

// Router is one entry of /api/http/routers.
type Router struct {
	Name        string   `json:"name"`
	Rule        string   `json:"rule"`
	Service     string   `json:"service"`
	Provider    string   `json:"provider"`
	Status      string   `json:"status"`
	EntryPoints []string `json:"entryPoints"`
	Middlewares []string `json:"middlewares"`
	TLS         *struct {
		CertResolver string `json:"certResolver"`
	} `json:"tls"`
	Errors []string `json:"error"`
}

// Enabled reports whether Traefik accepted the router.
func (r Router) Enabled() bool { return r.Status == "enabled" }

// BaseName strips the @provider suffix.
func (r Router) BaseName() string {
	name, _, _ := strings.Cut(r.Name, "@")
	return name
}

type client struct {
	logger  *logging.Logger
	client  *http.Client
	baseURL string
}

// NewClient creates a client for the API served at baseURL (for example
// http://localhost:8080).
func NewClient(baseURL string) Client {
	return &client{
		logger:  logging.GetGlobalLogger(),
		client:  &http.Client{Timeout: 5 * time.Second},
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

func (c *client) get(ctx context.Context, path string, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to connect to Traefik API: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("Traefik API returned unexpected status %d for %s: %s", resp.StatusCode, path, strings.TrimSpace(string(body)))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return nil
}

// Ping checks that the API answers.
func (c *client) Ping(ctx context.Context) error {
	if err := c.get(ctx, "/api/version", nil); err != nil {
		return err
	}
	c.logger.Debug("Traefik API reachable at %s", c.baseURL)
	return nil
}

func (c *client) Version(ctx context.Context) (*VersionInfo, error) {
	var v VersionInfo
	if err := c.get(ctx, "/api/version", &v); err != nil {
		return nil, err
	}
	return &v, nil
}

func (c *client) Overview(ctx context.Context) (*Overview, error) {
	var o Overview
	if err := c.get(ctx, "/api/overview", &o); err != nil {
		return nil, err
	}
	return &o, nil
}

func (c *client) Routers(ctx context.Context) ([]Router, error) {
	var routers []Router
	if err := c.get(ctx, "/api/http/routers?per_page=1000", &routers); err != nil {
		return nil, err
	}
	return routers, nil
}

// RouterForHost returns the first router whose rule names host.
func RouterForHost(routers []Router, host string) (Router, bool) {
	for _, r := range routers {
		if strings.Contains(r.Rule, "`"+host+"`") || strings.Contains(r.Rule, `"`+host+`"`) {
			return r, true
		}
	}
	return Router{}, false
}
