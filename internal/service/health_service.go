package service

import (
	"context"
	"crypto/tls"
	"database/sql"
	"fmt"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	_ "github.com/lib/pq"
	"golang.org/x/sync/errgroup"

	"github.com/osa911/stackctl/internal/config"
	"github.com/osa911/stackctl/internal/docker"
	"github.com/osa911/stackctl/internal/logging"
	"github.com/osa911/stackctl/internal/metrics"
	"github.com/osa911/stackctl/internal/traefik"
	"github.com/osa911/stackctl/internal/utils"
)

// CheckStatus orders check outcomes from best to worst.
type CheckStatus int

const (
	StatusOK CheckStatus = iota
	StatusSkipped
	StatusWarning
	StatusCritical
)

func (s CheckStatus) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusSkipped:
		return "skipped"
	case StatusWarning:
		return "warning"
	default:
		return "critical"
	}
}

func (s CheckStatus) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// metricValue maps a status onto the textfile scale (0=ok, 1=warning, 2=critical).
func (s CheckStatus) metricValue() int {
	switch s {
	case StatusWarning:
		return 1
	case StatusCritical:
		return 2
	}
	return 0
}

// CheckResult is the outcome of one check against one target.
type CheckResult struct {
	Name     string        `json:"name"`
	Target   string        `json:"target,omitempty"`
	Status   CheckStatus   `json:"status"`
	Message  string        `json:"message"`
	Duration time.Duration `json:"duration_ns"`
}

// HealthReport collects the checks of one stack.
type HealthReport struct {
	Stack  string        `json:"stack"`
	Checks []CheckResult `json:"checks"`
	Status CheckStatus   `json:"status"`
}

// Healthy reports whether no critical check failed.
func (r *HealthReport) Healthy() bool { return r.Status != StatusCritical }

// HealthService runs the health checks of a stack.
type HealthService interface {
	Check(ctx context.Context, stack *Stack, textfile *metrics.Textfile) *HealthReport
}

type healthService struct {
	logger     *logging.Logger
	cfg        *config.Config
	docker     *docker.Client
	traefik    traefik.Client
	httpClient *http.Client
	tlsConfig  *tls.Config
	// dialAddr maps a public host to the address to connect to.
	dialAddr func(host string) string
	resolve  func(ctx context.Context, host string) ([]string, error)
	now      func() time.Time
}

// NewHealthService creates a new health service instance
func NewHealthService(cfg *config.Config, client *docker.Client, api traefik.Client) HealthService {
	return &healthService{
		logger:  logging.GetGlobalLogger(),
		cfg:     cfg,
		docker:  client,
		traefik: api,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		dialAddr: func(host string) string { return net.JoinHostPort(host, "443") },
		resolve:  utils.LookupHostGlobal,
		now:      time.Now,
	}
}

type healthCheck struct {
	name   string
	target string
	run    func(ctx context.Context) (CheckStatus, string)
}

// Check runs every check concurrently and returns the report. Checks never
// fail the call; their outcome is in the report.
func (s *healthService) Check(ctx context.Context, stack *Stack, textfile *metrics.Textfile) *HealthReport {
	checks := s.plan(stack)
	results := make([]CheckResult, len(checks))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for i, c := range checks {
		i, c := i, c
		g.Go(func() error {
			start := s.now()
			status, msg := c.run(gctx)
			results[i] = CheckResult{Name: c.name, Target: c.target, Status: status, Message: msg, Duration: s.now().Sub(start)}
			return nil
		})
	}
	_ = g.Wait()

	report := &HealthReport{Stack: stack.Name, Checks: results}
	for _, r := range results {
		if r.Status > report.Status {
			report.Status = r.Status
		}
		if textfile != nil {
			textfile.ObserveCheck(stack.Name, r.Name, r.Target, r.Status.metricValue())
		}
	}
	if textfile != nil {
		textfile.ObserveHealthRun(stack.Name, s.now(), report.Healthy())
	}
	return report
}

func (s *healthService) plan(stack *Stack) []healthCheck {
	checks := []healthCheck{{
		name:   "containers",
		target: stack.Name,
		run:    func(ctx context.Context) (CheckStatus, string) { return s.checkContainers(ctx, stack) },
	}}

	if svc, err := stack.DatabaseService(""); err == nil {
		checks = append(checks, healthCheck{
			name:   "database",
			target: svc,
			run:    func(ctx context.Context) (CheckStatus, string) { return s.checkDatabase(ctx, stack, svc) },
		})
	}

	hosts := stack.Compose.PublicHosts(stack.Lookup)
	if len(hosts) == 0 {
		return checks
	}

	var (
		routersOnce sync.Once
		routers     []traefik.Router
		routersErr  error
	)
	loadRouters := func(ctx context.Context) ([]traefik.Router, error) {
		routersOnce.Do(func() {
			if routersErr = s.traefik.Ping(ctx); routersErr == nil {
				routers, routersErr = s.traefik.Routers(ctx)
			}
		})
		return routers, routersErr
	}

	path := stack.Env.GetDefault("HEALTH_PATH", "/")
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}

	for _, host := range hosts {
		checks = append(checks,
			healthCheck{name: "http", target: host, run: func(ctx context.Context) (CheckStatus, string) {
				return s.checkHTTP(ctx, host, path)
			}},
			healthCheck{name: "tls", target: host, run: func(ctx context.Context) (CheckStatus, string) {
				return s.checkTLS(ctx, host)
			}},
			healthCheck{name: "dns", target: host, run: func(ctx context.Context) (CheckStatus, string) {
				return s.checkDNS(ctx, host)
			}},
		)
		if s.traefik != nil {
			checks = append(checks, healthCheck{name: "traefik", target: host, run: func(ctx context.Context) (CheckStatus, string) {
				routers, err := loadRouters(ctx)
				if err != nil {
					return StatusSkipped, fmt.Sprintf("Traefik API unreachable: %v", err)
				}
				r, ok := traefik.RouterForHost(routers, host)
				if !ok {
					return StatusWarning, "no Traefik router serves this host"
				}
				if !r.Enabled() {
					return StatusWarning, fmt.Sprintf("router %s is %s: %s", r.Name, r.Status, strings.Join(r.Errors, "; "))
				}
				return StatusOK, fmt.Sprintf("router %s enabled", r.Name)
			}})
		}
	}
	return checks
}

func (s *healthService) checkContainers(ctx context.Context, stack *Stack) (CheckStatus, string) {
	states, err := stack.States(ctx, s.docker)
	if err != nil {
		return StatusCritical, err.Error()
	}

	var problems []string
	running := 0
	for _, name := range stack.Compose.ServiceNames() {
		st, ok := states[name]
		switch {
		case !ok:
			if len(stack.Compose.Services[name].Profiles) > 0 {
				continue
			}
			problems = append(problems, name+" not created")
		case !st.Running():
			problems = append(problems, fmt.Sprintf("%s %s", name, st.State))
		case stack.Compose.HasHealthcheck(name) && st.Health != "healthy":
			problems = append(problems, fmt.Sprintf("%s %s", name, orDefault(st.Health, "no health status")))
		default:
			running++
		}
	}
	if len(problems) > 0 {
		return StatusCritical, strings.Join(problems, ", ")
	}
	return StatusOK, fmt.Sprintf("%d services running", running)
}

func (s *healthService) checkDatabase(ctx context.Context, stack *Stack, svc string) (CheckStatus, string) {
	if dsn := stack.Env.Get("HEALTH_DATABASE_URL"); dsn != "" {
		db, err := sql.Open("postgres", dsn)
		if err != nil {
			return StatusCritical, fmt.Sprintf("invalid HEALTH_DATABASE_URL: %v", err)
		}
		defer db.Close()

		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := db.PingContext(pingCtx); err != nil {
			return StatusCritical, fmt.Sprintf("ping failed: %v", err)
		}
		return StatusOK, "accepting connections"
	}

	user, database := stack.DatabaseCredentials()
	cmd := []string{"pg_isready", "-U", user, "-d", database}
	if err := s.docker.ComposeExec(ctx, stack.Project(), svc, cmd, nil, nil); err != nil {
		return StatusCritical, err.Error()
	}
	return StatusOK, "accepting connections"
}

func (s *healthService) checkHTTP(ctx context.Context, host, path string) (CheckStatus, string) {
	url := "https://" + host + path
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return StatusCritical, err.Error()
	}
	req.Header.Set("User-Agent", "stackctl-health-check")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return StatusCritical, err.Error()
	}
	resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 400 {
		return StatusOK, fmt.Sprintf("%s returned %d", url, resp.StatusCode)
	}
	return StatusCritical, fmt.Sprintf("%s returned %d", url, resp.StatusCode)
}

func (s *healthService) checkTLS(ctx context.Context, host string) (CheckStatus, string) {
	cfg := &tls.Config{ServerName: host}
	if s.tlsConfig != nil {
		cfg = s.tlsConfig.Clone()
		cfg.ServerName = host
	}
	dialer := &tls.Dialer{NetDialer: &net.Dialer{Timeout: 5 * time.Second}, Config: cfg}

	conn, err := dialer.DialContext(ctx, "tcp", s.dialAddr(host))
	if err != nil {
		return StatusCritical, fmt.Sprintf("TLS handshake failed: %v", err)
	}
	defer conn.Close()

	certs := conn.(*tls.Conn).ConnectionState().PeerCertificates
	if len(certs) == 0 {
		return StatusCritical, "no peer certificate"
	}
	leaf := certs[0]
	days := int(leaf.NotAfter.Sub(s.now()).Hours() / 24)
	msg := fmt.Sprintf("expires %s (%d days), issued by %s", leaf.NotAfter.Format("2006-01-02"), days, leaf.Issuer.CommonName)
	if days < s.cfg.CertExpiryWarnDays {
		return StatusWarning, msg
	}
	return StatusOK, msg
}

func (s *healthService) checkDNS(ctx context.Context, host string) (CheckStatus, string) {
	ips, err := s.resolve(ctx, host)
	if err != nil {
		return StatusWarning, err.Error()
	}
	if s.cfg.ServerIP == "" {
		return StatusOK, strings.Join(ips, ", ")
	}
	if !utils.ContainsIP(ips, s.cfg.ServerIP) {
		return StatusWarning, fmt.Sprintf("resolves to %s, expected %s", strings.Join(ips, ", "), s.cfg.ServerIP)
	}
	return StatusOK, fmt.Sprintf("resolves to %s", s.cfg.ServerIP)
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
