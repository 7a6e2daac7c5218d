package service

import (
	"context"
	"time"

	"github.com/osa911/stackctl/internal/config"
	"github.com/osa911/stackctl/internal/docker"
	"github.com/osa911/stackctl/internal/logging"
	"github.com/osa911/stackctl/internal/traefik"
)

// ServiceRow is one line of the service table.
type ServiceRow struct {
	Service string `json:"service"`
	State   string `json:"state"`
	Health  string `json:"health,omitempty"`
	Ports   string `json:"ports,omitempty"`
}

// StackStatus describes one stack.
type StackStatus struct {
	Stack        string          `json:"stack"`
	Dir          string          `json:"dir"`
	Proxy        bool            `json:"proxy"`
	Services     []ServiceRow    `json:"services"`
	Error        string          `json:"error,omitempty"`
	URLs         []string        `json:"urls,omitempty"`
	LatestBackup *BackupFile     `json:"latest_backup,omitempty"`
	Networks     []NetworkResult `json:"networks,omitempty"`
}

// TraefikStatus is what the Traefik API reported.
type TraefikStatus struct {
	URL      string            `json:"url"`
	Version  string            `json:"version,omitempty"`
	Overview *traefik.Overview `json:"overview,omitempty"`
	Error    string            `json:"error,omitempty"`
}

// StatusReport is the output of the status command.
type StatusReport struct {
	GeneratedAt  time.Time             `json:"generated_at"`
	Stacks       []StackStatus         `json:"stacks"`
	Traefik      *TraefikStatus        `json:"traefik,omitempty"`
	Certificates []traefik.Certificate `json:"certificates,omitempty"`
}

// StatusService gathers the state of stacks.
type StatusService interface {
	Collect(ctx context.Context, stacks []*Stack) (*StatusReport, error)
}

type statusService struct {
	logger   *logging.Logger
	cfg      *config.Config
	docker   *docker.Client
	networks NetworkService
	backups  BackupService
	traefik  traefik.Client
	now      func() time.Time
}

// NewStatusService creates a new status service instance
func NewStatusService(cfg *config.Config, client *docker.Client, networks NetworkService, backups BackupService, api traefik.Client) StatusService {
	return &statusService{
		logger:   logging.GetGlobalLogger(),
		cfg:      cfg,
		docker:   client,
		networks: networks,
		backups:  backups,
		traefik:  api,
		now:      time.Now,
	}
}

func (s *statusService) Collect(ctx context.Context, stacks []*Stack) (*StatusReport, error) {
	report := &StatusReport{GeneratedAt: s.now()}

	var proxy *Stack
	for _, stack := range stacks {
		st := StackStatus{Stack: stack.Name, Dir: stack.Dir, Proxy: stack.IsProxy(s.cfg), URLs: stack.URLs()}
		if st.Proxy && proxy == nil {
			proxy = stack
		}

		states, err := stack.States(ctx, s.docker)
		if err != nil {
			st.Error = err.Error()
		}
		for _, name := range stack.Compose.ServiceNames() {
			row := ServiceRow{Service: name, State: "not created"}
			if cs, ok := states[name]; ok {
				row.State, row.Health, row.Ports = cs.State, cs.Health, cs.Ports()
			}
			st.Services = append(st.Services, row)
		}

		if _, err := stack.DatabaseService(""); err == nil {
			files, err := s.backups.List(stack)
			if err != nil {
				s.logger.Warn("Could not list backups of %s: %v", stack.Name, err)
			} else if len(files) > 0 {
				st.LatestBackup = &files[0]
			}
		}

		st.Networks, err = s.networks.Status(ctx, stack.Compose.ExternalNetworks())
		if err != nil {
			s.logger.Warn("Could not inspect networks of %s: %v", stack.Name, err)
		}

		report.Stacks = append(report.Stacks, st)
	}

	if s.traefik != nil {
		ts := &TraefikStatus{URL: s.cfg.TraefikAPIURL}
		if v, err := s.traefik.Version(ctx); err != nil {
			ts.Error = err.Error()
		} else {
			ts.Version = v.Version
			if o, err := s.traefik.Overview(ctx); err != nil {
				ts.Error = err.Error()
			} else {
				ts.Overview = o
			}
		}
		report.Traefik = ts
	}

	if proxy == nil {
		if p, err := OpenStack(s.cfg, s.cfg.TraefikStack); err == nil {
			proxy = p
		}
	}
	if proxy != nil {
		certs, err := traefik.ReadACMECertificates(ACMEPath(proxy))
		if err != nil {
			s.logger.Warn("Could not read certificates: %v", err)
		}
		report.Certificates = certs
	}

	return report, nil
}
