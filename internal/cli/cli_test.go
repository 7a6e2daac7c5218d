package cli

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osa911/stackctl/internal/service"
	"github.com/osa911/stackctl/internal/traefik"
)

func init() {
	color.NoColor = true
}

func TestConfirm(t *testing.T) {
	tests := []struct {
		input string
		want  bool
	}{
		{"y\n", true},
		{"YES\n", true},
		{"  yes  \n", true},
		{"n\n", false},
		{"\n", false},
		{"", false},
		{"yep\n", false},
	}

	for _, tt := range tests {
		var out bytes.Buffer
		got, err := Confirm(strings.NewReader(tt.input), &out, "Proceed?")
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, "input %q", tt.input)
		assert.Equal(t, "Proceed? [y/N]: ", out.String())
	}
}

func TestFormatAge(t *testing.T) {
	assert.Equal(t, "just now", FormatAge(10*time.Second))
	assert.Equal(t, "5m ago", FormatAge(5*time.Minute))
	assert.Equal(t, "26h ago", FormatAge(26*time.Hour))
	assert.Equal(t, "3d ago", FormatAge(80*time.Hour))
}

func TestPrintHealth(t *testing.T) {
	report := &service.HealthReport{
		Stack:  "shop",
		Status: service.StatusCritical,
		Checks: []service.CheckResult{
			{Name: "containers", Target: "shop", Status: service.StatusOK, Message: "3 services running"},
			{Name: "http", Target: "api.example.com", Status: service.StatusCritical, Message: "returned 502"},
			{Name: "traefik", Target: "api.example.com", Status: service.StatusSkipped, Message: "unreachable"},
		},
	}

	var out bytes.Buffer
	PrintHealth(&out, report)
	text := out.String()
	assert.Contains(t, text, "▶ shop")
	assert.Contains(t, text, "✔ containers")
	assert.Contains(t, text, "✘ http")
	assert.Contains(t, text, "returned 502")
	assert.Contains(t, text, "unhealthy")
}

func TestPrintStatus(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	report := &service.StatusReport{
		GeneratedAt: now,
		Stacks: []service.StackStatus{{
			Stack: "shop",
			Dir:   "/srv/stacks/shop",
			Services: []service.ServiceRow{
				{Service: "api", State: "running", Ports: "8080->8080/tcp"},
				{Service: "db", State: "running", Health: "healthy"},
			},
			URLs:         []string{"https://api.example.com"},
			LatestBackup: &service.BackupFile{Name: "shop_app_20250301_030000.sql.gz", CreatedAt: now.Add(-9 * time.Hour)},
			Networks:     []service.NetworkResult{{Name: "traefik-public", Exists: false}},
		}},
		Traefik: &service.TraefikStatus{URL: "http://localhost:8080", Error: "connection refused"},
		Certificates: []traefik.Certificate{
			{Resolver: "letsencrypt", Main: "api.example.com", NotAfter: now.Add(5 * 24 * time.Hour)},
		},
	}

	var out bytes.Buffer
	PrintStatus(&out, report, 14)
	text := out.String()
	assert.Contains(t, text, "running (healthy)")
	assert.Contains(t, text, "https://api.example.com")
	assert.Contains(t, text, "shop_app_20250301_030000.sql.gz (9h ago)")
	assert.Contains(t, text, "network traefik-public: missing")
	assert.Contains(t, text, "unreachable: connection refused")
	assert.Contains(t, text, "2025-03-06")
}

func TestPrintBackups_Empty(t *testing.T) {
	var out bytes.Buffer
	PrintBackups(&out, nil, time.Now())
	assert.Equal(t, "No backups found\n", out.String())
}
