package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osa911/stackctl/internal/docker"
	"github.com/osa911/stackctl/internal/traefik"
)

func TestStatusCollect(t *testing.T) {
	cfg, stack := openShop(t, shopEnv)
	fake := (&docker.FakeRunner{}).
		On("ps --all", psOutput(t,
			docker.ServiceState{Service: "db", State: "running", Health: "healthy",
				Publishers: []docker.Publisher{{TargetPort: 5432, PublishedPort: 5433, Protocol: "tcp"}}},
		), nil).
		On("network inspect", "traefik-public", nil)
	client := docker.NewClient(fake)
	backups := newBackupService(cfg, fake, time.Now())
	writeBackup(t, backups.Dir(stack), "shop_shopdb_20250301_030000.sql.gz")
	api := &fakeTraefik{routers: []traefik.Router{{Name: "shop@docker"}}}

	report, err := NewStatusService(cfg, client, NewNetworkService(client), backups, api).Collect(context.Background(), []*Stack{stack})
	require.NoError(t, err)
	require.Len(t, report.Stacks, 1)

	st := report.Stacks[0]
	assert.False(t, st.Proxy)
	assert.Equal(t, []ServiceRow{
		{Service: "api", State: "not created"},
		{Service: "db", State: "running", Health: "healthy", Ports: "5433->5432/tcp"},
	}, st.Services)
	assert.Equal(t, []string{"https://example.com"}, st.URLs)
	require.NotNil(t, st.LatestBackup)
	assert.Equal(t, "shop_shopdb_20250301_030000.sql.gz", st.LatestBackup.Name)
	assert.Equal(t, []NetworkResult{{Name: "traefik-public", Exists: true}}, st.Networks)

	require.NotNil(t, report.Traefik)
	assert.Equal(t, "3.1.2", report.Traefik.Version)
	assert.Equal(t, 1, report.Traefik.Overview.HTTP.Routers.Total)
	assert.Empty(t, report.Certificates)
}

func TestStatusCollect_DockerAndTraefikDown(t *testing.T) {
	cfg, stack := openShop(t, shopEnv)
	fake := (&docker.FakeRunner{}).On("", "", errors.New("docker not found in PATH"))
	client := docker.NewClient(fake)
	backups := newBackupService(cfg, fake, time.Now())
	api := &fakeTraefik{err: errors.New("connection refused")}

	report, err := NewStatusService(cfg, client, NewNetworkService(client), backups, api).Collect(context.Background(), []*Stack{stack})
	require.NoError(t, err)

	st := report.Stacks[0]
	assert.Contains(t, st.Error, "docker not found")
	assert.Len(t, st.Services, 2)
	assert.Nil(t, st.LatestBackup)
	assert.Equal(t, "connection refused", report.Traefik.Error)
}
