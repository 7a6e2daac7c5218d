package service

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/osa911/stackctl/internal/config"
	"github.com/osa911/stackctl/internal/docker"
	"github.com/osa911/stackctl/internal/storage/s3"
)

const shopCompose = `
services:
  api:
    image: ghcr.io/acme/shop-api:1.4.2
    depends_on: [db]
    environment:
      ConnectionStrings__Default: "Host=db;Password=${POSTGRES_PASSWORD}"
    labels:
      - traefik.enable=true
      - traefik.http.routers.shop.rule=Host(` + "`${DOMAIN}`" + `)
      - traefik.http.routers.shop.entrypoints=websecure
      - traefik.http.routers.shop.tls.certresolver=letsencrypt
    networks: [traefik-public, default]
  db:
    image: postgres:16-alpine
    environment:
      POSTGRES_USER: ${POSTGRES_USER:-postgres}
      POSTGRES_PASSWORD: ${POSTGRES_PASSWORD}
      POSTGRES_DB: ${POSTGRES_DB:-app}
    healthcheck:
      test: ["CMD-SHELL", "pg_isready -U $${POSTGRES_USER}"]
networks:
  traefik-public:
    external: true
`

const shopEnv = `DOMAIN=example.com
POSTGRES_USER=shop
POSTGRES_DB=shopdb
POSTGRES_PASSWORD=Zq8vN3kLw5Rt7yPb
`

const proxyCompose = `
services:
  traefik:
    image: traefik:v3.1
    command:
      - --certificatesresolvers.letsencrypt.acme.email=${ACME_EMAIL}
    labels:
      - traefik.http.routers.dashboard.rule=Host(` + "`traefik.${DOMAIN}`" + `)
      - traefik.http.routers.dashboard.tls.certresolver=letsencrypt
    networks: [traefik-public]
networks:
  traefik-public:
    external: true
`

func writeStack(t *testing.T, root, name, composeYAML, env string) string {
	t.Helper()
	dir := filepath.Join(root, name)
	require.NoError(t, os.MkdirAll(dir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "docker-compose.yml"), []byte(composeYAML), 0644))
	if env != "" {
		require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte(env), 0600))
	}
	return dir
}

func testConfig(t *testing.T, root string, extra map[string]string) *config.Config {
	t.Helper()
	vars := map[string]string{
		"STACKCTL_ROOT": root,
		"BACKUP_DIR":    filepath.Join(root, "backups"),
		"WAIT_TIMEOUT":  "1s",
		"WAIT_INTERVAL": "10ms",
		"LOG_FILE":      "",
	}
	for k, v := range extra {
		vars[k] = v
	}
	cfg, err := config.LoadFrom(vars)
	require.NoError(t, err)
	return cfg
}

func openShop(t *testing.T, env string) (*config.Config, *Stack) {
	t.Helper()
	root := t.TempDir()
	writeStack(t, root, "shop", shopCompose, env)
	cfg := testConfig(t, root, nil)
	stack, err := OpenStack(cfg, "shop")
	require.NoError(t, err)
	return cfg, stack
}

func psOutput(t *testing.T, states ...docker.ServiceState) string {
	t.Helper()
	lines := make([]string, 0, len(states))
	for _, st := range states {
		data, err := json.Marshal(st)
		require.NoError(t, err)
		lines = append(lines, string(data))
	}
	return strings.Join(lines, "\n")
}

func runningShop(t *testing.T) string {
	return psOutput(t,
		docker.ServiceState{Name: "shop-api-1", Service: "api", State: "running"},
		docker.ServiceState{Name: "shop-db-1", Service: "db", State: "running", Health: "healthy"},
	)
}

// memStore returns a store in bucket "backups" under prefix "stackctl"
// whose client clock starts at start.
func memStore(t *testing.T, start time.Time) (*s3.Store, *s3.MemClient) {
	t.Helper()
	client := s3.NewMemClient(start)
	store, err := s3.New(context.Background(), s3.Config{Bucket: "backups", Region: "us-east-1", Prefix: "stackctl"}, s3.WithClient(client))
	require.NoError(t, err)
	return store, client
}
