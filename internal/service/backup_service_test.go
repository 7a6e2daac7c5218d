package service

import (
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osa911/stackctl/internal/config"
	"github.com/osa911/stackctl/internal/docker"
	"github.com/osa911/stackctl/internal/metrics"
)

const sampleDump = "-- PostgreSQL database dump\nDROP TABLE IF EXISTS orders;\nCREATE TABLE orders (id serial primary key);\n"

func newBackupService(cfg *config.Config, fake *docker.FakeRunner, now time.Time) *backupService {
	svc := NewBackupService(cfg, docker.NewClient(fake), nil).(*backupService)
	svc.now = func() time.Time { return now }
	return svc
}

func readGzip(t *testing.T, path string) string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	gz, err := gzip.NewReader(f)
	require.NoError(t, err)
	data, err := io.ReadAll(gz)
	require.NoError(t, err)
	return string(data)
}

func TestBackup(t *testing.T) {
	cfg, stack := openShop(t, shopEnv)
	fake := (&docker.FakeRunner{}).On("exec -T db pg_dump", sampleDump, nil)
	now := time.Date(2025, 3, 1, 3, 0, 0, 0, time.Local)
	svc := newBackupService(cfg, fake, now)
	textfile := metrics.NewTextfile()

	file, err := svc.Backup(context.Background(), stack, BackupOptions{Metrics: textfile})
	require.NoError(t, err)

	assert.Equal(t, "shop_shopdb_20250301_030000.sql.gz", file.Name)
	assert.Equal(t, filepath.Join(cfg.BackupDir, "shop", file.Name), file.Path)
	assert.Equal(t, sampleDump, readGzip(t, file.Path))

	info, err := os.Stat(file.Path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0600), info.Mode().Perm())
	assert.Equal(t, info.Size(), file.Size)

	call := fake.Find("pg_dump")
	require.NotNil(t, call)
	assert.Contains(t, call.String(), "pg_dump -U shop -d shopdb --clean --if-exists --no-owner")

	manifest, err := VerifyBackup(file.Path)
	require.NoError(t, err)
	require.NotNil(t, manifest)
	assert.Equal(t, "shop", manifest.Stack)
	assert.Equal(t, "shopdb", manifest.Database)
	assert.Equal(t, "db", manifest.Service)
	assert.NotEmpty(t, manifest.ID)
	assert.Len(t, manifest.SHA256, 64)

	entries, err := os.ReadDir(svc.Dir(stack))
	require.NoError(t, err)
	assert.Len(t, entries, 2, "backup and manifest only, no temporary files")
}

func TestBackup_EmptyDump(t *testing.T) {
	cfg, stack := openShop(t, shopEnv)
	fake := (&docker.FakeRunner{}).On("pg_dump", "", nil)
	svc := newBackupService(cfg, fake, time.Now())

	_, err := svc.Backup(context.Background(), stack, BackupOptions{})
	require.ErrorIs(t, err, ErrEmptyDump)

	files, err := svc.List(stack)
	require.NoError(t, err)
	assert.Empty(t, files)
}

func TestBackup_DumpFails(t *testing.T) {
	cfg, stack := openShop(t, shopEnv)
	fake := (&docker.FakeRunner{}).On("pg_dump", "", &docker.ExitError{Code: 1, Stderr: "pg_dump: error: connection refused"})
	svc := newBackupService(cfg, fake, time.Now())

	_, err := svc.Backup(context.Background(), stack, BackupOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pg_dump failed")
	assert.True(t, docker.IsExitError(err))

	entries, _ := os.ReadDir(svc.Dir(stack))
	assert.Empty(t, entries)
}

func TestBackup_NoDatabase(t *testing.T) {
	root := t.TempDir()
	writeStack(t, root, "traefik", proxyCompose, "ACME_EMAIL=ops@example.com\nDOMAIN=example.com\n")
	cfg := testConfig(t, root, nil)
	stack, err := OpenStack(cfg, "traefik")
	require.NoError(t, err)

	_, err = newBackupService(cfg, &docker.FakeRunner{}, time.Now()).Backup(context.Background(), stack, BackupOptions{})
	assert.ErrorIs(t, err, ErrNoDatabaseService)
}

func writeBackup(t *testing.T, dir, name string) string {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0700))
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	require.NoError(t, err)
	gz := gzip.NewWriter(f)
	_, err = gz.Write([]byte(sampleDump))
	require.NoError(t, err)
	require.NoError(t, gz.Close())
	require.NoError(t, f.Close())
	return path
}

func TestBackup_ListAndPrune(t *testing.T) {
	cfg, stack := openShop(t, shopEnv)
	cfg.BackupRetentionDays = 7
	cfg.BackupKeep = 2
	now := time.Date(2025, 3, 20, 12, 0, 0, 0, time.Local)
	svc := newBackupService(cfg, &docker.FakeRunner{}, now)
	dir := svc.Dir(stack)

	names := []string{
		"shop_shopdb_20250301_030000.sql.gz",
		"shop_shopdb_20250302_030000.sql.gz",
		"shop_shopdb_20250303_030000.sql.gz",
		"shop_shopdb_20250319_030000.sql.gz",
	}
	for _, n := range names {
		writeBackup(t, dir, n)
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0600))

	files, err := svc.List(stack)
	require.NoError(t, err)
	require.Len(t, files, 4)
	assert.Equal(t, names[3], files[0].Name)
	assert.Equal(t, names[0], files[3].Name)

	removed, err := svc.Prune(stack)
	require.NoError(t, err)
	assert.Equal(t, []string{names[1], names[0]}, removed)

	files, err = svc.List(stack)
	require.NoError(t, err)
	assert.Len(t, files, 2)
}

func TestBackup_PruneDisabled(t *testing.T) {
	cfg, stack := openShop(t, shopEnv)
	cfg.BackupRetentionDays = 0
	svc := newBackupService(cfg, &docker.FakeRunner{}, time.Now())
	writeBackup(t, svc.Dir(stack), "shop_shopdb_20200101_030000.sql.gz")

	removed, err := svc.Prune(stack)
	require.NoError(t, err)
	assert.Empty(t, removed)
}

func TestBackup_ListRemoteNotConfigured(t *testing.T) {
	cfg, stack := openShop(t, shopEnv)
	_, err := newBackupService(cfg, &docker.FakeRunner{}, time.Now()).ListRemote(context.Background(), stack)
	assert.Error(t, err)
}

func TestBackup_Upload(t *testing.T) {
	cfg, stack := openShop(t, shopEnv)
	fake := (&docker.FakeRunner{}).On("pg_dump", sampleDump, nil)
	now := time.Date(2025, 3, 1, 3, 0, 0, 0, time.Local)
	store, client := memStore(t, now)
	svc := newBackupService(cfg, fake, now)
	svc.remote = store

	file, err := svc.Backup(context.Background(), stack, BackupOptions{Upload: true})
	require.NoError(t, err)

	key := "stackctl/shop/" + file.Name
	assert.Equal(t, key, file.Manifest.RemoteKey)
	assert.Equal(t, []string{key, key + manifestSuffix}, client.Keys())

	data, ok := client.Object(key)
	require.True(t, ok)
	local, err := os.ReadFile(file.Path)
	require.NoError(t, err)
	assert.Equal(t, local, data)

	data, ok = client.Object(key + manifestSuffix)
	require.True(t, ok)
	var uploaded Manifest
	require.NoError(t, json.Unmarshal(data, &uploaded))
	assert.Equal(t, file.Manifest.SHA256, uploaded.SHA256)
	assert.Equal(t, key, uploaded.RemoteKey)

	remote, err := svc.ListRemote(context.Background(), stack)
	require.NoError(t, err)
	require.Len(t, remote, 1)
	assert.Equal(t, key, remote[0].Key)
}

func TestBackup_UploadSkippedWithoutStore(t *testing.T) {
	cfg, stack := openShop(t, shopEnv)
	fake := (&docker.FakeRunner{}).On("pg_dump", sampleDump, nil)
	svc := newBackupService(cfg, fake, time.Now())

	file, err := svc.Backup(context.Background(), stack, BackupOptions{Upload: true})
	require.NoError(t, err)
	assert.Empty(t, file.Manifest.RemoteKey)
}

func TestBackup_PruneRemote(t *testing.T) {
	root := t.TempDir()
	writeStack(t, root, "shop", shopCompose, shopEnv)
	cfg := testConfig(t, root, map[string]string{"BACKUP_KEEP": "1"})
	stack, err := OpenStack(cfg, "shop")
	require.NoError(t, err)

	ctx := context.Background()
	store, client := memStore(t, time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	for _, name := range []string{"shop_shopdb_20250101_030000.sql.gz", "shop_shopdb_20250102_030000.sql.gz", "shop_shopdb_20250103_030000.sql.gz"} {
		key := store.Key("shop", name)
		require.NoError(t, store.Upload(ctx, key, strings.NewReader("dump"), 4, "application/gzip"))
		require.NoError(t, store.Upload(ctx, key+manifestSuffix, strings.NewReader("{}"), 2, "application/json"))
	}

	svc := newBackupService(cfg, &docker.FakeRunner{}, time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC))
	svc.remote = store

	removed, err := svc.PruneRemote(ctx, stack)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{
		"stackctl/shop/shop_shopdb_20250101_030000.sql.gz",
		"stackctl/shop/shop_shopdb_20250102_030000.sql.gz",
	}, removed)
	assert.Equal(t, []string{
		"stackctl/shop/shop_shopdb_20250103_030000.sql.gz",
		"stackctl/shop/shop_shopdb_20250103_030000.sql.gz.json",
	}, client.Keys())
}

func TestHumanBytes(t *testing.T) {
	assert.Equal(t, "512 B", humanBytes(512))
	assert.Equal(t, "1.5 KiB", humanBytes(1536))
	assert.Equal(t, "3.0 MiB", humanBytes(3*1024*1024))
}
