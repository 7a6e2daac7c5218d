package service

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osa911/stackctl/internal/docker"
	"github.com/osa911/stackctl/internal/storage/s3"
)

func TestRestore_Resolve(t *testing.T) {
	cfg, stack := openShop(t, shopEnv)
	backups := newBackupService(cfg, &docker.FakeRunner{}, time.Now())
	svc := NewRestoreService(docker.NewClient(&docker.FakeRunner{}), backups, nil)
	ctx := context.Background()

	_, _, err := svc.Resolve(ctx, stack, "latest")
	require.ErrorIs(t, err, ErrNoBackups)

	older := writeBackup(t, backups.Dir(stack), "shop_shopdb_20250301_030000.sql.gz")
	newer := writeBackup(t, backups.Dir(stack), "shop_shopdb_20250302_030000.sql.gz")

	path, cleanup, err := svc.Resolve(ctx, stack, "latest")
	require.NoError(t, err)
	cleanup()
	assert.Equal(t, newer, path)

	path, _, err = svc.Resolve(ctx, stack, "shop_shopdb_20250301_030000.sql.gz")
	require.NoError(t, err)
	assert.Equal(t, older, path)

	path, _, err = svc.Resolve(ctx, stack, older)
	require.NoError(t, err)
	assert.Equal(t, older, path)

	_, _, err = svc.Resolve(ctx, stack, "missing.sql.gz")
	assert.ErrorIs(t, err, ErrNoBackups)

	_, _, err = svc.Resolve(ctx, stack, "s3://shop/x.sql.gz")
	assert.Error(t, err)
}

func TestVerifyBackup(t *testing.T) {
	dir := t.TempDir()

	t.Run("checksum mismatch", func(t *testing.T) {
		path := writeBackup(t, dir, "a.sql.gz")
		data, err := json.Marshal(Manifest{Stack: "shop", SHA256: "deadbeef"})
		require.NoError(t, err)
		require.NoError(t, os.WriteFile(path+manifestSuffix, data, 0600))

		_, err = VerifyBackup(path)
		assert.ErrorIs(t, err, ErrChecksumMismatch)
	})

	t.Run("not gzip", func(t *testing.T) {
		path := filepath.Join(dir, "b.sql.gz")
		require.NoError(t, os.WriteFile(path, []byte("CREATE TABLE x();"), 0600))
		_, err := VerifyBackup(path)
		assert.Error(t, err)
	})

	t.Run("without manifest", func(t *testing.T) {
		m, err := VerifyBackup(writeBackup(t, dir, "c.sql.gz"))
		require.NoError(t, err)
		assert.Nil(t, m)
	})
}

func TestRestore(t *testing.T) {
	cfg, stack := openShop(t, shopEnv)
	fake := (&docker.FakeRunner{}).
		On("pg_dump", sampleDump, nil).
		On("ps --all", runningShop(t), nil)
	client := docker.NewClient(fake)
	backups := newBackupService(cfg, fake, time.Now())
	_, err := backups.Backup(context.Background(), stack, BackupOptions{NoPrune: true})
	require.NoError(t, err)

	err = NewRestoreService(client, backups, nil).Restore(context.Background(), stack, "latest", RestoreOptions{Yes: true})
	require.NoError(t, err)

	var order []string
	for _, c := range fake.Calls() {
		switch cmd := c.String(); {
		case strings.HasSuffix(cmd, " stop api"):
			order = append(order, "stop")
		case strings.Contains(cmd, " psql "):
			order = append(order, "psql")
			assert.Equal(t, sampleDump, string(c.Stdin))
		case strings.HasSuffix(cmd, " start api"):
			order = append(order, "start")
		}
	}
	assert.Equal(t, []string{"stop", "psql", "start"}, order)
	assert.Contains(t, fake.Find("psql").String(), "exec -T db psql -v ON_ERROR_STOP=1 -q -U shop -d shopdb")
}

func TestRestore_FailureRestartsServices(t *testing.T) {
	cfg, stack := openShop(t, shopEnv)
	fake := (&docker.FakeRunner{}).
		On("ps --all", runningShop(t), nil).
		On("psql", "", &docker.ExitError{Code: 3, Stderr: "ERROR: relation does not exist"})
	backups := newBackupService(cfg, fake, time.Now())
	writeBackup(t, backups.Dir(stack), "shop_shopdb_20250301_030000.sql.gz")

	err := NewRestoreService(docker.NewClient(fake), backups, nil).Restore(context.Background(), stack, "", RestoreOptions{Yes: true})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "restore failed")
	assert.True(t, fake.Called("start api"))
}

func TestRestore_RestartFailureIsReported(t *testing.T) {
	cfg, stack := openShop(t, shopEnv)
	fake := (&docker.FakeRunner{}).
		On("ps --all", runningShop(t), nil).
		On("start api", "", &docker.ExitError{Code: 1, Stderr: "Error response from daemon: no such container"})
	backups := newBackupService(cfg, fake, time.Now())
	writeBackup(t, backups.Dir(stack), "shop_shopdb_20250301_030000.sql.gz")

	err := NewRestoreService(docker.NewClient(fake), backups, nil).Restore(context.Background(), stack, "latest", RestoreOptions{Yes: true})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to restart api")
	assert.True(t, docker.IsExitError(err))
	assert.True(t, fake.Called("psql"))
}

func TestRestore_FromOffsite(t *testing.T) {
	cfg, stack := openShop(t, shopEnv)
	fake := (&docker.FakeRunner{}).
		On("pg_dump", sampleDump, nil).
		On("ps --all", runningShop(t), nil)
	now := time.Date(2025, 3, 1, 3, 0, 0, 0, time.Local)
	store, _ := memStore(t, now)
	backups := newBackupService(cfg, fake, now)
	backups.remote = store
	ctx := context.Background()

	file, err := backups.Backup(ctx, stack, BackupOptions{Upload: true, NoPrune: true})
	require.NoError(t, err)
	uri := store.URI(file.Manifest.RemoteKey)
	require.Equal(t, "s3://backups/stackctl/shop/"+file.Name, uri)

	// Only the offsite copy is left.
	require.NoError(t, os.RemoveAll(backups.Dir(stack)))
	restorer := NewRestoreService(docker.NewClient(fake), backups, store)

	for _, source := range []string{uri, "s3://" + file.Manifest.RemoteKey, "s3://" + file.Name} {
		path, cleanup, err := restorer.Resolve(ctx, stack, source)
		require.NoError(t, err, source)
		assert.Equal(t, file.Name, filepath.Base(path))
		manifest, err := VerifyBackup(path)
		require.NoError(t, err, source)
		require.NotNil(t, manifest)
		assert.Equal(t, file.Manifest.ID, manifest.ID)
		cleanup()
		_, err = os.Stat(path)
		assert.True(t, os.IsNotExist(err))
	}

	require.NoError(t, restorer.Restore(ctx, stack, uri, RestoreOptions{Yes: true}))
	assert.Equal(t, sampleDump, string(fake.Find("psql").Stdin))

	_, _, err = restorer.Resolve(ctx, stack, "s3://backups/stackctl/shop/missing.sql.gz")
	assert.ErrorIs(t, err, s3.ErrNotFound)
}

func TestRestore_KeepRunning(t *testing.T) {
	cfg, stack := openShop(t, shopEnv)
	fake := (&docker.FakeRunner{}).On("ps --all", runningShop(t), nil)
	backups := newBackupService(cfg, fake, time.Now())
	writeBackup(t, backups.Dir(stack), "shop_shopdb_20250301_030000.sql.gz")

	err := NewRestoreService(docker.NewClient(fake), backups, nil).Restore(context.Background(), stack, "latest", RestoreOptions{Yes: true, KeepRunning: true})
	require.NoError(t, err)
	assert.False(t, fake.Called("stop"))
	assert.True(t, fake.Called("psql"))
}

func TestRestore_NeedsConfirmation(t *testing.T) {
	cfg, stack := openShop(t, shopEnv)
	fake := (&docker.FakeRunner{}).On("ps --all", runningShop(t), nil)
	backups := newBackupService(cfg, fake, time.Now())
	writeBackup(t, backups.Dir(stack), "shop_shopdb_20250301_030000.sql.gz")
	svc := NewRestoreService(docker.NewClient(fake), backups, nil)

	err := svc.Restore(context.Background(), stack, "latest", RestoreOptions{})
	assert.ErrorIs(t, err, ErrAborted)

	err = svc.Restore(context.Background(), stack, "latest", RestoreOptions{
		Confirm: func(string) (bool, error) { return false, nil },
	})
	assert.ErrorIs(t, err, ErrAborted)
	assert.False(t, fake.Called("psql"))
	assert.False(t, fake.Called("stop"))
}
