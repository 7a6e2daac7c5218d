package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"

	"github.com/osa911/stackctl/internal/docker"
	"github.com/osa911/stackctl/internal/logging"
	"github.com/osa911/stackctl/internal/storage/s3"
)

// RestoreOptions tunes Restore.
type RestoreOptions struct {
	Service string
	Yes     bool
	Confirm Confirmer
	// KeepRunning skips stopping the application services.
	KeepRunning bool
}

// RestoreService loads a backup into a stack's database.
type RestoreService interface {
	Resolve(ctx context.Context, stack *Stack, source string) (string, func(), error)
	Restore(ctx context.Context, stack *Stack, source string, opts RestoreOptions) error
}

type restoreService struct {
	logger  *logging.Logger
	docker  *docker.Client
	backups BackupService
	remote  *s3.Store
}

// NewRestoreService creates a new restore service instance. remote may be nil.
func NewRestoreService(client *docker.Client, backups BackupService, remote *s3.Store) RestoreService {
	return &restoreService{
		logger:  logging.GetGlobalLogger(),
		docker:  client,
		backups: backups,
		remote:  remote,
	}
}

const s3Scheme = "s3://"

// Resolve turns source into a local backup path. Sources are a path, a file
// name inside the stack's backup directory, "latest", or s3://[bucket/]<key>. The
// returned cleanup removes downloaded files.
func (s *restoreService) Resolve(ctx context.Context, stack *Stack, source string) (string, func(), error) {
	noop := func() {}

	switch {
	case source == "" || source == "latest":
		files, err := s.backups.List(stack)
		if err != nil {
			return "", noop, err
		}
		if len(files) == 0 {
			return "", noop, fmt.Errorf("%w in %s", ErrNoBackups, s.backups.Dir(stack))
		}
		return files[0].Path, noop, nil

	case strings.HasPrefix(source, s3Scheme):
		return s.download(ctx, stack, source)
	}

	if _, err := os.Stat(source); err == nil {
		abs, err := filepath.Abs(source)
		return abs, noop, err
	}
	candidate := filepath.Join(s.backups.Dir(stack), source)
	if _, err := os.Stat(candidate); err == nil {
		return candidate, noop, nil
	}
	return "", noop, fmt.Errorf("%w: %s", ErrNoBackups, source)
}

func (s *restoreService) download(ctx context.Context, stack *Stack, uri string) (string, func(), error) {
	noop := func() {}
	if s.remote == nil {
		return "", noop, fmt.Errorf("offsite backups are not configured (set BACKUP_S3_BUCKET)")
	}
	key := s.remote.KeyFromURI(uri)
	if !strings.Contains(key, "/") {
		key = s.remote.Key(stack.Name, key)
	}

	dir, err := os.MkdirTemp("", "stackctl-restore-")
	if err != nil {
		return "", noop, err
	}
	cleanup := func() { os.RemoveAll(dir) }

	path := filepath.Join(dir, filepath.Base(key))
	if err := s.fetch(ctx, key, path); err != nil {
		cleanup()
		return "", noop, err
	}
	if err := s.fetch(ctx, key+manifestSuffix, path+manifestSuffix); err != nil {
		s.logger.Debug("No manifest for %s: %v", key, err)
	}
	s.logger.Info("Downloaded %s", s.remote.URI(key))
	return path, cleanup, nil
}

func (s *restoreService) fetch(ctx context.Context, key, path string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	if _, err := s.remote.Download(ctx, key, f); err != nil {
		f.Close()
		os.Remove(path)
		return err
	}
	return f.Close()
}

// VerifyBackup checks the manifest checksum when present and that the file
// is a complete gzip stream.
func VerifyBackup(path string) (*Manifest, error) {
	manifest, err := readManifest(path)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open backup: %w", err)
	}
	defer f.Close()

	hasher := sha256.New()
	gz, err := gzip.NewReader(io.TeeReader(f, hasher))
	if err != nil {
		return nil, fmt.Errorf("%s is not a gzip file: %w", path, err)
	}
	n, err := io.Copy(io.Discard, gz)
	if err != nil {
		return nil, fmt.Errorf("%s is corrupt: %w", path, err)
	}
	if n == 0 {
		return nil, fmt.Errorf("%w: %s", ErrEmptyDump, path)
	}
	// Drain trailing bytes so the checksum covers the whole file.
	if _, err := io.Copy(hasher, f); err != nil {
		return nil, err
	}

	if manifest != nil && manifest.SHA256 != "" {
		if sum := hex.EncodeToString(hasher.Sum(nil)); sum != manifest.SHA256 {
			return nil, fmt.Errorf("%w: %s (expected %s, got %s)", ErrChecksumMismatch, path, manifest.SHA256, sum)
		}
	}
	return manifest, nil
}

func (s *restoreService) Restore(ctx context.Context, stack *Stack, source string, opts RestoreOptions) (retErr error) {
	svc, err := stack.DatabaseService(opts.Service)
	if err != nil {
		return err
	}
	user, database := stack.DatabaseCredentials()

	path, cleanup, err := s.Resolve(ctx, stack, source)
	if err != nil {
		return err
	}
	defer cleanup()

	manifest, err := VerifyBackup(path)
	if err != nil {
		return err
	}
	if manifest != nil && manifest.Database != "" && manifest.Database != database {
		s.logger.Warn("Backup was taken from database %s, restoring into %s", manifest.Database, database)
	}

	if !opts.Yes {
		if opts.Confirm == nil {
			return fmt.Errorf("%w: restoring overwrites database %s; re-run with --yes to proceed", ErrAborted, database)
		}
		ok, err := opts.Confirm(fmt.Sprintf("Restore %s into %s/%s? This overwrites the current data.", filepath.Base(path), stack.Name, database))
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w by user", ErrAborted)
		}
	}

	project := stack.Project()

	var stopped []string
	if !opts.KeepRunning {
		states, err := stack.States(ctx, s.docker)
		if err != nil {
			return err
		}
		for _, name := range stack.Compose.ServiceNames() {
			if name == svc {
				continue
			}
			if st, ok := states[name]; ok && st.Running() {
				stopped = append(stopped, name)
			}
		}
		if len(stopped) > 0 {
			s.logger.Info("Stopping %s", strings.Join(stopped, ", "))
			if err := s.docker.ComposeStop(ctx, project, stopped...); err != nil {
				return err
			}
			defer func() {
				// Restart with a fresh context so services come back after a cancel.
				startErr := s.docker.ComposeStart(context.WithoutCancel(ctx), project, stopped...)
				if startErr != nil {
					s.logger.Error("Failed to restart %s: %v", strings.Join(stopped, ", "), startErr)
					if retErr == nil {
						retErr = fmt.Errorf("failed to restart %s: %w", strings.Join(stopped, ", "), startErr)
					}
					return
				}
				s.logger.Info("Restarted %s", strings.Join(stopped, ", "))
			}()
		}
	}

	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	gz, err := gzip.NewReader(f)
	if err != nil {
		return err
	}
	defer gz.Close()

	s.logger.Info("Restoring %s into %s/%s", filepath.Base(path), svc, database)
	psql := []string{"psql", "-v", "ON_ERROR_STOP=1", "-q", "-U", user, "-d", database}
	if err := s.docker.ComposeExec(ctx, project, svc, psql, gz, io.Discard); err != nil {
		return fmt.Errorf("restore failed: %w", err)
	}

	s.logger.Success("Restored %s into %s", filepath.Base(path), database)
	return nil
}
