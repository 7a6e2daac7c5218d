package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/gzip"

	"github.com/osa911/stackctl/internal/config"
	"github.com/osa911/stackctl/internal/docker"
	"github.com/osa911/stackctl/internal/logging"
	"github.com/osa911/stackctl/internal/metrics"
	"github.com/osa911/stackctl/internal/storage/s3"
)

const (
	backupSuffix   = ".sql.gz"
	manifestSuffix = ".json"
	// backupTimeLayout is the timestamp embedded in backup file names.
	backupTimeLayout = "20060102_150405"
)

// Manifest is written next to every backup.
type Manifest struct {
	ID        string    `json:"id"`
	Stack     string    `json:"stack"`
	Database  string    `json:"database"`
	Service   string    `json:"service"`
	CreatedAt time.Time `json:"created_at"`
	Size      int64     `json:"size"`
	SHA256    string    `json:"sha256"`
	RemoteKey string    `json:"remote_key,omitempty"`
}

// BackupFile is a backup on local disk.
type BackupFile struct {
	Name      string    `json:"name"`
	Path      string    `json:"path"`
	Size      int64     `json:"size"`
	CreatedAt time.Time `json:"created_at"`
	Manifest  *Manifest `json:"manifest,omitempty"`
}

// BackupOptions tunes Backup.
type BackupOptions struct {
	Service string
	// Upload copies the backup to S3 when a bucket is configured.
	Upload  bool
	NoPrune bool
	// Metrics, when set, receives the backup result.
	Metrics *metrics.Textfile
}

// BackupService dumps, lists and prunes database backups.
type BackupService interface {
	Backup(ctx context.Context, stack *Stack, opts BackupOptions) (*BackupFile, error)
	List(stack *Stack) ([]BackupFile, error)
	ListRemote(ctx context.Context, stack *Stack) ([]s3.Object, error)
	Prune(stack *Stack) ([]string, error)
	PruneRemote(ctx context.Context, stack *Stack) ([]string, error)
	Dir(stack *Stack) string
}

type backupService struct {
	logger *logging.Logger
	cfg    *config.Config
	docker *docker.Client
	remote *s3.Store
	now    func() time.Time
}

// NewBackupService creates a new backup service instance. remote may be nil.
func NewBackupService(cfg *config.Config, client *docker.Client, remote *s3.Store) BackupService {
	return &backupService{
		logger: logging.GetGlobalLogger(),
		cfg:    cfg,
		docker: client,
		remote: remote,
		now:    time.Now,
	}
}

func (s *backupService) Dir(stack *Stack) string {
	return filepath.Join(s.cfg.BackupDir, stack.Name)
}

// BackupFileName returns <stack>_<database>_<YYYYmmdd_HHMMSS>.sql.gz.
func BackupFileName(stack, database string, at time.Time) string {
	return fmt.Sprintf("%s_%s_%s%s", stack, database, at.Format(backupTimeLayout), backupSuffix)
}

// backupTime extracts the timestamp embedded in a backup file name.
func backupTime(name string) (time.Time, bool) {
	base := strings.TrimSuffix(name, backupSuffix)
	if len(base) < len(backupTimeLayout) {
		return time.Time{}, false
	}
	t, err := time.ParseInLocation(backupTimeLayout, base[len(base)-len(backupTimeLayout):], time.Local)
	return t, err == nil
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}

func (s *backupService) Backup(ctx context.Context, stack *Stack, opts BackupOptions) (*BackupFile, error) {
	svc, err := stack.DatabaseService(opts.Service)
	if err != nil {
		return nil, err
	}
	user, database := stack.DatabaseCredentials()

	dir := s.Dir(stack)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create backup directory: %w", err)
	}

	started := s.now()
	name := BackupFileName(stack.Name, database, started)
	path := filepath.Join(dir, name)

	s.logger.Info("Backing up database %s of %s (service %s)", database, stack.Name, svc)

	tmp, err := os.CreateTemp(dir, "."+name+".*.tmp")
	if err != nil {
		return nil, fmt.Errorf("failed to create temporary file: %w", err)
	}
	defer os.Remove(tmp.Name())

	hasher := sha256.New()
	compressed := &countingWriter{w: io.MultiWriter(tmp, hasher)}
	gz := gzip.NewWriter(compressed)
	plain := &countingWriter{w: gz}

	dump := []string{"pg_dump", "-U", user, "-d", database, "--clean", "--if-exists", "--no-owner"}
	execErr := s.docker.ComposeExec(ctx, stack.Project(), svc, dump, nil, plain)
	closeErr := gz.Close()
	if syncErr := tmp.Sync(); closeErr == nil {
		closeErr = syncErr
	}
	if err := tmp.Close(); closeErr == nil {
		closeErr = err
	}
	if execErr != nil {
		return nil, fmt.Errorf("pg_dump failed: %w", execErr)
	}
	if closeErr != nil {
		return nil, fmt.Errorf("failed to write backup: %w", closeErr)
	}
	if plain.n == 0 {
		return nil, fmt.Errorf("%w: %s/%s", ErrEmptyDump, svc, database)
	}

	if err := os.Chmod(tmp.Name(), 0600); err != nil {
		return nil, err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return nil, fmt.Errorf("failed to finalize backup: %w", err)
	}

	manifest := &Manifest{
		ID:        uuid.NewString(),
		Stack:     stack.Name,
		Database:  database,
		Service:   svc,
		CreatedAt: started.UTC(),
		Size:      compressed.n,
		SHA256:    hex.EncodeToString(hasher.Sum(nil)),
	}

	if opts.Upload && s.remote != nil {
		key, err := s.upload(ctx, stack, path)
		if err != nil {
			return nil, err
		}
		manifest.RemoteKey = key
	}

	if err := writeManifest(path, manifest); err != nil {
		return nil, err
	}
	if manifest.RemoteKey != "" {
		mf, err := os.Open(path + manifestSuffix)
		if err != nil {
			return nil, err
		}
		err = s.remote.Upload(ctx, manifest.RemoteKey+manifestSuffix, mf, -1, "application/json")
		mf.Close()
		if err != nil {
			return nil, err
		}
	}

	duration := s.now().Sub(started)
	s.logger.Success("Backup written to %s (%s, %s)", path, humanBytes(manifest.Size), duration.Round(time.Millisecond))

	if opts.Metrics != nil {
		opts.Metrics.ObserveBackup(stack.Name, manifest.Size, duration, s.now())
	}

	if !opts.NoPrune {
		if _, err := s.Prune(stack); err != nil {
			s.logger.Warn("Pruning old backups failed: %v", err)
		}
		if manifest.RemoteKey != "" {
			if _, err := s.PruneRemote(ctx, stack); err != nil {
				s.logger.Warn("Pruning offsite backups failed: %v", err)
			}
		}
	}

	return &BackupFile{Name: name, Path: path, Size: manifest.Size, CreatedAt: started, Manifest: manifest}, nil
}

func (s *backupService) upload(ctx context.Context, stack *Stack, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", err
	}

	key := s.remote.Key(stack.Name, filepath.Base(path))
	if err := s.remote.Upload(ctx, key, f, info.Size(), "application/gzip"); err != nil {
		return "", err
	}
	s.logger.Success("Uploaded %s", s.remote.URI(key))
	return key, nil
}

func writeManifest(backupPath string, m *Manifest) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(backupPath+manifestSuffix, append(data, '\n'), 0600); err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}
	return nil
}

// readManifest returns nil when the backup has no manifest.
func readManifest(backupPath string) (*Manifest, error) {
	data, err := os.ReadFile(backupPath + manifestSuffix)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("invalid manifest %s: %w", backupPath+manifestSuffix, err)
	}
	return &m, nil
}

// List returns the stack's local backups, newest first.
func (s *backupService) List(stack *Stack) ([]BackupFile, error) {
	dir := s.Dir(stack)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read %s: %w", dir, err)
	}

	var files []BackupFile
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), backupSuffix) || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		f := BackupFile{
			Name: e.Name(),
			Path: filepath.Join(dir, e.Name()),
			Size: info.Size(),
		}
		if t, ok := backupTime(e.Name()); ok {
			f.CreatedAt = t
		} else {
			f.CreatedAt = info.ModTime()
		}
		if m, err := readManifest(f.Path); err == nil && m != nil {
			f.Manifest = m
			f.CreatedAt = m.CreatedAt.Local()
		}
		files = append(files, f)
	}

	sort.Slice(files, func(i, j int) bool {
		if files[i].CreatedAt.Equal(files[j].CreatedAt) {
			return files[i].Name > files[j].Name
		}
		return files[i].CreatedAt.After(files[j].CreatedAt)
	})
	return files, nil
}

func (s *backupService) ListRemote(ctx context.Context, stack *Stack) ([]s3.Object, error) {
	if s.remote == nil {
		return nil, fmt.Errorf("offsite backups are not configured (set BACKUP_S3_BUCKET)")
	}
	objects, err := s.remote.List(ctx, stack.Name)
	if err != nil {
		return nil, err
	}
	dumps := objects[:0]
	for _, o := range objects {
		if strings.HasSuffix(o.Key, backupSuffix) {
			dumps = append(dumps, o)
		}
	}
	return dumps, nil
}

// Prune deletes local backups older than the retention window, always
// keeping the newest BACKUP_KEEP files.
func (s *backupService) Prune(stack *Stack) ([]string, error) {
	if s.cfg.BackupRetentionDays == 0 {
		return nil, nil
	}
	files, err := s.List(stack)
	if err != nil {
		return nil, err
	}

	cutoff := s.now().Add(-time.Duration(s.cfg.BackupRetentionDays) * 24 * time.Hour)
	var removed []string
	for i, f := range files {
		if i < s.cfg.BackupKeep || !f.CreatedAt.Before(cutoff) {
			continue
		}
		if err := os.Remove(f.Path); err != nil {
			return removed, fmt.Errorf("failed to remove %s: %w", f.Path, err)
		}
		if err := os.Remove(f.Path + manifestSuffix); err != nil && !os.IsNotExist(err) {
			return removed, fmt.Errorf("failed to remove manifest of %s: %w", f.Path, err)
		}
		removed = append(removed, f.Name)
		s.logger.Info("Removed backup %s (older than %d days)", f.Name, s.cfg.BackupRetentionDays)
	}
	return removed, nil
}

// PruneRemote applies the local retention rules to the stack's offsite
// backups, judged by upload time.
func (s *backupService) PruneRemote(ctx context.Context, stack *Stack) ([]string, error) {
	if s.cfg.BackupRetentionDays == 0 {
		return nil, nil
	}
	objects, err := s.ListRemote(ctx, stack)
	if err != nil {
		return nil, err
	}

	cutoff := s.now().Add(-time.Duration(s.cfg.BackupRetentionDays) * 24 * time.Hour)
	var removed []string
	for i, o := range objects {
		if i < s.cfg.BackupKeep || !o.LastModified.Before(cutoff) {
			continue
		}
		if err := s.remote.Delete(ctx, o.Key); err != nil {
			return removed, err
		}
		if err := s.remote.Delete(ctx, o.Key+manifestSuffix); err != nil {
			return removed, err
		}
		removed = append(removed, o.Key)
		s.logger.Info("Removed offsite backup %s", s.remote.URI(o.Key))
	}
	return removed, nil
}

func humanBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
