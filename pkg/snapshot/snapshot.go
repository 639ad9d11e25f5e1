// Package snapshot saves a tree store sub-tree to local JSON files and merges
// the most recent file back into the store.
//
// Backup files live in a single directory and are named
// "UTC - <timestamp>.json" with a fixed-width timestamp, so sorting names
// sorts backups by age. Files are written to a hidden temporary file and
// renamed into place; a reader never sees a partial snapshot.
package snapshot

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/Ratio1/treestore_sdk_go/internal/logging"
	"github.com/Ratio1/treestore_sdk_go/pkg/treestore"
)

// Backup file naming.
const (
	FilePrefix = "UTC - "
	FileExt    = ".json"
	TimeLayout = "2006-01-02T15-04-05.000000Z"
)

// Defaults applied by New.
const (
	DefaultRoot = "/"
	DefaultDir  = "backup"
)

// FileName returns the backup file name for t.
func FileName(t time.Time) string {
	return FilePrefix + t.UTC().Format(TimeLayout) + FileExt
}

// ParseFileName extracts the timestamp from a backup file name.
func ParseFileName(name string) (time.Time, bool) {
	if !strings.HasPrefix(name, FilePrefix) || !strings.HasSuffix(name, FileExt) {
		return time.Time{}, false
	}
	stamp := strings.TrimSuffix(strings.TrimPrefix(name, FilePrefix), FileExt)
	t, err := time.Parse(TimeLayout, stamp)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// Options configures a Manager.
type Options struct {
	// Root is the tree path captured and restored. Default: "/".
	Root string
	// Dir holds the backup files. Default: "backup".
	Dir string
	// Clock stamps new backups. Default: time.Now.
	Clock func() time.Time
	Logger *slog.Logger
}

// Manager creates and restores snapshots.
type Manager struct {
	client *treestore.Client
	root   string
	dir    string
	clock  func() time.Time
	logger *slog.Logger
}

// New returns a Manager for client.
func New(client *treestore.Client, opts Options) *Manager {
	m := &Manager{
		client: client,
		root:   opts.Root,
		dir:    opts.Dir,
		clock:  opts.Clock,
		logger: logging.OrDiscard(opts.Logger),
	}
	if strings.TrimSpace(m.root) == "" {
		m.root = DefaultRoot
	}
	if strings.TrimSpace(m.dir) == "" {
		m.dir = DefaultDir
	}
	if m.clock == nil {
		m.clock = time.Now
	}
	return m
}

// Dir returns the backup directory.
func (m *Manager) Dir() string { return m.dir }

// Snapshot reads the whole root and writes it to outputPath. An empty tree is
// written as {}. On any failure nothing is left at outputPath.
func (m *Manager) Snapshot(ctx context.Context, outputPath string) error {
	node, err := m.client.Get(ctx, m.root)
	if err != nil {
		return err
	}
	data := []byte("{}")
	if node != nil {
		data = node.Value
	}
	if err := writeAtomic(outputPath, data); err != nil {
		return treestore.NewError("snapshot", treestore.KindWriteFailure, outputPath, err)
	}
	m.logger.Info("snapshot written", "root", m.root, "path", outputPath, "bytes", len(data))
	return nil
}

// Backup snapshots the root into a new timestamped file in the backup
// directory, creating the directory if needed, and returns the file path.
func (m *Manager) Backup(ctx context.Context) (string, error) {
	now := m.clock()
	if err := os.MkdirAll(m.dir, 0o755); err != nil {
		return "", treestore.NewError("backup", treestore.KindWriteFailure, m.dir, err)
	}
	path := filepath.Join(m.dir, FileName(now))
	if err := m.Snapshot(ctx, path); err != nil {
		return "", err
	}
	return path, nil
}

// BackupInfo describes one backup file.
type BackupInfo struct {
	Path string
	Name string
	// CreatedAt is parsed from the name; zero for foreign file names.
	CreatedAt time.Time
	Size      int64
}

// ListBackups returns the backup files, newest first. A missing directory
// yields an empty list.
func (m *Manager) ListBackups() ([]BackupInfo, error) {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, treestore.NewError("list", treestore.KindNoBackupAvailable, m.dir, err)
	}

	var backups []BackupInfo
	for _, entry := range entries {
		name := entry.Name()
		if !entry.Type().IsRegular() || strings.HasPrefix(name, ".") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		created, _ := ParseFileName(name)
		backups = append(backups, BackupInfo{
			Path:      filepath.Join(m.dir, name),
			Name:      name,
			CreatedAt: created,
			Size:      info.Size(),
		})
	}
	sort.Slice(backups, func(i, j int) bool {
		return backups[i].Name > backups[j].Name
	})
	return backups, nil
}

// LatestBackup returns the path of the most recent backup, or "" and
// ErrNoBackupAvailable when the directory holds none.
func (m *Manager) LatestBackup() (string, error) {
	backups, err := m.ListBackups()
	if err != nil {
		return "", err
	}
	if len(backups) == 0 {
		return "", treestore.NewError("latest", treestore.KindNoBackupAvailable, m.dir, nil)
	}
	return backups[0].Path, nil
}

// RestoreReport describes what a restore wrote.
type RestoreReport struct {
	// Backup is the file that was restored.
	Backup string
	// Applied lists the top-level keys written, in order.
	Applied []string
	// Total is the number of top-level keys in the backup.
	Total int
}

// RestoreFromLatest writes every top-level key of the latest backup back
// under the root, in sorted key order. Nodes not present in the backup are
// left alone. It stops at the first failed write; the report then lists the
// keys already applied.
func (m *Manager) RestoreFromLatest(ctx context.Context) (*RestoreReport, error) {
	path, err := m.LatestBackup()
	if err != nil {
		return nil, err
	}
	doc, err := readBackup(path)
	if err != nil {
		return nil, err
	}

	keys := make([]string, 0, len(doc))
	for key := range doc {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	report := &RestoreReport{Backup: path, Total: len(keys)}
	for _, key := range keys {
		if err := m.client.PutRaw(ctx, treestore.Join(m.root, key), doc[key]); err != nil {
			m.logger.Warn("restore stopped", "backup", path, "key", key, "applied", len(report.Applied), "error", err)
			return report, err
		}
		report.Applied = append(report.Applied, key)
	}
	m.logger.Info("backup restored", "backup", path, "keys", len(keys))
	return report, nil
}

// Prune deletes all but the keep newest backups and returns how many files
// were removed.
func (m *Manager) Prune(keep int) (int, error) {
	if keep < 0 {
		return 0, treestore.NewError("prune", treestore.KindInvalidArgument, m.dir, fmt.Errorf("keep must not be negative, got %d", keep))
	}
	backups, err := m.ListBackups()
	if err != nil {
		return 0, err
	}
	removed := 0
	for i := keep; i < len(backups); i++ {
		if err := os.Remove(backups[i].Path); err != nil {
			return removed, treestore.NewError("prune", treestore.KindWriteFailure, backups[i].Path, err)
		}
		removed++
	}
	if removed > 0 {
		m.logger.Info("backups pruned", "dir", m.dir, "removed", removed, "kept", keep)
	}
	return removed, nil
}

func readBackup(path string) (map[string]json.RawMessage, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, treestore.NewError("restore", treestore.KindInvalidBackup, path, err)
	}
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, treestore.NewError("restore", treestore.KindInvalidBackup, path, errors.New("backup is not a JSON object"))
	}
	var doc map[string]json.RawMessage
	if err := json.Unmarshal(trimmed, &doc); err != nil {
		return nil, treestore.NewError("restore", treestore.KindInvalidBackup, path, err)
	}
	return doc, nil
}

// writeAtomic writes data to a hidden temporary file next to path, syncs it
// and renames it over path.
func writeAtomic(path string, data []byte) (err error) {
	dir, base := filepath.Split(path)
	if dir == "" {
		dir = "."
	}
	tmp, err := os.CreateTemp(dir, "."+base+".*.tmp")
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		return err
	}
	if err = tmp.Sync(); err != nil {
		return err
	}
	if err = tmp.Chmod(0o644); err != nil {
		return err
	}
	if err = tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
