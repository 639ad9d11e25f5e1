package snapshot_test

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ratio1/treestore_sdk_go/pkg/snapshot"
	"github.com/Ratio1/treestore_sdk_go/pkg/treestore"
	"github.com/Ratio1/treestore_sdk_go/pkg/treestore/mock"
)

const seed = `{"potholes":{"-K1":{"latitude":42.999938,"longitude":-78.797406}},"users":{"alice":{"age":30}}}`

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func newStore(t *testing.T, doc string) *mock.Mock {
	t.Helper()
	m := mock.New()
	require.NoError(t, m.Seed(json.RawMessage(doc)))
	return m
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

func TestFileNameSortsChronologically(t *testing.T) {
	early := time.Date(2026, 1, 2, 3, 4, 5, 6000, time.UTC)
	late := early.Add(9 * time.Hour)
	assert.Equal(t, "UTC - 2026-01-02T03-04-05.000006Z.json", snapshot.FileName(early))
	assert.Less(t, snapshot.FileName(early), snapshot.FileName(late))

	parsed, ok := snapshot.ParseFileName(snapshot.FileName(early))
	require.True(t, ok)
	assert.True(t, parsed.Equal(early))

	_, ok = snapshot.ParseFileName("notes.txt")
	assert.False(t, ok)
}

func TestBackupWritesWholeTree(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "backup")
	now := time.Date(2026, 10, 19, 8, 30, 0, 0, time.UTC)
	mgr := snapshot.New(newStore(t, seed).Client(), snapshot.Options{Dir: dir, Clock: fixedClock(now)})

	path, err := mgr.Backup(context.Background())
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "UTC - 2026-10-19T08-30-00.000000Z.json"), path)
	assert.JSONEq(t, seed, readFile(t, path))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temporary files must not remain")
}

func TestSnapshotEmptyTree(t *testing.T) {
	out := filepath.Join(t.TempDir(), "snap.json")
	mgr := snapshot.New(mock.New().Client(), snapshot.Options{})

	require.NoError(t, mgr.Snapshot(context.Background(), out))
	assert.Equal(t, "{}", readFile(t, out))
}

func TestSnapshotSubtreeRoot(t *testing.T) {
	out := filepath.Join(t.TempDir(), "users.json")
	mgr := snapshot.New(newStore(t, seed).Client(), snapshot.Options{Root: "/users/"})

	require.NoError(t, mgr.Snapshot(context.Background(), out))
	assert.JSONEq(t, `{"alice":{"age":30}}`, readFile(t, out))
}

type brokenGet struct {
	treestore.Backend
}

func (brokenGet) Get(context.Context, string) ([]byte, error) {
	return nil, errors.New("connection reset")
}

func TestSnapshotStoreFailureLeavesNoFile(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "snap.json")
	mgr := snapshot.New(treestore.NewWithBackend(brokenGet{mock.New()}), snapshot.Options{})

	err := mgr.Snapshot(context.Background(), out)
	assert.ErrorIs(t, err, treestore.ErrStoreUnavailable)
	_, statErr := os.Stat(out)
	assert.True(t, os.IsNotExist(statErr))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestSnapshotWriteFailure(t *testing.T) {
	out := filepath.Join(t.TempDir(), "missing", "snap.json")
	mgr := snapshot.New(newStore(t, seed).Client(), snapshot.Options{})

	err := mgr.Snapshot(context.Background(), out)
	assert.ErrorIs(t, err, treestore.ErrWriteFailure)
}

func TestSnapshotKeepsPreviousFileOnFailure(t *testing.T) {
	out := filepath.Join(t.TempDir(), "snap.json")
	require.NoError(t, os.WriteFile(out, []byte(`{"old":true}`), 0o644))
	mgr := snapshot.New(treestore.NewWithBackend(brokenGet{mock.New()}), snapshot.Options{})

	require.Error(t, mgr.Snapshot(context.Background(), out))
	assert.Equal(t, `{"old":true}`, readFile(t, out))
}

func TestLatestBackup(t *testing.T) {
	dir := t.TempDir()
	mgr := snapshot.New(mock.New().Client(), snapshot.Options{Dir: dir})

	path, err := mgr.LatestBackup()
	assert.Empty(t, path)
	assert.ErrorIs(t, err, treestore.ErrNoBackupAvailable)

	for _, name := range []string{
		"UTC - 2026-10-18T23-59-59.999999Z.json",
		"UTC - 2026-10-19T08-30-00.000000Z.json",
		"UTC - 2025-12-31T00-00-00.000000Z.json",
	} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("{}"), 0o644))
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".UTC - 2027.tmp"), []byte("{}"), 0o644))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "UTC - 2099"), 0o755))

	path, err = mgr.LatestBackup()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "UTC - 2026-10-19T08-30-00.000000Z.json"), path)
}

func TestLatestBackupMissingDir(t *testing.T) {
	mgr := snapshot.New(mock.New().Client(), snapshot.Options{Dir: filepath.Join(t.TempDir(), "none")})
	path, err := mgr.LatestBackup()
	assert.Empty(t, path)
	assert.ErrorIs(t, err, treestore.ErrNoBackupAvailable)
}

func TestRestoreRoundTrip(t *testing.T) {
	store := newStore(t, seed)
	client := store.Client()
	ctx := context.Background()
	mgr := snapshot.New(client, snapshot.Options{Dir: t.TempDir(), Clock: fixedClock(time.Now())})

	_, err := mgr.Backup(ctx)
	require.NoError(t, err)

	require.NoError(t, client.Delete(ctx, "potholes"))
	require.NoError(t, client.Put(ctx, "users/alice/age", 99))
	require.NoError(t, client.Put(ctx, "extra", "stays"))

	report, err := mgr.RestoreFromLatest(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"potholes", "users"}, report.Applied)
	assert.Equal(t, 2, report.Total)

	root, err := client.Get(ctx, "/")
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"potholes":{"-K1":{"latitude":42.999938,"longitude":-78.797406}},
		"users":{"alice":{"age":30}},
		"extra":"stays"
	}`, string(root.Value))
}

func TestRestoreWithoutBackup(t *testing.T) {
	store := newStore(t, seed)
	mgr := snapshot.New(store.Client(), snapshot.Options{Dir: t.TempDir()})

	report, err := mgr.RestoreFromLatest(context.Background())
	assert.Nil(t, report)
	assert.ErrorIs(t, err, treestore.ErrNoBackupAvailable)

	root, _ := store.Get(context.Background(), "/")
	assert.JSONEq(t, seed, string(root))
}

func TestRestoreRejectsNonObjectBackup(t *testing.T) {
	for _, content := range []string{`[1,2]`, `null`, `"x"`, `{broken`, ``} {
		dir := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(dir, snapshot.FileName(time.Now())), []byte(content), 0o644))
		store := newStore(t, seed)
		mgr := snapshot.New(store.Client(), snapshot.Options{Dir: dir})

		_, err := mgr.RestoreFromLatest(context.Background())
		assert.ErrorIs(t, err, treestore.ErrInvalidBackup, "content %q", content)

		root, _ := store.Get(context.Background(), "/")
		assert.JSONEq(t, seed, string(root))
	}
}

type failPutAt struct {
	treestore.Backend
	path string
}

func (f failPutAt) Put(ctx context.Context, path string, raw []byte) error {
	if path == f.path {
		return errors.New("write rejected")
	}
	return f.Backend.Put(ctx, path, raw)
}

func TestRestoreStopsAtFirstFailure(t *testing.T) {
	dir := t.TempDir()
	backup := `{"a":1,"b":2,"c":3}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, snapshot.FileName(time.Now())), []byte(backup), 0o644))

	store := mock.New()
	mgr := snapshot.New(treestore.NewWithBackend(failPutAt{Backend: store, path: "b"}), snapshot.Options{Dir: dir})

	report, err := mgr.RestoreFromLatest(context.Background())
	assert.ErrorIs(t, err, treestore.ErrStoreUnavailable)
	require.NotNil(t, report)
	assert.Equal(t, []string{"a"}, report.Applied)
	assert.Equal(t, 3, report.Total)

	root, _ := store.Get(context.Background(), "/")
	assert.JSONEq(t, `{"a":1}`, string(root))
}

func TestListAndPrune(t *testing.T) {
	dir := t.TempDir()
	base := time.Date(2026, 10, 19, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		name := snapshot.FileName(base.Add(time.Duration(i) * time.Hour))
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("{}"), 0o644))
	}
	mgr := snapshot.New(mock.New().Client(), snapshot.Options{Dir: dir})

	backups, err := mgr.ListBackups()
	require.NoError(t, err)
	require.Len(t, backups, 5)
	assert.True(t, backups[0].CreatedAt.Equal(base.Add(4*time.Hour)))
	assert.Equal(t, int64(2), backups[0].Size)

	removed, err := mgr.Prune(2)
	require.NoError(t, err)
	assert.Equal(t, 3, removed)

	backups, err = mgr.ListBackups()
	require.NoError(t, err)
	require.Len(t, backups, 2)
	assert.True(t, backups[1].CreatedAt.Equal(base.Add(3*time.Hour)))

	_, err = mgr.Prune(-1)
	assert.ErrorIs(t, err, treestore.ErrInvalidArgument)
}
