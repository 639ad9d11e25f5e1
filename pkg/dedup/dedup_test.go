package dedup_test

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ratio1/treestore_sdk_go/pkg/dedup"
	"github.com/Ratio1/treestore_sdk_go/pkg/treestore"
	"github.com/Ratio1/treestore_sdk_go/pkg/treestore/mock"
)

func countAt(t *testing.T, m *mock.Mock, collection string) int {
	t.Helper()
	data, err := m.Get(context.Background(), collection)
	require.NoError(t, err)
	var children map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data, &children))
	return len(children)
}

func TestInsertTwiceStoresOnce(t *testing.T) {
	m := mock.New()
	in := dedup.New(m.Client(), dedup.Options{})
	ctx := context.Background()
	r := dedup.Record{Latitude: 42.999938, Longitude: -78.797406, Depth: "3in"}

	outcome, key, err := in.Insert(ctx, r, "/potholes/")
	require.NoError(t, err)
	assert.Equal(t, dedup.Inserted, outcome)
	assert.NotEmpty(t, key)

	outcome, key, err = in.Insert(ctx, r, "/potholes/")
	require.NoError(t, err)
	assert.Equal(t, dedup.Skipped, outcome)
	assert.Empty(t, key)

	assert.Equal(t, 1, countAt(t, m, "potholes"))
}

func TestEmptyStoreScenario(t *testing.T) {
	m := mock.New()
	in := dedup.New(m.Client(), dedup.Options{})
	ctx := context.Background()
	r := dedup.Record{Latitude: 42.98, Longitude: -78.81}

	exists, err := in.Exists(ctx, r, "/potholes")
	require.NoError(t, err)
	assert.False(t, exists)

	outcome, _, err := in.Insert(ctx, r, "/potholes")
	require.NoError(t, err)
	assert.Equal(t, dedup.Inserted, outcome)

	exists, err = in.Exists(ctx, r, "/potholes")
	require.NoError(t, err)
	assert.True(t, exists)

	outcome, _, err = in.Insert(ctx, r, "/potholes")
	require.NoError(t, err)
	assert.Equal(t, dedup.Skipped, outcome)
}

func TestStoredShapeOmitsEmptyFields(t *testing.T) {
	m := mock.New(mock.WithKeyGenerator(func() string { return "k1" }))
	in := dedup.New(m.Client(), dedup.Options{})

	_, key, err := in.Insert(context.Background(), dedup.Record{Latitude: 1.25, Longitude: 2.5}, "/potholes/")
	require.NoError(t, err)
	require.Equal(t, "k1", key)

	data, err := m.Get(context.Background(), "potholes/k1")
	require.NoError(t, err)
	assert.JSONEq(t, `{"latitude":1.25,"longitude":2.5}`, string(data))
}

func TestExactEqualityByDefault(t *testing.T) {
	m := mock.New()
	require.NoError(t, m.Seed(json.RawMessage(`{"potholes":{"a":{"latitude":42.98,"longitude":-78.81}}}`)))
	in := dedup.New(m.Client(), dedup.Options{})

	near := dedup.Record{Latitude: math.Nextafter(42.98, 43), Longitude: -78.81}
	exists, err := in.Exists(context.Background(), near, "/potholes/")
	require.NoError(t, err)
	assert.False(t, exists, "neighbouring float must not match")
}

func TestCustomEqualPredicate(t *testing.T) {
	m := mock.New()
	require.NoError(t, m.Seed(json.RawMessage(`{"potholes":{"a":{"latitude":42.98,"longitude":-78.81}}}`)))
	within := func(a, b dedup.Record) bool {
		return math.Abs(a.Latitude-b.Latitude) < 1e-4 && math.Abs(a.Longitude-b.Longitude) < 1e-4
	}
	in := dedup.New(m.Client(), dedup.Options{Equal: within})

	outcome, _, err := in.Insert(context.Background(), dedup.Record{Latitude: 42.98001, Longitude: -78.81}, "/potholes/")
	require.NoError(t, err)
	assert.Equal(t, dedup.Skipped, outcome)
}

func TestEntriesWithoutCoordinatesAreIgnored(t *testing.T) {
	m := mock.New()
	require.NoError(t, m.Seed(json.RawMessage(`{"potholes":{
		"a":{"latitude":0,"longitude":0},
		"b":{"latitude":10},
		"c":"not a record",
		"d":{"latitude":"10","longitude":20}
	}}`)))
	in := dedup.New(m.Client(), dedup.Options{})
	ctx := context.Background()

	records, err := in.Records(ctx, "/potholes/")
	require.NoError(t, err)
	assert.Len(t, records, 1)
	assert.Contains(t, records, "a")

	exists, err := in.Exists(ctx, dedup.Record{Latitude: 0, Longitude: 0}, "/potholes/")
	require.NoError(t, err)
	assert.True(t, exists, "zero coordinates are present values")

	exists, err = in.Exists(ctx, dedup.Record{Latitude: 10, Longitude: 0}, "/potholes/")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestMistypedCoordinatesAreLoggedAtWarn(t *testing.T) {
	m := mock.New()
	require.NoError(t, m.Seed(json.RawMessage(`{"potholes":{"k":{"latitude":"42.98","longitude":-78.81}}}`)))
	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, &slog.HandlerOptions{Level: slog.LevelWarn}))
	in := dedup.New(m.Client(), dedup.Options{Logger: logger})

	outcome, _, err := in.Insert(context.Background(), dedup.Record{Latitude: 42.98, Longitude: -78.81}, "/potholes/")
	require.NoError(t, err)
	assert.Equal(t, dedup.Inserted, outcome)
	assert.Contains(t, logs.String(), "level=WARN")
	assert.Contains(t, logs.String(), "ignoring undecodable entry")
	assert.Contains(t, logs.String(), "key=k")
}

func TestArrayCollection(t *testing.T) {
	m := mock.New()
	require.NoError(t, m.Seed(json.RawMessage(`{"potholes":[null,{"latitude":5,"longitude":6}]}`)))
	in := dedup.New(m.Client(), dedup.Options{})

	exists, err := in.Exists(context.Background(), dedup.Record{Latitude: 5, Longitude: 6}, "/potholes/")
	require.NoError(t, err)
	assert.True(t, exists)
}

type failingGet struct {
	treestore.Backend
	posts int
}

func (f *failingGet) Get(context.Context, string) ([]byte, error) {
	return nil, errors.New("network down")
}

func (f *failingGet) Post(ctx context.Context, path string, raw []byte) (string, error) {
	f.posts++
	return f.Backend.Post(ctx, path, raw)
}

func TestInsertFailsClosedWhenCheckFails(t *testing.T) {
	backend := &failingGet{Backend: mock.New()}
	in := dedup.New(treestore.NewWithBackend(backend), dedup.Options{})

	outcome, key, err := in.Insert(context.Background(), dedup.Record{Latitude: 1, Longitude: 2}, "/potholes/")
	require.Error(t, err)
	assert.ErrorIs(t, err, treestore.ErrCheckFailed)
	assert.Equal(t, treestore.KindCheckFailed, treestore.KindOf(err))
	assert.Zero(t, outcome)
	assert.Empty(t, key)
	assert.Zero(t, backend.posts)
}

func TestScalarCollectionFailsCheck(t *testing.T) {
	m := mock.New()
	require.NoError(t, m.Seed(json.RawMessage(`{"potholes":"oops"}`)))
	in := dedup.New(m.Client(), dedup.Options{})

	_, err := in.Exists(context.Background(), dedup.Record{}, "/potholes/")
	assert.ErrorIs(t, err, treestore.ErrCheckFailed)
}

func TestWithImageFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "hole.jpg")
	require.NoError(t, os.WriteFile(path, []byte{0xff, 0xd8, 0xff}, 0o644))

	r, err := dedup.Record{Latitude: 1, Longitude: 2}.WithImageFile(path)
	require.NoError(t, err)
	assert.Equal(t, base64.StdEncoding.EncodeToString([]byte{0xff, 0xd8, 0xff}), r.Image)

	_, err = dedup.Record{}.WithImageFile(filepath.Join(t.TempDir(), "missing.jpg"))
	assert.ErrorIs(t, err, treestore.ErrInvalidArgument)
}

func TestOutcomeString(t *testing.T) {
	assert.Equal(t, "inserted", dedup.Inserted.String())
	assert.Equal(t, "skipped", dedup.Skipped.String())
	assert.Equal(t, "unknown", dedup.Outcome(0).String())
}
