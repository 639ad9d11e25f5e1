package devseed

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadTreeSeedJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seed.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"potholes":{"-a":{"latitude":42.98,"longitude":-78.81}}}`), 0o600))

	doc, err := LoadTreeSeed(path)
	require.NoError(t, err)
	assert.JSONEq(t, `{"potholes":{"-a":{"latitude":42.98,"longitude":-78.81}}}`, string(doc))
}

func TestLoadTreeSeedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seed.yaml")
	content := "users:\n  alice:\n    age: 30\n  1: numeric-key\nflags: [a, b]\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	doc, err := LoadTreeSeed(path)
	require.NoError(t, err)
	assert.JSONEq(t, `{"users":{"alice":{"age":30},"1":"numeric-key"},"flags":["a","b"]}`, string(doc))
}

func TestParseTreeSeedRejectsNonObject(t *testing.T) {
	_, err := ParseTreeSeed(".json", []byte(`[1,2,3]`))
	require.Error(t, err)

	doc, err := ParseTreeSeed(".json", []byte(`null`))
	require.NoError(t, err)
	assert.JSONEq(t, `{}`, string(doc))
}

func TestLoadTreeSeedMissingFile(t *testing.T) {
	_, err := LoadTreeSeed(filepath.Join(t.TempDir(), "missing.json"))
	require.Error(t, err)
}
