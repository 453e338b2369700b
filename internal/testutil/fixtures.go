package testutil

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/piwi3910/s3gateway/internal/kvs/memkv"
)

// DefaultTestRegion is the region tests create buckets in.
const DefaultTestRegion = "us-east-1"

// NewEngine returns a memory engine that is closed when the test ends.
func NewEngine(t *testing.T, opts memkv.Options) *memkv.Engine {
	t.Helper()

	engine := memkv.New(opts)
	t.Cleanup(func() { _ = engine.Close() })

	return engine
}

// SeedJSON stores v as JSON under index/key, bypassing the request path.
func SeedJSON(t *testing.T, engine *memkv.Engine, index, key string, v any) {
	t.Helper()

	data, err := json.Marshal(v)
	require.NoError(t, err)
	engine.Seed(index, key, data)
}

// LookupJSON decodes the value under index/key into v. It reports false when
// the key is absent.
func LookupJSON(t *testing.T, engine *memkv.Engine, index, key string, v any) bool {
	t.Helper()

	data, ok := engine.Lookup(index, key)
	if !ok {
		return false
	}

	require.NoError(t, json.Unmarshal(data, v))

	return true
}
