// Package kvstest holds the behavior every kvs.Engine must share.
package kvstest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/piwi3910/s3gateway/internal/kvs"
)

// Factory creates a fresh, empty engine for one subtest.
type Factory func(t *testing.T) kvs.Engine

// Run runs the engine conformance suite.
func Run(t *testing.T, factory Factory) {
	t.Helper()

	tests := map[string]func(t *testing.T, client *kvs.Client){
		"RoundTrip":            testRoundTrip,
		"ExactLength":          testExactLength,
		"MissingKey":           testMissingKey,
		"MissingIndex":         testMissingIndex,
		"Overwrite":            testOverwrite,
		"IfAbsent":             testIfAbsent,
		"Delete":               testDelete,
		"IndexesAreIsolated":   testIndexesAreIsolated,
		"ConcurrentOperations": testConcurrent,
		"BinaryKeys":           testBinaryKeys,
	}

	for name, fn := range tests {
		t.Run(name, func(t *testing.T) {
			engine := factory(t)
			t.Cleanup(func() { _ = engine.Close() })

			fn(t, kvs.NewClient(engine, kvs.NewAllocator(0)))
		})
	}

	t.Run("Closed", func(t *testing.T) {
		engine := factory(t)
		require.NoError(t, engine.Close())

		client := kvs.NewClient(engine, nil)
		_, err := client.Get(ctx(t), "idx", "k")
		require.Error(t, err)
		assert.Equal(t, kvs.ClassUnavailable, kvs.Classify(err))
	})
}

func ctx(t *testing.T) context.Context {
	c, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)

	return c
}

func testRoundTrip(t *testing.T, client *kvs.Client) {
	value := []byte(`{"Version":"2012-10-17"}`)

	require.NoError(t, client.Put(ctx(t), "buckets-index", "bucket1", value, kvs.PutOptions{}))

	got, err := client.Get(ctx(t), "buckets-index", "bucket1")
	require.NoError(t, err)
	assert.Equal(t, value, got)
}

func testExactLength(t *testing.T, client *kvs.Client) {
	value := []byte("policy\x00\x00\x00")

	require.NoError(t, client.Put(ctx(t), "buckets-index", "bucket1", value, kvs.PutOptions{}))

	got, err := client.Get(ctx(t), "buckets-index", "bucket1")
	require.NoError(t, err)
	assert.Len(t, got, len(value))
	assert.Equal(t, value, got)

	require.NoError(t, client.Put(ctx(t), "buckets-index", "empty", []byte{}, kvs.PutOptions{}))

	got, err = client.Get(ctx(t), "buckets-index", "empty")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func testMissingKey(t *testing.T, client *kvs.Client) {
	require.NoError(t, client.Put(ctx(t), "buckets-index", "bucket1", []byte("{}"), kvs.PutOptions{}))

	_, err := client.Get(ctx(t), "buckets-index", "missing-bucket")
	require.Error(t, err)
	assert.Equal(t, kvs.ClassNotFound, kvs.Classify(err))
}

func testMissingIndex(t *testing.T, client *kvs.Client) {
	_, err := client.Get(ctx(t), "never-written", "key")
	require.Error(t, err)
	assert.ErrorIs(t, err, kvs.ErrIndexNotFound)
	assert.Equal(t, kvs.ClassNotFound, kvs.Classify(err))
}

func testOverwrite(t *testing.T, client *kvs.Client) {
	require.NoError(t, client.Put(ctx(t), "idx", "k", []byte("one"), kvs.PutOptions{}))
	require.NoError(t, client.Put(ctx(t), "idx", "k", []byte("two"), kvs.PutOptions{}))

	got, err := client.Get(ctx(t), "idx", "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("two"), got)
}

func testIfAbsent(t *testing.T, client *kvs.Client) {
	require.NoError(t, client.Put(ctx(t), "idx", "k", []byte("one"), kvs.PutOptions{IfAbsent: true}))

	err := client.Put(ctx(t), "idx", "k", []byte("two"), kvs.PutOptions{IfAbsent: true})
	require.Error(t, err)
	assert.Equal(t, kvs.ClassRejected, kvs.Classify(err))
	assert.ErrorIs(t, err, kvs.ErrKeyExists)

	got, err := client.Get(ctx(t), "idx", "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("one"), got)
}

func testDelete(t *testing.T, client *kvs.Client) {
	require.NoError(t, client.Put(ctx(t), "idx", "k", []byte("v"), kvs.PutOptions{}))
	require.NoError(t, client.Delete(ctx(t), "idx", "k"))

	_, err := client.Get(ctx(t), "idx", "k")
	assert.Equal(t, kvs.ClassNotFound, kvs.Classify(err))

	err = client.Delete(ctx(t), "idx", "k")
	assert.Equal(t, kvs.ClassNotFound, kvs.Classify(err))
}

func testIndexesAreIsolated(t *testing.T, client *kvs.Client) {
	require.NoError(t, client.Put(ctx(t), "objects-index/a", "k", []byte("a"), kvs.PutOptions{}))
	require.NoError(t, client.Put(ctx(t), "objects-index/b", "k", []byte("b"), kvs.PutOptions{}))

	got, err := client.Get(ctx(t), "objects-index/a", "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("a"), got)

	got, err = client.Get(ctx(t), "objects-index/b", "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("b"), got)
}

func testConcurrent(t *testing.T, client *kvs.Client) {
	var wg sync.WaitGroup

	errs := make(chan error, 32)

	for i := 0; i < 32; i++ {
		wg.Add(1)

		go func(i int) {
			defer wg.Done()

			key := fmt.Sprintf("key-%d", i)
			value := []byte(fmt.Sprintf("value-%d", i))

			err := client.Put(ctx(t), "idx", key, value, kvs.PutOptions{})
			if err != nil {
				errs <- err
				return
			}

			got, err := client.Get(ctx(t), "idx", key)
			if err != nil {
				errs <- err
				return
			}

			if string(got) != string(value) {
				errs <- fmt.Errorf("key %s: got %q", key, got)
			}
		}(i)
	}

	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}
}

func testBinaryKeys(t *testing.T, client *kvs.Client) {
	key := "photos/2024/\x00weird key ü.jpg"

	require.NoError(t, client.Put(ctx(t), "objects-index/photos", key, []byte("meta"), kvs.PutOptions{}))

	got, err := client.Get(ctx(t), "objects-index/photos", key)
	require.NoError(t, err)
	assert.Equal(t, []byte("meta"), got)
}
