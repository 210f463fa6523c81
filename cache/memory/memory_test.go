package memory

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCachePutGet(t *testing.T) {
	t.Parallel()

	c, err := New(8)
	require.NoError(t, err)

	require.NoError(t, c.Put([]byte("k1"), []byte("hello")))
	got, ok := c.Get([]byte("k1"))
	require.True(t, ok)
	assert.Equal(t, []byte("hello"), got)
	assert.Equal(t, int64(5), c.SizeBytes())

	_, ok = c.Get([]byte("missing"))
	assert.False(t, ok)
}

func TestCacheEvictsByCount(t *testing.T) {
	t.Parallel()

	c, err := New(2)
	require.NoError(t, err)

	require.NoError(t, c.Put([]byte("a"), []byte("1")))
	require.NoError(t, c.Put([]byte("b"), []byte("22")))
	_, _ = c.Get([]byte("a"))
	require.NoError(t, c.Put([]byte("c"), []byte("333")))

	_, ok := c.Get([]byte("b"))
	assert.False(t, ok, "least recently used entry should be evicted")
	assert.Equal(t, 2, c.Len())
	assert.Equal(t, int64(4), c.SizeBytes())
}

func TestCacheEvictsByBytes(t *testing.T) {
	t.Parallel()

	c, err := New(16, WithMaxBytes(6))
	require.NoError(t, err)

	require.NoError(t, c.Put([]byte("a"), []byte("aaaa")))
	require.NoError(t, c.Put([]byte("b"), []byte("bbbb")))

	_, ok := c.Get([]byte("a"))
	assert.False(t, ok)
	_, ok = c.Get([]byte("b"))
	assert.True(t, ok)
	assert.LessOrEqual(t, c.SizeBytes(), int64(6))

	require.NoError(t, c.Put([]byte("big"), []byte("0123456789")))
	_, ok = c.Get([]byte("big"))
	assert.False(t, ok, "content above the byte limit is not stored")
}

func TestCacheConcurrentPutSameHash(t *testing.T) {
	t.Parallel()

	c, err := New(8)
	require.NoError(t, err)

	content := []byte("shared content")
	start := make(chan struct{})
	var wg sync.WaitGroup
	for range 64 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			assert.NoError(t, c.Put([]byte("same"), content))
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, 1, c.Len())
	assert.Equal(t, int64(len(content)), c.SizeBytes())

	require.NoError(t, c.Delete([]byte("same")))
	assert.Zero(t, c.SizeBytes())
}

func TestCacheDelete(t *testing.T) {
	t.Parallel()

	c, err := New(4)
	require.NoError(t, err)
	require.NoError(t, c.Put([]byte("a"), []byte("abc")))
	require.NoError(t, c.Delete([]byte("a")))
	require.NoError(t, c.Delete([]byte("a")))

	_, ok := c.Get([]byte("a"))
	assert.False(t, ok)
	assert.Zero(t, c.SizeBytes())
}

func TestNewInvalid(t *testing.T) {
	t.Parallel()

	_, err := New(0)
	require.Error(t, err)
	_, err = New(1, WithMaxBytes(-1))
	require.Error(t, err)

	c, err := New(1)
	require.NoError(t, err)
	require.Error(t, c.Put(nil, []byte("x")))
}
