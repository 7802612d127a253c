package cache

import (
	"context"
	"testing"
	"time"

	"github.com/spherical/doc-chat/internal/domain"
	"github.com/spherical/doc-chat/internal/observability"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryClient_SetGetDelete(t *testing.T) {
	c := NewMemoryClient(10)
	defer c.Close()
	ctx := context.Background()

	_, err := c.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrCacheMiss)

	require.NoError(t, c.Set(ctx, "k", []byte("v"), time.Minute))
	got, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), got)

	require.NoError(t, c.Delete(ctx, "k"))
	_, err = c.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestMemoryClient_Expiry(t *testing.T) {
	c := NewMemoryClient(10)
	defer c.Close()
	ctx := context.Background()

	now := time.Unix(1000, 0)
	c.mu.Lock()
	c.now = func() time.Time { return now }
	c.mu.Unlock()

	require.NoError(t, c.Set(ctx, "k", []byte("v"), time.Second))
	require.NoError(t, c.Set(ctx, "long", []byte("v"), time.Hour))
	now = now.Add(2 * time.Second)

	_, err := c.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrCacheMiss)
	assert.Equal(t, 1, c.Len(), "expired entry is dropped on access")

	require.NoError(t, c.Set(ctx, "short", []byte("v"), time.Second))
	now = now.Add(2 * time.Second)
	c.purgeExpired()
	assert.Equal(t, 1, c.Len())
}

func TestMemoryClient_EvictsLeastRecentlyUsed(t *testing.T) {
	c := NewMemoryClient(2)
	defer c.Close()
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "a", []byte("1"), time.Hour))
	require.NoError(t, c.Set(ctx, "b", []byte("2"), time.Hour))
	_, err := c.Get(ctx, "a")
	require.NoError(t, err)
	require.NoError(t, c.Set(ctx, "c", []byte("3"), time.Hour))

	_, err = c.Get(ctx, "b")
	assert.ErrorIs(t, err, ErrCacheMiss)
	_, err = c.Get(ctx, "a")
	assert.NoError(t, err)
}

func TestMemoryClient_SetCopiesValue(t *testing.T) {
	c := NewMemoryClient(2)
	defer c.Close()
	ctx := context.Background()

	v := []byte("abc")
	require.NoError(t, c.Set(ctx, "k", v, time.Hour))
	v[0] = 'x'

	got, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("abc"), got)
}

func TestMemoryClient_EvictsWhenFull(t *testing.T) {
	c := NewMemoryClient(2)
	defer c.Close()
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "a", []byte("1"), time.Minute))
	require.NoError(t, c.Set(ctx, "b", []byte("2"), time.Hour))
	require.NoError(t, c.Set(ctx, "c", []byte("3"), time.Hour))

	_, err := c.Get(ctx, "a")
	assert.ErrorIs(t, err, ErrCacheMiss)
	_, err = c.Get(ctx, "c")
	assert.NoError(t, err)
}

func TestMemoryClient_CloseIsIdempotent(t *testing.T) {
	c := NewMemoryClient(1)
	assert.NoError(t, c.Close())
	assert.NoError(t, c.Close())
}

func TestKey(t *testing.T) {
	assert.Equal(t, "extract:gemma3:abc", Key("extract", "gemma3", "abc"))
}

func TestExtractionCache_RoundTrip(t *testing.T) {
	client := NewMemoryClient(10)
	defer client.Close()
	ec := NewExtractionCache(client, time.Hour, observability.Nop())
	ctx := context.Background()
	doc := []byte("%PDF-1.4 fake")

	_, ok := ec.Get(ctx, "gemma3", doc)
	assert.False(t, ok)

	outcome := &domain.ExtractionOutcome{Pages: domain.PageResult{"1": "hello", "2": "world"}, Skipped: []int{}}
	ec.Put(ctx, "gemma3", doc, outcome)

	got, ok := ec.Get(ctx, "gemma3", doc)
	require.True(t, ok)
	assert.Equal(t, outcome, got)

	_, ok = ec.Get(ctx, "gpt-oss", doc)
	assert.False(t, ok, "entries are scoped to the model")
}

func TestExtractionCache_SkipsEmptyOutcome(t *testing.T) {
	client := NewMemoryClient(10)
	defer client.Close()
	ec := NewExtractionCache(client, time.Hour, nil)
	ctx := context.Background()

	ec.Put(ctx, "gemma3", []byte("x"), domain.NewExtractionOutcome())
	_, ok := ec.Get(ctx, "gemma3", []byte("x"))
	assert.False(t, ok)
}

func TestExtractionCache_SkipsPartialOutcome(t *testing.T) {
	client := NewMemoryClient(10)
	defer client.Close()
	ec := NewExtractionCache(client, time.Hour, nil)
	ctx := context.Background()

	ec.Put(ctx, "gemma3", []byte("x"), &domain.ExtractionOutcome{
		Pages:   domain.PageResult{"1": "a"},
		Skipped: []int{2},
	})
	_, ok := ec.Get(ctx, "gemma3", []byte("x"))
	assert.False(t, ok)
	assert.Zero(t, client.Len())
}

func TestExtractionCache_CorruptEntryIsDropped(t *testing.T) {
	client := NewMemoryClient(10)
	defer client.Close()
	ec := NewExtractionCache(client, time.Hour, nil)
	ctx := context.Background()
	doc := []byte("doc")

	require.NoError(t, client.Set(ctx, DocumentKey("gemma3", doc), []byte("{not json"), time.Hour))

	_, ok := ec.Get(ctx, "gemma3", doc)
	assert.False(t, ok)
	_, err := client.Get(ctx, DocumentKey("gemma3", doc))
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestNopClient(t *testing.T) {
	var c Client = NopClient{}
	require.NoError(t, c.Set(context.Background(), "k", []byte("v"), time.Minute))
	_, err := c.Get(context.Background(), "k")
	assert.ErrorIs(t, err, ErrCacheMiss)
}
