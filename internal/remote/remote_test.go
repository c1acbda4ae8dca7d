package remote

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNarrow(t *testing.T) {
	assert.Equal(t, "abcdef1", Narrow("abcdef1234567890abcdef1234567890abcdef12"))
	assert.Equal(t, "abc", Narrow("abc"))
	assert.Equal(t, "", Narrow(""))
}

func TestFixedHash(t *testing.T) {
	h, err := FixedHash("abcdef1").Hash(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "abcdef1", h)
}

// countingResolver counts how often the inner resolver runs.
type countingResolver struct {
	calls atomic.Int32
	err   error
}

func (c *countingResolver) Hash(context.Context) (string, error) {
	c.calls.Add(1)
	if c.err != nil {
		return "", c.err
	}
	return "abcdef1234567890", nil
}

func TestCachedHashResolvesOnce(t *testing.T) {
	inner := &countingResolver{}
	cached := NewCachedHash(inner)

	for i := 0; i < 3; i++ {
		h, err := cached.Hash(context.Background())
		require.NoError(t, err)
		assert.Equal(t, "abcdef1234567890", h)
	}
	assert.Equal(t, int32(1), inner.calls.Load())
}

func TestCachedHashRetriesAfterFailure(t *testing.T) {
	inner := &countingResolver{err: fmt.Errorf("network down")}
	cached := NewCachedHash(inner)

	_, err := cached.Hash(context.Background())
	require.Error(t, err)

	inner.err = nil
	h, err := cached.Hash(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "abcdef1234567890", h)
	assert.Equal(t, int32(2), inner.calls.Load())
}

func TestMapFetcher(t *testing.T) {
	f := MapFetcher{"foo.x.main": []byte("source")}

	data, err := f.Fetch(context.Background(), "foo.x.main")
	require.NoError(t, err)
	assert.Equal(t, []byte("source"), data)

	_, err = f.Fetch(context.Background(), "ghost.unit")
	assert.Error(t, err)
}

func TestHTTPFetcherBuildsObjectPath(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		fmt.Fprint(w, "payload")
	}))
	defer srv.Close()

	f := HTTPFetcher{Base: srv.URL, Hash: "abcdef1", Ext: ".src"}
	data, err := f.Fetch(context.Background(), "foo.x.main")
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), data)
	assert.Equal(t, "/abcdef1/foo/x/main.src", gotPath)
}

func TestHTTPFetcherNonOKStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "nope", http.StatusNotFound)
	}))
	defer srv.Close()

	f := HTTPFetcher{Base: srv.URL, Hash: "abcdef1", Ext: ".src"}
	_, err := f.Fetch(context.Background(), "foo.x.main")
	assert.ErrorContains(t, err, "404")
}

func TestHTTPFetcherHonorsContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	f := HTTPFetcher{Base: srv.URL, Hash: "abcdef1", Ext: ".src"}
	_, err := f.Fetch(ctx, "foo.x.main")
	assert.Error(t, err)
}
