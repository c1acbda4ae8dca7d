package remote

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// Fetcher retrieves the source payload of one unit by its identifier.
// Implementations must be idempotent for a given identifier; the engine
// invokes the fetch at most once per ensure call but may retry a whole
// ensure call.
type Fetcher interface {
	Fetch(ctx context.Context, identifier string) ([]byte, error)
}

// HTTPFetcher fetches unit sources over HTTP from a registry that lays
// objects out as <base>/<hash>/<identifier-as-path><ext>.
type HTTPFetcher struct {
	Base   string
	Hash   string
	Ext    string
	Client *http.Client
}

// Fetch retrieves one unit's source.
func (f HTTPFetcher) Fetch(ctx context.Context, identifier string) ([]byte, error) {
	rel := strings.ReplaceAll(identifier, ".", "/")
	url := fmt.Sprintf("%s/%s/%s%s", strings.TrimSuffix(f.Base, "/"), f.Hash, rel, f.Ext)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request for %s: %w", identifier, err)
	}
	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", identifier, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch %s: registry returned %s", identifier, resp.Status)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body of %s: %w", identifier, err)
	}
	return data, nil
}

// MapFetcher serves sources from memory, for tests and offline fixtures.
type MapFetcher map[string][]byte

func (m MapFetcher) Fetch(_ context.Context, identifier string) ([]byte, error) {
	data, ok := m[identifier]
	if !ok {
		return nil, fmt.Errorf("unknown object %q", identifier)
	}
	return data, nil
}
