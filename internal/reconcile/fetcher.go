package reconcile

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/nerrad567/sentinel-core/internal/entity"
)

// Fetcher returns authoritative state for a resync. An empty kind means
// every kind; an empty id means every entity of kind.
//
// *store.Store satisfies Fetcher for in-process observers.
type Fetcher interface {
	FetchSnapshot(ctx context.Context, kind entity.Kind, id string) (entity.Baseline, error)
}

const (
	snapshotPath        = "/api/v1/snapshot"
	defaultFetchTimeout = 30 * time.Second
	maxErrorBody        = 4 << 10
)

// HTTPFetcher fetches baselines from a remote core's snapshot endpoint.
type HTTPFetcher struct {
	// BaseURL is the core's address, e.g. http://core:8080.
	BaseURL string
	Client  *http.Client
}

// FetchSnapshot calls GET /api/v1/snapshot?kind=&id=.
func (f *HTTPFetcher) FetchSnapshot(ctx context.Context, kind entity.Kind, id string) (entity.Baseline, error) {
	q := url.Values{}
	if kind != "" {
		q.Set("kind", string(kind))
	}
	if id != "" {
		q.Set("id", id)
	}
	target := strings.TrimRight(f.BaseURL, "/") + snapshotPath
	if len(q) > 0 {
		target += "?" + q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return entity.Baseline{}, fmt.Errorf("building snapshot request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	client := f.Client
	if client == nil {
		client = &http.Client{Timeout: defaultFetchTimeout}
	}
	resp, err := client.Do(req)
	if err != nil {
		return entity.Baseline{}, fmt.Errorf("fetching snapshot: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody)) //nolint:errcheck // best-effort detail
		return entity.Baseline{}, fmt.Errorf("fetching snapshot: %s: %s", resp.Status, strings.TrimSpace(string(body)))
	}

	var b entity.Baseline
	if err := json.NewDecoder(resp.Body).Decode(&b); err != nil {
		return entity.Baseline{}, fmt.Errorf("decoding snapshot: %w", err)
	}
	for i, snap := range b.Entities {
		if snap == nil {
			return entity.Baseline{}, fmt.Errorf("snapshot entity %d is null", i)
		}
		if err := entity.ValidateSnapshot(snap); err != nil {
			return entity.Baseline{}, fmt.Errorf("snapshot entity %s: %w", snap.Key(), err)
		}
	}
	return b, nil
}
