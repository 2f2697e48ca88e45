package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// HTTPConfig configures an HTTP-backed Gateway.
type HTTPConfig struct {
	// BaseURL is the upstream object store's root, e.g.
	// "https://store.example.org/objects".
	BaseURL string
	// MaxConnections bounds how many concurrent requests the gateway
	// issues to the upstream store, via a semaphore acquired before
	// every call and released on completion — the same connection-count
	// contract the fetch worker pool's concurrency is sized to match.
	MaxConnections int
}

// HTTPGateway is a Gateway backed by a plain HTTP object store: bulk data,
// metadata and checksums are each a GET under BaseURL. It is a thin
// wrapper, deliberately so — the upstream's actual wire protocol is an
// external concern the precache only needs an opaque fetcher for.
type HTTPGateway struct {
	client *http.Client
	cfg    HTTPConfig
	sem    chan struct{}
}

// NewHTTPGateway creates an HTTPGateway wired to cfg.
func NewHTTPGateway(cfg HTTPConfig) *HTTPGateway {
	if cfg.MaxConnections <= 0 {
		cfg.MaxConnections = 30
	}
	return &HTTPGateway{
		client: &http.Client{},
		cfg:    cfg,
		sem:    make(chan struct{}, cfg.MaxConnections),
	}
}

func (g *HTTPGateway) acquire(ctx context.Context) error {
	select {
	case g.sem <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (g *HTTPGateway) release() {
	<-g.sem
}

func (g *HTTPGateway) objectURL(kind, upstreamPath string) string {
	return fmt.Sprintf("%s/%s/%s", strings.TrimRight(g.cfg.BaseURL, "/"), kind, url.PathEscape(strings.TrimPrefix(upstreamPath, "/")))
}

func (g *HTTPGateway) do(ctx context.Context, kind, upstreamPath string) (*http.Response, error) {
	if err := g.acquire(ctx); err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.objectURL(kind, upstreamPath), nil)
	if err != nil {
		g.release()
		return nil, err
	}
	resp, err := g.client.Do(req)
	if err != nil {
		g.release()
		return nil, err
	}
	return resp, nil
}

func statusError(upstreamPath string, resp *http.Response) error {
	switch resp.StatusCode {
	case http.StatusNotFound:
		return fmt.Errorf("upstream: object not found: %s: %w", upstreamPath, ErrNotFound)
	case http.StatusForbidden:
		return fmt.Errorf("upstream: access denied: %s: %w", upstreamPath, ErrForbidden)
	default:
		return fmt.Errorf("upstream: unexpected status %d fetching %s", resp.StatusCode, upstreamPath)
	}
}

// objectMetadataWire is the upstream fetch_metadata response shape:
// sizes and checksum plus Unix-epoch timestamps, decoded into the richer
// ObjectMetadata the Gateway interface returns.
type objectMetadataWire struct {
	Size       uint64     `json:"size"`
	Checksum   string     `json:"checksum"`
	CreatedTS  int64      `json:"created_ts"`
	ModifiedTS int64      `json:"modified_ts"`
	AVUs       []Metadata `json:"avus"`
}

func (g *HTTPGateway) FetchMetadata(ctx context.Context, upstreamPath string) (ObjectMetadata, error) {
	resp, err := g.do(ctx, "metadata", upstreamPath)
	if err != nil {
		return ObjectMetadata{}, err
	}
	defer g.release()
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return ObjectMetadata{}, statusError(upstreamPath, resp)
	}

	var wire objectMetadataWire
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return ObjectMetadata{}, fmt.Errorf("upstream: malformed metadata for %s: %w", upstreamPath, err)
	}
	return ObjectMetadata{
		Size:       wire.Size,
		Checksum:   wire.Checksum,
		CreatedAt:  time.Unix(wire.CreatedTS, 0).UTC(),
		ModifiedAt: time.Unix(wire.ModifiedTS, 0).UTC(),
		AVUs:       wire.AVUs,
	}, nil
}

func (g *HTTPGateway) FetchData(ctx context.Context, upstreamPath string, w io.Writer) (int64, error) {
	resp, err := g.do(ctx, "data", upstreamPath)
	if err != nil {
		return 0, err
	}
	defer g.release()
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, statusError(upstreamPath, resp)
	}

	return io.Copy(w, resp.Body)
}

func (g *HTTPGateway) UpstreamChecksum(ctx context.Context, upstreamPath string) (string, error) {
	resp, err := g.do(ctx, "checksum", upstreamPath)
	if err != nil {
		return "", err
	}
	defer g.release()
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", statusError(upstreamPath, resp)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(body)), nil
}

var _ Gateway = (*HTTPGateway)(nil)
