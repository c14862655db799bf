package ml

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"
)

// Fetcher downloads remote artifacts into a local cache directory. A cached
// file is reused as long as it exists.
type Fetcher struct {
	client   *resty.Client
	cacheDir string
	metrics  MetricsInterface
}

// NewFetcher creates a fetcher caching under cacheDir.
func NewFetcher(cacheDir string, timeout time.Duration, metrics MetricsInterface) *Fetcher {
	client := resty.New()
	if timeout > 0 {
		client.SetTimeout(timeout)
	} else {
		client.SetTimeout(30 * time.Second)
	}
	client.SetRetryCount(2)
	client.SetRetryWaitTime(500 * time.Millisecond)

	return &Fetcher{client: client, cacheDir: cacheDir, metrics: metrics}
}

// IsRemote reports whether loc is an http(s) URL.
func IsRemote(loc string) bool {
	return strings.HasPrefix(loc, "http://") || strings.HasPrefix(loc, "https://")
}

// Resolve returns a local path for loc, downloading it first when remote.
// The cached file keeps the URL's extension so format detection still works.
func (f *Fetcher) Resolve(ctx context.Context, loc string) (string, error) {
	if !IsRemote(loc) {
		return loc, nil
	}

	u, err := url.Parse(loc)
	if err != nil {
		return "", fmt.Errorf("parse artifact url: %w", err)
	}
	sum := sha256.Sum256([]byte(loc))
	local := filepath.Join(f.cacheDir, hex.EncodeToString(sum[:8])+"-"+path.Base(u.Path))

	if _, err := os.Stat(local); err == nil {
		log.Debug().Str("url", loc).Str("path", local).Msg("Using cached artifact")
		return local, nil
	}

	resp, err := f.client.R().SetContext(ctx).Get(loc)
	if err != nil {
		return "", fmt.Errorf("failed to fetch artifact %s: %w", loc, err)
	}
	if resp.StatusCode() != http.StatusOK {
		return "", fmt.Errorf("artifact %s returned status %d", loc, resp.StatusCode())
	}

	if err := os.MkdirAll(f.cacheDir, 0o755); err != nil {
		return "", fmt.Errorf("create artifact cache: %w", err)
	}
	tmp := local + ".part"
	if err := os.WriteFile(tmp, resp.Body(), 0o644); err != nil {
		return "", fmt.Errorf("write artifact %s: %w", local, err)
	}
	if err := os.Rename(tmp, local); err != nil {
		return "", fmt.Errorf("store artifact %s: %w", local, err)
	}

	if f.metrics != nil {
		f.metrics.ArtifactsFetchedInc()
	}
	log.Info().Str("url", loc).Str("path", local).Int("bytes", len(resp.Body())).Msg("Artifact downloaded")
	return local, nil
}
