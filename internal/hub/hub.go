// Package hub downloads files from a Hugging Face compatible model hub and
// keeps them in a local cache indexed by a sqlite manifest.
package hub

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"llmtokens/internal/logger"
)

var (
	ErrNotFound    = errors.New("artifact not found")
	ErrOffline     = errors.New("artifact not cached and hub is offline")
	ErrInvalidRepo = errors.New("invalid repo id")
)

var repoIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*(/[A-Za-z0-9][A-Za-z0-9._-]*)?$`)

type Options struct {
	Endpoint   string
	Revision   string
	CacheDir   string
	Token      string
	Offline    bool
	HTTPClient *http.Client
}

type Client struct {
	endpoint string
	revision string
	cacheDir string
	token    string
	offline  bool
	client   *http.Client
	manifest *Manifest
}

// New creates a client. No request timeout is applied unless the caller
// supplies an http.Client with one.
func New(opts Options) *Client {
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	revision := strings.TrimSpace(opts.Revision)
	if revision == "" {
		revision = "main"
	}
	return &Client{
		endpoint: strings.TrimRight(opts.Endpoint, "/"),
		revision: revision,
		cacheDir: opts.CacheDir,
		token:    opts.Token,
		offline:  opts.Offline,
		client:   client,
	}
}

func (c *Client) Close() error {
	if c.manifest == nil {
		return nil
	}
	err := c.manifest.Close()
	c.manifest = nil
	return err
}

// ValidateRepoID accepts "name" or "org/name". "--" is reserved as the
// separator of cache directory names.
func ValidateRepoID(repo string) error {
	if !repoIDPattern.MatchString(repo) || strings.Contains(repo, "..") || strings.Contains(repo, "--") {
		return fmt.Errorf("%w: %q", ErrInvalidRepo, repo)
	}
	return nil
}

// Fetch returns a local path for filename in repo, downloading it if the
// cache is missing or stale. Nothing is retried.
func (c *Client) Fetch(ctx context.Context, repo, filename string) (string, error) {
	log := logger.L(ctx).With(zap.String("repo", repo), zap.String("file", filename))

	if err := ValidateRepoID(repo); err != nil {
		return "", err
	}
	manifest, err := c.openManifest()
	if err != nil {
		return "", fmt.Errorf("open cache manifest: %w", err)
	}

	cached, err := manifest.Lookup(repo, c.revision, filename)
	hasCached := err == nil && fileExists(cached.Path)
	if err != nil && !errors.Is(err, errNoEntry) {
		return "", err
	}

	if c.offline {
		if hasCached {
			log.Debug("offline cache hit", zap.String("path", cached.Path))
			return cached.Path, nil
		}
		return "", fmt.Errorf("%w: %s/%s", ErrOffline, repo, filename)
	}

	url := c.fileURL(repo, filename)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if hasCached && cached.ETag != "" {
		req.Header.Set("If-None-Match", cached.ETag)
	}

	log.Debug("fetching", zap.String("url", url))
	resp, err := c.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotModified && hasCached:
		log.Debug("cache revalidated", zap.String("path", cached.Path))
		cached.FetchedAt = time.Now()
		if err := manifest.Record(cached); err != nil {
			return "", err
		}
		return cached.Path, nil
	case resp.StatusCode == http.StatusNotFound,
		resp.StatusCode == http.StatusUnauthorized,
		resp.StatusCode == http.StatusForbidden:
		return "", fmt.Errorf("%w: %s/%s (%s)", ErrNotFound, repo, filename, resp.Status)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("hub request %s: %s %s", url, resp.Status, strings.TrimSpace(string(body)))
	}

	path := c.cachePath(repo, filename)
	size, err := writeAtomic(path, resp.Body)
	if err != nil {
		return "", fmt.Errorf("write %s: %w", path, err)
	}
	entry := Entry{
		Repo:     repo,
		Revision: c.revision,
		Filename: filename,
		ETag:     responseETag(resp),
		Path:     path,
		Size:     size,
	}
	if err := manifest.Record(entry); err != nil {
		return "", err
	}
	log.Debug("cached", zap.String("path", path), zap.Int64("bytes", size))
	return path, nil
}

func (c *Client) openManifest() (*Manifest, error) {
	if c.manifest != nil {
		return c.manifest, nil
	}
	m, err := OpenManifest(filepath.Join(c.cacheDir, "manifest.db"))
	if err != nil {
		return nil, err
	}
	c.manifest = m
	return m, nil
}

func (c *Client) fileURL(repo, filename string) string {
	return fmt.Sprintf("%s/%s/resolve/%s/%s", c.endpoint, repo, c.revision, filename)
}

func (c *Client) cachePath(repo, filename string) string {
	dir := "models--" + strings.ReplaceAll(repo, "/", "--")
	return filepath.Join(c.cacheDir, "hub", dir, c.revision, filepath.FromSlash(filename))
}

// LFS files carry their content hash in X-Linked-Etag.
func responseETag(resp *http.Response) string {
	if etag := resp.Header.Get("X-Linked-Etag"); etag != "" {
		return etag
	}
	return resp.Header.Get("ETag")
}

func writeAtomic(path string, r io.Reader) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return 0, err
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".download-*")
	if err != nil {
		return 0, err
	}
	size, err := io.Copy(tmp, r)
	if err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return 0, err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return 0, err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return 0, err
	}
	return size, nil
}

func fileExists(path string) bool {
	if path == "" {
		return false
	}
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
