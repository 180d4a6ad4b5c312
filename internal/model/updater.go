package model

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/plantguard/edge/internal/logger"
)

// Manifest maps a model name to its published version. It is served as
// version.json next to the model files.
type Manifest map[string]ManifestEntry

// ManifestEntry is one model in the manifest.
type ManifestEntry struct {
	Version  string `json:"version"`
	Filename string `json:"filename"`
}

// Updater keeps the local model directory in sync with a published
// manifest. For every entry it compares <dir>/<name>.version with the
// manifest version and downloads the file when they differ.
type Updater struct {
	manifestURL string
	dir         string
	httpClient  *http.Client
	logger      *logger.Logger
}

// NewUpdater creates an updater. Model files are fetched relative to the
// manifest URL.
func NewUpdater(manifestURL, dir string, timeout time.Duration, log *logger.Logger) *Updater {
	if timeout == 0 {
		timeout = 5 * time.Minute
	}
	return &Updater{
		manifestURL: manifestURL,
		dir:         dir,
		httpClient:  &http.Client{Timeout: timeout},
		logger:      log,
	}
}

// Update fetches the manifest and downloads out-of-date models
// concurrently. It returns the names of the models that were updated.
func (u *Updater) Update(ctx context.Context) ([]string, error) {
	if err := os.MkdirAll(u.dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create model directory: %w", err)
	}

	manifest, err := u.fetchManifest(ctx)
	if err != nil {
		return nil, err
	}

	updated := make([]string, 0, len(manifest))
	results := make(chan string, len(manifest))

	g, gctx := errgroup.WithContext(ctx)
	for name, entry := range manifest {
		name, entry := name, entry
		g.Go(func() error {
			changed, err := u.syncModel(gctx, name, entry)
			if err != nil {
				return fmt.Errorf("model %s: %w", name, err)
			}
			if changed {
				results <- name
			}
			return nil
		})
	}
	err = g.Wait()
	close(results)
	for name := range results {
		updated = append(updated, name)
	}
	return updated, err
}

func (u *Updater) fetchManifest(ctx context.Context) (Manifest, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.manifestURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := u.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch manifest: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("manifest request returned status %d", resp.StatusCode)
	}

	var manifest Manifest
	if err := json.NewDecoder(resp.Body).Decode(&manifest); err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}
	return manifest, nil
}

func (u *Updater) syncModel(ctx context.Context, name string, entry ManifestEntry) (bool, error) {
	if entry.Filename == "" || strings.Contains(entry.Filename, "..") || filepath.IsAbs(entry.Filename) {
		return false, fmt.Errorf("invalid filename %q", entry.Filename)
	}

	versionFile := filepath.Join(u.dir, name+".version")
	if current, err := os.ReadFile(versionFile); err == nil && strings.TrimSpace(string(current)) == entry.Version {
		u.logger.Info("Model is up to date", "model", name, "version", entry.Version)
		return false, nil
	}

	fileURL, err := u.resolve(entry.Filename)
	if err != nil {
		return false, err
	}

	u.logger.Info("Downloading model", "model", name, "version", entry.Version, "url", fileURL)
	if err := u.download(ctx, fileURL, filepath.Join(u.dir, entry.Filename)); err != nil {
		return false, err
	}
	if err := os.WriteFile(versionFile, []byte(entry.Version), 0o644); err != nil {
		return false, fmt.Errorf("failed to record version: %w", err)
	}

	u.logger.Info("Model updated", "model", name, "version", entry.Version)
	return true, nil
}

func (u *Updater) resolve(filename string) (string, error) {
	base, err := url.Parse(u.manifestURL)
	if err != nil {
		return "", fmt.Errorf("invalid manifest url: %w", err)
	}
	ref, err := url.Parse(filename)
	if err != nil {
		return "", fmt.Errorf("invalid filename %q: %w", filename, err)
	}
	return base.ResolveReference(ref).String(), nil
}

// download writes to a temporary file and renames it into place so a
// partially downloaded model is never loaded.
func (u *Updater) download(ctx context.Context, fileURL, dest string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fileURL, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := u.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to download: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download returned status %d", resp.StatusCode)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dest), filepath.Base(dest)+".*.part")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := io.Copy(tmp, resp.Body); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write model: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write model: %w", err)
	}
	return os.Rename(tmp.Name(), dest)
}
