// Package manifest expands a remote file-list manifest into a download
// plan.
//
// Multi-file model bundles are described by a small JSON index:
//
//	{"files": ["model.bin", "tokenizer.json"], "base_url": "https://cdn.example.com/gemma/"}
//
// base_url is optional; when absent, file URLs are resolved relative to
// the manifest's own URL. Manifests live on the same hosts as the models,
// so they are fetched through the same redirect-aware, authenticated
// client.
package manifest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"path"
	"strings"

	hubhttp "github.com/lmhub/modelpull/internal/http"
)

// ErrManifest is wrapped by every manifest parse/shape error.
var ErrManifest = errors.New("manifest: invalid manifest")

// maxManifestSize bounds how much of a manifest response is read. Real
// manifests are a few hundred bytes.
const maxManifestSize = 1 << 20

// Manifest is the remote file-list index for a multi-file bundle.
type Manifest struct {
	Files   []string `json:"files"`
	BaseURL string   `json:"base_url"`
}

// Entry is one planned file download.
type Entry struct {
	// URL is the fully resolved source URL.
	URL string

	// Name is the file name relative to the model directory.
	Name string
}

// Fetch retrieves and parses the manifest at manifestURL.
func Fetch(ctx context.Context, client *hubhttp.Client, manifestURL string) (*Manifest, error) {
	resp, err := client.Get(ctx, manifestURL, 0)
	if err != nil {
		return nil, fmt.Errorf("fetch manifest: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxManifestSize))
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}

	return Parse(data)
}

// Marshal encodes a manifest for caching inside the model directory.
func Marshal(m *Manifest) ([]byte, error) {
	return json.Marshal(m)
}

// Parse decodes and validates manifest bytes.
func Parse(data []byte) (*Manifest, error) {
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrManifest, err)
	}

	if len(m.Files) == 0 {
		return nil, fmt.Errorf("%w: empty file list", ErrManifest)
	}
	for _, name := range m.Files {
		if name == "" {
			return nil, fmt.Errorf("%w: empty file name", ErrManifest)
		}
		if path.IsAbs(name) || strings.Contains(name, "..") {
			return nil, fmt.Errorf("%w: unsafe file name %q", ErrManifest, name)
		}
	}

	return &m, nil
}

// Expand resolves the manifest's relative file names into concrete
// download entries. manifestURL is used as the base when the manifest
// carries no base_url of its own.
func (m *Manifest) Expand(manifestURL string) ([]Entry, error) {
	base := m.BaseURL
	if base == "" {
		u, err := url.Parse(manifestURL)
		if err != nil {
			return nil, fmt.Errorf("%w: bad manifest URL %q: %v", ErrManifest, manifestURL, err)
		}
		u.Path = path.Dir(u.Path)
		base = u.String()
	}
	base = strings.TrimSuffix(base, "/")

	entries := make([]Entry, 0, len(m.Files))
	for _, name := range m.Files {
		entries = append(entries, Entry{
			URL:  base + "/" + name,
			Name: name,
		})
	}

	return entries, nil
}
