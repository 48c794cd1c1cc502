// Package catalog supplies the model asset descriptors the downloader
// consumes.
//
// A built-in catalog covers the LiteRT community Gemma-3 builds; a YAML
// catalog file can add or override entries.
package catalog

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path"

	"gopkg.in/yaml.v3"
)

// ErrNotFound is returned when an asset ID is not in the catalog.
var ErrNotFound = errors.New("catalog: model not found")

// Asset is an immutable descriptor of one downloadable model.
type Asset struct {
	// ID is the short identifier used on the command line.
	ID string `yaml:"id"`

	// Name is the human-readable model name.
	Name string `yaml:"name"`

	// Description is a one-line summary shown in listings.
	Description string `yaml:"description"`

	// URL is the primary download URL. Empty when the asset is
	// manifest-described.
	URL string `yaml:"url"`

	// ExtraURLs lists additional file URLs downloaded alongside the
	// primary one (tokenizers, configs).
	ExtraURLs []string `yaml:"extra_urls"`

	// ManifestURL points at a remote JSON file-list manifest for
	// multi-file bundles.
	ManifestURL string `yaml:"manifest_url"`

	// SizeBytes is the declared total size; 0 means unknown.
	SizeBytes int64 `yaml:"size_bytes"`

	// Format tags the primary file: gguf, task, safetensors, bin,
	// zip, tar.gz.
	Format string `yaml:"format"`

	// Archive marks assets whose downloaded payload must be extracted
	// before use.
	Archive bool `yaml:"archive"`
}

// MultiFile reports whether the asset consists of more than one file.
func (a Asset) MultiFile() bool {
	return a.ManifestURL != "" || len(a.ExtraURLs) > 0
}

// FileName returns the local file name for the asset's primary URL.
func (a Asset) FileName() (string, error) {
	u, err := url.Parse(a.URL)
	if err != nil {
		return "", fmt.Errorf("catalog: bad URL for %s: %w", a.ID, err)
	}
	name := path.Base(u.Path)
	if name == "." || name == "/" || name == "" {
		return "", fmt.Errorf("catalog: cannot derive file name from %s", a.URL)
	}
	return name, nil
}

// BuiltIn returns the compiled-in model catalog.
func BuiltIn() []Asset {
	return []Asset{
		{
			ID:          "gemma-3-1b-int4",
			Name:        "Gemma-3 1B (INT4)",
			Description: "Smallest Gemma-3 build, INT4 quantized for mobile",
			URL:         "https://huggingface.co/litert-community/Gemma3-1B-IT/resolve/main/gemma3-1b-it-int4.task",
			SizeBytes:   554661790,
			Format:      "task",
		},
		{
			ID:          "gemma-3-1b-int8",
			Name:        "Gemma-3 1B (INT8)",
			Description: "Gemma-3 1B with INT8 quantization, higher quality than INT4",
			URL:         "https://huggingface.co/litert-community/Gemma3-1B-IT/resolve/main/Gemma3-1B-IT_multi-prefill-seq_q8_ekv1280.task",
			SizeBytes:   1053982860,
			Format:      "task",
		},
		{
			ID:          "gemma-3-1b-web",
			Name:        "Gemma-3 1B (Web)",
			Description: "Gemma-3 1B optimized for web deployment",
			URL:         "https://huggingface.co/litert-community/Gemma3-1B-IT/resolve/main/gemma3-1b-it-int4-web.task",
			SizeBytes:   734003200,
			Format:      "task",
		},
		{
			ID:          "gemma-3n-e2b",
			Name:        "Gemma-3n E2B (Multimodal)",
			Description: "Effective 2B parameters, supports text and images",
			URL:         "https://huggingface.co/google/gemma-3n-E2B-it-litert-preview/resolve/main/model.task",
			SizeBytes:   3113851290,
			Format:      "task",
		},
	}
}

// yamlCatalog is the catalog file shape.
type yamlCatalog struct {
	Models []Asset `yaml:"models"`
}

// LoadFile parses a YAML catalog file.
func LoadFile(path string) ([]Asset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog file: %w", err)
	}

	var yc yamlCatalog
	if err := yaml.Unmarshal(data, &yc); err != nil {
		return nil, fmt.Errorf("parse catalog file: %w", err)
	}

	for _, a := range yc.Models {
		if a.ID == "" {
			return nil, errors.New("catalog: entry without id")
		}
		if a.URL == "" && a.ManifestURL == "" {
			return nil, fmt.Errorf("catalog: entry %s has neither url nor manifest_url", a.ID)
		}
	}

	return yc.Models, nil
}

// Merge overlays extra entries onto base. An extra entry with an existing
// ID replaces the base entry; new IDs are appended in order.
func Merge(base, extra []Asset) []Asset {
	out := make([]Asset, len(base))
	copy(out, base)

	index := make(map[string]int, len(out))
	for i, a := range out {
		index[a.ID] = i
	}

	for _, a := range extra {
		if i, ok := index[a.ID]; ok {
			out[i] = a
			continue
		}
		index[a.ID] = len(out)
		out = append(out, a)
	}

	return out
}

// Lookup finds an asset by ID.
func Lookup(assets []Asset, id string) (Asset, error) {
	for _, a := range assets {
		if a.ID == id {
			return a, nil
		}
	}
	return Asset{}, fmt.Errorf("%w: %s", ErrNotFound, id)
}
