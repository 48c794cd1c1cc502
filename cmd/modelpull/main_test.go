package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/lmhub/modelpull/internal/catalog"
)

func TestRunUnknownCommand(t *testing.T) {
	if code := run([]string{"frobnicate"}); code != ExitInvalidArgs {
		t.Errorf("exit code = %d, want %d", code, ExitInvalidArgs)
	}
	if code := run(nil); code != ExitInvalidArgs {
		t.Errorf("exit code for no args = %d, want %d", code, ExitInvalidArgs)
	}
	if code := run([]string{"help"}); code != ExitSuccess {
		t.Errorf("exit code for help = %d, want %d", code, ExitSuccess)
	}
}

func TestLocalState(t *testing.T) {
	dir := t.TempDir()

	single := catalog.Asset{
		ID:        "single",
		URL:       "https://example.com/model.task",
		SizeBytes: 100,
	}
	if got := localState(dir, single); got != "" {
		t.Errorf("absent file: state = %q", got)
	}

	if err := os.WriteFile(filepath.Join(dir, "model.task"), make([]byte, 40), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if got := localState(dir, single); got != "partial" {
		t.Errorf("partial file: state = %q", got)
	}

	if err := os.WriteFile(filepath.Join(dir, "model.task"), make([]byte, 100), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if got := localState(dir, single); got != "complete" {
		t.Errorf("complete file: state = %q", got)
	}

	bundle := catalog.Asset{ID: "bundle", ManifestURL: "https://example.com/m.json"}
	if got := localState(dir, bundle); got != "" {
		t.Errorf("absent bundle: state = %q", got)
	}

	// A directory alone is an interrupted pull, not a downloaded model.
	bundleDir := filepath.Join(dir, "bundle")
	if err := os.MkdirAll(bundleDir, 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if got := localState(dir, bundle); got != "partial" {
		t.Errorf("empty bundle dir: state = %q", got)
	}

	m := []byte(`{"files": ["a.bin", "b.bin"]}`)
	if err := os.WriteFile(filepath.Join(bundleDir, "manifest.json"), m, 0644); err != nil {
		t.Fatalf("write manifest: %v", err)
	}
	if err := os.WriteFile(filepath.Join(bundleDir, "a.bin"), make([]byte, 10), 0644); err != nil {
		t.Fatalf("write a.bin: %v", err)
	}
	if got := localState(dir, bundle); got != "partial" {
		t.Errorf("half-downloaded bundle: state = %q", got)
	}

	if err := os.WriteFile(filepath.Join(bundleDir, "b.bin"), make([]byte, 10), 0644); err != nil {
		t.Fatalf("write b.bin: %v", err)
	}
	if got := localState(dir, bundle); got != "complete" {
		t.Errorf("complete bundle: state = %q", got)
	}
}

func TestLocalFiles(t *testing.T) {
	dir := t.TempDir()

	single := catalog.Asset{
		ID:        "single",
		URL:       "https://example.com/model.gguf",
		SizeBytes: 1234,
	}
	files, modelDir, err := localFiles(dir, single)
	if err != nil {
		t.Fatalf("localFiles: %v", err)
	}
	if modelDir != dir {
		t.Errorf("modelDir = %s, want %s", modelDir, dir)
	}
	if len(files) != 1 || files[0].name != "model.gguf" || files[0].expectedSize != 1234 {
		t.Errorf("files = %+v", files)
	}

	// Bundle without a cached manifest cannot be validated offline.
	bundle := catalog.Asset{ID: "bundle", ManifestURL: "https://example.com/m.json"}
	if _, _, err := localFiles(dir, bundle); err == nil {
		t.Error("expected error without cached manifest")
	}

	bundleDir := filepath.Join(dir, "bundle")
	if err := os.MkdirAll(bundleDir, 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	m := []byte(`{"files": ["a.bin", "b.bin"]}`)
	if err := os.WriteFile(filepath.Join(bundleDir, "manifest.json"), m, 0644); err != nil {
		t.Fatalf("write manifest: %v", err)
	}
	files, modelDir, err = localFiles(dir, bundle)
	if err != nil {
		t.Fatalf("localFiles with manifest: %v", err)
	}
	if modelDir != bundleDir {
		t.Errorf("modelDir = %s, want %s", modelDir, bundleDir)
	}
	if len(files) != 2 {
		t.Errorf("files = %+v", files)
	}
}

func TestLocalFilesNormalizedNames(t *testing.T) {
	dir := t.TempDir()

	// A pull of this asset stores the auxiliary file under its canonical
	// lowercase name; validate must look there, not at the URL's casing.
	asset := catalog.Asset{
		ID:        "aux",
		URL:       "https://example.com/model.bin",
		ExtraURLs: []string{"https://example.com/Tokenizer.json"},
	}
	modelDir := filepath.Join(dir, "aux")
	if err := os.MkdirAll(modelDir, 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	for _, name := range []string{"model.bin", "tokenizer.json"} {
		if err := os.WriteFile(filepath.Join(modelDir, name), []byte("x"), 0644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}

	files, gotDir, err := localFiles(dir, asset)
	if err != nil {
		t.Fatalf("localFiles: %v", err)
	}
	if len(files) != 2 || files[1].name != "tokenizer.json" {
		t.Errorf("files = %+v, want canonical tokenizer.json", files)
	}
	for _, f := range files {
		if _, err := os.Stat(filepath.Join(gotDir, f.name)); err != nil {
			t.Errorf("expected file %s not found on disk: %v", f.name, err)
		}
	}
}

func TestAssetDir(t *testing.T) {
	single := catalog.Asset{ID: "s", URL: "https://example.com/model.task"}
	got, err := assetDir("/models", single)
	if err != nil {
		t.Fatalf("assetDir: %v", err)
	}
	if got != filepath.Join("/models", "model.task") {
		t.Errorf("single asset dir = %s", got)
	}

	bundle := catalog.Asset{ID: "b", ManifestURL: "https://example.com/m.json"}
	got, err = assetDir("/models", bundle)
	if err != nil {
		t.Fatalf("assetDir: %v", err)
	}
	if got != filepath.Join("/models", "b") {
		t.Errorf("bundle asset dir = %s", got)
	}
}
