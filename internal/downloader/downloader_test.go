package downloader

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/lmhub/modelpull/internal/catalog"
	"github.com/lmhub/modelpull/internal/progress"
	"github.com/lmhub/modelpull/internal/testutils"
)

// collectEvents returns a progress func that appends every event to the
// returned slice. Sessions deliver events from the Run goroutine, so no
// locking is needed when Run is called synchronously.
func collectEvents() (progress.Func, *[]progress.Event) {
	events := &[]progress.Event{}
	return func(e progress.Event) {
		*events = append(*events, e)
	}, events
}

func TestRunSingleFile(t *testing.T) {
	data := testutils.GenerateTestData(t, 256*1024)
	server := testutils.StartRangeServer(t, map[string][]byte{"/model.bin": data})
	defer server.Close()

	fn, events := collectEvents()
	asset := catalog.Asset{
		ID:        "test-model",
		URL:       server.URL + "/model.bin",
		SizeBytes: int64(len(data)),
	}

	dir := t.TempDir()
	s := NewSession(asset, dir, Options{Progress: fn})
	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if s.State() != StateComplete {
		t.Errorf("state = %s, want complete", s.State())
	}

	got, err := os.ReadFile(filepath.Join(dir, "model.bin"))
	if err != nil {
		t.Fatalf("read result: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Error("downloaded content does not match")
	}

	if len(*events) == 0 {
		t.Fatal("no progress events delivered")
	}
	last := (*events)[len(*events)-1]
	if last.BytesDownloaded != int64(len(data)) {
		t.Errorf("final BytesDownloaded = %d, want %d", last.BytesDownloaded, len(data))
	}
	if last.TotalBytes != int64(len(data)) {
		t.Errorf("final TotalBytes = %d, want %d", last.TotalBytes, len(data))
	}
}

func TestRunIdempotent(t *testing.T) {
	data := testutils.GenerateTestData(t, 128*1024)
	server, gets := testutils.StartCountingRangeServer(t, map[string][]byte{"/model.bin": data})
	defer server.Close()

	asset := catalog.Asset{
		ID:        "test-model",
		URL:       server.URL + "/model.bin",
		SizeBytes: int64(len(data)),
	}

	dir := t.TempDir()
	if err := NewSession(asset, dir, Options{}).Run(context.Background()); err != nil {
		t.Fatalf("first run: %v", err)
	}
	if gets.Load() != 1 {
		t.Fatalf("first run made %d GETs, want 1", gets.Load())
	}

	// Second invocation over a complete file must not touch the network.
	if err := NewSession(asset, dir, Options{}).Run(context.Background()); err != nil {
		t.Fatalf("second run: %v", err)
	}
	if gets.Load() != 1 {
		t.Errorf("second run made %d extra GETs, want 0", gets.Load()-1)
	}
}

func TestRunResumesPartial(t *testing.T) {
	data := testutils.GenerateTestData(t, 200*1024)
	server := testutils.StartRangeServer(t, map[string][]byte{"/model.bin": data})
	defer server.Close()

	dir := t.TempDir()
	partial := data[:80*1024]
	if err := os.WriteFile(filepath.Join(dir, "model.bin"), partial, 0644); err != nil {
		t.Fatalf("seed partial file: %v", err)
	}

	asset := catalog.Asset{
		ID:        "test-model",
		URL:       server.URL + "/model.bin",
		SizeBytes: int64(len(data)),
	}
	if err := NewSession(asset, dir, Options{}).Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	got, err := os.ReadFile(filepath.Join(dir, "model.bin"))
	if err != nil {
		t.Fatalf("read result: %v", err)
	}
	if !bytes.Equal(got, data) {
		t.Error("resumed content does not match original")
	}
}

// startRecordingServer serves files with range support and records how many
// requests each method and path received, keyed "GET /path".
func startRecordingServer(t *testing.T, files map[string][]byte) (*httptest.Server, func(methodAndPath string) int) {
	t.Helper()
	var mu sync.Mutex
	counts := make(map[string]int)
	inner := testutils.RangeHandler(files, nil)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		counts[r.Method+" "+r.URL.Path]++
		mu.Unlock()
		inner.ServeHTTP(w, r)
	}))
	return server, func(methodAndPath string) int {
		mu.Lock()
		defer mu.Unlock()
		return counts[methodAndPath]
	}
}

func TestRunManifestBundle(t *testing.T) {
	a := testutils.GenerateTestData(t, 100*1024)
	b := testutils.GenerateTestData(t, 150*1024)
	m, _ := json.Marshal(map[string]any{"files": []string{"a.bin", "b.bin"}})

	server := testutils.StartRangeServer(t, map[string][]byte{
		"/bundle/manifest.json": m,
		"/bundle/a.bin":         a,
		"/bundle/b.bin":         b,
	})
	defer server.Close()

	fn, events := collectEvents()
	asset := catalog.Asset{
		ID:          "bundle-model",
		ManifestURL: server.URL + "/bundle/manifest.json",
	}

	destDir := t.TempDir()
	s := NewSession(asset, destDir, Options{Progress: fn})
	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	dir := filepath.Join(destDir, "bundle-model")
	if s.Dir() != dir {
		t.Errorf("Dir() = %s, want %s", s.Dir(), dir)
	}
	for name, want := range map[string][]byte{"a.bin": a, "b.bin": b} {
		got, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			t.Fatalf("read %s: %v", name, err)
		}
		if !bytes.Equal(got, want) {
			t.Errorf("%s content does not match", name)
		}
	}

	// The manifest is cached inside the model directory.
	if _, err := os.Stat(filepath.Join(dir, manifestFileName)); err != nil {
		t.Errorf("manifest not cached: %v", err)
	}

	// Merged progress is monotonic and ends at the byte sum of all files.
	total := int64(len(a) + len(b))
	var prev int64
	for _, e := range *events {
		if e.BytesDownloaded < prev {
			t.Fatalf("progress went backwards: %d after %d", e.BytesDownloaded, prev)
		}
		prev = e.BytesDownloaded
	}
	if prev != total {
		t.Errorf("final progress = %d, want %d", prev, total)
	}
	last := (*events)[len(*events)-1]
	if last.TotalBytes != total {
		t.Errorf("final TotalBytes = %d, want %d", last.TotalBytes, total)
	}
}

func TestRunManifestPartialBundle(t *testing.T) {
	a := testutils.GenerateTestData(t, 64 * 1024)
	b := testutils.GenerateTestData(t, 96 * 1024)
	m, _ := json.Marshal(map[string]any{"files": []string{"a.bin", "b.bin"}})

	server, getCount := startRecordingServer(t, map[string][]byte{
		"/bundle/manifest.json": m,
		"/bundle/a.bin":         a,
		"/bundle/b.bin":         b,
	})
	defer server.Close()

	asset := catalog.Asset{
		ID:          "bundle-model",
		ManifestURL: server.URL + "/bundle/manifest.json",
	}

	destDir := t.TempDir()
	dir := filepath.Join(destDir, "bundle-model")
	if err := os.MkdirAll(dir, 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "a.bin"), a, 0644); err != nil {
		t.Fatalf("seed a.bin: %v", err)
	}

	if err := NewSession(asset, destDir, Options{}).Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if n := getCount("GET /bundle/a.bin"); n != 0 {
		t.Errorf("a.bin fetched %d times, want 0 (already complete)", n)
	}
	if n := getCount("GET /bundle/b.bin"); n != 1 {
		t.Errorf("b.bin fetched %d times, want 1", n)
	}

	got, err := os.ReadFile(filepath.Join(dir, "b.bin"))
	if err != nil {
		t.Fatalf("read b.bin: %v", err)
	}
	if !bytes.Equal(got, b) {
		t.Error("b.bin content does not match")
	}
}

func TestRunCachedManifestAvoidsRefetch(t *testing.T) {
	a := testutils.GenerateTestData(t, 64 * 1024)
	m, _ := json.Marshal(map[string]any{"files": []string{"a.bin"}})

	server, getCount := startRecordingServer(t, map[string][]byte{
		"/bundle/manifest.json": m,
		"/bundle/a.bin":         a,
	})
	defer server.Close()

	asset := catalog.Asset{
		ID:          "bundle-model",
		ManifestURL: server.URL + "/bundle/manifest.json",
	}

	destDir := t.TempDir()
	if err := NewSession(asset, destDir, Options{}).Run(context.Background()); err != nil {
		t.Fatalf("first run: %v", err)
	}
	if err := NewSession(asset, destDir, Options{}).Run(context.Background()); err != nil {
		t.Fatalf("second run: %v", err)
	}

	// The second run must be fully offline: the manifest comes from the
	// cache and the present file is trusted without a HEAD probe.
	if n := getCount("GET /bundle/manifest.json"); n != 1 {
		t.Errorf("manifest fetched %d times, want 1", n)
	}
	if n := getCount("GET /bundle/a.bin"); n != 1 {
		t.Errorf("a.bin fetched %d times, want 1", n)
	}
	if n := getCount("HEAD /bundle/a.bin"); n != 1 {
		t.Errorf("a.bin probed %d times, want 1 (first run only)", n)
	}
}

func TestRunFailureKeepsCompletedFiles(t *testing.T) {
	a := testutils.GenerateTestData(t, 64 * 1024)
	m, _ := json.Marshal(map[string]any{"files": []string{"a.bin", "missing.bin"}})

	server := testutils.StartRangeServer(t, map[string][]byte{
		"/bundle/manifest.json": m,
		"/bundle/a.bin":         a,
	})
	defer server.Close()

	asset := catalog.Asset{
		ID:          "bundle-model",
		ManifestURL: server.URL + "/bundle/manifest.json",
	}

	destDir := t.TempDir()
	s := NewSession(asset, destDir, Options{})
	if err := s.Run(context.Background()); err == nil {
		t.Fatal("expected error for missing file")
	}
	if s.State() != StateFailed {
		t.Errorf("state = %s, want failed", s.State())
	}

	// The file that did complete stays on disk for the next attempt.
	got, err := os.ReadFile(filepath.Join(destDir, "bundle-model", "a.bin"))
	if err != nil {
		t.Fatalf("a.bin should survive the failure: %v", err)
	}
	if !bytes.Equal(got, a) {
		t.Error("a.bin content does not match")
	}
}

func TestRunValidationFailureDeletesFile(t *testing.T) {
	// Declared GGUF, but the payload has no GGUF magic.
	junk := testutils.GenerateTestData(t, 128*1024)
	server := testutils.StartRangeServer(t, map[string][]byte{"/model.gguf": junk})
	defer server.Close()

	asset := catalog.Asset{
		ID:        "bad-model",
		URL:       server.URL + "/model.gguf",
		SizeBytes: int64(len(junk)),
		Format:    "gguf",
	}

	dir := t.TempDir()
	s := NewSession(asset, dir, Options{})
	if err := s.Run(context.Background()); err == nil {
		t.Fatal("expected validation error")
	}
	if s.State() != StateFailed {
		t.Errorf("state = %s, want failed", s.State())
	}
	if _, err := os.Stat(filepath.Join(dir, "model.gguf")); !os.IsNotExist(err) {
		t.Error("invalid file should be deleted so the next attempt starts fresh")
	}
}

func buildZip(t *testing.T, files map[string][]byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, data := range files {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatalf("zip create %s: %v", name, err)
		}
		if _, err := w.Write(data); err != nil {
			t.Fatalf("zip write %s: %v", name, err)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("zip close: %v", err)
	}
	return buf.Bytes()
}

func TestRunExtractsArchive(t *testing.T) {
	inner := testutils.GenerateTestData(t, 100*1024)
	zipData := buildZip(t, map[string][]byte{"weights/model.bin": inner})

	server := testutils.StartRangeServer(t, map[string][]byte{"/model.zip": zipData})
	defer server.Close()

	asset := catalog.Asset{
		ID:      "packed-model",
		URL:     server.URL + "/model.zip",
		Archive: true,
	}

	dir := t.TempDir()
	s := NewSession(asset, dir, Options{})
	if err := s.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if s.State() != StateComplete {
		t.Errorf("state = %s, want complete", s.State())
	}

	got, err := os.ReadFile(filepath.Join(dir, "weights", "model.bin"))
	if err != nil {
		t.Fatalf("extracted file: %v", err)
	}
	if !bytes.Equal(got, inner) {
		t.Error("extracted content does not match")
	}

	// The archive itself is consumed by extraction.
	if _, err := os.Stat(filepath.Join(dir, "model.zip")); !os.IsNotExist(err) {
		t.Error("archive should be removed after extraction")
	}
}

func TestRunNormalizesAuxiliaryNames(t *testing.T) {
	model := testutils.GenerateTestData(t, 128*1024)
	tok := []byte(`{"version": "1.0"}`)

	server := testutils.StartRangeServer(t, map[string][]byte{
		"/model.bin":      model,
		"/Tokenizer.json": tok,
	})
	defer server.Close()

	asset := catalog.Asset{
		ID:        "aux-model",
		URL:       server.URL + "/model.bin",
		ExtraURLs: []string{server.URL + "/Tokenizer.json"},
	}

	destDir := t.TempDir()
	if err := NewSession(asset, destDir, Options{}).Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	dir := filepath.Join(destDir, "aux-model")
	got, err := os.ReadFile(filepath.Join(dir, "tokenizer.json"))
	if err != nil {
		t.Fatalf("normalized tokenizer.json missing: %v", err)
	}
	if !bytes.Equal(got, tok) {
		t.Error("tokenizer content does not match")
	}
	if _, err := os.Stat(filepath.Join(dir, "Tokenizer.json")); !os.IsNotExist(err) {
		t.Error("original casing should be gone after normalization")
	}
}

func TestRunIdempotentWithAuxiliaryFiles(t *testing.T) {
	model := testutils.GenerateTestData(t, 128*1024)
	tok := []byte(`{"version": "1.0"}`)

	server, getCount := startRecordingServer(t, map[string][]byte{
		"/model.bin":      model,
		"/Tokenizer.json": tok,
	})
	defer server.Close()

	asset := catalog.Asset{
		ID:        "aux-model",
		URL:       server.URL + "/model.bin",
		ExtraURLs: []string{server.URL + "/Tokenizer.json"},
	}

	destDir := t.TempDir()
	if err := NewSession(asset, destDir, Options{}).Run(context.Background()); err != nil {
		t.Fatalf("first run: %v", err)
	}

	// The auxiliary file now lives under its canonical name; a second run
	// must still recognize it as complete and not fetch it again.
	if err := NewSession(asset, destDir, Options{}).Run(context.Background()); err != nil {
		t.Fatalf("second run: %v", err)
	}

	if n := getCount("GET /model.bin"); n != 1 {
		t.Errorf("model.bin fetched %d times across two runs, want 1", n)
	}
	if n := getCount("GET /Tokenizer.json"); n != 1 {
		t.Errorf("Tokenizer.json fetched %d times across two runs, want 1", n)
	}
}

func TestNormalizeRemovesStaleCasing(t *testing.T) {
	dir := t.TempDir()
	good := []byte(`{"version": "2.0"}`)
	if err := os.WriteFile(filepath.Join(dir, "tokenizer.json"), good, 0644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "Tokenizer.json"), []byte("stale"), 0644); err != nil {
		t.Fatalf("write: %v", err)
	}

	s := NewSession(catalog.Asset{ID: "m", URL: "https://example.com/model.bin"}, dir, Options{})
	if err := s.normalizeAuxiliaryNames(); err != nil {
		t.Fatalf("normalize: %v", err)
	}

	got, err := os.ReadFile(filepath.Join(dir, "tokenizer.json"))
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !bytes.Equal(got, good) {
		t.Error("canonical file overwritten by stale copy")
	}
	if _, err := os.Stat(filepath.Join(dir, "Tokenizer.json")); !os.IsNotExist(err) {
		t.Error("stale casing should be removed")
	}
}

func TestCanonicalName(t *testing.T) {
	tests := []struct{ in, want string }{
		{"Tokenizer.json", "tokenizer.json"},
		{"tokenizer.json", "tokenizer.json"},
		{"sub/CONFIG.json", "sub/config.json"},
		{"model.bin", "model.bin"},
	}
	for _, tt := range tests {
		if got := CanonicalName(tt.in); got != tt.want {
			t.Errorf("CanonicalName(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestStateString(t *testing.T) {
	if StateComplete.String() != "complete" {
		t.Errorf("StateComplete = %s", StateComplete)
	}
	if State(99).String() != "unknown" {
		t.Errorf("unknown state = %s", State(99))
	}
}
