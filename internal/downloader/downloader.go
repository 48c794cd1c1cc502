package downloader

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/juju/ratelimit"

	"github.com/lmhub/modelpull/internal/archive"
	"github.com/lmhub/modelpull/internal/catalog"
	hubhttp "github.com/lmhub/modelpull/internal/http"
	"github.com/lmhub/modelpull/internal/integrity"
	"github.com/lmhub/modelpull/internal/manifest"
	"github.com/lmhub/modelpull/internal/progress"
	"github.com/lmhub/modelpull/internal/transfer"
)

// manifestFileName is where a fetched manifest is cached inside the model
// directory. It is part of the downloaded tree, not a sidecar journal:
// with it present and every listed file on disk, a re-run completes
// without touching the network.
const manifestFileName = "manifest.json"

// extractionPollInterval is how often the session samples the extraction
// worker's shared progress cell.
const extractionPollInterval = 100 * time.Millisecond

// State is a session's position in the download lifecycle.
type State int

// Session states.
const (
	StatePending State = iota
	StateManifestFetch
	StateResuming
	StateDownloading
	StateAllFilesComplete
	StateExtracting
	StateValidating
	StateComplete
	StateFailed
)

func (s State) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateManifestFetch:
		return "fetching manifest"
	case StateResuming:
		return "resuming"
	case StateDownloading:
		return "downloading"
	case StateAllFilesComplete:
		return "all files complete"
	case StateExtracting:
		return "extracting"
	case StateValidating:
		return "validating"
	case StateComplete:
		return "complete"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Options configures a download session.
type Options struct {
	// HTTP configures the underlying client (token, timeouts,
	// User-Agent).
	HTTP hubhttp.Options

	// RateLimit caps download bandwidth in bytes per second. 0 = off.
	RateLimit int64

	// Progress receives merged progress events for the whole session.
	Progress progress.Func

	// Log receives human-readable status lines. May be nil.
	Log io.Writer
}

// Session is the handle for one model download. It replaces any ambient
// "is this model downloading" global: callers hold the session and ask it.
type Session struct {
	// ID uniquely identifies this download attempt.
	ID string

	asset   catalog.Asset
	dir     string
	client  *hubhttp.Client
	limiter *ratelimit.Bucket
	log     io.Writer
	fn      progress.Func

	mu    sync.Mutex
	state State
}

// NewSession prepares a download of asset into destDir. Multi-file assets
// get their own subdirectory under destDir.
func NewSession(asset catalog.Asset, destDir string, opts Options) *Session {
	dir := destDir
	if asset.MultiFile() {
		dir = filepath.Join(destDir, asset.ID)
	}

	var limiter *ratelimit.Bucket
	if opts.RateLimit > 0 {
		limiter = ratelimit.NewBucketWithRate(float64(opts.RateLimit), opts.RateLimit)
	}

	log := opts.Log
	if log == nil {
		log = io.Discard
	}

	return &Session{
		ID:      uuid.NewString(),
		asset:   asset,
		dir:     dir,
		client:  hubhttp.NewClient(opts.HTTP),
		limiter: limiter,
		log:     log,
		fn:      opts.Progress,
	}
}

// State returns the session's current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Dir returns the directory this session downloads into.
func (s *Session) Dir() string {
	return s.dir
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
	s.logf("%s: %s", s.asset.ID, st)
}

func (s *Session) logf(format string, args ...any) {
	fmt.Fprintf(s.log, "[modelpull] "+format+"\n", args...)
}

// Run executes the download to completion. It is safe to call again on a
// new Session after a failure; completed files are skipped and partial
// files resume from their current length.
func (s *Session) Run(ctx context.Context) error {
	s.setState(StatePending)

	if err := os.MkdirAll(s.dir, 0755); err != nil {
		s.setState(StateFailed)
		return fmt.Errorf("downloader: create model dir: %w", err)
	}

	if err := s.run(ctx); err != nil {
		s.setState(StateFailed)
		return err
	}

	s.setState(StateComplete)
	return nil
}

func (s *Session) run(ctx context.Context) error {
	plan, err := s.plan(ctx)
	if err != nil {
		return err
	}

	tracker := progress.NewTracker(s.asset.SizeBytes, s.fn)

	// A bundle whose listed files are all present and plausible completes
	// without any further network traffic.
	if s.asset.ManifestURL != "" && !s.asset.Archive {
		if total, ok := s.verifyExisting(plan); ok {
			s.logf("%s: all %d files already present (%s)", s.asset.ID, len(plan),
				progress.FormatBytes(total))
			if err := s.normalizeAuxiliaryNames(); err != nil {
				return err
			}
			s.setState(StateAllFilesComplete)
			s.setState(StateValidating)
			tracker.SetTotal(total)
			tracker.Update(total)
			return nil
		}
	}

	var completed int64
	var discoveredTotal int64
	sawUnknownSize := false

	for _, entry := range plan {
		local := s.localPath(entry.Name)
		if err := os.MkdirAll(filepath.Dir(local), 0755); err != nil {
			return fmt.Errorf("downloader: create dir for %s: %w", entry.Name, err)
		}

		expected := s.expectedSize(ctx, entry)
		if expected > 0 {
			discoveredTotal += expected
		} else {
			sawUnknownSize = true
		}
		// Sum of discoverable per-file sizes, falling back to the
		// asset's declared total when a size is not advertised.
		if sawUnknownSize && s.asset.SizeBytes > 0 {
			tracker.SetTotal(s.asset.SizeBytes)
		} else if discoveredTotal > 0 {
			tracker.SetTotal(discoveredTotal)
		}

		existing := fileSize(local)
		format := s.formatFor(entry.Name)

		if expected > 0 && existing == expected {
			if err := integrity.Validate(local, format, expected); err == nil {
				s.logf("%s: %s already complete (%s), skipping", s.asset.ID, entry.Name,
					progress.FormatBytes(existing))
				completed += existing
				tracker.Update(completed)
				continue
			}
			// Right size but structurally wrong: never trust it.
			s.logf("%s: %s failed validation, re-downloading", s.asset.ID, entry.Name)
			if err := os.Remove(local); err != nil {
				return fmt.Errorf("downloader: remove invalid file: %w", err)
			}
			existing = 0
		}

		if existing > 0 {
			s.setState(StateResuming)
			s.logf("%s: resuming %s at %s", s.asset.ID, entry.Name, progress.FormatBytes(existing))
		} else {
			s.setState(StateDownloading)
		}

		written, err := transfer.Run(ctx, s.client, transfer.Request{
			URL:          entry.URL,
			Dest:         local,
			ExpectedSize: expected,
			Limiter:      s.limiter,
			Progress: func(bytesOnDisk int64) {
				tracker.Update(completed + bytesOnDisk)
			},
		})
		if err != nil {
			return fmt.Errorf("downloader: %s: %w", entry.Name, err)
		}

		if err := integrity.Validate(local, format, expected); err != nil {
			// Delete so the next attempt restarts this file from
			// zero instead of resuming garbage.
			os.Remove(local)
			return fmt.Errorf("downloader: %s: %w", entry.Name, err)
		}

		completed += written
		tracker.Update(completed)
	}

	if err := s.normalizeAuxiliaryNames(); err != nil {
		return err
	}

	s.setState(StateAllFilesComplete)

	if s.asset.Archive {
		if err := s.extract(ctx, plan, tracker); err != nil {
			return err
		}
	}

	s.setState(StateValidating)
	for _, entry := range plan {
		if s.asset.Archive && isArchiveName(entry.Name) {
			continue // consumed by extraction
		}
		if fileSize(s.localPath(entry.Name)) == 0 {
			return fmt.Errorf("downloader: %s missing after download", entry.Name)
		}
	}

	tracker.Update(completed)
	return nil
}

// plan resolves the asset into the ordered list of files to download.
// Manifest-described assets read a previously cached manifest first so a
// fully downloaded bundle re-verifies without any network traffic.
func (s *Session) plan(ctx context.Context) ([]manifest.Entry, error) {
	if s.asset.ManifestURL == "" {
		name, err := s.asset.FileName()
		if err != nil {
			return nil, err
		}
		plan := []manifest.Entry{{URL: s.asset.URL, Name: name}}
		for _, extra := range s.asset.ExtraURLs {
			a := catalog.Asset{ID: s.asset.ID, URL: extra}
			extraName, err := a.FileName()
			if err != nil {
				return nil, err
			}
			plan = append(plan, manifest.Entry{URL: extra, Name: extraName})
		}
		return plan, nil
	}

	cached := filepath.Join(s.dir, manifestFileName)
	if data, err := os.ReadFile(cached); err == nil {
		if m, err := manifest.Parse(data); err == nil {
			return m.Expand(s.asset.ManifestURL)
		}
		// Corrupt cache; refetch below.
		os.Remove(cached)
	}

	s.setState(StateManifestFetch)
	m, err := manifest.Fetch(ctx, s.client, s.asset.ManifestURL)
	if err != nil {
		return nil, err
	}

	if data, err := manifest.Marshal(m); err == nil {
		if werr := os.WriteFile(cached, data, 0644); werr != nil {
			s.logf("%s: could not cache manifest: %v", s.asset.ID, werr)
		}
	}

	return m.Expand(s.asset.ManifestURL)
}

// verifyExisting reports whether every planned file is already on disk and
// structurally plausible, returning the byte total. Expected sizes are
// unknown here on purpose; asking the server would defeat the zero-network
// re-run.
func (s *Session) verifyExisting(plan []manifest.Entry) (int64, bool) {
	var total int64
	for _, entry := range plan {
		local := s.localPath(entry.Name)
		size := fileSize(local)
		if size == 0 {
			return 0, false
		}
		if err := integrity.Validate(local, s.formatFor(entry.Name), 0); err != nil {
			return 0, false
		}
		total += size
	}
	return total, true
}

// expectedSize determines a file's expected byte count. The asset's
// declared size covers the single-file case without touching the network,
// which keeps re-invocation on a complete file at zero requests; otherwise
// a HEAD request asks the server. A failed HEAD is not fatal; the size
// stays unknown.
func (s *Session) expectedSize(ctx context.Context, entry manifest.Entry) int64 {
	if !s.asset.MultiFile() && entry.URL == s.asset.URL && s.asset.SizeBytes > 0 {
		return s.asset.SizeBytes
	}

	info, err := s.client.Head(ctx, entry.URL)
	if err != nil || info.Size <= 0 {
		return 0
	}
	return info.Size
}

func (s *Session) formatFor(name string) string {
	return integrity.FormatForName(name, s.asset.Format)
}

// CanonicalName maps an entry's slash-separated name to its on-disk
// name, applying the auxiliary filename normalization up front. Without
// it a re-run would miss files a previous run renamed and fetch them
// again.
func CanonicalName(name string) string {
	dir, base := path.Split(name)
	if canonical, ok := auxiliaryNames[strings.ToLower(base)]; ok {
		return dir + canonical
	}
	return name
}

// localPath resolves an entry's on-disk location inside the session dir.
func (s *Session) localPath(name string) string {
	return filepath.Join(s.dir, filepath.FromSlash(CanonicalName(name)))
}

// auxiliaryNames maps known-bad upstream casings to the names downstream
// consumers expect.
var auxiliaryNames = map[string]string{
	"tokenizer.json":          "tokenizer.json",
	"tokenizer_config.json":   "tokenizer_config.json",
	"config.json":             "config.json",
	"special_tokens_map.json": "special_tokens_map.json",
}

// normalizeAuxiliaryNames renames auxiliary files whose upstream casing
// differs from the canonical lowercase form. One explicit, logged,
// idempotent pass; running it twice is a no-op.
func (s *Session) normalizeAuxiliaryNames() error {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return fmt.Errorf("downloader: read model dir: %w", err)
	}

	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		canonical, ok := auxiliaryNames[strings.ToLower(e.Name())]
		if !ok || e.Name() == canonical {
			continue
		}
		from := filepath.Join(s.dir, e.Name())
		to := filepath.Join(s.dir, canonical)
		if fromInfo, err := e.Info(); err == nil {
			if toInfo, err := os.Stat(to); err == nil && !os.SameFile(fromInfo, toInfo) {
				// Downloads land on the canonical name directly; a
				// leftover with the old casing is stale and must not
				// clobber the canonical file.
				if err := os.Remove(from); err != nil {
					return fmt.Errorf("downloader: normalize %s: %w", e.Name(), err)
				}
				s.logf("%s: removed stale %s", s.asset.ID, e.Name())
				continue
			}
		}
		if err := os.Rename(from, to); err != nil {
			return fmt.Errorf("downloader: normalize %s: %w", e.Name(), err)
		}
		s.logf("%s: normalized %s -> %s", s.asset.ID, e.Name(), canonical)
	}

	return nil
}

// extract unpacks the downloaded archive on its own goroutine while this
// goroutine polls the shared progress fraction.
func (s *Session) extract(ctx context.Context, plan []manifest.Entry, tracker *progress.Tracker) error {
	src := ""
	for _, entry := range plan {
		if isArchiveName(entry.Name) {
			src = filepath.Join(s.dir, filepath.FromSlash(entry.Name))
			break
		}
	}
	if src == "" {
		return fmt.Errorf("downloader: asset %s marked as archive but no archive file downloaded", s.asset.ID)
	}

	s.setState(StateExtracting)
	tracker.SetExtracting(true)
	defer tracker.SetExtracting(false)

	ex := archive.NewExtractor()
	ex.Log = s.log

	done := make(chan error, 1)
	go func() {
		done <- ex.Extract(ctx, src, s.dir)
	}()

	ticker := time.NewTicker(extractionPollInterval)
	defer ticker.Stop()

	lastLogged := -1
	for {
		select {
		case err := <-done:
			if err != nil {
				return fmt.Errorf("downloader: extract %s: %w", filepath.Base(src), err)
			}
			return nil
		case <-ticker.C:
			frac := ex.Fraction()
			// Re-emit so consumers see a live extraction phase.
			tracker.SetExtracting(true)
			if pct := int(frac * 10); pct != lastLogged {
				lastLogged = pct
				s.logf("%s: extracting %.0f%%", s.asset.ID, frac*100)
			}
		}
	}
}

func isArchiveName(name string) bool {
	lower := strings.ToLower(name)
	return strings.HasSuffix(lower, ".zip") ||
		strings.HasSuffix(lower, ".tar.gz") ||
		strings.HasSuffix(lower, ".tgz")
}

func fileSize(path string) int64 {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return 0
	}
	return info.Size()
}
