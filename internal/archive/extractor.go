// Package archive extracts downloaded model archives with live progress.
//
// Extraction is one indivisible unit of work: it runs on its own
// goroutine, and the only state it shares with the outside is a single
// atomically updated completion fraction that callers poll on a short
// interval. Any entry failure aborts the whole extraction and removes
// whatever was written; no partial archive output is considered valid.
package archive

import (
	"archive/tar"
	"archive/zip"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
)

// Errors.
var (
	ErrUnsupportedFormat = errors.New("archive: unsupported archive format")
	ErrUnsafePath        = errors.New("archive: entry path escapes destination")
)

// Extractor unpacks one archive and publishes fractional progress.
//
// The zero value is not usable; create with NewExtractor. An Extractor is
// single-use.
type Extractor struct {
	// frac holds math.Float64bits of the completion fraction in [0,1].
	frac atomic.Uint64

	// Log receives non-fatal notices (e.g. a failed cleanup of the
	// source archive). May be nil.
	Log io.Writer
}

// NewExtractor creates an extractor.
func NewExtractor() *Extractor {
	return &Extractor{}
}

// Fraction returns the current completion fraction in [0, 1]. Safe to call
// from any goroutine while Extract runs.
func (e *Extractor) Fraction() float64 {
	return math.Float64frombits(e.frac.Load())
}

func (e *Extractor) setFraction(f float64) {
	if f < 0 {
		f = 0
	}
	if f > 1 {
		f = 1
	}
	e.frac.Store(math.Float64bits(f))
}

// Extract unpacks src into dest, preserving directory structure. On
// success the source archive is deleted to reclaim space; a failed
// deletion is logged, not fatal. On error every entry written so far is
// removed.
func (e *Extractor) Extract(ctx context.Context, src, dest string) error {
	if err := os.MkdirAll(dest, 0755); err != nil {
		return fmt.Errorf("archive: create destination: %w", err)
	}

	var created []string
	var err error
	switch {
	case hasAnySuffix(src, ".zip", ".task"):
		created, err = e.extractZip(ctx, src, dest)
	case hasAnySuffix(src, ".tar.gz", ".tgz"):
		created, err = e.extractTarGz(ctx, src, dest)
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedFormat, filepath.Base(src))
	}

	if err != nil {
		for i := len(created) - 1; i >= 0; i-- {
			os.Remove(created[i])
		}
		return err
	}

	e.setFraction(1)

	if rmErr := os.Remove(src); rmErr != nil {
		e.logf("could not remove archive %s: %v", src, rmErr)
	}

	return nil
}

func (e *Extractor) extractZip(ctx context.Context, src, dest string) ([]string, error) {
	r, err := zip.OpenReader(src)
	if err != nil {
		return nil, fmt.Errorf("archive: open zip: %w", err)
	}
	defer r.Close()

	var total uint64
	for _, f := range r.File {
		total += f.UncompressedSize64
	}

	var created []string
	var done uint64
	for _, f := range r.File {
		if err := ctx.Err(); err != nil {
			return created, err
		}

		target, err := securePath(dest, f.Name)
		if err != nil {
			return created, err
		}

		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0755); err != nil {
				return created, fmt.Errorf("archive: mkdir %s: %w", f.Name, err)
			}
			continue
		}

		if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
			return created, fmt.Errorf("archive: mkdir for %s: %w", f.Name, err)
		}

		// Record the target before writing so a mid-entry failure still
		// cleans up the partial file.
		created = append(created, target)
		n, err := e.writeEntry(target, f, total, done)
		if err != nil {
			return created, fmt.Errorf("archive: entry %s: %w", f.Name, err)
		}
		done += n
		if total > 0 {
			e.setFraction(float64(done) / float64(total))
		}
	}

	return created, nil
}

func (e *Extractor) writeEntry(target string, f *zip.File, total, doneBefore uint64) (uint64, error) {
	rc, err := f.Open()
	if err != nil {
		return 0, err
	}
	defer rc.Close()

	out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return 0, err
	}
	defer out.Close()

	// Progress within a large entry, not just between entries.
	pw := &progressWriter{
		w: out,
		tick: func(written uint64) {
			if total > 0 {
				e.setFraction(float64(doneBefore+written) / float64(total))
			}
		},
	}

	n, err := io.Copy(pw, rc)
	if err != nil {
		return uint64(n), err
	}
	return uint64(n), nil
}

func (e *Extractor) extractTarGz(ctx context.Context, src, dest string) ([]string, error) {
	f, err := os.Open(src)
	if err != nil {
		return nil, fmt.Errorf("archive: open: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("archive: stat: %w", err)
	}

	// Tar streams do not announce a total ahead of time; approximate
	// progress by compressed bytes consumed from the underlying file.
	counting := &countingReader{r: f}
	gz, err := gzip.NewReader(counting)
	if err != nil {
		return nil, fmt.Errorf("archive: gzip: %w", err)
	}
	defer gz.Close()

	compressedTotal := uint64(info.Size())
	tr := tar.NewReader(gz)

	var created []string
	for {
		if err := ctx.Err(); err != nil {
			return created, err
		}

		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return created, fmt.Errorf("archive: read tar: %w", err)
		}

		target, err := securePath(dest, hdr.Name)
		if err != nil {
			return created, err
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0755); err != nil {
				return created, fmt.Errorf("archive: mkdir %s: %w", hdr.Name, err)
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
				return created, fmt.Errorf("archive: mkdir for %s: %w", hdr.Name, err)
			}
			out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
			if err != nil {
				return created, fmt.Errorf("archive: create %s: %w", hdr.Name, err)
			}
			created = append(created, target)
			_, err = io.Copy(out, tr)
			out.Close()
			if err != nil {
				return created, fmt.Errorf("archive: entry %s: %w", hdr.Name, err)
			}
		}

		if compressedTotal > 0 {
			e.setFraction(float64(counting.n.Load()) / float64(compressedTotal))
		}
	}

	return created, nil
}

func (e *Extractor) logf(format string, args ...any) {
	if e.Log != nil {
		fmt.Fprintf(e.Log, "[modelpull] "+format+"\n", args...)
	}
}

// securePath joins name under dest, rejecting entries that would escape it.
func securePath(dest, name string) (string, error) {
	target := filepath.Join(dest, filepath.FromSlash(name))
	if !strings.HasPrefix(target, filepath.Clean(dest)+string(os.PathSeparator)) {
		return "", fmt.Errorf("%w: %s", ErrUnsafePath, name)
	}
	return target, nil
}

func hasAnySuffix(s string, suffixes ...string) bool {
	lower := strings.ToLower(s)
	for _, suffix := range suffixes {
		if strings.HasSuffix(lower, suffix) {
			return true
		}
	}
	return false
}

type progressWriter struct {
	w       io.Writer
	written uint64
	tick    func(written uint64)
}

func (p *progressWriter) Write(b []byte) (int, error) {
	n, err := p.w.Write(b)
	p.written += uint64(n)
	p.tick(p.written)
	return n, err
}

type countingReader struct {
	r io.Reader
	n atomic.Uint64
}

func (c *countingReader) Read(b []byte) (int, error) {
	n, err := c.r.Read(b)
	c.n.Add(uint64(n))
	return n, err
}
