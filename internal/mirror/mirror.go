// Package mirror pushes verified model directories into object storage.
//
// A mirrored model can then be served to fleets from a bucket the operator
// controls instead of hammering the upstream host. Uploads are keyed by the
// file's path relative to the model directory, under an optional prefix.
package mirror

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"gocloud.dev/blob"

	"github.com/lmhub/modelpull/internal/progress"
)

// Options configures a mirror operation.
type Options struct {
	// Prefix is prepended to every object key.
	Prefix string

	// Force re-uploads files even when the bucket already holds an
	// object of the same size.
	Force bool

	// Log receives human-readable status lines. May be nil.
	Log io.Writer
}

// Push uploads every regular file under dir to the bucket. dir may also be
// a single file. Files whose object already exists with a matching size are
// skipped unless Force is set. Returns the number of files uploaded.
func Push(ctx context.Context, bucket *blob.Bucket, dir string, opts Options) (int, error) {
	log := opts.Log
	if log == nil {
		log = io.Discard
	}

	uploaded := 0
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return fmt.Errorf("stat %s: %w", path, err)
		}

		key, err := objectKey(dir, path, opts.Prefix)
		if err != nil {
			return err
		}

		if !opts.Force {
			if attrs, err := bucket.Attributes(ctx, key); err == nil && attrs.Size == info.Size() {
				fmt.Fprintf(log, "[modelpull] %s already mirrored (%s), skipping\n",
					key, progress.FormatBytes(attrs.Size))
				return nil
			}
		}

		if err := upload(ctx, bucket, path, key); err != nil {
			return err
		}
		fmt.Fprintf(log, "[modelpull] mirrored %s (%s)\n", key, progress.FormatBytes(info.Size()))
		uploaded++
		return nil
	})
	if err != nil {
		return uploaded, fmt.Errorf("mirror: %w", err)
	}

	return uploaded, nil
}

// Verify checks that every regular file under dir (or dir itself, when it
// is a file) has a bucket object of the same size. It returns the list of
// keys that are missing or mismatch.
func Verify(ctx context.Context, bucket *blob.Bucket, dir string, opts Options) ([]string, error) {
	var bad []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return fmt.Errorf("stat %s: %w", path, err)
		}

		key, err := objectKey(dir, path, opts.Prefix)
		if err != nil {
			return err
		}

		attrs, err := bucket.Attributes(ctx, key)
		if err != nil || attrs.Size != info.Size() {
			bad = append(bad, key)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("mirror: %w", err)
	}

	return bad, nil
}

func objectKey(root, path, prefix string) (string, error) {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return "", fmt.Errorf("relativize %s: %w", path, err)
	}
	if rel == "." {
		// root is itself a file.
		rel = filepath.Base(path)
	}
	key := filepath.ToSlash(rel)
	if prefix != "" {
		key = strings.TrimSuffix(prefix, "/") + "/" + key
	}
	return key, nil
}

func upload(ctx context.Context, bucket *blob.Bucket, path, key string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	w, err := bucket.NewWriter(ctx, key, nil)
	if err != nil {
		return fmt.Errorf("create object %s: %w", key, err)
	}

	if _, err := io.Copy(w, f); err != nil {
		w.Close()
		return fmt.Errorf("upload %s: %w", key, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("finalize %s: %w", key, err)
	}

	return nil
}
