// Package integrity validates downloaded model files before they are
// trusted as ready for use.
//
// Validation is structural, not cryptographic: a size check against the
// declared total (within a small tolerance) catches silent truncation, an
// absolute minimum floor catches near-empty stub files (typically an HTML
// error page saved as the model), and a per-format magic-byte sniff
// catches wholly wrong payloads. Byte-level corruption inside the size
// tolerance is out of scope.
package integrity

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"strings"
)

// ErrValidationFailed is wrapped by every validation error.
var ErrValidationFailed = errors.New("integrity: validation failed")

const (
	// sizeTolerance is the accepted relative deviation from the declared
	// size. Hosts occasionally report sizes that differ slightly from
	// the served payload.
	sizeTolerance = 0.02

	// minPlausibleSize is the floor applied when no expected size is
	// known. Real model artifacts are never this small.
	minPlausibleSize = 64 * 1024
)

// FormatForName derives the validation format tag from a file name.
// Files with no recognizable model extension are tagged "aux" (configs,
// tokenizers and other small companions); ".bin" files take the caller's
// fallback since the extension alone says nothing about the payload.
func FormatForName(name, fallback string) string {
	lower := strings.ToLower(name)
	switch {
	case strings.HasSuffix(lower, ".gguf"):
		return "gguf"
	case strings.HasSuffix(lower, ".task"):
		return "task"
	case strings.HasSuffix(lower, ".zip"):
		return "zip"
	case strings.HasSuffix(lower, ".tar.gz"), strings.HasSuffix(lower, ".tgz"):
		return "tar.gz"
	case strings.HasSuffix(lower, ".safetensors"):
		return "safetensors"
	case strings.HasSuffix(lower, ".bin"):
		return fallback
	default:
		return "aux"
	}
}

// Validate checks that the file at path is complete and structurally
// plausible for the given format tag. format matching is by extension-like
// tags: "gguf", "task", "zip", "safetensors", "bin", "tar.gz".
//
// The caller is expected to delete a file that fails validation and
// restart its download from zero.
func Validate(path, format string, expectedSize int64) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("%w: stat %s: %v", ErrValidationFailed, path, err)
	}

	size := info.Size()
	if expectedSize > 0 {
		min := int64(float64(expectedSize) * (1 - sizeTolerance))
		max := int64(float64(expectedSize) * (1 + sizeTolerance))
		if size < min || size > max {
			return fmt.Errorf("%w: %s is %d bytes, expected %d (±%.0f%%)",
				ErrValidationFailed, path, size, expectedSize, sizeTolerance*100)
		}
	} else if size < minPlausibleSize && format != "aux" {
		// Auxiliary companions (tokenizer configs and the like) are
		// legitimately tiny; the floor only guards model payloads.
		return fmt.Errorf("%w: %s is only %d bytes, smaller than any plausible model file",
			ErrValidationFailed, path, size)
	}

	if err := sniff(path, format); err != nil {
		return err
	}

	return nil
}

// sniff checks format-specific magic bytes where the format defines them.
// Unknown formats pass.
func sniff(path, format string) error {
	header := make([]byte, 16)
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("%w: open %s: %v", ErrValidationFailed, path, err)
	}
	defer f.Close()
	n, _ := f.Read(header)
	header = header[:n]

	switch strings.ToLower(format) {
	case "gguf":
		if len(header) < 4 || string(header[:4]) != "GGUF" {
			return fmt.Errorf("%w: %s lacks the GGUF magic", ErrValidationFailed, path)
		}
	case "task", "zip":
		// MediaPipe .task bundles are zip archives.
		if len(header) < 4 || header[0] != 'P' || header[1] != 'K' {
			return fmt.Errorf("%w: %s is not a zip archive", ErrValidationFailed, path)
		}
	case "tar.gz", "tgz":
		if len(header) < 2 || header[0] != 0x1f || header[1] != 0x8b {
			return fmt.Errorf("%w: %s is not gzip-compressed", ErrValidationFailed, path)
		}
	case "safetensors":
		// Layout: 8-byte little-endian header length, then a JSON
		// object starting with '{'.
		if len(header) < 9 || header[8] != '{' {
			return fmt.Errorf("%w: %s lacks a safetensors header", ErrValidationFailed, path)
		}
		headerLen := binary.LittleEndian.Uint64(header[:8])
		if headerLen == 0 {
			return fmt.Errorf("%w: %s has an empty safetensors header", ErrValidationFailed, path)
		}
	}

	return nil
}
