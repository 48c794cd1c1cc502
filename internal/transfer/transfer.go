package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/juju/ratelimit"

	hubhttp "github.com/lmhub/modelpull/internal/http"
)

// ErrShortDownload is returned when the stream ends before the expected
// size is reached.
var ErrShortDownload = errors.New("transfer: stream ended before expected size")

const (
	defaultBufferSize = 1024 * 1024

	// Small transfers report often enough to feel live; large ones
	// report less often to bound event volume.
	smallFileThreshold = 10 * 1024 * 1024
	smallFileInterval  = 250 * time.Millisecond
	largeFileInterval  = time.Second
)

// Request describes one file transfer.
type Request struct {
	// URL is the source.
	URL string

	// Dest is the destination file path. An existing file is resumed
	// from its current length.
	Dest string

	// ExpectedSize is the declared size in bytes, 0 if unknown.
	// When known, the transfer completes once this many bytes are on
	// disk; when unknown, completion is natural end-of-stream.
	ExpectedSize int64

	// Progress, if non-nil, receives the current on-disk byte count at
	// an adaptive cadence and once at completion.
	Progress func(bytesOnDisk int64)

	// Limiter, if non-nil, throttles body reads.
	Limiter *ratelimit.Bucket

	// BufferSize overrides the copy buffer size. Default: 1MB.
	BufferSize int
}

// Run performs the transfer and returns the final on-disk size.
//
// Cancellation via ctx closes the connection and leaves the partial file
// untouched; its length is the checkpoint for the next attempt.
func Run(ctx context.Context, client *hubhttp.Client, req Request) (int64, error) {
	offset := existingSize(req.Dest)

	resp, err := client.Get(ctx, req.URL, offset)
	if err != nil {
		return offset, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusRequestedRangeNotSatisfiable:
		// Already complete; nothing to read.
		if req.Progress != nil {
			req.Progress(offset)
		}
		return offset, nil

	case http.StatusPartialContent:
		start, _, _, err := hubhttp.ParseContentRange(resp.Header.Get("Content-Range"))
		if err != nil {
			return offset, fmt.Errorf("transfer: %s: %w", req.URL, err)
		}
		if start != offset {
			// The server decided where the range starts; follow it.
			if err := os.Truncate(req.Dest, start); err != nil {
				return offset, fmt.Errorf("transfer: truncate to server offset: %w", err)
			}
			offset = start
		}

	case http.StatusOK:
		if offset > 0 {
			// Server ignored the range; the partial file is useless.
			if err := os.Truncate(req.Dest, 0); err != nil {
				return 0, fmt.Errorf("transfer: discard partial file: %w", err)
			}
			offset = 0
		}

	default:
		return offset, fmt.Errorf("transfer: unexpected status %d for %s", resp.StatusCode, req.URL)
	}

	f, err := os.OpenFile(req.Dest, os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return offset, fmt.Errorf("transfer: open destination: %w", err)
	}
	defer f.Close()

	written, err := stream(ctx, f, resp.Body, offset, req)
	if err != nil {
		return written, err
	}

	if req.ExpectedSize > 0 && written < req.ExpectedSize {
		return written, fmt.Errorf("%w: got %d of %d bytes for %s",
			ErrShortDownload, written, req.ExpectedSize, req.URL)
	}

	return written, nil
}

// stream copies body to f with positioned writes starting at offset and
// returns the resulting on-disk size.
func stream(ctx context.Context, f *os.File, body io.Reader, offset int64, req Request) (int64, error) {
	bufSize := req.BufferSize
	if bufSize <= 0 {
		bufSize = defaultBufferSize
	}
	buf := make([]byte, bufSize)

	if req.Limiter != nil {
		body = ratelimit.Reader(body, req.Limiter)
	}

	interval := largeFileInterval
	if req.ExpectedSize > 0 && req.ExpectedSize < smallFileThreshold {
		interval = smallFileInterval
	}
	lastReport := time.Now()

	for {
		if err := ctx.Err(); err != nil {
			return offset, err
		}

		n, readErr := body.Read(buf)
		if n > 0 {
			// Never write past a known expected size.
			if req.ExpectedSize > 0 && offset+int64(n) > req.ExpectedSize {
				n = int(req.ExpectedSize - offset)
			}
			nw, writeErr := f.WriteAt(buf[:n], offset)
			if writeErr != nil {
				return offset, fmt.Errorf("transfer: write at %d: %w", offset, writeErr)
			}
			offset += int64(nw)

			if req.Progress != nil && time.Since(lastReport) >= interval {
				req.Progress(offset)
				lastReport = time.Now()
			}

			// Stop exactly at the expected size; trailing bytes
			// would violate the size invariant.
			if req.ExpectedSize > 0 && offset >= req.ExpectedSize {
				break
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return offset, fmt.Errorf("transfer: read: %w", readErr)
		}
	}

	if req.Progress != nil {
		req.Progress(offset)
	}

	return offset, nil
}

func existingSize(path string) int64 {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return 0
	}
	return info.Size()
}
