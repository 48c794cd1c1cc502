//go:build integration

package mirror_test

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	_ "gocloud.dev/blob/s3blob"

	"github.com/lmhub/modelpull/internal/mirror"
	"github.com/lmhub/modelpull/internal/testutils"
)

func TestIntegrationPushToMinio(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	env := testutils.StartMinioContainer(t, ctx, "models")
	defer env.Close(ctx)

	bucket, err := env.OpenBucket(ctx)
	if err != nil {
		t.Fatalf("open bucket: %v", err)
	}
	defer bucket.Close()

	model := testutils.GenerateTestData(t, 4*1024*1024)
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "model.task"), model, 0644); err != nil {
		t.Fatalf("write model: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "tokenizer.json"), []byte("{}"), 0644); err != nil {
		t.Fatalf("write tokenizer: %v", err)
	}

	n, err := mirror.Push(ctx, bucket, dir, mirror.Options{Prefix: "gemma-3-1b"})
	if err != nil {
		t.Fatalf("Push: %v", err)
	}
	if n != 2 {
		t.Errorf("uploaded %d files, want 2", n)
	}

	got, err := bucket.ReadAll(ctx, "gemma-3-1b/model.task")
	if err != nil {
		t.Fatalf("read back: %v", err)
	}
	if !bytes.Equal(got, model) {
		t.Error("mirrored content does not match")
	}

	bad, err := mirror.Verify(ctx, bucket, dir, mirror.Options{Prefix: "gemma-3-1b"})
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if len(bad) != 0 {
		t.Errorf("unexpected mismatches: %v", bad)
	}

	// Re-push is a no-op.
	n, err = mirror.Push(ctx, bucket, dir, mirror.Options{Prefix: "gemma-3-1b"})
	if err != nil {
		t.Fatalf("second push: %v", err)
	}
	if n != 0 {
		t.Errorf("second push uploaded %d files, want 0", n)
	}
}
