package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"gocloud.dev/blob"
	_ "gocloud.dev/blob/fileblob"
	_ "gocloud.dev/blob/gcsblob"
	_ "gocloud.dev/blob/s3blob"

	"github.com/lmhub/modelpull/internal/catalog"
	"github.com/lmhub/modelpull/internal/mirror"
)

func runMirror(args []string) int {
	fs := flag.NewFlagSet("mirror", flag.ExitOnError)

	configPath, dir, catalogPath, token := addConfigFlags(fs)
	bucketURL := fs.String("bucket", "", "Destination bucket URL (required), e.g. s3://models")
	prefix := fs.String("prefix", "", "Object key prefix (defaults to the model id)")
	force := fs.Bool("force", false, "Re-upload files even when sizes match")

	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, `Usage: modelpull mirror [options] <model-id>

Push a downloaded model into object storage so fleets can fetch it from a
bucket you control instead of the upstream host. Uploads are skipped for
objects that already match; mirroring is safe to re-run.

Options:`)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return ExitInvalidArgs
	}
	if fs.NArg() != 1 || *bucketURL == "" {
		fmt.Fprintln(os.Stderr, "Error: -bucket and a model-id are required")
		fs.Usage()
		return ExitInvalidArgs
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitInvalidArgs
	}
	cfg = applyOverrides(cfg, *dir, *catalogPath, *token)

	assets, err := loadAssets(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitInvalidArgs
	}

	asset, err := catalog.Lookup(assets, fs.Arg(0))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitNotFound
	}

	modelDir, err := assetDir(cfg.ModelsDir, asset)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitGeneralError
	}
	if _, err := os.Stat(modelDir); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s is not downloaded; pull it first\n", asset.ID)
		return ExitGeneralError
	}

	keyPrefix := *prefix
	if keyPrefix == "" {
		keyPrefix = asset.ID
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Fprintln(os.Stderr, "\n[modelpull] Received interrupt, shutting down...")
		cancel()
	}()

	bucket, err := blob.OpenBucket(ctx, *bucketURL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening bucket: %v\n", err)
		return ExitStorageError
	}
	defer bucket.Close()

	n, err := mirror.Push(ctx, bucket, modelDir, mirror.Options{
		Prefix: keyPrefix,
		Force:  *force,
		Log:    os.Stderr,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		fmt.Fprintln(os.Stderr, "[modelpull] Mirroring is resumable, run again to finish")
		return ExitStorageError
	}

	bad, err := mirror.Verify(ctx, bucket, modelDir, mirror.Options{Prefix: keyPrefix})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error verifying mirror: %v\n", err)
		return ExitStorageError
	}
	if len(bad) > 0 {
		fmt.Fprintf(os.Stderr, "Error: %d objects missing or mismatched after push: %v\n", len(bad), bad)
		return ExitStorageError
	}

	fmt.Fprintf(os.Stderr, "[modelpull] Mirrored %s (%d files uploaded) to %s/%s\n",
		asset.ID, n, *bucketURL, keyPrefix)
	return ExitSuccess
}

// assetDir resolves what to mirror: the asset's subdirectory for
// multi-file models, or the single model file itself.
func assetDir(modelsDir string, asset catalog.Asset) (string, error) {
	if asset.MultiFile() {
		return filepath.Join(modelsDir, asset.ID), nil
	}

	name, err := asset.FileName()
	if err != nil {
		return "", err
	}
	return filepath.Join(modelsDir, name), nil
}
