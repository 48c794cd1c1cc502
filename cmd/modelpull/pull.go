package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/fatih/color"
	"github.com/manifoldco/promptui"

	"github.com/lmhub/modelpull/internal/catalog"
	"github.com/lmhub/modelpull/internal/downloader"
	hubhttp "github.com/lmhub/modelpull/internal/http"
	"github.com/lmhub/modelpull/internal/integrity"
	"github.com/lmhub/modelpull/internal/progress"
)

func runPull(args []string) int {
	fs := flag.NewFlagSet("pull", flag.ExitOnError)

	configPath, dir, catalogPath, token := addConfigFlags(fs)
	rateLimit := fs.String("rate-limit", "", "Bandwidth cap, e.g. 10MB (per second)")
	noProgress := fs.Bool("no-progress", false, "Disable progress output")

	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, `Usage: modelpull pull [options] [model-id]

Download a model into the models directory. Partial downloads resume from
where they stopped; re-running on a complete model is a no-op. With no
model-id an interactive picker is shown.

Options:`)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return ExitInvalidArgs
	}

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitInvalidArgs
	}
	cfg = applyOverrides(cfg, *dir, *catalogPath, *token)

	if *rateLimit != "" {
		limit, err := progress.ParseBytes(*rateLimit)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Invalid rate limit: %v\n", err)
			return ExitInvalidArgs
		}
		cfg.RateLimit = limit
	}
	if *noProgress {
		cfg.Progress = false
	}

	assets, err := loadAssets(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitInvalidArgs
	}

	var asset catalog.Asset
	if fs.NArg() > 0 {
		asset, err = catalog.Lookup(assets, fs.Arg(0))
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return ExitNotFound
		}
	} else {
		asset, err = pickAsset(assets)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return ExitInvalidArgs
		}
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

	opts := downloader.Options{
		HTTP: hubhttp.Options{
			ConnectTimeout: cfg.ConnectTimeout,
			ReadTimeout:    cfg.ReadTimeout,
			Token:          cfg.Token,
			UserAgent:      cfg.UserAgent,
		},
		RateLimit: cfg.RateLimit,
		Log:       os.Stderr,
	}
	if cfg.Progress {
		opts.Progress = renderProgress
	}

	session := downloader.NewSession(asset, cfg.ModelsDir, opts)
	err = session.Run(ctx)
	if cfg.Progress {
		fmt.Fprintln(os.Stderr)
	}

	if err != nil {
		if ctx.Err() != nil {
			fmt.Fprintln(os.Stderr, "[modelpull] Interrupted; partial files kept, run again to resume")
			return ExitGeneralError
		}
		return reportPullError(err)
	}

	color.New(color.FgGreen).Fprintf(os.Stderr, "[modelpull] %s ready in %s\n", asset.ID, session.Dir())
	return ExitSuccess
}

// reportPullError maps download failures onto exit codes and, for auth
// failures, prints the diagnosis so the user knows what to fix.
func reportPullError(err error) int {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)

	switch {
	case errors.Is(err, hubhttp.ErrUnauthorized), errors.Is(err, hubhttp.ErrForbidden):
		fmt.Fprintln(os.Stderr, "Set MODELPULL_TOKEN or HF_TOKEN, or accept the model license upstream")
		return ExitAuthError
	case errors.Is(err, hubhttp.ErrNotFound):
		return ExitNotFound
	case errors.Is(err, integrity.ErrValidationFailed):
		fmt.Fprintln(os.Stderr, "The downloaded file was discarded; run again to retry")
		return ExitValidationFailed
	default:
		return ExitGeneralError
	}
}

// pickAsset shows an interactive model picker.
func pickAsset(assets []catalog.Asset) (catalog.Asset, error) {
	prompt := promptui.Select{
		Label: "Select a model",
		Items: assets,
		Size:  10,
		Templates: &promptui.SelectTemplates{
			Active:   `{{ "▸" | green }} {{ .ID | bold }} ({{ .Name }})`,
			Inactive: `  {{ .ID }} ({{ .Name }})`,
			Selected: `{{ "✔" | green }} {{ .ID }}`,
			Details:  "{{ .Description }}",
		},
	}

	i, _, err := prompt.Run()
	if err != nil {
		return catalog.Asset{}, fmt.Errorf("model selection: %w", err)
	}
	return assets[i], nil
}

// renderProgress writes a single live status line to stderr.
func renderProgress(e progress.Event) {
	if e.Extracting {
		fmt.Fprintf(os.Stderr, "\r[modelpull] extracting...                                        ")
		return
	}

	if e.TotalBytes > 0 {
		pct := float64(e.BytesDownloaded) / float64(e.TotalBytes) * 100
		fmt.Fprintf(os.Stderr, "\r[modelpull] %5.1f%%  %s / %s  (%s/s)   ",
			pct,
			progress.FormatBytes(e.BytesDownloaded),
			progress.FormatBytes(e.TotalBytes),
			progress.FormatBytes(int64(e.BytesPerSecond)))
		return
	}

	fmt.Fprintf(os.Stderr, "\r[modelpull] %s  (%s/s)   ",
		progress.FormatBytes(e.BytesDownloaded),
		progress.FormatBytes(int64(e.BytesPerSecond)))
}
