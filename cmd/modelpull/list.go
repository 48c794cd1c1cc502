package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fatih/color"

	"github.com/lmhub/modelpull/internal/catalog"
	"github.com/lmhub/modelpull/internal/progress"
)

func runList(args []string) int {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	configPath, dir, catalogPath, token := addConfigFlags(fs)

	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, `Usage: modelpull list [options]

List catalog models and whether they are present locally.

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

	assets, err := loadAssets(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitInvalidArgs
	}

	bold := color.New(color.Bold)
	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	for _, a := range assets {
		size := "unknown size"
		if a.SizeBytes > 0 {
			size = progress.FormatBytes(a.SizeBytes)
		}

		bold.Printf("%-22s", a.ID)
		fmt.Printf("  %-10s", size)
		switch localState(cfg.ModelsDir, a) {
		case "complete":
			green.Print("  [downloaded]")
		case "partial":
			yellow.Print("  [partial]")
		}
		fmt.Println()
		fmt.Printf("    %s\n", a.Description)
	}

	return ExitSuccess
}

// localState reports whether an asset is present under the models
// directory: "complete", "partial" or "" for absent. A multi-file asset
// counts as complete only when every expected file is on disk non-empty,
// not merely when its subdirectory exists.
func localState(modelsDir string, a catalog.Asset) string {
	files, dir, err := localFiles(modelsDir, a)
	if err != nil {
		// A bundle directory without a cached manifest is a pull that
		// never got past the manifest fetch.
		if info, serr := os.Stat(filepath.Join(modelsDir, a.ID)); serr == nil && info.IsDir() {
			return "partial"
		}
		return ""
	}

	present := 0
	undersized := false
	for _, f := range files {
		info, err := os.Stat(filepath.Join(dir, filepath.FromSlash(f.name)))
		if err != nil || info.IsDir() || info.Size() == 0 {
			continue
		}
		present++
		if f.expectedSize > 0 && info.Size() < f.expectedSize {
			undersized = true
		}
	}

	switch {
	case present == 0:
		return ""
	case present < len(files) || undersized:
		return "partial"
	default:
		return "complete"
	}
}
