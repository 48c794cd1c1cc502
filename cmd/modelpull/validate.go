package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fatih/color"

	"github.com/lmhub/modelpull/internal/catalog"
	"github.com/lmhub/modelpull/internal/downloader"
	"github.com/lmhub/modelpull/internal/integrity"
	"github.com/lmhub/modelpull/internal/manifest"
)

func runValidate(args []string) int {
	fs := flag.NewFlagSet("validate", flag.ExitOnError)
	configPath, dir, catalogPath, token := addConfigFlags(fs)

	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, `Usage: modelpull validate [options] <model-id>

Check a downloaded model's files for completeness and structural
plausibility. Does not touch the network.

Options:`)
		fs.PrintDefaults()
	}

	if err := fs.Parse(args); err != nil {
		return ExitInvalidArgs
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "Error: exactly one model-id is required")
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

	files, modelDir, err := localFiles(cfg.ModelsDir, asset)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return ExitGeneralError
	}

	green := color.New(color.FgGreen)
	red := color.New(color.FgRed)

	failed := 0
	for _, f := range files {
		path := filepath.Join(modelDir, filepath.FromSlash(f.name))
		if err := integrity.Validate(path, integrity.FormatForName(f.name, asset.Format), f.expectedSize); err != nil {
			red.Printf("FAIL  %s\n", f.name)
			fmt.Printf("      %v\n", err)
			failed++
			continue
		}
		green.Printf("OK    %s\n", f.name)
	}

	if failed > 0 {
		fmt.Fprintf(os.Stderr, "\n%d of %d files failed; run 'modelpull pull %s' to repair\n",
			failed, len(files), asset.ID)
		return ExitValidationFailed
	}

	return ExitSuccess
}

type localFile struct {
	name         string
	expectedSize int64
}

// localFiles resolves the files an asset is expected to have on disk,
// using the cached manifest for bundles so no network access is needed.
func localFiles(modelsDir string, asset catalog.Asset) ([]localFile, string, error) {
	if asset.ManifestURL != "" {
		modelDir := filepath.Join(modelsDir, asset.ID)
		data, err := os.ReadFile(filepath.Join(modelDir, "manifest.json"))
		if err != nil {
			return nil, "", fmt.Errorf("no cached manifest for %s; pull it first", asset.ID)
		}
		m, err := manifest.Parse(data)
		if err != nil {
			return nil, "", err
		}
		files := make([]localFile, 0, len(m.Files))
		for _, name := range m.Files {
			// Pull stores auxiliary files under their canonical names.
			files = append(files, localFile{name: downloader.CanonicalName(name)})
		}
		return files, modelDir, nil
	}

	name, err := asset.FileName()
	if err != nil {
		return nil, "", err
	}
	files := []localFile{{name: name, expectedSize: asset.SizeBytes}}

	modelDir := modelsDir
	if asset.MultiFile() {
		modelDir = filepath.Join(modelsDir, asset.ID)
	}
	for _, extra := range asset.ExtraURLs {
		a := catalog.Asset{ID: asset.ID, URL: extra}
		extraName, err := a.FileName()
		if err != nil {
			return nil, "", err
		}
		files = append(files, localFile{name: downloader.CanonicalName(extraName)})
	}

	return files, modelDir, nil
}
