package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/lmhub/modelpull/internal/catalog"
	"github.com/lmhub/modelpull/internal/config"
)

// Exit codes
const (
	ExitSuccess          = 0
	ExitGeneralError     = 1
	ExitInvalidArgs      = 2
	ExitAuthError        = 3
	ExitNotFound         = 4
	ExitValidationFailed = 5
	ExitStorageError     = 6
)

func main() {
	// A .env in the working directory is the easiest place for HF_TOKEN.
	godotenv.Load()

	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) == 0 {
		printUsage()
		return ExitInvalidArgs
	}

	command := args[0]
	cmdArgs := args[1:]

	switch command {
	case "pull":
		return runPull(cmdArgs)
	case "list":
		return runList(cmdArgs)
	case "validate":
		return runValidate(cmdArgs)
	case "mirror":
		return runMirror(cmdArgs)
	case "help", "-h", "--help":
		printUsage()
		return ExitSuccess
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", command)
		printUsage()
		return ExitInvalidArgs
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, `Usage: modelpull <command> [options]

Commands:
  pull      Download a model from the catalog (resumes partial downloads)
  list      List catalog models and their local state
  validate  Check downloaded model files for completeness
  mirror    Push a downloaded model into object storage

Run 'modelpull <command> -h' for command-specific help.`)
}

// loadConfig builds the effective configuration: defaults, then an optional
// config file, then environment variables.
func loadConfig(path string) (config.Config, error) {
	cfg := config.Default()

	if path != "" {
		fileCfg, err := config.LoadFromFile(path)
		if err != nil {
			return config.Config{}, err
		}
		cfg = fileCfg
	}

	if err := cfg.LoadFromEnv(); err != nil {
		return config.Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}

	return cfg, nil
}

// addConfigFlags registers the flags every subcommand shares.
func addConfigFlags(fs *flag.FlagSet) (configPath, dir, catalogPath, token *string) {
	configPath = fs.String("config", "", "Path to YAML config file")
	dir = fs.String("dir", "", "Models directory (overrides config)")
	catalogPath = fs.String("catalog", "", "Extra YAML catalog file")
	token = fs.String("token", "", "Access token (overrides MODELPULL_TOKEN/HF_TOKEN)")
	return
}

// applyOverrides folds flag values over the loaded config.
func applyOverrides(cfg config.Config, dir, catalogPath, token string) config.Config {
	return cfg.Merge(config.Config{
		ModelsDir:   dir,
		CatalogPath: catalogPath,
		Token:       token,
	})
}

// loadAssets returns the built-in catalog, merged with the user catalog
// when one is configured.
func loadAssets(cfg config.Config) ([]catalog.Asset, error) {
	assets := catalog.BuiltIn()
	if cfg.CatalogPath == "" {
		return assets, nil
	}

	extra, err := catalog.LoadFile(cfg.CatalogPath)
	if err != nil {
		return nil, err
	}
	return catalog.Merge(assets, extra), nil
}
