// Package config defines configuration for the modelpull CLI.
//
// Configuration can be provided via:
//   - Command-line flags
//   - Environment variables (MODELPULL_ prefix, plus HF_TOKEN)
//   - YAML configuration file
//
// # Structure
//
//	type Config struct {
//	    ModelsDir      string
//	    CatalogPath    string
//	    Token          string
//	    UserAgent      string
//	    RateLimit      int64
//	    ConnectTimeout time.Duration
//	    ReadTimeout    time.Duration
//	    Progress       bool
//	}
package config
