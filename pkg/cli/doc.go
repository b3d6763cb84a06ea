// Package cli provides the configuration, request-file and output helpers
// of the wreq command-line tool.
//
// Configuration is stored in ~/.wreq/<app>/config.yaml and holds named
// contexts similar to kubectl: each context carries a base URL, default
// headers, timeouts, a cookie directory and optional S3 settings.
//
// Example usage:
//
//	cfg, err := cli.LoadConfig("wreq")
//	ctx, err := cfg.ResolveContext("")
package cli
