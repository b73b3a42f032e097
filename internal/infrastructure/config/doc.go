// Package config provides 12-factor configuration for the editor backend.
//
// Defaults come from Default. An optional YAML or TOML file is layered on
// top by LoadFile, and environment variables override both.
//
// Configuration Sections:
//   - Server: HTTP listener, CORS origins, public URL for injected agents
//   - Logging: Log level and output format
//   - RateLimit: Per-IP rate limiting of the HTTP surface
//   - Editor: Trusted origins, injection grace period and probes, scan budget
//   - Fetch: Target fetcher timeouts and limits
//   - Sync: External sync endpoint, retries and circuit breaker
//   - Cache: Pending-sync cache directory
//   - Browser: Chrome target
//
// Example Usage:
//
//	cfg, err := config.LoadFile("editor.yaml")
//	if err != nil {
//		return err
//	}
//	fmt.Printf("Server running on %s:%s\n", cfg.Server.Host, cfg.Server.Port)
package config
