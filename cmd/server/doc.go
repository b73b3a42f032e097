// Command visualedit runs the visual editing backend.
//
// The server hosts editing sessions. Each session loads a target page in one
// of three ways (an in-process document, a Chrome tab, or the operator's own
// browser through the injecting proxy), injects the editing agent and drives
// it from a controller exposed over REST and WebSocket.
//
// Configuration is layered: built-in defaults, then an optional YAML or TOML
// file given with --config, then environment variables, then flags.
//
// Usage:
//
//	# Serve on :8000 with defaults
//	visualedit serve
//
//	# Development logging on another port
//	visualedit serve --dev -p 9000
//
//	# Print the editable elements of a page
//	visualedit scan https://example.com --pretty
//
// Environment variables:
//
//	PORT             - Server port (default: 8000)
//	PUBLIC_URL       - Base URL agents dial back to
//	EDITOR_ORIGINS   - Trusted origin suffixes
//	SYNC_ENDPOINT    - Edit sync collaborator (disabled when empty)
//	BROWSER_ENABLED  - Allow Chrome-hosted sessions
//	LOG_LEVEL        - Log level (debug, info, warn, error)
package main
