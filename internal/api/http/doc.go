// Package http is the operator-facing REST surface: session lifecycle,
// controller commands, the agent-injecting proxy and operator log intake.
package http
