/*
Package monitoring provides Prometheus metrics for the editor backend.

# Overview

Metrics cover the HTTP surface, protocol traffic in both directions,
agent scans and mutations, injection probes, edit sync and sessions.
Collectors are registered on an explicit prometheus.Registerer so tests can
use an isolated registry.

# Usage

	reg := prometheus.NewRegistry()
	metrics := monitoring.NewMetrics(reg)
	router.Use(monitoring.Middleware(metrics))
	router.GET("/metrics", gin.WrapH(monitoring.Handler(reg)))

A nil *Metrics records nothing.
*/
package monitoring
