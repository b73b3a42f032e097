/*
Package resilience provides the circuit breaker that guards the external
edit sync collaborator.

# Overview

When the sync endpoint keeps failing, the breaker opens and sync attempts
fail fast with ErrCircuitOpen. The edits stay in the accumulator and the
pending-sync cache until a later attempt succeeds.

# Features

- Three-state circuit breaker (Closed, Open, Half-Open)
- Configurable failure thresholds and timeouts
- Pluggable failure classification (rejections are not outages)
- Injectable clock for deterministic tests
- State change callbacks for logging

# Usage

	// Create a circuit breaker
	breaker := resilience.New("sync", resilience.Settings{
		MaxRequests: 1,
		Timeout:     30 * time.Second,
		ReadyToTrip: resilience.ConsecutiveFailures(5),
		OnStateChange: func(name string, from, to resilience.State) {
			log.Info("Circuit breaker", zap.String("name", name), zap.Stringer("from", from), zap.Stringer("to", to))
		},
	})

	// Execute request through breaker
	err := breaker.Execute(ctx, func(ctx context.Context) error {
		return client.post(ctx, batch)
	})

# States

- Closed: Normal operation, requests pass through
- Open: Service unavailable, requests fail immediately
- Half-Open: Testing if service recovered, limited requests allowed

# Pattern

The circuit breaker transitions between states based on success/failure rates:

	Closed --[failures]-> Open --[timeout]-> Half-Open --[successes]-> Closed
	                                           |
	                                    [failure]
	                                           |
	                                           v
	                                         Open
*/
package resilience
