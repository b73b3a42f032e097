// Package logging provides structured logging using uber/zap.
//
// Two modes:
//   - Production: JSON output for machine parsing
//   - Development: colored console output
//
// Each editor component receives a named child (Component) and accepts a
// nil *zap.Logger, resolved through OrNop. Rejected protocol traffic
// (foreign origin, malformed frames) is logged at debug level only.
//
// Example Usage:
//
//	logger := logging.NewDefault()
//	ctl := controller.New(port, controller.WithLogger(logger.Component("controller")))
package logging
