// Package logging provides structured logging using uber/zap.
//
// Two modes are supported:
//   - Production: JSON output for machine parsing
//   - Development: Colored console output for human readability
//
// Example Usage:
//
//	logger := logging.NewDefault()
//	logger.Info("session created", zap.String("session_id", sid))
//	logger.Error("write failed", zap.Error(err))
package logging
