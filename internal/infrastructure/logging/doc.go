// Package logging provides structured logging using uber/zap.
//
// Production mode writes JSON for machine parsing; development mode writes
// coloured console output. Components receive a Named child logger so every
// line carries its origin (blueprint, generator, recovery, events, http).
//
// Example Usage:
//
//	logger := logging.NewDefault()
//	logger.Info("Schedule generated", zap.String("date", "2025-01-06"))
//	logger.Error("Blueprint rejected", zap.Error(err))
package logging
