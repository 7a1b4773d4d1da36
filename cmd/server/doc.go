// Package main is the entry point for the mentora schedule engine.
//
// The server loads a blueprint of recurring tasks, keeps a rolling week of
// generated schedules, recovers missed and snoozed tasks, and serves the
// result to the dashboard and the mentor.
//
// The server provides:
//   - REST API for daily and weekly schedules, instance actions and the blueprint
//   - WebSocket event stream at /api/events/stream
//   - Optional progress webhook (PROGRESS_WEBHOOK_URL)
//   - Prometheus metrics at /metrics
//
// Configuration:
//   - Environment variables (12-factor)
//   - CLI flags (override env vars)
//
// Usage:
//
//	./server -port 8000 -data ./data -blueprint ./blueprint.yaml
//
//	# Development mode (colored logs, debug level)
//	./server -dev
//
// Signals:
//   - SIGINT, SIGTERM: Graceful shutdown
package main
