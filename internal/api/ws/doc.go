// Package ws streams schedule events to dashboards over WebSocket.
//
// Every connection gets its own bus subscription. A slow client loses its
// oldest undelivered events rather than stalling publishers.
//
// Message Types (Client → Server):
//   - ping: Keep-alive ping
//   - subscribe: Replace the event type filter ({"types": [...]})
//
// Message Types (Server → Client):
//   - system: Connection established
//   - event: One bus event ({"event": {...}})
//   - pong: Reply to ping
//   - subscribed: Filter updated
//   - error: Unknown or malformed client message
//
// Example Usage:
//
//	handler := ws.NewHandler(engine.Bus(), cfg.Server.AllowOrigins, metrics, logger)
//	router.GET("/api/events/stream", handler.HandleConnection)
package ws
