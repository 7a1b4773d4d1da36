/*
Package monitoring provides Prometheus metrics for the scheduling engine.

Each Metrics value owns a private registry, exposed through Handler. HTTP
traffic is recorded by Middleware using gin route templates as the path
label. Domain components record blueprint loads, generation runs,
placements, overflow, deferrals, status transitions and event delivery.

All Record methods are safe on a nil *Metrics.

	metrics := monitoring.NewMetrics()
	router.Use(monitoring.Middleware(metrics))
	router.GET("/metrics", gin.WrapH(metrics.Handler()))
*/
package monitoring
