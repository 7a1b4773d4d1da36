/*
Package tracing provides lightweight request tracing.

Trace and span identifiers travel in the X-Trace-ID and X-Span-ID headers.
HTTPMiddleware opens a span per request and echoes the identifiers back;
Trace wraps internal operations such as generation runs; InjectHeaders
propagates the context to outbound webhook calls. Finished spans are
buffered and written to the structured log.

	tracer := tracing.New("mentora", logger.Logger)
	defer tracer.Close()
	router.Use(tracing.HTTPMiddleware(tracer))
*/
package tracing
