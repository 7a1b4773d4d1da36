/*
Package resilience provides a circuit breaker for outbound delivery.

The breaker has three states. Closed passes calls through and counts
failures; once ReadyToTrip returns true it opens and rejects calls with
ErrCircuitOpen for Timeout. It then half-opens and lets MaxRequests trial
calls through; success closes it, failure reopens it.

IsFailure lets callers keep permanent errors (a 4xx from the receiver)
from tripping the breaker.

	breaker := resilience.New("progress-webhook", resilience.Settings{
		Timeout: 30 * time.Second,
		ReadyToTrip: func(c resilience.Counts) bool {
			return c.ConsecutiveFailures >= 5
		},
	})
	err := breaker.Execute(ctx, deliver)
*/
package resilience
