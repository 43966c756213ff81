package anthropic

import (
	"context"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"
)

// throttledClient paces outgoing requests to stay under the backend's
// request-per-second ceiling. Concurrency limits are handled separately by
// the global limiter; this smooths the arrival rate within those limits.
type throttledClient struct {
	inner   Client
	limiter *rate.Limiter
}

// Throttled wraps client so that calls never exceed rps requests per second,
// with bursts up to burst. rps <= 0 disables pacing.
func Throttled(client Client, rps float64, burst int) Client {
	if rps <= 0 {
		return client
	}
	if burst < 1 {
		burst = 1
	}
	return &throttledClient{
		inner:   client,
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
	}
}

func (c *throttledClient) CreateMessage(ctx context.Context, req MessageRequest) (*MessageResponse, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "anthropic: throttle wait")
	}
	return c.inner.CreateMessage(ctx, req)
}
