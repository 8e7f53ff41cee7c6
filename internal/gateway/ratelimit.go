package gateway

import (
	"context"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"

	"github.com/civiclab/stance-cli/internal/model"
)

// RateLimited wraps a gateway with a token-bucket limiter so ensemble
// fan-out cannot burst past a provider's request quota.
type RateLimited struct {
	inner   Gateway
	limiter *rate.Limiter
}

// WithRateLimit wraps gw with a limiter of rps requests per second and the
// given burst. rps <= 0 returns gw unwrapped.
func WithRateLimit(gw Gateway, rps float64, burst int) Gateway {
	if rps <= 0 {
		return gw
	}
	if burst < 1 {
		burst = 1
	}
	return &RateLimited{inner: gw, limiter: rate.NewLimiter(rate.Limit(rps), burst)}
}

func (r *RateLimited) Send(ctx context.Context, msgs []model.Message, opts model.GenOptions) (*model.RawResponse, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, eris.Wrap(err, "gateway: rate limit wait")
	}
	return r.inner.Send(ctx, msgs, opts)
}
