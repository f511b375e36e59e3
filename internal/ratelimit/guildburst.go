// Package ratelimit paces the synthetic GUILD_CREATE/GUILD_DELETE
// burst a newly-identified client receives, so a shard with a very
// large tracked guild set cannot stall that client's writer task (or
// any other client being served concurrently) in a single scheduling
// tick. It never affects frame content, count, or order.
package ratelimit

import (
	"context"

	"golang.org/x/time/rate"
)

// GuildBurstLimiter wraps a token bucket: one token per frame.
type GuildBurstLimiter struct {
	limiter *rate.Limiter
}

// NewGuildBurstLimiter builds a limiter allowing ratePerSec frames per
// second on average, with burst allowed up to burst frames instantly.
func NewGuildBurstLimiter(ratePerSec float64, burst int) *GuildBurstLimiter {
	return &GuildBurstLimiter{limiter: rate.NewLimiter(rate.Limit(ratePerSec), burst)}
}

// Wait blocks until a token is available or ctx is cancelled.
func (g *GuildBurstLimiter) Wait(ctx context.Context) error {
	return g.limiter.Wait(ctx)
}
