package transport

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

const (
	// maxTrackedConversations caps tracked limiter entries so a flood of
	// new conversation IDs cannot exhaust memory.
	maxTrackedConversations = 4096

	// sendRatePerSecond / sendBurst bound outbound sends per conversation.
	// Messaging networks throttle noisy senders; one message per second with
	// a small burst stays well under typical limits.
	sendRatePerSecond = 1
	sendBurst         = 3
)

// RateLimited wraps a Transport with a per-conversation token bucket on
// outbound sends. Reads pass through untouched.
type RateLimited struct {
	Transport

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewRateLimited wraps t with per-conversation send rate limiting.
func NewRateLimited(t Transport) *RateLimited {
	return &RateLimited{
		Transport: t,
		limiters:  make(map[string]*rate.Limiter),
	}
}

// Send blocks until the conversation's limiter admits the message, then
// delegates to the wrapped transport.
func (r *RateLimited) Send(ctx context.Context, conversationID, text string) error {
	if err := r.limiter(conversationID).Wait(ctx); err != nil {
		return err
	}
	return r.Transport.Send(ctx, conversationID, text)
}

// React is rate limited under the same bucket as Send.
func (r *RateLimited) React(ctx context.Context, conversationID, messageID, emoji string) error {
	if err := r.limiter(conversationID).Wait(ctx); err != nil {
		return err
	}
	return r.Transport.React(ctx, conversationID, messageID, emoji)
}

func (r *RateLimited) limiter(conversationID string) *rate.Limiter {
	r.mu.Lock()
	defer r.mu.Unlock()

	if l, ok := r.limiters[conversationID]; ok {
		return l
	}

	// Hard eviction at the cap (map iteration order is as good as any).
	for len(r.limiters) >= maxTrackedConversations {
		for k := range r.limiters {
			delete(r.limiters, k)
			break
		}
	}

	l := rate.NewLimiter(rate.Limit(sendRatePerSecond), sendBurst)
	r.limiters[conversationID] = l
	return l
}
