package channel

import (
	"context"

	"golang.org/x/time/rate"
)

// RateLimited wraps voice and chat channels behind one shared limiter so a
// burst of simultaneous firings cannot exceed the provider's send rate.
// Waiting respects the caller's context.
type RateLimited struct {
	voice   VoiceChannel
	chat    ChatChannel
	limiter *rate.Limiter
}

// NewRateLimited builds the wrapper. perSec <= 0 disables limiting.
func NewRateLimited(voice VoiceChannel, chat ChatChannel, perSec int) *RateLimited {
	var lim *rate.Limiter
	if perSec > 0 {
		lim = rate.NewLimiter(rate.Limit(perSec), perSec)
	}
	return &RateLimited{voice: voice, chat: chat, limiter: lim}
}

func (r *RateLimited) Call(ctx context.Context, phone string, content CallContent) (Receipt, error) {
	if err := r.wait(ctx); err != nil {
		return Receipt{}, err
	}
	return r.voice.Call(ctx, phone, content)
}

func (r *RateLimited) Send(ctx context.Context, phone string, msg Message) (Receipt, error) {
	if err := r.wait(ctx); err != nil {
		return Receipt{}, err
	}
	return r.chat.Send(ctx, phone, msg)
}

func (r *RateLimited) wait(ctx context.Context) error {
	if r.limiter == nil {
		return nil
	}
	if err := r.limiter.Wait(ctx); err != nil {
		return &DeliveryError{Code: "rate", Message: err.Error()}
	}
	return nil
}
