package subscription

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/fathima-sithara/chatsync/internal/apperr"
	"github.com/fathima-sithara/chatsync/internal/utils"
)

type RetryConfig struct {
	MaxRetries      int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

func DefaultRetryConfig() RetryConfig {
	return RetryConfig{MaxRetries: 5, InitialInterval: time.Second, MaxInterval: 30 * time.Second}
}

// Open establishes a feed, retrying with exponential backoff. Authorization
// failures are not retried.
func Open(ctx context.Context, name string, cfg RetryConfig, open func(context.Context) (Unsubscriber, error), log *zap.SugaredLogger) (Unsubscriber, error) {
	log = utils.OrNop(log)

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = cfg.InitialInterval
	b.MaxInterval = cfg.MaxInterval
	b.Multiplier = 2
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0

	attempt := 0
	var sub Unsubscriber
	op := func() error {
		attempt++
		s, err := open(ctx)
		if err != nil {
			if apperr.Is(err, apperr.KindAuthorization) {
				return backoff.Permanent(err)
			}
			log.Warnw("subscribe failed", "feed", name, "attempt", attempt, "error", err)
			return err
		}
		sub = s
		return nil
	}

	var policy backoff.BackOff = b
	if cfg.MaxRetries >= 0 {
		policy = backoff.WithMaxRetries(b, uint64(cfg.MaxRetries))
	}
	if err := backoff.Retry(op, backoff.WithContext(policy, ctx)); err != nil {
		log.Errorw("giving up on feed", "feed", name, "attempts", attempt, "error", err)
		return nil, apperr.Classify("subscription.Open", err)
	}
	return sub, nil
}
