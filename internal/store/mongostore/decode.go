package mongostore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/fathima-sithara/chatsync/internal/apperr"
	"github.com/fathima-sithara/chatsync/internal/domain"
)

func decodeMessage(raw bson.Raw) (domain.Message, error) {
	var m domain.Message
	if err := bson.Unmarshal(raw, &m); err != nil {
		return domain.Message{}, fmt.Errorf("decode message: %w", err)
	}
	if m.Status == "" {
		m.Status = domain.StatusSent
	}
	if err := m.Validate(); err != nil {
		return domain.Message{}, err
	}
	return m, nil
}

func decodeConversation(raw bson.Raw) (domain.Conversation, error) {
	var c domain.Conversation
	if err := bson.Unmarshal(raw, &c); err != nil {
		return domain.Conversation{}, fmt.Errorf("decode conversation: %w", err)
	}
	if err := c.Validate(); err != nil {
		return domain.Conversation{}, err
	}
	return c, nil
}

// mapErr converts driver errors into store sentinels.
func mapErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, mongo.ErrNoDocuments):
		return apperr.ErrNotFound
	case mongo.IsDuplicateKeyError(err):
		return apperr.ErrConflict
	}
	return err
}

func retryable(err error) bool {
	return mongo.IsNetworkError(err) || mongo.IsTimeout(err)
}

const (
	maxRetries     = 3
	baseRetryDelay = 100 * time.Millisecond
	maxRetryDelay  = 2 * time.Second
)

// withRetry retries idempotent reads on network errors and timeouts.
func withRetry(ctx context.Context, fn func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = baseRetryDelay
	b.MaxInterval = maxRetryDelay
	op := func() error {
		err := fn()
		if err != nil && !retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	return backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(b, maxRetries), ctx))
}
