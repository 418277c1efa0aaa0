// Package delivery hands freshly generated credentials to an out-of-band
// channel (a mailer, an operator queue) instead of the requesting caller.
package delivery

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/dmitrijs2005/usersvc/internal/server/models"
	"github.com/redis/go-redis/v9"
)

// CredentialDelivery publishes a reset password for user.
type CredentialDelivery interface {
	DeliverPassword(ctx context.Context, user *models.User, password string) error
}

// Nop drops every delivery. Used when no channel is configured.
type Nop struct{}

func (Nop) DeliverPassword(context.Context, *models.User, string) error { return nil }

// DefaultStream is the Redis stream the outbox appends to.
const DefaultStream = "usersvc:password-resets"

// RedisOutbox appends one stream entry per reset for an external consumer to
// pick up. The stream is trimmed approximately to maxLen entries.
type RedisOutbox struct {
	rdb    redis.UniversalClient
	stream string
	maxLen int64
	now    func() time.Time
}

// NewRedisOutbox returns an outbox writing to stream (DefaultStream when empty).
func NewRedisOutbox(rdb redis.UniversalClient, stream string, maxLen int64) *RedisOutbox {
	if stream == "" {
		stream = DefaultStream
	}
	if maxLen <= 0 {
		maxLen = 10000
	}
	return &RedisOutbox{rdb: rdb, stream: stream, maxLen: maxLen, now: time.Now}
}

func (o *RedisOutbox) DeliverPassword(ctx context.Context, user *models.User, password string) error {
	err := o.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: o.stream,
		MaxLen: o.maxLen,
		Approx: true,
		Values: map[string]any{
			"user_id":    user.ID,
			"username":   user.UserName,
			"email":      user.Email,
			"password":   password,
			"created_at": strconv.FormatInt(o.now().UTC().Unix(), 10),
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("outbox append: %w", err)
	}
	return nil
}
