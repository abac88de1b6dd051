// Package notify carries the fire-and-forget "core mutated" signal used to
// invalidate cached dashboard aggregates. Failures are logged, never returned.
package notify

import (
	"context"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
)

// Sink receives a reason string after every committed core mutation.
type Sink interface {
	OnCoreMutation(ctx context.Context, reason string)
}

// Nop ignores notifications.
type Nop struct{}

func (Nop) OnCoreMutation(context.Context, string) {}

// Func adapts a function to Sink.
type Func func(ctx context.Context, reason string)

func (f Func) OnCoreMutation(ctx context.Context, reason string) { f(ctx, reason) }

// RedisSink deletes cached dashboard keys and publishes the reason so other
// instances drop their in-process caches too.
type RedisSink struct {
	client  *redis.Client
	prefix  string
	channel string
	log     *logrus.Entry
}

func NewRedisSink(client *redis.Client, prefix string) *RedisSink {
	return &RedisSink{
		client:  client,
		prefix:  prefix,
		channel: prefix + "invalidate",
		log:     logrus.WithField("component", "notify"),
	}
}

func (s *RedisSink) OnCoreMutation(ctx context.Context, reason string) {
	if err := s.invalidate(ctx); err != nil {
		s.log.WithField("reason", reason).Warnf("dashboard cache invalidation failed: %v", err)
		return
	}
	if err := s.client.Publish(ctx, s.channel, reason).Err(); err != nil {
		s.log.WithField("reason", reason).Warnf("dashboard invalidation publish failed: %v", err)
	}
}

func (s *RedisSink) invalidate(ctx context.Context) error {
	var cursor uint64
	for {
		keys, next, err := s.client.Scan(ctx, cursor, s.prefix+"*", 100).Result()
		if err != nil {
			return err
		}
		if len(keys) > 0 {
			if err := s.client.Del(ctx, keys...).Err(); err != nil {
				return err
			}
		}
		if next == 0 {
			return nil
		}
		cursor = next
	}
}

// Async wraps a sink so that every call returns immediately. The delivery runs on
// its own goroutine with a bounded timeout, detached from the caller's context.
func Async(sink Sink, timeout time.Duration) Sink {
	return Func(func(_ context.Context, reason string) {
		go func() {
			defer func() {
				if r := recover(); r != nil {
					logrus.WithField("reason", reason).Errorf("dashboard notification panicked: %v", r)
				}
			}()
			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()
			sink.OnCoreMutation(ctx, reason)
		}()
	})
}

// ConnectRedis returns nil when the server is unreachable; callers fall back to Nop.
func ConnectRedis(addr, password string) *redis.Client {
	if addr == "" {
		return nil
	}
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password})
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		logrus.Warnf("redis connection failed, continuing without dashboard invalidation: %v", err)
		_ = client.Close()
		return nil
	}
	logrus.Info("redis connected")
	return client
}
