package worker

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

const (
	DeliveryQueue = "ccmigrate:deliveries"
	ContactQueue  = "ccmigrate:contacts"
	ImportQueue   = "ccmigrate:imports"
)

// ErrEmpty is returned by Pop when nothing arrived before the timeout.
var ErrEmpty = errors.New("queue is empty")

// Queue is a set of named FIFO lists.
type Queue interface {
	Push(ctx context.Context, name string, payload []byte) error
	Pop(ctx context.Context, name string, timeout time.Duration) ([]byte, error)
}

// RedisQueue keeps every queue in a redis list.
type RedisQueue struct {
	rdb *redis.Client
}

func NewRedisQueue(rdb *redis.Client) *RedisQueue {
	return &RedisQueue{rdb}
}

func (q *RedisQueue) Push(ctx context.Context, name string, payload []byte) error {
	return q.rdb.LPush(ctx, name, payload).Err()
}

func (q *RedisQueue) Pop(ctx context.Context, name string, timeout time.Duration) ([]byte, error) {
	result, err := q.rdb.BRPop(ctx, timeout, name).Result()
	if errors.Is(err, redis.Nil) {
		return nil, ErrEmpty
	}
	if err != nil {
		return nil, err
	}
	// result is [key, value]
	return []byte(result[1]), nil
}
