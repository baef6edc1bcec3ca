package adapter

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const dedupKeyTTL = 24 * time.Hour

// DedupRedisAdapter 是 port.ReplyDeduplicator 的 Redis 实现。
// 用 SETNX 抢占去重键：第一个写入者处理消息，其余的跳过。
// TTL 让键在回复早已失去意义之后自然过期。
type DedupRedisAdapter struct {
	client *redis.Client
}

func NewDedupRedisAdapter(addr string) (*DedupRedisAdapter, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("ping redis at %s: %w", addr, err)
	}
	return &DedupRedisAdapter{client: client}, nil
}

func (a *DedupRedisAdapter) FirstDelivery(ctx context.Context, key string) (bool, error) {
	ok, err := a.client.SetNX(ctx, "beer-order:reply:"+key, 1, dedupKeyTTL).Result()
	if err != nil {
		return false, fmt.Errorf("setnx dedup key %s: %w", key, err)
	}
	return ok, nil
}

// Release 删除去重键，让同一条回复可以被重新处理。
func (a *DedupRedisAdapter) Release(ctx context.Context, key string) error {
	if err := a.client.Del(ctx, "beer-order:reply:"+key).Err(); err != nil {
		return fmt.Errorf("del dedup key %s: %w", key, err)
	}
	return nil
}

// Close 关闭 Redis 连接。
func (a *DedupRedisAdapter) Close() error {
	return a.client.Close()
}
