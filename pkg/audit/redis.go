package audit

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
)

const defaultKeyPrefix = "audit:"

// RedisLog 为每个用户维护一个 Redis 列表，RPUSH 追加、LRANGE 读取。
type RedisLog struct {
	client *redis.Client
	prefix string
}

// NewRedisLog 创建 RedisLog；prefix 为空时使用 "audit:"。
func NewRedisLog(client *redis.Client, prefix string) *RedisLog {
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	return &RedisLog{client: client, prefix: prefix}
}

func (l *RedisLog) key(user string) string {
	return l.prefix + user
}

// Append 实现 Log 接口。
func (l *RedisLog) Append(ctx context.Context, rec Record) error {
	if rec.ID == "" {
		rec.ID = NewID()
	}
	val, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal audit record: %w", err)
	}
	return l.client.RPush(ctx, l.key(rec.User), val).Err()
}

// Fetch 实现 Log 接口。
func (l *RedisLog) Fetch(ctx context.Context, user string) ([]Record, error) {
	vals, err := l.client.LRange(ctx, l.key(user), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("read audit list: %w", err)
	}

	records := make([]Record, 0, len(vals))
	for _, v := range vals {
		var rec Record
		if err := json.Unmarshal([]byte(v), &rec); err != nil {
			return nil, fmt.Errorf("decode audit record: %w", err)
		}
		records = append(records, rec)
	}
	return records, nil
}

// Close 关闭底层客户端。
func (l *RedisLog) Close() error {
	return l.client.Close()
}
