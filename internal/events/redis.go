package events

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// DefaultRedisList 是未配置时使用的 list 名称。
const DefaultRedisList = "machineid:gate_events"

// RedisConfig 描述 Redis list 的连接参数。
type RedisConfig struct {
	Address  string
	Password string
	DB       int
	List     string
}

// RedisPublisher 通过 LPUSH 将事件写入 Redis list。
type RedisPublisher struct {
	client *redis.Client
	list   string
}

// NewRedisPublisher 连接 Redis 并创建投递器。
func NewRedisPublisher(ctx context.Context, cfg RedisConfig) (*RedisPublisher, error) {
	if cfg.Address == "" {
		return nil, errors.New("Redis address 不能为空")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("连接 Redis 失败: %w", err)
	}
	return newRedisPublisher(client, cfg.List), nil
}

func newRedisPublisher(client *redis.Client, list string) *RedisPublisher {
	if list == "" {
		list = DefaultRedisList
	}
	return &RedisPublisher{client: client, list: list}
}

// Name 返回驱动名。
func (p *RedisPublisher) Name() string { return "redis" }

// Publish 将事件以 JSON 写入 list 头部。
func (p *RedisPublisher) Publish(ctx context.Context, event Event) error {
	payload, err := encode(event)
	if err != nil {
		return err
	}
	if err := p.client.LPush(ctx, p.list, payload).Err(); err != nil {
		return fmt.Errorf("Redis 发布事件失败: %w", err)
	}
	return nil
}

// Close 关闭 Redis 连接。
func (p *RedisPublisher) Close() error {
	if p == nil || p.client == nil {
		return nil
	}
	return p.client.Close()
}
