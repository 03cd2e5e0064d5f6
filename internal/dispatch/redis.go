package dispatch

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-redis/redis/v8"

	"github.com/25smoking/Panoptes/internal/core"
)

// RedisSink 把报告 JSON 追加到 Redis 列表，供下游消费者拉取
type RedisSink struct {
	client *redis.Client
	Key    string
}

// NewRedisSink 解析 redis:// URL 并确认连接可用
func NewRedisSink(ctx context.Context, url, key string) (*RedisSink, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opt)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	if key == "" {
		key = "panoptes:reports"
	}
	return &RedisSink{client: rdb, Key: key}, nil
}

func (r *RedisSink) Name() string { return "redis " + r.Key }

func (r *RedisSink) Send(ctx context.Context, report *core.Report) Status {
	st := Status{Sink: r.Name()}
	data, err := json.Marshal(report)
	if err != nil {
		st.Err = fmt.Errorf("encode report: %w", err)
		return st
	}
	n, err := r.client.RPush(ctx, r.Key, data).Result()
	if err != nil {
		st.Err = err
		return st
	}
	st.OK = true
	st.Message = fmt.Sprintf("list length %d", n)
	return st
}

func (r *RedisSink) Close() error { return r.client.Close() }
