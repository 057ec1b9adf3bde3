package redis

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"msg-gateway/internal/model"
	"msg-gateway/pkg/logger"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// 消息统计相关常量
const (
	StatsKeyPrefix   = "gw:stats:" // 统计key前缀：gw:stats:<platform>:<direction>
	statusFieldStart = "status:"   // 按状态计数的字段前缀
)

// MessageStats 基于Redis哈希的消息计数
// 每个渠道+方向一个哈希，字段为事件名和 status:<状态>
type MessageStats struct {
	client *redis.Client
}

// NewMessageStats 创建统计实例，client为空时所有操作为空操作
func NewMessageStats(client *redis.Client) *MessageStats {
	return &MessageStats{client: client}
}

// StatsKey 统计key
func StatsKey(platform model.Platform, direction model.Direction) string {
	return fmt.Sprintf("%s%s:%s", StatsKeyPrefix, platform, direction)
}

// MessageRecorded 累加事件计数和状态计数
func (s *MessageStats) MessageRecorded(ctx context.Context, event string, message *model.Message) {
	if s == nil || s.client == nil || message == nil {
		return
	}

	key := StatsKey(message.Platform, message.Direction)
	pipe := s.client.TxPipeline()
	pipe.HIncrBy(ctx, key, event, 1)
	if message.Status != "" {
		pipe.HIncrBy(ctx, key, statusFieldStart+message.Status, 1)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		logger.Warn("更新消息统计失败",
			zap.String("key", key),
			zap.String("event", event),
			zap.Error(err),
		)
	}
}

// Snapshot 读取全部统计，结果按 "<platform>:<direction>" 分组
func (s *MessageStats) Snapshot(ctx context.Context) (map[string]map[string]int64, error) {
	result := make(map[string]map[string]int64)
	if s == nil || s.client == nil {
		return result, fmt.Errorf("redis客户端未初始化")
	}

	var cursor uint64
	for {
		keys, next, err := s.client.Scan(ctx, cursor, StatsKeyPrefix+"*", 100).Result()
		if err != nil {
			return nil, fmt.Errorf("扫描统计key失败: %w", err)
		}
		for _, key := range keys {
			fields, err := s.client.HGetAll(ctx, key).Result()
			if err != nil {
				return nil, fmt.Errorf("读取统计失败: %w", err)
			}
			counters := make(map[string]int64, len(fields))
			for field, raw := range fields {
				n, err := strconv.ParseInt(raw, 10, 64)
				if err != nil {
					continue
				}
				counters[field] = n
			}
			result[strings.TrimPrefix(key, StatsKeyPrefix)] = counters
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return result, nil
}

// Enabled 是否已连接Redis
func (s *MessageStats) Enabled() bool {
	return s != nil && s.client != nil
}
