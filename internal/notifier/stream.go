package notifier

import (
	"context"
	"fmt"

	commonredis "dryer-alarm/common/redis"

	"github.com/go-redis/redis/v8"
)

// StreamNotifier 发布到 Redis Streams（下游消费者订阅报警事件）
type StreamNotifier struct {
	redisClient *redis.Client
	stream      string
}

// NewStreamNotifier 创建 Redis Streams 通知渠道
func NewStreamNotifier(redisClient *redis.Client, stream string) *StreamNotifier {
	return &StreamNotifier{
		redisClient: redisClient,
		stream:      stream,
	}
}

func (s *StreamNotifier) Name() string {
	return "stream"
}

func (s *StreamNotifier) Notify(ctx context.Context, n AlertNotification) error {
	if _, err := commonredis.PublishJSONToStream(ctx, s.redisClient, s.stream, n); err != nil {
		return fmt.Errorf("failed to publish alert %s to stream: %w", n.Alert.ID, err)
	}
	return nil
}
