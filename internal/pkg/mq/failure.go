package mq

import (
	"context"
	"fmt"
	"strconv"

	"github.com/segmentio/kafka-go"

	"taphouse/internal/pkg/logger"
)

// 死信消息头，记录原始消息的来源与失败原因，便于事后排查。
const (
	HeaderOriginalTopic     = "x-original-topic"
	HeaderOriginalPartition = "x-original-partition"
	HeaderOriginalOffset    = "x-original-offset"
	HeaderExceptionMessage  = "x-exception-message"
)

// FailureHandler 将处理失败的消息转发到死信主题（DLT），
// 使消费者可以提交 Offset 而不会永久阻塞在一条坏消息上。
type FailureHandler struct {
	dltWriter *kafka.Writer
}

func NewFailureHandler(brokers []string, dltTopic string) *FailureHandler {
	return &FailureHandler{
		dltWriter: NewKafkaWriter(brokers, dltTopic),
	}
}

// Handle 把失败的消息连同失败原因写入死信主题。
// 写入死信主题本身失败属于严重错误，只能记录日志等待人工介入。
func (h *FailureHandler) Handle(ctx context.Context, msg kafka.Message, cause error) {
	dltMsg := kafka.Message{
		Key:   msg.Key,
		Value: msg.Value,
		Headers: append(msg.Headers,
			kafka.Header{Key: HeaderOriginalTopic, Value: []byte(msg.Topic)},
			kafka.Header{Key: HeaderOriginalPartition, Value: []byte(strconv.Itoa(msg.Partition))},
			kafka.Header{Key: HeaderOriginalOffset, Value: []byte(strconv.FormatInt(msg.Offset, 10))},
			kafka.Header{Key: HeaderExceptionMessage, Value: []byte(fmt.Sprintf("%v", cause))},
		),
	}
	InjectTraceContext(ctx, &dltMsg.Headers)

	if err := h.dltWriter.WriteMessages(ctx, dltMsg); err != nil {
		logger.Ctx(ctx).Error().Err(err).
			Str("original_topic", msg.Topic).
			Str("key", string(msg.Key)).
			Msg("🚨 CRITICAL: failed to forward message to DLT")
		return
	}
	logger.Ctx(ctx).Warn().
		Str("original_topic", msg.Topic).
		Str("key", string(msg.Key)).
		Err(cause).
		Msg("Message forwarded to DLT")
}

// Close 关闭底层的死信 writer。
func (h *FailureHandler) Close() error {
	return h.dltWriter.Close()
}
