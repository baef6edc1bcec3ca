package main

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"taphouse/internal/pkg/bootstrap"
	"taphouse/internal/pkg/logger"
	"taphouse/internal/pkg/mq"
	"taphouse/internal/service/order/domain"
	"taphouse/internal/service/order/infrastructure/adapter"
	"taphouse/internal/service/order/interfaces"
)

const (
	serviceName = "validation-service"
	servicePort = 8082

	consumerGroupID = "validation-service-group"

	// 测试钩子：带这些 customerRef 的订单触发对应的失败剧本。
	failValidationRef = "fail-validation"
	dontValidateRef   = "dont-validate"
)

// validation-service 是校验协作方的模拟实现：
// 消费校验请求，立即回复结果（或按剧本保持沉默）。
func main() {
	bootstrap.Init()
	logger.Init(serviceName)
	cfg := bootstrap.GetCurrentConfig()
	brokers := cfg.Infra.Kafka.Brokers

	reader := mq.NewKafkaReader(brokers, adapter.ValidateOrderTopic, consumerGroupID)
	writer := mq.NewKafkaWriter(brokers, interfaces.ValidateOrderResultTopic)

	consumerCtx, cancel := context.WithCancel(context.Background())
	go consumeValidationRequests(consumerCtx, reader, writer)

	bootstrap.StartService(bootstrap.AppInfo{
		ServiceName: serviceName,
		Port:        servicePort,
		RegisterHandlers: func(appCtx bootstrap.AppCtx) {
			appCtx.Mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
			appCtx.Mux.Handle("/metrics", promhttp.Handler())
		},
		OnShutdown: func(ctx context.Context) {
			cancel()
			reader.Close()
			writer.Close()
		},
	})
}

func consumeValidationRequests(ctx context.Context, reader *kafka.Reader, writer *kafka.Writer) {
	logger.Ctx(ctx).Info().Str("topic", adapter.ValidateOrderTopic).Msg("✅ Validation service started.")
	for {
		msg, err := reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				logger.Ctx(ctx).Info().Msg("🛑 Validation service shutting down.")
				return
			}
			logger.Ctx(ctx).Error().Err(err).Msg("could not read validation request, retrying")
			time.Sleep(time.Second)
			continue
		}

		msgCtx := mq.ExtractTraceContext(ctx, msg.Headers)
		if err := handleValidationRequest(msgCtx, writer, msg); err != nil {
			logger.Ctx(msgCtx).Error().Err(err).Msg("Failed to handle validation request")
		}
		reader.CommitMessages(ctx, msg)
	}
}

func handleValidationRequest(parentCtx context.Context, writer *kafka.Writer, msg kafka.Message) error {
	tracer := otel.Tracer(serviceName)
	ctx, span := tracer.Start(parentCtx, "validation.HandleRequest", trace.WithSpanKind(trace.SpanKindConsumer))
	defer span.End()

	var req domain.ValidateOrderRequest
	if err := json.Unmarshal(msg.Value, &req); err != nil {
		return err
	}
	span.SetAttributes(
		attribute.String("order.id", req.Order.ID.String()),
		attribute.String("order.customer_ref", req.Order.CustomerRef),
	)

	// 沉默剧本：不回复，让上游的对账超时路径被真实触发
	if req.Order.CustomerRef == dontValidateRef {
		logger.Ctx(ctx).Warn().Str("order_id", req.Order.ID.String()).Msg("Scripted silence, no validation result sent")
		return nil
	}

	result := domain.ValidateOrderResult{
		OrderID: req.Order.ID,
		Valid:   req.Order.CustomerRef != failValidationRef,
	}
	payload, err := json.Marshal(result)
	if err != nil {
		return err
	}

	logger.Ctx(ctx).Info().
		Str("order_id", result.OrderID.String()).
		Bool("valid", result.Valid).
		Msg("Validation result sent")
	return mq.ProduceMessage(ctx, writer, []byte(result.OrderID.String()), payload)
}
