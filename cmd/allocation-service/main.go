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
	"golang.org/x/sync/errgroup"

	"taphouse/internal/pkg/bootstrap"
	"taphouse/internal/pkg/logger"
	"taphouse/internal/pkg/mq"
	"taphouse/internal/service/order/domain"
	"taphouse/internal/service/order/infrastructure/adapter"
	"taphouse/internal/service/order/interfaces"
)

const (
	serviceName = "allocation-service"
	servicePort = 8083

	allocationGroupID   = "allocation-service-group"
	deallocationGroupID = "allocation-service-dealloc-group"

	// 测试钩子：带这些 customerRef 的订单触发对应的配货剧本。
	partialAllocationRef = "partial-allocation"
	failAllocationRef    = "fail-allocation"
)

// allocation-service 是库存协作方的模拟实现：
// 消费配货请求并回复结果，消费补偿性的释放请求并记录日志。
func main() {
	bootstrap.Init()
	logger.Init(serviceName)
	cfg := bootstrap.GetCurrentConfig()
	brokers := cfg.Infra.Kafka.Brokers

	allocationReader := mq.NewKafkaReader(brokers, adapter.AllocateOrderTopic, allocationGroupID)
	deallocationReader := mq.NewKafkaReader(brokers, adapter.DeallocateOrderTopic, deallocationGroupID)
	resultWriter := mq.NewKafkaWriter(brokers, interfaces.AllocateOrderResultTopic)

	group, groupCtx := errgroup.WithContext(context.Background())
	group.Go(func() error {
		consumeAllocationRequests(groupCtx, allocationReader, resultWriter)
		return nil
	})
	group.Go(func() error {
		consumeDeallocationRequests(groupCtx, deallocationReader)
		return nil
	})

	bootstrap.StartService(bootstrap.AppInfo{
		ServiceName: serviceName,
		Port:        servicePort,
		RegisterHandlers: func(appCtx bootstrap.AppCtx) {
			appCtx.Mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
			appCtx.Mux.Handle("/metrics", promhttp.Handler())
		},
		OnShutdown: func(ctx context.Context) {
			allocationReader.Close()
			deallocationReader.Close()
			resultWriter.Close()
			group.Wait()
		},
	})
}

func consumeAllocationRequests(ctx context.Context, reader *kafka.Reader, writer *kafka.Writer) {
	logger.Ctx(ctx).Info().Str("topic", adapter.AllocateOrderTopic).Msg("✅ Allocation service started.")
	for {
		msg, err := reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || err == kafka.ErrGroupClosed {
				logger.Ctx(ctx).Info().Msg("🛑 Allocation consumer shutting down.")
				return
			}
			logger.Ctx(ctx).Error().Err(err).Msg("could not read allocation request, retrying")
			time.Sleep(time.Second)
			continue
		}

		msgCtx := mq.ExtractTraceContext(ctx, msg.Headers)
		if err := handleAllocationRequest(msgCtx, writer, msg); err != nil {
			logger.Ctx(msgCtx).Error().Err(err).Msg("Failed to handle allocation request")
		}
		reader.CommitMessages(ctx, msg)
	}
}

func handleAllocationRequest(parentCtx context.Context, writer *kafka.Writer, msg kafka.Message) error {
	tracer := otel.Tracer(serviceName)
	ctx, span := tracer.Start(parentCtx, "allocation.HandleRequest", trace.WithSpanKind(trace.SpanKindConsumer))
	defer span.End()

	var req domain.AllocateOrderRequest
	if err := json.Unmarshal(msg.Value, &req); err != nil {
		return err
	}
	span.SetAttributes(
		attribute.String("order.id", req.Order.ID.String()),
		attribute.String("order.customer_ref", req.Order.CustomerRef),
	)

	result := allocate(&req)
	payload, err := json.Marshal(result)
	if err != nil {
		return err
	}

	logger.Ctx(ctx).Info().
		Str("order_id", result.OrderID.String()).
		Bool("allocation_error", result.AllocationError).
		Bool("pending_inventory", result.PendingInventory).
		Msg("Allocation result sent")
	return mq.ProduceMessage(ctx, writer, []byte(result.OrderID.String()), payload)
}

// allocate 按剧本生成配货结果：默认足额配货，
// partial-allocation 每行少配一件并标记缺货，fail-allocation 报错。
func allocate(req *domain.AllocateOrderRequest) domain.AllocateOrderResult {
	result := domain.AllocateOrderResult{OrderID: req.Order.ID}

	if req.Order.CustomerRef == failAllocationRef {
		result.AllocationError = true
		return result
	}

	for _, line := range req.Order.Lines {
		allocated := line.OrderQuantity
		if req.Order.CustomerRef == partialAllocationRef && allocated > 0 {
			allocated--
			result.PendingInventory = true
		}
		result.Lines = append(result.Lines, domain.AllocatedLine{
			LineID:            line.ID,
			QuantityAllocated: allocated,
		})
	}
	return result
}

func consumeDeallocationRequests(ctx context.Context, reader *kafka.Reader) {
	logger.Ctx(ctx).Info().Str("topic", adapter.DeallocateOrderTopic).Msg("✅ Deallocation consumer started.")
	for {
		msg, err := reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || err == kafka.ErrGroupClosed {
				logger.Ctx(ctx).Info().Msg("🛑 Deallocation consumer shutting down.")
				return
			}
			logger.Ctx(ctx).Error().Err(err).Msg("could not read deallocation request, retrying")
			time.Sleep(time.Second)
			continue
		}

		msgCtx := mq.ExtractTraceContext(ctx, msg.Headers)
		var req domain.DeallocateOrderRequest
		if err := json.Unmarshal(msg.Value, &req); err != nil {
			logger.Ctx(msgCtx).Error().Err(err).Msg("Failed to unmarshal deallocation request")
		} else {
			// 模拟实现只记录补偿动作，真实系统会在这里归还库存
			logger.Ctx(msgCtx).Info().
				Str("order_id", req.Order.ID.String()).
				Int("line_count", len(req.Order.Lines)).
				Msg("Inventory deallocated for cancelled order")
		}
		reader.CommitMessages(ctx, msg)
	}
}
