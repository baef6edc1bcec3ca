package main

import (
	"context"
	"log"

	"go.opentelemetry.io/otel"

	"taphouse/internal/pkg/bootstrap"
	"taphouse/internal/pkg/logger"
	"taphouse/internal/pkg/mq"
	"taphouse/internal/service/order/application"
	"taphouse/internal/service/order/infrastructure"
	"taphouse/internal/service/order/infrastructure/adapter"
	"taphouse/internal/service/order/interfaces"
)

const (
	serviceName = "order-service"
	servicePort = 8080

	validationResultGroupID = "order-service-validation-result"
	allocationResultGroupID = "order-service-allocation-result"
	dltGroupID              = "order-service-dlt"
)

// main 函数是应用的"组装根" (Composition Root)
// 它的核心职责是：创建并组装所有依赖项，然后启动应用。
func main() {
	bootstrap.Init()
	logger.Init(serviceName)
	cfg := bootstrap.GetCurrentConfig()

	// 1. 存储层
	db, err := infrastructure.OpenDB(cfg.Infra.Mysql.DSN)
	if err != nil {
		log.Fatalf("failed to open mysql: %v", err)
	}
	repo := infrastructure.NewGormBeerOrderRepository(db)

	// 2. 出站适配器
	brokers := cfg.Infra.Kafka.Brokers
	validationProducer := adapter.NewValidationKafkaAdapter(brokers)
	defer validationProducer.Close()
	allocationProducer := adapter.NewAllocationKafkaAdapter(brokers)
	defer allocationProducer.Close()
	failureNotifier := adapter.NewFailureKafkaAdapter(brokers)
	defer failureNotifier.Close()

	deduper, err := adapter.NewDedupRedisAdapter(cfg.Infra.Redis.Addr)
	if err != nil {
		log.Fatalf("failed to initialize redis dedup client: %v", err)
	}
	defer deduper.Close()

	// 3. 应用服务
	manager := application.NewBeerOrderManager(
		repo,
		validationProducer,
		allocationProducer,
		failureNotifier,
		otel.Tracer(serviceName),
		cfg.App.Order.ReconcileAttempts,
		cfg.App.Order.ReconcileInterval,
	)

	// 4. 入站消费者
	failureHandler := mq.NewFailureHandler(brokers, interfaces.OrderDltTopic)
	defer failureHandler.Close()

	validationConsumer := interfaces.NewValidationResultConsumer(
		mq.NewKafkaReader(brokers, interfaces.ValidateOrderResultTopic, validationResultGroupID),
		manager, deduper, failureHandler, cfg.App.Order.ProcessingTimeout,
	)
	allocationConsumer := interfaces.NewAllocationResultConsumer(
		mq.NewKafkaReader(brokers, interfaces.AllocateOrderResultTopic, allocationResultGroupID),
		manager, deduper, failureHandler, cfg.App.Order.ProcessingTimeout,
	)
	dltConsumer := interfaces.NewDltConsumerAdapter(
		mq.NewKafkaReader(brokers, interfaces.OrderDltTopic, dltGroupID),
	)

	consumerCtx, cancelConsumers := context.WithCancel(context.Background())
	validationConsumer.Start(consumerCtx)
	allocationConsumer.Start(consumerCtx)
	dltConsumer.Start(consumerCtx)

	httpHandler := interfaces.NewBeerOrderHandler(manager)

	// 5. 注册并带着优雅关停启动 HTTP 服务
	bootstrap.StartService(bootstrap.AppInfo{
		ServiceName: serviceName,
		Port:        servicePort,
		RegisterHandlers: func(appCtx bootstrap.AppCtx) {
			httpHandler.RegisterRoutes(appCtx.Mux)
		},
		OnShutdown: func(ctx context.Context) {
			cancelConsumers()
			validationConsumer.Stop(ctx)
			allocationConsumer.Stop(ctx)
			dltConsumer.Stop(ctx)
		},
	})
}
