package port

import (
	"context"

	"taphouse/internal/service/order/domain"
)

// ValidationRequestProducer 是校验服务的出站端口。
// 应用层只关心"请求一次校验"，不关心消息如何编码与投递。
type ValidationRequestProducer interface {
	// RequestValidation 发送一条携带订单快照的校验请求。
	RequestValidation(ctx context.Context, order domain.BeerOrderSnapshot) error
}
