package domain

import "github.com/google/uuid"

// BeerOrderSnapshot 是订单在消息通道上传输的快照形式。
// 出站请求携带快照而不是聚合本身，避免协作方看到内部可变状态。
type BeerOrderSnapshot struct {
	ID          uuid.UUID           `json:"id"`
	Version     int64               `json:"version"`
	CustomerRef string              `json:"customerRef,omitempty"`
	Status      OrderStatus         `json:"status"`
	Lines       []OrderLineSnapshot `json:"lines"`
}

type OrderLineSnapshot struct {
	ID                uuid.UUID `json:"id"`
	UPC               string    `json:"upc"`
	OrderQuantity     int       `json:"orderQuantity"`
	QuantityAllocated int       `json:"quantityAllocated"`
}

// SnapshotOf 生成订单当前状态的快照。
func SnapshotOf(o *BeerOrder) BeerOrderSnapshot {
	lines := make([]OrderLineSnapshot, 0, len(o.Lines))
	for _, l := range o.Lines {
		lines = append(lines, OrderLineSnapshot{
			ID:                l.ID,
			UPC:               l.UPC,
			OrderQuantity:     l.OrderQuantity,
			QuantityAllocated: l.QuantityAllocated,
		})
	}
	return BeerOrderSnapshot{
		ID:          o.ID,
		Version:     o.Version,
		CustomerRef: o.CustomerRef,
		Status:      o.Status,
		Lines:       lines,
	}
}

// ValidateOrderRequest 是发给校验服务的出站请求。
type ValidateOrderRequest struct {
	Order BeerOrderSnapshot `json:"order"`
}

// ValidateOrderResult 是校验服务的异步回复。
type ValidateOrderResult struct {
	OrderID uuid.UUID `json:"orderId"`
	Valid   bool      `json:"valid"`
}

// AllocateOrderRequest 是发给库存服务的出站配货请求。
type AllocateOrderRequest struct {
	Order BeerOrderSnapshot `json:"order"`
}

// AllocatedLine 是配货回复中单行的配货结果。
type AllocatedLine struct {
	LineID            uuid.UUID `json:"lineId"`
	QuantityAllocated int       `json:"quantityAllocated"`
}

// AllocateOrderResult 是库存服务的异步回复。
// 线格式沿用协作方的两个布尔标志，内部分发一律通过 Outcome 进行，
// 避免对非法的标志组合各处做不一致的解读。
type AllocateOrderResult struct {
	OrderID          uuid.UUID       `json:"orderId"`
	AllocationError  bool            `json:"allocationError"`
	PendingInventory bool            `json:"pendingInventory"`
	Lines            []AllocatedLine `json:"lines"`
}

// AllocationOutcome 是配货回复的归一化结果，三者有且只有其一。
type AllocationOutcome int

const (
	AllocationSucceeded AllocationOutcome = iota + 1
	AllocationPendingInventory
	AllocationFailed
)

// Outcome 按 错误 > 缺货 > 成功 的优先级把布尔标志折叠成唯一结果。
func (r *AllocateOrderResult) Outcome() AllocationOutcome {
	switch {
	case r.AllocationError:
		return AllocationFailed
	case r.PendingInventory:
		return AllocationPendingInventory
	default:
		return AllocationSucceeded
	}
}

// DeallocateOrderRequest 是取消已配货订单时发出的补偿消息，不消费回复。
type DeallocateOrderRequest struct {
	Order BeerOrderSnapshot `json:"order"`
}

// OrderFailureEvent 是订单进入异常终态时发往失败通道的通知。
type OrderFailureEvent struct {
	OrderID uuid.UUID `json:"orderId"`
	Reason  string    `json:"reason"`
}
