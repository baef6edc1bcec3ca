package domain

// OrderStatus 定义了啤酒订单的生命周期状态，同时也是状态机的状态集合。
// 状态只能通过状态机接受的迁移来改变，业务代码不允许直接赋值。
type OrderStatus string

const (
	StatusNew                 OrderStatus = "NEW"                  // 订单已落库，尚未发起校验
	StatusValidationPending   OrderStatus = "VALIDATION_PENDING"   // 校验请求已发出，等待校验服务回复
	StatusValidated           OrderStatus = "VALIDATED"            // 校验通过
	StatusValidationException OrderStatus = "VALIDATION_EXCEPTION" // 校验失败（终态）
	StatusAllocationPending   OrderStatus = "ALLOCATION_PENDING"   // 配货请求已发出，等待库存服务回复
	StatusAllocated           OrderStatus = "ALLOCATED"            // 库存已全部预占
	StatusPendingInventory    OrderStatus = "PENDING_INVENTORY"    // 库存不足，部分配货
	StatusAllocationException OrderStatus = "ALLOCATION_EXCEPTION" // 配货失败（终态）
	StatusPickedUp            OrderStatus = "PICKED_UP"            // 已提货（终态）
	StatusCancelled           OrderStatus = "CANCELLED"            // 已取消（终态）
)

// Terminal 报告该状态是否是终态：没有任何事件能从终态迁出。
func (s OrderStatus) Terminal() bool {
	switch s {
	case StatusValidationException, StatusAllocationException, StatusPickedUp, StatusCancelled:
		return true
	}
	return false
}

// OrderEvent 是状态机的输入字母表。
type OrderEvent string

const (
	EventValidateOrder         OrderEvent = "VALIDATE_ORDER"
	EventValidationPassed      OrderEvent = "VALIDATION_PASSED"
	EventValidationFailed      OrderEvent = "VALIDATION_FAILED"
	EventAllocateOrder         OrderEvent = "ALLOCATE_ORDER"
	EventAllocationSuccess     OrderEvent = "ALLOCATION_SUCCESS"
	EventAllocationNoInventory OrderEvent = "ALLOCATION_NO_INVENTORY"
	EventAllocationFailed      OrderEvent = "ALLOCATION_FAILED"
	EventPickedUp              OrderEvent = "PICKED_UP"
	EventCancelOrder           OrderEvent = "CANCEL_ORDER"
)
