package domain

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// BeerOrder 是啤酒订单聚合的根实体。
// Version 是乐观并发计数器，每次成功落库递增一次，
// 由仓储层用来把同一订单上的并发写冲突变成可感知的错误。
type BeerOrder struct {
	ID          uuid.UUID
	Version     int64
	CustomerRef string
	Status      OrderStatus
	Lines       []BeerOrderLine
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// BeerOrderLine 是订单中的一行：某个 UPC 的啤酒及其订购/已配货数量。
type BeerOrderLine struct {
	ID                uuid.UUID
	UPC               string
	OrderQuantity     int
	QuantityAllocated int
}

// 工厂函数: NewBeerOrder 用于创建一个尚未持久化的新订单。
// 订单 ID 由仓储在插入时分配，这里只做基本的完整性检查。
func NewBeerOrder(customerRef string, lines []BeerOrderLine) (*BeerOrder, error) {
	if len(lines) == 0 {
		return nil, errors.New("cannot create beer order without order lines")
	}
	for _, line := range lines {
		if line.UPC == "" {
			return nil, errors.New("order line requires a UPC")
		}
		if line.OrderQuantity <= 0 {
			return nil, errors.New("order line quantity must be positive")
		}
	}

	return &BeerOrder{
		CustomerRef: customerRef,
		Status:      StatusNew,
		Lines:       lines,
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
	}, nil
}

// ApplyAllocation 把配货回复中的已配货数量合并进订单行。
// 合并只按行 ID 匹配：回复中多出的行被忽略，
// 订单中没有出现在回复里的行保持原值。已配货数量只能从这里写入。
func (o *BeerOrder) ApplyAllocation(allocated []AllocatedLine) {
	for i := range o.Lines {
		for _, a := range allocated {
			if o.Lines[i].ID == a.LineID {
				o.Lines[i].QuantityAllocated = a.QuantityAllocated
			}
		}
	}
	o.UpdatedAt = time.Now()
}

// FullyAllocated 报告所有订单行的已配货数量是否都达到了订购数量。
func (o *BeerOrder) FullyAllocated() bool {
	for _, line := range o.Lines {
		if line.QuantityAllocated < line.OrderQuantity {
			return false
		}
	}
	return true
}
