package infrastructure

import (
	"time"

	"github.com/google/uuid"

	"taphouse/internal/service/order/domain"
)

// BeerOrderModel 是 BeerOrder 聚合在数据库中的表示。
type BeerOrderModel struct {
	ID          string `gorm:"primaryKey;type:char(36)"`
	Version     int64
	CustomerRef string
	Status      string
	Lines       []BeerOrderLineModel `gorm:"foreignKey:BeerOrderID"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (BeerOrderModel) TableName() string {
	return "beer_orders"
}

// BeerOrderLineModel 是订单行在数据库中的表示。
type BeerOrderLineModel struct {
	ID                string `gorm:"primaryKey;type:char(36)"`
	BeerOrderID       string `gorm:"type:char(36);index"`
	UPC               string
	OrderQuantity     int
	QuantityAllocated int
}

func (BeerOrderLineModel) TableName() string {
	return "beer_order_lines"
}

func toModel(order *domain.BeerOrder) *BeerOrderModel {
	lines := make([]BeerOrderLineModel, 0, len(order.Lines))
	for _, l := range order.Lines {
		lines = append(lines, BeerOrderLineModel{
			ID:                l.ID.String(),
			BeerOrderID:       order.ID.String(),
			UPC:               l.UPC,
			OrderQuantity:     l.OrderQuantity,
			QuantityAllocated: l.QuantityAllocated,
		})
	}
	return &BeerOrderModel{
		ID:          order.ID.String(),
		Version:     order.Version,
		CustomerRef: order.CustomerRef,
		Status:      string(order.Status),
		Lines:       lines,
		CreatedAt:   order.CreatedAt,
		UpdatedAt:   order.UpdatedAt,
	}
}

func toDomain(model *BeerOrderModel) (*domain.BeerOrder, error) {
	id, err := uuid.Parse(model.ID)
	if err != nil {
		return nil, err
	}
	lines := make([]domain.BeerOrderLine, 0, len(model.Lines))
	for _, l := range model.Lines {
		lineID, err := uuid.Parse(l.ID)
		if err != nil {
			return nil, err
		}
		lines = append(lines, domain.BeerOrderLine{
			ID:                lineID,
			UPC:               l.UPC,
			OrderQuantity:     l.OrderQuantity,
			QuantityAllocated: l.QuantityAllocated,
		})
	}
	return &domain.BeerOrder{
		ID:          id,
		Version:     model.Version,
		CustomerRef: model.CustomerRef,
		Status:      domain.OrderStatus(model.Status),
		Lines:       lines,
		CreatedAt:   model.CreatedAt,
		UpdatedAt:   model.UpdatedAt,
	}, nil
}
