package infrastructure

import (
	"context"
	goerrors "errors"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"gorm.io/gorm"

	"taphouse/internal/service/order/domain"
)

// GormBeerOrderRepository 是 BeerOrderRepository 的 GORM 实现。
// 版本列承担乐观并发检查：同一订单上的并发写以版本匹配与否定胜负，
// 输家得到 ErrVersionConflict 而不是静默覆盖赢家的写入。
type GormBeerOrderRepository struct {
	db *gorm.DB
}

func NewGormBeerOrderRepository(db *gorm.DB) *GormBeerOrderRepository {
	return &GormBeerOrderRepository{db: db}
}

// Create 插入新订单及其订单行，分配 ID 并把版本置 0。
func (r *GormBeerOrderRepository) Create(ctx context.Context, order *domain.BeerOrder) error {
	order.ID = uuid.New()
	order.Version = 0
	for i := range order.Lines {
		if order.Lines[i].ID == uuid.Nil {
			order.Lines[i].ID = uuid.New()
		}
	}

	model := toModel(order)
	if err := r.db.WithContext(ctx).Create(model).Error; err != nil {
		return errors.Wrap(err, "insert beer order")
	}
	return nil
}

// FindByID 加载订单及其订单行。
func (r *GormBeerOrderRepository) FindByID(ctx context.Context, id uuid.UUID) (*domain.BeerOrder, error) {
	var model BeerOrderModel
	err := r.db.WithContext(ctx).Preload("Lines").Where("id = ?", id.String()).First(&model).Error
	if err != nil {
		if goerrors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrOrderNotFound
		}
		return nil, errors.Wrap(err, "load beer order")
	}
	return toDomain(&model)
}

// Save 带版本检查地保存订单：
// UPDATE ... WHERE id = ? AND version = ? 影响 0 行即说明版本已前进。
// 成功后同步写订单行的已配货数量，并递增内存中的版本号。
func (r *GormBeerOrderRepository) Save(ctx context.Context, order *domain.BeerOrder) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&BeerOrderModel{}).
			Where("id = ? AND version = ?", order.ID.String(), order.Version).
			Updates(map[string]interface{}{
				"status":     string(order.Status),
				"version":    order.Version + 1,
				"updated_at": time.Now(),
			})
		if res.Error != nil {
			return errors.Wrap(res.Error, "update beer order")
		}
		if res.RowsAffected == 0 {
			// 订单不存在和版本过期都会落到这里，需要再区分一次
			var count int64
			if err := tx.Model(&BeerOrderModel{}).Where("id = ?", order.ID.String()).Count(&count).Error; err != nil {
				return errors.Wrap(err, "probe beer order existence")
			}
			if count == 0 {
				return domain.ErrOrderNotFound
			}
			return domain.ErrVersionConflict
		}

		for _, line := range order.Lines {
			if err := tx.Model(&BeerOrderLineModel{}).
				Where("id = ?", line.ID.String()).
				Update("quantity_allocated", line.QuantityAllocated).Error; err != nil {
				return errors.Wrap(err, "update beer order line")
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	order.Version++
	return nil
}
