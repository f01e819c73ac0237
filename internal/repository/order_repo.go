package repository

import (
	"satspos/internal/models"

	"gorm.io/gorm"
)

type OrderRepository struct {
	db *gorm.DB
}

func NewOrderRepository(db *gorm.DB) *OrderRepository {
	return &OrderRepository{db: db}
}

func (r *OrderRepository) Create(o *models.Order) error {
	return r.db.Create(o).Error
}

func (r *OrderRepository) GetByOrderID(orderID string) (*models.Order, error) {
	var o models.Order
	if err := r.db.Where("order_id = ?", orderID).First(&o).Error; err != nil {
		return nil, err
	}
	return &o, nil
}

func (r *OrderRepository) Update(o *models.Order) error {
	return r.db.Save(o).Error
}

// ListSales returns finished orders, newest first.
func (r *OrderRepository) ListSales(limit int) ([]models.Order, error) {
	if limit <= 0 {
		limit = 100
	}
	var orders []models.Order
	err := r.db.
		Where("state IN ?", []string{"CONFIRMED", "EXPIRED", "ERROR", "CANCELLED"}).
		Order("created_at DESC").
		Limit(limit).
		Find(&orders).Error
	return orders, err
}
