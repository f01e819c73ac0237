package repository

import (
	"satspos/internal/models"

	"gorm.io/gorm"
)

type MerchantRepository struct {
	db *gorm.DB
}

func NewMerchantRepository(db *gorm.DB) *MerchantRepository {
	return &MerchantRepository{db: db}
}

func (r *MerchantRepository) GetByName(name string) (*models.Merchant, error) {
	var m models.Merchant
	if err := r.db.Where("name = ?", name).First(&m).Error; err != nil {
		return nil, err
	}
	return &m, nil
}

func (r *MerchantRepository) Save(m *models.Merchant) error {
	return r.db.Save(m).Error
}
