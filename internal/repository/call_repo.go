package repository

import (
	"gorm.io/gorm"

	"github.com/kpataki/klaragw/internal/model"
)

type CallRepository struct {
	db *gorm.DB
}

func NewCallRepository(db *gorm.DB) *CallRepository {
	return &CallRepository{db: db}
}

func (r *CallRepository) Create(record *model.CallRecord) error {
	return r.db.Create(record).Error
}

// Recent returns finished calls newest first.
func (r *CallRepository) Recent(limit int) ([]model.CallRecord, error) {
	var records []model.CallRecord
	err := r.db.Order("ended_at DESC").Limit(limit).Find(&records).Error
	return records, err
}
