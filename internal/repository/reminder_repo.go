package repository

import (
	"gorm.io/gorm"

	"github.com/kpataki/klaragw/internal/model"
)

type ReminderRepository struct {
	db *gorm.DB
}

func NewReminderRepository(db *gorm.DB) *ReminderRepository {
	return &ReminderRepository{db: db}
}

func (r *ReminderRepository) Create(reminder *model.Reminder) error {
	return r.db.Create(reminder).Error
}

// List returns reminders newest first.
func (r *ReminderRepository) List(limit int) ([]model.Reminder, error) {
	var reminders []model.Reminder
	err := r.db.Order("created_at DESC").Limit(limit).Find(&reminders).Error
	return reminders, err
}
