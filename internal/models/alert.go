package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Durable copy of a dispatched alert, kept for audit beyond the
// 24h in-memory history.
type AlertRecord struct {
	ID        uuid.UUID `gorm:"type:uuid;primary_key" json:"id"`
	Type      string    `gorm:"index;not null" json:"type"`
	Level     string    `gorm:"index;not null" json:"level"`
	Message   string    `gorm:"not null" json:"message"`
	UserID    string    `gorm:"index" json:"user_id,omitempty"`
	APIType   string    `gorm:"index" json:"api_type,omitempty"`
	Current   float64   `json:"current_value"`
	Threshold float64   `json:"threshold_value"`
	CreatedAt time.Time `gorm:"index" json:"created_at"`
}

func (a *AlertRecord) BeforeCreate(tx *gorm.DB) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	return nil
}

func (AlertRecord) TableName() string {
	return "alert_records"
}
