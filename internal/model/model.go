package model

import "time"

// Reminder is a note the caller asked the assistant to keep.
type Reminder struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Text      string    `gorm:"type:text;not null" json:"text"`
	CallID    string    `gorm:"index" json:"call_id"`
	CreatedAt time.Time `json:"created_at"`
}

// CallRecord is the persisted outcome of one finished call.
type CallRecord struct {
	ID              uint      `gorm:"primaryKey" json:"id"`
	CallID          string    `gorm:"index;not null" json:"call_id"`
	Caller          string    `json:"caller"`
	StartedAt       time.Time `json:"started_at"`
	EndedAt         time.Time `json:"ended_at"`
	DurationSeconds int       `json:"duration_seconds"`
	Reason          string    `json:"reason"`
	CreatedAt       time.Time `json:"created_at"`
}
