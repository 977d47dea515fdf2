package gormstore

import "time"

// EventModel is one row of the event log.
type EventModel struct {
	Seq     uint64 `gorm:"primaryKey;autoIncrement:false"`
	Type    uint16 `gorm:"not null;index"`
	Version uint16 `gorm:"not null"`
	Source  uint16 `gorm:"not null"`
	Flags   uint16 `gorm:"not null"`
	TsEvent int64  `gorm:"not null"`
	TsRecv  int64  `gorm:"not null"`
	TraceID uint64 `gorm:"not null"`
	Payload []byte `gorm:"not null"`
}

func (EventModel) TableName() string { return "ploy_events" }

// DLQModel is one row of the dead-letter queue.
type DLQModel struct {
	ID            string    `gorm:"primaryKey;size:64"`
	State         uint8     `gorm:"not null;index:idx_dlq_due,priority:1"`
	NextAttemptAt time.Time `gorm:"not null;index:idx_dlq_due,priority:2"`
	Attempts      int       `gorm:"not null"`
	LastError     string    `gorm:"type:text"`
	Command       []byte    `gorm:"not null"`
	Report        []byte
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

func (DLQModel) TableName() string { return "ploy_dlq" }
