package store

import "time"

// -------------------------------------------------------------------------
// GORM Models
// -------------------------------------------------------------------------

// Device is a registered tracker. Only devices with Active=true may
// authenticate; Online reflects whether a session is currently open.
type Device struct {
	ID            uint   `gorm:"primaryKey"`
	IMEI          string `gorm:"uniqueIndex;size:32;not null"`
	CompanyID     uint   `gorm:"index"`
	Active        bool   `gorm:"default:true"`
	Online        bool   `gorm:"index"`
	LastSeen      time.Time
	LastHeartbeat time.Time
	LastLogin     time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Location is a persisted position report. The geography(Point,4326)
// column geom is managed outside the model: added by migration and
// populated from (Longitude, Latitude) on insert.
type Location struct {
	ID             uint      `gorm:"primaryKey"`
	DeviceID       uint      `gorm:"index:idx_locations_device_recorded,priority:1"`
	Latitude       float64   `gorm:"not null"`
	Longitude      float64   `gorm:"not null"`
	Speed          float64
	Course         float64
	Altitude       float64
	Satellites     int
	HDOP           float64
	BatteryLevel   int
	SignalStrength int
	RecordedAt     time.Time `gorm:"index:idx_locations_device_recorded,priority:2"`
	Raw            string
	CreatedAt      time.Time
}

// Alert is a persisted alarm record.
type Alert struct {
	ID          uint   `gorm:"primaryKey"`
	DeviceID    uint   `gorm:"index"`
	Kind        string `gorm:"size:32;index"`
	Message     string
	Latitude    float64
	Longitude   float64
	TriggeredAt time.Time
	Raw         string
	Resolved    bool `gorm:"default:false"`
	CreatedAt   time.Time
}

// Command is a queued device command and its delivery outcome. The id is
// producer-assigned (or a generated UUID) so external systems can track
// their commands through the lifecycle.
type Command struct {
	ID        string        `gorm:"primaryKey;size:64"`
	DeviceID  uint          `gorm:"index"`
	IMEI      string        `gorm:"size:32;index:idx_commands_imei_status,priority:1"`
	Kind      string        `gorm:"size:32"`
	Payload   string
	Status    CommandStatus `gorm:"size:16;index:idx_commands_imei_status,priority:2"`
	Response  string
	Error     string
	CreatedAt time.Time
	SentAt    *time.Time
	AckAt     *time.Time
	FailedAt  *time.Time
}
