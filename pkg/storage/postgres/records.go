package postgres

import "time"

// ScanRunRecord is one finished scan pass.
type ScanRunRecord struct {
	ID uint `gorm:"primaryKey"`

	RunID      string    `gorm:"type:varchar(36);not null;uniqueIndex:idx_scan_run_run_id"`
	FinishedAt time.Time `gorm:"not null;index:idx_scan_run_finished_at"`
	DurationMs int64     `gorm:"not null"`
	Scanned    int       `gorm:"not null"`
	Total      int       `gorm:"not null"`
	Matches    int       `gorm:"not null"`
	Cancelled  bool      `gorm:"not null"`
	Error      string    `gorm:"type:text"`

	RecordedAt time.Time `gorm:"autoCreateTime"`
}

// TableName overrides the default table name for GORM.
func (ScanRunRecord) TableName() string {
	return "scan_run"
}

// CrossEventRecord is a crossover detected during a scan pass.
type CrossEventRecord struct {
	ID uint `gorm:"primaryKey"`

	RunID       string    `gorm:"type:varchar(36);not null;index:idx_cross_event_run_id"`
	Symbol      string    `gorm:"type:text;not null;index:idx_cross_event_symbol_time"`
	Direction   string    `gorm:"type:varchar(10);not null"`
	Interval    string    `gorm:"type:varchar(10);not null"`
	ShortPeriod int       `gorm:"not null"`
	LongPeriod  int       `gorm:"not null"`
	EventTime   time.Time `gorm:"not null;index:idx_cross_event_symbol_time"`

	Price    float64 `gorm:"type:numeric;not null"`
	Volume   float64 `gorm:"type:numeric;not null"`
	ShortEMA float64 `gorm:"type:numeric;not null"`
	LongEMA  float64 `gorm:"type:numeric;not null"`

	Delivered     bool   `gorm:"not null"`
	DeliveryError string `gorm:"type:text"`

	RecordedAt time.Time `gorm:"autoCreateTime"`
}

// TableName overrides the default table name for GORM.
func (CrossEventRecord) TableName() string {
	return "cross_event"
}
