package postgres

import (
	"context"
	"fmt"
	"math"
	"time"

	"crossscanner/internal/scanstate"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// InsertScanRun stores a run and its events in one transaction. A run id
// that already exists is skipped.
func (p *PostgresClient) InsertScanRun(ctx context.Context, run *ScanRunRecord, events []CrossEventRecord) error {
	return p.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "run_id"}},
			DoNothing: true,
		}).Create(run)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("duplicate scan run skipped: run_id=%s", run.RunID)
		}
		if len(events) == 0 {
			return nil
		}
		return tx.CreateInBatches(events, 100).Error
	})
}

// RecentScanRuns returns the newest runs first.
func (p *PostgresClient) RecentScanRuns(ctx context.Context, limit int) ([]ScanRunRecord, error) {
	var runs []ScanRunRecord
	err := p.DB.WithContext(ctx).
		Order("finished_at DESC").
		Limit(limit).
		Find(&runs).Error
	return runs, err
}

// CrossEventsBySymbol returns the newest events of symbol first.
func (p *PostgresClient) CrossEventsBySymbol(ctx context.Context, symbol string, limit int) ([]CrossEventRecord, error) {
	var events []CrossEventRecord
	err := p.DB.WithContext(ctx).
		Where("symbol = ?", symbol).
		Order("event_time DESC").
		Limit(limit).
		Find(&events).Error
	return events, err
}

// DeleteRunsBefore removes runs and their events finished before t.
func (p *PostgresClient) DeleteRunsBefore(ctx context.Context, before time.Time) error {
	return p.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		sub := tx.Model(&ScanRunRecord{}).Select("run_id").Where("finished_at < ?", before)
		if err := tx.Where("run_id IN (?)", sub).Delete(&CrossEventRecord{}).Error; err != nil {
			return err
		}
		return tx.Where("finished_at < ?", before).Delete(&ScanRunRecord{}).Error
	})
}

// SaveRun implements scanstate.Sink.
func (p *PostgresClient) SaveRun(ctx context.Context, o scanstate.Outcome) error {
	run, events := ToScanRunRecord(o)
	return p.InsertScanRun(ctx, run, events)
}

// ToScanRunRecord converts a run outcome into rows for insertion.
func ToScanRunRecord(o scanstate.Outcome) (*ScanRunRecord, []CrossEventRecord) {
	run := &ScanRunRecord{
		RunID:      o.RunID,
		FinishedAt: o.FinishedAt,
		DurationMs: o.Duration.Milliseconds(),
		Scanned:    o.Scanned,
		Total:      o.Total,
		Matches:    len(o.Matches),
		Cancelled:  o.Cancelled,
	}
	if o.Err != nil {
		run.Error = o.Err.Error()
	}

	events := make([]CrossEventRecord, 0, len(o.Matches))
	for _, m := range o.Matches {
		events = append(events, CrossEventRecord{
			RunID:         o.RunID,
			Symbol:        m.Symbol,
			Direction:     string(m.Direction),
			Interval:      m.Interval,
			ShortPeriod:   m.ShortPeriod,
			LongPeriod:    m.LongPeriod,
			EventTime:     m.Time,
			Price:         finite(m.Price),
			Volume:        finite(m.Volume),
			ShortEMA:      finite(m.ShortEMA),
			LongEMA:       finite(m.LongEMA),
			Delivered:     m.Delivered,
			DeliveryError: m.DeliveryError,
		})
	}
	return run, events
}

// numeric columns reject NaN and Inf
func finite(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}
