// Package timeclock records the punches field agents make at the start and
// end of their shift and around lunch.
package timeclock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/zulandar/visitline/internal/apperr"
	"github.com/zulandar/visitline/internal/models"
	"github.com/zulandar/visitline/internal/wallclock"
	"gorm.io/gorm"
)

// punchOrder is the sequence punches must follow within a day.
var punchOrder = map[string]int{
	models.PunchEntry:      0,
	models.PunchLunchStart: 1,
	models.PunchLunchEnd:   2,
	models.PunchExit:       3,
}

// ValidType reports whether t is a known punch type.
func ValidType(t string) bool {
	_, ok := punchOrder[t]
	return ok
}

// PunchOpts holds parameters for recording a punch.
type PunchOpts struct {
	EmployeeID string         `json:"-"`
	Type       string         `json:"type"`
	Timestamp  time.Time      `json:"timestamp"` // defaults to now
	Location   *time.Location `json:"-"`         // zone that decides the local date
	Latitude   *float64       `json:"latitude"`
	Longitude  *float64       `json:"longitude"`
}

// Record stores a punch. Each type may be punched once per agent per local
// day, and a punch may not precede one of an earlier type on the same day.
func Record(ctx context.Context, db *gorm.DB, opts PunchOpts) (*models.TimeClockEntry, error) {
	if opts.EmployeeID == "" {
		return nil, apperr.Validation("employee id is required")
	}
	if !ValidType(opts.Type) {
		return nil, apperr.Validation("invalid punch type %q", opts.Type)
	}
	if (opts.Latitude == nil) != (opts.Longitude == nil) {
		return nil, apperr.Validation("latitude and longitude must be given together")
	}
	ts := opts.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	loc := opts.Location
	if loc == nil {
		loc = time.UTC
	}
	date := wallclock.DateOf(ts.In(loc))

	entry := &models.TimeClockEntry{
		ID:         uuid.NewString(),
		EmployeeID: opts.EmployeeID,
		Date:       date,
		Type:       opts.Type,
		Timestamp:  ts,
		Latitude:   opts.Latitude,
		Longitude:  opts.Longitude,
	}
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var n int64
		if err := tx.Model(&models.Employee{}).Where("id = ?", opts.EmployeeID).Count(&n).Error; err != nil {
			return fmt.Errorf("timeclock: lookup employee: %w", err)
		}
		if n == 0 {
			return apperr.NotFound("employee %s not found", opts.EmployeeID)
		}

		var today []models.TimeClockEntry
		if err := tx.Where("employee_id = ? AND date = ?", opts.EmployeeID, date).Find(&today).Error; err != nil {
			return fmt.Errorf("timeclock: load punches: %w", err)
		}
		for _, p := range today {
			if p.Type == opts.Type {
				return apperr.Conflict("%s already punched on %s at %s", opts.Type, date, p.Timestamp.In(loc).Format("15:04")).
					With("punch_id", p.ID)
			}
			if punchOrder[p.Type] > punchOrder[opts.Type] {
				return apperr.State("%s cannot be punched after %s", opts.Type, p.Type)
			}
		}
		if err := tx.Create(entry).Error; err != nil {
			return fmt.Errorf("timeclock: create punch: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// ForDay returns an agent's punches on a local date in punch order.
func ForDay(ctx context.Context, db *gorm.DB, employeeID string, date wallclock.Date) ([]models.TimeClockEntry, error) {
	var entries []models.TimeClockEntry
	err := db.WithContext(ctx).
		Where("employee_id = ? AND date = ?", employeeID, date).
		Order("timestamp").
		Find(&entries).Error
	if err != nil {
		return nil, fmt.Errorf("timeclock: list punches: %w", err)
	}
	return entries, nil
}

// Punched reports which punch types an agent has recorded on date.
func Punched(ctx context.Context, db *gorm.DB, employeeID string, date wallclock.Date) (map[string]bool, error) {
	entries, err := ForDay(ctx, db, employeeID, date)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]bool, len(entries))
	for _, e := range entries {
		seen[e.Type] = true
	}
	return seen, nil
}

// Last returns the agent's most recent punch on date, or nil.
func Last(ctx context.Context, db *gorm.DB, employeeID string, date wallclock.Date) (*models.TimeClockEntry, error) {
	var e models.TimeClockEntry
	err := db.WithContext(ctx).
		Where("employee_id = ? AND date = ?", employeeID, date).
		Order("timestamp DESC").
		First(&e).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("timeclock: last punch: %w", err)
	}
	return &e, nil
}
