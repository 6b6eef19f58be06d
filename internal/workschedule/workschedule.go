// Package workschedule manages agents' weekly work schedules and one-off
// access extensions.
package workschedule

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

// DayOpts describes the hours for one weekday.
type DayOpts struct {
	DayOfWeek        int                  `json:"dayOfWeek"`
	Active           bool                 `json:"active"`
	StartTime        *wallclock.TimeOfDay `json:"startTime"`
	EndTime          *wallclock.TimeOfDay `json:"endTime"`
	BreakStart       *wallclock.TimeOfDay `json:"breakStart"`
	BreakEnd         *wallclock.TimeOfDay `json:"breakEnd"`
	ToleranceMinutes int                  `json:"toleranceMinutes"`
}

// CreateOpts holds parameters for creating a schedule. Weekdays missing from
// Days are stored as inactive.
type CreateOpts struct {
	EmployeeID string          `json:"employeeId"`
	Name       string          `json:"name"`
	ValidFrom  wallclock.Date  `json:"validFrom"`
	ValidTo    *wallclock.Date `json:"validTo"`
	Days       []DayOpts       `json:"days"`
	CreatedBy  string          `json:"-"`
}

// Create opens a new schedule for the agent. An open schedule that started
// earlier is closed the day before ValidFrom in the same transaction; any
// remaining overlap with another schedule is a ConflictError.
func Create(ctx context.Context, db *gorm.DB, opts CreateOpts) (*models.WorkSchedule, error) {
	days, err := validateCreate(opts)
	if err != nil {
		return nil, err
	}

	schedule := &models.WorkSchedule{
		ID:         uuid.NewString(),
		EmployeeID: opts.EmployeeID,
		Name:       opts.Name,
		ValidFrom:  opts.ValidFrom,
		ValidTo:    opts.ValidTo,
		CreatedBy:  opts.CreatedBy,
	}
	for _, d := range days {
		d.ID = uuid.NewString()
		d.WorkScheduleID = schedule.ID
		schedule.Days = append(schedule.Days, d)
	}

	err = db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := requireEmployee(tx, opts.EmployeeID); err != nil {
			return err
		}

		var open models.WorkSchedule
		err := tx.Where("employee_id = ? AND valid_to IS NULL", opts.EmployeeID).First(&open).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
		case err != nil:
			return fmt.Errorf("workschedule: load open schedule: %w", err)
		case open.ValidFrom.Before(opts.ValidFrom):
			closeOn := opts.ValidFrom.AddDays(-1)
			if err := tx.Model(&models.WorkSchedule{}).Where("id = ?", open.ID).
				Update("valid_to", closeOn).Error; err != nil {
				return fmt.Errorf("workschedule: close schedule %s: %w", open.ID, err)
			}
		}

		q := tx.Model(&models.WorkSchedule{}).
			Where("employee_id = ?", opts.EmployeeID).
			Where("valid_to IS NULL OR valid_to >= ?", opts.ValidFrom)
		if opts.ValidTo != nil {
			q = q.Where("valid_from <= ?", *opts.ValidTo)
		}
		var overlapping models.WorkSchedule
		err = q.Order("valid_from").First(&overlapping).Error
		if err == nil {
			to := "open"
			if overlapping.ValidTo != nil {
				to = overlapping.ValidTo.String()
			}
			return apperr.Conflict("schedule %q (%s to %s) already covers part of this period",
				overlapping.Name, overlapping.ValidFrom, to).
				With("schedule_id", overlapping.ID)
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("workschedule: check overlap: %w", err)
		}

		if err := tx.Create(schedule).Error; err != nil {
			return fmt.Errorf("workschedule: create: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return schedule, nil
}

func validateCreate(opts CreateOpts) ([]models.WorkScheduleDay, error) {
	if opts.EmployeeID == "" {
		return nil, apperr.Validation("employeeId is required")
	}
	if opts.ValidFrom.IsZero() {
		return nil, apperr.Validation("validFrom is required")
	}
	if opts.ValidTo != nil && opts.ValidTo.Before(opts.ValidFrom) {
		return nil, apperr.Validation("validTo %s is before validFrom %s", opts.ValidTo, opts.ValidFrom)
	}

	byDay := make(map[int]DayOpts, 7)
	for _, d := range opts.Days {
		if d.DayOfWeek < 0 || d.DayOfWeek > 6 {
			return nil, apperr.Validation("dayOfWeek %d is out of range 0-6", d.DayOfWeek)
		}
		if _, dup := byDay[d.DayOfWeek]; dup {
			return nil, apperr.Validation("dayOfWeek %d is listed twice", d.DayOfWeek)
		}
		if err := validateDay(d); err != nil {
			return nil, err
		}
		byDay[d.DayOfWeek] = d
	}

	days := make([]models.WorkScheduleDay, 0, 7)
	for dow := 0; dow < 7; dow++ {
		d, ok := byDay[dow]
		if !ok {
			d = DayOpts{DayOfWeek: dow}
		}
		days = append(days, models.WorkScheduleDay{
			DayOfWeek:        d.DayOfWeek,
			Active:           d.Active,
			StartTime:        d.StartTime,
			EndTime:          d.EndTime,
			BreakStart:       d.BreakStart,
			BreakEnd:         d.BreakEnd,
			ToleranceMinutes: d.ToleranceMinutes,
		})
	}
	return days, nil
}

func validateDay(d DayOpts) error {
	day := time.Weekday(d.DayOfWeek)
	if d.ToleranceMinutes < 0 {
		return apperr.Validation("%s: toleranceMinutes must not be negative", day)
	}
	if !d.Active {
		return nil
	}
	if d.StartTime == nil || d.EndTime == nil {
		return apperr.Validation("%s: active days need startTime and endTime", day)
	}
	if *d.EndTime <= *d.StartTime {
		return apperr.Validation("%s: endTime %s must be after startTime %s", day, d.EndTime, d.StartTime)
	}
	if (d.BreakStart == nil) != (d.BreakEnd == nil) {
		return apperr.Validation("%s: breakStart and breakEnd must be set together", day)
	}
	if d.BreakStart != nil {
		if *d.BreakEnd <= *d.BreakStart {
			return apperr.Validation("%s: breakEnd must be after breakStart", day)
		}
		if *d.BreakStart < *d.StartTime || *d.BreakEnd > *d.EndTime {
			return apperr.Validation("%s: break %s-%s falls outside %s-%s", day, d.BreakStart, d.BreakEnd, d.StartTime, d.EndTime)
		}
	}
	return nil
}

func requireEmployee(tx *gorm.DB, id string) error {
	var count int64
	if err := tx.Model(&models.Employee{}).Where("id = ?", id).Count(&count).Error; err != nil {
		return fmt.Errorf("workschedule: load employee %s: %w", id, err)
	}
	if count == 0 {
		return apperr.NotFound("employee %s not found", id)
	}
	return nil
}

// Active returns the agent's schedule covering date, or nil if none does.
func Active(ctx context.Context, db *gorm.DB, agentID string, date wallclock.Date) (*models.WorkSchedule, error) {
	var s models.WorkSchedule
	err := db.WithContext(ctx).Preload("Days").
		Where("employee_id = ? AND valid_from <= ?", agentID, date).
		Where("valid_to IS NULL OR valid_to >= ?", date).
		Order("valid_from DESC").
		First(&s).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("workschedule: active for %s on %s: %w", agentID, date, err)
	}
	return &s, nil
}

// Latest returns the agent's most recently started schedule, or nil.
func Latest(ctx context.Context, db *gorm.DB, agentID string) (*models.WorkSchedule, error) {
	var s models.WorkSchedule
	err := db.WithContext(ctx).Where("employee_id = ?", agentID).
		Order("valid_from DESC").First(&s).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("workschedule: latest for %s: %w", agentID, err)
	}
	return &s, nil
}

// List returns the agent's schedules, newest first. An empty agentID lists
// every agent's schedules.
func List(ctx context.Context, db *gorm.DB, agentID string) ([]models.WorkSchedule, error) {
	q := db.WithContext(ctx).Preload("Days", func(db *gorm.DB) *gorm.DB {
		return db.Order("day_of_week")
	})
	if agentID != "" {
		q = q.Where("employee_id = ?", agentID)
	}
	var schedules []models.WorkSchedule
	if err := q.Order("employee_id, valid_from DESC").Find(&schedules).Error; err != nil {
		return nil, fmt.Errorf("workschedule: list: %w", err)
	}
	return schedules, nil
}

// GrantOpts holds parameters for granting an access extension.
type GrantOpts struct {
	EmployeeID      string              `json:"employeeId"`
	Date            wallclock.Date      `json:"date"`
	ExtendedEndTime wallclock.TimeOfDay `json:"extendedEndTime"`
	Reason          string              `json:"reason"`
	GrantedBy       string              `json:"-"`
}

// GrantExtension records a one-off extension of the agent's end time on a
// date. On active days the extension must end after the scheduled end; it
// never shortens a shift.
func GrantExtension(ctx context.Context, db *gorm.DB, opts GrantOpts) (*models.AccessExtension, error) {
	if opts.EmployeeID == "" {
		return nil, apperr.Validation("employeeId is required")
	}
	if opts.Date.IsZero() {
		return nil, apperr.Validation("date is required")
	}
	if opts.ExtendedEndTime.Minutes() <= 0 || opts.ExtendedEndTime.Minutes() > wallclock.MinutesPerDay {
		return nil, apperr.Validation("extendedEndTime %s is outside the day", opts.ExtendedEndTime)
	}

	ext := &models.AccessExtension{
		ID:              uuid.NewString(),
		EmployeeID:      opts.EmployeeID,
		Date:            opts.Date,
		ExtendedEndTime: opts.ExtendedEndTime,
		Reason:          opts.Reason,
		GrantedBy:       opts.GrantedBy,
	}
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := requireEmployee(tx, opts.EmployeeID); err != nil {
			return err
		}
		schedule, err := Active(ctx, tx, opts.EmployeeID, opts.Date)
		if err != nil {
			return err
		}
		if schedule != nil {
			if day := schedule.Day(opts.Date.Weekday()); day != nil && day.Active && day.EndTime != nil &&
				opts.ExtendedEndTime <= *day.EndTime {
				return apperr.Validation("extendedEndTime %s must be after the scheduled end %s", opts.ExtendedEndTime, day.EndTime).
					With("scheduled_end", day.EndTime.String())
			}
		}
		if err := tx.Create(ext).Error; err != nil {
			return fmt.Errorf("workschedule: create extension: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ext, nil
}

// LatestExtension returns the most recently granted extension for the
// agent/date, or nil.
func LatestExtension(ctx context.Context, db *gorm.DB, agentID string, date wallclock.Date) (*models.AccessExtension, error) {
	var ext models.AccessExtension
	err := db.WithContext(ctx).
		Where("employee_id = ? AND date = ?", agentID, date).
		Order("created_at DESC").
		First(&ext).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("workschedule: extension for %s on %s: %w", agentID, date, err)
	}
	return &ext, nil
}

// ListExtensions returns extensions, newest first, filtered by agent and/or
// date when given.
func ListExtensions(ctx context.Context, db *gorm.DB, agentID string, date *wallclock.Date) ([]models.AccessExtension, error) {
	q := db.WithContext(ctx)
	if agentID != "" {
		q = q.Where("employee_id = ?", agentID)
	}
	if date != nil {
		q = q.Where("date = ?", *date)
	}
	var exts []models.AccessExtension
	if err := q.Order("created_at DESC").Find(&exts).Error; err != nil {
		return nil, fmt.Errorf("workschedule: list extensions: %w", err)
	}
	return exts, nil
}
