// Package access decides whether a field agent's device may operate right
// now, based on the agent's weekly work schedule and one-off extensions.
package access

import (
	"context"
	"fmt"
	"time"

	"github.com/zulandar/visitline/internal/models"
	"github.com/zulandar/visitline/internal/wallclock"
	"github.com/zulandar/visitline/internal/workschedule"
	"gorm.io/gorm"
)

// Reasons reported with every decision.
const (
	ReasonWithinWindow    = "within_window"
	ReasonNoSchedule      = "no_schedule_defined"
	ReasonScheduleExpired = "schedule_expired"
	ReasonDayOff          = "day_off"
	ReasonExtensionDayOff = "extension_day_off"
	ReasonTooEarly        = "too_early"
	ReasonShiftEnded      = "shift_ended"
)

// DefaultEarlyMargin is how long before the shift start access opens.
const DefaultEarlyMargin = 30 * time.Minute

// Input is everything Evaluate needs. Now must already be expressed in the
// schedule's wall-clock zone.
type Input struct {
	Now         time.Time
	Schedule    *models.WorkSchedule // schedule covering Now's date, if any
	Latest      *models.WorkSchedule // agent's latest schedule, used when Schedule is nil
	Extension   *models.AccessExtension
	EarlyMargin time.Duration
}

// Status is the access decision plus the effective window for display.
type Status struct {
	Allowed          bool                 `json:"allowed"`
	Reason           string               `json:"reason"`
	Date             wallclock.Date       `json:"date"`
	Now              time.Time            `json:"now"`
	ScheduleID       string               `json:"scheduleId,omitempty"`
	WindowStart      *wallclock.TimeOfDay `json:"start,omitempty"`
	WindowEnd        *wallclock.TimeOfDay `json:"end,omitempty"`
	ToleranceMinutes int                  `json:"toleranceMinutes"`
	EarliestAccess   *time.Time           `json:"earliestAccess,omitempty"`
	LatestAccess     *time.Time           `json:"latestAccess,omitempty"`
	BreakStart       *wallclock.TimeOfDay `json:"breakStart,omitempty"`
	BreakEnd         *wallclock.TimeOfDay `json:"breakEnd,omitempty"`
	ExtensionApplied bool                 `json:"extensionApplied"`
}

// Evaluate applies the access policy. It has no side effects.
func Evaluate(in Input) Status {
	loc := in.Now.Location()
	today := wallclock.DateOf(in.Now)
	st := Status{Date: today, Now: in.Now}

	if in.Schedule == nil {
		st.Reason = ReasonNoSchedule
		if in.Latest != nil && in.Latest.ValidTo != nil && in.Latest.ValidTo.Before(today) {
			st.Reason = ReasonScheduleExpired
		}
		return st
	}
	st.ScheduleID = in.Schedule.ID
	if in.Schedule.ValidTo != nil && in.Schedule.ValidTo.Before(today) {
		st.Reason = ReasonScheduleExpired
		return st
	}

	day := in.Schedule.Day(today.Weekday())
	if day == nil || !day.Active || day.StartTime == nil || day.EndTime == nil {
		if in.Extension != nil {
			end := in.Extension.ExtendedEndTime
			latest := end.On(today, loc)
			st.WindowEnd = &end
			st.LatestAccess = &latest
			st.ExtensionApplied = true
			if !in.Now.After(latest) {
				st.Allowed = true
				st.Reason = ReasonExtensionDayOff
				return st
			}
		}
		st.Reason = ReasonDayOff
		return st
	}

	margin := in.EarlyMargin
	if margin <= 0 {
		margin = DefaultEarlyMargin
	}
	start, end := *day.StartTime, *day.EndTime
	if in.Extension != nil && in.Extension.ExtendedEndTime > end {
		end = in.Extension.ExtendedEndTime
		st.ExtensionApplied = true
	}
	earliest := start.On(today, loc).Add(-margin)
	latest := end.On(today, loc).Add(time.Duration(day.ToleranceMinutes) * time.Minute)

	st.WindowStart = &start
	st.WindowEnd = &end
	st.ToleranceMinutes = day.ToleranceMinutes
	st.EarliestAccess = &earliest
	st.LatestAccess = &latest
	st.BreakStart = day.BreakStart
	st.BreakEnd = day.BreakEnd

	switch {
	case in.Now.Before(earliest):
		st.Reason = ReasonTooEarly
	case in.Now.After(latest):
		st.Reason = ReasonShiftEnded
	default:
		st.Allowed = true
		st.Reason = ReasonWithinWindow
	}
	return st
}

// Options configures Check.
type Options struct {
	Location    *time.Location
	EarlyMargin time.Duration
}

// Check resolves the agent's schedule and extension for now's local date and
// evaluates the access policy.
func Check(ctx context.Context, db *gorm.DB, agentID string, now time.Time, opts Options) (Status, error) {
	if opts.Location != nil {
		now = now.In(opts.Location)
	}
	today := wallclock.DateOf(now)
	in := Input{Now: now, EarlyMargin: opts.EarlyMargin}

	schedule, err := workschedule.Active(ctx, db, agentID, today)
	if err != nil {
		return Status{}, fmt.Errorf("access: %w", err)
	}
	in.Schedule = schedule
	if schedule == nil {
		if in.Latest, err = workschedule.Latest(ctx, db, agentID); err != nil {
			return Status{}, fmt.Errorf("access: %w", err)
		}
		return Evaluate(in), nil
	}

	if in.Extension, err = workschedule.LatestExtension(ctx, db, agentID, today); err != nil {
		return Status{}, fmt.Errorf("access: %w", err)
	}
	return Evaluate(in), nil
}
