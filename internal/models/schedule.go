package models

import (
	"time"

	"github.com/zulandar/visitline/internal/wallclock"
)

// WorkSchedule is a weekly template of working hours for one agent, valid
// from ValidFrom through ValidTo inclusive. A nil ValidTo marks the agent's
// currently open schedule; there is at most one per agent.
type WorkSchedule struct {
	ID         string          `gorm:"primaryKey;size:36" json:"id"`
	EmployeeID string          `gorm:"size:36;not null;index" json:"employeeId"`
	Name       string          `gorm:"size:128" json:"name"`
	ValidFrom  wallclock.Date  `gorm:"type:varchar(10);not null;index" json:"validFrom"`
	ValidTo    *wallclock.Date `gorm:"type:varchar(10);index" json:"validTo"`
	CreatedBy  string          `gorm:"size:36" json:"createdBy"`
	CreatedAt  time.Time       `json:"createdAt"`
	UpdatedAt  time.Time       `json:"updatedAt"`

	Days []WorkScheduleDay `gorm:"foreignKey:WorkScheduleID" json:"days"`
}

// Day returns the entry for the given weekday, or nil.
func (s *WorkSchedule) Day(weekday time.Weekday) *WorkScheduleDay {
	for i := range s.Days {
		if s.Days[i].DayOfWeek == int(weekday) {
			return &s.Days[i]
		}
	}
	return nil
}

// WorkScheduleDay holds the hours for one weekday (0 = Sunday).
type WorkScheduleDay struct {
	ID               string               `gorm:"primaryKey;size:36" json:"id"`
	WorkScheduleID   string               `gorm:"size:36;not null;index" json:"-"`
	DayOfWeek        int                  `gorm:"not null" json:"dayOfWeek"`
	Active           bool                 `gorm:"default:false" json:"active"`
	StartTime        *wallclock.TimeOfDay `gorm:"type:varchar(5)" json:"startTime"`
	EndTime          *wallclock.TimeOfDay `gorm:"type:varchar(5)" json:"endTime"`
	BreakStart       *wallclock.TimeOfDay `gorm:"type:varchar(5)" json:"breakStart"`
	BreakEnd         *wallclock.TimeOfDay `gorm:"type:varchar(5)" json:"breakEnd"`
	ToleranceMinutes int                  `gorm:"default:0" json:"toleranceMinutes"`
}

// AccessExtension extends one agent's permitted end time on one date. The
// most recently created extension for an agent/date is authoritative.
type AccessExtension struct {
	ID              string              `gorm:"primaryKey;size:36" json:"id"`
	EmployeeID      string              `gorm:"size:36;not null;index:idx_extension_agent_date" json:"employeeId"`
	Date            wallclock.Date      `gorm:"type:varchar(10);not null;index:idx_extension_agent_date" json:"date"`
	ExtendedEndTime wallclock.TimeOfDay `gorm:"type:varchar(5);not null" json:"extendedEndTime"`
	Reason          string              `gorm:"type:text" json:"reason"`
	GrantedBy       string              `gorm:"size:36" json:"grantedBy"`
	CreatedAt       time.Time           `json:"createdAt"`
}

// Punch types recorded on the time clock.
const (
	PunchEntry      = "ENTRY"
	PunchLunchStart = "LUNCH_START"
	PunchLunchEnd   = "LUNCH_END"
	PunchExit       = "EXIT"
)

// TimeClockEntry is one punch recorded by a field agent.
type TimeClockEntry struct {
	ID         string         `gorm:"primaryKey;size:36" json:"id"`
	EmployeeID string         `gorm:"size:36;not null;index:idx_punch_agent_date" json:"employeeId"`
	Date       wallclock.Date `gorm:"type:varchar(10);not null;index:idx_punch_agent_date" json:"date"`
	Type       string         `gorm:"size:16;not null" json:"type"`
	Timestamp  time.Time      `gorm:"not null" json:"timestamp"`
	Latitude   *float64       `json:"latitude"`
	Longitude  *float64       `json:"longitude"`
	CreatedAt  time.Time      `json:"createdAt"`
}
