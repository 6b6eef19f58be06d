// Package compliance watches for missed time-clock punches. Each sweep looks
// at every active promoter's schedule for today; a checkpoint (entry, lunch
// start, lunch end) whose tolerance has passed without a punch raises an
// alert. Agents whose device was seen recently get a direct reminder; the
// rest are escalated to supervisors.
package compliance

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/zulandar/visitline/internal/models"
	"github.com/zulandar/visitline/internal/notify"
	"github.com/zulandar/visitline/internal/presence"
	"github.com/zulandar/visitline/internal/timeclock"
	"github.com/zulandar/visitline/internal/wallclock"
	"github.com/zulandar/visitline/internal/workschedule"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	DefaultSchedule     = "@every 1m"
	DefaultOnlineWindow = 15 * time.Minute
)

var checkpointLabels = map[string]string{
	models.PunchEntry:      "entry",
	models.PunchLunchStart: "lunch start",
	models.PunchLunchEnd:   "lunch return",
}

// MonitorOpts holds parameters for creating a Monitor.
type MonitorOpts struct {
	DB               *gorm.DB
	Presence         presence.Tracker   // nil treats every agent as offline
	Agents           notify.TextSender  // reminders to agents
	Supervisors      notify.Broadcaster // escalations to the supervisors' channel
	SupervisorPhones []string           // escalations by text
	OnlineWindow     time.Duration
	RealertAfter     time.Duration // 0 re-alerts on every sweep
	Schedule         string        // cron spec for Run
	Location         *time.Location
	Logger           *zap.Logger
	Now              func() time.Time
}

// Monitor runs punch compliance sweeps.
type Monitor struct {
	db               *gorm.DB
	presence         presence.Tracker
	agents           notify.TextSender
	supervisors      notify.Broadcaster
	supervisorPhones []string
	onlineWindow     time.Duration
	realertAfter     time.Duration
	schedule         string
	loc              *time.Location
	log              *zap.Logger
	now              func() time.Time
}

// NewMonitor creates a Monitor.
func NewMonitor(opts MonitorOpts) (*Monitor, error) {
	if opts.DB == nil {
		return nil, fmt.Errorf("compliance: db is required")
	}
	m := &Monitor{
		db:               opts.DB,
		presence:         opts.Presence,
		agents:           opts.Agents,
		supervisors:      opts.Supervisors,
		supervisorPhones: opts.SupervisorPhones,
		onlineWindow:     opts.OnlineWindow,
		realertAfter:     opts.RealertAfter,
		schedule:         opts.Schedule,
		loc:              opts.Location,
		log:              opts.Logger,
		now:              opts.Now,
	}
	if m.log == nil {
		m.log = zap.NewNop()
	}
	if m.agents == nil {
		m.agents = notify.LogSender{Logger: m.log}
	}
	if m.onlineWindow <= 0 {
		m.onlineWindow = DefaultOnlineWindow
	}
	if m.schedule == "" {
		m.schedule = DefaultSchedule
	}
	if m.loc == nil {
		m.loc = time.UTC
	}
	if m.now == nil {
		m.now = time.Now
	}
	if _, err := cron.ParseStandard(m.schedule); err != nil {
		return nil, fmt.Errorf("compliance: schedule %q: %w", m.schedule, err)
	}
	return m, nil
}

// SweepResult summarizes one sweep.
type SweepResult struct {
	Agents      int
	Reminders   int
	Escalations int
	Failures    int
	Alerts      []models.ComplianceAlert
}

// Sweep checks every active promoter once. A failure for one agent is
// logged and counted without stopping the sweep; only failing to list the
// agents is returned as an error.
func (m *Monitor) Sweep(ctx context.Context, now time.Time) (SweepResult, error) {
	var res SweepResult
	var agents []models.Employee
	err := m.db.WithContext(ctx).
		Where("role = ? AND active = ?", models.RolePromoter, true).
		Order("id").
		Find(&agents).Error
	if err != nil {
		return res, fmt.Errorf("compliance: list agents: %w", err)
	}

	local := now.In(m.loc)
	date := wallclock.DateOf(local)
	for i := range agents {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		res.Agents++
		alerts, err := m.checkAgentSafe(ctx, &agents[i], date, local)
		for _, a := range alerts {
			if a.Kind == models.AlertReminder {
				res.Reminders++
			} else {
				res.Escalations++
			}
		}
		res.Alerts = append(res.Alerts, alerts...)
		if err != nil {
			res.Failures++
			m.log.Error("compliance check failed",
				zap.String("employee_id", agents[i].ID),
				zap.String("date", date.String()),
				zap.Error(err),
			)
		}
	}
	m.log.Debug("compliance sweep done",
		zap.Int("agents", res.Agents),
		zap.Int("reminders", res.Reminders),
		zap.Int("escalations", res.Escalations),
		zap.Int("failures", res.Failures),
	)
	return res, nil
}

func (m *Monitor) checkAgentSafe(ctx context.Context, emp *models.Employee, date wallclock.Date, local time.Time) (alerts []models.ComplianceAlert, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return m.checkAgent(ctx, emp, date, local)
}

type checkpoint struct {
	punch string
	at    *wallclock.TimeOfDay
}

func (m *Monitor) checkAgent(ctx context.Context, emp *models.Employee, date wallclock.Date, local time.Time) ([]models.ComplianceAlert, error) {
	sched, err := workschedule.Active(ctx, m.db, emp.ID, date)
	if err != nil || sched == nil {
		return nil, err
	}
	day := sched.Day(date.Weekday())
	if day == nil || !day.Active || day.StartTime == nil || day.EndTime == nil {
		return nil, nil
	}
	tolerance := time.Duration(day.ToleranceMinutes) * time.Minute
	if local.After(day.EndTime.On(date, m.loc).Add(tolerance)) {
		return nil, nil
	}

	punched, err := timeclock.Punched(ctx, m.db, emp.ID, date)
	if err != nil {
		return nil, err
	}
	if punched[models.PunchExit] {
		return nil, nil
	}

	var alerts []models.ComplianceAlert
	var errs []error
	for _, cp := range []checkpoint{
		{models.PunchEntry, day.StartTime},
		{models.PunchLunchStart, day.BreakStart},
		{models.PunchLunchEnd, day.BreakEnd},
	} {
		if cp.at == nil || punched[cp.punch] {
			continue
		}
		scheduled := cp.at.On(date, m.loc)
		if !local.After(scheduled.Add(tolerance)) {
			continue
		}
		if m.realertAfter > 0 {
			recent, err := m.alertedSince(ctx, emp.ID, date, cp.punch, local.Add(-m.realertAfter).UTC())
			if err != nil {
				errs = append(errs, err)
				continue
			}
			if recent {
				continue
			}
		}
		alert, err := m.raise(ctx, emp, date, cp.punch, *cp.at, int(local.Sub(scheduled)/time.Minute), local)
		if alert != nil {
			alerts = append(alerts, *alert)
		}
		if err != nil {
			errs = append(errs, err)
		}
	}
	return alerts, errors.Join(errs...)
}

func (m *Monitor) alertedSince(ctx context.Context, employeeID string, date wallclock.Date, punch string, since time.Time) (bool, error) {
	var n int64
	err := m.db.WithContext(ctx).Model(&models.ComplianceAlert{}).
		Where("employee_id = ? AND date = ? AND checkpoint = ? AND created_at > ?", employeeID, date.String(), punch, since).
		Count(&n).Error
	if err != nil {
		return false, fmt.Errorf("compliance: recent alerts: %w", err)
	}
	return n > 0, nil
}

// raise delivers one alert and records it. The record is written even when
// delivery fails, so the attempt is visible.
func (m *Monitor) raise(ctx context.Context, emp *models.Employee, date wallclock.Date, punch string, scheduled wallclock.TimeOfDay, late int, now time.Time) (*models.ComplianceAlert, error) {
	online := false
	if m.presence != nil {
		var err error
		online, err = presence.Online(ctx, m.presence, emp.ID, now, m.onlineWindow)
		if err != nil {
			m.log.Warn("presence lookup failed, escalating", zap.String("employee_id", emp.ID), zap.Error(err))
			online = false
		}
	}

	label := checkpointLabels[punch]
	rec := &models.ComplianceAlert{
		EmployeeID:  emp.ID,
		Date:        date.String(),
		Checkpoint:  punch,
		Online:      online,
		MinutesLate: late,
		CreatedAt:   now.UTC(),
	}

	var sendErr error
	if online && emp.Phone != "" {
		rec.Kind = models.AlertReminder
		rec.Message = fmt.Sprintf("Hi %s, your %s punch was due at %s and is %d min late. Please punch now.",
			emp.Name, label, scheduled, late)
		sendErr = m.agents.SendText(ctx, emp.Phone, rec.Message)
	} else {
		rec.Kind = models.AlertEscalation
		rec.Message = fmt.Sprintf("%s has not punched %s (due %s, %d min late) and is offline.",
			emp.Name, label, scheduled, late)
		sendErr = m.escalate(ctx, emp, rec, label, scheduled)
	}

	if err := m.db.WithContext(ctx).Create(rec).Error; err != nil {
		return nil, errors.Join(sendErr, fmt.Errorf("compliance: record alert: %w", err))
	}
	m.log.Info("compliance alert",
		zap.String("employee_id", emp.ID),
		zap.String("checkpoint", punch),
		zap.String("kind", rec.Kind),
		zap.Int("minutes_late", late),
		zap.Bool("online", online),
	)
	if sendErr != nil {
		return rec, fmt.Errorf("compliance: deliver %s alert: %w", rec.Kind, sendErr)
	}
	return rec, nil
}

func (m *Monitor) escalate(ctx context.Context, emp *models.Employee, rec *models.ComplianceAlert, label string, scheduled wallclock.TimeOfDay) error {
	var errs []error
	if m.supervisors != nil {
		alert := notify.Alert{
			Title:    fmt.Sprintf("Missed %s punch: %s", label, emp.Name),
			Body:     rec.Message,
			Severity: notify.SeverityError,
			Fields: []notify.Field{
				{Name: "Agent", Value: emp.Name, Short: true},
				{Name: "Checkpoint", Value: label, Short: true},
				{Name: "Scheduled", Value: scheduled.String(), Short: true},
				{Name: "Minutes late", Value: fmt.Sprint(rec.MinutesLate), Short: true},
			},
		}
		if err := m.supervisors.Broadcast(ctx, alert); err != nil {
			errs = append(errs, err)
		}
	}
	for _, phone := range m.supervisorPhones {
		if err := m.agents.SendText(ctx, phone, rec.Message); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Run sweeps on the configured cron schedule until ctx is cancelled. A tick
// that arrives while the previous sweep is still running is skipped.
func (m *Monitor) Run(ctx context.Context) error {
	c := cron.New(
		cron.WithLocation(m.loc),
		cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
	)
	_, err := c.AddFunc(m.schedule, func() {
		if _, err := m.Sweep(ctx, m.now()); err != nil && ctx.Err() == nil {
			m.log.Error("compliance sweep failed", zap.Error(err))
		}
	})
	if err != nil {
		return fmt.Errorf("compliance: schedule %q: %w", m.schedule, err)
	}
	m.log.Info("compliance monitor started", zap.String("schedule", m.schedule))
	c.Start()
	<-ctx.Done()
	<-c.Stop().Done()
	m.log.Info("compliance monitor stopped")
	return nil
}
