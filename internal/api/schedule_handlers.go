package api

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/visitline/internal/access"
	"github.com/zulandar/visitline/internal/apperr"
	"github.com/zulandar/visitline/internal/timeclock"
	"github.com/zulandar/visitline/internal/wallclock"
	"github.com/zulandar/visitline/internal/workschedule"
	"go.uber.org/zap"
)

// subject returns the employee a request is about: the caller, or the
// employeeId query parameter for privileged callers.
func subject(c *gin.Context) (string, error) {
	actor := actorFrom(c)
	id := c.Query("employeeId")
	if id == "" || id == actor.ID {
		return actor.ID, nil
	}
	if !actor.Privileged() {
		return "", apperr.Forbidden("cannot read data of employee %s", id)
	}
	return id, nil
}

func (s *server) handleAccessStatus(c *gin.Context) {
	id, err := subject(c)
	if err != nil {
		s.fail(c, err)
		return
	}
	status, err := access.Check(c.Request.Context(), s.db, id, s.now(), access.Options{Location: s.loc, EarlyMargin: s.early})
	if err != nil {
		s.fail(c, err)
		return
	}
	success(c, status)
}

func (s *server) handleScheduleList(c *gin.Context) {
	id, err := subject(c)
	if err != nil {
		s.fail(c, err)
		return
	}
	if c.Query("employeeId") == "" && actorFrom(c).Privileged() {
		id = ""
	}
	list, err := workschedule.List(c.Request.Context(), s.db, id)
	if err != nil {
		s.fail(c, err)
		return
	}
	success(c, list)
}

func (s *server) handleScheduleCreate(c *gin.Context) {
	var req workschedule.CreateOpts
	if err := bind(c, &req, false); err != nil {
		s.fail(c, err)
		return
	}
	req.CreatedBy = actorFrom(c).ID
	sched, err := workschedule.Create(c.Request.Context(), s.db, req)
	if err != nil {
		s.fail(c, err)
		return
	}
	created(c, sched)
}

func (s *server) handleExtensionList(c *gin.Context) {
	id, err := subject(c)
	if err != nil {
		s.fail(c, err)
		return
	}
	date, err := queryDate(c, "date")
	if err != nil {
		s.fail(c, err)
		return
	}
	list, err := workschedule.ListExtensions(c.Request.Context(), s.db, id, date)
	if err != nil {
		s.fail(c, err)
		return
	}
	success(c, list)
}

func (s *server) handleExtensionGrant(c *gin.Context) {
	var req workschedule.GrantOpts
	if err := bind(c, &req, false); err != nil {
		s.fail(c, err)
		return
	}
	req.GrantedBy = actorFrom(c).ID
	ext, err := workschedule.GrantExtension(c.Request.Context(), s.db, req)
	if err != nil {
		s.fail(c, err)
		return
	}
	created(c, ext)
}

func (s *server) handlePunch(c *gin.Context) {
	var req timeclock.PunchOpts
	if err := bind(c, &req, false); err != nil {
		s.fail(c, err)
		return
	}
	req.EmployeeID = actorFrom(c).ID
	req.Location = s.loc
	if req.Timestamp.IsZero() {
		req.Timestamp = s.now()
	}
	entry, err := timeclock.Record(c.Request.Context(), s.db, req)
	if err != nil {
		s.fail(c, err)
		return
	}
	s.touch(c, entry.Timestamp)
	created(c, entry)
}

func (s *server) handlePunchList(c *gin.Context) {
	id, err := subject(c)
	if err != nil {
		s.fail(c, err)
		return
	}
	date, err := queryDate(c, "date")
	if err != nil {
		s.fail(c, err)
		return
	}
	if date == nil {
		today := wallclock.DateOf(s.now().In(s.loc))
		date = &today
	}
	entries, err := timeclock.ForDay(c.Request.Context(), s.db, id, *date)
	if err != nil {
		s.fail(c, err)
		return
	}
	success(c, entries)
}

type heartbeatRequest struct {
	Timestamp *time.Time `json:"timestamp"`
}

type heartbeatResponse struct {
	EmployeeID string    `json:"employeeId"`
	LastSeenAt time.Time `json:"lastSeenAt"`
}

func (s *server) handleHeartbeat(c *gin.Context) {
	var req heartbeatRequest
	if err := bind(c, &req, true); err != nil {
		s.fail(c, err)
		return
	}
	if s.presence == nil {
		s.fail(c, apperr.State("presence tracking is not configured"))
		return
	}
	now := s.now()
	at := now
	// Client clocks may lag; never accept a heartbeat from the future.
	if req.Timestamp != nil && req.Timestamp.Before(now) {
		at = *req.Timestamp
	}
	id := actorFrom(c).ID
	if err := s.presence.Touch(c.Request.Context(), id, at); err != nil {
		s.fail(c, err)
		return
	}
	last, _, err := s.presence.LastSeen(c.Request.Context(), id)
	if err != nil {
		s.fail(c, err)
		return
	}
	success(c, heartbeatResponse{EmployeeID: id, LastSeenAt: last})
}

// touch records activity from an authenticated agent; failures only log.
func (s *server) touch(c *gin.Context, at time.Time) {
	if s.presence == nil {
		return
	}
	if err := s.presence.Touch(c.Request.Context(), actorFrom(c).ID, at); err != nil {
		s.log.Warn("presence touch failed",
			zap.String("employee_id", actorFrom(c).ID),
			zap.String("request_id", c.GetString(ctxRequestID)),
			zap.Error(err),
		)
	}
}
