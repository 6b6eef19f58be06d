// Package conflict detects double-booked field agents: two timed visits for
// the same agent on the same date whose intervals overlap.
package conflict

import (
	"context"
	"fmt"

	"github.com/zulandar/visitline/internal/apperr"
	"github.com/zulandar/visitline/internal/wallclock"
)

// Visit is an existing timed visit occupying [Start, Start+Duration).
type Visit struct {
	RouteID   string
	ItemID    string
	StoreID   string
	StoreName string
	Start     wallclock.TimeOfDay
	Duration  int
}

// End is the exclusive end of the visit's interval.
func (v Visit) End() wallclock.TimeOfDay { return v.Start.Add(v.Duration) }

// Candidate is a visit about to be written for one agent.
type Candidate struct {
	AgentID        string
	Date           wallclock.Date
	StoreID        string
	StoreName      string
	Start          *wallclock.TimeOfDay
	Duration       *int
	ExcludeRouteID string
}

// Timed reports whether the candidate takes part in conflict detection.
func (c Candidate) Timed() bool { return c.Start != nil && c.Duration != nil }

// Lookup reads an agent's timed visits on a date across non-template routes,
// skipping the route excludeRouteID (empty for none).
type Lookup interface {
	TimedVisits(ctx context.Context, agentID string, date wallclock.Date, excludeRouteID string) ([]Visit, error)
}

// Overlaps reports whether [s, s+d) and [s2, e2) intersect. Touching
// intervals do not overlap.
func Overlaps(s wallclock.TimeOfDay, d int, s2, e2 wallclock.TimeOfDay) bool {
	return s < e2 && s.Add(d) > s2
}

// Check rejects the candidate with a ConflictError on the first existing
// visit it overlaps. Untimed candidates are never checked.
func Check(ctx context.Context, lookup Lookup, c Candidate) error {
	if !c.Timed() {
		return nil
	}
	visits, err := lookup.TimedVisits(ctx, c.AgentID, c.Date, c.ExcludeRouteID)
	if err != nil {
		return fmt.Errorf("conflict: load visits for %s on %s: %w", c.AgentID, c.Date, err)
	}
	for _, v := range visits {
		if Overlaps(*c.Start, *c.Duration, v.Start, v.End()) {
			return newError(c, v)
		}
	}
	return nil
}

// CheckSet validates a whole submission: every timed candidate for every
// agent against existing visits, and the candidates against each other.
// It stops at the first conflict.
func CheckSet(ctx context.Context, lookup Lookup, agentIDs []string, date wallclock.Date, candidates []Candidate, excludeRouteID string) error {
	for _, agentID := range agentIDs {
		existing, err := lookup.TimedVisits(ctx, agentID, date, excludeRouteID)
		if err != nil {
			return fmt.Errorf("conflict: load visits for %s on %s: %w", agentID, date, err)
		}
		var accepted []Visit
		for _, c := range candidates {
			if !c.Timed() {
				continue
			}
			c.AgentID = agentID
			c.Date = date
			for _, v := range existing {
				if Overlaps(*c.Start, *c.Duration, v.Start, v.End()) {
					return newError(c, v)
				}
			}
			for _, v := range accepted {
				if Overlaps(*c.Start, *c.Duration, v.Start, v.End()) {
					return newError(c, v).With("same_route", true)
				}
			}
			accepted = append(accepted, Visit{
				StoreID:   c.StoreID,
				StoreName: c.StoreName,
				Start:     *c.Start,
				Duration:  *c.Duration,
			})
		}
	}
	return nil
}

func newError(c Candidate, v Visit) *apperr.Error {
	store := v.StoreName
	if store == "" {
		store = v.StoreID
	}
	return apperr.Conflict("schedule conflict: agent %s already has a visit at %s from %s to %s on %s",
		c.AgentID, store, v.Start, v.End(), c.Date).
		With("agent_id", c.AgentID).
		With("date", c.Date.String()).
		With("store_id", v.StoreID).
		With("store_name", v.StoreName).
		With("start", v.Start.String()).
		With("end", v.End().String()).
		With("route_id", v.RouteID)
}
