package conflict

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zulandar/visitline/internal/apperr"
	"github.com/zulandar/visitline/internal/models"
	"github.com/zulandar/visitline/internal/testutil"
	"github.com/zulandar/visitline/internal/wallclock"
)

type fakeLookup struct {
	visits []Visit
	err    error
	calls  int
}

func (f *fakeLookup) TimedVisits(ctx context.Context, agentID string, date wallclock.Date, excludeRouteID string) ([]Visit, error) {
	f.calls++
	return f.visits, f.err
}

func tod(s string) *wallclock.TimeOfDay {
	t := wallclock.MustTimeOfDay(s)
	return &t
}

func mins(n int) *int { return &n }

func TestOverlaps(t *testing.T) {
	at := wallclock.MustTimeOfDay
	tests := []struct {
		name   string
		s      string
		d      int
		s2, e2 string
		want   bool
	}{
		{"touching after", "09:30", 30, "09:00", "09:30", false},
		{"touching before", "08:30", 30, "09:00", "09:30", false},
		{"contained", "09:10", 10, "09:00", "09:30", true},
		{"containing", "08:00", 120, "09:00", "09:30", true},
		{"overlap start", "08:45", 30, "09:00", "09:30", true},
		{"overlap end", "09:15", 30, "09:00", "09:30", true},
		{"disjoint", "11:00", 30, "09:00", "09:30", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Overlaps(at(tt.s), tt.d, at(tt.s2), at(tt.e2)))
		})
	}
}

func TestOverlaps_Symmetric(t *testing.T) {
	starts := []string{"08:00", "08:30", "09:00", "09:15", "09:30", "10:00"}
	durations := []int{15, 30, 60}
	for _, a := range starts {
		for _, da := range durations {
			for _, b := range starts {
				for _, db := range durations {
					sa, sb := wallclock.MustTimeOfDay(a), wallclock.MustTimeOfDay(b)
					ab := Overlaps(sa, da, sb, sb.Add(db))
					ba := Overlaps(sb, db, sa, sa.Add(da))
					require.Equal(t, ab, ba, "%s+%d vs %s+%d", a, da, b, db)
				}
			}
		}
	}
}

func TestCheck(t *testing.T) {
	lookup := &fakeLookup{visits: []Visit{
		{RouteID: "r1", StoreID: "s1", StoreName: "Mercado Central", Start: wallclock.MustTimeOfDay("09:00"), Duration: 30},
	}}
	date := wallclock.MustDate("2026-03-02")

	err := Check(context.Background(), lookup, Candidate{AgentID: "a1", Date: date, Start: tod("09:30"), Duration: mins(30)})
	assert.NoError(t, err)

	err = Check(context.Background(), lookup, Candidate{AgentID: "a1", Date: date, Start: tod("09:15"), Duration: mins(30)})
	require.Error(t, err)
	e, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, apperr.KindConflict, e.Kind)
	assert.Contains(t, e.Message, "Mercado Central")
	assert.Contains(t, e.Message, "09:00 to 09:30")
	assert.Equal(t, "s1", e.Details["store_id"])
}

func TestCheck_UntimedSkipsLookup(t *testing.T) {
	lookup := &fakeLookup{}
	require.NoError(t, Check(context.Background(), lookup, Candidate{AgentID: "a1", Start: tod("09:00")}))
	require.NoError(t, Check(context.Background(), lookup, Candidate{AgentID: "a1", Duration: mins(30)}))
	assert.Equal(t, 0, lookup.calls)
}

func TestCheck_LookupError(t *testing.T) {
	lookup := &fakeLookup{err: errors.New("boom")}
	err := Check(context.Background(), lookup, Candidate{AgentID: "a1", Start: tod("09:00"), Duration: mins(30)})
	require.Error(t, err)
	_, ok := apperr.As(err)
	assert.False(t, ok, "infrastructure errors are not business errors")
}

func TestCheckSet_IntraSubmission(t *testing.T) {
	lookup := &fakeLookup{}
	date := wallclock.MustDate("2026-03-02")
	candidates := []Candidate{
		{StoreID: "s1", StoreName: "A", Start: tod("09:00"), Duration: mins(60)},
		{StoreID: "s2", StoreName: "B"},
		{StoreID: "s3", StoreName: "C", Start: tod("09:30"), Duration: mins(30)},
	}
	err := CheckSet(context.Background(), lookup, []string{"a1"}, date, candidates, "")
	require.True(t, apperr.Is(err, apperr.KindConflict))
	e, _ := apperr.As(err)
	assert.Equal(t, "s1", e.Details["store_id"])
	assert.Equal(t, true, e.Details["same_route"])

	candidates[2].Start = tod("10:00")
	assert.NoError(t, CheckSet(context.Background(), lookup, []string{"a1"}, date, candidates, ""))
}

func TestCheckSet_EveryAgent(t *testing.T) {
	lookup := &fakeLookup{visits: []Visit{{StoreID: "s9", Start: wallclock.MustTimeOfDay("14:00"), Duration: 60}}}
	err := CheckSet(context.Background(), lookup, []string{"a1", "a2"}, wallclock.MustDate("2026-03-02"),
		[]Candidate{{StoreID: "s1", Start: tod("14:30"), Duration: mins(15)}}, "")
	require.True(t, apperr.Is(err, apperr.KindConflict))
	e, _ := apperr.As(err)
	assert.Equal(t, "a1", e.Details["agent_id"])
}

func TestGormLookup(t *testing.T) {
	gdb := testutil.OpenDB(t)
	testutil.Store(t, gdb, "s1", nil, nil)
	date := wallclock.MustDate("2026-03-02")

	mk := func(id string, agent string, d *wallclock.Date, template bool, start *wallclock.TimeOfDay, dur *int) {
		route := models.Route{
			ID: id, Date: d, IsTemplate: template, Status: models.RouteDraft,
			Agents: []models.RouteAgent{{EmployeeID: agent}},
			Items: []models.RouteItem{{
				ID: id + "-i", StoreID: "s1", StartTime: start, EstimatedDuration: dur, Status: models.VisitPending,
			}},
		}
		require.NoError(t, gdb.Create(&route).Error)
	}
	other := date.AddDays(1)
	mk("r1", "a1", &date, false, tod("09:00"), mins(30))
	mk("r2", "a1", &date, false, tod("10:00"), nil)
	mk("r3", "a1", &other, false, tod("09:00"), mins(30))
	mk("r4", "a2", &date, false, tod("09:00"), mins(30))
	mk("r5", "a1", &date, true, tod("11:00"), mins(30))
	mk("r6", "a1", &date, false, tod("12:00"), mins(45))

	lookup := GormLookup{DB: gdb}
	visits, err := lookup.TimedVisits(context.Background(), "a1", date, "")
	require.NoError(t, err)
	require.Len(t, visits, 2)
	assert.Equal(t, "r1", visits[0].RouteID)
	assert.Equal(t, "Store s1", visits[0].StoreName)
	assert.Equal(t, "09:30", visits[0].End().String())
	assert.Equal(t, "r6", visits[1].RouteID)

	visits, err = lookup.TimedVisits(context.Background(), "a1", date, "r1")
	require.NoError(t, err)
	require.Len(t, visits, 1)
	assert.Equal(t, "r6", visits[0].RouteID)
}

func TestLocker_SerializesSameKey(t *testing.T) {
	l := NewLocker()
	key := Key("a1", wallclock.MustDate("2026-03-02"))

	var (
		mu      sync.Mutex
		inside  int
		maxSeen int
		wg      sync.WaitGroup
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := l.Lock(key, "other")
			mu.Lock()
			inside++
			if inside > maxSeen {
				maxSeen = inside
			}
			mu.Unlock()
			time.Sleep(time.Millisecond)
			mu.Lock()
			inside--
			mu.Unlock()
			unlock()
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, maxSeen)
	assert.Empty(t, l.locks, "released keys are dropped")
}

func TestLocker_NilAndDuplicates(t *testing.T) {
	var nilLocker *Locker
	nilLocker.Lock("x")()

	l := NewLocker()
	unlock := l.Lock("k", "k")
	unlock()
	assert.Empty(t, l.locks)
}
