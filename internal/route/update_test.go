package route

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zulandar/visitline/internal/apperr"
	"github.com/zulandar/visitline/internal/models"
	"github.com/zulandar/visitline/internal/optional"
	"github.com/zulandar/visitline/internal/wallclock"
)

func TestIsValidTransition(t *testing.T) {
	tests := []struct {
		from, to string
		actor    Actor
		want     bool
	}{
		{models.RouteDraft, models.RouteConfirmed, agentOne, true},
		{models.RouteConfirmed, models.RouteDraft, agentOne, true},
		{models.RouteDraft, models.RouteDraft, agentOne, true},
		{models.RouteConfirmed, models.RouteCompleted, agentOne, false},
		{models.RouteConfirmed, models.RouteCompleted, admin, true},
		{models.RouteInProgress, models.RouteCompleted, admin, true},
		{models.RouteCompleted, models.RouteConfirmed, agentOne, false},
		{models.RouteCompleted, models.RouteConfirmed, admin, true},
		{models.RouteCompleted, models.RouteDraft, admin, false},
		{models.RouteDraft, models.RouteInProgress, admin, false},
	}
	for _, tt := range tests {
		got := IsValidTransition(tt.actor, tt.from, tt.to)
		assert.Equal(t, tt.want, got, "%s -> %s as %s", tt.from, tt.to, tt.actor.Role)
	}
}

func TestUpdate_NameAndStatus(t *testing.T) {
	f := setup(t)
	r := f.create(t, []string{"a1"}, "2026-03-02", timed("s1", "09:00", 30))
	ctx := context.Background()

	got, err := f.m.Update(ctx, agentOne, r.ID, UpdateOpts{
		Name:   optional.Of("renamed"),
		Status: optional.Of(models.RouteConfirmed),
	})
	require.NoError(t, err)
	assert.Equal(t, "renamed", got.Name)
	assert.Equal(t, models.RouteConfirmed, got.Status)
	assert.Equal(t, r.Items[0].ID, got.Items[0].ID, "non-structural edits keep items")

	_, err = f.m.Update(ctx, agentOne, r.ID, UpdateOpts{Status: optional.Of(models.RouteCompleted)})
	assert.True(t, apperr.Is(err, apperr.KindState))

	got, err = f.m.Update(ctx, admin, r.ID, UpdateOpts{Status: optional.Of(models.RouteCompleted)})
	require.NoError(t, err)
	assert.Equal(t, models.RouteCompleted, got.Status)

	_, err = f.m.Update(ctx, agentOne, r.ID, UpdateOpts{Name: optional.Of("x")})
	assert.True(t, apperr.Is(err, apperr.KindState), "completed routes are locked")
}

func TestUpdate_ReplacesItems(t *testing.T) {
	f := setup(t)
	r := f.create(t, []string{"a1"}, "2026-03-02", timed("s1", "09:00", 30), timed("s2", "10:00", 30))
	ctx := context.Background()

	got, err := f.m.Update(ctx, agentOne, r.ID, UpdateOpts{
		Items: optional.Of([]VisitSpec{
			timed("s1", "09:15", 30), // overlaps its own old slot, which is excluded
			{StoreID: "s3", Products: []ProductSpec{{ProductID: "p1"}}},
		}),
	})
	require.NoError(t, err)
	require.Len(t, got.Items, 2)
	assert.Equal(t, "09:15", got.Items[0].StartTime.String())
	assert.Equal(t, "s3", got.Items[1].StoreID)
	assert.NotEqual(t, r.Items[0].ID, got.Items[0].ID)
	assert.Equal(t, int64(2), f.count(t, &models.RouteItem{}))
	assert.Equal(t, int64(1), f.count(t, &models.RouteItemProduct{}))
}

func TestUpdate_ConflictRollsBack(t *testing.T) {
	f := setup(t)
	f.create(t, []string{"a2"}, "2026-03-02", timed("s1", "14:00", 60))
	r := f.create(t, []string{"a1"}, "2026-03-02", timed("s1", "09:00", 30))
	ctx := context.Background()

	_, err := f.m.Update(ctx, admin, r.ID, UpdateOpts{
		Name:     optional.Of("should not stick"),
		AgentIDs: optional.Of([]string{"a1", "a2"}),
		Items:    optional.Of([]VisitSpec{timed("s2", "14:30", 30)}),
	})
	require.True(t, apperr.Is(err, apperr.KindConflict), "got %v", err)

	got, err := f.m.Get(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, "route", got.Name)
	assert.Equal(t, []string{"a1"}, got.AgentIDs())
	require.Len(t, got.Items, 1)
	assert.Equal(t, r.Items[0].ID, got.Items[0].ID)
}

func TestUpdate_DateChangeRechecksExistingItems(t *testing.T) {
	f := setup(t)
	f.create(t, []string{"a1"}, "2026-03-03", timed("s1", "09:00", 30))
	r := f.create(t, []string{"a1"}, "2026-03-02", timed("s2", "09:00", 30))

	_, err := f.m.Update(context.Background(), agentOne, r.ID, UpdateOpts{Date: optional.Of(day("2026-03-03"))})
	assert.True(t, apperr.Is(err, apperr.KindConflict))

	got, err := f.m.Update(context.Background(), agentOne, r.ID, UpdateOpts{Date: optional.Of(day("2026-03-04"))})
	require.NoError(t, err)
	assert.Equal(t, "2026-03-04", got.Date.String())
	assert.Equal(t, r.Items[0].ID, got.Items[0].ID)

	_, err = f.m.Update(context.Background(), agentOne, r.ID, UpdateOpts{Date: optional.Of[*wallclock.Date](nil)})
	assert.True(t, apperr.Is(err, apperr.KindValidation))
}

func TestUpdate_EditLockAfterCheckIn(t *testing.T) {
	f := setup(t)
	r := f.create(t, []string{"a1"}, "2026-03-02", timed("s1", "09:00", 30), timed("s2", "10:00", 30))
	ctx := context.Background()

	_, err := f.m.CheckIn(ctx, agentOne, r.Items[0].ID, CheckInOpts{})
	require.NoError(t, err)

	_, err = f.m.Update(ctx, agentOne, r.ID, UpdateOpts{Items: optional.Of([]VisitSpec{timed("s1", "11:00", 30)})})
	require.True(t, apperr.Is(err, apperr.KindState), "got %v", err)
	e, _ := apperr.As(err)
	assert.Equal(t, r.Items[0].ID, e.Details["item_id"])

	got, err := f.m.Update(ctx, admin, r.ID, UpdateOpts{Items: optional.Of([]VisitSpec{timed("s1", "11:00", 30)})})
	require.NoError(t, err)
	require.Len(t, got.Items, 1)
	assert.Equal(t, models.VisitPending, got.Items[0].Status)
}

func TestUpdate_NotFound(t *testing.T) {
	f := setup(t)
	_, err := f.m.Update(context.Background(), admin, "missing", UpdateOpts{Name: optional.Of("x")})
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
}

func TestDuplicate(t *testing.T) {
	f := setup(t)
	src, err := f.m.Create(context.Background(), admin, CreateOpts{
		Name: "weekly", Date: day("2026-03-02"), AgentIDs: []string{"a1"}, Status: models.RouteConfirmed,
		Items: []VisitSpec{
			{StoreID: "s1", StartTime: tod("09:00"), EstimatedDuration: mins(30), Products: []ProductSpec{
				{ProductID: "p1", Checklist: []ChecklistSpec{{Type: models.ChecklistPhoto, Description: "Front"}}},
			}},
			timed("s2", "10:00", 45),
		},
	})
	require.NoError(t, err)
	_, err = f.m.CheckIn(context.Background(), agentOne, src.Items[0].ID, CheckInOpts{})
	require.NoError(t, err)

	clones, err := f.m.Duplicate(context.Background(), admin, src.ID, DuplicateOpts{
		Dates:    []wallclock.Date{wallclock.MustDate("2026-03-09"), wallclock.MustDate("2026-03-16")},
		AgentIDs: []string{"a2"},
	})
	require.NoError(t, err)
	require.Len(t, clones, 2)

	for i, c := range clones {
		assert.NotEqual(t, src.ID, c.ID)
		assert.Equal(t, models.RouteDraft, c.Status)
		assert.Equal(t, []string{"a2"}, c.AgentIDs())
		assert.Equal(t, []string{"2026-03-09", "2026-03-16"}[i], c.Date.String())
		require.Len(t, c.Items, 2)
		assert.Equal(t, "s1", c.Items[0].StoreID)
		assert.Equal(t, "09:00", c.Items[0].StartTime.String())
		assert.Equal(t, models.VisitPending, c.Items[0].Status)
		assert.Nil(t, c.Items[0].CheckInTime)
		require.Len(t, c.Items[0].Products, 1)
		require.Len(t, c.Items[0].Products[0].Checklist, 1)
		assert.Equal(t, "Front", c.Items[0].Products[0].Checklist[0].Description)
		assert.Equal(t, 45, *c.Items[1].EstimatedDuration)
	}
}

func TestDuplicate_AllOrNothing(t *testing.T) {
	f := setup(t)
	src := f.create(t, []string{"a1"}, "2026-03-02", timed("s1", "09:00", 30))

	_, err := f.m.Duplicate(context.Background(), admin, src.ID, DuplicateOpts{
		Dates: []wallclock.Date{wallclock.MustDate("2026-03-09"), wallclock.MustDate("2026-03-02")},
	})
	require.True(t, apperr.Is(err, apperr.KindConflict), "got %v", err)
	assert.Equal(t, int64(1), f.count(t, &models.Route{}))

	_, err = f.m.Duplicate(context.Background(), admin, src.ID, DuplicateOpts{})
	assert.True(t, apperr.Is(err, apperr.KindValidation))

	_, err = f.m.Duplicate(context.Background(), admin, src.ID, DuplicateOpts{
		Dates: []wallclock.Date{wallclock.MustDate("2026-03-09"), wallclock.MustDate("2026-03-09")},
	})
	assert.True(t, apperr.Is(err, apperr.KindValidation))
}

func TestDuplicate_FromTemplate(t *testing.T) {
	f := setup(t)
	tpl, err := f.m.Create(context.Background(), admin, CreateOpts{
		IsTemplate: true, Items: []VisitSpec{timed("s1", "09:00", 30)},
	})
	require.NoError(t, err)

	_, err = f.m.Duplicate(context.Background(), admin, tpl.ID, DuplicateOpts{Dates: []wallclock.Date{wallclock.MustDate("2026-03-09")}})
	assert.True(t, apperr.Is(err, apperr.KindValidation), "a template without agents needs agent ids")

	clones, err := f.m.Duplicate(context.Background(), admin, tpl.ID, DuplicateOpts{
		Dates: []wallclock.Date{wallclock.MustDate("2026-03-09")}, AgentIDs: []string{"a1"},
	})
	require.NoError(t, err)
	require.Len(t, clones, 1)
	assert.False(t, clones[0].IsTemplate)
}

func TestRemove(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	r, err := f.m.Create(ctx, admin, CreateOpts{
		Date: day("2026-03-02"), AgentIDs: []string{"a1"},
		Items: []VisitSpec{{StoreID: "s1", Products: []ProductSpec{{ProductID: "p1", Checklist: []ChecklistSpec{{Type: models.ChecklistSimple}}}}}},
	})
	require.NoError(t, err)

	require.NoError(t, f.m.Remove(ctx, agentOne, r.ID))
	for _, m := range []interface{}{&models.Route{}, &models.RouteAgent{}, &models.RouteItem{}, &models.RouteItemProduct{}, &models.RouteItemProductChecklist{}} {
		assert.Equal(t, int64(0), f.count(t, m), "%T", m)
	}
	assert.True(t, apperr.Is(f.m.Remove(ctx, admin, r.ID), apperr.KindNotFound))
}

func TestRemove_Guard(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	r := f.create(t, []string{"a1"}, "2026-03-02", timed("s1", "09:00", 30), timed("s2", "10:00", 30))
	_, err := f.m.Skip(ctx, agentOne, r.Items[1].ID, "store closed")
	require.NoError(t, err)
	_, err = f.m.CheckIn(ctx, agentOne, r.Items[0].ID, CheckInOpts{})
	require.NoError(t, err)

	err = f.m.Remove(ctx, agentOne, r.ID)
	assert.True(t, apperr.Is(err, apperr.KindState), "got %v", err)
	assert.Equal(t, int64(1), f.count(t, &models.Route{}))

	require.NoError(t, f.m.Remove(ctx, admin, r.ID))
	assert.Equal(t, int64(0), f.count(t, &models.Route{}))
}

func TestRemove_InProgressRoute(t *testing.T) {
	f := setup(t)
	r := f.create(t, []string{"a1"}, "2026-03-02", timed("s1", "09:00", 30))
	require.NoError(t, f.db.Model(&models.Route{}).Where("id = ?", r.ID).Update("status", models.RouteInProgress).Error)

	err := f.m.Remove(context.Background(), agentOne, r.ID)
	assert.True(t, apperr.Is(err, apperr.KindState))
}

func TestForeignAgentCannotTouchRoute(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	r := f.create(t, []string{"a1"}, "2026-03-02", timed("s1", "09:00", 30))

	_, err := f.m.Update(ctx, agentTwo, r.ID, UpdateOpts{Name: optional.Of("mine now")})
	assert.True(t, apperr.Is(err, apperr.KindNotFound), "got %v", err)
	_, err = f.m.Update(ctx, agentTwo, r.ID, UpdateOpts{AgentIDs: optional.Of([]string{"a2"})})
	assert.True(t, apperr.Is(err, apperr.KindNotFound), "got %v", err)
	_, err = f.m.Duplicate(ctx, agentTwo, r.ID, DuplicateOpts{Dates: []wallclock.Date{wallclock.MustDate("2026-03-03")}, AgentIDs: []string{"a2"}})
	assert.True(t, apperr.Is(err, apperr.KindNotFound), "got %v", err)
	assert.True(t, apperr.Is(f.m.Remove(ctx, agentTwo, r.ID), apperr.KindNotFound))
	_, err = f.m.ViewItem(ctx, agentTwo, r.Items[0].ID)
	assert.True(t, apperr.Is(err, apperr.KindNotFound), "got %v", err)

	got, err := f.m.Get(ctx, r.ID)
	require.NoError(t, err)
	assert.Equal(t, "route", got.Name)
	assert.Equal(t, []string{"a1"}, got.AgentIDs())
	assert.Equal(t, int64(1), f.count(t, &models.Route{}), "nothing was duplicated or removed")

	for _, actor := range []Actor{agentOne, admin} {
		item, err := f.m.ViewItem(ctx, actor, r.Items[0].ID)
		require.NoError(t, err, actor.ID)
		assert.Equal(t, r.Items[0].ID, item.ID)
	}
}

func TestPromoterPlansOnlyOwnRoutes(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	_, err := f.m.Create(ctx, agentOne, CreateOpts{Date: day("2026-03-02"), AgentIDs: []string{"a2"}, Items: []VisitSpec{timed("s1", "09:00", 30)}})
	assert.True(t, apperr.Is(err, apperr.KindForbidden), "got %v", err)

	r, err := f.m.Create(ctx, agentOne, CreateOpts{Date: day("2026-03-02"), AgentIDs: []string{"a1"}, Items: []VisitSpec{timed("s1", "09:00", 30)}})
	require.NoError(t, err)
	assert.Equal(t, "a1", r.CreatedBy)

	_, err = f.m.Update(ctx, agentOne, r.ID, UpdateOpts{AgentIDs: optional.Of([]string{"a2"})})
	assert.True(t, apperr.Is(err, apperr.KindForbidden), "got %v", err)
	_, err = f.m.Duplicate(ctx, agentOne, r.ID, DuplicateOpts{Dates: []wallclock.Date{wallclock.MustDate("2026-03-03")}, AgentIDs: []string{"a2"}})
	assert.True(t, apperr.Is(err, apperr.KindForbidden), "got %v", err)

	clones, err := f.m.Duplicate(ctx, agentOne, r.ID, DuplicateOpts{Dates: []wallclock.Date{wallclock.MustDate("2026-03-03")}})
	require.NoError(t, err)
	require.Len(t, clones, 1)
	assert.Equal(t, []string{"a1"}, clones[0].AgentIDs())

	_, err = f.m.Update(ctx, admin, r.ID, UpdateOpts{AgentIDs: optional.Of([]string{"a2"})})
	require.NoError(t, err, "privileged actors reassign freely")
}
