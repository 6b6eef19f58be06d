package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zulandar/visitline/internal/apperr"
	"github.com/zulandar/visitline/internal/models"
	"github.com/zulandar/visitline/internal/presence"
	"github.com/zulandar/visitline/internal/route"
	"github.com/zulandar/visitline/internal/testutil"
)

const secret = "test-secret"

var (
	brt = time.FixedZone("BRT", -3*60*60)
	now = time.Date(2026, 3, 2, 12, 0, 0, 0, brt)
)

type envelope struct {
	Code    int                    `json:"code"`
	Message string                 `json:"message"`
	Kind    string                 `json:"kind"`
	Details map[string]interface{} `json:"details"`
	Data    json.RawMessage        `json:"data"`
}

type harness struct {
	router   *gin.Engine
	admin    string
	promoter string
	intruder string // a promoter assigned to nothing
}

func setup(t *testing.T) *harness {
	t.Helper()
	gin.SetMode(gin.TestMode)
	gdb := testutil.OpenDB(t)
	testutil.Employee(t, gdb, "a1", models.RolePromoter)
	testutil.Employee(t, gdb, "a2", models.RolePromoter)
	testutil.Employee(t, gdb, "adm", models.RoleAdmin)
	testutil.Store(t, gdb, "s1", testutil.Float(-23.5505), testutil.Float(-46.6333))
	testutil.Product(t, gdb, "p1", "b1")

	clock := func() time.Time { return now }
	tracker := presence.NewDBTracker(gdb)
	mgr, err := route.NewManager(route.ManagerOpts{DB: gdb, Presence: tracker, Now: clock})
	require.NoError(t, err)
	router, err := NewRouter(StartOpts{DB: gdb, Routes: mgr, Presence: tracker, JWTSecret: secret, Location: brt, Now: clock})
	require.NoError(t, err)

	admin, err := NewToken(secret, "adm", models.RoleAdmin, time.Hour)
	require.NoError(t, err)
	promoter, err := NewToken(secret, "a1", models.RolePromoter, time.Hour)
	require.NoError(t, err)
	intruder, err := NewToken(secret, "a2", models.RolePromoter, time.Hour)
	require.NoError(t, err)
	return &harness{router: router, admin: admin, promoter: promoter, intruder: intruder}
}

func (h *harness) do(t *testing.T, method, path, token string, body interface{}) (int, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	h.router.ServeHTTP(w, req)
	var env envelope
	if w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	}
	return w.Code, env
}

func decode[T any](t *testing.T, raw json.RawMessage) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(raw, &v), string(raw))
	return v
}

func (h *harness) createRoute(t *testing.T, start string) models.Route {
	t.Helper()
	status, env := h.do(t, http.MethodPost, "/routes", h.admin, map[string]interface{}{
		"name": "Monday", "date": "2026-03-02", "agentIds": []string{"a1"},
		"items": []map[string]interface{}{{
			"storeId": "s1", "startTime": start, "estimatedDuration": 60,
			"products": []map[string]interface{}{{"productId": "p1"}},
		}},
	})
	require.Equal(t, http.StatusCreated, status, env.Message)
	return decode[models.Route](t, env.Data)
}

func TestNewRouter_Validation(t *testing.T) {
	_, err := NewRouter(StartOpts{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "db is required")
}

func TestAuth(t *testing.T) {
	h := setup(t)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	h.router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))

	status, env := h.do(t, http.MethodGet, "/routes", "", nil)
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Equal(t, 40100, env.Code)

	status, _ = h.do(t, http.MethodGet, "/routes", "not.a.token", nil)
	assert.Equal(t, http.StatusUnauthorized, status)

	forged, err := NewToken("other-secret", "adm", models.RoleAdmin, time.Hour)
	require.NoError(t, err)
	status, _ = h.do(t, http.MethodGet, "/routes", forged, nil)
	assert.Equal(t, http.StatusUnauthorized, status)

	expired, err := NewToken(secret, "adm", models.RoleAdmin, -time.Minute)
	require.NoError(t, err)
	status, _ = h.do(t, http.MethodGet, "/routes", expired, nil)
	assert.Equal(t, http.StatusUnauthorized, status)
}

func TestRoutes_CreateConflictAndList(t *testing.T) {
	h := setup(t)
	r := h.createRoute(t, "09:00")
	require.Len(t, r.Items, 1)
	assert.Equal(t, models.RouteDraft, r.Status)

	status, env := h.do(t, http.MethodPost, "/routes", h.admin, map[string]interface{}{
		"date": "2026-03-02", "agentIds": []string{"a1"},
		"items": []map[string]interface{}{{"storeId": "s1", "startTime": "09:30", "estimatedDuration": 30}},
	})
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "conflict", env.Kind)
	assert.Equal(t, "Store s1", env.Details["store_name"])

	status, env = h.do(t, http.MethodPost, "/routes", h.admin, map[string]interface{}{"date": "03/02/2026"})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "validation", env.Kind)

	status, env = h.do(t, http.MethodGet, "/routes?date=2026-03-02", h.promoter, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, decode[[]models.Route](t, env.Data), 1)

	status, _ = h.do(t, http.MethodGet, "/routes/"+r.ID, h.promoter, nil)
	assert.Equal(t, http.StatusOK, status)
	status, _ = h.do(t, http.MethodGet, "/routes/missing", h.admin, nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestRoutes_UpdateAndDelete(t *testing.T) {
	h := setup(t)
	r := h.createRoute(t, "09:00")

	status, env := h.do(t, http.MethodPatch, "/routes/"+r.ID, h.admin, map[string]interface{}{"status": models.RouteConfirmed})
	require.Equal(t, http.StatusOK, status, env.Message)
	assert.Equal(t, models.RouteConfirmed, decode[models.Route](t, env.Data).Status)

	status, env = h.do(t, http.MethodPatch, "/routes/"+r.ID, h.promoter, map[string]interface{}{"status": models.RouteCompleted})
	assert.Equal(t, http.StatusUnprocessableEntity, status)
	assert.Equal(t, "state", env.Kind)

	status, env = h.do(t, http.MethodPost, "/routes/"+r.ID+"/duplicate", h.admin, map[string]interface{}{"dates": []string{"2026-03-03", "2026-03-04"}})
	require.Equal(t, http.StatusCreated, status, env.Message)
	assert.Len(t, decode[[]models.Route](t, env.Data), 2)

	status, _ = h.do(t, http.MethodDelete, "/routes/"+r.ID, h.admin, nil)
	assert.Equal(t, http.StatusOK, status)
	status, _ = h.do(t, http.MethodGet, "/routes/"+r.ID, h.admin, nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestRoutes_ForeignPromoter(t *testing.T) {
	h := setup(t)
	r := h.createRoute(t, "09:00")
	item := r.Items[0].ID

	for _, req := range []struct {
		method, path string
		body         interface{}
	}{
		{http.MethodGet, "/routes/" + r.ID, nil},
		{http.MethodPatch, "/routes/" + r.ID, map[string]interface{}{"name": "hijacked", "agentIds": []string{"a2"}}},
		{http.MethodPost, "/routes/" + r.ID + "/duplicate", map[string]interface{}{"dates": []string{"2026-03-03"}, "agentIds": []string{"a2"}}},
		{http.MethodDelete, "/routes/" + r.ID, nil},
		{http.MethodGet, "/routes/items/" + item, nil},
	} {
		status, env := h.do(t, req.method, req.path, h.intruder, req.body)
		assert.Equal(t, http.StatusNotFound, status, "%s %s", req.method, req.path)
		assert.Equal(t, "not_found", env.Kind, "%s %s", req.method, req.path)
	}

	status, env := h.do(t, http.MethodPost, "/routes/items/"+item+"/check-in", h.intruder, nil)
	assert.Equal(t, http.StatusForbidden, status)

	status, env = h.do(t, http.MethodGet, "/routes/"+r.ID, h.admin, nil)
	require.Equal(t, http.StatusOK, status)
	got := decode[models.Route](t, env.Data)
	assert.Equal(t, "Monday", got.Name)
	assert.Equal(t, []string{"a1"}, got.AgentIDs())

	status, env = h.do(t, http.MethodGet, "/routes?date=2026-03-03", h.admin, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Empty(t, decode[[]models.Route](t, env.Data))

	status, env = h.do(t, http.MethodGet, "/routes/items/"+item, h.promoter, nil)
	require.Equal(t, http.StatusOK, status, env.Message)
	assert.Equal(t, item, decode[models.RouteItem](t, env.Data).ID)

	status, env = h.do(t, http.MethodPost, "/routes", h.intruder, map[string]interface{}{
		"date": "2026-03-02", "agentIds": []string{"a1"},
		"items": []map[string]interface{}{{"storeId": "s1", "startTime": "14:00", "estimatedDuration": 30}},
	})
	assert.Equal(t, http.StatusForbidden, status)
	assert.Equal(t, "forbidden", env.Kind)
}

func TestExecution(t *testing.T) {
	h := setup(t)
	r := h.createRoute(t, "09:00")
	item := r.Items[0].ID

	status, env := h.do(t, http.MethodPost, "/routes/items/"+item+"/check-in", h.promoter, map[string]float64{"lat": -22.9068, "lng": -43.1729})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "validation", env.Kind)
	assert.Greater(t, env.Details["distance_meters"], 300.0)

	status, env = h.do(t, http.MethodPost, "/routes/items/"+item+"/check-in", h.promoter, map[string]float64{"lat": -23.5505, "lng": -46.6333})
	require.Equal(t, http.StatusOK, status, env.Message)
	assert.Equal(t, models.VisitCheckIn, decode[models.RouteItem](t, env.Data).Status)

	// Repeat is a no-op; an empty body is fine.
	status, _ = h.do(t, http.MethodPost, "/routes/items/"+item+"/check-in", h.promoter, nil)
	assert.Equal(t, http.StatusOK, status)

	status, _ = h.do(t, http.MethodPost, "/routes/items/"+item+"/manual", h.promoter, map[string]string{"reason": "x"})
	assert.Equal(t, http.StatusForbidden, status)

	status, env = h.do(t, http.MethodPost, "/routes/items/"+item+"/check-out", h.promoter, nil)
	require.Equal(t, http.StatusOK, status, env.Message)
	assert.Equal(t, models.VisitCheckOut, decode[models.RouteItem](t, env.Data).Status)

	status, env = h.do(t, http.MethodGet, "/routes/"+r.ID, h.admin, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, models.RouteCompleted, decode[models.Route](t, env.Data).Status)
}

func TestStockApprovalFlow(t *testing.T) {
	h := setup(t)
	r := h.createRoute(t, "09:00")
	item := r.Items[0].ID

	status, env := h.do(t, http.MethodPatch, "/routes/items/"+item+"/products/p1/check", h.promoter, map[string]interface{}{
		"stockCount": 3, "observation": "storeroom full", "requestStockReview": true,
	})
	require.Equal(t, http.StatusOK, status, env.Message)
	resp := decode[struct {
		Product models.RouteItemProduct `json:"product"`
		Review  struct {
			Token string `json:"token"`
		} `json:"review"`
	}](t, env.Data)
	assert.Equal(t, 3, *resp.Product.StockCount)
	token := resp.Review.Token
	require.NotEmpty(t, token)

	status, _ = h.do(t, http.MethodGet, "/routes/approvals/pending", h.promoter, nil)
	assert.Equal(t, http.StatusForbidden, status)
	status, env = h.do(t, http.MethodGet, "/routes/approvals/pending", h.admin, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, decode[[]map[string]interface{}](t, env.Data), 1)

	status, env = h.do(t, http.MethodGet, "/public/routes/validate-stock/"+token, "", nil)
	require.Equal(t, http.StatusOK, status)
	view := decode[map[string]interface{}](t, env.Data)
	assert.Equal(t, models.StockPendingReview, view["status"])
	assert.NotContains(t, view, "token")

	status, _ = h.do(t, http.MethodPost, "/public/routes/validate-stock/"+token, "", map[string]string{"action": "APPROVE"})
	assert.Equal(t, http.StatusOK, status)
	status, env = h.do(t, http.MethodPost, "/public/routes/validate-stock/"+token, "", map[string]string{"action": "REJECT"})
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, models.StockApproved, env.Details["status"])

	status, _ = h.do(t, http.MethodGet, "/public/routes/validate-stock/unknown", "", nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestStockReview_ApprovedCountIsKept(t *testing.T) {
	h := setup(t)
	r := h.createRoute(t, "09:00")
	path := "/routes/items/" + r.Items[0].ID + "/products/p1/check"

	status, env := h.do(t, http.MethodPatch, path, h.promoter, map[string]interface{}{"stockCount": 5, "requestStockReview": true})
	require.Equal(t, http.StatusOK, status, env.Message)
	token := decode[struct {
		Review struct {
			Token string `json:"token"`
		} `json:"review"`
	}](t, env.Data).Review.Token
	require.NotEmpty(t, token)

	status, _ = h.do(t, http.MethodPost, "/public/routes/validate-stock/"+token, "", map[string]string{"action": "APPROVE"})
	require.Equal(t, http.StatusOK, status)

	status, env = h.do(t, http.MethodPatch, path, h.promoter, map[string]interface{}{"stockCount": 99, "requestStockReview": true})
	assert.Equal(t, http.StatusUnprocessableEntity, status)
	assert.Equal(t, "state", env.Kind)

	status, env = h.do(t, http.MethodPost, "/routes/items/"+r.Items[0].ID+"/products/p1/stock-review", h.promoter, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, status)
	assert.Equal(t, "state", env.Kind)

	status, env = h.do(t, http.MethodGet, "/routes/items/"+r.Items[0].ID, h.promoter, nil)
	require.Equal(t, http.StatusOK, status, env.Message)
	got := decode[models.RouteItem](t, env.Data)
	require.Len(t, got.Products, 1)
	assert.Equal(t, 5, *got.Products[0].StockCount)
	assert.Equal(t, models.StockApproved, got.Products[0].StockCountStatus)
}

func TestSchedulesAndAccess(t *testing.T) {
	h := setup(t)
	body := map[string]interface{}{
		"employeeId": "a1", "validFrom": "2026-03-01",
		"days": []map[string]interface{}{{"dayOfWeek": 1, "active": true, "startTime": "08:00", "endTime": "17:00", "toleranceMinutes": 10}},
	}
	status, _ := h.do(t, http.MethodPost, "/work-schedules", h.promoter, body)
	assert.Equal(t, http.StatusForbidden, status)
	status, env := h.do(t, http.MethodPost, "/work-schedules", h.admin, body)
	require.Equal(t, http.StatusCreated, status, env.Message)

	status, env = h.do(t, http.MethodGet, "/work-schedules/access-status", h.promoter, nil)
	require.Equal(t, http.StatusOK, status)
	st := decode[map[string]interface{}](t, env.Data)
	assert.Equal(t, true, st["allowed"])
	assert.Equal(t, "within_window", st["reason"])
	assert.Equal(t, "17:00", st["end"])

	status, _ = h.do(t, http.MethodGet, "/work-schedules/access-status?employeeId=adm", h.promoter, nil)
	assert.Equal(t, http.StatusForbidden, status)
	status, env = h.do(t, http.MethodGet, "/work-schedules/access-status?employeeId=adm", h.admin, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "no_schedule_defined", decode[map[string]interface{}](t, env.Data)["reason"])

	status, env = h.do(t, http.MethodPost, "/work-schedules/extensions", h.admin, map[string]string{
		"employeeId": "a1", "date": "2026-03-02", "extendedEndTime": "19:00", "reason": "inventory",
	})
	require.Equal(t, http.StatusCreated, status, env.Message)
	status, env = h.do(t, http.MethodGet, "/work-schedules/extensions?date=2026-03-02", h.promoter, nil)
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, decode[[]models.AccessExtension](t, env.Data), 1)
}

func TestTimeClockAndHeartbeat(t *testing.T) {
	h := setup(t)

	status, env := h.do(t, http.MethodPost, "/time-clock/punches", h.promoter, map[string]string{"type": models.PunchEntry})
	require.Equal(t, http.StatusCreated, status, env.Message)
	status, _ = h.do(t, http.MethodPost, "/time-clock/punches", h.promoter, map[string]string{"type": models.PunchEntry})
	assert.Equal(t, http.StatusConflict, status)

	status, env = h.do(t, http.MethodGet, "/time-clock/punches", h.promoter, nil)
	require.Equal(t, http.StatusOK, status)
	entries := decode[[]models.TimeClockEntry](t, env.Data)
	require.Len(t, entries, 1)
	assert.Equal(t, "2026-03-02", entries[0].Date.String())

	status, env = h.do(t, http.MethodPost, "/presence/heartbeat", h.promoter, nil)
	require.Equal(t, http.StatusOK, status, env.Message)
	hb := decode[heartbeatResponse](t, env.Data)
	assert.Equal(t, "a1", hb.EmployeeID)
	assert.True(t, hb.LastSeenAt.Equal(now))
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{apperr.Validation("x"), http.StatusBadRequest},
		{apperr.Forbidden("x"), http.StatusForbidden},
		{apperr.NotFound("x"), http.StatusNotFound},
		{apperr.Conflict("x"), http.StatusConflict},
		{apperr.State("x"), http.StatusUnprocessableEntity},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, StatusFor(tt.err), tt.err.Error())
	}
}
