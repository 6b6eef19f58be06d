// Package route owns the Route → RouteItem → RouteItemProduct aggregate:
// creation, structural edits, duplication, deletion and field execution.
package route

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/zulandar/visitline/internal/apperr"
	"github.com/zulandar/visitline/internal/conflict"
	"github.com/zulandar/visitline/internal/geo"
	"github.com/zulandar/visitline/internal/models"
	"github.com/zulandar/visitline/internal/wallclock"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Actor is the authenticated caller of an operation.
type Actor struct {
	ID   string
	Role string
}

// Privileged reports whether the actor may bypass edit locks and record
// manual executions.
func (a Actor) Privileged() bool {
	return a.Role == models.RoleAdmin || a.Role == models.RoleSupervisor
}

// PresenceToucher records that an agent's device was active.
type PresenceToucher interface {
	Touch(ctx context.Context, agentID string, at time.Time) error
}

// ManagerOpts configures a Manager.
type ManagerOpts struct {
	DB             *gorm.DB
	GeofenceRadius float64          // meters; defaults to geo.DefaultRadiusMeters
	Presence       PresenceToucher  // optional
	Locker         *conflict.Locker // optional; serializes conflict checks per agent/date
	Now            func() time.Time // optional; defaults to time.Now
	Logger         *zap.Logger      // optional
}

// Manager coordinates route operations.
type Manager struct {
	db       *gorm.DB
	radius   float64
	presence PresenceToucher
	locker   *conflict.Locker
	now      func() time.Time
	log      *zap.Logger
}

// NewManager creates a Manager.
func NewManager(opts ManagerOpts) (*Manager, error) {
	if opts.DB == nil {
		return nil, fmt.Errorf("route: db is required")
	}
	m := &Manager{
		db:       opts.DB,
		radius:   opts.GeofenceRadius,
		presence: opts.Presence,
		locker:   opts.Locker,
		now:      opts.Now,
		log:      opts.Logger,
	}
	if m.log == nil {
		m.log = zap.NewNop()
	}
	if m.radius <= 0 {
		m.radius = geo.DefaultRadiusMeters
	}
	if m.locker == nil {
		m.locker = conflict.NewLocker()
	}
	if m.now == nil {
		m.now = time.Now
	}
	return m, nil
}

// ChecklistSpec describes one checklist entry of a product check.
type ChecklistSpec struct {
	Type                string  `json:"type"`
	Description         string  `json:"description"`
	CompetitorProductID *string `json:"competitorProductId"`
}

// ProductSpec is one product to audit during a visit.
type ProductSpec struct {
	ProductID string          `json:"productId"`
	Checklist []ChecklistSpec `json:"checklist"`
}

// VisitSpec describes one visit of a route. When only StartTime and EndTime
// are given the duration is derived; when StartTime and EstimatedDuration are
// given EndTime is derived.
type VisitSpec struct {
	StoreID           string               `json:"storeId"`
	Order             *int                 `json:"order"`
	StartTime         *wallclock.TimeOfDay `json:"startTime"`
	EndTime           *wallclock.TimeOfDay `json:"endTime"`
	EstimatedDuration *int                 `json:"estimatedDuration"`
	Products          []ProductSpec        `json:"products"`
}

// CreateOpts holds parameters for creating a route.
type CreateOpts struct {
	Name       string          `json:"name"`
	Date       *wallclock.Date `json:"date"`
	AgentIDs   []string        `json:"agentIds"`
	IsTemplate bool            `json:"isTemplate"`
	Status     string          `json:"status"`
	Items      []VisitSpec     `json:"items"`
}

// Create validates and persists a route with its whole item subtree. Every
// timed visit is checked for conflicts, for every agent, before anything is
// written; the write is a single transaction.
func (m *Manager) Create(ctx context.Context, actor Actor, opts CreateOpts) (*models.Route, error) {
	if opts.Status == "" {
		opts.Status = models.RouteDraft
	}
	if opts.Status != models.RouteDraft && opts.Status != models.RouteConfirmed {
		return nil, apperr.Validation("status %q is not valid for a new route", opts.Status)
	}
	agentIDs, err := validateHeader(opts.IsTemplate, opts.Date, opts.AgentIDs)
	if err != nil {
		return nil, err
	}
	if err := checkSelfAssigned(actor, agentIDs); err != nil {
		return nil, err
	}
	specs, err := normalizeSpecs(opts.Items)
	if err != nil {
		return nil, err
	}
	if opts.IsTemplate {
		opts.Date = nil
	}

	r := &models.Route{
		ID:         uuid.NewString(),
		Name:       opts.Name,
		Date:       opts.Date,
		IsTemplate: opts.IsTemplate,
		Status:     opts.Status,
		CreatedBy:  actor.ID,
	}
	for _, id := range agentIDs {
		r.Agents = append(r.Agents, models.RouteAgent{RouteID: r.ID, EmployeeID: id})
	}
	r.Items = buildItems(r.ID, specs)

	unlock := m.locker.Lock(lockKeys(agentIDs, opts.Date)...)
	defer unlock()

	err = m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		stores, err := resolveReferences(tx, agentIDs, specs)
		if err != nil {
			return err
		}
		if !r.IsTemplate {
			candidates := candidatesFromSpecs(specs, stores)
			if err := conflict.CheckSet(ctx, conflict.GormLookup{DB: tx}, agentIDs, *r.Date, candidates, ""); err != nil {
				return err
			}
		}
		if err := tx.Create(r).Error; err != nil {
			return fmt.Errorf("route: create: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return m.Get(ctx, r.ID)
}

// checkAssigned reports routes the actor is not assigned to as not found.
func checkAssigned(actor Actor, r *models.Route) error {
	if actor.Privileged() || r.HasAgent(actor.ID) {
		return nil
	}
	return apperr.NotFound("route %s not found", r.ID)
}

// checkSelfAssigned rejects a non-privileged actor planning a route they
// are not assigned to.
func checkSelfAssigned(actor Actor, agentIDs []string) error {
	if actor.Privileged() {
		return nil
	}
	for _, id := range agentIDs {
		if id == actor.ID {
			return nil
		}
	}
	return apperr.Forbidden("agent %s may only plan their own routes", actor.ID)
}

// Get loads a route with agents, items, products and checklists.
func (m *Manager) Get(ctx context.Context, id string) (*models.Route, error) {
	return loadRoute(m.db.WithContext(ctx), id)
}

func loadRoute(tx *gorm.DB, id string) (*models.Route, error) {
	var r models.Route
	err := tx.
		Preload("Agents.Employee").
		Preload("Items", func(db *gorm.DB) *gorm.DB { return db.Order("visit_order, start_time") }).
		Preload("Items.Store").
		Preload("Items.Products", func(db *gorm.DB) *gorm.DB { return db.Order("created_at, id") }).
		Preload("Items.Products.Product.Brand").
		Preload("Items.Products.Checklist", func(db *gorm.DB) *gorm.DB { return db.Order("position") }).
		First(&r, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.NotFound("route %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("route: get %s: %w", id, err)
	}
	return &r, nil
}

// ListFilters narrows List. Zero values match everything.
type ListFilters struct {
	AgentID   string
	Date      *wallclock.Date
	From      *wallclock.Date
	To        *wallclock.Date
	Status    string
	Templates *bool
}

// List returns routes with agents and items, newest date first.
func (m *Manager) List(ctx context.Context, f ListFilters) ([]models.Route, error) {
	q := m.db.WithContext(ctx).
		Preload("Agents").
		Preload("Items", func(db *gorm.DB) *gorm.DB { return db.Order("visit_order, start_time") }).
		Preload("Items.Store")
	if f.AgentID != "" {
		q = q.Where("id IN (?)", m.db.Model(&models.RouteAgent{}).Select("route_id").Where("employee_id = ?", f.AgentID))
	}
	if f.Date != nil {
		q = q.Where("date = ?", *f.Date)
	}
	if f.From != nil {
		q = q.Where("date >= ?", *f.From)
	}
	if f.To != nil {
		q = q.Where("date <= ?", *f.To)
	}
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	if f.Templates != nil {
		q = q.Where("is_template = ?", *f.Templates)
	}
	var routes []models.Route
	if err := q.Order("date DESC, created_at DESC").Find(&routes).Error; err != nil {
		return nil, fmt.Errorf("route: list: %w", err)
	}
	return routes, nil
}

func validateHeader(isTemplate bool, date *wallclock.Date, agentIDs []string) ([]string, error) {
	ids := make([]string, 0, len(agentIDs))
	seen := make(map[string]bool, len(agentIDs))
	for _, id := range agentIDs {
		if id == "" {
			return nil, apperr.Validation("agent id must not be empty")
		}
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	if isTemplate {
		return ids, nil
	}
	if date == nil || date.IsZero() {
		return nil, apperr.Validation("date is required")
	}
	if len(ids) == 0 {
		return nil, apperr.Validation("at least one agent is required")
	}
	return ids, nil
}

func normalizeSpecs(in []VisitSpec) ([]VisitSpec, error) {
	out := make([]VisitSpec, len(in))
	for i, v := range in {
		n := i + 1
		if v.StoreID == "" {
			return nil, apperr.Validation("item %d: storeId is required", n)
		}
		if v.EstimatedDuration != nil && *v.EstimatedDuration <= 0 {
			return nil, apperr.Validation("item %d: estimatedDuration must be positive", n)
		}
		switch {
		case v.StartTime != nil && v.EstimatedDuration != nil:
			end := v.StartTime.Add(*v.EstimatedDuration)
			if v.EndTime != nil && *v.EndTime != end {
				return nil, apperr.Validation("item %d: endTime %s does not match startTime %s plus %d minutes",
					n, v.EndTime, v.StartTime, *v.EstimatedDuration)
			}
			v.EndTime = &end
		case v.StartTime != nil && v.EndTime != nil:
			if *v.EndTime <= *v.StartTime {
				return nil, apperr.Validation("item %d: endTime %s must be after startTime %s", n, v.EndTime, v.StartTime)
			}
			d := v.EndTime.Minutes() - v.StartTime.Minutes()
			v.EstimatedDuration = &d
		}
		if v.StartTime != nil && v.StartTime.Minutes() >= wallclock.MinutesPerDay {
			return nil, apperr.Validation("item %d: startTime %s is not a time of day", n, v.StartTime)
		}
		if v.EndTime != nil && v.EndTime.Minutes() > wallclock.MinutesPerDay {
			return nil, apperr.Validation("item %d: visit must end by midnight", n)
		}
		if v.Order == nil {
			order := n
			v.Order = &order
		}
		for j, p := range v.Products {
			if p.ProductID == "" {
				return nil, apperr.Validation("item %d product %d: productId is required", n, j+1)
			}
			for _, c := range p.Checklist {
				if !validChecklistType(c.Type) {
					return nil, apperr.Validation("item %d product %s: unknown checklist type %q", n, p.ProductID, c.Type)
				}
			}
		}
		out[i] = v
	}
	return out, nil
}

func buildItems(routeID string, specs []VisitSpec) []models.RouteItem {
	items := make([]models.RouteItem, 0, len(specs))
	for _, v := range specs {
		item := models.RouteItem{
			ID:                uuid.NewString(),
			RouteID:           routeID,
			StoreID:           v.StoreID,
			Order:             *v.Order,
			StartTime:         v.StartTime,
			EndTime:           v.EndTime,
			EstimatedDuration: v.EstimatedDuration,
			Status:            models.VisitPending,
		}
		for _, p := range v.Products {
			rip := models.RouteItemProduct{
				ID:               uuid.NewString(),
				RouteItemID:      item.ID,
				ProductID:        p.ProductID,
				StockCountStatus: models.StockNone,
			}
			for pos, c := range p.Checklist {
				rip.Checklist = append(rip.Checklist, models.RouteItemProductChecklist{
					ID:                  uuid.NewString(),
					RouteItemProductID:  rip.ID,
					Type:                c.Type,
					Description:         c.Description,
					Position:            pos,
					CompetitorProductID: c.CompetitorProductID,
				})
			}
			item.Products = append(item.Products, rip)
		}
		items = append(items, item)
	}
	return items
}

// resolveReferences checks that every referenced agent, store and product
// exists and returns the stores by id.
func resolveReferences(tx *gorm.DB, agentIDs []string, specs []VisitSpec) (map[string]models.Store, error) {
	if len(agentIDs) > 0 {
		var employees []models.Employee
		if err := tx.Where("id IN ?", agentIDs).Find(&employees).Error; err != nil {
			return nil, fmt.Errorf("route: load agents: %w", err)
		}
		found := make(map[string]models.Employee, len(employees))
		for _, e := range employees {
			found[e.ID] = e
		}
		for _, id := range agentIDs {
			e, ok := found[id]
			if !ok {
				return nil, apperr.NotFound("employee %s not found", id)
			}
			if !e.Active {
				return nil, apperr.Validation("employee %s (%s) is inactive", e.Name, id)
			}
		}
	}

	storeIDs, productIDs := referencedIDs(specs)
	stores := make(map[string]models.Store, len(storeIDs))
	if len(storeIDs) > 0 {
		var rows []models.Store
		if err := tx.Where("id IN ?", storeIDs).Find(&rows).Error; err != nil {
			return nil, fmt.Errorf("route: load stores: %w", err)
		}
		for _, s := range rows {
			stores[s.ID] = s
		}
		for _, id := range storeIDs {
			if _, ok := stores[id]; !ok {
				return nil, apperr.NotFound("store %s not found", id)
			}
		}
	}
	if len(productIDs) > 0 {
		var found []string
		if err := tx.Model(&models.Product{}).Where("id IN ?", productIDs).Pluck("id", &found).Error; err != nil {
			return nil, fmt.Errorf("route: load products: %w", err)
		}
		have := make(map[string]bool, len(found))
		for _, id := range found {
			have[id] = true
		}
		for _, id := range productIDs {
			if !have[id] {
				return nil, apperr.NotFound("product %s not found", id)
			}
		}
	}
	return stores, nil
}

func referencedIDs(specs []VisitSpec) (storeIDs, productIDs []string) {
	seenStore := make(map[string]bool)
	seenProduct := make(map[string]bool)
	for _, v := range specs {
		if !seenStore[v.StoreID] {
			seenStore[v.StoreID] = true
			storeIDs = append(storeIDs, v.StoreID)
		}
		for _, p := range v.Products {
			if !seenProduct[p.ProductID] {
				seenProduct[p.ProductID] = true
				productIDs = append(productIDs, p.ProductID)
			}
			for _, c := range p.Checklist {
				if c.CompetitorProductID != nil && *c.CompetitorProductID != "" && !seenProduct[*c.CompetitorProductID] {
					seenProduct[*c.CompetitorProductID] = true
					productIDs = append(productIDs, *c.CompetitorProductID)
				}
			}
		}
	}
	return storeIDs, productIDs
}

func candidatesFromSpecs(specs []VisitSpec, stores map[string]models.Store) []conflict.Candidate {
	out := make([]conflict.Candidate, 0, len(specs))
	for _, v := range specs {
		out = append(out, conflict.Candidate{
			StoreID:   v.StoreID,
			StoreName: stores[v.StoreID].Name,
			Start:     v.StartTime,
			Duration:  v.EstimatedDuration,
		})
	}
	return out
}

func lockKeys(agentIDs []string, dates ...*wallclock.Date) []string {
	var keys []string
	for _, d := range dates {
		if d == nil {
			continue
		}
		for _, id := range agentIDs {
			keys = append(keys, conflict.Key(id, *d))
		}
	}
	return keys
}
