package route

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/zulandar/visitline/internal/apperr"
	"github.com/zulandar/visitline/internal/conflict"
	"github.com/zulandar/visitline/internal/models"
	"github.com/zulandar/visitline/internal/optional"
	"github.com/zulandar/visitline/internal/wallclock"
	"gorm.io/gorm"
)

// ValidTransitions defines the route status changes any actor may request.
var ValidTransitions = map[string][]string{
	models.RouteDraft:     {models.RouteConfirmed},
	models.RouteConfirmed: {models.RouteDraft},
}

// PrivilegedTransitions are additionally open to privileged actors.
var PrivilegedTransitions = map[string][]string{
	models.RouteDraft:      {models.RouteCompleted},
	models.RouteConfirmed:  {models.RouteCompleted},
	models.RouteInProgress: {models.RouteCompleted},
	models.RouteCompleted:  {models.RouteConfirmed},
}

// IsValidTransition reports whether actor may move a route from one status
// to another.
func IsValidTransition(actor Actor, from, to string) bool {
	if from == to {
		return true
	}
	for _, s := range ValidTransitions[from] {
		if s == to {
			return true
		}
	}
	if !actor.Privileged() {
		return false
	}
	for _, s := range PrivilegedTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// UpdateOpts holds the fields to change. Absent fields are left unchanged.
// Setting Items replaces the whole item subtree.
type UpdateOpts struct {
	Name     optional.Value[string]          `json:"name"`
	Date     optional.Value[*wallclock.Date] `json:"date"`
	Status   optional.Value[string]          `json:"status"`
	AgentIDs optional.Value[[]string]        `json:"agentIds"`
	Items    optional.Value[[]VisitSpec]     `json:"items"`
}

// Update applies a partial update. Locked routes (completed, or with any
// executed visit) reject non-privileged edits. Structural changes are
// conflict-checked against every other route and applied atomically.
func (m *Manager) Update(ctx context.Context, actor Actor, id string, opts UpdateOpts) (*models.Route, error) {
	current, err := m.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := checkAssigned(actor, current); err != nil {
		return nil, err
	}

	date := current.Date
	if v, ok := opts.Date.Get(); ok {
		date = v
	}
	agentIDs := current.AgentIDs()
	if v, ok := opts.AgentIDs.Get(); ok {
		agentIDs = v
	}
	unlock := m.locker.Lock(append(lockKeys(agentIDs, date), lockKeys(current.AgentIDs(), current.Date)...)...)
	defer unlock()

	err = m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		r, err := loadRoute(tx, id)
		if err != nil {
			return err
		}
		if err := checkAssigned(actor, r); err != nil {
			return err
		}
		if err := checkEditLock(actor, r, "edit"); err != nil {
			return err
		}

		updates := map[string]interface{}{}
		if name, ok := opts.Name.Get(); ok {
			updates["name"] = name
		}
		if status, ok := opts.Status.Get(); ok && status != r.Status {
			if !IsValidTransition(actor, r.Status, status) {
				return apperr.State("route cannot move from %s to %s", r.Status, status).
					With("from", r.Status).With("to", status)
			}
			updates["status"] = status
		}

		structural := opts.Date.Set || opts.AgentIDs.Set || opts.Items.Set
		if !structural {
			return applyRouteUpdates(tx, id, updates)
		}

		ids, err := validateHeader(r.IsTemplate, date, agentIDs)
		if err != nil {
			return err
		}
		if err := checkSelfAssigned(actor, ids); err != nil {
			return err
		}
		var specs []VisitSpec
		if items, ok := opts.Items.Get(); ok {
			if specs, err = normalizeSpecs(items); err != nil {
				return err
			}
		} else {
			specs = specsFromItems(r.Items)
		}
		stores, err := resolveReferences(tx, ids, specs)
		if err != nil {
			return err
		}
		if !r.IsTemplate {
			candidates := candidatesFromSpecs(specs, stores)
			if err := conflict.CheckSet(ctx, conflict.GormLookup{DB: tx}, ids, *date, candidates, id); err != nil {
				return err
			}
		}

		if opts.Date.Set && !r.IsTemplate {
			updates["date"] = date
		}
		if err := applyRouteUpdates(tx, id, updates); err != nil {
			return err
		}
		if opts.AgentIDs.Set {
			if err := tx.Where("route_id = ?", id).Delete(&models.RouteAgent{}).Error; err != nil {
				return fmt.Errorf("route: clear agents: %w", err)
			}
			agents := make([]models.RouteAgent, 0, len(ids))
			for _, a := range ids {
				agents = append(agents, models.RouteAgent{RouteID: id, EmployeeID: a})
			}
			if len(agents) > 0 {
				if err := tx.Create(&agents).Error; err != nil {
					return fmt.Errorf("route: set agents: %w", err)
				}
			}
		}
		if opts.Items.Set {
			if err := deleteItems(tx, id); err != nil {
				return err
			}
			items := buildItems(id, specs)
			if len(items) > 0 {
				if err := tx.Create(&items).Error; err != nil {
					return fmt.Errorf("route: recreate items: %w", err)
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return m.Get(ctx, id)
}

func applyRouteUpdates(tx *gorm.DB, id string, updates map[string]interface{}) error {
	if len(updates) == 0 {
		return nil
	}
	if err := tx.Model(&models.Route{}).Where("id = ?", id).Updates(updates).Error; err != nil {
		return fmt.Errorf("route: update %s: %w", id, err)
	}
	return nil
}

// checkEditLock rejects non-privileged structural changes to a completed
// route or one that has started executing.
func checkEditLock(actor Actor, r *models.Route, verb string) error {
	if actor.Privileged() {
		return nil
	}
	if r.Status == models.RouteCompleted {
		return apperr.State("cannot %s route %s: route is %s", verb, r.ID, r.Status).With("status", r.Status)
	}
	for _, item := range r.Items {
		if item.HasExecution() {
			return apperr.State("cannot %s route %s: visit %s is %s", verb, r.ID, item.ID, item.Status).
				With("item_id", item.ID).With("status", item.Status)
		}
	}
	return nil
}

func specsFromItems(items []models.RouteItem) []VisitSpec {
	specs := make([]VisitSpec, 0, len(items))
	for _, it := range items {
		order := it.Order
		spec := VisitSpec{
			StoreID:           it.StoreID,
			Order:             &order,
			StartTime:         it.StartTime,
			EndTime:           it.EndTime,
			EstimatedDuration: it.EstimatedDuration,
		}
		for _, p := range it.Products {
			ps := ProductSpec{ProductID: p.ProductID}
			for _, c := range p.Checklist {
				ps.Checklist = append(ps.Checklist, ChecklistSpec{
					Type:                c.Type,
					Description:         c.Description,
					CompetitorProductID: c.CompetitorProductID,
				})
			}
			spec.Products = append(spec.Products, ps)
		}
		specs = append(specs, spec)
	}
	return specs
}

func deleteItems(tx *gorm.DB, routeID string) error {
	items := tx.Model(&models.RouteItem{}).Select("id").Where("route_id = ?", routeID)
	products := tx.Model(&models.RouteItemProduct{}).Select("id").Where("route_item_id IN (?)", items)
	if err := tx.Where("route_item_product_id IN (?)", products).Delete(&models.RouteItemProductChecklist{}).Error; err != nil {
		return fmt.Errorf("route: delete checklists: %w", err)
	}
	if err := tx.Where("route_item_id IN (?)", items).Delete(&models.RouteItemProduct{}).Error; err != nil {
		return fmt.Errorf("route: delete products: %w", err)
	}
	if err := tx.Where("route_id = ?", routeID).Delete(&models.RouteItem{}).Error; err != nil {
		return fmt.Errorf("route: delete items: %w", err)
	}
	return nil
}

// DuplicateOpts holds parameters for Duplicate. Empty AgentIDs keeps the
// source route's agents.
type DuplicateOpts struct {
	Dates    []wallclock.Date `json:"dates"`
	AgentIDs []string         `json:"agentIds"`
}

// Duplicate clones a route's item and product structure, without execution
// results, onto each date as a DRAFT route. All clones are written or none.
func (m *Manager) Duplicate(ctx context.Context, actor Actor, id string, opts DuplicateOpts) ([]models.Route, error) {
	if len(opts.Dates) == 0 {
		return nil, apperr.Validation("at least one date is required")
	}
	seen := make(map[wallclock.Date]bool, len(opts.Dates))
	dates := make([]*wallclock.Date, 0, len(opts.Dates))
	for i := range opts.Dates {
		d := opts.Dates[i]
		if d.IsZero() {
			return nil, apperr.Validation("date %d is empty", i+1)
		}
		if seen[d] {
			return nil, apperr.Validation("date %s is listed twice", d)
		}
		seen[d] = true
		dates = append(dates, &d)
	}

	src, err := m.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := checkAssigned(actor, src); err != nil {
		return nil, err
	}
	agentIDs := opts.AgentIDs
	if len(agentIDs) == 0 {
		agentIDs = src.AgentIDs()
	}
	if agentIDs, err = validateHeader(false, dates[0], agentIDs); err != nil {
		return nil, err
	}
	if err := checkSelfAssigned(actor, agentIDs); err != nil {
		return nil, err
	}
	specs := specsFromItems(src.Items)

	unlock := m.locker.Lock(lockKeys(agentIDs, dates...)...)
	defer unlock()

	clones := make([]*models.Route, 0, len(dates))
	err = m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		stores, err := resolveReferences(tx, agentIDs, specs)
		if err != nil {
			return err
		}
		candidates := candidatesFromSpecs(specs, stores)
		for _, d := range dates {
			if err := conflict.CheckSet(ctx, conflict.GormLookup{DB: tx}, agentIDs, *d, candidates, ""); err != nil {
				return err
			}
			clone := &models.Route{
				ID:        uuid.NewString(),
				Name:      src.Name,
				Date:      d,
				Status:    models.RouteDraft,
				CreatedBy: actor.ID,
			}
			for _, a := range agentIDs {
				clone.Agents = append(clone.Agents, models.RouteAgent{RouteID: clone.ID, EmployeeID: a})
			}
			clone.Items = buildItems(clone.ID, specs)
			if err := tx.Create(clone).Error; err != nil {
				return fmt.Errorf("route: duplicate %s to %s: %w", id, d, err)
			}
			clones = append(clones, clone)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	out := make([]models.Route, 0, len(clones))
	for _, c := range clones {
		r, err := m.Get(ctx, c.ID)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, nil
}

// Remove deletes a route and its whole subtree. Non-privileged actors may
// only remove routes they are assigned to. Routes that are completed,
// in progress or have any executed visit can only be removed by privileged
// actors.
func (m *Manager) Remove(ctx context.Context, actor Actor, id string) error {
	return m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		r, err := loadRoute(tx, id)
		if err != nil {
			return err
		}
		if err := checkAssigned(actor, r); err != nil {
			return err
		}
		if !actor.Privileged() && r.Status == models.RouteInProgress {
			return apperr.State("cannot delete route %s: route is %s", id, r.Status).With("status", r.Status)
		}
		if err := checkEditLock(actor, r, "delete"); err != nil {
			return err
		}
		if err := deleteItems(tx, id); err != nil {
			return err
		}
		if err := tx.Where("route_id = ?", id).Delete(&models.RouteAgent{}).Error; err != nil {
			return fmt.Errorf("route: delete agents: %w", err)
		}
		if err := tx.Where("id = ?", id).Delete(&models.Route{}).Error; err != nil {
			return fmt.Errorf("route: delete %s: %w", id, err)
		}
		return nil
	})
}
