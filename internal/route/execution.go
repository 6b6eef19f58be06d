package route

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/zulandar/visitline/internal/apperr"
	"github.com/zulandar/visitline/internal/geo"
	"github.com/zulandar/visitline/internal/models"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// CheckInOpts carries the device position and, for offline-queued calls,
// the time the agent actually arrived.
type CheckInOpts struct {
	Lat *float64   `json:"lat"`
	Lng *float64   `json:"lng"`
	At  *time.Time `json:"timestamp"`
}

// CheckOutOpts mirrors CheckInOpts for departure.
type CheckOutOpts struct {
	Lat *float64   `json:"lat"`
	Lng *float64   `json:"lng"`
	At  *time.Time `json:"timestamp"`
}

// CheckIn moves a PENDING visit to CHECKIN. A repeated call on a visit
// already in CHECKIN returns it unchanged. When both the device and the
// store have coordinates the device must be within the geofence radius.
func (m *Manager) CheckIn(ctx context.Context, actor Actor, itemID string, opts CheckInOpts) (*models.RouteItem, error) {
	var routeAgent string
	err := m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		item, err := loadItemForExecution(tx, actor, itemID)
		if err != nil {
			return err
		}
		if item.Status == models.VisitCheckIn {
			return nil
		}
		if item.Status != models.VisitPending {
			return apperr.State("cannot check in visit %s: visit is %s", itemID, item.Status).With("status", item.Status)
		}

		var storePoint *geo.Point
		if item.Store != nil {
			storePoint = geo.PointOf(item.Store.Latitude, item.Store.Longitude)
		}
		verdict := geo.Verify(geo.PointOf(opts.Lat, opts.Lng), storePoint, m.radius)
		if verdict.Outcome == geo.Outside {
			return apperr.Validation("check-in is %.0f m from the store, more than the allowed %.0f m",
				verdict.DistanceMeters, verdict.RadiusMeters).
				With("distance_meters", verdict.DistanceMeters).
				With("radius_meters", verdict.RadiusMeters)
		}

		at := m.eventTime(opts.At)
		updates := map[string]interface{}{
			"status":        models.VisitCheckIn,
			"check_in_time": at,
			"check_in_lat":  opts.Lat,
			"check_in_lng":  opts.Lng,
		}
		if verdict.Outcome != geo.Unverifiable {
			updates["check_in_distance"] = verdict.DistanceMeters
		}
		// Guarded on PENDING so a concurrent retry cannot move the timestamp.
		res := tx.Model(&models.RouteItem{}).
			Where("id = ? AND status = ? AND check_in_time IS NULL", itemID, models.VisitPending).
			Updates(updates)
		if res.Error != nil {
			return fmt.Errorf("route: check in %s: %w", itemID, res.Error)
		}
		if res.RowsAffected == 0 {
			return nil
		}
		if err := tx.Model(&models.Route{}).
			Where("id = ? AND status IN ?", item.RouteID, []string{models.RouteDraft, models.RouteConfirmed}).
			Update("status", models.RouteInProgress).Error; err != nil {
			return fmt.Errorf("route: start route %s: %w", item.RouteID, err)
		}
		routeAgent = actor.ID
		return nil
	})
	if err != nil {
		return nil, err
	}
	m.touch(ctx, routeAgent)
	return m.GetItem(ctx, itemID)
}

// CheckOut moves a CHECKIN visit to CHECKOUT. A repeated call on a visit
// already in CHECKOUT returns it unchanged. The route completes once every
// visit is done.
func (m *Manager) CheckOut(ctx context.Context, actor Actor, itemID string, opts CheckOutOpts) (*models.RouteItem, error) {
	var routeAgent string
	err := m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		item, err := loadItemForExecution(tx, actor, itemID)
		if err != nil {
			return err
		}
		if item.Status == models.VisitCheckOut {
			return nil
		}
		if item.Status != models.VisitCheckIn {
			return apperr.State("cannot check out visit %s: visit is %s", itemID, item.Status).With("status", item.Status)
		}
		at := m.eventTime(opts.At)
		if item.CheckInTime != nil && at.Before(*item.CheckInTime) {
			return apperr.Validation("check-out time %s is before check-in time %s",
				at.Format(time.RFC3339), item.CheckInTime.Format(time.RFC3339))
		}
		res := tx.Model(&models.RouteItem{}).
			Where("id = ? AND status = ? AND check_out_time IS NULL", itemID, models.VisitCheckIn).
			Updates(map[string]interface{}{
				"status":         models.VisitCheckOut,
				"check_out_time": at,
				"check_out_lat":  opts.Lat,
				"check_out_lng":  opts.Lng,
			})
		if res.Error != nil {
			return fmt.Errorf("route: check out %s: %w", itemID, res.Error)
		}
		if res.RowsAffected == 0 {
			return nil
		}
		routeAgent = actor.ID
		return completeIfDone(tx, item.RouteID)
	})
	if err != nil {
		return nil, err
	}
	m.touch(ctx, routeAgent)
	return m.GetItem(ctx, itemID)
}

// Skip marks a PENDING visit as SKIPPED. Skipping an already skipped visit
// is a no-op.
func (m *Manager) Skip(ctx context.Context, actor Actor, itemID, reason string) (*models.RouteItem, error) {
	if reason == "" {
		return nil, apperr.Validation("a reason is required to skip a visit")
	}
	err := m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		item, err := loadItemForExecution(tx, actor, itemID)
		if err != nil {
			return err
		}
		if item.Status == models.VisitSkipped {
			return nil
		}
		if item.Status != models.VisitPending {
			return apperr.State("cannot skip visit %s: visit is %s", itemID, item.Status).With("status", item.Status)
		}
		if err := tx.Model(&models.RouteItem{}).
			Where("id = ? AND status = ?", itemID, models.VisitPending).
			Updates(map[string]interface{}{"status": models.VisitSkipped, "skip_reason": reason}).Error; err != nil {
			return fmt.Errorf("route: skip %s: %w", itemID, err)
		}
		return completeIfDone(tx, item.RouteID)
	})
	if err != nil {
		return nil, err
	}
	return m.GetItem(ctx, itemID)
}

// ManualProductResult is a per-product result recorded with a manual
// execution. ProductID is the catalog product id within the visit.
type ManualProductResult struct {
	ProductID string             `json:"productId"`
	Update    ProductCheckUpdate `json:"update"`
}

// ManualOpts holds an administrative execution entry.
type ManualOpts struct {
	CheckInTime  *time.Time            `json:"checkInTime"`
	CheckOutTime *time.Time            `json:"checkOutTime"`
	Reason       string                `json:"reason"`
	Products     []ManualProductResult `json:"products"`
}

// ManualExecution records a visit as COMPLETED on behalf of an agent. Only
// privileged actors may do this. Timestamps already set on the visit are
// kept; missing ones are filled from opts, falling back to now.
func (m *Manager) ManualExecution(ctx context.Context, actor Actor, itemID string, opts ManualOpts) (*models.RouteItem, error) {
	if !actor.Privileged() {
		return nil, apperr.Forbidden("manual execution requires an administrative role")
	}
	if opts.Reason == "" {
		return nil, apperr.Validation("a reason is required for manual execution")
	}
	now := m.now()
	err := m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		item, err := loadItemForExecution(tx, actor, itemID)
		if err != nil {
			return err
		}

		checkIn := item.CheckInTime
		if checkIn == nil {
			t := now
			if opts.CheckInTime != nil {
				t = *opts.CheckInTime
			}
			checkIn = &t
		}
		checkOut := item.CheckOutTime
		if checkOut == nil {
			t := now
			if opts.CheckOutTime != nil {
				t = *opts.CheckOutTime
			}
			checkOut = &t
		}
		if checkOut.Before(*checkIn) {
			return apperr.Validation("check-out time %s is before check-in time %s",
				checkOut.Format(time.RFC3339), checkIn.Format(time.RFC3339))
		}

		if err := tx.Model(&models.RouteItem{}).Where("id = ?", itemID).Updates(map[string]interface{}{
			"status":              models.VisitCompleted,
			"check_in_time":       *checkIn,
			"check_out_time":      *checkOut,
			"manual_entry":        true,
			"manual_entry_by":     actor.ID,
			"manual_entry_at":     now,
			"manual_entry_reason": opts.Reason,
		}).Error; err != nil {
			return fmt.Errorf("route: manual execution %s: %w", itemID, err)
		}

		for _, p := range opts.Products {
			rip, err := findItemProduct(tx, itemID, p.ProductID)
			if err != nil {
				return err
			}
			if err := applyProductCheck(tx, rip, p.Update, now); err != nil {
				return err
			}
		}
		if err := tx.Model(&models.Route{}).
			Where("id = ? AND status IN ?", item.RouteID, []string{models.RouteDraft, models.RouteConfirmed}).
			Update("status", models.RouteInProgress).Error; err != nil {
			return fmt.Errorf("route: start route %s: %w", item.RouteID, err)
		}
		return completeIfDone(tx, item.RouteID)
	})
	if err != nil {
		return nil, err
	}
	return m.GetItem(ctx, itemID)
}

// GetItem loads a visit with its store, products and checklists.
func (m *Manager) GetItem(ctx context.Context, itemID string) (*models.RouteItem, error) {
	var item models.RouteItem
	err := m.db.WithContext(ctx).
		Preload("Store").
		Preload("Products", func(db *gorm.DB) *gorm.DB { return db.Order("created_at, id") }).
		Preload("Products.Product").
		Preload("Products.Checklist", func(db *gorm.DB) *gorm.DB { return db.Order("position") }).
		First(&item, "id = ?", itemID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.NotFound("visit %s not found", itemID)
	}
	if err != nil {
		return nil, fmt.Errorf("route: get visit %s: %w", itemID, err)
	}
	return &item, nil
}

// ViewItem is GetItem on behalf of actor. Visits on routes the actor is not
// assigned to are reported as not found.
func (m *Manager) ViewItem(ctx context.Context, actor Actor, itemID string) (*models.RouteItem, error) {
	item, err := m.GetItem(ctx, itemID)
	if err != nil || actor.Privileged() {
		return item, err
	}
	var n int64
	err = m.db.WithContext(ctx).Model(&models.RouteAgent{}).
		Where("route_id = ? AND employee_id = ?", item.RouteID, actor.ID).
		Count(&n).Error
	if err != nil {
		return nil, fmt.Errorf("route: check assignment for visit %s: %w", itemID, err)
	}
	if n == 0 {
		return nil, apperr.NotFound("visit %s not found", itemID)
	}
	return item, nil
}

// loadItemForExecution loads a visit for a field operation and checks that
// the actor is assigned to its route.
func loadItemForExecution(tx *gorm.DB, actor Actor, itemID string) (*models.RouteItem, error) {
	var item models.RouteItem
	err := tx.Preload("Route.Agents").Preload("Store").First(&item, "id = ?", itemID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.NotFound("visit %s not found", itemID)
	}
	if err != nil {
		return nil, fmt.Errorf("route: load visit %s: %w", itemID, err)
	}
	if item.Route == nil {
		return nil, apperr.NotFound("route %s not found", item.RouteID)
	}
	if item.Route.IsTemplate {
		return nil, apperr.State("visit %s belongs to a template route", itemID)
	}
	if !actor.Privileged() && !item.Route.HasAgent(actor.ID) {
		return nil, apperr.Forbidden("agent %s is not assigned to route %s", actor.ID, item.RouteID)
	}
	return &item, nil
}

// completeIfDone promotes the route to COMPLETED when no visit is left to do.
func completeIfDone(tx *gorm.DB, routeID string) error {
	var open int64
	if err := tx.Model(&models.RouteItem{}).
		Where("route_id = ? AND status IN ?", routeID, []string{models.VisitPending, models.VisitCheckIn}).
		Count(&open).Error; err != nil {
		return fmt.Errorf("route: count open visits of %s: %w", routeID, err)
	}
	if open > 0 {
		return nil
	}
	if err := tx.Model(&models.Route{}).
		Where("id = ? AND status <> ?", routeID, models.RouteCompleted).
		Update("status", models.RouteCompleted).Error; err != nil {
		return fmt.Errorf("route: complete %s: %w", routeID, err)
	}
	return nil
}

func (m *Manager) eventTime(at *time.Time) time.Time {
	if at != nil && !at.IsZero() {
		return *at
	}
	return m.now()
}

// touch records agent activity. Presence is advisory; a failure is logged
// and does not fail the visit operation.
func (m *Manager) touch(ctx context.Context, agentID string) {
	if m.presence == nil || agentID == "" {
		return
	}
	if err := m.presence.Touch(ctx, agentID, m.now()); err != nil {
		m.log.Warn("presence touch failed", zap.String("employee_id", agentID), zap.Error(err))
	}
}
