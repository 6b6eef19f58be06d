package conflict

import (
	"context"

	"github.com/zulandar/visitline/internal/models"
	"github.com/zulandar/visitline/internal/wallclock"
	"gorm.io/gorm"
)

// GormLookup reads visits from the route tables. Pass a transaction handle
// to see uncommitted writes of the same unit of work.
type GormLookup struct {
	DB *gorm.DB
}

type visitRow struct {
	RouteID           string
	ItemID            string
	StoreID           string
	StoreName         string
	StartTime         wallclock.TimeOfDay
	EstimatedDuration int
}

// TimedVisits implements Lookup.
func (l GormLookup) TimedVisits(ctx context.Context, agentID string, date wallclock.Date, excludeRouteID string) ([]Visit, error) {
	q := l.DB.WithContext(ctx).
		Model(&models.RouteItem{}).
		Select("route_items.route_id, route_items.id AS item_id, route_items.store_id, COALESCE(stores.name, '') AS store_name, route_items.start_time, route_items.estimated_duration").
		Joins("JOIN routes ON routes.id = route_items.route_id").
		Joins("JOIN route_agents ON route_agents.route_id = routes.id").
		Joins("LEFT JOIN stores ON stores.id = route_items.store_id").
		Where("route_agents.employee_id = ?", agentID).
		Where("routes.date = ?", date).
		Where("routes.is_template = ?", false).
		Where("route_items.start_time IS NOT NULL AND route_items.estimated_duration IS NOT NULL")
	if excludeRouteID != "" {
		q = q.Where("routes.id <> ?", excludeRouteID)
	}

	var rows []visitRow
	if err := q.Order("route_items.start_time").Scan(&rows).Error; err != nil {
		return nil, err
	}
	visits := make([]Visit, 0, len(rows))
	for _, r := range rows {
		visits = append(visits, Visit{
			RouteID:   r.RouteID,
			ItemID:    r.ItemID,
			StoreID:   r.StoreID,
			StoreName: r.StoreName,
			Start:     r.StartTime,
			Duration:  r.EstimatedDuration,
		})
	}
	return visits, nil
}
