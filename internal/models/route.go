package models

import (
	"time"

	"github.com/zulandar/visitline/internal/wallclock"
	"gorm.io/datatypes"
)

// Route statuses.
const (
	RouteDraft      = "DRAFT"
	RouteConfirmed  = "CONFIRMED"
	RouteInProgress = "IN_PROGRESS"
	RouteCompleted  = "COMPLETED"
)

// Visit (RouteItem) statuses.
const (
	VisitPending   = "PENDING"
	VisitCheckIn   = "CHECKIN"
	VisitCheckOut  = "CHECKOUT"
	VisitCompleted = "COMPLETED"
	VisitSkipped   = "SKIPPED"
)

// Stock count review statuses.
const (
	StockNone          = "NONE"
	StockPendingReview = "PENDING_REVIEW"
	StockApproved      = "APPROVED"
	StockRejected      = "REJECTED"
)

// Checklist entry types.
const (
	ChecklistSimple        = "SIMPLE"
	ChecklistPhoto         = "PHOTO"
	ChecklistValidityCheck = "VALIDITY_CHECK"
	ChecklistPriceCheck    = "PRICE_CHECK"
	ChecklistStockCount    = "STOCK_COUNT"
)

// Route is a dated (or template) assignment of store visits to field agents.
type Route struct {
	ID         string          `gorm:"primaryKey;size:36" json:"id"`
	Name       string          `gorm:"size:128" json:"name"`
	Date       *wallclock.Date `gorm:"type:varchar(10);index" json:"date"`
	IsTemplate bool            `gorm:"default:false;index" json:"isTemplate"`
	Status     string          `gorm:"size:16;default:DRAFT;index" json:"status"`
	CreatedBy  string          `gorm:"size:36" json:"createdBy"`
	CreatedAt  time.Time       `json:"createdAt"`
	UpdatedAt  time.Time       `json:"updatedAt"`

	Agents []RouteAgent `gorm:"foreignKey:RouteID" json:"agents"`
	Items  []RouteItem  `gorm:"foreignKey:RouteID" json:"items"`
}

// AgentIDs returns the ids of the agents assigned to the route.
func (r *Route) AgentIDs() []string {
	ids := make([]string, 0, len(r.Agents))
	for _, a := range r.Agents {
		ids = append(ids, a.EmployeeID)
	}
	return ids
}

// HasAgent reports whether the employee is assigned to the route.
func (r *Route) HasAgent(employeeID string) bool {
	for _, a := range r.Agents {
		if a.EmployeeID == employeeID {
			return true
		}
	}
	return false
}

// RouteAgent assigns one field agent to a route. A route may have several.
type RouteAgent struct {
	RouteID    string `gorm:"primaryKey;size:36" json:"-"`
	EmployeeID string `gorm:"primaryKey;size:36;index" json:"employeeId"`

	Employee *Employee `gorm:"foreignKey:EmployeeID" json:"employee,omitempty"`
}

// RouteItem is a single visit to one store within a route.
type RouteItem struct {
	ID                string               `gorm:"primaryKey;size:36" json:"id"`
	RouteID           string               `gorm:"size:36;not null;index" json:"routeId"`
	StoreID           string               `gorm:"size:36;not null;index" json:"storeId"`
	Order             int                  `gorm:"column:visit_order" json:"order"`
	StartTime         *wallclock.TimeOfDay `gorm:"type:varchar(5)" json:"startTime"`
	EndTime           *wallclock.TimeOfDay `gorm:"type:varchar(5)" json:"endTime"`
	EstimatedDuration *int                 `json:"estimatedDuration"`
	Status            string               `gorm:"size:16;default:PENDING;index" json:"status"`
	CheckInTime       *time.Time           `json:"checkInTime"`
	CheckOutTime      *time.Time           `json:"checkOutTime"`
	CheckInLat        *float64             `json:"checkInLat"`
	CheckInLng        *float64             `json:"checkInLng"`
	CheckInDistance   *float64             `json:"checkInDistance"`
	CheckOutLat       *float64             `json:"checkOutLat"`
	CheckOutLng       *float64             `json:"checkOutLng"`
	SkipReason        string               `gorm:"type:text" json:"skipReason,omitempty"`
	ManualEntry       bool                 `gorm:"default:false" json:"manualEntry"`
	ManualEntryBy     string               `gorm:"size:36" json:"manualEntryBy,omitempty"`
	ManualEntryAt     *time.Time           `json:"manualEntryAt,omitempty"`
	ManualEntryReason string               `gorm:"type:text" json:"manualEntryReason,omitempty"`
	CreatedAt         time.Time            `json:"createdAt"`
	UpdatedAt         time.Time            `json:"updatedAt"`

	Route    *Route             `gorm:"foreignKey:RouteID" json:"-"`
	Store    *Store             `gorm:"foreignKey:StoreID" json:"store,omitempty"`
	Products []RouteItemProduct `gorm:"foreignKey:RouteItemID" json:"products"`
}

// HasExecution reports whether the visit has started being executed in the
// field, which locks its route against structural edits.
func (i *RouteItem) HasExecution() bool {
	if i.CheckInTime != nil {
		return true
	}
	return i.Status != VisitPending && i.Status != VisitSkipped
}

// Timed reports whether the visit takes part in conflict detection.
func (i *RouteItem) Timed() bool {
	return i.StartTime != nil && i.EstimatedDuration != nil
}

// RouteItemProduct is the audit result for one product during a visit.
type RouteItemProduct struct {
	ID                  string          `gorm:"primaryKey;size:36" json:"id"`
	RouteItemID         string          `gorm:"size:36;not null;index" json:"routeItemId"`
	ProductID           string          `gorm:"size:36;not null;index" json:"productId"`
	Checked             bool            `gorm:"default:false" json:"checked"`
	CheckedAt           *time.Time      `json:"checkedAt"`
	IsStockout          bool            `gorm:"default:false" json:"isStockout"`
	StockoutType        string          `gorm:"size:32" json:"stockoutType,omitempty"`
	Photos              datatypes.JSON  `json:"photos"`
	Observation         string          `gorm:"type:text" json:"observation,omitempty"`
	ValidityDate        *wallclock.Date `gorm:"type:varchar(10)" json:"validityDate"`
	StockCount          *int            `json:"stockCount"`
	GondolaCount        *int            `json:"gondolaCount"`
	InventoryCount      *int            `json:"inventoryCount"`
	StockCountStatus    string          `gorm:"size:16;default:NONE;index" json:"stockCountStatus"`
	ApprovalToken       *string         `gorm:"size:64;uniqueIndex" json:"-"`
	ApprovalRequestedAt *time.Time      `json:"approvalRequestedAt,omitempty"`
	ApprovalResolvedAt  *time.Time      `json:"approvalResolvedAt,omitempty"`
	ApprovalResolvedBy  string          `gorm:"size:64" json:"approvalResolvedBy,omitempty"`
	ApprovalObservation string          `gorm:"type:text" json:"approvalObservation,omitempty"`
	CreatedAt           time.Time       `json:"createdAt"`
	UpdatedAt           time.Time       `json:"updatedAt"`

	RouteItem *RouteItem                  `gorm:"foreignKey:RouteItemID" json:"-"`
	Product   *Product                    `gorm:"foreignKey:ProductID" json:"product,omitempty"`
	Checklist []RouteItemProductChecklist `gorm:"foreignKey:RouteItemProductID" json:"checklist"`
}

// RouteItemProductChecklist is one checklist result for a product check. Value
// is interpreted per Type.
type RouteItemProductChecklist struct {
	ID                  string  `gorm:"primaryKey;size:36" json:"id"`
	RouteItemProductID  string  `gorm:"size:36;not null;index" json:"-"`
	Type                string  `gorm:"size:16;not null" json:"type"`
	Description         string  `gorm:"size:256" json:"description"`
	Position            int     `json:"position"`
	IsChecked           bool    `gorm:"default:false" json:"isChecked"`
	Value               *string `gorm:"type:text" json:"value"`
	CompetitorProductID *string `gorm:"size:36" json:"competitorProductId"`
}
