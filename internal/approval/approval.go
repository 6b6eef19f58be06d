// Package approval runs the token-based reconciliation of disputed stock
// counts. A review request mints an unguessable token; whoever holds the
// token may approve or reject the count exactly once.
package approval

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/zulandar/visitline/internal/apperr"
	"github.com/zulandar/visitline/internal/models"
	"github.com/zulandar/visitline/internal/wallclock"
	"gorm.io/gorm"
)

// Decision actions.
const (
	ActionApprove = "APPROVE"
	ActionReject  = "REJECT"
)

// Decision is a reviewer's verdict on a pending stock count.
type Decision struct {
	Action      string    `json:"action"`
	Observation string    `json:"observation"`
	ResolvedBy  string    `json:"-"`
	At          time.Time `json:"-"` // defaults to now
}

// Review is the outcome of RequestReview.
type Review struct {
	RouteItemProductID string    `json:"routeItemProductId"`
	Token              string    `json:"token"`
	Status             string    `json:"status"`
	RequestedAt        time.Time `json:"requestedAt"`
}

// RequestReview moves a product check's stock count into PENDING_REVIEW
// with a fresh token. A check already pending returns its existing token;
// an approved count cannot be reopened. Rejected counts may be resubmitted
// and get a new token. A check with no counts recorded has nothing to review.
func RequestReview(ctx context.Context, db *gorm.DB, routeItemProductID string) (*Review, error) {
	var review *Review
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		review, err = RequestReviewTx(tx, routeItemProductID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return review, nil
}

// RequestReviewTx is RequestReview within the caller's transaction, so a
// refused review rolls back whatever else the caller wrote in tx.
func RequestReviewTx(tx *gorm.DB, routeItemProductID string) (*Review, error) {
	rip, err := loadByID(tx, routeItemProductID)
	if err != nil {
		return nil, err
	}
	switch rip.StockCountStatus {
	case models.StockPendingReview:
		review := &Review{RouteItemProductID: rip.ID, Status: rip.StockCountStatus}
		if rip.ApprovalToken != nil {
			review.Token = *rip.ApprovalToken
		}
		if rip.ApprovalRequestedAt != nil {
			review.RequestedAt = *rip.ApprovalRequestedAt
		}
		return review, nil
	case models.StockApproved:
		return nil, apperr.State("stock count of %s is already approved", rip.ID).With("status", rip.StockCountStatus)
	}
	if rip.StockCount == nil && rip.GondolaCount == nil && rip.InventoryCount == nil {
		return nil, apperr.Validation("product check %s has no stock count to review", rip.ID)
	}

	token := uuid.NewString()
	now := time.Now()
	res := tx.Model(&models.RouteItemProduct{}).
		Where("id = ? AND stock_count_status = ?", rip.ID, rip.StockCountStatus).
		Updates(map[string]interface{}{
			"stock_count_status":    models.StockPendingReview,
			"approval_token":        token,
			"approval_requested_at": now,
			"approval_resolved_at":  nil,
			"approval_resolved_by":  "",
			"approval_observation":  "",
		})
	if res.Error != nil {
		return nil, fmt.Errorf("approval: request review of %s: %w", rip.ID, res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, apperr.Conflict("stock count of %s changed concurrently; retry", rip.ID)
	}
	return &Review{RouteItemProductID: rip.ID, Token: token, Status: models.StockPendingReview, RequestedAt: now}, nil
}

// Resolve applies a decision to the product check holding token. Unknown
// tokens are NotFound; tokens whose decision is already recorded are a
// ConflictError and leave the status untouched.
func Resolve(ctx context.Context, db *gorm.DB, token string, d Decision) (*models.RouteItemProduct, error) {
	if token == "" {
		return nil, apperr.NotFound("approval token not found")
	}
	var rip models.RouteItemProduct
	err := db.WithContext(ctx).Where("approval_token = ?", token).First(&rip).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.NotFound("approval token not found")
	}
	if err != nil {
		return nil, fmt.Errorf("approval: lookup token: %w", err)
	}
	return resolve(ctx, db, &rip, d)
}

// ResolveByID applies a decision by product check id, for authenticated
// reviewers.
func ResolveByID(ctx context.Context, db *gorm.DB, routeItemProductID string, d Decision) (*models.RouteItemProduct, error) {
	rip, err := loadByID(db.WithContext(ctx), routeItemProductID)
	if err != nil {
		return nil, err
	}
	if rip.StockCountStatus == models.StockNone {
		return nil, apperr.State("stock count of %s has no review pending", rip.ID).With("status", rip.StockCountStatus)
	}
	return resolve(ctx, db, rip, d)
}

func resolve(ctx context.Context, db *gorm.DB, rip *models.RouteItemProduct, d Decision) (*models.RouteItemProduct, error) {
	var status string
	switch d.Action {
	case ActionApprove:
		status = models.StockApproved
	case ActionReject:
		status = models.StockRejected
	default:
		return nil, apperr.Validation("action must be %s or %s", ActionApprove, ActionReject)
	}
	if rip.StockCountStatus != models.StockPendingReview {
		return nil, alreadyResolved(rip)
	}
	at := d.At
	if at.IsZero() {
		at = time.Now()
	}

	// The status guard makes concurrent resolutions race on the row, not
	// on our read: exactly one update matches.
	res := db.WithContext(ctx).Model(&models.RouteItemProduct{}).
		Where("id = ? AND stock_count_status = ?", rip.ID, models.StockPendingReview).
		Updates(map[string]interface{}{
			"stock_count_status":   status,
			"approval_observation": d.Observation,
			"approval_resolved_at": at,
			"approval_resolved_by": d.ResolvedBy,
		})
	if res.Error != nil {
		return nil, fmt.Errorf("approval: resolve %s: %w", rip.ID, res.Error)
	}
	if res.RowsAffected == 0 {
		current, err := loadByID(db.WithContext(ctx), rip.ID)
		if err != nil {
			return nil, err
		}
		return nil, alreadyResolved(current)
	}
	return loadByID(db.WithContext(ctx), rip.ID)
}

func alreadyResolved(rip *models.RouteItemProduct) error {
	return apperr.Conflict("stock count of %s is already resolved (%s)", rip.ID, rip.StockCountStatus).
		With("status", rip.StockCountStatus)
}

func loadByID(tx *gorm.DB, id string) (*models.RouteItemProduct, error) {
	var rip models.RouteItemProduct
	err := tx.First(&rip, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.NotFound("product check %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("approval: load %s: %w", id, err)
	}
	return &rip, nil
}

// Approval is a reviewer-facing summary of a stock count under review.
type Approval struct {
	RouteItemProductID  string          `json:"id"`
	Token               string          `json:"token,omitempty"`
	Status              string          `json:"status"`
	RouteID             string          `json:"routeId"`
	RouteItemID         string          `json:"routeItemId"`
	Date                *wallclock.Date `json:"date"`
	StoreID             string          `json:"storeId"`
	StoreName           string          `json:"storeName"`
	ProductID           string          `json:"productId"`
	ProductName         string          `json:"productName"`
	BrandName           string          `json:"brandName"`
	Agents              []string        `json:"agents"`
	StockCount          *int            `json:"stockCount"`
	GondolaCount        *int            `json:"gondolaCount"`
	InventoryCount      *int            `json:"inventoryCount"`
	Observation         string          `json:"observation"`
	RequestedAt         *time.Time      `json:"requestedAt"`
	ResolvedAt          *time.Time      `json:"resolvedAt,omitempty"`
	ApprovalObservation string          `json:"approvalObservation,omitempty"`
}

// PendingFilters narrows ListPending.
type PendingFilters struct {
	StoreID string
	AgentID string
	Date    *wallclock.Date
}

// ListPending returns every PENDING_REVIEW stock count with enough context
// to decide without opening the visit, oldest request first.
func ListPending(ctx context.Context, db *gorm.DB, f PendingFilters) ([]Approval, error) {
	q := withContext(db.WithContext(ctx)).
		Joins("JOIN route_items ON route_items.id = route_item_products.route_item_id").
		Joins("JOIN routes ON routes.id = route_items.route_id").
		Where("route_item_products.stock_count_status = ?", models.StockPendingReview)
	if f.StoreID != "" {
		q = q.Where("route_items.store_id = ?", f.StoreID)
	}
	if f.Date != nil {
		q = q.Where("routes.date = ?", *f.Date)
	}
	if f.AgentID != "" {
		q = q.Where("routes.id IN (?)", db.Model(&models.RouteAgent{}).Select("route_id").Where("employee_id = ?", f.AgentID))
	}
	var rows []models.RouteItemProduct
	if err := q.Order("route_item_products.approval_requested_at").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("approval: list pending: %w", err)
	}
	out := make([]Approval, 0, len(rows))
	for i := range rows {
		a := summarize(&rows[i])
		if rows[i].ApprovalToken != nil {
			a.Token = *rows[i].ApprovalToken
		}
		out = append(out, a)
	}
	return out, nil
}

// Lookup returns the summary behind a token for the public review page. The
// token itself is not echoed back.
func Lookup(ctx context.Context, db *gorm.DB, token string) (*Approval, error) {
	if token == "" {
		return nil, apperr.NotFound("approval token not found")
	}
	var rip models.RouteItemProduct
	err := withContext(db.WithContext(ctx)).Where("approval_token = ?", token).First(&rip).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.NotFound("approval token not found")
	}
	if err != nil {
		return nil, fmt.Errorf("approval: lookup token: %w", err)
	}
	a := summarize(&rip)
	return &a, nil
}

func withContext(q *gorm.DB) *gorm.DB {
	return q.Model(&models.RouteItemProduct{}).
		Preload("Product.Brand").
		Preload("RouteItem.Store").
		Preload("RouteItem.Route.Agents.Employee")
}

func summarize(rip *models.RouteItemProduct) Approval {
	a := Approval{
		RouteItemProductID:  rip.ID,
		Status:              rip.StockCountStatus,
		RouteItemID:         rip.RouteItemID,
		ProductID:           rip.ProductID,
		StockCount:          rip.StockCount,
		GondolaCount:        rip.GondolaCount,
		InventoryCount:      rip.InventoryCount,
		Observation:         rip.Observation,
		RequestedAt:         rip.ApprovalRequestedAt,
		ResolvedAt:          rip.ApprovalResolvedAt,
		ApprovalObservation: rip.ApprovalObservation,
	}
	if rip.Product != nil {
		a.ProductName = rip.Product.Name
		if rip.Product.Brand != nil {
			a.BrandName = rip.Product.Brand.Name
		}
	}
	if item := rip.RouteItem; item != nil {
		a.StoreID = item.StoreID
		if item.Store != nil {
			a.StoreName = item.Store.Name
		}
		if r := item.Route; r != nil {
			a.RouteID = r.ID
			a.Date = r.Date
			for _, ag := range r.Agents {
				name := ag.EmployeeID
				if ag.Employee != nil {
					name = ag.Employee.Name
				}
				a.Agents = append(a.Agents, name)
			}
		}
	}
	return a
}
