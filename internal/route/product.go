package route

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"github.com/zulandar/visitline/internal/apperr"
	"github.com/zulandar/visitline/internal/approval"
	"github.com/zulandar/visitline/internal/models"
	"github.com/zulandar/visitline/internal/optional"
	"github.com/zulandar/visitline/internal/wallclock"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// ProductCheckUpdate is a partial update of a product check. Only fields
// present in the request are written.
type ProductCheckUpdate struct {
	Checked        optional.Value[bool]            `json:"checked"`
	IsStockout     optional.Value[bool]            `json:"isStockout"`
	StockoutType   optional.Value[string]          `json:"stockoutType"`
	Photos         optional.Value[[]string]        `json:"photos"`
	Observation    optional.Value[string]          `json:"observation"`
	ValidityDate   optional.Value[*wallclock.Date] `json:"validityDate"`
	StockCount     optional.Value[*int]            `json:"stockCount"`
	GondolaCount   optional.Value[*int]            `json:"gondolaCount"`
	InventoryCount optional.Value[*int]            `json:"inventoryCount"`
	Checklist      []ChecklistUpdate               `json:"checklist"`
}

// ChecklistUpdate is a partial update of one checklist entry, by id.
type ChecklistUpdate struct {
	ID                  string                  `json:"id"`
	IsChecked           optional.Value[bool]    `json:"isChecked"`
	Value               optional.Value[*string] `json:"value"`
	CompetitorProductID optional.Value[*string] `json:"competitorProductId"`
}

// UpdateProductCheck applies a partial update to the product check of
// productID within the visit. productID may be the catalog product id or
// the product check's own id.
func (m *Manager) UpdateProductCheck(ctx context.Context, actor Actor, itemID, productID string, upd ProductCheckUpdate) (*models.RouteItemProduct, error) {
	rip, _, err := m.updateProductCheck(ctx, actor, itemID, productID, upd, false)
	return rip, err
}

// ReviewProductCheck applies upd and sends the resulting stock count for
// review in one transaction. When the review is refused, upd is not written
// either.
func (m *Manager) ReviewProductCheck(ctx context.Context, actor Actor, itemID, productID string, upd ProductCheckUpdate) (*models.RouteItemProduct, *approval.Review, error) {
	return m.updateProductCheck(ctx, actor, itemID, productID, upd, true)
}

func (m *Manager) updateProductCheck(ctx context.Context, actor Actor, itemID, productID string, upd ProductCheckUpdate, review bool) (*models.RouteItemProduct, *approval.Review, error) {
	var (
		rip *models.RouteItemProduct
		rev *approval.Review
	)
	err := m.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		item, err := loadItemForExecution(tx, actor, itemID)
		if err != nil {
			return err
		}
		if !actor.Privileged() && item.Route.Status == models.RouteCompleted {
			return apperr.State("cannot update products of route %s: route is %s", item.RouteID, item.Route.Status).
				With("status", item.Route.Status)
		}
		if rip, err = findItemProduct(tx, itemID, productID); err != nil {
			return err
		}
		if err := applyProductCheck(tx, rip, upd, m.now()); err != nil {
			return err
		}
		if review {
			rev, err = approval.RequestReviewTx(tx, rip.ID)
		}
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	rip, err = m.getItemProduct(ctx, rip.ID)
	if err != nil {
		return nil, nil, err
	}
	return rip, rev, nil
}

func (m *Manager) getItemProduct(ctx context.Context, id string) (*models.RouteItemProduct, error) {
	var rip models.RouteItemProduct
	err := m.db.WithContext(ctx).
		Preload("Product").
		Preload("Checklist", func(db *gorm.DB) *gorm.DB { return db.Order("position") }).
		First(&rip, "id = ?", id).Error
	if err != nil {
		return nil, fmt.Errorf("route: reload product check %s: %w", id, err)
	}
	return &rip, nil
}

func findItemProduct(tx *gorm.DB, itemID, productID string) (*models.RouteItemProduct, error) {
	var rip models.RouteItemProduct
	err := tx.Preload("Checklist").
		Where("route_item_id = ?", itemID).
		Where("product_id = ? OR id = ?", productID, productID).
		First(&rip).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, apperr.NotFound("product %s is not part of visit %s", productID, itemID)
	}
	if err != nil {
		return nil, fmt.Errorf("route: load product check: %w", err)
	}
	return &rip, nil
}

// applyProductCheck validates and writes upd onto rip.
func applyProductCheck(tx *gorm.DB, rip *models.RouteItemProduct, upd ProductCheckUpdate, now time.Time) error {
	updates := map[string]interface{}{}

	if v, ok := upd.Checked.Get(); ok {
		updates["checked"] = v
		if v && rip.CheckedAt == nil {
			updates["checked_at"] = now
		}
	}
	if v, ok := upd.IsStockout.Get(); ok {
		updates["is_stockout"] = v
	}
	if v, ok := upd.StockoutType.Get(); ok {
		updates["stockout_type"] = v
	}
	if v, ok := upd.Photos.Get(); ok {
		if v == nil {
			updates["photos"] = nil
		} else {
			for _, ref := range v {
				if ref == "" {
					return apperr.Validation("photo references must not be empty")
				}
			}
			data, err := json.Marshal(v)
			if err != nil {
				return fmt.Errorf("route: encode photos: %w", err)
			}
			updates["photos"] = datatypes.JSON(data)
		}
	}
	if v, ok := upd.Observation.Get(); ok {
		updates["observation"] = v
	}
	if v, ok := upd.ValidityDate.Get(); ok {
		updates["validity_date"] = v
	}
	counts := []struct {
		column string
		value  optional.Value[*int]
	}{
		{"stock_count", upd.StockCount},
		{"gondola_count", upd.GondolaCount},
		{"inventory_count", upd.InventoryCount},
	}
	current := map[string]*int{
		"stock_count":     rip.StockCount,
		"gondola_count":   rip.GondolaCount,
		"inventory_count": rip.InventoryCount,
	}
	for _, c := range counts {
		v, ok := c.value.Get()
		if !ok {
			continue
		}
		if v != nil && *v < 0 {
			return apperr.Validation("%s must not be negative", c.column)
		}
		if !sameCount(current[c.column], v) && countLocked(rip.StockCountStatus) {
			return apperr.State("cannot change %s of %s: stock count is %s", c.column, rip.ID, rip.StockCountStatus).
				With("status", rip.StockCountStatus)
		}
		updates[c.column] = v
	}

	if len(updates) > 0 {
		if err := tx.Model(&models.RouteItemProduct{}).Where("id = ?", rip.ID).Updates(updates).Error; err != nil {
			return fmt.Errorf("route: update product check %s: %w", rip.ID, err)
		}
	}

	entries := make(map[string]models.RouteItemProductChecklist, len(rip.Checklist))
	for _, c := range rip.Checklist {
		entries[c.ID] = c
	}
	for _, cu := range upd.Checklist {
		entry, ok := entries[cu.ID]
		if !ok {
			return apperr.NotFound("checklist entry %s is not part of product check %s", cu.ID, rip.ID)
		}
		if err := applyChecklistUpdate(tx, entry, cu); err != nil {
			return err
		}
	}
	return nil
}

// countLocked reports whether counts under review, or already approved,
// are frozen.
func countLocked(status string) bool {
	return status == models.StockPendingReview || status == models.StockApproved
}

func sameCount(a, b *int) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func applyChecklistUpdate(tx *gorm.DB, entry models.RouteItemProductChecklist, cu ChecklistUpdate) error {
	updates := map[string]interface{}{}
	if v, ok := cu.IsChecked.Get(); ok {
		updates["is_checked"] = v
	}
	if v, ok := cu.Value.Get(); ok {
		if v != nil {
			normalized, err := NormalizeChecklistValue(entry.Type, *v)
			if err != nil {
				return apperr.Validation("checklist %q: %v", entry.Description, err).With("checklist_id", entry.ID)
			}
			v = &normalized
		}
		updates["value"] = v
	}
	if v, ok := cu.CompetitorProductID.Get(); ok {
		if v != nil && *v != "" {
			var count int64
			if err := tx.Model(&models.Product{}).Where("id = ?", *v).Count(&count).Error; err != nil {
				return fmt.Errorf("route: load competitor product: %w", err)
			}
			if count == 0 {
				return apperr.NotFound("product %s not found", *v)
			}
		}
		updates["competitor_product_id"] = v
	}
	if len(updates) == 0 {
		return nil
	}
	if err := tx.Model(&models.RouteItemProductChecklist{}).Where("id = ?", entry.ID).Updates(updates).Error; err != nil {
		return fmt.Errorf("route: update checklist %s: %w", entry.ID, err)
	}
	return nil
}

func validChecklistType(t string) bool {
	switch t {
	case models.ChecklistSimple, models.ChecklistPhoto, models.ChecklistValidityCheck,
		models.ChecklistPriceCheck, models.ChecklistStockCount:
		return true
	}
	return false
}

// NormalizeChecklistValue validates a checklist value against its entry type
// and returns its canonical form: an absolute URL for PHOTO, YYYY-MM-DD for
// VALIDITY_CHECK, a two-decimal price for PRICE_CHECK and a non-negative
// integer for STOCK_COUNT. SIMPLE values pass through.
func NormalizeChecklistValue(checklistType, value string) (string, error) {
	switch checklistType {
	case models.ChecklistPhoto:
		u, err := url.Parse(value)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return "", fmt.Errorf("%q is not an absolute URL", value)
		}
		return u.String(), nil
	case models.ChecklistValidityCheck:
		d, err := wallclock.ParseDate(value)
		if err != nil {
			return "", fmt.Errorf("%q is not a YYYY-MM-DD date", value)
		}
		return d.String(), nil
	case models.ChecklistPriceCheck:
		price, err := decimal.NewFromString(value)
		if err != nil {
			return "", fmt.Errorf("%q is not a decimal price", value)
		}
		if price.IsNegative() {
			return "", fmt.Errorf("price %s must not be negative", value)
		}
		return price.StringFixed(2), nil
	case models.ChecklistStockCount:
		n, err := strconv.Atoi(value)
		if err != nil || n < 0 {
			return "", fmt.Errorf("%q is not a non-negative integer", value)
		}
		return strconv.Itoa(n), nil
	default:
		return value, nil
	}
}
