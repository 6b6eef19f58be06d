// Package testutil holds shared fixtures for package tests.
package testutil

import (
	"testing"

	"github.com/zulandar/visitline/internal/db"
	"github.com/zulandar/visitline/internal/models"
	"gorm.io/gorm"
)

// OpenDB returns a fresh migrated in-memory database closed at test end.
func OpenDB(t *testing.T) *gorm.DB {
	t.Helper()
	gdb, err := db.OpenMemory()
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := gdb.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return gdb
}

// Employee inserts an active employee with the given role.
func Employee(t *testing.T, gdb *gorm.DB, id, role string) *models.Employee {
	t.Helper()
	e := &models.Employee{ID: id, Name: "Employee " + id, Phone: "+55" + id, Role: role, Active: true}
	if err := gdb.Create(e).Error; err != nil {
		t.Fatalf("create employee %s: %v", id, err)
	}
	return e
}

// Store inserts a store; pass nil coordinates for an unlocated store.
func Store(t *testing.T, gdb *gorm.DB, id string, lat, lng *float64) *models.Store {
	t.Helper()
	s := &models.Store{ID: id, Name: "Store " + id, Latitude: lat, Longitude: lng}
	if err := gdb.Create(s).Error; err != nil {
		t.Fatalf("create store %s: %v", id, err)
	}
	return s
}

// Product inserts a product and its brand.
func Product(t *testing.T, gdb *gorm.DB, id, brandID string) *models.Product {
	t.Helper()
	var brand models.Brand
	if err := gdb.Where(models.Brand{ID: brandID}).Attrs(models.Brand{Name: "Brand " + brandID}).FirstOrCreate(&brand).Error; err != nil {
		t.Fatalf("create brand %s: %v", brandID, err)
	}
	p := &models.Product{ID: id, Name: "Product " + id, BrandID: brandID}
	if err := gdb.Create(p).Error; err != nil {
		t.Fatalf("create product %s: %v", id, err)
	}
	return p
}

// Float returns a pointer to f.
func Float(f float64) *float64 { return &f }

// Int returns a pointer to i.
func Int(i int) *int { return &i }
