package db

import (
	"fmt"
	"os"

	"github.com/zulandar/visitline/internal/models"
	"gopkg.in/yaml.v3"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// AllModels returns every GORM model owned by the engine, in migration order.
func AllModels() []interface{} {
	return []interface{}{
		&models.Employee{},
		&models.Store{},
		&models.Brand{},
		&models.Product{},
		&models.Route{},
		&models.RouteAgent{},
		&models.RouteItem{},
		&models.RouteItemProduct{},
		&models.RouteItemProductChecklist{},
		&models.WorkSchedule{},
		&models.WorkScheduleDay{},
		&models.AccessExtension{},
		&models.TimeClockEntry{},
		&models.AgentPresence{},
		&models.ComplianceAlert{},
	}
}

// AutoMigrate creates or updates all tables.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(AllModels()...); err != nil {
		return fmt.Errorf("db: auto-migrate: %w", err)
	}
	return nil
}

// Fixture is the master-data snapshot loaded by Seed. In production these
// rows are owned by the master-data service; the fixture exists for local
// development and demos.
type Fixture struct {
	Employees []models.Employee `yaml:"employees"`
	Stores    []models.Store    `yaml:"stores"`
	Brands    []models.Brand    `yaml:"brands"`
	Products  []models.Product  `yaml:"products"`
}

// LoadFixture reads a YAML master-data fixture.
func LoadFixture(path string) (*Fixture, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("db: read fixture %s: %w", path, err)
	}
	var f Fixture
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("db: parse fixture %s: %w", path, err)
	}
	return &f, nil
}

// Seed upserts the fixture's master data.
func Seed(db *gorm.DB, f *Fixture) error {
	return db.Transaction(func(tx *gorm.DB) error {
		for i := range f.Employees {
			e := f.Employees[i]
			if e.Role == "" {
				e.Role = models.RolePromoter
			}
			if err := upsert(tx, &e, "name", "phone", "role", "active"); err != nil {
				return fmt.Errorf("db: seed employee %q: %w", e.ID, err)
			}
		}
		for i := range f.Stores {
			if err := upsert(tx, &f.Stores[i], "name", "address", "latitude", "longitude"); err != nil {
				return fmt.Errorf("db: seed store %q: %w", f.Stores[i].ID, err)
			}
		}
		for i := range f.Brands {
			if err := upsert(tx, &f.Brands[i], "name"); err != nil {
				return fmt.Errorf("db: seed brand %q: %w", f.Brands[i].ID, err)
			}
		}
		for i := range f.Products {
			p := f.Products[i]
			p.Brand = nil
			if err := upsert(tx, &p, "name", "brand_id"); err != nil {
				return fmt.Errorf("db: seed product %q: %w", p.ID, err)
			}
		}
		return nil
	})
}

func upsert(tx *gorm.DB, row interface{}, columns ...string) error {
	return tx.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns(columns),
	}).Create(row).Error
}
