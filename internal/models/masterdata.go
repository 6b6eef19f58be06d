package models

import "time"

// Employee roles.
const (
	RoleAdmin      = "admin"
	RoleSupervisor = "supervisor"
	RolePromoter   = "promoter"
)

// Employee is the read-only identity record of a staff member. Employees are
// managed by the master-data service; the engine only reads them.
type Employee struct {
	ID     string `gorm:"primaryKey;size:36" json:"id"`
	Name   string `gorm:"size:128;not null" json:"name"`
	Phone  string `gorm:"size:32" json:"phone"`
	Role   string `gorm:"size:16;default:promoter;index" json:"role"`
	Active bool   `gorm:"default:true;index" json:"active"`
}

// Store is the read-only location of a retail store.
type Store struct {
	ID        string   `gorm:"primaryKey;size:36" json:"id"`
	Name      string   `gorm:"size:128;not null" json:"name"`
	Address   string   `gorm:"size:256" json:"address,omitempty"`
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
}

// Brand is a read-only catalog brand.
type Brand struct {
	ID   string `gorm:"primaryKey;size:36" json:"id"`
	Name string `gorm:"size:128;not null" json:"name"`
}

// Product is a read-only catalog product.
type Product struct {
	ID      string `gorm:"primaryKey;size:36" json:"id"`
	Name    string `gorm:"size:128;not null" json:"name"`
	BrandID string `gorm:"size:36;index" json:"brandId"`

	Brand *Brand `gorm:"foreignKey:BrandID" json:"brand,omitempty"`
}

// AgentPresence is the last heartbeat seen from an agent's device.
type AgentPresence struct {
	EmployeeID string    `gorm:"primaryKey;size:36"`
	LastSeenAt time.Time `gorm:"not null;index"`
}

// Compliance alert kinds.
const (
	AlertReminder   = "REMINDER"
	AlertEscalation = "ESCALATION"
)

// ComplianceAlert records one alert raised by the punch compliance sweep.
type ComplianceAlert struct {
	ID          uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	EmployeeID  string    `gorm:"size:36;not null;index:idx_alert_agent_date" json:"employeeId"`
	Date        string    `gorm:"size:10;not null;index:idx_alert_agent_date" json:"date"`
	Checkpoint  string    `gorm:"size:16;not null" json:"checkpoint"`
	Kind        string    `gorm:"size:16;not null" json:"kind"`
	Online      bool      `json:"online"`
	MinutesLate int       `json:"minutesLate"`
	Message     string    `gorm:"type:text" json:"message"`
	CreatedAt   time.Time `gorm:"index" json:"createdAt"`
}
