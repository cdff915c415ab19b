package users

import (
	"context"
	"time"
)

const (
	RoleAdmin        = "admin"
	RoleDoctor       = "doctor"
	RoleReceptionist = "receptionist"
	RolePatient      = "patient"
)

// User mirrors the users table owned by the account service. The booking core
// only reads it: patients are global, staff carry the tenant of their clinic.
type User struct {
	ID        uint    `gorm:"primaryKey" json:"id"`
	Email     string  `gorm:"not null;uniqueIndex:idx_users_email" json:"email"`
	FirstName string  `json:"firstName"`
	LastName  string  `json:"lastName"`
	Role      string  `gorm:"type:varchar(20);not null;default:'patient'" json:"role"`
	TenantID  *string `gorm:"column:tenant_id;index" json:"tenantId"`
	IsActive  bool    `gorm:"not null;default:true" json:"isActive"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Directory resolves user references. Missing users are reported as
// apperr.ErrNotFound.
type Directory interface {
	FindByID(ctx context.Context, id uint) (User, error)
	FindByEmail(ctx context.Context, email string) (User, error)
}
