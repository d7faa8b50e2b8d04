package models

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
)

var ErrCompanyNotFound = errors.New("company not found")

// Company is the tenant row. A company reset never deletes it; a system reset does.
type Company struct {
	ID        uint      `gorm:"primary_key" json:"id"`
	Name      string    `gorm:"size:100;not null" json:"name"`
	Email     string    `gorm:"size:255" json:"email"`
	Phone     string    `gorm:"size:20" json:"phone"`
	Address   string    `gorm:"type:text" json:"address"`
	Timezone  string    `gorm:"size:50" json:"timezone"`
	IsActive  *bool     `gorm:"not null;default:true" json:"is_active"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// GetCompany returns ErrCompanyNotFound when no row matches.
func GetCompany(ctx context.Context, db *gorm.DB, id uint) (*Company, error) {
	var company Company
	err := db.WithContext(ctx).Where("id = ?", id).Take(&company).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrCompanyNotFound
		}
		return nil, err
	}
	return &company, nil
}
