package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type Customer struct {
	ID        uint            `gorm:"primary_key" json:"id"`
	CompanyId uint            `gorm:"index;not null" json:"company_id"`
	Name      string          `gorm:"size:100;not null" json:"name"`
	Email     string          `gorm:"size:100" json:"email"`
	Phone     string          `gorm:"size:20;index" json:"phone"`
	Balance   decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"balance"`
	Notes     string          `gorm:"type:text" json:"notes"`
	CreatedAt time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

type Supplier struct {
	ID        uint      `gorm:"primary_key" json:"id"`
	CompanyId uint      `gorm:"index;not null" json:"company_id"`
	Name      string    `gorm:"size:100;not null" json:"name"`
	Phone     string    `gorm:"size:20" json:"phone"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
