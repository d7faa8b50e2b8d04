package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type Product struct {
	ID          uint            `gorm:"primary_key" json:"id"`
	CompanyId   uint            `gorm:"index;not null" json:"company_id"`
	CategoryId  *uint           `gorm:"index" json:"category_id"`
	BrandId     *uint           `gorm:"index" json:"brand_id"`
	Name        string          `gorm:"size:100;not null" json:"name"`
	Sku         string          `gorm:"size:100;index" json:"sku"`
	Imei        string          `gorm:"size:32;index" json:"imei"`
	CostPrice   decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"cost_price"`
	SellPrice   decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"sell_price"`
	Quantity    int             `gorm:"not null;default:0" json:"quantity"`
	Description string          `gorm:"type:text" json:"description"`
	CreatedAt   time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

// ProductImage points at a stored file. Path is relative to the storage root
// (local) or the bucket (remote).
type ProductImage struct {
	ID          uint        `gorm:"primary_key" json:"id"`
	CompanyId   uint        `gorm:"index;not null" json:"company_id"`
	ProductId   uint        `gorm:"index;not null" json:"product_id"`
	Path        string      `gorm:"size:512;not null" json:"path"`
	StorageKind StorageKind `gorm:"size:10;not null;default:local" json:"storage_kind"`
	CreatedAt   time.Time   `gorm:"autoCreateTime" json:"created_at"`
}

type StockMovement struct {
	ID            uint      `gorm:"primary_key" json:"id"`
	CompanyId     uint      `gorm:"index;not null" json:"company_id"`
	ProductId     uint      `gorm:"index;not null" json:"product_id"`
	Quantity      int       `gorm:"not null" json:"quantity"`
	ReferenceType string    `gorm:"size:20" json:"reference_type"`
	ReferenceId   uint      `json:"reference_id"`
	CreatedAt     time.Time `gorm:"autoCreateTime" json:"created_at"`
}
