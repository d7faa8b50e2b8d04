package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Swap is a phone trade-in: the customer hands over devices (SwappedItem) and
// takes a product, paying or receiving the difference.
type Swap struct {
	ID          uint            `gorm:"primary_key" json:"id"`
	CompanyId   uint            `gorm:"index;not null" json:"company_id"`
	CustomerId  uint            `gorm:"index;not null" json:"customer_id"`
	ProductId   uint            `gorm:"index" json:"product_id"`
	TopUpAmount decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"top_up_amount"`
	Status      SwapStatus      `gorm:"size:20;not null;default:open" json:"status"`
	CreatedAt   time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

type SwappedItem struct {
	ID          uint            `gorm:"primary_key" json:"id"`
	CompanyId   uint            `gorm:"index;not null" json:"company_id"`
	SwapId      uint            `gorm:"index;not null" json:"swap_id"`
	Description string          `gorm:"size:255" json:"description"`
	Imei        string          `gorm:"size:32" json:"imei"`
	Valuation   decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"valuation"`
	CreatedAt   time.Time       `gorm:"autoCreateTime" json:"created_at"`
}
