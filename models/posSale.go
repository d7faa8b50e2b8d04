package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type PosSale struct {
	ID            uint            `gorm:"primary_key" json:"id"`
	CompanyId     uint            `gorm:"index;not null" json:"company_id"`
	CustomerId    *uint           `gorm:"index" json:"customer_id"`
	SaleNumber    string          `gorm:"size:50;index" json:"sale_number"`
	TotalAmount   decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"total_amount"`
	PaidAmount    decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"paid_amount"`
	PaymentMethod string          `gorm:"size:30" json:"payment_method"`
	SoldAt        time.Time       `gorm:"index" json:"sold_at"`
	CreatedAt     time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

type PosSaleItem struct {
	ID        uint            `gorm:"primary_key" json:"id"`
	CompanyId uint            `gorm:"index;not null" json:"company_id"`
	PosSaleId uint            `gorm:"index;not null" json:"pos_sale_id"`
	ProductId uint            `gorm:"index;not null" json:"product_id"`
	Quantity  int             `gorm:"not null" json:"quantity"`
	UnitPrice decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"unit_price"`
	CreatedAt time.Time       `gorm:"autoCreateTime" json:"created_at"`
}

type Expense struct {
	ID          uint            `gorm:"primary_key" json:"id"`
	CompanyId   uint            `gorm:"index;not null" json:"company_id"`
	Description string          `gorm:"size:255" json:"description"`
	Amount      decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"amount"`
	SpentAt     time.Time       `json:"spent_at"`
	CreatedAt   time.Time       `gorm:"autoCreateTime" json:"created_at"`
}

// SmsLog records outbound SMS per company. Delivery itself happens elsewhere.
type SmsLog struct {
	ID        uint      `gorm:"primary_key" json:"id"`
	CompanyId uint      `gorm:"index;not null" json:"company_id"`
	Recipient string    `gorm:"size:20" json:"recipient"`
	Message   string    `gorm:"type:text" json:"message"`
	Status    string    `gorm:"size:20" json:"status"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
}
