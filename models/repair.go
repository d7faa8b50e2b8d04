package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type Repair struct {
	ID         uint            `gorm:"primary_key" json:"id"`
	CompanyId  uint            `gorm:"index;not null" json:"company_id"`
	CustomerId uint            `gorm:"index;not null" json:"customer_id"`
	Device     string          `gorm:"size:100" json:"device"`
	Issue      string          `gorm:"type:text" json:"issue"`
	Status     RepairStatus    `gorm:"size:20;not null;default:received" json:"status"`
	Charge     decimal.Decimal `gorm:"type:decimal(20,4);default:0" json:"charge"`
	CreatedAt  time.Time       `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time       `gorm:"autoUpdateTime" json:"updated_at"`
}

type RepairAttachment struct {
	ID          uint        `gorm:"primary_key" json:"id"`
	CompanyId   uint        `gorm:"index;not null" json:"company_id"`
	RepairId    uint        `gorm:"index;not null" json:"repair_id"`
	Path        string      `gorm:"size:512;not null" json:"path"`
	StorageKind StorageKind `gorm:"size:10;not null;default:local" json:"storage_kind"`
	CreatedAt   time.Time   `gorm:"autoCreateTime" json:"created_at"`
}
