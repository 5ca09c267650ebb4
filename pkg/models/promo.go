package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type PromoCode struct {
	ID              string          `gorm:"primaryKey;type:varchar(36)" json:"id"`
	Code            string          `gorm:"type:varchar(64);uniqueIndex;not null" json:"code"`
	DiscountPercent decimal.Decimal `gorm:"type:decimal(5,2);not null" json:"discount_percent"`
	Active          bool            `gorm:"not null;index" json:"active"`
	ValidFrom       time.Time       `gorm:"not null" json:"valid_from"`
	ValidUntil      time.Time       `gorm:"not null" json:"valid_until"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

func (PromoCode) TableName() string {
	return "promo_codes"
}

// ValidOn reports whether the code can be redeemed at t.
func (p PromoCode) ValidOn(t time.Time) bool {
	return p.Active && !t.Before(p.ValidFrom) && !t.After(p.ValidUntil)
}

type Currency struct {
	ID        string    `gorm:"primaryKey;type:varchar(36)" json:"id"`
	Code      string    `gorm:"type:varchar(10);uniqueIndex;not null" json:"code"`
	Name      string    `gorm:"type:varchar(100);not null" json:"name"`
	Symbol    string    `gorm:"type:varchar(10)" json:"symbol"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Currency) TableName() string {
	return "currencies"
}
