package models

import "time"

// Cart belongs either to a registered user or to an anonymous client ip.
type Cart struct {
	ID        string     `gorm:"primaryKey;type:varchar(36)" json:"id"`
	UserID    *string    `gorm:"type:varchar(36);index" json:"user_id,omitempty"`
	IPAddress *string    `gorm:"type:varchar(45);index" json:"ip_address,omitempty"`
	Items     []CartItem `gorm:"foreignKey:CartID;constraint:OnDelete:CASCADE" json:"items"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

func (Cart) TableName() string {
	return "carts"
}

type CartItem struct {
	ID               string    `gorm:"primaryKey;type:varchar(36)" json:"id"`
	CartID           string    `gorm:"type:varchar(36);not null;index" json:"cart_id"`
	ProductID        string    `gorm:"type:varchar(36);not null" json:"product_id"`
	ProductVariantID string    `gorm:"type:varchar(36);not null" json:"product_variant_id"`
	Quantity         int       `gorm:"not null" json:"quantity"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

func (CartItem) TableName() string {
	return "cart_items"
}
