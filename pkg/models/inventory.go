package models

import "time"

type Inventory struct {
	ID        string             `gorm:"primaryKey;type:varchar(36)" json:"id"`
	Name      string             `gorm:"type:varchar(255);uniqueIndex;not null" json:"name"`
	Location  *string            `gorm:"type:varchar(255)" json:"location,omitempty"`
	Products  []InventoryProduct `gorm:"foreignKey:InventoryID" json:"products,omitempty"`
	CreatedAt time.Time          `json:"created_at"`
	UpdatedAt time.Time          `json:"updated_at"`
}

func (Inventory) TableName() string {
	return "inventories"
}

type InventoryProduct struct {
	ID                string    `gorm:"primaryKey;type:varchar(36)" json:"id"`
	InventoryID       string    `gorm:"type:varchar(36);not null;uniqueIndex:idx_inventory_product" json:"inventory_id"`
	ProductID         string    `gorm:"type:varchar(64);not null;uniqueIndex:idx_inventory_product" json:"product_id"`
	Quantity          int       `gorm:"not null" json:"quantity"`
	LowStockThreshold int       `gorm:"not null" json:"low_stock_threshold"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

func (InventoryProduct) TableName() string {
	return "inventory_products"
}

func (p InventoryProduct) LowStock() bool {
	return p.Quantity <= p.LowStockThreshold
}
