package models

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

type Availability string

const (
	AvailabilityInStock    Availability = "In Stock"
	AvailabilityOutOfStock Availability = "Out of Stock"
	AvailabilityPreorder   Availability = "Preorder"
)

func ToAvailability(s string) (Availability, error) {
	switch a := Availability(s); a {
	case AvailabilityInStock, AvailabilityOutOfStock, AvailabilityPreorder:
		return a, nil
	}
	return "", errors.New("invalid availability")
}

type Category struct {
	ID          string    `gorm:"primaryKey;type:varchar(36)" json:"id"`
	Name        string    `gorm:"type:varchar(100);uniqueIndex;not null" json:"name"`
	Description *string   `gorm:"type:text" json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

func (Category) TableName() string {
	return "categories"
}

type Tag struct {
	ID        string    `gorm:"primaryKey;type:varchar(36)" json:"id"`
	Name      string    `gorm:"type:varchar(100);uniqueIndex;not null" json:"name"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Tag) TableName() string {
	return "tags"
}

type Product struct {
	ID           string              `gorm:"primaryKey;type:varchar(36)" json:"id"`
	Name         string              `gorm:"type:varchar(255);not null;index" json:"name"`
	Description  *string             `gorm:"type:text" json:"description,omitempty"`
	CategoryID   *string             `gorm:"type:varchar(36);index" json:"category_id,omitempty"`
	Category     *Category           `gorm:"foreignKey:CategoryID" json:"category,omitempty"`
	Tags         []Tag               `gorm:"many2many:product_tags" json:"tags"`
	BasePrice    decimal.Decimal     `gorm:"type:decimal(18,2);not null" json:"base_price"`
	SalePrice    decimal.NullDecimal `gorm:"type:decimal(18,2)" json:"sale_price"`
	Availability Availability        `gorm:"type:varchar(20);not null;index" json:"availability"`
	Rating       float64             `gorm:"not null" json:"rating"`
	Variants     []ProductVariant    `gorm:"foreignKey:ProductID" json:"variants"`
	CreatedAt    time.Time           `json:"created_at"`
	UpdatedAt    time.Time           `json:"updated_at"`
}

func (Product) TableName() string {
	return "products"
}

type ProductVariant struct {
	ID         string                    `gorm:"primaryKey;type:varchar(36)" json:"id"`
	ProductID  string                    `gorm:"type:varchar(36);not null;index" json:"product_id"`
	SKU        string                    `gorm:"column:sku;type:varchar(64);uniqueIndex;not null" json:"sku"`
	Name       string                    `gorm:"type:varchar(255);not null" json:"name"`
	BasePrice  decimal.Decimal           `gorm:"type:decimal(18,2);not null" json:"base_price"`
	SalePrice  decimal.NullDecimal       `gorm:"type:decimal(18,2)" json:"sale_price"`
	Stock      int                       `gorm:"not null" json:"stock"`
	Barcode    string                    `gorm:"type:text" json:"barcode"`
	Attributes []ProductVariantAttribute `gorm:"foreignKey:VariantID" json:"attributes"`
	Images     []ProductVariantImage     `gorm:"foreignKey:VariantID" json:"images"`
	CreatedAt  time.Time                 `json:"created_at"`
	UpdatedAt  time.Time                 `json:"updated_at"`
}

func (ProductVariant) TableName() string {
	return "product_variants"
}

type ProductVariantAttribute struct {
	ID        string `gorm:"primaryKey;type:varchar(36)" json:"id"`
	VariantID string `gorm:"type:varchar(36);not null;index" json:"variant_id"`
	Name      string `gorm:"type:varchar(100);not null" json:"name"`
	Value     string `gorm:"type:varchar(255);not null" json:"value"`
	// Position keeps the order the attributes were given in.
	Position int `gorm:"not null;default:0" json:"-"`
}

func (ProductVariantAttribute) TableName() string {
	return "product_variant_attributes"
}

type ProductVariantImage struct {
	ID        string `gorm:"primaryKey;type:varchar(36)" json:"id"`
	VariantID string `gorm:"type:varchar(36);not null;index" json:"variant_id"`
	URL       string `gorm:"column:url;type:text;not null" json:"url"`
	AltText   string `gorm:"type:varchar(255)" json:"alt_text"`
}

func (ProductVariantImage) TableName() string {
	return "product_variant_images"
}
