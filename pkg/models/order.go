package models

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

type OrderStatus string

// remember to add new statuses to validOrderStatuses and orderTransitions
const (
	OrderStatusPending    OrderStatus = "Pending"
	OrderStatusProcessing OrderStatus = "Processing"
	OrderStatusShipped    OrderStatus = "Shipped"
	OrderStatusDelivered  OrderStatus = "Delivered"
	OrderStatusCancelled  OrderStatus = "Cancelled"
	OrderStatusReturned   OrderStatus = "Returned"
	OrderStatusFailed     OrderStatus = "Failed"
)

var validOrderStatuses = map[OrderStatus]struct{}{
	OrderStatusPending:    {},
	OrderStatusProcessing: {},
	OrderStatusShipped:    {},
	OrderStatusDelivered:  {},
	OrderStatusCancelled:  {},
	OrderStatusReturned:   {},
	OrderStatusFailed:     {},
}

var orderTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusPending:    {OrderStatusProcessing, OrderStatusCancelled, OrderStatusFailed},
	OrderStatusProcessing: {OrderStatusShipped, OrderStatusCancelled, OrderStatusFailed},
	OrderStatusShipped:    {OrderStatusDelivered, OrderStatusReturned, OrderStatusFailed},
	OrderStatusDelivered:  {OrderStatusReturned},
}

func ToOrderStatus(s string) (OrderStatus, error) {
	status := OrderStatus(s)
	if _, ok := validOrderStatuses[status]; ok {
		return status, nil
	}

	return "", errors.New("invalid order status")
}

// CanTransitionTo reports whether next may follow s. Re-setting the same status is always allowed.
func (s OrderStatus) CanTransitionTo(next OrderStatus) bool {
	if s == next {
		return true
	}
	for _, allowed := range orderTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

type Order struct {
	ID          uint64          `gorm:"primaryKey;autoIncrement:false" json:"id,string"`
	UserID      string          `gorm:"type:varchar(36);not null;index" json:"user_id"`
	Status      OrderStatus     `gorm:"type:varchar(20);not null;index" json:"status"`
	TotalAmount decimal.Decimal `gorm:"type:decimal(18,2);not null" json:"total_amount"`
	Currency    string          `gorm:"type:varchar(10);not null" json:"currency"`
	Items       []OrderItem     `gorm:"foreignKey:OrderID;constraint:OnDelete:CASCADE" json:"items"`
	CreatedAt   time.Time       `gorm:"index" json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

func (Order) TableName() string {
	return "orders"
}

type OrderItem struct {
	ID           uint64          `gorm:"primaryKey;autoIncrement:false" json:"id,string"`
	OrderID      uint64          `gorm:"not null;index" json:"order_id,string"`
	ProductID    string          `gorm:"type:varchar(64);not null;index" json:"product_id"`
	Quantity     int             `gorm:"not null" json:"quantity"`
	PricePerUnit decimal.Decimal `gorm:"type:decimal(18,2);not null" json:"price_per_unit"`
	TotalPrice   decimal.Decimal `gorm:"type:decimal(18,2);not null" json:"total_price"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

func (OrderItem) TableName() string {
	return "order_items"
}

// SumItems adds up the total price of every item.
func SumItems(items []OrderItem) decimal.Decimal {
	total := decimal.Zero
	for _, item := range items {
		total = total.Add(item.TotalPrice)
	}
	return total
}
