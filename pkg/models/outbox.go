package models

import "time"

// OutboxEvent is an event written in the same transaction as the change it describes.
// PublishedAt stays nil until the relay has handed it to the broker.
type OutboxEvent struct {
	ID          uint64     `gorm:"primaryKey;autoIncrement:false" json:"id,string"`
	Topic       string     `gorm:"type:varchar(255);not null" json:"topic"`
	Key         string     `gorm:"type:varchar(255);not null" json:"key"`
	Payload     string     `gorm:"type:text;not null" json:"payload"`
	Attempts    int        `gorm:"not null" json:"attempts"`
	LastError   *string    `gorm:"type:text" json:"last_error,omitempty"`
	PublishedAt *time.Time `gorm:"index" json:"published_at,omitempty"`
	CreatedAt   time.Time  `gorm:"index" json:"created_at"`
}

func (OutboxEvent) TableName() string {
	return "outbox_events"
}

// All lists every model for auto migration, parents before children.
func All() []any {
	return []any{
		&User{},
		&Address{},
		&Category{},
		&Tag{},
		&Product{},
		&ProductVariant{},
		&ProductVariantAttribute{},
		&ProductVariantImage{},
		&Inventory{},
		&InventoryProduct{},
		&Cart{},
		&CartItem{},
		&Order{},
		&OrderItem{},
		&Payment{},
		&PromoCode{},
		&Currency{},
		&OutboxEvent{},
	}
}
