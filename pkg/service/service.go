package service

import (
	"context"
	"strings"
	"time"

	"github.com/example/storefront/pkg/events"
	"github.com/example/storefront/pkg/models"
	"github.com/example/storefront/pkg/notify"
	"github.com/example/storefront/pkg/repository"
	"go.mongodb.org/mongo-driver/bson"
	"go.uber.org/zap"
	"golang.org/x/text/currency"
	"gorm.io/gorm"
)

type IDGenerator interface {
	NextID() (uint64, error)
}

type Notifier interface {
	Dispatch(n notify.Notification)
}

type AuditLogger interface {
	CreateAuditLog(ctx context.Context, log *repository.AuditLog) error
}

// EventOutbox is implemented by *events.Outbox.
type EventOutbox interface {
	Enqueue(tx *gorm.DB, key string, payload any) error
	Kick()
}

type StockPublisher interface {
	Publish(change events.StockChange)
}

// Deps are shared by every service. Only DB and Logger are required.
type Deps struct {
	DB       *gorm.DB
	IDs      IDGenerator
	Outbox   EventOutbox
	Notifier Notifier
	Audit    AuditLogger
	Stock    StockPublisher
	Logger   *zap.Logger
}

func (d Deps) named(name string) *zap.Logger {
	if d.Logger == nil {
		return zap.NewNop()
	}
	return d.Logger.Named(name)
}

func (d Deps) enqueue(tx *gorm.DB, key, entity string, snapshot any, action string) error {
	if d.Outbox == nil {
		return nil
	}
	return d.Outbox.Enqueue(tx, key, events.Envelope(entity, snapshot, action))
}

func (d Deps) kick() {
	if d.Outbox != nil {
		d.Outbox.Kick()
	}
}

func (d Deps) notify(n notify.Notification) {
	if d.Notifier != nil {
		d.Notifier.Dispatch(n)
	}
}

// audit writes the entry in the background; failures are only logged.
func (d Deps) audit(service, action, entityID string, data bson.M) {
	if d.Audit == nil {
		return
	}
	logger := d.named(service)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		err := d.Audit.CreateAuditLog(ctx, &repository.AuditLog{
			Service:  service,
			Action:   action,
			EntityID: entityID,
			Data:     data,
		})
		if err != nil {
			logger.Warn("Failed to write audit log", zap.String("action", action), zap.Error(err))
		}
	}()
}

// publishStock reloads the given rows after commit and announces their quantity.
func (d Deps) publishStock(ctx context.Context, inventoryID string, productIDs ...string) {
	if d.Stock == nil || len(productIDs) == 0 {
		return
	}

	var rows []models.InventoryProduct
	err := d.DB.WithContext(ctx).
		Where("inventory_id = ? AND product_id IN ?", inventoryID, productIDs).
		Find(&rows).Error
	if err != nil {
		d.named("stock").Warn("Failed to load stock for broadcast", zap.Error(err))
		return
	}

	for _, row := range rows {
		d.Stock.Publish(events.StockChange{
			InventoryID: row.InventoryID,
			ProductID:   row.ProductID,
			Quantity:    row.Quantity,
			LowStock:    row.LowStock(),
		})
	}
}

type Pagination struct {
	Limit  int `form:"limit" json:"limit"`
	Offset int `form:"offset" json:"offset"`
}

const (
	defaultLimit = 10
	maxLimit     = 100
)

func (p Pagination) apply(q *gorm.DB) *gorm.DB {
	limit := p.Limit
	if limit <= 0 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}
	offset := p.Offset
	if offset < 0 {
		offset = 0
	}
	return q.Limit(limit).Offset(offset)
}

// checkCurrency accepts ISO 4217 codes and codes registered in the currencies table.
func checkCurrency(tx *gorm.DB, code string, location ...string) (string, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if code == "" {
		return "", invalid("currency is required", location...)
	}
	if _, err := currency.ParseISO(code); err == nil {
		return code, nil
	}

	var count int64
	if err := tx.Model(&models.Currency{}).Where("code = ?", code).Count(&count).Error; err != nil {
		return "", err
	}
	if count == 0 {
		return "", invalid("unknown currency "+code, location...)
	}
	return code, nil
}

// minorUnits is the number of fractional digits the payment gateway expects for code.
func minorUnits(code string) int32 {
	unit, err := currency.ParseISO(code)
	if err != nil {
		return 2
	}
	scale, _ := currency.Standard.Rounding(unit)
	return int32(scale)
}

func like(s string) string {
	return "%" + s + "%"
}
