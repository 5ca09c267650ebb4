package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/example/storefront/pkg/events"
	"github.com/example/storefront/pkg/models"
	"github.com/example/storefront/pkg/notify"
	"github.com/example/storefront/pkg/repository"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const defaultCurrency = "USD"

type OrderItemInput struct {
	ProductID    string           `json:"product_id" binding:"required"`
	Quantity     int              `json:"quantity" binding:"required,gt=0"`
	PricePerUnit *decimal.Decimal `json:"price_per_unit" binding:"required"`
	TotalPrice   *decimal.Decimal `json:"total_price"`
}

type CreateOrderInput struct {
	UserID      string             `json:"user_id" binding:"required"`
	Currency    string             `json:"currency"`
	Status      models.OrderStatus `json:"status"`
	TotalAmount *decimal.Decimal   `json:"total_amount"`
	// InventoryID reserves the ordered quantities from this inventory in the same transaction.
	InventoryID *string          `json:"inventory_id"`
	Items       []OrderItemInput `json:"items" binding:"required,min=1,dive"`
}

// OrderPatch updates scalar fields. A non-nil Items replaces every existing item.
type OrderPatch struct {
	Status      *models.OrderStatus `json:"status"`
	Currency    *string             `json:"currency"`
	TotalAmount *decimal.Decimal    `json:"total_amount"`
	Items       *[]OrderItemInput   `json:"items" binding:"omitempty,dive"`
}

type OrderItemPatch struct {
	ProductID    *string          `json:"product_id"`
	Quantity     *int             `json:"quantity" binding:"omitempty,gt=0"`
	PricePerUnit *decimal.Decimal `json:"price_per_unit"`
	TotalPrice   *decimal.Decimal `json:"total_price"`
}

type OrderFilter struct {
	UserID        string     `form:"user_id"`
	Status        string     `form:"status"`
	CreatedAfter  *time.Time `form:"created_after"`
	CreatedBefore *time.Time `form:"created_before"`
	Pagination
}

type OrderItemFilter struct {
	OrderID   uint64 `form:"-"`
	ProductID string `form:"product_id"`
	Pagination
}

type OrderService struct {
	Deps
	strict bool
	logger *zap.Logger
}

// NewOrderService creates the order service. With strictTransitions the status
// must follow models.OrderStatus.CanTransitionTo.
func NewOrderService(deps Deps, strictTransitions bool) *OrderService {
	return &OrderService{
		Deps:   deps,
		strict: strictTransitions,
		logger: deps.named("order-service"),
	}
}

func validateItems(items []OrderItemInput, location string) error {
	var v validation
	for i, item := range items {
		idx := strconv.Itoa(i)
		if item.ProductID == "" {
			v.add("product_id is required", location, idx, "product_id")
		}
		if item.Quantity <= 0 {
			v.add("quantity must be greater than 0", location, idx, "quantity")
		}
		switch {
		case item.PricePerUnit == nil:
			v.add("price_per_unit is required", location, idx, "price_per_unit")
		case item.PricePerUnit.IsNegative():
			v.add("price_per_unit must not be negative", location, idx, "price_per_unit")
		}
		if item.TotalPrice != nil && item.TotalPrice.IsNegative() {
			v.add("total_price must not be negative", location, idx, "total_price")
		}
	}
	return v.err()
}

func (s *OrderService) buildItems(orderID uint64, inputs []OrderItemInput) ([]models.OrderItem, error) {
	items := make([]models.OrderItem, 0, len(inputs))
	for _, in := range inputs {
		id, err := s.IDs.NextID()
		if err != nil {
			return nil, fmt.Errorf("order item id: %w", err)
		}

		total := in.PricePerUnit.Mul(decimal.NewFromInt(int64(in.Quantity)))
		if in.TotalPrice != nil {
			total = *in.TotalPrice
		}

		items = append(items, models.OrderItem{
			ID:           id,
			OrderID:      orderID,
			ProductID:    in.ProductID,
			Quantity:     in.Quantity,
			PricePerUnit: *in.PricePerUnit,
			TotalPrice:   total,
		})
	}
	return items, nil
}

func (s *OrderService) Create(ctx context.Context, in CreateOrderInput) (*models.Order, error) {
	if len(in.Items) == 0 {
		return nil, invalid("order must contain at least one item", "items")
	}
	if err := validateItems(in.Items, "items"); err != nil {
		return nil, err
	}
	if in.TotalAmount != nil && in.TotalAmount.IsNegative() {
		return nil, invalid("total_amount must not be negative", "total_amount")
	}

	status := models.OrderStatusPending
	if in.Status != "" {
		st, err := models.ToOrderStatus(string(in.Status))
		if err != nil {
			return nil, invalid(err.Error(), "status")
		}
		status = st
	}

	currencyCode := in.Currency
	if currencyCode == "" {
		currencyCode = defaultCurrency
	}

	orderID, err := s.IDs.NextID()
	if err != nil {
		return nil, fmt.Errorf("order id: %w", err)
	}

	items, err := s.buildItems(orderID, in.Items)
	if err != nil {
		return nil, err
	}

	order, err := repository.WithTx(ctx, s.DB, func(tx *gorm.DB) (*models.Order, error) {
		code, err := checkCurrency(tx, currencyCode, "currency")
		if err != nil {
			return nil, err
		}

		order := &models.Order{
			ID:          orderID,
			UserID:      in.UserID,
			Status:      status,
			Currency:    code,
			TotalAmount: models.SumItems(items),
		}
		if in.TotalAmount != nil {
			order.TotalAmount = *in.TotalAmount
		}

		if err := tx.Omit(clause.Associations).Create(order).Error; err != nil {
			return nil, fmt.Errorf("insert order: %w", err)
		}
		if err := tx.Create(&items).Error; err != nil {
			return nil, fmt.Errorf("insert order items: %w", err)
		}
		order.Items = items

		if in.InventoryID != nil {
			if err := reserveStock(tx, *in.InventoryID, items); err != nil {
				return nil, err
			}
		}

		if err := s.enqueue(tx, orderKey(order.ID), "order", order, events.ActionCreate); err != nil {
			return nil, err
		}
		return order, nil
	})
	if err != nil {
		return nil, err
	}

	s.kick()
	if in.InventoryID != nil {
		s.publishStock(ctx, *in.InventoryID, lo.Uniq(lo.Map(items, func(it models.OrderItem, _ int) string { return it.ProductID }))...)
	}
	s.audit("order-service", "create_order", orderKey(order.ID), bson.M{
		"user_id":      order.UserID,
		"total_amount": order.TotalAmount.String(),
		"items":        len(order.Items),
	})
	s.sendConfirmation(ctx, order)

	s.logger.Info("Order created",
		zap.Uint64("order_id", order.ID),
		zap.String("user_id", order.UserID),
		zap.Int("items", len(order.Items)))
	return order, nil
}

// reserveStock decrements inventory for every item or fails the whole transaction.
func reserveStock(tx *gorm.DB, inventoryID string, items []models.OrderItem) error {
	for _, item := range items {
		res := tx.Model(&models.InventoryProduct{}).
			Where("inventory_id = ? AND product_id = ? AND quantity >= ?", inventoryID, item.ProductID, item.Quantity).
			UpdateColumn("quantity", gorm.Expr("quantity - ?", item.Quantity))
		if res.Error != nil {
			return fmt.Errorf("reserve stock: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return conflictf("insufficient stock for product %s in inventory %s", item.ProductID, inventoryID)
		}
	}
	return nil
}

func (s *OrderService) sendConfirmation(ctx context.Context, order *models.Order) {
	if s.Notifier == nil {
		return
	}

	var user models.User
	err := s.DB.WithContext(ctx).Select("id", "email", "firstname", "lastname").First(&user, "id = ?", order.UserID).Error
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			s.logger.Warn("Failed to load user for order confirmation", zap.Error(err))
		}
		return
	}

	n, err := notify.Render(notify.ChannelEmail, notify.KindOrderConfirmation, user.Email, map[string]any{
		"Name":     user.FullName(),
		"OrderID":  orderKey(order.ID),
		"Total":    order.TotalAmount.StringFixed(2),
		"Currency": order.Currency,
	})
	if err != nil {
		s.logger.Warn("Failed to render order confirmation", zap.Error(err))
		return
	}
	s.notify(n)
}

func orderKey(id uint64) string {
	return strconv.FormatUint(id, 10)
}

func preloadItems(db *gorm.DB) *gorm.DB {
	return db.Order("id")
}

func (s *OrderService) load(tx *gorm.DB, id uint64) (*models.Order, error) {
	var order models.Order
	if err := tx.Preload("Items", preloadItems).First(&order, "id = ?", id).Error; err != nil {
		return nil, translate(err, "order")
	}
	return &order, nil
}

func (s *OrderService) Get(ctx context.Context, id uint64) (*models.Order, error) {
	return s.load(s.DB.WithContext(ctx), id)
}

func (s *OrderService) Update(ctx context.Context, id uint64, patch OrderPatch) (*models.Order, error) {
	if patch.Items != nil {
		if err := validateItems(*patch.Items, "items"); err != nil {
			return nil, err
		}
	}
	if patch.TotalAmount != nil && patch.TotalAmount.IsNegative() {
		return nil, invalid("total_amount must not be negative", "total_amount")
	}

	order, err := repository.WithTx(ctx, s.DB, func(tx *gorm.DB) (*models.Order, error) {
		var current models.Order
		if err := tx.First(&current, "id = ?", id).Error; err != nil {
			return nil, translate(err, "order")
		}

		updates := map[string]interface{}{}

		if patch.Status != nil {
			next, err := models.ToOrderStatus(string(*patch.Status))
			if err != nil {
				return nil, invalid(err.Error(), "status")
			}
			if s.strict && !current.Status.CanTransitionTo(next) {
				return nil, conflictf("cannot change order status from %s to %s", current.Status, next)
			}
			updates["status"] = next
		}

		if patch.Currency != nil {
			code, err := checkCurrency(tx, *patch.Currency, "currency")
			if err != nil {
				return nil, err
			}
			updates["currency"] = code
		}

		if patch.TotalAmount != nil {
			updates["total_amount"] = *patch.TotalAmount
		}

		if patch.Items != nil {
			if err := tx.Where("order_id = ?", id).Delete(&models.OrderItem{}).Error; err != nil {
				return nil, fmt.Errorf("delete order items: %w", err)
			}

			items, err := s.buildItems(id, *patch.Items)
			if err != nil {
				return nil, err
			}
			if len(items) > 0 {
				if err := tx.Create(&items).Error; err != nil {
					return nil, fmt.Errorf("insert order items: %w", err)
				}
			}

			if patch.TotalAmount == nil {
				updates["total_amount"] = models.SumItems(items)
			}
		}

		if len(updates) > 0 {
			if err := tx.Model(&current).Updates(updates).Error; err != nil {
				return nil, fmt.Errorf("update order: %w", err)
			}
		}

		order, err := s.load(tx, id)
		if err != nil {
			return nil, err
		}
		if err := s.enqueue(tx, orderKey(id), "order", order, events.ActionUpdate); err != nil {
			return nil, err
		}
		return order, nil
	})
	if err != nil {
		return nil, err
	}

	s.kick()
	s.audit("order-service", "update_order", orderKey(id), bson.M{
		"status":         string(order.Status),
		"items_replaced": patch.Items != nil,
	})
	return order, nil
}

func (s *OrderService) Delete(ctx context.Context, id uint64) error {
	_, err := repository.WithTx(ctx, s.DB, func(tx *gorm.DB) (struct{}, error) {
		order, err := s.load(tx, id)
		if err != nil {
			return struct{}{}, err
		}

		if err := tx.Where("order_id = ?", id).Delete(&models.OrderItem{}).Error; err != nil {
			return struct{}{}, fmt.Errorf("delete order items: %w", err)
		}
		if err := tx.Delete(&models.Order{}, "id = ?", id).Error; err != nil {
			return struct{}{}, fmt.Errorf("delete order: %w", err)
		}

		return struct{}{}, s.enqueue(tx, orderKey(id), "order", order, events.ActionDelete)
	})
	if err != nil {
		return err
	}

	s.kick()
	s.audit("order-service", "delete_order", orderKey(id), nil)
	return nil
}

func (s *OrderService) List(ctx context.Context, filter OrderFilter) ([]models.Order, error) {
	q := s.DB.WithContext(ctx).Model(&models.Order{})

	if filter.UserID != "" {
		q = q.Where("user_id = ?", filter.UserID)
	}
	if filter.Status != "" {
		status, err := models.ToOrderStatus(filter.Status)
		if err != nil {
			return nil, invalid(err.Error(), "query", "status")
		}
		q = q.Where("status = ?", status)
	}
	if filter.CreatedAfter != nil && filter.CreatedBefore != nil && filter.CreatedBefore.Before(*filter.CreatedAfter) {
		return nil, invalid("created_before is before created_after", "query", "created_before")
	}
	if filter.CreatedAfter != nil {
		q = q.Where("created_at >= ?", *filter.CreatedAfter)
	}
	if filter.CreatedBefore != nil {
		q = q.Where("created_at <= ?", *filter.CreatedBefore)
	}

	var orders []models.Order
	err := filter.Pagination.apply(q).
		Preload("Items", preloadItems).
		Order("created_at DESC, id DESC").
		Find(&orders).Error
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	return orders, nil
}

// Items of an order.

func (s *OrderService) emitOrder(tx *gorm.DB, orderID uint64) error {
	if s.Outbox == nil {
		return nil
	}
	order, err := s.load(tx, orderID)
	if err != nil {
		return err
	}
	return s.enqueue(tx, orderKey(orderID), "order", order, events.ActionUpdate)
}

// AddItem appends an item. The order total is left as is.
func (s *OrderService) AddItem(ctx context.Context, orderID uint64, in OrderItemInput) (*models.OrderItem, error) {
	if err := validateItems([]OrderItemInput{in}, "item"); err != nil {
		return nil, err
	}

	item, err := repository.WithTx(ctx, s.DB, func(tx *gorm.DB) (*models.OrderItem, error) {
		var count int64
		if err := tx.Model(&models.Order{}).Where("id = ?", orderID).Count(&count).Error; err != nil {
			return nil, err
		}
		if count == 0 {
			return nil, notFound("order")
		}

		items, err := s.buildItems(orderID, []OrderItemInput{in})
		if err != nil {
			return nil, err
		}
		if err := tx.Create(&items[0]).Error; err != nil {
			return nil, fmt.Errorf("insert order item: %w", err)
		}
		return &items[0], s.emitOrder(tx, orderID)
	})
	if err != nil {
		return nil, err
	}

	s.kick()
	return item, nil
}

func (s *OrderService) GetItem(ctx context.Context, itemID uint64) (*models.OrderItem, error) {
	var item models.OrderItem
	if err := s.DB.WithContext(ctx).First(&item, "id = ?", itemID).Error; err != nil {
		return nil, translate(err, "order item")
	}
	return &item, nil
}

// UpdateItem recomputes total_price from quantity and price unless it is given explicitly.
func (s *OrderService) UpdateItem(ctx context.Context, itemID uint64, patch OrderItemPatch) (*models.OrderItem, error) {
	var v validation
	if patch.Quantity != nil && *patch.Quantity <= 0 {
		v.add("quantity must be greater than 0", "quantity")
	}
	if patch.PricePerUnit != nil && patch.PricePerUnit.IsNegative() {
		v.add("price_per_unit must not be negative", "price_per_unit")
	}
	if patch.ProductID != nil && *patch.ProductID == "" {
		v.add("product_id must not be empty", "product_id")
	}
	if err := v.err(); err != nil {
		return nil, err
	}

	item, err := repository.WithTx(ctx, s.DB, func(tx *gorm.DB) (*models.OrderItem, error) {
		var item models.OrderItem
		if err := tx.First(&item, "id = ?", itemID).Error; err != nil {
			return nil, translate(err, "order item")
		}

		updates := map[string]interface{}{}
		if patch.ProductID != nil {
			updates["product_id"] = *patch.ProductID
		}
		if patch.Quantity != nil {
			item.Quantity = *patch.Quantity
			updates["quantity"] = item.Quantity
		}
		if patch.PricePerUnit != nil {
			item.PricePerUnit = *patch.PricePerUnit
			updates["price_per_unit"] = item.PricePerUnit
		}
		switch {
		case patch.TotalPrice != nil:
			updates["total_price"] = *patch.TotalPrice
		case patch.Quantity != nil || patch.PricePerUnit != nil:
			updates["total_price"] = item.PricePerUnit.Mul(decimal.NewFromInt(int64(item.Quantity)))
		}

		if len(updates) > 0 {
			if err := tx.Model(&item).Updates(updates).Error; err != nil {
				return nil, fmt.Errorf("update order item: %w", err)
			}
		}

		var fresh models.OrderItem
		if err := tx.First(&fresh, "id = ?", itemID).Error; err != nil {
			return nil, err
		}
		return &fresh, s.emitOrder(tx, fresh.OrderID)
	})
	if err != nil {
		return nil, err
	}

	s.kick()
	return item, nil
}

func (s *OrderService) DeleteItem(ctx context.Context, itemID uint64) error {
	_, err := repository.WithTx(ctx, s.DB, func(tx *gorm.DB) (struct{}, error) {
		var item models.OrderItem
		if err := tx.First(&item, "id = ?", itemID).Error; err != nil {
			return struct{}{}, translate(err, "order item")
		}
		if err := tx.Delete(&item).Error; err != nil {
			return struct{}{}, fmt.Errorf("delete order item: %w", err)
		}
		return struct{}{}, s.emitOrder(tx, item.OrderID)
	})
	if err != nil {
		return err
	}

	s.kick()
	return nil
}

func (s *OrderService) ListItems(ctx context.Context, filter OrderItemFilter) ([]models.OrderItem, error) {
	q := s.DB.WithContext(ctx).Model(&models.OrderItem{})
	if filter.OrderID != 0 {
		q = q.Where("order_id = ?", filter.OrderID)
	}
	if filter.ProductID != "" {
		q = q.Where("product_id = ?", filter.ProductID)
	}

	var items []models.OrderItem
	if err := filter.Pagination.apply(q).Order("id").Find(&items).Error; err != nil {
		return nil, fmt.Errorf("list order items: %w", err)
	}
	return items, nil
}
