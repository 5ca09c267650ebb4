package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/example/storefront/pkg/events"
	"github.com/example/storefront/pkg/models"
	"github.com/example/storefront/pkg/repository"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type InventoryInput struct {
	Name     string  `json:"name" binding:"required"`
	Location *string `json:"location"`
}

type InventoryPatch struct {
	Name     *string `json:"name"`
	Location *string `json:"location"`
}

type InventoryFilter struct {
	Name     string `form:"name"`
	Location string `form:"location"`
	Pagination
}

type InventoryProductInput struct {
	ProductID         string `json:"product_id" binding:"required"`
	Quantity          int    `json:"quantity" binding:"gte=0"`
	LowStockThreshold int    `json:"low_stock_threshold" binding:"gte=0"`
}

type InventoryProductPatch struct {
	Quantity          *int `json:"quantity" binding:"omitempty,gte=0"`
	LowStockThreshold *int `json:"low_stock_threshold" binding:"omitempty,gte=0"`
}

type InventoryService struct {
	Deps
	logger *zap.Logger
}

func NewInventoryService(deps Deps) *InventoryService {
	return &InventoryService{Deps: deps, logger: deps.named("inventory-service")}
}

func (s *InventoryService) Create(ctx context.Context, in InventoryInput) (*models.Inventory, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, invalid("name is required", "name")
	}

	inv := &models.Inventory{ID: uuid.NewString(), Name: name, Location: in.Location}
	if err := s.DB.WithContext(ctx).Create(inv).Error; err != nil {
		if repository.IsDuplicateKey(err) {
			return nil, conflictf("inventory %q already exists", name)
		}
		return nil, fmt.Errorf("insert inventory: %w", err)
	}
	return inv, nil
}

func (s *InventoryService) Get(ctx context.Context, id string) (*models.Inventory, error) {
	var inv models.Inventory
	if err := s.DB.WithContext(ctx).Preload("Products").First(&inv, "id = ?", id).Error; err != nil {
		return nil, translate(err, "inventory")
	}
	return &inv, nil
}

func (s *InventoryService) Update(ctx context.Context, id string, patch InventoryPatch) (*models.Inventory, error) {
	updates := map[string]interface{}{}
	if patch.Name != nil {
		name := strings.TrimSpace(*patch.Name)
		if name == "" {
			return nil, invalid("name must not be empty", "name")
		}
		updates["name"] = name
	}
	if patch.Location != nil {
		updates["location"] = *patch.Location
	}

	if len(updates) > 0 {
		res := s.DB.WithContext(ctx).Model(&models.Inventory{}).Where("id = ?", id).Updates(updates)
		if res.Error != nil {
			if repository.IsDuplicateKey(res.Error) {
				return nil, conflictf("inventory %q already exists", updates["name"])
			}
			return nil, fmt.Errorf("update inventory: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return nil, notFound("inventory")
		}
	}
	return s.Get(ctx, id)
}

// Delete removes the inventory together with its stock rows.
func (s *InventoryService) Delete(ctx context.Context, id string) error {
	rows, err := repository.WithTx(ctx, s.DB, func(tx *gorm.DB) ([]models.InventoryProduct, error) {
		var rows []models.InventoryProduct
		if err := tx.Where("inventory_id = ?", id).Find(&rows).Error; err != nil {
			return nil, err
		}
		if err := tx.Where("inventory_id = ?", id).Delete(&models.InventoryProduct{}).Error; err != nil {
			return nil, fmt.Errorf("delete inventory products: %w", err)
		}
		res := tx.Delete(&models.Inventory{}, "id = ?", id)
		if res.Error != nil {
			return nil, fmt.Errorf("delete inventory: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return nil, notFound("inventory")
		}
		return rows, nil
	})
	if err != nil {
		return err
	}

	for _, row := range rows {
		s.announceDeleted(row)
	}
	return nil
}

func (s *InventoryService) List(ctx context.Context, filter InventoryFilter) ([]models.Inventory, error) {
	q := s.DB.WithContext(ctx).Model(&models.Inventory{})
	if filter.Name != "" {
		q = q.Where("name LIKE ?", like(filter.Name))
	}
	if filter.Location != "" {
		q = q.Where("location LIKE ?", like(filter.Location))
	}

	var inventories []models.Inventory
	if err := filter.Pagination.apply(q).Order("name").Find(&inventories).Error; err != nil {
		return nil, fmt.Errorf("list inventories: %w", err)
	}
	return inventories, nil
}

// Stock rows.

func (s *InventoryService) AddProduct(ctx context.Context, inventoryID string, in InventoryProductInput) (*models.InventoryProduct, error) {
	var v validation
	if in.ProductID == "" {
		v.add("product_id is required", "product_id")
	}
	if in.Quantity < 0 {
		v.add("quantity must not be negative", "quantity")
	}
	if in.LowStockThreshold < 0 {
		v.add("low_stock_threshold must not be negative", "low_stock_threshold")
	}
	if err := v.err(); err != nil {
		return nil, err
	}

	row, err := repository.WithTx(ctx, s.DB, func(tx *gorm.DB) (*models.InventoryProduct, error) {
		if err := mustExist(tx, &models.Inventory{}, inventoryID); err != nil {
			return nil, translate(err, "inventory")
		}

		row := &models.InventoryProduct{
			ID:                uuid.NewString(),
			InventoryID:       inventoryID,
			ProductID:         in.ProductID,
			Quantity:          in.Quantity,
			LowStockThreshold: in.LowStockThreshold,
		}
		if err := tx.Create(row).Error; err != nil {
			if repository.IsDuplicateKey(err) {
				return nil, conflictf("product %s is already stocked in inventory %s", in.ProductID, inventoryID)
			}
			return nil, fmt.Errorf("insert inventory product: %w", err)
		}
		return row, nil
	})
	if err != nil {
		return nil, err
	}

	s.announce(*row)
	return row, nil
}

func (s *InventoryService) GetProduct(ctx context.Context, itemID string) (*models.InventoryProduct, error) {
	var row models.InventoryProduct
	if err := s.DB.WithContext(ctx).First(&row, "id = ?", itemID).Error; err != nil {
		return nil, translate(err, "inventory product")
	}
	return &row, nil
}

func (s *InventoryService) ListProducts(ctx context.Context, inventoryID string, p Pagination) ([]models.InventoryProduct, error) {
	var rows []models.InventoryProduct
	err := p.apply(s.DB.WithContext(ctx).Where("inventory_id = ?", inventoryID)).Order("product_id").Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("list inventory products: %w", err)
	}
	return rows, nil
}

func (s *InventoryService) UpdateProduct(ctx context.Context, itemID string, patch InventoryProductPatch) (*models.InventoryProduct, error) {
	var v validation
	updates := map[string]interface{}{}
	if patch.Quantity != nil {
		if *patch.Quantity < 0 {
			v.add("quantity must not be negative", "quantity")
		}
		updates["quantity"] = *patch.Quantity
	}
	if patch.LowStockThreshold != nil {
		if *patch.LowStockThreshold < 0 {
			v.add("low_stock_threshold must not be negative", "low_stock_threshold")
		}
		updates["low_stock_threshold"] = *patch.LowStockThreshold
	}
	if err := v.err(); err != nil {
		return nil, err
	}

	if len(updates) > 0 {
		res := s.DB.WithContext(ctx).Model(&models.InventoryProduct{}).Where("id = ?", itemID).Updates(updates)
		if res.Error != nil {
			return nil, fmt.Errorf("update inventory product: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return nil, notFound("inventory product")
		}
	}

	row, err := s.GetProduct(ctx, itemID)
	if err != nil {
		return nil, err
	}
	s.announce(*row)
	return row, nil
}

func (s *InventoryService) DeleteProduct(ctx context.Context, itemID string) error {
	row, err := s.GetProduct(ctx, itemID)
	if err != nil {
		return err
	}
	if err := s.DB.WithContext(ctx).Delete(&models.InventoryProduct{}, "id = ?", itemID).Error; err != nil {
		return fmt.Errorf("delete inventory product: %w", err)
	}

	s.announceDeleted(*row)
	return nil
}

// Adjust adds delta to the stocked quantity of a product. A negative delta that
// would take the quantity below zero is rejected.
func (s *InventoryService) Adjust(ctx context.Context, inventoryID, productID string, delta int) (*models.InventoryProduct, error) {
	if delta == 0 {
		return nil, invalid("delta must not be 0", "delta")
	}

	row, err := repository.WithTx(ctx, s.DB, func(tx *gorm.DB) (*models.InventoryProduct, error) {
		var row models.InventoryProduct
		err := tx.Where("inventory_id = ? AND product_id = ?", inventoryID, productID).First(&row).Error
		if err != nil {
			return nil, translate(err, "inventory product")
		}

		res := tx.Model(&models.InventoryProduct{}).
			Where("id = ? AND quantity + ? >= 0", row.ID, delta).
			UpdateColumn("quantity", gorm.Expr("quantity + ?", delta))
		if res.Error != nil {
			return nil, fmt.Errorf("adjust stock: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return nil, conflictf("insufficient stock for product %s in inventory %s", productID, inventoryID)
		}

		if err := tx.First(&row, "id = ?", row.ID).Error; err != nil {
			return nil, err
		}
		return &row, nil
	})
	if err != nil {
		return nil, err
	}

	s.announce(*row)
	s.logger.Debug("Stock adjusted",
		zap.String("inventory_id", inventoryID),
		zap.String("product_id", productID),
		zap.Int("delta", delta),
		zap.Int("quantity", row.Quantity))
	return row, nil
}

func (s *InventoryService) announce(row models.InventoryProduct) {
	if s.Stock == nil {
		return
	}
	s.Stock.Publish(events.StockChange{
		InventoryID: row.InventoryID,
		ProductID:   row.ProductID,
		Quantity:    row.Quantity,
		LowStock:    row.LowStock(),
	})
}

func (s *InventoryService) announceDeleted(row models.InventoryProduct) {
	if s.Stock == nil {
		return
	}
	s.Stock.Publish(events.StockChange{
		InventoryID: row.InventoryID,
		ProductID:   row.ProductID,
		Deleted:     true,
	})
}
