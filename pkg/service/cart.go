package service

import (
	"context"
	"fmt"

	"github.com/example/storefront/pkg/models"
	"github.com/example/storefront/pkg/repository"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// CartOwner identifies a cart by registered user or, for anonymous clients, by ip.
type CartOwner struct {
	UserID    string
	IPAddress string
}

func (o CartOwner) scope(db *gorm.DB) *gorm.DB {
	if o.UserID != "" {
		return db.Where("user_id = ?", o.UserID)
	}
	return db.Where("user_id IS NULL AND ip_address = ?", o.IPAddress)
}

type CartItemInput struct {
	ProductID        string `json:"product_id" binding:"required"`
	ProductVariantID string `json:"product_variant_id" binding:"required"`
	Quantity         int    `json:"quantity" binding:"required,gt=0"`
}

type CartService struct {
	Deps
}

func NewCartService(deps Deps) *CartService {
	return &CartService{Deps: deps}
}

func preloadCartItems(db *gorm.DB) *gorm.DB {
	return db.Order("created_at, id")
}

func (s *CartService) GetByUserOrIP(ctx context.Context, owner CartOwner) (*models.Cart, error) {
	if owner.UserID == "" && owner.IPAddress == "" {
		return nil, invalid("user or ip address is required", "owner")
	}

	var cart models.Cart
	err := owner.scope(s.DB.WithContext(ctx)).Preload("Items", preloadCartItems).First(&cart).Error
	if err != nil {
		return nil, translate(err, "cart")
	}
	return &cart, nil
}

func (s *CartService) GetByID(ctx context.Context, id string) (*models.Cart, error) {
	var cart models.Cart
	if err := s.DB.WithContext(ctx).Preload("Items", preloadCartItems).First(&cart, "id = ?", id).Error; err != nil {
		return nil, translate(err, "cart")
	}
	return &cart, nil
}

// Create returns the owner's existing cart or opens a new one.
func (s *CartService) Create(ctx context.Context, owner CartOwner) (*models.Cart, error) {
	if owner.UserID == "" && owner.IPAddress == "" {
		return nil, invalid("user or ip address is required", "owner")
	}

	return repository.WithTx(ctx, s.DB, func(tx *gorm.DB) (*models.Cart, error) {
		var existing models.Cart
		err := owner.scope(tx).Preload("Items", preloadCartItems).Limit(1).Find(&existing).Error
		if err != nil {
			return nil, err
		}
		if existing.ID != "" {
			return &existing, nil
		}

		cart := &models.Cart{ID: uuid.NewString(), Items: []models.CartItem{}}
		if owner.UserID != "" {
			cart.UserID = &owner.UserID
		} else {
			cart.IPAddress = &owner.IPAddress
		}
		if err := tx.Create(cart).Error; err != nil {
			return nil, fmt.Errorf("insert cart: %w", err)
		}
		return cart, nil
	})
}

// AddItem increments the quantity when the variant is already in the cart.
func (s *CartService) AddItem(ctx context.Context, cartID string, in CartItemInput) (*models.Cart, error) {
	var v validation
	if in.ProductID == "" {
		v.add("product_id is required", "product_id")
	}
	if in.ProductVariantID == "" {
		v.add("product_variant_id is required", "product_variant_id")
	}
	if in.Quantity <= 0 {
		v.add("quantity must be greater than 0", "quantity")
	}
	if err := v.err(); err != nil {
		return nil, err
	}

	_, err := repository.WithTx(ctx, s.DB, func(tx *gorm.DB) (struct{}, error) {
		if err := mustExist(tx, &models.Cart{}, cartID); err != nil {
			return struct{}{}, translate(err, "cart")
		}

		res := tx.Model(&models.CartItem{}).
			Where("cart_id = ? AND product_variant_id = ?", cartID, in.ProductVariantID).
			UpdateColumn("quantity", gorm.Expr("quantity + ?", in.Quantity))
		if res.Error != nil {
			return struct{}{}, fmt.Errorf("increment cart item: %w", res.Error)
		}
		if res.RowsAffected > 0 {
			return struct{}{}, nil
		}

		item := models.CartItem{
			ID:               uuid.NewString(),
			CartID:           cartID,
			ProductID:        in.ProductID,
			ProductVariantID: in.ProductVariantID,
			Quantity:         in.Quantity,
		}
		if err := tx.Create(&item).Error; err != nil {
			return struct{}{}, fmt.Errorf("insert cart item: %w", err)
		}
		return struct{}{}, nil
	})
	if err != nil {
		return nil, err
	}
	return s.GetByID(ctx, cartID)
}

func (s *CartService) RemoveItem(ctx context.Context, itemID string) error {
	res := s.DB.WithContext(ctx).Delete(&models.CartItem{}, "id = ?", itemID)
	if res.Error != nil {
		return fmt.Errorf("delete cart item: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return notFound("cart item")
	}
	return nil
}

// Clear empties the cart and keeps the cart itself.
func (s *CartService) Clear(ctx context.Context, cartID string) error {
	_, err := repository.WithTx(ctx, s.DB, func(tx *gorm.DB) (struct{}, error) {
		if err := mustExist(tx, &models.Cart{}, cartID); err != nil {
			return struct{}{}, translate(err, "cart")
		}
		return struct{}{}, tx.Where("cart_id = ?", cartID).Delete(&models.CartItem{}).Error
	})
	return err
}

func (s *CartService) Delete(ctx context.Context, cartID string) error {
	_, err := repository.WithTx(ctx, s.DB, func(tx *gorm.DB) (struct{}, error) {
		if err := tx.Where("cart_id = ?", cartID).Delete(&models.CartItem{}).Error; err != nil {
			return struct{}{}, fmt.Errorf("delete cart items: %w", err)
		}
		res := tx.Delete(&models.Cart{}, "id = ?", cartID)
		if res.Error != nil {
			return struct{}{}, fmt.Errorf("delete cart: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return struct{}{}, notFound("cart")
		}
		return struct{}{}, nil
	})
	return err
}
