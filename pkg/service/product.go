package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/example/storefront/pkg/events"
	"github.com/example/storefront/pkg/models"
	"github.com/example/storefront/pkg/repository"
	"github.com/google/uuid"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type ProductInput struct {
	Name         string              `json:"name" binding:"required"`
	Description  *string             `json:"description"`
	CategoryID   *string             `json:"category_id"`
	TagIDs       []string            `json:"tag_ids"`
	BasePrice    decimal.Decimal     `json:"base_price"`
	SalePrice    *decimal.Decimal    `json:"sale_price"`
	Availability models.Availability `json:"availability"`
	Rating       float64             `json:"rating" binding:"gte=0,lte=5"`
	Variants     []VariantInput      `json:"variants" binding:"dive"`
	// InventoryIDs links the product to these inventories with zero stock.
	InventoryIDs []string `json:"inventory_ids"`
}

// ProductPatch updates the given fields. Variants are matched by id: listed
// variants are updated, unlisted ones deleted and those without a known id created.
type ProductPatch struct {
	Name         *string              `json:"name"`
	Description  *string              `json:"description"`
	CategoryID   *string              `json:"category_id"`
	TagIDs       *[]string            `json:"tag_ids"`
	BasePrice    *decimal.Decimal     `json:"base_price"`
	SalePrice    *decimal.Decimal     `json:"sale_price"`
	Availability *models.Availability `json:"availability"`
	Rating       *float64             `json:"rating" binding:"omitempty,gte=0,lte=5"`
	Variants     *[]VariantInput      `json:"variants" binding:"omitempty,dive"`
}

type ProductFilter struct {
	Name         string           `form:"name"`
	CategoryID   string           `form:"category_id"`
	TagID        string           `form:"tag_id"`
	Availability string           `form:"availability"`
	MinPrice     *decimal.Decimal `form:"min_price"`
	MaxPrice     *decimal.Decimal `form:"max_price"`
	MinRating    *float64         `form:"min_rating"`
	Pagination
}

func preloadProduct(db *gorm.DB) *gorm.DB {
	return db.
		Preload("Category").
		Preload("Tags").
		Preload("Variants", func(db *gorm.DB) *gorm.DB { return db.Order("created_at, id") }).
		Preload("Variants.Attributes", preloadAttributes).
		Preload("Variants.Images")
}

func validateProduct(name string, base decimal.Decimal, sale *decimal.Decimal, availability models.Availability, rating float64) error {
	var v validation
	if strings.TrimSpace(name) == "" {
		v.add("name is required", "name")
	}
	if base.IsNegative() {
		v.add("base_price must not be negative", "base_price")
	}
	if sale != nil && sale.IsNegative() {
		v.add("sale_price must not be negative", "sale_price")
	}
	if _, err := models.ToAvailability(string(availability)); err != nil {
		v.add(err.Error(), "availability")
	}
	if rating < 0 || rating > 5 {
		v.add("rating must be between 0 and 5", "rating")
	}
	return v.err()
}

func checkCategory(tx *gorm.DB, id string) error {
	if err := mustExist(tx, &models.Category{}, id); err != nil {
		return conflictf("Invalid category_id: Category with %s does not exist.", id)
	}
	return nil
}

// resolveTags loads the tags with the given ids. Unknown ids are skipped.
func resolveTags(tx *gorm.DB, ids []string) ([]models.Tag, error) {
	tags := []models.Tag{}
	ids = lo.Uniq(lo.Compact(ids))
	if len(ids) == 0 {
		return tags, nil
	}
	if err := tx.Where("id IN ?", ids).Find(&tags).Error; err != nil {
		return nil, fmt.Errorf("resolve tags: %w", err)
	}
	return tags, nil
}

func (s *CatalogService) CreateProduct(ctx context.Context, in ProductInput) (*models.Product, error) {
	if in.Availability == "" {
		in.Availability = models.AvailabilityInStock
	}
	if err := validateProduct(in.Name, in.BasePrice, in.SalePrice, in.Availability, in.Rating); err != nil {
		return nil, err
	}
	if err := validateVariants(in.Variants, "variants"); err != nil {
		return nil, err
	}

	product, err := repository.WithTx(ctx, s.DB, func(tx *gorm.DB) (*models.Product, error) {
		if in.CategoryID != nil {
			if err := checkCategory(tx, *in.CategoryID); err != nil {
				return nil, err
			}
		}
		tags, err := resolveTags(tx, in.TagIDs)
		if err != nil {
			return nil, err
		}

		product := &models.Product{
			ID:           uuid.NewString(),
			Name:         strings.TrimSpace(in.Name),
			Description:  in.Description,
			CategoryID:   in.CategoryID,
			Tags:         tags,
			BasePrice:    in.BasePrice,
			SalePrice:    nullDecimal(in.SalePrice),
			Availability: in.Availability,
			Rating:       in.Rating,
		}
		for _, vin := range in.Variants {
			variant, err := buildVariant(product.ID, product.Name, vin)
			if err != nil {
				return nil, err
			}
			product.Variants = append(product.Variants, variant)
		}

		if err := tx.Omit("Category", "Tags.*").Create(product).Error; err != nil {
			if repository.IsDuplicateKey(err) {
				return nil, conflictf("duplicate sku for product %q", product.Name)
			}
			return nil, fmt.Errorf("insert product: %w", err)
		}

		for _, inventoryID := range lo.Uniq(in.InventoryIDs) {
			if err := mustExist(tx, &models.Inventory{}, inventoryID); err != nil {
				return nil, conflictf("inventory %s does not exist", inventoryID)
			}
			link := models.InventoryProduct{ID: uuid.NewString(), InventoryID: inventoryID, ProductID: product.ID}
			if err := tx.Create(&link).Error; err != nil {
				return nil, fmt.Errorf("link inventory: %w", err)
			}
		}

		product, err = s.loadProduct(tx, product.ID)
		if err != nil {
			return nil, err
		}
		if err := s.enqueue(tx, product.ID, "product", product, events.ActionCreate); err != nil {
			return nil, err
		}
		return product, nil
	})
	if err != nil {
		return nil, err
	}

	s.kick()
	s.logger.Info("Product created",
		zap.String("product_id", product.ID),
		zap.Int("variants", len(product.Variants)))
	return product, nil
}

func (s *CatalogService) loadProduct(tx *gorm.DB, id string) (*models.Product, error) {
	var p models.Product
	if err := preloadProduct(tx).First(&p, "id = ?", id).Error; err != nil {
		return nil, translate(err, "product")
	}
	return &p, nil
}

func (s *CatalogService) GetProduct(ctx context.Context, id string) (*models.Product, error) {
	return s.loadProduct(s.DB.WithContext(ctx), id)
}

func (s *CatalogService) ListProducts(ctx context.Context, filter ProductFilter) ([]models.Product, error) {
	q := s.DB.WithContext(ctx).Model(&models.Product{})

	if filter.Name != "" {
		q = q.Where("products.name LIKE ?", like(filter.Name))
	}
	if filter.CategoryID != "" {
		q = q.Where("products.category_id = ?", filter.CategoryID)
	}
	if filter.Availability != "" {
		availability, err := models.ToAvailability(filter.Availability)
		if err != nil {
			return nil, invalid(err.Error(), "query", "availability")
		}
		q = q.Where("products.availability = ?", availability)
	}
	if filter.MinPrice != nil {
		q = q.Where("products.base_price >= ?", *filter.MinPrice)
	}
	if filter.MaxPrice != nil {
		q = q.Where("products.base_price <= ?", *filter.MaxPrice)
	}
	if filter.MinRating != nil {
		q = q.Where("products.rating >= ?", *filter.MinRating)
	}
	if filter.TagID != "" {
		q = q.Where("products.id IN (?)", s.DB.WithContext(ctx).Table("product_tags").Select("product_id").Where("tag_id = ?", filter.TagID))
	}

	var products []models.Product
	err := preloadProduct(filter.Pagination.apply(q)).Order("products.name, products.id").Find(&products).Error
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	return products, nil
}

// SearchProducts queries the search index when one is configured and loads the
// matching products from the database in index order.
func (s *CatalogService) SearchProducts(ctx context.Context, query string, limit int) ([]models.Product, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, invalid("query must not be empty", "query", "q")
	}
	if limit <= 0 || limit > maxLimit {
		limit = defaultLimit
	}

	if s.index == nil {
		return s.ListProducts(ctx, ProductFilter{Name: query, Pagination: Pagination{Limit: limit}})
	}

	docs, err := s.index.Search(ctx, productCollection, query, int64(limit))
	if err != nil {
		s.logger.Warn("Search index unavailable, falling back to database", zap.Error(err))
		return s.ListProducts(ctx, ProductFilter{Name: query, Pagination: Pagination{Limit: limit}})
	}

	ids := make([]string, 0, len(docs))
	for _, doc := range docs {
		if id, ok := doc["_id"].(string); ok {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return []models.Product{}, nil
	}

	var products []models.Product
	if err := preloadProduct(s.DB.WithContext(ctx)).Where("id IN ?", ids).Find(&products).Error; err != nil {
		return nil, fmt.Errorf("load search results: %w", err)
	}

	byID := lo.KeyBy(products, func(p models.Product) string { return p.ID })
	ordered := make([]models.Product, 0, len(products))
	for _, id := range ids {
		if p, ok := byID[id]; ok {
			ordered = append(ordered, p)
		}
	}
	return ordered, nil
}

func (s *CatalogService) UpdateProduct(ctx context.Context, id string, patch ProductPatch) (*models.Product, error) {
	if patch.Variants != nil {
		if err := validateVariants(*patch.Variants, "variants"); err != nil {
			return nil, err
		}
	}

	product, err := repository.WithTx(ctx, s.DB, func(tx *gorm.DB) (*models.Product, error) {
		current, err := s.loadProduct(tx, id)
		if err != nil {
			return nil, err
		}

		name := current.Name
		base := current.BasePrice
		availability := current.Availability
		rating := current.Rating
		if patch.Name != nil {
			name = strings.TrimSpace(*patch.Name)
		}
		if patch.BasePrice != nil {
			base = *patch.BasePrice
		}
		if patch.Availability != nil {
			availability = *patch.Availability
		}
		if patch.Rating != nil {
			rating = *patch.Rating
		}
		if err := validateProduct(name, base, patch.SalePrice, availability, rating); err != nil {
			return nil, err
		}

		updates := map[string]interface{}{
			"name":         name,
			"base_price":   base,
			"availability": availability,
			"rating":       rating,
		}
		if patch.Description != nil {
			updates["description"] = *patch.Description
		}
		if patch.SalePrice != nil {
			updates["sale_price"] = nullDecimal(patch.SalePrice)
		}
		if patch.CategoryID != nil {
			if err := checkCategory(tx, *patch.CategoryID); err != nil {
				return nil, err
			}
			updates["category_id"] = *patch.CategoryID
		}
		if err := tx.Model(&models.Product{ID: id}).Updates(updates).Error; err != nil {
			return nil, fmt.Errorf("update product: %w", err)
		}

		if patch.TagIDs != nil {
			tags, err := resolveTags(tx, *patch.TagIDs)
			if err != nil {
				return nil, err
			}
			if err := tx.Model(current).Omit("Tags.*").Association("Tags").Replace(tags); err != nil {
				return nil, fmt.Errorf("replace tags: %w", err)
			}
		}

		if patch.Variants != nil {
			if err := syncVariants(tx, current, name, *patch.Variants); err != nil {
				return nil, err
			}
		} else if name != current.Name {
			for _, v := range current.Variants {
				if err := refreshVariant(tx, v.ID, name); err != nil {
					return nil, err
				}
			}
		}

		product, err := s.loadProduct(tx, id)
		if err != nil {
			return nil, err
		}
		if err := s.enqueue(tx, product.ID, "product", product, events.ActionUpdate); err != nil {
			return nil, err
		}
		return product, nil
	})
	if err != nil {
		return nil, err
	}

	s.kick()
	return product, nil
}

// syncVariants makes the product's variants match inputs, keyed by variant id.
func syncVariants(tx *gorm.DB, current *models.Product, productName string, inputs []VariantInput) error {
	existing := lo.KeyBy(current.Variants, func(v models.ProductVariant) string { return v.ID })
	kept := map[string]struct{}{}

	for _, in := range inputs {
		if in.ID != nil {
			if _, ok := existing[*in.ID]; ok {
				kept[*in.ID] = struct{}{}
				if err := applyVariant(tx, *in.ID, productName, variantPatchFrom(in)); err != nil {
					return err
				}
				continue
			}
		}

		variant, err := buildVariant(current.ID, productName, in)
		if err != nil {
			return err
		}
		if err := tx.Create(&variant).Error; err != nil {
			return fmt.Errorf("insert variant: %w", err)
		}
	}

	for id := range existing {
		if _, ok := kept[id]; !ok {
			if err := deleteVariant(tx, id); err != nil {
				return err
			}
		}
	}
	return nil
}

// DeleteProduct removes the product with its variants, stock rows and tag links.
func (s *CatalogService) DeleteProduct(ctx context.Context, id string) error {
	_, err := repository.WithTx(ctx, s.DB, func(tx *gorm.DB) (struct{}, error) {
		product, err := s.loadProduct(tx, id)
		if err != nil {
			return struct{}{}, err
		}

		for _, v := range product.Variants {
			if err := deleteVariant(tx, v.ID); err != nil {
				return struct{}{}, err
			}
		}
		if err := tx.Model(product).Association("Tags").Clear(); err != nil {
			return struct{}{}, fmt.Errorf("clear tags: %w", err)
		}
		if err := tx.Where("product_id = ?", id).Delete(&models.InventoryProduct{}).Error; err != nil {
			return struct{}{}, fmt.Errorf("delete stock rows: %w", err)
		}
		if err := tx.Delete(&models.Product{}, "id = ?", id).Error; err != nil {
			return struct{}{}, fmt.Errorf("delete product: %w", err)
		}

		return struct{}{}, s.enqueue(tx, id, "product", product, events.ActionDelete)
	})
	if err != nil {
		return err
	}

	s.kick()
	return nil
}

func nullDecimal(d *decimal.Decimal) decimal.NullDecimal {
	if d == nil {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(*d)
}
