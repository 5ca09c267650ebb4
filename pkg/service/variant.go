package service

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/example/storefront/pkg/events"
	"github.com/example/storefront/pkg/models"
	"github.com/example/storefront/pkg/repository"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

const unknownVariantName = "VARIANT-UNKNOWN"

type VariantAttributeInput struct {
	Name  string `json:"name" binding:"required"`
	Value string `json:"value" binding:"required"`
}

type VariantImageInput struct {
	URL     string `json:"url" binding:"required,url"`
	AltText string `json:"alt_text"`
}

type VariantInput struct {
	// ID selects an existing variant when the input is part of a product update.
	ID         *string                 `json:"id"`
	BasePrice  decimal.Decimal         `json:"base_price"`
	SalePrice  *decimal.Decimal        `json:"sale_price"`
	Stock      int                     `json:"stock" binding:"gte=0"`
	Attributes []VariantAttributeInput `json:"attributes" binding:"dive"`
	Images     []VariantImageInput     `json:"images" binding:"dive"`
}

// VariantPatch replaces attributes and images wholesale when they are non-nil.
type VariantPatch struct {
	BasePrice  *decimal.Decimal         `json:"base_price"`
	SalePrice  *decimal.Decimal         `json:"sale_price"`
	Stock      *int                     `json:"stock" binding:"omitempty,gte=0"`
	Attributes *[]VariantAttributeInput `json:"attributes" binding:"omitempty,dive"`
	Images     *[]VariantImageInput     `json:"images" binding:"omitempty,dive"`
}

type VariantFilter struct {
	ProductID string           `form:"product_id"`
	SKU       string           `form:"sku"`
	Name      string           `form:"name"`
	MinPrice  *decimal.Decimal `form:"min_price"`
	MaxPrice  *decimal.Decimal `form:"max_price"`
	MinStock  *int             `form:"min_stock"`
	Pagination
}

func validateVariants(inputs []VariantInput, location string) error {
	var v validation
	for i, in := range inputs {
		idx := strconv.Itoa(i)
		if in.BasePrice.IsNegative() {
			v.add("base_price must not be negative", location, idx, "base_price")
		}
		if in.SalePrice != nil && in.SalePrice.IsNegative() {
			v.add("sale_price must not be negative", location, idx, "sale_price")
		}
		if in.Stock < 0 {
			v.add("stock must not be negative", location, idx, "stock")
		}
		for j, a := range in.Attributes {
			if a.Name == "" || a.Value == "" {
				v.add("attribute name and value are required", location, idx, "attributes", strconv.Itoa(j))
			}
		}
		for j, img := range in.Images {
			if img.URL == "" {
				v.add("image url is required", location, idx, "images", strconv.Itoa(j))
			}
		}
	}
	return v.err()
}

// VariantName joins attributes in their given order as "name: value - name: value".
func VariantName(attrs []models.ProductVariantAttribute) string {
	if len(attrs) == 0 {
		return unknownVariantName
	}

	parts := make([]string, len(attrs))
	for i, a := range attrs {
		parts[i] = a.Name + ": " + a.Value
	}
	return strings.Join(parts, " - ")
}

// SKU is built from the first three letters of the product and variant names
// and the last four characters of the variant id.
func SKU(productName, variantName, variantID string) string {
	code := func(s string) string {
		s = strings.ToUpper(strings.Join(strings.Fields(s), ""))
		r := []rune(s)
		if len(r) > 3 {
			r = r[:3]
		}
		return string(r)
	}

	suffix := variantID
	if len(suffix) > 4 {
		suffix = suffix[len(suffix)-4:]
	}
	return code(productName) + "-" + code(variantName) + "-" + strings.ToUpper(suffix)
}

type barcodePayload struct {
	ID        string           `json:"id"`
	ProductID string           `json:"product_id"`
	SKU       string           `json:"sku"`
	BasePrice decimal.Decimal  `json:"base_price"`
	SalePrice *decimal.Decimal `json:"sale_price"`
	Stock     int              `json:"stock"`
}

// Barcode encodes the identifying fields of a variant as base64 JSON.
func Barcode(v models.ProductVariant) (string, error) {
	payload := barcodePayload{
		ID:        v.ID,
		ProductID: v.ProductID,
		SKU:       v.SKU,
		BasePrice: v.BasePrice,
		Stock:     v.Stock,
	}
	if v.SalePrice.Valid {
		payload.SalePrice = &v.SalePrice.Decimal
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encode barcode: %w", err)
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

func preloadAttributes(db *gorm.DB) *gorm.DB {
	return db.Order("position")
}

func attributesFrom(variantID string, inputs []VariantAttributeInput) []models.ProductVariantAttribute {
	attrs := make([]models.ProductVariantAttribute, 0, len(inputs))
	for i, in := range inputs {
		attrs = append(attrs, models.ProductVariantAttribute{
			ID:        uuid.NewString(),
			VariantID: variantID,
			Name:      in.Name,
			Value:     in.Value,
			Position:  i,
		})
	}
	return attrs
}

func imagesFrom(variantID, sku string, inputs []VariantImageInput) []models.ProductVariantImage {
	images := make([]models.ProductVariantImage, 0, len(inputs))
	for _, in := range inputs {
		alt := in.AltText
		if alt == "" {
			alt = sku
		}
		images = append(images, models.ProductVariantImage{
			ID:        uuid.NewString(),
			VariantID: variantID,
			URL:       in.URL,
			AltText:   alt,
		})
	}
	return images
}

func buildVariant(productID, productName string, in VariantInput) (models.ProductVariant, error) {
	id := uuid.NewString()
	attrs := attributesFrom(id, in.Attributes)
	name := VariantName(attrs)

	v := models.ProductVariant{
		ID:         id,
		ProductID:  productID,
		Name:       name,
		SKU:        SKU(productName, name, id),
		BasePrice:  in.BasePrice,
		SalePrice:  nullDecimal(in.SalePrice),
		Stock:      in.Stock,
		Attributes: attrs,
	}
	v.Images = imagesFrom(id, v.SKU, in.Images)

	barcode, err := Barcode(v)
	if err != nil {
		return models.ProductVariant{}, err
	}
	v.Barcode = barcode
	return v, nil
}

func variantPatchFrom(in VariantInput) VariantPatch {
	p := VariantPatch{
		BasePrice: &in.BasePrice,
		SalePrice: in.SalePrice,
		Stock:     &in.Stock,
	}
	if in.Attributes != nil {
		p.Attributes = &in.Attributes
	}
	if in.Images != nil {
		p.Images = &in.Images
	}
	return p
}

// applyVariant writes patch and re-derives name, SKU and barcode.
func applyVariant(tx *gorm.DB, variantID, productName string, patch VariantPatch) error {
	updates := map[string]interface{}{}
	if patch.BasePrice != nil {
		updates["base_price"] = *patch.BasePrice
	}
	if patch.SalePrice != nil {
		updates["sale_price"] = nullDecimal(patch.SalePrice)
	}
	if patch.Stock != nil {
		updates["stock"] = *patch.Stock
	}
	if len(updates) > 0 {
		if err := tx.Model(&models.ProductVariant{}).Where("id = ?", variantID).Updates(updates).Error; err != nil {
			return fmt.Errorf("update variant: %w", err)
		}
	}

	if patch.Attributes != nil {
		if err := tx.Where("variant_id = ?", variantID).Delete(&models.ProductVariantAttribute{}).Error; err != nil {
			return fmt.Errorf("delete attributes: %w", err)
		}
		if attrs := attributesFrom(variantID, *patch.Attributes); len(attrs) > 0 {
			if err := tx.Create(&attrs).Error; err != nil {
				return fmt.Errorf("insert attributes: %w", err)
			}
		}
	}

	if err := refreshVariant(tx, variantID, productName); err != nil {
		return err
	}

	if patch.Images != nil {
		var v models.ProductVariant
		if err := tx.Select("id", "sku").First(&v, "id = ?", variantID).Error; err != nil {
			return translate(err, "variant")
		}
		if err := tx.Where("variant_id = ?", variantID).Delete(&models.ProductVariantImage{}).Error; err != nil {
			return fmt.Errorf("delete images: %w", err)
		}
		if images := imagesFrom(variantID, v.SKU, *patch.Images); len(images) > 0 {
			if err := tx.Create(&images).Error; err != nil {
				return fmt.Errorf("insert images: %w", err)
			}
		}
	}
	return nil
}

// refreshVariant recomputes the derived name, SKU and barcode of a stored variant.
func refreshVariant(tx *gorm.DB, variantID, productName string) error {
	var v models.ProductVariant
	err := tx.Preload("Attributes", preloadAttributes).First(&v, "id = ?", variantID).Error
	if err != nil {
		return translate(err, "variant")
	}

	v.Name = VariantName(v.Attributes)
	v.SKU = SKU(productName, v.Name, v.ID)
	barcode, err := Barcode(v)
	if err != nil {
		return err
	}

	err = tx.Model(&models.ProductVariant{}).Where("id = ?", variantID).Updates(map[string]interface{}{
		"name":    v.Name,
		"sku":     v.SKU,
		"barcode": barcode,
	}).Error
	if err != nil {
		if repository.IsDuplicateKey(err) {
			return conflictf("sku %s is already taken", v.SKU)
		}
		return fmt.Errorf("refresh variant: %w", err)
	}
	return nil
}

func deleteVariant(tx *gorm.DB, variantID string) error {
	if err := tx.Where("variant_id = ?", variantID).Delete(&models.ProductVariantAttribute{}).Error; err != nil {
		return fmt.Errorf("delete attributes: %w", err)
	}
	if err := tx.Where("variant_id = ?", variantID).Delete(&models.ProductVariantImage{}).Error; err != nil {
		return fmt.Errorf("delete images: %w", err)
	}
	res := tx.Delete(&models.ProductVariant{}, "id = ?", variantID)
	if res.Error != nil {
		return fmt.Errorf("delete variant: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return notFound("variant")
	}
	return nil
}

func (s *CatalogService) productName(tx *gorm.DB, productID string) (string, error) {
	var p models.Product
	if err := tx.Select("id", "name").First(&p, "id = ?", productID).Error; err != nil {
		return "", translate(err, "product")
	}
	return p.Name, nil
}

func (s *CatalogService) loadVariant(tx *gorm.DB, id string) (*models.ProductVariant, error) {
	var v models.ProductVariant
	err := tx.Preload("Attributes", preloadAttributes).Preload("Images").First(&v, "id = ?", id).Error
	if err != nil {
		return nil, translate(err, "variant")
	}
	return &v, nil
}

func (s *CatalogService) AddVariant(ctx context.Context, productID string, in VariantInput) (*models.ProductVariant, error) {
	if err := validateVariants([]VariantInput{in}, "variant"); err != nil {
		return nil, err
	}

	return s.changeVariant(ctx, func(tx *gorm.DB) (*models.ProductVariant, error) {
		name, err := s.productName(tx, productID)
		if err != nil {
			return nil, err
		}

		v, err := buildVariant(productID, name, in)
		if err != nil {
			return nil, err
		}
		if err := tx.Create(&v).Error; err != nil {
			if repository.IsDuplicateKey(err) {
				return nil, conflictf("sku %s is already taken", v.SKU)
			}
			return nil, fmt.Errorf("insert variant: %w", err)
		}
		return s.loadVariant(tx, v.ID)
	})
}

func (s *CatalogService) GetVariant(ctx context.Context, id string) (*models.ProductVariant, error) {
	return s.loadVariant(s.DB.WithContext(ctx), id)
}

func (s *CatalogService) ListVariants(ctx context.Context, filter VariantFilter) ([]models.ProductVariant, error) {
	q := s.DB.WithContext(ctx).Model(&models.ProductVariant{})
	if filter.ProductID != "" {
		q = q.Where("product_id = ?", filter.ProductID)
	}
	if filter.SKU != "" {
		q = q.Where("sku = ?", filter.SKU)
	}
	if filter.Name != "" {
		q = q.Where("name LIKE ?", like(filter.Name))
	}
	if filter.MinPrice != nil {
		q = q.Where("base_price >= ?", *filter.MinPrice)
	}
	if filter.MaxPrice != nil {
		q = q.Where("base_price <= ?", *filter.MaxPrice)
	}
	if filter.MinStock != nil {
		q = q.Where("stock >= ?", *filter.MinStock)
	}

	var variants []models.ProductVariant
	err := filter.Pagination.apply(q).Preload("Attributes", preloadAttributes).Preload("Images").Order("sku").Find(&variants).Error
	if err != nil {
		return nil, fmt.Errorf("list variants: %w", err)
	}
	return variants, nil
}

func (s *CatalogService) UpdateVariant(ctx context.Context, id string, patch VariantPatch) (*models.ProductVariant, error) {
	check := VariantInput{SalePrice: patch.SalePrice}
	if patch.BasePrice != nil {
		check.BasePrice = *patch.BasePrice
	}
	if patch.Stock != nil {
		check.Stock = *patch.Stock
	}
	if patch.Attributes != nil {
		check.Attributes = *patch.Attributes
	}
	if patch.Images != nil {
		check.Images = *patch.Images
	}
	if err := validateVariants([]VariantInput{check}, "variant"); err != nil {
		return nil, err
	}

	return s.changeVariant(ctx, func(tx *gorm.DB) (*models.ProductVariant, error) {
		current, err := s.loadVariant(tx, id)
		if err != nil {
			return nil, err
		}
		name, err := s.productName(tx, current.ProductID)
		if err != nil {
			return nil, err
		}
		if err := applyVariant(tx, id, name, patch); err != nil {
			return nil, err
		}
		return s.loadVariant(tx, id)
	})
}

func (s *CatalogService) DeleteVariant(ctx context.Context, id string) error {
	_, err := s.changeVariant(ctx, func(tx *gorm.DB) (*models.ProductVariant, error) {
		current, err := s.loadVariant(tx, id)
		if err != nil {
			return nil, err
		}
		return current, deleteVariant(tx, id)
	})
	return err
}

// Attributes and images of a single variant.

func (s *CatalogService) AddVariantAttribute(ctx context.Context, variantID string, in VariantAttributeInput) (*models.ProductVariant, error) {
	if in.Name == "" || in.Value == "" {
		return nil, invalid("attribute name and value are required", "attribute")
	}

	return s.changeVariant(ctx, func(tx *gorm.DB) (*models.ProductVariant, error) {
		current, err := s.loadVariant(tx, variantID)
		if err != nil {
			return nil, err
		}
		attr := attributesFrom(variantID, []VariantAttributeInput{in})[0]
		if n := len(current.Attributes); n > 0 {
			attr.Position = current.Attributes[n-1].Position + 1
		}
		if err := tx.Create(&attr).Error; err != nil {
			return nil, fmt.Errorf("insert attribute: %w", err)
		}
		return s.afterVariantChange(tx, current)
	})
}

func (s *CatalogService) DeleteVariantAttribute(ctx context.Context, attributeID string) (*models.ProductVariant, error) {
	return s.changeVariant(ctx, func(tx *gorm.DB) (*models.ProductVariant, error) {
		var attr models.ProductVariantAttribute
		if err := tx.First(&attr, "id = ?", attributeID).Error; err != nil {
			return nil, translate(err, "variant attribute")
		}
		if err := tx.Delete(&attr).Error; err != nil {
			return nil, fmt.Errorf("delete attribute: %w", err)
		}
		current, err := s.loadVariant(tx, attr.VariantID)
		if err != nil {
			return nil, err
		}
		return s.afterVariantChange(tx, current)
	})
}

func (s *CatalogService) AddVariantImage(ctx context.Context, variantID string, in VariantImageInput) (*models.ProductVariant, error) {
	if in.URL == "" {
		return nil, invalid("image url is required", "url")
	}

	return s.changeVariant(ctx, func(tx *gorm.DB) (*models.ProductVariant, error) {
		current, err := s.loadVariant(tx, variantID)
		if err != nil {
			return nil, err
		}
		img := imagesFrom(variantID, current.SKU, []VariantImageInput{in})[0]
		if err := tx.Create(&img).Error; err != nil {
			return nil, fmt.Errorf("insert image: %w", err)
		}
		return s.loadVariant(tx, variantID)
	})
}

func (s *CatalogService) DeleteVariantImage(ctx context.Context, imageID string) error {
	_, err := s.changeVariant(ctx, func(tx *gorm.DB) (*models.ProductVariant, error) {
		var img models.ProductVariantImage
		if err := tx.First(&img, "id = ?", imageID).Error; err != nil {
			return nil, translate(err, "variant image")
		}
		if err := tx.Delete(&img).Error; err != nil {
			return nil, fmt.Errorf("delete image: %w", err)
		}
		return s.loadVariant(tx, img.VariantID)
	})
	return err
}

// changeVariant runs fn in a transaction and publishes the owning product's
// new snapshot with it, so the search index sees variant edits.
func (s *CatalogService) changeVariant(ctx context.Context, fn func(tx *gorm.DB) (*models.ProductVariant, error)) (*models.ProductVariant, error) {
	v, err := repository.WithTx(ctx, s.DB, func(tx *gorm.DB) (*models.ProductVariant, error) {
		v, err := fn(tx)
		if err != nil {
			return nil, err
		}
		product, err := s.loadProduct(tx, v.ProductID)
		if err != nil {
			return nil, err
		}
		if err := s.enqueue(tx, product.ID, "product", product, events.ActionUpdate); err != nil {
			return nil, err
		}
		return v, nil
	})
	if err != nil {
		return nil, err
	}

	s.kick()
	return v, nil
}

func (s *CatalogService) afterVariantChange(tx *gorm.DB, v *models.ProductVariant) (*models.ProductVariant, error) {
	name, err := s.productName(tx, v.ProductID)
	if err != nil {
		return nil, err
	}
	if err := refreshVariant(tx, v.ID, name); err != nil {
		return nil, err
	}
	return s.loadVariant(tx, v.ID)
}
