package service_test

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/example/storefront/pkg/models"
	"github.com/example/storefront/pkg/service"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"
	"go.mongodb.org/mongo-driver/bson"
)

func TestSKU(t *testing.T) {
	tests := []struct {
		product, variant, id string
		want                 string
	}{
		{"Running Shoe", "color: red - size: 42", "0e6c0f8e-1111-2222-3333-4444abcd", "RUN-COL-ABCD"},
		{"tv", "VARIANT-UNKNOWN", "12", "TV-VAR-12"},
		{"  air  max ", "size: 9", "ffffffff-aaaa", "AIR-SIZ-AAAA"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, service.SKU(tt.product, tt.variant, tt.id))
	}
}

func TestVariantName(t *testing.T) {
	assert.Equal(t, "VARIANT-UNKNOWN", service.VariantName(nil))
	assert.Equal(t, "size: 42 - color: red", service.VariantName([]models.ProductVariantAttribute{
		{Name: "size", Value: "42"},
		{Name: "color", Value: "red"},
	}))
}

func TestBarcode(t *testing.T) {
	v := models.ProductVariant{ID: "v1", ProductID: "p1", SKU: "RUN-COL-0001", BasePrice: dec("19.90"), Stock: 7}

	code, err := service.Barcode(v)
	assert.NoError(t, err)

	raw, err := base64.StdEncoding.DecodeString(code)
	assert.NoError(t, err)

	var payload map[string]any
	assert.NoError(t, json.Unmarshal(raw, &payload))
	assert.Equal(t, "v1", payload["id"])
	assert.Equal(t, "p1", payload["product_id"])
	assert.Equal(t, "RUN-COL-0001", payload["sku"])
	assert.Equal(t, "19.9", payload["base_price"])
	assert.Nil(t, payload["sale_price"])
	assert.EqualValues(t, 7, payload["stock"])
}

type stubSearcher struct {
	docs []bson.M
	err  error
}

func (s stubSearcher) Search(context.Context, string, string, int64) ([]bson.M, error) {
	return s.docs, s.err
}

type catalogServiceSuite struct {
	serviceSuite
	catalog *service.CatalogService
}

func TestCatalogServiceSuite(t *testing.T) {
	suite.Run(t, new(catalogServiceSuite))
}

func (suite *catalogServiceSuite) SetupTest() {
	suite.serviceSuite.SetupTest()
	suite.catalog = service.NewCatalogService(suite.deps, nil)
}

func (suite *catalogServiceSuite) productInput(name string) service.ProductInput {
	return service.ProductInput{
		Name:      name,
		BasePrice: dec("49.99"),
		Rating:    4.5,
		Variants: []service.VariantInput{
			{
				BasePrice:  dec("49.99"),
				Stock:      3,
				Attributes: []service.VariantAttributeInput{{Name: "size", Value: "42"}, {Name: "color", Value: "red"}},
				Images:     []service.VariantImageInput{{URL: "https://cdn.test/red.png"}},
			},
			{BasePrice: dec("39.99"), SalePrice: ptr(dec("29.99")), Stock: 0},
		},
	}
}

func (suite *catalogServiceSuite) TestCategoriesAndTags() {
	ctx := suite.T().Context()

	c, err := suite.catalog.CreateCategory(ctx, service.CategoryInput{Name: "Shoes"})
	suite.Require().NoError(err)
	_, err = suite.catalog.CreateCategory(ctx, service.CategoryInput{Name: "Shoes"})
	suite.ErrorIs(err, service.ErrConflict)

	c, err = suite.catalog.UpdateCategory(ctx, c.ID, service.CategoryPatch{Description: ptr("Footwear")})
	suite.Require().NoError(err)
	suite.Equal("Footwear", *c.Description)

	found, err := suite.catalog.ListCategories(ctx, service.NameFilter{Name: "sho"})
	suite.Require().NoError(err)
	suite.Len(found, 1)

	tag, err := suite.catalog.CreateTag(ctx, service.TagInput{Name: "summer"})
	suite.Require().NoError(err)
	tag, err = suite.catalog.UpdateTag(ctx, tag.ID, service.TagInput{Name: "winter"})
	suite.Require().NoError(err)
	suite.Equal("winter", tag.Name)

	suite.Require().NoError(suite.catalog.DeleteTag(ctx, tag.ID))
	suite.ErrorIs(suite.catalog.DeleteTag(ctx, tag.ID), service.ErrNotFound)
	suite.Require().NoError(suite.catalog.DeleteCategory(ctx, c.ID))
	_, err = suite.catalog.GetCategory(ctx, c.ID)
	suite.ErrorIs(err, service.ErrNotFound)
}

func (suite *catalogServiceSuite) TestCreateProduct() {
	ctx := suite.T().Context()

	category, err := suite.catalog.CreateCategory(ctx, service.CategoryInput{Name: "Shoes"})
	suite.Require().NoError(err)
	tag, err := suite.catalog.CreateTag(ctx, service.TagInput{Name: "summer"})
	suite.Require().NoError(err)
	inv := models.Inventory{ID: uuid.NewString(), Name: "main"}
	suite.Require().NoError(suite.db.Create(&inv).Error)

	in := suite.productInput("Running Shoe")
	in.CategoryID = &category.ID
	in.TagIDs = []string{tag.ID, uuid.NewString()}
	in.InventoryIDs = []string{inv.ID}

	p, err := suite.catalog.CreateProduct(ctx, in)
	suite.Require().NoError(err)

	suite.Equal(models.AvailabilityInStock, p.Availability)
	suite.Require().NotNil(p.Category)
	suite.Equal("Shoes", p.Category.Name)
	suite.Require().Len(p.Tags, 1)
	suite.Equal(tag.ID, p.Tags[0].ID)
	suite.Require().Len(p.Variants, 2)

	for _, v := range p.Variants {
		suite.True(strings.HasPrefix(v.SKU, "RUN-"), v.SKU)
		suite.True(strings.HasSuffix(v.SKU, strings.ToUpper(v.ID[len(v.ID)-4:])), v.SKU)
		suite.NotEmpty(v.Barcode)
	}
	names := []string{p.Variants[0].Name, p.Variants[1].Name}
	suite.ElementsMatch([]string{"size: 42 - color: red", "VARIANT-UNKNOWN"}, names)

	var links []models.InventoryProduct
	suite.Require().NoError(suite.db.Where("product_id = ?", p.ID).Find(&links).Error)
	suite.Require().Len(links, 1)
	suite.Equal(0, links[0].Quantity)

	// one product event
	suite.EqualValues(1, suite.outboxCount())
}

func (suite *catalogServiceSuite) TestCreateProductInvalidCategory() {
	in := suite.productInput("Hat")
	in.CategoryID = ptr(uuid.NewString())

	_, err := suite.catalog.CreateProduct(suite.T().Context(), in)
	suite.ErrorIs(err, service.ErrConflict)
	suite.Contains(err.Error(), "Invalid category_id")

	in = suite.productInput("Hat")
	in.Availability = "Sold"
	in.Rating = 7
	_, err = suite.catalog.CreateProduct(suite.T().Context(), in)
	var verr *service.ValidationError
	suite.Require().ErrorAs(err, &verr)
	suite.Len(verr.Fields, 2)
}

func (suite *catalogServiceSuite) TestListProducts() {
	ctx := suite.T().Context()
	tag, err := suite.catalog.CreateTag(ctx, service.TagInput{Name: "sale"})
	suite.Require().NoError(err)

	cheap := suite.productInput("Sandal")
	cheap.BasePrice = dec("9.99")
	cheap.Rating = 2
	cheap.TagIDs = []string{tag.ID}
	_, err = suite.catalog.CreateProduct(ctx, cheap)
	suite.Require().NoError(err)

	_, err = suite.catalog.CreateProduct(ctx, suite.productInput("Boot"))
	suite.Require().NoError(err)

	tests := []struct {
		name   string
		filter service.ProductFilter
		want   []string
	}{
		{"all", service.ProductFilter{}, []string{"Boot", "Sandal"}},
		{"name", service.ProductFilter{Name: "oo"}, []string{"Boot"}},
		{"tag", service.ProductFilter{TagID: tag.ID}, []string{"Sandal"}},
		{"max price", service.ProductFilter{MaxPrice: ptr(dec("10"))}, []string{"Sandal"}},
		{"min rating", service.ProductFilter{MinRating: ptr(4.0)}, []string{"Boot"}},
		{"limit", service.ProductFilter{Pagination: service.Pagination{Limit: 1}}, []string{"Boot"}},
	}
	for _, tt := range tests {
		suite.Run(tt.name, func() {
			products, err := suite.catalog.ListProducts(ctx, tt.filter)
			suite.Require().NoError(err)
			got := make([]string, 0, len(products))
			for _, p := range products {
				got = append(got, p.Name)
			}
			suite.Equal(tt.want, got)
		})
	}

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = suite.catalog.ListProducts(cancelled, service.ProductFilter{TagID: tag.ID})
	suite.ErrorIs(err, context.Canceled)
}

func (suite *catalogServiceSuite) TestUpdateProductSyncsVariants() {
	ctx := suite.T().Context()
	p, err := suite.catalog.CreateProduct(ctx, suite.productInput("Running Shoe"))
	suite.Require().NoError(err)

	var keep models.ProductVariant
	for _, v := range p.Variants {
		if v.Name != "VARIANT-UNKNOWN" {
			keep = v
		}
	}

	variants := []service.VariantInput{
		{ID: &keep.ID, BasePrice: dec("59.99"), Stock: 10, Attributes: []service.VariantAttributeInput{{Name: "size", Value: "43"}}},
		{BasePrice: dec("19.99"), Stock: 1, Attributes: []service.VariantAttributeInput{{Name: "size", Value: "38"}}},
	}
	updated, err := suite.catalog.UpdateProduct(ctx, p.ID, service.ProductPatch{Name: ptr("Trail Shoe"), Variants: &variants})
	suite.Require().NoError(err)

	suite.Equal("Trail Shoe", updated.Name)
	suite.Require().Len(updated.Variants, 2)
	for _, v := range updated.Variants {
		suite.True(strings.HasPrefix(v.SKU, "TRA-SIZ-"), v.SKU)
		if v.ID == keep.ID {
			suite.Equal("size: 43", v.Name)
			suite.Equal(10, v.Stock)
			// images are kept when not supplied
			suite.Len(v.Images, 1)
		}
	}

	var orphans int64
	suite.Require().NoError(suite.db.Model(&models.ProductVariantAttribute{}).
		Where("variant_id NOT IN (?)", suite.db.Model(&models.ProductVariant{}).Select("id")).
		Count(&orphans).Error)
	suite.Zero(orphans)
}

func (suite *catalogServiceSuite) TestDeleteProductCascades() {
	ctx := suite.T().Context()
	tag, err := suite.catalog.CreateTag(ctx, service.TagInput{Name: "sale"})
	suite.Require().NoError(err)
	in := suite.productInput("Boot")
	in.TagIDs = []string{tag.ID}
	p, err := suite.catalog.CreateProduct(ctx, in)
	suite.Require().NoError(err)

	suite.Require().NoError(suite.catalog.DeleteProduct(ctx, p.ID))

	_, err = suite.catalog.GetProduct(ctx, p.ID)
	suite.ErrorIs(err, service.ErrNotFound)

	for _, model := range []any{&models.ProductVariant{}, &models.ProductVariantAttribute{}, &models.ProductVariantImage{}} {
		var count int64
		suite.Require().NoError(suite.db.Model(model).Count(&count).Error)
		suite.Zero(count)
	}
	var links int64
	suite.Require().NoError(suite.db.Table("product_tags").Count(&links).Error)
	suite.Zero(links)

	suite.ErrorIs(suite.catalog.DeleteProduct(ctx, p.ID), service.ErrNotFound)
}

func (suite *catalogServiceSuite) TestVariantOperations() {
	ctx := suite.T().Context()
	p, err := suite.catalog.CreateProduct(ctx, service.ProductInput{Name: "Mug", BasePrice: dec("5")})
	suite.Require().NoError(err)

	v, err := suite.catalog.AddVariant(ctx, p.ID, service.VariantInput{BasePrice: dec("5"), Stock: 4})
	suite.Require().NoError(err)
	suite.Equal("VARIANT-UNKNOWN", v.Name)
	suite.True(strings.HasPrefix(v.SKU, "MUG-VAR-"))

	v, err = suite.catalog.AddVariantAttribute(ctx, v.ID, service.VariantAttributeInput{Name: "color", Value: "blue"})
	suite.Require().NoError(err)
	suite.Equal("color: blue", v.Name)
	suite.True(strings.HasPrefix(v.SKU, "MUG-COL-"))

	v, err = suite.catalog.AddVariantAttribute(ctx, v.ID, service.VariantAttributeInput{Name: "capacity", Value: "350ml"})
	suite.Require().NoError(err)
	suite.Equal("color: blue - capacity: 350ml", v.Name)

	v, err = suite.catalog.AddVariantImage(ctx, v.ID, service.VariantImageInput{URL: "https://cdn.test/mug.png"})
	suite.Require().NoError(err)
	suite.Require().Len(v.Images, 1)
	suite.Equal(v.SKU, v.Images[0].AltText)

	v, err = suite.catalog.UpdateVariant(ctx, v.ID, service.VariantPatch{
		Stock:  ptr(9),
		Images: &[]service.VariantImageInput{},
	})
	suite.Require().NoError(err)
	suite.Equal(9, v.Stock)
	suite.Empty(v.Images)
	suite.Require().Len(v.Attributes, 2)

	v, err = suite.catalog.DeleteVariantAttribute(ctx, v.Attributes[0].ID)
	suite.Require().NoError(err)
	suite.Equal("capacity: 350ml", v.Name)

	v, err = suite.catalog.DeleteVariantAttribute(ctx, v.Attributes[0].ID)
	suite.Require().NoError(err)
	suite.Equal("VARIANT-UNKNOWN", v.Name)

	listed, err := suite.catalog.ListVariants(ctx, service.VariantFilter{ProductID: p.ID, MinStock: ptr(5)})
	suite.Require().NoError(err)
	suite.Len(listed, 1)

	bySKU, err := suite.catalog.ListVariants(ctx, service.VariantFilter{SKU: v.SKU})
	suite.Require().NoError(err)
	suite.Len(bySKU, 1)

	suite.Require().NoError(suite.catalog.DeleteVariant(ctx, v.ID))
	_, err = suite.catalog.GetVariant(ctx, v.ID)
	suite.ErrorIs(err, service.ErrNotFound)

	_, err = suite.catalog.AddVariant(ctx, uuid.NewString(), service.VariantInput{})
	suite.ErrorIs(err, service.ErrNotFound)
}

func (suite *catalogServiceSuite) TestSearch() {
	ctx := suite.T().Context()
	boot, err := suite.catalog.CreateProduct(ctx, suite.productInput("Boot"))
	suite.Require().NoError(err)
	sandal, err := suite.catalog.CreateProduct(ctx, suite.productInput("Sandal"))
	suite.Require().NoError(err)

	// database fallback
	found, err := suite.catalog.SearchProducts(ctx, "boo", 10)
	suite.Require().NoError(err)
	suite.Require().Len(found, 1)
	suite.Equal(boot.ID, found[0].ID)

	indexed := service.NewCatalogService(suite.deps, stubSearcher{docs: []bson.M{{"_id": sandal.ID}, {"_id": "gone"}, {"_id": boot.ID}}})
	found, err = indexed.SearchProducts(ctx, "anything", 10)
	suite.Require().NoError(err)
	suite.Require().Len(found, 2)
	suite.Equal(sandal.ID, found[0].ID)
	suite.Equal(boot.ID, found[1].ID)

	broken := service.NewCatalogService(suite.deps, stubSearcher{err: errors.New("no mongo")})
	found, err = broken.SearchProducts(ctx, "sand", 10)
	suite.Require().NoError(err)
	suite.Len(found, 1)

	_, err = suite.catalog.SearchProducts(ctx, " ", 10)
	var verr *service.ValidationError
	suite.ErrorAs(err, &verr)
}

func (suite *catalogServiceSuite) TestProductEventsFollowChanges() {
	ctx := suite.T().Context()
	p, err := suite.catalog.CreateProduct(ctx, service.ProductInput{Name: "Mug", BasePrice: dec("5")})
	suite.Require().NoError(err)

	_, err = suite.catalog.UpdateProduct(ctx, p.ID, service.ProductPatch{Name: ptr("Big Mug")})
	suite.Require().NoError(err)
	v, err := suite.catalog.AddVariant(ctx, p.ID, service.VariantInput{BasePrice: dec("6"), Stock: 1})
	suite.Require().NoError(err)
	suite.Require().NoError(suite.catalog.DeleteVariant(ctx, v.ID))
	suite.Require().NoError(suite.catalog.DeleteProduct(ctx, p.ID))

	var rows []models.OutboxEvent
	suite.Require().NoError(suite.db.Order("id").Find(&rows).Error)

	type snapshot struct {
		Action  string `json:"action"`
		Product struct {
			Name     string                  `json:"name"`
			Variants []models.ProductVariant `json:"variants"`
		} `json:"product"`
	}
	snapshots := make([]snapshot, 0, len(rows))
	actions := make([]string, 0, len(rows))
	for _, row := range rows {
		suite.Equal(p.ID, row.Key)
		var s snapshot
		suite.Require().NoError(json.Unmarshal([]byte(row.Payload), &s))
		snapshots = append(snapshots, s)
		actions = append(actions, s.Action)
	}

	suite.Equal([]string{"create", "update", "update", "update", "delete"}, actions)
	suite.Equal("Big Mug", snapshots[1].Product.Name)
	suite.Len(snapshots[2].Product.Variants, 1)
	suite.Empty(snapshots[3].Product.Variants)
}
