package gateway

import (
	"strconv"

	"github.com/example/storefront/pkg/service"
	"github.com/gin-gonic/gin"
)

// Categories.

func (g *Gateway) createCategory(c *gin.Context) {
	var in service.CategoryInput
	if !g.bindJSON(c, &in) {
		return
	}
	category, err := g.services.Catalog.CreateCategory(c.Request.Context(), in)
	if err != nil {
		g.fail(c, err)
		return
	}
	created(c, "Category created successfully", category)
}

func (g *Gateway) getCategory(c *gin.Context) {
	category, err := g.services.Catalog.GetCategory(c.Request.Context(), c.Param("id"))
	if err != nil {
		g.fail(c, err)
		return
	}
	ok(c, "Category retrieved successfully", category)
}

func (g *Gateway) listCategories(c *gin.Context) {
	var filter service.NameFilter
	if !g.bindQuery(c, &filter) {
		return
	}
	categories, err := g.services.Catalog.ListCategories(c.Request.Context(), filter)
	if err != nil {
		g.fail(c, err)
		return
	}
	ok(c, "Categories retrieved successfully", categories)
}

func (g *Gateway) updateCategory(c *gin.Context) {
	var patch service.CategoryPatch
	if !g.bindJSON(c, &patch) {
		return
	}
	category, err := g.services.Catalog.UpdateCategory(c.Request.Context(), c.Param("id"), patch)
	if err != nil {
		g.fail(c, err)
		return
	}
	ok(c, "Category updated successfully", category)
}

func (g *Gateway) deleteCategory(c *gin.Context) {
	if err := g.services.Catalog.DeleteCategory(c.Request.Context(), c.Param("id")); err != nil {
		g.fail(c, err)
		return
	}
	ok(c, "Category deleted successfully", nil)
}

// Tags.

func (g *Gateway) createTag(c *gin.Context) {
	var in service.TagInput
	if !g.bindJSON(c, &in) {
		return
	}
	tag, err := g.services.Catalog.CreateTag(c.Request.Context(), in)
	if err != nil {
		g.fail(c, err)
		return
	}
	created(c, "Tag created successfully", tag)
}

func (g *Gateway) getTag(c *gin.Context) {
	tag, err := g.services.Catalog.GetTag(c.Request.Context(), c.Param("id"))
	if err != nil {
		g.fail(c, err)
		return
	}
	ok(c, "Tag retrieved successfully", tag)
}

func (g *Gateway) listTags(c *gin.Context) {
	var filter service.NameFilter
	if !g.bindQuery(c, &filter) {
		return
	}
	tags, err := g.services.Catalog.ListTags(c.Request.Context(), filter)
	if err != nil {
		g.fail(c, err)
		return
	}
	ok(c, "Tags retrieved successfully", tags)
}

func (g *Gateway) updateTag(c *gin.Context) {
	var in service.TagInput
	if !g.bindJSON(c, &in) {
		return
	}
	tag, err := g.services.Catalog.UpdateTag(c.Request.Context(), c.Param("id"), in)
	if err != nil {
		g.fail(c, err)
		return
	}
	ok(c, "Tag updated successfully", tag)
}

func (g *Gateway) deleteTag(c *gin.Context) {
	if err := g.services.Catalog.DeleteTag(c.Request.Context(), c.Param("id")); err != nil {
		g.fail(c, err)
		return
	}
	ok(c, "Tag deleted successfully", nil)
}

// Products.

func (g *Gateway) createProduct(c *gin.Context) {
	var in service.ProductInput
	if !g.bindJSON(c, &in) {
		return
	}
	product, err := g.services.Catalog.CreateProduct(c.Request.Context(), in)
	if err != nil {
		g.fail(c, err)
		return
	}
	created(c, "Product created successfully", product)
}

func (g *Gateway) getProduct(c *gin.Context) {
	product, err := g.services.Catalog.GetProduct(c.Request.Context(), c.Param("id"))
	if err != nil {
		g.fail(c, err)
		return
	}
	ok(c, "Product retrieved successfully", product)
}

func (g *Gateway) listProducts(c *gin.Context) {
	var filter service.ProductFilter
	if !g.bindQuery(c, &filter) {
		return
	}
	products, err := g.services.Catalog.ListProducts(c.Request.Context(), filter)
	if err != nil {
		g.fail(c, err)
		return
	}
	ok(c, "Products retrieved successfully", products)
}

func (g *Gateway) searchProducts(c *gin.Context) {
	limit, _ := strconv.Atoi(c.Query("limit"))
	products, err := g.services.Catalog.SearchProducts(c.Request.Context(), c.Query("q"), limit)
	if err != nil {
		g.fail(c, err)
		return
	}
	ok(c, "Products retrieved successfully", products)
}

func (g *Gateway) updateProduct(c *gin.Context) {
	var patch service.ProductPatch
	if !g.bindJSON(c, &patch) {
		return
	}
	product, err := g.services.Catalog.UpdateProduct(c.Request.Context(), c.Param("id"), patch)
	if err != nil {
		g.fail(c, err)
		return
	}
	ok(c, "Product updated successfully", product)
}

func (g *Gateway) deleteProduct(c *gin.Context) {
	if err := g.services.Catalog.DeleteProduct(c.Request.Context(), c.Param("id")); err != nil {
		g.fail(c, err)
		return
	}
	ok(c, "Product deleted successfully", nil)
}

// Variants.

func (g *Gateway) addVariant(c *gin.Context) {
	var in service.VariantInput
	if !g.bindJSON(c, &in) {
		return
	}
	variant, err := g.services.Catalog.AddVariant(c.Request.Context(), c.Param("id"), in)
	if err != nil {
		g.fail(c, err)
		return
	}
	created(c, "Variant created successfully", variant)
}

func (g *Gateway) getVariant(c *gin.Context) {
	variant, err := g.services.Catalog.GetVariant(c.Request.Context(), c.Param("variant_id"))
	if err != nil {
		g.fail(c, err)
		return
	}
	ok(c, "Variant retrieved successfully", variant)
}

func (g *Gateway) variantBarcode(c *gin.Context) {
	variant, err := g.services.Catalog.GetVariant(c.Request.Context(), c.Param("variant_id"))
	if err != nil {
		g.fail(c, err)
		return
	}
	barcode, err := service.Barcode(*variant)
	if err != nil {
		g.fail(c, err)
		return
	}
	ok(c, "Barcode generated successfully", gin.H{"sku": variant.SKU, "barcode": barcode})
}

func (g *Gateway) listVariants(c *gin.Context) {
	var filter service.VariantFilter
	if !g.bindQuery(c, &filter) {
		return
	}
	variants, err := g.services.Catalog.ListVariants(c.Request.Context(), filter)
	if err != nil {
		g.fail(c, err)
		return
	}
	ok(c, "Variants retrieved successfully", variants)
}

func (g *Gateway) updateVariant(c *gin.Context) {
	var patch service.VariantPatch
	if !g.bindJSON(c, &patch) {
		return
	}
	variant, err := g.services.Catalog.UpdateVariant(c.Request.Context(), c.Param("variant_id"), patch)
	if err != nil {
		g.fail(c, err)
		return
	}
	ok(c, "Variant updated successfully", variant)
}

func (g *Gateway) deleteVariant(c *gin.Context) {
	if err := g.services.Catalog.DeleteVariant(c.Request.Context(), c.Param("variant_id")); err != nil {
		g.fail(c, err)
		return
	}
	ok(c, "Variant deleted successfully", nil)
}

func (g *Gateway) addVariantAttribute(c *gin.Context) {
	var in service.VariantAttributeInput
	if !g.bindJSON(c, &in) {
		return
	}
	variant, err := g.services.Catalog.AddVariantAttribute(c.Request.Context(), c.Param("variant_id"), in)
	if err != nil {
		g.fail(c, err)
		return
	}
	created(c, "Attribute added successfully", variant)
}

func (g *Gateway) deleteVariantAttribute(c *gin.Context) {
	variant, err := g.services.Catalog.DeleteVariantAttribute(c.Request.Context(), c.Param("attribute_id"))
	if err != nil {
		g.fail(c, err)
		return
	}
	ok(c, "Attribute deleted successfully", variant)
}

func (g *Gateway) addVariantImage(c *gin.Context) {
	var in service.VariantImageInput
	if !g.bindJSON(c, &in) {
		return
	}
	variant, err := g.services.Catalog.AddVariantImage(c.Request.Context(), c.Param("variant_id"), in)
	if err != nil {
		g.fail(c, err)
		return
	}
	created(c, "Image added successfully", variant)
}

func (g *Gateway) deleteVariantImage(c *gin.Context) {
	if err := g.services.Catalog.DeleteVariantImage(c.Request.Context(), c.Param("image_id")); err != nil {
		g.fail(c, err)
		return
	}
	ok(c, "Image deleted successfully", nil)
}
