package gateway

import (
	"io"
	"net/http"

	"github.com/example/storefront/pkg/service"
	"github.com/gin-gonic/gin"
)

type adjustStockRequest struct {
	ProductID string `json:"product_id" binding:"required"`
	Delta     int    `json:"delta" binding:"required"`
}

func (g *Gateway) createInventory(c *gin.Context) {
	var in service.InventoryInput
	if !g.bindJSON(c, &in) {
		return
	}
	inv, err := g.services.Inventory.Create(c.Request.Context(), in)
	if err != nil {
		g.fail(c, err)
		return
	}
	created(c, "Inventory created successfully", inv)
}

func (g *Gateway) getInventory(c *gin.Context) {
	inv, err := g.services.Inventory.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		g.fail(c, err)
		return
	}
	ok(c, "Inventory retrieved successfully", inv)
}

func (g *Gateway) listInventories(c *gin.Context) {
	var filter service.InventoryFilter
	if !g.bindQuery(c, &filter) {
		return
	}
	inventories, err := g.services.Inventory.List(c.Request.Context(), filter)
	if err != nil {
		g.fail(c, err)
		return
	}
	ok(c, "Inventories retrieved successfully", inventories)
}

func (g *Gateway) updateInventory(c *gin.Context) {
	var patch service.InventoryPatch
	if !g.bindJSON(c, &patch) {
		return
	}
	inv, err := g.services.Inventory.Update(c.Request.Context(), c.Param("id"), patch)
	if err != nil {
		g.fail(c, err)
		return
	}
	ok(c, "Inventory updated successfully", inv)
}

func (g *Gateway) deleteInventory(c *gin.Context) {
	if err := g.services.Inventory.Delete(c.Request.Context(), c.Param("id")); err != nil {
		g.fail(c, err)
		return
	}
	ok(c, "Inventory deleted successfully", nil)
}

func (g *Gateway) addInventoryProduct(c *gin.Context) {
	var in service.InventoryProductInput
	if !g.bindJSON(c, &in) {
		return
	}
	row, err := g.services.Inventory.AddProduct(c.Request.Context(), c.Param("id"), in)
	if err != nil {
		g.fail(c, err)
		return
	}
	created(c, "Product added to inventory successfully", row)
}

func (g *Gateway) listInventoryProducts(c *gin.Context) {
	var page service.Pagination
	if !g.bindQuery(c, &page) {
		return
	}
	rows, err := g.services.Inventory.ListProducts(c.Request.Context(), c.Param("id"), page)
	if err != nil {
		g.fail(c, err)
		return
	}
	ok(c, "Inventory products retrieved successfully", rows)
}

func (g *Gateway) getInventoryProduct(c *gin.Context) {
	row, err := g.services.Inventory.GetProduct(c.Request.Context(), c.Param("item_id"))
	if err != nil {
		g.fail(c, err)
		return
	}
	ok(c, "Inventory product retrieved successfully", row)
}

func (g *Gateway) updateInventoryProduct(c *gin.Context) {
	var patch service.InventoryProductPatch
	if !g.bindJSON(c, &patch) {
		return
	}
	row, err := g.services.Inventory.UpdateProduct(c.Request.Context(), c.Param("item_id"), patch)
	if err != nil {
		g.fail(c, err)
		return
	}
	ok(c, "Inventory product updated successfully", row)
}

func (g *Gateway) deleteInventoryProduct(c *gin.Context) {
	if err := g.services.Inventory.DeleteProduct(c.Request.Context(), c.Param("item_id")); err != nil {
		g.fail(c, err)
		return
	}
	ok(c, "Inventory product deleted successfully", nil)
}

func (g *Gateway) adjustStock(c *gin.Context) {
	var req adjustStockRequest
	if !g.bindJSON(c, &req) {
		return
	}
	row, err := g.services.Inventory.Adjust(c.Request.Context(), c.Param("id"), req.ProductID, req.Delta)
	if err != nil {
		g.fail(c, err)
		return
	}
	ok(c, "Stock adjusted successfully", row)
}

// streamStock pushes stock changes as server-sent events until the client leaves.
func (g *Gateway) streamStock(c *gin.Context) {
	if g.services.Stock == nil {
		abort(c, http.StatusServiceUnavailable, "stock stream is not available", nil)
		return
	}

	changes, release := g.services.Stock.Subscribe()
	defer release()

	inventoryID := c.Query("inventory_id")
	c.Header("Cache-Control", "no-cache")
	c.Header("X-Accel-Buffering", "no")

	c.Stream(func(w io.Writer) bool {
		select {
		case <-c.Request.Context().Done():
			return false
		case <-g.closing:
			return false
		case change, open := <-changes:
			if !open {
				return false
			}
			if inventoryID != "" && change.InventoryID != inventoryID {
				return true
			}
			c.SSEvent("stock", change)
			return true
		}
	})
}
