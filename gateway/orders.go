package gateway

import (
	"github.com/example/storefront/pkg/service"
	"github.com/gin-gonic/gin"
)

func (g *Gateway) createOrder(c *gin.Context) {
	var in service.CreateOrderInput
	if !g.bindJSON(c, &in) {
		return
	}
	order, err := g.services.Orders.Create(c.Request.Context(), in)
	if err != nil {
		g.fail(c, err)
		return
	}
	created(c, "Order created successfully", order)
}

func (g *Gateway) listOrders(c *gin.Context) {
	var filter service.OrderFilter
	if !g.bindQuery(c, &filter) {
		return
	}
	orders, err := g.services.Orders.List(c.Request.Context(), filter)
	if err != nil {
		g.fail(c, err)
		return
	}
	ok(c, "Orders retrieved successfully", orders)
}

func (g *Gateway) getOrder(c *gin.Context) {
	id, valid := g.uintParam(c, "id")
	if !valid {
		return
	}
	order, err := g.services.Orders.Get(c.Request.Context(), id)
	if err != nil {
		g.fail(c, err)
		return
	}
	ok(c, "Order retrieved successfully", order)
}

func (g *Gateway) updateOrder(c *gin.Context) {
	id, valid := g.uintParam(c, "id")
	if !valid {
		return
	}
	var patch service.OrderPatch
	if !g.bindJSON(c, &patch) {
		return
	}
	order, err := g.services.Orders.Update(c.Request.Context(), id, patch)
	if err != nil {
		g.fail(c, err)
		return
	}
	ok(c, "Order updated successfully", order)
}

func (g *Gateway) deleteOrder(c *gin.Context) {
	id, valid := g.uintParam(c, "id")
	if !valid {
		return
	}
	if err := g.services.Orders.Delete(c.Request.Context(), id); err != nil {
		g.fail(c, err)
		return
	}
	ok(c, "Order deleted successfully", nil)
}

func (g *Gateway) addOrderItem(c *gin.Context) {
	id, valid := g.uintParam(c, "id")
	if !valid {
		return
	}
	var in service.OrderItemInput
	if !g.bindJSON(c, &in) {
		return
	}
	item, err := g.services.Orders.AddItem(c.Request.Context(), id, in)
	if err != nil {
		g.fail(c, err)
		return
	}
	created(c, "Order item created successfully", item)
}

func (g *Gateway) listOrderItems(c *gin.Context) {
	id, valid := g.uintParam(c, "id")
	if !valid {
		return
	}
	var filter service.OrderItemFilter
	if !g.bindQuery(c, &filter) {
		return
	}
	filter.OrderID = id
	items, err := g.services.Orders.ListItems(c.Request.Context(), filter)
	if err != nil {
		g.fail(c, err)
		return
	}
	ok(c, "Order items retrieved successfully", items)
}

func (g *Gateway) getOrderItem(c *gin.Context) {
	id, valid := g.uintParam(c, "item_id")
	if !valid {
		return
	}
	item, err := g.services.Orders.GetItem(c.Request.Context(), id)
	if err != nil {
		g.fail(c, err)
		return
	}
	ok(c, "Order item retrieved successfully", item)
}

func (g *Gateway) updateOrderItem(c *gin.Context) {
	id, valid := g.uintParam(c, "item_id")
	if !valid {
		return
	}
	var patch service.OrderItemPatch
	if !g.bindJSON(c, &patch) {
		return
	}
	item, err := g.services.Orders.UpdateItem(c.Request.Context(), id, patch)
	if err != nil {
		g.fail(c, err)
		return
	}
	ok(c, "Order item updated successfully", item)
}

func (g *Gateway) deleteOrderItem(c *gin.Context) {
	id, valid := g.uintParam(c, "item_id")
	if !valid {
		return
	}
	if err := g.services.Orders.DeleteItem(c.Request.Context(), id); err != nil {
		g.fail(c, err)
		return
	}
	ok(c, "Order item deleted successfully", nil)
}
