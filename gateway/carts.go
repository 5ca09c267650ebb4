package gateway

import (
	"github.com/example/storefront/pkg/service"
	"github.com/gin-gonic/gin"
)

// cartOwner prefers the authenticated user and falls back to the client ip.
func cartOwner(c *gin.Context) service.CartOwner {
	if user := currentUser(c); user != nil {
		return service.CartOwner{UserID: user.ID, IPAddress: c.ClientIP()}
	}
	return service.CartOwner{IPAddress: c.ClientIP()}
}

func (g *Gateway) getCart(c *gin.Context) {
	cart, err := g.services.Carts.GetByUserOrIP(c.Request.Context(), cartOwner(c))
	if err != nil {
		g.fail(c, err)
		return
	}
	ok(c, "Cart retrieved successfully", cart)
}

func (g *Gateway) getCartByID(c *gin.Context) {
	cart, err := g.services.Carts.GetByID(c.Request.Context(), c.Param("id"))
	if err != nil {
		g.fail(c, err)
		return
	}
	ok(c, "Cart retrieved successfully", cart)
}

func (g *Gateway) createCart(c *gin.Context) {
	cart, err := g.services.Carts.Create(c.Request.Context(), cartOwner(c))
	if err != nil {
		g.fail(c, err)
		return
	}
	created(c, "Cart created successfully", cart)
}

func (g *Gateway) addCartItem(c *gin.Context) {
	var in service.CartItemInput
	if !g.bindJSON(c, &in) {
		return
	}
	cart, err := g.services.Carts.AddItem(c.Request.Context(), c.Param("id"), in)
	if err != nil {
		g.fail(c, err)
		return
	}
	ok(c, "Item added to cart successfully", cart)
}

func (g *Gateway) removeCartItem(c *gin.Context) {
	if err := g.services.Carts.RemoveItem(c.Request.Context(), c.Param("item_id")); err != nil {
		g.fail(c, err)
		return
	}
	ok(c, "Item removed from cart successfully", nil)
}

func (g *Gateway) clearCart(c *gin.Context) {
	if err := g.services.Carts.Clear(c.Request.Context(), c.Param("id")); err != nil {
		g.fail(c, err)
		return
	}
	ok(c, "Cart cleared successfully", nil)
}

func (g *Gateway) deleteCart(c *gin.Context) {
	if err := g.services.Carts.Delete(c.Request.Context(), c.Param("id")); err != nil {
		g.fail(c, err)
		return
	}
	ok(c, "Cart deleted successfully", nil)
}
