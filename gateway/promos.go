package gateway

import (
	"time"

	"github.com/example/storefront/pkg/service"
	"github.com/gin-gonic/gin"
)

func (g *Gateway) createPromoCode(c *gin.Context) {
	var in service.PromoCodeInput
	if !g.bindJSON(c, &in) {
		return
	}
	promo, err := g.services.Promos.CreatePromoCode(c.Request.Context(), in)
	if err != nil {
		g.fail(c, err)
		return
	}
	created(c, "Promo code created successfully", promo)
}

func (g *Gateway) getPromoCode(c *gin.Context) {
	promo, err := g.services.Promos.GetPromoCode(c.Request.Context(), c.Param("id"))
	if err != nil {
		g.fail(c, err)
		return
	}
	ok(c, "Promo code retrieved successfully", promo)
}

func (g *Gateway) redeemPromoCode(c *gin.Context) {
	promo, err := g.services.Promos.Redeemable(c.Request.Context(), c.Param("code"), time.Now())
	if err != nil {
		g.fail(c, err)
		return
	}
	ok(c, "Promo code is valid", promo)
}

func (g *Gateway) listPromoCodes(c *gin.Context) {
	var filter service.PromoCodeFilter
	if !g.bindQuery(c, &filter) {
		return
	}
	promos, err := g.services.Promos.ListPromoCodes(c.Request.Context(), filter)
	if err != nil {
		g.fail(c, err)
		return
	}
	ok(c, "Promo codes retrieved successfully", promos)
}

func (g *Gateway) updatePromoCode(c *gin.Context) {
	var patch service.PromoCodePatch
	if !g.bindJSON(c, &patch) {
		return
	}
	promo, err := g.services.Promos.UpdatePromoCode(c.Request.Context(), c.Param("id"), patch)
	if err != nil {
		g.fail(c, err)
		return
	}
	ok(c, "Promo code updated successfully", promo)
}

func (g *Gateway) deletePromoCode(c *gin.Context) {
	if err := g.services.Promos.DeletePromoCode(c.Request.Context(), c.Param("id")); err != nil {
		g.fail(c, err)
		return
	}
	ok(c, "Promo code deleted successfully", nil)
}

// Currencies.

func (g *Gateway) createCurrency(c *gin.Context) {
	var in service.CurrencyInput
	if !g.bindJSON(c, &in) {
		return
	}
	currency, err := g.services.Promos.CreateCurrency(c.Request.Context(), in)
	if err != nil {
		g.fail(c, err)
		return
	}
	created(c, "Currency created successfully", currency)
}

func (g *Gateway) getCurrency(c *gin.Context) {
	currency, err := g.services.Promos.GetCurrency(c.Request.Context(), c.Param("id"))
	if err != nil {
		g.fail(c, err)
		return
	}
	ok(c, "Currency retrieved successfully", currency)
}

func (g *Gateway) listCurrencies(c *gin.Context) {
	var filter service.NameFilter
	if !g.bindQuery(c, &filter) {
		return
	}
	currencies, err := g.services.Promos.ListCurrencies(c.Request.Context(), filter)
	if err != nil {
		g.fail(c, err)
		return
	}
	ok(c, "Currencies retrieved successfully", currencies)
}

func (g *Gateway) updateCurrency(c *gin.Context) {
	var patch service.CurrencyPatch
	if !g.bindJSON(c, &patch) {
		return
	}
	currency, err := g.services.Promos.UpdateCurrency(c.Request.Context(), c.Param("id"), patch)
	if err != nil {
		g.fail(c, err)
		return
	}
	ok(c, "Currency updated successfully", currency)
}

func (g *Gateway) deleteCurrency(c *gin.Context) {
	if err := g.services.Promos.DeleteCurrency(c.Request.Context(), c.Param("id")); err != nil {
		g.fail(c, err)
		return
	}
	ok(c, "Currency deleted successfully", nil)
}
