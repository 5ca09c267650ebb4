package gateway

import (
	"net/http"

	"github.com/example/storefront/pkg/service"
	"github.com/gin-gonic/gin"
)

func (g *Gateway) createPayment(c *gin.Context) {
	var in service.CreatePaymentInput
	if !g.bindJSON(c, &in) {
		return
	}
	p, err := g.services.Payments.Create(c.Request.Context(), in)
	if err != nil {
		g.fail(c, err)
		return
	}
	created(c, "Payment created successfully", p)
}

func (g *Gateway) listPayments(c *gin.Context) {
	var filter service.PaymentFilter
	if !g.bindQuery(c, &filter) {
		return
	}
	payments, err := g.services.Payments.List(c.Request.Context(), filter)
	if err != nil {
		g.fail(c, err)
		return
	}
	ok(c, "Payments retrieved successfully", payments)
}

func (g *Gateway) getPayment(c *gin.Context) {
	id, valid := g.uintParam(c, "id")
	if !valid {
		return
	}
	p, err := g.services.Payments.Get(c.Request.Context(), id)
	if err != nil {
		g.fail(c, err)
		return
	}
	ok(c, "Payment retrieved successfully", p)
}

func (g *Gateway) updatePayment(c *gin.Context) {
	id, valid := g.uintParam(c, "id")
	if !valid {
		return
	}
	var patch service.PaymentPatch
	if !g.bindJSON(c, &patch) {
		return
	}
	p, err := g.services.Payments.Update(c.Request.Context(), id, patch)
	if err != nil {
		g.fail(c, err)
		return
	}
	ok(c, "Payment updated successfully", p)
}

func (g *Gateway) deletePayment(c *gin.Context) {
	id, valid := g.uintParam(c, "id")
	if !valid {
		return
	}
	if err := g.services.Payments.Delete(c.Request.Context(), id); err != nil {
		g.fail(c, err)
		return
	}
	ok(c, "Payment deleted successfully", nil)
}

func (g *Gateway) createCheckoutSession(c *gin.Context) {
	var in service.CheckoutInput
	if !g.bindJSON(c, &in) {
		return
	}
	result, err := g.services.Payments.CreateCheckoutSession(c.Request.Context(), in)
	if err != nil {
		g.fail(c, err)
		return
	}
	created(c, "Checkout session created successfully", result)
}

// stripeWebhook needs the untouched body for signature verification.
func (g *Gateway) stripeWebhook(c *gin.Context) {
	payload, err := c.GetRawData()
	if err != nil {
		abort(c, http.StatusBadRequest, "could not read request body", nil)
		return
	}
	if err := g.services.Payments.HandleWebhook(c.Request.Context(), payload, c.GetHeader("Stripe-Signature")); err != nil {
		g.fail(c, err)
		return
	}
	ok(c, "Webhook processed", nil)
}
