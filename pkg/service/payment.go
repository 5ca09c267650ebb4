package service

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/example/storefront/pkg/models"
	"github.com/example/storefront/pkg/payment"
	"github.com/example/storefront/pkg/repository"
	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type CreatePaymentInput struct {
	OrderID         *uint64               `json:"order_id,string"`
	UserID          *string               `json:"user_id"`
	Method          models.PaymentMethod  `json:"method" binding:"required"`
	Status          *models.PaymentStatus `json:"status"`
	Amount          decimal.Decimal       `json:"amount"`
	Currency        string                `json:"currency"`
	TransactionID   *string               `json:"transaction_id"`
	GatewayResponse *string               `json:"gateway_response"`
	ParentPaymentID *uint64               `json:"parent_payment_id,string"`
}

type PaymentPatch struct {
	Status          *models.PaymentStatus `json:"status"`
	TransactionID   *string               `json:"transaction_id"`
	GatewayResponse *string               `json:"gateway_response"`
	RefundedAmount  *decimal.Decimal      `json:"refunded_amount"`

	paymentIntentID string
}

type PaymentFilter struct {
	OrderID         *uint64          `form:"order_id"`
	UserID          string           `form:"user_id"`
	Method          string           `form:"method"`
	Status          string           `form:"status"`
	Amount          *decimal.Decimal `form:"amount"`
	Currency        string           `form:"currency"`
	TransactionID   string           `form:"transaction_id"`
	ParentPaymentID *uint64          `form:"parent_payment_id"`
	CreatedAfter    *time.Time       `form:"created_after"`
	CreatedBefore   *time.Time       `form:"created_before"`
	Pagination
}

type CheckoutInput struct {
	OrderID       uint64 `json:"order_id,string" binding:"required"`
	CustomerEmail string `json:"customer_email" binding:"omitempty,email"`
	SuccessURL    string `json:"success_url"`
	CancelURL     string `json:"cancel_url"`
}

type CheckoutResult struct {
	SessionID string          `json:"session_id"`
	URL       string          `json:"url"`
	Payment   *models.Payment `json:"payment"`
}

type PaymentService struct {
	Deps
	gateway    payment.Gateway
	successURL string
	cancelURL  string
	strict     bool
	logger     *zap.Logger
}

type PaymentOptions struct {
	StrictTransitions bool
	// Gateway may be nil, checkout and webhooks are then rejected.
	Gateway    payment.Gateway
	SuccessURL string
	CancelURL  string
}

func NewPaymentService(deps Deps, opts PaymentOptions) *PaymentService {
	return &PaymentService{
		Deps:       deps,
		gateway:    opts.Gateway,
		successURL: opts.SuccessURL,
		cancelURL:  opts.CancelURL,
		strict:     opts.StrictTransitions,
		logger:     deps.named("payment-service"),
	}
}

func paymentKey(id uint64) string {
	return strconv.FormatUint(id, 10)
}

func (s *PaymentService) Create(ctx context.Context, in CreatePaymentInput) (*models.Payment, error) {
	var v validation
	method, err := models.ToPaymentMethod(string(in.Method))
	if err != nil {
		v.add(err.Error(), "method")
	}
	status := models.PaymentStatusPending
	if in.Status != nil {
		st, err := models.ToPaymentStatus(string(*in.Status))
		if err != nil {
			v.add(err.Error(), "status")
		}
		status = st
	}
	if !in.Amount.IsPositive() {
		v.add("amount must be greater than 0", "amount")
	}
	if err := v.err(); err != nil {
		return nil, err
	}

	id, err := s.IDs.NextID()
	if err != nil {
		return nil, fmt.Errorf("payment id: %w", err)
	}

	p, err := repository.WithTx(ctx, s.DB, func(tx *gorm.DB) (*models.Payment, error) {
		code, err := checkCurrency(tx, in.Currency, "currency")
		if err != nil {
			return nil, err
		}

		if in.OrderID != nil {
			if err := mustExist(tx, &models.Order{}, *in.OrderID); err != nil {
				return nil, conflictf("order %d does not exist", *in.OrderID)
			}
		}
		if in.ParentPaymentID != nil {
			if err := mustExist(tx, &models.Payment{}, *in.ParentPaymentID); err != nil {
				return nil, conflictf("parent payment %d does not exist", *in.ParentPaymentID)
			}
		}

		p := &models.Payment{
			ID:              id,
			OrderID:         in.OrderID,
			UserID:          in.UserID,
			Method:          method,
			Status:          status,
			Amount:          models.NewAmount(in.Amount),
			Currency:        code,
			TransactionID:   in.TransactionID,
			GatewayResponse: in.GatewayResponse,
			RefundedAmount:  models.NewAmount(decimal.Zero),
			ParentPaymentID: in.ParentPaymentID,
		}
		if err := tx.Create(p).Error; err != nil {
			return nil, fmt.Errorf("insert payment: %w", err)
		}
		return p, nil
	})
	if err != nil {
		return nil, err
	}

	s.audit("payment-service", "create_payment", paymentKey(p.ID), bson.M{
		"method": string(p.Method),
		"amount": p.Amount.String(),
	})
	return p, nil
}

func mustExist(tx *gorm.DB, model any, id any) error {
	var count int64
	if err := tx.Model(model).Where("id = ?", id).Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (s *PaymentService) Get(ctx context.Context, id uint64) (*models.Payment, error) {
	var p models.Payment
	if err := s.DB.WithContext(ctx).First(&p, "id = ?", id).Error; err != nil {
		return nil, translate(err, "payment")
	}
	return &p, nil
}

func (s *PaymentService) Update(ctx context.Context, id uint64, patch PaymentPatch) (*models.Payment, error) {
	return s.update(ctx, "id", id, patch)
}

// update applies patch to the payment whose column equals value.
func (s *PaymentService) update(ctx context.Context, column string, value any, patch PaymentPatch) (*models.Payment, error) {
	p, err := repository.WithTx(ctx, s.DB, func(tx *gorm.DB) (*models.Payment, error) {
		var current models.Payment
		if err := tx.Where(column+" = ?", value).First(&current).Error; err != nil {
			return nil, translate(err, "payment")
		}

		updates := map[string]interface{}{}

		if patch.Status != nil {
			next, err := models.ToPaymentStatus(string(*patch.Status))
			if err != nil {
				return nil, invalid(err.Error(), "status")
			}
			if s.strict && !current.Status.CanTransitionTo(next) {
				return nil, conflictf("cannot change payment status from %s to %s", current.Status, next)
			}
			updates["status"] = next
		}

		if patch.RefundedAmount != nil {
			r := *patch.RefundedAmount
			if r.IsNegative() || r.GreaterThan(current.Amount.Decimal) {
				return nil, invalid(fmt.Sprintf("refunded_amount must be between 0 and %s", current.Amount.String()), "refunded_amount")
			}
			updates["refunded_amount"] = models.NewAmount(r)
		}
		if patch.paymentIntentID != "" {
			updates["payment_intent_id"] = patch.paymentIntentID
		}
		if patch.TransactionID != nil {
			updates["transaction_id"] = *patch.TransactionID
		}
		if patch.GatewayResponse != nil {
			updates["gateway_response"] = *patch.GatewayResponse
		}

		if len(updates) > 0 {
			if err := tx.Model(&current).Updates(updates).Error; err != nil {
				return nil, fmt.Errorf("update payment: %w", err)
			}
		}

		var fresh models.Payment
		if err := tx.First(&fresh, "id = ?", current.ID).Error; err != nil {
			return nil, err
		}
		return &fresh, nil
	})
	if err != nil {
		return nil, err
	}

	s.audit("payment-service", "update_payment", paymentKey(p.ID), bson.M{
		"status":          string(p.Status),
		"refunded_amount": p.RefundedAmount.String(),
	})
	return p, nil
}

func (s *PaymentService) Delete(ctx context.Context, id uint64) error {
	res := s.DB.WithContext(ctx).Delete(&models.Payment{}, "id = ?", id)
	if res.Error != nil {
		return fmt.Errorf("delete payment: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return notFound("payment")
	}

	s.audit("payment-service", "delete_payment", paymentKey(id), nil)
	return nil
}

func (s *PaymentService) List(ctx context.Context, filter PaymentFilter) ([]models.Payment, error) {
	q := s.DB.WithContext(ctx).Model(&models.Payment{})

	if filter.OrderID != nil {
		q = q.Where("order_id = ?", *filter.OrderID)
	}
	if filter.UserID != "" {
		q = q.Where("user_id = ?", filter.UserID)
	}
	if filter.Method != "" {
		q = q.Where("method = ?", filter.Method)
	}
	if filter.Status != "" {
		q = q.Where("status = ?", filter.Status)
	}
	if filter.Amount != nil {
		q = q.Where("amount = ?", *filter.Amount)
	}
	if filter.Currency != "" {
		q = q.Where("currency = ?", filter.Currency)
	}
	if filter.TransactionID != "" {
		q = q.Where("transaction_id = ?", filter.TransactionID)
	}
	if filter.ParentPaymentID != nil {
		q = q.Where("parent_payment_id = ?", *filter.ParentPaymentID)
	}
	if filter.CreatedAfter != nil {
		q = q.Where("created_at >= ?", *filter.CreatedAfter)
	}
	if filter.CreatedBefore != nil {
		q = q.Where("created_at <= ?", *filter.CreatedBefore)
	}

	var payments []models.Payment
	if err := filter.Pagination.apply(q).Order("created_at DESC, id DESC").Find(&payments).Error; err != nil {
		return nil, fmt.Errorf("list payments: %w", err)
	}
	return payments, nil
}

// UpdateStatusBySessionID is used by gateway callbacks that only know the checkout session.
func (s *PaymentService) UpdateStatusBySessionID(ctx context.Context, sessionID string, status models.PaymentStatus, paymentIntentID string) (*models.Payment, error) {
	return s.update(ctx, "checkout_session_id", sessionID, PaymentPatch{Status: &status, paymentIntentID: paymentIntentID})
}

func (s *PaymentService) UpdateStatusByPaymentIntentID(ctx context.Context, intentID string, status models.PaymentStatus, refunded *decimal.Decimal) (*models.Payment, error) {
	return s.update(ctx, "payment_intent_id", intentID, PaymentPatch{Status: &status, RefundedAmount: refunded})
}

// applyRefund records a refund reported in minor units. The payment only moves
// to refunded once the whole amount is returned.
func (s *PaymentService) applyRefund(ctx context.Context, intentID string, minor int64) (*models.Payment, error) {
	var current models.Payment
	if err := s.DB.WithContext(ctx).First(&current, "payment_intent_id = ?", intentID).Error; err != nil {
		return nil, translate(err, "payment")
	}

	refunded := decimal.New(minor, -minorUnits(current.Currency))
	patch := PaymentPatch{RefundedAmount: &refunded}
	if !refunded.LessThan(current.Amount.Decimal) {
		status := models.PaymentStatusRefunded
		patch.Status = &status
	}
	return s.update(ctx, "payment_intent_id", intentID, patch)
}

// CreateCheckoutSession starts a hosted checkout for an order and records a pending payment for it.
func (s *PaymentService) CreateCheckoutSession(ctx context.Context, in CheckoutInput) (*CheckoutResult, error) {
	if s.gateway == nil {
		return nil, conflictf("payment gateway is not configured")
	}

	var order models.Order
	err := s.DB.WithContext(ctx).Preload("Items", preloadItems).First(&order, "id = ?", in.OrderID).Error
	if err != nil {
		return nil, translate(err, "order")
	}
	if len(order.Items) == 0 {
		return nil, conflictf("order %d has no items", order.ID)
	}

	req := payment.CheckoutRequest{
		Reference:     orderKey(order.ID),
		Currency:      order.Currency,
		CustomerEmail: in.CustomerEmail,
		SuccessURL:    firstNonEmpty(in.SuccessURL, s.successURL),
		CancelURL:     firstNonEmpty(in.CancelURL, s.cancelURL),
	}
	scale := minorUnits(order.Currency)
	for _, item := range order.Items {
		req.Items = append(req.Items, payment.LineItem{
			Name:       "Product " + item.ProductID,
			UnitAmount: item.PricePerUnit.Shift(scale).Round(0).IntPart(),
			Quantity:   int64(item.Quantity),
		})
	}

	session, err := s.gateway.CreateCheckoutSession(ctx, req)
	if err != nil {
		return nil, err
	}

	id, err := s.IDs.NextID()
	if err != nil {
		return nil, fmt.Errorf("payment id: %w", err)
	}
	userID := order.UserID
	p := &models.Payment{
		ID:                id,
		OrderID:           &order.ID,
		UserID:            &userID,
		Method:            models.PaymentMethodStripe,
		Status:            models.PaymentStatusPending,
		Amount:            models.NewAmount(order.TotalAmount),
		Currency:          order.Currency,
		RefundedAmount:    models.NewAmount(decimal.Zero),
		CheckoutSessionID: &session.ID,
	}
	if err := s.DB.WithContext(ctx).Create(p).Error; err != nil {
		return nil, fmt.Errorf("insert payment: %w", err)
	}

	s.logger.Info("Checkout session created",
		zap.Uint64("order_id", order.ID),
		zap.String("session_id", session.ID))
	return &CheckoutResult{SessionID: session.ID, URL: session.URL, Payment: p}, nil
}

var webhookStatuses = map[string]models.PaymentStatus{
	payment.EventCheckoutCompleted: models.PaymentStatusCompleted,
	payment.EventCheckoutExpired:   models.PaymentStatusCancelled,
	payment.EventPaymentSucceeded:  models.PaymentStatusCompleted,
	payment.EventPaymentFailed:     models.PaymentStatusFailed,
	payment.EventChargeRefunded:    models.PaymentStatusRefunded,
}

// HandleWebhook verifies a gateway callback and applies it. Events for unknown
// payments and out-of-order status changes are acknowledged and ignored.
func (s *PaymentService) HandleWebhook(ctx context.Context, payload []byte, signature string) error {
	if s.gateway == nil {
		return conflictf("payment gateway is not configured")
	}

	event, err := s.gateway.ParseWebhook(payload, signature)
	if err != nil {
		return invalid(err.Error(), "header", "Stripe-Signature")
	}

	status, ok := webhookStatuses[event.Type]
	if !ok {
		s.logger.Debug("Ignoring webhook event", zap.String("type", event.Type))
		return nil
	}

	switch event.Type {
	case payment.EventCheckoutCompleted, payment.EventCheckoutExpired:
		_, err = s.UpdateStatusBySessionID(ctx, event.SessionID, status, event.PaymentIntentID)
	case payment.EventChargeRefunded:
		_, err = s.applyRefund(ctx, event.PaymentIntentID, event.AmountRefunded)
	default:
		_, err = s.UpdateStatusByPaymentIntentID(ctx, event.PaymentIntentID, status, nil)
	}

	var verr *ValidationError
	switch {
	case err == nil:
		s.logger.Info("Webhook applied", zap.String("type", event.Type), zap.String("event_id", event.ID))
		return nil
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrConflict), errors.As(err, &verr):
		s.logger.Warn("Webhook ignored", zap.String("type", event.Type), zap.String("event_id", event.ID), zap.Error(err))
		return nil
	default:
		return err
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
