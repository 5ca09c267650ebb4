package models

import (
	"errors"
	"time"
)

type PaymentMethod string

const (
	PaymentMethodCreditCard     PaymentMethod = "CreditCard"
	PaymentMethodDebitCard      PaymentMethod = "DebitCard"
	PaymentMethodBankTransfer   PaymentMethod = "BankTransfer"
	PaymentMethodACH            PaymentMethod = "ACH"
	PaymentMethodSEPA           PaymentMethod = "SEPA"
	PaymentMethodPaypal         PaymentMethod = "Paypal"
	PaymentMethodApplePay       PaymentMethod = "ApplePay"
	PaymentMethodGooglePay      PaymentMethod = "GooglePay"
	PaymentMethodUPI            PaymentMethod = "UPI"
	PaymentMethodAlipay         PaymentMethod = "Alipay"
	PaymentMethodWeChatPay      PaymentMethod = "WeChatPay"
	PaymentMethodMobileMoney    PaymentMethod = "MobileMoney"
	PaymentMethodCashOnDelivery PaymentMethod = "CashOnDelivery"
	PaymentMethodCrypto         PaymentMethod = "Crypto"
	PaymentMethodGiftCard       PaymentMethod = "GiftCard"
	PaymentMethodBuyNowPayLater PaymentMethod = "BuyNowPayLater"
	PaymentMethodStoreCredit    PaymentMethod = "StoreCredit"
	PaymentMethodStripe         PaymentMethod = "Stripe"
	PaymentMethodOther          PaymentMethod = "Other"
)

var validPaymentMethods = map[PaymentMethod]struct{}{
	PaymentMethodCreditCard:     {},
	PaymentMethodDebitCard:      {},
	PaymentMethodBankTransfer:   {},
	PaymentMethodACH:            {},
	PaymentMethodSEPA:           {},
	PaymentMethodPaypal:         {},
	PaymentMethodApplePay:       {},
	PaymentMethodGooglePay:      {},
	PaymentMethodUPI:            {},
	PaymentMethodAlipay:         {},
	PaymentMethodWeChatPay:      {},
	PaymentMethodMobileMoney:    {},
	PaymentMethodCashOnDelivery: {},
	PaymentMethodCrypto:         {},
	PaymentMethodGiftCard:       {},
	PaymentMethodBuyNowPayLater: {},
	PaymentMethodStoreCredit:    {},
	PaymentMethodStripe:         {},
	PaymentMethodOther:          {},
}

func ToPaymentMethod(s string) (PaymentMethod, error) {
	method := PaymentMethod(s)
	if _, ok := validPaymentMethods[method]; ok {
		return method, nil
	}

	return "", errors.New("invalid payment method")
}

type PaymentStatus string

const (
	PaymentStatusPending    PaymentStatus = "Pending"
	PaymentStatusAuthorized PaymentStatus = "Authorized"
	PaymentStatusCompleted  PaymentStatus = "Completed"
	PaymentStatusFailed     PaymentStatus = "Failed"
	PaymentStatusRefunded   PaymentStatus = "Refunded"
	PaymentStatusCancelled  PaymentStatus = "Cancelled"
	PaymentStatusVoided     PaymentStatus = "Voided"
)

var validPaymentStatuses = map[PaymentStatus]struct{}{
	PaymentStatusPending:    {},
	PaymentStatusAuthorized: {},
	PaymentStatusCompleted:  {},
	PaymentStatusFailed:     {},
	PaymentStatusRefunded:   {},
	PaymentStatusCancelled:  {},
	PaymentStatusVoided:     {},
}

var paymentTransitions = map[PaymentStatus][]PaymentStatus{
	PaymentStatusPending:    {PaymentStatusAuthorized, PaymentStatusCompleted, PaymentStatusFailed, PaymentStatusCancelled},
	PaymentStatusAuthorized: {PaymentStatusCompleted, PaymentStatusVoided, PaymentStatusFailed, PaymentStatusCancelled},
	PaymentStatusCompleted:  {PaymentStatusRefunded},
	PaymentStatusFailed:     {PaymentStatusPending},
}

func ToPaymentStatus(s string) (PaymentStatus, error) {
	status := PaymentStatus(s)
	if _, ok := validPaymentStatuses[status]; ok {
		return status, nil
	}

	return "", errors.New("invalid payment status")
}

func (s PaymentStatus) CanTransitionTo(next PaymentStatus) bool {
	if s == next {
		return true
	}
	for _, allowed := range paymentTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

type Payment struct {
	ID                uint64          `gorm:"primaryKey;autoIncrement:false" json:"id,string"`
	OrderID           *uint64         `gorm:"index" json:"order_id,string,omitempty"`
	UserID            *string         `gorm:"type:varchar(36);index" json:"user_id,omitempty"`
	Method            PaymentMethod   `gorm:"type:varchar(32);not null" json:"method"`
	Status            PaymentStatus   `gorm:"type:varchar(20);not null;index" json:"status"`
	Amount            Amount          `gorm:"not null" json:"amount"`
	Currency          string          `gorm:"type:varchar(10);not null" json:"currency"`
	TransactionID     *string         `gorm:"type:varchar(255);index" json:"transaction_id,omitempty"`
	GatewayResponse   *string         `gorm:"type:text" json:"gateway_response,omitempty"`
	RefundedAmount    Amount          `gorm:"not null" json:"refunded_amount"`
	ParentPaymentID   *uint64         `gorm:"index" json:"parent_payment_id,string,omitempty"`
	CheckoutSessionID *string         `gorm:"type:varchar(255);index" json:"checkout_session_id,omitempty"`
	PaymentIntentID   *string         `gorm:"type:varchar(255);index" json:"payment_intent_id,omitempty"`
	CreatedAt         time.Time       `gorm:"index" json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

func (Payment) TableName() string {
	return "payments"
}
