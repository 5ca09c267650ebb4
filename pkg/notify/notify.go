package notify

import (
	"context"
	"errors"
)

type Channel string

const (
	ChannelEmail    Channel = "email"
	ChannelSMS      Channel = "sms"
	ChannelPush     Channel = "push"
	ChannelTelegram Channel = "telegram"
	ChannelWhatsApp Channel = "whatsapp"
)

type Kind string

const (
	KindActivation        Kind = "activation"
	KindPasswordReset     Kind = "password_reset"
	KindEmailChange       Kind = "email_change"
	KindOrderConfirmation Kind = "order_confirmation"
	KindBackInStock       Kind = "back_in_stock"
)

type Notification struct {
	Channel   Channel
	Kind      Kind
	Recipient string
	Subject   string
	Body      string
}

// Sender delivers a notification over one channel.
type Sender interface {
	Send(ctx context.Context, n Notification) error
}

type SenderFunc func(ctx context.Context, n Notification) error

func (f SenderFunc) Send(ctx context.Context, n Notification) error {
	return f(ctx, n)
}

var ErrNoRecipient = errors.New("notification has no recipient")
