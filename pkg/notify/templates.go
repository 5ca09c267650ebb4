package notify

import (
	"bytes"
	"fmt"
	"html/template"
)

var templates = map[Kind]struct {
	subject string
	body    *template.Template
}{
	KindActivation: {
		subject: "Verify your email",
		body:    template.Must(template.New("activation").Parse(`<p>Hello {{.Name}},</p><p>Your verification code is <b>{{.Code}}</b>. It expires in 10 minutes.</p>`)),
	},
	KindPasswordReset: {
		subject: "Password reset",
		body:    template.Must(template.New("password_reset").Parse(`<p>Hello {{.Name}},</p><p>Use <b>{{.Code}}</b> to reset your password. If you did not ask for a reset, ignore this message.</p>`)),
	},
	KindEmailChange: {
		subject: "Confirm your new email",
		body:    template.Must(template.New("email_change").Parse(`<p>Hello {{.Name}},</p><p>Confirm the change with code <b>{{.Code}}</b>.</p>`)),
	},
	KindOrderConfirmation: {
		subject: "Order confirmation",
		body:    template.Must(template.New("order_confirmation").Parse(`<p>Hello {{.Name}},</p><p>We received order <b>{{.OrderID}}</b> for {{.Total}} {{.Currency}}.</p>`)),
	},
	KindBackInStock: {
		subject: "Back in stock",
		body:    template.Must(template.New("back_in_stock").Parse(`<p>{{.Product}} is available again.</p>`)),
	},
}

// Render fills the subject and body of a notification of the given kind.
func Render(channel Channel, kind Kind, recipient string, data map[string]any) (Notification, error) {
	tmpl, ok := templates[kind]
	if !ok {
		return Notification{}, fmt.Errorf("unknown notification kind %q", kind)
	}

	var body bytes.Buffer
	if err := tmpl.body.Execute(&body, data); err != nil {
		return Notification{}, fmt.Errorf("render %s: %w", kind, err)
	}

	return Notification{
		Channel:   channel,
		Kind:      kind,
		Recipient: recipient,
		Subject:   tmpl.subject,
		Body:      body.String(),
	}, nil
}
