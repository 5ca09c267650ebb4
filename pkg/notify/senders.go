package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/example/storefront/pkg/config"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"gopkg.in/gomail.v2"
)

// EmailSender delivers over SMTP. A send cannot be cancelled once started, so a
// retry of a message whose attempt is still running waits for that attempt.
type EmailSender struct {
	send func(...*gomail.Message) error
	from string

	mu       sync.Mutex
	inflight map[string]*emailCall
}

type emailCall struct {
	done    chan struct{}
	err     error
	waiting int
}

// deliveredTTL bounds how long a success nobody waited for is remembered.
const deliveredTTL = 10 * time.Minute

func NewEmailSender(cfg config.SMTPConfig) *EmailSender {
	dialer := gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password)
	return newEmailSender(cfg.From, dialer.DialAndSend)
}

func newEmailSender(from string, send func(...*gomail.Message) error) *EmailSender {
	return &EmailSender{send: send, from: from, inflight: map[string]*emailCall{}}
}

func (s *EmailSender) Send(ctx context.Context, n Notification) error {
	key := n.Recipient + "\x00" + n.Subject + "\x00" + n.Body

	s.mu.Lock()
	c, ok := s.inflight[key]
	if !ok {
		c = &emailCall{done: make(chan struct{})}
		s.inflight[key] = c
		go s.deliver(key, c, s.message(n))
	}
	c.waiting++
	s.mu.Unlock()

	select {
	case <-c.done:
		s.mu.Lock()
		c.waiting--
		s.forget(key, c)
		s.mu.Unlock()
		if c.err != nil {
			return fmt.Errorf("smtp send: %w", c.err)
		}
		return nil
	case <-ctx.Done():
		s.mu.Lock()
		c.waiting--
		s.mu.Unlock()
		return ctx.Err()
	}
}

func (s *EmailSender) message(n Notification) *gomail.Message {
	m := gomail.NewMessage()
	m.SetHeader("From", s.from)
	m.SetHeader("To", n.Recipient)
	m.SetHeader("Subject", n.Subject)
	m.SetBody("text/html", n.Body)
	return m
}

// deliver runs one SMTP attempt. A failed attempt with no waiter is dropped so
// the next retry sends again; a success is kept so the retry reports it.
func (s *EmailSender) deliver(key string, c *emailCall, m *gomail.Message) {
	err := s.send(m)

	s.mu.Lock()
	defer s.mu.Unlock()
	c.err = err
	close(c.done)

	if c.waiting > 0 {
		return
	}
	if err != nil {
		s.forget(key, c)
		return
	}
	time.AfterFunc(deliveredTTL, func() {
		s.mu.Lock()
		s.forget(key, c)
		s.mu.Unlock()
	})
}

// forget must be called with s.mu held.
func (s *EmailSender) forget(key string, c *emailCall) {
	if s.inflight[key] == c {
		delete(s.inflight, key)
	}
}

// jsonPoster posts JSON bodies and treats any non-2xx answer as a failure.
type jsonPoster struct {
	client *http.Client
}

func newJSONPoster() jsonPoster {
	return jsonPoster{client: &http.Client{Timeout: 30 * time.Second}}
}

func (p jsonPoster) post(ctx context.Context, url string, headers map[string]string, body any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%s returned %d: %s", url, resp.StatusCode, bytes.TrimSpace(msg))
	}
	return nil
}

// TelegramSender uses the Bot API sendMessage method. Recipient is a numeric
// chat id or an @channel username.
type TelegramSender struct {
	token    string
	endpoint string
	client   *http.Client
}

func NewTelegramSender(token string) *TelegramSender {
	return &TelegramSender{
		token:    token,
		endpoint: tgbotapi.APIEndpoint,
		client:   &http.Client{Timeout: 30 * time.Second},
	}
}

// bot is built per send so requests carry ctx. NewBotAPI is not used since it
// calls getMe before returning.
func (s *TelegramSender) bot(ctx context.Context) *tgbotapi.BotAPI {
	bot := &tgbotapi.BotAPI{Token: s.token, Client: contextClient{ctx: ctx, client: s.client}}
	bot.SetAPIEndpoint(s.endpoint)
	return bot
}

func (s *TelegramSender) Send(ctx context.Context, n Notification) error {
	text := n.Subject + "\n\n" + n.Body

	var msg tgbotapi.MessageConfig
	if chatID, err := strconv.ParseInt(n.Recipient, 10, 64); err == nil {
		msg = tgbotapi.NewMessage(chatID, text)
	} else {
		msg = tgbotapi.NewMessageToChannel(n.Recipient, text)
	}
	msg.ParseMode = tgbotapi.ModeHTML

	if _, err := s.bot(ctx).Send(msg); err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	return nil
}

type contextClient struct {
	ctx    context.Context
	client *http.Client
}

func (c contextClient) Do(req *http.Request) (*http.Response, error) {
	return c.client.Do(req.WithContext(c.ctx))
}

// WhatsAppSender uses the Cloud API messages endpoint. Recipient is a phone number.
type WhatsAppSender struct {
	poster jsonPoster
	url    string
	token  string
}

func NewWhatsAppSender(cfg config.WhatsAppConfig) *WhatsAppSender {
	return &WhatsAppSender{
		poster: newJSONPoster(),
		url:    fmt.Sprintf("https://graph.facebook.com/v17.0/%s/messages", cfg.PhoneID),
		token:  cfg.Token,
	}
}

func (s *WhatsAppSender) Send(ctx context.Context, n Notification) error {
	return s.poster.post(ctx, s.url, map[string]string{"Authorization": "Bearer " + s.token}, map[string]any{
		"messaging_product": "whatsapp",
		"to":                n.Recipient,
		"type":              "text",
		"text":              map[string]string{"body": n.Subject + "\n\n" + n.Body},
	})
}

// WebhookSender forwards SMS and push notifications to a provider webhook.
type WebhookSender struct {
	poster jsonPoster
	url    string
}

func NewWebhookSender(url string) *WebhookSender {
	return &WebhookSender{poster: newJSONPoster(), url: url}
}

func (s *WebhookSender) Send(ctx context.Context, n Notification) error {
	return s.poster.post(ctx, s.url, nil, map[string]string{
		"channel":   string(n.Channel),
		"kind":      string(n.Kind),
		"recipient": n.Recipient,
		"subject":   n.Subject,
		"body":      n.Body,
	})
}

// SendersFromConfig builds a sender for every channel that has credentials.
func SendersFromConfig(cfg config.NotificationConfig) map[Channel]Sender {
	senders := map[Channel]Sender{}
	if cfg.SMTP.Host != "" {
		senders[ChannelEmail] = NewEmailSender(cfg.SMTP)
	}
	if cfg.Telegram.Token != "" {
		senders[ChannelTelegram] = NewTelegramSender(cfg.Telegram.Token)
	}
	if cfg.WhatsApp.Token != "" {
		senders[ChannelWhatsApp] = NewWhatsAppSender(cfg.WhatsApp)
	}
	if cfg.SMSWebhook != "" {
		senders[ChannelSMS] = NewWebhookSender(cfg.SMSWebhook)
	}
	if cfg.PushWebhook != "" {
		senders[ChannelPush] = NewWebhookSender(cfg.PushWebhook)
	}
	return senders
}
