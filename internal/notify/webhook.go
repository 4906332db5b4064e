// Package notify posts plain-text reports to a chat webhook and suppresses
// duplicate daily notifications.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-resty/resty/v2"

	appconfig "marketflow/config"
	"marketflow/internal/metrics"
	"marketflow/internal/provider"
	"marketflow/logger"
)

var (
	// ErrNotificationFailed is returned when both the full and the fallback message failed.
	ErrNotificationFailed = errors.New("notification failed")
	// ErrNotifierDisabled is returned when notifications are off or no webhook is configured.
	ErrNotifierDisabled = errors.New("notifier disabled")
)

// fallbackLimit bounds the simplified message in runes.
const fallbackLimit = 1000

type textMessage struct {
	MsgType string `json:"msgtype"`
	Text    struct {
		Content string `json:"content"`
	} `json:"text"`
}

type webhookReply struct {
	ErrCode int    `json:"errcode"`
	ErrMsg  string `json:"errmsg"`
}

// Webhook sends messages to a group-robot style webhook.
type Webhook struct {
	client  *resty.Client
	url     string
	title   string
	enabled bool
	log     *logger.Log
}

func NewWebhook(cfg appconfig.NotifyConfig) *Webhook {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Webhook{
		client: resty.New().
			SetTimeout(timeout).
			SetHeader("Content-Type", "application/json").
			SetHeader("User-Agent", provider.BrowserUserAgent),
		url:     cfg.WebhookURL,
		title:   cfg.Title,
		enabled: cfg.Enabled && cfg.WebhookURL != "",
		log:     logger.GetLogger(),
	}
}

func (w *Webhook) Enabled() bool {
	return w.enabled
}

// SendMessage posts text once. A transport error, non-2xx status or
// non-zero errcode counts as failure.
func (w *Webhook) SendMessage(ctx context.Context, text string) bool {
	if !w.enabled {
		return false
	}
	log := w.log.WithComponent("notify")

	var msg textMessage
	msg.MsgType = "text"
	msg.Text.Content = text

	resp, err := w.client.R().SetContext(ctx).SetBody(msg).Post(w.url)
	if err != nil {
		log.WithError(err).Warn("webhook request failed")
		return false
	}
	if resp.IsError() || resp.StatusCode() < 200 || resp.StatusCode() > 299 {
		log.WithFields(logger.Fields{"status": resp.StatusCode()}).Warn("webhook returned non-2xx status")
		return false
	}

	var reply webhookReply
	if body := resp.Body(); len(body) > 0 {
		if err := json.Unmarshal(body, &reply); err != nil {
			log.WithError(err).Warn("webhook reply is not JSON")
			return false
		}
	}
	if reply.ErrCode != 0 {
		log.WithFields(logger.Fields{"errcode": reply.ErrCode, "errmsg": reply.ErrMsg}).Warn("webhook rejected message")
		return false
	}
	return true
}

// Notify sends text and, if that fails, a simplified plain-text version.
// It never panics; a final failure is logged and returned.
func (w *Webhook) Notify(ctx context.Context, text string) error {
	if !w.enabled {
		w.log.WithComponent("notify").Debug("notifications disabled; message dropped")
		return ErrNotifierDisabled
	}

	if w.SendMessage(ctx, text) {
		metrics.EmitMetric(w.log, "notify", metrics.MetricNotifySent, 1, "counter", nil)
		return nil
	}
	if w.SendMessage(ctx, Simplify(w.title, text)) {
		metrics.EmitMetric(w.log, "notify", metrics.MetricNotifySent, 1, "counter", logger.Fields{"fallback": "true"})
		return nil
	}

	metrics.EmitMetric(w.log, "notify", metrics.MetricNotifyFailed, 1, "counter", nil)
	w.log.WithComponent("notify").WithFields(logger.Fields{"length": len(text)}).Error("notification failed after fallback")
	return ErrNotificationFailed
}

// Simplify strips markdown decoration, prefixes a header and truncates to
// fallbackLimit runes.
func Simplify(title, text string) string {
	replacer := strings.NewReplacer("**", "", "`", "", "> ", "", "#", "")
	lines := strings.Split(replacer.Replace(text), "\n")
	kept := lines[:0]
	for _, l := range lines {
		if l = strings.TrimSpace(l); l != "" {
			kept = append(kept, l)
		}
	}
	body := strings.Join(kept, "\n")
	if utf8.RuneCountInString(body) > fallbackLimit {
		body = string([]rune(body)[:fallbackLimit]) + "..."
	}
	if title == "" {
		title = "MarketFlow"
	}
	return fmt.Sprintf("[%s] (simplified)\n%s", title, body)
}
