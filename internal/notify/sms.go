// Package notify sends trade notifications over SMS.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

const (
	smsAPIBase = "https://api.twilio.com/2010-04-01"
	// Provider limit minus headroom for the prefix lines.
	maxReasoningLen = 400
)

// Config holds SMS provider credentials and recipients.
type Config struct {
	AccountSID string
	AuthToken  string
	From       string
	To         []string
}

// SendResult is the outcome for one recipient.
type SendResult struct {
	To    string
	Err   error
	SID   string
	Queue string
}

// SMSNotifier fans trade alerts out to every configured recipient. A partial
// failure never fails the trade; workers log and move on.
type SMSNotifier struct {
	cfg        Config
	endpoint   string
	httpClient *http.Client
	logger     zerolog.Logger
}

// NewSMSNotifier creates the notifier. With no SID or recipients it stays
// disabled and every Send is a no-op.
func NewSMSNotifier(cfg Config, logger zerolog.Logger) *SMSNotifier {
	return &SMSNotifier{
		cfg:        cfg,
		endpoint:   smsAPIBase,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		logger:     logger.With().Str("component", "notify").Logger(),
	}
}

// IsEnabled reports whether the notifier has credentials and recipients.
func (n *SMSNotifier) IsEnabled() bool {
	return n.cfg.AccountSID != "" && n.cfg.AuthToken != "" && n.cfg.From != "" && len(n.cfg.To) > 0
}

// NotifyTrade formats and sends a trade alert to all recipients.
func (n *SMSNotifier) NotifyTrade(ctx context.Context, botName, side, symbol string, qty, price, pnl float64, reasoning string) []SendResult {
	if !n.IsEnabled() {
		return nil
	}
	body := formatTradeMessage(botName, side, symbol, qty, price, pnl, reasoning)
	return n.send(ctx, body)
}

// NotifyError sends a failure alert, used for config-class bot stops.
func (n *SMSNotifier) NotifyError(ctx context.Context, botName, message string) []SendResult {
	if !n.IsEnabled() {
		return nil
	}
	return n.send(ctx, fmt.Sprintf("[bot-fleet] %s stopped: %s", botName, truncate(message, maxReasoningLen)))
}

func formatTradeMessage(botName, side, symbol string, qty, price, pnl float64, reasoning string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[bot-fleet] %s %s %s\nqty %.8f @ %.4f", botName, side, symbol, qty, price)
	if side == "SELL" {
		fmt.Fprintf(&b, "\nPnL %+.2f USDT", pnl)
	}
	if reasoning != "" {
		fmt.Fprintf(&b, "\n%s", truncate(reasoning, maxReasoningLen))
	}
	return b.String()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}

// send posts the message to every recipient and returns per-recipient
// results.
func (n *SMSNotifier) send(ctx context.Context, body string) []SendResult {
	results := make([]SendResult, 0, len(n.cfg.To))
	for _, to := range n.cfg.To {
		res := SendResult{To: to}
		res.SID, res.Queue, res.Err = n.sendOne(ctx, to, body)
		if res.Err != nil {
			n.logger.Warn().Err(res.Err).Str("to", to).Msg("SMS send failed")
		} else {
			n.logger.Info().Str("to", to).Str("sid", res.SID).Msg("SMS sent")
		}
		results = append(results, res)
	}
	return results
}

func (n *SMSNotifier) sendOne(ctx context.Context, to, body string) (sid, status string, err error) {
	form := url.Values{}
	form.Set("From", n.cfg.From)
	form.Set("To", to)
	form.Set("Body", body)

	endpoint := fmt.Sprintf("%s/Accounts/%s/Messages.json", n.endpoint, n.cfg.AccountSID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", "", err
	}
	req.SetBasicAuth(n.cfg.AccountSID, n.cfg.AuthToken)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return "", "", fmt.Errorf("send sms: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", "", fmt.Errorf("sms provider status %d: %s", resp.StatusCode, truncate(string(respBody), 200))
	}
	// Best-effort parse of the provider receipt; delivery is fire and forget.
	var receipt struct {
		SID    string `json:"sid"`
		Status string `json:"status"`
	}
	json.Unmarshal(respBody, &receipt)
	return receipt.SID, receipt.Status, nil
}
