package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"goldwatch/internal/events"
)

// Notification 封装告警上下文。
type Notification struct {
	SourceID      string
	SourceName    string
	Price         decimal.Decimal
	Reference     decimal.Decimal
	ChangePct     decimal.Decimal
	ThresholdPct  decimal.Decimal
	Direction     string
	RaisedAt      time.Time
	AdditionalMsg string
}

// FromAlert builds a notification from an alert event.
func FromAlert(a events.AlertRaised) Notification {
	return Notification{
		SourceID:     a.SourceID,
		SourceName:   a.SourceName,
		Price:        a.Price,
		Reference:    a.Reference,
		ChangePct:    a.ChangePercent,
		ThresholdPct: a.ThresholdPct,
		Direction:    a.Direction(),
		RaisedAt:     a.At,
	}
}

// Notifier 定义告警输送接口。
type Notifier interface {
	Notify(ctx context.Context, notification Notification) error
}

// TelegramNotifier 通过 Telegram Bot API 推送消息。
type TelegramNotifier struct {
	botToken string
	chatID   string
	baseURL  string
	location *time.Location
	client   *http.Client
	logger   zerolog.Logger
}

// NewTelegramNotifier 构造 Telegram 告警器。
func NewTelegramNotifier(botToken, chatID, baseURL string, timeout time.Duration, logger zerolog.Logger) *TelegramNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if baseURL == "" {
		baseURL = "https://api.telegram.org"
	}

	return &TelegramNotifier{
		botToken: botToken,
		chatID:   chatID,
		baseURL:  strings.TrimRight(baseURL, "/"),
		location: time.Local,
		client:   &http.Client{Timeout: timeout},
		logger:   logger.With().Str("component", "alert_telegram").Logger(),
	}
}

// WithLocation sets the zone used for timestamps in messages.
func (n *TelegramNotifier) WithLocation(loc *time.Location) *TelegramNotifier {
	if loc != nil {
		n.location = loc
	}
	return n
}

// Notify 调用 sendMessage API 推送文本。
func (n *TelegramNotifier) Notify(ctx context.Context, note Notification) error {
	payload := map[string]string{
		"chat_id": n.chatID,
		"text":    renderMessage(note, n.location),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal telegram payload: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", n.baseURL, n.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send telegram request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("telegram 响应码异常: %d", resp.StatusCode)
	}

	var result struct {
		OK bool `json:"ok"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err == nil {
		if !result.OK {
			return fmt.Errorf("telegram 返回 ok=false")
		}
	}

	n.logger.Info().Str("source", note.SourceID).
		Str("direction", note.Direction).
		Str("change_pct", note.ChangePct.StringFixed(2)).
		Msg("告警已发送 (Telegram)")
	return nil
}

func renderMessage(note Notification, loc *time.Location) string {
	arrow := "↑"
	if note.Direction == "down" {
		arrow = "↓"
	}

	builder := strings.Builder{}
	builder.WriteString("[金价提醒]\n")
	builder.WriteString(fmt.Sprintf("来源: %s\n", note.SourceName))
	builder.WriteString(fmt.Sprintf("当前: %s 元/克 %s\n", note.Price.StringFixed(2), arrow))
	builder.WriteString(fmt.Sprintf("参考: %s 元/克\n", note.Reference.StringFixed(2)))
	builder.WriteString(fmt.Sprintf("变动: %s%% (阈值 %s%%)\n", note.ChangePct.StringFixed(2), note.ThresholdPct.StringFixed(2)))
	builder.WriteString(fmt.Sprintf("时间: %s\n", note.RaisedAt.In(loc).Format("2006-01-02 15:04:05")))
	if note.AdditionalMsg != "" {
		builder.WriteString(note.AdditionalMsg)
	}
	return builder.String()
}

var _ Notifier = (*TelegramNotifier)(nil)
