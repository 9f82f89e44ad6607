package notification

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// Telegram posts trading alerts to a chat through the Bot API sendMessage
// method. Info alerts (fills, closes) are delivered silently; warnings and
// critical alerts ring.
//
// Layout (MarkdownV2):
//
//	🚨 *CRITICAL* · `USD_JPY`
//	*Entry order not cancelled*
//	EMA BUY 45000 units may still fill untracked
//	_2024-03-06 12:00:05 UTC_
type Telegram struct {
	botToken string
	chatID   string
	baseURL  string
	client   *http.Client
	now      func() time.Time
}

// NewTelegram creates a Telegram notifier for chatID using a @BotFather token.
func NewTelegram(botToken, chatID string) *Telegram {
	return &Telegram{
		botToken: botToken,
		chatID:   chatID,
		baseURL:  "https://api.telegram.org",
		client:   &http.Client{Timeout: 10 * time.Second},
		now:      time.Now,
	}
}

var levelBadges = map[AlertLevel]string{
	AlertInfo:     "ℹ️",
	AlertWarning:  "⚠️",
	AlertCritical: "🚨",
}

// format renders alert in the chat layout.
func (t *Telegram) format(alert Alert) string {
	level := alert.Level
	if level == "" {
		level = AlertInfo
	}
	var b strings.Builder
	b.WriteString(levelBadges[level])
	b.WriteString(" *")
	b.WriteString(mdEscaper.Replace(string(level)))
	b.WriteString("*")
	if alert.Instrument != "" {
		b.WriteString(" · `")
		b.WriteString(codeEscaper.Replace(alert.Instrument))
		b.WriteString("`")
	}
	b.WriteString("\n*")
	b.WriteString(mdEscaper.Replace(alert.Title))
	b.WriteString("*\n")
	if alert.Message != "" {
		b.WriteString(mdEscaper.Replace(alert.Message))
		b.WriteString("\n")
	}
	b.WriteString("_")
	b.WriteString(mdEscaper.Replace(t.now().UTC().Format("2006-01-02 15:04:05") + " UTC"))
	b.WriteString("_")
	return b.String()
}

func (t *Telegram) Send(ctx context.Context, alert Alert) error {
	body, err := json.Marshal(map[string]any{
		"chat_id":              t.chatID,
		"text":                 t.format(alert),
		"parse_mode":           "MarkdownV2",
		"disable_notification": alert.Level == AlertInfo || alert.Level == "",
	})
	if err != nil {
		return fmt.Errorf("telegram: marshal: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", t.baseURL, t.botToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("telegram: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("telegram: send: %w", err)
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	res := gjson.ParseBytes(raw)
	if resp.StatusCode != http.StatusOK || !res.Get("ok").Bool() {
		if after := res.Get("parameters.retry_after"); after.Exists() {
			return fmt.Errorf("telegram: rate limited, retry after %ds", after.Int())
		}
		desc := res.Get("description").String()
		if desc == "" {
			desc = http.StatusText(resp.StatusCode)
		}
		return fmt.Errorf("telegram: status %d: %s", resp.StatusCode, desc)
	}

	log.Printf("[telegram] %s alert delivered: %s", alert.Level, alert.Title)
	return nil
}

// mdEscaper escapes the MarkdownV2 reserved characters outside code spans.
var mdEscaper = strings.NewReplacer(
	`\`, `\\`, "_", `\_`, "*", `\*`, "[", `\[`, "]", `\]`, "(", `\(`, ")", `\)`,
	"~", `\~`, "`", "\\`", ">", `\>`, "#", `\#`, "+", `\+`, "-", `\-`,
	"=", `\=`, "|", `\|`, "{", `\{`, "}", `\}`, ".", `\.`, "!", `\!`,
)

// codeEscaper escapes inside an inline code span.
var codeEscaper = strings.NewReplacer(`\`, `\\`, "`", "\\`")
