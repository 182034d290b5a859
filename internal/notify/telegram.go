package notify

import (
	"context"
	"fmt"
	"html"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/lurk/internal/client"
	"github.com/JakeFAU/lurk/internal/dispatcher"
	"github.com/JakeFAU/lurk/internal/lurk"
)

const (
	// TelegramName labels the Telegram sink.
	TelegramName = "telegram"
	// DefaultTelegramBaseURL is the Bot API origin.
	DefaultTelegramBaseURL = "https://api.telegram.org"

	telegramHeader       = "<u><b>Found some products:</b></u>\n\n"
	telegramMessageLimit = 4096
)

// TelegramConfig configures the Telegram sink.
type TelegramConfig struct {
	Token   string
	ChatID  string
	BaseURL string
	// RequestsPerSecond caps sendMessage calls; the Bot API allows about one
	// message per second per chat.
	RequestsPerSecond float64
	Logger            *zap.Logger
}

// Telegram posts product lists through the Bot API sendMessage method. Calls
// go through a dedicated dispatcher so they respect the chat rate limit.
type Telegram struct {
	client     *client.Client
	dispatcher *dispatcher.Dispatcher
	token      string
	chatID     string
	logger     *zap.Logger
}

// NewTelegram validates cfg and starts the sink's dispatcher on transport.
func NewTelegram(transport dispatcher.Transport, cfg TelegramConfig) (*Telegram, error) {
	if cfg.Token == "" {
		return nil, lurk.Configf("telegram api token not found, set it with LURK_TELEGRAM_TOKEN")
	}
	if cfg.ChatID == "" {
		return nil, lurk.Configf("telegram chat id not found, set it with LURK_TELEGRAM_CHAT_ID")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultTelegramBaseURL
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 1
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	d, err := dispatcher.New(transport, dispatcher.Config{
		Name:              TelegramName,
		RequestsPerSecond: cfg.RequestsPerSecond,
		Logger:            logger,
	})
	if err != nil {
		return nil, err
	}
	return &Telegram{
		client:     client.New(TelegramName, d, nil, logger).SetBaseURL(cfg.BaseURL),
		dispatcher: d,
		token:      cfg.Token,
		chatID:     cfg.ChatID,
		logger:     logger.With(zap.String("sink", TelegramName)),
	}, nil
}

// Name implements Sink.
func (*Telegram) Name() string { return TelegramName }

// Notify sends the product list, split into as many messages as the Bot API
// size limit requires.
func (t *Telegram) Notify(ctx context.Context, products []lurk.Product) error {
	if len(products) == 0 {
		return nil
	}
	for _, text := range FormatTelegramMessages(products) {
		if err := t.send(ctx, text); err != nil {
			return &lurk.NotificationError{Sink: TelegramName, Err: err}
		}
	}
	t.logger.Debug("telegram notification sent", zap.Int("products", len(products)))
	return nil
}

func (t *Telegram) send(ctx context.Context, text string) error {
	resp, err := t.client.Post(ctx, "/bot"+t.token+"/sendMessage",
		client.WithBody(map[string]any{
			"chat_id":                  t.chatID,
			"text":                     text,
			"parse_mode":               "HTML",
			"disable_web_page_preview": true,
		}),
		client.ExpectJSON(),
	)
	if err != nil {
		// Transport errors carry the request URL, which embeds the token.
		return &redactedError{err: err, secret: t.token}
	}
	if ok, _ := resp.JSON["ok"].(bool); !resp.OK || !ok {
		desc, _ := resp.JSON["description"].(string)
		return fmt.Errorf("sendMessage: status %d: %s", resp.StatusCode, desc)
	}
	return nil
}

// Close stops the sink's dispatcher.
func (t *Telegram) Close() error {
	return t.dispatcher.Close()
}

// FormatTelegramMessages renders one line per product under the header and
// splits the result at line boundaries to fit the message size limit.
func FormatTelegramMessages(products []lurk.Product) []string {
	var (
		out []string
		b   strings.Builder
	)
	b.WriteString(telegramHeader)
	lines := 0
	for _, p := range products {
		line := telegramLine(p)
		if lines > 0 && b.Len()+1+len(line) > telegramMessageLimit {
			out = append(out, b.String())
			b.Reset()
			b.WriteString(telegramHeader)
			lines = 0
		}
		if lines > 0 {
			b.WriteByte('\n')
		}
		b.WriteString(line)
		lines++
	}
	if lines > 0 {
		out = append(out, b.String())
	}
	return out
}

// telegramLine renders one product. A line never exceeds what fits under the
// header in a single message: the name is shortened first, and a URL too long
// to link is dropped.
func telegramLine(p lurk.Product) string {
	price := strconv.FormatFloat(p.Price, 'f', 2, 64)
	budget := telegramMessageLimit - len(telegramHeader)
	link := html.EscapeString(p.URL)
	fixed := len(`<a href=""></a> for $`) + len(link) + len(price)
	if fixed >= budget {
		return truncateEscaped(p.Name, budget-len(" for $")-len(price)) + " for $" + price
	}
	return fmt.Sprintf(`<a href="%s">%s</a> for $%s`, link, truncateEscaped(p.Name, budget-fixed), price)
}

// truncateEscaped HTML-escapes s and cuts whole runes, marking the cut with an
// ellipsis, so the result is at most maxLen bytes.
func truncateEscaped(s string, maxLen int) string {
	escaped := html.EscapeString(s)
	if len(escaped) <= maxLen {
		return escaped
	}
	const ellipsis = "…"
	runes := []rune(s)
	// Every rune escapes to at least one byte.
	for n := min(len(runes), maxLen); n > 0; n-- {
		if cut := html.EscapeString(string(runes[:n])) + ellipsis; len(cut) <= maxLen {
			return cut
		}
	}
	return ""
}

// redactedError hides a secret in the message but keeps the cause chain.
type redactedError struct {
	err    error
	secret string
}

func (e *redactedError) Error() string {
	return strings.ReplaceAll(e.err.Error(), e.secret, "<token>")
}

func (e *redactedError) Unwrap() error { return e.err }
