package notification

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"threecommas-tsl-bot/internal/events"
)

// NotificationType represents the type of notification
type NotificationType string

const (
	NotifyTrailingUpdate NotificationType = "trailing_update"
	NotifyTrailingReset  NotificationType = "trailing_reset"
	NotifyOrder          NotificationType = "order"
	NotifyDealClose      NotificationType = "deal_close"
	NotifyError          NotificationType = "error"
)

// Notification represents a notification message
type Notification struct {
	Type      NotificationType
	Title     string
	Message   string
	Pair      string
	Profit    float64
	Timestamp time.Time
	Extra     map[string]interface{}
}

// Notifier interface for different notification providers
type Notifier interface {
	Send(notification *Notification) error
	Name() string
	IsEnabled() bool
}

// Manager fans notifications out to the configured providers.
// Trailing updates and resets are only forwarded when the matching
// switch is on; order and close events are always user-visible, the
// same split the config file expresses.
type Manager struct {
	mu        sync.RWMutex
	notifiers []Notifier
	logger    zerolog.Logger

	notifyTrailingUpdate bool
	notifyTrailingReset  bool
}

// NewManager creates a new notification manager.
func NewManager(logger zerolog.Logger) *Manager {
	return &Manager{
		notifiers: make([]Notifier, 0),
		logger:    logger.With().Str("component", "notification").Logger(),
	}
}

// AddNotifier adds a notification provider.
func (m *Manager) AddNotifier(n Notifier) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notifiers = append(m.notifiers, n)
}

// SetGates updates the trailing-update and trailing-reset switches,
// called on every config reload.
func (m *Manager) SetGates(trailingUpdate, trailingReset bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notifyTrailingUpdate = trailingUpdate
	m.notifyTrailingReset = trailingReset
}

// Send sends a notification to all enabled providers.
func (m *Manager) Send(notification *Notification) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	switch notification.Type {
	case NotifyTrailingUpdate:
		if !m.notifyTrailingUpdate {
			return nil
		}
	case NotifyTrailingReset:
		if !m.notifyTrailingReset {
			return nil
		}
	}

	var lastErr error
	for _, n := range m.notifiers {
		if n.IsEnabled() {
			if err := n.Send(notification); err != nil {
				lastErr = err
			}
		}
	}
	return lastErr
}

// SubscribeTo wires the manager to the engine's event bus.
func (m *Manager) SubscribeTo(bus *events.EventBus) {
	bus.Subscribe(events.EventTrailingUpdate, m.onEvent)
	bus.Subscribe(events.EventTrailingReset, m.onEvent)
	bus.Subscribe(events.EventOrderPlaced, m.onEvent)
	bus.Subscribe(events.EventOrderFilled, m.onEvent)
	bus.Subscribe(events.EventOrderCancelled, m.onEvent)
	bus.Subscribe(events.EventDealClosed, m.onEvent)
	bus.Subscribe(events.EventError, m.onEvent)
}

func (m *Manager) onEvent(event events.Event) {
	pair, _ := event.Data["pair"].(string)

	var n *Notification
	switch event.Type {
	case events.EventTrailingUpdate:
		profit, _ := event.Data["profit"].(float64)
		stopLoss, _ := event.Data["stop_loss"].(float64)
		takeProfit, _ := event.Data["take_profit"].(float64)
		n = &Notification{
			Type:    NotifyTrailingUpdate,
			Title:   fmt.Sprintf("Trailing update: %s", pair),
			Message: fmt.Sprintf("Profit %.2f%%\nSL: %.2f%% | TP: %.2f%%", profit, stopLoss, takeProfit),
			Pair:    pair,
			Profit:  profit,
		}
	case events.EventTrailingReset:
		reason, _ := event.Data["reason"].(string)
		n = &Notification{
			Type:    NotifyTrailingReset,
			Title:   fmt.Sprintf("Trailing reset: %s", pair),
			Message: reason,
			Pair:    pair,
		}
	case events.EventOrderPlaced:
		quantity, _ := event.Data["quantity"].(float64)
		limitPrice, _ := event.Data["limit_price"].(float64)
		n = &Notification{
			Type:    NotifyOrder,
			Title:   fmt.Sprintf("Safety order placed: %s", pair),
			Message: fmt.Sprintf("Quantity %.8f @ %.8f", quantity, limitPrice),
			Pair:    pair,
		}
	case events.EventOrderFilled:
		n = &Notification{
			Type:    NotifyOrder,
			Title:   fmt.Sprintf("Safety order filled: %s", pair),
			Message: fmt.Sprintf("Filled safety orders: %v", event.Data["filled_so_count"]),
			Pair:    pair,
		}
	case events.EventOrderCancelled:
		n = &Notification{
			Type:    NotifyOrder,
			Title:   fmt.Sprintf("Safety order cancelled: %s", pair),
			Message: "Drawdown recovered before the order filled.",
			Pair:    pair,
		}
	case events.EventDealClosed:
		profit, _ := event.Data["profit"].(float64)
		n = &Notification{
			Type:    NotifyDealClose,
			Title:   fmt.Sprintf("Deal closed: %s", pair),
			Message: fmt.Sprintf("Closed at %.2f%% profit by the local stop.", profit),
			Pair:    pair,
			Profit:  profit,
		}
	case events.EventError:
		component, _ := event.Data["component"].(string)
		message, _ := event.Data["error"].(string)
		if err := m.SendError(fmt.Sprintf("Evaluation failed: %s", component), message); err != nil {
			m.logger.Error().Err(err).Str("type", string(NotifyError)).Msg("notification delivery failed")
		}
		return
	default:
		return
	}

	n.Timestamp = event.Timestamp
	if err := m.Send(n); err != nil {
		m.logger.Error().Err(err).Str("type", string(n.Type)).Msg("notification delivery failed")
	}
}

// SendError sends an error notification.
func (m *Manager) SendError(title, message string) error {
	return m.Send(&Notification{
		Type:      NotifyError,
		Title:     title,
		Message:   message,
		Timestamp: time.Now(),
	})
}

// =============================================================================
// TELEGRAM NOTIFIER
// =============================================================================

// TelegramNotifier sends notifications via Telegram
type TelegramNotifier struct {
	botToken string
	chatID   string
	enabled  bool
	client   *http.Client
}

// TelegramConfig holds Telegram configuration
type TelegramConfig struct {
	BotToken string
	ChatID   string
	Enabled  bool
}

// NewTelegramNotifier creates a new Telegram notifier
func NewTelegramNotifier(config TelegramConfig) *TelegramNotifier {
	return &TelegramNotifier{
		botToken: config.BotToken,
		chatID:   config.ChatID,
		enabled:  config.Enabled && config.BotToken != "" && config.ChatID != "",
		client:   &http.Client{Timeout: 10 * time.Second},
	}
}

func (t *TelegramNotifier) Name() string {
	return "telegram"
}

func (t *TelegramNotifier) IsEnabled() bool {
	return t.enabled
}

func (t *TelegramNotifier) Send(notification *Notification) error {
	if !t.enabled {
		return nil
	}

	message := fmt.Sprintf("*%s*\n\n%s", notification.Title, notification.Message)

	payload := map[string]interface{}{
		"chat_id":    t.chatID,
		"text":       message,
		"parse_mode": "Markdown",
	}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal telegram payload: %w", err)
	}

	url := fmt.Sprintf("https://api.telegram.org/bot%s/sendMessage", t.botToken)
	resp, err := t.client.Post(url, "application/json", bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("failed to send telegram message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("telegram API returned status %d", resp.StatusCode)
	}

	return nil
}

// =============================================================================
// DISCORD NOTIFIER
// =============================================================================

// DiscordNotifier sends notifications via Discord webhook
type DiscordNotifier struct {
	webhookURL string
	enabled    bool
	client     *http.Client
}

// DiscordConfig holds Discord configuration
type DiscordConfig struct {
	WebhookURL string
	Enabled    bool
}

// NewDiscordNotifier creates a new Discord notifier
func NewDiscordNotifier(config DiscordConfig) *DiscordNotifier {
	return &DiscordNotifier{
		webhookURL: config.WebhookURL,
		enabled:    config.Enabled && config.WebhookURL != "",
		client:     &http.Client{Timeout: 10 * time.Second},
	}
}

func (d *DiscordNotifier) Name() string {
	return "discord"
}

func (d *DiscordNotifier) IsEnabled() bool {
	return d.enabled
}

func (d *DiscordNotifier) Send(notification *Notification) error {
	if !d.enabled {
		return nil
	}

	color := 0x00FF00
	if notification.Type == NotifyError || notification.Type == NotifyTrailingReset {
		color = 0xFF0000
	}

	embed := map[string]interface{}{
		"title":       notification.Title,
		"description": notification.Message,
		"color":       color,
		"timestamp":   notification.Timestamp.Format(time.RFC3339),
	}

	if notification.Pair != "" {
		fields := []map[string]interface{}{
			{"name": "Pair", "value": notification.Pair, "inline": true},
		}
		if notification.Profit != 0 {
			fields = append(fields, map[string]interface{}{
				"name": "Profit", "value": fmt.Sprintf("%.2f%%", notification.Profit), "inline": true,
			})
		}
		embed["fields"] = fields
	}

	payload := map[string]interface{}{
		"embeds": []map[string]interface{}{embed},
	}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal discord payload: %w", err)
	}

	resp, err := d.client.Post(d.webhookURL, "application/json", bytes.NewBuffer(jsonData))
	if err != nil {
		return fmt.Errorf("failed to send discord message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("discord API returned status %d", resp.StatusCode)
	}

	return nil
}
