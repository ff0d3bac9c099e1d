package threecommas

import (
	"encoding/json"
	"strconv"
	"strings"
)

// Deal strategies.
const (
	StrategyLong  = "long"
	StrategyShort = "short"
)

// Deal statuses relevant for processing. Created, base_order_placed,
// failed, cancelled, completed and panic_sell_pending are either not
// ready or must not be interfered with.
const (
	DealStatusBought                 = "bought"
	DealStatusCloseStrategyActivated = "close_strategy_activated"
)

// Order types and statuses as reported by the market_orders endpoint.
const (
	OrderTypeManualSafety = "Manual Safety"
	OrderStatusActive     = "Active"
	OrderStatusFilled     = "Filled"
	OrderStatusCancelled  = "Cancelled"
)

// Bot is the bot detail payload from bots/show. Numeric values arrive
// as strings on the wire; accessors parse on demand.
type Bot struct {
	ID                          int64   `json:"id"`
	AccountID                   int64   `json:"account_id"`
	Name                        string  `json:"name"`
	IsEnabled                   bool    `json:"is_enabled"`
	TakeProfit                  string  `json:"take_profit"`
	SafetyOrderVolume           string  `json:"safety_order_volume"`
	SafetyOrderStepPercentage   string  `json:"safety_order_step_percentage"`
	MartingaleVolumeCoefficient string  `json:"martingale_volume_coefficient"`
	MartingaleStepCoefficient   string  `json:"martingale_step_coefficient"`
	MaxSafetyOrders             int     `json:"max_safety_orders"`
	ActiveDeals                 []*Deal `json:"active_deals"`
}

// TakeProfitPercentage returns the bot's static take profit.
func (b *Bot) TakeProfitPercentage() float64 { return parseFloat(b.TakeProfit) }

func (b *Bot) SafetyOrderVolumeValue() float64 { return parseFloat(b.SafetyOrderVolume) }

func (b *Bot) SafetyOrderStep() float64 { return parseFloat(b.SafetyOrderStepPercentage) }

func (b *Bot) MartingaleVolumeFactor() float64 { return parseFloat(b.MartingaleVolumeCoefficient) }

func (b *Bot) MartingaleStepFactor() float64 { return parseFloat(b.MartingaleStepCoefficient) }

// Deal is one open position of a bot.
type Deal struct {
	ID                       int64             `json:"id"`
	BotID                    int64             `json:"bot_id"`
	Pair                     string            `json:"pair"`
	Strategy                 string            `json:"strategy"`
	Status                   string            `json:"status"`
	ActualProfitPercentage   string            `json:"actual_profit_percentage"`
	CurrentPrice             string            `json:"current_price"`
	BaseOrderAveragePrice    string            `json:"base_order_average_price"`
	BoughtAveragePrice       string            `json:"bought_average_price"`
	SoldAveragePrice         string            `json:"sold_average_price"`
	TakeProfit               string            `json:"take_profit"`
	StopLossPercentage       string            `json:"stop_loss_percentage"`
	StopLossTimeoutEnabled   bool              `json:"stop_loss_timeout_enabled"`
	StopLossTimeoutInSeconds int               `json:"stop_loss_timeout_in_seconds"`
	TrailingEnabled          bool              `json:"trailing_enabled"`
	TSLEnabled               bool              `json:"tsl_enabled"`
	MaxSafetyOrders          int               `json:"max_safety_orders"`
	CompletedSafetyOrders    int               `json:"completed_safety_orders_count"`
	ActiveSafetyOrders       int               `json:"active_safety_orders_count"`
	ActiveManualSafetyOrders int               `json:"active_manual_safety_orders"`
	CloseStrategyList        []json.RawMessage `json:"close_strategy_list"`
	MinProfitPercentage      string            `json:"min_profit_percentage"`
	SafetyOrderVolumeType    string            `json:"safety_order_volume_type"`
}

// ProfitPercentage parses the actual profit. ok is false when the pair
// no longer exists on the exchange and the field is not numeric.
func (d *Deal) ProfitPercentage() (float64, bool) {
	f, err := strconv.ParseFloat(strings.TrimSpace(d.ActualProfitPercentage), 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

func (d *Deal) CurrentPriceValue() float64 { return parseFloat(d.CurrentPrice) }

func (d *Deal) BaseOrderPrice() float64 { return parseFloat(d.BaseOrderAveragePrice) }

// AveragePrice is the entry price including filled safety orders, on
// the side matching the deal's strategy.
func (d *Deal) AveragePrice() float64 {
	if d.Strategy == StrategyShort {
		return parseFloat(d.SoldAveragePrice)
	}
	return parseFloat(d.BoughtAveragePrice)
}

func (d *Deal) TakeProfitPercentage() float64 { return parseFloat(d.TakeProfit) }

// StopLoss returns the currently configured SL percentage on the
// platform's base-order axis; 0 when unset.
func (d *Deal) StopLoss() float64 { return parseFloat(d.StopLossPercentage) }

func (d *Deal) MinProfit() float64 { return parseFloat(d.MinProfitPercentage) }

// UsesCloseStrategy reports whether the deal has a conditional close
// strategy. The platform manages the take profit for these deals and
// the update_deal endpoint cannot change it.
func (d *Deal) UsesCloseStrategy() bool { return len(d.CloseStrategyList) > 0 }

// QuoteCurrency returns the quote part of a pair like "USDT_BTC".
func (d *Deal) QuoteCurrency() string {
	parts := strings.SplitN(d.Pair, "_", 2)
	if len(parts) == 2 {
		return parts[1]
	}
	return d.Pair
}

// MarketOrder is one entry of the market_orders listing for a deal.
type MarketOrder struct {
	OrderID       json.Number `json:"order_id"`
	OrderType     string      `json:"order_type"`
	DealOrderType string      `json:"deal_order_type"`
	StatusString  string      `json:"status_string"`
	Quantity      string      `json:"quantity"`
	Rate          string      `json:"rate"`
}

// FundingData is the data_for_adding_funds payload: exchange limits
// needed to size an add-funds order.
type FundingData struct {
	OrderbookPrice string        `json:"orderbook_price"`
	Limits         FundingLimits `json:"limits"`
}

// FundingLimits carries the pair's lot and notional restrictions.
type FundingLimits struct {
	MinLotSize         string `json:"minLotSize"`
	LotStep            string `json:"lotStep"`
	MarketBuyMinTotal  string `json:"marketBuyMinTotal"`
	MaxMarketBuyAmount string `json:"maxMarketBuyAmount"`
}

func (l FundingLimits) LotStepValue() float64 { return parseFloat(l.LotStep) }

func (l FundingLimits) MinLotSizeValue() float64 { return parseFloat(l.MinLotSize) }

// LotStepDecimals derives the number of decimals from the lot step
// notation, e.g. "0.001" has three.
func (l FundingLimits) LotStepDecimals() int {
	parts := strings.SplitN(strings.TrimSpace(l.LotStep), ".", 2)
	if len(parts) != 2 {
		return 0
	}
	frac, err := strconv.Atoi(parts[1])
	if err != nil || frac <= 0 {
		return 0
	}
	return len(parts[1])
}

// DealUpdate is the update_deal request payload.
type DealUpdate struct {
	DealID                   int64    `json:"deal_id"`
	StopLossPercentage       float64  `json:"stop_loss_percentage"`
	StopLossTimeoutEnabled   bool     `json:"stop_loss_timeout_enabled"`
	StopLossTimeoutInSeconds int      `json:"stop_loss_timeout_in_seconds"`
	TakeProfit               *float64 `json:"take_profit,omitempty"`
	TrailingEnabled          bool     `json:"trailing_enabled"`
	TSLEnabled               bool     `json:"tsl_enabled"`
}

type apiError struct {
	Error      string `json:"error"`
	Message    string `json:"msg"`
	StatusCode int    `json:"status_code"`
}

func parseFloat(s string) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0
	}
	return f
}
