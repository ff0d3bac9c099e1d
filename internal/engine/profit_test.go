package engine

import (
	"context"
	"encoding/json"
	"testing"

	"threecommas-tsl-bot/internal/threecommas"
)

func conditionalCloseDeal(id int64) *threecommas.Deal {
	deal := longDeal(id)
	deal.CloseStrategyList = []json.RawMessage{json.RawMessage(`{}`)}
	deal.MinProfitPercentage = "0.5"
	return deal
}

func TestProfitTrailingActivation(t *testing.T) {
	store := newFakeStore()
	store.profit[901] = ProfitState{DealID: 901, BotID: 12345}
	deal := longDeal(901) // 3.5% profit, above the 2.0% tier
	bot := ladderBot(deal)
	client := &fakeClient{bot: bot}
	e := newTestEngine(client, store)

	monitored, err := e.processDealForProfit(context.Background(), bot, deal, testGroup())
	if err != nil {
		t.Fatalf("processDealForProfit failed: %v", err)
	}
	if !monitored {
		t.Error("deal above the activation tier should be monitored")
	}

	if len(client.updates) != 1 {
		t.Fatalf("expected 1 deal update, got %d", len(client.updates))
	}
	update := client.updates[0]
	// 0.5% above the 100.0 average, expressed against the base order.
	if update.StopLossPercentage != -0.5 {
		t.Errorf("StopLossPercentage = %v, want -0.5", update.StopLossPercentage)
	}
	if update.TakeProfit == nil || *update.TakeProfit != 5.0 {
		t.Errorf("TakeProfit = %v, want 5.0", update.TakeProfit)
	}
	if update.StopLossTimeoutEnabled {
		t.Error("timeout must stay disabled when the level has none")
	}

	state := store.profit[901]
	if state.LastProfitPercentage != 3.5 {
		t.Errorf("LastProfitPercentage = %v, want 3.5", state.LastProfitPercentage)
	}
	if state.LastReadableSLPercentage != 0.5 {
		t.Errorf("LastReadableSLPercentage = %v, want 0.5", state.LastReadableSLPercentage)
	}
}

func TestProfitTrailingIdempotent(t *testing.T) {
	store := newFakeStore()
	store.profit[901] = ProfitState{DealID: 901, BotID: 12345}
	deal := longDeal(901)
	bot := ladderBot(deal)
	client := &fakeClient{bot: bot}
	e := newTestEngine(client, store)

	for i := 0; i < 2; i++ {
		monitored, err := e.processDealForProfit(context.Background(), bot, deal, testGroup())
		if err != nil {
			t.Fatalf("evaluation %d failed: %v", i+1, err)
		}
		if !monitored {
			t.Errorf("evaluation %d: deal should stay monitored", i+1)
		}
	}

	// Profit did not move, so the second pass must not touch the deal.
	if len(client.updates) != 1 {
		t.Errorf("expected 1 deal update after identical evaluations, got %d", len(client.updates))
	}
	if state := store.profit[901]; state.LastProfitPercentage != 3.5 {
		t.Errorf("LastProfitPercentage = %v, want 3.5", state.LastProfitPercentage)
	}
}

func TestProfitSkipAtTakeProfit(t *testing.T) {
	store := newFakeStore()
	store.profit[901] = ProfitState{DealID: 901, BotID: 12345}
	deal := longDeal(901)
	deal.ActualProfitPercentage = "5.2" // at the 5.0 take profit, closing
	bot := ladderBot(deal)
	client := &fakeClient{bot: bot}
	e := newTestEngine(client, store)

	monitored, err := e.processDealForProfit(context.Background(), bot, deal, testGroup())
	if err != nil {
		t.Fatalf("processDealForProfit failed: %v", err)
	}
	if monitored {
		t.Error("deal closing on the platform must not be monitored")
	}
	if len(client.updates) != 0 {
		t.Errorf("expected no updates, got %d", len(client.updates))
	}
}

func TestProfitReversalResetsTrailing(t *testing.T) {
	store := newFakeStore()
	store.profit[901] = ProfitState{
		DealID:                   901,
		BotID:                    12345,
		LastProfitPercentage:     3.0,
		LastReadableSLPercentage: 1.0,
		LastReadableTPPercentage: 5.2,
	}
	deal := longDeal(901)
	deal.ActualProfitPercentage = "0.5" // dropped below the 2.0% tier
	bot := ladderBot(deal)
	client := &fakeClient{bot: bot}
	e := newTestEngine(client, store)

	monitored, err := e.processDealForProfit(context.Background(), bot, deal, testGroup())
	if err != nil {
		t.Fatalf("processDealForProfit failed: %v", err)
	}
	if monitored {
		t.Error("deal below the lowest tier must leave monitoring")
	}

	if len(client.updates) != 1 {
		t.Fatalf("expected the reset update, got %d updates", len(client.updates))
	}
	update := client.updates[0]
	if update.StopLossPercentage != 0 {
		t.Errorf("StopLossPercentage = %v, want 0", update.StopLossPercentage)
	}
	if update.TakeProfit == nil || *update.TakeProfit != 1.0 {
		t.Errorf("TakeProfit = %v, want the bot's static 1.0", update.TakeProfit)
	}

	state := store.profit[901]
	if state.LastProfitPercentage != 0 || state.LastReadableSLPercentage != 0 || state.LastReadableTPPercentage != 0 {
		t.Errorf("state not zeroed after reset: %+v", state)
	}
}

func TestProfitDipWithoutReversalKeepsState(t *testing.T) {
	store := newFakeStore()
	store.profit[901] = ProfitState{
		DealID:                   901,
		BotID:                    12345,
		LastProfitPercentage:     4.0,
		LastReadableSLPercentage: 1.0,
	}
	deal := longDeal(901) // 3.5%, below the 4.0 mark but above the tier
	bot := ladderBot(deal)
	client := &fakeClient{bot: bot}
	e := newTestEngine(client, store)

	monitored, err := e.processDealForProfit(context.Background(), bot, deal, testGroup())
	if err != nil {
		t.Fatalf("processDealForProfit failed: %v", err)
	}
	if !monitored {
		t.Error("deal inside a tier stays monitored through a dip")
	}
	if len(client.updates) != 0 {
		t.Errorf("no update expected while below the high-water mark, got %d", len(client.updates))
	}
	if state := store.profit[901]; state.LastProfitPercentage != 4.0 {
		t.Errorf("high-water mark changed to %v", state.LastProfitPercentage)
	}
}

func TestCloseStrategyTrailsLocally(t *testing.T) {
	store := newFakeStore()
	store.profit[901] = ProfitState{DealID: 901, BotID: 12345}
	deal := conditionalCloseDeal(901)
	bot := ladderBot(deal)
	client := &fakeClient{bot: bot}
	e := newTestEngine(client, store)

	monitored, err := e.processDealForProfit(context.Background(), bot, deal, testGroup())
	if err != nil {
		t.Fatalf("processDealForProfit failed: %v", err)
	}
	if !monitored {
		t.Error("close-strategy deal above the tier should be monitored")
	}

	// The platform cannot hold an SL for a close-strategy deal, so the
	// stop lives only in local state.
	if len(client.updates) != 0 {
		t.Fatalf("close-strategy deal must not be updated remotely, got %d updates", len(client.updates))
	}
	state := store.profit[901]
	if state.LastProfitPercentage != 3.5 {
		t.Errorf("LastProfitPercentage = %v, want 3.5", state.LastProfitPercentage)
	}
	if state.LastReadableSLPercentage != 0.5 {
		t.Errorf("LastReadableSLPercentage = %v, want 0.5", state.LastReadableSLPercentage)
	}
	if state.LastReadableTPPercentage != 0.5 {
		t.Errorf("LastReadableTPPercentage = %v, want the 0.5 minimum profit", state.LastReadableTPPercentage)
	}
}

func TestLocalStopClosesDeal(t *testing.T) {
	store := newFakeStore()
	store.profit[901] = ProfitState{
		DealID:                   901,
		BotID:                    12345,
		LastProfitPercentage:     2.0,
		LastReadableSLPercentage: 0.7,
	}
	deal := conditionalCloseDeal(901)
	deal.Status = threecommas.DealStatusCloseStrategyActivated
	deal.ActualProfitPercentage = "0.6" // through the 0.7 stop, above min profit
	bot := ladderBot(deal)
	client := &fakeClient{bot: bot}
	e := newTestEngine(client, store)

	if _, err := e.processDealForProfit(context.Background(), bot, deal, testGroup()); err != nil {
		t.Fatalf("processDealForProfit failed: %v", err)
	}

	if len(client.closedDeals) != 1 || client.closedDeals[0] != 901 {
		t.Fatalf("expected deal 901 closed, got %v", client.closedDeals)
	}
	if len(client.updates) != 0 {
		t.Errorf("local stop must not update the deal, got %d updates", len(client.updates))
	}
}

func TestLocalStopAbandonedBelowMinProfit(t *testing.T) {
	store := newFakeStore()
	store.profit[901] = ProfitState{
		DealID:                   901,
		BotID:                    12345,
		LastProfitPercentage:     2.0,
		LastReadableSLPercentage: 0.7,
	}
	deal := conditionalCloseDeal(901)
	deal.ActualProfitPercentage = "0.3" // below the 0.5 minimum profit
	bot := ladderBot(deal)
	client := &fakeClient{bot: bot}
	e := newTestEngine(client, store)

	if _, err := e.processDealForProfit(context.Background(), bot, deal, testGroup()); err != nil {
		t.Fatalf("processDealForProfit failed: %v", err)
	}

	if len(client.closedDeals) != 0 {
		t.Errorf("deal must not be closed below minimum profit, got %v", client.closedDeals)
	}
	state := store.profit[901]
	if state.LastProfitPercentage != 0 || state.LastReadableSLPercentage != 0 {
		t.Errorf("trailing state not abandoned: %+v", state)
	}
}
