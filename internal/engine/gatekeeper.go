package engine

import (
	"context"
	"errors"
	"fmt"

	"threecommas-tsl-bot/config"
	"threecommas-tsl-bot/internal/threecommas"
)

// eligible decides whether a deal can be processed at all. Deals with
// an unknown strategy, a non-numeric profit (pair delisted from the
// exchange) or a lifecycle status other than bought are skipped for
// this cycle.
func eligible(deal *threecommas.Deal) (reason string, ok bool) {
	if deal.Strategy != threecommas.StrategyLong && deal.Strategy != threecommas.StrategyShort {
		return fmt.Sprintf("unknown strategy %q", deal.Strategy), false
	}
	if _, valid := deal.ProfitPercentage(); !valid {
		return "profit not numeric, pair no longer exists on the exchange", false
	}
	switch deal.Status {
	case threecommas.DealStatusBought, threecommas.DealStatusCloseStrategyActivated:
		return "", true
	default:
		return fmt.Sprintf("status %q not valid for processing", deal.Status), false
	}
}

// admitDeal creates state rows on the first sighting of an eligible
// deal. Deals whose bot configuration still places safety orders on
// the platform side are refused, because platform-managed safety
// orders would fight the manual ones placed here. Returns false when
// the deal should not be processed this cycle.
func (e *Engine) admitDeal(ctx context.Context, bot *threecommas.Bot, deal *threecommas.Deal, group config.BotGroup) (bool, error) {
	_, err := e.store.GetProfitState(ctx, deal.ID)
	if err == nil {
		return true, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return false, fmt.Errorf("load state for deal %d: %w", deal.ID, err)
	}

	// First sighting.
	if deal.ActiveSafetyOrders != 0 {
		e.logger.Warn().
			Int64("deal_id", deal.ID).
			Str("pair", deal.Pair).
			Int("active_safety_orders", deal.ActiveSafetyOrders).
			Msg("deal has platform-managed safety orders, not processing")
		return false, nil
	}

	if err := e.store.SaveProfitState(ctx, &ProfitState{
		DealID: deal.ID,
		BotID:  bot.ID,
	}); err != nil {
		return false, fmt.Errorf("create profit state for deal %d: %w", deal.ID, err)
	}

	safety := &SafetyState{
		DealID: deal.ID,
		BotID:  bot.ID,
	}
	if len(group.SafetyLevels) > 0 {
		// Seed the first safety-order threshold from the bot's ladder
		// with zero filled orders.
		plan := calcSafetyOrder(bot, deal, 0, 0.0)
		safety.NextSOPercentage = plan.NextDropPercentage
		safety.AddFundsPercentage = plan.NextDropPercentage
		e.logger.Debug().
			Int64("deal_id", deal.ID).
			Str("pair", deal.Pair).
			Float64("next_so", plan.NextDropPercentage).
			Msg("new deal, first safety order seeded")
	}
	if err := e.store.SaveSafetyState(ctx, safety); err != nil {
		return false, fmt.Errorf("create safety state for deal %d: %w", deal.ID, err)
	}

	return true, nil
}
