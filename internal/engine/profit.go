package engine

import (
	"context"
	"fmt"
	"math"

	"threecommas-tsl-bot/config"
	"threecommas-tsl-bot/internal/threecommas"
)

// processDealForProfit evaluates a deal in positive profit against the
// group's profit table and pushes new SL/TP values when trailing moved
// up. The returned bool reports whether the deal needs frequent
// monitoring.
func (e *Engine) processDealForProfit(ctx context.Context, bot *threecommas.Bot, deal *threecommas.Deal, group config.BotGroup) (bool, error) {
	currentProfit, _ := deal.ProfitPercentage()

	// A simple-TP deal at or above its take profit is about to be
	// closed by the platform; changing SL/TP now is pointless.
	if !deal.UsesCloseStrategy() && currentProfit >= deal.TakeProfitPercentage() {
		e.logger.Debug().
			Int64("deal_id", deal.ID).
			Str("pair", deal.Pair).
			Float64("profit", currentProfit).
			Msg("profit at or above take profit, deal closing on the platform")
		return false, nil
	}

	state, err := e.store.GetProfitState(ctx, deal.ID)
	if err != nil {
		return false, fmt.Errorf("load profit state for deal %d: %w", deal.ID, err)
	}

	level, ok := SelectLevel(group.ProfitLevels, currentProfit, deal.CompletedSafetyOrders)
	if ok && currentProfit > state.LastProfitPercentage {
		return true, e.raiseTrailing(ctx, bot, deal, state, level, currentProfit)
	}

	// Profit has not increased past the high-water mark.
	switch {
	case deal.UsesCloseStrategy():
		if err := e.evaluateLocalStop(ctx, bot, deal, state, currentProfit); err != nil {
			return ok, err
		}
	case !ok && state.LastProfitPercentage > bot.TakeProfitPercentage():
		// Trailing was active and profit dropped below the lowest
		// tier; restore the bot's static TP and clear the SL.
		if err := e.resetTrailing(ctx, bot, deal, state); err != nil {
			return ok, err
		}
	default:
		e.logger.Debug().
			Int64("deal_id", deal.ID).
			Str("pair", deal.Pair).
			Float64("profit", currentProfit).
			Float64("last_profit", state.LastProfitPercentage).
			Msg("no profit increase, keep monitoring")
	}

	// A matching tier means SL/TP are in play, so keep checking this
	// deal frequently even without a change this cycle.
	return ok, nil
}

// raiseTrailing recomputes SL and TP from the matched level and
// pushes the change. Conditional-close deals cannot be updated through
// the API, so for those the values are recorded locally and the stop
// is enforced by evaluateLocalStop.
func (e *Engine) raiseTrailing(ctx context.Context, bot *threecommas.Bot, deal *threecommas.Deal, state *ProfitState, level config.ProfitLevel, currentProfit float64) error {
	activationDiff := currentProfit - level.ActivationPercentage
	sl := calcStopLoss(deal, level, activationDiff)
	tp := calcTakeProfit(deal, level, activationDiff, state.LastProfitPercentage)

	slChanged := math.Abs(sl.New) > 0 && sl.New != sl.Current
	tpChanged := tp.New > tp.Current

	if !deal.UsesCloseStrategy() {
		if !slChanged && !tpChanged {
			return nil
		}
		if err := e.pushDealUpdate(ctx, deal, sl.New, tp.New, level.SLTimeout); err != nil {
			e.metrics.RemoteCallErrors.WithLabelValues("update_deal").Inc()
			return fmt.Errorf("update deal %d: %w", deal.ID, err)
		}
	}

	state.LastProfitPercentage = currentProfit
	state.LastReadableSLPercentage = sl.Readable
	state.LastReadableTPPercentage = tp.New
	if err := e.store.SaveProfitState(ctx, state); err != nil {
		return fmt.Errorf("save profit state for deal %d: %w", deal.ID, err)
	}

	e.metrics.TrailingUpdates.WithLabelValues("profit").Inc()
	e.bus.PublishTrailingUpdate(bot.ID, deal.ID, deal.Pair, currentProfit, sl.Readable, tp.New)
	e.logger.Info().
		Int64("deal_id", deal.ID).
		Str("pair", deal.Pair).
		Float64("profit", currentProfit).
		Float64("stop_loss", sl.Readable).
		Float64("take_profit", tp.New).
		Msg("trailing raised")
	return nil
}

// resetTrailing restores SL 0 and the bot's static TP after profit
// fully reversed below the lowest tier, then zeroes the stored state.
func (e *Engine) resetTrailing(ctx context.Context, bot *threecommas.Bot, deal *threecommas.Deal, state *ProfitState) error {
	staticTP := bot.TakeProfitPercentage()
	if err := e.pushDealUpdate(ctx, deal, 0.0, staticTP, 0); err != nil {
		e.metrics.RemoteCallErrors.WithLabelValues("update_deal").Inc()
		return fmt.Errorf("reset deal %d: %w", deal.ID, err)
	}

	state.LastProfitPercentage = 0
	state.LastReadableSLPercentage = 0
	state.LastReadableTPPercentage = 0
	if err := e.store.SaveProfitState(ctx, state); err != nil {
		return fmt.Errorf("save profit state for deal %d: %w", deal.ID, err)
	}

	e.metrics.TrailingResets.WithLabelValues("profit_reversal").Inc()
	e.bus.PublishTrailingReset(bot.ID, deal.ID, deal.Pair, "profit dropped below lowest tier")
	e.logger.Info().
		Int64("deal_id", deal.ID).
		Str("pair", deal.Pair).
		Float64("take_profit", staticTP).
		Msg("trailing reset, static take profit restored")
	return nil
}

// evaluateLocalStop enforces the stop for conditional-close deals. The
// platform cannot hold an SL for those, so when profit falls to the
// locally recorded stop while still above the deal's minimum profit
// the deal is closed here; below minimum profit trailing is abandoned
// instead.
func (e *Engine) evaluateLocalStop(ctx context.Context, bot *threecommas.Bot, deal *threecommas.Deal, state *ProfitState, currentProfit float64) error {
	if currentProfit > state.LastReadableSLPercentage {
		return nil
	}

	if currentProfit >= deal.MinProfit() {
		if err := e.client.CloseDeal(ctx, deal.ID); err != nil {
			e.metrics.RemoteCallErrors.WithLabelValues("close_deal").Inc()
			return fmt.Errorf("close deal %d: %w", deal.ID, err)
		}
		e.bus.PublishDealClosed(bot.ID, deal.ID, deal.Pair, currentProfit)
		e.logger.Info().
			Int64("deal_id", deal.ID).
			Str("pair", deal.Pair).
			Float64("profit", currentProfit).
			Float64("stop_loss", state.LastReadableSLPercentage).
			Msg("profit passed local stop, deal closed")
		return nil
	}

	// Below the minimum profit the deal cannot be closed at an
	// acceptable price anymore; abandon trailing instead.
	state.LastProfitPercentage = 0
	state.LastReadableSLPercentage = 0
	state.LastReadableTPPercentage = 0
	if err := e.store.SaveProfitState(ctx, state); err != nil {
		return fmt.Errorf("save profit state for deal %d: %w", deal.ID, err)
	}

	e.metrics.TrailingResets.WithLabelValues("below_min_profit").Inc()
	e.bus.PublishTrailingReset(bot.ID, deal.ID, deal.Pair, "profit below minimum profit")
	e.logger.Info().
		Int64("deal_id", deal.ID).
		Str("pair", deal.Pair).
		Float64("profit", currentProfit).
		Float64("min_profit", deal.MinProfit()).
		Msg("profit below minimum profit, local stop reset")
	return nil
}

// pushDealUpdate sends new SL/TP values and verifies the response
// echoes them back. The platform occasionally accepts an update
// without applying it; a mismatch is treated as a failure so the next
// cycle retries.
func (e *Engine) pushDealUpdate(ctx context.Context, deal *threecommas.Deal, stopLoss, takeProfit float64, slTimeout int) error {
	update := threecommas.DealUpdate{
		DealID:                   deal.ID,
		StopLossPercentage:       stopLoss,
		StopLossTimeoutEnabled:   slTimeout > 0,
		StopLossTimeoutInSeconds: slTimeout,
		TakeProfit:               &takeProfit,
	}

	updated, err := e.client.UpdateDeal(ctx, deal.ID, update)
	if err != nil {
		return err
	}

	if Round2(updated.StopLoss()) != Round2(stopLoss) {
		return fmt.Errorf("stop loss not applied: requested %.2f, got %.2f", stopLoss, updated.StopLoss())
	}
	if Round2(updated.TakeProfitPercentage()) != Round2(takeProfit) {
		return fmt.Errorf("take profit not applied: requested %.2f, got %.2f", takeProfit, updated.TakeProfitPercentage())
	}
	if updated.StopLossTimeoutEnabled && updated.StopLossTimeoutInSeconds != slTimeout {
		return fmt.Errorf("stop loss timeout not applied: requested %ds, got %ds", slTimeout, updated.StopLossTimeoutInSeconds)
	}
	return nil
}
