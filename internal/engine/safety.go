package engine

import (
	"context"
	"errors"
	"fmt"
	"math"

	"threecommas-tsl-bot/config"
	"threecommas-tsl-bot/internal/threecommas"
)

// processDealForSafety evaluates a deal in drawdown. Any outstanding
// pending order is resolved first; only with none outstanding does
// ordinary drawdown trailing and order placement run. The drawdown is
// derived from the price relative to the base order so already filled
// safety orders do not dilute it.
func (e *Engine) processDealForSafety(ctx context.Context, bot *threecommas.Bot, deal *threecommas.Deal, group config.BotGroup) (bool, error) {
	drawdown := Round2(math.Abs(((deal.CurrentPriceValue() / deal.BaseOrderPrice()) * 100.0) - 100.0))

	state, err := e.store.GetSafetyState(ctx, deal.ID)
	if err != nil {
		return false, fmt.Errorf("load safety state for deal %d: %w", deal.ID, err)
	}

	pending, err := e.store.GetPendingOrder(ctx, deal.ID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return false, fmt.Errorf("load pending order for deal %d: %w", deal.ID, err)
	}

	handled, monitored, err := e.resolvePendingOrder(ctx, bot, deal, state, pending, drawdown)
	if handled || err != nil {
		return monitored, err
	}

	if state.FilledSOCount >= deal.MaxSafetyOrders {
		e.logger.Debug().
			Int64("deal_id", deal.ID).
			Str("pair", deal.Pair).
			Int("max_so", deal.MaxSafetyOrders).
			Msg("all safety orders filled")
		return false, nil
	}

	soRelative := Round2(drawdown - state.NextSOPercentage)
	if soRelative < 0 {
		// Drawdown has not reached the next safety-order level. If
		// trailing had moved, profit recovered past the level first;
		// start over.
		e.logger.Debug().
			Int64("deal_id", deal.ID).
			Str("pair", deal.Pair).
			Float64("drawdown", drawdown).
			Float64("next_so", state.NextSOPercentage).
			Msg("drawdown below next safety-order level")
		return false, e.resetSafetyTrailing(ctx, bot, deal, state, "drawdown recovered above the next safety order")
	}

	level, ok := SelectLevel(group.SafetyLevels, soRelative, state.FilledSOCount)
	if !ok {
		e.logger.Debug().
			Int64("deal_id", deal.ID).
			Str("pair", deal.Pair).
			Float64("so_relative", soRelative).
			Int("filled_so", state.FilledSOCount).
			Msg("no safety level for current drawdown")
		return false, e.resetSafetyTrailing(ctx, bot, deal, state, "drawdown moved above the first configured level")
	}

	switch {
	case drawdown > state.LastProfitPercentage:
		// Drawdown deepened; trail the add-funds threshold after it.
		base := state.NextSOPercentage + level.InitialBuyPercentage
		newAddFunds := base + Round2((drawdown-base)*level.BuyIncrementFactor)

		if math.Abs(newAddFunds) > math.Abs(state.AddFundsPercentage) {
			previous := state.AddFundsPercentage
			state.LastProfitPercentage = drawdown
			state.AddFundsPercentage = newAddFunds
			if err := e.store.SaveSafetyState(ctx, state); err != nil {
				return true, fmt.Errorf("save safety state for deal %d: %w", deal.ID, err)
			}

			e.metrics.TrailingUpdates.WithLabelValues("safety").Inc()
			e.bus.PublishTrailingUpdate(bot.ID, deal.ID, deal.Pair, -drawdown, 0, 0)
			e.logger.Info().
				Int64("deal_id", deal.ID).
				Str("pair", deal.Pair).
				Float64("drawdown", drawdown).
				Float64("add_funds_from", previous).
				Float64("add_funds_to", newAddFunds).
				Msg("drawdown trailing moved")
		}
		return true, nil

	case drawdown <= state.AddFundsPercentage:
		// Drawdown receded back through the add-funds threshold.
		if drawdown < state.NextSOPercentage {
			// The market recovered past the safety-order level before
			// the threshold triggered; the window is gone.
			if err := e.resetSafetyTrailing(ctx, bot, deal, state, "add funds window missed"); err != nil {
				return false, err
			}
			return false, nil
		}
		return false, e.placeSafetyOrder(ctx, bot, deal, state, drawdown)

	default:
		e.logger.Debug().
			Int64("deal_id", deal.ID).
			Str("pair", deal.Pair).
			Float64("drawdown", drawdown).
			Float64("add_funds", state.AddFundsPercentage).
			Msg("add funds threshold not reached, keep monitoring")
		return true, nil
	}
}

// resetSafetyTrailing restarts drawdown trailing at the stored
// next-safety-order level when it had moved. A no-op when trailing is
// already at its baseline.
func (e *Engine) resetSafetyTrailing(ctx context.Context, bot *threecommas.Bot, deal *threecommas.Deal, state *SafetyState, reason string) error {
	if state.LastProfitPercentage == 0 && state.AddFundsPercentage == state.NextSOPercentage {
		return nil
	}

	state.LastProfitPercentage = 0
	state.AddFundsPercentage = state.NextSOPercentage
	if err := e.store.SaveSafetyState(ctx, state); err != nil {
		return fmt.Errorf("save safety state for deal %d: %w", deal.ID, err)
	}

	e.metrics.TrailingResets.WithLabelValues("safety").Inc()
	e.bus.PublishTrailingReset(bot.ID, deal.ID, deal.Pair, reason)
	e.logger.Info().
		Int64("deal_id", deal.ID).
		Str("pair", deal.Pair).
		Float64("next_so", state.NextSOPercentage).
		Str("reason", reason).
		Msg("drawdown trailing reset")
	return nil
}
