package engine

import (
	"context"
	"fmt"
	"strings"

	"threecommas-tsl-bot/internal/threecommas"
)

// resolvePendingOrder settles the deal's outstanding manual safety
// order, if any. handled reports that the cycle for this deal ends
// here, either because the order is still open (monitored true) or
// because it just resolved and evaluation should restart from fresh
// state next cycle (monitored false).
func (e *Engine) resolvePendingOrder(ctx context.Context, bot *threecommas.Bot, deal *threecommas.Deal, state *SafetyState, pending *PendingOrder, drawdown float64) (handled, monitored bool, err error) {
	if pending == nil {
		return false, false, nil
	}

	if deal.ActiveManualSafetyOrders > 0 {
		if drawdown >= pending.CancelAtPercentage {
			e.logger.Debug().
				Int64("deal_id", deal.ID).
				Str("pair", deal.Pair).
				Str("order_id", pending.OrderID).
				Float64("drawdown", drawdown).
				Float64("cancel_at", pending.CancelAtPercentage).
				Msg("pending safety order, waiting for fill")
			return true, true, nil
		}

		// Drawdown recovered past the cancel boundary; the order will
		// not fill anymore at a useful price.
		cancelled, err := e.client.CancelOrder(ctx, deal.ID, pending.OrderID)
		if err != nil || !cancelled {
			if err != nil {
				e.metrics.RemoteCallErrors.WithLabelValues("cancel_order").Inc()
			}
			// The cancel may have lost a race with a fill; ask for the
			// order's actual status before deciding.
			status, statusErr := e.client.GetOrderStatus(ctx, deal.ID, pending.OrderID)
			if statusErr != nil {
				e.metrics.RemoteCallErrors.WithLabelValues("order_status").Inc()
				return true, true, fmt.Errorf("order %s status for deal %d: %w", pending.OrderID, deal.ID, statusErr)
			}
			if !strings.EqualFold(status, threecommas.OrderStatusFilled) {
				e.logger.Warn().
					Int64("deal_id", deal.ID).
					Str("order_id", pending.OrderID).
					Str("status", status).
					Msg("order cancellation failed, retrying next cycle")
				return true, true, nil
			}
			// Filled after all; fall through to the fill handling.
			if err := e.settleFilledOrder(ctx, bot, deal, state, pending); err != nil {
				return true, false, err
			}
			return true, false, nil
		}

		if err := e.store.DeletePendingOrder(ctx, deal.ID, pending.OrderID); err != nil {
			return true, false, fmt.Errorf("delete pending order for deal %d: %w", deal.ID, err)
		}

		state.LastProfitPercentage = 0
		state.AddFundsPercentage = pending.NextSOPercentage
		if err := e.store.SaveSafetyState(ctx, state); err != nil {
			return true, false, fmt.Errorf("save safety state for deal %d: %w", deal.ID, err)
		}

		e.bus.PublishOrderCancelled(bot.ID, deal.ID, deal.Pair, pending.OrderID)
		e.logger.Info().
			Int64("deal_id", deal.ID).
			Str("pair", deal.Pair).
			Str("order_id", pending.OrderID).
			Float64("drawdown", drawdown).
			Float64("cancel_at", pending.CancelAtPercentage).
			Msg("safety order cancelled, drawdown recovered")
		return true, false, nil
	}

	// No active manual safety order left on the deal: the pending
	// order has filled.
	if err := e.settleFilledOrder(ctx, bot, deal, state, pending); err != nil {
		return true, false, err
	}
	return true, false, nil
}

// settleFilledOrder converts a filled pending order into updated
// safety state and restarts drawdown trailing from the carried
// next-safety-order level.
func (e *Engine) settleFilledOrder(ctx context.Context, bot *threecommas.Bot, deal *threecommas.Deal, state *SafetyState, pending *PendingOrder) error {
	state.FilledSOCount += pending.NumberOfSO
	state.NextSOPercentage = pending.NextSOPercentage
	state.ShiftPercentage = pending.ShiftPercentage
	state.LastProfitPercentage = 0
	state.AddFundsPercentage = pending.NextSOPercentage
	if err := e.store.SaveSafetyState(ctx, state); err != nil {
		return fmt.Errorf("save safety state for deal %d: %w", deal.ID, err)
	}

	if pending.OrderID != "" {
		if err := e.store.DeletePendingOrder(ctx, deal.ID, pending.OrderID); err != nil {
			return fmt.Errorf("delete pending order for deal %d: %w", deal.ID, err)
		}
	}

	e.metrics.SafetyOrderFills.Inc()
	e.bus.PublishOrderFilled(bot.ID, deal.ID, deal.Pair, pending.OrderID, state.FilledSOCount)
	e.logger.Info().
		Int64("deal_id", deal.ID).
		Str("pair", deal.Pair).
		Str("order_id", pending.OrderID).
		Int("filled_so", state.FilledSOCount).
		Int("max_so", deal.MaxSafetyOrders).
		Msg("safety order filled")
	return nil
}

// placeSafetyOrder computes the due ladder levels, places one manual
// limit order covering them and records it as the deal's pending
// order. When the order fills synchronously (no order id afterwards)
// the fill is settled inline and no pending order is created.
func (e *Engine) placeSafetyOrder(ctx context.Context, bot *threecommas.Bot, deal *threecommas.Deal, state *SafetyState, drawdown float64) error {
	plan := calcSafetyOrder(bot, deal, state.FilledSOCount, drawdown)

	funding, err := e.client.GetFundingData(ctx, deal.ID)
	if err != nil {
		e.metrics.RemoteCallErrors.WithLabelValues("funding_data").Inc()
		return fmt.Errorf("funding data for deal %d: %w", deal.ID, err)
	}

	limitPrice, quantity := determinePriceQuantity(deal, funding.Limits, plan.BuyPrice, plan.BuyVolume)

	for _, problem := range validateAddFunds(funding.Limits, quantity) {
		e.logger.Warn().
			Int64("deal_id", deal.ID).
			Str("pair", deal.Pair).
			Float64("quantity", quantity).
			Msg(problem)
	}

	if err := e.client.AddFunds(ctx, deal.ID, quantity, limitPrice); err != nil {
		e.metrics.RemoteCallErrors.WithLabelValues("add_funds").Inc()
		return fmt.Errorf("add funds to deal %d: %w", deal.ID, err)
	}
	e.metrics.SafetyOrdersPlaced.Inc()

	orderID, err := e.client.GetOrderID(ctx, deal.ID, threecommas.OrderTypeManualSafety, threecommas.OrderStatusActive)
	if err != nil {
		e.metrics.RemoteCallErrors.WithLabelValues("order_id").Inc()
		return fmt.Errorf("order id for deal %d: %w", deal.ID, err)
	}

	if orderID == "" {
		// Filled synchronously.
		return e.settleFilledOrder(ctx, bot, deal, state, &PendingOrder{
			DealID:           deal.ID,
			BotID:            bot.ID,
			NumberOfSO:       plan.BuyCount,
			NextSOPercentage: plan.NextDropPercentage,
			ShiftPercentage:  state.ShiftPercentage,
		})
	}

	if err := e.store.SavePendingOrder(ctx, &PendingOrder{
		DealID:             deal.ID,
		BotID:              bot.ID,
		OrderID:            orderID,
		CancelAtPercentage: plan.TotalDropPercentage,
		NumberOfSO:         plan.BuyCount,
		NextSOPercentage:   plan.NextDropPercentage,
		ShiftPercentage:    state.ShiftPercentage,
	}); err != nil {
		return fmt.Errorf("save pending order for deal %d: %w", deal.ID, err)
	}

	// Exchange name for the order log; served from the reference-data
	// cache after the first lookup.
	marketCode, mcErr := e.client.GetAccountMarketCode(ctx, bot.AccountID)
	if mcErr != nil {
		marketCode = ""
	}

	e.bus.PublishOrderPlaced(bot.ID, deal.ID, deal.Pair, orderID, quantity, limitPrice)
	e.logger.Info().
		Int64("deal_id", deal.ID).
		Str("pair", deal.Pair).
		Str("exchange", marketCode).
		Str("currency", deal.QuoteCurrency()).
		Str("order_id", orderID).
		Int("so_count", plan.BuyCount).
		Float64("quantity", quantity).
		Float64("limit_price", limitPrice).
		Msg("safety order placed")
	return nil
}
