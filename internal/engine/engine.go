package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"threecommas-tsl-bot/config"
	"threecommas-tsl-bot/internal/events"
	"threecommas-tsl-bot/internal/metrics"
	"threecommas-tsl-bot/internal/threecommas"
)

// Engine evaluates the deals of all configured bot groups against
// their threshold tables and pushes trailing adjustments back to the
// platform. All per-deal state lives in the Store; the platform stays
// the source of truth for deal data.
type Engine struct {
	client  PlatformClient
	store   Store
	bus     *events.EventBus
	metrics *metrics.Metrics
	logger  zerolog.Logger

	now func() time.Time
}

// New creates an Engine.
func New(client PlatformClient, store Store, bus *events.EventBus, m *metrics.Metrics, logger zerolog.Logger) *Engine {
	return &Engine{
		client:  client,
		store:   store,
		bus:     bus,
		metrics: m,
		logger:  logger.With().Str("component", "engine").Logger(),
		now:     time.Now,
	}
}

// BotResult is the outcome of one bot's evaluation. A failed bot never
// aborts the cycle; it is logged and rescheduled at the monitor
// interval for a quick retry.
type BotResult struct {
	BotID     int64
	Monitored int
	Err       error
}

// RunCycle evaluates every due bot of every group once. Bots are
// processed sequentially, so state mutation for a deal never
// interleaves with another evaluation of the same deal.
func (e *Engine) RunCycle(ctx context.Context, groups []config.BotGroup, settings config.Settings) []BotResult {
	start := e.now()
	var results []BotResult
	monitoredTotal := 0

	for _, group := range groups {
		for _, botID := range group.BotIDs {
			if ctx.Err() != nil {
				return results
			}

			due, err := e.botDue(ctx, botID, settings.CheckInterval)
			if err != nil {
				e.logger.Error().Err(err).Int64("bot_id", botID).Msg("schedule lookup failed")
				continue
			}
			if !due {
				continue
			}

			result := e.evaluateBot(ctx, group, botID)
			results = append(results, result)
			monitoredTotal += result.Monitored

			if result.Err != nil {
				e.metrics.BotEvaluations.WithLabelValues("failed").Inc()
				e.logger.Error().Err(result.Err).
					Int64("bot_id", botID).
					Str("group", group.Name).
					Msg("bot evaluation failed, retrying at monitor interval")
				e.bus.PublishError("engine", result.Err)
			} else {
				e.metrics.BotEvaluations.WithLabelValues("ok").Inc()
			}
			e.bus.PublishBotEvaluated(botID, result.Monitored, result.Err)

			e.scheduleNext(ctx, botID, result, settings)
		}
	}

	e.metrics.MonitoredDeals.Set(float64(monitoredTotal))
	e.metrics.CycleDuration.Observe(e.now().Sub(start).Seconds())
	return results
}

// evaluateBot fetches one bot and processes all of its deals. A panic
// in a single bot's evaluation is contained here so one broken bot
// cannot take the whole process down.
func (e *Engine) evaluateBot(ctx context.Context, group config.BotGroup, botID int64) (result BotResult) {
	result.BotID = botID

	defer func() {
		if r := recover(); r != nil {
			result.Err = fmt.Errorf("bot %d evaluation panic: %v", botID, r)
		}
	}()

	bot, err := e.client.GetBot(ctx, botID)
	if err != nil {
		e.metrics.RemoteCallErrors.WithLabelValues("get_bot").Inc()
		result.Err = fmt.Errorf("fetch bot %d: %w", botID, err)
		return result
	}

	monitored, err := e.processDeals(ctx, group, bot)
	result.Monitored = monitored
	result.Err = err
	return result
}

// processDeals runs the gatekeeper over the bot's active deals,
// dispatches each eligible deal to the profit or the safety engine
// depending on the sign of its profit, and cleans up state for deals
// no longer active.
func (e *Engine) processDeals(ctx context.Context, group config.BotGroup, bot *threecommas.Bot) (int, error) {
	botLogger := e.logger.With().Int64("bot_id", bot.ID).Str("bot", bot.Name).Logger()

	if len(bot.ActiveDeals) == 0 {
		botLogger.Debug().Msg("no active deals, clearing state")
		if err := e.store.DeleteDealsExcept(ctx, bot.ID, nil); err != nil {
			return 0, fmt.Errorf("clear state for bot %d: %w", bot.ID, err)
		}
		return 0, nil
	}

	monitored := 0
	var currentDeals []int64

	for _, deal := range bot.ActiveDeals {
		if reason, ok := eligible(deal); !ok {
			botLogger.Warn().
				Int64("deal_id", deal.ID).
				Str("pair", deal.Pair).
				Str("reason", reason).
				Msg("deal skipped")
			continue
		}

		admitted, err := e.admitDeal(ctx, bot, deal, group)
		if err != nil {
			botLogger.Error().Err(err).Int64("deal_id", deal.ID).Msg("deal admission failed")
			continue
		}
		if !admitted {
			continue
		}

		currentDeals = append(currentDeals, deal.ID)
		e.metrics.DealsEvaluated.Inc()

		profit, _ := deal.ProfitPercentage()
		switch {
		case profit > 0 && len(group.ProfitLevels) > 0:
			m, err := e.processDealForProfit(ctx, bot, deal, group)
			if err != nil {
				botLogger.Error().Err(err).Int64("deal_id", deal.ID).Msg("profit evaluation failed")
			}
			if m {
				monitored++
			}
		case profit < 0 && len(group.SafetyLevels) > 0:
			m, err := e.processDealForSafety(ctx, bot, deal, group)
			if err != nil {
				botLogger.Error().Err(err).Int64("deal_id", deal.ID).Msg("safety evaluation failed")
			}
			if m {
				monitored++
			}
		}
	}

	if err := e.store.DeleteDealsExcept(ctx, bot.ID, currentDeals); err != nil {
		return monitored, fmt.Errorf("cleanup for bot %d: %w", bot.ID, err)
	}

	botLogger.Debug().
		Int("deals", len(bot.ActiveDeals)).
		Int("monitored", monitored).
		Msg("bot processed")
	return monitored, nil
}
