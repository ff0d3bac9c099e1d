package engine

import (
	"context"
	"time"

	"threecommas-tsl-bot/config"
)

// botDue reports whether a bot should be evaluated now. A bot is due
// when its scheduled time has passed, or when the stored time is more
// than one check interval away from now in either direction, which
// self-corrects after clock changes or interval reconfiguration.
func (e *Engine) botDue(ctx context.Context, botID int64, checkInterval time.Duration) (bool, error) {
	next, err := e.store.GetNextProcessTime(ctx, botID)
	if err != nil {
		return false, err
	}

	now := e.now()
	if !now.Before(next) {
		return true, nil
	}
	if next.Sub(now) > checkInterval {
		e.logger.Warn().
			Int64("bot_id", botID).
			Time("scheduled", next).
			Msg("schedule too far ahead, correcting")
		return true, nil
	}

	e.logger.Debug().
		Int64("bot_id", botID).
		Time("scheduled", next).
		Msg("bot not due yet")
	return false, nil
}

// scheduleNext records when the bot should be evaluated again: the
// short monitor interval while any deal needs frequent checks or the
// evaluation failed, otherwise the idle check interval.
func (e *Engine) scheduleNext(ctx context.Context, botID int64, result BotResult, settings config.Settings) {
	interval := settings.CheckInterval
	if result.Monitored > 0 || result.Err != nil {
		interval = settings.MonitorInterval
	}

	next := e.now().Add(interval)
	if err := e.store.SetNextProcessTime(ctx, botID, next); err != nil {
		e.logger.Error().Err(err).Int64("bot_id", botID).Msg("storing next process time failed")
	}
}
