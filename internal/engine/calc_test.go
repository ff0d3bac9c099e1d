package engine

import (
	"encoding/json"
	"testing"

	"threecommas-tsl-bot/config"
	"threecommas-tsl-bot/internal/threecommas"
)

func TestRound2(t *testing.T) {
	tests := []struct {
		in   float64
		want float64
	}{
		{2.344, 2.34},
		{2.346, 2.35},
		{-2.346, -2.35},
		{0, 0},
		{6.000000000000007, 6.0},
	}
	for _, tt := range tests {
		if got := Round2(tt.in); got != tt.want {
			t.Errorf("Round2(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestRoundDecimalsUp(t *testing.T) {
	tests := []struct {
		in       float64
		decimals int
		want     float64
	}{
		{0.159574, 2, 0.16},
		{0.16, 2, 0.16},
		{1.0001, 0, 2},
		{0.123, 3, 0.123},
	}
	for _, tt := range tests {
		if got := roundDecimalsUp(tt.in, tt.decimals); got != tt.want {
			t.Errorf("roundDecimalsUp(%v, %d) = %v, want %v", tt.in, tt.decimals, got, tt.want)
		}
	}
}

func TestCalcStopLossLong(t *testing.T) {
	level := config.ProfitLevel{ActivationPercentage: 2.0, InitialStoplossPercentage: 0.5}
	deal := longDeal(901)

	sl := calcStopLoss(deal, level, 1.5)

	// 0.5% above the 100.0 average: -0.5 on the platform's base-order
	// axis, +0.5 readable.
	if sl.New != -0.5 {
		t.Errorf("New = %v, want -0.5", sl.New)
	}
	if sl.Readable != 0.5 {
		t.Errorf("Readable = %v, want 0.5", sl.Readable)
	}
	if sl.Current != 0 {
		t.Errorf("Current = %v, want 0", sl.Current)
	}
}

func TestCalcStopLossLongAfterSafetyOrders(t *testing.T) {
	level := config.ProfitLevel{ActivationPercentage: 2.0, InitialStoplossPercentage: 0.5}
	deal := longDeal(901)
	deal.BoughtAveragePrice = "98.0" // averaged down below the base order

	sl := calcStopLoss(deal, level, 1.5)

	// The stop tracks the average entry, so readable stays 0.5 while
	// the base-order axis shifts.
	if sl.Readable != 0.5 {
		t.Errorf("Readable = %v, want 0.5", sl.Readable)
	}
	if sl.New != 1.51 {
		t.Errorf("New = %v, want 1.51", sl.New)
	}
}

func TestCalcStopLossIncrementFactor(t *testing.T) {
	level := config.ProfitLevel{
		ActivationPercentage:      2.0,
		InitialStoplossPercentage: 0.5,
		SLIncrementFactor:         0.5,
	}
	deal := longDeal(901)

	// 2.0 points above activation widen the stop by 2.0 * 0.5.
	sl := calcStopLoss(deal, level, 2.0)

	if sl.New != -1.5 {
		t.Errorf("New = %v, want -1.5", sl.New)
	}
	if sl.Readable != 1.5 {
		t.Errorf("Readable = %v, want 1.5", sl.Readable)
	}
}

func TestCalcStopLossShort(t *testing.T) {
	level := config.ProfitLevel{ActivationPercentage: 2.0, InitialStoplossPercentage: 0.5}
	deal := longDeal(901)
	deal.Strategy = threecommas.StrategyShort
	deal.SoldAveragePrice = "100.0"

	sl := calcStopLoss(deal, level, 1.5)

	// For a short the stop sits below the entry.
	if sl.New != -0.5 {
		t.Errorf("New = %v, want -0.5", sl.New)
	}
	if sl.Readable != 0.5 {
		t.Errorf("Readable = %v, want 0.5", sl.Readable)
	}
}

func TestCalcStopLossZeroTierKeepsDeal(t *testing.T) {
	level := config.ProfitLevel{ActivationPercentage: 2.0}
	deal := longDeal(901)
	deal.StopLossPercentage = "-1.0"

	sl := calcStopLoss(deal, level, 1.5)

	if sl.New != 0 || sl.Readable != 0 {
		t.Errorf("tier without SL must not compute one, got %+v", sl)
	}
	if sl.Current != -1.0 {
		t.Errorf("Current = %v, want -1.0", sl.Current)
	}
}

func TestCalcTakeProfit(t *testing.T) {
	deal := longDeal(901) // 3.5% profit, 5.0 take profit

	t.Run("no increment factor", func(t *testing.T) {
		level := config.ProfitLevel{ActivationPercentage: 2.0}
		tp := calcTakeProfit(deal, level, 1.5, 0)
		if tp.New != 5.0 || tp.Current != 5.0 {
			t.Errorf("take profit must stay 5.0, got %+v", tp)
		}
	})

	t.Run("first activation", func(t *testing.T) {
		level := config.ProfitLevel{ActivationPercentage: 2.0, TPIncrementFactor: 0.4}
		tp := calcTakeProfit(deal, level, 1.5, 0)
		if tp.New != 5.6 {
			t.Errorf("New = %v, want 5.0 + 1.5*0.4", tp.New)
		}
	})

	t.Run("subsequent increase", func(t *testing.T) {
		level := config.ProfitLevel{ActivationPercentage: 2.0, TPIncrementFactor: 0.4}
		tp := calcTakeProfit(deal, level, 1.5, 2.5)
		if tp.New != 5.4 {
			t.Errorf("New = %v, want 5.0 + (3.5-2.5)*0.4", tp.New)
		}
	})

	t.Run("close strategy pins minimum profit", func(t *testing.T) {
		ccDeal := longDeal(901)
		ccDeal.CloseStrategyList = []json.RawMessage{json.RawMessage(`{}`)}
		ccDeal.MinProfitPercentage = "0.5"
		level := config.ProfitLevel{ActivationPercentage: 2.0, TPIncrementFactor: 0.4}
		tp := calcTakeProfit(ccDeal, level, 1.5, 0)
		if tp.New != 0.5 || tp.Current != 0.5 {
			t.Errorf("close-strategy take profit must pin to 0.5, got %+v", tp)
		}
	})
}

// The 10.0/2.0 bot with 1.5/1.5 martingale coefficients walks the
// ladder 2, 5, 9.5, 16.25, 26.375 with volumes 10, 15, 22.5, 33.75,
// 50.625.
func TestCalcSafetyOrderSeed(t *testing.T) {
	deal := longDeal(901)
	bot := ladderBot(deal)

	plan := calcSafetyOrder(bot, deal, 0, 0.0)

	if plan.BuyCount != 0 {
		t.Errorf("BuyCount = %d, want 0", plan.BuyCount)
	}
	if plan.NextDropPercentage != 2.0 {
		t.Errorf("NextDropPercentage = %v, want 2.0", plan.NextDropPercentage)
	}
}

func TestCalcSafetyOrderMidLadder(t *testing.T) {
	deal := longDeal(901)
	bot := ladderBot(deal)

	// One order filled, 6% down: only level two (total drop 5) is due.
	plan := calcSafetyOrder(bot, deal, 1, 6.0)

	if plan.BuyCount != 1 {
		t.Errorf("BuyCount = %d, want 1", plan.BuyCount)
	}
	if plan.BuyVolume != 15.0 {
		t.Errorf("BuyVolume = %v, want 15.0", plan.BuyVolume)
	}
	if plan.BuyPrice != 95.0 {
		t.Errorf("BuyPrice = %v, want 95.0", plan.BuyPrice)
	}
	if plan.TotalDropPercentage != 5.0 {
		t.Errorf("TotalDropPercentage = %v, want 5.0", plan.TotalDropPercentage)
	}
	if plan.NextDropPercentage != 9.5 {
		t.Errorf("NextDropPercentage = %v, want 9.5", plan.NextDropPercentage)
	}
}

func TestCalcSafetyOrderMergesLevels(t *testing.T) {
	deal := longDeal(901)
	bot := ladderBot(deal)

	// 17% down with nothing filled: the first four levels merge into
	// one order.
	plan := calcSafetyOrder(bot, deal, 0, 17.0)

	if plan.BuyCount != 4 {
		t.Errorf("BuyCount = %d, want 4", plan.BuyCount)
	}
	if plan.BuyVolume != 81.25 {
		t.Errorf("BuyVolume = %v, want 10+15+22.5+33.75", plan.BuyVolume)
	}
	if plan.TotalDropPercentage != 16.25 {
		t.Errorf("TotalDropPercentage = %v, want 16.25", plan.TotalDropPercentage)
	}
	if plan.NextDropPercentage != 26.375 {
		t.Errorf("NextDropPercentage = %v, want 26.375", plan.NextDropPercentage)
	}
}

func TestCalcSafetyOrderFullLadder(t *testing.T) {
	deal := longDeal(901)
	bot := ladderBot(deal)

	plan := calcSafetyOrder(bot, deal, 0, 30.0)

	if plan.BuyCount != 5 {
		t.Errorf("BuyCount = %d, want the whole ladder", plan.BuyCount)
	}
	if plan.BuyVolume != 131.875 {
		t.Errorf("BuyVolume = %v, want 131.875", plan.BuyVolume)
	}
	if plan.TotalDropPercentage != 26.375 {
		t.Errorf("TotalDropPercentage = %v, want 26.375", plan.TotalDropPercentage)
	}
	if plan.NextDropPercentage != 0 {
		t.Errorf("NextDropPercentage = %v, want 0 past the last level", plan.NextDropPercentage)
	}
	if plan.BuyPrice != 73.625 {
		t.Errorf("BuyPrice = %v, want 73.625", plan.BuyPrice)
	}
}

func TestDeterminePriceQuantity(t *testing.T) {
	limits := threecommas.FundingLimits{MinLotSize: "0.0", LotStep: "0.01"}

	t.Run("long clamps to current price", func(t *testing.T) {
		deal := longDeal(901)
		deal.CurrentPrice = "94.0"
		price, qty := determinePriceQuantity(deal, limits, 95.0, 15.0)
		if price != 94.0 {
			t.Errorf("price = %v, want 94.0", price)
		}
		if qty != 0.16 {
			t.Errorf("quantity = %v, want 15/94 rounded up at the lot step", qty)
		}
	})

	t.Run("long keeps deeper ladder price", func(t *testing.T) {
		deal := longDeal(901)
		deal.CurrentPrice = "96.0"
		price, _ := determinePriceQuantity(deal, limits, 95.0, 15.0)
		if price != 95.0 {
			t.Errorf("price = %v, want 95.0", price)
		}
	})

	t.Run("short clamps to current price", func(t *testing.T) {
		deal := longDeal(901)
		deal.Strategy = threecommas.StrategyShort
		deal.CurrentPrice = "106.0"
		price, _ := determinePriceQuantity(deal, limits, 105.0, 15.0)
		if price != 106.0 {
			t.Errorf("price = %v, want 106.0", price)
		}
	})

	t.Run("base currency volume passes through", func(t *testing.T) {
		deal := longDeal(901)
		deal.SafetyOrderVolumeType = "base_currency"
		deal.CurrentPrice = "94.0"
		_, qty := determinePriceQuantity(deal, limits, 95.0, 0.25)
		if qty != 0.25 {
			t.Errorf("quantity = %v, want 0.25", qty)
		}
	})
}

func TestValidateAddFunds(t *testing.T) {
	t.Run("quantity below market minimum", func(t *testing.T) {
		limits := threecommas.FundingLimits{MarketBuyMinTotal: "0.5"}
		problems := validateAddFunds(limits, 0.16)
		if len(problems) != 1 {
			t.Fatalf("expected 1 problem, got %v", problems)
		}
	})

	t.Run("quantity off the lot step", func(t *testing.T) {
		limits := threecommas.FundingLimits{MinLotSize: "0.0", LotStep: "0.1"}
		problems := validateAddFunds(limits, 0.25)
		if len(problems) != 1 {
			t.Fatalf("expected 1 problem, got %v", problems)
		}
	})

	t.Run("valid quantity", func(t *testing.T) {
		limits := threecommas.FundingLimits{MinLotSize: "0.0", LotStep: "0.01", MarketBuyMinTotal: "0.1"}
		if problems := validateAddFunds(limits, 0.16); len(problems) != 0 {
			t.Errorf("expected no problems, got %v", problems)
		}
	})
}
