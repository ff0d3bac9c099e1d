package engine

import (
	"math"
	"strconv"
	"strings"

	"threecommas-tsl-bot/config"
	"threecommas-tsl-bot/internal/threecommas"
)

// Round2 rounds half away from zero to two decimals, the precision at
// which percentages are persisted, compared for display and sent to
// the platform.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// roundDecimalsUp rounds a value up at the given number of decimals,
// used for order quantities so the result never falls below the
// calculated volume.
func roundDecimalsUp(v float64, decimals int) float64 {
	factor := math.Pow(10, float64(decimals))
	return math.Ceil(v*factor) / factor
}

// slCalculation carries the three views on a recalculated stop loss.
type slCalculation struct {
	// Current is the SL percentage currently configured on the deal,
	// on the platform's base-order axis.
	Current float64
	// New is the recalculated SL percentage on the same axis.
	New float64
	// Readable is the same stop expressed on the take-profit axis,
	// understandable for the user.
	Readable float64
}

// calcStopLoss derives the new stop loss for a deal from the matched
// profit level. The platform computes SL against the base order price,
// while trailing works from the average price including filled safety
// orders, so the SL price is derived from the average price first and
// then re-expressed on both axes.
func calcStopLoss(deal *threecommas.Deal, level config.ProfitLevel, activationDiff float64) slCalculation {
	result := slCalculation{Current: deal.StopLoss()}

	// No SL configured for this tier; leave the deal untouched.
	if level.InitialStoplossPercentage == 0 {
		return result
	}

	averagePrice := deal.AveragePrice()
	offset := averagePrice * ((level.InitialStoplossPercentage / 100.0) +
		((activationDiff / 100.0) * level.SLIncrementFactor))

	slPrice := averagePrice
	if deal.Strategy == threecommas.StrategyShort {
		slPrice -= offset
	} else {
		slPrice += offset
	}

	basePrice := deal.BaseOrderPrice()
	if deal.Strategy == threecommas.StrategyShort {
		result.New = Round2(((slPrice / basePrice) * 100.0) - 100.0)
		result.Readable = Round2(100.0 - ((slPrice / averagePrice) * 100.0))
	} else {
		result.New = Round2(100.0 - ((slPrice / basePrice) * 100.0))
		result.Readable = Round2(((slPrice / averagePrice) * 100.0) - 100.0)
	}

	return result
}

// tpCalculation carries the current and recalculated take profit.
type tpCalculation struct {
	Current float64
	New     float64
}

// calcTakeProfit derives the new take profit for a deal. Deals with a
// conditional close strategy keep their platform-managed minimum
// profit; otherwise the TP grows by the configured increment factor
// from the activation diff (first activation) or the profit gained
// since the last evaluation.
func calcTakeProfit(deal *threecommas.Deal, level config.ProfitLevel, activationDiff, lastProfit float64) tpCalculation {
	if deal.UsesCloseStrategy() {
		minProfit := deal.MinProfit()
		return tpCalculation{Current: minProfit, New: minProfit}
	}

	current := deal.TakeProfitPercentage()
	if level.TPIncrementFactor <= 0 {
		return tpCalculation{Current: current, New: current}
	}

	currentProfit, _ := deal.ProfitPercentage()
	var next float64
	if lastProfit > 0 {
		next = Round2(current + (currentProfit-lastProfit)*level.TPIncrementFactor)
	} else {
		next = Round2(current + activationDiff*level.TPIncrementFactor)
	}
	return tpCalculation{Current: current, New: next}
}

// safetyOrderPlan is the outcome of walking the bot's martingale
// ladder against the current drawdown.
type safetyOrderPlan struct {
	// BuyCount is the number of configured safety orders the manual
	// order will satisfy when filled.
	BuyCount int
	// BuyVolume is the total volume of those safety orders.
	BuyVolume float64
	// BuyPrice is the ladder price of the deepest level included.
	BuyPrice float64
	// TotalDropPercentage is the total drop covered by the order.
	TotalDropPercentage float64
	// NextDropPercentage is where the safety order after this one
	// starts.
	NextDropPercentage float64
}

// calcSafetyOrder walks the bot's safety-order ladder and determines
// which levels are due at the given drawdown, beyond the ones already
// filled. Volumes and steps follow the bot's martingale coefficients.
func calcSafetyOrder(bot *threecommas.Bot, deal *threecommas.Deal, filledSOCount int, currentDrawdown float64) safetyOrderPlan {
	plan := safetyOrderPlan{}

	var (
		soVolume            float64
		totalVolume         float64
		soDropFromBase      float64
		totalDropPercentage float64
		buyPrice            float64
	)

	for counter := 0; counter < deal.MaxSafetyOrders; counter++ {
		var nextVolume, nextDrop float64
		if counter == 0 {
			nextVolume = bot.SafetyOrderVolumeValue()
			nextDrop = bot.SafetyOrderStep()
		} else {
			nextVolume = soVolume * bot.MartingaleVolumeFactor()
			nextDrop = soDropFromBase * bot.MartingaleStepFactor()
		}

		nextTotalVolume := totalVolume + nextVolume
		nextTotalDrop := totalDropPercentage + nextDrop
		nextBuyPrice := deal.BaseOrderPrice() * ((100.0 - nextTotalDrop) / 100.0)

		switch {
		case counter < filledSOCount:
			// Already filled on the platform; advance the ladder.
		case nextTotalDrop <= currentDrawdown:
			plan.BuyCount++
			plan.BuyVolume += nextVolume
		default:
			plan.NextDropPercentage = nextTotalDrop
			plan.TotalDropPercentage = totalDropPercentage
			plan.BuyPrice = buyPrice
			return plan
		}

		soVolume = nextVolume
		totalVolume = nextTotalVolume
		soDropFromBase = nextDrop
		totalDropPercentage = nextTotalDrop
		buyPrice = nextBuyPrice
	}

	plan.TotalDropPercentage = totalDropPercentage
	plan.BuyPrice = buyPrice
	return plan
}

// determinePriceQuantity picks the limit price and base quantity for
// an add-funds order. The calculated ladder price is clamped to the
// current price when the market has already moved past it, and a
// quote-currency volume is converted to a base quantity rounded up at
// the pair's lot step.
func determinePriceQuantity(deal *threecommas.Deal, limits threecommas.FundingLimits, calcPrice, calcVolume float64) (limitPrice, quantity float64) {
	limitPrice = calcPrice
	currentPrice := deal.CurrentPriceValue()

	if deal.Strategy == threecommas.StrategyLong && calcPrice > currentPrice {
		limitPrice = currentPrice
	} else if deal.Strategy == threecommas.StrategyShort && calcPrice < currentPrice {
		limitPrice = currentPrice
	}

	quantity = calcVolume
	if deal.SafetyOrderVolumeType == "quote_currency" {
		quantity = calcVolume / limitPrice
	}

	quantity = roundDecimalsUp(quantity, limits.LotStepDecimals())
	return limitPrice, quantity
}

// validateAddFunds checks the order quantity against the pair's
// limits. The result is advisory: violations are reported but the
// order is still attempted, mirroring how the platform itself rejects
// orders it cannot accept.
func validateAddFunds(limits threecommas.FundingLimits, quantity float64) []string {
	var problems []string

	if limits.MarketBuyMinTotal != "" {
		if minTotal := parseLimit(limits.MarketBuyMinTotal); minTotal > 0 && quantity < minTotal {
			problems = append(problems, "quantity below market minimum")
		}
	}
	if limits.MaxMarketBuyAmount != "" {
		if maxAmount := parseLimit(limits.MaxMarketBuyAmount); maxAmount > 0 && quantity >= maxAmount {
			problems = append(problems, "quantity above market maximum")
		}
	}

	if step := limits.LotStepValue(); step > 0 {
		remainder := math.Mod(quantity-limits.MinLotSizeValue(), step)
		if remainder > 1e-9 && step-remainder > 1e-9 {
			problems = append(problems, "quantity not a multiple of the lot step")
		}
	}

	return problems
}

func parseLimit(s string) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0
	}
	return f
}
