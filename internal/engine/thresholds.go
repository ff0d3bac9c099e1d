package engine

// ThresholdLevel is one entry of an ordered threshold table. Both the
// profit and the safety tables satisfy it with their own effect
// parameters.
type ThresholdLevel interface {
	ActivationProfit() float64
	ActivationSafetyOrders() int
}

// SelectLevel walks the table in configuration order and returns the
// last entry whose activation profit and safety-order count are both
// reached. Later entries override earlier ones, so tables are ordered
// from loosest to tightest tier. ok is false when no entry qualifies.
func SelectLevel[T ThresholdLevel](levels []T, currentProfit float64, currentSOCount int) (T, bool) {
	var selected T
	found := false
	for _, level := range levels {
		if currentProfit >= level.ActivationProfit() && currentSOCount >= level.ActivationSafetyOrders() {
			selected = level
			found = true
		}
	}
	return selected, found
}
