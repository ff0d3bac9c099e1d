package engine

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Store lookups when no row exists for the
// given deal.
var ErrNotFound = errors.New("state not found")

// ProfitState is the persisted trailing state for a deal in profit.
// LastProfitPercentage is the high-water mark of profit at which SL/TP
// were last pushed; it only moves up until an explicit trailing reset.
// The readable SL/TP are kept on the user-facing take-profit axis for
// idempotent comparison and for the local stop of conditional-close
// deals.
type ProfitState struct {
	DealID                   int64     `json:"deal_id"`
	BotID                    int64     `json:"bot_id"`
	LastProfitPercentage     float64   `json:"last_profit_percentage"`
	LastReadableSLPercentage float64   `json:"last_readable_sl_percentage"`
	LastReadableTPPercentage float64   `json:"last_readable_tp_percentage"`
	UpdatedAt                time.Time `json:"updated_at"`
}

// SafetyState is the persisted trailing state for a deal in drawdown.
// LastProfitPercentage is the low-water mark of drawdown (positive
// magnitude), AddFundsPercentage the current buy trigger,
// NextSOPercentage the total drop at which the next safety order
// starts, FilledSOCount the number of safety orders filled so far and
// ShiftPercentage the adjustment carried across fills.
type SafetyState struct {
	DealID               int64     `json:"deal_id"`
	BotID                int64     `json:"bot_id"`
	LastProfitPercentage float64   `json:"last_profit_percentage"`
	AddFundsPercentage   float64   `json:"add_funds_percentage"`
	NextSOPercentage     float64   `json:"next_so_percentage"`
	FilledSOCount        int       `json:"filled_so_count"`
	ShiftPercentage      float64   `json:"shift_percentage"`
	UpdatedAt            time.Time `json:"updated_at"`
}

// PendingOrder records the single outstanding add-funds order of a
// deal. At most one row exists per deal at any time; that invariant is
// what prevents duplicate averaging orders.
type PendingOrder struct {
	DealID             int64     `json:"deal_id"`
	BotID              int64     `json:"bot_id"`
	OrderID            string    `json:"order_id"`
	CancelAtPercentage float64   `json:"cancel_at_percentage"`
	NumberOfSO         int       `json:"number_of_so"`
	NextSOPercentage   float64   `json:"next_so_percentage"`
	ShiftPercentage    float64   `json:"shift_percentage"`
	CreatedAt          time.Time `json:"created_at"`
}

// Store is the persistence contract the engine needs. Implemented by
// database.Repository; tests use an in-memory fake.
type Store interface {
	GetProfitState(ctx context.Context, dealID int64) (*ProfitState, error)
	SaveProfitState(ctx context.Context, state *ProfitState) error

	GetSafetyState(ctx context.Context, dealID int64) (*SafetyState, error)
	SaveSafetyState(ctx context.Context, state *SafetyState) error

	GetPendingOrder(ctx context.Context, dealID int64) (*PendingOrder, error)
	SavePendingOrder(ctx context.Context, order *PendingOrder) error
	DeletePendingOrder(ctx context.Context, dealID int64, orderID string) error

	// DeleteDealsExcept removes all state rows of the bot whose deal id
	// is not in keep. An empty keep set clears the bot entirely.
	DeleteDealsExcept(ctx context.Context, botID int64, keep []int64) error

	GetNextProcessTime(ctx context.Context, botID int64) (time.Time, error)
	SetNextProcessTime(ctx context.Context, botID int64, next time.Time) error

	// ListBotSchedule returns the persisted schedule, used by the
	// status API.
	ListBotSchedule(ctx context.Context) (map[int64]time.Time, error)
}
