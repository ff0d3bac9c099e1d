package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"threecommas-tsl-bot/internal/engine"
)

// Repository implements engine.Store on PostgreSQL. Every write is a
// single statement, committed immediately; the engine's single-threaded
// evaluation sequencing provides the rest of the consistency story.
type Repository struct {
	db *DB
}

// NewRepository creates a Repository.
func NewRepository(db *DB) *Repository {
	return &Repository{db: db}
}

// GetProfitState fetches the profit trailing row for a deal.
func (r *Repository) GetProfitState(ctx context.Context, dealID int64) (*engine.ProfitState, error) {
	query := `
		SELECT deal_id, bot_id, last_profit_percentage,
		       last_readable_sl_percentage, last_readable_tp_percentage, updated_at
		FROM deal_profit
		WHERE deal_id = $1
	`
	state := &engine.ProfitState{}
	err := r.db.Pool.QueryRow(ctx, query, dealID).Scan(
		&state.DealID, &state.BotID, &state.LastProfitPercentage,
		&state.LastReadableSLPercentage, &state.LastReadableTPPercentage, &state.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, engine.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get profit state %d: %w", dealID, err)
	}
	return state, nil
}

// SaveProfitState upserts the profit trailing row.
func (r *Repository) SaveProfitState(ctx context.Context, state *engine.ProfitState) error {
	query := `
		INSERT INTO deal_profit (
			deal_id, bot_id, last_profit_percentage,
			last_readable_sl_percentage, last_readable_tp_percentage, updated_at
		) VALUES ($1, $2, $3, $4, $5, NOW())
		ON CONFLICT (deal_id) DO UPDATE SET
			last_profit_percentage = EXCLUDED.last_profit_percentage,
			last_readable_sl_percentage = EXCLUDED.last_readable_sl_percentage,
			last_readable_tp_percentage = EXCLUDED.last_readable_tp_percentage,
			updated_at = NOW()
	`
	_, err := r.db.Pool.Exec(ctx, query,
		state.DealID, state.BotID, state.LastProfitPercentage,
		state.LastReadableSLPercentage, state.LastReadableTPPercentage,
	)
	if err != nil {
		return fmt.Errorf("save profit state %d: %w", state.DealID, err)
	}
	return nil
}

// GetSafetyState fetches the safety trailing row for a deal.
func (r *Repository) GetSafetyState(ctx context.Context, dealID int64) (*engine.SafetyState, error) {
	query := `
		SELECT deal_id, bot_id, last_profit_percentage, add_funds_percentage,
		       next_so_percentage, filled_so_count, shift_percentage, updated_at
		FROM deal_safety
		WHERE deal_id = $1
	`
	state := &engine.SafetyState{}
	err := r.db.Pool.QueryRow(ctx, query, dealID).Scan(
		&state.DealID, &state.BotID, &state.LastProfitPercentage, &state.AddFundsPercentage,
		&state.NextSOPercentage, &state.FilledSOCount, &state.ShiftPercentage, &state.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, engine.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get safety state %d: %w", dealID, err)
	}
	return state, nil
}

// SaveSafetyState upserts the safety trailing row.
func (r *Repository) SaveSafetyState(ctx context.Context, state *engine.SafetyState) error {
	query := `
		INSERT INTO deal_safety (
			deal_id, bot_id, last_profit_percentage, add_funds_percentage,
			next_so_percentage, filled_so_count, shift_percentage, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
		ON CONFLICT (deal_id) DO UPDATE SET
			last_profit_percentage = EXCLUDED.last_profit_percentage,
			add_funds_percentage = EXCLUDED.add_funds_percentage,
			next_so_percentage = EXCLUDED.next_so_percentage,
			filled_so_count = EXCLUDED.filled_so_count,
			shift_percentage = EXCLUDED.shift_percentage,
			updated_at = NOW()
	`
	_, err := r.db.Pool.Exec(ctx, query,
		state.DealID, state.BotID, state.LastProfitPercentage, state.AddFundsPercentage,
		state.NextSOPercentage, state.FilledSOCount, state.ShiftPercentage,
	)
	if err != nil {
		return fmt.Errorf("save safety state %d: %w", state.DealID, err)
	}
	return nil
}

// GetPendingOrder fetches the pending order row for a deal, if any.
func (r *Repository) GetPendingOrder(ctx context.Context, dealID int64) (*engine.PendingOrder, error) {
	query := `
		SELECT deal_id, bot_id, order_id, cancel_at_percentage,
		       number_of_so, next_so_percentage, shift_percentage, created_at
		FROM pending_orders
		WHERE deal_id = $1
	`
	order := &engine.PendingOrder{}
	err := r.db.Pool.QueryRow(ctx, query, dealID).Scan(
		&order.DealID, &order.BotID, &order.OrderID, &order.CancelAtPercentage,
		&order.NumberOfSO, &order.NextSOPercentage, &order.ShiftPercentage, &order.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, engine.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get pending order %d: %w", dealID, err)
	}
	return order, nil
}

// SavePendingOrder inserts the pending order row. The deal_id primary
// key rejects a second outstanding order for the same deal.
func (r *Repository) SavePendingOrder(ctx context.Context, order *engine.PendingOrder) error {
	query := `
		INSERT INTO pending_orders (
			deal_id, bot_id, order_id, cancel_at_percentage,
			number_of_so, next_so_percentage, shift_percentage, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
	`
	_, err := r.db.Pool.Exec(ctx, query,
		order.DealID, order.BotID, order.OrderID, order.CancelAtPercentage,
		order.NumberOfSO, order.NextSOPercentage, order.ShiftPercentage,
	)
	if err != nil {
		return fmt.Errorf("save pending order %d: %w", order.DealID, err)
	}
	return nil
}

// DeletePendingOrder removes a resolved pending order.
func (r *Repository) DeletePendingOrder(ctx context.Context, dealID int64, orderID string) error {
	_, err := r.db.Pool.Exec(ctx,
		`DELETE FROM pending_orders WHERE deal_id = $1 AND order_id = $2`, dealID, orderID)
	if err != nil {
		return fmt.Errorf("delete pending order %d/%s: %w", dealID, orderID, err)
	}
	return nil
}

// DeleteDealsExcept removes state rows of a bot's deals that are no
// longer active. An empty keep set clears everything for the bot.
func (r *Repository) DeleteDealsExcept(ctx context.Context, botID int64, keep []int64) error {
	for _, table := range []string{"deal_profit", "deal_safety", "pending_orders"} {
		var err error
		if len(keep) == 0 {
			_, err = r.db.Pool.Exec(ctx,
				fmt.Sprintf(`DELETE FROM %s WHERE bot_id = $1`, table), botID)
		} else {
			_, err = r.db.Pool.Exec(ctx,
				fmt.Sprintf(`DELETE FROM %s WHERE bot_id = $1 AND NOT (deal_id = ANY($2))`, table),
				botID, keep)
		}
		if err != nil {
			return fmt.Errorf("cleanup %s for bot %d: %w", table, botID, err)
		}
	}
	return nil
}

// GetNextProcessTime returns the stored next processing time for a
// bot. A missing row yields a time slightly in the past so the bot is
// processed right away, and the row is created.
func (r *Repository) GetNextProcessTime(ctx context.Context, botID int64) (time.Time, error) {
	var next time.Time
	err := r.db.Pool.QueryRow(ctx,
		`SELECT next_processing_at FROM bot_schedule WHERE bot_id = $1`, botID).Scan(&next)
	if errors.Is(err, pgx.ErrNoRows) {
		next = time.Now().Add(-time.Second)
		if err := r.SetNextProcessTime(ctx, botID, next); err != nil {
			return time.Time{}, err
		}
		return next, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("get schedule for bot %d: %w", botID, err)
	}
	return next, nil
}

// SetNextProcessTime upserts the bot's next processing time.
func (r *Repository) SetNextProcessTime(ctx context.Context, botID int64, next time.Time) error {
	query := `
		INSERT INTO bot_schedule (bot_id, next_processing_at)
		VALUES ($1, $2)
		ON CONFLICT (bot_id) DO UPDATE SET next_processing_at = EXCLUDED.next_processing_at
	`
	if _, err := r.db.Pool.Exec(ctx, query, botID, next); err != nil {
		return fmt.Errorf("set schedule for bot %d: %w", botID, err)
	}
	return nil
}

// ListBotSchedule returns all bot schedule entries.
func (r *Repository) ListBotSchedule(ctx context.Context) (map[int64]time.Time, error) {
	rows, err := r.db.Pool.Query(ctx, `SELECT bot_id, next_processing_at FROM bot_schedule`)
	if err != nil {
		return nil, fmt.Errorf("list bot schedule: %w", err)
	}
	defer rows.Close()

	schedule := make(map[int64]time.Time)
	for rows.Next() {
		var botID int64
		var next time.Time
		if err := rows.Scan(&botID, &next); err != nil {
			return nil, fmt.Errorf("scan bot schedule: %w", err)
		}
		schedule[botID] = next
	}
	return schedule, rows.Err()
}

// ListProfitStates returns all profit trailing rows, used by the
// status API.
func (r *Repository) ListProfitStates(ctx context.Context) ([]*engine.ProfitState, error) {
	query := `
		SELECT deal_id, bot_id, last_profit_percentage,
		       last_readable_sl_percentage, last_readable_tp_percentage, updated_at
		FROM deal_profit
		ORDER BY bot_id, deal_id
	`
	rows, err := r.db.Pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list profit states: %w", err)
	}
	defer rows.Close()

	var states []*engine.ProfitState
	for rows.Next() {
		state := &engine.ProfitState{}
		if err := rows.Scan(
			&state.DealID, &state.BotID, &state.LastProfitPercentage,
			&state.LastReadableSLPercentage, &state.LastReadableTPPercentage, &state.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan profit state: %w", err)
		}
		states = append(states, state)
	}
	return states, rows.Err()
}

// ListSafetyStates returns all safety trailing rows.
func (r *Repository) ListSafetyStates(ctx context.Context) ([]*engine.SafetyState, error) {
	query := `
		SELECT deal_id, bot_id, last_profit_percentage, add_funds_percentage,
		       next_so_percentage, filled_so_count, shift_percentage, updated_at
		FROM deal_safety
		ORDER BY bot_id, deal_id
	`
	rows, err := r.db.Pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list safety states: %w", err)
	}
	defer rows.Close()

	var states []*engine.SafetyState
	for rows.Next() {
		state := &engine.SafetyState{}
		if err := rows.Scan(
			&state.DealID, &state.BotID, &state.LastProfitPercentage, &state.AddFundsPercentage,
			&state.NextSOPercentage, &state.FilledSOCount, &state.ShiftPercentage, &state.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan safety state: %w", err)
		}
		states = append(states, state)
	}
	return states, rows.Err()
}

// ListPendingOrders returns all outstanding manual safety orders.
func (r *Repository) ListPendingOrders(ctx context.Context) ([]*engine.PendingOrder, error) {
	query := `
		SELECT deal_id, bot_id, order_id, cancel_at_percentage,
		       number_of_so, next_so_percentage, shift_percentage, created_at
		FROM pending_orders
		ORDER BY bot_id, deal_id
	`
	rows, err := r.db.Pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list pending orders: %w", err)
	}
	defer rows.Close()

	var orders []*engine.PendingOrder
	for rows.Next() {
		order := &engine.PendingOrder{}
		if err := rows.Scan(
			&order.DealID, &order.BotID, &order.OrderID, &order.CancelAtPercentage,
			&order.NumberOfSO, &order.NextSOPercentage, &order.ShiftPercentage, &order.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan pending order: %w", err)
		}
		orders = append(orders, order)
	}
	return orders, rows.Err()
}
