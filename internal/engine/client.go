package engine

import (
	"context"

	"threecommas-tsl-bot/internal/threecommas"
)

// PlatformClient is the slice of the 3Commas API the engine drives.
// *threecommas.Client satisfies it; tests substitute fakes.
type PlatformClient interface {
	GetBot(ctx context.Context, botID int64) (*threecommas.Bot, error)
	UpdateDeal(ctx context.Context, dealID int64, update threecommas.DealUpdate) (*threecommas.Deal, error)
	CloseDeal(ctx context.Context, dealID int64) error
	CancelOrder(ctx context.Context, dealID int64, orderID string) (bool, error)
	GetOrderStatus(ctx context.Context, dealID int64, orderID string) (string, error)
	GetOrderID(ctx context.Context, dealID int64, orderType, orderStatus string) (string, error)
	AddFunds(ctx context.Context, dealID int64, quantity, limitPrice float64) error
	GetFundingData(ctx context.Context, dealID int64) (*threecommas.FundingData, error)
	GetAccountMarketCode(ctx context.Context, accountID int64) (string, error)
}
